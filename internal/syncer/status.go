package syncer

import "time"

// Status is the per-game sync state machine position.
type Status string

const (
	StatusIdle            Status = "idle"
	StatusPendingPackage  Status = "pending_package"
	StatusUploading       Status = "uploading"
	StatusDownloading     Status = "downloading"
	StatusReconciling     Status = "reconciling"
	StatusConflictPending Status = "conflict_pending"
	StatusError           Status = "error"
)

// GameStatus is the externally visible snapshot for one game.
type GameStatus struct {
	GameID  string `json:"game_id"`
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// ActiveJob identifies the operation the drain loop is running.
type ActiveJob struct {
	GameID string `json:"game_id"`
	Op     OpKind `json:"op"`
}

// Snapshot is the orchestrator-wide view returned by Status().
// LastSync is the zero time until a sync pass has completed against
// the cloud.
type Snapshot struct {
	Online    bool         `json:"online"`
	Backend   string       `json:"backend"`
	Queued    int          `json:"queue_length"`
	ActiveJob *ActiveJob   `json:"active_job,omitempty"`
	LastSync  time.Time    `json:"last_sync"`
	IsSyncing bool         `json:"is_syncing"`
	Games     []GameStatus `json:"games"`
}

// Resolution is the user's answer to a conflict.
type Resolution string

const (
	// ResolutionUpload pushes the local version, making it the newest
	// cloud version. The older cloud version stays in cloud history.
	ResolutionUpload Resolution = "upload"
	// ResolutionDownload fetches the cloud version into local history
	// and applies it to the save directory. The previous local version
	// stays in local history.
	ResolutionDownload Resolution = "download"
	// ResolutionSkip leaves both sides untouched and clears the
	// conflict flag until the next divergence is observed.
	ResolutionSkip Resolution = "skip"
)
