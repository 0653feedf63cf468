package savepack

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SaveMetadata describes one packaged snapshot of a game's save files.
// Immutable once created; later packaging supersedes rather than edits.
type SaveMetadata struct {
	GameID     string   `json:"game_id"`
	EmulatorID string   `json:"emulator_id"`
	Timestamp  int64    `json:"timestamp"`
	VersionID  string   `json:"version_id"`
	FileList   []string `json:"file_list"`
	Hash       string   `json:"hash"`
}

// PackagedSave pairs an archive on disk with the metadata describing it.
type PackagedSave struct {
	ArchivePath string       `json:"archive_path"`
	Metadata    SaveMetadata `json:"metadata"`
}

// NewVersionID builds a version id from the packaging instant plus a
// short random suffix. The nanosecond prefix keeps ids strictly ordered
// even when two snapshots have identical content; the suffix guards
// against clock collisions across devices.
func NewVersionID(t time.Time) string {
	return fmt.Sprintf("%d-%s", t.UnixNano(), uuid.NewString()[:8])
}
