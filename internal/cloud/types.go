// Package cloud talks to the sync service. Three backends exist: the
// hosted service, a self-hosted server, and a disabled stub. All are
// reached through a Handle so the active backend can be swapped
// atomically while the rest of the process keeps running.
package cloud

import (
	"context"
	"time"
)

// Version describes one uploaded save version as the server knows it.
type Version struct {
	GameID     string    `json:"game_id"`
	EmulatorID string    `json:"emulator_id"`
	VersionID  string    `json:"version_id"`
	Hash       string    `json:"hash"`
	Timestamp  time.Time `json:"timestamp"`
	SizeBytes  int64     `json:"size_bytes"`
	FileList   []string  `json:"file_list,omitempty"`
	DeviceID   string    `json:"device_id"`
	DeviceName string    `json:"device_name,omitempty"`
}

// Device is a registered sync client.
type Device struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	LastSeen time.Time `json:"last_seen"`
}

// LoginResult carries the session established by Login.
type LoginResult struct {
	Token     string    `json:"token"`
	DeviceID  string    `json:"device_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ValidationOutcome reports whether a candidate configuration can
// reach and authenticate against its backend.
type ValidationOutcome struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

// UploadInput is everything the backend needs to publish one version.
type UploadInput struct {
	GameID      string
	EmulatorID  string
	VersionID   string
	Hash        string
	Timestamp   time.Time
	ArchivePath string
	FileList    []string
}

// ProgressFunc receives byte counts during a download. total is -1
// when the server did not send a length.
type ProgressFunc func(written, total int64)

// Backend is the full cloud surface. Implementations must map
// failures onto the sentinel errors in internal/errors so callers can
// classify them without knowing which backend is active.
type Backend interface {
	Upload(ctx context.Context, in UploadInput) (Version, error)
	Download(ctx context.Context, gameID, versionID, destPath string, progress ProgressFunc) (Version, error)
	ListVersions(ctx context.Context, gameID string) ([]Version, error)
	ListGames(ctx context.Context) ([]string, error)
	ListDevices(ctx context.Context) ([]Device, error)
	RemoveDevice(ctx context.Context, deviceID string) error
	Login(ctx context.Context) (LoginResult, error)
	Logout(ctx context.Context) error
	ValidateSettings(ctx context.Context) (ValidationOutcome, error)
	Name() string
}
