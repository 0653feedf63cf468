package cloud

import (
	"context"
	"sync/atomic"
)

// Handle is an atomically swappable reference to the active backend.
// Each operation snapshots the backend once at entry, so a request in
// flight finishes against the backend it started with while new
// requests see the replacement immediately.
type Handle struct {
	backend atomic.Pointer[backendBox]
}

// backendBox exists because atomic.Pointer needs a concrete type to
// point at, not an interface.
type backendBox struct {
	b Backend
}

// NewHandle wraps an initial backend.
func NewHandle(b Backend) *Handle {
	h := &Handle{}
	h.backend.Store(&backendBox{b: b})
	return h
}

// Swap replaces the active backend and returns the previous one.
func (h *Handle) Swap(b Backend) Backend {
	old := h.backend.Swap(&backendBox{b: b})
	return old.b
}

// Current returns the active backend.
func (h *Handle) Current() Backend {
	return h.backend.Load().b
}

func (h *Handle) Name() string { return h.Current().Name() }

func (h *Handle) Upload(ctx context.Context, in UploadInput) (Version, error) {
	return h.Current().Upload(ctx, in)
}

func (h *Handle) Download(ctx context.Context, gameID, versionID, destPath string, progress ProgressFunc) (Version, error) {
	return h.Current().Download(ctx, gameID, versionID, destPath, progress)
}

func (h *Handle) ListVersions(ctx context.Context, gameID string) ([]Version, error) {
	return h.Current().ListVersions(ctx, gameID)
}

func (h *Handle) ListGames(ctx context.Context) ([]string, error) {
	return h.Current().ListGames(ctx)
}

func (h *Handle) ListDevices(ctx context.Context) ([]Device, error) {
	return h.Current().ListDevices(ctx)
}

func (h *Handle) RemoveDevice(ctx context.Context, deviceID string) error {
	return h.Current().RemoveDevice(ctx, deviceID)
}

func (h *Handle) Login(ctx context.Context) (LoginResult, error) {
	return h.Current().Login(ctx)
}

func (h *Handle) Logout(ctx context.Context) error {
	return h.Current().Logout(ctx)
}

func (h *Handle) ValidateSettings(ctx context.Context) (ValidationOutcome, error) {
	return h.Current().ValidateSettings(ctx)
}
