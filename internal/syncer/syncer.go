// Package syncer coordinates the pipeline: watcher events are
// debounced into packaging jobs, packaged saves land in local history,
// and a FIFO queue pushes them to the cloud backend with retry. A
// reconciliation pass keeps this device and the cloud converged and
// surfaces conflicts for the user to resolve.
package syncer

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/emusync/emusync/internal/cloud"
	"github.com/emusync/emusync/internal/config"
	"github.com/emusync/emusync/internal/errors"
	"github.com/emusync/emusync/internal/history"
	"github.com/emusync/emusync/internal/profile"
	"github.com/emusync/emusync/internal/savepack"
	"github.com/emusync/emusync/internal/state"
	"github.com/emusync/emusync/internal/watch"
)

// Conflict records a detected divergence awaiting user resolution.
type Conflict struct {
	GameID         string
	LocalVersionID string
	LocalHash      string
	LocalTimestamp time.Time
	CloudVersionID string
	CloudHash      string
	CloudTimestamp time.Time
}

// Orchestrator drives the sync loop. One goroutine (Run) owns the
// queue drain and debounce bookkeeping; the exported methods feed it
// through channels or shared state guarded by mu.
type Orchestrator struct {
	cfg      *config.Config
	logger   *slog.Logger
	packager *savepack.Packager
	history  *history.Store
	backend  *cloud.Handle
	store    *state.Store
	watcher  *watch.Watcher
	notifier *Notifier
	retry    RetryConfig

	queue *opQueue
	wake  chan struct{}

	mu        sync.RWMutex
	profiles  map[string]profile.Profile
	statuses  map[string]GameStatus
	conflicts map[string]Conflict
	pending   map[string]time.Time
	online    bool
	mode      config.CloudMode
	loggedOut bool
	activeJob *ActiveJob
	lastSync  time.Time

	stagingDir string
}

// New wires an orchestrator. The backend handle should already hold
// the backend matching cfg's cloud mode.
func New(
	cfg *config.Config,
	profiles []profile.Profile,
	packager *savepack.Packager,
	hist *history.Store,
	backend *cloud.Handle,
	store *state.Store,
	watcher *watch.Watcher,
	logger *slog.Logger,
) *Orchestrator {
	byID := make(map[string]profile.Profile, len(profiles))
	for _, p := range profiles {
		byID[p.GameID] = p
	}

	return &Orchestrator{
		cfg:      cfg,
		logger:   logger,
		packager: packager,
		history:  hist,
		backend:  backend,
		store:    store,
		watcher:  watcher,
		notifier: NewNotifier(),
		retry: RetryConfig{
			MaxAttempts: cfg.RetryMaxAttempts,
			BaseDelay:   time.Duration(cfg.RetryBaseMillis) * time.Millisecond,
			MaxDelay:    time.Duration(cfg.RetryMaxSeconds) * time.Second,
			Multiplier:  cfg.RetryMultiplier,
		},
		queue:      newOpQueue(),
		wake:       make(chan struct{}, 1),
		profiles:   byID,
		statuses:   make(map[string]GameStatus),
		conflicts:  make(map[string]Conflict),
		pending:    make(map[string]time.Time),
		online:     cfg.Mode() != config.ModeOff,
		mode:       cfg.Mode(),
		stagingDir: filepath.Join(cfg.DataDir, "staging"),
	}
}

// Subscribe returns a notification stream and its cancel function.
func (o *Orchestrator) Subscribe() (<-chan Notification, func()) {
	return o.notifier.Subscribe()
}

// Run executes the sync loop until ctx is cancelled. The persisted
// queue from the previous run is restored before the watcher starts,
// so work enqueued before a shutdown is not lost.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.restoreQueue(); err != nil {
		return err
	}

	if err := o.watcher.Start(o.watchPaths()); err != nil {
		return fmt.Errorf("starting watcher: %w", err)
	}
	defer o.watcher.Stop()
	defer o.persistQueue()

	debounceTick := time.NewTicker(100 * time.Millisecond)
	defer debounceTick.Stop()

	reconcileTick := time.NewTicker(o.cfg.ReconcileInterval())
	defer reconcileTick.Stop()

	// Converge with the cloud once at startup before waiting for the
	// first tick.
	o.enqueueReconcileAll()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event := <-o.watcher.Events():
			o.handleFileEvent(event)

		case <-debounceTick.C:
			o.flushDebounced()

		case <-reconcileTick.C:
			o.enqueueReconcileAll()

		case <-o.wake:
			o.drainQueue(ctx)
		}
	}
}

// watchPaths collects every save directory across profiles.
func (o *Orchestrator) watchPaths() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()

	var paths []string
	for _, p := range o.profiles {
		paths = append(paths, p.SaveDirs...)
	}
	sort.Strings(paths)
	return paths
}

// handleFileEvent maps a filesystem change to a game and arms its
// debounce window. Changes to blocked or unmatched paths are ignored.
func (o *Orchestrator) handleFileEvent(event watch.Event) {
	if profile.Blocked(event.Path) {
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	for _, p := range o.profiles {
		if !p.MatchesPath(event.Path) {
			continue
		}
		o.pending[p.GameID] = event.Timestamp
		o.setStatusLocked(p.GameID, StatusPendingPackage, "")
		return
	}
}

// flushDebounced promotes games whose debounce window has elapsed
// into queued uploads.
func (o *Orchestrator) flushDebounced() {
	window := o.cfg.Debounce()
	now := time.Now()

	o.mu.Lock()
	var ready []string
	for gameID, last := range o.pending {
		if now.Sub(last) >= window {
			ready = append(ready, gameID)
			delete(o.pending, gameID)
		}
	}
	o.mu.Unlock()

	for _, gameID := range ready {
		o.enqueue(gameID, OpUpload)
	}
}

func (o *Orchestrator) enqueue(gameID string, op OpKind) {
	if o.queue.Push(gameID, op) {
		o.logger.Debug("queued operation",
			slog.String("gameID", gameID),
			slog.String("op", string(op)))
	}
	o.wakeDrain()
}

func (o *Orchestrator) wakeDrain() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

func (o *Orchestrator) enqueueReconcileAll() {
	if o.currentMode() == config.ModeOff {
		return
	}
	o.mu.RLock()
	ids := make([]string, 0, len(o.profiles))
	for id := range o.profiles {
		ids = append(ids, id)
	}
	o.mu.RUnlock()
	sort.Strings(ids)

	for _, id := range ids {
		o.enqueue(id, OpReconcile)
	}
}

// drainQueue processes queued operations serially until the queue is
// empty, an operation fails transiently, or ctx is cancelled. Serial
// processing preserves FIFO order across games; coalescing in the
// queue keeps it short. While the mode is off no work is drained;
// queued items stay pending until the mode changes.
func (o *Orchestrator) drainQueue(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if o.currentMode() == config.ModeOff {
			return
		}
		item, ok := o.queue.Pop()
		if !ok {
			return
		}

		o.setActive(&ActiveJob{GameID: item.GameID, Op: item.Op})
		var err error
		switch item.Op {
		case OpUpload:
			err = o.processUpload(ctx, item.GameID)
		case OpDownload:
			err = o.processDownload(ctx, item.GameID)
		case OpReconcile:
			err = o.reconcileGame(ctx, item.GameID)
		}
		o.setActive(nil)

		if err != nil && o.handleOpError(item, err) {
			return
		}
	}
}

// handleOpError classifies a failed operation and reports whether the
// drain should pause. Transient failures flip the orchestrator
// offline, requeue the work, and stop the drain until the next wake;
// auth failures halt cloud operations until the user logs in again.
func (o *Orchestrator) handleOpError(item queueItem, err error) bool {
	switch {
	case stderrors.Is(err, errors.ErrDisabled):
		// Mode switched off while the item was in flight. Keep the
		// work queued for when cloud sync returns.
		o.queue.Push(item.GameID, item.Op)
		return true

	case stderrors.Is(err, errors.ErrUnauthorized):
		o.mu.Lock()
		o.loggedOut = true
		o.mu.Unlock()
		o.setStatus(item.GameID, StatusError, "authentication required")
		o.notifier.Publish(Notification{Kind: EventLoggedOut, GameID: item.GameID, Error: err.Error()})
		o.logger.Warn("cloud session rejected, sync halted",
			slog.String("gameID", item.GameID),
			slog.String("error", err.Error()))
		return false

	case errors.IsTransient(err):
		o.setOnline(false)
		o.queue.Push(item.GameID, item.Op)
		o.setStatus(item.GameID, StatusError, "backend unreachable")
		o.logger.Warn("operation deferred, backend unreachable",
			slog.String("gameID", item.GameID),
			slog.String("op", string(item.Op)),
			slog.String("error", err.Error()))
		// Re-wake after a backoff; the reconcile tick also re-wakes
		// the drain.
		time.AfterFunc(o.retry.MaxDelay, o.wakeDrain)
		return true

	default:
		o.setStatus(item.GameID, StatusError, err.Error())
		o.logger.Error("operation failed",
			slog.String("gameID", item.GameID),
			slog.String("op", string(item.Op)),
			slog.String("error", err.Error()))
		return false
	}
}

// processUpload packages the current save files, records the version
// in local history, and pushes it to the cloud. Local history is
// written before any network I/O so a cloud outage never loses a
// version.
func (o *Orchestrator) processUpload(ctx context.Context, gameID string) error {
	prof, ok := o.profileFor(gameID)
	if !ok {
		return fmt.Errorf("no profile for game %s: %w", gameID, errors.ErrNotFound)
	}

	pkg, err := o.packager.Package(prof)
	if err != nil {
		if stderrors.Is(err, errors.ErrNoFilesMatched) {
			o.setStatus(gameID, StatusIdle, "")
			return nil
		}
		if stderrors.Is(err, errors.ErrConcurrentPackage) {
			// Another packaging pass is running; its upload covers us.
			o.setStatus(gameID, StatusPendingPackage, "")
			return nil
		}
		return fmt.Errorf("packaging %s: %w", gameID, err)
	}

	entry, err := o.history.Put(*pkg)
	if err != nil {
		return fmt.Errorf("recording history for %s: %w", gameID, err)
	}

	if o.isLoggedOut() {
		o.setStatus(gameID, StatusIdle, "")
		return nil
	}

	o.setStatus(gameID, StatusUploading, "")
	if err := o.uploadEntry(ctx, entry); err != nil {
		return err
	}

	o.setStatus(gameID, StatusIdle, "")
	o.logger.Info("version uploaded",
		slog.String("gameID", gameID),
		slog.String("versionID", entry.Metadata.VersionID))
	return nil
}

// uploadEntry pushes one stored history entry to the cloud and
// advances the game's cursor to it.
func (o *Orchestrator) uploadEntry(ctx context.Context, entry history.Entry) error {
	meta := entry.Metadata
	var uploaded cloud.Version
	err := withRetry(ctx, o.retry, "upload", func() error {
		var uerr error
		uploaded, uerr = o.backend.Upload(ctx, cloud.UploadInput{
			GameID:      meta.GameID,
			EmulatorID:  meta.EmulatorID,
			VersionID:   meta.VersionID,
			Hash:        meta.Hash,
			Timestamp:   time.Unix(meta.Timestamp, 0).UTC(),
			ArchivePath: entry.ArchivePath,
			FileList:    meta.FileList,
		})
		return uerr
	})
	if err != nil {
		return err
	}

	o.setOnline(true)
	if err := o.store.SetCursor(meta.GameID, state.SyncCursor{
		VersionID: uploaded.VersionID,
		Hash:      uploaded.Hash,
		Timestamp: uploaded.Timestamp,
	}); err != nil {
		return fmt.Errorf("saving cursor for %s: %w", meta.GameID, err)
	}

	o.markSynced()
	return nil
}

// processDownload fetches the newest cloud version into local history
// and applies it to the save directory. The previous local version
// remains in history, so a download never destroys local data.
func (o *Orchestrator) processDownload(ctx context.Context, gameID string) error {
	prof, ok := o.profileFor(gameID)
	if !ok {
		return fmt.Errorf("no profile for game %s: %w", gameID, errors.ErrNotFound)
	}

	versions, err := o.listCloudVersions(ctx, gameID)
	if err != nil {
		return err
	}
	if len(versions) == 0 {
		o.setStatus(gameID, StatusIdle, "")
		return nil
	}

	return o.downloadAndApply(ctx, prof, versions[0])
}

// downloadAndApply pulls one specific cloud version, records it in
// history, extracts it into the save directory, and advances the
// cursor.
func (o *Orchestrator) downloadAndApply(ctx context.Context, prof profile.Profile, version cloud.Version) error {
	gameID := prof.GameID
	o.setStatus(gameID, StatusDownloading, "")

	if err := os.MkdirAll(o.stagingDir, 0o755); err != nil {
		return fmt.Errorf("creating staging dir: %w", err)
	}
	archivePath := filepath.Join(o.stagingDir, version.VersionID+savepack.ArchiveSuffix)

	progress := func(written, total int64) {
		o.notifier.Publish(Notification{
			Kind:    EventDownloadProgress,
			GameID:  gameID,
			Written: written,
			Total:   total,
		})
	}

	var fetched cloud.Version
	err := withRetry(ctx, o.retry, "download", func() error {
		var derr error
		fetched, derr = o.backend.Download(ctx, gameID, version.VersionID, archivePath, progress)
		return derr
	})
	if err != nil {
		o.notifier.Publish(Notification{Kind: EventDownloadError, GameID: gameID, Error: err.Error()})
		return err
	}
	defer os.Remove(archivePath)

	o.setOnline(true)

	meta := savepack.SaveMetadata{
		GameID:     fetched.GameID,
		EmulatorID: fetched.EmulatorID,
		Timestamp:  fetched.Timestamp.Unix(),
		VersionID:  fetched.VersionID,
		FileList:   fetched.FileList,
		Hash:       fetched.Hash,
	}
	if err := savepack.WriteSidecar(savepack.SidecarPath(archivePath), meta); err != nil {
		return fmt.Errorf("writing downloaded metadata: %w", err)
	}

	pkg := savepack.PackagedSave{ArchivePath: archivePath, Metadata: meta}
	entry, err := o.history.Put(pkg)
	if err != nil {
		return fmt.Errorf("recording downloaded version: %w", err)
	}

	if err := savepack.Unpack(entry.ArchivePath, prof.SaveDirs[0]); err != nil {
		return fmt.Errorf("%w: applying version %s: %v", errors.ErrApplyFailed, meta.VersionID, err)
	}

	if err := o.store.SetCursor(gameID, state.SyncCursor{
		VersionID: meta.VersionID,
		Hash:      meta.Hash,
		Timestamp: fetched.Timestamp,
	}); err != nil {
		return fmt.Errorf("saving cursor for %s: %w", gameID, err)
	}
	o.markSynced()

	o.setStatus(gameID, StatusIdle, "")
	o.notifier.Publish(Notification{Kind: EventDownloadComplete, GameID: gameID})
	o.logger.Info("version downloaded and applied",
		slog.String("gameID", gameID),
		slog.String("versionID", meta.VersionID))
	return nil
}

// reconcileGame compares local history and the cloud against the
// stored cursor and converges the cheaper side. Divergence on both
// sides is a conflict and is never resolved automatically.
func (o *Orchestrator) reconcileGame(ctx context.Context, gameID string) error {
	if o.currentMode() == config.ModeOff || o.isLoggedOut() {
		return nil
	}
	if o.hasConflict(gameID) {
		return nil
	}

	o.setStatus(gameID, StatusReconciling, "")

	versions, err := o.listCloudVersions(ctx, gameID)
	if err != nil {
		return err
	}
	o.setOnline(true)

	var cloudLatest cloud.Version
	haveCloud := len(versions) > 0
	if haveCloud {
		cloudLatest = versions[0]
	}

	localLatest, err := o.history.Latest(gameID)
	haveLocal := err == nil
	if err != nil && !stderrors.Is(err, errors.ErrNotFound) {
		return fmt.Errorf("reading local history for %s: %w", gameID, err)
	}

	cursor, cursorErr := o.store.Cursor(gameID)
	haveCursor := cursorErr == nil

	localAhead := haveLocal && (!haveCursor || localLatest.Metadata.Hash != cursor.Hash)
	cloudAhead := haveCloud && (!haveCursor || cloudLatest.Hash != cursor.Hash)

	switch {
	case !haveLocal && !haveCloud:
		o.setStatus(gameID, StatusIdle, "")

	case localAhead && cloudAhead && localLatest.Metadata.Hash != cloudLatest.Hash:
		o.flagConflict(gameID, localLatest, cloudLatest)

	case localAhead:
		if haveCloud && localLatest.Metadata.Hash == cloudLatest.Hash {
			// Both sides already hold the same content; just advance
			// the cursor.
			o.setStatus(gameID, StatusIdle, "")
			if err := o.store.SetCursor(gameID, state.SyncCursor{
				VersionID: cloudLatest.VersionID,
				Hash:      cloudLatest.Hash,
				Timestamp: cloudLatest.Timestamp,
			}); err != nil {
				return err
			}
			break
		}
		o.enqueue(gameID, OpUpload)

	case cloudAhead:
		o.enqueue(gameID, OpDownload)

	default:
		o.setStatus(gameID, StatusIdle, "")
	}

	o.markSynced()
	return nil
}

func (o *Orchestrator) listCloudVersions(ctx context.Context, gameID string) ([]cloud.Version, error) {
	var versions []cloud.Version
	err := withRetry(ctx, o.retry, "list versions", func() error {
		var lerr error
		versions, lerr = o.backend.ListVersions(ctx, gameID)
		if stderrors.Is(lerr, errors.ErrNotFound) {
			versions = nil
			return nil
		}
		return lerr
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(versions, func(i, j int) bool {
		return versions[i].Timestamp.After(versions[j].Timestamp)
	})
	return versions, nil
}

func (o *Orchestrator) flagConflict(gameID string, local history.Entry, remote cloud.Version) {
	conflict := Conflict{
		GameID:         gameID,
		LocalVersionID: local.Metadata.VersionID,
		LocalHash:      local.Metadata.Hash,
		LocalTimestamp: time.Unix(local.Metadata.Timestamp, 0).UTC(),
		CloudVersionID: remote.VersionID,
		CloudHash:      remote.Hash,
		CloudTimestamp: remote.Timestamp,
	}

	o.mu.Lock()
	o.conflicts[gameID] = conflict
	o.mu.Unlock()

	o.setStatus(gameID, StatusConflictPending, "divergent local and cloud versions")
	o.notifier.Publish(Notification{
		Kind:           EventConflictDetected,
		GameID:         gameID,
		LocalTimestamp: conflict.LocalTimestamp,
		CloudTimestamp: conflict.CloudTimestamp,
		LocalHash:      conflict.LocalHash,
		CloudHash:      conflict.CloudHash,
	})
	o.logger.Warn("conflict detected",
		slog.String("gameID", gameID),
		slog.String("localVersion", conflict.LocalVersionID),
		slog.String("cloudVersion", conflict.CloudVersionID))
}

// --- inbound operations ---

// PackageNow bypasses the debounce window and queues an immediate
// package-and-upload for one game.
func (o *Orchestrator) PackageNow(gameID string) error {
	if _, ok := o.profileFor(gameID); !ok {
		return fmt.Errorf("no profile for game %s: %w", gameID, errors.ErrNotFound)
	}

	o.mu.Lock()
	delete(o.pending, gameID)
	o.mu.Unlock()

	o.enqueue(gameID, OpUpload)
	return nil
}

// ForceSyncNow queues a reconciliation pass for every game.
func (o *Orchestrator) ForceSyncNow() {
	o.enqueueReconcileAll()
}

// ClearQueue drops all pending operations and debounce state.
func (o *Orchestrator) ClearQueue() int {
	o.mu.Lock()
	o.pending = make(map[string]time.Time)
	o.mu.Unlock()
	return o.queue.Clear()
}

// Conflicts returns the games currently awaiting resolution.
func (o *Orchestrator) Conflicts() []Conflict {
	o.mu.RLock()
	defer o.mu.RUnlock()

	out := make([]Conflict, 0, len(o.conflicts))
	for _, c := range o.conflicts {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GameID < out[j].GameID })
	return out
}

// ResolveConflict applies the user's decision for a flagged conflict.
// ErrNoActiveConflict when the game has none.
func (o *Orchestrator) ResolveConflict(ctx context.Context, gameID string, resolution Resolution) error {
	o.mu.Lock()
	conflict, ok := o.conflicts[gameID]
	if !ok {
		o.mu.Unlock()
		return fmt.Errorf("game %s: %w", gameID, errors.ErrNoActiveConflict)
	}
	delete(o.conflicts, gameID)
	o.mu.Unlock()

	switch resolution {
	case ResolutionUpload:
		// The divergent local version already sits in history; push it
		// as-is rather than packaging a fresh one.
		entry, err := o.history.Latest(gameID)
		if err != nil {
			o.mu.Lock()
			o.conflicts[gameID] = conflict
			o.mu.Unlock()
			return fmt.Errorf("reading local history for %s: %w", gameID, err)
		}
		o.setStatus(gameID, StatusUploading, "")
		if err := o.uploadEntry(ctx, entry); err != nil {
			// Restore the flag so the user can retry.
			o.mu.Lock()
			o.conflicts[gameID] = conflict
			o.mu.Unlock()
			o.setStatus(gameID, StatusConflictPending, "resolution failed")
			return err
		}
		o.setStatus(gameID, StatusIdle, "")
		return nil

	case ResolutionDownload:
		prof, ok := o.profileFor(gameID)
		if !ok {
			return fmt.Errorf("no profile for game %s: %w", gameID, errors.ErrNotFound)
		}
		remote := cloud.Version{
			GameID:    gameID,
			VersionID: conflict.CloudVersionID,
			Hash:      conflict.CloudHash,
			Timestamp: conflict.CloudTimestamp,
		}
		if err := o.downloadAndApply(ctx, prof, remote); err != nil {
			// Restore the flag so the user can retry.
			o.mu.Lock()
			o.conflicts[gameID] = conflict
			o.mu.Unlock()
			o.setStatus(gameID, StatusConflictPending, "resolution failed")
			return err
		}
		return nil

	case ResolutionSkip:
		o.setStatus(gameID, StatusIdle, "")
		return nil

	default:
		o.mu.Lock()
		o.conflicts[gameID] = conflict
		o.mu.Unlock()
		return fmt.Errorf("unknown resolution %q", resolution)
	}
}

// UpdateCloudConfig builds a backend for the new configuration and
// swaps it in atomically. In-flight operations finish against the old
// backend; queued and future operations use the new one.
func (o *Orchestrator) UpdateCloudConfig(cc config.CloudConfig) error {
	next, err := cloud.NewBackend(cc, o.logger)
	if err != nil {
		return err
	}

	prev := o.backend.Swap(next)

	o.mu.Lock()
	modeChanged := o.mode != cc.Mode
	o.mode = cc.Mode
	o.loggedOut = false
	o.online = cc.Mode != config.ModeOff
	o.mu.Unlock()

	o.notifier.Publish(Notification{
		Kind:    EventBackendSwitched,
		Backend: next.Name(),
	})
	if modeChanged {
		o.notifier.Publish(Notification{
			Kind: EventModeChanged,
			Mode: string(cc.Mode),
		})
	}

	o.logger.Info("backend switched",
		slog.String("from", prev.Name()),
		slog.String("to", next.Name()))

	// Work queued while the mode was off drains under the new backend.
	o.wakeDrain()
	return nil
}

// ValidateSettings checks a candidate configuration against its
// backend without touching the active one.
func (o *Orchestrator) ValidateSettings(ctx context.Context, cc config.CloudConfig) (cloud.ValidationOutcome, error) {
	candidate, err := cloud.NewBackend(cc, o.logger)
	if err != nil {
		return cloud.ValidationOutcome{OK: false, Message: err.Error()}, nil
	}
	out, err := candidate.ValidateSettings(ctx)
	if stderrors.Is(err, errors.ErrDisabled) {
		return cloud.ValidationOutcome{OK: false, Message: "cloud sync is off"}, nil
	}
	return out, err
}

// Status returns a snapshot of the orchestrator's visible state.
func (o *Orchestrator) Status() Snapshot {
	o.mu.RLock()
	defer o.mu.RUnlock()

	games := make([]GameStatus, 0, len(o.profiles))
	for id := range o.profiles {
		if st, ok := o.statuses[id]; ok {
			games = append(games, st)
		} else {
			games = append(games, GameStatus{GameID: id, Status: StatusIdle})
		}
	}
	sort.Slice(games, func(i, j int) bool { return games[i].GameID < games[j].GameID })

	var active *ActiveJob
	if o.activeJob != nil {
		job := *o.activeJob
		active = &job
	}

	return Snapshot{
		Online:    o.online,
		Backend:   o.backend.Name(),
		Queued:    o.queue.Len(),
		ActiveJob: active,
		LastSync:  o.lastSync,
		IsSyncing: o.activeJob != nil,
		Games:     games,
	}
}

// --- helpers ---

func (o *Orchestrator) profileFor(gameID string) (profile.Profile, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	p, ok := o.profiles[gameID]
	return p, ok
}

func (o *Orchestrator) currentMode() config.CloudMode {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.mode
}

func (o *Orchestrator) isLoggedOut() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.loggedOut
}

func (o *Orchestrator) setActive(job *ActiveJob) {
	o.mu.Lock()
	o.activeJob = job
	o.mu.Unlock()
}

func (o *Orchestrator) markSynced() {
	o.mu.Lock()
	o.lastSync = time.Now()
	o.mu.Unlock()
}

func (o *Orchestrator) hasConflict(gameID string) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	_, ok := o.conflicts[gameID]
	return ok
}

func (o *Orchestrator) setStatus(gameID string, status Status, message string) {
	o.mu.Lock()
	o.setStatusLocked(gameID, status, message)
	o.mu.Unlock()
}

func (o *Orchestrator) setStatusLocked(gameID string, status Status, message string) {
	prev := o.statuses[gameID]
	next := GameStatus{GameID: gameID, Status: status, Message: message}
	if prev == next {
		return
	}
	o.statuses[gameID] = next
	o.notifier.Publish(Notification{Kind: EventStatusChanged, GameID: gameID, Status: status})
}

func (o *Orchestrator) setOnline(online bool) {
	o.mu.Lock()
	changed := o.online != online
	o.online = online
	o.mu.Unlock()

	if !changed {
		return
	}
	kind := EventOffline
	if online {
		kind = EventOnline
	}
	o.notifier.Publish(Notification{Kind: kind})
	o.logger.Info("connectivity changed", slog.Bool("online", online))
}

func (o *Orchestrator) restoreQueue() error {
	ops, err := o.store.LoadQueue()
	if err != nil {
		return fmt.Errorf("restoring queue: %w", err)
	}
	for _, op := range ops {
		o.queue.Push(op.GameID, OpKind(op.Op))
	}
	if len(ops) > 0 {
		o.logger.Info("restored pending operations", slog.Int("count", len(ops)))
		o.wakeDrain()
	}
	return nil
}

func (o *Orchestrator) persistQueue() {
	items := o.queue.Snapshot()
	ops := make([]state.QueuedOp, len(items))
	for i, item := range items {
		ops[i] = state.QueuedOp{GameID: item.GameID, Op: string(item.Op), EnqueuedAt: item.EnqueuedAt}
	}
	if err := o.store.SaveQueue(ops); err != nil {
		o.logger.Error("persisting queue failed", slog.String("error", err.Error()))
	}
}
