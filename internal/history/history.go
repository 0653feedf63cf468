// Package history persists packaged saves on the local filesystem and
// enforces the per-game retention policy. The directory listing is the
// source of truth: there is no index file to corrupt.
package history

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/emusync/emusync/internal/errors"
	"github.com/emusync/emusync/internal/savepack"
)

// Entry is the authoritative on-disk unit: one archive plus its
// metadata sidecar for a (game_id, version_id).
type Entry struct {
	ArchivePath  string
	MetadataPath string
	Metadata     savepack.SaveMetadata
}

// RetentionPolicy bounds how many versions are kept per game.
type RetentionPolicy struct {
	Limit      int
	AutoDelete bool
}

// StorageInfo reports the history root, its total archive size, and the
// retention bounds the settings surface may offer.
type StorageInfo struct {
	HistoryPath  string
	SizeBytes    int64
	RetentionMin int
	RetentionMax int
}

// Store owns the history root. Concurrent put/delete for the same game
// are serialized so retention accounting stays correct; different games
// proceed in parallel.
type Store struct {
	root      string
	retention RetentionPolicy
	logger    *slog.Logger

	mu    sync.Mutex
	games map[string]*sync.Mutex
}

// NewStore creates a Store rooted at dir, creating it if needed.
func NewStore(root string, retention RetentionPolicy, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating history root: %w", err)
	}
	return &Store{
		root:      root,
		retention: retention,
		logger:    logger,
		games:     make(map[string]*sync.Mutex),
	}, nil
}

// Root returns the history root directory.
func (s *Store) Root() string {
	return s.root
}

func (s *Store) gameLock(gameID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.games[gameID]
	if !ok {
		m = &sync.Mutex{}
		s.games[gameID] = m
	}
	return m
}

func (s *Store) gameDir(gameID string) string {
	return filepath.Join(s.root, gameID)
}

// Put moves a packaged save into the store and applies retention. The
// staged archive and sidecar are renamed into the per-game directory;
// on cross-device rename failure the artifacts are copied. Called only
// from the packager's success path and the conflict download path.
func (s *Store) Put(pkg savepack.PackagedSave) (Entry, error) {
	lock := s.gameLock(pkg.Metadata.GameID)
	lock.Lock()
	defer lock.Unlock()

	dir := s.gameDir(pkg.Metadata.GameID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Entry{}, fmt.Errorf("creating game dir: %w", err)
	}

	archivePath := filepath.Join(dir, pkg.Metadata.VersionID+savepack.ArchiveSuffix)
	metaPath := filepath.Join(dir, pkg.Metadata.VersionID+".json")

	if err := moveFile(pkg.ArchivePath, archivePath); err != nil {
		return Entry{}, fmt.Errorf("storing archive: %w", err)
	}

	stagedMeta := savepack.SidecarPath(pkg.ArchivePath)
	if _, err := os.Stat(stagedMeta); err == nil {
		if err := moveFile(stagedMeta, metaPath); err != nil {
			return Entry{}, fmt.Errorf("storing metadata: %w", err)
		}
	} else if err := savepack.WriteSidecar(metaPath, pkg.Metadata); err != nil {
		return Entry{}, fmt.Errorf("writing metadata: %w", err)
	}

	entry := Entry{
		ArchivePath:  archivePath,
		MetadataPath: metaPath,
		Metadata:     pkg.Metadata,
	}

	if s.retention.AutoDelete {
		if err := s.applyRetentionLocked(pkg.Metadata.GameID); err != nil {
			s.logger.Warn("retention sweep failed",
				slog.String("game_id", pkg.Metadata.GameID),
				slog.String("error", err.Error()),
			)
		}
	}

	return entry, nil
}

// List returns all entries for a game, newest first. Ties on timestamp
// fall back to version id so the order is stable.
func (s *Store) List(gameID string) ([]Entry, error) {
	entries, err := s.scan(gameID)
	if err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i].Metadata, entries[j].Metadata
		if a.Timestamp != b.Timestamp {
			return a.Timestamp > b.Timestamp
		}
		return a.VersionID > b.VersionID
	})

	return entries, nil
}

// Latest returns the newest entry for a game, or ErrNotFound if the
// game has no history.
func (s *Store) Latest(gameID string) (Entry, error) {
	entries, err := s.List(gameID)
	if err != nil {
		return Entry{}, err
	}
	if len(entries) == 0 {
		return Entry{}, fmt.Errorf("no history for %s: %w", gameID, errors.ErrNotFound)
	}
	return entries[0], nil
}

// Get returns the entry for a specific version.
func (s *Store) Get(gameID, versionID string) (Entry, error) {
	entries, err := s.scan(gameID)
	if err != nil {
		return Entry{}, err
	}
	for _, e := range entries {
		if e.Metadata.VersionID == versionID {
			return e, nil
		}
	}
	return Entry{}, fmt.Errorf("version %s of %s: %w", versionID, gameID, errors.ErrNotFound)
}

// Rollback re-materializes a stored version into destDir as the current
// save state. History is untouched: the entry stays in the store and
// the next packaging run records the rolled-back state as a new version.
func (s *Store) Rollback(gameID, versionID, destDir string) (savepack.PackagedSave, error) {
	entry, err := s.Get(gameID, versionID)
	if err != nil {
		return savepack.PackagedSave{}, err
	}

	if err := savepack.Unpack(entry.ArchivePath, destDir); err != nil {
		return savepack.PackagedSave{}, fmt.Errorf("rolling back %s to %s: %w", gameID, versionID, err)
	}

	s.logger.Info("rolled back save",
		slog.String("game_id", gameID),
		slog.String("version_id", versionID),
		slog.String("dest", destDir),
	)

	return savepack.PackagedSave{ArchivePath: entry.ArchivePath, Metadata: entry.Metadata}, nil
}

// Delete removes a version's archive and sidecar.
func (s *Store) Delete(gameID, versionID string) error {
	lock := s.gameLock(gameID)
	lock.Lock()
	defer lock.Unlock()

	return s.deleteLocked(gameID, versionID)
}

func (s *Store) deleteLocked(gameID, versionID string) error {
	entry, err := s.Get(gameID, versionID)
	if err != nil {
		return err
	}

	if err := os.Remove(entry.ArchivePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing archive: %w", err)
	}
	if err := os.Remove(entry.MetadataPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing metadata: %w", err)
	}
	return nil
}

// GameIDs lists every game that currently has history.
func (s *Store) GameIDs() ([]string, error) {
	dirents, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("listing history root: %w", err)
	}
	var ids []string
	for _, d := range dirents {
		if d.IsDir() {
			ids = append(ids, d.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Info sums archive sizes on demand. No incremental cache: history is
// small and the settings screen asks rarely.
func (s *Store) Info() (StorageInfo, error) {
	var total int64
	err := filepath.WalkDir(s.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return StorageInfo{}, fmt.Errorf("sizing history: %w", err)
	}

	return StorageInfo{
		HistoryPath:  s.root,
		SizeBytes:    total,
		RetentionMin: 1,
		RetentionMax: 200,
	}, nil
}

// Retention returns the active policy.
func (s *Store) Retention() RetentionPolicy {
	return s.retention
}

// applyRetentionLocked deletes the oldest entries beyond the limit.
// Deterministic and synchronous: callers observe the post-sweep state.
func (s *Store) applyRetentionLocked(gameID string) error {
	if s.retention.Limit <= 0 {
		return nil
	}

	entries, err := s.List(gameID)
	if err != nil {
		return err
	}

	for _, victim := range entries[min(len(entries), s.retention.Limit):] {
		if err := s.deleteLocked(gameID, victim.Metadata.VersionID); err != nil {
			return err
		}
		s.logger.Debug("retention evicted version",
			slog.String("game_id", gameID),
			slog.String("version_id", victim.Metadata.VersionID),
		)
	}
	return nil
}

// scan reads the per-game directory and pairs archives with sidecars.
// Entries whose sidecar is missing or unparseable are skipped with a
// warning; a corrupt sidecar must not hide the rest of the history.
func (s *Store) scan(gameID string) ([]Entry, error) {
	dir := s.gameDir(gameID)
	dirents, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing %s: %w", dir, err)
	}

	var entries []Entry
	for _, d := range dirents {
		if d.IsDir() || !strings.HasSuffix(d.Name(), savepack.ArchiveSuffix) {
			continue
		}

		archivePath := filepath.Join(dir, d.Name())
		metaPath := savepack.SidecarPath(archivePath)

		meta, err := savepack.ReadSidecar(metaPath)
		if err != nil {
			s.logger.Warn("skipping entry with bad sidecar",
				slog.String("archive", archivePath),
				slog.String("error", err.Error()),
			)
			continue
		}

		entries = append(entries, Entry{
			ArchivePath:  archivePath,
			MetadataPath: metaPath,
			Metadata:     meta,
		})
	}

	return entries, nil
}

// moveFile renames src to dst, falling back to copy+remove across
// filesystems.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return err
	}
	return os.Remove(src)
}
