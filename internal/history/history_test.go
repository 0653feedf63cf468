package history

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emusync/emusync/internal/errors"
	"github.com/emusync/emusync/internal/profile"
	"github.com/emusync/emusync/internal/savepack"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testStore(t *testing.T, retention RetentionPolicy) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "history"), retention, discardLogger())
	require.NoError(t, err)
	return s
}

// packageVersion writes save content into a fresh save dir and runs a
// real packaging pass, so entries carry genuine archives.
func packageVersion(t *testing.T, gameID, content string, ts time.Time) savepack.PackagedSave {
	t.Helper()

	saveDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(saveDir, "slot1.sav"), []byte(content), 0o644))

	p := savepack.New(t.TempDir(), discardLogger())
	pkg, err := p.Package(profile.Profile{
		GameID:     gameID,
		EmulatorID: "emu",
		SaveDirs:   []string{saveDir},
		Patterns:   []string{"*.sav"},
	})
	require.NoError(t, err)

	// Steer the timestamp so ordering tests are deterministic.
	pkg.Metadata.Timestamp = ts.Unix()
	pkg.Metadata.VersionID = savepack.NewVersionID(ts)
	require.NoError(t, savepack.WriteSidecar(savepack.SidecarPath(pkg.ArchivePath), pkg.Metadata))

	return *pkg
}

// --- Put / List ---

func TestPut_MovesArtifactsIntoGameDir(t *testing.T) {
	s := testStore(t, RetentionPolicy{Limit: 10})
	pkg := packageVersion(t, "gameA", "v1", time.Unix(1000, 0))

	entry, err := s.Put(pkg)
	require.NoError(t, err)

	assert.FileExists(t, entry.ArchivePath)
	assert.FileExists(t, entry.MetadataPath)
	assert.NoFileExists(t, pkg.ArchivePath)
	assert.Equal(t, filepath.Join(s.Root(), "gameA"), filepath.Dir(entry.ArchivePath))
}

func TestList_NewestFirst(t *testing.T) {
	s := testStore(t, RetentionPolicy{Limit: 10})

	for i, ts := range []int64{1000, 3000, 2000} {
		pkg := packageVersion(t, "gameA", string(rune('a'+i)), time.Unix(ts, 0))
		_, err := s.Put(pkg)
		require.NoError(t, err)
	}

	entries, err := s.List("gameA")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, int64(3000), entries[0].Metadata.Timestamp)
	assert.Equal(t, int64(2000), entries[1].Metadata.Timestamp)
	assert.Equal(t, int64(1000), entries[2].Metadata.Timestamp)
}

func TestList_UnknownGameIsEmpty(t *testing.T) {
	s := testStore(t, RetentionPolicy{Limit: 10})
	entries, err := s.List("never-seen")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

// --- Latest / Get ---

func TestLatest_ReturnsNewest(t *testing.T) {
	s := testStore(t, RetentionPolicy{Limit: 10})
	_, err := s.Put(packageVersion(t, "gameA", "old", time.Unix(1000, 0)))
	require.NoError(t, err)
	_, err = s.Put(packageVersion(t, "gameA", "new", time.Unix(2000, 0)))
	require.NoError(t, err)

	latest, err := s.Latest("gameA")
	require.NoError(t, err)
	assert.Equal(t, int64(2000), latest.Metadata.Timestamp)
}

func TestLatest_EmptyHistoryNotFound(t *testing.T) {
	s := testStore(t, RetentionPolicy{Limit: 10})
	_, err := s.Latest("gameA")
	require.ErrorIs(t, err, errors.ErrNotFound)
}

func TestGet_ByVersionID(t *testing.T) {
	s := testStore(t, RetentionPolicy{Limit: 10})
	pkg := packageVersion(t, "gameA", "v1", time.Unix(1000, 0))
	_, err := s.Put(pkg)
	require.NoError(t, err)

	entry, err := s.Get("gameA", pkg.Metadata.VersionID)
	require.NoError(t, err)
	assert.Equal(t, pkg.Metadata.Hash, entry.Metadata.Hash)
}

func TestGet_UnknownVersion(t *testing.T) {
	s := testStore(t, RetentionPolicy{Limit: 10})
	_, err := s.Get("gameA", "missing")
	require.ErrorIs(t, err, errors.ErrNotFound)
}

// --- Retention ---

func TestRetention_LimitTwoKeepsNewestTwo(t *testing.T) {
	s := testStore(t, RetentionPolicy{Limit: 2, AutoDelete: true})

	var versions []string
	for i, ts := range []int64{1000, 2000, 3000} {
		pkg := packageVersion(t, "gameA", string(rune('a'+i)), time.Unix(ts, 0))
		versions = append(versions, pkg.Metadata.VersionID)
		_, err := s.Put(pkg)
		require.NoError(t, err)
	}

	entries, err := s.List("gameA")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, versions[2], entries[0].Metadata.VersionID)
	assert.Equal(t, versions[1], entries[1].Metadata.VersionID)

	_, err = s.Get("gameA", versions[0])
	require.ErrorIs(t, err, errors.ErrNotFound)
}

func TestRetention_AutoDeleteOffKeepsEverything(t *testing.T) {
	s := testStore(t, RetentionPolicy{Limit: 1, AutoDelete: false})

	for i, ts := range []int64{1000, 2000, 3000} {
		_, err := s.Put(packageVersion(t, "gameA", string(rune('a'+i)), time.Unix(ts, 0)))
		require.NoError(t, err)
	}

	entries, err := s.List("gameA")
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestRetention_PerGameIndependent(t *testing.T) {
	s := testStore(t, RetentionPolicy{Limit: 1, AutoDelete: true})

	_, err := s.Put(packageVersion(t, "gameA", "a", time.Unix(1000, 0)))
	require.NoError(t, err)
	_, err = s.Put(packageVersion(t, "gameB", "b", time.Unix(1000, 0)))
	require.NoError(t, err)

	a, err := s.List("gameA")
	require.NoError(t, err)
	b, err := s.List("gameB")
	require.NoError(t, err)
	assert.Len(t, a, 1)
	assert.Len(t, b, 1)
}

// --- Rollback ---

func TestRollback_RestoresContentAndKeepsHistory(t *testing.T) {
	s := testStore(t, RetentionPolicy{Limit: 10})
	pkg := packageVersion(t, "gameA", "precious save", time.Unix(1000, 0))
	_, err := s.Put(pkg)
	require.NoError(t, err)

	dest := t.TempDir()
	restored, err := s.Rollback("gameA", pkg.Metadata.VersionID, dest)
	require.NoError(t, err)
	assert.Equal(t, pkg.Metadata.Hash, restored.Metadata.Hash)

	got, err := os.ReadFile(filepath.Join(dest, "slot1.sav"))
	require.NoError(t, err)
	assert.Equal(t, "precious save", string(got))

	entries, err := s.List("gameA")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestRollback_UnknownVersion(t *testing.T) {
	s := testStore(t, RetentionPolicy{Limit: 10})
	_, err := s.Rollback("gameA", "missing", t.TempDir())
	require.ErrorIs(t, err, errors.ErrNotFound)
}

// --- Delete ---

func TestDelete_RemovesArchiveAndSidecar(t *testing.T) {
	s := testStore(t, RetentionPolicy{Limit: 10})
	pkg := packageVersion(t, "gameA", "v1", time.Unix(1000, 0))
	entry, err := s.Put(pkg)
	require.NoError(t, err)

	require.NoError(t, s.Delete("gameA", pkg.Metadata.VersionID))
	assert.NoFileExists(t, entry.ArchivePath)
	assert.NoFileExists(t, entry.MetadataPath)
}

// --- GameIDs / Info ---

func TestGameIDs_ListsGamesWithHistory(t *testing.T) {
	s := testStore(t, RetentionPolicy{Limit: 10})
	_, err := s.Put(packageVersion(t, "gameB", "b", time.Unix(1000, 0)))
	require.NoError(t, err)
	_, err = s.Put(packageVersion(t, "gameA", "a", time.Unix(1000, 0)))
	require.NoError(t, err)

	ids, err := s.GameIDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"gameA", "gameB"}, ids)
}

func TestInfo_ReportsSizeAndBounds(t *testing.T) {
	s := testStore(t, RetentionPolicy{Limit: 10})
	_, err := s.Put(packageVersion(t, "gameA", "some content", time.Unix(1000, 0)))
	require.NoError(t, err)

	info, err := s.Info()
	require.NoError(t, err)
	assert.Equal(t, s.Root(), info.HistoryPath)
	assert.Positive(t, info.SizeBytes)
	assert.Equal(t, 1, info.RetentionMin)
	assert.Equal(t, 200, info.RetentionMax)
}

// --- Corrupt sidecars ---

func TestScan_SkipsEntriesWithBadSidecar(t *testing.T) {
	s := testStore(t, RetentionPolicy{Limit: 10})
	pkg := packageVersion(t, "gameA", "good", time.Unix(1000, 0))
	entry, err := s.Put(pkg)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(entry.MetadataPath, []byte("{not json"), 0o644))

	entries, err := s.List("gameA")
	require.NoError(t, err)
	assert.Empty(t, entries)
}
