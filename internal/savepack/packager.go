// Package savepack turns a profile's matched file set into an immutable,
// content-hashed tar.gz archive plus a metadata sidecar.
package savepack

import (
	"archive/tar"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/emusync/emusync/internal/errors"
	"github.com/emusync/emusync/internal/profile"
)

const (
	// ArchiveSuffix is the on-disk suffix for packaged save archives.
	ArchiveSuffix = ".sav.tar.gz"

	archivePerm = os.FileMode(0o644)
	dirPerm     = os.FileMode(0o755)
)

// Packager produces PackagedSaves in a staging directory. The history
// store moves the artifacts to their final location on Put.
type Packager struct {
	stagingDir string
	locks      *keyLocks
	logger     *slog.Logger
}

// New creates a Packager that stages archives under dir.
func New(stagingDir string, logger *slog.Logger) *Packager {
	return &Packager{
		stagingDir: stagingDir,
		locks:      newKeyLocks(),
		logger:     logger,
	}
}

// Package resolves the profile to a file set, hashes it, and writes an
// archive plus metadata sidecar to the staging dir. At most one run per
// (game_id, emulator_id) is in flight: a concurrent call for the same
// key fails fast with ErrConcurrentPackage rather than interleaving
// writes. Compression and hashing are CPU-bound, so callers run this
// off any latency-sensitive goroutine.
func (p *Packager) Package(prof profile.Profile) (*PackagedSave, error) {
	key := prof.GameID + "\x00" + prof.EmulatorID
	if !p.locks.tryAcquire(key) {
		return nil, fmt.Errorf("packaging %s/%s: %w", prof.GameID, prof.EmulatorID, errors.ErrConcurrentPackage)
	}
	defer p.locks.release(key)

	files, err := prof.Resolve()
	if err != nil {
		return nil, fmt.Errorf("resolving profile %s: %w", prof.GameID, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("packaging %s: %w", prof.GameID, errors.ErrNoFilesMatched)
	}

	hash, err := hashFiles(files)
	if err != nil {
		return nil, fmt.Errorf("hashing save files for %s: %w", prof.GameID, err)
	}

	now := time.Now().UTC()
	meta := SaveMetadata{
		GameID:     prof.GameID,
		EmulatorID: prof.EmulatorID,
		Timestamp:  now.Unix(),
		VersionID:  NewVersionID(now),
		FileList:   relPaths(files),
		Hash:       hash,
	}

	archivePath, err := p.writeArchive(meta.VersionID, files)
	if err != nil {
		return nil, fmt.Errorf("writing archive for %s: %w", prof.GameID, err)
	}

	if err := WriteSidecar(SidecarPath(archivePath), meta); err != nil {
		os.Remove(archivePath)
		return nil, fmt.Errorf("writing metadata for %s: %w", prof.GameID, err)
	}

	p.logger.Info("packaged save",
		slog.String("game_id", meta.GameID),
		slog.String("version_id", meta.VersionID),
		slog.Int("files", len(meta.FileList)),
		slog.String("hash", meta.Hash[:12]),
	)

	return &PackagedSave{ArchivePath: archivePath, Metadata: meta}, nil
}

// hashFiles computes the content digest over the path-sorted file set.
// Each file contributes its relative path, a NUL separator, then its
// bytes, so renames change the hash while a byte-identical re-save
// does not.
func hashFiles(files []profile.MatchedFile) (string, error) {
	h := sha256.New()
	for _, f := range files {
		io.WriteString(h, f.Rel)
		h.Write([]byte{0})

		src, err := os.Open(f.Abs)
		if err != nil {
			return "", err
		}
		_, err = io.Copy(h, src)
		src.Close()
		if err != nil {
			return "", err
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// writeArchive builds the tar.gz in a temp file and renames it into
// place so a crash never leaves a half-written archive at the final
// path.
func (p *Packager) writeArchive(versionID string, files []profile.MatchedFile) (string, error) {
	if err := os.MkdirAll(p.stagingDir, dirPerm); err != nil {
		return "", fmt.Errorf("creating staging dir: %w", err)
	}

	finalPath := filepath.Join(p.stagingDir, versionID+ArchiveSuffix)

	tmp, err := os.CreateTemp(p.stagingDir, versionID+".partial-*")
	if err != nil {
		return "", fmt.Errorf("creating temp archive: %w", err)
	}
	tmpPath := tmp.Name()

	if err := writeTarGz(tmp, files); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", err
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("syncing archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("closing archive: %w", err)
	}

	if err := os.Chmod(tmpPath, archivePerm); err != nil {
		os.Remove(tmpPath)
		return "", err
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("publishing archive: %w", err)
	}

	return finalPath, nil
}

func writeTarGz(w io.Writer, files []profile.MatchedFile) error {
	gz, err := gzip.NewWriterLevel(w, gzip.BestSpeed)
	if err != nil {
		return err
	}
	tw := tar.NewWriter(gz)

	for _, f := range files {
		info, err := os.Stat(f.Abs)
		if err != nil {
			return fmt.Errorf("stat %s: %w", f.Rel, err)
		}

		hdr := &tar.Header{
			Name:    f.Rel,
			Mode:    0o644,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("tar header %s: %w", f.Rel, err)
		}

		src, err := os.Open(f.Abs)
		if err != nil {
			return fmt.Errorf("open %s: %w", f.Rel, err)
		}
		_, err = io.Copy(tw, src)
		src.Close()
		if err != nil {
			return fmt.Errorf("tar copy %s: %w", f.Rel, err)
		}
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("closing tar: %w", err)
	}
	return gz.Close()
}

// Unpack extracts an archive into destDir with relative paths preserved.
// Entries that would escape destDir are rejected.
func Unpack(archivePath, destDir string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("reading gzip: %w", err)
	}
	defer gz.Close()

	absDest, err := filepath.Abs(destDir)
	if err != nil {
		return err
	}

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading tar: %w", err)
		}

		target := filepath.Join(absDest, filepath.FromSlash(hdr.Name))
		if !strings.HasPrefix(target, absDest+string(os.PathSeparator)) {
			return fmt.Errorf("archive entry %q escapes destination", hdr.Name)
		}

		if err := os.MkdirAll(filepath.Dir(target), dirPerm); err != nil {
			return fmt.Errorf("creating dir for %s: %w", hdr.Name, err)
		}

		out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, archivePerm)
		if err != nil {
			return fmt.Errorf("creating %s: %w", hdr.Name, err)
		}
		if _, err := io.Copy(out, tr); err != nil {
			out.Close()
			return fmt.Errorf("extracting %s: %w", hdr.Name, err)
		}
		if err := out.Close(); err != nil {
			return err
		}
		os.Chtimes(target, hdr.ModTime, hdr.ModTime)
	}
}

// WriteSidecar writes a metadata sidecar as indented JSON.
func WriteSidecar(path string, meta SaveMetadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, archivePerm)
}

// ReadSidecar loads a metadata sidecar.
func ReadSidecar(path string) (SaveMetadata, error) {
	var meta SaveMetadata
	data, err := os.ReadFile(path)
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("parsing metadata %s: %w", path, err)
	}
	return meta, nil
}

// SidecarPath returns the metadata sidecar location for an archive.
func SidecarPath(archivePath string) string {
	return strings.TrimSuffix(archivePath, ArchiveSuffix) + ".json"
}

func relPaths(files []profile.MatchedFile) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.Rel
	}
	return out
}
