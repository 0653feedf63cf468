// Package profile resolves emulator save profiles to concrete file sets.
// A profile declares where an emulator keeps its saves and which file
// patterns count as save data; everything else on disk is invisible to
// the packager.
package profile

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Profile is a named emulator configuration with save directories and
// glob file patterns.
type Profile struct {
	GameID     string   `json:"game_id"`
	EmulatorID string   `json:"emulator_id"`
	SaveDirs   []string `json:"save_dirs"`
	Patterns   []string `json:"patterns"`
}

// MatchedFile is one file resolved from a profile. Rel is the
// slash-separated path relative to its save dir, normalized to NFC.
type MatchedFile struct {
	Abs  string
	Rel  string
	Size int64
}

// blockedExtensions are never packaged, regardless of what the profile
// patterns match. ROM and BIOS images are not save data.
var blockedExtensions = map[string]struct{}{
	".rom":  {},
	".bios": {},
	".iso":  {},
	".chd":  {},
	".cue":  {},
	".gba":  {},
	".gbc":  {},
	".gb":   {},
	".nes":  {},
	".sfc":  {},
	".smc":  {},
	".n64":  {},
	".z64":  {},
	".nds":  {},
	".3ds":  {},
	".cia":  {},
}

// Blocked reports whether a path is excluded from packaging by the
// ROM/BIOS denylist.
func Blocked(path string) bool {
	_, ok := blockedExtensions[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Resolve walks the profile's save dirs and returns the files whose base
// name matches at least one declared pattern, sorted by relative path.
// Missing save dirs are skipped: an emulator that has never written a
// save simply contributes no files. An empty result is not an error
// here; the packager decides what that means.
func (p Profile) Resolve() ([]MatchedFile, error) {
	var matched []MatchedFile

	for _, dir := range p.SaveDirs {
		absDir, err := filepath.Abs(dir)
		if err != nil {
			return nil, fmt.Errorf("resolving save dir %s: %w", dir, err)
		}

		err = filepath.WalkDir(absDir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if os.IsNotExist(err) && path == absDir {
					return filepath.SkipAll
				}
				return err
			}

			if d.IsDir() {
				if strings.HasPrefix(d.Name(), ".") && path != absDir {
					return filepath.SkipDir
				}
				return nil
			}

			if !p.matches(d.Name()) {
				return nil
			}

			if Blocked(path) {
				return nil
			}

			rel, err := filepath.Rel(absDir, path)
			if err != nil {
				return err
			}
			rel = NormalizePath(filepath.ToSlash(rel))

			// A symlink or junk relative path must never escape the
			// save dir; anything that does is dropped, not packaged.
			if strings.HasPrefix(rel, "../") || rel == ".." {
				return nil
			}

			info, err := d.Info()
			if err != nil {
				return err
			}

			matched = append(matched, MatchedFile{Abs: path, Rel: rel, Size: info.Size()})
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walking save dir %s: %w", dir, err)
		}
	}

	sort.Slice(matched, func(i, j int) bool { return matched[i].Rel < matched[j].Rel })

	return matched, nil
}

// MatchesPath reports whether a filesystem path belongs to this profile:
// under one of its save dirs, base name matching a pattern, and not on
// the denylist. The orchestrator uses this to classify watcher events.
func (p Profile) MatchesPath(path string) bool {
	if Blocked(path) {
		return false
	}
	if !p.matches(filepath.Base(path)) {
		return false
	}
	for _, dir := range p.SaveDirs {
		absDir, err := filepath.Abs(dir)
		if err != nil {
			continue
		}
		if strings.HasPrefix(path, absDir+string(os.PathSeparator)) {
			return true
		}
	}
	return false
}

func (p Profile) matches(base string) bool {
	for _, pattern := range p.Patterns {
		ok, err := filepath.Match(pattern, base)
		if err == nil && ok {
			return true
		}
	}
	return false
}

// NormalizePath replaces non-breaking spaces with regular spaces,
// collapses repeated slashes, trims leading/trailing slashes, and
// applies Unicode NFC normalization. macOS emulators emit NFD names;
// normalizing here keeps hashes stable across platforms.
func NormalizePath(path string) string {
	path = strings.ReplaceAll(path, " ", " ")
	path = strings.ReplaceAll(path, " ", " ")

	var b strings.Builder
	prevSlash := false
	for _, r := range path {
		if r == '/' {
			if prevSlash {
				continue
			}
			prevSlash = true
		} else {
			prevSlash = false
		}
		b.WriteRune(r)
	}
	path = strings.Trim(b.String(), "/")

	return norm.NFC.String(path)
}
