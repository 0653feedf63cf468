package profile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// LoadFile reads game profiles from a JSON file. The file holds an
// object with a "profiles" array so the format has room to grow.
func LoadFile(path string) ([]Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading profiles %s: %w", path, err)
	}

	var doc struct {
		Profiles []Profile `json:"profiles"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing profiles %s: %w", path, err)
	}

	seen := make(map[string]struct{}, len(doc.Profiles))
	for i := range doc.Profiles {
		p := &doc.Profiles[i]
		if err := validate(*p); err != nil {
			return nil, fmt.Errorf("profile %d: %w", i, err)
		}
		if _, dup := seen[p.GameID]; dup {
			return nil, fmt.Errorf("duplicate profile for game %q", p.GameID)
		}
		seen[p.GameID] = struct{}{}

		for j, dir := range p.SaveDirs {
			abs, err := filepath.Abs(dir)
			if err != nil {
				return nil, fmt.Errorf("profile %q: resolving save dir %q: %w", p.GameID, dir, err)
			}
			p.SaveDirs[j] = abs
		}
	}

	return doc.Profiles, nil
}

func validate(p Profile) error {
	if p.GameID == "" {
		return fmt.Errorf("game_id is required")
	}
	if p.EmulatorID == "" {
		return fmt.Errorf("emulator_id is required for game %q", p.GameID)
	}
	if len(p.SaveDirs) == 0 {
		return fmt.Errorf("game %q needs at least one save dir", p.GameID)
	}
	if len(p.Patterns) == 0 {
		return fmt.Errorf("game %q needs at least one pattern", p.GameID)
	}
	for _, pattern := range p.Patterns {
		if _, err := filepath.Match(pattern, "sample.sav"); err != nil {
			return fmt.Errorf("game %q: invalid pattern %q: %w", p.GameID, pattern, err)
		}
	}
	return nil
}
