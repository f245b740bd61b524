// Package prefs persists the user's favorite media source and resolves
// which discovered source a session should bind to.
package prefs

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/dotsem/CapyShell/internal/domain"
)

// SourcePreference is the user's persisted source selection intent
type SourcePreference struct {
	// Favorite is the short name of the preferred source, e.g. "spotify".
	// nil means no favorite is set.
	Favorite *string `json:"favorite"`
}

// Load reads the preference file at path. It never fails: a missing file,
// unreadable file, or malformed content all yield an empty preference so
// startup can proceed.
func Load(path string) *SourcePreference {
	pref := &SourcePreference{}

	raw, err := os.ReadFile(path)
	if err != nil {
		return pref
	}
	if err := json.Unmarshal(raw, pref); err != nil {
		return &SourcePreference{}
	}
	return pref
}

// Save writes the preference to path as pretty-printed JSON, creating
// parent directories as needed
func (p *SourcePreference) Save(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	raw, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}

// SetFavorite records the given short name as the favorite source
func (p *SourcePreference) SetFavorite(shortName string) {
	p.Favorite = &shortName
}

// ClearFavorite removes the favorite
func (p *SourcePreference) ClearFavorite() {
	p.Favorite = nil
}

// SelectSource picks the source to bind to. The favorite wins when it is
// present in the list; otherwise the first entry of the already-ranked
// list is used. Returns nil on an empty list.
func (p *SourcePreference) SelectSource(sources []domain.PlayerSource) *domain.PlayerSource {
	if p.Favorite != nil {
		for i := range sources {
			if sources[i].ShortName == *p.Favorite {
				return &sources[i]
			}
		}
	}
	if len(sources) == 0 {
		return nil
	}
	return &sources[0]
}
