// Package history keeps per-entity time series of headline numbers, one
// sample per date. Running the analysis twice on the same date overwrites
// that date's sample instead of appending a duplicate.
package history

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkgset/pkgset/internal/utils"
)

// Sample is one day's headline numbers for one entity.
type Sample struct {
	Date        string `json:"date"`
	Packages    int    `json:"pkg_count"`
	InstallSize int64  `json:"installsize"`
}

// Merge applies one sample to a series: a sample for an already-recorded
// date replaces it, anything else is inserted keeping the series date-ordered.
// Dates are ISO 8601 (YYYY-MM-DD), so string order is date order.
func Merge(series []Sample, s Sample) []Sample {
	out := make([]Sample, 0, len(series)+1)
	replaced := false
	for _, existing := range series {
		if existing.Date == s.Date {
			out = append(out, s)
			replaced = true
			continue
		}
		out = append(out, existing)
	}
	if !replaced {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

// Tracker persists one series per entity as a JSON file.
type Tracker struct {
	dir string
}

// NewTracker creates a tracker rooted at dir.
func NewTracker(dir string) (*Tracker, error) {
	if err := utils.EnsureDir(dir); err != nil {
		return nil, err
	}
	return &Tracker{dir: dir}, nil
}

// path maps an entity id to its history file. Composite ids use ":" which
// does not belong in filenames.
func (t *Tracker) path(entityID string) string {
	slug := strings.ReplaceAll(entityID, ":", "--")
	return filepath.Join(t.dir, "history--"+slug+".json")
}

// Load reads an entity's series. A missing file is an empty series.
func (t *Tracker) Load(entityID string) ([]Sample, error) {
	raw, err := os.ReadFile(t.path(entityID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var series []Sample
	if err := json.Unmarshal(raw, &series); err != nil {
		return nil, err
	}
	return series, nil
}

// Record merges one sample into an entity's series and writes it back.
func (t *Tracker) Record(entityID string, s Sample) error {
	series, err := t.Load(entityID)
	if err != nil {
		return err
	}
	raw, err := json.MarshalIndent(Merge(series, s), "", "  ")
	if err != nil {
		return err
	}
	return utils.WriteFile(t.path(entityID), raw, 0644)
}
