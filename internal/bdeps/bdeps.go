// Package bdeps provides lookups of direct build dependencies of source
// packages, the raw facts buildroot expansion consumes. The real facts come
// from build system root logs fetched out of band; this package reads those
// pre-fetched facts and also ships a development stub for offline runs.
package bdeps

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/pkgset/pkgset/internal/models"
)

// Dev returns fabricated build dependencies that rotate through three fixed
// buckets. The rotation guarantees multi-level expansion with cycles, which
// is exactly what development runs need to exercise.
type Dev struct{}

// DirectBuildDeps implements the lookup with canned data.
func (Dev) DirectBuildDeps(ctx context.Context, sourceName, repoID, arch string) ([]string, error) {
	switch sourceName {
	case "bash", "make", "unzip":
		return []string{"gawk", "xz", "findutils"}, nil
	case "gawk", "xz", "findutils":
		return []string{"cpio", "diffutils"}, nil
	default:
		return []string{"bash", "make", "unzip"}, nil
	}
}

// File reads per-(repository, architecture) JSON fact files from a directory.
// Each file maps a source package name to its direct build dependency names:
//
//	builddeps--<repoID>--<arch>.json
//	{"bash": ["gcc", "make", ...], ...}
//
// Files are parsed once and kept; the facts are immutable for a run.
type File struct {
	dir string

	mu    sync.Mutex
	facts map[string]map[string][]string
}

// NewFile creates a file-backed lookup rooted at dir.
func NewFile(dir string) *File {
	return &File{
		dir:   dir,
		facts: make(map[string]map[string][]string),
	}
}

// DirectBuildDeps returns the recorded direct build dependencies of one
// source package. A source package with no record is a lookup failure; the
// caller isolates it to the affected source package.
func (f *File) DirectBuildDeps(ctx context.Context, sourceName, repoID, arch string) ([]string, error) {
	table, err := f.load(repoID, arch)
	if err != nil {
		return nil, err
	}
	deps, ok := table[sourceName]
	if !ok {
		return nil, &models.AnalysisError{
			Type:   models.ErrBuildrootLookup,
			Entity: sourceName,
			Err:    fmt.Errorf("no build dependency record for %s on %s/%s", sourceName, repoID, arch),
		}
	}
	return deps, nil
}

func (f *File) load(repoID, arch string) (map[string][]string, error) {
	key := repoID + "/" + arch

	f.mu.Lock()
	defer f.mu.Unlock()
	if table, ok := f.facts[key]; ok {
		return table, nil
	}

	path := filepath.Join(f.dir, fmt.Sprintf("builddeps--%s--%s.json", repoID, arch))
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &models.AnalysisError{Type: models.ErrBuildrootLookup, Entity: repoID, Err: err}
	}
	var table map[string][]string
	if err := json.Unmarshal(raw, &table); err != nil {
		return nil, &models.AnalysisError{
			Type:   models.ErrBuildrootLookup,
			Entity: repoID,
			Err:    fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err),
		}
	}
	for name := range table {
		sort.Strings(table[name])
	}
	logrus.Debugf("Loaded build dependency facts for %d source packages from %s", len(table), path)
	f.facts[key] = table
	return table, nil
}
