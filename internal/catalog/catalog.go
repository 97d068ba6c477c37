package catalog

import (
	"fmt"
	"sort"

	"github.com/pkgset/pkgset/internal/models"
)

// Catalog holds every known package keyed by (repository, architecture,
// package id). It is filled once at load time and is read-only afterwards,
// which makes it safe to share across all concurrent resolutions.
type Catalog struct {
	pkgs     map[string]map[string]map[string]*models.Package
	excluded map[string]map[string]map[string]bool
}

// New creates an empty catalog.
func New() *Catalog {
	return &Catalog{
		pkgs:     make(map[string]map[string]map[string]*models.Package),
		excluded: make(map[string]map[string]map[string]bool),
	}
}

// Exclude drops packages with the given names from later additions carrying
// the named backing source. Exclusion lists are per source; a name excluded
// from one source stays loadable from the repository's other sources.
func (c *Catalog) Exclude(repoID, sourceName string, names ...string) {
	if c.excluded[repoID] == nil {
		c.excluded[repoID] = make(map[string]map[string]bool)
	}
	if c.excluded[repoID][sourceName] == nil {
		c.excluded[repoID][sourceName] = make(map[string]bool)
	}
	for _, name := range names {
		c.excluded[repoID][sourceName][name] = true
	}
}

// Add stores a package under (repoID, arch). Later additions of the same
// package id win; backing sources are loaded in priority order so the
// highest-priority copy ends up in the catalog. The package's RepoName
// identifies the backing source for exclusion purposes.
func (c *Catalog) Add(repoID, arch string, pkg *models.Package) {
	if c.excluded[repoID][pkg.RepoName][pkg.Name] {
		return
	}
	if c.pkgs[repoID] == nil {
		c.pkgs[repoID] = make(map[string]map[string]*models.Package)
	}
	if c.pkgs[repoID][arch] == nil {
		c.pkgs[repoID][arch] = make(map[string]*models.Package)
	}
	c.pkgs[repoID][arch][pkg.ID()] = pkg
}

// Get looks up a single package.
func (c *Catalog) Get(repoID, arch, pkgID string) (*models.Package, bool) {
	pkg, ok := c.pkgs[repoID][arch][pkgID]
	return pkg, ok
}

// Snapshot returns the package table of one (repository, architecture) pair.
// Callers must treat the result as read-only.
func (c *Catalog) Snapshot(repoID, arch string) (map[string]*models.Package, error) {
	snap, ok := c.pkgs[repoID][arch]
	if !ok {
		return nil, &models.AnalysisError{
			Type:   models.ErrCatalogLoad,
			Entity: repoID,
			Err:    fmt.Errorf("no packages loaded for architecture %q", arch),
		}
	}
	return snap, nil
}

// Count returns the number of packages loaded for (repoID, arch).
func (c *Catalog) Count(repoID, arch string) int {
	return len(c.pkgs[repoID][arch])
}

// IDs returns the sorted package ids of one (repository, architecture) pair.
// Sorting keeps every downstream iteration deterministic.
func (c *Catalog) IDs(repoID, arch string) []string {
	snap := c.pkgs[repoID][arch]
	ids := make([]string, 0, len(snap))
	for id := range snap {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
