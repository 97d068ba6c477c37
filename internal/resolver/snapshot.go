package resolver

import (
	"context"
	"sort"

	"github.com/pkgset/pkgset/internal/catalog"
	"github.com/pkgset/pkgset/internal/models"
)

// Snapshot resolves requests against a loaded catalog by walking the
// requires/provides capability graph. It is not a full depsolver: version
// constraints, conflicts and obsoletes are not evaluated. Where several
// packages provide the same capability, the one from the highest-priority
// backing source wins, with the lexicographically smallest id breaking ties.
// That keeps results deterministic, which matters more here than matching a
// solver's exact pick.
type Snapshot struct {
	catalog    *catalog.Catalog
	priorities map[string]int
}

// NewSnapshot creates a snapshot resolver over the catalog.
func NewSnapshot(cat *catalog.Catalog) *Snapshot {
	return &Snapshot{
		catalog:    cat,
		priorities: make(map[string]int),
	}
}

// SetPriority declares the priority of a backing source (lower wins, dnf
// semantics). Sources without a declared priority default to 99.
func (s *Snapshot) SetPriority(repoID, repoName string, priority int) {
	s.priorities[repoID+"/"+repoName] = priority
}

func (s *Snapshot) priority(repoID, repoName string) int {
	if prio, ok := s.priorities[repoID+"/"+repoName]; ok {
		return prio
	}
	return 99
}

// Resolve walks the dependency closure of the requested names.
func (s *Snapshot) Resolve(ctx context.Context, req Request) (*Result, error) {
	snap, err := s.catalog.Snapshot(req.RepoID, req.Arch)
	if err != nil {
		return nil, err
	}

	providers := s.providerIndex(req.RepoID, snap)

	result := &Result{}
	installed := make(map[string]*models.Package)

	// Seed with the requested names; anything unresolvable here is reported,
	// the caller decides whether that is fatal.
	names := make([]string, len(req.Packages))
	copy(names, req.Packages)
	sort.Strings(names)

	var queue []*models.Package
	for _, name := range names {
		pkg := providers[name]
		if pkg == nil {
			result.Unresolved = append(result.Unresolved, name)
			continue
		}
		if _, ok := installed[pkg.ID()]; !ok {
			installed[pkg.ID()] = pkg
			queue = append(queue, pkg)
		}
	}

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pkg := queue[0]
		queue = queue[1:]

		queue = s.follow(pkg, pkg.Requires, DepHard, providers, installed, result, queue)
		if req.Options.IncludeWeakDeps {
			queue = s.follow(pkg, pkg.Recommends, DepWeak, providers, installed, result, queue)
			queue = s.follow(pkg, pkg.Suggests, DepSuggest, providers, installed, result, queue)
		}
	}

	ids := make([]string, 0, len(installed))
	for id := range installed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	result.Installed = make([]*models.Package, 0, len(ids))
	for _, id := range ids {
		result.Installed = append(result.Installed, installed[id])
	}
	sort.Slice(result.Edges, func(i, j int) bool {
		a, b := result.Edges[i], result.Edges[j]
		if a.Requirer != b.Requirer {
			return a.Requirer < b.Requirer
		}
		if a.Required != b.Required {
			return a.Required < b.Required
		}
		return a.Kind < b.Kind
	})
	return result, nil
}

// follow resolves one package's dependency names of one kind, recording edges
// and queueing newly installed providers. Capabilities nothing provides are
// skipped: a snapshot can legitimately lack file-path or rich dependencies
// that an installed system satisfies elsewhere.
func (s *Snapshot) follow(pkg *models.Package, deps []string, kind DepKind,
	providers map[string]*models.Package, installed map[string]*models.Package,
	result *Result, queue []*models.Package) []*models.Package {

	for _, dep := range deps {
		provider := providers[dep]
		if provider == nil {
			continue
		}
		if provider.ID() == pkg.ID() {
			continue
		}
		result.Edges = append(result.Edges, Edge{
			Requirer: pkg.ID(),
			Required: provider.ID(),
			Kind:     kind,
		})
		if _, ok := installed[provider.ID()]; !ok {
			installed[provider.ID()] = provider
			queue = append(queue, provider)
		}
	}
	return queue
}

// providerIndex maps every provided capability (and every package name) to
// its winning provider.
func (s *Snapshot) providerIndex(repoID string, snap map[string]*models.Package) map[string]*models.Package {
	index := make(map[string]*models.Package, len(snap)*2)
	claim := func(capability string, pkg *models.Package) {
		current, ok := index[capability]
		if !ok {
			index[capability] = pkg
			return
		}
		pkgPrio := s.priority(repoID, pkg.RepoName)
		curPrio := s.priority(repoID, current.RepoName)
		if pkgPrio < curPrio || (pkgPrio == curPrio && pkg.ID() < current.ID()) {
			index[capability] = pkg
		}
	}
	for _, pkg := range snap {
		claim(pkg.Name, pkg)
		for _, capability := range pkg.Provides {
			claim(capability, pkg)
		}
	}
	return index
}
