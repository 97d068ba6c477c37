package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/pkgset/pkgset/internal/models"
	"github.com/pkgset/pkgset/internal/resolver"
)

// BuildDepsLookup returns the direct build dependencies of a source package,
// as recorded by the build system. Implementations live in the bdeps package.
type BuildDepsLookup interface {
	DirectBuildDeps(ctx context.Context, sourceName, repoID, arch string) ([]string, error)
}

// defaultBuildGroup is the minimal build environment installed into every
// buildroot when the repository does not override it. It mirrors the
// distribution's build group.
var defaultBuildGroup = []string{
	"bash", "bzip2", "coreutils", "cpio", "diffutils", "findutils", "gawk",
	"glibc-minimal-langpack", "grep", "gzip", "info", "make", "patch",
	"redhat-rpm-config", "rpm-build", "sed", "shadow-utils", "tar", "unzip",
	"util-linux", "which", "xz",
}

// BuildrootEntry is the resolved buildroot of one source package on one
// (repository, architecture) pair. Entries are derived data, independent of
// any view, so they are computed once and shared.
type BuildrootEntry struct {
	SourceID        string   `json:"source_id"`
	SourceName      string   `json:"source_name"`
	DirectBuildDeps []string `json:"direct_build_deps"`

	EnvPackageIDs   []string `json:"pkg_env_ids"`
	AddedPackageIDs []string `json:"pkg_added_ids"`

	Relations map[string]*Relations `json:"pkg_relations,omitempty"`

	Succeeded bool                `json:"succeeded"`
	Errors    models.EntityErrors `json:"errors"`
}

// Buildroot caches resolved buildroot entries for one (repository,
// architecture) pair across all views that expand on it.
type Buildroot struct {
	RepoID string
	Arch   string

	mu         sync.Mutex
	buildGroup *Environment
	entries    map[string]*BuildrootEntry
}

// NewBuildroot creates an empty buildroot store.
func NewBuildroot(repoID, arch string) *Buildroot {
	return &Buildroot{
		RepoID:  repoID,
		Arch:    arch,
		entries: make(map[string]*BuildrootEntry),
	}
}

// Entries returns the resolved entries, keyed by source package id.
func (b *Buildroot) Entries() map[string]*BuildrootEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]*BuildrootEntry, len(b.entries))
	for id, entry := range b.entries {
		out[id] = entry
	}
	return out
}

// BuildGroup returns the resolved base build group, or nil before expansion.
func (b *Buildroot) BuildGroup() *Environment {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buildGroup
}

// resolveBuildGroup resolves the base build group once. A broken build group
// makes every buildroot unresolvable, so this failure is fatal for the view.
func (b *Buildroot) resolveBuildGroup(ctx context.Context, rslv resolver.Resolver, repoConf *models.RepoConfig) (*Environment, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.buildGroup != nil {
		return b.buildGroup, nil
	}

	packages := repoConf.Source.BaseBuildrootOverride
	if len(packages) == 0 {
		packages = defaultBuildGroup
	}
	conf := &models.EnvConfig{
		ID:       "buildroot-base",
		Name:     "Base buildroot",
		Packages: packages,
	}
	env := ResolveEnvironment(ctx, rslv, conf, b.RepoID, b.Arch)
	if !env.Succeeded {
		return nil, &models.AnalysisError{
			Type:   models.ErrUpstreamEnvironment,
			Entity: EnvironmentID(conf.ID, b.RepoID, b.Arch),
			Err:    fmt.Errorf("base build group failed to resolve: %s", env.Errors.Message),
		}
	}
	b.buildGroup = env
	return env, nil
}

// entry returns a cached buildroot entry, or nil.
func (b *Buildroot) entry(sourceID string) *BuildrootEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.entries[sourceID]
}

// Store records a resolved entry under its source package id.
func (b *Buildroot) Store(entry *BuildrootEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[entry.SourceID] = entry
}

// MarshalJSON renders the store as one artifact: the resolved build group and
// every entry, keyed by source package id.
func (b *Buildroot) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		RepoID     string                     `json:"repo_id"`
		Arch       string                     `json:"arch"`
		BuildGroup *Environment               `json:"build_group,omitempty"`
		Entries    map[string]*BuildrootEntry `json:"entries"`
	}{b.RepoID, b.Arch, b.BuildGroup(), b.Entries()})
}

// resolveEntry computes the buildroot of one source package: its recorded
// direct build dependencies installed on top of the base build group. A
// lookup or resolution failure is recorded on the entry, isolating it to
// this source package.
func resolveEntry(ctx context.Context, rslv resolver.Resolver, lookup BuildDepsLookup, buildGroup *Environment, vs *ViewSourcePackage, repoID, arch string) *BuildrootEntry {
	entry := &BuildrootEntry{
		SourceID:   vs.ID,
		SourceName: vs.Name,
	}

	var deps []string
	var err error
	if vs.Placeholder {
		deps = append([]string{}, vs.BuildDeps...)
	} else {
		deps, err = lookup.DirectBuildDeps(ctx, vs.Name, repoID, arch)
		if err != nil {
			entry.Errors.Type = models.TypeOf(err, models.ErrBuildrootLookup)
			entry.Errors.Message = err.Error()
			logrus.Warnf("Buildroot lookup for %s failed: %v", vs.ID, err)
			return entry
		}
	}
	sort.Strings(deps)
	entry.DirectBuildDeps = deps

	names := make(map[string]bool, len(buildGroup.PackageIDs)+len(deps))
	for _, id := range buildGroup.PackageIDs {
		names[models.NameFromID(id)] = true
	}
	for _, name := range deps {
		names[name] = true
	}
	request := make([]string, 0, len(names))
	for name := range names {
		request = append(request, name)
	}
	sort.Strings(request)

	res, err := rslv.Resolve(ctx, resolver.Request{
		RepoID:   repoID,
		Arch:     arch,
		Packages: request,
	})
	if err != nil {
		entry.Errors.Type = models.TypeOf(err, models.ErrResolutionConflict)
		entry.Errors.Message = err.Error()
		logrus.Warnf("Buildroot of %s failed: %v", vs.ID, err)
		return entry
	}

	depSet := make(map[string]bool, len(deps))
	for _, name := range deps {
		depSet[name] = true
	}
	var missing []string
	for _, name := range res.Unresolved {
		if depSet[name] {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		// Build dependencies come from recorded facts, so a missing one means
		// the snapshot and the facts disagree. Record and continue.
		sort.Strings(missing)
		entry.Errors.Type = models.ErrMissingPackage
		entry.Errors.MissingPackages = missing
	}

	for _, pkg := range res.Installed {
		id := pkg.ID()
		if buildGroup.Contains(id) {
			entry.EnvPackageIDs = append(entry.EnvPackageIDs, id)
		} else {
			entry.AddedPackageIDs = append(entry.AddedPackageIDs, id)
		}
	}
	sort.Strings(entry.EnvPackageIDs)
	sort.Strings(entry.AddedPackageIDs)
	entry.Relations = relationsFromResult(res)
	entry.Succeeded = true
	return entry
}

// ExpandBuildroot grows the view level by level: the buildroots of every
// source package at level N-1 become the packages at level N, whose source
// packages in turn get expanded. Each source package is processed exactly
// once per view, so cyclic build dependencies terminate naturally.
func ExpandBuildroot(ctx context.Context, rslv resolver.Resolver, lookup BuildDepsLookup, view *View, repoConf *models.RepoConfig, br *Buildroot, maxDepth int) error {
	buildGroup, err := br.resolveBuildGroup(ctx, rslv, repoConf)
	if err != nil {
		return err
	}

	processed := make(IDSet)
	toProcess := view.runtimeSourceIDs()

	level := 0
	for len(toProcess) > 0 {
		level++
		if level > maxDepth {
			view.Warnings.Type = models.ErrExpansionDepth
			view.Warnings.Message = fmt.Sprintf(
				"Buildroot expansion stopped after %d levels; not expanded: %s",
				maxDepth, strings.Join(toProcess, ", "))
			logrus.Warnf("View %s: %s", view.ID(), view.Warnings.Message)
			break
		}
		logrus.Debugf("View %s: buildroot level %d, %d source packages", view.ID(), level, len(toProcess))

		// Resolve missing entries in parallel; entries are per-srpm derived
		// data, the deterministic part is the merge below.
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(8)
		for _, srpmID := range toProcess {
			if br.entry(srpmID) != nil {
				continue
			}
			vs := view.SourcePackages[srpmID]
			g.Go(func() error {
				br.Store(resolveEntry(gctx, rslv, lookup, buildGroup, vs, br.RepoID, br.Arch))
				return gctx.Err()
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		for _, srpmID := range toProcess {
			processed.Add(srpmID)
			entry := br.entry(srpmID)
			vs := view.SourcePackages[srpmID]
			vs.BuildrootResolved = entry.Succeeded
			vs.BuildrootErrors = entry.Errors
			if !entry.Succeeded {
				continue
			}

			depSet := make(map[string]bool, len(entry.DirectBuildDeps))
			for _, name := range entry.DirectBuildDeps {
				depSet[name] = true
			}
			for _, pkgID := range entry.EnvPackageIDs {
				vp := view.ensurePackage(pkgID)
				attr := vp.ensureLevel(level)
				attr.All.Add(srpmID)
				attr.Env.Add(srpmID)
				if depSet[vp.Name] {
					attr.Req.Add(srpmID)
				}
				vp.Relations.Merge(entry.Relations[pkgID])
			}
			for _, pkgID := range entry.AddedPackageIDs {
				vp := view.ensurePackage(pkgID)
				attr := vp.ensureLevel(level)
				attr.All.Add(srpmID)
				if depSet[vp.Name] {
					attr.Req.Add(srpmID)
				} else {
					attr.Dep.Add(srpmID)
				}
				vp.Relations.Merge(entry.Relations[pkgID])
			}
		}

		view.rebuildSourceLevels()

		var next []string
		for srpmID := range view.SourcePackages {
			if !processed.Has(srpmID) {
				next = append(next, srpmID)
			}
		}
		sort.Strings(next)
		toProcess = next
	}
	return nil
}

// runtimeSourceIDs returns the source packages with runtime attribution,
// sorted. These seed the buildroot expansion.
func (v *View) runtimeSourceIDs() []string {
	var ids []string
	for id, vs := range v.SourcePackages {
		if vs.InRuntime() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
