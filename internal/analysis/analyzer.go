package analysis

import (
	"context"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/pkgset/pkgset/internal/catalog"
	"github.com/pkgset/pkgset/internal/models"
	"github.com/pkgset/pkgset/internal/resolver"
)

// DefaultMaxBuildrootDepth bounds buildroot expansion when nothing else does.
const DefaultMaxBuildrootDepth = 9

// Analyzer runs the full pipeline: environments, workloads, views, buildroot
// expansion, unwanted flagging, cross-arch merge and maintainer
// recommendation.
type Analyzer struct {
	Configs   *models.ConfigSet
	Catalog   *catalog.Catalog
	Resolver  resolver.Resolver
	BuildDeps BuildDepsLookup

	// Arches limits analysis to these architectures; empty means every
	// architecture the repositories declare.
	Arches []string

	MaxBuildrootDepth int

	// Workers bounds concurrent resolutions per stage.
	Workers int
}

// Data is everything one analysis run produced.
type Data struct {
	Envs           map[string]*Environment
	Workloads      map[string]*Workload
	Views          map[string]*View
	ViewsAllArches map[string]*ViewAllArches
	Buildroots     map[string]*Buildroot
}

func (a *Analyzer) workers() int {
	if a.Workers > 0 {
		return a.Workers
	}
	return 8
}

func (a *Analyzer) maxDepth() int {
	if a.MaxBuildrootDepth > 0 {
		return a.MaxBuildrootDepth
	}
	return DefaultMaxBuildrootDepth
}

// archAllowedByAnalyzer checks the analyzer-level arch filter.
func (a *Analyzer) archAllowedByAnalyzer(arch string) bool {
	return archAllowed(a.Arches, arch)
}

// repoArches returns the architectures to analyze for one repository.
func (a *Analyzer) repoArches(repo *models.RepoConfig) []string {
	var arches []string
	for _, arch := range repo.Source.Architectures {
		if a.archAllowedByAnalyzer(arch) {
			arches = append(arches, arch)
		}
	}
	sort.Strings(arches)
	return arches
}

// Run executes the pipeline. Entity-level failures (a workload that does not
// resolve, a source package without build facts) are recorded on the entities
// themselves; an error return means the run as a whole could not proceed.
func (a *Analyzer) Run(ctx context.Context) (*Data, error) {
	data := &Data{
		Envs:           make(map[string]*Environment),
		Workloads:      make(map[string]*Workload),
		Views:          make(map[string]*View),
		ViewsAllArches: make(map[string]*ViewAllArches),
		Buildroots:     make(map[string]*Buildroot),
	}

	if err := a.resolveEnvironments(ctx, data); err != nil {
		return nil, err
	}
	if err := a.resolveWorkloads(ctx, data); err != nil {
		return nil, err
	}
	if err := a.buildViews(ctx, data); err != nil {
		return nil, err
	}
	a.mergeViews(data)

	logrus.Infof("Analysis done: %d environments, %d workloads, %d views",
		len(data.Envs), len(data.Workloads), len(data.Views))
	return data, nil
}

// resolveEnvironments resolves every (environment config, repository,
// architecture) combination in parallel.
func (a *Analyzer) resolveEnvironments(ctx context.Context, data *Data) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers())
	var mu sync.Mutex

	for _, envConf := range a.sortedEnvConfs() {
		for _, repoID := range envConf.Repositories {
			repo := a.Configs.Repos[repoID]
			if repo == nil {
				continue
			}
			for _, arch := range a.repoArches(repo) {
				envConf, repoID, arch := envConf, repoID, arch
				g.Go(func() error {
					env := ResolveEnvironment(gctx, a.Resolver, envConf, repoID, arch)
					mu.Lock()
					data.Envs[env.ID()] = env
					mu.Unlock()
					return gctx.Err()
				})
			}
		}
	}
	return g.Wait()
}

// resolveWorkloads resolves every workload on every environment it shares a
// label with. Workloads on failed environments fail fast without resolving.
func (a *Analyzer) resolveWorkloads(ctx context.Context, data *Data) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers())
	var mu sync.Mutex

	envIDs := make([]string, 0, len(data.Envs))
	for id := range data.Envs {
		envIDs = append(envIDs, id)
	}
	sort.Strings(envIDs)

	for _, wlConf := range a.sortedWorkloadConfs() {
		for _, envID := range envIDs {
			env := data.Envs[envID]
			envConf := a.Configs.Envs[env.EnvConfID]
			if envConf == nil {
				continue
			}
			if len(sharedLabels(wlConf.Labels, envConf.Labels)) == 0 {
				continue
			}
			wlConf, envConf, env := wlConf, envConf, env
			g.Go(func() error {
				wl := ResolveWorkload(gctx, a.Resolver, wlConf, envConf, env)
				mu.Lock()
				data.Workloads[wl.ID()] = wl
				mu.Unlock()
				return gctx.Err()
			})
		}
	}
	return g.Wait()
}

// buildViews assembles per-arch views and expands buildroots where the view
// asks for it. View assembly is cheap; buildroot expansion dominates and is
// parallel per view, with the per-(repo, arch) entry store shared.
func (a *Analyzer) buildViews(ctx context.Context, data *Data) error {
	type job struct {
		viewConf *models.ViewConfig
		arch     string
	}
	var jobs []job
	for _, viewConf := range a.sortedViewConfs() {
		repo := a.Configs.Repos[viewConf.Repository]
		if repo == nil {
			continue
		}
		arches := viewConf.Architectures
		if len(arches) == 0 {
			arches = repo.Source.Architectures
		}
		for _, arch := range arches {
			if !a.archAllowedByAnalyzer(arch) {
				continue
			}
			jobs = append(jobs, job{viewConf, arch})
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers())
	var mu sync.Mutex

	for _, j := range jobs {
		j := j
		g.Go(func() error {
			view := BuildView(j.viewConf, j.arch, data.Workloads, a.Configs, a.Catalog)

			if view.HasBuildroot {
				repo := a.Configs.Repos[j.viewConf.Repository]
				key := view.RepoID + ":" + view.Arch
				mu.Lock()
				br := data.Buildroots[key]
				if br == nil {
					br = NewBuildroot(view.RepoID, view.Arch)
					data.Buildroots[key] = br
				}
				mu.Unlock()
				if err := ExpandBuildroot(gctx, a.Resolver, a.BuildDeps, view, repo, br, a.maxDepth()); err != nil {
					return err
				}
			}

			ApplyUnwanted(view, j.viewConf, a.Configs)

			mu.Lock()
			data.Views[view.ID()] = view
			mu.Unlock()
			return gctx.Err()
		})
	}
	return g.Wait()
}

// mergeViews merges per-arch views into all-arches form and runs the
// maintainer recommendation on each.
func (a *Analyzer) mergeViews(data *Data) {
	for _, viewConf := range a.sortedViewConfs() {
		var views []*View
		for _, view := range data.Views {
			if view.ViewConfID == viewConf.ID {
				views = append(views, view)
			}
		}
		if len(views) == 0 {
			continue
		}
		merged := MergeViews(viewConf, views, data.Workloads, a.Configs)
		RecommendMaintainers(merged, a.Configs)
		data.ViewsAllArches[merged.ViewConfID] = merged
	}
}

func (a *Analyzer) sortedEnvConfs() []*models.EnvConfig {
	ids := make([]string, 0, len(a.Configs.Envs))
	for id := range a.Configs.Envs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]*models.EnvConfig, 0, len(ids))
	for _, id := range ids {
		out = append(out, a.Configs.Envs[id])
	}
	return out
}

func (a *Analyzer) sortedWorkloadConfs() []*models.WorkloadConfig {
	ids := make([]string, 0, len(a.Configs.Workloads))
	for id := range a.Configs.Workloads {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]*models.WorkloadConfig, 0, len(ids))
	for _, id := range ids {
		out = append(out, a.Configs.Workloads[id])
	}
	return out
}

func (a *Analyzer) sortedViewConfs() []*models.ViewConfig {
	ids := make([]string, 0, len(a.Configs.Views))
	for id := range a.Configs.Views {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]*models.ViewConfig, 0, len(ids))
	for _, id := range ids {
		out = append(out, a.Configs.Views[id])
	}
	return out
}
