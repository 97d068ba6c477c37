package analysis

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/pkgset/pkgset/internal/models"
	"github.com/pkgset/pkgset/internal/resolver"
)

// Workload is one workload resolved on top of one environment. The installed
// set splits into packages inherited from the environment and packages the
// workload added; the inherited set is always a subset of the environment.
type Workload struct {
	WorkloadConfID string   `json:"workload_conf_id"`
	EnvConfID      string   `json:"env_conf_id"`
	RepoID         string   `json:"repo_id"`
	Arch           string   `json:"arch"`
	Labels         []string `json:"labels"`

	EnvPackageIDs   []string `json:"pkg_env_ids"`
	AddedPackageIDs []string `json:"pkg_added_ids"`

	PlaceholderIDs       []string `json:"pkg_placeholder_ids,omitempty"`
	SRPMPlaceholderNames []string `json:"srpm_placeholder_names,omitempty"`

	Relations map[string]*Relations `json:"pkg_relations,omitempty"`

	Succeeded    bool                `json:"succeeded"`
	EnvSucceeded bool                `json:"env_succeeded"`
	Errors       models.EntityErrors `json:"errors"`
	Warnings     models.EntityErrors `json:"warnings"`
}

// WorkloadID builds the composite id of a workload resolution.
func WorkloadID(workloadConfID, envConfID, repoID, arch string) string {
	return workloadConfID + ":" + envConfID + ":" + repoID + ":" + arch
}

// ID returns the composite id: workload_conf:env_conf:repo:arch.
func (w *Workload) ID() string {
	return WorkloadID(w.WorkloadConfID, w.EnvConfID, w.RepoID, w.Arch)
}

// PackageIDs returns the full installed set, environment and added combined,
// sorted.
func (w *Workload) PackageIDs() []string {
	ids := make([]string, 0, len(w.EnvPackageIDs)+len(w.AddedPackageIDs))
	ids = append(ids, w.EnvPackageIDs...)
	ids = append(ids, w.AddedPackageIDs...)
	sort.Strings(ids)
	return ids
}

// NoWarnings reports a fully clean resolution.
func (w *Workload) NoWarnings() bool {
	return w.Succeeded && w.Warnings.Empty()
}

// sharedLabels returns the labels both configs carry, sorted.
func sharedLabels(a, b []string) []string {
	on := make(map[string]bool, len(b))
	for _, label := range b {
		on[label] = true
	}
	var shared []string
	for _, label := range a {
		if on[label] {
			shared = append(shared, label)
		}
	}
	sort.Strings(shared)
	return shared
}

// FailedWorkload records a workload that could not even start because its
// environment failed. Nothing downstream resolves on top of a broken base.
func FailedWorkload(wlConf *models.WorkloadConfig, env *Environment) *Workload {
	wl := &Workload{
		WorkloadConfID: wlConf.ID,
		EnvConfID:      env.EnvConfID,
		RepoID:         env.RepoID,
		Arch:           env.Arch,
		Succeeded:      false,
		EnvSucceeded:   false,
	}
	wl.Errors.Type = models.ErrUpstreamEnvironment
	wl.Errors.Message = fmt.Sprintf(
		"Environment %s failed to resolve, so this workload wasn't even attempted.",
		env.ID())
	return wl
}

// archPlaceholders filters placeholders down to those allowed on arch.
func archPlaceholders(wlConf *models.WorkloadConfig, arch string) []*models.PackagePlaceholder {
	names := make([]string, 0, len(wlConf.Placeholders))
	for name := range wlConf.Placeholders {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []*models.PackagePlaceholder
	for _, name := range names {
		ph := wlConf.Placeholders[name]
		if archAllowed(ph.LimitArches, arch) {
			out = append(out, &ph)
		}
	}
	return out
}

func archAllowed(limit []string, arch string) bool {
	if len(limit) == 0 {
		return true
	}
	for _, a := range limit {
		if a == arch {
			return true
		}
	}
	return false
}

// ResolveWorkload resolves one workload on top of one environment. The
// request combines the environment's package set with the workload's own
// packages and the declared requirements of its placeholders, so dependency
// edges through placeholders are followed before the packages are real.
func ResolveWorkload(ctx context.Context, rslv resolver.Resolver, wlConf *models.WorkloadConfig, envConf *models.EnvConfig, env *Environment) *Workload {
	if !env.Succeeded {
		return FailedWorkload(wlConf, env)
	}

	wl := &Workload{
		WorkloadConfID: wlConf.ID,
		EnvConfID:      env.EnvConfID,
		RepoID:         env.RepoID,
		Arch:           env.Arch,
		Labels:         sharedLabels(wlConf.Labels, envConf.Labels),
		EnvSucceeded:   true,
	}
	logrus.Debugf("Resolving workload %s", wl.ID())

	wanted := make(map[string]bool)
	for _, name := range wlConf.Packages {
		wanted[name] = true
	}
	for _, name := range wlConf.ArchPackages[env.Arch] {
		wanted[name] = true
	}

	placeholders := archPlaceholders(wlConf, env.Arch)
	placeholderDeps := make(map[string]bool)
	for _, ph := range placeholders {
		for _, name := range ph.Requires {
			placeholderDeps[name] = true
		}
	}

	names := make(map[string]bool, len(env.PackageIDs)+len(wanted)+len(placeholderDeps))
	for _, id := range env.PackageIDs {
		names[models.NameFromID(id)] = true
	}
	for name := range wanted {
		names[name] = true
	}
	for name := range placeholderDeps {
		names[name] = true
	}
	request := make([]string, 0, len(names))
	for name := range names {
		request = append(request, name)
	}
	sort.Strings(request)

	res, err := rslv.Resolve(ctx, resolver.Request{
		RepoID:   env.RepoID,
		Arch:     env.Arch,
		Packages: request,
		Options: resolver.Options{
			IncludeDocs:     wlConf.Options.IncludeDocs,
			IncludeWeakDeps: wlConf.Options.IncludeWeakDeps,
		},
	})
	if err != nil {
		wl.Errors.Type = models.TypeOf(err, models.ErrResolutionConflict)
		wl.Errors.Message = err.Error()
		logrus.Warnf("Workload %s failed: %v", wl.ID(), err)
		return wl
	}

	// Only names this workload asked for count as its missing packages; the
	// environment's names resolved when the environment did.
	var missing []string
	for _, name := range res.Unresolved {
		if wanted[name] || placeholderDeps[name] {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		msg := fmt.Sprintf(
			"The following packages are not available on %s/%s: %s",
			env.RepoID, env.Arch, strings.Join(missing, ", "))
		if wlConf.Options.Strict {
			wl.Errors.Type = models.ErrMissingPackage
			wl.Errors.MissingPackages = missing
			wl.Errors.Message = msg
			logrus.Warnf("Workload %s failed: %s", wl.ID(), msg)
			return wl
		}
		wl.Warnings.Type = models.ErrMissingPackage
		wl.Warnings.MissingPackages = missing
		wl.Warnings.Message = msg + " (and were skipped)"
	}

	for _, pkg := range res.Installed {
		id := pkg.ID()
		if env.Contains(id) {
			wl.EnvPackageIDs = append(wl.EnvPackageIDs, id)
		} else {
			wl.AddedPackageIDs = append(wl.AddedPackageIDs, id)
		}
	}
	sort.Strings(wl.EnvPackageIDs)
	sort.Strings(wl.AddedPackageIDs)

	wl.Relations = relationsFromResult(res)
	attachPlaceholderRelations(wl.Relations, placeholders, res)

	for _, ph := range placeholders {
		wl.PlaceholderIDs = append(wl.PlaceholderIDs, models.PlaceholderID(ph.Name))
	}
	sort.Strings(wl.PlaceholderIDs)

	for name, srpm := range wlConf.SRPMPlaceholders {
		if archAllowed(srpm.LimitArches, env.Arch) {
			wl.SRPMPlaceholderNames = append(wl.SRPMPlaceholderNames, name)
		}
	}
	sort.Strings(wl.SRPMPlaceholderNames)

	wl.Succeeded = true
	return wl
}

// attachPlaceholderRelations records each placeholder as a requirer of the
// installed packages matching its declared requirement names.
func attachPlaceholderRelations(relations map[string]*Relations, placeholders []*models.PackagePlaceholder, res *resolver.Result) {
	if len(placeholders) == 0 {
		return
	}
	byName := make(map[string][]string)
	for _, pkg := range res.Installed {
		byName[pkg.Name] = append(byName[pkg.Name], pkg.ID())
	}
	for _, ph := range placeholders {
		entry := placeholderRequester(ph)
		for _, name := range ph.Requires {
			for _, id := range byName[name] {
				if rel, ok := relations[id]; ok {
					rel.RequiredBy[entry.ID] = entry
				}
			}
		}
	}
}
