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

// Environment is one resolved base environment on one (repository,
// architecture) pair. A failed resolution is still an Environment: the
// failure is recorded in Errors and Succeeded is false.
type Environment struct {
	EnvConfID string `json:"env_conf_id"`
	RepoID    string `json:"repo_id"`
	Arch      string `json:"arch"`

	PackageIDs []string              `json:"pkg_ids"`
	Relations  map[string]*Relations `json:"pkg_relations,omitempty"`

	Succeeded bool                `json:"succeeded"`
	Errors    models.EntityErrors `json:"errors"`
	Warnings  models.EntityErrors `json:"warnings"`

	packageSet IDSet
}

// EnvironmentID builds the composite id of an environment resolution.
func EnvironmentID(envConfID, repoID, arch string) string {
	return envConfID + ":" + repoID + ":" + arch
}

// ID returns the composite id: env_conf:repo:arch.
func (e *Environment) ID() string {
	return EnvironmentID(e.EnvConfID, e.RepoID, e.Arch)
}

// Contains reports whether the environment installed the given package id.
func (e *Environment) Contains(pkgID string) bool {
	return e.packageSet.Has(pkgID)
}

// PackageSet returns the installed package ids as a set.
func (e *Environment) PackageSet() IDSet {
	return e.packageSet
}

// NoWarnings reports a fully clean resolution.
func (e *Environment) NoWarnings() bool {
	return e.Succeeded && e.Warnings.Empty()
}

// ResolveEnvironment resolves one environment config on one (repository,
// architecture) pair. Resolution failures never propagate as errors; they are
// recorded on the returned Environment so sibling resolutions continue.
func ResolveEnvironment(ctx context.Context, rslv resolver.Resolver, envConf *models.EnvConfig, repoID, arch string) *Environment {
	env := &Environment{
		EnvConfID:  envConf.ID,
		RepoID:     repoID,
		Arch:       arch,
		packageSet: make(IDSet),
	}
	logrus.Debugf("Resolving environment %s", env.ID())

	names := append([]string{}, envConf.Packages...)
	names = append(names, envConf.ArchPackages[arch]...)

	res, err := rslv.Resolve(ctx, resolver.Request{
		RepoID:   repoID,
		Arch:     arch,
		Packages: names,
		Options: resolver.Options{
			IncludeDocs:     envConf.Options.IncludeDocs,
			IncludeWeakDeps: envConf.Options.IncludeWeakDeps,
		},
	})
	if err != nil {
		env.Errors.Type = models.TypeOf(err, models.ErrResolutionConflict)
		env.Errors.Message = err.Error()
		logrus.Warnf("Environment %s failed: %v", env.ID(), err)
		return env
	}

	if len(res.Unresolved) > 0 {
		missing := append([]string{}, res.Unresolved...)
		sort.Strings(missing)
		msg := fmt.Sprintf(
			"The following packages are not available on %s/%s: %s",
			repoID, arch, strings.Join(missing, ", "))
		if envConf.Options.Strict {
			env.Errors.Type = models.ErrMissingPackage
			env.Errors.MissingPackages = missing
			env.Errors.Message = msg
			logrus.Warnf("Environment %s failed: %s", env.ID(), msg)
			return env
		}
		env.Warnings.Type = models.ErrMissingPackage
		env.Warnings.MissingPackages = missing
		env.Warnings.Message = msg + " (and were skipped)"
	}

	for _, pkg := range res.Installed {
		env.PackageIDs = append(env.PackageIDs, pkg.ID())
		env.packageSet.Add(pkg.ID())
	}
	sort.Strings(env.PackageIDs)
	env.Relations = relationsFromResult(res)
	env.Succeeded = true
	return env
}

// InstallSize sums the install sizes of the environment's packages using the
// lookup function, typically backed by the catalog.
func (e *Environment) InstallSize(lookup func(pkgID string) (*models.Package, bool)) int64 {
	var total int64
	for _, id := range e.PackageIDs {
		if pkg, ok := lookup(id); ok {
			total += pkg.InstallSize
		}
	}
	return total
}
