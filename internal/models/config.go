package models

// Configuration records are user-owned and immutable after loading. They are
// produced by the config loader from YAML documents; the analysis layer only
// ever reads them.

// Document kinds accepted by the loader.
const (
	KindRepository  = "repository"
	KindEnvironment = "environment"
	KindWorkload    = "workload"
	KindLabel       = "label"
	KindView        = "view"
	KindUnwanted    = "unwanted"
)

// Buildroot strategies of a view.
const (
	BuildrootNone     = "none"
	BuildrootRootLogs = "root_logs"
)

// ResolveOptions are the solver-facing options shared by environments and
// workloads.
type ResolveOptions struct {
	IncludeDocs     bool `yaml:"include-docs" json:"include_docs"`
	IncludeWeakDeps bool `yaml:"include-weak-deps" json:"include_weak_deps"`
	Strict          bool `yaml:"strict" json:"strict"`
}

// RepoSourceEntry is one backing package source of a repository.
type RepoSourceEntry struct {
	BaseURL         string   `yaml:"baseurl" json:"baseurl"`
	Priority        int      `yaml:"priority" json:"priority"`
	Exclude         []string `yaml:"exclude" json:"exclude,omitempty"`
	LimitArches     []string `yaml:"limit_arches" json:"limit_arches,omitempty"`
	BuildSystemAPI  string   `yaml:"build_system_api" json:"build_system_api,omitempty"`
	BuildSystemLogs string   `yaml:"build_system_logs" json:"build_system_logs,omitempty"`
}

// RepoSource describes where a repository's packages come from.
type RepoSource struct {
	ReleaseVer            string                     `yaml:"releasever" json:"releasever"`
	Architectures         []string                   `yaml:"architectures" json:"architectures"`
	Repos                 map[string]RepoSourceEntry `yaml:"repos" json:"repos"`
	BaseBuildrootOverride []string                   `yaml:"base_buildroot_override" json:"base_buildroot_override,omitempty"`
	SigningKeyPath        string                     `yaml:"signing_key" json:"signing_key,omitempty"`
}

// RepoConfig is one repository document.
type RepoConfig struct {
	ID          string     `json:"id"`
	Name        string     `yaml:"name" json:"name"`
	Description string     `yaml:"description" json:"description"`
	Maintainer  string     `yaml:"maintainer" json:"maintainer"`
	Source      RepoSource `yaml:"source" json:"source"`
}

// EnvConfig is one environment document: a base environment to resolve on
// every listed repository and every architecture those repositories support.
type EnvConfig struct {
	ID           string              `json:"id"`
	Name         string              `yaml:"name" json:"name"`
	Description  string              `yaml:"description" json:"description"`
	Maintainer   string              `yaml:"maintainer" json:"maintainer"`
	Repositories []string            `yaml:"repositories" json:"repositories"`
	Packages     []string            `yaml:"packages" json:"packages"`
	ArchPackages map[string][]string `yaml:"arch_packages" json:"arch_packages,omitempty"`
	Labels       []string            `yaml:"labels" json:"labels"`
	Options      ResolveOptions      `yaml:"options" json:"options"`
}

// PackagePlaceholder declares a binary package that does not exist yet. Its
// declared requirements are injected into workload resolution so the
// dependency edges can be followed before the package is real.
type PackagePlaceholder struct {
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description" json:"description"`
	SourceName  string   `yaml:"srpm" json:"srpm"`
	Requires    []string `yaml:"requires" json:"requires"`
	LimitArches []string `yaml:"limit_arches" json:"limit_arches,omitempty"`
}

// SRPMPlaceholder declares a source package that does not exist yet, with its
// declared direct build requirements.
type SRPMPlaceholder struct {
	Name          string   `yaml:"name" json:"name"`
	BuildRequires []string `yaml:"buildrequires" json:"buildrequires"`
	LimitArches   []string `yaml:"limit_arches" json:"limit_arches,omitempty"`
}

// WorkloadConfig is one workload document: packages a group cares about, to
// be resolved on top of every environment sharing a label with it.
type WorkloadConfig struct {
	ID               string                        `json:"id"`
	Name             string                        `yaml:"name" json:"name"`
	Description      string                        `yaml:"description" json:"description"`
	Maintainer       string                        `yaml:"maintainer" json:"maintainer"`
	Packages         []string                      `yaml:"packages" json:"packages"`
	ArchPackages     map[string][]string           `yaml:"arch_packages" json:"arch_packages,omitempty"`
	Labels           []string                      `yaml:"labels" json:"labels"`
	Options          ResolveOptions                `yaml:"options" json:"options"`
	Placeholders     map[string]PackagePlaceholder `yaml:"package_placeholders" json:"package_placeholders,omitempty"`
	SRPMPlaceholders map[string]SRPMPlaceholder    `yaml:"srpm_placeholders" json:"srpm_placeholders,omitempty"`
}

// RequiredPackageNames returns the set of names this workload explicitly
// requires on the given architecture, including placeholders (which are by
// definition required).
func (w *WorkloadConfig) RequiredPackageNames(arch string) map[string]bool {
	req := make(map[string]bool, len(w.Packages))
	for _, name := range w.Packages {
		req[name] = true
	}
	for _, name := range w.ArchPackages[arch] {
		req[name] = true
	}
	return req
}

// LabelConfig is a pure grouping token joining workloads to environments and
// views. It carries no resolution logic.
type LabelConfig struct {
	ID          string `json:"id"`
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
	Maintainer  string `yaml:"maintainer" json:"maintainer"`
}

// ViewConfig is one view document: a combined package set over all workloads
// sharing a label, on one repository.
type ViewConfig struct {
	ID                string   `json:"id"`
	Name              string   `yaml:"name" json:"name"`
	Description       string   `yaml:"description" json:"description"`
	Maintainer        string   `yaml:"maintainer" json:"maintainer"`
	Repository        string   `yaml:"repository" json:"repository"`
	Labels            []string `yaml:"labels" json:"labels"`
	Architectures     []string `yaml:"architectures" json:"architectures"`
	BuildrootStrategy string   `yaml:"buildroot_strategy" json:"buildroot_strategy"`
	UnwantedLists     []string `yaml:"unwanted_lists" json:"unwanted_lists,omitempty"`
}

// UnwantedConfig is a named list of unwanted package names, optionally
// architecture-scoped. Purely declarative; views reference it by id.
type UnwantedConfig struct {
	ID                 string              `json:"id"`
	Name               string              `yaml:"name" json:"name"`
	Description        string              `yaml:"description" json:"description"`
	Maintainer         string              `yaml:"maintainer" json:"maintainer"`
	Packages           []string            `yaml:"unwanted_packages" json:"unwanted_packages"`
	ArchPackages       map[string][]string `yaml:"unwanted_arch_packages" json:"unwanted_arch_packages,omitempty"`
	SourcePackages     []string            `yaml:"unwanted_source_packages" json:"unwanted_source_packages"`
}

// ConfigSet holds every loaded configuration document, keyed by id.
type ConfigSet struct {
	Repos     map[string]*RepoConfig
	Envs      map[string]*EnvConfig
	Workloads map[string]*WorkloadConfig
	Labels    map[string]*LabelConfig
	Views     map[string]*ViewConfig
	Unwanteds map[string]*UnwantedConfig
}

// NewConfigSet returns an empty, fully initialised ConfigSet.
func NewConfigSet() *ConfigSet {
	return &ConfigSet{
		Repos:     make(map[string]*RepoConfig),
		Envs:      make(map[string]*EnvConfig),
		Workloads: make(map[string]*WorkloadConfig),
		Labels:    make(map[string]*LabelConfig),
		Views:     make(map[string]*ViewConfig),
		Unwanteds: make(map[string]*UnwantedConfig),
	}
}
