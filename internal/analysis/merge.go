package analysis

import (
	"sort"
	"strings"

	"github.com/pkgset/pkgset/internal/models"
)

// Package categories, in priority order. A package in several categories is
// counted under the strongest one.
const (
	CategoryEnv             = "env"
	CategoryRequired        = "required"
	CategoryDependency      = "dependency"
	CategoryBuildBase       = "env_base_buildroot"
	CategoryBuildLevel1     = "build_level_1"
	CategoryBuildLevel2Plus = "build_level_2_plus"
)

// MergedPackage is one binary package name merged across every architecture
// of a view.
type MergedPackage struct {
	Name        string `json:"name"`
	SourceName  string `json:"source_name"`
	Placeholder bool   `json:"placeholder,omitempty"`

	Arches IDSet            `json:"arches"`
	NEVRs  map[string]IDSet `json:"nevrs"` // nevr -> arches carrying it

	// Levels is the cross-architecture union of per-level attribution. Level
	// 0 is keyed by workload ids, deeper levels by source package ids.
	Levels []*LevelAttribution `json:"levels"`

	// WorkloadConfIDs is the level 0 attribution reduced to workload config
	// ids, deduplicated across environments and architectures.
	WorkloadConfIDs *LevelAttribution `json:"workload_conf_ids"`

	// BuildrootSRPMNames is the union of all buildroot levels reduced to
	// source package names.
	BuildrootSRPMNames *LevelAttribution `json:"buildroot_srpm_names"`

	// HardDependencyOf and WeakDependencyOf map requirer package names to the
	// requirer package ids observed across arches.
	HardDependencyOf map[string]IDSet `json:"hard_dependency_of,omitempty"`
	WeakDependencyOf map[string]IDSet `json:"weak_dependency_of,omitempty"`

	LevelNumber int    `json:"level_number"`
	Category    string `json:"category"`

	UnwantedCompletely IDSet `json:"unwanted_completely_in,omitempty"`
	UnwantedBuildroot  IDSet `json:"unwanted_buildroot_in,omitempty"`

	Ownership *Ownership `json:"ownership,omitempty"`
}

// MergedSource is one source package name merged across every architecture
// of a view.
type MergedSource struct {
	Name        string `json:"name"`
	Placeholder bool   `json:"placeholder,omitempty"`

	Arches       IDSet `json:"arches"`
	SourceIDs    IDSet `json:"source_ids"`
	PackageNames IDSet `json:"pkg_names"`

	WorkloadConfIDs    *LevelAttribution `json:"workload_conf_ids"`
	BuildrootSRPMNames *LevelAttribution `json:"buildroot_srpm_names"`

	LevelNumber int `json:"level_number"`

	UnwantedCompletely IDSet `json:"unwanted_completely_in,omitempty"`
	UnwantedBuildroot  IDSet `json:"unwanted_buildroot_in,omitempty"`

	// BuildrootErrors records per-arch buildroot failures of this source.
	BuildrootErrors map[string]string `json:"buildroot_errors,omitempty"`

	Ownership   *Ownership        `json:"ownership,omitempty"`
	Recommended string            `json:"recommended_maintainer,omitempty"`
	Scores      []MaintainerScore `json:"maintainer_scores,omitempty"`
}

// MaintainerScore is one maintainer's total ownership evidence for a source
// package.
type MaintainerScore struct {
	Maintainer string `json:"maintainer"`
	Locations  int    `json:"locations"`
}

// WorkloadSummary is the cross-architecture rollup of one workload config
// inside a view.
type WorkloadSummary struct {
	ConfID     string `json:"workload_conf_id"`
	Name       string `json:"name"`
	Maintainer string `json:"maintainer"`
	Arches     IDSet  `json:"arches"`
	Succeeded  bool   `json:"succeeded"`
	NoWarnings bool   `json:"no_warnings"`
}

// Numbers are the headline package counts of a merged view.
type Numbers struct {
	Runtime         int `json:"runtime"`
	Env             int `json:"env"`
	Required        int `json:"required"`
	Dependency      int `json:"dependency"`
	BuildBase       int `json:"env_base_buildroot"`
	BuildLevel1     int `json:"build_level_1"`
	BuildLevel2Plus int `json:"build_level_2_plus"`
}

// ViewAllArches is one view merged across all its architectures, keyed by
// package name and source package name instead of arch-qualified ids.
type ViewAllArches struct {
	ViewConfID string `json:"view_conf_id"`
	Arches     IDSet  `json:"arches"`

	HasBuildroot        bool `json:"has_buildroot"`
	EverythingSucceeded bool `json:"everything_succeeded"`
	NoWarnings          bool `json:"no_warnings"`
	MaxLevel            int  `json:"max_level"`

	Workloads     map[string]*WorkloadSummary `json:"workloads"`
	PkgsByName    map[string]*MergedPackage   `json:"pkgs_by_name"`
	SourcesByName map[string]*MergedSource    `json:"sources_by_name"`

	Numbers Numbers `json:"numbers"`
}

// workloadConfID extracts the config id from a composite workload id.
func workloadConfID(workloadID string) string {
	if i := strings.Index(workloadID, ":"); i >= 0 {
		return workloadID[:i]
	}
	return workloadID
}

// reduceToConfIDs maps level 0 workload ids down to workload config ids.
func reduceToConfIDs(level *LevelAttribution, into *LevelAttribution) {
	reduce := func(from IDSet, to IDSet) {
		for id := range from {
			to.Add(workloadConfID(id))
		}
	}
	reduce(level.All, into.All)
	reduce(level.Req, into.Req)
	reduce(level.Dep, into.Dep)
	reduce(level.Env, into.Env)
}

// reduceToSRPMNames maps source package ids down to source package names
// using the view's source table.
func reduceToSRPMNames(level *LevelAttribution, view *View, into *LevelAttribution) {
	reduce := func(from IDSet, to IDSet) {
		for srpmID := range from {
			if vs, ok := view.SourcePackages[srpmID]; ok {
				to.Add(vs.Name)
			} else {
				to.Add(models.NameFromID(srpmID))
			}
		}
	}
	reduce(level.All, into.All)
	reduce(level.Req, into.Req)
	reduce(level.Dep, into.Dep)
	reduce(level.Env, into.Env)
}

// MergeViews merges the per-architecture views of one view config into the
// all-arches form the recommendation pass and the artifact writers consume.
func MergeViews(viewConf *models.ViewConfig, views []*View, workloads map[string]*Workload, confs *models.ConfigSet) *ViewAllArches {
	merged := &ViewAllArches{
		ViewConfID:          viewConf.ID,
		Arches:              make(IDSet),
		HasBuildroot:        viewConf.BuildrootStrategy == models.BuildrootRootLogs,
		EverythingSucceeded: true,
		NoWarnings:          true,
		Workloads:           make(map[string]*WorkloadSummary),
		PkgsByName:          make(map[string]*MergedPackage),
		SourcesByName:       make(map[string]*MergedSource),
	}

	sort.Slice(views, func(i, j int) bool { return views[i].Arch < views[j].Arch })

	for _, view := range views {
		merged.Arches.Add(view.Arch)
		if view.MaxLevel > merged.MaxLevel {
			merged.MaxLevel = view.MaxLevel
		}
		if !view.Warnings.Empty() {
			merged.NoWarnings = false
		}

		mergeWorkloadSummaries(merged, view, workloads, confs)
		mergePackages(merged, view)
		mergeSources(merged, view)
	}

	finalizePackages(merged)
	computeNumbers(merged)
	return merged
}

func mergeWorkloadSummaries(merged *ViewAllArches, view *View, workloads map[string]*Workload, confs *models.ConfigSet) {
	for _, wlID := range view.WorkloadIDs {
		wl, ok := workloads[wlID]
		if !ok {
			continue
		}
		confID := wl.WorkloadConfID
		summary := merged.Workloads[confID]
		if summary == nil {
			summary = &WorkloadSummary{
				ConfID:     confID,
				Arches:     make(IDSet),
				Succeeded:  true,
				NoWarnings: true,
			}
			if conf := confs.Workloads[confID]; conf != nil {
				summary.Name = conf.Name
				summary.Maintainer = conf.Maintainer
			}
			merged.Workloads[confID] = summary
		}
		summary.Arches.Add(wl.Arch)
		if !wl.Succeeded {
			summary.Succeeded = false
			merged.EverythingSucceeded = false
			merged.NoWarnings = false
		}
		if !wl.NoWarnings() {
			summary.NoWarnings = false
			merged.NoWarnings = false
		}
	}
}

func mergePackages(merged *ViewAllArches, view *View) {
	for _, vp := range view.Packages {
		mp := merged.PkgsByName[vp.Name]
		if mp == nil {
			mp = &MergedPackage{
				Name:               vp.Name,
				SourceName:         vp.SourceName,
				Placeholder:        vp.Placeholder,
				Arches:             make(IDSet),
				NEVRs:              make(map[string]IDSet),
				WorkloadConfIDs:    NewLevelAttribution(),
				BuildrootSRPMNames: NewLevelAttribution(),
				HardDependencyOf:   make(map[string]IDSet),
				WeakDependencyOf:   make(map[string]IDSet),
				UnwantedCompletely: make(IDSet),
				UnwantedBuildroot:  make(IDSet),
			}
			merged.PkgsByName[vp.Name] = mp
		}
		mp.Arches.Add(view.Arch)
		nevr := vp.NEVR()
		if mp.NEVRs[nevr] == nil {
			mp.NEVRs[nevr] = make(IDSet)
		}
		mp.NEVRs[nevr].Add(view.Arch)

		for i, level := range vp.Levels {
			for len(mp.Levels) <= i {
				mp.Levels = append(mp.Levels, NewLevelAttribution())
			}
			mp.Levels[i].Merge(level)
			if i == 0 {
				reduceToConfIDs(level, mp.WorkloadConfIDs)
			} else {
				reduceToSRPMNames(level, view, mp.BuildrootSRPMNames)
			}
		}

		for _, req := range vp.Relations.RequiredBy {
			name := models.NameFromID(req.ID)
			if mp.HardDependencyOf[name] == nil {
				mp.HardDependencyOf[name] = make(IDSet)
			}
			mp.HardDependencyOf[name].Add(req.ID)
		}
		for _, req := range vp.Relations.RecommendedBy {
			name := models.NameFromID(req.ID)
			if mp.WeakDependencyOf[name] == nil {
				mp.WeakDependencyOf[name] = make(IDSet)
			}
			mp.WeakDependencyOf[name].Add(req.ID)
		}

		mp.UnwantedCompletely.Merge(vp.UnwantedCompletely)
		mp.UnwantedBuildroot.Merge(vp.UnwantedBuildroot)
	}
}

func mergeSources(merged *ViewAllArches, view *View) {
	for srpmID, vs := range view.SourcePackages {
		ms := merged.SourcesByName[vs.Name]
		if ms == nil {
			ms = &MergedSource{
				Name:               vs.Name,
				Placeholder:        vs.Placeholder,
				Arches:             make(IDSet),
				SourceIDs:          make(IDSet),
				PackageNames:       make(IDSet),
				WorkloadConfIDs:    NewLevelAttribution(),
				BuildrootSRPMNames: NewLevelAttribution(),
				UnwantedCompletely: make(IDSet),
				UnwantedBuildroot:  make(IDSet),
			}
			merged.SourcesByName[vs.Name] = ms
		}
		ms.Arches.Add(view.Arch)
		ms.SourceIDs.Add(srpmID)
		for pkgID := range vs.PackageIDs {
			ms.PackageNames.Add(models.NameFromID(pkgID))
		}
		for i, level := range vs.Levels {
			if level.Empty() {
				continue
			}
			if i == 0 {
				reduceToConfIDs(level, ms.WorkloadConfIDs)
			} else {
				reduceToSRPMNames(level, view, ms.BuildrootSRPMNames)
			}
		}
		ms.UnwantedCompletely.Merge(vs.UnwantedCompletely)
		ms.UnwantedBuildroot.Merge(vs.UnwantedBuildroot)

		if view.HasBuildroot && !vs.BuildrootResolved && !vs.BuildrootErrors.Empty() {
			if ms.BuildrootErrors == nil {
				ms.BuildrootErrors = make(map[string]string)
			}
			ms.BuildrootErrors[view.Arch] = vs.BuildrootErrors.Message
			merged.NoWarnings = false
		}
	}
}

// finalizePackages computes level numbers and categories once every arch has
// been merged in.
func finalizePackages(merged *ViewAllArches) {
	for _, mp := range merged.PkgsByName {
		mp.LevelNumber = len(mp.Levels)
		for i, level := range mp.Levels {
			if !level.Empty() {
				mp.LevelNumber = i
				break
			}
		}
		mp.Category = categorize(mp)
	}
	for _, ms := range merged.SourcesByName {
		lowest := -1
		for _, mp := range merged.PkgsByName {
			if mp.SourceName != ms.Name {
				continue
			}
			if lowest < 0 || mp.LevelNumber < lowest {
				lowest = mp.LevelNumber
			}
		}
		if lowest >= 0 {
			ms.LevelNumber = lowest
		}
	}
}

// categorize buckets a package under its strongest reason for being in the
// view.
func categorize(mp *MergedPackage) string {
	if len(mp.Levels) > 0 && !mp.Levels[0].Empty() {
		level := mp.Levels[0]
		switch {
		case len(level.Env) > 0:
			return CategoryEnv
		case len(level.Req) > 0:
			return CategoryRequired
		default:
			return CategoryDependency
		}
	}
	if len(mp.Levels) > 1 && !mp.Levels[1].Empty() {
		if len(mp.Levels[1].Env) > 0 {
			return CategoryBuildBase
		}
		return CategoryBuildLevel1
	}
	return CategoryBuildLevel2Plus
}

func computeNumbers(merged *ViewAllArches) {
	for _, mp := range merged.PkgsByName {
		switch mp.Category {
		case CategoryEnv:
			merged.Numbers.Env++
		case CategoryRequired:
			merged.Numbers.Required++
		case CategoryDependency:
			merged.Numbers.Dependency++
		case CategoryBuildBase:
			merged.Numbers.BuildBase++
		case CategoryBuildLevel1:
			merged.Numbers.BuildLevel1++
		case CategoryBuildLevel2Plus:
			merged.Numbers.BuildLevel2Plus++
		}
	}
	merged.Numbers.Runtime = merged.Numbers.Env + merged.Numbers.Required + merged.Numbers.Dependency
}
