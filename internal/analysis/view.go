package analysis

import (
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/pkgset/pkgset/internal/catalog"
	"github.com/pkgset/pkgset/internal/models"
)

// ViewPackage is one binary package as seen by a view, with per-level
// attribution. Levels[0] is runtime attribution keyed by workload ids;
// Levels[1] and up are buildroot attribution keyed by source package ids.
type ViewPackage struct {
	models.Package

	Placeholder bool                `json:"placeholder,omitempty"`
	Levels      []*LevelAttribution `json:"levels"`
	Relations   *Relations          `json:"relations,omitempty"`

	// Unwanted list ids that flagged this package.
	UnwantedCompletely IDSet `json:"unwanted_completely_in,omitempty"`
	UnwantedBuildroot  IDSet `json:"unwanted_buildroot_in,omitempty"`
}

// ensureLevel grows the level slice so that index level exists.
func (vp *ViewPackage) ensureLevel(level int) *LevelAttribution {
	for len(vp.Levels) <= level {
		vp.Levels = append(vp.Levels, NewLevelAttribution())
	}
	return vp.Levels[level]
}

// InRuntime reports whether any workload pulls this package in directly.
func (vp *ViewPackage) InRuntime() bool {
	return len(vp.Levels) > 0 && !vp.Levels[0].Empty()
}

// LevelNumber returns the lowest level the package appears on.
func (vp *ViewPackage) LevelNumber() int {
	for i, level := range vp.Levels {
		if !level.Empty() {
			return i
		}
	}
	return len(vp.Levels)
}

// BuildrootAttribution unions the attribution of all buildroot levels: which
// source package builds pulled this package in, and why.
func (vp *ViewPackage) BuildrootAttribution() *LevelAttribution {
	union := NewLevelAttribution()
	for i, level := range vp.Levels {
		if i == 0 {
			continue
		}
		union.Merge(level)
	}
	return union
}

// ViewSourcePackage is one source package as seen by a view: the source of
// one or more view packages, or a declared SRPM placeholder.
type ViewSourcePackage struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	Placeholder bool     `json:"placeholder,omitempty"`
	BuildDeps   []string `json:"build_deps,omitempty"`

	PackageIDs IDSet               `json:"pkg_ids"`
	Levels     []*LevelAttribution `json:"levels"`

	UnwantedCompletely IDSet `json:"unwanted_completely_in,omitempty"`
	UnwantedBuildroot  IDSet `json:"unwanted_buildroot_in,omitempty"`

	// Buildroot expansion state for this source package.
	BuildrootResolved bool                `json:"buildroot_resolved,omitempty"`
	BuildrootErrors   models.EntityErrors `json:"buildroot_errors,omitempty"`
}

func (vs *ViewSourcePackage) ensureLevel(level int) *LevelAttribution {
	for len(vs.Levels) <= level {
		vs.Levels = append(vs.Levels, NewLevelAttribution())
	}
	return vs.Levels[level]
}

// InRuntime reports whether the source package has runtime attribution.
func (vs *ViewSourcePackage) InRuntime() bool {
	return len(vs.Levels) > 0 && !vs.Levels[0].Empty()
}

// LevelNumber returns the lowest level the source package appears on.
func (vs *ViewSourcePackage) LevelNumber() int {
	for i, level := range vs.Levels {
		if !level.Empty() {
			return i
		}
	}
	return len(vs.Levels)
}

// View is the combined package set of all workloads matching a view's labels
// on one (repository, architecture) pair, possibly extended by buildroot
// expansion.
type View struct {
	ViewConfID string `json:"view_conf_id"`
	RepoID     string `json:"repo_id"`
	Arch       string `json:"arch"`

	WorkloadIDs []string `json:"workload_ids"`

	Packages       map[string]*ViewPackage       `json:"pkgs"`
	SourcePackages map[string]*ViewSourcePackage `json:"source_pkgs"`

	HasBuildroot bool                `json:"has_buildroot"`
	MaxLevel     int                 `json:"max_level"`
	Warnings     models.EntityErrors `json:"warnings"`

	cat *catalog.Catalog
}

// ViewID builds the composite id of a per-architecture view.
func ViewID(viewConfID, arch string) string {
	return viewConfID + ":" + arch
}

// ID returns the composite id: view_conf:arch.
func (v *View) ID() string {
	return ViewID(v.ViewConfID, v.Arch)
}

// workloadMatchesView checks repo, arch and label overlap.
func workloadMatchesView(wl *Workload, viewConf *models.ViewConfig, arch string) bool {
	if wl.RepoID != viewConf.Repository || wl.Arch != arch {
		return false
	}
	return len(sharedLabels(wl.Labels, viewConf.Labels)) > 0
}

// BuildView combines every matching workload into one per-architecture view
// and computes the runtime (level 0) attribution.
func BuildView(viewConf *models.ViewConfig, arch string, workloads map[string]*Workload, confs *models.ConfigSet, cat *catalog.Catalog) *View {
	view := &View{
		ViewConfID:     viewConf.ID,
		RepoID:         viewConf.Repository,
		Arch:           arch,
		Packages:       make(map[string]*ViewPackage),
		SourcePackages: make(map[string]*ViewSourcePackage),
		HasBuildroot:   viewConf.BuildrootStrategy == models.BuildrootRootLogs,
		cat:            cat,
	}
	logrus.Debugf("Building view %s", view.ID())

	// Failed workloads still match: the view records them so the failure is
	// visible, but only successful ones contribute packages. Labels of a
	// failed workload are empty, so match on the config's labels instead.
	var matched []*Workload
	ids := make([]string, 0, len(workloads))
	for id := range workloads {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		wl := workloads[id]
		wlConf := confs.Workloads[wl.WorkloadConfID]
		if wlConf == nil {
			continue
		}
		probe := wl
		if !wl.Succeeded {
			probe = &Workload{
				WorkloadConfID: wl.WorkloadConfID,
				EnvConfID:      wl.EnvConfID,
				RepoID:         wl.RepoID,
				Arch:           wl.Arch,
				Labels:         wlConf.Labels,
			}
		}
		if workloadMatchesView(probe, viewConf, arch) {
			view.WorkloadIDs = append(view.WorkloadIDs, wl.ID())
			if wl.Succeeded {
				matched = append(matched, wl)
			}
		}
	}

	for _, wl := range matched {
		wlConf := confs.Workloads[wl.WorkloadConfID]
		required := wlConf.RequiredPackageNames(arch)
		wlID := wl.ID()

		for _, pkgID := range wl.EnvPackageIDs {
			vp := view.ensurePackage(pkgID)
			level := vp.ensureLevel(0)
			level.All.Add(wlID)
			level.Env.Add(wlID)
			if required[vp.Name] {
				level.Req.Add(wlID)
			}
			vp.Relations.Merge(wl.Relations[pkgID])
		}
		for _, pkgID := range wl.AddedPackageIDs {
			vp := view.ensurePackage(pkgID)
			level := vp.ensureLevel(0)
			level.All.Add(wlID)
			if required[vp.Name] {
				level.Req.Add(wlID)
			} else {
				level.Dep.Add(wlID)
			}
			vp.Relations.Merge(wl.Relations[pkgID])
		}

		for _, phID := range wl.PlaceholderIDs {
			name := models.NameFromID(phID)
			ph, ok := wlConf.Placeholders[name]
			if !ok {
				continue
			}
			vp := view.Packages[phID]
			if vp == nil {
				vp = &ViewPackage{
					Package:            *models.PlaceholderPackage(&ph),
					Placeholder:        true,
					Relations:          NewRelations(),
					UnwantedCompletely: make(IDSet),
					UnwantedBuildroot:  make(IDSet),
				}
				view.Packages[phID] = vp
			}
			level := vp.ensureLevel(0)
			level.All.Add(wlID)
			level.Req.Add(wlID)
		}

		for _, name := range wl.SRPMPlaceholderNames {
			srpm, ok := wlConf.SRPMPlaceholders[name]
			if !ok {
				continue
			}
			srpmID := models.PlaceholderNEVR(name)
			vs := view.SourcePackages[srpmID]
			if vs == nil {
				deps := append([]string{}, srpm.BuildRequires...)
				sort.Strings(deps)
				vs = &ViewSourcePackage{
					ID:                 srpmID,
					Name:               name,
					Placeholder:        true,
					BuildDeps:          deps,
					PackageIDs:         make(IDSet),
					UnwantedCompletely: make(IDSet),
					UnwantedBuildroot:  make(IDSet),
				}
				view.SourcePackages[srpmID] = vs
			}
			level := vs.ensureLevel(0)
			level.All.Add(wlID)
			level.Req.Add(wlID)
		}
	}

	view.rebuildSourceLevels()
	return view
}

// ensurePackage returns the view package record for a package id, creating
// it from the catalog on first sight.
func (v *View) ensurePackage(pkgID string) *ViewPackage {
	if vp, ok := v.Packages[pkgID]; ok {
		return vp
	}
	vp := &ViewPackage{
		Relations:          NewRelations(),
		UnwantedCompletely: make(IDSet),
		UnwantedBuildroot:  make(IDSet),
	}
	if pkg, ok := v.cat.Get(v.RepoID, v.Arch, pkgID); ok {
		vp.Package = *pkg
	} else {
		// A package from a resolver result should always be in the catalog;
		// keep a name-only record rather than losing attribution.
		vp.Package = models.Package{Name: models.NameFromID(pkgID)}
		logrus.Warnf("Package %s not found in catalog for %s", pkgID, v.ID())
	}
	v.Packages[pkgID] = vp
	return vp
}

// ensureSourcePackage returns the source package record owning pkg.
func (v *View) ensureSourcePackage(pkg *ViewPackage) *ViewSourcePackage {
	srpmID := pkg.SourceID()
	if vs, ok := v.SourcePackages[srpmID]; ok {
		return vs
	}
	vs := &ViewSourcePackage{
		ID:                 srpmID,
		Name:               pkg.SourceName,
		Placeholder:        pkg.Placeholder,
		PackageIDs:         make(IDSet),
		UnwantedCompletely: make(IDSet),
		UnwantedBuildroot:  make(IDSet),
	}
	v.SourcePackages[srpmID] = vs
	return vs
}

// rebuildSourceLevels recomputes source package membership and per-level
// attribution as the union of their binary packages. SRPM placeholder
// attribution is preserved; it has no binary packages to derive from.
func (v *View) rebuildSourceLevels() {
	for pkgID, vp := range v.Packages {
		vs := v.ensureSourcePackage(vp)
		vs.PackageIDs.Add(pkgID)
		for i, level := range vp.Levels {
			vs.ensureLevel(i).Merge(level)
		}
	}
	for _, vs := range v.SourcePackages {
		for i := range vs.Levels {
			if i > v.MaxLevel {
				v.MaxLevel = i
			}
		}
	}
}

// ApplyUnwanted flags view packages and source packages named on the view's
// unwanted lists. A flagged package that any workload needs at runtime is
// unwanted completely; one that only buildroot expansion pulled in is
// unwanted in the buildroot only.
func ApplyUnwanted(view *View, viewConf *models.ViewConfig, confs *models.ConfigSet) {
	listIDs := append([]string{}, viewConf.UnwantedLists...)
	sort.Strings(listIDs)

	for _, listID := range listIDs {
		conf := confs.Unwanteds[listID]
		if conf == nil {
			continue
		}
		names := make(map[string]bool, len(conf.Packages))
		for _, name := range conf.Packages {
			names[name] = true
		}
		for _, name := range conf.ArchPackages[view.Arch] {
			names[name] = true
		}
		sourceNames := make(map[string]bool, len(conf.SourcePackages))
		for _, name := range conf.SourcePackages {
			sourceNames[name] = true
		}

		for _, vp := range view.Packages {
			if !names[vp.Name] {
				continue
			}
			if vp.InRuntime() {
				vp.UnwantedCompletely.Add(listID)
			} else {
				vp.UnwantedBuildroot.Add(listID)
			}
		}
		for _, vs := range view.SourcePackages {
			if !sourceNames[vs.Name] {
				continue
			}
			if vs.InRuntime() {
				vs.UnwantedCompletely.Add(listID)
			} else {
				vs.UnwantedBuildroot.Add(listID)
			}
		}
	}
}
