package analysis

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/pkgset/pkgset/internal/models"
)

// ScoreKey ranks ownership evidence. Level counts buildroot hops away from a
// workload (0 = runtime), sublevel counts dependency hops within a level
// (0 = directly required). Lower is stronger.
type ScoreKey struct {
	Level    int `json:"level"`
	Sublevel int `json:"sublevel"`
}

// String renders the score as "level.sublevel".
func (k ScoreKey) String() string {
	return fmt.Sprintf("%d.%d", k.Level, k.Sublevel)
}

// OwnershipReason names one dependency edge that contributed evidence: the
// requiring package, its source, and the package being claimed.
type OwnershipReason struct {
	RequirerName       string `json:"requirer_name"`
	RequirerSourceName string `json:"requirer_source_name"`
	PackageName        string `json:"pkg_name"`
}

func (r OwnershipReason) key() string {
	return r.RequirerName + "\x00" + r.RequirerSourceName + "\x00" + r.PackageName
}

// OwnershipClaim is the evidence one maintainer holds at one score: where
// the requirement comes from (workload config ids at level 0, source package
// names deeper) and through which edges.
type OwnershipClaim struct {
	Locations IDSet
	reasons   map[string]OwnershipReason
}

// NewOwnershipClaim creates an empty claim.
func NewOwnershipClaim() *OwnershipClaim {
	return &OwnershipClaim{
		Locations: make(IDSet),
		reasons:   make(map[string]OwnershipReason),
	}
}

// AddReason records one contributing dependency edge.
func (c *OwnershipClaim) AddReason(r OwnershipReason) {
	c.reasons[r.key()] = r
}

// Reasons returns the contributing edges in stable order.
func (c *OwnershipClaim) Reasons() []OwnershipReason {
	keys := make([]string, 0, len(c.reasons))
	for k := range c.reasons {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]OwnershipReason, 0, len(keys))
	for _, k := range keys {
		out = append(out, c.reasons[k])
	}
	return out
}

// MarshalJSON includes the reasons, which live in an unexported map.
func (c *OwnershipClaim) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Locations IDSet             `json:"locations"`
		Reasons   []OwnershipReason `json:"reasons,omitempty"`
	}{c.Locations, c.Reasons()})
}

// Ownership holds all maintainers' claims on one package or source package.
type Ownership struct {
	Claims map[string]map[ScoreKey]*OwnershipClaim `json:"-"`
}

// NewOwnership creates an empty ownership record.
func NewOwnership() *Ownership {
	return &Ownership{Claims: make(map[string]map[ScoreKey]*OwnershipClaim)}
}

// claim returns the claim of one maintainer at one score, creating it.
func (o *Ownership) claim(maintainer string, score ScoreKey) *OwnershipClaim {
	if o.Claims[maintainer] == nil {
		o.Claims[maintainer] = make(map[ScoreKey]*OwnershipClaim)
	}
	c := o.Claims[maintainer][score]
	if c == nil {
		c = NewOwnershipClaim()
		o.Claims[maintainer][score] = c
	}
	return c
}

// at returns every maintainer holding a claim at the given score, sorted.
func (o *Ownership) at(score ScoreKey) []string {
	var maintainers []string
	for maintainer, claims := range o.Claims {
		if _, ok := claims[score]; ok {
			maintainers = append(maintainers, maintainer)
		}
	}
	sort.Strings(maintainers)
	return maintainers
}

// bestSublevel returns the lowest sublevel any maintainer holds at the given
// level, and whether the level has claims at all.
func (o *Ownership) bestSublevel(level int) (int, bool) {
	best := -1
	for _, claims := range o.Claims {
		for score := range claims {
			if score.Level != level {
				continue
			}
			if best < 0 || score.Sublevel < best {
				best = score.Sublevel
			}
		}
	}
	return best, best >= 0
}

// MarshalJSON renders claims keyed by maintainer and "level.sublevel".
func (o *Ownership) MarshalJSON() ([]byte, error) {
	out := make(map[string]map[string]*OwnershipClaim, len(o.Claims))
	for maintainer, claims := range o.Claims {
		scored := make(map[string]*OwnershipClaim, len(claims))
		for score, claim := range claims {
			scored[score.String()] = claim
		}
		out[maintainer] = scored
	}
	return json.Marshal(out)
}

// RecommendMaintainers assigns ownership evidence to every merged package and
// source package of a view, bottom-up:
//
//	level 0, sublevel 0: the maintainer of a workload requiring the package
//	sublevel N+1:        the maintainers of packages hard-requiring it
//	level N, sublevel 0: the maintainers of source packages whose buildroot
//	                     requires it, as established at level N-1
//
// Evidence accumulates as distinct locations (workload config ids at level 0,
// source package names deeper). The recommendation per source package is the
// maintainer with strictly the most locations overall; a tie yields no
// recommendation and the full score table is surfaced instead.
func RecommendMaintainers(merged *ViewAllArches, confs *models.ConfigSet) {
	for _, mp := range merged.PkgsByName {
		mp.Ownership = NewOwnership()
	}
	for _, ms := range merged.SourcesByName {
		ms.Ownership = NewOwnership()
	}

	pkgNames := make([]string, 0, len(merged.PkgsByName))
	for name := range merged.PkgsByName {
		pkgNames = append(pkgNames, name)
	}
	sort.Strings(pkgNames)

	assignRuntimeClaims(merged, confs, pkgNames)
	propagateSublevels(merged, pkgNames, 0)
	foldIntoSources(merged, pkgNames)

	for level := 1; level <= merged.MaxLevel; level++ {
		changed := assignBuildrootClaims(merged, pkgNames, level)
		changed = propagateSublevels(merged, pkgNames, level) || changed
		foldIntoSources(merged, pkgNames)
		if !changed {
			break
		}
	}

	electMaintainers(merged)
}

// assignRuntimeClaims grants (0,0) claims from workloads directly requiring
// a package.
func assignRuntimeClaims(merged *ViewAllArches, confs *models.ConfigSet, pkgNames []string) {
	for _, name := range pkgNames {
		mp := merged.PkgsByName[name]
		for confID := range mp.WorkloadConfIDs.Req {
			conf := confs.Workloads[confID]
			if conf == nil || conf.Maintainer == "" {
				continue
			}
			claim := mp.Ownership.claim(conf.Maintainer, ScoreKey{0, 0})
			claim.Locations.Add(confID)
		}
	}
}

// propagateSublevels walks hard-dependency edges within one level: if the
// requirer's maintainer holds a claim at (level, s), the required package
// gains one at (level, s+1) carrying the same locations. Each (requirer,
// package, maintainer) edge contributes once per level, so dependency cycles
// terminate.
func propagateSublevels(merged *ViewAllArches, pkgNames []string, level int) bool {
	seen := make(map[string]bool)
	changedAny := false

	for sublevel := 0; ; sublevel++ {
		changed := false
		for _, name := range pkgNames {
			mp := merged.PkgsByName[name]

			requirers := make([]string, 0, len(mp.HardDependencyOf))
			for requirer := range mp.HardDependencyOf {
				requirers = append(requirers, requirer)
			}
			sort.Strings(requirers)

			for _, requirer := range requirers {
				superior := merged.PkgsByName[requirer]
				if superior == nil || superior.Name == mp.Name {
					continue
				}
				for _, maintainer := range superior.Ownership.at(ScoreKey{level, sublevel}) {
					edge := requirer + "\x00" + name + "\x00" + maintainer
					if seen[edge] {
						continue
					}
					seen[edge] = true
					changed = true

					from := superior.Ownership.Claims[maintainer][ScoreKey{level, sublevel}]
					claim := mp.Ownership.claim(maintainer, ScoreKey{level, sublevel + 1})
					claim.Locations.Merge(from.Locations)
					claim.AddReason(OwnershipReason{
						RequirerName:       superior.Name,
						RequirerSourceName: superior.SourceName,
						PackageName:        mp.Name,
					})
				}
			}
		}
		if !changed {
			break
		}
		changedAny = true
	}
	return changedAny
}

// assignBuildrootClaims grants (level, 0) claims from source packages whose
// buildroot requires the package, carrying over the maintainers those source
// packages earned at the previous level.
func assignBuildrootClaims(merged *ViewAllArches, pkgNames []string, level int) bool {
	changed := false
	for _, name := range pkgNames {
		mp := merged.PkgsByName[name]
		srpmNames := mp.BuildrootSRPMNames.Req.Sorted()
		for _, srpmName := range srpmNames {
			src := merged.SourcesByName[srpmName]
			if src == nil {
				continue
			}
			sublevel, ok := src.Ownership.bestSublevel(level - 1)
			if !ok {
				continue
			}
			for _, maintainer := range src.Ownership.at(ScoreKey{level - 1, sublevel}) {
				claim := mp.Ownership.claim(maintainer, ScoreKey{level, 0})
				if !claim.Locations.Has(srpmName) {
					claim.Locations.Add(srpmName)
					claim.AddReason(OwnershipReason{
						RequirerName:       srpmName,
						RequirerSourceName: srpmName,
						PackageName:        mp.Name,
					})
					changed = true
				}
			}
		}
	}
	return changed
}

// foldIntoSources unions every package's claims into its source package.
func foldIntoSources(merged *ViewAllArches, pkgNames []string) {
	for _, name := range pkgNames {
		mp := merged.PkgsByName[name]
		src := merged.SourcesByName[mp.SourceName]
		if src == nil {
			continue
		}
		for maintainer, claims := range mp.Ownership.Claims {
			for score, claim := range claims {
				into := src.Ownership.claim(maintainer, score)
				into.Locations.Merge(claim.Locations)
				for _, reason := range claim.Reasons() {
					into.AddReason(reason)
				}
			}
		}
	}
}

// electMaintainers computes the score table of every source package and
// picks a recommendation when one maintainer strictly leads.
func electMaintainers(merged *ViewAllArches) {
	for _, ms := range merged.SourcesByName {
		totals := make(map[string]IDSet)
		for maintainer, claims := range ms.Ownership.Claims {
			locations := make(IDSet)
			for _, claim := range claims {
				locations.Merge(claim.Locations)
			}
			totals[maintainer] = locations
		}

		ms.Scores = ms.Scores[:0]
		for maintainer, locations := range totals {
			ms.Scores = append(ms.Scores, MaintainerScore{
				Maintainer: maintainer,
				Locations:  len(locations),
			})
		}
		sort.Slice(ms.Scores, func(i, j int) bool {
			if ms.Scores[i].Locations != ms.Scores[j].Locations {
				return ms.Scores[i].Locations > ms.Scores[j].Locations
			}
			return ms.Scores[i].Maintainer < ms.Scores[j].Maintainer
		})

		switch {
		case len(ms.Scores) == 0:
			ms.Recommended = ""
		case len(ms.Scores) == 1 || ms.Scores[0].Locations > ms.Scores[1].Locations:
			ms.Recommended = ms.Scores[0].Maintainer
		default:
			ms.Recommended = ""
			logrus.Debugf("No single maintainer for %s: %v", ms.Name, ms.Scores)
		}
	}
}
