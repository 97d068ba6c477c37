package analysis

import (
	"github.com/pkgset/pkgset/internal/models"
	"github.com/pkgset/pkgset/internal/resolver"
)

// LevelAttribution records why packages sit at one expansion level. The keys
// are workload ids at level 0 and source package ids at levels 1 and up.
//
// All is the union; Req holds explicitly required entries, Dep their
// dependencies, Env packages inherited from the base environment or build
// group.
type LevelAttribution struct {
	All IDSet `json:"all"`
	Req IDSet `json:"req"`
	Dep IDSet `json:"dep"`
	Env IDSet `json:"env"`
}

// NewLevelAttribution creates an empty attribution record.
func NewLevelAttribution() *LevelAttribution {
	return &LevelAttribution{
		All: make(IDSet),
		Req: make(IDSet),
		Dep: make(IDSet),
		Env: make(IDSet),
	}
}

// Empty reports whether nothing is attributed at this level.
func (a *LevelAttribution) Empty() bool {
	return len(a.All) == 0
}

// Merge unions another attribution record into this one.
func (a *LevelAttribution) Merge(other *LevelAttribution) {
	a.All.Merge(other.All)
	a.Req.Merge(other.Req)
	a.Dep.Merge(other.Dep)
	a.Env.Merge(other.Env)
}

// Requester identifies a package pulling another package in.
type Requester struct {
	ID         string `json:"id"`
	SourceName string `json:"source_name"`
	RepoName   string `json:"reponame"`
}

// Relations records which packages require, recommend or suggest one
// package, keyed by the requester's package id.
type Relations struct {
	RequiredBy    map[string]Requester `json:"required_by,omitempty"`
	RecommendedBy map[string]Requester `json:"recommended_by,omitempty"`
	SuggestedBy   map[string]Requester `json:"suggested_by,omitempty"`
}

// NewRelations creates an empty relations record.
func NewRelations() *Relations {
	return &Relations{
		RequiredBy:    make(map[string]Requester),
		RecommendedBy: make(map[string]Requester),
		SuggestedBy:   make(map[string]Requester),
	}
}

// Merge unions another relations record into this one.
func (r *Relations) Merge(other *Relations) {
	if other == nil {
		return
	}
	for id, req := range other.RequiredBy {
		r.RequiredBy[id] = req
	}
	for id, req := range other.RecommendedBy {
		r.RecommendedBy[id] = req
	}
	for id, req := range other.SuggestedBy {
		r.SuggestedBy[id] = req
	}
}

// relationsFromResult turns a resolver result's edges into per-package
// relations. Every installed package gets a record, even an empty one.
func relationsFromResult(res *resolver.Result) map[string]*Relations {
	byID := res.InstalledByID()
	relations := make(map[string]*Relations, len(res.Installed))
	for _, pkg := range res.Installed {
		relations[pkg.ID()] = NewRelations()
	}
	for _, edge := range res.Edges {
		requirer, ok := byID[edge.Requirer]
		if !ok {
			continue
		}
		rel, ok := relations[edge.Required]
		if !ok {
			continue
		}
		entry := Requester{
			ID:         requirer.ID(),
			SourceName: requirer.SourceName,
			RepoName:   requirer.RepoName,
		}
		switch edge.Kind {
		case resolver.DepHard:
			rel.RequiredBy[entry.ID] = entry
		case resolver.DepWeak:
			rel.RecommendedBy[entry.ID] = entry
		case resolver.DepSuggest:
			rel.SuggestedBy[entry.ID] = entry
		}
	}
	return relations
}

// placeholderRequester builds the relations entry a package placeholder
// contributes to the packages it declares as requirements.
func placeholderRequester(placeholder *models.PackagePlaceholder) Requester {
	return Requester{
		ID:         models.PlaceholderID(placeholder.Name),
		SourceName: placeholder.SourceName,
		RepoName:   "n/a",
	}
}
