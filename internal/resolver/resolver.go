package resolver

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"

	"github.com/pkgset/pkgset/internal/models"
)

// DepKind classifies a dependency edge.
type DepKind int

const (
	DepHard DepKind = iota
	DepWeak
	DepSuggest
)

// String returns the string representation of DepKind
func (k DepKind) String() string {
	switch k {
	case DepHard:
		return "requires"
	case DepWeak:
		return "recommends"
	case DepSuggest:
		return "suggests"
	default:
		return "unknown"
	}
}

// Edge records that one installed package pulled in another. Both ends are
// package ids from the same result.
type Edge struct {
	Requirer string  `json:"requirer"`
	Required string  `json:"required"`
	Kind     DepKind `json:"kind"`
}

// Options mirror the solver knobs a request carries.
type Options struct {
	IncludeDocs     bool `json:"include_docs"`
	IncludeWeakDeps bool `json:"include_weak_deps"`
}

// Request asks for the full installation closure of a set of package names on
// one (repository, architecture) pair.
type Request struct {
	RepoID   string   `json:"repo_id"`
	Arch     string   `json:"arch"`
	Packages []string `json:"packages"`
	Options  Options  `json:"options"`
}

// Fingerprint returns a stable key identifying the request, used for result
// caching. Package order does not matter.
func (r Request) Fingerprint() string {
	names := make([]string, len(r.Packages))
	copy(names, r.Packages)
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(r.RepoID)
	b.WriteByte('\x00')
	b.WriteString(r.Arch)
	b.WriteByte('\x00')
	b.WriteString(strconv.FormatBool(r.Options.IncludeDocs))
	b.WriteByte('\x00')
	b.WriteString(strconv.FormatBool(r.Options.IncludeWeakDeps))
	for _, name := range names {
		b.WriteByte('\x00')
		b.WriteString(name)
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// Result is one resolved installation. Callers must treat it as read-only;
// results are shared through the cache.
type Result struct {
	Installed  []*models.Package `json:"installed"`
	Edges      []Edge            `json:"edges"`
	Unresolved []string          `json:"unresolved,omitempty"`
}

// InstalledByID indexes the installed packages by their id.
func (r *Result) InstalledByID() map[string]*models.Package {
	byID := make(map[string]*models.Package, len(r.Installed))
	for _, pkg := range r.Installed {
		byID[pkg.ID()] = pkg
	}
	return byID
}

// Resolver computes installation closures. Implementations must be
// deterministic: the same request against the same data yields the same
// result, and must be safe for concurrent use.
//
// Requested names that no package provides are reported in
// Result.Unresolved, not as an error; the caller decides whether that is
// fatal. Errors are reserved for conflicts and infrastructure failures.
type Resolver interface {
	Resolve(ctx context.Context, req Request) (*Result, error)
}
