package models

import "strings"

// Package represents one binary package as loaded from a repository snapshot.
// Packages are immutable once the catalog for a (repository, architecture)
// pair has been built.
type Package struct {
	Name        string `json:"name"`
	EVR         string `json:"evr"`
	Arch        string `json:"arch"`
	InstallSize int64  `json:"installsize"`
	Summary     string `json:"summary"`
	Description string `json:"description"`
	SourceName  string `json:"source_name"`
	SourceRPM   string `json:"sourcerpm"`
	RepoName    string `json:"reponame"`

	// Requires and Provides hold plain capability names. They are only
	// consulted by the snapshot resolver; the analysis layer never reads them.
	Requires   []string `json:"-"`
	Provides   []string `json:"-"`
	Recommends []string `json:"-"`
	Suggests   []string `json:"-"`
}

// ID returns the full package identity: name-epoch:version-release.arch.
// Multilib repositories carry the same NEVR on several architectures, so the
// architecture has to be part of the identity.
func (p *Package) ID() string {
	return p.Name + "-" + p.EVR + "." + p.Arch
}

// NEVR returns the identity without the architecture.
func (p *Package) NEVR() string {
	return p.Name + "-" + p.EVR
}

// SourceID returns the source package id of this package, derived from the
// source RPM filename: "bash-5.2.26-3.fc40.src.rpm" -> "bash-5.2.26-3.fc40".
func (p *Package) SourceID() string {
	return SourceID(p.SourceRPM)
}

// SourceID strips the ".src.rpm" suffix off a source RPM filename.
func SourceID(sourceRPM string) string {
	return strings.TrimSuffix(sourceRPM, ".src.rpm")
}

// NameFromID extracts the package name from a package id or a NEVR. The
// version and release are the last two dash-separated fields, everything
// before them is the name.
func NameFromID(id string) string {
	parts := strings.Split(id, "-")
	if len(parts) < 3 {
		return id
	}
	return strings.Join(parts[:len(parts)-2], "-")
}

// Placeholders are declared-but-not-yet-real packages; they get a fixed
// synthetic EVR and a synthetic architecture so they can never collide with a
// real package id.

const placeholderEVR = "000-placeholder"

// PlaceholderID returns the package id of a placeholder binary package.
func PlaceholderID(name string) string {
	return name + "-" + placeholderEVR + ".placeholder"
}

// PlaceholderNEVR returns the NEVR of a placeholder package, which doubles
// as the source package id of an SRPM placeholder.
func PlaceholderNEVR(name string) string {
	return name + "-" + placeholderEVR
}

// PlaceholderPackage builds the synthetic Package record for a declared
// placeholder so it can flow through views like a real package.
func PlaceholderPackage(p *PackagePlaceholder) *Package {
	return &Package{
		Name:        p.Name,
		EVR:         placeholderEVR,
		Arch:        "placeholder",
		InstallSize: 0,
		Summary:     p.Description,
		Description: p.Description,
		SourceName:  p.SourceName,
		SourceRPM:   PlaceholderNEVR(p.SourceName) + ".src.rpm",
		RepoName:    "n/a",
	}
}
