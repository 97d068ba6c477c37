package catalog

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/sirupsen/logrus"
	"github.com/ulikunitz/xz"

	"github.com/pkgset/pkgset/internal/models"
)

// primaryMetadata mirrors the rpm-md primary.xml schema, reduced to the
// fields the analysis needs.
type primaryMetadata struct {
	XMLName  xml.Name         `xml:"metadata"`
	Packages []primaryPackage `xml:"package"`
}

type primaryPackage struct {
	Type        string         `xml:"type,attr"`
	Name        string         `xml:"name"`
	Arch        string         `xml:"arch"`
	Version     primaryVersion `xml:"version"`
	Summary     string         `xml:"summary"`
	Description string         `xml:"description"`
	Size        primarySize    `xml:"size"`
	Format      primaryFormat  `xml:"format"`
}

type primaryVersion struct {
	Epoch string `xml:"epoch,attr"`
	Ver   string `xml:"ver,attr"`
	Rel   string `xml:"rel,attr"`
}

type primarySize struct {
	Installed int64 `xml:"installed,attr"`
}

type primaryFormat struct {
	SourceRPM  string         `xml:"sourcerpm"`
	Provides   []primaryEntry `xml:"provides>entry"`
	Requires   []primaryEntry `xml:"requires>entry"`
	Recommends []primaryEntry `xml:"recommends>entry"`
	Suggests   []primaryEntry `xml:"suggests>entry"`
}

type primaryEntry struct {
	Name string `xml:"name,attr"`
}

// LoadRepodata reads a primary.xml, primary.xml.gz or primary.xml.xz file and
// adds every binary package to the catalog under (repoID, arch), tagged with
// the backing source name it came from.
func (c *Catalog) LoadRepodata(repoID, arch, repoName, path string) (int, error) {
	logrus.Debugf("Loading repodata for %s/%s from %s", repoID, arch, path)

	f, err := os.Open(path)
	if err != nil {
		return 0, &models.AnalysisError{Type: models.ErrCatalogLoad, Entity: repoID, Err: err}
	}
	defer f.Close()

	var reader io.Reader = f
	switch {
	case strings.HasSuffix(path, ".gz"):
		gz, err := gzip.NewReader(f)
		if err != nil {
			return 0, &models.AnalysisError{Type: models.ErrCatalogLoad, Entity: repoID, Err: err}
		}
		defer gz.Close()
		reader = gz
	case strings.HasSuffix(path, ".xz"):
		xzr, err := xz.NewReader(f)
		if err != nil {
			return 0, &models.AnalysisError{Type: models.ErrCatalogLoad, Entity: repoID, Err: err}
		}
		reader = xzr
	}

	var meta primaryMetadata
	if err := xml.NewDecoder(reader).Decode(&meta); err != nil {
		return 0, &models.AnalysisError{
			Type:   models.ErrCatalogLoad,
			Entity: repoID,
			Err:    fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err),
		}
	}

	count := 0
	for _, pp := range meta.Packages {
		if pp.Type != "" && pp.Type != "rpm" {
			continue
		}
		pkg := &models.Package{
			Name:        pp.Name,
			EVR:         formatEVR(pp.Version),
			Arch:        pp.Arch,
			InstallSize: pp.Size.Installed,
			Summary:     pp.Summary,
			Description: pp.Description,
			SourceName:  models.NameFromID(models.SourceID(pp.Format.SourceRPM)),
			SourceRPM:   pp.Format.SourceRPM,
			RepoName:    repoName,
			Requires:    entryNames(pp.Format.Requires),
			Provides:    entryNames(pp.Format.Provides),
			Recommends:  entryNames(pp.Format.Recommends),
			Suggests:    entryNames(pp.Format.Suggests),
		}
		c.Add(repoID, arch, pkg)
		count++
	}

	logrus.Debugf("  Loaded %d packages", count)
	return count, nil
}

// formatEVR renders epoch:version-release, leaving the epoch off when it is
// zero or missing, matching how solvers print package identities.
func formatEVR(v primaryVersion) string {
	if v.Epoch != "" && v.Epoch != "0" {
		return v.Epoch + ":" + v.Ver + "-" + v.Rel
	}
	return v.Ver + "-" + v.Rel
}

func entryNames(entries []primaryEntry) []string {
	if len(entries) == 0 {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Name != "" {
			names = append(names, e.Name)
		}
	}
	return names
}
