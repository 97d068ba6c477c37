package catalog

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkgset/pkgset/internal/models"
	"github.com/pkgset/pkgset/internal/utils"
)

// repomdIndex mirrors the repomd.xml schema, reduced to data locations and
// their checksums.
type repomdIndex struct {
	XMLName xml.Name     `xml:"repomd"`
	Data    []repomdData `xml:"data"`
}

type repomdData struct {
	Type     string         `xml:"type,attr"`
	Checksum repomdChecksum `xml:"checksum"`
	Location repomdLocation `xml:"location"`
}

type repomdChecksum struct {
	Type  string `xml:"type,attr"`
	Value string `xml:",chardata"`
}

type repomdLocation struct {
	Href string `xml:"href,attr"`
}

// LocatePrimary reads repodata/repomd.xml under baseDir, finds the primary
// metadata entry and verifies its checksum. It returns the absolute path of
// the primary file.
func LocatePrimary(baseDir string) (string, error) {
	repomdPath := filepath.Join(baseDir, "repodata", "repomd.xml")
	f, err := os.Open(repomdPath)
	if err != nil {
		return "", &models.AnalysisError{Type: models.ErrCatalogLoad, Err: err}
	}
	defer f.Close()

	var index repomdIndex
	if err := xml.NewDecoder(f).Decode(&index); err != nil {
		return "", &models.AnalysisError{
			Type: models.ErrCatalogLoad,
			Err:  fmt.Errorf("failed to parse repomd.xml: %w", err),
		}
	}

	for _, data := range index.Data {
		if data.Type != "primary" {
			continue
		}
		primaryPath := filepath.Join(baseDir, filepath.FromSlash(data.Location.Href))
		if err := verifyChecksum(primaryPath, data.Checksum); err != nil {
			return "", err
		}
		return primaryPath, nil
	}
	return "", &models.AnalysisError{
		Type: models.ErrCatalogLoad,
		Err:  fmt.Errorf("no primary metadata listed in %s", repomdPath),
	}
}

// verifyChecksum compares the file against the checksum repomd.xml declares
// for it. An empty declaration is accepted.
func verifyChecksum(path string, want repomdChecksum) error {
	value := strings.TrimSpace(want.Value)
	if value == "" {
		return nil
	}

	sums, err := utils.CalculateChecksums(path)
	if err != nil {
		return &models.AnalysisError{Type: models.ErrCatalogLoad, Err: err}
	}

	var got string
	switch want.Type {
	case "md5":
		got = sums.MD5
	case "sha1", "sha":
		got = sums.SHA1
	case "sha512":
		got = sums.SHA512
	default:
		got = sums.SHA256
	}
	if got != value {
		return &models.AnalysisError{
			Type: models.ErrCatalogLoad,
			Err:  fmt.Errorf("checksum mismatch for %s: got %s, want %s", filepath.Base(path), got, value),
		}
	}
	return nil
}
