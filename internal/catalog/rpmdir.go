package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sassoftware/go-rpmutils"
	"github.com/sirupsen/logrus"

	"github.com/pkgset/pkgset/internal/models"
)

// LoadRPMDir walks a directory of .rpm files and adds every binary package to
// the catalog under (repoID, arch). It is the offline alternative to
// LoadRepodata, useful for locally composed repository snapshots.
func (c *Catalog) LoadRPMDir(repoID, arch, repoName, dir string) (int, error) {
	count := 0
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(path, ".rpm") {
			return nil
		}
		if strings.HasSuffix(path, ".src.rpm") {
			return nil
		}

		pkg, err := parseRPM(path, repoName)
		if err != nil {
			logrus.Warnf("Failed to parse %s: %v", path, err)
			return nil
		}
		c.Add(repoID, arch, pkg)
		count++
		return nil
	})
	if err != nil {
		return count, &models.AnalysisError{Type: models.ErrCatalogLoad, Entity: repoID, Err: err}
	}
	return count, nil
}

// parseRPM reads one RPM header and extracts the metadata the analysis needs.
func parseRPM(path, repoName string) (*models.Package, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rpm, err := rpmutils.ReadRpm(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read RPM: %w", err)
	}

	sourceRPM := getStringTag(rpm, rpmutils.SOURCERPM)

	pkg := &models.Package{
		Name:        getStringTag(rpm, rpmutils.NAME),
		EVR:         headerEVR(rpm),
		Arch:        getStringTag(rpm, rpmutils.ARCH),
		InstallSize: getIntTag(rpm, rpmutils.SIZE),
		Summary:     getStringTag(rpm, rpmutils.SUMMARY),
		Description: getStringTag(rpm, rpmutils.DESCRIPTION),
		SourceName:  models.NameFromID(models.SourceID(sourceRPM)),
		SourceRPM:   sourceRPM,
		RepoName:    repoName,
		Requires:    getStringSliceTag(rpm, rpmutils.REQUIRENAME),
		Provides:    getStringSliceTag(rpm, rpmutils.PROVIDENAME),
	}
	return pkg, nil
}

// headerEVR builds epoch:version-release from header tags, leaving the epoch
// off when zero.
func headerEVR(rpm *rpmutils.Rpm) string {
	version := getStringTag(rpm, rpmutils.VERSION)
	release := getStringTag(rpm, rpmutils.RELEASE)
	epoch := getIntTag(rpm, rpmutils.EPOCH)
	if epoch > 0 {
		return fmt.Sprintf("%d:%s-%s", epoch, version, release)
	}
	return version + "-" + release
}

// getStringTag safely gets a string tag from RPM
func getStringTag(rpm *rpmutils.Rpm, tag int) string {
	val, err := rpm.Header.Get(tag)
	if err != nil {
		return ""
	}

	switch v := val.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case []string:
		if len(v) > 0 {
			return v[0]
		}
	default:
		return fmt.Sprintf("%v", v)
	}

	return ""
}

// getIntTag safely gets an integer tag from RPM
func getIntTag(rpm *rpmutils.Rpm, tag int) int64 {
	val, err := rpm.Header.Get(tag)
	if err != nil {
		return 0
	}
	switch v := val.(type) {
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case int64:
		return v
	case []int32:
		if len(v) > 0 {
			return int64(v[0])
		}
	case []int64:
		if len(v) > 0 {
			return v[0]
		}
	}
	return 0
}

// getStringSliceTag safely gets a string slice tag from RPM
func getStringSliceTag(rpm *rpmutils.Rpm, tag int) []string {
	val, err := rpm.Header.Get(tag)
	if err != nil {
		return nil
	}
	if slice, ok := val.([]string); ok {
		var result []string
		for _, s := range slice {
			s = strings.TrimSpace(s)
			if s != "" {
				result = append(result, s)
			}
		}
		return result
	}
	return nil
}
