package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/pkgset/pkgset/internal/analysis"
	"github.com/pkgset/pkgset/internal/bdeps"
	"github.com/pkgset/pkgset/internal/catalog"
	"github.com/pkgset/pkgset/internal/config"
	"github.com/pkgset/pkgset/internal/history"
	"github.com/pkgset/pkgset/internal/models"
	"github.com/pkgset/pkgset/internal/output"
	"github.com/pkgset/pkgset/internal/resolver"
)

// analyzeConfig carries the analyze command's flags.
type analyzeConfig struct {
	ConfigDir    string
	OutputDir    string
	CacheDir     string
	HistoryDir   string
	BuildDepsDir string

	Arches            []string
	DevBuildroot      bool
	MaxBuildrootDepth int
	Compress          bool
	Workers           int
}

// NewAnalyzeCmd creates the analyze command
func NewAnalyzeCmd() *cobra.Command {
	var conf analyzeConfig

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Run the full package set analysis",
		Long: `Loads configuration documents and repository snapshots, resolves
every environment, workload and view, and writes the result artifacts.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateConfig(&conf); err != nil {
				return err
			}

			logrus.Info("Starting analysis...")
			logrus.Debugf("Configuration: %+v", conf)

			return runAnalysis(cmd.Context(), &conf)
		},
	}

	cmd.Flags().StringVarP(&conf.ConfigDir, "config-dir", "c", "", "Directory with YAML configuration documents")
	cmd.Flags().StringVarP(&conf.OutputDir, "output-dir", "o", "./out", "Output directory for artifacts")
	cmd.Flags().StringVar(&conf.CacheDir, "cache-dir", "", "Directory for cached resolver results")
	cmd.Flags().StringVar(&conf.HistoryDir, "history-dir", "", "Directory for historical trend data")
	cmd.Flags().StringVar(&conf.BuildDepsDir, "builddeps-dir", "", "Directory with recorded build dependency facts")

	cmd.Flags().StringSliceVar(&conf.Arches, "arch", nil, "Limit analysis to these architectures")
	cmd.Flags().BoolVar(&conf.DevBuildroot, "dev-buildroot", false, "Use fabricated build dependencies instead of recorded facts")
	cmd.Flags().IntVar(&conf.MaxBuildrootDepth, "max-buildroot-depth", analysis.DefaultMaxBuildrootDepth, "Maximum buildroot expansion depth")
	cmd.Flags().BoolVar(&conf.Compress, "compress", false, "Gzip JSON artifacts")
	cmd.Flags().IntVar(&conf.Workers, "workers", 8, "Concurrent resolutions per stage")

	return cmd
}

func validateConfig(conf *analyzeConfig) error {
	if conf.ConfigDir == "" {
		return fmt.Errorf("--config-dir is required")
	}
	if !conf.DevBuildroot && conf.BuildDepsDir == "" {
		logrus.Debug("No build dependency source configured; views requiring buildroot expansion will fail their lookups")
	}
	return nil
}

func runAnalysis(ctx context.Context, conf *analyzeConfig) error {
	confs, err := config.LoadDir(conf.ConfigDir)
	if err != nil {
		return err
	}

	cat := catalog.New()
	snapshot := resolver.NewSnapshot(cat)
	if err := loadCatalogs(cat, snapshot, confs, conf.Arches); err != nil {
		return err
	}

	rslv, err := resolver.NewCached(snapshot, 512, conf.CacheDir)
	if err != nil {
		return err
	}

	var lookup analysis.BuildDepsLookup
	if conf.DevBuildroot {
		lookup = bdeps.Dev{}
	} else if conf.BuildDepsDir != "" {
		lookup = bdeps.NewFile(conf.BuildDepsDir)
	} else {
		lookup = bdeps.NewFile(filepath.Join(conf.ConfigDir, "builddeps"))
	}

	analyzer := &analysis.Analyzer{
		Configs:           confs,
		Catalog:           cat,
		Resolver:          rslv,
		BuildDeps:         lookup,
		Arches:            conf.Arches,
		MaxBuildrootDepth: conf.MaxBuildrootDepth,
		Workers:           conf.Workers,
	}
	data, err := analyzer.Run(ctx)
	if err != nil {
		return err
	}

	if err := output.NewWriter(conf.OutputDir, conf.Compress).WriteAll(data, confs); err != nil {
		return err
	}

	if conf.HistoryDir != "" {
		if err := recordHistory(conf.HistoryDir, data, cat); err != nil {
			return err
		}
	}

	logrus.Info("Analysis complete")
	return nil
}

// loadCatalogs fills the catalog from every repository's backing sources.
// Sources load from the highest priority number to the lowest, so the
// best-priority copy of a duplicated package id wins.
func loadCatalogs(cat *catalog.Catalog, snapshot *resolver.Snapshot, confs *models.ConfigSet, arches []string) error {
	repoIDs := make([]string, 0, len(confs.Repos))
	for id := range confs.Repos {
		repoIDs = append(repoIDs, id)
	}
	sort.Strings(repoIDs)

	for _, repoID := range repoIDs {
		repo := confs.Repos[repoID]

		entryNames := make([]string, 0, len(repo.Source.Repos))
		for name := range repo.Source.Repos {
			entryNames = append(entryNames, name)
		}
		sort.Slice(entryNames, func(i, j int) bool {
			a, b := repo.Source.Repos[entryNames[i]], repo.Source.Repos[entryNames[j]]
			if a.Priority != b.Priority {
				return a.Priority > b.Priority
			}
			return entryNames[i] < entryNames[j]
		})

		for _, arch := range repo.Source.Architectures {
			if len(arches) > 0 && !contains(arches, arch) {
				continue
			}
			for _, name := range entryNames {
				entry := repo.Source.Repos[name]
				if len(entry.LimitArches) > 0 && !contains(entry.LimitArches, arch) {
					continue
				}
				cat.Exclude(repoID, name, entry.Exclude...)
				snapshot.SetPriority(repoID, name, entry.Priority)
				if err := loadSource(cat, repo, name, entry, arch); err != nil {
					return err
				}
			}
			logrus.Infof("Loaded %d packages for %s/%s", cat.Count(repoID, arch), repoID, arch)
		}
	}
	return nil
}

// loadSource loads one backing source for one architecture. A source
// directory with rpm-md metadata is loaded through it (with signature and
// checksum verification); a plain directory of RPMs is read file by file.
func loadSource(cat *catalog.Catalog, repo *models.RepoConfig, name string, entry models.RepoSourceEntry, arch string) error {
	baseDir := expandBaseURL(entry.BaseURL, repo.Source.ReleaseVer, arch)

	repomd := filepath.Join(baseDir, "repodata", "repomd.xml")
	if _, err := os.Stat(repomd); err == nil {
		if repo.Source.SigningKeyPath != "" {
			if err := catalog.VerifyRepomd(repomd, repomd+".asc", repo.Source.SigningKeyPath); err != nil {
				return err
			}
		}
		primary, err := catalog.LocatePrimary(baseDir)
		if err != nil {
			return err
		}
		_, err = cat.LoadRepodata(repo.ID, arch, name, primary)
		return err
	}

	_, err := cat.LoadRPMDir(repo.ID, arch, name, baseDir)
	return err
}

// expandBaseURL substitutes the dnf-style variables a baseurl may carry.
func expandBaseURL(baseURL, releaseVer, arch string) string {
	out := strings.ReplaceAll(baseURL, "$releasever", releaseVer)
	out = strings.ReplaceAll(out, "$basearch", arch)
	return out
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

// recordHistory appends today's headline numbers for every resolved entity.
func recordHistory(dir string, data *analysis.Data, cat *catalog.Catalog) error {
	tracker, err := history.NewTracker(dir)
	if err != nil {
		return err
	}
	date := time.Now().Format("2006-01-02")

	for id, env := range data.Envs {
		if !env.Succeeded {
			continue
		}
		sample := history.Sample{
			Date:     date,
			Packages: len(env.PackageIDs),
			InstallSize: env.InstallSize(func(pkgID string) (*models.Package, bool) {
				return cat.Get(env.RepoID, env.Arch, pkgID)
			}),
		}
		if err := tracker.Record("env--"+id, sample); err != nil {
			return err
		}
	}

	for id, wl := range data.Workloads {
		if !wl.Succeeded {
			continue
		}
		var size int64
		for _, pkgID := range wl.PackageIDs() {
			if pkg, ok := cat.Get(wl.RepoID, wl.Arch, pkgID); ok {
				size += pkg.InstallSize
			}
		}
		sample := history.Sample{
			Date:        date,
			Packages:    len(wl.PackageIDs()),
			InstallSize: size,
		}
		if err := tracker.Record("workload--"+id, sample); err != nil {
			return err
		}
	}

	for id, view := range data.Views {
		var size int64
		for _, vp := range view.Packages {
			size += vp.InstallSize
		}
		sample := history.Sample{
			Date:        date,
			Packages:    len(view.Packages),
			InstallSize: size,
		}
		if err := tracker.Record("view--"+id, sample); err != nil {
			return err
		}
	}
	return nil
}
