package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	"github.com/pkgset/pkgset/internal/models"
)

// supportedVersions lists the document versions each kind accepts.
var supportedVersions = map[string][]int{
	models.KindRepository:  {1},
	models.KindEnvironment: {1},
	models.KindWorkload:    {1},
	models.KindLabel:       {1},
	models.KindView:        {1},
	models.KindUnwanted:    {1},
}

// envelope is the outer shape every configuration document shares. The data
// payload is decoded a second time into the kind-specific struct.
type envelope struct {
	Document string        `yaml:"document"`
	Version  int           `yaml:"version"`
	Data     yaml.MapSlice `yaml:"data"`
}

// LoadDir reads every .yaml/.yml file in dir into a ConfigSet. The document id
// is the file name without extension. A file that fails to parse or validate
// aborts the load; a bad config is a user error, not an analysis result.
func LoadDir(dir string) (*models.ConfigSet, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &models.AnalysisError{Type: models.ErrInvalidConfig, Err: err}
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext == ".yaml" || ext == ".yml" {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	set := models.NewConfigSet()
	for _, name := range names {
		if err := loadFile(set, dir, name); err != nil {
			return nil, err
		}
	}

	if err := validate(set); err != nil {
		return nil, err
	}

	logrus.Debugf("Loaded %d repos, %d envs, %d workloads, %d labels, %d views, %d unwanted lists",
		len(set.Repos), len(set.Envs), len(set.Workloads), len(set.Labels), len(set.Views), len(set.Unwanteds))
	return set, nil
}

func loadFile(set *models.ConfigSet, dir, name string) error {
	path := filepath.Join(dir, name)
	raw, err := os.ReadFile(path)
	if err != nil {
		return &models.AnalysisError{Type: models.ErrInvalidConfig, Entity: name, Err: err}
	}

	var env envelope
	if err := yaml.Unmarshal(raw, &env); err != nil {
		return &models.AnalysisError{
			Type:   models.ErrInvalidConfig,
			Entity: name,
			Err:    fmt.Errorf("failed to parse: %w", err),
		}
	}

	versions, ok := supportedVersions[env.Document]
	if !ok {
		return &models.AnalysisError{
			Type:   models.ErrInvalidConfig,
			Entity: name,
			Err:    fmt.Errorf("unknown document kind %q", env.Document),
		}
	}
	if !versionSupported(versions, env.Version) {
		return &models.AnalysisError{
			Type:   models.ErrInvalidConfig,
			Entity: name,
			Err:    fmt.Errorf("unsupported %s document version %d", env.Document, env.Version),
		}
	}

	// Re-marshal the data payload so it can be decoded into the typed struct.
	// Documents are small; the double pass keeps the envelope handling in one
	// place.
	payload, err := yaml.Marshal(env.Data)
	if err != nil {
		return &models.AnalysisError{Type: models.ErrInvalidConfig, Entity: name, Err: err}
	}

	id := strings.TrimSuffix(name, filepath.Ext(name))
	switch env.Document {
	case models.KindRepository:
		conf := &models.RepoConfig{ID: id}
		if err := yaml.Unmarshal(payload, conf); err != nil {
			return decodeError(name, err)
		}
		set.Repos[id] = conf
	case models.KindEnvironment:
		conf := &models.EnvConfig{ID: id}
		if err := yaml.Unmarshal(payload, conf); err != nil {
			return decodeError(name, err)
		}
		set.Envs[id] = conf
	case models.KindWorkload:
		conf := &models.WorkloadConfig{ID: id}
		if err := yaml.Unmarshal(payload, conf); err != nil {
			return decodeError(name, err)
		}
		set.Workloads[id] = conf
	case models.KindLabel:
		conf := &models.LabelConfig{ID: id}
		if err := yaml.Unmarshal(payload, conf); err != nil {
			return decodeError(name, err)
		}
		set.Labels[id] = conf
	case models.KindView:
		conf := &models.ViewConfig{ID: id}
		if err := yaml.Unmarshal(payload, conf); err != nil {
			return decodeError(name, err)
		}
		if conf.BuildrootStrategy == "" {
			conf.BuildrootStrategy = models.BuildrootNone
		}
		set.Views[id] = conf
	case models.KindUnwanted:
		conf := &models.UnwantedConfig{ID: id}
		if err := yaml.Unmarshal(payload, conf); err != nil {
			return decodeError(name, err)
		}
		set.Unwanteds[id] = conf
	}
	return nil
}

func decodeError(name string, err error) error {
	return &models.AnalysisError{
		Type:   models.ErrInvalidConfig,
		Entity: name,
		Err:    fmt.Errorf("invalid document data: %w", err),
	}
}

func versionSupported(versions []int, v int) bool {
	for _, candidate := range versions {
		if candidate == v {
			return true
		}
	}
	return false
}

// validate checks cross-document references. Every id a document names must
// exist; dangling references would otherwise silently produce empty results.
func validate(set *models.ConfigSet) error {
	for id, env := range set.Envs {
		if env.Name == "" {
			return invalidRef(id, "environment has no name")
		}
		for _, repoID := range env.Repositories {
			if _, ok := set.Repos[repoID]; !ok {
				return invalidRef(id, fmt.Sprintf("references unknown repository %q", repoID))
			}
		}
		for _, label := range env.Labels {
			if _, ok := set.Labels[label]; !ok {
				return invalidRef(id, fmt.Sprintf("references unknown label %q", label))
			}
		}
	}

	for id, wl := range set.Workloads {
		if wl.Name == "" {
			return invalidRef(id, "workload has no name")
		}
		for _, label := range wl.Labels {
			if _, ok := set.Labels[label]; !ok {
				return invalidRef(id, fmt.Sprintf("references unknown label %q", label))
			}
		}
	}

	for id, view := range set.Views {
		if view.Name == "" {
			return invalidRef(id, "view has no name")
		}
		if _, ok := set.Repos[view.Repository]; !ok {
			return invalidRef(id, fmt.Sprintf("references unknown repository %q", view.Repository))
		}
		for _, label := range view.Labels {
			if _, ok := set.Labels[label]; !ok {
				return invalidRef(id, fmt.Sprintf("references unknown label %q", label))
			}
		}
		for _, listID := range view.UnwantedLists {
			if _, ok := set.Unwanteds[listID]; !ok {
				return invalidRef(id, fmt.Sprintf("references unknown unwanted list %q", listID))
			}
		}
		switch view.BuildrootStrategy {
		case models.BuildrootNone, models.BuildrootRootLogs:
		default:
			return invalidRef(id, fmt.Sprintf("unknown buildroot strategy %q", view.BuildrootStrategy))
		}
	}
	return nil
}

func invalidRef(entity, msg string) error {
	return &models.AnalysisError{
		Type:   models.ErrInvalidConfig,
		Entity: entity,
		Err:    fmt.Errorf("%s", msg),
	}
}
