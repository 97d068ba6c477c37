// Package output renders analysis results into a directory of JSON and plain
// text artifacts. File contents are deterministic: identical input data
// produces byte-identical artifacts.
package output

import (
	"encoding/json"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/pkgset/pkgset/internal/analysis"
	"github.com/pkgset/pkgset/internal/models"
	"github.com/pkgset/pkgset/internal/utils"
)

// Writer writes artifacts under a root directory. With Compress set, JSON
// artifacts are gzipped.
type Writer struct {
	Dir      string
	Compress bool
}

// NewWriter creates a writer rooted at dir.
func NewWriter(dir string, compress bool) *Writer {
	return &Writer{Dir: dir, Compress: compress}
}

// slug makes a composite id filename-safe.
func slug(id string) string {
	return strings.ReplaceAll(id, ":", "--")
}

func (w *Writer) writeJSON(name string, v interface{}) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	raw = append(raw, '\n')
	path := filepath.Join(w.Dir, name+".json")
	if w.Compress {
		raw, err = utils.GzipCompress(raw)
		if err != nil {
			return err
		}
		path += ".gz"
	}
	return utils.WriteFile(path, raw, 0644)
}

func (w *Writer) writeText(name string, lines []string) error {
	content := strings.Join(lines, "\n")
	if content != "" {
		content += "\n"
	}
	return utils.WriteFile(filepath.Join(w.Dir, name+".txt"), []byte(content), 0644)
}

// WriteAll renders every artifact of one analysis run.
func (w *Writer) WriteAll(data *analysis.Data, confs *models.ConfigSet) error {
	if err := utils.EnsureDir(w.Dir); err != nil {
		return err
	}

	for _, id := range sortedKeys(data.Envs) {
		if err := w.writeJSON("env--"+slug(id), data.Envs[id]); err != nil {
			return err
		}
	}
	for _, id := range sortedKeys(data.Workloads) {
		if err := w.writeJSON("workload--"+slug(id), data.Workloads[id]); err != nil {
			return err
		}
	}
	for _, id := range sortedKeys(data.Views) {
		view := data.Views[id]
		if err := w.writeJSON("view-packages--"+slug(id), view); err != nil {
			return err
		}
		if err := w.writeViewLists(view); err != nil {
			return err
		}
	}
	for _, key := range sortedKeys(data.Buildroots) {
		if err := w.writeJSON("buildroot--"+slug(key), data.Buildroots[key]); err != nil {
			return err
		}
	}
	for _, id := range sortedKeys(data.ViewsAllArches) {
		merged := data.ViewsAllArches[id]
		if err := w.writeJSON("view-all-arches--"+slug(id), merged); err != nil {
			return err
		}
		if err := w.writeJSON("view-sources--"+slug(id), merged.SourcesByName); err != nil {
			return err
		}
		if err := w.writeJSON("view-workloads--"+slug(id), merged.Workloads); err != nil {
			return err
		}
	}
	if err := w.writeMaintainers(data); err != nil {
		return err
	}

	logrus.Infof("Artifacts written to %s", w.Dir)
	return nil
}

// writeViewLists emits the plain text package lists consumed by tooling that
// does not want to parse the full JSON.
func (w *Writer) writeViewLists(view *analysis.View) error {
	var binary, runtime, buildroot, sources []string
	for pkgID, vp := range view.Packages {
		binary = append(binary, pkgID)
		if vp.InRuntime() {
			runtime = append(runtime, pkgID)
		} else {
			buildroot = append(buildroot, pkgID)
		}
	}
	for srpmID := range view.SourcePackages {
		sources = append(sources, srpmID)
	}
	sort.Strings(binary)
	sort.Strings(runtime)
	sort.Strings(buildroot)
	sort.Strings(sources)

	base := slug(view.ID())
	if err := w.writeText("view-binary-package-list--"+base, binary); err != nil {
		return err
	}
	if err := w.writeText("view-runtime-package-list--"+base, runtime); err != nil {
		return err
	}
	if err := w.writeText("view-buildroot-package-list--"+base, buildroot); err != nil {
		return err
	}
	return w.writeText("view-source-package-list--"+base, sources)
}

// maintainerEntry is one source package a maintainer is recommended for.
type maintainerEntry struct {
	ViewConfID string `json:"view_conf_id"`
	SourceName string `json:"source_name"`
}

// writeMaintainers emits the reverse index: maintainer -> recommended source
// packages across all views.
func (w *Writer) writeMaintainers(data *analysis.Data) error {
	byMaintainer := make(map[string][]maintainerEntry)
	for _, viewID := range sortedKeys(data.ViewsAllArches) {
		merged := data.ViewsAllArches[viewID]
		for _, name := range sortedKeys(merged.SourcesByName) {
			src := merged.SourcesByName[name]
			if src.Recommended == "" {
				continue
			}
			byMaintainer[src.Recommended] = append(byMaintainer[src.Recommended], maintainerEntry{
				ViewConfID: merged.ViewConfID,
				SourceName: src.Name,
			})
		}
	}
	return w.writeJSON("maintainers", byMaintainer)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
