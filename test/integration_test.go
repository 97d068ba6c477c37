package test

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"

	"github.com/pkgset/pkgset/internal/cli"
)

const integrationPrimary = `<?xml version="1.0" encoding="UTF-8"?>
<metadata xmlns="http://linux.duke.edu/metadata/common" xmlns:rpm="http://linux.duke.edu/metadata/rpm" packages="4">
  <package type="rpm">
    <name>glibc</name>
    <arch>x86_64</arch>
    <version epoch="0" ver="2.39" rel="1.fc40"/>
    <summary>The GNU libc</summary>
    <description>libc</description>
    <size package="1" installed="5000000" archive="1"/>
    <format>
      <rpm:sourcerpm>glibc-2.39-1.fc40.src.rpm</rpm:sourcerpm>
      <rpm:provides><rpm:entry name="glibc"/></rpm:provides>
    </format>
  </package>
  <package type="rpm">
    <name>bash</name>
    <arch>x86_64</arch>
    <version epoch="0" ver="5.2" rel="1.fc40"/>
    <summary>The shell</summary>
    <description>shell</description>
    <size package="1" installed="8000000" archive="1"/>
    <format>
      <rpm:sourcerpm>bash-5.2-1.fc40.src.rpm</rpm:sourcerpm>
      <rpm:provides><rpm:entry name="bash"/></rpm:provides>
      <rpm:requires><rpm:entry name="glibc"/></rpm:requires>
    </format>
  </package>
  <package type="rpm">
    <name>apr</name>
    <arch>x86_64</arch>
    <version epoch="0" ver="1.7" rel="1.fc40"/>
    <summary>Portable runtime</summary>
    <description>apr</description>
    <size package="1" installed="300000" archive="1"/>
    <format>
      <rpm:sourcerpm>apr-1.7-1.fc40.src.rpm</rpm:sourcerpm>
      <rpm:provides><rpm:entry name="apr"/></rpm:provides>
      <rpm:requires><rpm:entry name="glibc"/></rpm:requires>
    </format>
  </package>
  <package type="rpm">
    <name>httpd</name>
    <arch>x86_64</arch>
    <version epoch="0" ver="2.4" rel="1.fc40"/>
    <summary>Web server</summary>
    <description>httpd</description>
    <size package="1" installed="2000000" archive="1"/>
    <format>
      <rpm:sourcerpm>httpd-2.4-1.fc40.src.rpm</rpm:sourcerpm>
      <rpm:provides><rpm:entry name="httpd"/></rpm:provides>
      <rpm:requires><rpm:entry name="glibc"/><rpm:entry name="apr"/></rpm:requires>
    </format>
  </package>
</metadata>
`

// writeRepo lays out an rpm-md repository snapshot on disk.
func writeRepo(t *testing.T, dir string) {
	t.Helper()
	repodata := filepath.Join(dir, "repodata")
	if err := os.MkdirAll(repodata, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	primaryPath := filepath.Join(repodata, "primary.xml.gz")
	f, err := os.Create(primaryPath)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	gz := gzip.NewWriter(f)
	if _, err := gz.Write([]byte(integrationPrimary)); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	raw, err := os.ReadFile(primaryPath)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	sum := sha256.Sum256(raw)
	repomd := `<?xml version="1.0"?>
<repomd xmlns="http://linux.duke.edu/metadata/repo">
  <data type="primary">
    <checksum type="sha256">` + hex.EncodeToString(sum[:]) + `</checksum>
    <location href="repodata/primary.xml.gz"/>
  </data>
</repomd>
`
	if err := os.WriteFile(filepath.Join(repodata, "repomd.xml"), []byte(repomd), 0644); err != nil {
		t.Fatalf("write repomd: %v", err)
	}
}

func writeConfigs(t *testing.T, dir, repoDir string) {
	t.Helper()
	write := func(name, content string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	write("repo-main.yaml", `
document: repository
version: 1
data:
  name: Main repository
  maintainer: releng
  source:
    releasever: "40"
    architectures: [x86_64]
    base_buildroot_override: [bash]
    repos:
      base:
        baseurl: `+repoDir+`
        priority: 50
`)
	write("label-core.yaml", `
document: label
version: 1
data:
  name: Core
  maintainer: releng
`)
	write("env-minimal.yaml", `
document: environment
version: 1
data:
  name: Minimal
  maintainer: releng
  repositories: [repo-main]
  packages: [bash]
  labels: [label-core]
`)
	write("workload-web.yaml", `
document: workload
version: 1
data:
  name: Web server
  maintainer: web-sig
  packages: [httpd]
  labels: [label-core]
`)
	write("view-core.yaml", `
document: view
version: 1
data:
  name: Core view
  repository: repo-main
  labels: [label-core]
  buildroot_strategy: root_logs
`)
}

// TestAnalyzeEndToEnd runs the analyze command against an on-disk repository
// snapshot and configuration directory, then checks the emitted artifacts.
func TestAnalyzeEndToEnd(t *testing.T) {
	repoDir := t.TempDir()
	writeRepo(t, repoDir)

	configDir := t.TempDir()
	writeConfigs(t, configDir, repoDir)

	outputDir := t.TempDir()

	cmd := cli.NewRootCmd()
	cmd.SetArgs([]string{
		"analyze",
		"--config-dir", configDir,
		"--output-dir", outputDir,
		"--dev-buildroot",
		"--history-dir", filepath.Join(outputDir, "history"),
	})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("analyze failed: %v", err)
	}

	// Workload artifact: httpd and apr added on top of the bash environment.
	raw, err := os.ReadFile(filepath.Join(outputDir, "workload--workload-web--env-minimal--repo-main--x86_64.json"))
	if err != nil {
		t.Fatalf("workload artifact missing: %v", err)
	}
	var workload struct {
		Succeeded bool     `json:"succeeded"`
		EnvIDs    []string `json:"pkg_env_ids"`
		AddedIDs  []string `json:"pkg_added_ids"`
	}
	if err := json.Unmarshal(raw, &workload); err != nil {
		t.Fatalf("workload artifact invalid: %v", err)
	}
	if !workload.Succeeded {
		t.Errorf("workload should have resolved")
	}
	if len(workload.EnvIDs) != 2 {
		t.Errorf("expected bash and glibc from the environment, got %v", workload.EnvIDs)
	}
	if len(workload.AddedIDs) != 2 {
		t.Errorf("expected httpd and apr added, got %v", workload.AddedIDs)
	}

	// View artifacts, including the plain text lists.
	for _, name := range []string{
		"view-packages--view-core--x86_64.json",
		"view-binary-package-list--view-core--x86_64.txt",
		"view-all-arches--view-core.json",
		"buildroot--repo-main--x86_64.json",
		"maintainers.json",
	} {
		if _, err := os.Stat(filepath.Join(outputDir, name)); err != nil {
			t.Errorf("artifact %s missing: %v", name, err)
		}
	}

	// History samples recorded for the workload.
	if _, err := os.Stat(filepath.Join(outputDir, "history",
		"history--workload--workload-web--env-minimal--repo-main--x86_64.json")); err != nil {
		t.Errorf("history sample missing: %v", err)
	}

	// View samples carry the full (date, count, size) triple.
	raw, err = os.ReadFile(filepath.Join(outputDir, "history",
		"history--view--view-core--x86_64.json"))
	if err != nil {
		t.Fatalf("view history sample missing: %v", err)
	}
	var samples []struct {
		Date        string `json:"date"`
		Packages    int    `json:"pkg_count"`
		InstallSize int64  `json:"installsize"`
	}
	if err := json.Unmarshal(raw, &samples); err != nil {
		t.Fatalf("view history invalid: %v", err)
	}
	if len(samples) != 1 || samples[0].Packages == 0 {
		t.Fatalf("expected one populated sample, got %+v", samples)
	}
	if samples[0].InstallSize == 0 {
		t.Errorf("view sample should sum package install sizes: %+v", samples[0])
	}
}
