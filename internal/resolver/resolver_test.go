package resolver

import (
	"context"
	"reflect"
	"testing"

	"github.com/pkgset/pkgset/internal/catalog"
	"github.com/pkgset/pkgset/internal/models"
)

func testCatalog() *catalog.Catalog {
	cat := catalog.New()
	add := func(name string, requires, provides, recommends []string, repoName string) {
		cat.Add("fedora", "x86_64", &models.Package{
			Name:       name,
			EVR:        "1-1",
			Arch:       "x86_64",
			SourceRPM:  name + "-1-1.src.rpm",
			SourceName: name,
			RepoName:   repoName,
			Requires:   requires,
			Provides:   provides,
			Recommends: recommends,
		})
	}
	add("bash", []string{"glibc", "/bin/sh-provider"}, []string{"/bin/sh"}, nil, "base")
	add("glibc", nil, nil, nil, "base")
	add("httpd", []string{"glibc", "httpd-filesystem"}, nil, []string{"mod_ssl"}, "base")
	add("httpd-filesystem", nil, nil, nil, "base")
	add("mod_ssl", []string{"httpd"}, nil, nil, "base")
	// Two providers of the same capability in differently prioritised sources.
	add("cronie", nil, []string{"crontabs-runner"}, nil, "base")
	add("cronie-alt", nil, []string{"crontabs-runner"}, nil, "updates")
	return cat
}

func newTestSnapshot() *Snapshot {
	s := NewSnapshot(testCatalog())
	s.SetPriority("fedora", "base", 50)
	s.SetPriority("fedora", "updates", 40)
	return s
}

func TestSnapshotResolveClosure(t *testing.T) {
	s := newTestSnapshot()
	res, err := s.Resolve(context.Background(), Request{
		RepoID:   "fedora",
		Arch:     "x86_64",
		Packages: []string{"bash"},
	})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	ids := make([]string, 0, len(res.Installed))
	for _, pkg := range res.Installed {
		ids = append(ids, pkg.ID())
	}
	want := []string{"bash-1-1.x86_64", "glibc-1-1.x86_64"}
	if !reflect.DeepEqual(ids, want) {
		t.Errorf("Expected %v, got %v", want, ids)
	}
	if len(res.Unresolved) != 0 {
		t.Errorf("Unexpected unresolved: %v", res.Unresolved)
	}

	foundEdge := false
	for _, edge := range res.Edges {
		if edge.Requirer == "bash-1-1.x86_64" && edge.Required == "glibc-1-1.x86_64" && edge.Kind == DepHard {
			foundEdge = true
		}
	}
	if !foundEdge {
		t.Errorf("Missing bash->glibc hard edge: %v", res.Edges)
	}
}

func TestSnapshotResolveWeakDeps(t *testing.T) {
	s := newTestSnapshot()

	without, err := s.Resolve(context.Background(), Request{
		RepoID: "fedora", Arch: "x86_64", Packages: []string{"httpd"},
	})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	for _, pkg := range without.Installed {
		if pkg.Name == "mod_ssl" {
			t.Errorf("mod_ssl installed without weak deps enabled")
		}
	}

	with, err := s.Resolve(context.Background(), Request{
		RepoID: "fedora", Arch: "x86_64", Packages: []string{"httpd"},
		Options: Options{IncludeWeakDeps: true},
	})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	found := false
	for _, pkg := range with.Installed {
		if pkg.Name == "mod_ssl" {
			found = true
		}
	}
	if !found {
		t.Errorf("mod_ssl not pulled in by recommends")
	}
}

func TestSnapshotResolveUnresolved(t *testing.T) {
	s := newTestSnapshot()
	res, err := s.Resolve(context.Background(), Request{
		RepoID:   "fedora",
		Arch:     "x86_64",
		Packages: []string{"bash", "no-such-package"},
	})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !reflect.DeepEqual(res.Unresolved, []string{"no-such-package"}) {
		t.Errorf("Expected unresolved [no-such-package], got %v", res.Unresolved)
	}
}

func TestSnapshotProviderPriority(t *testing.T) {
	s := newTestSnapshot()
	res, err := s.Resolve(context.Background(), Request{
		RepoID:   "fedora",
		Arch:     "x86_64",
		Packages: []string{"crontabs-runner"},
	})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(res.Installed) != 1 || res.Installed[0].Name != "cronie-alt" {
		t.Errorf("Expected lower-priority-number source to win, got %v", res.Installed)
	}
}

func TestFingerprintStability(t *testing.T) {
	a := Request{RepoID: "r", Arch: "a", Packages: []string{"x", "y"}}
	b := Request{RepoID: "r", Arch: "a", Packages: []string{"y", "x"}}
	if a.Fingerprint() != b.Fingerprint() {
		t.Errorf("Fingerprint should not depend on package order")
	}
	c := Request{RepoID: "r", Arch: "a", Packages: []string{"x", "y"}, Options: Options{IncludeWeakDeps: true}}
	if a.Fingerprint() == c.Fingerprint() {
		t.Errorf("Fingerprint should depend on options")
	}
}

// countingResolver counts how often the inner resolver actually runs.
type countingResolver struct {
	inner Resolver
	calls int
}

func (c *countingResolver) Resolve(ctx context.Context, req Request) (*Result, error) {
	c.calls++
	return c.inner.Resolve(ctx, req)
}

func TestCachedResolver(t *testing.T) {
	counter := &countingResolver{inner: newTestSnapshot()}
	cached, err := NewCached(counter, 16, "")
	if err != nil {
		t.Fatalf("NewCached failed: %v", err)
	}

	req := Request{RepoID: "fedora", Arch: "x86_64", Packages: []string{"bash"}}
	first, err := cached.Resolve(context.Background(), req)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	second, err := cached.Resolve(context.Background(), req)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if counter.calls != 1 {
		t.Errorf("Expected 1 inner call, got %d", counter.calls)
	}
	if first != second {
		t.Errorf("Expected the cached result to be shared")
	}

	other := Request{RepoID: "fedora", Arch: "x86_64", Packages: []string{"httpd"}}
	if _, err := cached.Resolve(context.Background(), other); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if counter.calls != 2 {
		t.Errorf("Expected 2 inner calls, got %d", counter.calls)
	}
}

func TestCachedResolverDiskLayer(t *testing.T) {
	dir := t.TempDir()
	req := Request{RepoID: "fedora", Arch: "x86_64", Packages: []string{"bash"}}

	counter := &countingResolver{inner: newTestSnapshot()}
	first, err := NewCached(counter, 16, dir)
	if err != nil {
		t.Fatalf("NewCached failed: %v", err)
	}
	if _, err := first.Resolve(context.Background(), req); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	// A fresh instance over the same directory must serve from disk.
	second, err := NewCached(counter, 16, dir)
	if err != nil {
		t.Fatalf("NewCached failed: %v", err)
	}
	res, err := second.Resolve(context.Background(), req)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if counter.calls != 1 {
		t.Errorf("Expected disk hit, inner called %d times", counter.calls)
	}
	if len(res.Installed) != 2 {
		t.Errorf("Disk round-trip lost packages: %v", res.Installed)
	}
}
