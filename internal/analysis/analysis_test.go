package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/pkgset/pkgset/internal/catalog"
	"github.com/pkgset/pkgset/internal/models"
	"github.com/pkgset/pkgset/internal/resolver"
)

// fakeLookup serves build dependency facts from a map. A source package
// without an entry fails the lookup, like missing root logs would.
type fakeLookup struct {
	facts map[string][]string
}

func (f *fakeLookup) DirectBuildDeps(ctx context.Context, sourceName, repoID, arch string) ([]string, error) {
	deps, ok := f.facts[sourceName]
	if !ok {
		return nil, &models.AnalysisError{
			Type:   models.ErrBuildrootLookup,
			Entity: sourceName,
			Err:    fmt.Errorf("no build facts for %s", sourceName),
		}
	}
	return deps, nil
}

func testWorld(t *testing.T) (*models.ConfigSet, *catalog.Catalog, resolver.Resolver, *fakeLookup) {
	t.Helper()

	cat := catalog.New()
	add := func(name string, requires ...string) {
		cat.Add("repo-main", "x86_64", &models.Package{
			Name:        name,
			EVR:         "1-1",
			Arch:        "x86_64",
			InstallSize: 1000,
			SourceRPM:   name + "-1-1.src.rpm",
			SourceName:  name,
			RepoName:    "base",
			Requires:    requires,
		})
	}
	add("glibc")
	add("bash", "glibc")
	add("apr", "glibc")
	add("httpd", "glibc", "apr")
	add("libx", "glibc")
	add("pkgy", "libx")
	add("gcc", "glibc")
	add("make", "glibc")

	confs := models.NewConfigSet()
	confs.Repos["repo-main"] = &models.RepoConfig{
		ID:   "repo-main",
		Name: "Main repository",
		Source: models.RepoSource{
			Architectures:         []string{"x86_64"},
			BaseBuildrootOverride: []string{"bash"},
		},
	}
	confs.Labels["label-test"] = &models.LabelConfig{ID: "label-test", Name: "Test"}
	confs.Envs["env-base"] = &models.EnvConfig{
		ID:           "env-base",
		Name:         "Base environment",
		Repositories: []string{"repo-main"},
		Packages:     []string{"bash"},
		Labels:       []string{"label-test"},
	}
	confs.Workloads["w-http"] = &models.WorkloadConfig{
		ID:         "w-http",
		Name:       "Web server",
		Maintainer: "web",
		Packages:   []string{"httpd"},
		Labels:     []string{"label-test"},
	}
	confs.Workloads["w1"] = &models.WorkloadConfig{
		ID:         "w1",
		Name:       "Direct libx user",
		Maintainer: "alice",
		Packages:   []string{"libx"},
		Labels:     []string{"label-test"},
	}
	confs.Workloads["w2"] = &models.WorkloadConfig{
		ID:         "w2",
		Name:       "Transitive libx user",
		Maintainer: "bob",
		Packages:   []string{"pkgy"},
		Labels:     []string{"label-test"},
	}
	confs.Unwanteds["list-bad"] = &models.UnwantedConfig{
		ID:             "list-bad",
		Name:           "Unwanted",
		Packages:       []string{"apr", "gcc"},
		SourcePackages: []string{"gcc"},
	}
	confs.Views["view-main"] = &models.ViewConfig{
		ID:                "view-main",
		Name:              "Main view",
		Repository:        "repo-main",
		Labels:            []string{"label-test"},
		BuildrootStrategy: models.BuildrootRootLogs,
		UnwantedLists:     []string{"list-bad"},
	}

	lookup := &fakeLookup{facts: map[string][]string{
		"httpd": {"gcc"},
		"gcc":   {"make"},
		"make":  {"gcc"}, // build dependency cycle
		"bash":  {},
		"glibc": {},
		"libx":  {},
		"pkgy":  {},
		// apr intentionally missing: lookup failure must stay isolated
	}}

	return confs, cat, resolver.NewSnapshot(cat), lookup
}

func runAnalyzer(t *testing.T) *Data {
	t.Helper()
	confs, cat, rslv, lookup := testWorld(t)
	analyzer := &Analyzer{
		Configs:   confs,
		Catalog:   cat,
		Resolver:  rslv,
		BuildDeps: lookup,
	}
	data, err := analyzer.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	return data
}

func TestEnvironmentStrictVsLenient(t *testing.T) {
	confs, _, rslv, _ := testWorld(t)
	conf := *confs.Envs["env-base"]
	conf.Packages = []string{"bash", "no-such-package"}

	conf.Options.Strict = true
	env := ResolveEnvironment(context.Background(), rslv, &conf, "repo-main", "x86_64")
	if env.Succeeded {
		t.Errorf("Strict environment with a missing package must fail")
	}
	if len(env.Errors.MissingPackages) != 1 || env.Errors.MissingPackages[0] != "no-such-package" {
		t.Errorf("Missing packages not recorded: %+v", env.Errors)
	}
	if env.Errors.Type != models.ErrMissingPackage {
		t.Errorf("Expected MissingPackage category, got %s", env.Errors.Type)
	}

	conf.Options.Strict = false
	env = ResolveEnvironment(context.Background(), rslv, &conf, "repo-main", "x86_64")
	if !env.Succeeded {
		t.Fatalf("Lenient environment must succeed: %+v", env.Errors)
	}
	if len(env.Warnings.MissingPackages) != 1 {
		t.Errorf("Missing package not recorded as warning: %+v", env.Warnings)
	}
	if env.Warnings.Type != models.ErrMissingPackage {
		t.Errorf("Expected MissingPackage category on the warning, got %s", env.Warnings.Type)
	}
	if len(env.PackageIDs) != 2 {
		t.Errorf("Expected bash and glibc, got %v", env.PackageIDs)
	}
}

func TestWorkloadEnvSubset(t *testing.T) {
	confs, _, rslv, _ := testWorld(t)
	envConf := confs.Envs["env-base"]
	env := ResolveEnvironment(context.Background(), rslv, envConf, "repo-main", "x86_64")
	if !env.Succeeded {
		t.Fatalf("environment failed: %+v", env.Errors)
	}

	wl := ResolveWorkload(context.Background(), rslv, confs.Workloads["w-http"], envConf, env)
	if !wl.Succeeded {
		t.Fatalf("workload failed: %+v", wl.Errors)
	}
	for _, id := range wl.EnvPackageIDs {
		if !env.Contains(id) {
			t.Errorf("Inherited package %s is not in the environment", id)
		}
	}
	added := NewIDSet(wl.AddedPackageIDs...)
	if !added.Has("httpd-1-1.x86_64") || !added.Has("apr-1-1.x86_64") {
		t.Errorf("Expected httpd and apr as added, got %v", wl.AddedPackageIDs)
	}
	for _, id := range wl.AddedPackageIDs {
		if env.Contains(id) {
			t.Errorf("Added package %s is already in the environment", id)
		}
	}
}

func TestWorkloadFailsFastOnBrokenEnvironment(t *testing.T) {
	confs, _, rslv, _ := testWorld(t)
	envConf := *confs.Envs["env-base"]
	envConf.Packages = []string{"no-such-package"}
	envConf.Options.Strict = true

	env := ResolveEnvironment(context.Background(), rslv, &envConf, "repo-main", "x86_64")
	if env.Succeeded {
		t.Fatalf("environment should have failed")
	}

	wl := ResolveWorkload(context.Background(), rslv, confs.Workloads["w-http"], &envConf, env)
	if wl.Succeeded || wl.EnvSucceeded {
		t.Errorf("Workload on a failed environment must fail fast")
	}
	if wl.Errors.Message == "" {
		t.Errorf("Expected an error message naming the environment")
	}
	if wl.Errors.Type != models.ErrUpstreamEnvironment {
		t.Errorf("Expected UpstreamEnvironmentFailure category, got %s", wl.Errors.Type)
	}
}

func TestViewRuntimeAttribution(t *testing.T) {
	data := runAnalyzer(t)
	view := data.Views[ViewID("view-main", "x86_64")]
	if view == nil {
		t.Fatalf("view not built; have %v", data.Views)
	}

	wlHTTP := WorkloadID("w-http", "env-base", "repo-main", "x86_64")

	httpd := view.Packages["httpd-1-1.x86_64"]
	if httpd == nil {
		t.Fatalf("httpd not in view")
	}
	if !httpd.Levels[0].Req.Has(wlHTTP) {
		t.Errorf("httpd should be required by %s: %+v", wlHTTP, httpd.Levels[0])
	}

	apr := view.Packages["apr-1-1.x86_64"]
	if apr == nil {
		t.Fatalf("apr not in view")
	}
	if !apr.Levels[0].Dep.Has(wlHTTP) || apr.Levels[0].Req.Has(wlHTTP) {
		t.Errorf("apr should be a dependency, not required: %+v", apr.Levels[0])
	}

	bash := view.Packages["bash-1-1.x86_64"]
	if bash == nil {
		t.Fatalf("bash not in view")
	}
	if !bash.Levels[0].Env.Has(wlHTTP) {
		t.Errorf("bash should be attributed to the environment: %+v", bash.Levels[0])
	}
}

func TestBuildrootExpansionTerminatesOnCycle(t *testing.T) {
	data := runAnalyzer(t)
	view := data.Views[ViewID("view-main", "x86_64")]

	if view.Warnings.Message != "" {
		t.Fatalf("Unexpected expansion warning: %s", view.Warnings.Message)
	}

	gcc := view.Packages["gcc-1-1.x86_64"]
	if gcc == nil {
		t.Fatalf("gcc not pulled in by buildroot expansion")
	}
	if gcc.InRuntime() {
		t.Errorf("gcc must not have runtime attribution")
	}
	if !gcc.Levels[1].Req.Has("httpd-1-1") {
		t.Errorf("gcc at level 1 should be attributed to httpd's buildroot: %+v", gcc.Levels[1])
	}

	mk := view.Packages["make-1-1.x86_64"]
	if mk == nil {
		t.Fatalf("make not pulled in at level 2")
	}
	if len(mk.Levels) < 3 || !mk.Levels[2].Req.Has("gcc-1-1") {
		t.Errorf("make should appear at level 2 via gcc: %+v", mk.Levels)
	}

	// The gcc<->make cycle must not loop: each source package is expanded
	// exactly once, so gcc just gains a level 3 attribution from make.
	if len(gcc.Levels) < 4 || !gcc.Levels[3].Req.Has("make-1-1") {
		t.Errorf("gcc should gain a level 3 attribution from make: %+v", gcc.Levels)
	}
}

func TestBuildrootLevelsHaveNoOrphans(t *testing.T) {
	data := runAnalyzer(t)
	view := data.Views[ViewID("view-main", "x86_64")]

	for pkgID, vp := range view.Packages {
		for i, level := range vp.Levels {
			if i == 0 || level.Empty() {
				continue
			}
			for srpmID := range level.All {
				vs := view.SourcePackages[srpmID]
				if vs == nil {
					t.Fatalf("%s at level %d attributed to unknown source %s", pkgID, i, srpmID)
				}
				if vs.LevelNumber() >= i {
					t.Errorf("%s at level %d attributed to %s which first appears at level %d",
						pkgID, i, srpmID, vs.LevelNumber())
				}
			}
		}
	}
}

func TestBuildrootLookupFailureIsIsolated(t *testing.T) {
	data := runAnalyzer(t)
	view := data.Views[ViewID("view-main", "x86_64")]

	apr := view.SourcePackages["apr-1-1"]
	if apr == nil {
		t.Fatalf("apr source missing from view")
	}
	if apr.BuildrootResolved {
		t.Errorf("apr has no build facts, its buildroot must be unresolved")
	}
	if apr.BuildrootErrors.Empty() {
		t.Errorf("apr buildroot failure not recorded")
	}
	if apr.BuildrootErrors.Type != models.ErrBuildrootLookup {
		t.Errorf("Expected BuildrootLookupFailure category, got %s", apr.BuildrootErrors.Type)
	}

	// The failure must not have stopped anyone else.
	httpd := view.SourcePackages["httpd-1-1"]
	if httpd == nil || !httpd.BuildrootResolved {
		t.Errorf("httpd buildroot should have resolved despite apr failing")
	}
}

func TestBuildrootDepthGuard(t *testing.T) {
	confs, cat, rslv, lookup := testWorld(t)
	analyzer := &Analyzer{
		Configs:           confs,
		Catalog:           cat,
		Resolver:          rslv,
		BuildDeps:         lookup,
		MaxBuildrootDepth: 1,
	}
	data, err := analyzer.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	view := data.Views[ViewID("view-main", "x86_64")]
	if view.Warnings.Message == "" {
		t.Errorf("Expected a depth-limit warning")
	}
	if !strings.Contains(view.Warnings.Message, "gcc-1-1") {
		t.Errorf("Warning should name the unexpanded sources: %s", view.Warnings.Message)
	}
	if view.Warnings.Type != models.ErrExpansionDepth {
		t.Errorf("Expected ExpansionDepthExceeded category, got %s", view.Warnings.Type)
	}
}

func TestUnwantedTwoLevelSplit(t *testing.T) {
	data := runAnalyzer(t)
	view := data.Views[ViewID("view-main", "x86_64")]

	apr := view.Packages["apr-1-1.x86_64"]
	if !apr.UnwantedCompletely.Has("list-bad") {
		t.Errorf("apr is in runtime and listed, must be unwanted completely")
	}
	if apr.UnwantedBuildroot.Has("list-bad") {
		t.Errorf("apr must not be flagged buildroot-only")
	}

	gcc := view.Packages["gcc-1-1.x86_64"]
	if !gcc.UnwantedBuildroot.Has("list-bad") {
		t.Errorf("gcc is buildroot-only and listed, must be unwanted in buildroot")
	}
	if gcc.UnwantedCompletely.Has("list-bad") {
		t.Errorf("gcc must not be flagged unwanted completely")
	}

	gccSrc := view.SourcePackages["gcc-1-1"]
	if !gccSrc.UnwantedBuildroot.Has("list-bad") {
		t.Errorf("gcc source package should carry the buildroot flag")
	}
}

func TestMaintainerRecommendationTie(t *testing.T) {
	data := runAnalyzer(t)
	merged := data.ViewsAllArches["view-main"]
	if merged == nil {
		t.Fatalf("merged view missing")
	}

	// libx is required directly by w1 (alice) and transitively through pkgy
	// by w2 (bob): one location each, so no single recommendation.
	libx := merged.SourcesByName["libx"]
	if libx == nil {
		t.Fatalf("libx source missing")
	}
	if libx.Recommended != "" {
		t.Errorf("Tie must yield no recommendation, got %q", libx.Recommended)
	}
	if len(libx.Scores) != 2 {
		t.Fatalf("Expected two scored maintainers, got %+v", libx.Scores)
	}
	for _, score := range libx.Scores {
		if score.Locations != 1 {
			t.Errorf("Expected equal scores of 1, got %+v", libx.Scores)
		}
	}

	// pkgy is only wanted by bob.
	pkgy := merged.SourcesByName["pkgy"]
	if pkgy.Recommended != "bob" {
		t.Errorf("Expected bob for pkgy, got %q (%+v)", pkgy.Recommended, pkgy.Scores)
	}

	// alice's direct claim on libx is stronger than bob's transitive one.
	claims := libx.Ownership.Claims
	if _, ok := claims["alice"][ScoreKey{0, 0}]; !ok {
		t.Errorf("alice should hold a direct (0,0) claim: %+v", claims)
	}
	if _, ok := claims["bob"][ScoreKey{0, 1}]; !ok {
		t.Errorf("bob should hold a transitive (0,1) claim: %+v", claims)
	}
}

func TestMergedViewCategories(t *testing.T) {
	data := runAnalyzer(t)
	merged := data.ViewsAllArches["view-main"]

	cases := map[string]string{
		"bash":  CategoryEnv,
		"httpd": CategoryRequired,
		"apr":   CategoryDependency,
		"gcc":   CategoryBuildLevel1,
	}
	for name, want := range cases {
		mp := merged.PkgsByName[name]
		if mp == nil {
			t.Fatalf("%s missing from merged view", name)
		}
		if mp.Category != want {
			t.Errorf("%s: expected category %s, got %s", name, want, mp.Category)
		}
	}
	if merged.Numbers.Runtime != merged.Numbers.Env+merged.Numbers.Required+merged.Numbers.Dependency {
		t.Errorf("Runtime count mismatch: %+v", merged.Numbers)
	}
}

func TestAnalysisIsDeterministic(t *testing.T) {
	first := runAnalyzer(t)
	second := runAnalyzer(t)

	a, err := json.Marshal(first.ViewsAllArches["view-main"])
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	b, err := json.Marshal(second.ViewsAllArches["view-main"])
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(a) != string(b) {
		t.Errorf("Merged view differs between identical runs")
	}

	va := first.Views[ViewID("view-main", "x86_64")]
	vb := second.Views[ViewID("view-main", "x86_64")]
	ids := func(v *View) []string {
		out := make([]string, 0, len(v.Packages))
		for id := range v.Packages {
			out = append(out, id)
		}
		return NewIDSet(out...).Sorted()
	}
	if !reflect.DeepEqual(ids(va), ids(vb)) {
		t.Errorf("View package sets differ between identical runs")
	}
}
