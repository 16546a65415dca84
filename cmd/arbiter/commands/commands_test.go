package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwm126/anaconda-recipes/pkg/engine"
	"github.com/mwm126/anaconda-recipes/pkg/recipes"
	"github.com/mwm126/anaconda-recipes/pkg/stores"
)

const zlibManifest = `package:
  name: zlib
  version: 1.2.8
source:
  fn: zlib-1.2.8.tar.gz
  sha256: 36658cb768a54c1d4dec43c3116c27ed893e88b02ecfcb44f2166f9c0b7f2a0d
  patches:
    - fix-win.patch [win]
    - common.patch
about:
  home: http://zlib.net/
  license: zlib
`

const libpngManifest = `package:
  name: libpng
  version: 1.6.21
source:
  fn: libpng-1.6.21.tar.gz
  sha256: b36a3c124622c8e1647f360424371394284f4c6c4b384593e478666c59ff42d3
build:
  requirements:
    - zlib
    - python
run:
  requirements:
    - zlib
about:
  home: http://www.libpng.org/
  license: zlib/libpng
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// recipeTree writes a zlib and a libpng recipe and returns the root.
func recipeTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "zlib", "meta.yaml"), zlibManifest)
	writeFile(t, filepath.Join(root, "libpng-recipe", "recipe", "meta.yaml"), libpngManifest)
	return root
}

// writeConfigFile writes a config that keeps logs out of the test output.
func writeConfigFile(t *testing.T, extra string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "arbiter.yaml")
	writeFile(t, path, "telemetry:\n  logging:\n    level: error\n"+extra)
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand("test", "none", "today")
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestPlan_JSON(t *testing.T) {
	root := recipeTree(t)
	cfg := writeConfigFile(t, "")

	out, err := run(t, "plan", "-c", cfg, "--json", "--target", "linux", root)
	require.NoError(t, err)

	var plan engine.BuildPlan
	require.NoError(t, json.Unmarshal([]byte(out), &plan))

	assert.Equal(t, engine.PlatformLinux, plan.Target)
	require.Len(t, plan.Steps, 2)
	assert.Equal(t, "zlib", plan.Steps[0].Recipe.Name)
	assert.Equal(t, "libpng", plan.Steps[1].Recipe.Name)
	assert.Equal(t, []engine.PatchRef{{Path: "common.patch"}}, plan.Steps[0].Patches)

	require.Len(t, plan.External, 1)
	assert.Equal(t, "python", plan.External[0].Name)
}

func TestPlan_WritesFiles(t *testing.T) {
	root := recipeTree(t)
	dir := t.TempDir()
	outFile := filepath.Join(dir, "plan.json")
	dotFile := filepath.Join(dir, "plan.dot")
	metricsFile := filepath.Join(dir, "arbiter.prom")

	out, err := run(t, "plan", "-c", writeConfigFile(t, ""), "--target", "win",
		"--out", outFile, "--dot", dotFile, "--metrics-file", metricsFile, root)
	require.NoError(t, err)
	assert.Contains(t, out, "2 recipe(s) in 2 stage(s)")
	assert.Contains(t, out, "fix-win.patch, common.patch")

	data, err := os.ReadFile(outFile)
	require.NoError(t, err)
	var plan engine.BuildPlan
	require.NoError(t, json.Unmarshal(data, &plan))
	assert.Equal(t, engine.PlatformWin, plan.Target)

	dot, err := os.ReadFile(dotFile)
	require.NoError(t, err)
	assert.Contains(t, string(dot), "digraph")

	metrics, err := os.ReadFile(metricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(metrics), `arbiter_plans_computed_total{result="success",target="win"} 1`)
}

func TestPlan_Cycle(t *testing.T) {
	root := t.TempDir()
	cyclic := func(name, dep string) string {
		return "name: " + name + "\nversion: '1.0'\nsource:\n  md5: 0123456789abcdef0123456789abcdef\n" +
			"build:\n  requirements:\n    - " + dep + "\n"
	}
	writeFile(t, filepath.Join(root, "a", "meta.yaml"), cyclic("a", "b"))
	writeFile(t, filepath.Join(root, "b", "meta.yaml"), cyclic("b", "a"))

	_, err := run(t, "plan", "-c", writeConfigFile(t, ""), "--target", "linux", root)
	require.Error(t, err)
	require.True(t, errors.Is(err, engine.ErrCyclicDependency), "got %v", err)

	cycle, ok := engine.CyclePath(err)
	require.True(t, ok)
	assert.Equal(t, []engine.RecipeID{{Name: "a", Version: "1.0"}, {Name: "b", Version: "1.0"}, {Name: "a", Version: "1.0"}}, cycle)
}

func TestPlan_MalformedManifest(t *testing.T) {
	root := recipeTree(t)
	writeFile(t, filepath.Join(root, "broken", "meta.yaml"), "name: broken\n")

	_, err := run(t, "plan", "-c", writeConfigFile(t, ""), "--target", "linux", root)
	require.Error(t, err)
	assert.True(t, errors.Is(err, engine.ErrMalformedManifest))
}

func TestPlan_UnknownTarget(t *testing.T) {
	_, err := run(t, "plan", "-c", writeConfigFile(t, ""), "--target", "beos", recipeTree(t))
	require.Error(t, err)
	assert.True(t, errors.Is(err, engine.ErrUnknownPlatform))
}

func TestPlanStoreAndHistory(t *testing.T) {
	root := recipeTree(t)
	cfg := writeConfigFile(t, "")
	db := filepath.Join(t.TempDir(), "plans.db")

	out, err := run(t, "plan", "-c", cfg, "--json", "--target", "osx", "--store", db, root)
	require.NoError(t, err)
	var plan engine.BuildPlan
	require.NoError(t, json.Unmarshal([]byte(out), &plan))

	out, err = run(t, "history", "-c", cfg, "--json", "--store", db)
	require.NoError(t, err)
	var plans []engine.PlanSummary
	require.NoError(t, json.Unmarshal([]byte(out), &plans))
	require.Len(t, plans, 1)
	assert.Equal(t, plan.ID, plans[0].ID)
	assert.Equal(t, 2, plans[0].Recipes)
	assert.Equal(t, 1, plans[0].External)

	out, err = run(t, "history", "-c", cfg, "--json", "--store", db, "--recipe", "libpng")
	require.NoError(t, err)
	var uses []stores.RecipeUse
	require.NoError(t, json.Unmarshal([]byte(out), &uses))
	require.Len(t, uses, 1)
	assert.Equal(t, "1.6.21", uses[0].Version)
	assert.Equal(t, 1, uses[0].Position)

	_, err = run(t, "history", "-c", cfg, "--store", db, "--delete", plan.ID)
	require.NoError(t, err)
	_, err = run(t, "history", "-c", cfg, "--store", db, "--plan", plan.ID)
	assert.True(t, errors.Is(err, stores.ErrNotFound))
}

func TestHistory_RequiresStore(t *testing.T) {
	_, err := run(t, "history", "-c", writeConfigFile(t, ""))
	assert.Error(t, err)
}

func TestPatches_All(t *testing.T) {
	root := recipeTree(t)

	out, err := run(t, "patches", "-c", writeConfigFile(t, ""), "--json", "--all", filepath.Join(root, "zlib"))
	require.NoError(t, err)

	var sets []patchSet
	require.NoError(t, json.Unmarshal([]byte(out), &sets))
	require.Len(t, sets, 3)

	byTarget := map[engine.Platform]int{}
	for _, s := range sets {
		byTarget[s.Target] = len(s.Patches)
	}
	assert.Equal(t, map[engine.Platform]int{
		engine.PlatformLinux: 1,
		engine.PlatformOSX:   1,
		engine.PlatformWin:   2,
	}, byTarget)
}

func TestValidate(t *testing.T) {
	root := recipeTree(t)
	cfg := writeConfigFile(t, "")

	out, err := run(t, "validate", "-c", cfg, "--target", "linux", root)
	require.NoError(t, err)
	assert.Contains(t, out, "Validated 2 recipe(s) for linux")

	writeFile(t, filepath.Join(root, "nolicense", "meta.yaml"),
		"name: nolicense\nversion: '1.0'\nsource:\n  sha256: 36658cb768a54c1d4dec43c3116c27ed893e88b02ecfcb44f2166f9c0b7f2a0d\nabout:\n  home: https://example.org\n")

	out, err = run(t, "validate", "-c", cfg, "--json", "--target", "linux", root)
	require.NoError(t, err)
	var report validationReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	require.Len(t, report.Warnings, 1)
	assert.Equal(t, engine.WarnCodePolicyViolation, report.Warnings[0].Code)
	assert.Equal(t, "nolicense@1.0", report.Warnings[0].Recipe)

	_, err = run(t, "validate", "-c", cfg, "--strict", "--target", "linux", root)
	assert.Error(t, err, "strict mode fails on warnings")

	disabled := writeConfigFile(t, "policy:\n  disabled: [license]\n")
	_, err = run(t, "validate", "-c", disabled, "--strict", "--target", "linux", root)
	assert.NoError(t, err)

	writeFile(t, filepath.Join(root, "broken", "meta.yaml"), "name: broken\nsource:\n  patches:\n    - a.patch [beos]\n")
	_, err = run(t, "validate", "-c", cfg, "--target", "linux", root)
	assert.Error(t, err)
}

func TestDiff(t *testing.T) {
	left := recipeTree(t)
	right := recipeTree(t)
	writeFile(t, filepath.Join(right, "zlib", "meta.yaml"), zlibManifest+"extra:\n  note: changed\n")
	writeFile(t, filepath.Join(right, "qt", "meta.yaml"), "name: qt\n")

	out, err := run(t, "diff", "--json", left, right)
	require.NoError(t, err)

	var d recipes.Diff
	require.NoError(t, json.Unmarshal([]byte(out), &d))
	assert.Equal(t, []string{"zlib"}, d.Changed())
	assert.Empty(t, d.OnlyLeft())
	assert.Equal(t, []string{"qt"}, d.OnlyRight())
}

func TestBuild_DryRun(t *testing.T) {
	cfg := writeConfigFile(t, "build:\n  command: \"make {{.Name}}-{{.Version}} TARGET={{.Target}}\"\n")

	out, err := run(t, "build", "-c", cfg, "--dry-run", "--target", "osx", recipeTree(t))
	require.NoError(t, err)
	assert.Contains(t, out, "make zlib-1.2.8 TARGET=osx")
	assert.Contains(t, out, "make libpng-1.6.21 TARGET=osx")
}

func TestBuild_RecordsRun(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skipf("sh not available: %v", err)
	}

	logFile := filepath.Join(t.TempDir(), "build.log")
	cfg := writeConfigFile(t, "build:\n  command: 'echo $ARBITER_RECIPE >> \"$BUILD_LOG\"'\n  env:\n    BUILD_LOG: "+logFile+"\n")
	db := filepath.Join(t.TempDir(), "plans.db")

	out, err := run(t, "build", "-c", cfg, "--json", "--no-fetch", "--target", "linux", "--store", db, recipeTree(t))
	require.NoError(t, err)

	var res buildOutput
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.NotNil(t, res.Result)
	assert.Len(t, res.Result.Built, 2)

	log, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Equal(t, "zlib\nlibpng\n", string(log))

	s, err := stores.Open(context.Background(), db)
	require.NoError(t, err)
	defer s.Close()

	runs, err := s.ListRuns(context.Background(), res.Plan.ID)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, stores.RunStatusCompleted, runs[0].Status)
	assert.Equal(t, 2, runs[0].Built)
}

func TestBuild_FailureStops(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skipf("sh not available: %v", err)
	}

	cfg := writeConfigFile(t, "build:\n  command: 'test {{.Name}} != zlib'\n")

	out, err := run(t, "build", "-c", cfg, "--json", "--no-fetch", "--target", "linux", recipeTree(t))
	require.Error(t, err)
	assert.True(t, errors.Is(err, engine.ErrBuildFailed))

	var res buildOutput
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.NotNil(t, res.Result.Failed)
	assert.Equal(t, "zlib", res.Result.Failed.Name)
	assert.Empty(t, res.Result.Built)
}
