package recipes

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwm126/anaconda-recipes/pkg/engine"
	"github.com/mwm126/anaconda-recipes/pkg/manifest"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func manifestFor(name, version string, build ...string) string {
	doc := "name: " + name + "\nversion: " + version + "\nsource:\n  md5: 0123456789abcdef0123456789abcdef\n"
	if len(build) > 0 {
		doc += "build:\n  requirements:\n"
		for _, b := range build {
			doc += "    - " + b + "\n"
		}
	}
	return doc
}

func TestRecipeName(t *testing.T) {
	tests := []struct {
		dir  string
		want string
	}{
		{"packages/psutil", "psutil"},
		{"AnacondaRecipes/psutil-recipe/recipe", "psutil"},
		{"AnacondaRecipes/scrapy/recipe", "scrapy"},
		{"work/my-recipe-tools-recipe/recipe", "my-recipe-tools"},
		{"qt/", "qt"},
	}

	for _, tt := range tests {
		t.Run(tt.dir, func(t *testing.T) {
			assert.Equal(t, tt.want, RecipeName(tt.dir))
		})
	}
}

func TestDiscover(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "psutil", "meta.yaml"), "a")
	writeFile(t, filepath.Join(root, "ecos-recipe", "recipe", "meta.yaml"), "b")
	writeFile(t, filepath.Join(root, "ecos-recipe", "README.md"), "not a recipe")
	writeFile(t, filepath.Join(root, ".git", "meta.yaml"), "ignored")
	writeFile(t, filepath.Join(root, "scrapy", "build.sh"), "no manifest")

	dirs, err := Discover(root)
	require.NoError(t, err)

	require.Len(t, dirs, 2)
	assert.Equal(t, "ecos", dirs[0].Name)
	assert.Equal(t, filepath.Join(root, "ecos-recipe", "recipe"), dirs[0].Path)
	assert.Equal(t, "psutil", dirs[1].Name)
	assert.Equal(t, filepath.Join(root, "psutil", "meta.yaml"), dirs[1].Manifest())
}

func TestDiscover_SkipsWorkDirs(t *testing.T) {
	t.Chdir(t.TempDir())
	writeFile(t, filepath.Join("psutil", "meta.yaml"), "a")
	writeFile(t, filepath.Join(StateDir, "work", "psutil-4.1.0", "conda", "meta.yaml"), "unpacked")
	writeFile(t, filepath.Join("build", "work", "ecos-2.0.4", "meta.yaml"), "unpacked")

	dirs, err := Discover(".", filepath.Join("build", "work"))
	require.NoError(t, err)
	require.Len(t, dirs, 1)
	assert.Equal(t, "psutil", dirs[0].Name)

	dirs, err = Discover(".")
	require.NoError(t, err)
	assert.Len(t, dirs, 2, "only the state directory is skipped without an explicit list")
}

func TestDigest(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "b.patch"), "second")
	writeFile(t, filepath.Join(root, "a.yaml"), "first")
	writeFile(t, filepath.Join(root, ".git", "HEAD"), "ignored")

	got, err := Digest(root)
	require.NoError(t, err)

	sum := sha256.Sum256([]byte("firstsecond"))
	assert.Equal(t, hex.EncodeToString(sum[:]), got)
}

func TestDiffTrees(t *testing.T) {
	left := t.TempDir()
	right := t.TempDir()

	writeFile(t, filepath.Join(left, "psutil-recipe", "recipe", "meta.yaml"), "same")
	writeFile(t, filepath.Join(right, "psutil", "meta.yaml"), "same")
	writeFile(t, filepath.Join(left, "qt-recipe", "recipe", "meta.yaml"), "qt 4.8.7")
	writeFile(t, filepath.Join(right, "qt", "meta.yaml"), "qt 5.6.0")
	writeFile(t, filepath.Join(left, "ecos-recipe", "recipe", "meta.yaml"), "only left")
	writeFile(t, filepath.Join(right, "scrapy", "meta.yaml"), "only right")

	diff, err := DiffTrees(left, right)
	require.NoError(t, err)

	require.Len(t, diff.Entries, 4)
	names := []string{}
	for _, e := range diff.Entries {
		names = append(names, e.Recipe)
	}
	assert.Equal(t, []string{"ecos", "psutil", "qt", "scrapy"}, names)

	ecos := diff.Entries[0]
	assert.True(t, ecos.Left)
	assert.False(t, ecos.Right)
	assert.Nil(t, ecos.ContentsEqual)

	psutil := diff.Entries[1]
	require.NotNil(t, psutil.ContentsEqual)
	assert.True(t, *psutil.ContentsEqual)

	assert.Equal(t, []string{"qt"}, diff.Changed())
	assert.Equal(t, []string{"ecos"}, diff.OnlyLeft())
	assert.Equal(t, []string{"scrapy"}, diff.OnlyRight())
}

func newTestLoader(t *testing.T) *Loader {
	t.Helper()
	p, err := manifest.NewParser(manifest.WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	return NewLoader(p, zerolog.Nop())
}

func TestLoader_LoadAll(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "psutil", "meta.yaml"), manifestFor("psutil", "4.1.0", "python"))
	writeFile(t, filepath.Join(root, "ecos", "meta.yaml"), manifestFor("ecos", "2.0.4", "numpy"))
	writeFile(t, filepath.Join(root, "broken", "meta.yaml"), "name: broken\n")

	result, err := newTestLoader(t).LoadAll(context.Background(), []string{root}, engine.PlatformLinux)
	require.NoError(t, err)

	require.Len(t, result.Recipes, 2)
	assert.Equal(t, "ecos", result.Recipes[0].Name)
	assert.Equal(t, "psutil", result.Recipes[1].Name)

	require.Len(t, result.Failures, 1)
	assert.Equal(t, "broken", result.Failures[0].Dir.Name)
	assert.True(t, errors.Is(result.Err(), engine.ErrMalformedManifest))
}

func TestLoader_LoadAll_MissingRoot(t *testing.T) {
	_, err := newTestLoader(t).LoadAll(context.Background(), []string{filepath.Join(t.TempDir(), "nope")}, engine.PlatformLinux)
	assert.Error(t, err)
}

func TestWatcher_FiresOnChange(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "psutil", "meta.yaml"), manifestFor("psutil", "4.1.0"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fired := make(chan struct{}, 1)
	w := NewWatcher(zerolog.Nop(), 20*time.Millisecond)
	require.NoError(t, w.Watch(ctx, []string{root}, func(context.Context) error {
		select {
		case fired <- struct{}{}:
		default:
		}
		return nil
	}))
	defer w.Stop()

	writeFile(t, filepath.Join(root, "psutil", "meta.yaml"), manifestFor("psutil", "4.2.0"))

	select {
	case <-fired:
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not fire after a manifest change")
	}
}

func TestIgnored(t *testing.T) {
	assert.True(t, ignored("/r/psutil/.meta.yaml.swp"))
	assert.True(t, ignored("/r/psutil/meta.yaml~"))
	assert.True(t, ignored("/r/.git/index"))
	assert.False(t, ignored("/r/psutil/meta.yaml"))
}
