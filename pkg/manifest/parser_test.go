package manifest

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwm126/anaconda-recipes/pkg/engine"
)

func newTestParser(t *testing.T) *Parser {
	t.Helper()
	p, err := NewParser(WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	return p
}

func requireMalformed(t *testing.T, err error, field string) *engine.EngineError {
	t.Helper()
	require.Error(t, err)
	require.True(t, errors.Is(err, engine.ErrMalformedManifest), "expected malformed manifest, got %v", err)
	var ee *engine.EngineError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, field, ee.Field)
	return ee
}

func reqNames(reqs []engine.Requirement) []string {
	out := make([]string, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, r.Name)
	}
	return out
}

func TestParseFile_CondaLayout(t *testing.T) {
	p := newTestParser(t)
	path := filepath.Join("testdata", "javabridge.yaml")

	r, err := p.ParseFile(path, engine.PlatformLinux)
	require.NoError(t, err)

	assert.Equal(t, "javabridge", r.Name)
	assert.Equal(t, "1.0.14", r.Version)
	assert.Equal(t, path, r.Path)
	assert.Equal(t, 2, r.BuildNumber)
	assert.Equal(t, "javabridge-1.0.14.tar.gz", r.Source.Filename)
	assert.Equal(t, "BSD", r.About.License)

	// Patches keep their selectors
	require.Len(t, r.Source.Patches, 3)
	assert.Equal(t, engine.PatchRef{Path: "win-jdk.patch", Selector: engine.SelectorWin}, r.Source.Patches[0])
	assert.Equal(t, engine.PatchRef{Path: "setup.patch"}, r.Source.Patches[1])
	assert.Equal(t, engine.PatchRef{Path: "unix-ldflags.patch", Selector: engine.SelectorUnix}, r.Source.Patches[2])

	// Requirements excluded by the target are dropped
	assert.Equal(t, []string{"python", "numpy", "cython"}, reqNames(r.BuildRequirements))
	assert.Equal(t, "1.11*", r.BuildRequirements[1].Constraint)
	assert.Equal(t, []string{"python", "numpy"}, reqNames(r.RunRequirements))
	assert.Equal(t, ">=1.11", r.RunRequirements[1].Constraint)
	assert.Equal(t, "py27_0", r.RunRequirements[1].BuildString)
	assert.Equal(t, engine.PhaseRun, r.RunRequirements[1].Phase)

	require.NotNil(t, r.Test)
	require.Len(t, r.Test.Imports, 2)
	assert.Equal(t, engine.SelectorOSX, r.Test.Imports[1].Selector)
	require.Len(t, r.Test.Commands, 1)
	assert.Equal(t, `python -c "import javabridge"`, r.Test.Commands[0].Value)
}

func TestParseFile_SelectorsFollowTarget(t *testing.T) {
	p := newTestParser(t)

	r, err := p.ParseFile(filepath.Join("testdata", "javabridge.yaml"), engine.PlatformWin)
	require.NoError(t, err)

	assert.Equal(t, []string{"python", "numpy", "cython", "m2w64-toolchain"}, reqNames(r.BuildRequirements))
}

func TestParseFile_FlatLayout(t *testing.T) {
	p := newTestParser(t)

	r, err := p.ParseFile(filepath.Join("testdata", "scrapy.yaml"), engine.PlatformOSX)
	require.NoError(t, err)

	assert.Equal(t, engine.RecipeID{Name: "scrapy", Version: "1.1.1"}, r.ID())
	assert.True(t, r.Source.Verifiable())
	assert.Equal(t, "1.1.1", r.Source.GitTag)
	assert.Equal(t, []string{"python", "setuptools"}, reqNames(r.BuildRequirements))
	assert.Equal(t, []string{"python", "twisted", "lxml", "pyopenssl"}, reqNames(r.RunRequirements))
	assert.Empty(t, r.Source.Patches)
}

func TestParse_PreservesVersionText(t *testing.T) {
	p := newTestParser(t)

	r, err := p.Parse([]byte(`
name: qt
version: 4.10
source:
  sha256: e3a5d2c0b0a6e0a5f9e1c1d1c8d6e8b8f1f9a1b2c3d4e5f60718293a4b5c6d7e
`), engine.PlatformLinux)
	require.NoError(t, err)
	assert.Equal(t, "4.10", r.Version)
}

func TestParse_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		doc   string
		field string
	}{
		{
			name:  "missing name",
			doc:   "version: 1.0\nsource:\n  md5: 0123456789abcdef0123456789abcdef\n",
			field: "name",
		},
		{
			name:  "missing version",
			doc:   "name: ecos\nsource:\n  md5: 0123456789abcdef0123456789abcdef\n",
			field: "version",
		},
		{
			name:  "missing source",
			doc:   "name: ecos\nversion: 2.0.4\n",
			field: "source",
		},
		{
			name:  "unverifiable source",
			doc:   "name: ecos\nversion: 2.0.4\nsource:\n  url: https://example.com/ecos.tar.gz\n",
			field: "source",
		},
		{
			name:  "git url without pin",
			doc:   "name: ecos\nversion: 2.0.4\nsource:\n  git_url: https://github.com/embotech/ecos.git\n",
			field: "source",
		},
		{
			name:  "short md5",
			doc:   "name: ecos\nversion: 2.0.4\nsource:\n  md5: abc\n",
			field: "source.md5",
		},
		{
			name:  "too many requirement fields",
			doc:   "name: ecos\nversion: 2.0.4\nsource:\n  md5: 0123456789abcdef0123456789abcdef\nbuild:\n  requirements:\n    - numpy 1.11 py27_0 extra\n",
			field: "build.requirements[0]",
		},
		{
			name:  "bad constraint",
			doc:   "name: ecos\nversion: 2.0.4\nsource:\n  md5: 0123456789abcdef0123456789abcdef\nrequirements:\n  run:\n    - python >=>2\n",
			field: "requirements.run[0]",
		},
		{
			name:  "self requirement",
			doc:   "name: ecos\nversion: 2.0.4\nsource:\n  md5: 0123456789abcdef0123456789abcdef\nbuild:\n  requirements:\n    - python\n    - ecos\n",
			field: "build.requirements[1]",
		},
		{
			name:  "test without imports or commands",
			doc:   "name: ecos\nversion: 2.0.4\nsource:\n  md5: 0123456789abcdef0123456789abcdef\ntest:\n  requires:\n    - nose\n",
			field: "test",
		},
		{
			name:  "invalid package name",
			doc:   "name: \"-ecos\"\nversion: 2.0.4\nsource:\n  md5: 0123456789abcdef0123456789abcdef\n",
			field: "name",
		},
	}

	p := newTestParser(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Parse([]byte(tt.doc), engine.PlatformLinux)
			requireMalformed(t, err, tt.field)
		})
	}
}

func TestParse_SchemaViolations(t *testing.T) {
	p := newTestParser(t)

	_, err := p.Parse([]byte("name: ecos\nversion: 2.0.4\nsource:\n  md5: 0123456789abcdef0123456789abcdef\n  patches: fix.patch\n"), engine.PlatformLinux)
	ee := requireMalformed(t, err, "source.patches")
	assert.NotEmpty(t, ee.Message)
	assert.NotContains(t, ee.Message, "empty disjunction")

	_, err = p.Parse([]byte("name: ecos\nversion: 2.0.4\nsourse:\n  md5: 0123456789abcdef0123456789abcdef\n"), engine.PlatformLinux)
	requireMalformed(t, err, "sourse")

	_, err = p.Parse([]byte("name: ecos\nversion: 2.0.4\nsource:\n  md5: 0123456789abcdef0123456789abcdef\nbuild:\n  number: -1\n"), engine.PlatformLinux)
	ee = requireMalformed(t, err, "build.number")
	assert.Contains(t, ee.Message, "-1")

	_, err = p.Parse([]byte("name: ecos\nversion: 2.0.4\nsource:\n  md5: 0123456789abcdef0123456789abcdef\n  patches:\n    - [fix.patch]\n"), engine.PlatformLinux)
	requireMalformed(t, err, "source.patches[0]")
}

func TestParse_EmptySections(t *testing.T) {
	p := newTestParser(t)

	r, err := p.Parse([]byte("name: ecos\nversion: 2.0.4\nsource:\n  md5: 0123456789abcdef0123456789abcdef\n  patches:\nbuild:\nrequirements:\n  run:\ntest:\nabout:\n"), engine.PlatformLinux)
	require.NoError(t, err)
	assert.Empty(t, r.Source.Patches)
	assert.Empty(t, r.RunRequirements)
}

func TestParse_InvalidYAML(t *testing.T) {
	p := newTestParser(t)

	_, err := p.Parse([]byte("name: [unterminated\n"), engine.PlatformLinux)
	assert.True(t, errors.Is(err, engine.ErrMalformedManifest))

	_, err = p.Parse([]byte(""), engine.PlatformLinux)
	assert.True(t, errors.Is(err, engine.ErrMalformedManifest))
}

func TestParse_UnknownSelector(t *testing.T) {
	p := newTestParser(t)

	_, err := p.Parse([]byte(`
name: psutil
version: 4.1.0
source:
  md5: 0123456789abcdef0123456789abcdef
  patches:
    - ok.patch
    - bsd.patch  # [freebsd]
`), engine.PlatformLinux)

	require.Error(t, err)
	assert.True(t, errors.Is(err, engine.ErrUnknownPlatform))

	var ee *engine.EngineError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, "source.patches[1]", ee.Field)
	assert.Equal(t, "psutil@4.1.0", ee.Recipe)
}

func TestParse_UnknownTarget(t *testing.T) {
	p := newTestParser(t)

	_, err := p.Parse([]byte("name: ecos\n"), engine.Platform("unix"))
	assert.True(t, errors.Is(err, engine.ErrUnknownPlatform))
}

func TestParse_CompoundSelectors(t *testing.T) {
	p := newTestParser(t)
	doc := []byte(`
name: psutil
version: 4.1.0
source:
  md5: 0123456789abcdef0123456789abcdef
requirements:
  build:
    - python
    - pywin32 [win]
    - gcc  # [linux or osx]
    - mingw [not unix]
`)

	linux, err := p.Parse(doc, engine.PlatformLinux)
	require.NoError(t, err)
	assert.Equal(t, []string{"python", "gcc"}, reqNames(linux.BuildRequirements))

	win, err := p.Parse(doc, engine.PlatformWin)
	require.NoError(t, err)
	assert.Equal(t, []string{"python", "pywin32", "mingw"}, reqNames(win.BuildRequirements))
}

func TestParseFile_Missing(t *testing.T) {
	p := newTestParser(t)

	_, err := p.ParseFile(filepath.Join("testdata", "missing.yaml"), engine.PlatformLinux)
	require.Error(t, err)
	assert.False(t, errors.Is(err, engine.ErrMalformedManifest))
}
