package builder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/mwm126/anaconda-recipes/pkg/engine"
)

var failedHunk = regexp.MustCompile(`Hunk #(\d+) FAILED`)

var tarSuffixes = []string{".tar", ".tar.gz", ".tgz", ".tar.bz2", ".tbz2", ".tar.xz", ".txz"}

// PatchApplier prepares a source tree under a work directory and applies a
// PatchSet to it with patch(1), in order, stopping at the first rejection.
type PatchApplier struct {
	workDir string
	logger  zerolog.Logger
}

var _ engine.PatchApplier = (*PatchApplier)(nil)

// NewPatchApplier creates an applier that unpacks sources below workDir.
func NewPatchApplier(workDir string, logger zerolog.Logger) *PatchApplier {
	return &PatchApplier{
		workDir: absPath(workDir),
		logger:  logger.With().Str("component", "patch-applier").Logger(),
	}
}

// Apply unpacks archive into a fresh "<name>-<version>" directory and
// applies patches, which are resolved against the recipe directory. Tar
// archives are extracted with tar(1), zip archives with unzip(1), checkouts
// are copied and any other file is copied as is. When the archive holds a
// single top-level directory, that directory is the source tree.
//
// With no archive there is no tree: Apply returns nil, or PatchRejected if
// patches were requested.
func (a *PatchApplier) Apply(ctx context.Context, r *engine.Recipe, archive *engine.SourceArchive, patches []engine.PatchRef) (*engine.SourceTree, error) {
	if archive == nil || archive.Path == "" {
		if len(patches) > 0 {
			return nil, engine.NewPatchRejected(patches[0].Path, "source", errors.New("no source tree to patch"))
		}
		return nil, nil
	}

	dest := filepath.Join(a.workDir, r.Name+"-"+r.Version)
	if err := os.RemoveAll(dest); err != nil {
		return nil, fmt.Errorf("failed to clean %s: %w", dest, err)
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", dest, err)
	}

	if err := unpack(ctx, absPath(archive.Path), dest); err != nil {
		return nil, err
	}

	root, err := sourceRoot(dest)
	if err != nil {
		return nil, err
	}

	recipeDir := absPath(".")
	if r.Path != "" {
		recipeDir = absPath(filepath.Dir(r.Path))
	}

	for _, p := range patches {
		if err := applyPatch(ctx, root, filepath.Join(recipeDir, filepath.FromSlash(p.Path))); err != nil {
			hunk := "unknown"
			if m := failedHunk.FindStringSubmatch(err.Error()); m != nil {
				hunk = "hunk " + m[1]
			}
			return nil, engine.NewPatchRejected(p.Path, hunk, err)
		}
		a.logger.Debug().
			Str("recipe", r.ID().String()).
			Str("patch", p.Path).
			Msg("Patch applied")
	}

	a.logger.Debug().
		Str("recipe", r.ID().String()).
		Str("dir", root).
		Int("patches", len(patches)).
		Msg("Source tree prepared")

	return &engine.SourceTree{Recipe: r.ID(), Dir: root}, nil
}

func unpack(ctx context.Context, src, dest string) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("failed to stat source %s: %w", src, err)
	}
	if info.IsDir() {
		if err := os.CopyFS(dest, os.DirFS(src)); err != nil {
			return fmt.Errorf("failed to copy checkout %s: %w", src, err)
		}
		return nil
	}

	name := strings.ToLower(info.Name())
	switch {
	case strings.HasSuffix(name, ".zip"):
		return run(ctx, dest, "unzip", "-q", src, "-d", dest)
	case hasTarSuffix(name):
		return run(ctx, dest, "tar", "-xf", src, "-C", dest)
	}

	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("failed to read source %s: %w", src, err)
	}
	return os.WriteFile(filepath.Join(dest, info.Name()), data, 0o644)
}

func hasTarSuffix(name string) bool {
	for _, s := range tarSuffixes {
		if strings.HasSuffix(name, s) {
			return true
		}
	}
	return false
}

// sourceRoot descends into dir when it holds exactly one directory.
func sourceRoot(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", dir, err)
	}
	if len(entries) == 1 && entries[0].IsDir() {
		return filepath.Join(dir, entries[0].Name()), nil
	}
	return dir, nil
}

func applyPatch(ctx context.Context, dir, patchFile string) error {
	return run(ctx, dir, "patch", "-p1", "--forward", "--batch", "-i", patchFile)
}

// run executes name in dir. The combined output is part of the error.
func run(ctx context.Context, dir, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	if err := cmd.Run(); err != nil {
		out := strings.TrimSpace(tail(output.String(), outputTail))
		if out == "" {
			return fmt.Errorf("%s: %w", name, err)
		}
		return fmt.Errorf("%s: %w: %s", name, err, out)
	}
	return nil
}

// absPath resolves p against the working directory. The external tools run
// inside the tree they work on, so relative paths would resolve there.
func absPath(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}
