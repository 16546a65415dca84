package recipes

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mwm126/anaconda-recipes/pkg/manifest"
)

// Dir is a recipe directory found on disk.
type Dir struct {
	// Name is the recipe name derived from the directory layout.
	Name string `json:"name"`

	// Path is the directory holding the manifest.
	Path string `json:"path"`
}

// Manifest returns the manifest path inside the directory.
func (d Dir) Manifest() string {
	return filepath.Join(d.Path, manifest.FileName)
}

// StateDir is the directory arbiter keeps its work trees and source cache in
// by default. Discover never descends into it.
const StateDir = ".arbiter"

// Discover walks root and returns every directory that holds a manifest,
// sorted by name and then by path. .git and StateDir directories are
// skipped, as is every directory in skip, so that unpacked sources under a
// work directory inside root are not mistaken for recipes.
func Discover(root string, skip ...string) ([]Dir, error) {
	var dirs []Dir

	skipped := make(map[string]bool, len(skip))
	for _, s := range skip {
		if abs, err := filepath.Abs(s); err == nil {
			skipped[abs] = true
		}
	}

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path == root {
				return nil
			}
			if d.Name() == ".git" || d.Name() == StateDir {
				return filepath.SkipDir
			}
			if abs, err := filepath.Abs(path); err == nil && skipped[abs] {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Name() == manifest.FileName {
			dir := filepath.Dir(path)
			dirs = append(dirs, Dir{Name: RecipeName(dir), Path: dir})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", root, err)
	}

	sort.Slice(dirs, func(i, j int) bool {
		if dirs[i].Name != dirs[j].Name {
			return dirs[i].Name < dirs[j].Name
		}
		return dirs[i].Path < dirs[j].Path
	})
	return dirs, nil
}

// RecipeName derives a recipe name from its directory. A directory called
// "recipe" takes the name of its parent, minus any "-recipe" suffix, so that
// psutil-recipe/recipe is named psutil.
func RecipeName(dir string) string {
	dir = filepath.Clean(dir)
	if filepath.Base(dir) == "recipe" {
		parent := filepath.Base(filepath.Dir(dir))
		if i := strings.LastIndex(parent, "-recipe"); i >= 0 {
			return parent[:i]
		}
		return parent
	}
	return filepath.Base(dir)
}

// Digest returns the SHA-256 of the bytes of every file under dir, read in
// sorted walk order. File names are not part of the digest.
func Digest(dir string) (string, error) {
	h := sha256.New()

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()

		_, err = io.Copy(h, f)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to digest %s: %w", dir, err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// Contents maps every recipe name under root to its digest. When two
// directories share a name the one sorting last by path wins.
func Contents(root string) (map[string]string, error) {
	dirs, err := Discover(root)
	if err != nil {
		return nil, err
	}

	contents := make(map[string]string, len(dirs))
	for _, d := range dirs {
		digest, err := Digest(d.Path)
		if err != nil {
			return nil, err
		}
		contents[d.Name] = digest
	}
	return contents, nil
}
