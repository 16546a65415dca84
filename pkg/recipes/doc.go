// Package recipes finds recipe directories on disk and loads them.
//
// A recipe directory is any directory holding a meta.yaml. Directories named
// "recipe" take their parent's name, so both psutil/ and psutil-recipe/recipe/
// yield a recipe called psutil. The package also digests recipe trees for
// comparison and watches roots for changes.
package recipes
