// Package builder provides the host-side collaborators the engine Runner
// drives for each plan step: a CacheFetcher that reads sources from a local
// cache, a PatchApplier that unpacks them and runs patch(1), and an Executor
// that runs a templated shell command.
//
// The command template sees StepVars, for example:
//
//	conda build --no-anaconda-upload {{.RecipeDir}}
//	make -C {{.SourceDir}} PREFIX=/opt/{{.Name}}-{{.Version}}
//
// Builds also receive ARBITER_RECIPE, ARBITER_VERSION, ARBITER_TARGET,
// ARBITER_RECIPE_DIR, ARBITER_STAGE and, when a source tree was prepared,
// SRC_DIR in their environment.
package builder
