// Package engine provides the core types and algorithms for planning recipe builds.
//
// # Overview
//
// A recipe describes how to fetch, patch and build one version of a package.
// The engine turns a set of parsed recipes into a BuildPlan through four steps:
//
//  1. Select - evaluate platform selectors against the target (Selector.Applies)
//  2. Assemble - resolve every requirement to a recipe or an external package (AssembleGraph)
//  3. Order - detect cycles and sort build edges topologically (DependencyGraph.TopologicalOrder)
//  4. Sequence - filter each recipe's PatchSet for the target (SequencePatches)
//
// DefaultPlanner runs these steps and attaches plan-level metadata. Runner
// then drives a plan through the Fetcher, PatchApplier and BuildExecutor
// collaborators, which live outside this package.
//
// # Determinism
//
// Recipes that become ready at the same time are ordered by name and then by
// version, so the same recipe set always yields the same order regardless of
// input order. Only build edges constrain ordering; run edges must resolve
// but are otherwise informational.
//
// # Selectors
//
// A selector is one of all, unix, linux, osx, win or a boolean expression over
// them such as "not win" or "linux or osx". Expressions are parsed with the
// Starlark expression grammar and restricted to identifiers from the tag set
// and the not/and/or operators. Anything else fails with UNKNOWN_PLATFORM.
//
// # Error Classification
//
// Every fatal error is an *EngineError carrying a code, the offending recipe
// identity and the offending field:
//
//   - MALFORMED_MANIFEST, UNKNOWN_PLATFORM: bad input
//   - DUPLICATE_RECIPE, UNRESOLVED_DEPENDENCY, AMBIGUOUS_REQUIREMENT, VERSION_CONFLICT: graph assembly
//   - CYCLIC_DEPENDENCY: ordering, with the cycle in Details["cycle"]
//   - FETCH_ERROR, INTEGRITY_MISMATCH, PATCH_REJECTED, BUILD_FAILED: collaborator failures
//
// Use errors.Is against the Err* sentinels, or CodeOf and CyclePath.
// Redundant patches and policy findings are Warning values, never errors.
package engine
