// Package manifest parses recipe manifests (meta.yaml) into engine.Recipe values.
//
// Parsing runs in three passes. The raw YAML is first checked against the
// #Manifest CUE schema so that shape errors name the offending field. The
// document is then decoded into typed sections, extracting platform selectors
// written either as a bracketed suffix ("- win.patch [win]") or as a trailing
// comment ("- win.patch  # [win]"). Finally the resulting Recipe is checked
// with struct-tag validation.
//
// Every failure is an *engine.EngineError with code MALFORMED_MANIFEST (or
// UNKNOWN_PLATFORM for a bad selector) whose Field names the manifest field.
package manifest
