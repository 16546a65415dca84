// Package config loads the arbiter configuration file.
//
// A configuration is read on top of Default, so a file only needs the
// settings it changes. YAML files are decoded strictly: unknown keys are
// errors. Files ending in .cue are evaluated with CUE and unified with a
// closed #Config schema before decoding, which lets a configuration share
// values or constraints between targets:
//
//	target: "osx"
//	external: ["python", "toolchain"]
//	policy: disabled: ["homepage"]
//
// The decoded Config is checked with go-playground/validator and the
// telemetry settings are validated last.
package config
