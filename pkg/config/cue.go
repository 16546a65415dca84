package config

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

// configSchema closes the set of fields a CUE config file may declare.
const configSchema = `
#Config: {
	target?:         "linux" | "osx" | "win"
	allow_external?: bool
	external?: [...string]
	recipe_roots?: [...string]
	store?: path?: string
	policy?: {
		enabled?: bool
		paths?: [...string]
		disabled?: [...string]
	}
	build?: {
		command?: string
		shell?:   string
		env?: [string]: string
		timeout?:      string
		work_dir?:     string
		source_cache?: string
	}
	telemetry?: {...}
}
`

// cueToYAML evaluates a CUE config file against the config schema and
// returns the concrete result as JSON, which the YAML decoder accepts.
func cueToYAML(path string, data []byte) ([]byte, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(configSchema).LookupPath(cue.ParsePath("#Config"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile config schema: %w", err)
	}

	val := ctx.CompileBytes(data, cue.Filename(path))
	if err := val.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile %s: %s", path, cueerrors.Details(err, nil))
	}

	unified := schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("invalid config %s: %s", path, cueerrors.Details(err, nil))
	}

	out, err := unified.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to export %s: %w", path, err)
	}
	return out, nil
}
