package manifest

import (
	"fmt"
	"strconv"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"

	"github.com/mwm126/anaconda-recipes/pkg/engine"
)

// manifestSchema is the shape every recipe document must have before it is
// decoded. Sections are open so that tool-specific keys survive; the top
// level is closed so that misspelled sections are reported. Empty keys are
// removed before checking, so the schema has no null arms: a disjunction
// would report its failures against the enclosing section.
const manifestSchema = `
#Scalar:  string | number | bool
#Entries: [...#Scalar]

#Manifest: {
	package?: {
		name?:    #Scalar
		version?: #Scalar
		...
	}
	name?:    #Scalar
	version?: #Scalar

	source?: {
		fn?:      string
		url?:     string | [...string]
		git_url?: string
		git_tag?: #Scalar
		git_rev?: #Scalar
		md5?:     string
		sha256?:  string
		patches?: #Entries
		...
	}

	build?: {
		number?:       int & >=0
		requirements?: #Entries
		...
	}

	run?: {
		requirements?: #Entries
		...
	}

	requirements?: {
		build?: #Entries
		host?:  #Entries
		run?:   #Entries
		...
	}

	test?: {
		imports?:  #Entries
		commands?: #Entries
		requires?: #Entries
		...
	}

	about?: {[string]: _}
	extra?: _
	app?:   _
}
`

// schemaChecker validates decoded documents against #Manifest.
type schemaChecker struct {
	ctx    *cue.Context
	schema cue.Value
}

func newSchemaChecker() (*schemaChecker, error) {
	ctx := cuecontext.New()
	val := ctx.CompileString(manifestSchema, cue.Filename("manifest.cue"))
	if err := val.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile manifest schema: %w", err)
	}

	schema := val.LookupPath(cue.ParsePath("#Manifest"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("manifest schema has no #Manifest definition: %w", err)
	}

	return &schemaChecker{ctx: ctx, schema: schema}, nil
}

// Check unifies doc with the schema and reports the first violation as a
// MalformedManifest error naming the offending field.
func (sc *schemaChecker) Check(doc map[string]interface{}) error {
	dataVal := sc.ctx.Encode(pruneNulls(doc))
	if err := dataVal.Err(); err != nil {
		return engine.NewPermanentError("failed to encode manifest", err).
			WithCode(engine.ErrCodeMalformedManifest)
	}

	unified := sc.schema.Unify(dataVal)
	err := unified.Validate(cue.Concrete(true))
	if err == nil {
		return nil
	}

	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return engine.NewPermanentError("manifest does not match schema", err).
			WithCode(engine.ErrCodeMalformedManifest)
	}

	first := deepest(errs)
	return engine.NewPermanentError(cueerrors.Details(first, nil), nil).
		WithCode(engine.ErrCodeMalformedManifest).
		WithField(fieldPath(first.Path()))
}

// deepest picks the error nearest to a leaf, which names the offending field
// rather than its section.
func deepest(errs []cueerrors.Error) cueerrors.Error {
	best := errs[0]
	for _, e := range errs[1:] {
		if len(e.Path()) > len(best.Path()) {
			best = e
		}
	}
	return best
}

// pruneNulls drops keys without a value, such as a bare "build:" line, at
// every level of the document.
func pruneNulls(v interface{}) interface{} {
	switch v := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, elem := range v {
			if elem == nil {
				continue
			}
			out[k] = pruneNulls(elem)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, elem := range v {
			out[i] = pruneNulls(elem)
		}
		return out
	}
	return v
}

// fieldPath renders a CUE path as a manifest field such as source.patches[1].
func fieldPath(path []string) string {
	var sb strings.Builder
	for _, elem := range path {
		if strings.HasPrefix(elem, "#") {
			continue
		}
		if _, err := strconv.Atoi(elem); err == nil {
			sb.WriteString("[" + elem + "]")
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte('.')
		}
		sb.WriteString(elem)
	}
	return sb.String()
}
