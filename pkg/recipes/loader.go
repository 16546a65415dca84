package recipes

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/mwm126/anaconda-recipes/pkg/engine"
	"github.com/mwm126/anaconda-recipes/pkg/manifest"
)

// Failure is a recipe directory whose manifest did not parse.
type Failure struct {
	Dir Dir   `json:"dir"`
	Err error `json:"-"`
}

// Error implements the error interface.
func (f Failure) Error() string {
	return fmt.Sprintf("%s: %v", f.Dir.Manifest(), f.Err)
}

// Unwrap returns the parse error.
func (f Failure) Unwrap() error {
	return f.Err
}

// LoadResult holds the recipes parsed from one or more roots.
type LoadResult struct {
	Recipes  []*engine.Recipe `json:"recipes"`
	Failures []Failure        `json:"failures,omitempty"`
}

// Loader discovers and parses recipes.
type Loader struct {
	parser *manifest.Parser
	logger zerolog.Logger
	tracer trace.Tracer
	skip   []string
}

// NewLoader creates a loader that parses manifests with parser. Directories
// in skip are not searched for recipes.
func NewLoader(parser *manifest.Parser, logger zerolog.Logger, skip ...string) *Loader {
	return &Loader{
		parser: parser,
		logger: logger.With().Str("component", "recipe-loader").Logger(),
		tracer: otel.Tracer("github.com/mwm126/anaconda-recipes/pkg/recipes"),
		skip:   skip,
	}
}

// LoadAll parses every manifest under roots for target. A manifest that fails
// to parse is recorded as a Failure and does not stop the others; only an
// unreadable root is returned as an error.
func (l *Loader) LoadAll(ctx context.Context, roots []string, target engine.Platform) (*LoadResult, error) {
	_, span := l.tracer.Start(ctx, "recipes.load", trace.WithAttributes(
		attribute.StringSlice("roots", roots),
		attribute.String("target", string(target)),
	))
	defer span.End()

	result := &LoadResult{}
	for _, root := range roots {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		dirs, err := Discover(root, l.skip...)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}

		for _, d := range dirs {
			r, err := l.parser.ParseFile(d.Manifest(), target)
			if err != nil {
				l.logger.Warn().Err(err).Str("dir", d.Path).Msg("Failed to parse manifest")
				result.Failures = append(result.Failures, Failure{Dir: d, Err: err})
				continue
			}
			result.Recipes = append(result.Recipes, r)
		}
	}

	span.SetAttributes(
		attribute.Int("recipes", len(result.Recipes)),
		attribute.Int("failures", len(result.Failures)),
	)
	l.logger.Info().
		Int("recipes", len(result.Recipes)).
		Int("failures", len(result.Failures)).
		Int("roots", len(roots)).
		Msg("Recipes loaded")

	return result, nil
}

// Err returns the first failure, or nil when every manifest parsed.
func (r *LoadResult) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	return r.Failures[0]
}
