package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/mwm126/anaconda-recipes/pkg/engine"

// DefaultPlanner implements the Planner interface.
// It assembles the dependency graph, orders it topologically and sequences
// each recipe's patches for the target platform.
type DefaultPlanner struct {
	resolve  ResolveOptions
	policy   PolicyEngine
	recorder PlanRecorder
	logger   zerolog.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

// PlannerOption configures a DefaultPlanner.
type PlannerOption func(*DefaultPlanner)

// WithResolveOptions sets how requirements are resolved.
func WithResolveOptions(opts ResolveOptions) PlannerOption {
	return func(p *DefaultPlanner) { p.resolve = opts }
}

// WithPolicyEngine attaches lint policies whose findings become plan warnings.
func WithPolicyEngine(pe PolicyEngine) PlannerOption {
	return func(p *DefaultPlanner) { p.policy = pe }
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(r PlanRecorder) PlannerOption {
	return func(p *DefaultPlanner) { p.recorder = r }
}

// WithLogger sets the planner logger.
func WithLogger(l zerolog.Logger) PlannerOption {
	return func(p *DefaultPlanner) { p.logger = l }
}

// WithClock overrides the plan timestamp source.
func WithClock(now func() time.Time) PlannerOption {
	return func(p *DefaultPlanner) { p.now = now }
}

// NewPlanner creates a new default planner implementation.
func NewPlanner(opts ...PlannerOption) *DefaultPlanner {
	p := &DefaultPlanner{
		logger: log.Logger.With().Str("component", "planner").Logger(),
		tracer: otel.Tracer(tracerName),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Plan computes a BuildPlan for recipes on target.
func (p *DefaultPlanner) Plan(ctx context.Context, recipes []*Recipe, target Platform) (plan *BuildPlan, err error) {
	start := time.Now()
	ctx, span := p.tracer.Start(ctx, "plan.compute", trace.WithAttributes(
		attribute.String("target", string(target)),
		attribute.Int("recipes", len(recipes)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
		if p.recorder != nil {
			p.recorder.RecordPlan(target, CodeOf(err), len(recipes), time.Since(start))
			if plan != nil {
				for _, w := range plan.Warnings {
					p.recorder.RecordWarning(w.Code)
				}
			}
		}
	}()

	if _, err := ParsePlatform(string(target)); err != nil {
		return nil, err
	}

	graph, err := AssembleGraph(recipes, p.resolve)
	if err != nil {
		p.logger.Error().Err(err).Msg("Dependency graph assembly failed")
		return nil, err
	}
	span.AddEvent("graph.assembled", trace.WithAttributes(attribute.Int("edges", len(graph.Edges))))

	order, stages, err := graph.TopologicalOrder()
	if err != nil {
		p.logger.Error().Err(err).Msg("Build ordering failed")
		return nil, err
	}

	plan = &BuildPlan{
		ID:        uuid.New().String(),
		Target:    target,
		CreatedAt: p.now().UTC(),
		Steps:     make([]PlanStep, 0, len(order)),
		Stages:    stages,
		External:  graph.External,
		Warnings:  make([]Warning, 0),
	}

	stageOf := make(map[RecipeID]int, len(order))
	for i, s := range stages {
		for _, id := range s {
			stageOf[id] = i
		}
	}

	for i, id := range order {
		r, _ := graph.Recipe(id)

		patches, warnings, err := SequencePatches(id, r.Source.Patches, target)
		if err != nil {
			return nil, err
		}

		if p.policy != nil {
			findings, err := p.policy.Evaluate(ctx, r)
			if err != nil {
				return nil, err
			}
			warnings = append(warnings, findings...)
		}

		for _, w := range warnings {
			p.logger.Warn().
				Str("recipe", id.String()).
				Str("code", w.Code).
				Str("field", w.Field).
				Msg(w.Message)
		}
		plan.Warnings = append(plan.Warnings, warnings...)

		plan.Steps = append(plan.Steps, PlanStep{
			Position:  i,
			Stage:     stageOf[id],
			Recipe:    r,
			Patches:   patches,
			BuildDeps: graph.BuildDeps(id),
			RunDeps:   graph.RunDeps(id),
		})

		p.logger.Debug().
			Str("recipe", id.String()).
			Int("position", i).
			Int("stage", stageOf[id]).
			Int("patches", len(patches)).
			Msg("Planned recipe")
	}

	p.logger.Info().
		Str("plan_id", plan.ID).
		Str("target", string(target)).
		Int("recipes", len(plan.Steps)).
		Int("stages", len(plan.Stages)).
		Int("external", len(plan.External)).
		Int("warnings", len(plan.Warnings)).
		Msg("Build plan computed")

	return plan, nil
}
