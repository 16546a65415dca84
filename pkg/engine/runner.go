package engine

import (
	"context"
	"crypto/md5" //nolint:gosec // md5 is what legacy manifests declare
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Runner drives a BuildPlan through the fetch, patch and build collaborators
// in plan order. It stops at the first failure and never retries.
type Runner struct {
	fetcher  Fetcher
	patcher  PatchApplier
	executor BuildExecutor
	recorder PlanRecorder
	logger   zerolog.Logger
	tracer   trace.Tracer
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithFetcher sets the source fetcher. Without one, steps are built from no archive.
func WithFetcher(f Fetcher) RunnerOption {
	return func(r *Runner) { r.fetcher = f }
}

// WithPatchApplier sets the patch applier. Without one, patches are not applied.
func WithPatchApplier(pa PatchApplier) RunnerOption {
	return func(r *Runner) { r.patcher = pa }
}

// WithRunRecorder attaches a metrics recorder to the runner.
func WithRunRecorder(rec PlanRecorder) RunnerOption {
	return func(r *Runner) { r.recorder = rec }
}

// WithRunLogger sets the runner logger.
func WithRunLogger(l zerolog.Logger) RunnerOption {
	return func(r *Runner) { r.logger = l }
}

// NewRunner creates a runner that builds with executor.
func NewRunner(executor BuildExecutor, opts ...RunnerOption) *Runner {
	r := &Runner{
		executor: executor,
		logger:   log.Logger.With().Str("component", "runner").Logger(),
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunResult summarises a runner invocation.
type RunResult struct {
	PlanID   string        `json:"plan_id"`
	Built    []RecipeID    `json:"built"`
	Failed   *RecipeID     `json:"failed,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Run builds every step of plan in order.
// The returned result lists the steps that completed even when err is non-nil.
func (r *Runner) Run(ctx context.Context, plan *BuildPlan) (*RunResult, error) {
	if r.executor == nil {
		return nil, NewPermanentError("runner has no build executor", nil).WithCode(ErrCodeInternal)
	}

	start := time.Now()
	result := &RunResult{PlanID: plan.ID, Built: make([]RecipeID, 0, len(plan.Steps))}

	ctx, span := r.tracer.Start(ctx, "plan.run", trace.WithAttributes(
		attribute.String("plan_id", plan.ID),
		attribute.Int("steps", len(plan.Steps)),
	))
	defer span.End()

	for i := range plan.Steps {
		step := &plan.Steps[i]
		id := step.Recipe.ID()

		if err := ctx.Err(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "cancelled")
			result.Duration = time.Since(start)
			return result, err
		}

		stepStart := time.Now()
		err := r.runStep(ctx, step)
		if r.recorder != nil {
			r.recorder.RecordBuild(CodeOf(err), time.Since(stepStart))
		}
		if err != nil {
			r.logger.Error().Err(err).Str("recipe", id.String()).Msg("Build step failed")
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			result.Failed = &id
			result.Duration = time.Since(start)
			return result, err
		}

		result.Built = append(result.Built, id)
		r.logger.Info().
			Str("recipe", id.String()).
			Int("position", step.Position).
			Dur("duration", time.Since(stepStart)).
			Msg("Recipe built")
	}

	span.SetStatus(codes.Ok, "")
	result.Duration = time.Since(start)
	return result, nil
}

func (r *Runner) runStep(ctx context.Context, step *PlanStep) error {
	id := step.Recipe.ID()
	ctx, span := r.tracer.Start(ctx, "plan.step", trace.WithAttributes(
		attribute.String("recipe", id.String()),
	))
	defer span.End()

	var archive *SourceArchive
	if r.fetcher != nil {
		a, err := r.fetcher.Fetch(ctx, step.Recipe)
		if err != nil {
			return attachRecipe(err, id, func(err error) *EngineError {
				return NewFetchError("fetch failed", err)
			})
		}
		if a != nil && a.Data != nil {
			if err := VerifyIntegrity(step.Recipe.Source, a.Data); err != nil {
				return attachRecipe(err, id, nil)
			}
		}
		archive = a
	}

	var tree *SourceTree
	if r.patcher != nil {
		t, err := r.patcher.Apply(ctx, step.Recipe, archive, step.Patches)
		if err != nil {
			return attachRecipe(err, id, func(err error) *EngineError {
				return NewPatchRejected("", "unknown", err)
			})
		}
		tree = t
	}

	if err := r.executor.Build(ctx, step, tree); err != nil {
		return attachRecipe(err, id, func(err error) *EngineError {
			return NewBuildFailed(-1, err)
		})
	}
	return nil
}

// attachRecipe sets the recipe identity on a collaborator error. Errors that
// are not classified are wrapped by wrap.
func attachRecipe(err error, id RecipeID, wrap func(error) *EngineError) error {
	var e *EngineError
	if errors.As(err, &e) {
		if e.Recipe == "" {
			e.WithRecipe(id)
		}
		return err
	}
	if wrap == nil {
		return err
	}
	return wrap(err).WithRecipe(id)
}

// VerifyIntegrity checks data against the strongest checksum src declares.
// Sources pinned by git reference only are accepted as is.
func VerifyIntegrity(src Source, data []byte) error {
	switch {
	case src.SHA256 != "":
		sum := sha256.Sum256(data)
		got := hex.EncodeToString(sum[:])
		if !strings.EqualFold(got, src.SHA256) {
			return NewIntegrityMismatch("sha256", src.SHA256, got)
		}
	case src.MD5 != "":
		sum := md5.Sum(data) //nolint:gosec
		got := hex.EncodeToString(sum[:])
		if !strings.EqualFold(got, src.MD5) {
			return NewIntegrityMismatch("md5", src.MD5, got)
		}
	}
	return nil
}

// String renders a short run summary.
func (r *RunResult) String() string {
	if r.Failed != nil {
		return fmt.Sprintf("plan %s: built %d, failed at %s", r.PlanID, len(r.Built), r.Failed)
	}
	return fmt.Sprintf("plan %s: built %d", r.PlanID, len(r.Built))
}
