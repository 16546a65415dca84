package commands

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/mwm126/anaconda-recipes/pkg/config"
	"github.com/mwm126/anaconda-recipes/pkg/engine"
	"github.com/mwm126/anaconda-recipes/pkg/manifest"
	"github.com/mwm126/anaconda-recipes/pkg/policy"
	"github.com/mwm126/anaconda-recipes/pkg/recipes"
	"github.com/mwm126/anaconda-recipes/pkg/stores"
	"github.com/mwm126/anaconda-recipes/pkg/telemetry"
)

// app is the per-invocation wiring shared by the commands.
type app struct {
	cfg    *config.Config
	target engine.Platform
	tel    *telemetry.Telemetry
	logger zerolog.Logger
	out    io.Writer
}

// newApp loads the configuration, applies flag overrides and starts telemetry.
func newApp(cmd *cobra.Command, override func(*config.Config)) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}
	if override != nil {
		override(cfg)
	}

	target, err := cfg.Platform()
	if err != nil {
		return nil, err
	}

	// The global level set from LOG_LEVEL would otherwise filter the
	// configured one
	if lvl := telemetry.ParseLevel(cfg.Telemetry.Logging.Level); lvl < zerolog.GlobalLevel() {
		zerolog.SetGlobalLevel(lvl)
	}

	tel, err := telemetry.NewTelemetry(&cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	return &app{
		cfg:    cfg,
		target: target,
		tel:    tel,
		logger: tel.Logger.Zerolog(),
		out:    cmd.OutOrStdout(),
	}, nil
}

// context attaches telemetry to ctx.
func (a *app) context(ctx context.Context) context.Context {
	return a.tel.WithContext(ctx)
}

// close flushes spans and writes the metrics textfile.
func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.tel.Shutdown(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("Telemetry shutdown failed")
	}
}

// roots returns args when given, else the configured recipe roots.
func (a *app) roots(args []string) []string {
	if len(args) > 0 {
		return args
	}
	return a.cfg.RecipeRoots
}

func (a *app) parser() (*manifest.Parser, error) {
	return manifest.NewParser(manifest.WithLogger(a.logger))
}

// load parses every manifest under roots for the configured target.
func (a *app) load(ctx context.Context, roots []string) (*recipes.LoadResult, error) {
	p, err := a.parser()
	if err != nil {
		return nil, err
	}
	return recipes.NewLoader(p, a.logger, a.cfg.Build.WorkDir, a.cfg.Build.SourceCache).LoadAll(ctx, roots, a.target)
}

// policies builds the lint policy engine, or returns nil when disabled.
func (a *app) policies(ctx context.Context) (*policy.Engine, error) {
	if !a.cfg.Policy.Enabled {
		return nil, nil
	}

	pe, err := policy.NewEngine(a.logger)
	if err != nil {
		return nil, err
	}
	if len(a.cfg.Policy.Paths) > 0 {
		if err := pe.LoadPolicies(ctx, a.cfg.Policy.Paths); err != nil {
			return nil, err
		}
	}
	for _, name := range a.cfg.Policy.Disabled {
		if err := pe.DisablePolicy(name); err != nil {
			return nil, err
		}
	}
	return pe, nil
}

func (a *app) planner(ctx context.Context) (*engine.DefaultPlanner, error) {
	opts := []engine.PlannerOption{
		engine.WithResolveOptions(a.cfg.ResolveOptions()),
		engine.WithRecorder(a.tel.Metrics),
		engine.WithLogger(a.tel.Logger.NewComponentLogger("planner").Zerolog()),
	}

	pe, err := a.policies(ctx)
	if err != nil {
		return nil, err
	}
	if pe != nil {
		opts = append(opts, engine.WithPolicyEngine(pe))
	}
	return engine.NewPlanner(opts...), nil
}

// plan loads the recipes under roots and computes a plan. Any manifest that
// fails to parse aborts planning.
func (a *app) plan(ctx context.Context, roots []string) (*engine.BuildPlan, error) {
	op := telemetry.StartOperation(ctx, "arbiter.plan",
		telemetry.AttrCommand.String("plan"),
		telemetry.AttrTarget.String(string(a.target)),
	)

	plan, err := func() (*engine.BuildPlan, error) {
		loaded, err := a.load(op.Ctx, roots)
		if err != nil {
			return nil, err
		}
		if err := loaded.Err(); err != nil {
			return nil, err
		}

		planner, err := a.planner(op.Ctx)
		if err != nil {
			return nil, err
		}
		return planner.Plan(op.Ctx, loaded.Recipes, a.target)
	}()
	op.End(err)
	if err != nil {
		return nil, err
	}

	zl := op.Logger.Zerolog()
	zl.Info().
		Str("plan_id", plan.ID).
		Int("steps", len(plan.Steps)).
		Int("stages", len(plan.Stages)).
		Int("external", len(plan.External)).
		Int("warnings", len(plan.Warnings)).
		Dur("duration", op.Duration()).
		Msg("Plan computed")
	return plan, nil
}

// openStore opens the plan history, or returns nil when no path is set.
func (a *app) openStore(ctx context.Context) (*stores.SQLiteStore, error) {
	if a.cfg.Store.Path == "" {
		return nil, nil
	}
	return stores.Open(ctx, a.cfg.Store.Path)
}

// requireStore opens the plan history and fails when none is configured.
func (a *app) requireStore(ctx context.Context) (*stores.SQLiteStore, error) {
	s, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, fmt.Errorf("no plan store configured: set store.path or pass --store")
	}
	return s, nil
}
