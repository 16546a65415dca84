package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/gookit/color"
	"github.com/spf13/cobra"

	"github.com/mwm126/anaconda-recipes/pkg/builder"
	"github.com/mwm126/anaconda-recipes/pkg/config"
	"github.com/mwm126/anaconda-recipes/pkg/engine"
	"github.com/mwm126/anaconda-recipes/pkg/stores"
	"github.com/mwm126/anaconda-recipes/pkg/telemetry"
)

type buildOutput struct {
	Plan   *engine.BuildPlan `json:"plan"`
	Result *engine.RunResult `json:"result,omitempty"`
	Error  string            `json:"error,omitempty"`
}

func newBuildCommand() *cobra.Command {
	var (
		target      string
		planID      string
		planFile    string
		storePath   string
		workDir     string
		sourceCache string
		metricsFile string
		dryRun      bool
		noFetch     bool
	)

	cmd := &cobra.Command{
		Use:   "build [root...]",
		Short: "Build recipes in plan order",
		Long: `Build every recipe of a plan in order, stopping at the first failure.

For each step the build:
  - Reads the recipe source from the source cache and checks its checksum
  - Unpacks it and applies the recipe's patches for the target
  - Runs the configured build command

The plan is computed from the recipe roots unless --plan or --plan-file is given.
Nothing is retried.`,
		Example: `  # Show the commands a build would run
  arbiter build --dry-run

  # Build a plan recorded earlier
  arbiter build --store plans.db --plan 6f1c2a0e-...

  # Build without sources, running the command in each recipe directory
  arbiter build --no-fetch`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, func(c *config.Config) {
				if target != "" {
					c.Target = target
				}
				if storePath != "" {
					c.Store.Path = storePath
				}
				if workDir != "" {
					c.Build.WorkDir = workDir
				}
				if sourceCache != "" {
					c.Build.SourceCache = sourceCache
				}
				if metricsFile != "" {
					c.Telemetry.Metrics.TextfilePath = metricsFile
				}
			})
			if err != nil {
				return err
			}
			defer a.close()
			ctx := a.context(cmd.Context())

			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			if store != nil {
				defer store.Close()
			}

			plan, stored, err := a.resolvePlan(ctx, store, args, planID, planFile)
			if err != nil {
				return err
			}

			executor, err := builder.NewExecutor(builder.ExecConfig{
				Command: a.cfg.Build.Command,
				Shell:   a.cfg.Build.Shell,
				Env:     a.cfg.Build.Env,
				Timeout: a.cfg.Build.Timeout,
			}, plan.Target, a.logger)
			if err != nil {
				return err
			}

			if dryRun {
				return a.printDryRun(executor, plan)
			}

			if store != nil && !stored {
				if err := store.SavePlan(ctx, plan); err != nil {
					return err
				}
			}

			opts := []engine.RunnerOption{
				engine.WithRunRecorder(a.tel.Metrics),
				engine.WithRunLogger(a.tel.Logger.NewComponentLogger("runner").WithPlan(plan).Zerolog()),
			}
			if !noFetch {
				opts = append(opts,
					engine.WithFetcher(builder.NewCacheFetcher(a.cfg.Build.SourceCache, a.logger)),
					engine.WithPatchApplier(builder.NewPatchApplier(a.cfg.Build.WorkDir, a.logger)),
				)
			}

			op := telemetry.StartOperation(ctx, "arbiter.build",
				telemetry.AttrCommand.String("build"),
				telemetry.AttrPlanID.String(plan.ID),
			)
			started := time.Now()
			result, runErr := engine.NewRunner(executor, opts...).Run(op.Ctx, plan)
			op.End(runErr)

			if store != nil {
				if err := store.RecordRun(ctx, newBuildRun(plan.ID, started, result, runErr)); err != nil {
					a.logger.Error().Err(err).Msg("Failed to record build run")
				}
			}

			out := buildOutput{Plan: plan, Result: result}
			if runErr != nil {
				out.Error = runErr.Error()
			}
			if jsonOutput {
				if err := printJSON(a.out, out); err != nil {
					return err
				}
			} else {
				printBuild(a, out)
			}
			return runErr
		},
	}

	cmd.Flags().StringVarP(&target, "target", "t", "", "target platform (linux, osx, win)")
	cmd.Flags().StringVar(&planID, "plan", "", "build a plan recorded in the store")
	cmd.Flags().StringVar(&planFile, "plan-file", "", "build a plan written by 'plan --out'")
	cmd.Flags().StringVar(&storePath, "store", "", "plan history SQLite database")
	cmd.Flags().StringVar(&workDir, "work-dir", "", "directory for unpacked sources")
	cmd.Flags().StringVar(&sourceCache, "source-cache", "", "directory holding source archives")
	cmd.Flags().StringVar(&metricsFile, "metrics-file", "", "write Prometheus metrics to this file on exit")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the build commands without running them")
	cmd.Flags().BoolVar(&noFetch, "no-fetch", false, "skip fetching and patching sources")
	cmd.MarkFlagsMutuallyExclusive("plan", "plan-file")

	return cmd
}

// resolvePlan loads the plan to build. stored reports whether it came from
// the plan store.
func (a *app) resolvePlan(ctx context.Context, store *stores.SQLiteStore, args []string, planID, planFile string) (*engine.BuildPlan, bool, error) {
	switch {
	case planID != "":
		if store == nil {
			return nil, false, fmt.Errorf("--plan needs a plan store: set store.path or pass --store")
		}
		plan, err := store.GetPlan(ctx, planID)
		return plan, true, err

	case planFile != "":
		data, err := os.ReadFile(planFile)
		if err != nil {
			return nil, false, fmt.Errorf("failed to read plan: %w", err)
		}
		plan := &engine.BuildPlan{}
		if err := json.Unmarshal(data, plan); err != nil {
			return nil, false, fmt.Errorf("failed to decode plan %s: %w", planFile, err)
		}
		if store != nil {
			if _, err := store.GetPlan(ctx, plan.ID); err == nil {
				return plan, true, nil
			}
		}
		return plan, false, nil
	}

	plan, err := a.plan(ctx, a.roots(args))
	return plan, false, err
}

func newBuildRun(planID string, started time.Time, result *engine.RunResult, err error) *stores.BuildRun {
	run := &stores.BuildRun{
		ID:        uuid.New().String(),
		PlanID:    planID,
		Status:    stores.RunStatusCompleted,
		StartedAt: started,
		Duration:  time.Since(started),
	}
	if result != nil {
		run.Built = len(result.Built)
		if result.Failed != nil {
			failed := result.Failed.String()
			run.FailedRecipe = &failed
		}
	}
	if err != nil {
		run.Status = stores.RunStatusFailed
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			run.Status = stores.RunStatusCancelled
		}
		msg := err.Error()
		run.Error = &msg
	}
	return run
}

func (a *app) printDryRun(executor *builder.Executor, plan *engine.BuildPlan) error {
	type dryStep struct {
		Recipe  string `json:"recipe"`
		Stage   int    `json:"stage"`
		Command string `json:"command"`
	}

	steps := make([]dryStep, 0, len(plan.Steps))
	for i := range plan.Steps {
		step := &plan.Steps[i]
		command, err := executor.Render(step, nil)
		if err != nil {
			return err
		}
		steps = append(steps, dryStep{Recipe: step.Recipe.ID().String(), Stage: step.Stage, Command: command})
	}

	if jsonOutput {
		return printJSON(a.out, steps)
	}
	for i, s := range steps {
		fmt.Fprintf(a.out, "%3d. [stage %d] %s\n     %s\n", i+1, s.Stage, s.Recipe, s.Command)
	}
	return nil
}

func printBuild(a *app, out buildOutput) {
	w := a.out
	if out.Result != nil {
		for _, id := range out.Result.Built {
			fmt.Fprintf(w, "  %s %s\n", styled(w, color.Success, "built"), id)
		}
		if out.Result.Failed != nil {
			fmt.Fprintf(w, "  %s %s\n", styled(w, color.Danger, "failed"), out.Result.Failed)
		}
		fmt.Fprintf(w, "%s in %s\n", out.Result, out.Result.Duration.Round(time.Millisecond))
	}
	if out.Error != "" {
		fmt.Fprintf(w, "%s\n", styled(w, color.Danger, out.Error))
	}
}
