package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mwm126/anaconda-recipes/pkg/config"
	"github.com/mwm126/anaconda-recipes/pkg/engine"
	"github.com/mwm126/anaconda-recipes/pkg/recipes"
)

func newPlanCommand() *cobra.Command {
	var (
		target      string
		outFile     string
		dotFile     string
		storePath   string
		metricsFile string
		watch       bool
	)

	cmd := &cobra.Command{
		Use:   "plan [root...]",
		Short: "Compute a build plan",
		Long: `Compute a build plan for every recipe under the recipe roots.

The plan:
  - Resolves build and run requirements against the recipe set
  - Rejects dependency cycles, naming the cycle
  - Orders recipes so each is built after its build dependencies
  - Groups recipes into stages that can be built in parallel
  - Filters each recipe's patches for the target
  - Lists requirements left to the base toolchain`,
		Example: `  # Plan the configured roots for the host platform
  arbiter plan

  # Plan for osx, save the plan and a graph of it
  arbiter plan --target osx --out plan.json --dot plan.dot

  # Record the plan in the history database
  arbiter plan --store plans.db

  # Replan whenever a recipe changes
  arbiter plan --watch`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, func(c *config.Config) {
				if target != "" {
					c.Target = target
				}
				if storePath != "" {
					c.Store.Path = storePath
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
			roots := a.roots(args)

			planOnce := func(ctx context.Context) error {
				plan, err := a.plan(ctx, roots)
				if err != nil {
					return err
				}
				return a.emitPlan(ctx, plan, outFile, dotFile)
			}

			if !watch {
				return planOnce(ctx)
			}

			if err := planOnce(ctx); err != nil {
				a.logger.Error().Err(err).Msg("Planning failed")
			}

			w := recipes.NewWatcher(a.logger, 0)
			if err := w.Watch(ctx, roots, func(ctx context.Context) error {
				// A bad edit is reported and watching continues
				if err := planOnce(ctx); err != nil {
					a.logger.Error().Err(err).Msg("Planning failed")
				}
				return nil
			}); err != nil {
				return err
			}
			defer w.Stop()

			<-ctx.Done()
			return nil
		},
	}

	cmd.Flags().StringVarP(&target, "target", "t", "", "target platform (linux, osx, win)")
	cmd.Flags().StringVarP(&outFile, "out", "o", "", "write the plan as JSON to this file")
	cmd.Flags().StringVar(&dotFile, "dot", "", "write a DOT graph of the plan to this file")
	cmd.Flags().StringVar(&storePath, "store", "", "record the plan in this SQLite database")
	cmd.Flags().StringVar(&metricsFile, "metrics-file", "", "write Prometheus metrics to this file on exit")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "replan when recipes change")

	return cmd
}

// emitPlan prints the plan and writes the requested files and history.
func (a *app) emitPlan(ctx context.Context, plan *engine.BuildPlan, outFile, dotFile string) error {
	if outFile != "" {
		f, err := os.Create(outFile)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", outFile, err)
		}
		err = printJSON(f, plan)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return fmt.Errorf("failed to write %s: %w", outFile, err)
		}
	}

	if dotFile != "" {
		if err := os.WriteFile(dotFile, []byte(engine.ToDOT(plan)), 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", dotFile, err)
		}
	}

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
		if err := store.SavePlan(ctx, plan); err != nil {
			return err
		}
		a.logger.Info().Str("plan_id", plan.ID).Str("store", a.cfg.Store.Path).Msg("Plan recorded")
	}

	if jsonOutput {
		return printJSON(a.out, plan)
	}
	printPlan(a.out, plan)
	return nil
}
