package commands

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/mwm126/anaconda-recipes/pkg/config"
)

func newHistoryCommand() *cobra.Command {
	var (
		storePath string
		limit     int
		recipe    string
		planID    string
		deleteID  string
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded plans and builds",
		Long: `Show the plans recorded with 'plan --store' and the builds run from them.

By default the most recent plans are listed. --recipe lists the plans that
built a recipe, --plan shows one plan with its build runs.`,
		Example: `  # Recent plans
  arbiter history --store plans.db

  # Which plans built qt, and at which version
  arbiter history --store plans.db --recipe qt

  # One plan and its runs
  arbiter history --store plans.db --plan 6f1c2a0e-...`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, func(c *config.Config) {
				if storePath != "" {
					c.Store.Path = storePath
				}
			})
			if err != nil {
				return err
			}
			defer a.close()
			ctx := a.context(cmd.Context())

			store, err := a.requireStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			w := a.out
			switch {
			case deleteID != "":
				if err := store.DeletePlan(ctx, deleteID); err != nil {
					return err
				}
				fmt.Fprintf(w, "deleted plan %s\n", deleteID)
				return nil

			case planID != "":
				plan, err := store.GetPlan(ctx, planID)
				if err != nil {
					return err
				}
				runs, err := store.ListRuns(ctx, planID)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(w, map[string]interface{}{"plan": plan, "runs": runs})
				}
				printPlan(w, plan)
				fmt.Fprintf(w, "\nRuns (%d):\n", len(runs))
				for _, r := range runs {
					fmt.Fprintf(w, "  %s %-9s built=%d %s", humanize.Time(r.StartedAt), r.Status, r.Built, r.Duration)
					if r.FailedRecipe != nil {
						fmt.Fprintf(w, " failed=%s", *r.FailedRecipe)
					}
					fmt.Fprintln(w)
				}
				return nil

			case recipe != "":
				uses, err := store.FindRecipe(ctx, recipe, limit)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(w, uses)
				}
				for _, u := range uses {
					fmt.Fprintf(w, "%s  %-5s %s@%s  position=%d stage=%d patches=%d  %s\n",
						u.PlanID, u.Target, recipe, u.Version, u.Position, u.Stage, u.Patches, humanize.Time(u.CreatedAt))
				}
				return nil
			}

			plans, err := store.ListPlans(ctx, limit)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(w, plans)
			}
			for _, p := range plans {
				fmt.Fprintf(w, "%s  %-5s recipes=%d external=%d warnings=%d  %s\n",
					p.ID, p.Target, p.Recipes, p.External, p.Warnings, humanize.Time(p.CreatedAt))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&storePath, "store", "", "plan history SQLite database")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of entries (0 for all)")
	cmd.Flags().StringVar(&recipe, "recipe", "", "list the plans that built this recipe")
	cmd.Flags().StringVar(&planID, "plan", "", "show one plan and its build runs")
	cmd.Flags().StringVar(&deleteID, "delete", "", "delete a plan and its runs")
	cmd.MarkFlagsMutuallyExclusive("recipe", "plan", "delete")

	return cmd
}
