package commands

import (
	"fmt"

	"github.com/gookit/color"
	"github.com/spf13/cobra"

	"github.com/mwm126/anaconda-recipes/pkg/recipes"
)

func newDiffCommand() *cobra.Command {
	var changedOnly bool

	cmd := &cobra.Command{
		Use:   "diff <left> <right>",
		Short: "Compare two recipe trees",
		Long: `Compare the recipes of two trees by name.

For every recipe found in either tree the diff reports whether it exists on
each side and, when it exists on both, whether the contents of the recipe
directories are identical.`,
		Example: `  # Compare a fork with upstream
  arbiter diff ./AnacondaRecipes ../upstream/AnacondaRecipes

  # Only list recipes that differ
  arbiter diff --changed ./left ./right`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := recipes.DiffTrees(args[0], args[1])
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(w, d)
			}

			fmt.Fprintf(w, "%-32s %-5s %-5s %s\n", "RECIPE", "LEFT", "RIGHT", "CONTENTS")
			for _, e := range d.Entries {
				status := "-"
				if e.ContentsEqual != nil {
					if *e.ContentsEqual {
						status = "same"
					} else {
						status = styled(w, color.Warn, "differ")
					}
				}
				if changedOnly && status == "same" {
					continue
				}
				fmt.Fprintf(w, "%-32s %-5s %-5s %s\n", e.Recipe, yesNo(e.Left), yesNo(e.Right), status)
			}

			fmt.Fprintf(w, "\n%d changed, %d only in %s, %d only in %s\n",
				len(d.Changed()), len(d.OnlyLeft()), d.Left, len(d.OnlyRight()), d.Right)
			return nil
		},
	}

	cmd.Flags().BoolVar(&changedOnly, "changed", false, "hide recipes that are identical in both trees")

	return cmd
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
