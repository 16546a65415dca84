package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mwm126/anaconda-recipes/pkg/config"
	"github.com/mwm126/anaconda-recipes/pkg/engine"
	"github.com/mwm126/anaconda-recipes/pkg/manifest"
)

type patchSet struct {
	Recipe   string            `json:"recipe"`
	Target   engine.Platform   `json:"target"`
	Patches  []engine.PatchRef `json:"patches"`
	Warnings []engine.Warning  `json:"warnings,omitempty"`
}

func newPatchesCommand() *cobra.Command {
	var (
		target string
		all    bool
	)

	cmd := &cobra.Command{
		Use:   "patches <recipe>",
		Short: "Show the patches a recipe applies",
		Long: `Show the ordered patch set of one recipe for a target platform.

The argument is a recipe directory or its meta.yaml. Patches whose selector
excludes the target are dropped; the rest keep their declared order.`,
		Example: `  # Patches applied on the configured target
  arbiter patches AnacondaRecipes/qt-recipe/recipe

  # Patches for every platform
  arbiter patches --all AnacondaRecipes/qt-recipe/recipe`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, func(c *config.Config) {
				if target != "" {
					c.Target = target
				}
			})
			if err != nil {
				return err
			}
			defer a.close()

			path := args[0]
			if info, err := os.Stat(path); err == nil && info.IsDir() {
				path = filepath.Join(path, manifest.FileName)
			}

			parser, err := a.parser()
			if err != nil {
				return err
			}

			targets := []engine.Platform{a.target}
			if all {
				targets = engine.Platforms
			}

			sets := make([]patchSet, 0, len(targets))
			for _, t := range targets {
				r, err := parser.ParseFile(path, t)
				if err != nil {
					return err
				}
				patches, warnings, err := engine.SequencePatches(r.ID(), r.Source.Patches, t)
				if err != nil {
					return err
				}
				sets = append(sets, patchSet{
					Recipe:   r.ID().String(),
					Target:   t,
					Patches:  patches,
					Warnings: warnings,
				})
			}

			if jsonOutput {
				return printJSON(a.out, sets)
			}
			for _, s := range sets {
				fmt.Fprintf(a.out, "%s on %s: %d patch(es)\n", s.Recipe, s.Target, len(s.Patches))
				for i, p := range s.Patches {
					fmt.Fprintf(a.out, "  %d. %s\n", i+1, p.Path)
				}
				printWarnings(a.out, s.Warnings)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&target, "target", "t", "", "target platform (linux, osx, win)")
	cmd.Flags().BoolVar(&all, "all", false, "show the patch set for every platform")

	return cmd
}
