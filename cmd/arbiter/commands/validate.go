package commands

import (
	"fmt"

	"github.com/gookit/color"
	"github.com/spf13/cobra"

	"github.com/mwm126/anaconda-recipes/pkg/config"
	"github.com/mwm126/anaconda-recipes/pkg/engine"
)

type validationFailure struct {
	Dir   string `json:"dir"`
	Code  string `json:"code,omitempty"`
	Error string `json:"error"`
}

type validationReport struct {
	Target   engine.Platform     `json:"target"`
	Recipes  int                 `json:"recipes"`
	Failures []validationFailure `json:"failures"`
	Warnings []engine.Warning    `json:"warnings"`
}

func newValidateCommand() *cobra.Command {
	var (
		strict bool
		target string
	)

	cmd := &cobra.Command{
		Use:   "validate [root...]",
		Short: "Validate recipe manifests",
		Long: `Parse every manifest under the recipe roots for one target and run the
lint policies against the result.

This command checks:
  - Manifest shape and field types
  - Selector tags and requirement syntax
  - Patch sets for the target (redundant patches)
  - Policy compliance (OPA/rego)`,
		Example: `  # Validate the configured recipe roots
  arbiter validate

  # Validate a specific tree for windows, failing on any warning
  arbiter validate --target win --strict ./AnacondaRecipes`,
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
			ctx := a.context(cmd.Context())

			loaded, err := a.load(ctx, a.roots(args))
			if err != nil {
				return err
			}

			report := validationReport{
				Target:   a.target,
				Recipes:  len(loaded.Recipes),
				Failures: make([]validationFailure, 0, len(loaded.Failures)),
				Warnings: make([]engine.Warning, 0),
			}
			for _, f := range loaded.Failures {
				report.Failures = append(report.Failures, validationFailure{
					Dir:   f.Dir.Path,
					Code:  engine.CodeOf(f.Err),
					Error: f.Err.Error(),
				})
			}

			pe, err := a.policies(ctx)
			if err != nil {
				return err
			}
			for _, r := range loaded.Recipes {
				rlog := a.tel.Logger.WithRecipe(r.ID()).Zerolog()
				_, warnings, err := engine.SequencePatches(r.ID(), r.Source.Patches, a.target)
				if err != nil {
					rlog.Debug().Err(err).Msg("Patch set rejected")
					report.Failures = append(report.Failures, validationFailure{
						Dir:   r.Path,
						Code:  engine.CodeOf(err),
						Error: err.Error(),
					})
					continue
				}
				report.Warnings = append(report.Warnings, warnings...)

				if pe != nil {
					findings, err := pe.Evaluate(ctx, r)
					if err != nil {
						return err
					}
					report.Warnings = append(report.Warnings, findings...)
					warnings = append(warnings, findings...)
				}
				rlog.Debug().Int("warnings", len(warnings)).Msg("Recipe validated")
			}

			if jsonOutput {
				if err := printJSON(a.out, report); err != nil {
					return err
				}
			} else {
				printValidation(a, report)
			}

			switch {
			case len(report.Failures) > 0:
				return fmt.Errorf("%d of %d manifest(s) invalid", len(report.Failures), report.Recipes+len(loaded.Failures))
			case strict && len(report.Warnings) > 0:
				return fmt.Errorf("%d warning(s) in strict mode", len(report.Warnings))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&strict, "strict", false, "treat warnings as errors")
	cmd.Flags().StringVarP(&target, "target", "t", "", "target platform (linux, osx, win)")

	return cmd
}

func printValidation(a *app, report validationReport) {
	w := a.out
	fmt.Fprintf(w, "Validated %d recipe(s) for %s\n", report.Recipes, report.Target)
	for _, f := range report.Failures {
		fmt.Fprintf(w, "  %s %s: %s\n", styled(w, color.Danger, "FAIL"), f.Dir, f.Error)
	}
	printWarnings(w, report.Warnings)
	if len(report.Failures) == 0 {
		fmt.Fprintln(w, styled(w, color.Success, "OK"))
	}
}
