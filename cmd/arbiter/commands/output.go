package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/gookit/color"
	"github.com/mattn/go-isatty"

	"github.com/mwm126/anaconda-recipes/pkg/engine"
)

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// styled colours s when w is a terminal.
func styled(w io.Writer, theme *color.Theme, s string) string {
	f, ok := w.(*os.File)
	if !ok || !isatty.IsTerminal(f.Fd()) {
		return s
	}
	return theme.Sprint(s)
}

func printWarnings(w io.Writer, warnings []engine.Warning) {
	if len(warnings) == 0 {
		return
	}
	fmt.Fprintf(w, "\nWarnings (%d):\n", len(warnings))
	for _, warn := range warnings {
		where := warn.Recipe
		if warn.Field != "" {
			where += " " + warn.Field
		}
		fmt.Fprintf(w, "  %s %s: %s\n", styled(w, color.Warn, warn.Code), where, warn.Message)
	}
}

func printPlan(w io.Writer, plan *engine.BuildPlan) {
	fmt.Fprintf(w, "Plan %s for %s: %d recipe(s) in %d stage(s)\n",
		plan.ID, plan.Target, len(plan.Steps), len(plan.Stages))

	for _, step := range plan.Steps {
		fmt.Fprintf(w, "  %3d. [stage %d] %s", step.Position+1, step.Stage, step.Recipe.ID())
		if len(step.Patches) > 0 {
			fmt.Fprintf(w, "  patches: %s", patchList(step.Patches))
		}
		fmt.Fprintln(w)
	}

	if len(plan.External) > 0 {
		fmt.Fprintf(w, "\nExternal (%d):\n", len(plan.External))
		for _, ext := range plan.External {
			req := ext.Name
			if ext.Constraint != "" {
				req += " " + ext.Constraint
			}
			fmt.Fprintf(w, "  %s (%s) required by %s\n", req, ext.Phase, ext.RequiredBy)
		}
	}

	printWarnings(w, plan.Warnings)
}

func patchList(patches []engine.PatchRef) string {
	paths := make([]string, len(patches))
	for i, p := range patches {
		paths[i] = p.Path
	}
	return strings.Join(paths, ", ")
}
