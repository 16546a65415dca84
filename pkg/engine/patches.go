package engine

import (
	"errors"
	"fmt"
)

// SequencePatches returns the patches of a PatchSet that apply to target, in
// declared order. Nothing is reordered or deduplicated. Identical references
// that are back-to-back in the filtered sequence are reported as
// RedundantPatch warnings, since that is the order patch(1) applies them in,
// even when a patch for another platform separates them in the declared list.
func SequencePatches(id RecipeID, patches []PatchRef, target Platform) ([]PatchRef, []Warning, error) {
	out := make([]PatchRef, 0, len(patches))
	for i, p := range patches {
		ok, err := p.Selector.Applies(target)
		if err != nil {
			var e *EngineError
			if errors.As(err, &e) {
				return nil, nil, e.WithRecipe(id).WithField(fmt.Sprintf("source.patches[%d]", i))
			}
			return nil, nil, err
		}
		if ok {
			out = append(out, p)
		}
	}

	var warnings []Warning
	for i := 1; i < len(out); i++ {
		if out[i] == out[i-1] {
			warnings = append(warnings, Warning{
				Code:    WarnCodeRedundantPatch,
				Recipe:  id.String(),
				Field:   "source.patches",
				Message: fmt.Sprintf("patch %s is applied twice in a row", out[i].Path),
			})
		}
	}

	return out, warnings, nil
}

// FilterEntries returns the test imports or commands that apply to target.
func FilterEntries(id RecipeID, field string, entries []Entry, target Platform) ([]Entry, error) {
	out := make([]Entry, 0, len(entries))
	for i, e := range entries {
		ok, err := e.Selector.Applies(target)
		if err != nil {
			var ee *EngineError
			if errors.As(err, &ee) {
				return nil, ee.WithRecipe(id).WithField(fmt.Sprintf("%s[%d]", field, i))
			}
			return nil, err
		}
		if ok {
			out = append(out, e)
		}
	}
	return out, nil
}
