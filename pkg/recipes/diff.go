package recipes

import (
	"sort"
)

// DiffEntry compares one recipe across two trees.
type DiffEntry struct {
	Recipe string `json:"recipe"`
	Left   bool   `json:"left"`
	Right  bool   `json:"right"`

	// ContentsEqual is nil when the recipe is missing from either side.
	ContentsEqual *bool `json:"contents_equal"`
}

// Diff is the per-recipe comparison of two recipe trees.
type Diff struct {
	Left    string      `json:"left"`
	Right   string      `json:"right"`
	Entries []DiffEntry `json:"entries"`
}

// Compare builds diff entries for the union of two name->digest maps,
// sorted by recipe name.
func Compare(left, right map[string]string) []DiffEntry {
	names := make(map[string]struct{}, len(left)+len(right))
	for n := range left {
		names[n] = struct{}{}
	}
	for n := range right {
		names[n] = struct{}{}
	}

	sorted := make([]string, 0, len(names))
	for n := range names {
		sorted = append(sorted, n)
	}
	sort.Strings(sorted)

	entries := make([]DiffEntry, 0, len(sorted))
	for _, n := range sorted {
		l, inLeft := left[n]
		r, inRight := right[n]
		e := DiffEntry{Recipe: n, Left: inLeft, Right: inRight}
		if inLeft && inRight {
			eq := l == r
			e.ContentsEqual = &eq
		}
		entries = append(entries, e)
	}
	return entries
}

// DiffTrees compares the recipes found under two roots.
func DiffTrees(leftRoot, rightRoot string) (*Diff, error) {
	left, err := Contents(leftRoot)
	if err != nil {
		return nil, err
	}
	right, err := Contents(rightRoot)
	if err != nil {
		return nil, err
	}

	return &Diff{
		Left:    leftRoot,
		Right:   rightRoot,
		Entries: Compare(left, right),
	}, nil
}

// Changed returns the recipes present on both sides whose contents differ.
func (d *Diff) Changed() []string {
	var out []string
	for _, e := range d.Entries {
		if e.ContentsEqual != nil && !*e.ContentsEqual {
			out = append(out, e.Recipe)
		}
	}
	return out
}

// OnlyLeft returns the recipes missing from the right tree.
func (d *Diff) OnlyLeft() []string {
	var out []string
	for _, e := range d.Entries {
		if e.Left && !e.Right {
			out = append(out, e.Recipe)
		}
	}
	return out
}

// OnlyRight returns the recipes missing from the left tree.
func (d *Diff) OnlyRight() []string {
	var out []string
	for _, e := range d.Entries {
		if e.Right && !e.Left {
			out = append(out, e.Recipe)
		}
	}
	return out
}
