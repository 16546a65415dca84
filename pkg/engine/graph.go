package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mwm126/anaconda-recipes/pkg/semver"
)

// ResolveOptions controls how requirement names are resolved against the
// recipe universe.
type ResolveOptions struct {
	// AllowExternal treats a requirement that names no known recipe as
	// supplied by the base toolchain. When false such a requirement fails
	// with UnresolvedDependency.
	AllowExternal bool

	// External names are always treated as supplied by the base toolchain,
	// even when a recipe of that name exists.
	External []string
}

// Edge is a resolved requirement between two recipes.
type Edge struct {
	From       RecipeID `json:"from"`
	To         RecipeID `json:"to"`
	Phase      Phase    `json:"phase"`
	Constraint string   `json:"constraint,omitempty"`
}

// DependencyGraph is a directed graph of recipes with build and run edges
// kept distinct. Edges point from a recipe to the recipes it requires.
type DependencyGraph struct {
	recipes map[RecipeID]*Recipe
	ids     []RecipeID

	// build and run map a recipe to the recipes it requires.
	build map[RecipeID][]RecipeID
	run   map[RecipeID][]RecipeID

	// dependents maps a recipe to the recipes that build-require it.
	dependents map[RecipeID][]RecipeID

	Edges    []Edge
	External []ExternalDependency
}

// AssembleGraph resolves every requirement of recipes and builds the graph.
func AssembleGraph(recipes []*Recipe, opts ResolveOptions) (*DependencyGraph, error) {
	g := &DependencyGraph{
		recipes:    make(map[RecipeID]*Recipe, len(recipes)),
		build:      make(map[RecipeID][]RecipeID),
		run:        make(map[RecipeID][]RecipeID),
		dependents: make(map[RecipeID][]RecipeID),
		Edges:      make([]Edge, 0),
		External:   make([]ExternalDependency, 0),
	}

	// First pass: index all recipes
	byName := make(map[string][]*Recipe)
	for _, r := range recipes {
		id := r.ID()
		if existing, exists := g.recipes[id]; exists {
			return nil, NewPermanentError(fmt.Sprintf("duplicate recipe %s", id), nil).
				WithCode(ErrCodeDuplicateRecipe).
				WithRecipe(id).
				WithDetail("paths", []string{existing.Path, r.Path})
		}
		g.recipes[id] = r
		g.ids = append(g.ids, id)
		byName[r.Name] = append(byName[r.Name], r)
	}
	sortIDs(g.ids)

	external := make(map[string]bool, len(opts.External))
	for _, name := range opts.External {
		external[name] = true
	}

	// Second pass: resolve requirement edges
	for _, id := range g.ids {
		r := g.recipes[id]
		for _, phase := range []Phase{PhaseBuild, PhaseRun} {
			for i, req := range r.Requirements(phase) {
				field := fmt.Sprintf("%s.requirements[%d]", phase, i)
				target, isExternal, err := resolve(r, req, byName, external, opts.AllowExternal)
				if err != nil {
					return nil, err.WithRecipe(id).WithField(field)
				}
				if isExternal {
					g.External = append(g.External, ExternalDependency{
						Name:       req.Name,
						Constraint: req.Constraint,
						Phase:      phase,
						RequiredBy: id,
					})
					continue
				}
				g.addEdge(Edge{From: id, To: target, Phase: phase, Constraint: req.Constraint})
			}
		}
	}

	for _, id := range g.ids {
		sortIDs(g.build[id])
		sortIDs(g.run[id])
		sortIDs(g.dependents[id])
	}

	return g, nil
}

// resolve finds the single recipe satisfying req, or reports req as external.
func resolve(
	from *Recipe,
	req Requirement,
	byName map[string][]*Recipe,
	external map[string]bool,
	allowExternal bool,
) (RecipeID, bool, *EngineError) {
	if external[req.Name] {
		return RecipeID{}, true, nil
	}

	candidates := byName[req.Name]
	if len(candidates) == 0 {
		if allowExternal {
			return RecipeID{}, true, nil
		}
		return RecipeID{}, false, NewPermanentError(
			fmt.Sprintf("requirement %q matches no recipe", req.String()), nil,
		).WithCode(ErrCodeUnresolvedDependency)
	}

	constraint, err := semver.ParseConstraint(req.Constraint)
	if err != nil {
		return RecipeID{}, false, NewPermanentError(
			fmt.Sprintf("invalid version constraint in %q", req.String()), err,
		).WithCode(ErrCodeMalformedManifest)
	}

	matching := make([]RecipeID, 0, len(candidates))
	all := make([]string, 0, len(candidates))
	for _, c := range candidates {
		all = append(all, c.Version)
		if versionMatches(c.Version, req.Constraint, constraint) {
			matching = append(matching, c.ID())
		}
	}
	sort.Strings(all)

	switch {
	case len(matching) == 0:
		return RecipeID{}, false, NewPermanentError(
			fmt.Sprintf("no version of %s satisfies %q (available: %s)", req.Name, req.Constraint, strings.Join(all, ", ")), nil,
		).WithCode(ErrCodeVersionConflict).
			WithDetail("available", all)
	case len(matching) > 1:
		sortIDs(matching)
		names := make([]string, len(matching))
		for i, m := range matching {
			names[i] = m.String()
		}
		return RecipeID{}, false, NewPermanentError(
			fmt.Sprintf("requirement %q matches several recipes: %s", req.String(), strings.Join(names, ", ")), nil,
		).WithCode(ErrCodeAmbiguousRequirement).
			WithDetail("candidates", names)
	}

	if matching[0] == from.ID() {
		return RecipeID{}, false, NewPermanentError("recipe requires itself", nil).
			WithCode(ErrCodeMalformedManifest)
	}
	return matching[0], false, nil
}

// versionMatches checks a candidate version against a constraint. Versions
// that do not parse only match an empty constraint or their own exact text.
func versionMatches(version, raw string, c semver.Constraint) bool {
	if strings.TrimSpace(raw) == "" {
		return true
	}
	v, err := semver.ParseVersion(version)
	if err != nil {
		exact := strings.TrimLeft(strings.TrimSpace(raw), "=")
		return exact == version
	}
	return semver.Satisfies(v, c)
}

func (g *DependencyGraph) addEdge(e Edge) {
	adj := g.run
	if e.Phase == PhaseBuild {
		adj = g.build
	}
	for _, existing := range adj[e.From] {
		if existing == e.To {
			return
		}
	}
	adj[e.From] = append(adj[e.From], e.To)
	if e.Phase == PhaseBuild {
		g.dependents[e.To] = append(g.dependents[e.To], e.From)
	}
	g.Edges = append(g.Edges, e)
}

// Recipe returns the recipe with the given identity.
func (g *DependencyGraph) Recipe(id RecipeID) (*Recipe, bool) {
	r, ok := g.recipes[id]
	return r, ok
}

// IDs returns every recipe identity sorted by name, then version.
func (g *DependencyGraph) IDs() []RecipeID {
	return append([]RecipeID(nil), g.ids...)
}

// BuildDeps returns the recipes id build-requires, sorted.
func (g *DependencyGraph) BuildDeps(id RecipeID) []RecipeID {
	return append([]RecipeID(nil), g.build[id]...)
}

// RunDeps returns the recipes id run-requires, sorted.
func (g *DependencyGraph) RunDeps(id RecipeID) []RecipeID {
	return append([]RecipeID(nil), g.run[id]...)
}

func sortIDs(ids []RecipeID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
}
