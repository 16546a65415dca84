package engine

import (
	"container/heap"
	"fmt"
	"strings"
)

type visitState int

const (
	unvisited visitState = iota
	onStack
	finished
)

// TopologicalOrder returns the recipes ordered so that every build
// dependency precedes its dependents, together with the build stages.
//
// Ties between recipes that are ready at the same time are broken by
// (name, version) so the order never depends on input order. Run edges do
// not affect the order.
func (g *DependencyGraph) TopologicalOrder() ([]RecipeID, [][]RecipeID, error) {
	// Detect circular dependencies
	if err := g.detectCycles(); err != nil {
		return nil, nil, err
	}

	// Kahn's algorithm with a min-heap as the ready set
	inDegree := make(map[RecipeID]int, len(g.ids))
	ready := &idHeap{}
	for _, id := range g.ids {
		inDegree[id] = len(g.build[id])
		if inDegree[id] == 0 {
			heap.Push(ready, id)
		}
	}

	order := make([]RecipeID, 0, len(g.ids))
	stageOf := make(map[RecipeID]int, len(g.ids))
	depth := 0
	for ready.Len() > 0 {
		id := heap.Pop(ready).(RecipeID)
		order = append(order, id)

		stage := 0
		for _, dep := range g.build[id] {
			if stageOf[dep]+1 > stage {
				stage = stageOf[dep] + 1
			}
		}
		stageOf[id] = stage
		if stage+1 > depth {
			depth = stage + 1
		}

		for _, dependent := range g.dependents[id] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				heap.Push(ready, dependent)
			}
		}
	}

	// Should never happen if cycle detection worked
	if len(order) != len(g.ids) {
		return nil, nil, NewPermanentError("failed to order all recipes - possible cycle", nil).
			WithCode(ErrCodeInternal)
	}

	stages := make([][]RecipeID, depth)
	for _, id := range order {
		stages[stageOf[id]] = append(stages[stageOf[id]], id)
	}
	for _, s := range stages {
		sortIDs(s)
	}

	return order, stages, nil
}

// detectCycles walks the build edges depth-first, colouring each recipe as
// unvisited, on the traversal stack, or finished. A back edge to a recipe on
// the stack is a cycle.
func (g *DependencyGraph) detectCycles() error {
	state := make(map[RecipeID]visitState, len(g.ids))
	path := make([]RecipeID, 0)

	for _, id := range g.ids {
		if state[id] != unvisited {
			continue
		}
		if cycle := g.detectCyclesUtil(id, state, path); cycle != nil {
			return NewPermanentError(
				fmt.Sprintf("circular dependency detected: %s", formatCycle(cycle)), nil,
			).WithCode(ErrCodeCyclicDependency).
				WithRecipe(cycle[0]).
				WithDetail("cycle", cycle)
		}
	}

	return nil
}

func (g *DependencyGraph) detectCyclesUtil(id RecipeID, state map[RecipeID]visitState, path []RecipeID) []RecipeID {
	state[id] = onStack
	path = append(path, id)

	for _, dep := range g.build[id] {
		switch state[dep] {
		case unvisited:
			if cycle := g.detectCyclesUtil(dep, state, path); cycle != nil {
				return cycle
			}
		case onStack:
			// Found a back edge. Prefer the shortest cycle through dep; the
			// stack slice is the fallback.
			if cycle := g.shortestCycleThrough(dep); cycle != nil {
				return cycle
			}
			for i, p := range path {
				if p == dep {
					cycle := append([]RecipeID(nil), path[i:]...)
					return append(cycle, dep)
				}
			}
		}
	}

	state[id] = finished
	return nil
}

// shortestCycleThrough runs a breadth-first search along build edges from
// start back to itself. The result begins and ends with start.
func (g *DependencyGraph) shortestCycleThrough(start RecipeID) []RecipeID {
	parent := map[RecipeID]RecipeID{}
	seen := map[RecipeID]bool{}
	queue := []RecipeID{start}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, dep := range g.build[cur] {
			if dep == start {
				cycle := []RecipeID{start}
				for n := cur; n != start; n = parent[n] {
					cycle = append(cycle, n)
				}
				// cycle is start followed by the path in reverse
				for i, j := 1, len(cycle)-1; i < j; i, j = i+1, j-1 {
					cycle[i], cycle[j] = cycle[j], cycle[i]
				}
				return append(cycle, start)
			}
			if !seen[dep] {
				seen[dep] = true
				parent[dep] = cur
				queue = append(queue, dep)
			}
		}
	}
	return nil
}

// formatCycle formats a cycle path for error messages.
func formatCycle(cycle []RecipeID) string {
	parts := make([]string, len(cycle))
	for i, id := range cycle {
		parts[i] = id.String()
	}
	return strings.Join(parts, " -> ")
}

// idHeap is a min-heap of recipe identities ordered by name, then version.
type idHeap []RecipeID

func (h idHeap) Len() int           { return len(h) }
func (h idHeap) Less(i, j int) bool { return h[i].Less(h[j]) }
func (h idHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *idHeap) Push(x any) { *h = append(*h, x.(RecipeID)) }

func (h *idHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// ToDOT generates a DOT representation of a build plan.
// The output can be rendered with Graphviz tools.
func ToDOT(plan *BuildPlan) string {
	var sb strings.Builder

	sb.WriteString("digraph BuildPlan {\n")
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	// Group nodes by stage for better visualization
	patched := make(map[RecipeID]int, len(plan.Steps))
	for _, step := range plan.Steps {
		patched[step.Recipe.ID()] = len(step.Patches)
	}
	for stage, ids := range plan.Stages {
		sb.WriteString(fmt.Sprintf("  subgraph cluster_stage_%d {\n", stage))
		sb.WriteString(fmt.Sprintf("    label=\"Stage %d\";\n", stage))
		sb.WriteString("    style=dashed;\n")

		for _, id := range ids {
			label := fmt.Sprintf("%s\\n%s", id.Name, id.Version)
			if n := patched[id]; n > 0 {
				label += fmt.Sprintf("\\npatches=%d", n)
			}
			sb.WriteString(fmt.Sprintf("    \"%s\" [label=\"%s\", fillcolor=\"%s\", style=\"filled,rounded\"];\n",
				id, label, getStepColor(patched[id])))
		}

		sb.WriteString("  }\n\n")
	}

	declared := make(map[string]bool)
	for _, ext := range plan.External {
		if declared[ext.Name] {
			continue
		}
		declared[ext.Name] = true
		sb.WriteString(fmt.Sprintf("  \"ext:%s\" [label=\"%s\", shape=ellipse, style=dotted];\n", ext.Name, ext.Name))
	}

	// Edges point from a dependency to the recipe that needs it
	for _, step := range plan.Steps {
		id := step.Recipe.ID()
		for _, dep := range step.BuildDeps {
			sb.WriteString(fmt.Sprintf("  \"%s\" -> \"%s\" [%s];\n", dep, id, getPhaseStyle(PhaseBuild)))
		}
		for _, dep := range step.RunDeps {
			sb.WriteString(fmt.Sprintf("  \"%s\" -> \"%s\" [%s];\n", dep, id, getPhaseStyle(PhaseRun)))
		}
	}
	for _, ext := range plan.External {
		sb.WriteString(fmt.Sprintf("  \"ext:%s\" -> \"%s\" [%s];\n", ext.Name, ext.RequiredBy, getPhaseStyle(ext.Phase)))
	}

	sb.WriteString("}\n")
	return sb.String()
}

func getStepColor(patches int) string {
	if patches > 0 {
		return "lightblue"
	}
	return "lightgreen"
}

func getPhaseStyle(phase Phase) string {
	switch phase {
	case PhaseRun:
		return "style=dashed, color=blue"
	default:
		return "style=solid, color=black"
	}
}
