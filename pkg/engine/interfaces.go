package engine

import (
	"context"
	"time"
)

// Planner computes a BuildPlan from a fixed set of recipes.
type Planner interface {
	// Plan assembles the dependency graph for recipes, orders it and filters
	// every recipe's PatchSet for target.
	Plan(ctx context.Context, recipes []*Recipe, target Platform) (*BuildPlan, error)
}

// Fetcher retrieves the sources a recipe describes.
// Failures are reported as FetchError or IntegrityMismatch.
type Fetcher interface {
	Fetch(ctx context.Context, recipe *Recipe) (*SourceArchive, error)
}

// SourceArchive is the raw result of fetching a recipe's sources.
type SourceArchive struct {
	// Recipe is the recipe the archive belongs to.
	Recipe RecipeID `json:"recipe"`

	// Path is where the archive was stored, if on disk.
	Path string `json:"path,omitempty"`

	// Data holds the archive bytes when the fetcher returns them in memory.
	// When set, the runner checks them against the declared checksum.
	Data []byte `json:"-"`
}

// PatchApplier unpacks an archive and applies a PatchSet to it in order.
// It fails fast with PatchRejected naming the failing hunk.
type PatchApplier interface {
	Apply(ctx context.Context, recipe *Recipe, archive *SourceArchive, patches []PatchRef) (*SourceTree, error)
}

// SourceTree is a prepared, patched source directory.
type SourceTree struct {
	Recipe RecipeID `json:"recipe"`
	Dir    string   `json:"dir"`
}

// BuildExecutor invokes the toolchain for one plan step.
// A non-zero toolchain exit is reported as BuildFailed.
type BuildExecutor interface {
	Build(ctx context.Context, step *PlanStep, tree *SourceTree) error
}

// PolicyEngine evaluates lint policies against a recipe.
// Findings are warnings; only evaluation failures are errors.
type PolicyEngine interface {
	Evaluate(ctx context.Context, recipe *Recipe) ([]Warning, error)
}

// PlanStore persists computed plans.
type PlanStore interface {
	// SavePlan stores a plan. Saving the same plan ID twice is an error.
	SavePlan(ctx context.Context, plan *BuildPlan) error

	// GetPlan loads a plan by ID.
	GetPlan(ctx context.Context, id string) (*BuildPlan, error)

	// ListPlans returns the most recent plans first.
	ListPlans(ctx context.Context, limit int) ([]PlanSummary, error)
}

// PlanSummary is a short description of a stored plan.
type PlanSummary struct {
	ID        string    `json:"id"`
	Target    Platform  `json:"target"`
	CreatedAt time.Time `json:"created_at"`
	Recipes   int       `json:"recipes"`
	External  int       `json:"external"`
	Warnings  int       `json:"warnings"`
}

// PlanRecorder receives planning and build measurements.
type PlanRecorder interface {
	// RecordPlan records a finished planning run. code is empty on success.
	RecordPlan(target Platform, code string, recipes int, duration time.Duration)

	// RecordWarning records a warning attached to a plan.
	RecordWarning(code string)

	// RecordBuild records one runner step. code is empty on success.
	RecordBuild(code string, duration time.Duration)
}
