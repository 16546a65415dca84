package stores

import (
	"context"
	"time"

	"github.com/mwm126/anaconda-recipes/pkg/engine"
)

// RunStatus represents the outcome of a build run
type RunStatus string

const (
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// BuildRun records one execution of a stored plan
type BuildRun struct {
	ID           string        `json:"id"`
	PlanID       string        `json:"plan_id"`
	Status       RunStatus     `json:"status"`
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"duration"`
	Built        int           `json:"built"`
	FailedRecipe *string       `json:"failed_recipe,omitempty"`
	Error        *string       `json:"error,omitempty"`
}

// RecipeUse is a stored plan step that built a given recipe
type RecipeUse struct {
	PlanID    string          `json:"plan_id"`
	Target    engine.Platform `json:"target"`
	CreatedAt time.Time       `json:"created_at"`
	Version   string          `json:"version"`
	Position  int             `json:"position"`
	Stage     int             `json:"stage"`
	Patches   int             `json:"patches"`
}

// Store is the plan history persisted across invocations
type Store interface {
	engine.PlanStore

	// Lifecycle
	Init(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
	HealthCheck(ctx context.Context) error

	// Plans
	DeletePlan(ctx context.Context, id string) error
	FindRecipe(ctx context.Context, name string, limit int) ([]RecipeUse, error)

	// Build runs
	RecordRun(ctx context.Context, run *BuildRun) error
	ListRuns(ctx context.Context, planID string) ([]*BuildRun, error)
}
