package policy

import (
	"time"

	"github.com/mwm126/anaconda-recipes/pkg/engine"
)

// Policy is a named Rego module that lints recipes.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code. Findings are read from the
	// module's warn set.
	Rego string `json:"rego"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// Metadata contains additional policy metadata such as the source file.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// PolicyInput is the document policies see as input.
type PolicyInput struct {
	// Recipe is the recipe being linted.
	Recipe *engine.Recipe `json:"recipe"`

	// Context provides additional evaluation context.
	Context *PolicyContext `json:"context"`
}

// PolicyContext provides context information for policy evaluation.
type PolicyContext struct {
	// Recipe is the recipe identity as name@version.
	Recipe string `json:"recipe"`

	// Timestamp is when the evaluation is occurring.
	Timestamp time.Time `json:"timestamp"`
}

// Finding is one element of a policy's warn set. Policies may also yield
// bare strings, which become findings without a field.
type Finding struct {
	Message string `json:"msg"`
	Field   string `json:"field,omitempty"`
}
