package engine

import (
	"time"

	"github.com/mwm126/anaconda-recipes/pkg/semver"
)

// RecipeID identifies a recipe within a resolution universe.
type RecipeID struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// String renders the identity as name@version.
func (id RecipeID) String() string {
	return id.Name + "@" + id.Version
}

// Compare orders identities by name, then by version.
func (id RecipeID) Compare(other RecipeID) int {
	if id.Name != other.Name {
		if id.Name < other.Name {
			return -1
		}
		return 1
	}
	return semver.CompareStrings(id.Version, other.Version)
}

// Less reports whether id sorts before other.
func (id RecipeID) Less(other RecipeID) bool {
	return id.Compare(other) < 0
}

// Recipe is a single package's build/run/test description.
// It is immutable once returned by the manifest parser.
type Recipe struct {
	// Name is the package name.
	Name string `json:"name" validate:"required,pkgname"`

	// Version is the package version.
	Version string `json:"version" validate:"required,printascii"`

	// Source describes where the package sources come from.
	Source Source `json:"source"`

	// BuildNumber is the recipe build number.
	BuildNumber int `json:"build_number" validate:"gte=0"`

	// BuildRequirements are needed to build the package.
	BuildRequirements []Requirement `json:"build_requirements,omitempty" validate:"dive"`

	// RunRequirements are needed to use the package.
	RunRequirements []Requirement `json:"run_requirements,omitempty" validate:"dive"`

	// Test describes how the built package is checked.
	Test *TestSpec `json:"test,omitempty"`

	// About carries descriptive metadata.
	About About `json:"about"`

	// Path is the manifest file the recipe was parsed from, if any.
	Path string `json:"path,omitempty"`
}

// ID returns the recipe identity.
func (r *Recipe) ID() RecipeID {
	return RecipeID{Name: r.Name, Version: r.Version}
}

// Requirements returns the requirements of the given phase.
func (r *Recipe) Requirements(phase Phase) []Requirement {
	if phase == PhaseBuild {
		return r.BuildRequirements
	}
	return r.RunRequirements
}

// Source describes how to obtain the package sources.
type Source struct {
	Filename string     `json:"fn,omitempty"`
	URL      string     `json:"url,omitempty" validate:"omitempty,url"`
	GitURL   string     `json:"git_url,omitempty"`
	GitTag   string     `json:"git_tag,omitempty"`
	MD5      string     `json:"md5,omitempty" validate:"omitempty,len=32,hexadecimal"`
	SHA256   string     `json:"sha256,omitempty" validate:"omitempty,len=64,hexadecimal"`
	Patches  []PatchRef `json:"patches,omitempty" validate:"dive"`
}

// Verifiable reports whether the source carries a checksum or a pinned git reference.
func (s Source) Verifiable() bool {
	if s.MD5 != "" || s.SHA256 != "" {
		return true
	}
	return s.GitURL != "" && s.GitTag != ""
}

// Phase tags a requirement edge as build-time or run-time.
type Phase string

const (
	// PhaseBuild edges constrain build ordering.
	PhaseBuild Phase = "build"

	// PhaseRun edges must resolve but do not constrain ordering.
	PhaseRun Phase = "run"
)

// Requirement is a named, optionally version-constrained dependency.
type Requirement struct {
	// Name is the package being depended on.
	Name string `json:"name" validate:"required,pkgname"`

	// Constraint is the raw version constraint, empty for any version.
	Constraint string `json:"constraint,omitempty"`

	// BuildString pins a specific build of the dependency.
	BuildString string `json:"build_string,omitempty"`

	// Phase is build or run.
	Phase Phase `json:"phase" validate:"required,oneof=build run"`

	// Selector restricts the platforms the requirement applies to.
	Selector Selector `json:"selector,omitempty"`
}

// String renders the requirement in manifest form.
func (r Requirement) String() string {
	s := r.Name
	if r.Constraint != "" {
		s += " " + r.Constraint
	}
	if r.BuildString != "" {
		s += " " + r.BuildString
	}
	return s
}

// PatchRef is a single entry of a PatchSet.
type PatchRef struct {
	// Path identifies the patch file relative to the recipe directory.
	Path string `json:"path" validate:"required"`

	// Selector restricts the platforms the patch applies to.
	Selector Selector `json:"selector,omitempty"`
}

// Entry is a platform-conditional string entry such as a test import or command.
type Entry struct {
	Value    string   `json:"value" validate:"required"`
	Selector Selector `json:"selector,omitempty"`
}

// TestSpec describes checks run against a built package.
type TestSpec struct {
	Imports  []Entry       `json:"imports,omitempty" validate:"dive"`
	Commands []Entry       `json:"commands,omitempty" validate:"dive"`
	Requires []Requirement `json:"requires,omitempty" validate:"dive"`
}

// About carries descriptive metadata.
type About struct {
	Home        string `json:"home,omitempty"`
	License     string `json:"license,omitempty"`
	Summary     string `json:"summary,omitempty"`
	Description string `json:"description,omitempty"`
	DocURL      string `json:"doc_url,omitempty"`
	DevURL      string `json:"dev_url,omitempty"`
}

// Warning codes. Warnings never abort planning.
const (
	WarnCodeRedundantPatch  = "REDUNDANT_PATCH"
	WarnCodePolicyViolation = "POLICY_VIOLATION"
)

// Warning is a non-fatal finding attached to a recipe.
type Warning struct {
	Code    string `json:"code"`
	Recipe  string `json:"recipe,omitempty"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// ExternalDependency is a requirement assumed to be supplied by the base toolchain.
type ExternalDependency struct {
	Name       string   `json:"name"`
	Constraint string   `json:"constraint,omitempty"`
	Phase      Phase    `json:"phase"`
	RequiredBy RecipeID `json:"required_by"`
}

// BuildPlan is a deterministic topological ordering of recipes for building.
type BuildPlan struct {
	// ID uniquely identifies this planning run.
	ID string `json:"id"`

	// Target is the platform the plan was computed for.
	Target Platform `json:"target"`

	// CreatedAt is when the plan was computed.
	CreatedAt time.Time `json:"created_at"`

	// Steps are the recipes in build order.
	Steps []PlanStep `json:"steps"`

	// Stages groups recipes whose build dependencies are all in earlier stages.
	Stages [][]RecipeID `json:"stages"`

	// External lists requirements not satisfied by any recipe.
	External []ExternalDependency `json:"external,omitempty"`

	// Warnings collected while planning.
	Warnings []Warning `json:"warnings,omitempty"`
}

// PlanStep is one recipe in a BuildPlan together with its filtered PatchSet.
type PlanStep struct {
	Position  int        `json:"position"`
	Stage     int        `json:"stage"`
	Recipe    *Recipe    `json:"recipe"`
	Patches   []PatchRef `json:"patches,omitempty"`
	BuildDeps []RecipeID `json:"build_deps,omitempty"`
	RunDeps   []RecipeID `json:"run_deps,omitempty"`
}

// Order returns the recipe identities in plan order.
func (p *BuildPlan) Order() []RecipeID {
	ids := make([]RecipeID, len(p.Steps))
	for i := range p.Steps {
		ids[i] = p.Steps[i].Recipe.ID()
	}
	return ids
}
