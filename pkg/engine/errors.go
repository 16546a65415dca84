package engine

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorClass represents the classification of an error.
type ErrorClass string

const (
	// ErrorClassTransient indicates a temporary failure reported by a collaborator.
	// The planner never retries; retry policy belongs to the collaborator.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassPermanent indicates a non-recoverable error.
	// Examples: malformed manifest, dependency cycle, failed build.
	ErrorClassPermanent ErrorClass = "permanent"
)

// Error codes. Every fatal error carries exactly one of these.
const (
	ErrCodeMalformedManifest    = "MALFORMED_MANIFEST"
	ErrCodeUnknownPlatform      = "UNKNOWN_PLATFORM"
	ErrCodeDuplicateRecipe      = "DUPLICATE_RECIPE"
	ErrCodeCyclicDependency     = "CYCLIC_DEPENDENCY"
	ErrCodeUnresolvedDependency = "UNRESOLVED_DEPENDENCY"
	ErrCodeAmbiguousRequirement = "AMBIGUOUS_REQUIREMENT"
	ErrCodeVersionConflict      = "VERSION_CONFLICT"
	ErrCodeFetchError           = "FETCH_ERROR"
	ErrCodeIntegrityMismatch    = "INTEGRITY_MISMATCH"
	ErrCodePatchRejected        = "PATCH_REJECTED"
	ErrCodeBuildFailed          = "BUILD_FAILED"
	ErrCodeInternal             = "INTERNAL_ERROR"
)

// Sentinels for errors.Is. Matching compares class and code only.
var (
	ErrMalformedManifest    = &EngineError{Class: ErrorClassPermanent, Code: ErrCodeMalformedManifest}
	ErrUnknownPlatform      = &EngineError{Class: ErrorClassPermanent, Code: ErrCodeUnknownPlatform}
	ErrDuplicateRecipe      = &EngineError{Class: ErrorClassPermanent, Code: ErrCodeDuplicateRecipe}
	ErrCyclicDependency     = &EngineError{Class: ErrorClassPermanent, Code: ErrCodeCyclicDependency}
	ErrUnresolvedDependency = &EngineError{Class: ErrorClassPermanent, Code: ErrCodeUnresolvedDependency}
	ErrAmbiguousRequirement = &EngineError{Class: ErrorClassPermanent, Code: ErrCodeAmbiguousRequirement}
	ErrVersionConflict      = &EngineError{Class: ErrorClassPermanent, Code: ErrCodeVersionConflict}
	ErrFetchError           = &EngineError{Class: ErrorClassTransient, Code: ErrCodeFetchError}
	ErrIntegrityMismatch    = &EngineError{Class: ErrorClassPermanent, Code: ErrCodeIntegrityMismatch}
	ErrPatchRejected        = &EngineError{Class: ErrorClassPermanent, Code: ErrCodePatchRejected}
	ErrBuildFailed          = &EngineError{Class: ErrorClassPermanent, Code: ErrCodeBuildFailed}
)

// EngineError represents a classified error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code identifies the kind of failure for programmatic handling.
	Code string `json:"code,omitempty"`

	// Recipe is the identity (name@version) of the recipe that caused the error.
	Recipe string `json:"recipe,omitempty"`

	// Field is the manifest field or plan element at fault.
	Field string `json:"field,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %s", e.Code, e.Message)

	var ctx []string
	if e.Recipe != "" {
		ctx = append(ctx, "recipe="+e.Recipe)
	}
	if e.Field != "" {
		ctx = append(ctx, "field="+e.Field)
	}
	if len(ctx) > 0 {
		fmt.Fprintf(&sb, " (%s)", strings.Join(ctx, ", "))
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewTransientError creates a new transient error.
func NewTransientError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassTransient,
		Message: message,
		Err:     err,
	}
}

// NewPermanentError creates a new permanent error.
func NewPermanentError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassPermanent,
		Message: message,
		Err:     err,
	}
}

// NewMalformedManifest reports a manifest that failed validation at field.
func NewMalformedManifest(field, message string) *EngineError {
	return NewPermanentError(message, nil).
		WithCode(ErrCodeMalformedManifest).
		WithField(field)
}

// NewUnknownPlatform reports a selector or target tag outside the closed set.
func NewUnknownPlatform(tag string) *EngineError {
	return NewPermanentError(fmt.Sprintf("unknown platform %q", tag), nil).
		WithCode(ErrCodeUnknownPlatform).
		WithDetail("tag", tag)
}

// NewFetchError reports that a source could not be retrieved.
func NewFetchError(message string, err error) *EngineError {
	return NewTransientError(message, err).WithCode(ErrCodeFetchError)
}

// NewIntegrityMismatch reports fetched bytes that do not match the declared checksum.
func NewIntegrityMismatch(algorithm, want, got string) *EngineError {
	return NewPermanentError(fmt.Sprintf("%s mismatch: want %s, got %s", algorithm, want, got), nil).
		WithCode(ErrCodeIntegrityMismatch).
		WithField("source." + algorithm)
}

// NewPatchRejected reports a patch that did not apply, naming the failing hunk.
func NewPatchRejected(patch, hunk string, err error) *EngineError {
	return NewPermanentError(fmt.Sprintf("patch %s rejected at %s", patch, hunk), err).
		WithCode(ErrCodePatchRejected).
		WithField("source.patches").
		WithDetail("patch", patch).
		WithDetail("hunk", hunk)
}

// NewBuildFailed reports a toolchain invocation that exited non-zero.
func NewBuildFailed(exitCode int, err error) *EngineError {
	return NewPermanentError(fmt.Sprintf("build exited with code %d", exitCode), err).
		WithCode(ErrCodeBuildFailed).
		WithDetail("exit_code", exitCode)
}

// WithRecipe adds recipe identity to an error.
func (e *EngineError) WithRecipe(id RecipeID) *EngineError {
	e.Recipe = id.String()
	return e
}

// WithField adds the offending field to an error.
func (e *EngineError) WithField(field string) *EngineError {
	e.Field = field
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// IsTransient returns true if the error is classified as transient.
func IsTransient(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassTransient
	}
	return false
}

// IsPermanent returns true if the error is classified as permanent.
func IsPermanent(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassPermanent
	}
	return false
}

// CodeOf returns the error code carried by err, or "" if it is unclassified.
func CodeOf(err error) string {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// CyclePath returns the cycle carried by a CyclicDependency error.
func CyclePath(err error) ([]RecipeID, bool) {
	var e *EngineError
	if !errors.As(err, &e) || e.Code != ErrCodeCyclicDependency {
		return nil, false
	}
	cycle, ok := e.Details["cycle"].([]RecipeID)
	return cycle, ok
}
