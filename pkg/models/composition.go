package models

import (
	"fmt"
	"strings"
)

// ComposedSchema is the result of a successful composition.
type ComposedSchema struct {
	SDL               string            `json:"sdl"`
	FederationVersion FederationVersion `json:"federation_version"`
	// Hints are non-fatal composition remarks.
	Hints []string `json:"hints,omitempty"`
}

// BuildError is a single composition error, attributed to a subgraph when the
// composer could tell which one caused it.
type BuildError struct {
	Subgraph string `json:"subgraph,omitempty"`
	Message  string `json:"message"`
	Code     string `json:"code,omitempty"`
}

// Error implements the error interface.
func (e BuildError) Error() string {
	var b strings.Builder
	if e.Code != "" {
		b.WriteString("[" + e.Code + "] ")
	}
	if e.Subgraph != "" {
		b.WriteString(e.Subgraph + ": ")
	}
	b.WriteString(e.Message)
	return b.String()
}

// OutcomeKind distinguishes composition outcomes.
type OutcomeKind string

const (
	// OutcomeSuccess means a new composed schema was produced.
	OutcomeSuccess OutcomeKind = "success"
	// OutcomePartialFailure means the composer rejected the subgraph set.
	OutcomePartialFailure OutcomeKind = "failure"
	// OutcomeDeferred means composition was not attempted yet.
	OutcomeDeferred OutcomeKind = "deferred"
)

// CompositionOutcome is exactly one of success, failure or deferred. Use the
// constructors; the zero value is not a valid outcome.
type CompositionOutcome struct {
	Kind   OutcomeKind
	Schema *ComposedSchema
	Errors []BuildError
	// Loaded and Target describe progress for deferred outcomes.
	Loaded int
	Target int
}

// Succeeded builds a success outcome.
func Succeeded(schema ComposedSchema) CompositionOutcome {
	return CompositionOutcome{Kind: OutcomeSuccess, Schema: &schema}
}

// Failed builds a partial-failure outcome.
func Failed(errs []BuildError) CompositionOutcome {
	return CompositionOutcome{Kind: OutcomePartialFailure, Errors: errs}
}

// Deferred builds a deferred outcome.
func Deferred(loaded, target int) CompositionOutcome {
	return CompositionOutcome{Kind: OutcomeDeferred, Loaded: loaded, Target: target}
}

// String summarizes the outcome for logs.
func (o CompositionOutcome) String() string {
	switch o.Kind {
	case OutcomeSuccess:
		return "composition succeeded"
	case OutcomePartialFailure:
		return fmt.Sprintf("composition failed with %d error(s)", len(o.Errors))
	case OutcomeDeferred:
		return fmt.Sprintf("composition deferred: waiting for %d of %d subgraphs", o.Target-o.Loaded, o.Target)
	default:
		return "composition outcome unknown"
	}
}
