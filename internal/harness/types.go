package harness

import (
	"fmt"

	"github.com/roach88/settle/internal/domain"
)

// TraceStep records what one scenario step did.
type TraceStep struct {
	Step    int    `json:"step"`
	Op      string `json:"op"`
	As      string `json:"as,omitempty"`
	Target  string `json:"target,omitempty"`
	Outcome string `json:"outcome"` // "ok" or the error kind
	Result  string `json:"result,omitempty"`
	// Status is the resulting record status, or the number of released
	// legs for release steps.
	Status string `json:"status,omitempty"`
}

// TraceEvent is a committed audit event, reduced to what is stable across
// runs.
type TraceEvent struct {
	Seq    int64            `json:"seq"`
	Kind   domain.EventKind `json:"kind"`
	Entity string           `json:"entity"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every step met its expectation and every assertion
	// held.
	Pass   bool         `json:"pass"`
	Steps  []TraceStep  `json:"steps"`
	Events []TraceEvent `json:"events"`
	Errors []string     `json:"errors,omitempty"`
	// Bindings maps bind names to ids.
	Bindings map[string]string `json:"bindings,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:     true,
		Steps:    []TraceStep{},
		Events:   []TraceEvent{},
		Errors:   []string{},
		Bindings: make(map[string]string),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
	r.Pass = false
}
