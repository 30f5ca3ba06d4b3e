// Package guardrail checks candidate programs and their results against
// structural and behavioral rules that are independent of any deliverable
// contract. The check set is pluggable; every check yields violations in
// one stable record shape.
package guardrail

import (
	"strings"

	"github.com/deepnoodle-ai/forge"
)

// Violation is the stable record shape produced by every check.
type Violation struct {
	Check   string `json:"check"`
	Subtype string `json:"subtype"`
	Message string `json:"message"`
}

// Input is what a check may inspect. Result and Provenance are nil before
// execution; code-level checks run in the pre-execution phase, behavioral
// checks afterwards.
type Input struct {
	Program    *forge.Program
	Invocation *forge.Invocation
	Result     *forge.Outcome
	Provenance []string
}

// Phase selects when a check runs.
type Phase int

const (
	PhasePreExecution Phase = iota
	PhasePostExecution
)

// Check inspects one aspect of a candidate program or its result.
type Check interface {
	Name() string
	Phase() Phase
	Inspect(input *Input) []Violation
}

// Policy is an ordered list of checks.
type Policy struct {
	checks []Check
}

// NewPolicy builds a policy from the given checks. With no arguments the
// default check set applies.
func NewPolicy(checks ...Check) *Policy {
	if len(checks) == 0 {
		checks = DefaultChecks()
	}
	return &Policy{checks: checks}
}

// Evaluate runs every check registered for the phase and collects
// violations. An empty result means the program passed.
func (p *Policy) Evaluate(phase Phase, input *Input) []Violation {
	var violations []Violation
	for _, check := range p.checks {
		if check.Phase() != phase {
			continue
		}
		violations = append(violations, check.Inspect(input)...)
	}
	return violations
}

// Describe renders violations into one corrective-feedback message.
func Describe(violations []Violation) string {
	parts := make([]string, len(violations))
	for i, v := range violations {
		parts[i] = v.Check + "/" + v.Subtype + ": " + v.Message
	}
	return strings.Join(parts, "; ")
}
