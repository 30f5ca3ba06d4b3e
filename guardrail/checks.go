package guardrail

import (
	"strings"

	"github.com/gobwas/glob"
)

// PatternCheck flags source lines matching any of a set of glob patterns.
// The default checks are all instances of it; operators can register
// additional instances with their own patterns.
type PatternCheck struct {
	name     string
	subtype  string
	message  string
	patterns []glob.Glob
}

// NewPatternCheck compiles the given glob patterns. Patterns are matched
// against each trimmed source line.
func NewPatternCheck(name, subtype, message string, patterns []string) *PatternCheck {
	compiled := make([]glob.Glob, 0, len(patterns))
	for _, pattern := range patterns {
		compiled = append(compiled, glob.MustCompile(pattern))
	}
	return &PatternCheck{name: name, subtype: subtype, message: message, patterns: compiled}
}

func (c *PatternCheck) Name() string { return c.name }

func (c *PatternCheck) Phase() Phase { return PhasePreExecution }

func (c *PatternCheck) Inspect(input *Input) []Violation {
	var violations []Violation
	for _, line := range strings.Split(input.Program.Source, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		for _, pattern := range c.patterns {
			if pattern.Match(line) {
				violations = append(violations, Violation{
					Check:   c.name,
					Subtype: c.subtype,
					Message: c.message + ": " + line,
				})
				break
			}
		}
	}
	return violations
}

// ProvenanceCheck flags a success result that claims externally retrieved
// data when no retrieval was recorded during the attempt.
type ProvenanceCheck struct{}

func (c *ProvenanceCheck) Name() string { return "retrieval_provenance" }

func (c *ProvenanceCheck) Phase() Phase { return PhasePostExecution }

func (c *ProvenanceCheck) Inspect(input *Input) []Violation {
	if input.Result == nil || !input.Result.IsOK() {
		return nil
	}
	if !claimsExternalData(input.Result.Value()) {
		return nil
	}
	if len(input.Provenance) > 0 {
		return nil
	}
	return []Violation{{
		Check:   c.Name(),
		Subtype: "missing_retrieval_provenance",
		Message: "result claims external data but no retrieval was recorded",
	}}
}

func claimsExternalData(value any) bool {
	m, ok := value.(map[string]any)
	if !ok {
		return false
	}
	for key := range m {
		switch strings.ToLower(key) {
		case "retrieved_from", "external_source", "fetched_from":
			return true
		}
	}
	return false
}

// DefaultChecks returns the built-in check set.
func DefaultChecks() []Check {
	return []Check{
		NewPatternCheck(
			"registry_mutation",
			"registry_slot_mutation",
			"program must not mutate the registry's executable slots",
			[]string{
				"registry.tools*=*",
				"registry.install*",
				"registry.replace*",
			},
		),
		NewPatternCheck(
			"delegate_redefinition",
			"delegate_method_redefinition",
			"program must not redefine methods on delegated objects",
			[]string{
				"delegate.define_method*",
				"delegate.redefine*",
				"*.delegate).define_method*",
			},
		),
		NewPatternCheck(
			"registry_shape",
			"registry_shape_misuse",
			"program must not reach into registry internals",
			[]string{
				"registry.instance_variable*",
				"registry.internal*",
			},
		),
		&ProvenanceCheck{},
	}
}
