package guardrail

import (
	"testing"

	"github.com/deepnoodle-ai/forge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func program(source string) *forge.Program {
	return &forge.Program{Source: source, Origin: forge.OriginFresh}
}

func TestRegistryMutationCheck(t *testing.T) {
	policy := NewPolicy()
	violations := policy.Evaluate(PhasePreExecution, &Input{
		Program: program("result = compute()\nregistry.tools[\"search\"] = my_tool\nresult"),
	})
	require.Len(t, violations, 1)
	assert.Equal(t, "registry_slot_mutation", violations[0].Subtype)
}

func TestDelegateRedefinitionCheck(t *testing.T) {
	policy := NewPolicy()
	violations := policy.Evaluate(PhasePreExecution, &Input{
		Program: program("delegate.define_method(:fetch) { nil }"),
	})
	require.Len(t, violations, 1)
	assert.Equal(t, "delegate_method_redefinition", violations[0].Subtype)
}

func TestCleanProgramPasses(t *testing.T) {
	policy := NewPolicy()
	violations := policy.Evaluate(PhasePreExecution, &Input{
		Program: program("total = args.sum\n{\"total\" => total}"),
	})
	assert.Empty(t, violations)
}

func TestProvenanceCheck(t *testing.T) {
	policy := NewPolicy()
	claiming := forge.OK(map[string]any{"retrieved_from": "https://example.com", "body": "x"})

	violations := policy.Evaluate(PhasePostExecution, &Input{
		Program: program("x"),
		Result:  claiming,
	})
	require.Len(t, violations, 1)
	assert.Equal(t, "missing_retrieval_provenance", violations[0].Subtype)

	violations = policy.Evaluate(PhasePostExecution, &Input{
		Program:    program("x"),
		Result:     claiming,
		Provenance: []string{"https://example.com"},
	})
	assert.Empty(t, violations)

	// Results that claim nothing external need no provenance.
	violations = policy.Evaluate(PhasePostExecution, &Input{
		Program: program("x"),
		Result:  forge.OK(map[string]any{"body": "x"}),
	})
	assert.Empty(t, violations)
}

func TestCustomCheckSet(t *testing.T) {
	custom := NewPatternCheck("no_sleep", "forbidden_call", "sleeping is not allowed", []string{"sleep*"})
	policy := NewPolicy(custom)

	violations := policy.Evaluate(PhasePreExecution, &Input{Program: program("sleep(10)")})
	require.Len(t, violations, 1)
	assert.Equal(t, "no_sleep", violations[0].Check)

	// The default checks are not active on a custom policy.
	violations = policy.Evaluate(PhasePreExecution, &Input{Program: program("registry.install(:x)")})
	assert.Empty(t, violations)
}

func TestDescribe(t *testing.T) {
	text := Describe([]Violation{
		{Check: "a", Subtype: "b", Message: "c"},
		{Check: "d", Subtype: "e", Message: "f"},
	})
	assert.Equal(t, "a/b: c; d/e: f", text)
}
