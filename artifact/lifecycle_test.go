package artifact

import (
	"testing"

	"github.com/deepnoodle-ai/forge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPolicy(mode PromotionMode) *PromotionPolicy {
	return &PromotionPolicy{
		Version:                 "test",
		MinCalls:                4,
		MinSessions:             2,
		MinSuccessRate:          0.9,
		MinContractPassRate:     0.9,
		DegradeBelowSuccessRate: 0.5,
		MaxExhaustions:          2,
		Mode:                    mode,
	}
}

func TestPromotionMonotonicity(t *testing.T) {
	policy := testPolicy(ModeEnforced)
	a := New("scout", "fetch", "v1", nil)
	require.Equal(t, StateCandidate, a.Lifecycle)

	// First productive use: candidate -> probation.
	a.RecordCall(forge.OK(1), "s1")
	Advance(a, policy)
	assert.Equal(t, StateProbation, a.Lifecycle)

	// A 100%-success candidate over the minimum window becomes durable.
	a.RecordCall(forge.OK(1), "s1")
	a.RecordCall(forge.OK(1), "s2")
	a.RecordCall(forge.OK(1), "s2")
	decision := Advance(a, policy)
	assert.Equal(t, StateDurable, a.Lifecycle)
	assert.Equal(t, StateDurable, decision.To)
	require.NotNil(t, a.LastDurable)
	assert.Equal(t, a.Checksum, a.LastDurable.Checksum)
}

func TestShadowModeNeverMutates(t *testing.T) {
	policy := testPolicy(ModeShadow)
	a := New("scout", "fetch", "v1", nil)
	a.RecordCall(forge.OK(1), "s1")

	decision := Advance(a, policy)
	assert.Equal(t, StateProbation, decision.To, "decision is computed")
	assert.Equal(t, StateCandidate, a.Lifecycle, "but not applied")
}

func TestSustainedRegressionDegrades(t *testing.T) {
	policy := testPolicy(ModeEnforced)
	a := New("scout", "fetch", "v1", nil)
	for i := 0; i < 4; i++ {
		a.RecordCall(forge.Errf(forge.ErrExecution, false, "boom"), "s1")
	}
	Advance(a, policy)
	assert.Equal(t, StateDegraded, a.Lifecycle)

	// Degraded is never auto-reversed, even after later successes.
	for i := 0; i < 10; i++ {
		a.RecordCall(forge.OK(1), "s2")
	}
	Advance(a, policy)
	assert.Equal(t, StateDegraded, a.Lifecycle)
}

func TestExhaustionsDegrade(t *testing.T) {
	policy := testPolicy(ModeEnforced)
	a := New("scout", "fetch", "v1", nil)
	for i := 0; i < 3; i++ {
		a.RecordCall(forge.Errf(forge.ErrGuardrailExhausted, false, "unsafe"), "s1")
	}
	Advance(a, policy)
	assert.Equal(t, StateDegraded, a.Lifecycle)
}

func TestRegressionFallsBackToDurable(t *testing.T) {
	policy := testPolicy(ModeEnforced)
	a := New("scout", "fetch", "good code", nil)
	durableChecksum := a.Checksum

	// Promote the first version to durable.
	a.RecordCall(forge.OK(1), "s1")
	a.RecordCall(forge.OK(1), "s1")
	a.RecordCall(forge.OK(1), "s2")
	a.RecordCall(forge.OK(1), "s2")
	Advance(a, policy)
	Advance(a, policy)
	require.Equal(t, StateDurable, a.Lifecycle)

	// A regenerated version regresses; enforcement falls back to the
	// last known-durable code.
	a.ReplaceCode("bad code", TriggerRegenerate, nil)
	for i := 0; i < 4; i++ {
		a.RecordCall(forge.Errf(forge.ErrExecution, false, "boom"), "s3")
	}
	decision := Advance(a, policy)
	assert.True(t, decision.Fallback)
	assert.Equal(t, durableChecksum, a.Checksum)
	assert.Equal(t, "good code", a.Code)
	assert.Equal(t, StateDurable, a.Lifecycle)
}

func TestNewVersionStartsFreshWindow(t *testing.T) {
	a := New("scout", "fetch", "v1", nil)
	a.RecordCall(forge.OK(1), "s1")
	first := a.CurrentScorecard()
	assert.Equal(t, 1, first.Calls)

	a.ReplaceCode("v2", TriggerRegenerate, nil)
	second := a.CurrentScorecard()
	assert.Equal(t, 0, second.Calls, "each version gets its own scorecard")
}
