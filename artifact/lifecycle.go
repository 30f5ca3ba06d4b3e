package artifact

import (
	"time"

	"github.com/deepnoodle-ai/forge"
)

// LifecycleState is an artifact version's promotion status.
type LifecycleState string

const (
	StateCandidate LifecycleState = "candidate"
	StateProbation LifecycleState = "probation"
	StateDurable   LifecycleState = "durable"
	StateDegraded  LifecycleState = "degraded"
)

// PromotionMode selects whether lifecycle decisions are logged only or
// actually change selection.
type PromotionMode string

const (
	ModeShadow   PromotionMode = "shadow"
	ModeEnforced PromotionMode = "enforced"
)

// Scorecard is the version-scoped rolling record promotion decisions are
// computed from.
type Scorecard struct {
	Calls                int             `json:"calls"`
	Successes            int             `json:"successes"`
	ContractChecks       int             `json:"contract_checks"`
	ContractPasses       int             `json:"contract_passes"`
	GuardrailExhaustions int             `json:"guardrail_exhaustions"`
	OutcomeExhaustions   int             `json:"outcome_exhaustions"`
	BoundaryViolations   int             `json:"boundary_violations"`
	Sessions             map[string]bool `json:"sessions,omitempty"`
	FirstSeen            time.Time       `json:"first_seen"`
	LastSeen             time.Time       `json:"last_seen"`
}

func NewScorecard() *Scorecard {
	now := time.Now().UTC()
	return &Scorecard{Sessions: map[string]bool{}, FirstSeen: now, LastSeen: now}
}

// Record folds one outcome into the scorecard.
func (s *Scorecard) Record(outcome *forge.Outcome, sessionID string) {
	s.Calls++
	s.LastSeen = time.Now().UTC()
	if sessionID != "" {
		if s.Sessions == nil {
			s.Sessions = map[string]bool{}
		}
		s.Sessions[sessionID] = true
	}
	if outcome.IsOK() {
		s.Successes++
		return
	}
	switch outcome.Class() {
	case forge.ErrGuardrailExhausted:
		s.GuardrailExhaustions++
	case forge.ErrOutcomeRepairExhausted:
		s.OutcomeExhaustions++
	case forge.ErrContractViolation:
		s.BoundaryViolations++
	}
}

func (s *Scorecard) RecordContractCheck(passed bool) {
	s.ContractChecks++
	if passed {
		s.ContractPasses++
	}
}

// SuccessRate is successes over calls; 0 with no calls.
func (s *Scorecard) SuccessRate() float64 {
	if s.Calls == 0 {
		return 0
	}
	return float64(s.Successes) / float64(s.Calls)
}

// ContractPassRate is passes over checks; 1 with no checks.
func (s *Scorecard) ContractPassRate() float64 {
	if s.ContractChecks == 0 {
		return 1
	}
	return float64(s.ContractPasses) / float64(s.ContractChecks)
}

func (s *Scorecard) SessionCount() int { return len(s.Sessions) }

// PromotionPolicy is the versioned threshold set transitions are computed
// against. Thresholds are configuration, not architecture.
type PromotionPolicy struct {
	Version string `json:"version" yaml:"version"`

	// probation -> durable gates
	MinCalls            int     `json:"min_calls" yaml:"min_calls"`
	MinSessions         int     `json:"min_sessions" yaml:"min_sessions"`
	MinSuccessRate      float64 `json:"min_success_rate" yaml:"min_success_rate"`
	MinContractPassRate float64 `json:"min_contract_pass_rate" yaml:"min_contract_pass_rate"`

	// -> degraded gates (sustained regression)
	DegradeBelowSuccessRate float64 `json:"degrade_below_success_rate" yaml:"degrade_below_success_rate"`
	MaxExhaustions          int     `json:"max_exhaustions" yaml:"max_exhaustions"`

	Mode PromotionMode `json:"mode" yaml:"mode"`
}

// DefaultPromotionPolicy returns conservative defaults in shadow mode.
func DefaultPromotionPolicy() *PromotionPolicy {
	return &PromotionPolicy{
		Version:                 "v1",
		MinCalls:                5,
		MinSessions:             2,
		MinSuccessRate:          0.9,
		MinContractPassRate:     0.9,
		DegradeBelowSuccessRate: 0.5,
		MaxExhaustions:          3,
		Mode:                    ModeShadow,
	}
}

// Evaluate computes the next lifecycle state for the current version.
// Degraded is terminal: it is never auto-reversed; a fresh version starts
// a fresh observation window as a new candidate.
func (p *PromotionPolicy) Evaluate(state LifecycleState, card *Scorecard) LifecycleState {
	if state == StateDegraded {
		return StateDegraded
	}
	if p.regressed(card) {
		return StateDegraded
	}
	switch state {
	case StateCandidate:
		// First productive use is enough for probation.
		if card.Successes > 0 {
			return StateProbation
		}
		return StateCandidate
	case StateProbation:
		if card.Calls >= p.MinCalls &&
			card.SessionCount() >= p.MinSessions &&
			card.SuccessRate() >= p.MinSuccessRate &&
			card.ContractPassRate() >= p.MinContractPassRate {
			return StateDurable
		}
		return StateProbation
	case StateDurable:
		return StateDurable
	default:
		return state
	}
}

// regressed reports sustained regression: enough observations and either a
// collapsed success rate or repeated budget exhaustion.
func (p *PromotionPolicy) regressed(card *Scorecard) bool {
	exhaustions := card.GuardrailExhaustions + card.OutcomeExhaustions
	if p.MaxExhaustions > 0 && exhaustions > p.MaxExhaustions {
		return true
	}
	if card.Calls >= p.MinCalls && card.SuccessRate() < p.DegradeBelowSuccessRate {
		return true
	}
	return false
}

// Decision is one lifecycle evaluation, suitable for logging in shadow
// mode and for acting on in enforced mode.
type Decision struct {
	Key      string         `json:"key"`
	Version  string         `json:"version"`
	From     LifecycleState `json:"from"`
	To       LifecycleState `json:"to"`
	Policy   string         `json:"policy"`
	Mode     PromotionMode  `json:"mode"`
	Fallback bool           `json:"fallback,omitempty"`
}

// Advance evaluates the policy against the artifact's current version and,
// in enforced mode, applies the transition. In shadow mode the artifact is
// left untouched and the decision is returned for logging. A regression
// under enforcement falls back to the last known-durable version when one
// exists.
func Advance(a *Artifact, policy *PromotionPolicy) Decision {
	card := a.CurrentScorecard()
	next := policy.Evaluate(a.Lifecycle, card)
	decision := Decision{
		Key:     a.Key(),
		Version: a.Checksum,
		From:    a.Lifecycle,
		To:      next,
		Policy:  policy.Version,
		Mode:    policy.Mode,
	}
	if policy.Mode != ModeEnforced {
		return decision
	}
	a.Lifecycle = next
	switch next {
	case StateDurable:
		a.LastDurable = &VersionSnapshot{Code: a.Code, Checksum: a.Checksum}
	case StateDegraded:
		if a.LastDurable != nil && a.LastDurable.Checksum != a.Checksum {
			a.Code = a.LastDurable.Code
			a.Checksum = a.LastDurable.Checksum
			a.Lifecycle = StateDurable
			decision.Fallback = true
		}
	}
	return decision
}
