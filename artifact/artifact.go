// Package artifact persists generated programs and their reliability
// metadata, gates their reuse, decides between in-place repair and full
// regeneration, and drives the candidate/probation/durable/degraded
// promotion lifecycle.
package artifact

import (
	"encoding/hex"
	"time"

	"github.com/deepnoodle-ai/forge"
	"github.com/zeebo/blake3"
)

// MaxHistoryEntries bounds the per-artifact generation history.
const MaxHistoryEntries = 3

// Trigger names for history entries.
const (
	TriggerInitialForge = "initial_forge"
	TriggerRegenerate   = "regenerate"
	TriggerRepairPrefix = "repair:"
)

// HistoryEntry records one generation of an artifact, linked to its
// parent generation by checksum.
type HistoryEntry struct {
	Checksum       string           `json:"checksum"`
	ParentChecksum string           `json:"parent_checksum,omitempty"`
	Trigger        string           `json:"trigger"`
	FailureStage   forge.Stage      `json:"failure_stage,omitempty"`
	FailureClass   forge.ErrorClass `json:"failure_class,omitempty"`
	FailureMessage string           `json:"failure_message,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}

// PendingRepair marks a stored version whose failure was detected after
// execution, once the invocation was already terminal. The flag blocks
// reuse of the code as-is; the next invocation consumes it as generation
// feedback.
type PendingRepair struct {
	Stage   forge.Stage      `json:"stage"`
	Class   forge.ErrorClass `json:"class"`
	Action  RepairAction     `json:"action"`
	Message string           `json:"message"`
}

// VersionSnapshot preserves a known-good version's code so enforcement can
// fall back to it after a regression.
type VersionSnapshot struct {
	Code     string `json:"code"`
	Checksum string `json:"checksum"`
}

// Artifact is the persisted program and metadata for one role+method pair.
type Artifact struct {
	Role            string `json:"role"`
	Method          string `json:"method"`
	Code            string `json:"code"`
	Checksum        string `json:"checksum"`
	Cacheable       bool   `json:"cacheable"`
	CacheableReason string `json:"cacheable_reason,omitempty"`
	InputSensitive  bool   `json:"input_sensitive,omitempty"`
	RuntimeVersion  string `json:"runtime_version,omitempty"`

	Manifest []forge.Requirement `json:"manifest,omitempty"`

	CallCount             int                      `json:"call_count"`
	SuccessCount          int                      `json:"success_count"`
	FailureCounts         map[forge.ErrorClass]int `json:"failure_counts,omitempty"`
	RepairCountSinceRegen int                      `json:"repair_count_since_regen"`

	History       []HistoryEntry `json:"history,omitempty"`
	PendingRepair *PendingRepair `json:"pending_repair,omitempty"`

	Lifecycle   LifecycleState        `json:"lifecycle"`
	Scorecards  map[string]*Scorecard `json:"scorecards,omitempty"`
	LastDurable *VersionSnapshot      `json:"last_durable,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ChecksumCode returns the hex blake3 digest of program code.
func ChecksumCode(code string) string {
	sum := blake3.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

// New creates an artifact for a freshly generated program.
func New(role, method, code string, manifest []forge.Requirement) *Artifact {
	now := time.Now().UTC()
	checksum := ChecksumCode(code)
	artifact := &Artifact{
		Role:          role,
		Method:        method,
		Code:          code,
		Checksum:      checksum,
		Cacheable:     true,
		Manifest:      manifest,
		FailureCounts: map[forge.ErrorClass]int{},
		Lifecycle:     StateCandidate,
		Scorecards:    map[string]*Scorecard{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	artifact.appendHistory(HistoryEntry{
		Checksum:  checksum,
		Trigger:   TriggerInitialForge,
		CreatedAt: now,
	})
	return artifact
}

// Key returns the role+method lookup key.
func (a *Artifact) Key() string { return a.Role + "." + a.Method }

// ChecksumValid reports whether the stored checksum still matches the
// stored code. A mismatch is treated as a cache miss by callers, never as
// an error.
func (a *Artifact) ChecksumValid() bool {
	return a.Checksum == ChecksumCode(a.Code)
}

// Reusable reports whether the artifact may be executed without
// regeneration: checksum intact, marked cacheable, no repair pending, and
// generated under a compatible runtime version.
func (a *Artifact) Reusable(runtimeVersion string) bool {
	if !a.ChecksumValid() {
		return false
	}
	if !a.Cacheable {
		return false
	}
	if a.PendingRepair != nil {
		return false
	}
	if a.RuntimeVersion != "" && runtimeVersion != "" && a.RuntimeVersion != runtimeVersion {
		return false
	}
	return true
}

// MarkNotCacheable records why this method's behavior is legitimately
// input-dependent and must be regenerated per call.
func (a *Artifact) MarkNotCacheable(reason string) {
	a.Cacheable = false
	a.CacheableReason = reason
	a.InputSensitive = true
}

// FlagRepair records that the current version failed after the invocation
// was already terminal. Reusable returns false until the next generation
// replaces the code and clears the flag.
func (a *Artifact) FlagRepair(stage forge.Stage, class forge.ErrorClass, action RepairAction, message string) {
	a.PendingRepair = &PendingRepair{Stage: stage, Class: class, Action: action, Message: message}
	a.UpdatedAt = time.Now().UTC()
}

// ReplaceCode installs a new generation of code, linking history to the
// previous generation. trigger is one of the Trigger constants; failure
// describes what prompted the change when available.
func (a *Artifact) ReplaceCode(code, trigger string, failure *forge.StageFailure) {
	now := time.Now().UTC()
	parent := a.Checksum
	a.Code = code
	a.Checksum = ChecksumCode(code)
	a.PendingRepair = nil
	a.UpdatedAt = now
	entry := HistoryEntry{
		Checksum:       a.Checksum,
		ParentChecksum: parent,
		Trigger:        trigger,
		CreatedAt:      now,
	}
	if failure != nil {
		entry.FailureStage = failure.Stage
		entry.FailureClass = failure.Class
		entry.FailureMessage = failure.Message
	}
	a.appendHistory(entry)
	if trigger == TriggerRegenerate {
		a.RepairCountSinceRegen = 0
	}
}

func (a *Artifact) appendHistory(entry HistoryEntry) {
	a.History = append(a.History, entry)
	if len(a.History) > MaxHistoryEntries {
		a.History = a.History[len(a.History)-MaxHistoryEntries:]
	}
}

// RecordCall folds one finished invocation into the artifact's counters
// and the current version's scorecard.
func (a *Artifact) RecordCall(outcome *forge.Outcome, sessionID string) {
	a.CallCount++
	a.UpdatedAt = time.Now().UTC()
	card := a.scorecard(a.Checksum)
	card.Record(outcome, sessionID)
	if outcome.IsOK() {
		a.SuccessCount++
		return
	}
	if a.FailureCounts == nil {
		a.FailureCounts = map[forge.ErrorClass]int{}
	}
	a.FailureCounts[outcome.Class()]++
}

// RecordContractCheck notes a contract validation result on the current
// version's scorecard.
func (a *Artifact) RecordContractCheck(passed bool) {
	a.scorecard(a.Checksum).RecordContractCheck(passed)
}

func (a *Artifact) scorecard(version string) *Scorecard {
	if a.Scorecards == nil {
		a.Scorecards = map[string]*Scorecard{}
	}
	card, ok := a.Scorecards[version]
	if !ok {
		card = NewScorecard()
		a.Scorecards[version] = card
	}
	return card
}

// CurrentScorecard returns the scorecard for the active version.
func (a *Artifact) CurrentScorecard() *Scorecard {
	return a.scorecard(a.Checksum)
}
