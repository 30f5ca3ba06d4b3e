package engine

import (
	"context"
	"fmt"

	"github.com/deepnoodle-ai/forge"
	"github.com/deepnoodle-ai/forge/artifact"
	"github.com/deepnoodle-ai/forge/config"
	"github.com/deepnoodle-ai/forge/contract"
	"github.com/deepnoodle-ai/forge/deps"
	"github.com/deepnoodle-ai/forge/generate"
	"github.com/deepnoodle-ai/forge/guardrail"
	"github.com/deepnoodle-ai/forge/sandbox"
	"github.com/deepnoodle-ai/forge/slogger"
)

// runResult carries everything finish needs besides the Outcome itself.
type runResult struct {
	outcome  *forge.Outcome
	artifact *artifact.Artifact
	program  *forge.Program
	record   *forge.AttemptRecord
	attempts int
	origin   string
}

// run is the attempt loop. It consumes three independent budgets
// (generation, guardrail recovery, outcome repair) and always resolves to
// exactly one Outcome. Attempt-local state writes are buffered and
// committed only when an attempt is declared final; every retry path
// discards them first.
func (e *Engine) run(ctx context.Context, invocation *forge.Invocation) *runResult {
	logger := slogger.Ctx(ctx)
	spec := e.spec(invocation)
	record := forge.NewAttemptRecord()
	result := &runResult{record: record}

	art, err := e.artifacts.Get(invocation.Role, invocation.Method)
	if err != nil {
		logger.Warn("artifact load failed, treating as miss", "error", err)
		art = nil
	}
	result.artifact = art

	var (
		generationUsed int
		guardrailUsed  int
		repairUsed     int
		feedback       []generate.Feedback
		nextTrigger    = artifact.TriggerRegenerate
		program        *forge.Program
	)

	// Reuse gate: a persisted artifact runs without regeneration only if
	// its checksum matches, it is cacheable, no repair is pending, and its
	// runtime version is compatible. A mismatch is a cache miss, not an
	// error.
	if art != nil && art.Reusable(e.config.RuntimeVersion) {
		program = &forge.Program{
			Source:   art.Code,
			Manifest: art.Manifest,
			Origin:   forge.OriginPersisted,
		}
		logger.Debug("reusing persisted artifact", "checksum", art.Checksum)
	}

	// A repair flagged by a prior invocation (a contract violation is only
	// detected after execution, when that invocation is already terminal)
	// blocks reuse above and seeds the next generation here: the failure
	// becomes feedback, and the store's verdict picks repair or full
	// regeneration.
	if program == nil && art != nil && art.PendingRepair != nil {
		pending := art.PendingRepair
		feedback = append(feedback, generate.Feedback{Kind: feedbackKind(pending.Stage), Message: pending.Message})
		if pending.Action == artifact.ActionRepair {
			nextTrigger = artifact.TriggerRepairPrefix + string(pending.Stage)
		}
		logger.Debug("pending repair consumed", "stage", pending.Stage, "action", pending.Action)
	}

	for attempt := 1; ; attempt++ {
		result.attempts = attempt

		if program == nil {
			var existing deps.Manifest
			if art != nil {
				existing = deps.Manifest(art.Manifest)
			}
			generated, failure := e.generateProgram(ctx, invocation, spec, feedback,
				existing, originFor(nextTrigger), &generationUsed, record, attempt)
			if failure != nil {
				result.outcome = failure
				return result
			}
			program = generated
			if art == nil {
				art = artifact.New(invocation.Role, invocation.Method, program.Source, program.Manifest)
				if spec.InputSensitive {
					reason := spec.NotCacheableReason
					if reason == "" {
						reason = "method behavior is input-dependent"
					}
					art.MarkNotCacheable(reason)
				}
				art.RuntimeVersion = e.config.RuntimeVersion
				result.artifact = art
			} else {
				lastFailure, _ := record.LastFailure()
				failurePtr := &lastFailure
				if len(record.Failures) == 0 {
					failurePtr = nil
					if pending := art.PendingRepair; pending != nil {
						failurePtr = &forge.StageFailure{
							Stage:   pending.Stage,
							Class:   pending.Class,
							Message: pending.Message,
						}
					}
				}
				art.ReplaceCode(program.Source, nextTrigger, failurePtr)
				art.Manifest = program.Manifest
			}
		}
		result.program = program

		// Guardrail policy, pre-execution phase.
		input := &guardrail.Input{Program: program, Invocation: invocation}
		violations := e.guardrails.Evaluate(guardrail.PhasePreExecution, input)
		if len(violations) > 0 {
			message := guardrail.Describe(violations)
			record.Append(forge.StageGuardrail, forge.ErrGuardrailViolation, message, attempt)
			if guardrailUsed < e.config.Budgets.GuardrailRecovery {
				guardrailUsed++
				feedback = append(feedback, generate.Feedback{Kind: generate.FeedbackGuardrail, Message: message})
				nextTrigger = artifact.TriggerRegenerate
				program = nil
				continue
			}
			result.outcome = forge.ErrWithMetadata(forge.ErrGuardrailExhausted, false, message,
				map[string]any{"violations": violations})
			return result
		}

		// Execute against a fresh attempt-scoped state buffer; the
		// committed role memory is only touched on Commit.
		stateBuffer := sandbox.NewStateBuffer(e.roleMemory(invocation.Role))
		value, receiver, execErr := e.executeProgram(ctx, invocation, program, stateBuffer)
		if execErr != nil {
			stateBuffer.Discard()
			verdict := classifyExecutionError(execErr)
			record.Append(forge.StageExecution, verdict.class, execErr.Error(), attempt)
			switch {
			case verdict.terminal:
				result.outcome = forge.Errf(verdict.class, verdict.retriable, "%s", execErr.Error())
				return result
			case verdict.retrySameProgram:
				// Worker crash or timeout: the supervisor already killed
				// the process; retry against a restarted worker until its
				// budget resolves the loop.
				continue
			default:
				if generationUsed < e.config.Budgets.GenerationAttempts {
					feedback = append(feedback, generate.Feedback{Kind: generate.FeedbackExecution, Message: execErr.Error()})
					nextTrigger = e.repairTrigger(art, forge.StageExecution, verdict.class)
					program = nil
					continue
				}
				result.outcome = forge.Errf(forge.ErrExecution, false, "execution failed: %s", execErr.Error())
				return result
			}
		}

		outcome := forge.CoerceOutcome(value)

		if outcome.IsError() {
			stateBuffer.Discard()
			record.Append(forge.StageOutcome, outcome.Class(), outcome.Message(), attempt)
			if !outcome.Retriable() {
				result.outcome = outcome
				return result
			}
			if repairUsed < e.config.Budgets.OutcomeRepair {
				repairUsed++
				feedback = append(feedback, generate.Feedback{Kind: generate.FeedbackOutcome, Message: outcome.Message()})
				nextTrigger = e.repairTrigger(art, forge.StageOutcome, outcome.Class())
				program = nil
				continue
			}
			result.outcome = forge.Errf(forge.ErrOutcomeRepairExhausted, false,
				"outcome repair budget exhausted: %s", outcome.Message())
			return result
		}

		// Guardrail policy, post-execution phase (behavioral checks such
		// as retrieval provenance).
		input.Result = outcome
		if receiver != nil {
			input.Provenance = receiver.Provenance()
		}
		violations = e.guardrails.Evaluate(guardrail.PhasePostExecution, input)

		// Shared-state continuity: committed keys must survive a
		// successful attempt with their types intact. Shadow mode logs;
		// enforcement recovers like any guardrail failure.
		if continuity := continuityViolation(stateBuffer); continuity != "" {
			if e.config.Continuity == config.ContinuityEnforced {
				violations = append(violations, guardrail.Violation{
					Check:   "state_continuity",
					Subtype: "continuity_violation",
					Message: continuity,
				})
			} else {
				logger.Warn("continuity violation (shadow)", "detail", continuity)
			}
		}
		if len(violations) > 0 {
			stateBuffer.Discard()
			message := guardrail.Describe(violations)
			record.Append(forge.StageGuardrail, forge.ErrGuardrailViolation, message, attempt)
			if guardrailUsed < e.config.Budgets.GuardrailRecovery {
				guardrailUsed++
				feedback = append(feedback, generate.Feedback{Kind: generate.FeedbackGuardrail, Message: message})
				nextTrigger = artifact.TriggerRegenerate
				program = nil
				continue
			}
			result.outcome = forge.ErrWithMetadata(forge.ErrGuardrailExhausted, false, message,
				map[string]any{"violations": violations})
			return result
		}

		// Deliverable contract. Violations surface as-is: they are never
		// coerced to success and never retried.
		if mismatch := contract.Validate(spec.Contract, outcome.Value(), invocation.Kwargs, spec.RequiredInputs); mismatch != nil {
			stateBuffer.Discard()
			art.RecordContractCheck(false)
			record.Append(forge.StageContract, forge.ErrContractViolation, mismatch.Error(), attempt)
			// The verdict is flagged on the artifact so the next invocation
			// regenerates instead of reusing the failing code.
			action := artifact.DecideRepair(art, forge.ErrContractViolation, e.config.RepairCeiling)
			art.FlagRepair(forge.StageContract, forge.ErrContractViolation, action, mismatch.Error())
			result.outcome = forge.ErrWithMetadata(forge.ErrContractViolation, false, mismatch.Error(), mismatch.Metadata())
			return result
		}
		if spec.Contract != nil {
			art.RecordContractCheck(true)
		}

		stateBuffer.Commit()
		result.outcome = outcome
		return result
	}
}

// repairTrigger consults the artifact store's repair-vs-regenerate
// decision for an adaptive failure and returns the history trigger for the
// next generation.
func (e *Engine) repairTrigger(art *artifact.Artifact, stage forge.Stage, class forge.ErrorClass) string {
	if art == nil {
		return artifact.TriggerRegenerate
	}
	switch artifact.DecideRepair(art, class, e.config.RepairCeiling) {
	case artifact.ActionRepair:
		return artifact.TriggerRepairPrefix + string(stage)
	default:
		return artifact.TriggerRegenerate
	}
}

// continuityViolation reports the first key, committed when the attempt
// began, that a successful attempt would remove or retype.
func continuityViolation(buffer *sandbox.StateBuffer) string {
	snapshot := buffer.Snapshot()
	for key, before := range buffer.Baseline() {
		after, ok := snapshot[key]
		if !ok {
			return fmt.Sprintf("committed state key %q was removed", key)
		}
		if before != nil && after != nil && fmt.Sprintf("%T", before) != fmt.Sprintf("%T", after) {
			return fmt.Sprintf("committed state key %q changed type from %T to %T", key, before, after)
		}
	}
	return ""
}
