package engine

import (
	"context"
	"errors"
	"strings"

	"github.com/deepnoodle-ai/forge"
	"github.com/deepnoodle-ai/forge/artifact"
	"github.com/deepnoodle-ai/forge/deps"
	"github.com/deepnoodle-ai/forge/generate"
	"github.com/deepnoodle-ai/forge/slogger"
)

// generateProgram requests candidate code until one attempt yields a
// usable program or the generation budget runs out. Transport errors and
// blank payloads consume budget and are retried; manifest problems are
// fatal immediately. The second return value is non-nil exactly when the
// invocation must end with that Outcome.
func (e *Engine) generateProgram(
	ctx context.Context,
	invocation *forge.Invocation,
	spec *MethodSpec,
	feedback []generate.Feedback,
	existing deps.Manifest,
	origin forge.ProgramOrigin,
	generationUsed *int,
	record *forge.AttemptRecord,
	attempt int,
) (*forge.Program, *forge.Outcome) {
	logger := slogger.Ctx(ctx)

	for {
		if *generationUsed >= e.config.Budgets.GenerationAttempts {
			class := forge.ErrInvalidCode
			if last, ok := record.LastFailure(); ok && last.Stage == forge.StageGeneration {
				class = last.Class
			}
			// Terminal for this invocation, but the class stays marked
			// retriable: a fresh invocation may succeed.
			return nil, forge.Errf(class, true, "generation budget exhausted after %d attempts", *generationUsed)
		}
		*generationUsed++

		response, err := e.generator.Generate(ctx, &generate.Request{
			Model:        e.config.Model,
			SystemPrompt: spec.SystemPrompt,
			UserPrompt:   e.prompt(invocation, spec),
			Schema:       spec.Contract,
			Feedback:     feedback,
		})
		if err != nil {
			class := forge.ErrTransport
			if errors.Is(err, context.DeadlineExceeded) {
				class = forge.ErrTimeout
			}
			record.Append(forge.StageGeneration, class, err.Error(), attempt)
			logger.Warn("generation attempt failed", "class", class, "error", err)
			continue
		}
		if response.Blank() {
			record.Append(forge.StageGeneration, forge.ErrInvalidCode, "service returned nil or blank code", attempt)
			continue
		}

		declared, err := deps.Normalize(response.Dependencies)
		if err != nil {
			record.Append(forge.StageGeneration, forge.ErrInvalidManifest, err.Error(), attempt)
			return nil, forge.Errf(forge.ErrInvalidManifest, false, "invalid dependency manifest: %s", err.Error())
		}
		manifest := declared
		if len(existing) > 0 {
			merged, err := deps.Merge(existing, declared)
			if err != nil {
				record.Append(forge.StageGeneration, forge.ErrManifestIncompatible, err.Error(), attempt)
				return nil, forge.Errf(forge.ErrManifestIncompatible, false,
					"dependency manifest incompatible with prior generations: %s", err.Error())
			}
			manifest = merged
		}
		// Dependency policy runs before any environment is materialized.
		if err := e.depPolicy.Check(manifest); err != nil {
			record.Append(forge.StageGeneration, forge.ErrDependencyPolicy, err.Error(), attempt)
			return nil, forge.Errf(forge.ErrDependencyPolicy, false, "%s", err.Error())
		}

		return &forge.Program{
			Source:   strings.TrimSpace(*response.Code),
			Manifest: manifest,
			Origin:   origin,
		}, nil
	}
}

// feedbackKind maps a failure stage to the feedback tag carried by the
// next generation request.
func feedbackKind(stage forge.Stage) generate.FeedbackKind {
	switch stage {
	case forge.StageContract:
		return generate.FeedbackContract
	case forge.StageGuardrail:
		return generate.FeedbackGuardrail
	case forge.StageOutcome:
		return generate.FeedbackOutcome
	default:
		return generate.FeedbackExecution
	}
}

// originFor maps the pending history trigger to the program origin tag.
func originFor(trigger string) forge.ProgramOrigin {
	if strings.HasPrefix(trigger, artifact.TriggerRepairPrefix) {
		return forge.OriginRepaired
	}
	return forge.OriginFresh
}
