// Package engine drives one invocation with no hand-written
// implementation to exactly one typed Outcome: program acquisition
// (persisted artifact or fresh generation), guardrail evaluation, isolated
// execution, outcome coercion, contract validation, artifact bookkeeping
// and a single observability record.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/deepnoodle-ai/forge"
	"github.com/deepnoodle-ai/forge/artifact"
	"github.com/deepnoodle-ai/forge/config"
	"github.com/deepnoodle-ai/forge/deps"
	"github.com/deepnoodle-ai/forge/environment"
	"github.com/deepnoodle-ai/forge/generate"
	"github.com/deepnoodle-ai/forge/guardrail"
	"github.com/deepnoodle-ai/forge/registry"
	"github.com/deepnoodle-ai/forge/sandbox"
	"github.com/deepnoodle-ai/forge/schema"
	"github.com/deepnoodle-ai/forge/slogger"
	"github.com/deepnoodle-ai/forge/worker"
)

// HandlerFunc is a hand-written implementation for a (role, method) pair.
// Registered handlers bypass synthesis but still update registry counters
// and emit the invocation's observability record.
type HandlerFunc func(ctx context.Context, invocation *forge.Invocation) *forge.Outcome

// MethodSpec declares per-method policy: the deliverable contract, the
// inputs that must be non-empty, and cacheability. Free-text or
// dynamic-dispatch-style methods set InputSensitive, since their behavior
// legitimately depends on the input.
type MethodSpec struct {
	Contract           *schema.Schema
	RequiredInputs     []string
	InputSensitive     bool
	NotCacheableReason string
	SystemPrompt       string
	Purpose            string
}

// PromptFunc renders the user prompt for one invocation. Prompt wording is
// the caller's concern; the engine only injects structured feedback.
type PromptFunc func(invocation *forge.Invocation, spec *MethodSpec) string

func defaultPrompt(invocation *forge.Invocation, spec *MethodSpec) string {
	return fmt.Sprintf("Write a program implementing %s.%s for args=%v kwargs=%v",
		invocation.Role, invocation.Method, invocation.Args, invocation.Kwargs)
}

// Engine is the attempt lifecycle controller. All collaborators are
// injected; the engine owns no hidden globals.
type Engine struct {
	config     *config.Config
	generator  generate.Generator
	artifacts  *artifact.Store
	registry   *registry.Registry
	guardrails *guardrail.Policy
	sandbox    *sandbox.Sandbox
	envManager *environment.Manager
	supervisor *worker.Supervisor
	recorder   Recorder
	logger     slogger.Logger
	prompt     PromptFunc
	depPolicy  *deps.Policy
	sessionID  string

	handlers map[string]HandlerFunc
	specs    map[string]*MethodSpec

	memoryMutex sync.Mutex
	memory      map[string]*sandbox.Memory
}

// Options configures an Engine. Config, Generator, Artifacts and Sandbox
// are required for the synthesis path; the rest degrade gracefully.
type Options struct {
	Config     *config.Config
	Generator  generate.Generator
	Artifacts  *artifact.Store
	Registry   *registry.Registry
	Guardrails *guardrail.Policy
	Sandbox    *sandbox.Sandbox
	EnvManager *environment.Manager
	Supervisor *worker.Supervisor
	Recorder   Recorder
	Logger     slogger.Logger
	Prompt     PromptFunc
	DepsPolicy *deps.Policy
	SessionID  string
}

// New creates an Engine.
func New(opts Options) (*Engine, error) {
	if opts.Config == nil {
		opts.Config = config.Default()
	}
	if opts.Generator == nil {
		return nil, fmt.Errorf("a generator is required")
	}
	if opts.Artifacts == nil {
		return nil, fmt.Errorf("an artifact store is required")
	}
	if opts.Sandbox == nil {
		return nil, fmt.Errorf("a sandbox is required")
	}
	if opts.Guardrails == nil {
		opts.Guardrails = guardrail.NewPolicy()
	}
	if opts.Logger == nil {
		opts.Logger = slogger.DefaultLogger
	}
	if opts.Recorder == nil {
		opts.Recorder = &NullRecorder{}
	}
	if opts.Prompt == nil {
		opts.Prompt = defaultPrompt
	}
	if opts.SessionID == "" {
		opts.SessionID = forge.NewID()
	}
	return &Engine{
		config:     opts.Config,
		generator:  opts.Generator,
		artifacts:  opts.Artifacts,
		registry:   opts.Registry,
		guardrails: opts.Guardrails,
		sandbox:    opts.Sandbox,
		envManager: opts.EnvManager,
		supervisor: opts.Supervisor,
		recorder:   opts.Recorder,
		logger:     opts.Logger,
		prompt:     opts.Prompt,
		depPolicy:  opts.DepsPolicy,
		sessionID:  opts.SessionID,
		handlers:   map[string]HandlerFunc{},
		specs:      map[string]*MethodSpec{},
		memory:     map[string]*sandbox.Memory{},
	}, nil
}

// RegisterHandler installs a hand-written implementation in the dispatch
// table. Synthesis is the fallback for everything not registered.
func (e *Engine) RegisterHandler(role, method string, handler HandlerFunc) {
	e.handlers[role+"."+method] = handler
}

// RegisterSpec declares per-method policy.
func (e *Engine) RegisterSpec(role, method string, spec *MethodSpec) {
	e.specs[role+"."+method] = spec
}

func (e *Engine) spec(invocation *forge.Invocation) *MethodSpec {
	if spec, ok := e.specs[invocation.CallKey()]; ok {
		return spec
	}
	return &MethodSpec{}
}

// roleMemory returns the committed shared state for a role. Invocations
// may run concurrently, so the role map is guarded here and each Memory
// guards its own contents.
func (e *Engine) roleMemory(role string) *sandbox.Memory {
	e.memoryMutex.Lock()
	defer e.memoryMutex.Unlock()
	m, ok := e.memory[role]
	if !ok {
		m = sandbox.NewMemory()
		e.memory[role] = m
	}
	return m
}

// Execute resolves one invocation to exactly one Outcome. It never panics
// and never returns an error: every failure mode becomes a typed error
// Outcome. The observability record for the invocation is emitted exactly
// once, on every path.
func (e *Engine) Execute(ctx context.Context, invocation *forge.Invocation) *forge.Outcome {
	started := time.Now()
	logger := e.logger.With(
		"trace_id", invocation.TraceID,
		"role", invocation.Role,
		"method", invocation.Method,
		"depth", invocation.Depth,
	)
	ctx = slogger.WithLogger(ctx, logger)

	if handler, ok := e.handlers[invocation.CallKey()]; ok {
		outcome := handler(ctx, invocation)
		if outcome == nil {
			outcome = forge.OK(nil)
		}
		result := &runResult{
			outcome:  outcome,
			record:   forge.NewAttemptRecord(),
			attempts: 1,
			origin:   string(forge.OriginHandler),
		}
		e.finish(ctx, invocation, result, outcome, time.Since(started))
		return outcome
	}

	result := e.run(ctx, invocation)
	outcome := result.outcome

	// Only the top-level boundary generalizes guardrail-exhaustion
	// detail; nested invocations keep full diagnostics.
	if invocation.Depth == 0 && outcome.IsError() && outcome.Class() == forge.ErrGuardrailExhausted {
		outcome = outcome.WithMessage("the operation could not be completed safely")
	}

	e.finish(ctx, invocation, result, outcome, time.Since(started))
	return outcome
}

// finish persists artifact state, updates the registry and emits the
// invocation's single observability record.
func (e *Engine) finish(ctx context.Context, invocation *forge.Invocation, result *runResult, outcome *forge.Outcome, elapsed time.Duration) {
	logger := slogger.Ctx(ctx)

	if result.artifact != nil {
		result.artifact.RecordCall(outcome, e.sessionID)
		if e.config.Promotion != nil {
			decision := artifact.Advance(result.artifact, e.config.Promotion)
			if decision.From != decision.To || decision.Fallback {
				logger.Info("lifecycle decision",
					"key", decision.Key, "from", decision.From, "to", decision.To,
					"mode", decision.Mode, "fallback", decision.Fallback)
			}
		}
		if err := e.artifacts.Put(result.artifact); err != nil {
			logger.Error("persist artifact failed", "error", err)
		}
	}
	if e.registry != nil {
		e.registry.RecordUse(invocation.Role, invocation.Method, outcome.IsOK())
		if err := e.registry.Flush(); err != nil {
			logger.Error("flush registry failed", "error", err)
		}
	}

	record := &InvocationRecord{
		TraceID:      invocation.TraceID,
		ParentCallID: invocation.ParentCallID,
		Role:         invocation.Role,
		Method:       invocation.Method,
		Depth:        invocation.Depth,
		SessionID:    e.sessionID,
		Status:       statusOf(outcome),
		ErrorClass:   string(outcome.Class()),
		ErrorMessage: outcome.Message(),
		Attempts:     result.attempts,
		StageCounts:  result.record.FailuresByStage(),
		Failures:     result.record.Failures,
		ElapsedMS:    elapsed.Milliseconds(),
	}
	if result.program != nil {
		record.Code = result.program.Source
		record.Origin = string(result.program.Origin)
	} else if result.origin != "" {
		record.Origin = result.origin
	}
	if result.artifact != nil {
		record.Lifecycle = string(result.artifact.Lifecycle)
		record.Checksum = result.artifact.Checksum
	}
	if err := e.recorder.Record(record); err != nil {
		logger.Error("record invocation failed", "error", err)
	}
	logger.Info("invocation finished",
		"status", record.Status, "attempts", result.attempts, "elapsed", elapsed)
}

func statusOf(outcome *forge.Outcome) string {
	if outcome.IsOK() {
		return "ok"
	}
	return "error"
}
