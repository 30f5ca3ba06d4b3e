package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/deepnoodle-ai/forge"
	"github.com/deepnoodle-ai/forge/deps"
	"github.com/deepnoodle-ai/forge/sandbox"
	"github.com/deepnoodle-ai/forge/worker"
)

// environmentError wraps a failure to materialize a dependency
// environment. Extrinsic: regenerating the program cannot fix it.
type environmentError struct {
	err error
}

func (e *environmentError) Error() string {
	return "environment materialization failed: " + e.err.Error()
}

func (e *environmentError) Unwrap() error { return e.err }

// executeProgram routes to the in-process sandbox for dependency-free
// programs and to the worker supervisor otherwise. The receiver is nil on
// the worker path; provenance-style checks apply only in-process.
func (e *Engine) executeProgram(ctx context.Context, invocation *forge.Invocation, program *forge.Program, stateBuffer *sandbox.StateBuffer) (any, *sandbox.Receiver, error) {
	if !program.HasDependencies() {
		delegate := func(ctx context.Context, role, method string, args []any, kwargs map[string]any) *forge.Outcome {
			return e.Execute(ctx, invocation.Child(role, method, args, kwargs))
		}
		return e.sandbox.Run(ctx, program, invocation, stateBuffer, delegate)
	}

	if e.envManager == nil || e.supervisor == nil {
		return nil, nil, &sandbox.Fault{
			Stage:   forge.StageExecution,
			Message: "program declares dependencies but no worker is configured",
		}
	}
	env, err := e.envManager.Materialize(ctx, deps.Manifest(program.Manifest))
	if err != nil {
		return nil, nil, &environmentError{err: err}
	}
	response, err := e.supervisor.Execute(ctx, env, &worker.Request{
		ID:      forge.NewID(),
		Method:  invocation.Method,
		Code:    program.Source,
		Args:    invocation.Args,
		Kwargs:  invocation.Kwargs,
		Context: stateBuffer.Snapshot(),
	})
	if err != nil {
		return nil, nil, err
	}
	if response.Status != worker.StatusOK {
		return nil, nil, &sandbox.Fault{
			Stage:   forge.StageExecution,
			Message: fmt.Sprintf("%s: %s", response.ErrorType, response.ErrorMessage),
		}
	}
	if response.Context != nil {
		stateBuffer.Replace(response.Context)
	}
	return response.Value, nil, nil
}

// executionVerdict is the classification of a raised execution fault.
type executionVerdict struct {
	class            forge.ErrorClass
	retriable        bool
	terminal         bool
	retrySameProgram bool
}

// classifyExecutionError sorts execution faults into the retry policy:
// worker crashes and timeouts retry the same program against a restarted
// worker until the restart budget resolves it; environment failures are
// extrinsic and terminal; everything else is attributable to the
// generated logic and goes through regeneration.
func classifyExecutionError(err error) executionVerdict {
	var budget *worker.BudgetExhaustedError
	if errors.As(err, &budget) {
		class := forge.ErrWorkerCrash
		var timeout *worker.TimeoutError
		if errors.As(budget.Cause, &timeout) {
			class = forge.ErrWorkerTimeout
		}
		return executionVerdict{class: class, terminal: true}
	}
	var timeout *worker.TimeoutError
	if errors.As(err, &timeout) {
		return executionVerdict{class: forge.ErrWorkerTimeout, retrySameProgram: true, retriable: true}
	}
	var crash *worker.CrashError
	if errors.As(err, &crash) {
		return executionVerdict{class: forge.ErrWorkerCrash, retrySameProgram: true, retriable: true}
	}
	var envErr *environmentError
	if errors.As(err, &envErr) {
		return executionVerdict{class: forge.ErrTransport, terminal: true, retriable: true}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return executionVerdict{class: forge.ErrTimeout, retriable: true}
	}
	return executionVerdict{class: forge.ErrExecution}
}
