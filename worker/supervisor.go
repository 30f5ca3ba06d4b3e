package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/deepnoodle-ai/forge/environment"
	"github.com/deepnoodle-ai/forge/slogger"
)

const (
	DefaultMaxRestarts = 3
	DefaultCallTimeout = 60 * time.Second
)

// BudgetExhaustedError is returned once a worker's restart budget is spent.
// Further calls for the same environment fail immediately without spawning
// another process.
type BudgetExhaustedError struct {
	EnvID string
	Cause error
}

func (e *BudgetExhaustedError) Error() string {
	return "worker restart budget exhausted for env " + e.EnvID + ": " + e.Cause.Error()
}

func (e *BudgetExhaustedError) Unwrap() error { return e.Cause }

// Supervisor keeps at most one live worker, bound to one environment id.
// A request for a different environment shuts the current worker down and
// starts a fresh one. Crashes and timeouts consume a bounded restart
// budget; a successful call resets it.
type Supervisor struct {
	command     CommandFunc
	maxRestarts int
	callTimeout time.Duration

	mutex    sync.Mutex
	current  *Executor
	envID    string
	crashes  int
	restarts int
	lastErr  error
}

// SupervisorOptions configures a Supervisor.
type SupervisorOptions struct {
	Command     CommandFunc
	MaxRestarts int
	CallTimeout time.Duration
}

func NewSupervisor(opts SupervisorOptions) *Supervisor {
	maxRestarts := opts.MaxRestarts
	if maxRestarts == 0 {
		maxRestarts = DefaultMaxRestarts
	}
	callTimeout := opts.CallTimeout
	if callTimeout == 0 {
		callTimeout = DefaultCallTimeout
	}
	return &Supervisor{
		command:     opts.Command,
		maxRestarts: maxRestarts,
		callTimeout: callTimeout,
	}
}

// Execute runs one request in the worker for the given environment,
// serialized with every other request. Returns a *CrashError or
// *TimeoutError while restart budget remains, and a *BudgetExhaustedError
// once it is spent.
func (s *Supervisor) Execute(ctx context.Context, env *environment.Handle, request *Request) (*Response, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.envID == env.ID && s.crashes > s.maxRestarts {
		cause := s.lastErr
		if cause == nil {
			cause = errors.New("worker unavailable")
		}
		return nil, &BudgetExhaustedError{EnvID: env.ID, Cause: cause}
	}

	if s.envID != "" && s.envID != env.ID {
		slogger.Ctx(ctx).Debug("worker environment switch",
			"from", s.envID, "to", env.ID)
		if s.current != nil {
			s.current.Shutdown()
			s.current = nil
		}
		s.crashes = 0
		s.restarts = 0
		s.lastErr = nil
	}

	if s.current == nil {
		executor, err := StartExecutor(env.ID, env.Dir, s.command)
		if err != nil {
			return nil, err
		}
		s.current = executor
		s.envID = env.ID
	}

	response, err := s.current.Call(ctx, request, s.callTimeout)
	if err == nil {
		s.crashes = 0
		response.Restarts = s.restarts
		return response, nil
	}

	var crash *CrashError
	var timeout *TimeoutError
	if !errors.As(err, &crash) && !errors.As(err, &timeout) {
		return nil, err
	}

	// The process is already dead; decide whether the budget allows a
	// replacement on the next call.
	s.current = nil
	s.crashes++
	s.lastErr = err
	if s.crashes > s.maxRestarts {
		return nil, &BudgetExhaustedError{EnvID: env.ID, Cause: err}
	}
	s.restarts++
	slogger.Ctx(ctx).Warn("worker failed, will restart",
		"env_id", env.ID, "restarts", s.restarts, "error", err)
	return nil, err
}

// Shutdown stops the live worker, if any.
func (s *Supervisor) Shutdown() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.current != nil {
		s.current.Shutdown()
		s.current = nil
	}
}
