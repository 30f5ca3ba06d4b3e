// Package sandbox executes dependency-free programs against a fresh,
// attempt-scoped receiver. The receiver forwards only a fixed capability
// set (delegation, memory, call-local context, args/kwargs) and is
// discarded after one attempt, so nothing a program defines on itself can
// survive into a later invocation.
package sandbox

import (
	"context"
	"fmt"
	"time"

	"github.com/deepnoodle-ai/forge"
)

// DelegateFunc dispatches a nested invocation on behalf of the running
// program.
type DelegateFunc func(ctx context.Context, role, method string, args []any, kwargs map[string]any) *forge.Outcome

// Receiver is the surface a program executes against. One Receiver exists
// per attempt.
type Receiver struct {
	invocation   *forge.Invocation
	state        *StateBuffer
	delegate     DelegateFunc
	callContext  map[string]any
	capabilities map[string]any
	provenance   []string
}

func (r *Receiver) Args() []any             { return r.invocation.Args }
func (r *Receiver) Kwargs() map[string]any  { return r.invocation.Kwargs }
func (r *Receiver) Invocation() *forge.Invocation { return r.invocation }

// MemoryGet reads shared call state through the attempt's buffer.
func (r *Receiver) MemoryGet(key string) (any, bool) { return r.state.Get(key) }

// MemorySet writes shared call state through the attempt's buffer. The
// write is committed only if this attempt becomes final.
func (r *Receiver) MemorySet(key string, value any) { r.state.Set(key, value) }

// ContextGet reads the call-local context. Unlike memory it never outlives
// the invocation.
func (r *Receiver) ContextGet(key string) (any, bool) {
	value, ok := r.callContext[key]
	return value, ok
}

func (r *Receiver) ContextSet(key string, value any) {
	r.callContext[key] = value
}

// Delegate invokes another role's method synchronously inside this
// attempt.
func (r *Receiver) Delegate(ctx context.Context, role, method string, args []any, kwargs map[string]any) *forge.Outcome {
	if r.delegate == nil {
		return forge.Errf(forge.ErrExecution, false, "delegation is not available in this context")
	}
	return r.delegate(ctx, role, method, args, kwargs)
}

// DefineCapability lets a program attach a named capability to itself.
// The definition dies with the receiver.
func (r *Receiver) DefineCapability(name string, capability any) {
	r.capabilities[name] = capability
}

// Capability returns a capability previously defined during this attempt.
func (r *Receiver) Capability(name string) (any, bool) {
	capability, ok := r.capabilities[name]
	return capability, ok
}

// RecordRetrieval notes that external data was fetched from the given
// source. Guardrails require recorded provenance before a program may
// claim external-data success.
func (r *Receiver) RecordRetrieval(source string) {
	r.provenance = append(r.provenance, source)
}

// Provenance returns the recorded retrieval sources.
func (r *Receiver) Provenance() []string { return r.provenance }

// Runtime interprets a program's source against a receiver. The engine is
// agnostic to the program's domain language; tests use scripted runtimes.
type Runtime interface {
	Execute(ctx context.Context, program *forge.Program, receiver *Receiver) (any, error)
}

// RuntimeFunc adapts a function to the Runtime interface.
type RuntimeFunc func(ctx context.Context, program *forge.Program, receiver *Receiver) (any, error)

func (f RuntimeFunc) Execute(ctx context.Context, program *forge.Program, receiver *Receiver) (any, error) {
	return f(ctx, program, receiver)
}

// Fault is a typed execution failure raised inside the sandbox.
type Fault struct {
	Stage   forge.Stage
	Message string
}

func (f *Fault) Error() string {
	return fmt.Sprintf("%s fault: %s", f.Stage, f.Message)
}

// Sandbox runs programs with no declared dependencies in-process.
type Sandbox struct {
	runtime Runtime
	timeout time.Duration
}

// Options configures a Sandbox.
type Options struct {
	Runtime Runtime
	Timeout time.Duration
}

func New(opts Options) *Sandbox {
	return &Sandbox{runtime: opts.Runtime, timeout: opts.Timeout}
}

// Run executes the program against a freshly constructed receiver and
// returns the raw value the program produced. Panics and runtime errors
// surface as *Fault with stage "execution"; they never escape as panics.
// The receiver is not reused: a later Run call observes none of this
// attempt's definitions.
func (s *Sandbox) Run(ctx context.Context, program *forge.Program, invocation *forge.Invocation, state *StateBuffer, delegate DelegateFunc) (value any, receiver *Receiver, err error) {
	if s.runtime == nil {
		return nil, nil, &Fault{Stage: forge.StageExecution, Message: "no runtime configured"}
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	receiver = &Receiver{
		invocation:   invocation,
		state:        state,
		delegate:     delegate,
		callContext:  map[string]any{},
		capabilities: map[string]any{},
	}
	defer func() {
		if r := recover(); r != nil {
			value = nil
			err = &Fault{Stage: forge.StageExecution, Message: fmt.Sprintf("program panicked: %v", r)}
		}
	}()
	value, err = s.runtime.Execute(ctx, program, receiver)
	if err != nil {
		if _, ok := err.(*Fault); !ok {
			err = &Fault{Stage: forge.StageExecution, Message: err.Error()}
		}
		return nil, receiver, err
	}
	return value, receiver, nil
}
