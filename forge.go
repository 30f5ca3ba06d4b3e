package forge

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// ProgramOrigin indicates where a program's source came from.
type ProgramOrigin string

const (
	OriginFresh     ProgramOrigin = "fresh"
	OriginPersisted ProgramOrigin = "persisted"
	OriginRepaired  ProgramOrigin = "repaired"
	// OriginHandler tags invocations served by a registered hand-written
	// implementation rather than a program.
	OriginHandler ProgramOrigin = "handler"
)

// Stage identifies the phase of an attempt in which a failure occurred.
type Stage string

const (
	StageGeneration Stage = "generation"
	StageGuardrail  Stage = "guardrail"
	StageExecution  Stage = "execution"
	StageOutcome    Stage = "outcome"
	StageContract   Stage = "contract"
)

// Invocation is one logical call to an operation that has no hand-written
// implementation. Exactly one Outcome is produced per Invocation.
type Invocation struct {
	Role         string         `json:"role"`
	Method       string         `json:"method"`
	Args         []any          `json:"args,omitempty"`
	Kwargs       map[string]any `json:"kwargs,omitempty"`
	Depth        int            `json:"depth"`
	TraceID      string         `json:"trace_id"`
	ParentCallID string         `json:"parent_call_id,omitempty"`
}

// NewInvocation builds a top-level Invocation with a fresh trace id.
func NewInvocation(role, method string, args []any, kwargs map[string]any) *Invocation {
	return &Invocation{
		Role:    role,
		Method:  method,
		Args:    args,
		Kwargs:  kwargs,
		TraceID: NewID(),
	}
}

// Child derives a nested Invocation that runs synchronously inside this one.
// Depth increments and the trace id is shared.
func (inv *Invocation) Child(role, method string, args []any, kwargs map[string]any) *Invocation {
	return &Invocation{
		Role:         role,
		Method:       method,
		Args:         args,
		Kwargs:       kwargs,
		Depth:        inv.Depth + 1,
		TraceID:      inv.TraceID,
		ParentCallID: inv.CallKey(),
	}
}

// CallKey returns the role+method key used for artifact and registry lookup.
func (inv *Invocation) CallKey() string {
	return inv.Role + "." + inv.Method
}

// Program is a candidate implementation for one invocation. It is immutable
// once an attempt starts executing it.
type Program struct {
	Source   string        `json:"source"`
	Manifest []Requirement `json:"manifest,omitempty"`
	Origin   ProgramOrigin `json:"origin"`
}

// HasDependencies reports whether the program declared third-party
// dependencies and therefore must run in a worker subprocess.
func (p *Program) HasDependencies() bool {
	return len(p.Manifest) > 0
}

// Requirement is one entry of a dependency manifest: a gem-name-shaped
// package name and a normalized version constraint.
type Requirement struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// NewID returns a ULID string used for trace and attempt identifiers.
func NewID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}
