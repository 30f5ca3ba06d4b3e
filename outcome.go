package forge

import (
	"fmt"
	"strings"
)

// ErrorClass is the canonical failure classification. Retriability is a
// property of the class except for domain errors, where the program itself
// declares it.
type ErrorClass string

const (
	ErrTransport              ErrorClass = "transport_error"
	ErrTimeout                ErrorClass = "timeout"
	ErrInvalidCode            ErrorClass = "invalid_code"
	ErrInvalidManifest        ErrorClass = "invalid_dependency_manifest"
	ErrManifestIncompatible   ErrorClass = "dependency_manifest_incompatible"
	ErrDependencyPolicy       ErrorClass = "dependency_policy_violation"
	ErrExecution              ErrorClass = "execution_error"
	ErrContractViolation      ErrorClass = "contract_violation"
	ErrGuardrailViolation     ErrorClass = "guardrail_violation"
	ErrGuardrailExhausted     ErrorClass = "guardrail_retry_exhausted"
	ErrOutcomeRepairExhausted ErrorClass = "outcome_repair_retry_exhausted"
	ErrWorkerCrash            ErrorClass = "worker_crash"
	ErrWorkerTimeout          ErrorClass = "worker_timeout"
	ErrDomain                 ErrorClass = "domain_error"
)

// Outcome is the two-variant result type returned by every invocation.
// It is either ok carrying a value, or an error carrying a class, message,
// retriability flag and optional metadata. No other result shape is ever
// observable by a caller.
type Outcome struct {
	ok        bool
	value     any
	class     ErrorClass
	message   string
	retriable bool
	metadata  map[string]any
}

// OK builds a success Outcome.
func OK(value any) *Outcome {
	return &Outcome{ok: true, value: value}
}

// Errf builds an error Outcome with a formatted message.
func Errf(class ErrorClass, retriable bool, format string, args ...any) *Outcome {
	return &Outcome{class: class, retriable: retriable, message: fmt.Sprintf(format, args...)}
}

// ErrWithMetadata builds an error Outcome carrying structured metadata.
func ErrWithMetadata(class ErrorClass, retriable bool, message string, metadata map[string]any) *Outcome {
	return &Outcome{class: class, retriable: retriable, message: message, metadata: metadata}
}

func (o *Outcome) IsOK() bool             { return o.ok }
func (o *Outcome) IsError() bool          { return !o.ok }
func (o *Outcome) Value() any             { return o.value }
func (o *Outcome) Class() ErrorClass      { return o.class }
func (o *Outcome) Message() string        { return o.message }
func (o *Outcome) Retriable() bool        { return !o.ok && o.retriable }
func (o *Outcome) Metadata() map[string]any { return o.metadata }

func (o *Outcome) String() string {
	if o.ok {
		return fmt.Sprintf("ok(%v)", o.value)
	}
	return fmt.Sprintf("error(%s: %s)", o.class, o.message)
}

// WithMessage returns a copy of an error Outcome with the message replaced.
// Used at the top-level boundary to generalize guardrail-exhaustion detail.
func (o *Outcome) WithMessage(message string) *Outcome {
	cp := *o
	cp.message = message
	return &cp
}

// CoerceOutcome normalizes the heterogeneous return shapes a generated
// program may produce into exactly one Outcome:
//
//   - an *Outcome passes through unchanged
//   - a Go error becomes a non-retriable domain error
//   - a map shaped like an error ({"error": ...}) becomes a domain error,
//     honoring a declared "retriable" flag
//   - anything else is a bare value and becomes success
//
// This is the single normalization boundary; call sites never special-case
// return shapes themselves.
func CoerceOutcome(raw any) *Outcome {
	switch v := raw.(type) {
	case *Outcome:
		if v == nil {
			return OK(nil)
		}
		return v
	case Outcome:
		return &v
	case error:
		return Errf(ErrDomain, false, "%s", v.Error())
	case map[string]any:
		if out, ok := coerceErrorMap(v); ok {
			return out
		}
		return OK(v)
	default:
		return OK(raw)
	}
}

// coerceErrorMap recognizes error-shaped mappings. Key lookup is tolerant of
// representation variants ("error", "Error", "ERROR").
func coerceErrorMap(m map[string]any) (*Outcome, bool) {
	msg, found := lookupTolerant(m, "error")
	if !found {
		return nil, false
	}
	retriable := false
	if r, ok := lookupTolerant(m, "retriable"); ok {
		if b, ok := r.(bool); ok {
			retriable = b
		}
	}
	class := ErrDomain
	if c, ok := lookupTolerant(m, "type"); ok {
		if s, ok := c.(string); ok && s != "" {
			class = ErrorClass(s)
		}
	}
	metadata := map[string]any{}
	if md, ok := lookupTolerant(m, "metadata"); ok {
		if mm, ok := md.(map[string]any); ok {
			metadata = mm
		}
	}
	return ErrWithMetadata(class, retriable, fmt.Sprintf("%v", msg), metadata), true
}

func lookupTolerant(m map[string]any, key string) (any, bool) {
	if v, ok := m[key]; ok {
		return v, true
	}
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}
