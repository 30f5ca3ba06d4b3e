// Package generate defines the client interface to the code-producing
// service. The service synthesizes program source for one invocation;
// everything downstream of the returned code (validation, execution,
// caching) is the engine's responsibility.
package generate

import (
	"context"
	"strings"
	"time"

	"github.com/deepnoodle-ai/forge"
	"github.com/deepnoodle-ai/forge/schema"
)

// FeedbackKind tags corrective feedback injected into a regeneration
// request after a failed attempt.
type FeedbackKind string

const (
	FeedbackGuardrail FeedbackKind = "guardrail"
	FeedbackExecution FeedbackKind = "execution"
	FeedbackOutcome   FeedbackKind = "outcome"
	FeedbackContract  FeedbackKind = "contract"
)

// Feedback carries one prior failure back to the service so the next
// candidate can correct it.
type Feedback struct {
	Kind    FeedbackKind `json:"kind"`
	Message string       `json:"message"`
}

// Request asks the service for one candidate program.
type Request struct {
	Model        string         `json:"model,omitempty"`
	SystemPrompt string         `json:"system_prompt,omitempty"`
	UserPrompt   string         `json:"user_prompt"`
	Schema       *schema.Schema `json:"schema,omitempty"`
	Feedback     []Feedback     `json:"feedback,omitempty"`
	Timeout      time.Duration  `json:"timeout,omitempty"`
}

// Response is the service's answer. Code may be nil or blank, which the
// engine treats as a retriable invalid_code failure, never as an error
// from Generate itself.
type Response struct {
	Code         *string             `json:"code"`
	Dependencies []forge.Requirement `json:"dependencies,omitempty"`
}

// Blank reports whether the response carries no usable code.
func (r *Response) Blank() bool {
	return r == nil || r.Code == nil || strings.TrimSpace(*r.Code) == ""
}

// Generator produces candidate programs. Implementations return an error
// only for transport-level failures; an empty or malformed payload is a
// valid Response the engine classifies itself.
type Generator interface {
	Generate(ctx context.Context, request *Request) (*Response, error)
}
