// Package worker runs dependency-bearing programs in a subprocess bound
// to a dependency-specific environment. A crash or hang while loading
// third-party code kills the worker, never the parent. Requests and
// responses are line-delimited JSON over the worker's stdin/stdout.
package worker

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Request is one unit of work sent to a worker.
type Request struct {
	ID      string         `json:"id"`
	Method  string         `json:"method"`
	Code    string         `json:"code"`
	Args    []any          `json:"args,omitempty"`
	Kwargs  map[string]any `json:"kwargs,omitempty"`
	Context map[string]any `json:"context,omitempty"`
}

// Response is a worker's answer to one Request.
type Response struct {
	ID           string         `json:"id"`
	Status       string         `json:"status"`
	Value        any            `json:"value,omitempty"`
	ErrorType    string         `json:"error_type,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Context      map[string]any `json:"context,omitempty"`
	WorkerPID    int            `json:"worker_pid"`
	Restarts     int            `json:"restarts"`
}

const (
	StatusOK    = "ok"
	StatusError = "error"
)

const requestSchema = `{
	"type": "object",
	"required": ["id", "method", "code"],
	"properties": {
		"id": {"type": "string", "minLength": 1},
		"method": {"type": "string", "minLength": 1},
		"code": {"type": "string"},
		"args": {"type": "array"},
		"kwargs": {"type": "object"},
		"context": {"type": "object"}
	}
}`

var compiledRequestSchema = jsonschema.MustCompileString("worker-request.json", requestSchema)

// ValidateRequest checks a raw request envelope against the wire schema.
// The worker runs this before dispatch so malformed envelopes fail fast
// instead of reaching untrusted code.
func ValidateRequest(raw []byte) error {
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	if err := compiledRequestSchema.Validate(value); err != nil {
		return fmt.Errorf("invalid request envelope: %w", err)
	}
	return nil
}

// CheckSerializable verifies that every value crossing the worker boundary
// is representable as plain JSON data. Run before dispatch; a channel or
// function smuggled into args would otherwise fail deep inside the worker.
func CheckSerializable(request *Request) error {
	encoded, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("request is not plain serializable data: %w", err)
	}
	if strings.ContainsRune(string(encoded), '\n') {
		// The framing is line-delimited; a raw newline would desync it.
		return fmt.Errorf("request encoding contains a newline")
	}
	return nil
}
