package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// ExecFunc executes one request inside the worker process and returns the
// produced value plus the (possibly mutated) context snapshot to send back.
type ExecFunc func(ctx context.Context, request *Request) (value any, contextOut map[string]any, err error)

// Serve is the worker-side loop: it reads line-delimited requests from r,
// validates each envelope, executes it, and writes one response line to w.
// It returns when r reaches EOF, which is the parent's graceful-shutdown
// signal. cmd/forge-worker calls this from main.
func Serve(ctx context.Context, r io.Reader, w io.Writer, exec ExecFunc) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	encoder := json.NewEncoder(w)
	pid := os.Getpid()

	for scanner.Scan() {
		line := scanner.Bytes()
		if err := ValidateRequest(line); err != nil {
			if encodeErr := encoder.Encode(&Response{
				Status:       StatusError,
				ErrorType:    "invalid_request",
				ErrorMessage: err.Error(),
				WorkerPID:    pid,
			}); encodeErr != nil {
				return fmt.Errorf("write response: %w", encodeErr)
			}
			continue
		}
		var request Request
		if err := json.Unmarshal(line, &request); err != nil {
			// ValidateRequest already decoded this line; unreachable short
			// of a race on the underlying buffer.
			return fmt.Errorf("decode request: %w", err)
		}

		response := &Response{ID: request.ID, WorkerPID: pid}
		value, contextOut, err := exec(ctx, &request)
		if err != nil {
			response.Status = StatusError
			response.ErrorType = "execution_error"
			response.ErrorMessage = err.Error()
		} else {
			response.Status = StatusOK
			response.Value = value
		}
		response.Context = contextOut
		if err := encoder.Encode(response); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
	}
	return scanner.Err()
}
