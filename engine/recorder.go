package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/deepnoodle-ai/forge"
)

// InvocationRecord is the single structured observability record emitted
// per logical invocation.
type InvocationRecord struct {
	TraceID      string                `json:"trace_id"`
	ParentCallID string                `json:"parent_call_id,omitempty"`
	Role         string                `json:"role"`
	Method       string                `json:"method"`
	Depth        int                   `json:"depth"`
	SessionID    string                `json:"session_id,omitempty"`
	Status       string                `json:"status"`
	ErrorClass   string                `json:"error_class,omitempty"`
	ErrorMessage string                `json:"error_message,omitempty"`
	Attempts     int                   `json:"attempts"`
	StageCounts  map[forge.Stage]int   `json:"stage_counts,omitempty"`
	Failures     []forge.StageFailure  `json:"failures,omitempty"`
	Code         string                `json:"code,omitempty"`
	Origin       string                `json:"origin,omitempty"`
	Checksum     string                `json:"checksum,omitempty"`
	Lifecycle    string                `json:"lifecycle,omitempty"`
	ElapsedMS    int64                 `json:"elapsed_ms"`
}

// Recorder receives one record per invocation.
type Recorder interface {
	Record(record *InvocationRecord) error
}

// NullRecorder discards records.
type NullRecorder struct{}

func (r *NullRecorder) Record(record *InvocationRecord) error { return nil }

// JSONLRecorder appends one JSON line per record to a file.
type JSONLRecorder struct {
	mutex sync.Mutex
	file  *os.File
}

// NewJSONLRecorder opens (or creates) the record file in append mode.
func NewJSONLRecorder(path string) (*JSONLRecorder, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create record dir: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open record file: %w", err)
	}
	return &JSONLRecorder{file: file}, nil
}

func (r *JSONLRecorder) Record(record *InvocationRecord) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	encoded, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	if _, err := r.file.Write(append(encoded, '\n')); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}

// Close closes the underlying file.
func (r *JSONLRecorder) Close() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.file.Close()
}
