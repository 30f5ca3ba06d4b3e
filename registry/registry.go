// Package registry maintains the tool registry file: one record per tool
// name with purpose, methods, usage counters and lifecycle metadata. Like
// the artifact store it is injected, opened explicitly and flushed
// explicitly, and quarantines a corrupted file rather than failing.
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/deepnoodle-ai/forge/internal/fsx"
	"github.com/deepnoodle-ai/forge/slogger"
)

// Tool is one registry record.
type Tool struct {
	Name         string         `json:"name"`
	Purpose      string         `json:"purpose,omitempty"`
	Methods      []string       `json:"methods,omitempty"`
	UsageCount   int            `json:"usage_count"`
	SuccessCount int            `json:"success_count"`
	FailureCount int            `json:"failure_count"`
	LastUsedAt   time.Time      `json:"last_used_at,omitempty"`
	Lifecycle    map[string]any `json:"lifecycle,omitempty"`
}

// Registry is the file-backed tool registry.
type Registry struct {
	path   string
	logger slogger.Logger

	mutex sync.Mutex
	tools map[string]*Tool
	dirty bool
}

// Options configures a Registry.
type Options struct {
	Path   string
	Logger slogger.Logger
}

// Open loads the registry file, creating an empty registry when the file
// does not exist and quarantining it when it cannot be parsed.
func Open(opts Options) (*Registry, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("registry path is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slogger.DefaultLogger
	}
	r := &Registry{path: opts.Path, logger: logger, tools: map[string]*Tool{}}

	data, err := os.ReadFile(opts.Path)
	if os.IsNotExist(err) {
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}
	if err := json.Unmarshal(data, &r.tools); err != nil {
		quarantined, qerr := fsx.Quarantine(opts.Path)
		if qerr != nil {
			return nil, fmt.Errorf("quarantine corrupt registry: %w", qerr)
		}
		logger.Warn("corrupt registry quarantined", "path", quarantined)
		r.tools = map[string]*Tool{}
	}
	return r, nil
}

// Get returns the named tool, if registered.
func (r *Registry) Get(name string) (*Tool, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Register creates or updates a tool's descriptive fields, preserving its
// counters.
func (r *Registry) Register(name, purpose string, methods []string) *Tool {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	tool, ok := r.tools[name]
	if !ok {
		tool = &Tool{Name: name}
		r.tools[name] = tool
	}
	tool.Purpose = purpose
	tool.Methods = methods
	r.dirty = true
	return tool
}

// RecordUse bumps a tool's counters after one invocation. Unregistered
// tools are created on first use.
func (r *Registry) RecordUse(name, method string, success bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	tool, ok := r.tools[name]
	if !ok {
		tool = &Tool{Name: name}
		r.tools[name] = tool
	}
	tool.UsageCount++
	if success {
		tool.SuccessCount++
	} else {
		tool.FailureCount++
	}
	tool.LastUsedAt = time.Now().UTC()
	if method != "" && !contains(tool.Methods, method) {
		tool.Methods = append(tool.Methods, method)
	}
	r.dirty = true
}

// Flush writes the registry atomically when it changed since the last
// flush.
func (r *Registry) Flush() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if !r.dirty {
		return nil
	}
	data, err := json.MarshalIndent(r.tools, "", "  ")
	if err != nil {
		return fmt.Errorf("encode registry: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("create registry dir: %w", err)
	}
	if err := fsx.AtomicWriteFile(r.path, data, 0o644); err != nil {
		return fmt.Errorf("write registry: %w", err)
	}
	r.dirty = false
	return nil
}

func contains(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}
