// Package environment materializes isolated runtime environments for
// dependency-bearing programs. Environments are cached by manifest
// identity: one directory per distinct normalized manifest.
package environment

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/deepnoodle-ai/forge/deps"
	"github.com/deepnoodle-ai/forge/internal/fsx"
	"github.com/deepnoodle-ai/forge/slogger"
)

// Handle identifies a materialized environment.
type Handle struct {
	ID              string        `json:"id"`
	Dir             string        `json:"dir"`
	CacheHit        bool          `json:"cache_hit"`
	PrepareDuration time.Duration `json:"prepare_duration"`
}

// Installer installs a manifest's dependencies into dir. Implementations
// typically shell out to a package manager. A nil Installer writes the
// manifest file only, which is enough for tests and for runtimes that
// resolve dependencies lazily.
type Installer func(ctx context.Context, dir string, manifest deps.Manifest) error

// Manager materializes and caches environments under a root directory.
type Manager struct {
	root      string
	installer Installer
	mutex     sync.Mutex
	handles   map[string]*Handle
}

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	Root      string
	Installer Installer
}

// NewManager creates a Manager rooted at opts.Root.
func NewManager(opts ManagerOptions) (*Manager, error) {
	if opts.Root == "" {
		return nil, fmt.Errorf("environment root is required")
	}
	if err := os.MkdirAll(opts.Root, 0o755); err != nil {
		return nil, fmt.Errorf("create environment root: %w", err)
	}
	return &Manager{
		root:      opts.Root,
		installer: opts.Installer,
		handles:   map[string]*Handle{},
	}, nil
}

// Materialize returns the environment for the manifest, creating it on
// first use. Repeated calls with an equal manifest return a cache hit and
// never reinstall.
func (m *Manager) Materialize(ctx context.Context, manifest deps.Manifest) (*Handle, error) {
	id := manifest.ID()

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if handle, ok := m.handles[id]; ok {
		hit := *handle
		hit.CacheHit = true
		return &hit, nil
	}

	dir := filepath.Join(m.root, id)
	start := time.Now()

	// A directory left by a previous process counts as a cache hit once
	// its manifest file matches.
	if m.manifestOnDisk(dir, manifest) {
		handle := &Handle{ID: id, Dir: dir, CacheHit: true}
		m.handles[id] = handle
		return handle, nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create environment dir: %w", err)
	}
	encoded, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	if err := fsx.AtomicWriteFile(filepath.Join(dir, "manifest.json"), encoded, 0o644); err != nil {
		return nil, fmt.Errorf("write manifest: %w", err)
	}
	if m.installer != nil {
		if err := m.installer(ctx, dir, manifest); err != nil {
			return nil, fmt.Errorf("install dependencies: %w", err)
		}
	}

	handle := &Handle{ID: id, Dir: dir, PrepareDuration: time.Since(start)}
	m.handles[id] = handle
	slogger.Ctx(ctx).Debug("environment materialized",
		"env_id", id, "dependencies", manifest.Names(), "duration", handle.PrepareDuration)
	return handle, nil
}

func (m *Manager) manifestOnDisk(dir string, manifest deps.Manifest) bool {
	data, err := os.ReadFile(filepath.Join(dir, "manifest.json"))
	if err != nil {
		return false
	}
	var onDisk deps.Manifest
	if err := json.Unmarshal(data, &onDisk); err != nil {
		return false
	}
	return onDisk.ID() == manifest.ID()
}
