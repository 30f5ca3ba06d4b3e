package artifact

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/deepnoodle-ai/forge/internal/fsx"
	"github.com/deepnoodle-ai/forge/slogger"
)

// Store is a file-backed artifact store: one JSON record per role+method
// pair. It is injected where needed, initialized explicitly with Open, and
// flushed explicitly; there is no implicit global.
//
// Writes are atomic (temp file + rename). Concurrent writers are resolved
// optimistically: if the on-disk checksum moved since our read, counters
// accept last-writer-wins rather than locking across processes.
type Store struct {
	dir    string
	logger slogger.Logger

	mutex sync.Mutex
	cache map[string]*Artifact
	// checksum observed at load time, per key, for the optimistic
	// concurrent-writer comparison
	loaded map[string]string
}

// StoreOptions configures a Store.
type StoreOptions struct {
	Dir    string
	Logger slogger.Logger
}

// Open initializes a store rooted at opts.Dir, creating the directory if
// needed.
func Open(opts StoreOptions) (*Store, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("artifact store dir is required")
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slogger.DefaultLogger
	}
	return &Store{
		dir:    opts.Dir,
		logger: logger,
		cache:  map[string]*Artifact{},
		loaded: map[string]string{},
	}, nil
}

func (s *Store) path(role, method string) string {
	name := sanitize(role) + "." + sanitize(method) + ".json"
	return filepath.Join(s.dir, name)
}

func sanitize(part string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, part)
}

// Get returns the artifact for the pair, loading it from disk on first
// access. A missing file returns (nil, nil). A corrupted file is
// quarantined with a timestamped suffix and reported as a miss.
func (s *Store) Get(role, method string) (*Artifact, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	key := role + "." + method
	if artifact, ok := s.cache[key]; ok {
		return artifact, nil
	}
	path := s.path(role, method)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read artifact %s: %w", key, err)
	}
	var artifact Artifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		quarantined, qerr := fsx.Quarantine(path)
		if qerr != nil {
			return nil, fmt.Errorf("quarantine corrupt artifact %s: %w", key, qerr)
		}
		s.logger.Warn("corrupt artifact quarantined", "key", key, "path", quarantined)
		return nil, nil
	}
	s.cache[key] = &artifact
	s.loaded[key] = artifact.Checksum
	return &artifact, nil
}

// Put persists the artifact atomically and caches it.
func (s *Store) Put(artifact *Artifact) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.putLocked(artifact)
}

func (s *Store) putLocked(artifact *Artifact) error {
	key := artifact.Key()
	path := s.path(artifact.Role, artifact.Method)

	// Optimistic comparison: note when another writer moved the record
	// since our read. Counters accept last-writer-wins.
	if onDisk, err := os.ReadFile(path); err == nil {
		var existing Artifact
		if json.Unmarshal(onDisk, &existing) == nil {
			if loadedChecksum, ok := s.loaded[key]; ok && existing.Checksum != loadedChecksum {
				s.logger.Debug("artifact changed concurrently, overwriting",
					"key", key, "theirs", existing.Checksum, "ours", artifact.Checksum)
			}
		}
	}

	data, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return fmt.Errorf("encode artifact %s: %w", key, err)
	}
	if err := fsx.AtomicWriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write artifact %s: %w", key, err)
	}
	s.cache[key] = artifact
	s.loaded[key] = artifact.Checksum
	return nil
}

// Flush rewrites every cached artifact to disk.
func (s *Store) Flush() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for _, artifact := range s.cache {
		if err := s.putLocked(artifact); err != nil {
			return err
		}
	}
	return nil
}
