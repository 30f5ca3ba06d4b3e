package sandbox

import (
	"maps"
	"sync"
)

// Memory is the committed shared state for one role. It outlives any
// single invocation and may be touched by concurrent invocations, so every
// access goes through its lock.
type Memory struct {
	mutex sync.Mutex
	data  map[string]any
}

// NewMemory creates an empty committed store.
func NewMemory() *Memory {
	return &Memory{data: map[string]any{}}
}

// Snapshot returns a copy of the committed state.
func (m *Memory) Snapshot() map[string]any {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	snapshot := make(map[string]any, len(m.data))
	maps.Copy(snapshot, m.data)
	return snapshot
}

func (m *Memory) apply(pending map[string]any, deleted map[string]bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	for key := range deleted {
		delete(m.data, key)
	}
	maps.Copy(m.data, pending)
}

// StateBuffer gives an attempt a writable view over a role's committed
// Memory without touching it. The buffer captures a baseline snapshot at
// construction; writes land in a pending overlay and reach the Memory only
// on Commit. Discard throws the overlay away so a retried attempt starts
// from the baseline again.
type StateBuffer struct {
	memory   *Memory
	mutex    sync.Mutex
	baseline map[string]any
	pending  map[string]any
	deleted  map[string]bool
}

// NewStateBuffer snapshots the committed Memory for one attempt. A nil
// memory gets a fresh empty store.
func NewStateBuffer(memory *Memory) *StateBuffer {
	if memory == nil {
		memory = NewMemory()
	}
	return &StateBuffer{
		memory:   memory,
		baseline: memory.Snapshot(),
		pending:  map[string]any{},
		deleted:  map[string]bool{},
	}
}

// Get reads through the pending overlay into the baseline snapshot.
func (b *StateBuffer) Get(key string) (any, bool) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if b.deleted[key] {
		return nil, false
	}
	if value, ok := b.pending[key]; ok {
		return value, true
	}
	value, ok := b.baseline[key]
	return value, ok
}

// Set buffers a write.
func (b *StateBuffer) Set(key string, value any) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	delete(b.deleted, key)
	b.pending[key] = value
}

// Delete buffers a removal.
func (b *StateBuffer) Delete(key string) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	delete(b.pending, key)
	b.deleted[key] = true
}

// Snapshot returns the merged view as a plain map, for crossing a worker
// boundary.
func (b *StateBuffer) Snapshot() map[string]any {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	snapshot := map[string]any{}
	maps.Copy(snapshot, b.baseline)
	maps.Copy(snapshot, b.pending)
	for key := range b.deleted {
		delete(snapshot, key)
	}
	return snapshot
}

// Baseline returns a copy of the committed state as it stood when the
// attempt began.
func (b *StateBuffer) Baseline() map[string]any {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	baseline := make(map[string]any, len(b.baseline))
	maps.Copy(baseline, b.baseline)
	return baseline
}

// Replace overwrites the pending overlay with the given map, treating it
// as the attempt's full view. Used to absorb a worker's returned context.
func (b *StateBuffer) Replace(view map[string]any) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.pending = map[string]any{}
	b.deleted = map[string]bool{}
	for key, value := range view {
		b.pending[key] = value
	}
	for key := range b.baseline {
		if _, ok := view[key]; !ok {
			b.deleted[key] = true
		}
	}
}

// Commit applies buffered writes to the committed Memory under its lock
// and clears the overlay. Called exactly once, when the attempt is
// declared final.
func (b *StateBuffer) Commit() {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.memory.apply(b.pending, b.deleted)
	b.pending = map[string]any{}
	b.deleted = map[string]bool{}
}

// Discard drops all buffered writes.
func (b *StateBuffer) Discard() {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.pending = map[string]any{}
	b.deleted = map[string]bool{}
}
