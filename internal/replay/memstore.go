package replay

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store for tests and dry experiments.
//
// State is keyed by (kind, key), so re-applying a command replaces rather
// than duplicates. Failures are scripted per key: RejectKey makes one
// command invalid, PoisonOn makes a command corrupt the store so that it and
// every later call fail as poisoned.
type MemoryStore struct {
	mu       sync.Mutex
	state    map[string]Command
	calls    []string
	rejects  map[string]string
	poisons  map[string]string
	poisoned *StoreError
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		state:   make(map[string]Command),
		rejects: make(map[string]string),
		poisons: make(map[string]string),
	}
}

// RejectKey makes commands with key fail as rejected with msg.
func (m *MemoryStore) RejectKey(key, msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejects[key] = msg
}

// PoisonOn makes the command with key persist invalid state at instancePath.
func (m *MemoryStore) PoisonOn(key, instancePath string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.poisons[key] = instancePath
}

// Apply implements Store.
func (m *MemoryStore) Apply(ctx context.Context, cmd Command) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	m.calls = append(m.calls, cmd.ID)

	if m.poisoned != nil {
		return m.poisoned
	}
	if msg, ok := m.rejects[cmd.Key]; ok {
		return NewRejected("%s", msg)
	}
	m.state[string(cmd.Kind)+"|"+cmd.Key] = cmd
	if path, ok := m.poisons[cmd.Key]; ok {
		m.poisoned = NewPoisoned(path, "persisted state failed validation")
		return m.poisoned
	}
	return nil
}

// Validate implements Validator.
func (m *MemoryStore) Validate(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.poisoned != nil {
		return m.poisoned
	}
	return ctx.Err()
}

// Calls returns the IDs of every command passed to Apply, in order.
func (m *MemoryStore) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// Len returns the number of distinct entities held.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.state)
}
