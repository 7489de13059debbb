package breaker

import (
	"context"
	"sync"
	"time"
)

// Status is the gate position of a breaker.
type Status string

const (
	StatusClosed   Status = "CLOSED"
	StatusOpen     Status = "OPEN"
	StatusHalfOpen Status = "HALF_OPEN"
)

// State is the shared breaker record for one provider. Version increases by
// one on every successful CompareAndSet and is what the swap compares.
type State struct {
	Provider            string     `json:"provider"`
	Status              Status     `json:"state"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	OpenedAt            *time.Time `json:"opened_at,omitempty"`
	ProbeStartedAt      *time.Time `json:"probe_started_at,omitempty"`
	Version             int64      `json:"version"`
}

// Closed returns the initial state of a provider that has no stored record.
func Closed(provider string) State {
	return State{Provider: provider, Status: StatusClosed}
}

// Store holds breaker state where every worker process can see it.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the current state, or Closed(provider) when none is stored.
	Get(ctx context.Context, provider string) (State, error)
	// CompareAndSet stores next only if the stored version still equals
	// expected.Version. The stored version becomes expected.Version+1.
	CompareAndSet(ctx context.Context, provider string, expected, next State) (bool, error)
}

// MemoryStore is a Store for a single process and for tests.
type MemoryStore struct {
	mu     sync.Mutex
	states map[string]State
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]State)}
}

func (m *MemoryStore) Get(_ context.Context, provider string) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.states[provider]; ok {
		return st, nil
	}
	return Closed(provider), nil
}

func (m *MemoryStore) CompareAndSet(_ context.Context, provider string, expected, next State) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current := m.states[provider].Version
	if current != expected.Version {
		return false, nil
	}
	next.Provider = provider
	next.Version = expected.Version + 1
	m.states[provider] = next
	return true, nil
}

// Compile-time check that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
