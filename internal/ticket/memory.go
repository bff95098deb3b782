package ticket

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	payload []byte
	expires time.Time
}

// MemoryStore is a process-local ticket.Store for single-node deployments
// and tests. A sync.Mutex guards the map so TicketTakeAndDelete's
// read-then-delete is atomic, the way the Redis backend's GETDEL is.
type MemoryStore struct {
	mu      sync.Mutex
	tickets map[string]memoryEntry
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tickets: make(map[string]memoryEntry)}
}

func (m *MemoryStore) TicketPut(_ context.Context, token string, payload []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tickets[token] = memoryEntry{payload: payload, expires: time.Now().Add(ttl)}
	return nil
}

func (m *MemoryStore) TicketTakeAndDelete(_ context.Context, token string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.tickets[token]
	delete(m.tickets, token)
	if !ok || entry.expires.Before(time.Now()) {
		return nil, false, nil
	}
	return entry.payload, true, nil
}
