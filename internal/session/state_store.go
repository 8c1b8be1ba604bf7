// Package session provides storage backends for the transient OAuth2
// exchange state.
package session

import (
	"context"
	"sync"
	"time"
)

// StateRecord is what we remember between issuing the authorize redirect
// and handling the provider callback.
type StateRecord struct {
	ReturnTo  string    `json:"return_to"`
	CreatedAt time.Time `json:"created_at"`
}

// StateStore stores exchange state records under their CSRF state value.
// Take removes the record so a state can only be redeemed once.
type StateStore interface {
	Save(ctx context.Context, state string, record StateRecord) error
	Take(ctx context.Context, state string) (StateRecord, bool, error)
	Ping(ctx context.Context) error
	Close() error
}

// MemoryStore keeps exchange state in-process. Suitable for single-node
// deployments and tests; records expire after the configured TTL.
type MemoryStore struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	records map[string]StateRecord
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl:     ttl,
		now:     time.Now,
		records: make(map[string]StateRecord),
	}
}

func (s *MemoryStore) Save(_ context.Context, state string, record StateRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[state] = record
	return nil
}

func (s *MemoryStore) Take(_ context.Context, state string) (StateRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[state]
	if !ok {
		return StateRecord{}, false, nil
	}
	delete(s.records, state)
	if s.now().Sub(record.CreatedAt) > s.ttl {
		return StateRecord{}, false, nil
	}
	return record, true, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
