package docstore

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store with failure injection, used as a test
// double for either backend.
type MemoryStore struct {
	name string

	mu          sync.RWMutex
	collections map[string][]Record
	readErr     error
	writeErr    error
	delay       time.Duration
	calls       int
}

// NewMemoryStore creates an empty store reporting the given backend name.
func NewMemoryStore(name string) *MemoryStore {
	return &MemoryStore{
		name:        name,
		collections: make(map[string][]Record),
	}
}

// Name returns the backend name.
func (s *MemoryStore) Name() string {
	return s.name
}

// ReadCollection returns a copy of the collection.
func (s *MemoryStore) ReadCollection(ctx context.Context, collection string) ([]Record, error) {
	if err := s.enter(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.readErr != nil {
		return nil, s.readErr
	}
	return cloneRecords(s.collections[collection]), nil
}

// WriteCollection replaces the collection with a copy of records.
func (s *MemoryStore) WriteCollection(ctx context.Context, collection string, records []Record) error {
	if err := s.enter(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	s.collections[collection] = cloneRecords(records)
	return nil
}

// Ping fails while any failure is injected.
func (s *MemoryStore) Ping(ctx context.Context) error {
	if err := s.enter(ctx); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.readErr != nil {
		return s.readErr
	}
	return s.writeErr
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}

// FailReads makes subsequent reads return err.
func (s *MemoryStore) FailReads(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readErr = err
}

// FailWrites makes subsequent writes return err.
func (s *MemoryStore) FailWrites(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeErr = err
}

// Fail makes every operation return err.
func (s *MemoryStore) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readErr = err
	s.writeErr = err
}

// Recover clears injected failures and delays.
func (s *MemoryStore) Recover() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readErr = nil
	s.writeErr = nil
	s.delay = 0
}

// Delay makes every operation wait d before running, or until ctx is done.
func (s *MemoryStore) Delay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

// Calls returns how many operations reached the store.
func (s *MemoryStore) Calls() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls
}

// Seed replaces a collection without counting as a call.
func (s *MemoryStore) Seed(collection string, records []Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collections[collection] = cloneRecords(records)
}

// Snapshot returns a copy of a collection without counting as a call.
func (s *MemoryStore) Snapshot(collection string) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneRecords(s.collections[collection])
}

func (s *MemoryStore) enter(ctx context.Context) error {
	s.mu.Lock()
	s.calls++
	delay := s.delay
	s.mu.Unlock()

	if delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
