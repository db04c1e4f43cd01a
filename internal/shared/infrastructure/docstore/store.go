package docstore

import (
	"context"
	"sync"
)

// Store is one physical backend holding named collections of records.
type Store interface {
	// Name identifies the backend in status, logs and metrics.
	Name() string

	// ReadCollection returns the records of a collection in insertion order.
	// A collection that was never written is empty, not an error.
	ReadCollection(ctx context.Context, collection string) ([]Record, error)

	// WriteCollection atomically replaces the collection with records.
	WriteCollection(ctx context.Context, collection string, records []Record) error

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	Close() error
}

// keyedMutex hands out one mutex per collection name.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
