// Package dedup records which entity ids a crawl has already accepted.
//
// Chunk boundaries may overlap when the remote index changes between
// queries, so the same repository can arrive from two chunks. Accept is
// an atomic check-and-insert: for any id, exactly one caller sees true.
package dedup

import (
	"context"
	"sync"
)

// Set is the accepted-id set shared by all crawl workers.
type Set interface {
	// Accept records id and returns true the first time id is seen.
	Accept(ctx context.Context, id string) (bool, error)

	// Forget releases id so a later Accept can take it again. Used when
	// the write for an accepted id failed.
	Forget(ctx context.Context, id string) error

	// Len returns the number of accepted ids.
	Len(ctx context.Context) (int, error)
}

// Memory is an in-process Set.
type Memory struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewMemory creates an empty in-memory set.
func NewMemory() *Memory {
	return &Memory{seen: make(map[string]struct{})}
}

// Accept implements Set.
func (m *Memory) Accept(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.seen[id]; ok {
		duplicatesTotal.Inc()
		return false, nil
	}
	m.seen[id] = struct{}{}
	return true, nil
}

// Forget implements Set.
func (m *Memory) Forget(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.seen, id)
	m.mu.Unlock()
	return nil
}

// Len implements Set.
func (m *Memory) Len(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.seen), nil
}
