// Package sink stores accepted repositories.
//
// Writes are idempotent upserts keyed by repository id. A row is only
// overwritten by data seen at the same time or later, so replaying an
// older observation never regresses a fresher one.
package sink

import (
	"context"
	"sort"
	"sync"

	"github.com/Sternrassler/repo-harvester/pkg/model"
)

// Sink receives accepted repositories.
type Sink interface {
	Upsert(ctx context.Context, repo model.Repository) error
}

// Reader iterates over stored repositories in id order.
type Reader interface {
	Each(ctx context.Context, fn func(model.Repository) error) error
}

// Memory is an in-process Sink and Reader.
type Memory struct {
	mu    sync.Mutex
	rows  map[string]model.Repository
	fail  func(model.Repository) error
	calls int
}

// NewMemory creates an empty in-memory sink.
func NewMemory() *Memory {
	return &Memory{rows: make(map[string]model.Repository)}
}

// FailWith makes Upsert return fn's error for the repositories it rejects.
// A nil fn restores normal operation.
func (m *Memory) FailWith(fn func(model.Repository) error) {
	m.mu.Lock()
	m.fail = fn
	m.mu.Unlock()
}

// Upsert implements Sink.
func (m *Memory) Upsert(_ context.Context, repo model.Repository) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.fail != nil {
		if err := m.fail(repo); err != nil {
			upsertsTotal.WithLabelValues("error").Inc()
			return err
		}
	}

	if cur, ok := m.rows[repo.ID]; ok && cur.SeenAt.After(repo.SeenAt) {
		upsertsTotal.WithLabelValues("stale").Inc()
		return nil
	}
	m.rows[repo.ID] = repo
	upsertsTotal.WithLabelValues("ok").Inc()
	return nil
}

// Each implements Reader.
func (m *Memory) Each(ctx context.Context, fn func(model.Repository) error) error {
	m.mu.Lock()
	rows := make([]model.Repository, 0, len(m.rows))
	for _, r := range m.rows {
		rows = append(rows, r)
	}
	m.mu.Unlock()

	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })
	for _, r := range rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the stored row for id.
func (m *Memory) Get(id string) (model.Repository, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	return r, ok
}

// Len returns the number of stored rows.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

// Calls returns how many times Upsert was called.
func (m *Memory) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
