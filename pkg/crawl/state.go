package crawl

import (
	"sort"
	"sync"

	"github.com/Sternrassler/repo-harvester/pkg/model"
)

// state is the mutable progress of one run. Only the engine touches it.
type state struct {
	mu sync.Mutex

	// settled is signalled whenever an in-flight write commits or is
	// released.
	settled *sync.Cond

	target int

	// reserved counts slots taken by committed and in-flight writes;
	// accepted counts committed writes only.
	reserved int
	accepted int

	chunks map[int]*model.Chunk

	pages      int
	duplicates int
	skipped    int
}

func newState(target int) *state {
	s := &state{
		target: target,
		chunks: make(map[int]*model.Chunk),
	}
	s.settled = sync.NewCond(&s.mu)
	return s
}

// add registers a chunk handed to a worker.
func (s *state) add(c model.Chunk) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chunks[c.ID]; ok {
		return
	}
	s.chunks[c.ID] = &c
}

// claim moves a chunk from Pending to InProgress. It reports false when
// the chunk is in any other state.
func (s *state) claim(id int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chunks[id]
	if !ok || c.Status != model.StatusPending {
		return false
	}
	c.Status = model.StatusInProgress
	return true
}

func (s *state) finish(id int, status model.Status, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.chunks[id]; ok {
		c.Status = status
		c.Err = err
	}
}

// reserve takes one slot for a write. While every free slot is held by
// an in-flight write it waits for one of them to settle, since a failed
// write gives its slot back. It reports false once the target is met.
func (s *state) reserve() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.reserved >= s.target && s.accepted < s.target {
		s.settled.Wait()
	}
	if s.reserved >= s.target {
		return false
	}
	s.reserved++
	return true
}

// commit records a successful write on a reserved slot. reached is true
// for the write that meets the target.
func (s *state) commit() (n int, reached bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accepted++
	s.settled.Broadcast()
	return s.accepted, s.accepted == s.target
}

// release gives back a slot whose write failed.
func (s *state) release() {
	s.mu.Lock()
	s.reserved--
	s.settled.Broadcast()
	s.mu.Unlock()
}

func (s *state) done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted >= s.target
}

func (s *state) notePage(p model.Page) {
	s.mu.Lock()
	s.pages++
	s.skipped += p.Skipped
	s.mu.Unlock()
}

func (s *state) noteDuplicate() {
	s.mu.Lock()
	s.duplicates++
	s.mu.Unlock()
}

func (s *state) report() *Report {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := &Report{
		Target:     s.target,
		Accepted:   s.accepted,
		Pages:      s.pages,
		Duplicates: s.duplicates,
		Skipped:    s.skipped,
		Chunks:     make([]model.Chunk, 0, len(s.chunks)),
	}
	for _, c := range s.chunks {
		r.Chunks = append(r.Chunks, *c)
	}
	sort.Slice(r.Chunks, func(i, j int) bool { return r.Chunks[i].ID < r.Chunks[j].ID })
	return r
}
