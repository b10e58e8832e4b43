// Package walk implements hazard pointers, the hazard-coupled in-order
// tree walk, split-race restart, and the normalized-position encoding
// (spec §4.3).
package walk

import (
	"math"
	"sync"
	"sync/atomic"

	"govetachun/mvccbtree/internal/errs"
	"govetachun/mvccbtree/internal/wtpage"
)

// Registry tracks every live session so the split engine's safe-free
// protocol can compute the global minimum published split generation
// (spec §4.4 "Safe-free protocol", §5 "hazard pointers").
type Registry struct {
	mu       sync.Mutex
	sessions map[*Session]struct{}
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[*Session]struct{})}
}

// NewSession registers and returns a new reading session.
func (r *Registry) NewSession() *Session {
	s := &Session{reg: r, hazards: make(map[*wtpage.Page]int)}
	r.mu.Lock()
	r.sessions[s] = struct{}{}
	r.mu.Unlock()
	return s
}

// Close unregisters s; it must hold no hazard pointers.
func (r *Registry) Close(s *Session) {
	r.mu.Lock()
	delete(r.sessions, s)
	r.mu.Unlock()
}

// MinGeneration returns the minimum split generation any live session
// currently publishes as "in use", or math.MaxUint64 if no session is
// reading a generation-tracked structure (so the split engine may free
// everything outstanding).
func (r *Registry) MinGeneration() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	min := uint64(math.MaxUint64)
	for s := range r.sessions {
		if gen := s.Generation(); gen != 0 && gen < min {
			min = gen
		}
	}
	return min
}

// Session is a per-reader hazard-pointer holder: before dereferencing a
// ref's page, the session publishes the (ref, page) pair, then re-checks
// ref.State() to confirm it is still MEM (spec §5).
type Session struct {
	reg     *Registry
	mu      sync.Mutex
	hazards map[*wtpage.Page]int
	gen     atomic.Uint64
}

// Pin publishes a hazard pointer on p. Pins are refcounted because a
// walk may legitimately hold the same page pinned twice (e.g. parent and
// child sharing a page during a degenerate single-page tree).
func (s *Session) Pin(p *wtpage.Page) {
	if p == nil {
		return
	}
	s.mu.Lock()
	s.hazards[p]++
	s.mu.Unlock()
}

// Unpin retracts one hazard pointer on p.
func (s *Session) Unpin(p *wtpage.Page) {
	if p == nil {
		return
	}
	s.mu.Lock()
	if n := s.hazards[p]; n <= 1 {
		delete(s.hazards, p)
	} else {
		s.hazards[p] = n - 1
	}
	s.mu.Unlock()
}

// Holds reports whether the session currently publishes a hazard
// pointer naming p. Eviction and split must not free a page this
// reports true for (spec §8 invariant: "every reader holding a hazard
// pointer to page P, P remains allocated").
func (s *Session) Holds(p *wtpage.Page) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.hazards[p]
	return ok
}

// UnpinAll retracts every hazard pointer the session holds, used when a
// cursor releases its pinned leaf.
func (s *Session) UnpinAll() {
	s.mu.Lock()
	s.hazards = make(map[*wtpage.Page]int)
	s.mu.Unlock()
}

// PublishGeneration records the oldest split generation this session is
// currently reading through; ClearGeneration (generation 0) means "not
// reading any generation-tracked structure right now".
func (s *Session) PublishGeneration(gen uint64) { s.gen.Store(gen) }
func (s *Session) ClearGeneration()             { s.gen.Store(0) }
func (s *Session) Generation() uint64           { return s.gen.Load() }

// Couple publishes a hazard pointer on ref's page and verifies ref is
// still MEM and still names that page, hazard-pointer-coupling fashion:
// call Unpin on the previous page only after Couple succeeds on the
// next, so a page is never momentarily unguarded mid-descent.
func (s *Session) Couple(ref *wtpage.Ref) (*wtpage.Page, error) {
	p := ref.Page()
	if p == nil || ref.State() != wtpage.RefMem {
		return nil, errs.ErrRestart
	}
	s.Pin(p)
	if ref.State() != wtpage.RefMem || ref.Page() != p {
		s.Unpin(p)
		return nil, errs.ErrRestart
	}
	return p, nil
}
