// Package split implements the split engine (spec §4.4): the five split
// triggers, the three-phase error discipline every split function obeys,
// key promotion by suffix truncation, and the safe-free protocol that
// reclaims a replaced child-index once no session can still be reading
// through it.
package split

import (
	"sync"
	"sync/atomic"

	"govetachun/mvccbtree/internal/errs"
	"govetachun/mvccbtree/internal/walk"
	"govetachun/mvccbtree/internal/wtpage"
)

// Phase is the three-phase error-handling state machine every split
// function moves through (spec §4.4, "Three-phase error discipline").
// Representing it as a value -- rather than scattering ad hoc error
// handling -- is the design note §9 calls out explicitly.
type Phase int

const (
	// PhaseReturn: before any published change. On error, free newly
	// allocated structures and return the error; the tree is unchanged.
	PhaseReturn Phase = iota
	// PhasePanic: after the first structural publication. An error here
	// means the tree is partially inconsistent; there is no safe local
	// recovery.
	PhasePanic
	// PhaseIgnore: after the split is fully published and verified.
	// Errors from cleanup (stashing old indexes, memory accounting) are
	// dropped: fail returns nil without logging them, and the split still
	// stands.
	PhaseIgnore
)

// fail reports err according to phase.
func fail(phase Phase, err error) error {
	if err == nil {
		return nil
	}
	switch phase {
	case PhaseReturn:
		return err
	case PhasePanic:
		return errs.Wrap(errs.KindPanic, "split: fatal error after publication point", err)
	default: // PhaseIgnore
		return nil
	}
}

// PromoteKey returns the shortest prefix of firstRight that sorts after
// lastLeft (suffix truncation, spec §4.4 "Key promotion"). The result is
// strictly below firstRight only when such a proper prefix exists;
// otherwise it is firstRight itself (e.g. "k498"/"k499" gives "k499").
// Callers must ensure lastLeft < firstRight; when lastLeft
// is nil (the left page's bound is not yet known, e.g. it is the very
// first page in the tree) firstRight is returned unchanged, since there
// is no shorter safe prefix to compute against.
func PromoteKey(lastLeft, firstRight []byte) []byte {
	if lastLeft == nil {
		return append([]byte(nil), firstRight...)
	}
	n := len(lastLeft)
	if len(firstRight) < n {
		n = len(firstRight)
	}
	i := 0
	for i < n && lastLeft[i] == firstRight[i] {
		i++
	}
	if i >= len(firstRight) {
		// firstRight is a prefix of lastLeft; should not happen for a
		// valid (lastLeft < firstRight) pair, but stay correct.
		return append([]byte(nil), firstRight...)
	}
	return append([]byte(nil), firstRight[:i+1]...)
}

type stashed struct {
	gen  uint64
	free func()
}

// Engine owns the monotonic split-generation counter and the safe-free
// stash shared by every split trigger (spec §4.4). One Engine is shared
// by every btree using the same walk.Registry, since the safe-free
// protocol's "global minimum" must be computed across every live
// session regardless of which tree it is reading.
type Engine struct {
	reg *walk.Registry
	gen atomic.Uint64

	mu    sync.Mutex
	stash []stashed
}

// NewEngine returns a split engine whose safe-free protocol consults
// reg's published per-session generations.
func NewEngine(reg *walk.Registry) *Engine {
	return &Engine{reg: reg}
}

func (e *Engine) nextGeneration() uint64 { return e.gen.Add(1) }

// SafeFree runs free immediately if exclusive is set or the registry's
// current global minimum published generation already exceeds gen;
// otherwise it defers free until a later Reclaim call observes that
// (spec §4.4, "Safe-free protocol").
func (e *Engine) SafeFree(gen uint64, exclusive bool, free func()) {
	if exclusive || e.reg.MinGeneration() > gen {
		free()
		return
	}
	e.mu.Lock()
	e.stash = append(e.stash, stashed{gen: gen, free: free})
	e.mu.Unlock()
}

// Reclaim runs every stashed free whose generation is now provably
// unreferenced by any live session. Idempotent; safe to call after every
// split or on an idle maintenance loop.
func (e *Engine) Reclaim() {
	min := e.reg.MinGeneration()
	e.mu.Lock()
	defer e.mu.Unlock()
	kept := e.stash[:0]
	for _, s := range e.stash {
		if s.gen < min {
			s.free()
		} else {
			kept = append(kept, s)
		}
	}
	e.stash = kept
}

// Pending reports how many safe-free entries are still deferred,
// observable by tests and maintenance-loop metrics.
func (e *Engine) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.stash)
}

// replaceChildren implements spec §4.4's allocation/rewiring steps 1-6:
// build parent's new child-index with oldRefs replaced by newRefs
// (oldRefs must form one contiguous run in the current index), home each
// new ref onto parent while holding parent's lock (step 3; the new refs
// themselves are not locked), publish the new index (step
// 4; PhasePanic begins here), stamp a new split generation (step 5), and
// schedule the discarded index for safe-free (step 6).
func (e *Engine) replaceChildren(parent *wtpage.Page, oldRefs []*wtpage.Ref, newRefs []*wtpage.Ref) error {
	parent.Mu.Lock()
	defer parent.Mu.Unlock()

	oldIdx := parent.Index()
	oldSet := make(map[*wtpage.Ref]bool, len(oldRefs))
	for _, r := range oldRefs {
		oldSet[r] = true
	}

	next := make([]*wtpage.Ref, 0, len(oldIdx.Refs)-len(oldRefs)+len(newRefs))
	inserted := false
	for _, r := range oldIdx.Refs {
		if oldSet[r] {
			if !inserted {
				next = append(next, newRefs...)
				inserted = true
			}
			continue
		}
		next = append(next, r)
	}
	if !inserted {
		return fail(PhaseReturn, errs.Wrap(errs.KindInvalid, "split: old refs not found in parent's child-index", nil))
	}

	// Step 3: home + pindex hint for every new ref, still pre-publication.
	for _, r := range newRefs {
		r.SetHome(parent)
	}
	for i, r := range next {
		r.SetPindexHint(i)
	}

	// Step 4: publish. Past this point a failure would be PhasePanic, but
	// nothing below can fail.
	parent.SetIndex(&wtpage.ChildIndex{Refs: next})
	for _, r := range oldRefs {
		r.SetState(wtpage.RefSplit)
	}

	// Step 5.
	gen := e.nextGeneration()
	parent.SetGeneration(gen)

	// Step 6, PhaseIgnore: this implementation's cleanup cannot itself
	// fail, but it still routes through SafeFree rather than freeing
	// immediately, per the discipline.
	e.SafeFree(gen, false, func() { _ = oldIdx })

	return nil
}

func lastKeyOfPage(page *wtpage.Page) []byte {
	if page.Type != wtpage.PageLeafRow {
		return nil
	}
	if tail := page.InsertList(page.NSlots()).Last(); tail != nil {
		return tail.Key
	}
	if n := page.NSlots(); n > 0 {
		return page.Slot(n - 1).Key
	}
	return nil
}
