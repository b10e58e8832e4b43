package walk

import (
	"govetachun/mvccbtree/internal/errs"
	"govetachun/mvccbtree/internal/wtpage"
)

// Flags parameterizes a walk (spec §4.3, "Skip policies").
type Flags struct {
	SkipDeleted bool
	SkipInternal bool
	SeeDeleted  bool // expose DELETED refs, for RTS
	NoWait      bool // yield instead of waiting for LOCKED refs
}

// Tree is the minimal shape walk needs: a root page plus, optionally, a
// Loader that instantiates a DISK ref into memory (DISK -> READING ->
// MEM, spec §3). Tests that build an all-in-memory tree can leave Loader
// nil; walk then reports Busy instead of blocking on I/O.
type Tree struct {
	Root   *wtpage.Page
	Loader func(ref *wtpage.Ref) (*wtpage.Page, error)
}

func (t *Tree) load(sess *Session, ref *wtpage.Ref) (*wtpage.Page, error) {
	switch ref.State() {
	case wtpage.RefMem:
		return sess.Couple(ref)
	case wtpage.RefLocked, wtpage.RefReading:
		return nil, errs.ErrBusy
	case wtpage.RefDeleted:
		if ref.FastDelete() != nil {
			return nil, errs.ErrNotFound
		}
		return nil, errs.ErrBusy
	case wtpage.RefDisk:
		if t.Loader == nil {
			return nil, errs.ErrBusy
		}
		if !ref.CASState(wtpage.RefDisk, wtpage.RefReading) {
			return nil, errs.ErrRestart
		}
		page, err := t.Loader(ref)
		if err != nil {
			ref.SetState(wtpage.RefDisk)
			return nil, err
		}
		ref.SetPage(page)
		ref.SetState(wtpage.RefMem)
		return sess.Couple(ref)
	case wtpage.RefSplit:
		return nil, errs.ErrRestart
	default:
		return nil, errs.ErrRestart
	}
}

// descendExtreme walks down from ref to the leftmost (or rightmost)
// leaf reachable under it, hazard-coupling at every level.
func (t *Tree) descendExtreme(sess *Session, ref *wtpage.Ref, leftmost bool, flags Flags) (*wtpage.Ref, error) {
	cur := ref
	for {
		page, err := t.load(sess, cur)
		if err != nil {
			return nil, err
		}
		if page.Type.IsLeaf() {
			if flags.SkipDeleted && cur.State() == wtpage.RefDeleted && !flags.SeeDeleted {
				return nil, errs.ErrRestart
			}
			return cur, nil
		}
		idx := page.Index()
		if len(idx.Refs) == 0 {
			return nil, errs.ErrBusy
		}
		if leftmost {
			cur = idx.Refs[0]
		} else {
			cur = idx.Refs[len(idx.Refs)-1]
		}
	}
}

// Next and Prev return the following/preceding leaf ref in key order
// (spec §4.3's contract). They hazard-couple from ref upward through the
// parent chain until a sibling exists, then descend through it to the
// nearest extreme leaf, restarting the whole walk on any structural
// race observed along the way (errs.ErrRestart bubbles to the caller,
// which is expected to re-search from the last safe point per §7).
func Next(sess *Session, ref *wtpage.Ref, tree *Tree, flags Flags) (*wtpage.Ref, error) {
	return step(sess, ref, tree, flags, +1)
}

func Prev(sess *Session, ref *wtpage.Ref, tree *Tree, flags Flags) (*wtpage.Ref, error) {
	return step(sess, ref, tree, flags, -1)
}

func step(sess *Session, ref *wtpage.Ref, tree *Tree, flags Flags, dir int) (*wtpage.Ref, error) {
	cur := ref
	for {
		home := cur.Home()
		if home == nil {
			return nil, errs.ErrNotFound // cur is (or was) the root: no more siblings
		}
		idx := home.Index()
		pos, ok := wtpage.FindPosition(idx, cur)
		if !ok {
			// A concurrent split replaced home's index and no longer names
			// cur's subtree at all: the subtree moved (spec §4.3, "Ascending
			// must revalidate").
			return nil, errs.ErrRestart
		}
		nextPos := pos + dir
		if nextPos >= 0 && nextPos < len(idx.Refs) {
			sibling := idx.Refs[nextPos]
			leftmost := dir > 0
			next, err := tree.descendExtreme(sess, sibling, leftmost, flags)
			if err != nil {
				return nil, err
			}
			return next, nil
		}
		// No sibling at this level: climb. The ref naming `home` inside
		// home's own parent is home.ParentRef(); if nil, home is the root
		// and the walk has reached that boundary.
		parentRef := home.ParentRef()
		if parentRef == nil {
			return nil, errs.ErrNotFound
		}
		cur = parentRef
	}
}
