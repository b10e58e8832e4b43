// Package cursor implements the cursor engine (spec §4.2): search,
// iteration, insert/update/remove/modify/reserve, and truncate, over the
// three leaf layouts (row-store, variable-length column-store,
// fixed-length column-store).
package cursor

import (
	"bytes"
	"sync/atomic"

	"govetachun/mvccbtree/internal/errs"
	"govetachun/mvccbtree/internal/wtpage"
	"govetachun/mvccbtree/internal/walk"
)

// maxRestartAttempts bounds the internal retry loop a structural race
// drives a search into; a search consumes Restart here and does not
// return it. Next/Prev do return it (see Cursor.Next).
const maxRestartAttempts = 64

// Btree is a handle to one B-tree: a root ref plus the size limits and
// append-counter state the cursor engine needs (spec §4.2 "Size check",
// "Column-store with APPEND").
type Btree struct {
	RootRef *wtpage.Ref
	Type    wtpage.PageType
	Tree    *walk.Tree

	MaxKeySize int
	MaxValSize int
	// WriteSizeMax mirrors the block manager's declared write-size for
	// the configured page size (spec §4.2 "Size check"); 0 means
	// "unbounded" (no block manager wired in, e.g. in tests).
	WriteSizeMax int

	appendCounter atomic.Uint64
}

// NewBtree wraps rootPage as a one-page (or, once split, multi-page)
// btree of the given leaf/internal layout.
func NewBtree(pageType wtpage.PageType, rootPage *wtpage.Page) *Btree {
	root := wtpage.NewRef(nil, 0, nil)
	root.SetState(wtpage.RefMem)
	root.SetPage(rootPage)
	return &Btree{
		RootRef:    root,
		Type:       pageType,
		Tree:       &walk.Tree{Root: rootPage},
		MaxKeySize: 1000,
		MaxValSize: 3000,
	}
}

// NextAppendRecno assigns the next column-store append record number via
// a serialized allocator (spec §4.2: "a serialized allocator assigns the
// next record number").
func (b *Btree) NextAppendRecno() uint64 {
	return b.appendCounter.Add(1)
}

// SeedAppendCounter initializes the allocator above the highest record
// number already on disk/in memory, so appends continue from there.
func (b *Btree) SeedAppendCounter(highest uint64) {
	for {
		cur := b.appendCounter.Load()
		if cur >= highest {
			return
		}
		if b.appendCounter.CompareAndSwap(cur, highest) {
			return
		}
	}
}

func (b *Btree) checkSize(key, value []byte) error {
	if len(key) > b.MaxKeySize {
		return errs.Wrap(errs.KindInvalid, "key exceeds maximum key size", nil)
	}
	if len(value) > b.MaxValSize {
		return errs.Wrap(errs.KindInvalid, "value exceeds maximum value size", nil)
	}
	if b.WriteSizeMax > 0 && len(value) > b.WriteSizeMax {
		return errs.Wrap(errs.KindInvalid, "value exceeds block manager's declared write size", nil)
	}
	return nil
}

// descend performs a hazard-pointer-coupled root-to-leaf search (spec
// §4.2 "Search"): binary-search each internal page's child-index,
// couple into the chosen child, release the parent, and restart from
// the root on any structural race.
func (b *Btree) descend(sess *walk.Session, key []byte, recno uint64) (*wtpage.Ref, error) {
	for attempt := 0; attempt < maxRestartAttempts; attempt++ {
		ref, err := b.descendOnce(sess, key, recno)
		if err == errs.ErrRestart {
			continue
		}
		return ref, err
	}
	return nil, errs.Panic("cursor: exceeded restart retry budget during descend")
}

func (b *Btree) descendOnce(sess *walk.Session, key []byte, recno uint64) (*wtpage.Ref, error) {
	cur := b.RootRef
	var prevPage *wtpage.Page
	for {
		page, err := sess.Couple(cur)
		if err != nil {
			if prevPage != nil {
				sess.Unpin(prevPage)
			}
			return nil, err
		}
		if prevPage != nil {
			sess.Unpin(prevPage)
		}
		if page.Type.IsLeaf() {
			return cur, nil
		}
		idx := page.Index()
		if len(idx.Refs) == 0 {
			sess.Unpin(page)
			return nil, errs.ErrBusy
		}
		pos := childPosition(idx, key, recno, b.Type)
		prevPage = page
		cur = idx.Refs[pos]
	}
}

// childPosition returns the rightmost child whose separator key/recno is
// <= the search key/recno (i.e. the child whose subtree may contain it).
func childPosition(idx *wtpage.ChildIndex, key []byte, recno uint64, pageType wtpage.PageType) int {
	n := len(idx.Refs)
	lo, hi := 0, n-1
	best := 0
	for lo <= hi {
		mid := (lo + hi) / 2
		var cmp int
		if pageType == wtpage.PageLeafRow {
			cmp = bytes.Compare(idx.Refs[mid].Key(), key)
		} else {
			r := idx.Refs[mid].Recno()
			switch {
			case r < recno:
				cmp = -1
			case r > recno:
				cmp = 1
			default:
				cmp = 0
			}
		}
		if cmp <= 0 {
			best = mid
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	return best
}
