package cursor

import (
	"bytes"
	"sort"

	"govetachun/mvccbtree/internal/errs"
	"govetachun/mvccbtree/internal/mvcc"
	"govetachun/mvccbtree/internal/walk"
	"govetachun/mvccbtree/internal/wtpage"
)

// Txn is the slice of session/txn state a cursor operation needs: the
// writer's own transaction id, the commit timestamp it writes new
// updates with, and the snapshot its reads are evaluated against (spec
// §6, "Session/txn (consumed)"). internal/txn constructs these.
type Txn struct {
	ID       uint64
	CommitTS uint64
	Snapshot mvcc.Snapshot
}

// Cursor is a positioned handle into one Btree (spec §4.2). A zero
// Cursor is valid but unpositioned.
type Cursor struct {
	bt   *Btree
	sess *walk.Session

	flags Flags

	ref *wtpage.Ref // pinned leaf, nil when unpositioned

	// Row-store position: either an on-page slot (slotIdx >= 0) or an
	// insert-list node (node != nil); listIdx always names the insert
	// list the node belongs to, or the list that precedes slotIdx.
	slotIdx int
	node    *wtpage.InsertNode
	listIdx int

	extKey   []byte
	extValue []byte
	cmp      int

	// DisableFastPath forces every Search to descend from the root,
	// matching read-committed isolation's prohibition on reusing a
	// pinned leaf across a new snapshot (spec §4.2, "fast path").
	DisableFastPath bool
}

// NewCursor opens a cursor over bt. Each cursor owns its own hazard
// session; callers must Close it when done.
func NewCursor(bt *Btree, reg *walk.Registry) *Cursor {
	return &Cursor{bt: bt, sess: reg.NewSession(), slotIdx: -1}
}

// Close releases every hazard pointer the cursor holds and forgets its
// position.
func (c *Cursor) Close() {
	c.sess.UnpinAll()
	c.ref = nil
	c.node = nil
	c.slotIdx = -1
	c.flags = 0
}

// Reset forgets the cursor's position without releasing the session
// (spec §4.2, "cursor->reset"): a subsequent operation performs a full
// search instead of trusting the fast path.
func (c *Cursor) Reset() {
	if c.ref != nil {
		c.sess.UnpinAll()
	}
	c.ref = nil
	c.node = nil
	c.slotIdx = -1
	c.flags = 0
}

func (c *Cursor) positioned() bool { return c.ref != nil }

// Flags reports the cursor's current KeySet/ValueSet bits (spec §4.2,
// "Cursor state"). Row-store reads set them; column-store reads leave
// them unchanged, and Reset clears them.
func (c *Cursor) Flags() Flags { return c.flags }

func (c *Cursor) setPositionFlags(found bool) {
	c.flags &^= KeySet | ValueSet
	c.flags |= KeySet
	if found {
		c.flags |= ValueSet
	}
}

// leaf returns the page the cursor is currently pinned to.
func (c *Cursor) leaf() *wtpage.Page {
	if c.ref == nil {
		return nil
	}
	return c.ref.Page()
}

// withinLeaf reports whether key could plausibly live on the currently
// pinned leaf, used to decide whether the fast path applies. A ref that
// is no longer MEM (a concurrent split or eviction moved it on) or a
// leaf marked for imminent eviction disqualifies the fast path (spec
// §4.2, "Fast path").
func (c *Cursor) withinLeaf(key []byte, recno uint64) bool {
	if c.ref.State() != wtpage.RefMem {
		return false
	}
	page := c.leaf()
	if page == nil || page.EvictSoon() {
		return false
	}
	if c.bt.Type == wtpage.PageLeafRow {
		n := page.NSlots()
		if n == 0 {
			return true
		}
		return bytes.Compare(key, page.Slot(0).Key) >= 0 && bytes.Compare(key, page.Slot(n-1).Key) <= 0
	}
	hi := page.FirstRecno + uint64(page.NSlots())
	if node := page.AppendList().Last(); node != nil && node.Recno+1 > hi {
		hi = node.Recno + 1
	}
	return recno >= page.FirstRecno && recno < hi
}

// Search positions the cursor on key (row-store) and returns its
// materialized value under snap (spec §4.2, "Search"). found is false
// when the key is absent or its visible update is a tombstone.
func (c *Cursor) Search(key []byte, snap mvcc.Snapshot) (value []byte, found bool, err error) {
	if c.bt.Type != wtpage.PageLeafRow {
		return nil, false, errs.ErrInvalid
	}
	if err := c.ensurePositionedRow(key); err != nil {
		return nil, false, err
	}
	return c.searchOnLeaf(key, snap)
}

// SearchRecno positions the cursor on recno (either column-store
// layout) and returns its materialized value under snap.
func (c *Cursor) SearchRecno(recno uint64, snap mvcc.Snapshot) (value []byte, found bool, err error) {
	if c.bt.Type == wtpage.PageLeafRow {
		return nil, false, errs.ErrInvalid
	}
	if err := c.ensurePositionedCol(recno); err != nil {
		return nil, false, err
	}
	return c.searchColumnOnLeaf(recno, snap)
}

// ensurePositionedRow couples the cursor onto the leaf that should
// contain key, reusing the pinned leaf when the fast path applies.
func (c *Cursor) ensurePositionedRow(key []byte) error {
	if !c.DisableFastPath && c.positioned() && c.withinLeaf(key, 0) {
		return nil
	}
	if c.ref != nil {
		c.sess.UnpinAll()
	}
	ref, err := c.bt.descend(c.sess, key, 0)
	if err != nil {
		return err
	}
	c.ref = ref
	return nil
}

func (c *Cursor) ensurePositionedCol(recno uint64) error {
	if !c.DisableFastPath && c.positioned() && c.withinLeaf(nil, recno) {
		return nil
	}
	if c.ref != nil {
		c.sess.UnpinAll()
	}
	ref, err := c.bt.descend(c.sess, nil, recno)
	if err != nil {
		return err
	}
	c.ref = ref
	return nil
}

// SearchNear behaves like Search but, on no exact match, positions the
// cursor on the nearest visible key and reports the comparison via cmp:
// -1 if the cursor landed before key, +1 if after, 0 on an exact match
// (spec §4.2, "Search near"). The forward side is preferred; the
// backward side is consulted only when nothing at or after key is
// visible anywhere in the tree.
func (c *Cursor) SearchNear(key []byte, snap mvcc.Snapshot) (value []byte, cmp int, err error) {
	if c.bt.Type != wtpage.PageLeafRow {
		return nil, 0, errs.ErrInvalid
	}
	if err := c.ensurePositionedRow(key); err != nil {
		return nil, 0, err
	}
	seq := c.sequence()
	pos := c.insertionPoint(seq, key)

	if pos < len(seq) && bytes.Equal(c.seqKeyAt(seq, pos), key) {
		c.applySeqItem(seq[pos])
		v, found, err := c.readCurrentRow(snap)
		if err != nil {
			return nil, 0, err
		}
		if found {
			return v, 0, nil
		}
		// Exact match is tombstoned or invisible: fall through to the
		// nearest visible neighbor; stepAndRead skips it on its own.
	}

	// Forward: the first visible record at or after the insertion
	// point, crossing leaves as needed.
	if pos > 0 {
		c.applySeqItem(seq[pos-1])
	} else {
		c.node, c.slotIdx = nil, -1
	}
	if k, v, serr := c.stepAndRead(snap, +1); serr == nil {
		return v, bytes.Compare(k, key), nil
	} else if !errs.Is(serr, errs.KindNotFound) {
		return nil, 0, serr
	}

	// Nothing at or after key in the whole tree: back up to the nearest
	// visible record below it. The forward scan may have crossed
	// leaves, so re-position first.
	if err := c.ensurePositionedRow(key); err != nil {
		return nil, 0, err
	}
	seq = c.sequence()
	pos = c.insertionPoint(seq, key)
	if pos < len(seq) {
		c.applySeqItem(seq[pos])
	} else {
		c.node, c.slotIdx = nil, -1
	}
	if _, v, serr := c.stepAndRead(snap, -1); serr == nil {
		return v, -1, nil
	}
	return nil, 0, errs.ErrNotFound
}

// insertionPoint returns the index of the first item in seq whose key
// sorts at or after key (len(seq) when every item sorts below it).
func (c *Cursor) insertionPoint(seq []seqItem, key []byte) int {
	return sort.Search(len(seq), func(i int) bool {
		return bytes.Compare(c.seqKeyAt(seq, i), key) >= 0
	})
}

func (c *Cursor) seqKeyAt(seq []seqItem, i int) []byte {
	if seq[i].node != nil {
		return seq[i].node.Key
	}
	return c.leaf().Slot(seq[i].slot).Key
}
