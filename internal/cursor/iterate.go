package cursor

import (
	"govetachun/mvccbtree/internal/errs"
	"govetachun/mvccbtree/internal/mvcc"
	"govetachun/mvccbtree/internal/walk"
	"govetachun/mvccbtree/internal/wtpage"
)

// seqItem is one position in a leaf's logical key order: either an
// insert-list node or an on-page slot (node == nil).
type seqItem struct {
	listIdx int
	node    *wtpage.InsertNode
	slot    int
}

// rowSequence lays out a row-store leaf's full logical order: insert
// list 0, slot 0, insert list 1, slot 1, ..., insert list N. This is a
// plain linear re-walk rebuilt on every step rather than a cursor saved
// mid-skip-list, since the skip list has no backward links (spec §3).
func rowSequence(page *wtpage.Page) []seqItem {
	n := page.NSlots()
	var seq []seqItem
	for i := 0; i <= n; i++ {
		page.InsertList(i).Each(func(nd *wtpage.InsertNode) {
			seq = append(seq, seqItem{listIdx: i, node: nd, slot: -1})
		})
		if i < n {
			seq = append(seq, seqItem{listIdx: i, node: nil, slot: i})
		}
	}
	return seq
}

// colSequence lays out a column-store leaf's order: on-page slots in
// recno order, then the append list.
func colSequence(page *wtpage.Page) []seqItem {
	n := page.NSlots()
	var seq []seqItem
	for i := 0; i < n; i++ {
		seq = append(seq, seqItem{slot: i, node: nil})
	}
	page.AppendList().Each(func(nd *wtpage.InsertNode) {
		seq = append(seq, seqItem{node: nd, slot: -1})
	})
	return seq
}

func (c *Cursor) sequence() []seqItem {
	if c.bt.Type == wtpage.PageLeafRow {
		return rowSequence(c.leaf())
	}
	return colSequence(c.leaf())
}

// currentIndex locates the cursor's current position within seq.
func (c *Cursor) currentIndex(seq []seqItem) int {
	for i, item := range seq {
		if c.node != nil {
			if item.node == c.node {
				return i
			}
			continue
		}
		if item.node == nil && item.slot == c.slotIdx {
			return i
		}
	}
	return -1
}

func (c *Cursor) applySeqItem(item seqItem) {
	c.node = item.node
	c.slotIdx = item.slot
	c.listIdx = item.listIdx
}

// Next advances the cursor to the following visible record and returns
// its key/value (spec §4.2's iteration contract). Tombstoned and
// not-yet-visible entries are skipped transparently. If the leaf it
// steps off has been split, it returns errs.ErrRestart without retrying;
// the caller re-searches from its last key and continues from there.
func (c *Cursor) Next(txn Txn) (key, value []byte, err error) {
	return c.stepAndRead(txn.Snapshot, +1)
}

// Prev is the symmetric backward step.
func (c *Cursor) Prev(txn Txn) (key, value []byte, err error) {
	return c.stepAndRead(txn.Snapshot, -1)
}

// stepAndRead advances dir (+1/-1) steps at a time, skipping invisible
// entries, crossing leaf boundaries via the walk package as needed,
// until it finds a visible record or exhausts the tree.
func (c *Cursor) stepAndRead(snap mvcc.Snapshot, dir int) ([]byte, []byte, error) {
	if !c.positioned() {
		return nil, nil, errs.ErrInvalid
	}
	for {
		seq := c.sequence()
		i := c.currentIndex(seq)
		next := i + dir
		if i < 0 {
			// Unpositioned within this leaf (e.g. SearchNear landed past
			// the last slot): start from the appropriate end.
			if dir > 0 {
				next = 0
			} else {
				next = len(seq) - 1
			}
		}
		if next < 0 || next >= len(seq) {
			if err := c.crossLeaf(dir); err != nil {
				return nil, nil, err
			}
			continue
		}
		c.applySeqItem(seq[next])
		value, found, err := c.readCurrent(snap)
		if err != nil {
			return nil, nil, err
		}
		if found {
			return c.currentKey(), value, nil
		}
	}
}

func (c *Cursor) readCurrent(snap mvcc.Snapshot) ([]byte, bool, error) {
	if c.bt.Type == wtpage.PageLeafRow {
		return c.readCurrentRow(snap)
	}
	page := c.leaf()
	if c.slotIdx >= 0 {
		slot := page.Slot(c.slotIdx)
		res, err := mvcc.Read(&slot.Chain, slot.Value, slot.TW, snap)
		return res.Value, res.Found, err
	}
	if c.node != nil {
		res, err := mvcc.Read(&c.node.Chain, nil, wtpage.TimeWindow{}, snap)
		return res.Value, res.Found, err
	}
	return nil, false, nil
}

// CurrentKey returns the row-store key the cursor is currently
// positioned on (e.g. after SearchNear, which does not itself return
// one), or nil if unpositioned or the btree is column-store.
func (c *Cursor) CurrentKey() []byte { return c.currentKey() }

func (c *Cursor) currentKey() []byte {
	if c.bt.Type != wtpage.PageLeafRow {
		return nil
	}
	if c.slotIdx >= 0 {
		return c.leaf().Slot(c.slotIdx).Key
	}
	if c.node != nil {
		return c.node.Key
	}
	return nil
}

// CurrentRecno returns the record number the cursor is positioned on,
// for either column-store layout.
func (c *Cursor) CurrentRecno() (uint64, bool) {
	if c.bt.Type == wtpage.PageLeafRow || !c.positioned() {
		return 0, false
	}
	if c.slotIdx >= 0 {
		return c.leaf().FirstRecno + uint64(c.slotIdx), true
	}
	if c.node != nil {
		return c.node.Recno, true
	}
	return 0, false
}

// NextRecno and PrevRecno are Next/Prev's column-store counterparts,
// returning the record number alongside the value since column-store
// keys are record numbers, not byte strings.
func (c *Cursor) NextRecno(txn Txn) (recno uint64, value []byte, err error) {
	_, value, err = c.stepAndRead(txn.Snapshot, +1)
	if err != nil {
		return 0, nil, err
	}
	recno, _ = c.CurrentRecno()
	return recno, value, nil
}

func (c *Cursor) PrevRecno(txn Txn) (recno uint64, value []byte, err error) {
	_, value, err = c.stepAndRead(txn.Snapshot, -1)
	if err != nil {
		return 0, nil, err
	}
	recno, _ = c.CurrentRecno()
	return recno, value, nil
}

// crossLeaf moves the cursor to the first (dir>0) or last (dir<0)
// position of the next/previous leaf in key order.
func (c *Cursor) crossLeaf(dir int) error {
	oldPage := c.leaf()
	var next *wtpage.Ref
	var err error
	if dir > 0 {
		next, err = walk.Next(c.sess, c.ref, c.bt.Tree, walk.Flags{})
	} else {
		next, err = walk.Prev(c.sess, c.ref, c.bt.Tree, walk.Flags{})
	}
	if err != nil {
		return err
	}
	c.sess.Unpin(oldPage)
	c.ref = next
	// Clear node/slotIdx: they belong to the leaf just left, so
	// currentIndex on the new leaf reports "not found" and stepAndRead's
	// unpositioned branch starts from the correct end.
	c.node = nil
	c.slotIdx = -1
	return nil
}
