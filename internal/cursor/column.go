package cursor

import (
	"govetachun/mvccbtree/internal/errs"
	"govetachun/mvccbtree/internal/mvcc"
	"govetachun/mvccbtree/internal/wtpage"
)

// implicitValue returns the all-zero placeholder a fixed-length
// column-store cell reads as before it is ever explicitly set (spec
// §9 supplement, "FLCS implicit fill"); variable-length column-store
// has no such concept, a gap simply reads not-found.
func (c *Cursor) implicitValue() []byte {
	if c.bt.Type != wtpage.PageLeafColFix {
		return nil
	}
	width := (c.leaf().FixedBits + 7) / 8
	if width == 0 {
		width = 1
	}
	return make([]byte, width)
}

// searchColumnOnLeaf resolves recno against the pinned column-store
// leaf: an on-page slot takes priority over the append list, and the
// append list takes priority over FLCS's implicit zero fill (spec §9).
func (c *Cursor) searchColumnOnLeaf(recno uint64, snap mvcc.Snapshot) ([]byte, bool, error) {
	page := c.leaf()
	if idx, onPage := page.SearchColumn(recno); onPage {
		c.slotIdx = idx
		c.node = nil
		slot := page.Slot(idx)
		res, err := mvcc.Read(&slot.Chain, slot.Value, slot.TW, snap)
		return res.Value, res.Found, err
	}
	if ins := page.AppendList().Find(nil, recno); ins != nil {
		c.node = ins
		c.slotIdx = -1
		res, err := mvcc.Read(&ins.Chain, nil, wtpage.TimeWindow{}, snap)
		return res.Value, res.Found, err
	}
	c.node, c.slotIdx = nil, -1
	if recno < c.bt.appendCounter.Load()+page.FirstRecno+uint64(page.NSlots()) {
		if v := c.implicitValue(); v != nil {
			return v, true, nil
		}
	}
	return nil, false, nil
}

// Append inserts value at the next record number the btree's allocator
// assigns (spec §4.2, "Column-store with APPEND").
func (c *Cursor) Append(value []byte, txn Txn) (recno uint64, err error) {
	if c.bt.Type == wtpage.PageLeafRow {
		return 0, errs.ErrInvalid
	}
	if err := c.bt.checkSize(nil, value); err != nil {
		return 0, err
	}
	recno = c.bt.NextAppendRecno()
	if err := c.ensurePositionedCol(recno); err != nil {
		return 0, err
	}
	page := c.leaf()
	n := page.AppendList().Insert(nil, recno)
	c.node, c.slotIdx = n, -1
	upd := wtpage.NewStandard(txn.ID, txn.CommitTS, value)
	n.Chain.Prepend(upd)
	return recno, nil
}

// UpdateRecno overwrites recno's value (spec §4.2, "Insert / update /
// remove" generalized to column-store: any existing slot or append-list
// entry for recno gets a new STANDARD update).
func (c *Cursor) UpdateRecno(recno uint64, value []byte, txn Txn) error {
	if err := c.bt.checkSize(nil, value); err != nil {
		return err
	}
	if err := c.ensurePositionedCol(recno); err != nil {
		return err
	}
	page := c.leaf()
	var chain *wtpage.Chain
	if idx, onPage := page.SearchColumn(recno); onPage {
		c.slotIdx, c.node = idx, nil
		chain = &page.Slot(idx).Chain
	} else if ins := page.AppendList().Find(nil, recno); ins != nil {
		c.node, c.slotIdx = ins, -1
		chain = &ins.Chain
	} else {
		n := page.AppendList().Insert(nil, recno)
		c.bt.SeedAppendCounter(recno)
		c.node, c.slotIdx = n, -1
		chain = &n.Chain
	}
	upd := wtpage.NewStandard(txn.ID, txn.CommitTS, value)
	return prependWithRetry(chain, upd, txn.ID, txn.Snapshot)
}

// RemoveRecno tombstones recno.
func (c *Cursor) RemoveRecno(recno uint64, txn Txn) error {
	_, found, err := c.SearchRecno(recno, txn.Snapshot)
	if err != nil {
		return err
	}
	if !found {
		return errs.ErrNotFound
	}
	var chain *wtpage.Chain
	if c.slotIdx >= 0 {
		chain = &c.leaf().Slot(c.slotIdx).Chain
	} else if c.node != nil {
		chain = &c.node.Chain
	} else {
		return errs.ErrNotFound
	}
	upd := wtpage.NewTombstone(txn.ID, txn.CommitTS)
	return prependWithRetry(chain, upd, txn.ID, txn.Snapshot)
}
