package cursor

import (
	"govetachun/mvccbtree/internal/errs"
	"govetachun/mvccbtree/internal/mvcc"
	"govetachun/mvccbtree/internal/wtpage"
)

// searchOnLeaf resolves key against the currently pinned row-store leaf:
// an exact on-page slot takes priority, then the insert list that
// precedes the slot the key would occupy (spec §4.2, "Search").
func (c *Cursor) searchOnLeaf(key []byte, snap mvcc.Snapshot) ([]byte, bool, error) {
	page := c.leaf()
	idx, exact := page.SearchRow(key)
	if exact {
		c.slotIdx, c.node, c.listIdx = idx, nil, idx
		return c.readCurrentRow(snap)
	}
	if ins := page.InsertList(idx).Find(key, 0); ins != nil {
		c.node, c.slotIdx, c.listIdx = ins, -1, idx
		return c.readCurrentRow(snap)
	}
	c.node, c.slotIdx, c.listIdx = nil, -1, idx
	return nil, false, nil
}

// readCurrentRow materializes whatever the cursor is currently
// positioned on (slot or insert node) under snap.
func (c *Cursor) readCurrentRow(snap mvcc.Snapshot) ([]byte, bool, error) {
	page := c.leaf()
	if c.slotIdx >= 0 {
		slot := page.Slot(c.slotIdx)
		res, err := mvcc.Read(&slot.Chain, slot.Value, slot.TW, snap)
		if err == nil {
			c.setPositionFlags(res.Found)
		}
		return res.Value, res.Found, err
	}
	if c.node != nil {
		res, err := mvcc.Read(&c.node.Chain, nil, wtpage.TimeWindow{}, snap)
		if err == nil {
			c.setPositionFlags(res.Found)
		}
		return res.Value, res.Found, err
	}
	c.setPositionFlags(false)
	return nil, false, nil
}

func (c *Cursor) currentRowChain() *wtpage.Chain {
	if c.slotIdx >= 0 {
		return &c.leaf().Slot(c.slotIdx).Chain
	}
	if c.node != nil {
		return &c.node.Chain
	}
	return nil
}

// prependWithRetry re-runs the conflict check and CAS-prepend until the
// CAS succeeds, so a racing concurrent writer can never cause an update
// to be silently dropped (spec §4.2, "Conflict check").
func prependWithRetry(chain *wtpage.Chain, upd *wtpage.Update, txnID uint64, snap mvcc.Snapshot) error {
	for {
		head, err := mvcc.ConflictCheck(chain, txnID, snap)
		if err != nil {
			return err
		}
		if chain.PrependChecked(upd, head) {
			return nil
		}
	}
}

// Insert adds key/value. If overwrite is false and a visible value
// already exists for key, it fails with ErrDuplicateKey (spec §4.2,
// "Insert / update / remove").
func (c *Cursor) Insert(key, value []byte, txn Txn, overwrite bool) error {
	if c.bt.Type != wtpage.PageLeafRow {
		return errs.ErrInvalid
	}
	if err := c.bt.checkSize(key, value); err != nil {
		return err
	}
	if err := c.ensurePositionedRow(key); err != nil {
		return err
	}
	page := c.leaf()
	idx, exact := page.SearchRow(key)
	var chain *wtpage.Chain
	if exact {
		c.slotIdx, c.node, c.listIdx = idx, nil, idx
		chain = &page.Slot(idx).Chain
	} else if ins := page.InsertList(idx).Find(key, 0); ins != nil {
		c.node, c.slotIdx, c.listIdx = ins, -1, idx
		chain = &ins.Chain
	} else {
		n := page.InsertList(idx).Insert(key, 0)
		c.node, c.slotIdx, c.listIdx = n, -1, idx
		chain = &n.Chain
	}
	if !overwrite {
		if _, found, err := c.readCurrentRow(txn.Snapshot); err != nil {
			return err
		} else if found {
			return errs.ErrDuplicateKey
		}
	}
	upd := wtpage.NewStandard(txn.ID, txn.CommitTS, value)
	return prependWithRetry(chain, upd, txn.ID, txn.Snapshot)
}

// Update overwrites key's visible value; it fails with ErrNotFound if no
// visible value currently exists.
func (c *Cursor) Update(key, value []byte, txn Txn) error {
	if err := c.bt.checkSize(key, value); err != nil {
		return err
	}
	if _, found, err := c.Search(key, txn.Snapshot); err != nil {
		return err
	} else if !found {
		return errs.ErrNotFound
	}
	chain := c.currentRowChain()
	upd := wtpage.NewStandard(txn.ID, txn.CommitTS, value)
	return prependWithRetry(chain, upd, txn.ID, txn.Snapshot)
}

// Remove prepends a tombstone for key. With overwrite false it fails
// with ErrNotFound when the key is not currently visible.
func (c *Cursor) Remove(key []byte, txn Txn, overwrite bool) error {
	_, found, err := c.Search(key, txn.Snapshot)
	if err != nil {
		return err
	}
	if !found && !overwrite {
		return errs.ErrNotFound
	}
	if !found {
		return nil
	}
	chain := c.currentRowChain()
	upd := wtpage.NewTombstone(txn.ID, txn.CommitTS)
	return prependWithRetry(chain, upd, txn.ID, txn.Snapshot)
}

// Reserve prepends a write-intent-only RESERVE update: it publishes no
// value but participates in the conflict check exactly like a real
// write, letting a transaction claim a key without deciding its value
// yet (spec §3, "RESERVE").
func (c *Cursor) Reserve(key []byte, txn Txn) error {
	if err := c.ensurePositionedRow(key); err != nil {
		return err
	}
	page := c.leaf()
	idx, exact := page.SearchRow(key)
	var chain *wtpage.Chain
	if exact {
		c.slotIdx, c.node, c.listIdx = idx, nil, idx
		chain = &page.Slot(idx).Chain
	} else if ins := page.InsertList(idx).Find(key, 0); ins != nil {
		c.node, c.slotIdx, c.listIdx = ins, -1, idx
		chain = &ins.Chain
	} else {
		n := page.InsertList(idx).Insert(key, 0)
		c.node, c.slotIdx, c.listIdx = n, -1, idx
		chain = &n.Chain
	}
	upd := wtpage.NewReserve(txn.ID)
	return prependWithRetry(chain, upd, txn.ID, txn.Snapshot)
}

// Modify applies deltas as a reverse-delta MODIFY update. If the chain
// already carries wtpage.MaxModifyChain consecutive MODIFYs without a
// STANDARD, it materializes the full value first and writes a STANDARD
// instead, bounding read amplification (spec §4.1).
func (c *Cursor) Modify(key []byte, deltas []wtpage.ModifyDelta, txn Txn) error {
	value, found, err := c.Search(key, txn.Snapshot)
	if err != nil {
		return err
	}
	if !found {
		return errs.ErrNotFound
	}
	chain := c.currentRowChain()

	if chainLength(chain) >= wtpage.MaxModifyChain {
		full := wtpage.ApplyModify(value, deltas)
		upd := wtpage.NewStandard(txn.ID, txn.CommitTS, full)
		return prependWithRetry(chain, upd, txn.ID, txn.Snapshot)
	}
	upd := wtpage.NewModify(txn.ID, txn.CommitTS, deltas)
	return prependWithRetry(chain, upd, txn.ID, txn.Snapshot)
}

func chainLength(chain *wtpage.Chain) int {
	n := 0
	for cur := chain.Head(); cur != nil && cur.Type == wtpage.UpdateModify; cur = cur.Next() {
		n++
	}
	return n
}
