// Package rts implements rollback-to-stable (spec §4.6): given a stable
// timestamp, restore every B-tree to the state that would exist had no
// update with durable_ts past that timestamp (or an unresolved prepare)
// ever occurred.
package rts

import (
	"govetachun/mvccbtree/internal/blockmgr"
	"govetachun/mvccbtree/internal/errs"
	"govetachun/mvccbtree/internal/history"
	"govetachun/mvccbtree/internal/wtpage"
)

// Params is the tuning a single rollback-to-stable pass runs under (spec
// §4.6 and §6's `rollback_to_stable.*` config knobs).
type Params struct {
	// StableTS is the timestamp T: no update with durable_ts > T, and no
	// unresolved prepare, may remain visible once rollback completes.
	StableTS uint64
	// OldestVisibleTxn is the recovery snapshot's lower bound: any update
	// whose txn id is at or past this is not yet visible and is aborted
	// regardless of its timestamp.
	OldestVisibleTxn uint64
	// DryRun previews the rollback (spec §4.6 "Dry run"): Result still
	// reports what would be aborted/fixed up, but no chain, slot or HS
	// state is mutated.
	DryRun bool
}

// Result tallies what one RollbackTree pass did (or, under DryRun, would
// do), for operator visibility and tests.
type Result struct {
	PagesVisited       int
	UpdatesAborted     int
	KeysFixedUp        int // on-disk fix-up restored a stable HS value
	KeysRemoved        int // on-disk fix-up found no stable HS value, prepended a tombstone
	FastDeletesCleared int
	UnreadUnstableRefs int // disk refs whose aggregate was unstable but were not read (see DESIGN.md)
	DryRun             bool
}

// Engine runs rollback-to-stable against one connection's trees, using
// hs to restore on-disk values an in-memory chain can no longer supply
// (spec §4.6 "On-disk fix-up"). hs may be nil for a tree with no history
// store attached (fix-up then degrades to an unconditional tombstone).
type Engine struct {
	HS *history.Store
}

func NewEngine(hs *history.Store) *Engine {
	return &Engine{HS: hs}
}

// RollbackTree walks every in-memory page reachable from root and every
// disk ref's aggregate metadata, applying the per-page and per-update
// decisions of spec §4.6. It fails with KindInvalid if activeTxns > 0,
// per the RTS precondition ("requires that no other transactions are
// active; it checks this at entry").
func (e *Engine) RollbackTree(btreeID uint32, root *wtpage.Ref, params Params, activeTxns int) (*Result, error) {
	if activeTxns > 0 {
		return nil, errs.New(errs.KindInvalid, "rollback-to-stable requires no other active transactions")
	}
	res := &Result{DryRun: params.DryRun}
	if err := e.rollbackRef(btreeID, root, params, res); err != nil {
		return res, err
	}
	return res, nil
}

// rollbackRef implements the per-page decision (spec §4.6 "Per-page
// decision"): a fast-delete subtree is decided from its ref-level record
// alone, a disk ref is decided from its ref-level time/HS aggregate
// without reading the page, and only an in-memory ref is descended into.
func (e *Engine) rollbackRef(btreeID uint32, ref *wtpage.Ref, params Params, res *Result) error {
	if fd := ref.FastDelete(); fd != nil {
		if fd.TS > params.StableTS {
			res.FastDeletesCleared++
			if !params.DryRun {
				ref.SetFastDelete(nil)
			}
		}
		return nil
	}

	if ref.State() != wtpage.RefMem {
		if hp := ref.HSPointer(); hp != nil && hp.MaxTS > params.StableTS {
			res.UnreadUnstableRefs++
		}
		return nil
	}

	page := ref.Page()
	res.PagesVisited++

	if page.Type == wtpage.PageInternal {
		for _, child := range page.Index().Refs {
			if err := e.rollbackRef(btreeID, child, params, res); err != nil {
				return err
			}
		}
		return nil
	}
	return e.rollbackLeaf(btreeID, page, params, res)
}

// rollbackLeaf runs the per-update-abort algorithm over every key on
// page, then the on-disk fix-up for row-store slots whose whole chain
// turned out unstable (spec §4.6 "Per-update abort", "On-disk fix-up").
func (e *Engine) rollbackLeaf(btreeID uint32, page *wtpage.Page, params Params, res *Result) error {
	if page.Type != wtpage.PageLeafRow {
		// Column-store layouts run the same abort algorithm; fix-up is
		// skipped since HS keys are row-store byte strings and this
		// module's HS has no column-store key encoding.
		for i := 0; i < page.NSlots(); i++ {
			e.rollbackChain(&page.Slot(i).Chain, params, res)
		}
		page.AppendList().Each(func(n *wtpage.InsertNode) { e.rollbackChain(&n.Chain, params, res) })
		return nil
	}

	for i := 0; i < page.NSlots(); i++ {
		slot := page.Slot(i)
		stable := e.rollbackChain(&slot.Chain, params, res)
		if !stable && !slot.TW.Stable(params.StableTS, params.OldestVisibleTxn) {
			if err := e.fixUpOnDisk(btreeID, slot, params, res); err != nil {
				return err
			}
		}
	}
	for i := 0; i <= page.NSlots(); i++ {
		page.InsertList(i).Each(func(n *wtpage.InsertNode) { e.rollbackChain(&n.Chain, params, res) })
	}
	return nil
}

// rollbackChain aborts every unstable update in chain, stopping at (and
// returning true for) the first stable one. It returns false when every
// update in the chain was unstable, signaling the caller that the
// on-page base value must also be checked (spec §4.6 "Per-update
// abort").
func (e *Engine) rollbackChain(chain *wtpage.Chain, params Params, res *Result) bool {
	for cur := chain.Head(); cur != nil; cur = cur.Next() {
		if cur.Aborted() {
			continue
		}
		if unstableUpdate(cur, params) {
			res.UpdatesAborted++
			if !params.DryRun {
				cur.Abort()
			}
			continue
		}
		return true
	}
	return false
}

func unstableUpdate(u *wtpage.Update, params Params) bool {
	if u.Prepare == wtpage.PrepareInProgress {
		return true
	}
	if u.TxnID >= params.OldestVisibleTxn {
		return true
	}
	return u.DurableTS > params.StableTS
}

// fixUpOnDisk implements spec §4.6's "On-disk fix-up": with no stable
// update left in memory and an unstable on-page time window, look up the
// newest HS entry stable as of StableTS. A found entry is prepended as a
// fresh STANDARD update (a found tombstone is reported by history.Read
// as not-found, which already yields the "leading TOMBSTONE" case
// spec §4.6 calls out, since there is nothing further to prepend beyond
// the tombstone itself); otherwise a TOMBSTONE is prepended to remove
// the key outright. The restored key's HS entries are then deleted so a
// later rollback pass does not restore them again.
func (e *Engine) fixUpOnDisk(btreeID uint32, slot *wtpage.Slot, params Params, res *Result) error {
	if e.HS == nil {
		res.KeysRemoved++
		if !params.DryRun {
			slot.Chain.Prepend(wtpage.NewTombstone(0, params.StableTS))
		}
		return nil
	}

	txnVisible := func(txn uint64) bool { return txn < params.OldestVisibleTxn }
	value, found, err := e.HS.Read(btreeID, slot.Key, params.StableTS, txnVisible)
	if err != nil {
		return err
	}

	if found {
		res.KeysFixedUp++
	} else {
		res.KeysRemoved++
	}
	if params.DryRun {
		return nil
	}

	if found {
		slot.Chain.Prepend(wtpage.NewStandard(0, params.StableTS, value))
	} else {
		slot.Chain.Prepend(wtpage.NewTombstone(0, params.StableTS))
	}
	return e.HS.DeleteKey(btreeID, slot.Key, 0)
}

// PostCheckpoint implements spec §4.6's "Post-RTS checkpoint": after a
// non-in-memory rollback, force a checkpoint so the persisted state
// agrees with the rolled-back in-memory state, and report the stable
// timestamp the caller (internal/txn) should install as the new global
// durable timestamp.
func PostCheckpoint(bm blockmgr.BlockManager, inMemory bool, stableTS uint64) (newGlobalDurableTS uint64, err error) {
	if !inMemory && bm != nil {
		if err := bm.Checkpoint(); err != nil {
			return 0, err
		}
	}
	return stableTS, nil
}
