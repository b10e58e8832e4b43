// Package mvcc implements update-chain visibility and the write-side
// conflict check (spec §4.1): given a ref and a slot or insert node,
// produce the version visible to a transaction's snapshot, or detect
// that a write would conflict.
package mvcc

import (
	"govetachun/mvccbtree/internal/errs"
	"govetachun/mvccbtree/internal/wtpage"
)

// Snapshot carries what a reader needs to decide visibility: its read
// timestamp, whether it ignores timestamps altogether, its own txn id
// (so it sees its own uncommitted writes), and a predicate over the
// session/txn provider's committed set (spec §6, "Session/txn
// (consumed)").
type Snapshot struct {
	ReadTS           uint64
	IgnoreTimestamps bool
	IgnorePrepare    bool
	OwnTxnID         uint64
	Committed        func(txnID uint64) bool
}

func (s Snapshot) committed(txnID uint64) bool {
	return s.Committed != nil && s.Committed(txnID)
}

// visibleTxn reports whether u's transaction is visible to s: either it
// is the reader's own transaction (read-your-own-writes), or it is
// committed and, unless timestamps are ignored, committed at or before
// the read timestamp.
func (s Snapshot) visibleTxn(u *wtpage.Update) bool {
	if u.TxnID == s.OwnTxnID {
		return true
	}
	if !s.committed(u.TxnID) {
		return false
	}
	return s.IgnoreTimestamps || u.CommitTS <= s.ReadTS
}

// TimeWindowVisible decides whether an on-page (base) time window is
// visible to s: the start must be visible, and if the window has a
// visible stop it is hidden (deleted) rather than visible (spec §3,
// "Time window").
func (s Snapshot) TimeWindowVisible(tw wtpage.TimeWindow) bool {
	startVisible := tw.StartTxn == s.OwnTxnID ||
		(s.committed(tw.StartTxn) && (s.IgnoreTimestamps || tw.StartTS <= s.ReadTS))
	if !startVisible {
		return false
	}
	if tw.Live() {
		return true
	}
	stopVisible := tw.StopTxn == s.OwnTxnID ||
		(s.committed(tw.StopTxn) && (s.IgnoreTimestamps || tw.StopTS <= s.ReadTS))
	return !stopVisible
}

// Result is the outcome of reading one key's chain-plus-base.
type Result struct {
	Value      []byte
	Found      bool
	LongChain  bool // the MODIFY run exceeded wtpage.MaxModifyChain; caller should compact
}

// Read walks chain newest-to-oldest, accumulating MODIFY deltas, until it
// finds a visible STANDARD or TOMBSTONE, or falls through to the on-page
// base value and time window.
func Read(chain *wtpage.Chain, base []byte, baseTW wtpage.TimeWindow, snap Snapshot) (Result, error) {
	var modifies [][]wtpage.ModifyDelta

	for cur := chain.Head(); cur != nil; cur = cur.Next() {
		if cur.Aborted() {
			continue
		}
		if cur.Prepare == wtpage.PrepareInProgress && !snap.IgnorePrepare && cur.TxnID != snap.OwnTxnID {
			return Result{}, errs.ErrPrepareConflict
		}
		if !snap.visibleTxn(cur) {
			continue
		}
		switch cur.Type {
		case wtpage.UpdateTombstone:
			return Result{Found: false}, nil
		case wtpage.UpdateReserve:
			continue // no value published; transparent to readers
		case wtpage.UpdateModify:
			modifies = append(modifies, cur.Deltas)
		case wtpage.UpdateStandard:
			return Result{Value: materialize(cur.Value, modifies), Found: true, LongChain: len(modifies) > wtpage.MaxModifyChain}, nil
		case wtpage.UpdateBirthmark:
			// Birthmark: no payload of its own, fall through to base exactly
			// as if the chain ended here but the base is still authoritative.
			return readBase(base, baseTW, snap, modifies)
		}
	}
	return readBase(base, baseTW, snap, modifies)
}

func readBase(base []byte, baseTW wtpage.TimeWindow, snap Snapshot, modifies [][]wtpage.ModifyDelta) (Result, error) {
	if base == nil {
		// No on-page value to fall back to: the key is not found.
		return Result{Found: false}, nil
	}
	if !snap.TimeWindowVisible(baseTW) {
		return Result{Found: false}, nil
	}
	return Result{Value: materialize(base, modifies), Found: true, LongChain: len(modifies) > wtpage.MaxModifyChain}, nil
}

// materialize applies modify groups oldest-first onto base. Groups are
// collected newest-to-oldest during the chain walk, so the last group
// appended is the oldest and must be applied first (spec §4.1: "applied
// ... onto the first reachable STANDARD value").
func materialize(base []byte, modifies [][]wtpage.ModifyDelta) []byte {
	v := base
	for i := len(modifies) - 1; i >= 0; i-- {
		v = wtpage.ApplyModify(v, modifies[i])
	}
	return v
}

// ConflictCheck implements the write-side "update_check": if the first
// non-aborted entry at the head of chain belongs to neither the current
// writer nor a transaction fully committed before the reader's snapshot,
// the write must fail with a write conflict (spec §4.2, "Conflict
// check"). It returns the chain's physical head (which may itself be an
// aborted update retained for invariants) so the caller can
// CAS-prepend against it via PrependChecked without a second race
// window: the CAS comparator must be the real atomic head, not the
// first non-aborted entry skipped to for the conflict decision.
func ConflictCheck(chain *wtpage.Chain, writerTxnID uint64, snap Snapshot) (*wtpage.Update, error) {
	physicalHead := chain.Head()

	cur := physicalHead
	for cur != nil && cur.Aborted() {
		cur = cur.Next()
	}
	if cur == nil {
		return physicalHead, nil
	}
	if cur.TxnID == writerTxnID {
		return physicalHead, nil
	}
	if cur.Prepare == wtpage.PrepareInProgress {
		return physicalHead, errs.ErrPrepareConflict
	}
	committedBefore := snap.committed(cur.TxnID) && (snap.IgnoreTimestamps || cur.CommitTS <= snap.ReadTS)
	if !committedBefore {
		return physicalHead, errs.ErrWriteConflict
	}
	return physicalHead, nil
}
