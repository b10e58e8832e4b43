package txn

import (
	"govetachun/mvccbtree/internal/cursor"
	"govetachun/mvccbtree/internal/errs"
	"govetachun/mvccbtree/internal/mvcc"
	"govetachun/mvccbtree/internal/wtpage"
)

// Txn is one active transaction on a Session (spec §6 "Session/txn
// (consumed): begin/commit/abort, snapshot acquisition, visibility
// predicate over a txn id, read_timestamp, prepare_timestamp").
type Txn struct {
	sess *Session
	id   uint64

	readTS    uint64
	ignoreTS  bool
	prepareTS uint64
	commitTS  uint64
	done      bool
}

// Begin starts a new transaction on s. A session runs at most one
// transaction at a time (spec §5's per-session model), so Begin fails if
// one is already active.
func (s *Session) Begin(readTS uint64) (*Txn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil {
		return nil, errs.New(errs.KindInvalid, "txn: session already has an active transaction")
	}
	t := &Txn{sess: s, id: s.mgr.nextTxnID.Add(1), readTS: readTS}
	s.active = t
	return t, nil
}

func (t *Txn) ID() uint64 { return t.id }

// SetReadTimestamp, SetIgnoreTimestamps and SetPrepareTimestamp
// configure the transaction before its first read or write (spec §6).
func (t *Txn) SetReadTimestamp(ts uint64)    { t.readTS = ts }
func (t *Txn) SetIgnoreTimestamps(v bool)    { t.ignoreTS = v }
func (t *Txn) SetPrepareTimestamp(ts uint64) { t.prepareTS = ts }
func (t *Txn) PrepareTimestamp() uint64      { return t.prepareTS }

// Snapshot builds the mvcc.Snapshot this transaction's reads are
// evaluated against (spec §6 "visibility predicate over a txn id"),
// delegating commit-visibility to the manager's committed set. A read
// timestamp of wtpage.TSNone means none is set: the snapshot then sees
// every committed update regardless of its timestamp.
func (t *Txn) Snapshot() mvcc.Snapshot {
	return mvcc.Snapshot{
		ReadTS:           t.readTS,
		IgnoreTimestamps: t.ignoreTS || t.readTS == wtpage.TSNone,
		OwnTxnID:         t.id,
		Committed:        t.sess.mgr.isCommitted,
	}
}

// AsCursorTxn adapts this transaction into the view internal/cursor
// needs for a single operation committing at commitTS.
func (t *Txn) AsCursorTxn(commitTS uint64) cursor.Txn {
	return cursor.Txn{ID: t.id, CommitTS: commitTS, Snapshot: t.Snapshot()}
}

// Commit publishes commitTS as this transaction's durable commit point:
// every update it wrote becomes visible to any snapshot whose read
// timestamp is at or past commitTS (spec §4.1's visibility rule,
// evaluated lazily by mvcc.Read/ConflictCheck via isCommitted).
func (t *Txn) Commit(commitTS uint64) error {
	if t.done {
		return errs.New(errs.KindInvalid, "txn: already committed or aborted")
	}
	t.commitTS = commitTS
	t.sess.mgr.mu.Lock()
	t.sess.mgr.committed[t.id] = commitTS
	t.sess.mgr.mu.Unlock()
	t.finish()
	return nil
}

func (t *Txn) CommitTimestamp() uint64 { return t.commitTS }

// Abort discards the transaction. Its updates are never added to the
// manager's committed set, so mvcc.Read's visibility check already
// excludes them for every other session without any further bookkeeping
// here; only this session's own reads under t could have seen them, and
// t is now done.
func (t *Txn) Abort() error {
	if t.done {
		return errs.New(errs.KindInvalid, "txn: already committed or aborted")
	}
	t.finish()
	return nil
}

func (t *Txn) finish() {
	t.done = true
	t.sess.mu.Lock()
	t.sess.active = nil
	t.sess.mu.Unlock()
}
