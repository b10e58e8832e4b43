package wtpage

import (
	"sync/atomic"

	"govetachun/mvccbtree/internal/util"
)

// UpdateType distinguishes the five kinds of versioned mutation an
// update chain can hold (spec §3, "Update").
type UpdateType uint8

const (
	UpdateStandard UpdateType = iota
	UpdateModify
	UpdateTombstone
	UpdateReserve
	UpdateBirthmark
)

// PrepareState tracks a transaction's prepare handshake.
type PrepareState uint8

const (
	PrepareNone PrepareState = iota
	PrepareInProgress
	PrepareResolved
)

// ModifyDelta is one reverse-delta edit: replace Size bytes at Offset in
// the next reachable full value with Data (spec §3, "MODIFY stores a
// reverse delta").
type ModifyDelta struct {
	Offset int
	Size   int
	Data   []byte
}

// Update is one versioned record in an update chain: newest-first
// singly-linked list, tail implicitly referencing the on-page value.
type Update struct {
	TxnID      uint64
	CommitTS   uint64
	DurableTS  uint64
	Prepare    PrepareState
	Type       UpdateType
	Value      []byte        // full value for STANDARD; nil for TOMBSTONE/RESERVE
	Deltas     []ModifyDelta // set only when Type == UpdateModify
	next       atomic.Pointer[Update]
	aborted    atomic.Bool
}

// NewStandard, NewTombstone and NewModify all default DurableTS to
// commitTS (spec §3: "durable_start_ts >= start_ts"); a caller that
// resolves a prepare with a distinct durable timestamp sets u.DurableTS
// after construction.
func NewStandard(txnID, commitTS uint64, value []byte) *Update {
	return &Update{TxnID: txnID, CommitTS: commitTS, DurableTS: commitTS, Type: UpdateStandard, Value: append([]byte(nil), value...)}
}

func NewTombstone(txnID, commitTS uint64) *Update {
	return &Update{TxnID: txnID, CommitTS: commitTS, DurableTS: commitTS, Type: UpdateTombstone}
}

func NewReserve(txnID uint64) *Update {
	return &Update{TxnID: txnID, Type: UpdateReserve}
}

func NewModify(txnID, commitTS uint64, deltas []ModifyDelta) *Update {
	return &Update{TxnID: txnID, CommitTS: commitTS, DurableTS: commitTS, Type: UpdateModify, Deltas: deltas}
}

func (u *Update) Next() *Update    { return u.next.Load() }
func (u *Update) setNext(n *Update) { u.next.Store(n) }

func (u *Update) Aborted() bool  { return u.aborted.Load() }
func (u *Update) Abort()         { u.aborted.Store(true) }

// Chain is the CAS-guarded head of one key's update chain (spec §5:
// "Update-chain prepend uses a compare-and-swap on the head pointer;
// readers see a consistent linked list because the new node's next is
// set before publication").
type Chain struct {
	head atomic.Pointer[Update]
}

func (c *Chain) Head() *Update { return c.head.Load() }

// Prepend publishes u as the new head, linking it ahead of the current
// head. It never blocks a concurrent reader: u.next is set before the
// CAS publishes u.
func (c *Chain) Prepend(u *Update) {
	for {
		cur := c.head.Load()
		u.setNext(cur)
		if c.head.CompareAndSwap(cur, u) {
			return
		}
	}
}

// Adopt directly replaces the chain's head, used when a split migrates
// a whole chain from one node to another (spec §4.4: insert split moves
// the last insert node's chain to a brand-new node). Unlike Prepend,
// this is not CAS-guarded and takes no lock; its caller, InsertLeafSplit,
// uses it on a node of a page that is not yet published.
func (c *Chain) Adopt(head *Update) {
	c.head.Store(head)
}

// PrependChecked CAS-prepends u only if the current head still equals
// expectHead, used by the cursor engine's conflict-check-then-write path
// so no update is lost to a race between the check and the publish.
func (c *Chain) PrependChecked(u *Update, expectHead *Update) bool {
	u.setNext(expectHead)
	return c.head.CompareAndSwap(expectHead, u)
}

// MaxModifyChain bounds unbounded MODIFY chains: once this many MODIFYs
// stack up without a STANDARD, the reader materializes a full value and
// the writer that observes it converts it back to STANDARD (spec §4.1).
const MaxModifyChain = 8

// ApplyModify reconstructs a value by applying deltas, oldest first, onto
// base. deltas must be ordered oldest-to-newest for this to produce the
// newest value; callers walking the chain newest-to-oldest must reverse
// first. ApplyModify(base, nil) == base, satisfying the modify round-trip
// law for an empty delta set.
func ApplyModify(base []byte, deltas []ModifyDelta) []byte {
	out := append([]byte(nil), base...)
	for _, d := range deltas {
		util.Assert(d.Offset >= 0 && d.Offset <= len(out), "modify delta offset %d out of range (len %d)", d.Offset, len(out))
		end := d.Offset + d.Size
		if end > len(out) {
			end = len(out)
		}
		next := make([]byte, 0, len(out)-(end-d.Offset)+len(d.Data))
		next = append(next, out[:d.Offset]...)
		next = append(next, d.Data...)
		next = append(next, out[end:]...)
		out = next
	}
	return out
}
