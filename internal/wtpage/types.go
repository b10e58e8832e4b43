// Package wtpage implements the in-memory page, ref, update and time
// window data model: the shared representation every other package in
// this module (mvcc, cursor, walk, split, history, rts) operates on.
package wtpage

// PageType distinguishes internal pages from the three leaf layouts.
type PageType uint8

const (
	PageInternal PageType = iota
	PageLeafRow
	PageLeafColVar
	PageLeafColFix
)

func (t PageType) IsLeaf() bool { return t != PageInternal }

func (t PageType) String() string {
	switch t {
	case PageInternal:
		return "internal"
	case PageLeafRow:
		return "leaf-row"
	case PageLeafColVar:
		return "leaf-col-var"
	case PageLeafColFix:
		return "leaf-col-fix"
	default:
		return "unknown"
	}
}

// RefState is the state machine a Ref moves through (spec §3).
type RefState int32

const (
	RefDisk RefState = iota
	RefDeleted
	RefLocked
	RefMem
	RefReading
	RefSplit
)

func (s RefState) String() string {
	switch s {
	case RefDisk:
		return "disk"
	case RefDeleted:
		return "deleted"
	case RefLocked:
		return "locked"
	case RefMem:
		return "mem"
	case RefReading:
		return "reading"
	case RefSplit:
		return "split"
	default:
		return "unknown"
	}
}

// TSNone is the "not set" timestamp; TSMax ("still live") is the StopTS
// NewTimeWindow gives a window with no stop, per spec §3 ("a missing stop
// means still live"). A zero-value TimeWindow has StopTS TSNone.
const (
	TSNone = uint64(0)
	TSMax  = ^uint64(0)
)

// TimeWindow is the start/stop commit+durable timestamp tuple plus the
// prepare flag attached to every persisted key/value (spec §3).
type TimeWindow struct {
	StartTS        uint64
	StartTxn       uint64
	DurableStartTS uint64
	StopTS         uint64
	StopTxn        uint64
	DurableStopTS  uint64
	Prepare        bool
}

// NewTimeWindow returns a time window that starts now and has no stop.
func NewTimeWindow(startTS, startTxn uint64) TimeWindow {
	return TimeWindow{
		StartTS:        startTS,
		StartTxn:       startTxn,
		DurableStartTS: startTS,
		StopTS:         TSMax,
		StopTxn:        TSMax,
		DurableStopTS:  TSMax,
	}
}

// Live reports whether the window has no stop recorded yet.
func (w TimeWindow) Live() bool { return w.StopTS == TSMax }

// Stable reports whether the window is not prepared, every durable
// timestamp it carries is at or below stableTS, and every txn id it
// carries is below oldestVisibleTxn (the stop fields count only when a
// stop is set) — i.e. whether RTS can skip this window untouched.
func (w TimeWindow) Stable(stableTS uint64, oldestVisibleTxn uint64) bool {
	if w.Prepare {
		return false
	}
	if w.DurableStartTS > stableTS || w.StartTxn >= oldestVisibleTxn {
		return false
	}
	if !w.Live() && (w.DurableStopTS > stableTS || w.StopTxn >= oldestVisibleTxn) {
		return false
	}
	return true
}

// FastDelete records a range-truncate that logically deleted an entire
// subtree without reading it (spec §3, Ref "fast-delete metadata").
type FastDelete struct {
	TxnID uint64
	TS    uint64
}

// HSPointer summarizes the history-store entries relevant to a page: the
// minimum HS page id and the maximum txn/timestamp recorded there (spec §3).
type HSPointer struct {
	MinPageID uint64
	MaxTxn    uint64
	MaxTS     uint64
}

// Addr is an opaque block-manager cookie naming a persisted page image.
type Addr []byte
