package wtpage

import (
	"bytes"
	"sort"
	"sync"
	"sync/atomic"
)

// Slot is one on-page row (ROW) or column cell (COL-VAR, COL-FIX). Key is
// only populated for row-store; column-store position is implied by
// index into Page.slots relative to Page.FirstRecno.
type Slot struct {
	Key   []byte
	Value []byte
	TW    TimeWindow
	Chain Chain
}

// ChildIndex is an internal page's atomically-replaceable, ordered array
// of child refs (spec §3, "Page").
type ChildIndex struct {
	Refs []*Ref
}

// Page is the in-memory representation shared by every leaf layout and
// by internal pages. A page exclusively owns its slot arrays, insert
// lists, update chains and disk image (spec §3, "Ownership rules").
type Page struct {
	Type PageType

	// Mu serializes split, modification-init and overflow bookkeeping on
	// this page (spec §5: "Per-page spin lock ... held only for bounded
	// work").
	Mu sync.Mutex

	index atomic.Pointer[ChildIndex]

	// parentRef is the ref, in this page's home's child-index, that
	// names this page -- the other half of ref.home, forming the
	// ref<->page indirection described in spec §9's design notes. Nil
	// for the root page.
	parentRef atomic.Pointer[Ref]

	// FirstRecno is the record number of slots[0], for the two
	// column-store layouts (on-disk header's "record-number-of-first-key").
	FirstRecno uint64
	// FixedBits is the COL-FIX value width in bits (1, 2, 4 or 8).
	FixedBits int

	slots       []*Slot
	insertLists []*InsertList // row-store only: len(slots)+1
	appendList  *InsertList   // column-store only: records beyond FirstRecno+len(slots)

	generation   atomic.Uint64
	evictSoon    atomic.Bool
	inMemorySize atomic.Int64
}

// NewLeafRow creates an empty row-store leaf.
func NewLeafRow() *Page {
	return &Page{
		Type:        PageLeafRow,
		insertLists: []*InsertList{NewInsertList()},
	}
}

// NewLeafColVar creates an empty variable-length column-store leaf
// starting at firstRecno.
func NewLeafColVar(firstRecno uint64) *Page {
	return &Page{
		Type:       PageLeafColVar,
		FirstRecno: firstRecno,
		appendList: NewAppendList(),
	}
}

// NewLeafColFix creates an empty fixed-length column-store leaf with the
// given bit width, starting at firstRecno.
func NewLeafColFix(firstRecno uint64, fixedBits int) *Page {
	return &Page{
		Type:       PageLeafColFix,
		FirstRecno: firstRecno,
		FixedBits:  fixedBits,
		appendList: NewAppendList(),
	}
}

// NewInternal creates an internal page with the given initial index.
func NewInternal(refs []*Ref) *Page {
	p := &Page{Type: PageInternal}
	p.SetIndex(&ChildIndex{Refs: refs})
	return p
}

// Index loads the current child-index with acquire semantics (spec §5:
// "readers load the index pointer with acquire semantics").
func (p *Page) Index() *ChildIndex { return p.index.Load() }

// SetIndex atomically publishes a new child-index (spec §4.4 step 4: the
// publishing step, after which failures are fatal).
func (p *Page) SetIndex(ci *ChildIndex) { p.index.Store(ci) }

// Generation / SetGeneration manage the split generation stamped on this
// page by the split engine's safe-free protocol (spec §4.4).
func (p *Page) Generation() uint64     { return p.generation.Load() }
func (p *Page) SetGeneration(gen uint64) { p.generation.Store(gen) }

// ParentRef / SetParentRef manage the back-pointer from this page to the
// ref naming it in its home's child-index (nil at the root).
func (p *Page) ParentRef() *Ref     { return p.parentRef.Load() }
func (p *Page) SetParentRef(r *Ref) { p.parentRef.Store(r) }

func (p *Page) EvictSoon() bool  { return p.evictSoon.Load() }
func (p *Page) SetEvictSoon(v bool) { p.evictSoon.Store(v) }

// NSlots returns the number of on-page slots (0 for internal pages).
func (p *Page) NSlots() int { return len(p.slots) }

func (p *Page) Slot(i int) *Slot { return p.slots[i] }

// AppendSlot adds a new on-page slot (row-store build path / split
// migration); row-store pages grow one insert list per new slot gap.
func (p *Page) AppendSlot(s *Slot) {
	p.slots = append(p.slots, s)
	if p.Type == PageLeafRow {
		p.insertLists = append(p.insertLists, NewInsertList())
	}
}

// InsertList returns the insert list that precedes slots[i] (row-store),
// or the one after the last slot when i == NSlots().
func (p *Page) InsertList(i int) *InsertList { return p.insertLists[i] }

// AppendList returns the column-store append list (records beyond the
// on-page range).
func (p *Page) AppendList() *InsertList { return p.appendList }

// SearchRow binary-searches the row-store slot array for key, returning
// the slot index and whether it was an exact match. On no match, idx is
// the insertion point (the smallest slot index whose key > key, or
// NSlots() if key is larger than every slot).
func (p *Page) SearchRow(key []byte) (idx int, exact bool) {
	n := len(p.slots)
	idx = sort.Search(n, func(i int) bool { return bytes.Compare(p.slots[i].Key, key) >= 0 })
	if idx < n && bytes.Equal(p.slots[idx].Key, key) {
		return idx, true
	}
	return idx, false
}

// SearchColumn maps a record number to a slot index for the two
// column-store layouts. found is false when recno falls in the implicit
// (not-yet-written, reads-as-zero) gap at or beyond the on-page range,
// or before FirstRecno.
func (p *Page) SearchColumn(recno uint64) (idx int, found bool) {
	if recno < p.FirstRecno {
		return 0, false
	}
	off := recno - p.FirstRecno
	if off >= uint64(len(p.slots)) {
		return len(p.slots), false
	}
	return int(off), true
}
