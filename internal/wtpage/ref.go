package wtpage

import "sync/atomic"

// Ref is a parent-to-child handle (spec §3, "Reference (ref)"). Its
// state, page pointer and home are all updated atomically so a reader
// hazard-coupling through it never observes a torn combination.
type Ref struct {
	state atomic.Int32
	page  atomic.Pointer[Page]
	home  atomic.Pointer[Page]

	// PindexHint is an advisory index into home's child-index; always
	// re-verified on use (spec §3).
	pindexHint atomic.Int32

	addr Addr

	// Row-store separator key, or column-store separator record number.
	key   []byte
	recno uint64

	fastDelete atomic.Pointer[FastDelete]
	hsPointer  atomic.Pointer[HSPointer]
}

func NewRef(key []byte, recno uint64, addr Addr) *Ref {
	r := &Ref{key: key, recno: recno, addr: addr}
	if addr != nil {
		r.state.Store(int32(RefDisk))
	} else {
		r.state.Store(int32(RefMem))
	}
	return r
}

func (r *Ref) State() RefState        { return RefState(r.state.Load()) }
func (r *Ref) SetState(s RefState)    { r.state.Store(int32(s)) }

// CASState transitions the ref from `from` to `to`, reporting success.
// Used for the transitions spec §3 enumerates (e.g. MEM -> LOCKED before
// eviction, so a racing evictor never double-frees a page).
func (r *Ref) CASState(from, to RefState) bool {
	return r.state.CompareAndSwap(int32(from), int32(to))
}

func (r *Ref) Page() *Page     { return r.page.Load() }
func (r *Ref) SetPage(p *Page) { r.page.Store(p) }

func (r *Ref) Home() *Page     { return r.home.Load() }
func (r *Ref) SetHome(p *Page) { r.home.Store(p) }

func (r *Ref) PindexHint() int      { return int(r.pindexHint.Load()) }
func (r *Ref) SetPindexHint(i int)  { r.pindexHint.Store(int32(i)) }

func (r *Ref) Addr() Addr { return r.addr }
func (r *Ref) SetAddr(a Addr) { r.addr = a }

func (r *Ref) Key() []byte    { return r.key }
func (r *Ref) Recno() uint64  { return r.recno }

func (r *Ref) FastDelete() *FastDelete     { return r.fastDelete.Load() }
func (r *Ref) SetFastDelete(fd *FastDelete) { r.fastDelete.Store(fd) }

func (r *Ref) HSPointer() *HSPointer      { return r.hsPointer.Load() }
func (r *Ref) SetHSPointer(hp *HSPointer) { r.hsPointer.Store(hp) }

// FindPosition locates self within idx, trying the advisory pindex hint
// first and falling back to a linear scan (spec §3: "hint index ...
// advisory; verified on use"). On success it refreshes the hint.
func FindPosition(idx *ChildIndex, self *Ref) (int, bool) {
	if idx == nil {
		return -1, false
	}
	if hint := self.PindexHint(); hint >= 0 && hint < len(idx.Refs) && idx.Refs[hint] == self {
		return hint, true
	}
	for i, r := range idx.Refs {
		if r == self {
			self.SetPindexHint(i)
			return i, true
		}
	}
	return -1, false
}
