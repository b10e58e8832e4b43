package split

import (
	"govetachun/mvccbtree/internal/errs"
	"govetachun/mvccbtree/internal/util"
	"govetachun/mvccbtree/internal/wtpage"
)

// InsertLeafSplit migrates the last insert node of a row-store leaf's
// last insert list to a brand-new right sibling with its own single-slot
// insert list (spec §4.4 trigger 1, "Leaf insert-split"). It produces
// two new refs -- left keeps the same in-memory page, right is the new
// sibling -- and the original ref's state becomes SPLIT once the parent
// index is updated, exactly as spec §4.4 describes.
//
// ref must be MEM with a non-nil Home (a root that is itself a bare leaf
// has no parent to rewire into; callers must deepen the root first,
// hence the Busy return).
func (e *Engine) InsertLeafSplit(ref *wtpage.Ref) (left, right *wtpage.Ref, err error) {
	page := ref.Page()
	util.Assert(page.Type == wtpage.PageLeafRow, "insert split only applies to row-store leaves")

	home := ref.Home()
	if home == nil {
		return nil, nil, errs.ErrBusy
	}

	lastList := page.InsertList(page.NSlots())
	victim := lastList.RemoveTail()
	if victim == nil {
		return nil, nil, fail(PhaseReturn, errs.Wrap(errs.KindInvalid, "split: no insert-list tail to migrate", nil))
	}

	// PhaseReturn: allocate the new right page and graft the migrated
	// chain onto it. Nothing here has touched the parent yet.
	rightPage := wtpage.NewLeafRow()
	node := rightPage.InsertList(0).Insert(victim.Key, 0)
	node.Chain.Adopt(victim.Chain.Head())

	sep := PromoteKey(lastKeyOfPage(page), victim.Key)

	leftRef := wtpage.NewRef(append([]byte(nil), ref.Key()...), ref.Recno(), nil)
	leftRef.SetState(wtpage.RefMem)
	leftRef.SetPage(page)

	rightRef := wtpage.NewRef(sep, 0, nil)
	rightRef.SetState(wtpage.RefMem)
	rightRef.SetPage(rightPage)

	if err := e.replaceChildren(home, []*wtpage.Ref{ref}, []*wtpage.Ref{leftRef, rightRef}); err != nil {
		return nil, nil, err
	}
	page.SetParentRef(leftRef)
	rightPage.SetParentRef(rightRef)

	return leftRef, rightRef, nil
}

// BlockResult is one new on-disk or in-memory leaf produced by
// reconciliation, the input multi-block split converts into refs (spec
// §4.4 trigger 2, "Multi-block split"). Exactly one of Addr or Image
// must be set. A set HSPointer records that reconciliation spilled
// older versions of this block's keys to the history store; per spec
// §9's open question, this module has no separate LOOKASIDE ref state,
// so that is modeled as metadata on an otherwise-DISK ref rather than a
// distinct state.
type BlockResult struct {
	Key       []byte
	Recno     uint64
	Addr      wtpage.Addr
	HSPointer *wtpage.HSPointer
	Image     []byte
	Page      *wtpage.Page // required when Image is set: the re-instantiated page with saved updates re-applied
}

// MultiBlockSplit converts a multi-block reconciliation result into an
// array of refs and invokes the parent-split protocol (spec §4.4 trigger
// 2). keyed selects row-store (Key) vs column-store (Recno) separators.
func (e *Engine) MultiBlockSplit(home *wtpage.Page, oldRef *wtpage.Ref, results []BlockResult, keyed bool) ([]*wtpage.Ref, error) {
	if len(results) == 0 {
		return nil, fail(PhaseReturn, errs.Wrap(errs.KindInvalid, "multi-block split requires at least one result", nil))
	}

	newRefs := make([]*wtpage.Ref, len(results))
	for i, r := range results {
		var ref *wtpage.Ref
		if keyed {
			ref = wtpage.NewRef(append([]byte(nil), r.Key...), 0, r.Addr)
		} else {
			ref = wtpage.NewRef(nil, r.Recno, r.Addr)
		}

		switch {
		case r.Addr != nil:
			ref.SetState(wtpage.RefDisk)
			ref.SetAddr(r.Addr)
			if r.HSPointer != nil {
				ref.SetHSPointer(r.HSPointer)
			}
		case r.Image != nil:
			util.Assert(r.Page != nil, "multi-block split: in-memory result missing its re-instantiated page")
			ref.SetPage(r.Page)
			ref.SetState(wtpage.RefMem)
		default:
			return nil, fail(PhaseReturn, errs.Wrap(errs.KindInvalid, "multi-block split result has neither an address nor an image", nil))
		}
		newRefs[i] = ref
	}

	if err := e.replaceChildren(home, []*wtpage.Ref{oldRef}, newRefs); err != nil {
		return nil, err
	}
	for _, ref := range newRefs {
		if ref.State() == wtpage.RefMem {
			ref.Page().SetParentRef(ref)
		}
	}
	return newRefs, nil
}
