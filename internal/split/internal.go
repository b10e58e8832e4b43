package split

import (
	"govetachun/mvccbtree/internal/errs"
	"govetachun/mvccbtree/internal/util"
	"govetachun/mvccbtree/internal/wtpage"
)

// groupRefs splits refs into contiguous runs of at most groupSize.
func groupRefs(refs []*wtpage.Ref, groupSize int) [][]*wtpage.Ref {
	var groups [][]*wtpage.Ref
	for start := 0; start < len(refs); start += groupSize {
		end := start + groupSize
		if end > len(refs) {
			end = len(refs)
		}
		groups = append(groups, append([]*wtpage.Ref(nil), refs[start:end]...))
	}
	return groups
}

// InternalSplit divides an internal page's children into groups of at
// most groupSize children and replaces the page with one new internal
// page per group, wired into home in ref's place (spec §4.4 trigger 3,
// "internal page's child count or memory footprint exceeds thresholds").
func (e *Engine) InternalSplit(home *wtpage.Page, ref *wtpage.Ref, groupSize int) ([]*wtpage.Ref, error) {
	page := ref.Page()
	util.Assert(page.Type == wtpage.PageInternal, "internal split only applies to internal pages")

	idx := page.Index()
	if len(idx.Refs) <= groupSize {
		return nil, fail(PhaseReturn, errs.Wrap(errs.KindInvalid, "internal split: child count does not exceed the threshold", nil))
	}

	newRefs := make([]*wtpage.Ref, 0, (len(idx.Refs)+groupSize-1)/groupSize)
	for _, group := range groupRefs(idx.Refs, groupSize) {
		child := wtpage.NewInternal(group)
		childRef := wtpage.NewRef(group[0].Key(), group[0].Recno(), nil)
		childRef.SetState(wtpage.RefMem)
		childRef.SetPage(child)
		for _, r := range group {
			r.SetHome(child)
		}
		child.SetParentRef(childRef)
		newRefs = append(newRefs, childRef)
	}

	if err := e.replaceChildren(home, []*wtpage.Ref{ref}, newRefs); err != nil {
		return nil, err
	}
	return newRefs, nil
}

// RootDeepen replaces root with a brand-new root whose children are
// internal pages, each carrying a slice of root's original child-index
// (spec §4.4 trigger 4, "root deepen"). It returns the new root page;
// the caller (the btree handle owning RootRef) is responsible for
// swapping its root ref to point at it, since this package has no
// notion of a btree handle. The old root page itself is discarded as
// soon as the caller performs that swap -- no ref in the tree names a
// root, so there is nothing for the safe-free protocol to stash here;
// per spec §4.4 step 6, a caller with exclusive access (the handle swap
// is always done under the handle's own lock) may free immediately.
func (e *Engine) RootDeepen(root *wtpage.Page, groupSize int) (*wtpage.Page, error) {
	util.Assert(root.Type == wtpage.PageInternal, "root deepen only applies to an internal root")

	idx := root.Index()
	if len(idx.Refs) <= groupSize {
		return nil, fail(PhaseReturn, errs.Wrap(errs.KindInvalid, "root deepen: child count does not exceed the threshold", nil))
	}

	children := make([]*wtpage.Ref, 0, (len(idx.Refs)+groupSize-1)/groupSize)
	for _, group := range groupRefs(idx.Refs, groupSize) {
		child := wtpage.NewInternal(group)
		childRef := wtpage.NewRef(group[0].Key(), group[0].Recno(), nil)
		childRef.SetState(wtpage.RefMem)
		childRef.SetPage(child)
		for _, r := range group {
			r.SetHome(child)
		}
		child.SetParentRef(childRef)
		children = append(children, childRef)
	}

	newRoot := wtpage.NewInternal(children)
	for _, cr := range children {
		cr.SetHome(newRoot)
	}
	newRoot.SetGeneration(e.nextGeneration())
	return newRoot, nil
}

// ReverseSplit removes emptyRef from home's child-index once its
// subtree has become empty (spec §4.4 trigger 5). If home is itself the
// root, there is nowhere to remove emptyRef's entry to without leaving
// an invalid state, so it reports Busy instead, matching spec: "if it is
// the root, report EBUSY" -- never leave an empty internal page, and the
// root cannot itself be reverse-split away. Otherwise, once the removal
// leaves home with no children, home is marked for urgent eviction so
// this reverse split can cascade up the tree.
func (e *Engine) ReverseSplit(home *wtpage.Page, emptyRef *wtpage.Ref) error {
	if home.ParentRef() == nil {
		return errs.ErrBusy
	}
	if err := e.replaceChildren(home, []*wtpage.Ref{emptyRef}, nil); err != nil {
		return err
	}
	if len(home.Index().Refs) == 0 {
		home.SetEvictSoon(true)
	}
	return nil
}
