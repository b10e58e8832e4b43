package walk

import (
	"govetachun/mvccbtree/internal/errs"
	"govetachun/mvccbtree/internal/util"
	"govetachun/mvccbtree/internal/wtpage"
)

// Encode computes a page's normalized position in [0, 1] (spec §4.3,
// "Normalized position"): at each level it folds in (slot+sub)/entries,
// climbing from ref to the root. start seeds the innermost fraction;
// passing 0.5 means "the middle of this leaf's own slot", which is what
// makes Decode(tree, Encode(ref, 0.5)) return to ref on a stable tree.
func Encode(ref *wtpage.Ref, start float64) float64 {
	frac := start
	cur := ref
	for {
		home := cur.Home()
		if home == nil {
			break
		}
		idx := home.Index()
		pos, ok := wtpage.FindPosition(idx, cur)
		if !ok {
			pos = 0
		}
		n := len(idx.Refs)
		if n == 0 {
			n = 1
		}
		frac = (float64(pos) + frac) / float64(n)

		parentRef := home.ParentRef()
		if parentRef == nil {
			break // home is the root; frac already reflects the whole path
		}
		cur = parentRef
	}
	return util.Clamp01(frac)
}

// Decode walks from root following pos: at each internal page it scales
// pos by the child count, descends into the resulting integer index, and
// recurses with the fractional remainder. It returns the ref of the
// first leaf reached, or the ref of the first child on the path that is
// not in memory (spec: "used by eviction and partition
// cursors to resume traversal after releasing hazard pointers").
func Decode(root *wtpage.Page, pos float64) (*wtpage.Ref, error) {
	pos = util.Clamp01(pos)
	cur := root
	for {
		idx := cur.Index()
		if idx == nil || len(idx.Refs) == 0 {
			return nil, errs.ErrNotFound
		}
		n := len(idx.Refs)
		scaled := pos * float64(n)
		i := int(scaled)
		if i >= n {
			i = n - 1
		}
		if i < 0 {
			i = 0
		}
		frac := scaled - float64(i)
		r := idx.Refs[i]

		child := r.Page()
		if child == nil || r.State() != wtpage.RefMem {
			return r, nil
		}
		if child.Type.IsLeaf() {
			return r, nil
		}
		cur = child
		pos = frac
	}
}
