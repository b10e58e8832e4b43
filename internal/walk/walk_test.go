package walk

import (
	"testing"

	"github.com/stretchr/testify/require"

	"govetachun/mvccbtree/internal/errs"
	"govetachun/mvccbtree/internal/wtpage"
)

func memRef(key byte) *wtpage.Ref {
	leaf := wtpage.NewLeafRow()
	leaf.AppendSlot(&wtpage.Slot{Key: []byte{key}, Value: []byte{key}, TW: wtpage.TimeWindow{StopTS: wtpage.TSMax}})
	ref := wtpage.NewRef([]byte{key}, 0, nil)
	ref.SetState(wtpage.RefMem)
	ref.SetPage(leaf)
	return ref
}

// buildFlatTree builds a root internal page with n leaf children, a..a+n-1.
func buildFlatTree(n int) (*wtpage.Page, []*wtpage.Ref) {
	root := wtpage.NewInternal(nil)
	refs := make([]*wtpage.Ref, n)
	for i := 0; i < n; i++ {
		ref := memRef(byte('a' + i))
		ref.SetHome(root)
		refs[i] = ref
	}
	root.SetIndex(&wtpage.ChildIndex{Refs: refs})
	return root, refs
}

func TestNextWalksLeavesInOrder(t *testing.T) {
	root, refs := buildFlatTree(3)
	tree := &Tree{Root: root}
	sess := NewRegistry().NewSession()

	next, err := Next(sess, refs[0], tree, Flags{})
	require.NoError(t, err)
	require.Same(t, refs[1], next)

	next, err = Next(sess, refs[1], tree, Flags{})
	require.NoError(t, err)
	require.Same(t, refs[2], next)

	_, err = Next(sess, refs[2], tree, Flags{})
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestPrevWalksLeavesInOrder(t *testing.T) {
	root, refs := buildFlatTree(3)
	tree := &Tree{Root: root}
	sess := NewRegistry().NewSession()

	prev, err := Prev(sess, refs[2], tree, Flags{})
	require.NoError(t, err)
	require.Same(t, refs[1], prev)

	_, err = Prev(sess, refs[0], tree, Flags{})
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestStepRestartsWhenRefNoLongerInParentIndex(t *testing.T) {
	root, refs := buildFlatTree(2)
	tree := &Tree{Root: root}
	sess := NewRegistry().NewSession()

	// Simulate a concurrent split that replaced the parent's index
	// without refs[0] in it.
	root.SetIndex(&wtpage.ChildIndex{Refs: []*wtpage.Ref{refs[1]}})

	_, err := Next(sess, refs[0], tree, Flags{})
	require.ErrorIs(t, err, errs.ErrRestart)
}

func TestCoupleRetractsHazardOnStateMismatch(t *testing.T) {
	sess := NewRegistry().NewSession()
	ref := memRef('x')
	ref.SetState(wtpage.RefLocked)

	_, err := sess.Couple(ref)
	require.ErrorIs(t, err, errs.ErrRestart)
	require.False(t, sess.Holds(ref.Page()))
}

func TestRegistryMinGenerationIgnoresIdleSessions(t *testing.T) {
	reg := NewRegistry()
	s1 := reg.NewSession()
	s2 := reg.NewSession()

	require.EqualValues(t, ^uint64(0), reg.MinGeneration())

	s1.PublishGeneration(5)
	s2.PublishGeneration(9)
	require.EqualValues(t, 5, reg.MinGeneration())

	s1.ClearGeneration()
	require.EqualValues(t, 9, reg.MinGeneration())
}
