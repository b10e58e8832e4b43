package cursor

import (
	"testing"

	"github.com/stretchr/testify/require"

	"govetachun/mvccbtree/internal/errs"
	"govetachun/mvccbtree/internal/walk"
	"govetachun/mvccbtree/internal/wtpage"
)

// staticLeaf builds a row-store leaf with n on-page slots keyed a,b,c...
// already visible as of transaction 0 (treated as genesis-committed).
func staticLeaf(keys ...string) *wtpage.Page {
	leaf := wtpage.NewLeafRow()
	for _, k := range keys {
		leaf.AppendSlot(&wtpage.Slot{
			Key:   []byte(k),
			Value: []byte(k + "!"),
			TW:    wtpage.TimeWindow{StopTS: wtpage.TSMax},
		})
	}
	return leaf
}

func twoLeafTree() (*Btree, []*wtpage.Ref) {
	leaf1 := staticLeaf("a", "b")
	leaf2 := staticLeaf("c", "d")

	ref1 := wtpage.NewRef([]byte("a"), 0, nil)
	ref1.SetState(wtpage.RefMem)
	ref1.SetPage(leaf1)
	ref2 := wtpage.NewRef([]byte("c"), 0, nil)
	ref2.SetState(wtpage.RefMem)
	ref2.SetPage(leaf2)

	root := wtpage.NewInternal([]*wtpage.Ref{ref1, ref2})
	ref1.SetHome(root)
	ref2.SetHome(root)

	bt := NewBtree(wtpage.PageLeafRow, root)
	bt.RootRef.SetPage(root)
	return bt, []*wtpage.Ref{ref1, ref2}
}

func genesisSnapshot() *committedSet {
	return newCommittedSet(0)
}

func TestNextIteratesAcrossLeafBoundary(t *testing.T) {
	bt, refs := twoLeafTree()
	reg := walk.NewRegistry()
	c := NewCursor(bt, reg)
	ids := genesisSnapshot()
	snap := ids.snapshot(100, 0)

	_, found, err := c.Search([]byte("a"), snap)
	require.NoError(t, err)
	require.True(t, found)

	var seen []string
	for i := 0; i < 3; i++ {
		key, _, err := c.Next(Txn{Snapshot: snap})
		if err != nil {
			require.ErrorIs(t, err, errs.ErrNotFound)
			break
		}
		seen = append(seen, string(key))
	}
	require.Equal(t, []string{"b", "c", "d"}, seen)
	_ = refs
}

func TestPrevIteratesBackwardAcrossLeafBoundary(t *testing.T) {
	bt, _ := twoLeafTree()
	reg := walk.NewRegistry()
	c := NewCursor(bt, reg)
	ids := genesisSnapshot()
	snap := ids.snapshot(100, 0)

	_, found, err := c.Search([]byte("c"), snap)
	require.NoError(t, err)
	require.True(t, found)

	key, _, err := c.Prev(Txn{Snapshot: snap})
	require.NoError(t, err)
	require.Equal(t, "b", string(key))

	key, _, err = c.Prev(Txn{Snapshot: snap})
	require.NoError(t, err)
	require.Equal(t, "a", string(key))

	_, _, err = c.Prev(Txn{Snapshot: snap})
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestNextSkipsTombstonedEntries(t *testing.T) {
	bt, _ := twoLeafTree()
	reg := walk.NewRegistry()
	c := NewCursor(bt, reg)
	ids := genesisSnapshot()
	snap := ids.snapshot(100, 0)

	_, found, err := c.Search([]byte("b"), snap)
	require.NoError(t, err)
	require.True(t, found)
	require.NoError(t, c.Remove([]byte("b"), Txn{ID: 5, CommitTS: 5, Snapshot: snap}, false))
	ids.commit(5)

	_, found, err = c.Search([]byte("a"), ids.snapshot(100, 0))
	require.NoError(t, err)
	require.True(t, found)

	key, _, err := c.Next(Txn{Snapshot: ids.snapshot(100, 0)})
	require.NoError(t, err)
	require.Equal(t, "c", string(key))
}
