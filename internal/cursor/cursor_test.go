package cursor

import (
	"testing"

	"github.com/stretchr/testify/require"

	"govetachun/mvccbtree/internal/errs"
	"govetachun/mvccbtree/internal/mvcc"
	"govetachun/mvccbtree/internal/walk"
	"govetachun/mvccbtree/internal/wtpage"
)

// committedSet is a tiny in-test stand-in for the session/txn provider's
// committed-transaction predicate.
type committedSet struct {
	ids map[uint64]bool
}

func newCommittedSet(ids ...uint64) *committedSet {
	m := make(map[uint64]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return &committedSet{m}
}

func (c *committedSet) commit(id uint64) { c.ids[id] = true }

func (c *committedSet) snapshot(readTS, ownTxn uint64) mvcc.Snapshot {
	return mvcc.Snapshot{ReadTS: readTS, OwnTxnID: ownTxn, Committed: func(id uint64) bool { return c.ids[id] }}
}

func newRowCursor() (*Cursor, *Btree) {
	bt := NewBtree(wtpage.PageLeafRow, wtpage.NewLeafRow())
	reg := walk.NewRegistry()
	return NewCursor(bt, reg), bt
}

func TestInsertThenSearchRoundTrips(t *testing.T) {
	c, _ := newRowCursor()
	ids := newCommittedSet()

	txn := Txn{ID: 1, CommitTS: 10}
	require.NoError(t, c.Insert([]byte("b"), []byte("bee"), txn, true))
	ids.commit(1)

	value, found, err := c.Search([]byte("b"), ids.snapshot(100, 0))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("bee"), value)
}

func TestInsertWithoutOverwriteRejectsDuplicate(t *testing.T) {
	c, _ := newRowCursor()
	ids := newCommittedSet()
	txn := Txn{ID: 1, CommitTS: 10}
	require.NoError(t, c.Insert([]byte("b"), []byte("bee"), txn, false))
	ids.commit(1)

	txn2 := Txn{ID: 2, CommitTS: 20, Snapshot: ids.snapshot(100, 2)}
	err := c.Insert([]byte("b"), []byte("other"), txn2, false)
	require.ErrorIs(t, err, errs.ErrDuplicateKey)
}

func TestUpdateRequiresExistingKey(t *testing.T) {
	c, _ := newRowCursor()
	ids := newCommittedSet()
	txn := Txn{ID: 1, CommitTS: 10, Snapshot: ids.snapshot(100, 0)}
	err := c.Update([]byte("missing"), []byte("x"), txn)
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestRemoveTombstonesVisibleKey(t *testing.T) {
	c, _ := newRowCursor()
	ids := newCommittedSet()
	require.NoError(t, c.Insert([]byte("b"), []byte("bee"), Txn{ID: 1, CommitTS: 10}, true))
	ids.commit(1)

	removeTxn := Txn{ID: 2, CommitTS: 20, Snapshot: ids.snapshot(100, 2)}
	require.NoError(t, c.Remove([]byte("b"), removeTxn, false))
	ids.commit(2)

	_, found, err := c.Search([]byte("b"), ids.snapshot(100, 0))
	require.NoError(t, err)
	require.False(t, found)
}

func TestModifyAppliesDeltaOntoStandardValue(t *testing.T) {
	c, _ := newRowCursor()
	ids := newCommittedSet()
	require.NoError(t, c.Insert([]byte("k"), []byte("hello"), Txn{ID: 1, CommitTS: 10}, true))
	ids.commit(1)

	modTxn := Txn{ID: 2, CommitTS: 20, Snapshot: ids.snapshot(100, 2)}
	deltas := []wtpage.ModifyDelta{{Offset: 0, Size: 1, Data: []byte("H")}}
	require.NoError(t, c.Modify([]byte("k"), deltas, modTxn))
	ids.commit(2)

	value, found, err := c.Search([]byte("k"), ids.snapshot(100, 0))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("Hello"), value)
}

func TestReserveBlocksConcurrentWriteAsConflict(t *testing.T) {
	c, _ := newRowCursor()
	ids := newCommittedSet()
	snap1 := ids.snapshot(100, 1)
	require.NoError(t, c.Reserve([]byte("k"), Txn{ID: 1, Snapshot: snap1}))

	snap2 := ids.snapshot(100, 2)
	err := c.Insert([]byte("k"), []byte("v"), Txn{ID: 2, CommitTS: 5, Snapshot: snap2}, true)
	require.ErrorIs(t, err, errs.ErrWriteConflict)
}

func TestSearchNearFindsNearestKeyOnEmptyExactMatch(t *testing.T) {
	c, _ := newRowCursor()
	ids := newCommittedSet(1)
	require.NoError(t, c.Insert([]byte("a"), []byte("1"), Txn{ID: 1, CommitTS: 1}, true))
	require.NoError(t, c.Insert([]byte("c"), []byte("3"), Txn{ID: 1, CommitTS: 1}, true))

	_, cmp, err := c.SearchNear([]byte("b"), ids.snapshot(100, 0))
	require.NoError(t, err)
	require.NotZero(t, cmp)
}
