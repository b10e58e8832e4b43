package txn

import (
	"testing"

	"github.com/stretchr/testify/require"

	"govetachun/mvccbtree/internal/cursor"
	"govetachun/mvccbtree/internal/errs"
	"govetachun/mvccbtree/internal/walk"
	"govetachun/mvccbtree/internal/wtpage"
)

func newRowBtree() *cursor.Btree {
	return cursor.NewBtree(wtpage.PageLeafRow, wtpage.NewLeafRow())
}

func newRegistry() *walk.Registry { return walk.NewRegistry() }

func TestBeginRejectsSecondActiveTransaction(t *testing.T) {
	mgr, err := NewManager(8)
	require.NoError(t, err)
	sess, err := mgr.NewSession(8)
	require.NoError(t, err)

	_, err = sess.Begin(0)
	require.NoError(t, err)

	_, err = sess.Begin(0)
	require.True(t, errs.Is(err, errs.KindInvalid))
}

func TestCommitPublishesVisibilityToOtherSessions(t *testing.T) {
	mgr, err := NewManager(8)
	require.NoError(t, err)
	bt := newRowBtree()

	writerSess, err := mgr.NewSession(8)
	require.NoError(t, err)
	wtx, err := writerSess.Begin(0)
	require.NoError(t, err)

	c := cursor.NewCursor(bt, newRegistry())
	require.NoError(t, c.Insert([]byte("k"), []byte("v"), wtx.AsCursorTxn(10), true))

	readerSess, err := mgr.NewSession(8)
	require.NoError(t, err)
	early, err := readerSess.Begin(5)
	require.NoError(t, err)
	_, found, err := c.Search([]byte("k"), early.Snapshot())
	require.NoError(t, err)
	require.False(t, found, "write not yet committed must stay invisible to another session")
	require.NoError(t, early.Abort())

	require.NoError(t, wtx.Commit(10))

	late, err := readerSess.Begin(10)
	require.NoError(t, err)
	value, found, err := c.Search([]byte("k"), late.Snapshot())
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("v"), value)
}

func TestOwnUncommittedWriteIsVisibleToItself(t *testing.T) {
	mgr, err := NewManager(8)
	require.NoError(t, err)
	bt := newRowBtree()
	sess, err := mgr.NewSession(8)
	require.NoError(t, err)
	wtx, err := sess.Begin(0)
	require.NoError(t, err)

	c := cursor.NewCursor(bt, newRegistry())
	require.NoError(t, c.Insert([]byte("k"), []byte("v"), wtx.AsCursorTxn(10), true))

	value, found, err := c.Search([]byte("k"), wtx.Snapshot())
	require.NoError(t, err)
	require.True(t, found, "a transaction must see its own uncommitted write")
	require.Equal(t, []byte("v"), value)
}

func TestAbortLeavesWriteInvisibleEvenAfterRetry(t *testing.T) {
	mgr, err := NewManager(8)
	require.NoError(t, err)
	bt := newRowBtree()
	sess, err := mgr.NewSession(8)
	require.NoError(t, err)
	wtx, err := sess.Begin(0)
	require.NoError(t, err)

	c := cursor.NewCursor(bt, newRegistry())
	require.NoError(t, c.Insert([]byte("k"), []byte("v"), wtx.AsCursorTxn(10), true))
	require.NoError(t, wtx.Abort())

	reader, err := sess.Begin(100)
	require.NoError(t, err)
	_, found, err := c.Search([]byte("k"), reader.Snapshot())
	require.NoError(t, err)
	require.False(t, found)
}

func TestCommitAndAbortAreTerminal(t *testing.T) {
	mgr, err := NewManager(8)
	require.NoError(t, err)
	sess, err := mgr.NewSession(8)
	require.NoError(t, err)
	wtx, err := sess.Begin(0)
	require.NoError(t, err)

	require.NoError(t, wtx.Commit(10))
	require.Error(t, wtx.Commit(10))
	require.Error(t, wtx.Abort())
}

func TestOpenTreeCachesByName(t *testing.T) {
	mgr, err := NewManager(8)
	require.NoError(t, err)
	opens := 0
	open := func() *cursor.Btree {
		opens++
		return newRowBtree()
	}
	first := mgr.OpenTree("demo", open)
	second := mgr.OpenTree("demo", open)
	require.Same(t, first, second)
	require.Equal(t, 1, opens)
}

func TestStableAndOldestTimestampsRoundTrip(t *testing.T) {
	mgr, err := NewManager(8)
	require.NoError(t, err)
	mgr.SetStableTimestamp(42)
	mgr.SetOldestTimestamp(7)
	require.Equal(t, uint64(42), mgr.StableTimestamp())
	require.Equal(t, uint64(7), mgr.OldestTimestamp())
}

func TestHSCursorCachesPerBtreeID(t *testing.T) {
	mgr, err := NewManager(8)
	require.NoError(t, err)
	sess, err := mgr.NewSession(8)
	require.NoError(t, err)
	bt := newRowBtree()
	opens := 0
	open := func() *cursor.Cursor {
		opens++
		return cursor.NewCursor(bt, newRegistry())
	}
	first := sess.HSCursor(1, open)
	second := sess.HSCursor(1, open)
	require.Same(t, first, second)
	require.Equal(t, 1, opens)
}
