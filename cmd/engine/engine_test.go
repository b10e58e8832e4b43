package main

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"govetachun/mvccbtree/internal/config"
	"govetachun/mvccbtree/internal/cursor"
	"govetachun/mvccbtree/internal/errs"
	"govetachun/mvccbtree/internal/history"
	"govetachun/mvccbtree/internal/mvcc"
	"govetachun/mvccbtree/internal/rts"
	"govetachun/mvccbtree/internal/split"
	"govetachun/mvccbtree/internal/walk"
	"govetachun/mvccbtree/internal/wtpage"
)

func newTestEngine(t *testing.T) *Engine {
	eng, err := Open(config.Default())
	require.NoError(t, err)
	eng.OpenRowTree("demo")
	return eng
}

func newRegistryForTest() *walk.Registry { return walk.NewRegistry() }

// committedSetForTest is a standalone committed-transaction predicate for
// tests exercising internal/cursor directly (bypassing internal/txn).
type committedSetForTest struct{ ids map[uint64]bool }

func newCommittedSetForTest(ids ...uint64) *committedSetForTest {
	m := make(map[uint64]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return &committedSetForTest{m}
}

func (c *committedSetForTest) commit(id uint64) { c.ids[id] = true }

func (c *committedSetForTest) snapshot(readTS, ownTxn uint64) mvcc.Snapshot {
	return mvcc.Snapshot{ReadTS: readTS, OwnTxnID: ownTxn, Committed: func(id uint64) bool { return c.ids[id] }}
}

// Scenario 1 (spec §8): row-store insert + search at two read timestamps.
func TestScenarioRowStoreInsertAndSearch(t *testing.T) {
	eng := newTestEngine(t)
	sess, err := eng.Txns.NewSession(8)
	require.NoError(t, err)

	wtx, err := sess.Begin(0)
	require.NoError(t, err)
	c := eng.Cursor("demo")
	defer c.Close()
	require.NoError(t, c.Insert([]byte("apple"), []byte("1"), wtx.AsCursorTxn(10), true))
	require.NoError(t, wtx.Commit(10))

	rsess, err := eng.Txns.NewSession(8)
	require.NoError(t, err)

	early, err := rsess.Begin(5)
	require.NoError(t, err)
	_, found, err := c.Search([]byte("apple"), early.Snapshot())
	require.NoError(t, err)
	require.False(t, found)
	require.NoError(t, early.Abort())

	late, err := rsess.Begin(10)
	require.NoError(t, err)
	value, found, err := c.Search([]byte("apple"), late.Snapshot())
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("1"), value)
	require.NoError(t, late.Abort())
}

// Scenario 2 (spec §8): update then roll back past the update's commit.
func TestScenarioUpdateThenRollback(t *testing.T) {
	eng := newTestEngine(t)
	sess, err := eng.Txns.NewSession(8)
	require.NoError(t, err)
	c := eng.Cursor("demo")
	defer c.Close()

	t1, err := sess.Begin(0)
	require.NoError(t, err)
	require.NoError(t, c.Insert([]byte("k"), []byte("a"), t1.AsCursorTxn(10), true))
	require.NoError(t, t1.Commit(10))

	t2, err := sess.Begin(0)
	require.NoError(t, err)
	require.NoError(t, c.Update([]byte("k"), []byte("b"), t2.AsCursorTxn(20)))
	require.NoError(t, t2.Commit(20))

	rtsEngine := rts.NewEngine(nil)
	_, err = rtsEngine.RollbackTree(1, eng.trees["demo"].bt.RootRef, rts.Params{StableTS: 15, OldestVisibleTxn: 1 << 62}, 0)
	require.NoError(t, err)

	rsess, err := eng.Txns.NewSession(8)
	require.NoError(t, err)
	reader, err := rsess.Begin(wtpage.TSMax)
	require.NoError(t, err)
	value, found, err := c.Search([]byte("k"), reader.Snapshot())
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("a"), value)
}

// Scenario 3 (spec §8): fixed-length column-store implicit zero-fill.
func TestScenarioFixedLengthColumnStoreImplicitFill(t *testing.T) {
	bt := cursor.NewBtree(wtpage.PageLeafColFix, wtpage.NewLeafColFix(0, 8))
	reg := newRegistryForTest()
	c := cursor.NewCursor(bt, reg)
	defer c.Close()

	ids := newCommittedSetForTest()
	txn := cursor.Txn{ID: 1, CommitTS: 1, Snapshot: ids.snapshot(1, 1)}
	require.NoError(t, c.UpdateRecno(5, []byte{0x7}, txn))
	ids.commit(1)
	bt.SeedAppendCounter(5)

	snap := ids.snapshot(100, 0)
	value, found, err := c.SearchRecno(3, snap)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte{0x00}, value)

	value, found, err = c.SearchRecno(5, snap)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte{0x7}, value)

	_, found, err = c.SearchRecno(6, snap)
	require.NoError(t, err)
	require.False(t, found)
}

// Scenario 4 (spec §8): a split in the middle of an iteration must not
// repeat or drop keys. The iterator observes the structural restart the
// retired ref produces at the leaf boundary and recovers by
// re-searching its last position, the retry-from-last-safe-point
// discipline cursor callers follow.
func TestScenarioSplitUnderIteration(t *testing.T) {
	leaf := wtpage.NewLeafRow()
	leafRef := wtpage.NewRef([]byte("k000"), 0, nil)
	leafRef.SetState(wtpage.RefMem)
	leafRef.SetPage(leaf)
	root := wtpage.NewInternal([]*wtpage.Ref{leafRef})
	leafRef.SetHome(root)

	bt := cursor.NewBtree(wtpage.PageLeafRow, root)
	reg := newRegistryForTest()
	c := cursor.NewCursor(bt, reg)
	defer c.Close()

	ids := newCommittedSetForTest()
	var want []string
	for i := 0; i < 500; i++ {
		k := fmt.Sprintf("k%03d", i)
		want = append(want, k)
		require.NoError(t, c.Insert([]byte(k), []byte(k), cursor.Txn{ID: 1, CommitTS: 1}, true))
	}
	ids.commit(1)
	snap := ids.snapshot(100, 0)

	_, found, err := c.Search([]byte("k000"), snap)
	require.NoError(t, err)
	require.True(t, found)

	splitEng := split.NewEngine(reg)
	didSplit := false
	got := []string{"k000"}
	last := []byte("k000")
	for {
		key, _, err := c.Next(cursor.Txn{Snapshot: snap})
		if err != nil {
			if errs.Is(err, errs.KindNotFound) {
				break
			}
			require.True(t, errs.Is(err, errs.KindRestart), "unexpected iteration error: %v", err)
			c.Reset()
			_, found, serr := c.Search(last, snap)
			require.NoError(t, serr)
			require.True(t, found)
			continue
		}
		got = append(got, string(key))
		last = append([]byte(nil), key...)
		if !didSplit && len(got) == 250 {
			_, _, serr := splitEng.InsertLeafSplit(leafRef)
			require.NoError(t, serr)
			didSplit = true
		}
	}
	require.True(t, didSplit)
	require.Equal(t, want, got)
}

// Scenario 5 (spec §8): history-store read through a modify chain,
// simulating reconciliation spilling ts=10..20 into the history store.
func TestScenarioHistoryStoreReadThroughModifyChain(t *testing.T) {
	hs := history.NewStore(newRegistryForTest())
	require.NoError(t, hs.InsertUpdates(1, []byte("k"), []history.Entry{
		{StartTS: 10, StartTxn: 1, Type: wtpage.UpdateStandard, Value: []byte("ABCDE")},
		{StartTS: 20, StartTxn: 2, Type: wtpage.UpdateModify, Deltas: []wtpage.ModifyDelta{{Offset: 1, Size: 1, Data: []byte("x")}}},
		{StartTS: 30, StartTxn: 3, Type: wtpage.UpdateModify, Deltas: []wtpage.ModifyDelta{{Offset: 3, Size: 1, Data: []byte("y")}}},
	}))

	alwaysVisible := func(uint64) bool { return true }

	v, found, err := hs.Read(1, []byte("k"), 15, alwaysVisible)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("ABCDE"), v)

	v, found, err = hs.Read(1, []byte("k"), 25, alwaysVisible)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("AxCDE"), v)

	v, found, err = hs.Read(1, []byte("k"), 35, alwaysVisible)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("AxCyE"), v)
}

// Scenario 6 (spec §8): truncate a range, then roll back to before it ran.
func TestScenarioTruncateRangeThenRollback(t *testing.T) {
	eng := newTestEngine(t)
	sess, err := eng.Txns.NewSession(8)
	require.NoError(t, err)
	c := eng.Cursor("demo")
	defer c.Close()

	seed, err := sess.Begin(0)
	require.NoError(t, err)
	for i, k := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, c.Insert([]byte(k), []byte(k), seed.AsCursorTxn(uint64(10+i)), true))
	}
	require.NoError(t, seed.Commit(10))

	trunc, err := sess.Begin(0)
	require.NoError(t, err)
	require.NoError(t, c.Truncate([]byte("b"), []byte("d"), trunc.AsCursorTxn(50)))
	require.NoError(t, trunc.Commit(50))

	rsess, err := eng.Txns.NewSession(8)
	require.NoError(t, err)
	reader, err := rsess.Begin(wtpage.TSMax)
	require.NoError(t, err)
	for _, tc := range []struct {
		key   string
		found bool
	}{{"a", true}, {"b", false}, {"c", false}, {"d", false}, {"e", true}} {
		_, found, err := c.Search([]byte(tc.key), reader.Snapshot())
		require.NoError(t, err)
		require.Equal(t, tc.found, found, "key %s after truncate", tc.key)
	}

	rtsEngine := rts.NewEngine(nil)
	_, err = rtsEngine.RollbackTree(1, eng.trees["demo"].bt.RootRef, rts.Params{StableTS: 40, OldestVisibleTxn: 1 << 62}, 0)
	require.NoError(t, err)

	rsess2, err := eng.Txns.NewSession(8)
	require.NoError(t, err)
	reader2, err := rsess2.Begin(wtpage.TSMax)
	require.NoError(t, err)
	for _, k := range []string{"a", "b", "c", "d", "e"} {
		_, found, err := c.Search([]byte(k), reader2.Snapshot())
		require.NoError(t, err)
		require.True(t, found, "key %s must be restored before the truncate's stable point", k)
	}
}
