package mvcc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"govetachun/mvccbtree/internal/errs"
	"govetachun/mvccbtree/internal/wtpage"
)

func committedAt(commitTS map[uint64]uint64) func(uint64) bool {
	return func(txnID uint64) bool {
		_, ok := commitTS[txnID]
		return ok
	}
}

// Scenario 1: row-store insert + search at two read timestamps.
func TestReadVisibilityAtDifferentTimestamps(t *testing.T) {
	var chain wtpage.Chain
	u := wtpage.NewStandard(1, 10, []byte("1"))
	chain.Prepend(u)

	snap := Snapshot{ReadTS: 5, Committed: committedAt(map[uint64]uint64{1: 10})}
	res, err := Read(&chain, nil, wtpage.TimeWindow{StopTS: wtpage.TSMax}, snap)
	require.NoError(t, err)
	require.False(t, res.Found)

	snap.ReadTS = 10
	res, err = Read(&chain, nil, wtpage.TimeWindow{StopTS: wtpage.TSMax}, snap)
	require.NoError(t, err)
	require.True(t, res.Found)
	require.Equal(t, []byte("1"), res.Value)
}

// Scenario 5: HS-style modify chain (exercised directly on an in-memory
// chain here; history.Store.Read applies HS deltas with its own walk).
func TestReadAppliesModifyChainInOrder(t *testing.T) {
	var chain wtpage.Chain
	base := wtpage.NewStandard(1, 10, []byte("ABCDE"))
	mod1 := wtpage.NewModify(2, 20, []wtpage.ModifyDelta{{Offset: 1, Size: 1, Data: []byte("x")}})
	mod2 := wtpage.NewModify(3, 30, []wtpage.ModifyDelta{{Offset: 3, Size: 1, Data: []byte("y")}})
	chain.Prepend(base)
	chain.Prepend(mod1)
	chain.Prepend(mod2)

	committed := map[uint64]uint64{1: 10, 2: 20, 3: 30}
	snap := Snapshot{ReadTS: 15, Committed: committedAt(committed)}
	res, _ := Read(&chain, nil, wtpage.TimeWindow{StopTS: wtpage.TSMax}, snap)
	require.True(t, res.Found)
	require.Equal(t, []byte("ABCDE"), res.Value)

	snap.ReadTS = 25
	res, _ = Read(&chain, nil, wtpage.TimeWindow{StopTS: wtpage.TSMax}, snap)
	require.Equal(t, []byte("AxCDE"), res.Value)

	snap.ReadTS = 35
	res, _ = Read(&chain, nil, wtpage.TimeWindow{StopTS: wtpage.TSMax}, snap)
	require.Equal(t, []byte("AxCyE"), res.Value)
}

func TestTombstoneHidesOlderVersions(t *testing.T) {
	var chain wtpage.Chain
	chain.Prepend(wtpage.NewStandard(1, 10, []byte("a")))
	chain.Prepend(wtpage.NewTombstone(2, 20))

	snap := Snapshot{ReadTS: 30, Committed: committedAt(map[uint64]uint64{1: 10, 2: 20})}
	res, err := Read(&chain, nil, wtpage.TimeWindow{StopTS: wtpage.TSMax}, snap)
	require.NoError(t, err)
	require.False(t, res.Found)
}

func TestPrepareInProgressReturnsConflictUnlessIgnored(t *testing.T) {
	var chain wtpage.Chain
	u := wtpage.NewStandard(5, 0, []byte("v"))
	u.Prepare = wtpage.PrepareInProgress
	chain.Prepend(u)

	snap := Snapshot{ReadTS: 100, Committed: func(uint64) bool { return true }}
	_, err := Read(&chain, nil, wtpage.TimeWindow{StopTS: wtpage.TSMax}, snap)
	require.ErrorIs(t, err, errs.ErrPrepareConflict)

	snap.IgnorePrepare = true
	res, err := Read(&chain, nil, wtpage.TimeWindow{StopTS: wtpage.TSMax}, snap)
	require.NoError(t, err)
	require.True(t, res.Found)
}

func TestConflictCheckAllowsOwnWriterAndFullyCommitted(t *testing.T) {
	var chain wtpage.Chain
	chain.Prepend(wtpage.NewStandard(1, 10, []byte("a")))

	snap := Snapshot{ReadTS: 20, OwnTxnID: 1, Committed: committedAt(map[uint64]uint64{1: 10})}
	_, err := ConflictCheck(&chain, 1, snap)
	require.NoError(t, err)

	snap2 := Snapshot{ReadTS: 20, OwnTxnID: 99, Committed: committedAt(map[uint64]uint64{1: 10})}
	_, err = ConflictCheck(&chain, 99, snap2)
	require.NoError(t, err, "fully committed before the reader's snapshot must not conflict")
}

func TestConflictCheckRejectsUncommittedOtherWriter(t *testing.T) {
	var chain wtpage.Chain
	chain.Prepend(wtpage.NewReserve(7))

	snap := Snapshot{ReadTS: 20, OwnTxnID: 8, Committed: func(uint64) bool { return false }}
	_, err := ConflictCheck(&chain, 8, snap)
	require.ErrorIs(t, err, errs.ErrWriteConflict)
}

func TestConflictCheckSkipsAbortedHeadButCASesOnPhysicalHead(t *testing.T) {
	var chain wtpage.Chain
	committedUpdate := wtpage.NewStandard(1, 10, []byte("a"))
	chain.Prepend(committedUpdate)
	abortedUpdate := wtpage.NewStandard(2, 0, []byte("b"))
	abortedUpdate.Abort()
	chain.Prepend(abortedUpdate)

	snap := Snapshot{ReadTS: 20, OwnTxnID: 99, Committed: committedAt(map[uint64]uint64{1: 10})}
	physicalHead, err := ConflictCheck(&chain, 99, snap)
	require.NoError(t, err)
	require.Same(t, abortedUpdate, physicalHead, "CAS comparator must be the real chain head, aborted or not")
}
