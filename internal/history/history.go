package history

import (
	"bytes"
	"fmt"
	"sync"
	"sync/atomic"

	"govetachun/mvccbtree/internal/cursor"
	"govetachun/mvccbtree/internal/errs"
	"govetachun/mvccbtree/internal/mvcc"
	"govetachun/mvccbtree/internal/walk"
	"govetachun/mvccbtree/internal/wtpage"
)

// Entry is one version reconciliation (or a Delete-key pass) pushes into
// the history store for a single user key (spec §4.5 "Insert").
type Entry struct {
	StartTS       uint64
	StartTxn      uint64
	DurableTS     uint64
	StopTS        uint64
	DurableStopTS uint64
	Prepare       bool
	Type          wtpage.UpdateType
	Value         []byte
	Deltas        []wtpage.ModifyDelta
}

type squashPos struct {
	ts  uint64
	txn uint64
}

// Store is the history store: one row-store B-tree shared by every
// table in a connection (spec §4.5: "opened/cached per-connection").
// Every row it holds is written exactly once and never updated in
// place, so HS reads/writes bypass the live tree's transaction
// visibility machinery entirely -- an HS row's own key already encodes
// the version's position in time, and this package evaluates visibility
// against that key rather than against commit state in the underlying
// row-store.
type Store struct {
	bt  *cursor.Btree
	reg *walk.Registry

	mu       sync.Mutex
	counters map[string]uint64
	lastSeen map[string]squashPos

	squashes atomic.Uint64
}

// NewStore returns an empty history store that keeps reg for its
// hazard-registry session bookkeeping. cmd/engine gives it a Registry of
// its own, separate from the ones its trees use.
func NewStore(reg *walk.Registry) *Store {
	return &Store{
		bt:       cursor.NewBtree(wtpage.PageLeafRow, wtpage.NewLeafRow()),
		reg:      reg,
		counters: make(map[string]uint64),
		lastSeen: make(map[string]squashPos),
	}
}

// Squashes reports how many redundant consecutive (start_ts, start_txn)
// entries InsertUpdates has suppressed (spec §4.5 "Squash").
func (s *Store) Squashes() uint64 { return s.squashes.Load() }

func mapKey(btreeID uint32, userKey []byte) string {
	return fmt.Sprintf("%d|%s", btreeID, userKey)
}

// hsSnapshot is the always-committed view every HS-internal cursor
// operation reads and writes under. The row-store's own MVCC machinery
// still runs (it is what makes SearchNear/Prev/Next work at all), but
// every entry this package writes must be visible to every subsequent
// HS operation regardless of which external transaction wrote it, since
// visibility here is governed by the (start_ts, start_txn) fields this
// package tracks itself, not by the HS tree's internal commit state.
func hsSnapshot() mvcc.Snapshot {
	return mvcc.Snapshot{IgnoreTimestamps: true, Committed: func(uint64) bool { return true }}
}

var hsTxnCounter atomic.Uint64

func hsTxn() cursor.Txn {
	return cursor.Txn{ID: hsTxnCounter.Add(1), Snapshot: hsSnapshot()}
}

// InsertUpdates writes entries for (btreeID, userKey), allocating a
// fresh counter per distinct start_ts and suppressing any entry whose
// (StartTS, StartTxn) matches the last entry written for this key
// across every prior call (spec §4.5 "Squash"). entries should be
// supplied oldest-to-newest.
func (s *Store) InsertUpdates(btreeID uint32, userKey []byte, entries []Entry) error {
	id := mapKey(btreeID, userKey)

	s.mu.Lock()
	last, hadLast := s.lastSeen[id]
	s.mu.Unlock()

	c := cursor.NewCursor(s.bt, s.reg)
	defer c.Close()

	for _, e := range entries {
		if hadLast && last.ts == e.StartTS && last.txn == e.StartTxn {
			s.squashes.Add(1)
			continue
		}
		if err := s.insertOne(c, btreeID, userKey, e); err != nil {
			return err
		}
		last, hadLast = squashPos{e.StartTS, e.StartTxn}, true
	}

	s.mu.Lock()
	s.lastSeen[id] = last
	s.mu.Unlock()
	return nil
}

func (s *Store) insertOne(c *cursor.Cursor, btreeID uint32, userKey []byte, e Entry) error {
	counterID := fmt.Sprintf("%s|%d", mapKey(btreeID, userKey), e.StartTS)
	s.mu.Lock()
	counter := s.counters[counterID]
	s.counters[counterID] = counter + 1
	s.mu.Unlock()

	hk := EncodeKey(Key{BtreeID: btreeID, UserKey: userKey, StartTS: e.StartTS, Counter: counter})
	hv := EncodeValue(Value{
		StartTxn:      e.StartTxn,
		DurableTS:     e.DurableTS,
		StopTS:        e.StopTS,
		DurableStopTS: e.DurableStopTS,
		Prepare:       e.Prepare,
		Type:          e.Type,
		Value:         e.Value,
		Deltas:        e.Deltas,
	})
	return c.Insert(hk, hv, hsTxn(), true)
}

// Read implements spec §4.5 "Read": position near (btree-id, user-key,
// read_ts), scan backward for the newest entry whose start_ts <= read_ts
// and whose start_txn txnVisible accepts, then continue backward
// accumulating MODIFY deltas until a STANDARD base is reached.
func (s *Store) Read(btreeID uint32, userKey []byte, readTS uint64, txnVisible func(txnID uint64) bool) ([]byte, bool, error) {
	c := cursor.NewCursor(s.bt, s.reg)
	defer c.Close()
	snap := hsSnapshot()

	target := EncodeKey(Key{BtreeID: btreeID, UserKey: userKey, StartTS: readTS, Counter: ^uint64(0)})
	val, cmp, err := c.SearchNear(target, snap)
	if err != nil {
		return nil, false, nil
	}
	curKey, curVal := c.CurrentKey(), val
	if cmp > 0 {
		k, v, perr := c.Prev(cursor.Txn{Snapshot: snap})
		if perr != nil {
			return nil, false, nil
		}
		curKey, curVal = k, v
	}

	var modifies [][]wtpage.ModifyDelta
	started := false
	for curKey != nil {
		k := DecodeKey(curKey)
		if k.BtreeID != btreeID || !bytes.Equal(k.UserKey, userKey) {
			return nil, false, nil
		}
		v := DecodeValue(curVal)

		if !started {
			if k.StartTS > readTS || !txnVisible(v.StartTxn) {
				nk, nv, perr := c.Prev(cursor.Txn{Snapshot: snap})
				if perr != nil {
					return nil, false, nil
				}
				curKey, curVal = nk, nv
				continue
			}
			started = true
		}
		if v.Prepare {
			return nil, false, errs.New(errs.KindInvalid, "history store: prepared entry encountered during read")
		}

		switch v.Type {
		case wtpage.UpdateTombstone:
			return nil, false, nil
		case wtpage.UpdateModify:
			modifies = append(modifies, v.Deltas)
		default:
			return materialize(v.Value, modifies), true, nil
		}

		nk, nv, perr := c.Prev(cursor.Txn{Snapshot: snap})
		if perr != nil {
			return nil, false, nil
		}
		curKey, curVal = nk, nv
	}
	return nil, false, nil
}

func materialize(base []byte, modifies [][]wtpage.ModifyDelta) []byte {
	v := base
	for i := len(modifies) - 1; i >= 0; i-- {
		v = wtpage.ApplyModify(v, modifies[i])
	}
	return v
}

// DeleteKey implements spec §4.5 "Delete-key": when a key's value became
// a zero-timestamp (non-timestamped) write, every existing HS entry for
// that key is superseded by a freshly appended, globally-visible
// tombstone at the same start_ts, so future Read calls for any read_ts
// stop at a tombstone instead of returning a stale version.
func (s *Store) DeleteKey(btreeID uint32, userKey []byte, txnID uint64) error {
	c := cursor.NewCursor(s.bt, s.reg)
	defer c.Close()
	snap := hsSnapshot()

	start := EncodeKey(Key{BtreeID: btreeID, UserKey: userKey, StartTS: 0, Counter: 0})
	_, cmp, err := c.SearchNear(start, snap)
	if err != nil {
		return nil
	}
	curKey := c.CurrentKey()
	if cmp < 0 {
		k, _, perr := c.Next(cursor.Txn{Snapshot: snap})
		if perr != nil {
			return nil
		}
		curKey = k
	}

	var toStamp []uint64
	for curKey != nil {
		k := DecodeKey(curKey)
		if k.BtreeID != btreeID || !bytes.Equal(k.UserKey, userKey) {
			break
		}
		toStamp = append(toStamp, k.StartTS)
		nk, _, perr := c.Next(cursor.Txn{Snapshot: snap})
		if perr != nil {
			break
		}
		curKey = nk
	}

	for _, ts := range toStamp {
		if err := s.insertOne(c, btreeID, userKey, Entry{
			StartTS:  ts,
			StartTxn: txnID,
			Type:     wtpage.UpdateTombstone,
		}); err != nil {
			return err
		}
	}
	return nil
}
