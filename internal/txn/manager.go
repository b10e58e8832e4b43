// Package txn implements the session/txn provider (spec §6): begin/
// commit/abort, snapshot acquisition, visibility over a txn id, and the
// connection-wide stable/oldest timestamps RTS tuning reads (§4.6, §6).
// It also owns the two bounded caches spec §5's "shared-resource policy"
// calls for: a dhandle (btree handle) cache shared by every session, and
// a per-session history-store cursor cache.
package txn

import (
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"govetachun/mvccbtree/internal/cursor"
)

// Manager is the connection-wide transaction provider: one per open
// connection, shared by every Session it creates.
type Manager struct {
	nextTxnID atomic.Uint64

	mu        sync.RWMutex
	committed map[uint64]uint64 // txnID -> commitTS

	stableTS atomic.Uint64
	oldestTS atomic.Uint64

	dhandles *lru.Cache[string, *cursor.Btree]
}

// NewManager returns a Manager whose dhandle cache holds at most
// dhandleCacheSize open btree handles (spec §6 config knob
// `dhandle_cache_size`, mirrored in internal/config.Config).
func NewManager(dhandleCacheSize int) (*Manager, error) {
	cache, err := lru.New[string, *cursor.Btree](dhandleCacheSize)
	if err != nil {
		return nil, err
	}
	return &Manager{committed: make(map[uint64]uint64), dhandles: cache}, nil
}

// SetStableTimestamp / StableTimestamp and SetOldestTimestamp /
// OldestTimestamp manage the two connection-wide RTS timestamps (spec
// §6: "RTS tuning via connection config: stable_timestamp,
// oldest_timestamp").
func (m *Manager) SetStableTimestamp(ts uint64) { m.stableTS.Store(ts) }
func (m *Manager) StableTimestamp() uint64      { return m.stableTS.Load() }
func (m *Manager) SetOldestTimestamp(ts uint64) { m.oldestTS.Store(ts) }
func (m *Manager) OldestTimestamp() uint64      { return m.oldestTS.Load() }

// OpenTree returns the cached handle for name, calling open to build and
// cache one on a first open (spec §5 "shared-resource policy": dhandles
// are shared and reused across sessions rather than reopened per use).
func (m *Manager) OpenTree(name string, open func() *cursor.Btree) *cursor.Btree {
	if bt, ok := m.dhandles.Get(name); ok {
		return bt
	}
	bt := open()
	m.dhandles.Add(name, bt)
	return bt
}

// isCommitted reports whether txnID has committed, and is the predicate
// every Txn's Snapshot wires into mvcc.Snapshot.Committed.
func (m *Manager) isCommitted(txnID uint64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.committed[txnID]
	return ok
}

// NewSession opens a session with its own bounded HS-cursor cache (spec
// §5: "a per-session HS cursor cache" avoids reopening an HS cursor for
// every fix-up/read call a session makes).
func (m *Manager) NewSession(hsCursorCacheSize int) (*Session, error) {
	cache, err := lru.New[uint32, *cursor.Cursor](hsCursorCacheSize)
	if err != nil {
		return nil, err
	}
	return &Session{mgr: m, hsCursors: cache}, nil
}

// Session is one client's handle into the connection: it issues
// transactions one at a time and owns its own HS-cursor cache.
type Session struct {
	mgr       *Manager
	hsCursors *lru.Cache[uint32, *cursor.Cursor]

	mu     sync.Mutex
	active *Txn
}

// HSCursor returns this session's cached cursor for the history-store
// btreeID, opening one via open on a first use.
func (s *Session) HSCursor(btreeID uint32, open func() *cursor.Cursor) *cursor.Cursor {
	if c, ok := s.hsCursors.Get(btreeID); ok {
		return c
	}
	c := open()
	s.hsCursors.Add(btreeID, c)
	return c
}
