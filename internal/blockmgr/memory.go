package blockmgr

import (
	"encoding/binary"
	"sync"

	"govetachun/mvccbtree/internal/errs"
)

// Memory is an in-memory BlockManager, used by tests and by any caller
// that does not need durability.
// It never compresses; WriteSize is the identity function.
type Memory struct {
	mu      sync.Mutex
	nextID  uint64
	objects map[uint64][]byte
}

func NewMemory() *Memory {
	return &Memory{objects: make(map[uint64][]byte)}
}

func (m *Memory) WriteSize(proposed int) (int, error) { return proposed, nil }

func (m *Memory) Write(image []byte) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID
	m.objects[id] = append([]byte(nil), image...)
	addr := make([]byte, 8)
	binary.BigEndian.PutUint64(addr, id)
	return addr, nil
}

func (m *Memory) Read(addr []byte) ([]byte, error) {
	if err := checkAddr(addr); err != nil {
		return nil, err
	}
	id := binary.BigEndian.Uint64(addr)
	m.mu.Lock()
	defer m.mu.Unlock()
	img, ok := m.objects[id]
	if !ok {
		return nil, errs.New(errs.KindCorruption, "block address does not name a live object")
	}
	return append([]byte(nil), img...), nil
}

func (m *Memory) Free(addr []byte) error {
	if err := checkAddr(addr); err != nil {
		return err
	}
	id := binary.BigEndian.Uint64(addr)
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, id)
	return nil
}

func (m *Memory) Checkpoint() error { return nil }

func (m *Memory) Discard() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects = nil
	return nil
}
