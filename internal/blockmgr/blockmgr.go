// Package blockmgr models the block manager external collaborator
// (spec §6): an opaque byte-addressable object store for page images.
// The core never reaches into a file or mmap region directly — it goes
// through this narrow interface, the same way the teacher's BTree goes
// through KV's pageGet/pageNew/pageDel callbacks.
package blockmgr

import (
	"govetachun/mvccbtree/internal/errs"
)

// MaxAddrLen bounds an opaque address cookie's length (spec §6: "All
// addresses are opaque byte strings <= a fixed maximum length").
const MaxAddrLen = 32

// BlockManager is the contract the core depends on. Implementations
// persist and retrieve fixed-size page images addressed by an opaque
// cookie; they know nothing about B-tree structure.
type BlockManager interface {
	// WriteSize reports the size actually accepted for a page of the
	// proposed size (compression may shrink it; some managers simply
	// echo proposed back).
	WriteSize(proposed int) (int, error)
	// Write persists image and returns its address.
	Write(image []byte) ([]byte, error)
	// Read retrieves the image previously returned by Write at addr.
	Read(addr []byte) ([]byte, error)
	// Free releases addr; a subsequent Read of it is undefined.
	Free(addr []byte) error
	// Checkpoint durably persists all writes since the last checkpoint.
	Checkpoint() error
	// Discard releases all resources; the manager is unusable afterward.
	Discard() error
}

func checkAddr(addr []byte) error {
	if len(addr) == 0 || len(addr) > MaxAddrLen {
		return errs.Wrap(errs.KindInvalid, "block address length out of range", nil)
	}
	return nil
}
