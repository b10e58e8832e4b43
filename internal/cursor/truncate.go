package cursor

import (
	"bytes"

	"govetachun/mvccbtree/internal/errs"
	"govetachun/mvccbtree/internal/wtpage"
)

// maxTruncateRestarts bounds the retry loop truncate falls into when a
// concurrent split invalidates its in-flight position (spec §4.2,
// "Truncate", §4.4's split-race discipline).
const maxTruncateRestarts = 16

// Truncate prepends a TOMBSTONE for every key in [startKey, stopKey]
// inclusive (row-store), per spec §4.2. A nil startKey means "from the
// beginning"; a nil stopKey means "to the end". It restarts from
// startKey whenever a concurrent split moves the cursor's position out
// from under it.
func (c *Cursor) Truncate(startKey, stopKey []byte, txn Txn) error {
	if c.bt.Type != wtpage.PageLeafRow {
		return errs.ErrInvalid
	}
	for attempt := 0; attempt < maxTruncateRestarts; attempt++ {
		err := c.truncateOnce(startKey, stopKey, txn)
		if err == errs.ErrRestart {
			continue
		}
		return err
	}
	return errs.Panic("cursor: exceeded restart retry budget during truncate")
}

func (c *Cursor) truncateOnce(startKey, stopKey []byte, txn Txn) error {
	var cur []byte
	var found bool
	var err error

	if startKey == nil {
		if err := c.ensurePositionedRow([]byte{}); err != nil {
			return err
		}
		seq := c.sequence()
		if len(seq) == 0 {
			if err := c.crossLeaf(+1); err != nil {
				if err == errs.ErrNotFound {
					return nil
				}
				return err
			}
			seq = c.sequence()
		}
		if len(seq) > 0 {
			c.applySeqItem(seq[0])
		}
		cur, found, err = c.readCurrentRow(txn.Snapshot)
		if err != nil {
			return err
		}
		if found {
			cur = c.currentKey()
		}
	} else {
		cur, found, err = c.Search(startKey, txn.Snapshot)
		if err != nil {
			return err
		}
		if !found {
			// Land on the key just above startKey to begin tombstoning.
			cur, _, err = c.stepAndRead(txn.Snapshot, +1)
			if err != nil {
				if err == errs.ErrNotFound {
					return nil
				}
				return err
			}
		} else {
			cur = c.currentKey()
		}
	}

	for {
		if stopKey != nil && bytes.Compare(cur, stopKey) > 0 {
			return nil
		}
		chain := c.currentRowChain()
		if chain != nil {
			upd := wtpage.NewTombstone(txn.ID, txn.CommitTS)
			if err := prependWithRetry(chain, upd, txn.ID, txn.Snapshot); err != nil {
				return err
			}
		}
		next, _, err := c.stepAndRead(txn.Snapshot, +1)
		if err != nil {
			if err == errs.ErrNotFound {
				return nil
			}
			return err
		}
		cur = next
	}
}
