// Package history implements the history store (spec §4.5): an ordinary
// row-store B-tree keyed by (btree-id, user-key, start_ts, counter) that
// holds the versions reconciliation and RTS push off the live tree.
package history

import (
	"encoding/binary"

	"govetachun/mvccbtree/internal/wtpage"
)

// Key is one history-store row's key (spec §4.5: "key-format (btree-id,
// user-key, start_ts, counter)"). Counter disambiguates multiple entries
// sharing a start_ts for the same user key.
type Key struct {
	BtreeID uint32
	UserKey []byte
	StartTS uint64
	Counter uint64
}

// EncodeKey produces a memcomparable encoding: byte-lexicographic order
// on the result matches field order on (BtreeID, UserKey, StartTS,
// Counter). UserKey is escape-and-terminated (0x00 -> 0x00 0xFF, then a
// 0x00 0x00 terminator) since it is the only variable-length field and a
// bare length prefix would not preserve ordering across keys whose
// prefixes differ in length.
func EncodeKey(k Key) []byte {
	out := make([]byte, 0, 4+len(k.UserKey)*2+2+8+8)
	var buf4 [4]byte
	binary.BigEndian.PutUint32(buf4[:], k.BtreeID)
	out = append(out, buf4[:]...)

	for _, b := range k.UserKey {
		if b == 0x00 {
			out = append(out, 0x00, 0xFF)
		} else {
			out = append(out, b)
		}
	}
	out = append(out, 0x00, 0x00)

	var buf8 [8]byte
	binary.BigEndian.PutUint64(buf8[:], k.StartTS)
	out = append(out, buf8[:]...)
	binary.BigEndian.PutUint64(buf8[:], k.Counter)
	out = append(out, buf8[:]...)
	return out
}

// DecodeKey reverses EncodeKey. It panics on malformed input since the
// only producer of these bytes is EncodeKey itself.
func DecodeKey(b []byte) Key {
	btreeID := binary.BigEndian.Uint32(b[:4])
	rest := b[4:]

	var userKey []byte
	i := 0
	for {
		if rest[i] == 0x00 {
			if rest[i+1] == 0x00 {
				i += 2
				break
			}
			userKey = append(userKey, 0x00)
			i += 2
			continue
		}
		userKey = append(userKey, rest[i])
		i++
	}
	rest = rest[i:]

	startTS := binary.BigEndian.Uint64(rest[:8])
	counter := binary.BigEndian.Uint64(rest[8:16])
	return Key{BtreeID: btreeID, UserKey: userKey, StartTS: startTS, Counter: counter}
}

// Value is one history-store row's value (spec §4.5: "value-format
// (stop_durable_ts, durable_ts, type, payload)"), extended with the
// start-side txn/timestamp fields a reader needs to evaluate visibility
// without consulting the live tree.
type Value struct {
	StartTxn      uint64
	DurableTS     uint64
	StopTS        uint64
	DurableStopTS uint64
	Prepare       bool
	Type          wtpage.UpdateType
	Value         []byte              // full value, Type == UpdateStandard
	Deltas        []wtpage.ModifyDelta // Type == UpdateModify
}

func EncodeValue(v Value) []byte {
	out := make([]byte, 0, 32+len(v.Value))
	var buf8 [8]byte
	putU64 := func(x uint64) { binary.BigEndian.PutUint64(buf8[:], x); out = append(out, buf8[:]...) }
	putU64(v.StartTxn)
	putU64(v.DurableTS)
	putU64(v.StopTS)
	putU64(v.DurableStopTS)
	if v.Prepare {
		out = append(out, 1)
	} else {
		out = append(out, 0)
	}
	out = append(out, byte(v.Type))

	switch v.Type {
	case wtpage.UpdateModify:
		out = appendDeltas(out, v.Deltas)
	case wtpage.UpdateTombstone:
		// no payload
	default:
		var buf4 [4]byte
		binary.BigEndian.PutUint32(buf4[:], uint32(len(v.Value)))
		out = append(out, buf4[:]...)
		out = append(out, v.Value...)
	}
	return out
}

func DecodeValue(b []byte) Value {
	var v Value
	v.StartTxn = binary.BigEndian.Uint64(b[0:8])
	v.DurableTS = binary.BigEndian.Uint64(b[8:16])
	v.StopTS = binary.BigEndian.Uint64(b[16:24])
	v.DurableStopTS = binary.BigEndian.Uint64(b[24:32])
	v.Prepare = b[32] != 0
	v.Type = wtpage.UpdateType(b[33])
	rest := b[34:]

	switch v.Type {
	case wtpage.UpdateModify:
		v.Deltas = decodeDeltas(rest)
	case wtpage.UpdateTombstone:
	default:
		n := binary.BigEndian.Uint32(rest[:4])
		v.Value = append([]byte(nil), rest[4:4+n]...)
	}
	return v
}

func appendDeltas(out []byte, deltas []wtpage.ModifyDelta) []byte {
	var buf4 [4]byte
	binary.BigEndian.PutUint32(buf4[:], uint32(len(deltas)))
	out = append(out, buf4[:]...)
	for _, d := range deltas {
		binary.BigEndian.PutUint32(buf4[:], uint32(d.Offset))
		out = append(out, buf4[:]...)
		binary.BigEndian.PutUint32(buf4[:], uint32(d.Size))
		out = append(out, buf4[:]...)
		binary.BigEndian.PutUint32(buf4[:], uint32(len(d.Data)))
		out = append(out, buf4[:]...)
		out = append(out, d.Data...)
	}
	return out
}

func decodeDeltas(b []byte) []wtpage.ModifyDelta {
	n := binary.BigEndian.Uint32(b[:4])
	b = b[4:]
	deltas := make([]wtpage.ModifyDelta, n)
	for i := range deltas {
		offset := binary.BigEndian.Uint32(b[:4])
		b = b[4:]
		size := binary.BigEndian.Uint32(b[:4])
		b = b[4:]
		dlen := binary.BigEndian.Uint32(b[:4])
		b = b[4:]
		deltas[i] = wtpage.ModifyDelta{Offset: int(offset), Size: int(size), Data: append([]byte(nil), b[:dlen]...)}
		b = b[dlen:]
	}
	return deltas
}
