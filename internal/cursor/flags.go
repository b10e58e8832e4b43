package cursor

// Flags is the cursor's position/configuration bit set (spec §4.2,
// "Cursor state").
type Flags uint32

const (
	KeySet Flags = 1 << iota
	ValueSet
	KeyInt   // key carried as a bare record number, not bytes
	ValueInt // value carried as a bare record number (unused by this engine's layouts, kept for parity)
	Overwrite
	Append
	RawSearchNear
)

func (f Flags) has(bit Flags) bool { return f&bit != 0 }
