// Package space models a target's virtual address space as an ordered
// set of blocks. Each block carries a priority-ordered list of backing
// stores (overlay > file mmap > origin) and answers bounds-checked
// reads; the space routes address queries to the owning block.
//
// Construction is a single-writer phase. Once built, concurrent reads
// are safe; applying an overlay requires exclusive access and must not
// be interleaved with reads.
package space

// Address is a virtual address in the target process.
type Address uint64

// Perm represents memory permissions.
type Perm uint8

const (
	PermRead   Perm = 1 << 0
	PermWrite  Perm = 1 << 1
	PermExec   Perm = 1 << 2
	PermShared Perm = 1 << 3
)

func (p Perm) String() string {
	b := [4]byte{'-', '-', '-', 'p'}
	if p&PermRead != 0 {
		b[0] = 'r'
	}
	if p&PermWrite != 0 {
		b[1] = 'w'
	}
	if p&PermExec != 0 {
		b[2] = 'x'
	}
	if p&PermShared != 0 {
		b[3] = 's'
	}
	return string(b[:])
}

// Mode selects which backing stores a read may consult.
type Mode int

const (
	// ModeAll tries overlay, then file mmap, then origin; first
	// success wins.
	ModeAll Mode = iota
	// ModeOrigin reads only the bytes recorded in the core file.
	ModeOrigin
	// ModeFileMmap forces a re-read from the on-disk backing file.
	ModeFileMmap
	// ModeOverlay reads only operator-applied patches.
	ModeOverlay
)

func (m Mode) allows(k Kind) bool {
	switch m {
	case ModeAll:
		return true
	case ModeOrigin:
		return k == Origin
	case ModeFileMmap:
		return k == FileMmap
	case ModeOverlay:
		return k == Overlay
	}
	return false
}

func (m Mode) String() string {
	switch m {
	case ModeAll:
		return "all"
	case ModeOrigin:
		return "origin"
	case ModeFileMmap:
		return "mmap"
	case ModeOverlay:
		return "overlay"
	}
	return "unknown"
}
