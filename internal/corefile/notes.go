package corefile

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/corescope/corescope/internal/proc"
	"github.com/corescope/corescope/internal/space"
)

const (
	ntPRStatus = 1
	ntAuxv     = 6
	ntFile     = 0x46494c45
)

// cursor is a bounds-checked reader over a note descriptor. Every
// accessor fails with ErrCorrupt instead of running past the buffer.
type cursor struct {
	b   []byte
	off int
}

func (cu *cursor) remaining() int { return len(cu.b) - cu.off }

func (cu *cursor) bytes(n int) ([]byte, error) {
	if n < 0 || cu.remaining() < n {
		return nil, fmt.Errorf("%w: need %d bytes at note offset %d, have %d",
			space.ErrCorrupt, n, cu.off, cu.remaining())
	}
	p := cu.b[cu.off : cu.off+n]
	cu.off += n
	return p, nil
}

func (cu *cursor) align4() {
	cu.off = (cu.off + 3) &^ 3
	if cu.off > len(cu.b) {
		cu.off = len(cu.b)
	}
}

func (cu *cursor) u32() (uint32, error) {
	p, err := cu.bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(p), nil
}

func (cu *cursor) u64() (uint64, error) {
	p, err := cu.bytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(p), nil
}

// word reads a pointer-sized value.
func (cu *cursor) word(ptrSize int) (uint64, error) {
	if ptrSize == 4 {
		v, err := cu.u32()
		return uint64(v), err
	}
	return cu.u64()
}

// parseNotes walks one PT_NOTE segment's sub-records.
func (c *Core) parseNotes(seg []byte) error {
	cu := &cursor{b: seg}
	for cu.remaining() >= 12 {
		namesz, err := cu.u32()
		if err != nil {
			return err
		}
		descsz, err := cu.u32()
		if err != nil {
			return err
		}
		typ, err := cu.u32()
		if err != nil {
			return err
		}
		nameBytes, err := cu.bytes(int(namesz))
		if err != nil {
			return err
		}
		cu.align4()
		desc, err := cu.bytes(int(descsz))
		if err != nil {
			return err
		}
		cu.align4()

		name := string(nameBytes)
		if len(name) > 0 && name[len(name)-1] == 0 {
			name = name[:len(name)-1]
		}
		if name != "CORE" {
			continue
		}
		switch typ {
		case ntPRStatus:
			err = c.parsePRStatus(desc)
		case ntAuxv:
			err = c.parseAuxv(desc)
		case ntFile:
			err = c.parseFileTable(desc)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// parsePRStatus extracts the thread id and raw register block from one
// NT_PRSTATUS record, using the architecture's record layout.
func (c *Core) parsePRStatus(desc []byte) error {
	a := c.Arch
	if len(desc) < a.PRStatusSize() {
		return fmt.Errorf("%w: NT_PRSTATUS is %d bytes, want %d for %s",
			space.ErrCorrupt, len(desc), a.PRStatusSize(), a.Name())
	}
	tid := binary.LittleEndian.Uint32(desc[a.PRStatusPidOffset():])
	regs := make([]byte, a.PRStatusRegsSize())
	copy(regs, desc[a.PRStatusRegsOffset():a.PRStatusRegsOffset()+a.PRStatusRegsSize()])
	c.Threads = append(c.Threads, proc.Thread{Tid: int(tid), GPRegs: regs})
	return nil
}

// parseAuxv extracts the auxiliary vector type/value pairs.
func (c *Core) parseAuxv(desc []byte) error {
	cu := &cursor{b: desc}
	ptr := c.Arch.PointerSize()
	for cu.remaining() >= 2*ptr {
		typ, err := cu.word(ptr)
		if err != nil {
			return err
		}
		val, err := cu.word(ptr)
		if err != nil {
			return err
		}
		c.Auxv = append(c.Auxv, proc.AuxvEntry{Type: typ, Value: val})
		if typ == 0 { // AT_NULL
			break
		}
	}
	return nil
}

// parseFileTable decodes the NT_FILE mapped-file table and re-attaches
// the on-disk files as file-mmap backing stores.
func (c *Core) parseFileTable(desc []byte) error {
	cu := &cursor{b: desc}
	ptr := c.Arch.PointerSize()

	count, err := cu.word(ptr)
	if err != nil {
		return err
	}
	pageSize, err := cu.word(ptr)
	if err != nil {
		return err
	}
	if pageSize == 0 {
		return fmt.Errorf("%w: NT_FILE page size is zero", space.ErrCorrupt)
	}
	if count > uint64(cu.remaining())/uint64(3*ptr) {
		return fmt.Errorf("%w: NT_FILE count %d exceeds descriptor", space.ErrCorrupt, count)
	}

	type entry struct{ start, end, pgoff uint64 }
	entries := make([]entry, 0, count)
	for i := uint64(0); i < count; i++ {
		var e entry
		if e.start, err = cu.word(ptr); err != nil {
			return err
		}
		if e.end, err = cu.word(ptr); err != nil {
			return err
		}
		if e.pgoff, err = cu.word(ptr); err != nil {
			return err
		}
		entries = append(entries, e)
	}

	names := cu.b[cu.off:]
	for i, e := range entries {
		j := bytes.IndexByte(names, 0)
		if j < 0 {
			return fmt.Errorf("%w: NT_FILE missing filename #%d", space.ErrCorrupt, i+1)
		}
		path := string(names[:j])
		names = names[j+1:]
		c.attachModule(Module{
			Start:      space.Address(e.start),
			End:        space.Address(e.end),
			FileOffset: e.pgoff * pageSize,
			Path:       path,
		})
	}
	return nil
}
