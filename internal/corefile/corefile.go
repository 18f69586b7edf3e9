// Package corefile loads an ELF core file into a layered address
// space. LOAD segments become blocks backed by the core's own bytes;
// the NT_FILE note re-attaches the on-disk shared objects as
// lower-priority backing stores so pages elided from the dump can be
// recovered.
package corefile

import (
	"debug/elf"
	"fmt"
	"os"

	"github.com/corescope/corescope/internal/arch"
	"github.com/corescope/corescope/internal/log"
	"github.com/corescope/corescope/internal/proc"
	"github.com/corescope/corescope/internal/space"
)

// maxNoteSegment bounds how much note data we are willing to parse.
const maxNoteSegment = 16 * 1024 * 1024

// Module is one file-backed range from the NT_FILE table.
type Module struct {
	Start      space.Address
	End        space.Address
	FileOffset uint64
	Path       string
}

// Core is one loaded core file session.
type Core struct {
	Path    string
	Arch    arch.Arch
	Space   *space.Space
	Threads []proc.Thread
	Auxv    []proc.AuxvEntry
	Modules []Module

	file *os.File
}

// Open parses the named core file. The returned Core keeps the file
// open to serve origin reads; callers own Close.
func Open(path string) (*Core, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	c, err := load(path, f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return c, nil
}

// Close releases the underlying core file. Reads through the space
// fail afterwards.
func (c *Core) Close() error {
	return c.file.Close()
}

// FindModule returns the module whose range covers addr, or nil.
func (c *Core) FindModule(addr space.Address) *Module {
	addr &= space.Address(c.Arch.PointerMask())
	for i := range c.Modules {
		if addr >= c.Modules[i].Start && addr < c.Modules[i].End {
			return &c.Modules[i]
		}
	}
	return nil
}

func load(path string, f *os.File) (*Core, error) {
	e, err := elf.NewFile(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", space.ErrCorrupt, path, err)
	}
	if e.Type != elf.ET_CORE {
		return nil, fmt.Errorf("%w: %s is %v, not ET_CORE", space.ErrCorrupt, path, e.Type)
	}
	a, err := arch.ByMachine(e.Machine)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", space.ErrCorrupt, path, err)
	}

	c := &Core{Path: path, Arch: a, Space: space.New(a), file: f}

	// LOAD segments first: the NT_FILE parse below attaches file
	// stores to the blocks they create.
	for _, prog := range e.Progs {
		if prog.Type != elf.PT_LOAD || prog.Memsz == 0 {
			continue
		}
		b := space.NewBlock(space.Address(prog.Vaddr), prog.Memsz, permFromFlags(prog.Flags))
		if prog.Filesz > 0 {
			b.AddStore(space.NewOriginStore(f, int64(prog.Off), prog.Filesz))
		}
		if err := c.Space.AddBlock(b); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}

	for _, prog := range e.Progs {
		if prog.Type != elf.PT_NOTE || prog.Filesz == 0 {
			continue
		}
		if prog.Filesz > maxNoteSegment {
			return nil, fmt.Errorf("%w: note segment of %d bytes at 0x%x",
				space.ErrCorrupt, prog.Filesz, prog.Off)
		}
		desc := make([]byte, prog.Filesz)
		if _, err := f.ReadAt(desc, int64(prog.Off)); err != nil {
			return nil, fmt.Errorf("%w: truncated note segment at 0x%x: %v",
				space.ErrCorrupt, prog.Off, err)
		}
		if err := c.parseNotes(desc); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	return c, nil
}

func permFromFlags(fl elf.ProgFlag) space.Perm {
	var p space.Perm
	if fl&elf.PF_R != 0 {
		p |= space.PermRead
	}
	if fl&elf.PF_W != 0 {
		p |= space.PermWrite
	}
	if fl&elf.PF_X != 0 {
		p |= space.PermExec
	}
	return p
}

func (c *Core) attachModule(m Module) {
	c.Modules = append(c.Modules, m)

	// An entry can span several LOAD blocks; each covered block gets
	// the file store with the offset advanced to its own start.
	attached := false
	for _, b := range c.Space.Blocks() {
		if b.Vaddr() < m.Start || b.Vaddr() >= m.End {
			continue
		}
		fileOff := m.FileOffset + uint64(b.Vaddr()-m.Start)
		size := min(uint64(m.End-b.Vaddr()), b.Size())
		b.SetFile(m.Path, fileOff)
		b.AddStore(space.NewFileStore(m.Path, int64(fileOff), size))
		attached = true
	}
	if !attached {
		// A file range with no LOAD segment (fully elided region);
		// nothing to attach, the module table entry still lets
		// callers find the file.
		log.Debugf("NT_FILE entry [0x%x,0x%x) %s has no LOAD segment", m.Start, m.End, m.Path)
	}
}
