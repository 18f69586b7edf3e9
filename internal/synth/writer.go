package synth

import (
	"debug/elf"
	"encoding/binary"

	"github.com/corescope/corescope/internal/arch"
	"github.com/corescope/corescope/internal/space"
)

// ELF structure sizes per class.
const (
	ehdrSize64 = 64
	phdrSize64 = 56
	ehdrSize32 = 52
	phdrSize32 = 32
)

func ehdrSize(a arch.Arch) uint64 {
	if a.Class() == elf.ELFCLASS32 {
		return ehdrSize32
	}
	return ehdrSize64
}

func phdrSize(a arch.Arch) uint64 {
	if a.Class() == elf.ELFCLASS32 {
		return phdrSize32
	}
	return phdrSize64
}

// buildEhdr emits the ELF identification header for an ET_CORE file
// with phnum program headers immediately following it.
func buildEhdr(a arch.Arch, phnum int) []byte {
	le := binary.LittleEndian
	if a.Class() == elf.ELFCLASS32 {
		header := make([]byte, ehdrSize32)
		copy(header[0:4], elf.ELFMAG)
		header[elf.EI_CLASS] = byte(elf.ELFCLASS32)
		header[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
		header[elf.EI_VERSION] = byte(elf.EV_CURRENT)
		le.PutUint16(header[16:18], uint16(elf.ET_CORE))
		le.PutUint16(header[18:20], uint16(a.Machine()))
		le.PutUint32(header[20:24], uint32(elf.EV_CURRENT))
		// e_entry and e_shoff stay zero for core files.
		le.PutUint32(header[28:32], ehdrSize32) // e_phoff
		le.PutUint16(header[40:42], ehdrSize32) // e_ehsize
		le.PutUint16(header[42:44], phdrSize32) // e_phentsize
		le.PutUint16(header[44:46], uint16(phnum))
		return header
	}

	header := make([]byte, ehdrSize64)
	copy(header[0:4], elf.ELFMAG)
	header[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	header[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	header[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	le.PutUint16(header[16:18], uint16(elf.ET_CORE))
	le.PutUint16(header[18:20], uint16(a.Machine()))
	le.PutUint32(header[20:24], uint32(elf.EV_CURRENT))
	// e_entry and e_shoff stay zero for core files.
	le.PutUint64(header[32:40], ehdrSize64) // e_phoff
	le.PutUint16(header[52:54], ehdrSize64) // e_ehsize
	le.PutUint16(header[54:56], phdrSize64) // e_phentsize
	le.PutUint16(header[56:58], uint16(phnum))
	return header
}

// buildPhdr emits one program header.
func buildPhdr(a arch.Arch, typ elf.ProgType, flags elf.ProgFlag,
	off, vaddr, filesz, memsz, align uint64) []byte {
	le := binary.LittleEndian
	if a.Class() == elf.ELFCLASS32 {
		phdr := make([]byte, phdrSize32)
		le.PutUint32(phdr[0:4], uint32(typ))
		le.PutUint32(phdr[4:8], uint32(off))
		le.PutUint32(phdr[8:12], uint32(vaddr))
		le.PutUint32(phdr[12:16], uint32(vaddr)) // p_paddr mirrors p_vaddr
		le.PutUint32(phdr[16:20], uint32(filesz))
		le.PutUint32(phdr[20:24], uint32(memsz))
		le.PutUint32(phdr[24:28], uint32(flags))
		le.PutUint32(phdr[28:32], uint32(align))
		return phdr
	}

	phdr := make([]byte, phdrSize64)
	le.PutUint32(phdr[0:4], uint32(typ))
	le.PutUint32(phdr[4:8], uint32(flags))
	le.PutUint64(phdr[8:16], off)
	le.PutUint64(phdr[16:24], vaddr)
	le.PutUint64(phdr[24:32], vaddr) // p_paddr mirrors p_vaddr
	le.PutUint64(phdr[32:40], filesz)
	le.PutUint64(phdr[40:48], memsz)
	le.PutUint64(phdr[48:56], align)
	return phdr
}

// progFlags mirrors region permissions into program header flags.
func progFlags(p space.Perm) elf.ProgFlag {
	var fl elf.ProgFlag
	if p&space.PermRead != 0 {
		fl |= elf.PF_R
	}
	if p&space.PermWrite != 0 {
		fl |= elf.PF_W
	}
	if p&space.PermExec != 0 {
		fl |= elf.PF_X
	}
	return fl
}
