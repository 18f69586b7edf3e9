package synth

import (
	"bytes"
	"encoding/binary"

	"github.com/corescope/corescope/internal/arch"
	"github.com/corescope/corescope/internal/proc"
)

// ELF note type values used in synthesized cores.
const (
	ntPRStatus = 1
	ntAuxv     = 6
	ntFile     = 0x46494c45
)

// noteWriter accumulates note sub-records with the standard
// name/desc 4-byte alignment.
type noteWriter struct {
	buf bytes.Buffer
}

func padUpTo4Bytes(n int) int {
	return (n + 3) &^ 3
}

// writeNote appends one note record.
func (nw *noteWriter) writeNote(name string, noteType uint32, data []byte) {
	nameSize := padUpTo4Bytes(len(name) + 1) // +1 for null terminator
	dataSize := padUpTo4Bytes(len(data))

	var header [12]byte
	binary.LittleEndian.PutUint32(header[0:4], uint32(len(name)+1))
	binary.LittleEndian.PutUint32(header[4:8], uint32(len(data)))
	binary.LittleEndian.PutUint32(header[8:12], noteType)
	nw.buf.Write(header[:])

	nw.buf.WriteString(name)
	for i := 0; i < nameSize-len(name); i++ {
		nw.buf.WriteByte(0)
	}
	nw.buf.Write(data)
	for i := 0; i < dataSize-len(data); i++ {
		nw.buf.WriteByte(0)
	}
}

func (nw *noteWriter) bytes() []byte { return nw.buf.Bytes() }

// buildNotes serializes the NOTE segment in its fixed order: one
// PRSTATUS per thread in snapshot enumeration order, the auxiliary
// vector, then the mapped-file table.
func buildNotes(a arch.Arch, threads []proc.Thread, auxv []proc.AuxvEntry,
	fileTable []proc.Mapping) []byte {
	nw := &noteWriter{}
	for _, t := range threads {
		nw.writeNote("CORE", ntPRStatus, buildPRStatus(a, t))
	}
	nw.writeNote("CORE", ntAuxv, buildAuxv(a, auxv))
	if len(fileTable) > 0 {
		nw.writeNote("CORE", ntFile, buildFileTable(a, fileTable))
	}
	return nw.bytes()
}

// buildPRStatus lays out one elf_prstatus record: thread id at the
// architecture's pr_pid offset, raw register block at pr_reg, the rest
// zero (signal and timing state is not captured).
func buildPRStatus(a arch.Arch, t proc.Thread) []byte {
	prstatus := make([]byte, a.PRStatusSize())
	binary.LittleEndian.PutUint32(prstatus[a.PRStatusPidOffset():], uint32(t.Tid))

	regs := t.GPRegs
	if len(regs) > a.PRStatusRegsSize() {
		regs = regs[:a.PRStatusRegsSize()]
	}
	copy(prstatus[a.PRStatusRegsOffset():], regs)
	return prstatus
}

// buildAuxv serializes the auxiliary vector as pointer-sized
// type/value pairs.
func buildAuxv(a arch.Arch, entries []proc.AuxvEntry) []byte {
	var buf bytes.Buffer
	for _, e := range entries {
		putWord(&buf, a, e.Type)
		putWord(&buf, a, e.Value)
	}
	return buf.Bytes()
}

// buildFileTable serializes the NT_FILE table: count and page size,
// then start/end/page-offset triples, then the NUL-terminated paths.
func buildFileTable(a arch.Arch, mappings []proc.Mapping) []byte {
	pageSize := a.PageSize()
	var buf bytes.Buffer
	putWord(&buf, a, uint64(len(mappings)))
	putWord(&buf, a, pageSize)
	for _, m := range mappings {
		putWord(&buf, a, m.Start)
		putWord(&buf, a, m.End)
		putWord(&buf, a, m.Offset/pageSize)
	}
	for _, m := range mappings {
		buf.WriteString(m.Path)
		buf.WriteByte(0)
	}
	return buf.Bytes()
}

func putWord(buf *bytes.Buffer, a arch.Arch, v uint64) {
	if a.PointerSize() == 4 {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(v))
		buf.Write(b[:])
		return
	}
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}
