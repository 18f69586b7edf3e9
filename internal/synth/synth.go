// Package synth emits a standards-compliant ELF core file for a
// snapshotted target. The pass is strictly sequential:
//
//	Init -> SnapshotCaptured -> LayoutComputed -> HeaderWritten ->
//	NoteWritten -> ProgramHeadersWritten -> SegmentsWritten -> Done
//
// Segment bytes are pulled through a layered address space built over
// the snapshot, so the same read path serves inspection and synthesis.
// A write failure aborts the run and removes the partial output file.
package synth

import (
	"cmp"
	"debug/elf"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/corescope/corescope/internal/arch"
	"github.com/corescope/corescope/internal/filter"
	"github.com/corescope/corescope/internal/log"
	"github.com/corescope/corescope/internal/proc"
	"github.com/corescope/corescope/internal/space"
)

// ErrWriteFailure reports an output stream error. The partial file is
// never left behind as a validly-named artifact.
var ErrWriteFailure = errors.New("write failure")

// segmentChunk is the read/write granularity for LOAD payloads.
const segmentChunk = 1 << 20

type state int

const (
	stateInit state = iota
	stateSnapshotCaptured
	stateLayoutComputed
	stateHeaderWritten
	stateNoteWritten
	stateProgramHeadersWritten
	stateSegmentsWritten
	stateDone
)

// Options configures a synthesis run.
type Options struct {
	// Policy classifies each mapping. Defaults to filter.NewDefault.
	Policy filter.Policy
}

// Synthesizer drives one core synthesis pass over a snapshot.
type Synthesizer struct {
	snap   proc.Snapshot
	arch   arch.Arch
	policy filter.Policy
	state  state
}

// New returns a synthesizer for the given snapshot.
func New(snap proc.Snapshot, a arch.Arch, opts Options) *Synthesizer {
	policy := opts.Policy
	if policy == nil {
		policy = filter.NewDefault()
	}
	return &Synthesizer{snap: snap, arch: a, policy: policy}
}

func (s *Synthesizer) advance(to state) {
	s.state = to
	log.Debugf("synth: state %d", to)
}

// WriteFile synthesizes the core dump into path. On any failure the
// partial file is removed.
func (s *Synthesizer) WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: create %s: %v", ErrWriteFailure, path, err)
	}
	lay, werr := s.writeCore(f)
	if werr == nil {
		// Declared extents may reach past the last written byte when
		// the final region is truncated to zero.
		if err := f.Truncate(int64(lay.end)); err != nil {
			werr = fmt.Errorf("%w: truncate %s: %v", ErrWriteFailure, path, err)
		}
	}
	if cerr := f.Close(); werr == nil && cerr != nil {
		werr = fmt.Errorf("%w: close %s: %v", ErrWriteFailure, path, cerr)
	}
	if werr != nil {
		os.Remove(path)
		return werr
	}
	return nil
}

// loadSeg is one non-excluded region with its computed file placement.
type loadSeg struct {
	cls    filter.Classification
	off    uint64
	filesz uint64 // 0 for TruncateZero
}

type layout struct {
	noteOff  uint64
	noteSize uint64
	segs     []loadSeg
	end      uint64 // total declared file size
}

func (s *Synthesizer) writeCore(w io.WriterAt) (layout, error) {
	s.advance(stateInit)
	if s.snap == nil {
		return layout{}, proc.ErrTargetUnavailable
	}

	mappings := normalize(s.snap.Mappings())
	if len(mappings) == 0 {
		return layout{}, fmt.Errorf("%w: target reports no mappings", proc.ErrSnapshotUnavailable)
	}
	cls := make([]filter.Classification, 0, len(mappings))
	for _, m := range mappings {
		c := s.policy.Classify(m)
		log.Debugf("synth: [0x%x,0x%x) %s %s (%s)", m.Start, m.End, m.Perm, c.Decision, c.Reason)
		cls = append(cls, c)
	}
	s.advance(stateSnapshotCaptured)

	// The NT_FILE table covers every file-backed mapping regardless
	// of its classification, so a reader can recover truncated or
	// excluded regions from the file on disk.
	var fileTable []proc.Mapping
	for _, m := range mappings {
		if !m.IsAnonymous() {
			fileTable = append(fileTable, m)
		}
	}
	notes := buildNotes(s.arch, s.snap.Threads(), s.snap.Auxv(), fileTable)
	lay := computeLayout(s.arch, cls, uint64(len(notes)))
	s.advance(stateLayoutComputed)

	if err := writeAt(w, buildEhdr(s.arch, 1+len(lay.segs)), 0); err != nil {
		return layout{}, err
	}
	s.advance(stateHeaderWritten)

	if err := writeAt(w, notes, lay.noteOff); err != nil {
		return layout{}, err
	}
	s.advance(stateNoteWritten)

	phdrs := buildPhdr(s.arch, elf.PT_NOTE, elf.PF_R, lay.noteOff, 0, lay.noteSize, lay.noteSize, 0)
	for _, seg := range lay.segs {
		m := seg.cls.Mapping
		phdrs = append(phdrs, buildPhdr(s.arch, elf.PT_LOAD, progFlags(m.Perm),
			seg.off, m.Start, seg.filesz, m.Size(), s.arch.PageSize())...)
	}
	if err := writeAt(w, phdrs, ehdrSize(s.arch)); err != nil {
		return layout{}, err
	}
	s.advance(stateProgramHeadersWritten)

	if err := s.writeSegments(w, lay); err != nil {
		return layout{}, err
	}
	s.advance(stateSegmentsWritten)

	s.advance(stateDone)
	return lay, nil
}

// writeSegments streams every Include region's bytes through the
// address space. Pages no store can supply are written as zeros; that
// matches what the kernel does for unreadable pages.
func (s *Synthesizer) writeSegments(w io.WriterAt, lay layout) error {
	sp, err := s.buildSpace(lay)
	if err != nil {
		return err
	}
	buf := make([]byte, segmentChunk)
	for _, seg := range lay.segs {
		if seg.cls.Decision != filter.Include {
			continue
		}
		m := seg.cls.Mapping
		for done := uint64(0); done < m.Size(); done += segmentChunk {
			n := min(uint64(segmentChunk), m.Size()-done)
			chunk := buf[:n]
			if _, err := sp.Read(space.Address(m.Start+done), chunk, space.ModeAll); err != nil {
				if !errors.Is(err, space.ErrMiss) {
					return err
				}
				// One bad page must not zero the whole chunk.
				if err := s.readPages(sp, m.Start+done, chunk); err != nil {
					return err
				}
			}
			if err := writeAt(w, chunk, seg.off+done); err != nil {
				return err
			}
		}
	}
	return nil
}

// readPages retries a missed chunk page by page, zero-filling only the
// pages that still cannot be read.
func (s *Synthesizer) readPages(sp *space.Space, addr uint64, p []byte) error {
	page := s.arch.PageSize()
	for o := uint64(0); o < uint64(len(p)); o += page {
		n := min(page, uint64(len(p))-o)
		sub := p[o : o+n]
		if _, err := sp.Read(space.Address(addr+o), sub, space.ModeAll); err != nil {
			if !errors.Is(err, space.ErrMiss) {
				return err
			}
			log.Debugf("synth: zero-filling unreadable [0x%x,0x%x)", addr+o, addr+o+n)
			clear(sub)
		}
	}
	return nil
}

// liveStore adapts the snapshot's raw memory to a backing store. An
// unreadable range is unavailable, not fatal: the target may have
// device or guard mappings process_vm_readv cannot touch.
type liveStore struct {
	snap  proc.Snapshot
	vaddr uint64
	size  uint64
}

func (st *liveStore) Kind() space.Kind { return space.Origin }
func (st *liveStore) Span() uint64     { return st.size }

func (st *liveStore) Resolve(off uint64, p []byte) error {
	if _, err := st.snap.ReadAt(p, int64(st.vaddr+off)); err != nil {
		return fmt.Errorf("%w: read target at 0x%x: %v", space.ErrUnavailable, st.vaddr+off, err)
	}
	return nil
}

// buildSpace layers the snapshot's raw memory behind an address space,
// one block per included region.
func (s *Synthesizer) buildSpace(lay layout) (*space.Space, error) {
	sp := space.New(s.arch)
	for _, seg := range lay.segs {
		if seg.cls.Decision != filter.Include {
			continue
		}
		m := seg.cls.Mapping
		b := space.NewBlock(space.Address(m.Start), m.Size(), m.Perm)
		b.AddStore(&liveStore{snap: s.snap, vaddr: m.Start, size: m.Size()})
		if err := sp.AddBlock(b); err != nil {
			return nil, err
		}
	}
	return sp, nil
}

// normalize sorts mappings by start address and resolves duplicates:
// when two report the same start (seen on some kernels for transient
// zero-length mappings) the larger one wins and the other is dropped
// with a warning.
func normalize(mappings []proc.Mapping) []proc.Mapping {
	ms := slices.Clone(mappings)
	slices.SortStableFunc(ms, func(a, b proc.Mapping) int {
		if c := cmp.Compare(a.Start, b.Start); c != 0 {
			return c
		}
		return cmp.Compare(b.Size(), a.Size())
	})
	out := ms[:0]
	for _, m := range ms {
		if len(out) > 0 && out[len(out)-1].Start == m.Start {
			log.Warnf("dropping duplicate mapping at 0x%x (size 0x%x, keeping size 0x%x)",
				m.Start, m.Size(), out[len(out)-1].Size())
			continue
		}
		if m.Size() == 0 {
			log.Debugf("dropping zero-length mapping at 0x%x", m.Start)
			continue
		}
		out = append(out, m)
	}
	return out
}

// computeLayout places the NOTE segment right after the program header
// table and every LOAD payload at the next page-aligned offset.
func computeLayout(a arch.Arch, cls []filter.Classification, noteSize uint64) layout {
	lay := layout{noteSize: noteSize}
	for _, c := range cls {
		if c.Decision == filter.Exclude {
			continue
		}
		lay.segs = append(lay.segs, loadSeg{cls: c})
	}
	lay.noteOff = ehdrSize(a) + uint64(1+len(lay.segs))*phdrSize(a)

	off := roundUp(lay.noteOff+noteSize, a.PageSize())
	for i := range lay.segs {
		lay.segs[i].off = off
		if lay.segs[i].cls.Decision == filter.Include {
			lay.segs[i].filesz = lay.segs[i].cls.Mapping.Size()
		}
		off = roundUp(off+lay.segs[i].filesz, a.PageSize())
	}
	lay.end = off
	return lay
}

func roundUp(v, align uint64) uint64 {
	return (v + align - 1) &^ (align - 1)
}

func writeAt(w io.WriterAt, p []byte, off uint64) error {
	if _, err := w.WriteAt(p, int64(off)); err != nil {
		return fmt.Errorf("%w: %d bytes at offset 0x%x: %v", ErrWriteFailure, len(p), off, err)
	}
	return nil
}
