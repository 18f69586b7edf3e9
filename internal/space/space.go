package space

import (
	"fmt"
	"sort"

	"github.com/corescope/corescope/internal/arch"
)

// Space is the full ordered collection of blocks for one target.
type Space struct {
	arch   arch.Arch
	blocks []*Block // sorted by vaddr, pairwise non-overlapping
}

// New returns an empty space for the given architecture.
func New(a arch.Arch) *Space {
	return &Space{arch: a}
}

func (s *Space) Arch() arch.Arch { return s.arch }

// Blocks returns the blocks in ascending vaddr order. The slice is
// owned by the space; callers must not modify it.
func (s *Space) Blocks() []*Block { return s.blocks }

// AddBlock inserts a block, keeping vaddr order and rejecting overlap.
func (s *Space) AddBlock(b *Block) error {
	if b.Size() == 0 {
		return fmt.Errorf("%w: zero-sized block at 0x%x", ErrCorrupt, b.Vaddr())
	}
	i := sort.Search(len(s.blocks), func(i int) bool {
		return s.blocks[i].Vaddr() >= b.Vaddr()
	})
	if i > 0 && s.blocks[i-1].End() > b.Vaddr() {
		return fmt.Errorf("%w: block [0x%x,0x%x) overlaps [0x%x,0x%x)",
			ErrCorrupt, b.Vaddr(), b.End(), s.blocks[i-1].Vaddr(), s.blocks[i-1].End())
	}
	if i < len(s.blocks) && b.End() > s.blocks[i].Vaddr() {
		return fmt.Errorf("%w: block [0x%x,0x%x) overlaps [0x%x,0x%x)",
			ErrCorrupt, b.Vaddr(), b.End(), s.blocks[i].Vaddr(), s.blocks[i].End())
	}
	s.blocks = append(s.blocks, nil)
	copy(s.blocks[i+1:], s.blocks[i:])
	s.blocks[i] = b
	return nil
}

// FindBlock returns the block containing addr, or nil. The address is
// masked with the architecture pointer mask first.
func (s *Space) FindBlock(addr Address) *Block {
	addr &= Address(s.arch.PointerMask())
	i := sort.Search(len(s.blocks), func(i int) bool {
		return s.blocks[i].End() > addr
	})
	if i < len(s.blocks) && s.blocks[i].Contains(addr) {
		return s.blocks[i]
	}
	return nil
}

// Read fills p with target memory starting at addr. Reads never span
// two blocks: when the request crosses the owning block's end, the
// prefix inside the block is returned together with ErrMiss, and the
// caller issues a second read for the remainder. An address outside
// all blocks returns (0, ErrMiss).
func (s *Space) Read(addr Address, p []byte, mode Mode) (int, error) {
	addr &= Address(s.arch.PointerMask())
	b := s.FindBlock(addr)
	if b == nil {
		return 0, ErrMiss
	}
	off := uint64(addr - b.Vaddr())
	n := b.Size() - off
	if n > uint64(len(p)) {
		n = uint64(len(p))
	}
	if err := b.Read(off, p[:n], mode); err != nil {
		return 0, err
	}
	if n < uint64(len(p)) {
		return int(n), ErrMiss
	}
	return int(n), nil
}

// ApplyOverlay patches [addr, addr+len(data)) with operator-supplied
// bytes. The range must lie inside one block. The block's current
// content is materialized, the patch applied, and the overlay replaced
// wholesale, so re-applying the same patch is idempotent and reads of
// unpatched addresses are unchanged.
//
// Exclusive with concurrent reads; see the package comment.
func (s *Space) ApplyOverlay(addr Address, data []byte) error {
	addr &= Address(s.arch.PointerMask())
	b := s.FindBlock(addr)
	if b == nil {
		return ErrMiss
	}
	off := uint64(addr - b.Vaddr())
	if off+uint64(len(data)) > b.Size() {
		return fmt.Errorf("patch of %d bytes at 0x%x crosses block end 0x%x",
			len(data), addr, b.End())
	}
	img, err := b.Image()
	if err != nil {
		return err
	}
	copy(img[off:], data)
	return b.SetOverlay(img)
}
