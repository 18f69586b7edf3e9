package space

import (
	"errors"
	"fmt"
	"slices"

	"github.com/corescope/corescope/internal/log"
)

// Block is one contiguous virtual-memory range with its candidate
// backing stores, highest priority first. The range itself is immutable
// after construction; only the store list changes, and only through
// AddStore/SetOverlay during exclusive phases.
type Block struct {
	vaddr   Address
	size    uint64
	perm    Perm
	path    string // associated file, if any
	fileOff uint64 // offset of vaddr within that file
	stores  []Store
}

// NewBlock creates a block covering [vaddr, vaddr+size). size must be
// non-zero.
func NewBlock(vaddr Address, size uint64, perm Perm) *Block {
	return &Block{vaddr: vaddr, size: size, perm: perm}
}

func (b *Block) Vaddr() Address { return b.vaddr }
func (b *Block) Size() uint64   { return b.size }
func (b *Block) End() Address   { return b.vaddr + Address(b.size) }
func (b *Block) Perm() Perm     { return b.perm }

// File reports the associated backing file and the file offset of the
// block's first byte, or "" if the block is anonymous.
func (b *Block) File() (string, uint64) { return b.path, b.fileOff }

// SetFile associates the block with its backing file.
func (b *Block) SetFile(path string, fileOff uint64) {
	b.path = path
	b.fileOff = fileOff
}

// Contains reports whether a falls inside the block's range.
func (b *Block) Contains(a Address) bool {
	return a >= b.vaddr && a < b.End()
}

// AddStore inserts a store keeping the priority order
// overlay > file mmap > origin.
func (b *Block) AddStore(s Store) {
	i := 0
	for i < len(b.stores) && b.stores[i].Kind() >= s.Kind() {
		i++
	}
	b.stores = append(b.stores, nil)
	copy(b.stores[i+1:], b.stores[i:])
	b.stores[i] = s
}

// SetOverlay replaces the block's overlay wholesale with a full image
// of the block. data must be exactly Size bytes.
func (b *Block) SetOverlay(data []byte) error {
	if uint64(len(data)) != b.size {
		return fmt.Errorf("overlay image is %d bytes, block is %d", len(data), b.size)
	}
	for i, s := range b.stores {
		if s.Kind() == Overlay {
			b.stores[i] = NewOverlayStore(data)
			return nil
		}
	}
	b.AddStore(NewOverlayStore(data))
	return nil
}

// HasOverlay reports whether an operator patch is present.
func (b *Block) HasOverlay() bool {
	for _, s := range b.stores {
		if s.Kind() == Overlay {
			return true
		}
	}
	return false
}

// Image materializes the block's current ModeAll content as a full
// copy. Stores cover prefixes of the block, so the set of stores able
// to serve an offset only changes at span boundaries; reading
// segment-wise between them keeps the suppliable part of a partially
// captured block. Ranges no store reaches stay zero.
func (b *Block) Image() ([]byte, error) {
	bounds := make([]uint64, 0, len(b.stores)+1)
	for _, st := range b.stores {
		bounds = append(bounds, min(st.Span(), b.size))
	}
	bounds = append(bounds, b.size)
	slices.Sort(bounds)

	img := make([]byte, b.size)
	prev := uint64(0)
	for _, bound := range bounds {
		if bound <= prev {
			continue
		}
		if err := b.Read(prev, img[prev:bound], ModeAll); err != nil {
			if !errors.Is(err, ErrMiss) {
				return nil, err
			}
		}
		prev = bound
	}
	return img, nil
}

// Read fills p with bytes at block-relative offset off, consulting the
// stores mode permits in priority order. A store answering
// ErrUnavailable is skipped; ErrCorrupt aborts. When no store can
// supply the range the result is ErrMiss.
func (b *Block) Read(off uint64, p []byte, mode Mode) error {
	if off+uint64(len(p)) > b.size {
		return ErrMiss
	}
	if len(p) == 0 {
		return nil
	}
	for _, st := range b.stores {
		if !mode.allows(st.Kind()) {
			continue
		}
		err := st.Resolve(off, p)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrCorrupt) {
			return err
		}
		log.Debugf("block 0x%x: %s store cannot supply [0x%x,0x%x): %v",
			b.vaddr, st.Kind(), off, off+uint64(len(p)), err)
	}
	return ErrMiss
}
