package space

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corescope/corescope/internal/arch"
)

// fill returns n copies of b.
func fill(b byte, n int) []byte {
	return bytes.Repeat([]byte{b}, n)
}

// buildSpace returns a space holding one fully origin-backed block
// [0x1000, 0x2000) whose bytes are all 0xAA.
func buildSpace(t *testing.T) (*Space, *Block) {
	t.Helper()
	sp := New(arch.AArch64{})
	b := NewBlock(0x1000, 0x1000, PermRead|PermWrite)
	b.AddStore(NewOriginStore(bytes.NewReader(fill(0xAA, 0x1000)), 0, 0x1000))
	require.NoError(t, sp.AddBlock(b))
	return sp, b
}

func TestFindBlockBoundaries(t *testing.T) {
	sp, b := buildSpace(t)

	tests := []struct {
		addr Address
		want *Block
	}{
		{0x0fff, nil},
		{0x1000, b},
		{0x17ff, b},
		{0x1fff, b},
		{0x2000, nil},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sp.FindBlock(tt.addr), "addr 0x%x", tt.addr)
	}
}

func TestFindBlockMasksPointerTags(t *testing.T) {
	sp, b := buildSpace(t)

	// MTE/TBI style tag bits above bit 47 are stripped before lookup.
	assert.Equal(t, b, sp.FindBlock(0xb400_0000_0000_1000))
	assert.Equal(t, b, sp.FindBlock(0x0080_0000_0000_17ff))
}

func TestAddBlockRejectsOverlap(t *testing.T) {
	sp, _ := buildSpace(t)

	err := sp.AddBlock(NewBlock(0x1800, 0x1000, PermRead))
	require.ErrorIs(t, err, ErrCorrupt)

	err = sp.AddBlock(NewBlock(0x800, 0x1000, PermRead))
	require.ErrorIs(t, err, ErrCorrupt)

	err = sp.AddBlock(NewBlock(0x3000, 0, PermRead))
	require.ErrorIs(t, err, ErrCorrupt)

	// Adjacent blocks are fine.
	require.NoError(t, sp.AddBlock(NewBlock(0x2000, 0x1000, PermRead)))
}

func TestReadPriorityOrder(t *testing.T) {
	sp, b := buildSpace(t)
	b.AddStore(NewFileStore("/nonexistent/libfoo.so", 0, 0x1000))
	require.NoError(t, b.SetOverlay(fill(0xBB, 0x1000)))

	buf := make([]byte, 8)

	// ModeAll answers from the overlay, the highest-priority store.
	n, err := sp.Read(0x1100, buf, ModeAll)
	require.NoError(t, err)
	require.Equal(t, 8, n)
	assert.Equal(t, fill(0xBB, 8), buf)

	// ModeOrigin bypasses the overlay and the mmap store.
	n, err = sp.Read(0x1100, buf, ModeOrigin)
	require.NoError(t, err)
	require.Equal(t, 8, n)
	assert.Equal(t, fill(0xAA, 8), buf)

	// ModeOverlay sees only the patch.
	n, err = sp.Read(0x1100, buf, ModeOverlay)
	require.NoError(t, err)
	require.Equal(t, 8, n)
	assert.Equal(t, fill(0xBB, 8), buf)

	// The mmap store's file does not exist, so an mmap-only read
	// falls through to a miss rather than an error.
	_, err = sp.Read(0x1100, buf, ModeFileMmap)
	assert.ErrorIs(t, err, ErrMiss)
}

func TestReadModeMissesAbsentStore(t *testing.T) {
	sp, _ := buildSpace(t)

	buf := make([]byte, 8)
	_, err := sp.Read(0x1100, buf, ModeOverlay)
	assert.ErrorIs(t, err, ErrMiss)
}

func TestReadClampsAtBlockEnd(t *testing.T) {
	sp, _ := buildSpace(t)

	buf := fill(0x00, 16)
	n, err := sp.Read(0x1ff8, buf, ModeAll)
	require.ErrorIs(t, err, ErrMiss)
	require.Equal(t, 8, n)
	assert.Equal(t, fill(0xAA, 8), buf[:8])
	assert.Equal(t, fill(0x00, 8), buf[8:])
}

func TestReadUnmappedAddress(t *testing.T) {
	sp, _ := buildSpace(t)

	n, err := sp.Read(0x5000, make([]byte, 8), ModeAll)
	assert.ErrorIs(t, err, ErrMiss)
	assert.Zero(t, n)
}

func TestOriginStoreBeyondCaptured(t *testing.T) {
	// A minimized dump captures only the first half of the block;
	// the tail reads as a miss, not an error.
	sp := New(arch.AArch64{})
	b := NewBlock(0x1000, 0x1000, PermRead)
	b.AddStore(NewOriginStore(bytes.NewReader(fill(0xAA, 0x800)), 0, 0x800))
	require.NoError(t, sp.AddBlock(b))

	buf := make([]byte, 8)
	n, err := sp.Read(0x17f8, buf, ModeAll)
	require.NoError(t, err)
	require.Equal(t, 8, n)

	_, err = sp.Read(0x1800, buf, ModeAll)
	assert.ErrorIs(t, err, ErrMiss)
}

func TestOriginStoreTruncatedCore(t *testing.T) {
	// The store claims 0x1000 captured bytes but the hosting file is
	// shorter. That is corruption, not a fall-through.
	sp := New(arch.AArch64{})
	b := NewBlock(0x1000, 0x1000, PermRead)
	b.AddStore(NewOriginStore(bytes.NewReader(fill(0xAA, 0x100)), 0, 0x1000))
	require.NoError(t, sp.AddBlock(b))

	_, err := sp.Read(0x1800, make([]byte, 8), ModeAll)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestApplyOverlay(t *testing.T) {
	sp, _ := buildSpace(t)

	patch := []byte{1, 2, 3, 4}
	require.NoError(t, sp.ApplyOverlay(0x1100, patch))

	buf := make([]byte, 8)
	_, err := sp.Read(0x1100, buf, ModeAll)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4, 0xAA, 0xAA, 0xAA, 0xAA}, buf)

	// Unpatched bytes still read through.
	_, err = sp.Read(0x1000, buf, ModeAll)
	require.NoError(t, err)
	assert.Equal(t, fill(0xAA, 8), buf)

	// The origin view is untouched.
	_, err = sp.Read(0x1100, buf, ModeOrigin)
	require.NoError(t, err)
	assert.Equal(t, fill(0xAA, 8), buf)
}

func TestApplyOverlayIdempotent(t *testing.T) {
	sp, _ := buildSpace(t)

	patch := []byte{1, 2, 3, 4}
	require.NoError(t, sp.ApplyOverlay(0x1100, patch))
	require.NoError(t, sp.ApplyOverlay(0x1100, patch))

	buf := make([]byte, 8)
	_, err := sp.Read(0x1100, buf, ModeAll)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4, 0xAA, 0xAA, 0xAA, 0xAA}, buf)

	// A second patch composes with the first instead of resetting it.
	require.NoError(t, sp.ApplyOverlay(0x1104, []byte{5, 6}))
	_, err = sp.Read(0x1100, buf, ModeAll)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 0xAA, 0xAA}, buf)
}

func TestApplyOverlayErrors(t *testing.T) {
	sp, _ := buildSpace(t)

	assert.ErrorIs(t, sp.ApplyOverlay(0x5000, []byte{1}), ErrMiss)
	assert.Error(t, sp.ApplyOverlay(0x1ffc, []byte{1, 2, 3, 4, 5, 6, 7, 8}))
}

func TestApplyOverlayOverPartialBacking(t *testing.T) {
	// Overlay materialization zero-fills pages no store can supply.
	sp := New(arch.AArch64{})
	b := NewBlock(0x1000, 0x2000, PermRead|PermWrite)
	b.AddStore(NewOriginStore(bytes.NewReader(fill(0xAA, 0x1000)), 0, 0x1000))
	require.NoError(t, sp.AddBlock(b))

	require.NoError(t, sp.ApplyOverlay(0x2100, []byte{7}))

	buf := make([]byte, 4)
	_, err := sp.Read(0x2100, buf, ModeAll)
	require.NoError(t, err)
	assert.Equal(t, []byte{7, 0, 0, 0}, buf)

	// Captured content survives the materialization.
	_, err = sp.Read(0x1000, buf, ModeAll)
	require.NoError(t, err)
	assert.Equal(t, fill(0xAA, 4), buf)
}

func TestTypedReads(t *testing.T) {
	sp := New(arch.AArch64{})
	b := NewBlock(0x1000, 0x1000, PermRead)
	data := make([]byte, 0x1000)
	copy(data, []byte{
		0x78, 0x56, 0x34, 0x12,
		0xf0, 0xde, 0xbc, 0x9a,
	})
	copy(data[0x10:], "system_server\x00")
	require.NoError(t, b.SetOverlay(data))
	require.NoError(t, sp.AddBlock(b))

	v32, err := sp.ReadUint32(0x1000)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x12345678), v32)

	v64, err := sp.ReadUint64(0x1000)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x9abc_def0_1234_5678), v64)

	// ReadPtr strips tag bits above the valid-address range.
	ptr, err := sp.ReadPtr(0x1000)
	require.NoError(t, err)
	assert.Equal(t, Address(0xdef0_1234_5678), ptr)

	s, err := sp.ReadCString(0x1010, 64, ModeAll)
	require.NoError(t, err)
	assert.Equal(t, "system_server", s)

	// A string running to the end of the mapping terminates there.
	copy(data[0xffc:], "abcd")
	s, err = sp.ReadCString(0x1ffc, 64, ModeAll)
	require.NoError(t, err)
	assert.Equal(t, "abcd", s)
}

func TestApplyOverlayKeepsPartialBacking(t *testing.T) {
	// Only half the block was captured. Patching one byte must not
	// alter reads of untouched captured addresses.
	sp := New(arch.AArch64{})
	b := NewBlock(0x1000, 0x1000, PermRead|PermWrite)
	b.AddStore(NewOriginStore(bytes.NewReader(fill(0xAA, 0x800)), 0, 0x800))
	require.NoError(t, sp.AddBlock(b))

	require.NoError(t, sp.ApplyOverlay(0x1000, []byte{1}))

	buf := make([]byte, 4)
	_, err := sp.Read(0x1000, buf, ModeAll)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 0xAA, 0xAA, 0xAA}, buf)

	// Captured but unpatched bytes survive materialization.
	_, err = sp.Read(0x1400, buf, ModeAll)
	require.NoError(t, err)
	assert.Equal(t, fill(0xAA, 4), buf)

	// Never-captured bytes stay zero.
	_, err = sp.Read(0x1900, buf, ModeAll)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 4), buf)
}

func TestBlockImageSplitsAtStoreSpans(t *testing.T) {
	// Two prefix stores of different extents: the image takes the
	// origin for its captured half and file bytes for the rest.
	path := filepath.Join(t.TempDir(), "libbar.so")
	require.NoError(t, os.WriteFile(path, fill(0xEE, 0x1000), 0o644))

	b := NewBlock(0x1000, 0x1000, PermRead)
	b.AddStore(NewOriginStore(bytes.NewReader(fill(0xAA, 0x800)), 0, 0x800))
	b.AddStore(NewFileStore(path, 0, 0x1000))

	img, err := b.Image()
	require.NoError(t, err)
	require.Len(t, img, 0x1000)
	// The file store outranks the origin wherever both reach.
	assert.Equal(t, fill(0xEE, 0x1000), img)
}

func TestBlockImagePartialOrigin(t *testing.T) {
	b := NewBlock(0x1000, 0x1000, PermRead)
	b.AddStore(NewOriginStore(bytes.NewReader(fill(0xAA, 0x800)), 0, 0x800))

	img, err := b.Image()
	require.NoError(t, err)
	assert.Equal(t, fill(0xAA, 0x800), img[:0x800])
	assert.Equal(t, make([]byte, 0x800), img[0x800:])
}

func TestFileStoreZeroFillsPastEOF(t *testing.T) {
	// Shared objects are rarely page multiples; bytes past EOF in the
	// final mapped page read as zeros, like an mmap of the file.
	path := filepath.Join(t.TempDir(), "libfoo.so")
	require.NoError(t, os.WriteFile(path, fill(0xCD, 0x1800), 0o644))

	st := NewFileStore(path, 0x1000, 0x1000)
	buf := make([]byte, 0x1000)
	require.NoError(t, st.Resolve(0, buf))
	assert.Equal(t, fill(0xCD, 0x800), buf[:0x800])
	assert.Equal(t, make([]byte, 0x800), buf[0x800:])

	// An offset at or past EOF has nothing to serve.
	tail := NewFileStore(path, 0x1800, 0x1000)
	assert.ErrorIs(t, tail.Resolve(0, buf), ErrUnavailable)
}

func TestReadCStringModes(t *testing.T) {
	sp := New(arch.AArch64{})
	b := NewBlock(0x1000, 0x1000, PermRead)
	origin := make([]byte, 0x1000)
	copy(origin[0x100:], "origin\x00")
	b.AddStore(NewOriginStore(bytes.NewReader(origin), 0, 0x1000))
	require.NoError(t, sp.AddBlock(b))

	patched := make([]byte, 0x1000)
	copy(patched, origin)
	copy(patched[0x100:], "patched\x00")
	require.NoError(t, b.SetOverlay(patched))

	s, err := sp.ReadCString(0x1100, 32, ModeAll)
	require.NoError(t, err)
	assert.Equal(t, "patched", s)

	s, err = sp.ReadCString(0x1100, 32, ModeOrigin)
	require.NoError(t, err)
	assert.Equal(t, "origin", s)

	_, err = sp.ReadCString(0x1100, 32, ModeFileMmap)
	assert.ErrorIs(t, err, ErrMiss)
}

func TestPermString(t *testing.T) {
	assert.Equal(t, "r-xp", (PermRead | PermExec).String())
	assert.Equal(t, "rw-s", (PermRead | PermWrite | PermShared).String())
	assert.Equal(t, "---p", Perm(0).String())
}
