package space

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// Kind identifies where a backing store's bytes come from.
type Kind int

const (
	// Origin bytes are embedded in the core file being inspected.
	Origin Kind = iota
	// FileMmap bytes are re-read from the on-disk file that was
	// mapped at dump time.
	FileMmap
	// Overlay bytes were patched in by the operator.
	Overlay
)

func (k Kind) String() string {
	switch k {
	case Origin:
		return "origin"
	case FileMmap:
		return "mmap"
	case Overlay:
		return "overlay"
	}
	return "unknown"
}

// Store is a single readable byte source for a block. Resolve fills p
// with the bytes at block-relative offset off, or reports
// ErrUnavailable when this store cannot supply the range (the caller
// falls through to the next store). ErrCorrupt is fatal.
//
// Every store covers a prefix of its block: Span reports how many
// bytes from block offset 0 the store can attempt to supply. Resolve
// never succeeds past it.
type Store interface {
	Kind() Kind
	Span() uint64
	Resolve(off uint64, p []byte) error
}

// OriginStore reads block bytes embedded in the hosting core file.
type OriginStore struct {
	r       io.ReaderAt
	fileOff int64
	size    uint64 // bytes actually captured (p_filesz)
}

// NewOriginStore returns a store over the core file bytes at
// [fileOff, fileOff+size).
func NewOriginStore(r io.ReaderAt, fileOff int64, size uint64) *OriginStore {
	return &OriginStore{r: r, fileOff: fileOff, size: size}
}

func (st *OriginStore) Kind() Kind   { return Origin }
func (st *OriginStore) Span() uint64 { return st.size }

func (st *OriginStore) Resolve(off uint64, p []byte) error {
	if off+uint64(len(p)) > st.size {
		// Bytes past p_filesz were never captured (minimized dump).
		return ErrUnavailable
	}
	n, err := st.r.ReadAt(p, st.fileOff+int64(off))
	if err != nil || n != len(p) {
		return fmt.Errorf("%w: core truncated reading %d bytes at file offset 0x%x (got %d): %v",
			ErrCorrupt, len(p), st.fileOff+int64(off), n, err)
	}
	return nil
}

// FileStore re-reads bytes from the on-disk file that backed the
// mapping at dump time. The file is opened per resolve and released
// before returning; a missing or short file is ErrUnavailable, never
// fatal.
type FileStore struct {
	path    string
	fileOff int64
	size    uint64
}

// NewFileStore returns a store over size bytes of path starting at
// fileOff.
func NewFileStore(path string, fileOff int64, size uint64) *FileStore {
	return &FileStore{path: path, fileOff: fileOff, size: size}
}

func (st *FileStore) Kind() Kind   { return FileMmap }
func (st *FileStore) Span() uint64 { return st.size }
func (st *FileStore) Path() string { return st.path }

func (st *FileStore) Resolve(off uint64, p []byte) error {
	if off+uint64(len(p)) > st.size {
		return ErrUnavailable
	}
	f, err := os.Open(st.path)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", ErrUnavailable, st.path, err)
	}
	defer f.Close()
	n, err := f.ReadAt(p, st.fileOff+int64(off))
	if err != nil {
		// The final page of a mapped file reads as zeros past EOF,
		// so a partial read inside the declared range succeeds with
		// a zero tail. Only an offset at or past EOF is unavailable.
		if errors.Is(err, io.EOF) && n > 0 {
			clear(p[n:])
			return nil
		}
		return fmt.Errorf("%w: read %s at 0x%x: %v", ErrUnavailable, st.path, st.fileOff+int64(off), err)
	}
	return nil
}

// OverlayStore holds a full patched image of the block. It never fails
// for offsets inside the block.
type OverlayStore struct {
	data []byte
}

// NewOverlayStore wraps a whole-block image.
func NewOverlayStore(data []byte) *OverlayStore {
	return &OverlayStore{data: data}
}

func (st *OverlayStore) Kind() Kind   { return Overlay }
func (st *OverlayStore) Span() uint64 { return uint64(len(st.data)) }

func (st *OverlayStore) Resolve(off uint64, p []byte) error {
	if off+uint64(len(p)) > uint64(len(st.data)) {
		return ErrUnavailable
	}
	copy(p, st.data[off:])
	return nil
}
