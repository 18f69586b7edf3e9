package proc

import (
	"io"

	"golang.org/x/sys/unix"
)

// vmReader reads target memory with process_vm_readv, addressed by
// virtual address. It satisfies io.ReaderAt so the address space can
// layer it behind a backing store.
type vmReader struct {
	pid int
}

func (r vmReader) ReadAt(p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	local := unix.Iovec{Base: &p[0]}
	local.SetLen(len(p))
	remote := unix.RemoteIovec{Base: uintptr(off), Len: len(p)}
	n, err := unix.ProcessVMReadv(r.pid, []unix.Iovec{local}, []unix.RemoteIovec{remote}, 0)
	if err != nil {
		return 0, err
	}
	if n < len(p) {
		return n, io.ErrUnexpectedEOF
	}
	return n, nil
}
