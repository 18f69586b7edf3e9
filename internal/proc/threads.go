package proc

import (
	"cmp"
	"debug/elf"
	"fmt"
	"os"
	"slices"
	"strconv"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/corescope/corescope/internal/arch"
)

// Thread is one OS thread of the target with its captured
// general-purpose register block (raw pr_reg layout).
type Thread struct {
	Tid    int
	GPRegs []byte
}

// ParseThreads enumerates /proc/<pid>/task.
func ParseThreads(pid int) ([]Thread, error) {
	entries, err := os.ReadDir(fmt.Sprintf("/proc/%d/task", pid))
	if err != nil {
		return nil, fmt.Errorf("failed to read task directory: %w", err)
	}

	var threads []Thread
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		tid, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}
		threads = append(threads, Thread{Tid: tid})
	}
	return threads, nil
}

// FreezeThread attaches to a thread without resuming it.
func FreezeThread(tid int) error {
	if err := unix.PtraceSeize(tid); err != nil {
		return fmt.Errorf("failed to seize thread %d: %w", tid, err)
	}
	if err := unix.PtraceInterrupt(tid); err != nil {
		return fmt.Errorf("failed to interrupt thread %d: %w", tid, err)
	}
	// The interrupt is asynchronous; wait until the stop is reported
	// so register reads below see a stopped tracee.
	var ws unix.WaitStatus
	for {
		if _, err := unix.Wait4(tid, &ws, unix.WALL, nil); err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("failed to wait for thread %d: %w", tid, err)
		}
		if ws.Stopped() || ws.Exited() || ws.Signaled() {
			return nil
		}
	}
}

// UnfreezeThread detaches, resuming the thread.
func UnfreezeThread(tid int) error {
	if err := unix.PtraceDetach(tid); err != nil {
		// Thread already exited.
		if err == unix.ESRCH {
			return nil
		}
		return fmt.Errorf("failed to detach from thread %d: %w", tid, err)
	}
	return nil
}

// FreezeAllThreads freezes every thread of the process, re-scanning
// until no new threads appear (threads can spawn mid-freeze). Returns
// the frozen set sorted by tid.
func FreezeAllThreads(pid int) ([]Thread, error) {
	frozen := make(map[int]Thread)
	for {
		threads, err := ParseThreads(pid)
		if err != nil {
			return nil, fmt.Errorf("failed to parse threads: %w", err)
		}
		newCount := 0
		for _, thread := range threads {
			if _, ok := frozen[thread.Tid]; ok {
				continue
			}
			if err := FreezeThread(thread.Tid); err != nil {
				for tid := range frozen {
					UnfreezeThread(tid)
				}
				return nil, fmt.Errorf("failed to freeze thread %d: %w", thread.Tid, err)
			}
			frozen[thread.Tid] = thread
			newCount++
		}
		if newCount == 0 {
			ts := make([]Thread, 0, len(frozen))
			for _, t := range frozen {
				ts = append(ts, t)
			}
			slices.SortFunc(ts, func(a, b Thread) int {
				return cmp.Compare(a.Tid, b.Tid)
			})
			return ts, nil
		}
	}
}

// UnfreezeAllThreads detaches from every frozen thread.
func UnfreezeAllThreads(threads []Thread) error {
	var lastErr error
	for _, thread := range threads {
		if err := UnfreezeThread(thread.Tid); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// CollectThreadRegisters captures the general-purpose register block of
// every frozen thread via PTRACE_GETREGSET/NT_PRSTATUS. A thread that
// exited mid-capture is kept with an empty block.
func CollectThreadRegisters(threads []Thread, a arch.Arch) error {
	for i := range threads {
		regs, err := getRegSet(threads[i].Tid, a.PRStatusRegsSize())
		if err != nil {
			if err == unix.ESRCH {
				threads[i].GPRegs = nil
				continue
			}
			return fmt.Errorf("failed to get registers for thread %d: %w", threads[i].Tid, err)
		}
		threads[i].GPRegs = regs
	}
	return nil
}

// getRegSet reads the NT_PRSTATUS register set of a stopped tracee.
// The raw syscall form works identically on every supported
// architecture, unlike the per-arch typed ptrace wrappers.
func getRegSet(tid, size int) ([]byte, error) {
	buf := make([]byte, size)
	iov := unix.Iovec{Base: &buf[0]}
	iov.SetLen(len(buf))
	_, _, errno := unix.Syscall6(unix.SYS_PTRACE, unix.PTRACE_GETREGSET,
		uintptr(tid), uintptr(elf.NT_PRSTATUS), uintptr(unsafe.Pointer(&iov)), 0, 0)
	if errno != 0 {
		return nil, errno
	}
	return buf[:int(iov.Len)], nil
}

// ReadComm returns the target's command name.
func ReadComm(pid int) (string, error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/comm", pid))
	if err != nil {
		return "", fmt.Errorf("failed to read comm: %w", err)
	}
	return string(data[:len(data)-1]), nil
}
