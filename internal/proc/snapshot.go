// Package proc captures a stopped view of a live Linux process: its
// mappings, per-thread register sets, auxiliary vector, and raw memory.
// The snapshot is a read-only fact feed; the dump synthesizer consumes
// it through the Snapshot interface and never mutates it.
package proc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/corescope/corescope/internal/arch"
	"github.com/corescope/corescope/internal/log"
)

var (
	// ErrTargetUnavailable reports a target that cannot be attached
	// or opened at all.
	ErrTargetUnavailable = errors.New("target unavailable")

	// ErrSnapshotUnavailable reports an enumeration that failed
	// mid-flight, e.g. the target exited while being read.
	ErrSnapshotUnavailable = errors.New("snapshot unavailable")
)

// AuxvEntry is one auxiliary-vector type/value pair.
type AuxvEntry struct {
	Type  uint64
	Value uint64
}

// Snapshot is the read-only fact feed the dump synthesizer works from.
// ReadAt is addressed by target virtual address.
type Snapshot interface {
	io.ReaderAt

	Pid() int
	Mappings() []Mapping
	Threads() []Thread
	Auxv() []AuxvEntry
}

// LiveSnapshot holds a frozen live process. The target's threads stay
// stopped until Close.
type LiveSnapshot struct {
	vmReader

	pid      int
	mappings []Mapping
	threads  []Thread
	auxv     []AuxvEntry
}

var _ Snapshot = &LiveSnapshot{}

// Capture freezes the target and collects its mappings, registers and
// auxiliary vector. The caller must Close the snapshot to resume the
// target.
func Capture(pid int, a arch.Arch) (*LiveSnapshot, error) {
	if _, err := os.Stat(fmt.Sprintf("/proc/%d", pid)); err != nil {
		return nil, fmt.Errorf("%w: pid %d: %v", ErrTargetUnavailable, pid, err)
	}

	threads, err := FreezeAllThreads(pid)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTargetUnavailable, err)
	}
	snap := &LiveSnapshot{vmReader: vmReader{pid: pid}, pid: pid, threads: threads}

	fail := func(err error) (*LiveSnapshot, error) {
		UnfreezeAllThreads(threads)
		return nil, fmt.Errorf("%w: %v", ErrSnapshotUnavailable, err)
	}

	if err := CollectThreadRegisters(snap.threads, a); err != nil {
		return fail(err)
	}
	// Maps are authoritative only once everything is stopped.
	if snap.mappings, err = ParseMaps(pid); err != nil {
		return fail(err)
	}
	if snap.auxv, err = readAuxv(pid, a); err != nil {
		return fail(err)
	}

	log.Debugf("captured pid %d: %d mappings, %d threads, %d auxv entries",
		pid, len(snap.mappings), len(snap.threads), len(snap.auxv))
	return snap, nil
}

func (s *LiveSnapshot) Pid() int            { return s.pid }
func (s *LiveSnapshot) Mappings() []Mapping { return s.mappings }
func (s *LiveSnapshot) Threads() []Thread   { return s.threads }
func (s *LiveSnapshot) Auxv() []AuxvEntry   { return s.auxv }

// Close resumes the target's threads.
func (s *LiveSnapshot) Close() error {
	return UnfreezeAllThreads(s.threads)
}

// readAuxv parses /proc/<pid>/auxv into type/value pairs.
func readAuxv(pid int, a arch.Arch) ([]AuxvEntry, error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/auxv", pid))
	if err != nil {
		return nil, fmt.Errorf("failed to read auxv: %w", err)
	}
	var entries []AuxvEntry
	step := a.PointerSize()
	for i := 0; i+2*step <= len(data); i += 2 * step {
		var e AuxvEntry
		if step == 4 {
			e.Type = uint64(binary.LittleEndian.Uint32(data[i:]))
			e.Value = uint64(binary.LittleEndian.Uint32(data[i+4:]))
		} else {
			e.Type = binary.LittleEndian.Uint64(data[i:])
			e.Value = binary.LittleEndian.Uint64(data[i+8:])
		}
		entries = append(entries, e)
		if e.Type == 0 { // AT_NULL
			break
		}
	}
	return entries, nil
}
