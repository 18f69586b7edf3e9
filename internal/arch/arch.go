// Package arch describes the per-architecture capabilities the address
// space and the core codec depend on: pointer width and valid-address
// mask, page size, and the layout of the PRSTATUS note record. One Arch
// is selected at session construction time and threaded through
// explicitly.
package arch

import (
	"debug/elf"
	"fmt"
	"runtime"
)

// Arch is the capability set of one target architecture.
type Arch interface {
	Name() string
	Machine() elf.Machine
	Class() elf.Class

	// PointerSize is the size of a target pointer in bytes.
	PointerSize() int
	// PointerMask covers the valid virtual-address bits. Queried
	// addresses are masked with it before lookup.
	PointerMask() uint64
	// PageSize is the alignment unit for LOAD segments.
	PageSize() uint64

	// PRStatusSize is the byte size of one elf_prstatus record.
	PRStatusSize() int
	// PRStatusPidOffset is the offset of pr_pid within the record.
	PRStatusPidOffset() int
	// PRStatusRegsOffset and PRStatusRegsSize locate pr_reg, the raw
	// general-purpose register block.
	PRStatusRegsOffset() int
	PRStatusRegsSize() int
}

// The PRSTATUS offsets below mirror the kernel's elf_prstatus layout for
// each platform; they match what external debuggers expect byte for byte.

// X8664 is the x86-64 capability set.
type X8664 struct{}

func (X8664) Name() string            { return "x86_64" }
func (X8664) Machine() elf.Machine    { return elf.EM_X86_64 }
func (X8664) Class() elf.Class        { return elf.ELFCLASS64 }
func (X8664) PointerSize() int        { return 8 }
func (X8664) PointerMask() uint64     { return (1 << 48) - 1 }
func (X8664) PageSize() uint64        { return 0x1000 }
func (X8664) PRStatusSize() int       { return 336 }
func (X8664) PRStatusPidOffset() int  { return 32 }
func (X8664) PRStatusRegsOffset() int { return 112 }
func (X8664) PRStatusRegsSize() int   { return 216 }

// AArch64 is the 64-bit ARM capability set.
type AArch64 struct{}

func (AArch64) Name() string            { return "arm64" }
func (AArch64) Machine() elf.Machine    { return elf.EM_AARCH64 }
func (AArch64) Class() elf.Class        { return elf.ELFCLASS64 }
func (AArch64) PointerSize() int        { return 8 }
func (AArch64) PointerMask() uint64     { return (1 << 48) - 1 }
func (AArch64) PageSize() uint64        { return 0x1000 }
func (AArch64) PRStatusSize() int       { return 392 }
func (AArch64) PRStatusPidOffset() int  { return 32 }
func (AArch64) PRStatusRegsOffset() int { return 112 }
func (AArch64) PRStatusRegsSize() int   { return 272 }

// Arm is the 32-bit ARM capability set.
type Arm struct{}

func (Arm) Name() string            { return "arm" }
func (Arm) Machine() elf.Machine    { return elf.EM_ARM }
func (Arm) Class() elf.Class        { return elf.ELFCLASS32 }
func (Arm) PointerSize() int        { return 4 }
func (Arm) PointerMask() uint64     { return (1 << 32) - 1 }
func (Arm) PageSize() uint64        { return 0x1000 }
func (Arm) PRStatusSize() int       { return 148 }
func (Arm) PRStatusPidOffset() int  { return 24 }
func (Arm) PRStatusRegsOffset() int { return 72 }
func (Arm) PRStatusRegsSize() int   { return 72 }

// ByMachine returns the capability set for an ELF machine type.
func ByMachine(m elf.Machine) (Arch, error) {
	switch m {
	case elf.EM_X86_64:
		return X8664{}, nil
	case elf.EM_AARCH64:
		return AArch64{}, nil
	case elf.EM_ARM:
		return Arm{}, nil
	default:
		return nil, fmt.Errorf("unsupported machine %v", m)
	}
}

// Host returns the capability set of the machine we are running on,
// used when snapshotting a live target.
func Host() (Arch, error) {
	switch runtime.GOARCH {
	case "amd64":
		return X8664{}, nil
	case "arm64":
		return AArch64{}, nil
	case "arm":
		return Arm{}, nil
	default:
		return nil, fmt.Errorf("unsupported host arch %s", runtime.GOARCH)
	}
}
