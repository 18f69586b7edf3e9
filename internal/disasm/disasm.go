// Package disasm renders machine code pulled out of the address space.
// Instruction decoding itself is delegated to golang.org/x/arch.
package disasm

import (
	"debug/elf"
	"fmt"
	"io"

	"golang.org/x/arch/arm/armasm"
	"golang.org/x/arch/arm64/arm64asm"
	"golang.org/x/arch/x86/x86asm"

	"github.com/corescope/corescope/internal/arch"
)

// Dump decodes code mapped at addr and writes one line per
// instruction: address, raw encoding, mnemonic.
func Dump(w io.Writer, a arch.Arch, code []byte, addr uint64) error {
	switch a.Machine() {
	case elf.EM_AARCH64:
		return dumpARM64(w, code, addr)
	case elf.EM_ARM:
		return dumpARM(w, code, addr)
	case elf.EM_X86_64:
		return dumpX86(w, code, addr)
	default:
		return fmt.Errorf("no disassembler for %s", a.Name())
	}
}

func dumpARM64(w io.Writer, code []byte, addr uint64) error {
	for i := 0; i+4 <= len(code); i += 4 {
		pc := addr + uint64(i)
		inst, err := arm64asm.Decode(code[i : i+4])
		if err != nil {
			fmt.Fprintf(w, "0x%x: %24x | .inst\n", pc, code[i:i+4])
			continue
		}
		fmt.Fprintf(w, "0x%x: %24x | %s\n", pc, code[i:i+4], arm64asm.GNUSyntax(inst))
	}
	return nil
}

func dumpARM(w io.Writer, code []byte, addr uint64) error {
	for i := 0; i+4 <= len(code); i += 4 {
		pc := addr + uint64(i)
		inst, err := armasm.Decode(code[i:i+4], armasm.ModeARM)
		if err != nil {
			fmt.Fprintf(w, "0x%x: %24x | .inst\n", pc, code[i:i+4])
			continue
		}
		fmt.Fprintf(w, "0x%x: %24x | %s\n", pc, code[i:i+4], armasm.GNUSyntax(inst))
	}
	return nil
}

func dumpX86(w io.Writer, code []byte, addr uint64) error {
	for i := 0; i < len(code); {
		pc := addr + uint64(i)
		inst, err := x86asm.Decode(code[i:], 64)
		if err != nil || inst.Len == 0 {
			fmt.Fprintf(w, "0x%x: %24x | .byte\n", pc, code[i:i+1])
			i++
			continue
		}
		fmt.Fprintf(w, "0x%x: %24x | %s\n", pc, code[i:i+inst.Len],
			x86asm.IntelSyntax(inst, pc, nil))
		i += inst.Len
	}
	return nil
}
