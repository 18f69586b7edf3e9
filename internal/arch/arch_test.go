package arch

import (
	"debug/elf"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestByMachine(t *testing.T) {
	tests := []struct {
		machine elf.Machine
		name    string
		ptrSize int
		class   elf.Class
	}{
		{elf.EM_X86_64, "x86_64", 8, elf.ELFCLASS64},
		{elf.EM_AARCH64, "arm64", 8, elf.ELFCLASS64},
		{elf.EM_ARM, "arm", 4, elf.ELFCLASS32},
	}
	for _, tt := range tests {
		a, err := ByMachine(tt.machine)
		require.NoError(t, err)
		assert.Equal(t, tt.name, a.Name())
		assert.Equal(t, tt.ptrSize, a.PointerSize())
		assert.Equal(t, tt.class, a.Class())
		assert.Equal(t, tt.machine, a.Machine())
	}

	_, err := ByMachine(elf.EM_RISCV)
	assert.Error(t, err)
}

func TestPointerMask(t *testing.T) {
	// 64-bit Android uses at most 48 valid address bits; tag bits
	// above them must clear.
	a, _ := ByMachine(elf.EM_AARCH64)
	assert.Equal(t, uint64(0x0000_1234_5678_9abc), 0xb400_1234_5678_9abc&a.PointerMask())

	a32, _ := ByMachine(elf.EM_ARM)
	assert.Equal(t, uint64(0x8765_4321), 0x8765_4321&a32.PointerMask())
}

func TestPRStatusGeometry(t *testing.T) {
	for _, a := range []Arch{X8664{}, AArch64{}, Arm{}} {
		assert.LessOrEqual(t, a.PRStatusRegsOffset()+a.PRStatusRegsSize(), a.PRStatusSize(),
			"%s pr_reg must fit inside elf_prstatus", a.Name())
		assert.Less(t, a.PRStatusPidOffset(), a.PRStatusRegsOffset(), a.Name())
	}
}
