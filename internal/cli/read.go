package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/corescope/corescope/internal/disasm"
	"github.com/corescope/corescope/internal/space"
)

var readFlags struct {
	end     string
	origin  bool
	mmap    bool
	overlay bool
	inst    bool
	str     bool
	outFile string
}

var readCmd = &cobra.Command{
	Use:   "read <addr>",
	Short: "Read memory content (priority: overlay > mmap > origin)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		core, err := openCore()
		if err != nil {
			return err
		}
		defer core.Close()

		begin, err := parseAddr(args[0])
		if err != nil {
			return fmt.Errorf("invalid address %q: %w", args[0], err)
		}
		begin &= space.Address(core.Arch.PointerMask())

		end := begin + 8
		if readFlags.end != "" {
			if end, err = parseAddr(readFlags.end); err != nil {
				return fmt.Errorf("invalid end address %q: %w", readFlags.end, err)
			}
			end &= space.Address(core.Arch.PointerMask())
		}
		if b := core.Space.FindBlock(begin); b != nil && end > b.End() {
			end = b.End()
		}
		if end <= begin {
			return fmt.Errorf("empty range [0x%x,0x%x)", begin, end)
		}

		mode := readMode()
		if readFlags.str {
			s, err := core.Space.ReadCString(begin, 4096, mode)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), s)
			return nil
		}

		buf := make([]byte, end-begin)
		n, err := core.Space.Read(begin, buf, mode)
		if err != nil && !errors.Is(err, space.ErrMiss) {
			return err
		}
		if n == 0 {
			return fmt.Errorf("no vma covers 0x%x", begin)
		}
		buf = buf[:n]

		switch {
		case readFlags.outFile != "":
			if err := os.WriteFile(readFlags.outFile, buf, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved [%s].\n", readFlags.outFile)
		case readFlags.inst:
			return disasm.Dump(cmd.OutOrStdout(), core.Arch, buf, uint64(begin))
		default:
			hexDump(cmd.OutOrStdout(), uint64(begin), buf)
		}
		return nil
	},
}

func readMode() space.Mode {
	switch {
	case readFlags.origin:
		return space.ModeOrigin
	case readFlags.mmap:
		return space.ModeFileMmap
	case readFlags.overlay:
		return space.ModeOverlay
	}
	return space.ModeAll
}

// hexDump prints two 8-byte little-endian words per line with an ASCII
// column.
func hexDump(w io.Writer, addr uint64, data []byte) {
	for off := 0; off < len(data); off += 16 {
		line := data[off:min(off+16, len(data))]
		var words [2]uint64
		for i := 0; i < len(line); i++ {
			words[i/8] |= uint64(line[i]) << (8 * (i % 8))
		}
		fmt.Fprintf(w, "%x: %016x  %016x  %s\n", addr+uint64(off), words[0], words[1], toASCII(line))
	}
}

func toASCII(b []byte) string {
	out := make([]byte, len(b))
	for i, c := range b {
		if c >= 0x20 && c < 0x7f {
			out[i] = c
		} else {
			out[i] = '.'
		}
	}
	return string(out)
}

func init() {
	readCmd.Flags().StringVarP(&readFlags.end, "end", "e", "", "read [BEGIN, END) memory content")
	readCmd.Flags().BoolVar(&readFlags.origin, "origin", false, "read memory content from corefile")
	readCmd.Flags().BoolVar(&readFlags.mmap, "mmap", false, "read memory content from file mmap")
	readCmd.Flags().BoolVar(&readFlags.overlay, "overlay", false, "read memory content from overlay")
	readCmd.Flags().BoolVarP(&readFlags.inst, "inst", "i", false, "disassemble memory content")
	readCmd.Flags().BoolVarP(&readFlags.str, "string", "s", false, "read memory content as C string")
	readCmd.Flags().StringVarP(&readFlags.outFile, "file", "f", "", "save memory content to file")
	rootCmd.AddCommand(readCmd)
}
