package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/corescope/corescope/internal/disasm"
	"github.com/corescope/corescope/internal/space"
)

var disasmEnd string

var disasmCmd = &cobra.Command{
	Use:   "disasm <addr>",
	Short: "Disassemble memory content at an address",
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

		end := begin + 0x40
		if disasmEnd != "" {
			if end, err = parseAddr(disasmEnd); err != nil {
				return fmt.Errorf("invalid end address %q: %w", disasmEnd, err)
			}
			end &= space.Address(core.Arch.PointerMask())
		}
		if b := core.Space.FindBlock(begin); b != nil && end > b.End() {
			end = b.End()
		}
		if end <= begin {
			return fmt.Errorf("empty range [0x%x,0x%x)", begin, end)
		}

		buf := make([]byte, end-begin)
		n, err := core.Space.Read(begin, buf, space.ModeAll)
		if err != nil && !errors.Is(err, space.ErrMiss) {
			return err
		}
		if n == 0 {
			return fmt.Errorf("no vma covers 0x%x", begin)
		}
		return disasm.Dump(cmd.OutOrStdout(), core.Arch, buf[:n], uint64(begin))
	},
}

func init() {
	disasmCmd.Flags().StringVarP(&disasmEnd, "end", "e", "", "disassemble [BEGIN, END)")
	rootCmd.AddCommand(disasmCmd)
}
