package cli

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/corescope/corescope/internal/space"
)

var patchCmd = &cobra.Command{
	Use:   "patch <addr> <hex-bytes>",
	Short: "Overlay bytes onto the address space for this session",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		core, err := openCore()
		if err != nil {
			return err
		}
		defer core.Close()

		addr, err := parseAddr(args[0])
		if err != nil {
			return fmt.Errorf("invalid address %q: %w", args[0], err)
		}
		addr &= space.Address(core.Arch.PointerMask())

		data, err := hex.DecodeString(strings.TrimPrefix(strings.ToLower(args[1]), "0x"))
		if err != nil {
			return fmt.Errorf("invalid patch bytes %q: %w", args[1], err)
		}
		if len(data) == 0 {
			return fmt.Errorf("empty patch")
		}

		w := cmd.OutOrStdout()
		before := make([]byte, len(data))
		if n, err := core.Space.Read(addr, before, space.ModeAll); err == nil || n > 0 {
			fmt.Fprintln(w, "before:")
			hexDump(w, uint64(addr), before[:n])
		}

		if err := core.Space.ApplyOverlay(addr, data); err != nil {
			return err
		}

		after := make([]byte, len(data))
		n, err := core.Space.Read(addr, after, space.ModeAll)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, "after:")
		hexDump(w, uint64(addr), after[:n])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(patchCmd)
}
