package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var vmasCmd = &cobra.Command{
	Use:   "vmas",
	Short: "List virtual memory areas in the core file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		core, err := openCore()
		if err != nil {
			return err
		}
		defer core.Close()

		w := cmd.OutOrStdout()
		for _, b := range core.Space.Blocks() {
			path, fileOff := b.File()
			overlay := ""
			if b.HasOverlay() {
				overlay = " [overlay]"
			}
			fmt.Fprintf(w, "%012x-%012x %s %08x %s%s\n",
				uint64(b.Vaddr()), uint64(b.End()), b.Perm(), fileOff, path, overlay)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(vmasCmd)
}
