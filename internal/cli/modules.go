package cli

import (
	"debug/elf"
	"fmt"
	"strings"

	"github.com/ianlancetaylor/demangle"
	"github.com/spf13/cobra"

	"github.com/corescope/corescope/internal/log"
)

var modulesFlags struct {
	syms bool
}

var modulesCmd = &cobra.Command{
	Use:   "modules [name]",
	Short: "List modules recorded in the core file's file table",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		core, err := openCore()
		if err != nil {
			return err
		}
		defer core.Close()

		var match string
		if len(args) == 1 {
			match = args[0]
		}

		w := cmd.OutOrStdout()
		for _, m := range core.Modules {
			if match != "" && !strings.Contains(m.Path, match) {
				continue
			}
			fmt.Fprintf(w, "%012x-%012x %08x %s\n",
				uint64(m.Start), uint64(m.End), m.FileOffset, m.Path)
			if !modulesFlags.syms {
				continue
			}
			if err := printSymbols(cmd, m.Path, uint64(m.Start)); err != nil {
				log.Warnf("symbols for %s: %v", m.Path, err)
			}
		}
		return nil
	},
}

// printSymbols lists the dynamic symbols of the module's on-disk ELF,
// rebased to its load address. C++ names are demangled.
func printSymbols(cmd *cobra.Command, path string, base uint64) error {
	f, err := elf.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	syms, err := f.DynamicSymbols()
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	for _, s := range syms {
		if s.Value == 0 || elf.ST_TYPE(s.Info) != elf.STT_FUNC {
			continue
		}
		fmt.Fprintf(w, "  %012x %6d %s\n", base+s.Value, s.Size, demangle.Filter(s.Name))
	}
	return nil
}

func init() {
	modulesCmd.Flags().BoolVarP(&modulesFlags.syms, "sym", "s", false, "list function symbols from the on-disk module")
	rootCmd.AddCommand(modulesCmd)
}
