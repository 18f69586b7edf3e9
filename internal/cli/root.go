// Package cli is the one-shot command surface over a core-file
// session: query memory, list regions and modules, apply overlay
// patches, and dump live processes.
package cli

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/corescope/corescope/internal/corefile"
	"github.com/corescope/corescope/internal/log"
	"github.com/corescope/corescope/internal/space"
)

var (
	corePath string
	verbose  bool
)

var rootCmd = &cobra.Command{
	Use:           "corescope",
	Short:         "Inspect Android core dumps and live processes",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		log.SetDebug(verbose)
	},
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Errorf("%v", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&corePath, "core", "c", "", "core file to inspect")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug output")
}

// openCore loads the session core file named by --core.
func openCore() (*corefile.Core, error) {
	if corePath == "" {
		return nil, errors.New("no core file (pass --core)")
	}
	return corefile.Open(corePath)
}

// parseAddr accepts hex addresses with or without a 0x prefix.
func parseAddr(s string) (space.Address, error) {
	s = strings.TrimPrefix(strings.ToLower(s), "0x")
	v, err := strconv.ParseUint(s, 16, 64)
	return space.Address(v), err
}
