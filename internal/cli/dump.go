package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/corescope/corescope/internal/arch"
	"github.com/corescope/corescope/internal/filter"
	"github.com/corescope/corescope/internal/log"
	"github.com/corescope/corescope/internal/proc"
	"github.com/corescope/corescope/internal/synth"
)

var dumpFlags struct {
	output     string
	includeAll bool
	exclude    []string
}

var dumpCmd = &cobra.Command{
	Use:   "dump <pid>",
	Short: "Snapshot a live process and write an ELF core file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pid, err := strconv.Atoi(args[0])
		if err != nil || pid <= 0 {
			return fmt.Errorf("invalid pid %q", args[0])
		}

		a, err := arch.Host()
		if err != nil {
			return err
		}

		comm, err := proc.ReadComm(pid)
		if err != nil {
			return fmt.Errorf("%w: pid %d: %v", proc.ErrTargetUnavailable, pid, err)
		}

		snap, err := proc.Capture(pid, a)
		if err != nil {
			return err
		}
		defer snap.Close()
		log.Infof("captured %s (pid %d): %d mappings, %d threads",
			comm, pid, len(snap.Mappings()), len(snap.Threads()))

		out := dumpFlags.output
		if out == "" {
			out = fmt.Sprintf("core.%d", pid)
		}

		var policy filter.Policy
		if dumpFlags.includeAll {
			policy = filter.IncludeAll{}
		} else {
			policy = &filter.Default{
				ExcludePatterns: append(append([]string(nil),
					filter.DefaultExcludePatterns...), dumpFlags.exclude...),
			}
		}

		s := synth.New(snap, a, synth.Options{Policy: policy})
		if err := s.WriteFile(out); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Saved [%s].\n", out)
		return nil
	},
}

func init() {
	dumpCmd.Flags().StringVarP(&dumpFlags.output, "output", "o", "", "output core file path (default core.<pid>)")
	dumpCmd.Flags().BoolVar(&dumpFlags.includeAll, "include-all", false, "dump every mapping, bypassing the filter policy")
	dumpCmd.Flags().StringSliceVar(&dumpFlags.exclude, "exclude", nil, "extra path patterns to exclude")
	rootCmd.AddCommand(dumpCmd)
}
