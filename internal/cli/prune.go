package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var pruneInterval time.Duration

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Drop ledger records past the retention window",
	RunE:  runPrune,
}

func init() {
	pruneCmd.Flags().DurationVar(&pruneInterval, "interval", 0, "keep pruning at this interval until interrupted")
	rootCmd.AddCommand(pruneCmd)
}

func runPrune(cmd *cobra.Command, args []string) error {
	m, err := openMonitor(cmd)
	if err != nil {
		return err
	}
	defer closeMonitor(m)

	pruner := m.Pruner(pruneInterval)
	if pruneInterval > 0 {
		return pruner.Start(cmd.Context())
	}

	removed, err := pruner.Prune(cmd.Context())
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d record(s)\n", removed)
	return err
}
