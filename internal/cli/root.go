package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "pitchforge",
	Short: "Multi-team pitch incubator engine",
	Long: `pitchforge runs timed, multi-phase pitch incubator sessions.

Teams work through exercise phases, submit answers for AI judging, and
accumulate a weighted score on a shared leaderboard.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
