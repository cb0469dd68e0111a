package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "docharvest",
	Short: "docharvest logs into the Enervia customer portal and harvests bills, payment schedules and attestations.",
}

var debugLogs *bool

func init() {
	debugLogs = rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging and http transcript dumps.")
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
