package commands

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(validateCmd)
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Checks whether the previously saved portal session is still usable, without harvesting.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		cfg := readConfig()
		_, _, session, db := setup(cfg)
		defer db.Close()
		defer session.Close()

		if session.Resume(ctx) {
			slog.Info("session is valid")
			return
		}
		slog.Error("no usable session, run `docharvest harvest` to log in again")
		os.Exit(1)
	},
}
