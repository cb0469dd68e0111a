package commands

import (
	"log/slog"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"docharvest/services/harvest"
)

func init() {
	rootCmd.AddCommand(harvestCmd)
}

var harvestCmd = &cobra.Command{
	Use:   "harvest",
	Short: "Logs into the portal and harvests every document category.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		cfg := readConfig()
		client, store, session, db := setup(cfg)
		defer db.Close()
		defer session.Close()

		if session.Resume(ctx) {
			slog.Info("reusing previous session")
		} else {
			slog.Info("logging in", "identity", cfg.Identity)
			err := session.Login(ctx)
			if err != nil {
				fatal("login failed", err)
			}
		}

		harvester := harvest.New(client, store, harvest.Options{
			SourceAccountIdentifier: cfg.Identity,
			TimeLimit:               time.Duration(cfg.TimeLimitSeconds) * time.Second,
		})

		t1 := time.Now()
		summary, err := harvester.Run(ctx)
		if err != nil {
			fatal("harvest failed", err)
		}
		slog.Info("harvest time", "seconds", time.Since(t1).Seconds())

		renderSummary(summary)
	},
}

func renderSummary(s harvest.Summary) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Category", "Saved", "Skipped"})
	t.AppendRow(table.Row{"Bills", s.Bills.Saved, s.Bills.Skipped})
	t.AppendRow(table.Row{"Payment schedule", s.Schedule.Saved, s.Schedule.Skipped})
	t.AppendRow(table.Row{"Attestations", s.Attestations.Saved, s.Attestations.Skipped})
	t.AppendFooter(table.Row{"Contracts", s.Contracts, ""})
	t.SetStyle(table.StyleRounded)
	t.Render()
}
