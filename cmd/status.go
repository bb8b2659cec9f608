package main

import (
	"time"

	"github.com/spf13/cobra"
)

var statusLookbackHours int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Summarize recent resolution activity",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := newEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		hours := statusLookbackHours
		if hours <= 0 {
			hours = cfg.Resolve.AuditLookbackHours
		}
		stats, err := env.store.ResolutionStats(cmd.Context(), time.Duration(hours)*time.Hour)
		if err != nil {
			return err
		}
		return printJSON(stats)
	},
}

func init() {
	statusCmd.Flags().IntVar(&statusLookbackHours, "hours", 0, "lookback window (default from config)")
	rootCmd.AddCommand(statusCmd)
}
