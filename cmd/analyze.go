package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sells-group/market-intel/internal/engine"
	"github.com/sells-group/market-intel/internal/resolve"
)

var (
	analyzeMetrics  []string
	analyzeReadings string
	analyzeRegion   string
	analyzeSector   string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <query>",
	Short: "Resolve a query and fuse metrics across all configured sources",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := newEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		rf, err := loadReadingsFile(analyzeReadings)
		if err != nil {
			return err
		}
		metrics := analyzeMetrics
		if len(metrics) == 0 {
			for metric := range rf {
				metrics = append(metrics, metric)
			}
		}

		var rctx *resolve.Context
		if analyzeRegion != "" || analyzeSector != "" {
			rctx = &resolve.Context{Region: analyzeRegion, Sector: analyzeSector}
		}

		eng := engine.New(env.resolver, env.locks, registryFromReadings(rf))
		report, err := eng.Analyze(cmd.Context(), strings.Join(args, " "), metrics, rctx)

		var inProgress *engine.InProgressError
		if errors.As(err, &inProgress) {
			fmt.Printf("analysis already in progress (key=%s)\n", inProgress.Key)
			if inProgress.Lock != nil {
				fmt.Printf("  held by %s until %s\n", inProgress.Lock.Owner, inProgress.Lock.ExpiresAt.Format("15:04:05"))
			}
			return nil
		}
		if err != nil {
			return err
		}
		return printJSON(report)
	},
}

func init() {
	analyzeCmd.Flags().StringSliceVar(&analyzeMetrics, "metrics", nil, "metrics to fuse (default: all in the readings file)")
	analyzeCmd.Flags().StringVar(&analyzeReadings, "readings", "", "JSON readings file, keyed by metric")
	analyzeCmd.Flags().StringVar(&analyzeRegion, "region", "", "preferred region for tie-breaking")
	analyzeCmd.Flags().StringVar(&analyzeSector, "sector", "", "preferred sector for tie-breaking")
	_ = analyzeCmd.MarkFlagRequired("readings")
	rootCmd.AddCommand(analyzeCmd)
}
