package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/market-intel/internal/fusion"
)

var (
	fuseMetric   string
	fuseReadings string
)

var fuseCmd = &cobra.Command{
	Use:   "fuse",
	Short: "Fuse readings for one metric into a consensus value",
	RunE: func(cmd *cobra.Command, args []string) error {
		rf, err := loadReadingsFile(fuseReadings)
		if err != nil {
			return err
		}
		readings, ok := rf[fuseMetric]
		if !ok {
			return eris.Errorf("readings file has no metric %q", fuseMetric)
		}
		return printJSON(fusion.Fuse(fuseMetric, readings))
	},
}

func init() {
	fuseCmd.Flags().StringVar(&fuseMetric, "metric", "", "metric to fuse (price, revenue, ...)")
	fuseCmd.Flags().StringVar(&fuseReadings, "readings", "", "JSON file: {\"<metric>\": [{value, source, reliability, observed_at}, ...]}")
	_ = fuseCmd.MarkFlagRequired("metric")
	_ = fuseCmd.MarkFlagRequired("readings")
	rootCmd.AddCommand(fuseCmd)
}
