package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sells-group/market-intel/internal/resolve"
)

var (
	resolveRegion string
	resolveSector string
	resolveJSON   bool
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <query>",
	Short: "Resolve a free-text company or brand query to a canonical entity",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := newEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		var rctx *resolve.Context
		if resolveRegion != "" || resolveSector != "" {
			rctx = &resolve.Context{Region: resolveRegion, Sector: resolveSector}
		}

		query := strings.Join(args, " ")
		res := env.resolver.Resolve(cmd.Context(), query, rctx)

		if resolveJSON {
			return printJSON(res)
		}

		if res.Method == resolve.MethodNone {
			fmt.Printf("no match for %q\n", query)
			return nil
		}
		fmt.Printf("%s  (method=%s confidence=%d verified=%t)\n",
			res.Entity.Name, res.Method, res.Confidence, res.Verified)
		for _, alt := range res.Alternatives {
			fmt.Printf("  alt: %s (%d)\n", alt.Entity.Name, alt.Confidence)
		}
		return nil
	},
}

func init() {
	resolveCmd.Flags().StringVar(&resolveRegion, "region", "", "preferred region for tie-breaking")
	resolveCmd.Flags().StringVar(&resolveSector, "sector", "", "preferred sector for tie-breaking")
	resolveCmd.Flags().BoolVar(&resolveJSON, "json", false, "emit the full result as JSON")
	rootCmd.AddCommand(resolveCmd)
}
