package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/market-intel/internal/seed"
)

var seedFile string

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Import curated entities and aliases into the store",
	Long:  "Imports a knowledge-base YAML file or an analyst spreadsheet (name, kind, parent, sector, region, tickers, aliases). Without --file the embedded default seed is imported.",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := newEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.store.Migrate(cmd.Context()); err != nil {
			return err
		}

		var res *seed.Result
		switch strings.ToLower(filepath.Ext(seedFile)) {
		case "":
			res, err = seed.ImportEmbedded(cmd.Context(), env.store)
		case ".yaml", ".yml":
			res, err = seed.ImportYAML(cmd.Context(), env.store, seedFile)
		case ".xlsx":
			res, err = seed.ImportXLSX(cmd.Context(), env.store, seedFile)
		default:
			return eris.Errorf("unsupported seed file type %q", filepath.Ext(seedFile))
		}
		if err != nil {
			return err
		}

		fmt.Printf("imported %d entities, %d aliases\n", res.Entities, res.Aliases)
		return nil
	},
}

func init() {
	seedCmd.Flags().StringVar(&seedFile, "file", "", "seed file (.yaml or .xlsx); empty imports the embedded seed")
	rootCmd.AddCommand(seedCmd)
}
