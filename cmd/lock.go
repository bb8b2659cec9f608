package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sells-group/market-intel/internal/joblock"
	"github.com/sells-group/market-intel/internal/normalize"
)

var lockCmd = &cobra.Command{
	Use:   "lock",
	Short: "Inspect and manage per-entity job locks",
}

var lockStatusCmd = &cobra.Command{
	Use:   "status <target>",
	Short: "Show the lock for a target (name or key)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := newEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		key := normalize.LockKey(args[0])
		l := env.locks.Status(cmd.Context(), key)
		if l == nil {
			fmt.Printf("no active lock for %q\n", key)
			return nil
		}
		return printJSON(l)
	},
}

var lockReleaseCmd = &cobra.Command{
	Use:   "release <target> <owner>",
	Short: "Force-release a processing lock held by an owner",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := newEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		key := normalize.LockKey(args[0])
		env.locks.Release(cmd.Context(), key, args[1], joblock.StatusFailed, nil)
		fmt.Printf("released %q (if held by %s)\n", key, args[1])
		return nil
	},
}

var lockSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Garbage-collect expired and aged-out locks",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := newEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		n := env.locks.Sweep(cmd.Context(), cfg.Lock.Retention())
		fmt.Printf("swept %d locks\n", n)
		return nil
	},
}

func init() {
	lockCmd.AddCommand(lockStatusCmd, lockReleaseCmd, lockSweepCmd)
	rootCmd.AddCommand(lockCmd)
}
