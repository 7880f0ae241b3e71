package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/rasac/internal/console"
)

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cachePurgeCmd)
}

// cacheCmd is the parent command for the local curve cache
var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or purge the local curve cache",
}

var errCacheDisabled = errors.New("curve cache is disabled (cache.enabled)")

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show the size of the curve cache",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), outputCLI)
		if err != nil {
			return err
		}
		defer a.Close(cmd.Context())
		if a.cache == nil {
			return errCacheDisabled
		}

		entries, size, err := a.cache.Stats()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d curves, %s\n", a.cache.Dir(), entries, console.FormatSize(size))
		return nil
	},
}

var cachePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Remove every cached curve",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), outputCLI)
		if err != nil {
			return err
		}
		defer a.Close(cmd.Context())
		if a.cache == nil {
			return errCacheDisabled
		}

		n, err := a.cache.Purge(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %d curves\n", n)
		return nil
	},
}
