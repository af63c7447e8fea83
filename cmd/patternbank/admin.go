package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(purgeCmd)
	rootCmd.AddCommand(showCmd)
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show store statistics",
	Long: `Show summary statistics for the local pattern store as JSON.

Examples:
  patternbank stats`,
	RunE: runStats,
}

var purgeCmd = &cobra.Command{
	Use:   "purge <pattern-id>",
	Short: "Permanently delete a pattern",
	Long: `Permanently delete a pattern from the store. This is a hard delete
with no recovery; prefer letting passive decay age knowledge out.

Examples:
  patternbank purge 4f7c2a1e-...-9b`,
	Args: cobra.ExactArgs(1),
	RunE: runPurge,
}

var showCmd = &cobra.Command{
	Use:   "show <pattern-id>",
	Short: "Show one pattern",
	Long: `Print a single pattern as JSON without touching its usage statistics.

Examples:
  patternbank show 4f7c2a1e-...-9b`,
	Args: cobra.ExactArgs(1),
	RunE: runShow,
}

func runStats(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	stats, err := a.bank.Stats(cmd.Context())
	if err != nil {
		return fmt.Errorf("stats failed: %w", err)
	}
	return printJSON(stats)
}

func runPurge(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.bank.Purge(cmd.Context(), args[0]); err != nil {
		return fmt.Errorf("purge failed: %w", err)
	}
	fmt.Printf("purged pattern %s\n", args[0])
	return nil
}

func runShow(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	p, err := a.store.Peek(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("show failed: %w", err)
	}
	return printJSON(p)
}
