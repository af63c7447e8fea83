package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(reinforceCmd)
	rootCmd.AddCommand(falsePositiveCmd)
}

var reinforceCmd = &cobra.Command{
	Use:   "reinforce <pattern-id>",
	Short: "Reinforce a pattern after a confirmed catch",
	Long: `Raise a pattern's confidence after it correctly predicted a bug.

Each reinforcement adds 0.05 confidence (capped at 1.0) and increments the
pattern's bug counter. Patterns at or above 0.90 become pinned and exempt
from passive decay.

Examples:
  patternbank reinforce 4f7c2a1e-...-9b`,
	Args: cobra.ExactArgs(1),
	RunE: runReinforce,
}

var falsePositiveCmd = &cobra.Command{
	Use:   "false-positive <pattern-id>",
	Short: "Decay a pattern after a false positive",
	Long: `Lower a pattern's confidence after it produced a false positive.

Each false positive subtracts 0.05 confidence (floored at 0.0). A pattern
dropping below 0.90 loses its pinned status.

Examples:
  patternbank false-positive 4f7c2a1e-...-9b`,
	Args: cobra.ExactArgs(1),
	RunE: runFalsePositive,
}

func runReinforce(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	c, err := a.bank.Reinforce(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("reinforce failed: %w", err)
	}

	fmt.Printf("pattern %s confidence: %.2f\n", args[0], c)
	return nil
}

func runFalsePositive(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	c, err := a.bank.DecayOnFalsePositive(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("false-positive failed: %w", err)
	}

	fmt.Printf("pattern %s confidence: %.2f\n", args[0], c)
	return nil
}
