package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/patternbank/internal/confidence"
)

var (
	// decay command flags
	decayWatch bool
)

func init() {
	rootCmd.AddCommand(decayCmd)

	decayCmd.Flags().BoolVar(&decayWatch, "watch", false, "Run the decay scheduler until interrupted instead of a single sweep")
}

var decayCmd = &cobra.Command{
	Use:   "decay",
	Short: "Run passive confidence decay",
	Long: `Run the passive decay sweep over stale patterns.

Non-pinned patterns whose last access is older than the configured cutoff
lose the configured epsilon of confidence. Pinned patterns are exempt.

Examples:
  # One sweep now
  patternbank decay

  # Keep sweeping on the configured interval
  patternbank decay --watch`,
	RunE: runDecay,
}

func runDecay(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if !decayWatch {
		affected, err := a.bank.PassiveDecayPass(cmd.Context(), a.cfg.Decay.CutoffAge)
		if err != nil {
			return fmt.Errorf("decay sweep failed: %w", err)
		}
		fmt.Printf("decayed %d patterns\n", affected)
		return nil
	}

	scheduler, err := confidence.NewDecayScheduler(a.manager, a.logger,
		confidence.WithInterval(a.cfg.Decay.Interval),
		confidence.WithCutoffAge(a.cfg.Decay.CutoffAge))
	if err != nil {
		return err
	}

	if err := scheduler.Start(); err != nil {
		return err
	}
	a.logger.Info("decay scheduler running",
		zap.Duration("interval", a.cfg.Decay.Interval),
		zap.Duration("cutoff_age", a.cfg.Decay.CutoffAge))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	scheduler.Stop()
	return nil
}
