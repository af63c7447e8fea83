// Package main implements the patternbank CLI for operating on the local
// pattern knowledge store.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/patternbank/internal/bank"
	"github.com/fyrsmithlabs/patternbank/internal/confidence"
	"github.com/fyrsmithlabs/patternbank/internal/config"
	"github.com/fyrsmithlabs/patternbank/internal/exchange"
	"github.com/fyrsmithlabs/patternbank/internal/logging"
	"github.com/fyrsmithlabs/patternbank/internal/merge"
	"github.com/fyrsmithlabs/patternbank/internal/namespace"
	"github.com/fyrsmithlabs/patternbank/internal/similarity"
	"github.com/fyrsmithlabs/patternbank/internal/store"
)

var (
	// configPath overrides the default config file location
	configPath string
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "patternbank",
	Short: "CLI for the local pattern knowledge store",
	Long: `patternbank operates on the local confidence-scored pattern store.
It provides commands for capturing bug-derived patterns, querying, feedback,
decay maintenance, and cross-instance export/import.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (default ~/.config/patternbank/config.yaml)")
}

// app bundles the wired services a command needs. Close releases the store.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	store    *store.SQLiteStore
	bank     *bank.Service
	exchange *exchange.Service
	merger   *merge.Engine
	manager  *confidence.Manager
}

func (a *app) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("failed to close store", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

// newApp loads configuration and wires the service graph for one command
// invocation.
func newApp() (*app, error) {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, err
	}

	sim := similarity.NewEngine(similarity.Params{
		TitleWeight:        cfg.Similarity.TitleWeight,
		ContentWeight:      cfg.Similarity.ContentWeight,
		FileWeight:         cfg.Similarity.FileWeight,
		NamespaceWeight:    cfg.Similarity.NamespaceWeight,
		SimilarThreshold:   cfg.Similarity.SimilarThreshold,
		ConflictDivergence: cfg.Similarity.ConflictDivergence,
	})

	st, err := store.NewSQLiteStore(cfg.Store.Path, sim, logger)
	if err != nil {
		return nil, err
	}

	guard := namespace.NewGuard(logger)

	merger, err := merge.NewEngine(st, sim, guard, logger)
	if err != nil {
		st.Close()
		return nil, err
	}

	manager, err := confidence.NewManager(st, guard, logger,
		confidence.WithActorScope(namespace.ActorScope(cfg.Instance.ActorScope)),
		confidence.WithDecayEpsilon(cfg.Decay.Epsilon))
	if err != nil {
		st.Close()
		return nil, err
	}

	bankSvc, err := bank.NewService(st, manager, merger, logger)
	if err != nil {
		st.Close()
		return nil, err
	}

	exchangeSvc, err := exchange.NewService(st, merger, cfg.Instance.ID, logger)
	if err != nil {
		st.Close()
		return nil, err
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		store:    st,
		bank:     bankSvc,
		exchange: exchangeSvc,
		merger:   merger,
		manager:  manager,
	}, nil
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	fmt.Println(string(out))
	return nil
}
