package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/patternbank/internal/exchange"
	"github.com/fyrsmithlabs/patternbank/internal/namespace"
)

var (
	// import command flags
	importAutoResolve bool
	importConfirmed   []string
	importActor       string
)

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().BoolVar(&importAutoResolve, "auto-resolve", false, "Skip protected-namespace patterns instead of pausing them")
	importCmd.Flags().StringSliceVar(&importConfirmed, "confirm", nil, "Incoming pattern id whose protected-namespace write is confirmed (repeatable)")
	importCmd.Flags().StringVar(&importActor, "actor", "", "Actor scope for the import: framework or workspace (default from config)")
}

var importCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Import an exchange document",
	Long: `Import patterns from an exchange document, merging them against local
knowledge. Reads the document from the file argument or stdin.

Each incoming pattern produces one merge decision: identical patterns keep
the higher-confidence side, similar patterns merge confidence by usage
weight, conflicting patterns keep the local side, and unique patterns are
added. Writes into protected namespaces are paused for confirmation unless
--auto-resolve or a matching --confirm id is given.

The full decision trail and summary are printed as JSON.

Examples:
  # Import a document
  patternbank import myapp-patterns.json

  # Import from stdin, skipping protected namespaces
  cat doc.json | patternbank import --auto-resolve -

  # Resume with two confirmed protected-namespace writes
  patternbank import --confirm 4f7c... --confirm 81aa... doc.json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runImport,
}

func runImport(cmd *cobra.Command, args []string) error {
	var content []byte
	var err error

	if len(args) == 0 || args[0] == "-" {
		content, err = io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("failed to read from stdin: %w", err)
		}
	} else {
		content, err = os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read file %s: %w", args[0], err)
		}
	}

	var doc exchange.Document
	if err := json.Unmarshal(content, &doc); err != nil {
		return fmt.Errorf("failed to parse document: %w", err)
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	actor := namespace.ActorScope(a.cfg.Instance.ActorScope)
	if importActor != "" {
		actor = namespace.ActorScope(importActor)
	}

	confirmed := make(map[string]bool, len(importConfirmed))
	for _, id := range importConfirmed {
		confirmed[id] = true
	}

	result, err := a.exchange.Import(cmd.Context(), exchange.NewSession(), &doc, exchange.ImportOptions{
		AutoResolve:  importAutoResolve,
		Actor:        actor,
		ConfirmedIDs: confirmed,
	})
	if err != nil {
		// A cancelled import still reports the partial result before the
		// error so the cursor is not lost.
		if result != nil {
			_ = printJSON(result)
		}
		return fmt.Errorf("import failed: %w", err)
	}

	return printJSON(result)
}
