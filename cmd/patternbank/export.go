package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// export command flags
	exportScope         string
	exportMinConfidence float64
	exportOutput        string
)

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().StringVar(&exportScope, "scope", "", "Namespace prefix to export (required)")
	exportCmd.Flags().Float64Var(&exportMinConfidence, "min-confidence", 0, "Minimum confidence to include")
	exportCmd.Flags().StringVar(&exportOutput, "output", "-", "Output file, or - for stdout")
	_ = exportCmd.MarkFlagRequired("scope")
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export patterns to an exchange document",
	Long: `Export patterns under a namespace prefix into a portable JSON document.

The document carries the schema version, source instance, summary statistics,
and the full pattern list. Export is read-only and does not touch usage
statistics.

Examples:
  # Export the whole myapp domain to a file
  patternbank export --scope myapp --output myapp-patterns.json

  # Export only high-confidence auth patterns to stdout
  patternbank export --scope myapp.auth --min-confidence 0.8`,
	RunE: runExport,
}

func runExport(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	doc, err := a.exchange.Export(cmd.Context(), exportScope, exportMinConfidence)
	if err != nil {
		return fmt.Errorf("export failed: %w", err)
	}

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}
	out = append(out, '\n')

	if exportOutput == "-" || exportOutput == "" {
		_, err = os.Stdout.Write(out)
		return err
	}
	if err := os.WriteFile(exportOutput, out, 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", exportOutput, err)
	}

	fmt.Fprintf(os.Stderr, "exported %d patterns to %s\n", doc.Statistics.PatternCount, exportOutput)
	return nil
}
