package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var (
	// query command flags
	queryNamespace     string
	queryMinConfidence float64
	queryOutputJSON    bool
)

func init() {
	rootCmd.AddCommand(queryCmd)

	queryCmd.Flags().StringVar(&queryNamespace, "namespace", "", "Namespace prefix to scan (required)")
	queryCmd.Flags().Float64Var(&queryMinConfidence, "min-confidence", 0, "Minimum confidence threshold")
	queryCmd.Flags().BoolVar(&queryOutputJSON, "json", false, "Output results as JSON")
	_ = queryCmd.MarkFlagRequired("namespace")
}

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query patterns by namespace and confidence",
	Long: `Query patterns under a namespace prefix, ordered by confidence.

A prefix matches the namespace itself and everything nested under it:
--namespace myapp matches myapp, myapp.auth, and myapp.auth.tokens.

Examples:
  # All auth patterns
  patternbank query --namespace myapp.auth

  # Only high-confidence patterns, as JSON
  patternbank query --namespace myapp --min-confidence 0.8 --json`,
	RunE: runQuery,
}

func runQuery(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	patterns, err := a.bank.QueryPatterns(cmd.Context(), queryNamespace, queryMinConfidence)
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}

	if queryOutputJSON {
		return printJSON(patterns)
	}

	if len(patterns) == 0 {
		fmt.Println("no patterns found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tTITLE\tNAMESPACE\tCONFIDENCE\tPINNED\tACCESSES")
	for _, p := range patterns {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.2f\t%v\t%d\n",
			p.ID, p.Type, p.Title, p.Namespace, p.Confidence, p.Pinned, p.AccessCount)
	}
	return w.Flush()
}
