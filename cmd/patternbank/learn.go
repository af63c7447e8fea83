package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/patternbank/internal/bank"
	"github.com/fyrsmithlabs/patternbank/internal/confidence"
)

var (
	// learn command flags
	learnTest      string
	learnCategory  string
	learnSeverity  string
	learnDesc      string
	learnExpected  string
	learnActual    string
	learnRootCause string
	learnNamespace string
	learnFiles     []string
)

func init() {
	rootCmd.AddCommand(learnCmd)

	learnCmd.Flags().StringVar(&learnTest, "test", "", "Name of the test that caught the bug (required)")
	learnCmd.Flags().StringVar(&learnCategory, "category", "", "Bug category (e.g. race, validation, auth)")
	learnCmd.Flags().StringVar(&learnSeverity, "severity", "medium", "Bug severity: critical, high, medium, or low")
	learnCmd.Flags().StringVar(&learnDesc, "description", "", "What went wrong")
	learnCmd.Flags().StringVar(&learnExpected, "expected", "", "Expected behavior")
	learnCmd.Flags().StringVar(&learnActual, "actual", "", "Actual behavior")
	learnCmd.Flags().StringVar(&learnRootCause, "root-cause", "", "Root cause analysis")
	learnCmd.Flags().StringVar(&learnNamespace, "namespace", "", "Target namespace, e.g. myapp.auth (required)")
	learnCmd.Flags().StringSliceVar(&learnFiles, "file", nil, "Affected file path (repeatable)")
	_ = learnCmd.MarkFlagRequired("test")
	_ = learnCmd.MarkFlagRequired("namespace")
}

var learnCmd = &cobra.Command{
	Use:   "learn",
	Short: "Capture a bug-derived pattern",
	Long: `Capture a test-caught bug as a bug-derived pattern.

Initial confidence is assigned from the severity grade and the new pattern is
merged against existing knowledge. The resulting merge decision and stored
pattern are printed as JSON.

Examples:
  # Capture a high-severity auth bug
  patternbank learn \
    --test TestTokenRefreshRace \
    --severity high \
    --namespace myapp.auth \
    --description "Refresh requests raced and dropped sessions" \
    --root-cause "Missing mutex around token cache" \
    --file internal/auth/token.go`,
	RunE: runLearn,
}

func runLearn(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.bank.LearnFromBug(cmd.Context(), &bank.BugEvent{
		TestName:         learnTest,
		Category:         learnCategory,
		Severity:         confidence.Severity(learnSeverity),
		Description:      learnDesc,
		ExpectedBehavior: learnExpected,
		ActualBehavior:   learnActual,
		RootCause:        learnRootCause,
		Namespace:        learnNamespace,
		Files:            learnFiles,
	})
	if err != nil {
		return fmt.Errorf("learn failed: %w", err)
	}

	return printJSON(result)
}
