package pattern

import "time"

// Strategy is the merge resolution applied to one incoming pattern.
type Strategy string

const (
	// StrategyIdentical merged an incoming pattern whose normalized title
	// matched a local one; the higher-confidence side's fields win.
	StrategyIdentical Strategy = "identical"

	// StrategySimilar merged via access-count-weighted confidence average.
	StrategySimilar Strategy = "similar"

	// StrategyUnique inserted the incoming pattern unchanged.
	StrategyUnique Strategy = "unique"

	// StrategyConflict kept the local pattern and discarded the incoming one.
	StrategyConflict Strategy = "conflict"

	// StrategySkipped records a namespace-guard rejection; no store mutation
	// happened regardless of the computed classification.
	StrategySkipped Strategy = "skipped"

	// StrategyNeedsConfirmation records a paused pattern in interactive
	// imports: a protected-namespace write awaiting caller confirmation.
	StrategyNeedsConfirmation Strategy = "needs_confirmation"

	// StrategyError records a pattern that failed validation during a batch.
	StrategyError Strategy = "error"
)

// MergeDecision is the audit record produced for each processed pattern
// during a merge or import pass.
type MergeDecision struct {
	PatternID        string    `json:"pattern_id"`
	Strategy         Strategy  `json:"strategy"`
	Reason           string    `json:"reason"`
	ConfidenceBefore float64   `json:"confidence_before"`
	ConfidenceAfter  float64   `json:"confidence_after"`
	Timestamp        time.Time `json:"timestamp"`
}
