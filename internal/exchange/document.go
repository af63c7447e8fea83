package exchange

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/patternbank/internal/pattern"
)

// SchemaVersion is the exchange document format version this build writes
// and accepts.
const SchemaVersion = "1"

// DocumentStats summarizes the exported pattern set.
type DocumentStats struct {
	PatternCount   int      `json:"pattern_count"`
	MinConfidence  float64  `json:"min_confidence"`
	MaxConfidence  float64  `json:"max_confidence"`
	Namespaces     []string `json:"namespaces"`
	AvgAccessCount float64  `json:"avg_access_count"`
}

// Document is the self-contained exchange format for pattern transfer
// between instances.
type Document struct {
	// Version is the document schema version.
	Version string `json:"format_version"`

	// ExportedAt is when the export was produced.
	ExportedAt time.Time `json:"exported_at"`

	// SourceInstance identifies the exporting instance.
	SourceInstance string `json:"source_instance"`

	// Statistics summarize the exported set.
	Statistics DocumentStats `json:"statistics"`

	// Patterns is the full, ordered pattern list.
	Patterns []*pattern.Pattern `json:"patterns"`
}

// Validate checks the document header before import.
func (d *Document) Validate() error {
	if d == nil {
		return fmt.Errorf("%w: nil document", pattern.ErrValidation)
	}
	if d.Version != SchemaVersion {
		return fmt.Errorf("%w: unsupported schema version %q (want %q)",
			pattern.ErrValidation, d.Version, SchemaVersion)
	}
	return nil
}

// Summary is the trailing tally of an import pass.
type Summary struct {
	IdenticalMerged   int `json:"identical_merged"`
	SimilarMerged     int `json:"similar_merged"`
	UniqueAdded       int `json:"unique_added"`
	ConflictKeptLocal int `json:"conflict_kept_local"`
	SkippedNamespace  int `json:"skipped_namespace"`
	NeedsConfirmation int `json:"needs_confirmation"`
	Errors            int `json:"errors"`
}

// ImportResult is the structured outcome of an import pass: the audit trail,
// the summary, and the resume cursor for cancelled batches.
type ImportResult struct {
	// Decisions is the audit trail, one entry per processed pattern.
	Decisions []pattern.MergeDecision `json:"decisions"`

	// Summary tallies decision strategies.
	Summary Summary `json:"summary"`

	// Cursor is the index of the next unprocessed pattern. Equal to the
	// document's pattern count when the batch completed.
	Cursor int `json:"cursor"`

	// Completed reports whether every pattern was processed.
	Completed bool `json:"completed"`
}
