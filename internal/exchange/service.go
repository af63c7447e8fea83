package exchange

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/patternbank/internal/merge"
	"github.com/fyrsmithlabs/patternbank/internal/namespace"
	"github.com/fyrsmithlabs/patternbank/internal/pattern"
	"github.com/fyrsmithlabs/patternbank/internal/store"
)

// Service exports filtered store views and imports exchange documents.
type Service struct {
	store      store.Store
	merger     *merge.Engine
	instanceID string
	logger     *zap.Logger
}

// NewService creates an exchange service. instanceID identifies this
// instance in export headers.
func NewService(st store.Store, merger *merge.Engine, instanceID string, logger *zap.Logger) (*Service, error) {
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if merger == nil {
		return nil, fmt.Errorf("merge engine cannot be nil")
	}
	if instanceID == "" {
		return nil, fmt.Errorf("instance id cannot be empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: st, merger: merger, instanceID: instanceID, logger: logger}, nil
}

// Export serializes every pattern under the scope prefix with confidence at
// or above minConfidence into a portable document. Read-only: usage stats
// are not touched.
func (s *Service) Export(ctx context.Context, scope string, minConfidence float64) (*Document, error) {
	patterns, err := s.store.Query(ctx, scope, minConfidence)
	if err != nil {
		return nil, err
	}

	doc := &Document{
		Version:        SchemaVersion,
		ExportedAt:     time.Now().UTC(),
		SourceInstance: s.instanceID,
		Statistics:     computeStats(patterns),
		Patterns:       patterns,
	}

	s.logger.Info("export produced",
		zap.String("scope", scope),
		zap.Float64("min_confidence", minConfidence),
		zap.Int("patterns", len(patterns)))
	return doc, nil
}

// ImportOptions controls an import pass.
type ImportOptions struct {
	// AutoResolve controls protected-namespace handling: true treats a
	// guard rejection as a recorded skip; false pauses that pattern with a
	// needs-confirmation entry so an interactive caller can resume it.
	AutoResolve bool

	// Actor is the scope the import writes under. Defaults to workspace.
	Actor namespace.ActorScope

	// ConfirmedIDs lists incoming pattern ids whose protected-namespace
	// writes the caller has confirmed, typically on a resumed import.
	ConfirmedIDs map[string]bool

	// Cursor is the index to resume from.
	Cursor int
}

// Session deduplicates decisions across retries of one logical import: a
// pattern whose decision was already recorded in this session is skipped on
// resume instead of being merged twice.
type Session struct {
	decided map[string]pattern.MergeDecision
}

// NewSession starts a fresh import session.
func NewSession() *Session {
	return &Session{decided: make(map[string]pattern.MergeDecision)}
}

func (s *Session) recorded(id string) (pattern.MergeDecision, bool) {
	d, ok := s.decided[id]
	return d, ok
}

func (s *Session) record(id string, d pattern.MergeDecision) {
	s.decided[id] = d
}

// Import processes the document's patterns sequentially through the merge
// engine, producing the audit trail and summary.
//
// Recoverable problems (validation failures, namespace skips) are recorded
// as entries and the batch continues; only storage failures abort. On
// context cancellation the partial result is returned together with the
// context error; its Cursor resumes the batch.
func (s *Service) Import(ctx context.Context, session *Session, doc *Document, opts ImportOptions) (*ImportResult, error) {
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	if session == nil {
		session = NewSession()
	}
	if opts.Actor == "" {
		opts.Actor = namespace.ScopeWorkspace
	}

	result := &ImportResult{Cursor: opts.Cursor}

	for i := opts.Cursor; i < len(doc.Patterns); i++ {
		if err := ctx.Err(); err != nil {
			s.logger.Warn("import cancelled mid-batch",
				zap.Int("cursor", result.Cursor),
				zap.Int("total", len(doc.Patterns)))
			return result, err
		}

		incoming := doc.Patterns[i]
		d, err := s.importOne(ctx, session, incoming, opts)
		if err != nil {
			// Storage failures abort the batch; everything already
			// resolved stays resolved.
			return result, err
		}

		result.Decisions = append(result.Decisions, d)
		result.Summary.tally(d.Strategy)
		result.Cursor = i + 1
	}

	result.Completed = true
	s.logger.Info("import completed",
		zap.Int("patterns", len(result.Decisions)),
		zap.Int("identical", result.Summary.IdenticalMerged),
		zap.Int("similar", result.Summary.SimilarMerged),
		zap.Int("unique", result.Summary.UniqueAdded),
		zap.Int("conflict", result.Summary.ConflictKeptLocal),
		zap.Int("skipped", result.Summary.SkippedNamespace),
		zap.Int("errors", result.Summary.Errors))
	return result, nil
}

func (s *Service) importOne(ctx context.Context, session *Session, incoming *pattern.Pattern, opts ImportOptions) (pattern.MergeDecision, error) {
	if incoming == nil {
		return errorDecision("", "nil pattern entry"), nil
	}

	// Idempotency across retries: a decision already recorded in this
	// session stands.
	if prior, ok := session.recorded(incoming.ID); ok {
		return prior, nil
	}

	confirmed := opts.ConfirmedIDs[incoming.ID]
	d, _, err := s.merger.Resolve(ctx, incoming, opts.Actor, confirmed)
	switch {
	case err == nil:
	case errors.Is(err, pattern.ErrStorage):
		return pattern.MergeDecision{}, err
	default:
		// Recoverable failures (validation and the rest) become error
		// entries and the batch continues.
		d = errorDecision(incoming.ID, err.Error())
	}

	if d.Strategy == pattern.StrategySkipped && !opts.AutoResolve {
		// Interactive mode: pause this pattern instead of skipping it.
		// Not recorded as decided so a confirmed resume can process it.
		d.Strategy = pattern.StrategyNeedsConfirmation
		return d, nil
	}

	session.record(incoming.ID, d)
	return d, nil
}

func (sum *Summary) tally(strategy pattern.Strategy) {
	switch strategy {
	case pattern.StrategyIdentical:
		sum.IdenticalMerged++
	case pattern.StrategySimilar:
		sum.SimilarMerged++
	case pattern.StrategyUnique:
		sum.UniqueAdded++
	case pattern.StrategyConflict:
		sum.ConflictKeptLocal++
	case pattern.StrategySkipped:
		sum.SkippedNamespace++
	case pattern.StrategyNeedsConfirmation:
		sum.NeedsConfirmation++
	case pattern.StrategyError:
		sum.Errors++
	}
}

func errorDecision(id, reason string) pattern.MergeDecision {
	return pattern.MergeDecision{
		PatternID: id,
		Strategy:  pattern.StrategyError,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	}
}

func computeStats(patterns []*pattern.Pattern) DocumentStats {
	stats := DocumentStats{PatternCount: len(patterns)}
	if len(patterns) == 0 {
		return stats
	}

	stats.MinConfidence = patterns[0].Confidence
	stats.MaxConfidence = patterns[0].Confidence
	var totalAccess int64
	seen := make(map[string]struct{})
	for _, p := range patterns {
		if p.Confidence < stats.MinConfidence {
			stats.MinConfidence = p.Confidence
		}
		if p.Confidence > stats.MaxConfidence {
			stats.MaxConfidence = p.Confidence
		}
		totalAccess += p.AccessCount
		if _, ok := seen[p.Namespace]; !ok {
			seen[p.Namespace] = struct{}{}
			stats.Namespaces = append(stats.Namespaces, p.Namespace)
		}
	}
	stats.AvgAccessCount = float64(totalAccess) / float64(len(patterns))
	return stats
}
