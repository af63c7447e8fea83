package bank

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/patternbank/internal/confidence"
	"github.com/fyrsmithlabs/patternbank/internal/merge"
	"github.com/fyrsmithlabs/patternbank/internal/namespace"
	"github.com/fyrsmithlabs/patternbank/internal/pattern"
	"github.com/fyrsmithlabs/patternbank/internal/store"
)

const instrumentationName = "github.com/fyrsmithlabs/patternbank/internal/bank"

// BugEvent is a live-learning capture of a test-caught defect.
type BugEvent struct {
	TestName         string              `json:"test_name"`
	Category         string              `json:"category"`
	Severity         confidence.Severity `json:"severity"`
	Description      string              `json:"description"`
	ExpectedBehavior string              `json:"expected_behavior"`
	ActualBehavior   string              `json:"actual_behavior"`
	RootCause        string              `json:"root_cause"`
	Namespace        string              `json:"namespace"`
	Files            []string            `json:"files,omitempty"`
}

// LearnResult is the outcome of a bug capture.
type LearnResult struct {
	// Pattern is the stored record after merge resolution.
	Pattern *pattern.Pattern `json:"pattern"`

	// Stored reports whether the capture mutated the store. False when
	// the merge kept a conflicting local pattern or the namespace guard
	// skipped the write.
	Stored bool `json:"stored"`

	// SimilarPatterns lists existing candidates that scored against the
	// capture, best first.
	SimilarPatterns []store.Candidate `json:"similar_patterns,omitempty"`

	// Decision is the merge audit record for the capture.
	Decision pattern.MergeDecision `json:"decision"`
}

// Service is the facade consumed by external collaborators.
type Service struct {
	store   store.Store
	manager *confidence.Manager
	merger  *merge.Engine
	actor   namespace.ActorScope
	logger  *zap.Logger

	tracer       trace.Tracer
	meter        metric.Meter
	learnCounter metric.Int64Counter
	queryCounter metric.Int64Counter
	decayCounter metric.Int64Counter
}

// NewService creates the bank facade. Live-learning writes run under the
// framework actor scope: the local instance owns its own store.
func NewService(st store.Store, manager *confidence.Manager, merger *merge.Engine, logger *zap.Logger) (*Service, error) {
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if manager == nil {
		return nil, fmt.Errorf("confidence manager cannot be nil")
	}
	if merger == nil {
		return nil, fmt.Errorf("merge engine cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		store:   st,
		manager: manager,
		merger:  merger,
		actor:   namespace.ScopeFramework,
		logger:  logger,
		tracer:  otel.Tracer(instrumentationName),
		meter:   otel.Meter(instrumentationName),
	}
	s.initMetrics()
	return s, nil
}

func (s *Service) initMetrics() {
	var err error

	s.learnCounter, err = s.meter.Int64Counter(
		"patternbank.learns_total",
		metric.WithDescription("Total number of bug-capture learn events"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		s.logger.Warn("failed to create learn counter", zap.Error(err))
	}

	s.queryCounter, err = s.meter.Int64Counter(
		"patternbank.queries_total",
		metric.WithDescription("Total number of pattern queries"),
		metric.WithUnit("{query}"),
	)
	if err != nil {
		s.logger.Warn("failed to create query counter", zap.Error(err))
	}

	s.decayCounter, err = s.meter.Int64Counter(
		"patternbank.decay_sweeps_total",
		metric.WithDescription("Total number of passive decay sweeps"),
		metric.WithUnit("{sweep}"),
	)
	if err != nil {
		s.logger.Warn("failed to create decay counter", zap.Error(err))
	}
}

// LearnFromBug builds a bug-derived pattern from the event, assigns its
// initial confidence from the severity table, and resolves it against the
// store through the merge engine.
func (s *Service) LearnFromBug(ctx context.Context, event *BugEvent) (*LearnResult, error) {
	ctx, span := s.tracer.Start(ctx, "bank.learn_from_bug")
	defer span.End()

	if event == nil {
		return nil, fmt.Errorf("%w: nil event", pattern.ErrValidation)
	}
	if event.TestName == "" {
		return nil, fmt.Errorf("%w: event test name cannot be empty", pattern.ErrValidation)
	}

	span.SetAttributes(
		attribute.String("severity", string(event.Severity)),
		attribute.String("namespace", event.Namespace),
	)

	initial, err := confidence.InitialConfidence(event.Severity)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	candidate, err := eventToPattern(event, initial)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	// One candidate scan: the merge engine returns the scored list its
	// decision was based on, so SimilarPatterns always agrees with it.
	decision, similar, err := s.merger.Resolve(ctx, candidate, s.actor, false)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	stored := decision.Strategy == pattern.StrategyUnique ||
		decision.Strategy == pattern.StrategyIdentical ||
		decision.Strategy == pattern.StrategySimilar

	resolved, err := s.store.Peek(ctx, decision.PatternID)
	if err != nil {
		return nil, err
	}

	if s.learnCounter != nil {
		s.learnCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("severity", string(event.Severity)),
			attribute.String("strategy", string(decision.Strategy)),
		))
	}

	s.logger.Info("bug capture learned",
		zap.String("pattern_id", resolved.ID),
		zap.String("test", event.TestName),
		zap.String("severity", string(event.Severity)),
		zap.String("strategy", string(decision.Strategy)),
		zap.Float64("confidence", resolved.Confidence))

	span.SetAttributes(attribute.String("strategy", string(decision.Strategy)))
	return &LearnResult{
		Pattern:         resolved,
		Stored:          stored,
		SimilarPatterns: similar,
		Decision:        decision,
	}, nil
}

// QueryPatterns returns patterns under the namespace prefix with confidence
// at or above the threshold, confidence-ordered. Read-only.
func (s *Service) QueryPatterns(ctx context.Context, namespacePrefix string, minConfidence float64) ([]*pattern.Pattern, error) {
	ctx, span := s.tracer.Start(ctx, "bank.query_patterns")
	defer span.End()

	span.SetAttributes(
		attribute.String("namespace_prefix", namespacePrefix),
		attribute.Float64("min_confidence", minConfidence),
	)

	patterns, err := s.store.Query(ctx, namespacePrefix, minConfidence)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if s.queryCounter != nil {
		s.queryCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.Int("result_count", len(patterns)),
		))
	}
	span.SetAttributes(attribute.Int("result_count", len(patterns)))
	return patterns, nil
}

// Reinforce records a confirmed catch for the pattern.
func (s *Service) Reinforce(ctx context.Context, patternID string) (float64, error) {
	ctx, span := s.tracer.Start(ctx, "bank.reinforce")
	defer span.End()
	span.SetAttributes(attribute.String("pattern_id", patternID))

	c, err := s.manager.Reinforce(ctx, patternID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return c, err
}

// DecayOnFalsePositive records a false positive for the pattern.
func (s *Service) DecayOnFalsePositive(ctx context.Context, patternID string) (float64, error) {
	ctx, span := s.tracer.Start(ctx, "bank.decay_false_positive")
	defer span.End()
	span.SetAttributes(attribute.String("pattern_id", patternID))

	c, err := s.manager.DecayOnFalsePositive(ctx, patternID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return c, err
}

// PassiveDecayPass runs one maintenance sweep. The schedule belongs to the
// administrative collaborator.
func (s *Service) PassiveDecayPass(ctx context.Context, cutoffAge time.Duration) (int, error) {
	ctx, span := s.tracer.Start(ctx, "bank.passive_decay_pass")
	defer span.End()

	affected, err := s.manager.PassiveDecayPass(ctx, cutoffAge)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}

	if s.decayCounter != nil {
		s.decayCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.Int("affected", affected),
		))
	}
	span.SetAttributes(attribute.Int("affected", affected))
	return affected, nil
}

// Purge hard-deletes a pattern. Administrative use only.
func (s *Service) Purge(ctx context.Context, patternID string) error {
	ctx, span := s.tracer.Start(ctx, "bank.purge")
	defer span.End()
	span.SetAttributes(attribute.String("pattern_id", patternID))

	if err := s.store.Purge(ctx, patternID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// Stats summarizes the store contents.
func (s *Service) Stats(ctx context.Context) (*store.Stats, error) {
	return s.store.Stats(ctx)
}

// eventToPattern builds the candidate bug-derived pattern from a capture.
func eventToPattern(event *BugEvent, initial float64) (*pattern.Pattern, error) {
	steps := make([]string, 0, 4)
	for _, s := range []string{event.Description, event.ExpectedBehavior, event.ActualBehavior, event.RootCause} {
		if s != "" {
			steps = append(steps, s)
		}
	}

	meta := map[string]string{}
	if event.Category != "" {
		meta["category"] = event.Category
	}
	if event.RootCause != "" {
		meta["root_cause"] = event.RootCause
	}

	return pattern.New(pattern.TypeBugDerived, event.TestName, event.Namespace, initial, pattern.Context{
		Files:    event.Files,
		Steps:    steps,
		Metadata: meta,
	})
}
