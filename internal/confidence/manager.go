// Package confidence applies confidence transitions to stored patterns:
// initial assignment from bug severity, reinforcement on confirmed catches,
// decay on false positives, and the periodic passive decay sweep.
package confidence

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/patternbank/internal/namespace"
	"github.com/fyrsmithlabs/patternbank/internal/pattern"
	"github.com/fyrsmithlabs/patternbank/internal/store"
)

const (
	// ReinforceDelta is the confidence gain per confirmed catch.
	ReinforceDelta = 0.05

	// FalsePositiveDelta is the confidence loss per false positive.
	FalsePositiveDelta = 0.05

	// DefaultDecayEpsilon is the passive decay step for stale patterns.
	DefaultDecayEpsilon = 0.01

	// DefaultDecayCutoff is how long a pattern may go unaccessed before
	// the passive sweep touches it.
	DefaultDecayCutoff = 30 * 24 * time.Hour
)

// Severity grades a captured bug event.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// initialConfidence is the fixed severity-to-confidence table.
var initialConfidence = map[Severity]float64{
	SeverityCritical: 0.95,
	SeverityHigh:     0.85,
	SeverityMedium:   0.70,
	SeverityLow:      0.50,
}

// InitialConfidence returns the starting confidence for a severity grade.
func InitialConfidence(sev Severity) (float64, error) {
	c, ok := initialConfidence[sev]
	if !ok {
		return 0, fmt.Errorf("%w: unknown severity %q", pattern.ErrValidation, sev)
	}
	return c, nil
}

// Manager mutates pattern confidence through the store's atomic mutation
// boundary. Every write is authorized by the namespace guard first.
type Manager struct {
	store   store.Store
	guard   *namespace.Guard
	actor   namespace.ActorScope
	epsilon float64
	logger  *zap.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithActorScope sets the scope the manager authorizes writes under.
// Defaults to the framework scope: the local instance owns its own store,
// including its protected namespaces.
func WithActorScope(scope namespace.ActorScope) Option {
	return func(m *Manager) { m.actor = scope }
}

// WithDecayEpsilon overrides the passive decay step.
func WithDecayEpsilon(epsilon float64) Option {
	return func(m *Manager) { m.epsilon = epsilon }
}

// NewManager creates a confidence manager.
func NewManager(st store.Store, guard *namespace.Guard, logger *zap.Logger, opts ...Option) (*Manager, error) {
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if guard == nil {
		return nil, fmt.Errorf("namespace guard cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &Manager{
		store:   st,
		guard:   guard,
		actor:   namespace.ScopeFramework,
		epsilon: DefaultDecayEpsilon,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Reinforce raises confidence by ReinforceDelta (capped at 1.0), increments
// the bug counter, and re-derives pinning. Returns the new confidence.
func (m *Manager) Reinforce(ctx context.Context, id string) (float64, error) {
	return m.adjust(ctx, id, "reinforce", func(p *pattern.Pattern) {
		p.Confidence += ReinforceDelta
		p.BugCount++
	})
}

// DecayOnFalsePositive lowers confidence by FalsePositiveDelta (floored at
// 0.0) and re-derives pinning. Returns the new confidence.
func (m *Manager) DecayOnFalsePositive(ctx context.Context, id string) (float64, error) {
	return m.adjust(ctx, id, "false_positive", func(p *pattern.Pattern) {
		p.Confidence -= FalsePositiveDelta
	})
}

func (m *Manager) adjust(ctx context.Context, id, event string, apply func(*pattern.Pattern)) (float64, error) {
	updated, err := m.store.Mutate(ctx, id, func(p *pattern.Pattern) error {
		decision := m.guard.AuthorizeWrite(ctx, p.Namespace, m.actor, false)
		if err := decision.Err(); err != nil {
			return err
		}
		apply(p)
		p.ClampConfidence()
		return nil
	})
	if err != nil {
		return 0, err
	}

	m.logger.Info("confidence adjusted",
		zap.String("id", id),
		zap.String("event", event),
		zap.Float64("confidence", updated.Confidence),
		zap.Bool("pinned", updated.Pinned))
	return updated.Confidence, nil
}

// PassiveDecayPass reduces confidence by the configured epsilon for every
// non-pinned pattern whose last access is older than cutoffAge. Pinned
// patterns are exempt. Intended for the maintenance schedule, not the live
// request path. Returns the number of patterns affected.
func (m *Manager) PassiveDecayPass(ctx context.Context, cutoffAge time.Duration) (int, error) {
	if cutoffAge <= 0 {
		cutoffAge = DefaultDecayCutoff
	}
	cutoff := time.Now().UTC().Add(-cutoffAge)

	affected, err := m.store.DecayStale(ctx, cutoff, m.epsilon)
	if err != nil {
		return 0, err
	}

	m.logger.Info("passive decay pass completed",
		zap.Time("cutoff", cutoff),
		zap.Float64("epsilon", m.epsilon),
		zap.Int("affected", affected))
	return affected, nil
}
