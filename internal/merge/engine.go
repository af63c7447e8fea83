// Package merge reconciles incoming patterns with the local store.
//
// Each incoming pattern is resolved in a single step: find candidates, take
// the best-scoring one, classify the pair, and apply the matching resolution.
// There is no multi-round negotiation. Every branch that mutates the store
// passes the namespace guard first; a guard rejection converts the outcome
// to a skip regardless of the computed strategy. One MergeDecision is
// emitted per processed pattern.
package merge

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/patternbank/internal/namespace"
	"github.com/fyrsmithlabs/patternbank/internal/pattern"
	"github.com/fyrsmithlabs/patternbank/internal/similarity"
	"github.com/fyrsmithlabs/patternbank/internal/store"
)

// reasonConflict is the audit reason when contradictory knowledge is
// discarded in favor of the local pattern.
const reasonConflict = "kept local: contradictory knowledge"

// Engine applies merge resolutions against the store.
type Engine struct {
	store  store.Store
	sim    *similarity.Engine
	guard  *namespace.Guard
	logger *zap.Logger
}

// NewEngine creates a merge engine.
func NewEngine(st store.Store, sim *similarity.Engine, guard *namespace.Guard, logger *zap.Logger) (*Engine, error) {
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if sim == nil {
		return nil, fmt.Errorf("similarity engine cannot be nil")
	}
	if guard == nil {
		return nil, fmt.Errorf("namespace guard cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{store: st, sim: sim, guard: guard, logger: logger}, nil
}

// Resolve reconciles one incoming pattern, returning the decision record
// together with the scored candidate list the classification was based on.
// Callers that surface similar patterns reuse that list instead of running
// a second candidate scan.
//
// actor and confirmed feed the namespace guard: imports run under the
// workspace scope, and confirmed=true honors a previously requested
// confirmation for a protected-namespace write.
func (e *Engine) Resolve(ctx context.Context, incoming *pattern.Pattern, actor namespace.ActorScope, confirmed bool) (pattern.MergeDecision, []store.Candidate, error) {
	if incoming == nil {
		return pattern.MergeDecision{}, nil, fmt.Errorf("%w: nil pattern", pattern.ErrValidation)
	}
	incoming.RecomputePinned()
	if err := incoming.Validate(); err != nil {
		return pattern.MergeDecision{}, nil, err
	}

	candidates, err := e.store.FindCandidates(ctx, incoming)
	if err != nil {
		return pattern.MergeDecision{}, nil, err
	}

	if len(candidates) == 0 {
		d, err := e.resolveUnique(ctx, incoming, actor, confirmed)
		return d, candidates, err
	}

	best := candidates[0]
	class, score := e.sim.Classify(best.Pattern, incoming)

	e.logger.Debug("classified incoming pattern",
		zap.String("incoming_id", incoming.ID),
		zap.String("candidate_id", best.Pattern.ID),
		zap.String("class", string(class)),
		zap.Float64("score", score))

	var d pattern.MergeDecision
	switch class {
	case similarity.ClassIdentical:
		d, err = e.resolveIdentical(ctx, best.Pattern, incoming, actor, confirmed, score)
	case similarity.ClassSimilar:
		d, err = e.resolveSimilar(ctx, best.Pattern, incoming, actor, confirmed, score)
	case similarity.ClassConflict:
		d = decision(best.Pattern.ID, pattern.StrategyConflict, reasonConflict,
			best.Pattern.Confidence, best.Pattern.Confidence)
	default:
		d, err = e.resolveUnique(ctx, incoming, actor, confirmed)
	}
	return d, candidates, err
}

// resolveUnique inserts the incoming pattern unchanged.
func (e *Engine) resolveUnique(ctx context.Context, incoming *pattern.Pattern, actor namespace.ActorScope, confirmed bool) (pattern.MergeDecision, error) {
	if d, skipped := e.authorize(ctx, incoming.ID, incoming.Namespace, actor, confirmed, incoming.Confidence); skipped {
		return d, nil
	}
	if err := e.store.Put(ctx, incoming); err != nil {
		return pattern.MergeDecision{}, err
	}
	return decision(incoming.ID, pattern.StrategyUnique, "no comparable local pattern",
		incoming.Confidence, incoming.Confidence), nil
}

// resolveIdentical keeps whichever side has the higher confidence, summing
// usage counters across both. The winner's pattern id survives. local is the
// candidate snapshot used for classification and winner selection only; the
// written record is derived from the committed row inside the store's atomic
// mutation boundary, so a feedback mutation landing between candidate lookup
// and the merge write is never overwritten.
func (e *Engine) resolveIdentical(ctx context.Context, local, incoming *pattern.Pattern, actor namespace.ActorScope, confirmed bool, score float64) (pattern.MergeDecision, error) {
	incomingWins := incoming.Confidence > local.Confidence

	winnerID, winnerNS := local.ID, local.Namespace
	if incomingWins {
		winnerID, winnerNS = incoming.ID, incoming.Namespace
	}
	if d, skipped := e.authorize(ctx, winnerID, winnerNS, actor, confirmed, local.Confidence); skipped {
		return d, nil
	}

	var before float64
	var updated *pattern.Pattern
	var err error
	if incomingWins {
		// The incoming record replaces the local one in a single
		// transaction; counters are summed from the row as committed.
		updated, err = e.store.Replace(ctx, local.ID, incoming.ID, func(current *pattern.Pattern) (*pattern.Pattern, error) {
			before = current.Confidence
			result := incoming.Clone()
			result.AccessCount = current.AccessCount + incoming.AccessCount
			result.BugCount = current.BugCount + incoming.BugCount
			return result, nil
		})
	} else {
		updated, err = e.store.Mutate(ctx, local.ID, func(p *pattern.Pattern) error {
			before = p.Confidence
			p.AccessCount += incoming.AccessCount
			p.BugCount += incoming.BugCount
			return nil
		})
	}
	if err != nil {
		return pattern.MergeDecision{}, err
	}

	return decision(updated.ID, pattern.StrategyIdentical,
		fmt.Sprintf("identical title, kept higher-confidence side (score %.2f)", score),
		before, updated.Confidence), nil
}

// resolveSimilar merges confidence as an access-count-weighted average,
// keeping the local id and unioning namespaces when they diverge. Everything
// is derived from the committed row inside the mutation boundary, not from
// the candidate snapshot.
func (e *Engine) resolveSimilar(ctx context.Context, local, incoming *pattern.Pattern, actor namespace.ActorScope, confirmed bool, score float64) (pattern.MergeDecision, error) {
	if d, skipped := e.authorize(ctx, local.ID, local.Namespace, actor, confirmed, local.Confidence); skipped {
		return d, nil
	}

	var before float64
	updated, err := e.store.Mutate(ctx, local.ID, func(p *pattern.Pattern) error {
		before = p.Confidence
		p.Confidence = weightedConfidence(p, incoming)
		p.AccessCount += incoming.AccessCount
		p.BugCount += incoming.BugCount
		p.Namespaces = unionNamespaces(p, incoming)
		p.ClampConfidence()
		return nil
	})
	if err != nil {
		return pattern.MergeDecision{}, err
	}

	return decision(updated.ID, pattern.StrategySimilar,
		fmt.Sprintf("similar pattern, access-weighted confidence (score %.2f)", score),
		before, updated.Confidence), nil
}

// authorize runs the guard and, on rejection, produces the skip decision.
func (e *Engine) authorize(ctx context.Context, id, ns string, actor namespace.ActorScope, confirmed bool, before float64) (pattern.MergeDecision, bool) {
	d := e.guard.AuthorizeWrite(ctx, ns, actor, confirmed)
	if d.Allowed() {
		return pattern.MergeDecision{}, false
	}
	return decision(id, pattern.StrategySkipped, d.Reason, before, before), true
}

// weightedConfidence averages the two confidences with weights proportional
// to each side's access count. Equal weights when both counts are zero.
func weightedConfidence(local, incoming *pattern.Pattern) float64 {
	total := local.AccessCount + incoming.AccessCount
	if total == 0 {
		return (local.Confidence + incoming.Confidence) / 2
	}
	wl := float64(local.AccessCount) / float64(total)
	wi := float64(incoming.AccessCount) / float64(total)
	return wl*local.Confidence + wi*incoming.Confidence
}

// unionNamespaces merges the namespace sets of both sides into the local
// pattern's tracked list, sorted for deterministic output. The primary
// namespace stays local.
func unionNamespaces(local, incoming *pattern.Pattern) []string {
	seen := make(map[string]struct{})
	for _, ns := range local.AllNamespaces() {
		seen[ns] = struct{}{}
	}
	for _, ns := range incoming.AllNamespaces() {
		seen[ns] = struct{}{}
	}
	if len(seen) == 1 {
		// Namespaces never diverged; keep the scalar form.
		return nil
	}
	out := make([]string, 0, len(seen))
	for ns := range seen {
		out = append(out, ns)
	}
	sort.Strings(out)
	return out
}

func decision(id string, strategy pattern.Strategy, reason string, before, after float64) pattern.MergeDecision {
	return pattern.MergeDecision{
		PatternID:        id,
		Strategy:         strategy,
		Reason:           reason,
		ConfidenceBefore: before,
		ConfidenceAfter:  after,
		Timestamp:        time.Now().UTC(),
	}
}
