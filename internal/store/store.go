// Package store provides the durable keyed repository for patterns.
//
// The store is the single source of truth: every other component mutates
// pattern state only through its accessor contract. Per-id mutations are
// atomic read-modify-write transactions guarded by a keyed lock, so two
// concurrent mutations on the same pattern id can never produce a lost
// update. Reads of different ids proceed concurrently with mutations.
package store

import (
	"context"
	"time"

	"github.com/fyrsmithlabs/patternbank/internal/pattern"
)

// Candidate pairs a stored pattern with its similarity score against an
// incoming pattern.
type Candidate struct {
	Pattern *pattern.Pattern
	Score   float64
}

// Stats summarizes the store contents for export headers and diagnostics.
type Stats struct {
	PatternCount   int      `json:"pattern_count"`
	MinConfidence  float64  `json:"min_confidence"`
	MaxConfidence  float64  `json:"max_confidence"`
	AvgAccessCount float64  `json:"avg_access_count"`
	Namespaces     []string `json:"namespaces"`
}

// Store is the accessor contract for the pattern repository.
type Store interface {
	// Put inserts a new pattern or overwrites an existing id. Returns a
	// validation error for out-of-range confidence or malformed namespaces.
	Put(ctx context.Context, p *pattern.Pattern) error

	// Get returns the pattern by id, incrementing its access count and
	// refreshing last_accessed_at as a side effect.
	Get(ctx context.Context, id string) (*pattern.Pattern, error)

	// Peek returns the pattern by id without touching usage stats.
	Peek(ctx context.Context, id string) (*pattern.Pattern, error)

	// Query returns patterns whose namespace starts with the prefix and
	// whose confidence meets the threshold, ordered by confidence
	// descending then last_accessed_at descending. Read-only.
	Query(ctx context.Context, namespacePrefix string, minConfidence float64) ([]*pattern.Pattern, error)

	// FindCandidates scores a bounded same-domain candidate set against the
	// incoming pattern, best score first.
	FindCandidates(ctx context.Context, incoming *pattern.Pattern) ([]Candidate, error)

	// Mutate runs fn inside the per-id atomic mutation boundary. fn
	// receives the current record and may modify it in place; the modified
	// record is validated and written back in the same transaction.
	Mutate(ctx context.Context, id string, fn func(*pattern.Pattern) error) (*pattern.Pattern, error)

	// Replace reads the pattern under oldID, applies fn to produce its
	// replacement under newID, and atomically writes the replacement while
	// removing the old row. fn receives the current stored record, so the
	// replacement can derive counters from committed state.
	Replace(ctx context.Context, oldID, newID string, fn func(current *pattern.Pattern) (*pattern.Pattern, error)) (*pattern.Pattern, error)

	// DecayStale reduces confidence by epsilon for every non-pinned
	// pattern last accessed before the cutoff. Returns the affected count.
	DecayStale(ctx context.Context, cutoff time.Time, epsilon float64) (int, error)

	// Purge hard-deletes a pattern. Administrative use only.
	Purge(ctx context.Context, id string) error

	// Stats summarizes the current store contents.
	Stats(ctx context.Context) (*Stats, error)

	// Close releases the underlying database handle.
	Close() error
}
