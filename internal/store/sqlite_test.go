package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/patternbank/internal/pattern"
	"github.com/fyrsmithlabs/patternbank/internal/similarity"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "patterns.db")
	st, err := NewSQLiteStore(path, similarity.NewEngine(similarity.DefaultParams()), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func testPattern(t *testing.T, title, namespace string, confidence float64) *pattern.Pattern {
	t.Helper()
	p, err := pattern.New(pattern.TypeBugDerived, title, namespace, confidence, pattern.Context{
		Steps: []string{"observed " + title},
	})
	require.NoError(t, err)
	return p
}

func TestPutAndPeek(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	p := testPattern(t, "token refresh race", "myapp.auth", 0.85)
	require.NoError(t, st.Put(ctx, p))

	got, err := st.Peek(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
	assert.Equal(t, p.Title, got.Title)
	assert.Equal(t, p.Confidence, got.Confidence)
	assert.Equal(t, int64(0), got.AccessCount)
}

func TestPutRejectsInvalid(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	p := testPattern(t, "ok", "myapp", 0.5)
	p.Confidence = 1.5
	p.Pinned = true

	err := st.Put(ctx, p)
	require.Error(t, err)
	assert.ErrorIs(t, err, pattern.ErrValidation)
}

func TestGetBumpsAccessStats(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	p := testPattern(t, "token refresh race", "myapp.auth", 0.85)
	require.NoError(t, st.Put(ctx, p))

	first, err := st.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.AccessCount)

	second, err := st.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), second.AccessCount)
	assert.False(t, second.LastAccessedAt.Before(first.LastAccessedAt))

	// Peek must not count as access.
	peeked, err := st.Peek(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), peeked.AccessCount)
}

func TestGetNotFound(t *testing.T) {
	st := newTestStore(t)

	_, err := st.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, pattern.ErrNotFound)
}

func TestQueryPrefixAndThreshold(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	auth := testPattern(t, "auth race", "myapp.auth", 0.9)
	db := testPattern(t, "migration bug", "myapp.db", 0.6)
	other := testPattern(t, "payment retry", "billing.payments", 0.95)
	low := testPattern(t, "flaky test", "myapp.auth", 0.3)
	for _, p := range []*pattern.Pattern{auth, db, other, low} {
		require.NoError(t, st.Put(ctx, p))
	}

	got, err := st.Query(ctx, "myapp", 0.5)
	require.NoError(t, err)
	require.Len(t, got, 2)
	// Ordered by confidence descending.
	assert.Equal(t, auth.ID, got[0].ID)
	assert.Equal(t, db.ID, got[1].ID)

	got, err = st.Query(ctx, "myapp.auth", 0)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	// Prefix matching is segment-based: "myapp" must not match "myapplication".
	stray := testPattern(t, "stray", "myapplication", 0.9)
	require.NoError(t, st.Put(ctx, stray))
	got, err = st.Query(ctx, "myapp", 0)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestFindCandidatesScoresSameDomain(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	existing := testPattern(t, "token refresh race", "myapp.auth", 0.85)
	unrelated := testPattern(t, "payment retry storm", "billing.payments", 0.9)
	require.NoError(t, st.Put(ctx, existing))
	require.NoError(t, st.Put(ctx, unrelated))

	incoming := testPattern(t, "token refresh race", "myapp.auth", 0.7)
	candidates, err := st.FindCandidates(ctx, incoming)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, existing.ID, candidates[0].Pattern.ID)
	assert.Greater(t, candidates[0].Score, 0.0)
}

func TestMutateAtomic(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	p := testPattern(t, "token refresh race", "myapp.auth", 0.85)
	require.NoError(t, st.Put(ctx, p))

	updated, err := st.Mutate(ctx, p.ID, func(m *pattern.Pattern) error {
		m.Confidence += 0.05
		m.BugCount++
		return nil
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.90, updated.Confidence, 1e-9)
	assert.True(t, updated.Pinned)
	assert.Equal(t, int64(1), updated.BugCount)

	stored, err := st.Peek(ctx, p.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.90, stored.Confidence, 1e-9)
	assert.True(t, stored.Pinned)
}

func TestMutateRollsBackOnError(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	p := testPattern(t, "token refresh race", "myapp.auth", 0.85)
	require.NoError(t, st.Put(ctx, p))

	_, err := st.Mutate(ctx, p.ID, func(m *pattern.Pattern) error {
		m.Confidence = 0.1
		return fmt.Errorf("callback failed")
	})
	require.Error(t, err)

	stored, err := st.Peek(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.85, stored.Confidence)
}

func TestMutateConcurrentNoLostUpdates(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	p := testPattern(t, "token refresh race", "myapp.auth", 0.0)
	require.NoError(t, st.Put(ctx, p))

	const workers = 10
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := st.Mutate(ctx, p.ID, func(m *pattern.Pattern) error {
				m.BugCount++
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	stored, err := st.Peek(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(workers), stored.BugCount)
}

func TestReplaceSwapsRowsAtomically(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	old := testPattern(t, "token refresh race", "myapp.auth", 0.78)
	old.AccessCount = 5
	old.BugCount = 2
	require.NoError(t, st.Put(ctx, old))

	incoming := testPattern(t, "Token Refresh Race", "myapp.auth", 0.85)
	incoming.AccessCount = 3

	replaced, err := st.Replace(ctx, old.ID, incoming.ID, func(current *pattern.Pattern) (*pattern.Pattern, error) {
		// The callback sees the committed row, so counters derive from it.
		result := incoming.Clone()
		result.AccessCount = current.AccessCount + incoming.AccessCount
		result.BugCount = current.BugCount + incoming.BugCount
		return result, nil
	})
	require.NoError(t, err)
	assert.Equal(t, incoming.ID, replaced.ID)
	assert.Equal(t, int64(8), replaced.AccessCount)
	assert.Equal(t, int64(2), replaced.BugCount)

	_, err = st.Peek(ctx, old.ID)
	assert.ErrorIs(t, err, pattern.ErrNotFound)

	got, err := st.Peek(ctx, incoming.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.85, got.Confidence)

	stats, err := st.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.PatternCount)
}

func TestReplaceRollsBackOnError(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	old := testPattern(t, "token refresh race", "myapp.auth", 0.78)
	require.NoError(t, st.Put(ctx, old))
	incoming := testPattern(t, "Token Refresh Race", "myapp.auth", 0.85)

	_, err := st.Replace(ctx, old.ID, incoming.ID, func(*pattern.Pattern) (*pattern.Pattern, error) {
		return nil, fmt.Errorf("callback failed")
	})
	require.Error(t, err)

	// The old row survives and no new row was written.
	kept, err := st.Peek(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.78, kept.Confidence)

	_, err = st.Peek(ctx, incoming.ID)
	assert.ErrorIs(t, err, pattern.ErrNotFound)
}

func TestReplaceRejectsMismatchedID(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	old := testPattern(t, "token refresh race", "myapp.auth", 0.78)
	require.NoError(t, st.Put(ctx, old))

	_, err := st.Replace(ctx, old.ID, "expected-id", func(current *pattern.Pattern) (*pattern.Pattern, error) {
		return testPattern(t, "other", "myapp.auth", 0.5), nil
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, pattern.ErrValidation)
}

func TestDecayStale(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	stale := testPattern(t, "stale pattern", "myapp.auth", 0.5)
	stale.LastAccessedAt = time.Now().UTC().Add(-48 * time.Hour)
	fresh := testPattern(t, "fresh pattern", "myapp.auth", 0.5)
	pinned := testPattern(t, "pinned pattern", "myapp.auth", 0.95)
	pinned.LastAccessedAt = time.Now().UTC().Add(-48 * time.Hour)
	zeroed := testPattern(t, "already zero", "myapp.auth", 0.0)
	zeroed.LastAccessedAt = time.Now().UTC().Add(-48 * time.Hour)

	for _, p := range []*pattern.Pattern{stale, fresh, pinned, zeroed} {
		require.NoError(t, st.Put(ctx, p))
	}

	affected, err := st.DecayStale(ctx, time.Now().UTC().Add(-24*time.Hour), 0.01)
	require.NoError(t, err)
	assert.Equal(t, 1, affected)

	got, err := st.Peek(ctx, stale.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.49, got.Confidence, 1e-9)

	// Fresh, pinned, and floor-bound patterns are untouched.
	for _, p := range []*pattern.Pattern{fresh, pinned, zeroed} {
		got, err := st.Peek(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, p.Confidence, got.Confidence)
	}
}

func TestDecayStaleFloorsAtZero(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	p := testPattern(t, "nearly gone", "myapp.auth", 0.005)
	p.LastAccessedAt = time.Now().UTC().Add(-48 * time.Hour)
	require.NoError(t, st.Put(ctx, p))

	_, err := st.DecayStale(ctx, time.Now().UTC(), 0.01)
	require.NoError(t, err)

	got, err := st.Peek(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.0, got.Confidence)
}

func TestPurge(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	p := testPattern(t, "doomed", "myapp.auth", 0.5)
	require.NoError(t, st.Put(ctx, p))

	require.NoError(t, st.Purge(ctx, p.ID))

	_, err := st.Peek(ctx, p.ID)
	assert.ErrorIs(t, err, pattern.ErrNotFound)

	assert.ErrorIs(t, st.Purge(ctx, p.ID), pattern.ErrNotFound)
}

func TestStats(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.Put(ctx, testPattern(t, "one", "myapp.auth", 0.3)))
	require.NoError(t, st.Put(ctx, testPattern(t, "two", "myapp.db", 0.9)))

	stats, err := st.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.PatternCount)
	assert.Equal(t, 0.3, stats.MinConfidence)
	assert.Equal(t, 0.9, stats.MaxConfidence)
	assert.Equal(t, []string{"myapp.auth", "myapp.db"}, stats.Namespaces)
}

func TestTimestampRoundTripAndOrdering(t *testing.T) {
	// Fixed-width formatting keeps lexicographic order chronological even
	// when nanoseconds end in zeros.
	earlier := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	later := time.Date(2026, 3, 1, 12, 0, 0, 100, time.UTC)

	assert.Less(t, formatTime(earlier), formatTime(later))

	parsed, err := parseTime(formatTime(later))
	require.NoError(t, err)
	assert.True(t, parsed.Equal(later))
}
