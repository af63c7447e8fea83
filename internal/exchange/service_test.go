package exchange

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/patternbank/internal/merge"
	"github.com/fyrsmithlabs/patternbank/internal/namespace"
	"github.com/fyrsmithlabs/patternbank/internal/pattern"
	"github.com/fyrsmithlabs/patternbank/internal/similarity"
	"github.com/fyrsmithlabs/patternbank/internal/store"
)

func newTestService(t *testing.T) (*Service, *store.SQLiteStore) {
	t.Helper()
	sim := similarity.NewEngine(similarity.DefaultParams())
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "patterns.db"), sim, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	merger, err := merge.NewEngine(st, sim, namespace.NewGuard(nil), zap.NewNop())
	require.NoError(t, err)

	svc, err := NewService(st, merger, "test-instance", zap.NewNop())
	require.NoError(t, err)
	return svc, st
}

func exchPattern(t *testing.T, title, namespace string, confidence float64) *pattern.Pattern {
	t.Helper()
	p, err := pattern.New(pattern.TypeBugDerived, title, namespace, confidence, pattern.Context{
		Steps: []string{"observed " + title},
	})
	require.NoError(t, err)
	return p
}

func TestExportFiltersAndSummarizes(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	high := exchPattern(t, "auth race", "myapp.auth", 0.9)
	low := exchPattern(t, "flaky test", "myapp.auth", 0.4)
	other := exchPattern(t, "payment retry", "billing.payments", 0.95)
	for _, p := range []*pattern.Pattern{high, low, other} {
		require.NoError(t, st.Put(ctx, p))
	}

	doc, err := svc.Export(ctx, "myapp", 0.5)
	require.NoError(t, err)

	assert.Equal(t, SchemaVersion, doc.Version)
	assert.Equal(t, "test-instance", doc.SourceInstance)
	require.Len(t, doc.Patterns, 1)
	assert.Equal(t, high.ID, doc.Patterns[0].ID)
	assert.Equal(t, 1, doc.Statistics.PatternCount)
	assert.Equal(t, 0.9, doc.Statistics.MinConfidence)
	assert.Equal(t, 0.9, doc.Statistics.MaxConfidence)
	assert.Equal(t, []string{"myapp.auth"}, doc.Statistics.Namespaces)
}

func TestExportDoesNotTouchAccessStats(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	p := exchPattern(t, "auth race", "myapp.auth", 0.9)
	require.NoError(t, st.Put(ctx, p))

	_, err := svc.Export(ctx, "myapp", 0)
	require.NoError(t, err)

	got, err := st.Peek(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.AccessCount)
}

func TestExportImportRoundTrip(t *testing.T) {
	source, sourceStore := newTestService(t)
	target, targetStore := newTestService(t)
	ctx := context.Background()

	a := exchPattern(t, "auth race", "myapp.auth", 0.9)
	b := exchPattern(t, "migration ordering", "myapp.db", 0.7)
	require.NoError(t, sourceStore.Put(ctx, a))
	require.NoError(t, sourceStore.Put(ctx, b))

	doc, err := source.Export(ctx, "myapp", 0)
	require.NoError(t, err)

	// The document survives JSON serialization.
	raw, err := json.Marshal(doc)
	require.NoError(t, err)
	var parsed Document
	require.NoError(t, json.Unmarshal(raw, &parsed))

	result, err := target.Import(ctx, NewSession(), &parsed, ImportOptions{AutoResolve: true})
	require.NoError(t, err)

	assert.True(t, result.Completed)
	assert.Equal(t, 2, result.Summary.UniqueAdded)
	assert.Len(t, result.Decisions, 2)

	stats, err := targetStore.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.PatternCount)

	// Ids and fields survive the transfer unchanged.
	for _, want := range []*pattern.Pattern{a, b} {
		got, err := targetStore.Peek(ctx, want.ID)
		require.NoError(t, err)
		assert.Equal(t, want.Title, got.Title)
		assert.Equal(t, want.Confidence, got.Confidence)
		assert.Equal(t, want.Namespace, got.Namespace)
		assert.Equal(t, want.Context.Steps, got.Context.Steps)
	}
}

func TestImportRejectsUnknownSchemaVersion(t *testing.T) {
	svc, _ := newTestService(t)

	doc := &Document{Version: "99", ExportedAt: time.Now()}
	_, err := svc.Import(context.Background(), NewSession(), doc, ImportOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, pattern.ErrValidation)
}

func TestImportTalliesStrategies(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	local := exchPattern(t, "auth race", "myapp.auth", 0.8)
	require.NoError(t, st.Put(ctx, local))

	identical := exchPattern(t, "Auth Race", "myapp.auth", 0.9)
	unique := exchPattern(t, "queue backpressure", "infra.queue", 0.6)
	protected := exchPattern(t, "framework internals", "cortex.patterns", 0.9)

	doc := &Document{
		Version:  SchemaVersion,
		Patterns: []*pattern.Pattern{identical, unique, protected},
	}

	result, err := svc.Import(ctx, NewSession(), doc, ImportOptions{AutoResolve: true})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Summary.IdenticalMerged)
	assert.Equal(t, 1, result.Summary.UniqueAdded)
	assert.Equal(t, 1, result.Summary.SkippedNamespace)
	assert.True(t, result.Completed)
}

func TestImportProtectedOnlyDocNoMutations(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	doc := &Document{
		Version: SchemaVersion,
		Patterns: []*pattern.Pattern{
			exchPattern(t, "one", "cortex.patterns", 0.9),
			exchPattern(t, "two", "cortex.rules", 0.8),
		},
	}

	result, err := svc.Import(ctx, NewSession(), doc, ImportOptions{AutoResolve: true})
	require.NoError(t, err)

	assert.Equal(t, 2, result.Summary.SkippedNamespace)
	stats, err := st.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.PatternCount)
}

func TestImportInvalidEntriesRecordedAsErrors(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	good := exchPattern(t, "auth race", "myapp.auth", 0.9)
	bad := exchPattern(t, "broken", "myapp.auth", 0.5)
	bad.Confidence = 1.7
	bad.Pinned = true

	doc := &Document{
		Version:  SchemaVersion,
		Patterns: []*pattern.Pattern{bad, good},
	}

	result, err := svc.Import(ctx, NewSession(), doc, ImportOptions{AutoResolve: true})
	require.NoError(t, err)

	// The invalid entry is recorded and the batch continues.
	assert.Equal(t, 1, result.Summary.Errors)
	assert.Equal(t, 1, result.Summary.UniqueAdded)
	assert.True(t, result.Completed)

	stats, err := st.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.PatternCount)
}

func TestImportCancelledMidBatchResumes(t *testing.T) {
	svc, st := newTestService(t)

	doc := &Document{
		Version: SchemaVersion,
		Patterns: []*pattern.Pattern{
			exchPattern(t, "one", "myapp.a", 0.5),
			exchPattern(t, "two", "myapp.b", 0.5),
			exchPattern(t, "three", "myapp.c", 0.5),
		},
	}

	// Already-cancelled context: nothing is processed, cursor stays put.
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	session := NewSession()
	result, err := svc.Import(cancelled, session, doc, ImportOptions{AutoResolve: true})
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, result.Completed)
	assert.Equal(t, 0, result.Cursor)
	assert.Empty(t, result.Decisions)

	// Resuming from the cursor with the same session completes the batch.
	resumed, err := svc.Import(context.Background(), session, doc, ImportOptions{
		AutoResolve: true,
		Cursor:      result.Cursor,
	})
	require.NoError(t, err)
	assert.True(t, resumed.Completed)
	assert.Equal(t, 3, resumed.Summary.UniqueAdded)

	stats, err := st.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, stats.PatternCount)
}

func TestImportSessionIdempotentAcrossRetries(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	doc := &Document{
		Version: SchemaVersion,
		Patterns: []*pattern.Pattern{
			exchPattern(t, "one", "myapp.a", 0.5),
			exchPattern(t, "two", "myapp.b", 0.5),
		},
	}

	session := NewSession()
	first, err := svc.Import(ctx, session, doc, ImportOptions{AutoResolve: true})
	require.NoError(t, err)
	assert.Equal(t, 2, first.Summary.UniqueAdded)

	// A full retry with the same session replays recorded decisions instead
	// of merging twice.
	second, err := svc.Import(ctx, session, doc, ImportOptions{AutoResolve: true})
	require.NoError(t, err)
	assert.Equal(t, 2, second.Summary.UniqueAdded)

	stats, err := st.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.PatternCount)
	for _, p := range doc.Patterns {
		got, err := st.Peek(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, 0.5, got.Confidence)
		assert.Equal(t, int64(0), got.AccessCount)
	}
}

func TestImportPausesForConfirmationThenResumes(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	protected := exchPattern(t, "framework internals", "cortex.patterns", 0.9)
	open := exchPattern(t, "auth race", "myapp.auth", 0.8)

	doc := &Document{
		Version:  SchemaVersion,
		Patterns: []*pattern.Pattern{protected, open},
	}

	session := NewSession()
	first, err := svc.Import(ctx, session, doc, ImportOptions{AutoResolve: false})
	require.NoError(t, err)

	assert.Equal(t, 1, first.Summary.NeedsConfirmation)
	assert.Equal(t, 1, first.Summary.UniqueAdded)

	// Nothing protected was written yet.
	stats, err := st.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.PatternCount)

	// Resume with the confirmation: only the paused pattern is reprocessed.
	second, err := svc.Import(ctx, session, doc, ImportOptions{
		AutoResolve:  false,
		ConfirmedIDs: map[string]bool{protected.ID: true},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, second.Summary.NeedsConfirmation)
	// The confirmed write plus the replayed open-pattern decision.
	assert.Equal(t, 2, second.Summary.UniqueAdded)

	got, err := st.Peek(ctx, protected.ID)
	require.NoError(t, err)
	assert.Equal(t, "cortex.patterns", got.Namespace)
}
