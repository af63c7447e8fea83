package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/fyrsmithlabs/patternbank/internal/pattern"
	"github.com/fyrsmithlabs/patternbank/internal/similarity"
)

const (
	// candidateLimit bounds the per-merge candidate scan.
	candidateLimit = 100

	// busyRetries is how many times a mutation is retried on lock
	// contention before surfacing a concurrency conflict.
	busyRetries = 3

	// busyBackoff is the base sleep between retries, multiplied by the
	// attempt number.
	busyBackoff = 25 * time.Millisecond
)

const schema = `
CREATE TABLE IF NOT EXISTS patterns (
	id               TEXT PRIMARY KEY,
	type             TEXT NOT NULL,
	title            TEXT NOT NULL,
	confidence       REAL NOT NULL CHECK (confidence >= 0.0 AND confidence <= 1.0),
	namespace        TEXT NOT NULL,
	namespaces       TEXT NOT NULL DEFAULT '[]',
	access_count     INTEGER NOT NULL DEFAULT 0,
	bug_count        INTEGER NOT NULL DEFAULT 0,
	pinned           INTEGER NOT NULL DEFAULT 0,
	context          TEXT NOT NULL DEFAULT '{}',
	created_at       TEXT NOT NULL,
	last_accessed_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_patterns_namespace ON patterns(namespace);
CREATE INDEX IF NOT EXISTS idx_patterns_confidence ON patterns(confidence);
CREATE INDEX IF NOT EXISTS idx_patterns_last_accessed ON patterns(last_accessed_at);
`

// SQLiteStore is the SQLite-backed pattern repository.
type SQLiteStore struct {
	db     *sql.DB
	engine *similarity.Engine
	locks  *keyedMutex
	logger *zap.Logger
}

// NewSQLiteStore opens (or creates) the pattern database at dbPath, enables
// WAL mode, and applies the schema.
func NewSQLiteStore(dbPath string, engine *similarity.Engine, logger *zap.Logger) (*SQLiteStore, error) {
	if engine == nil {
		return nil, fmt.Errorf("similarity engine cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: create database directory: %v", pattern.ErrStorage, err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: open database: %v", pattern.ErrStorage, err)
	}

	if err := enablePragmas(db); err != nil {
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: apply schema: %v", pattern.ErrStorage, err)
	}

	return &SQLiteStore{
		db:     db,
		engine: engine,
		locks:  newKeyedMutex(),
		logger: logger,
	}, nil
}

func enablePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("%w: execute %s: %v", pattern.ErrStorage, pragma, err)
		}
	}
	return nil
}

// Close closes the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Put inserts or overwrites the pattern under its id.
func (s *SQLiteStore) Put(ctx context.Context, p *pattern.Pattern) error {
	if p == nil {
		return fmt.Errorf("%w: nil pattern", pattern.ErrValidation)
	}
	p.RecomputePinned()
	if err := p.Validate(); err != nil {
		return err
	}

	unlock := s.locks.Lock(p.ID)
	defer unlock()

	return s.withRetry(ctx, func() error {
		namespaces, context, err := encodePayload(p)
		if err != nil {
			return err
		}
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO patterns (id, type, title, confidence, namespace, namespaces,
				access_count, bug_count, pinned, context, created_at, last_accessed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				type = excluded.type,
				title = excluded.title,
				confidence = excluded.confidence,
				namespace = excluded.namespace,
				namespaces = excluded.namespaces,
				access_count = excluded.access_count,
				bug_count = excluded.bug_count,
				pinned = excluded.pinned,
				context = excluded.context,
				last_accessed_at = excluded.last_accessed_at
		`, p.ID, string(p.Type), p.Title, p.Confidence, p.Namespace, namespaces,
			p.AccessCount, p.BugCount, boolInt(p.Pinned), context,
			formatTime(p.CreatedAt), formatTime(p.LastAccessedAt))
		if err != nil {
			return storageErr("put pattern", err)
		}
		return nil
	})
}

// Get returns the pattern and bumps its usage stats in the same transaction.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*pattern.Pattern, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	var out *pattern.Pattern
	err := s.withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return storageErr("begin get", err)
		}
		defer tx.Rollback()

		p, err := scanPattern(tx.QueryRowContext(ctx, selectByID, id))
		if err != nil {
			return err
		}

		p.AccessCount++
		p.LastAccessedAt = time.Now().UTC()
		if _, err := tx.ExecContext(ctx,
			`UPDATE patterns SET access_count = ?, last_accessed_at = ? WHERE id = ?`,
			p.AccessCount, formatTime(p.LastAccessedAt), id); err != nil {
			return storageErr("update access stats", err)
		}
		if err := tx.Commit(); err != nil {
			return storageErr("commit get", err)
		}
		out = p
		return nil
	})
	return out, err
}

// Peek returns the pattern without side effects.
func (s *SQLiteStore) Peek(ctx context.Context, id string) (*pattern.Pattern, error) {
	return scanPattern(s.db.QueryRowContext(ctx, selectByID, id))
}

// Query returns matching patterns ordered by confidence then recency. It
// never mutates access stats.
func (s *SQLiteStore) Query(ctx context.Context, namespacePrefix string, minConfidence float64) ([]*pattern.Pattern, error) {
	query := selectAll + ` WHERE confidence >= ?`
	args := []any{minConfidence}
	if namespacePrefix != "" {
		query += ` AND (namespace = ? OR namespace LIKE ? || '.%')`
		args = append(args, namespacePrefix, namespacePrefix)
	}
	query += ` ORDER BY confidence DESC, last_accessed_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("query patterns", err)
	}
	defer rows.Close()

	return scanPatterns(rows)
}

// FindCandidates scores the incoming pattern against stored patterns in the
// same protection domain, best score first. Identical-title candidates are
// always included regardless of score.
func (s *SQLiteStore) FindCandidates(ctx context.Context, incoming *pattern.Pattern) ([]Candidate, error) {
	domain := incoming.Domain()
	rows, err := s.db.QueryContext(ctx,
		selectAll+` WHERE (namespace = ? OR namespace LIKE ? || '.%')
			ORDER BY confidence DESC LIMIT ?`,
		domain, domain, candidateLimit)
	if err != nil {
		return nil, storageErr("scan candidates", err)
	}
	defer rows.Close()

	stored, err := scanPatterns(rows)
	if err != nil {
		return nil, err
	}

	wantTitle := pattern.NormalizeTitle(incoming.Title)
	candidates := make([]Candidate, 0, len(stored))
	for _, p := range stored {
		if p.ID == incoming.ID {
			continue
		}
		score := s.engine.Score(p, incoming)
		if score > 0 || pattern.NormalizeTitle(p.Title) == wantTitle {
			candidates = append(candidates, Candidate{Pattern: p, Score: score})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
	return candidates, nil
}

// Mutate applies fn to the stored pattern inside the per-id lock and a
// single transaction, then validates and writes the result back.
func (s *SQLiteStore) Mutate(ctx context.Context, id string, fn func(*pattern.Pattern) error) (*pattern.Pattern, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	var out *pattern.Pattern
	err := s.withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return storageErr("begin mutate", err)
		}
		defer tx.Rollback()

		p, err := scanPattern(tx.QueryRowContext(ctx, selectByID, id))
		if err != nil {
			return err
		}

		if err := fn(p); err != nil {
			return err
		}
		p.RecomputePinned()
		if err := p.Validate(); err != nil {
			return err
		}

		namespaces, context, err := encodePayload(p)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE patterns SET type = ?, title = ?, confidence = ?, namespace = ?,
				namespaces = ?, access_count = ?, bug_count = ?, pinned = ?,
				context = ?, last_accessed_at = ?
			WHERE id = ?`,
			string(p.Type), p.Title, p.Confidence, p.Namespace, namespaces,
			p.AccessCount, p.BugCount, boolInt(p.Pinned), context,
			formatTime(p.LastAccessedAt), id); err != nil {
			return storageErr("write mutation", err)
		}
		if err := tx.Commit(); err != nil {
			return storageErr("commit mutate", err)
		}
		out = p
		return nil
	})
	return out, err
}

// Replace reads the pattern under oldID, applies fn to produce its
// replacement under newID, then writes the replacement and deletes the old
// row in one transaction. Both ids stay locked for the duration, so at no
// observable point do two rows for the same logical pattern coexist.
func (s *SQLiteStore) Replace(ctx context.Context, oldID, newID string, fn func(current *pattern.Pattern) (*pattern.Pattern, error)) (*pattern.Pattern, error) {
	first, second := oldID, newID
	if second < first {
		first, second = second, first
	}
	unlock := s.locks.Lock(first)
	defer unlock()
	if first != second {
		unlockSecond := s.locks.Lock(second)
		defer unlockSecond()
	}

	var out *pattern.Pattern
	err := s.withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return storageErr("begin replace", err)
		}
		defer tx.Rollback()

		current, err := scanPattern(tx.QueryRowContext(ctx, selectByID, oldID))
		if err != nil {
			return err
		}

		replacement, err := fn(current)
		if err != nil {
			return err
		}
		if replacement == nil || replacement.ID != newID {
			return fmt.Errorf("%w: replacement must carry id %s", pattern.ErrValidation, newID)
		}
		replacement.RecomputePinned()
		if err := replacement.Validate(); err != nil {
			return err
		}

		namespaces, context, err := encodePayload(replacement)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO patterns (id, type, title, confidence, namespace, namespaces,
				access_count, bug_count, pinned, context, created_at, last_accessed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				type = excluded.type,
				title = excluded.title,
				confidence = excluded.confidence,
				namespace = excluded.namespace,
				namespaces = excluded.namespaces,
				access_count = excluded.access_count,
				bug_count = excluded.bug_count,
				pinned = excluded.pinned,
				context = excluded.context,
				last_accessed_at = excluded.last_accessed_at
		`, replacement.ID, string(replacement.Type), replacement.Title,
			replacement.Confidence, replacement.Namespace, namespaces,
			replacement.AccessCount, replacement.BugCount, boolInt(replacement.Pinned),
			context, formatTime(replacement.CreatedAt), formatTime(replacement.LastAccessedAt)); err != nil {
			return storageErr("write replacement", err)
		}
		if oldID != newID {
			if _, err := tx.ExecContext(ctx, `DELETE FROM patterns WHERE id = ?`, oldID); err != nil {
				return storageErr("delete replaced pattern", err)
			}
		}
		if err := tx.Commit(); err != nil {
			return storageErr("commit replace", err)
		}
		out = replacement
		return nil
	})
	return out, err
}

// DecayStale applies the passive decay epsilon to every non-pinned pattern
// last accessed before the cutoff. A single UPDATE keeps the sweep atomic.
func (s *SQLiteStore) DecayStale(ctx context.Context, cutoff time.Time, epsilon float64) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE patterns
		SET confidence = MAX(0.0, confidence - ?)
		WHERE pinned = 0 AND confidence > 0.0 AND last_accessed_at < ?`,
		epsilon, formatTime(cutoff))
	if err != nil {
		return 0, storageErr("decay sweep", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, storageErr("decay sweep rows", err)
	}
	return int(affected), nil
}

// Purge hard-deletes the pattern. Administrative operation only; normal
// merge and decay flows never remove records.
func (s *SQLiteStore) Purge(ctx context.Context, id string) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM patterns WHERE id = ?`, id)
	if err != nil {
		return storageErr("purge pattern", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return storageErr("purge rows", err)
	}
	if affected == 0 {
		return pattern.ErrNotFound
	}
	s.logger.Info("pattern purged", zap.String("id", id))
	return nil
}

// Stats summarizes the store for export headers and the stats command.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(MIN(confidence), 0),
			COALESCE(MAX(confidence), 0),
			COALESCE(AVG(access_count), 0)
		FROM patterns`)
	if err := row.Scan(&stats.PatternCount, &stats.MinConfidence, &stats.MaxConfidence, &stats.AvgAccessCount); err != nil {
		return nil, storageErr("aggregate stats", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT namespace FROM patterns ORDER BY namespace`)
	if err != nil {
		return nil, storageErr("list namespaces", err)
	}
	defer rows.Close()
	for rows.Next() {
		var ns string
		if err := rows.Scan(&ns); err != nil {
			return nil, storageErr("scan namespace", err)
		}
		stats.Namespaces = append(stats.Namespaces, ns)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate namespaces", err)
	}
	return stats, nil
}

// withRetry retries fn on lock contention with linear backoff, surfacing a
// concurrency conflict after the attempts are exhausted.
func (s *SQLiteStore) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 1; attempt <= busyRetries; attempt++ {
		err = fn()
		if err == nil || !isBusy(err) {
			return err
		}
		s.logger.Debug("retrying contended mutation",
			zap.Int("attempt", attempt),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * busyBackoff):
		}
	}
	return fmt.Errorf("%w: %v", pattern.ErrConcurrencyConflict, err)
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

const selectAll = `
	SELECT id, type, title, confidence, namespace, namespaces, access_count,
		bug_count, pinned, context, created_at, last_accessed_at
	FROM patterns`

const selectByID = selectAll + ` WHERE id = ?`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPattern(row rowScanner) (*pattern.Pattern, error) {
	var (
		p                    pattern.Pattern
		typ                  string
		namespaces, contextJ string
		pinned               int
		createdAt, accessed  string
	)
	err := row.Scan(&p.ID, &typ, &p.Title, &p.Confidence, &p.Namespace,
		&namespaces, &p.AccessCount, &p.BugCount, &pinned, &contextJ,
		&createdAt, &accessed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pattern.ErrNotFound
	}
	if err != nil {
		return nil, storageErr("scan pattern", err)
	}

	p.Type = pattern.Type(typ)
	p.Pinned = pinned != 0
	if err := json.Unmarshal([]byte(namespaces), &p.Namespaces); err != nil {
		return nil, storageErr("decode namespaces", err)
	}
	if err := json.Unmarshal([]byte(contextJ), &p.Context); err != nil {
		return nil, storageErr("decode context", err)
	}
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if p.LastAccessedAt, err = parseTime(accessed); err != nil {
		return nil, err
	}
	return &p, nil
}

func scanPatterns(rows *sql.Rows) ([]*pattern.Pattern, error) {
	var out []*pattern.Pattern
	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate patterns", err)
	}
	return out, nil
}

func encodePayload(p *pattern.Pattern) (namespaces, context string, err error) {
	ns := p.Namespaces
	if ns == nil {
		ns = []string{}
	}
	nsBytes, err := json.Marshal(ns)
	if err != nil {
		return "", "", storageErr("encode namespaces", err)
	}
	ctxBytes, err := json.Marshal(p.Context)
	if err != nil {
		return "", "", storageErr("encode context", err)
	}
	return string(nsBytes), string(ctxBytes), nil
}

// timeLayout is fixed-width RFC3339 with nanoseconds. Fixed width keeps
// lexicographic SQL comparison identical to chronological order;
// RFC3339Nano's trailing-zero trimming would break that.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, storageErr("parse timestamp", err)
	}
	return t, nil
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", pattern.ErrStorage, op, err)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
