// Package storage persists every pipeline stage in SQLite: raw scrapes,
// cleaned jobs, companies, pre-analyzed and analyzed jobs, plus the
// migration ledger and the per-stage progress ledger.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/masahif/jobforge/internal/jobs"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Progress ledger stage names.
const (
	progressClean    = "clean"
	progressTransfer = "transfer"
)

// Progress ledger outcomes.
const (
	OutcomeCreated   = "created"
	OutcomeMerged    = "merged"
	OutcomeDuplicate = "duplicate"
	OutcomeRejected  = "rejected"
)

// SQLiteStore implements every stage store of the pipeline on one SQLite file.
type SQLiteStore struct {
	db     *sql.DB
	now    func() time.Time
	logger *slog.Logger
}

// NewSQLiteStore opens (creating if needed) the database at dbPath and
// migrates it to the latest schema version.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Writers take the database lock at BEGIN, so a transaction never has to
	// upgrade a read snapshot that another connection has already invalidated.
	db, err := sql.Open("sqlite", dbPath+"?_txlock=immediate&_pragma=busy_timeout(30000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single connection prevents lock conflicts
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	store := &SQLiteStore{
		db:     db,
		now:    func() time.Time { return time.Now().UTC() },
		logger: slog.Default(),
	}

	if err := store.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}

	if _, err := store.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) configure() error {
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -64000", // 64MB cache
		"PRAGMA temp_store = MEMORY",
		"PRAGMA busy_timeout = 30000",
	}

	for _, pragma := range pragmas {
		if _, err := s.db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}
	return nil
}

// SetLogger replaces the logger used for problems that do not fail the
// calling operation.
func (s *SQLiteStore) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// withTx runs fn in a transaction, committing only when fn succeeds.
// fn must use tx exclusively: the pool holds a single connection.
func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// isUniqueViolation reports whether err is a UNIQUE or PRIMARY KEY
// constraint failure. Other constraint kinds (CHECK, NOT NULL, FOREIGN KEY)
// are real errors and must not be mistaken for duplicates.
func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	case sqlite3.SQLITE_CONSTRAINT:
		// primary code only; fall back to the message
		return strings.Contains(se.Error(), "UNIQUE constraint failed")
	}
	return false
}

// recordProgress notes that a stage has examined sourceID.
func recordProgress(ctx context.Context, tx *sql.Tx, stage, sourceID, outcome string, targetID int64, now time.Time) error {
	var target any
	if targetID > 0 {
		target = targetID
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO stage_progress (stage, source_id, outcome, target_id, processed_at)
		VALUES (?, ?, ?, ?, ?)
	`, stage, sourceID, outcome, target, now)
	if err != nil {
		return fmt.Errorf("failed to record %s progress for %s: %w", stage, sourceID, err)
	}
	return nil
}

// GetMeta retrieves a metadata value
func (s *SQLiteStore) GetMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM pipeline_meta WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get meta: %w", err)
	}
	return value, nil
}

// SetMeta stores a metadata value
func (s *SQLiteStore) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO pipeline_meta (key, value) VALUES (?, ?)",
		key, value,
	)
	if err != nil {
		return fmt.Errorf("failed to set meta: %w", err)
	}
	return nil
}

// ListMeta returns every metadata pair whose key starts with prefix.
func (s *SQLiteStore) ListMeta(ctx context.Context, prefix string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT key, value FROM pipeline_meta WHERE substr(key, 1, ?) = ? ORDER BY key",
		len(prefix), prefix,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list meta: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("failed to scan meta: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}

// Counts returns the per-stage row counts in one consistent read.
func (s *SQLiteStore) Counts(ctx context.Context) (*jobs.Counts, error) {
	var c jobs.Counts
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM raw_scrapes),
			(SELECT COUNT(*) FROM cleaned_jobs),
			(SELECT COUNT(*) FROM pre_analyzed_jobs),
			(SELECT COUNT(*) FROM pre_analyzed_jobs WHERE queued_for_analysis = 1 AND processed_at IS NULL),
			(SELECT COUNT(*) FROM pre_analyzed_jobs WHERE processed_at IS NOT NULL),
			(SELECT COUNT(*) FROM analyzed_jobs),
			(SELECT COUNT(*) FROM analyzed_jobs
				WHERE trim(primary_industry) <> ''
				AND skills_analysis IS NOT NULL
				AND trim(skills_analysis) NOT IN ('', 'null', '{}', '[]')),
			(SELECT COUNT(*) FROM companies)
	`).Scan(
		&c.Raw, &c.Cleaned, &c.PreAnalyzed, &c.PreAnalyzedQueued,
		&c.PreAnalyzedProcessed, &c.Analyzed, &c.AnalysisCompleted, &c.Companies,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to count stage rows: %w", err)
	}
	return &c, nil
}

// placeholders returns "?, ?, ..." with n markers.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
