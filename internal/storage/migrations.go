package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// migration is one ordered, idempotent schema step recorded in schema_migrations.
type migration struct {
	version     int
	description string
	statements  []string
}

// MigrationRecord is an applied ledger entry.
type MigrationRecord struct {
	Version     int       `json:"version"`
	Description string    `json:"description"`
	AppliedAt   time.Time `json:"applied_at"`
}

const ledgerSQL = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version INTEGER PRIMARY KEY,
    description TEXT NOT NULL,
    applied_at DATETIME NOT NULL
)`

// postingColumnsDDL are the normalized posting columns shared by the
// cleaned, pre-analyzed and analyzed tables.
const postingColumnsDDL = `
    job_title TEXT NOT NULL DEFAULT '',
    company_name TEXT NOT NULL DEFAULT '',
    city TEXT,
    province TEXT,
    country TEXT,
    salary_min REAL,
    salary_max REAL,
    salary_currency TEXT,
    salary_period TEXT,
    work_arrangement TEXT,
    job_type TEXT,
    description TEXT,
    posted_at DATETIME,
    company_website TEXT,
    external_job_id TEXT,
    source_website TEXT NOT NULL DEFAULT '',
    source_url TEXT,`

var migrations = []migration{
	{
		version:     1,
		description: "stage tables",
		statements: []string{
			// Raw scrapes are append-only; updates are refused by trigger.
			`CREATE TABLE IF NOT EXISTS raw_scrapes (
    scrape_id TEXT PRIMARY KEY NOT NULL,
    source_website TEXT NOT NULL,
    source_url TEXT,
    payload TEXT NOT NULL,
    synthesized_fields TEXT NOT NULL DEFAULT '[]',
    scraper_identity TEXT,
    scraper_run_id TEXT,
    captured_at DATETIME NOT NULL
)`,
			`CREATE INDEX IF NOT EXISTS idx_raw_scrapes_captured ON raw_scrapes(captured_at)`,
			`CREATE TRIGGER IF NOT EXISTS raw_scrapes_immutable BEFORE UPDATE ON raw_scrapes
BEGIN
    SELECT RAISE(ABORT, 'raw scrapes are immutable');
END`,

			`CREATE TABLE IF NOT EXISTS companies (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    name_key TEXT NOT NULL UNIQUE,
    created_at DATETIME NOT NULL
)`,

			`CREATE TABLE IF NOT EXISTS cleaned_jobs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    raw_scrape_id TEXT REFERENCES raw_scrapes(scrape_id),` + postingColumnsDDL + `
    confidence_score REAL NOT NULL DEFAULT 0 CHECK (confidence_score >= 0 AND confidence_score <= 1),
    duplicates_count INTEGER NOT NULL DEFAULT 1,
    created_at DATETIME NOT NULL,
    last_seen_at DATETIME NOT NULL,
    UNIQUE(external_job_id, source_website)
)`,

			`CREATE TABLE IF NOT EXISTS pre_analyzed_jobs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    cleaned_source_id INTEGER NOT NULL REFERENCES cleaned_jobs(id),
    company_id INTEGER NOT NULL REFERENCES companies(id),` + postingColumnsDDL + `
    confidence_score REAL NOT NULL DEFAULT 0,
    dedup_key_pre TEXT NOT NULL UNIQUE,
    is_active INTEGER NOT NULL DEFAULT 1,
    queued_for_analysis INTEGER NOT NULL DEFAULT 0,
    queued_at DATETIME,
    processed_at DATETIME,
    created_at DATETIME NOT NULL
)`,
			`CREATE INDEX IF NOT EXISTS idx_pre_analyzed_queue ON pre_analyzed_jobs(is_active, queued_for_analysis, processed_at, created_at)`,
			`CREATE INDEX IF NOT EXISTS idx_pre_analyzed_cleaned ON pre_analyzed_jobs(cleaned_source_id)`,

			`CREATE TABLE IF NOT EXISTS analyzed_jobs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    pre_analyzed_source_id INTEGER NOT NULL REFERENCES pre_analyzed_jobs(id),
    company_id INTEGER NOT NULL REFERENCES companies(id),` + postingColumnsDDL + `
    dedup_key_analyzed TEXT NOT NULL UNIQUE,
    primary_industry TEXT NOT NULL,
    secondary_industries TEXT NOT NULL DEFAULT '[]',
    seniority_level TEXT,
    authenticity_score REAL,
    skills_analysis TEXT,
    structured_data TEXT,
    model_used TEXT,
    tokens_used INTEGER NOT NULL DEFAULT 0,
    analysis_date DATETIME NOT NULL,
    application_status TEXT NOT NULL DEFAULT 'not_applied'
        CHECK (application_status IN ('not_applied', 'applied', 'interviewing', 'offered', 'rejected', 'withdrawn')),
    eligibility_flag INTEGER NOT NULL DEFAULT 1
)`,
			`CREATE INDEX IF NOT EXISTS idx_analyzed_pre_source ON analyzed_jobs(pre_analyzed_source_id)`,

			// Which source rows a stage has already examined, and with what outcome.
			`CREATE TABLE IF NOT EXISTS stage_progress (
    stage TEXT NOT NULL,
    source_id TEXT NOT NULL,
    outcome TEXT NOT NULL CHECK (outcome IN ('created', 'merged', 'duplicate', 'rejected')),
    target_id INTEGER,
    processed_at DATETIME NOT NULL,
    PRIMARY KEY (stage, source_id)
)`,

			`CREATE TABLE IF NOT EXISTS pipeline_meta (
    key TEXT PRIMARY KEY NOT NULL,
    value TEXT NOT NULL
)`,
		},
	},
	{
		version:     2,
		description: "analysis queue view",
		statements: []string{
			`CREATE VIEW IF NOT EXISTS analysis_queue_status AS
SELECT
    CASE
        WHEN processed_at IS NOT NULL THEN 'processed'
        WHEN queued_for_analysis = 1 THEN 'queued'
        WHEN is_active = 0 THEN 'inactive'
        ELSE 'pending'
    END AS status,
    COUNT(*) AS count,
    MIN(created_at) AS oldest_item,
    MAX(created_at) AS newest_item
FROM pre_analyzed_jobs
GROUP BY 1`,
		},
	},
}

// Migrate applies every migration newer than the ledger's highest version,
// each in its own transaction. It returns how many were applied.
func (s *SQLiteStore) Migrate(ctx context.Context) (int, error) {
	if _, err := s.db.ExecContext(ctx, ledgerSQL); err != nil {
		return 0, fmt.Errorf("failed to create migration ledger: %w", err)
	}

	var current int
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return 0, fmt.Errorf("failed to read migration ledger: %w", err)
	}

	applied := 0
	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		err := s.withTx(ctx, func(tx *sql.Tx) error {
			for _, stmt := range m.statements {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return fmt.Errorf("migration %d (%s): %w", m.version, m.description, err)
				}
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)`,
				m.version, m.description, s.now(),
			)
			return err
		})
		if err != nil {
			return applied, fmt.Errorf("failed to apply migration: %w", err)
		}
		applied++
	}
	return applied, nil
}

// AppliedMigrations lists the ledger in version order.
func (s *SQLiteStore) AppliedMigrations(ctx context.Context) ([]MigrationRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT version, description, applied_at FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("failed to query migration ledger: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []MigrationRecord
	for rows.Next() {
		var r MigrationRecord
		if err := rows.Scan(&r.Version, &r.Description, &r.AppliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan migration record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// LatestSchemaVersion is the version the binary migrates to.
func LatestSchemaVersion() int {
	return migrations[len(migrations)-1].version
}
