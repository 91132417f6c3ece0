package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/masahif/jobforge/internal/jobs"
)

const cleanedColumns = `id, raw_scrape_id, ` + postingColumns + `,
	confidence_score, duplicates_count, created_at, last_seen_at`

// UpsertCleaned stores the posting extracted from raw scrape scrapeID.
//
// When a cleaned row with the same (external_job_id, source_website) exists
// the earliest record wins: its duplicate counter and last-seen time are bumped
// and merged is true. Postings without an external id always create a new row.
// The raw scrape is recorded as examined in the same transaction. A
// uniqueness race on insert is retried once as a merge.
func (s *SQLiteStore) UpsertCleaned(ctx context.Context, scrapeID string, p *jobs.Posting, score float64) (id int64, merged bool, err error) {
	for attempt := 0; attempt < 2; attempt++ {
		id, merged, err = s.upsertCleanedOnce(ctx, scrapeID, p, score)
		if err == nil || !isUniqueViolation(err) {
			return id, merged, err
		}
	}
	return 0, false, fmt.Errorf("cleaned record for scrape %s: %w", scrapeID, jobs.ErrDuplicate)
}

func (s *SQLiteStore) upsertCleanedOnce(ctx context.Context, scrapeID string, p *jobs.Posting, score float64) (int64, bool, error) {
	var (
		id     int64
		merged bool
	)
	now := s.now()

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if p.ExternalJobID != "" {
			err := tx.QueryRowContext(ctx,
				`SELECT id FROM cleaned_jobs WHERE external_job_id = ? AND source_website = ?`,
				p.ExternalJobID, p.SourceWebsite,
			).Scan(&id)
			switch {
			case err == nil:
				if _, err := tx.ExecContext(ctx, `
					UPDATE cleaned_jobs
					SET duplicates_count = duplicates_count + 1, last_seen_at = ?
					WHERE id = ?
				`, now, id); err != nil {
					return fmt.Errorf("failed to merge cleaned job %d: %w", id, err)
				}
				merged = true
				return recordProgress(ctx, tx, progressClean, scrapeID, OutcomeMerged, id, now)
			case !errors.Is(err, sql.ErrNoRows):
				return fmt.Errorf("failed to look up cleaned job: %w", err)
			}
		}

		args := append([]any{scrapeID}, postingArgs(p)...)
		args = append(args, score, now, now)
		res, err := tx.ExecContext(ctx, `
			INSERT INTO cleaned_jobs (raw_scrape_id, `+postingColumns+`,
				confidence_score, duplicates_count, created_at, last_seen_at)
			VALUES (?, `+placeholders(postingColumnCount)+`, ?, 1, ?, ?)
		`, args...)
		if err != nil {
			return err
		}
		if id, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("failed to get last insert ID: %w", err)
		}
		return recordProgress(ctx, tx, progressClean, scrapeID, OutcomeCreated, id, now)
	})
	if err != nil {
		if isUniqueViolation(err) {
			return 0, false, err
		}
		return 0, false, fmt.Errorf("failed to upsert cleaned job: %w", err)
	}
	return id, merged, nil
}

// PendingCleaned returns up to limit cleaned jobs that the transfer stage
// has not examined and that have no pre-analyzed row yet, oldest first.
func (s *SQLiteStore) PendingCleaned(ctx context.Context, limit int) ([]*jobs.CleanedJob, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+cleanedColumns+`
		FROM cleaned_jobs c
		WHERE NOT EXISTS (
			SELECT 1 FROM stage_progress sp
			WHERE sp.stage = ? AND sp.source_id = CAST(c.id AS TEXT)
		)
		AND NOT EXISTS (
			SELECT 1 FROM pre_analyzed_jobs p WHERE p.cleaned_source_id = c.id
		)
		ORDER BY c.id
		LIMIT ?
	`, progressTransfer, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending cleaned jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*jobs.CleanedJob
	for rows.Next() {
		c, err := scanCleaned(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetCleaned loads a cleaned job by id.
func (s *SQLiteStore) GetCleaned(ctx context.Context, id int64) (*jobs.CleanedJob, error) {
	c, err := scanCleaned(s.db.QueryRowContext(ctx, `SELECT `+cleanedColumns+` FROM cleaned_jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, jobs.ErrNotFound
	}
	return c, err
}

func scanCleaned(sc rowScanner) (*jobs.CleanedJob, error) {
	var (
		c     jobs.CleanedJob
		rawID sql.NullString
		pr    postingRow
	)
	dest := append([]any{&c.ID, &rawID}, pr.dest(&c.Posting)...)
	dest = append(dest, &c.ConfidenceScore, &c.DuplicatesCount, &c.CreatedAt, &c.LastSeenAt)
	if err := sc.Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan cleaned job: %w", err)
	}
	pr.apply(&c.Posting)
	c.RawScrapeID = rawID.String
	c.CreatedAt = c.CreatedAt.UTC()
	c.LastSeenAt = c.LastSeenAt.UTC()
	return &c, nil
}

func cleanedSourceID(id int64) string {
	return strconv.FormatInt(id, 10)
}
