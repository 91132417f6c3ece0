package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/masahif/jobforge/internal/jobs"
)

const preAnalyzedColumns = `id, cleaned_source_id, company_id, ` + postingColumns + `,
	confidence_score, dedup_key_pre, is_active, queued_for_analysis,
	queued_at, processed_at, created_at`

// TransferCleaned promotes a cleaned job into the pre-analyzed stage.
//
// The company is resolved (or created) first. When a pre-analyzed row with
// the same pre-analysis key already exists, nothing is inserted, the cleaned
// job is recorded as a duplicate and ErrDuplicate is returned.
func (s *SQLiteStore) TransferCleaned(ctx context.Context, c *jobs.CleanedJob) (int64, error) {
	key := jobs.PreAnalysisKeyFor(&c.Posting)
	sourceID := cleanedSourceID(c.ID)
	now := s.now()

	var (
		id  int64
		dup bool
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var existing int64
		err := tx.QueryRowContext(ctx, `SELECT id FROM pre_analyzed_jobs WHERE dedup_key_pre = ?`, key).Scan(&existing)
		switch {
		case err == nil:
			dup = true
			return recordProgress(ctx, tx, progressTransfer, sourceID, OutcomeDuplicate, existing, now)
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("failed to look up pre-analysis key: %w", err)
		}

		company, err := resolveCompany(ctx, tx, c.CompanyName, now)
		if err != nil {
			return err
		}

		args := append([]any{c.ID, company.ID}, postingArgs(&c.Posting)...)
		args = append(args, c.ConfidenceScore, key, now)
		res, err := tx.ExecContext(ctx, `
			INSERT INTO pre_analyzed_jobs (cleaned_source_id, company_id, `+postingColumns+`,
				confidence_score, dedup_key_pre, is_active, queued_for_analysis, created_at)
			VALUES (?, ?, `+placeholders(postingColumnCount)+`, ?, ?, 1, 0, ?)
		`, args...)
		if err != nil {
			return err
		}
		if id, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("failed to get last insert ID: %w", err)
		}
		return recordProgress(ctx, tx, progressTransfer, sourceID, OutcomeCreated, id, now)
	})

	if err != nil {
		if !isUniqueViolation(err) {
			return 0, fmt.Errorf("failed to transfer cleaned job %d: %w", c.ID, err)
		}
		// Lost a race on dedup_key_pre (or the job was already examined).
		// Record the examination so the job is not retried.
		recErr := s.withTx(ctx, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, `
				INSERT OR IGNORE INTO stage_progress (stage, source_id, outcome, processed_at)
				VALUES (?, ?, ?, ?)
			`, progressTransfer, sourceID, OutcomeDuplicate, now)
			return err
		})
		if recErr != nil {
			s.logger.Warn("Failed to record duplicate transfer outcome",
				"cleaned_id", c.ID, "dedup_key_pre", key, "error", recErr)
		}
		return 0, fmt.Errorf("pre-analysis key %s: %w", key, jobs.ErrDuplicate)
	}
	if dup {
		return 0, fmt.Errorf("pre-analysis key %s: %w", key, jobs.ErrDuplicate)
	}
	return id, nil
}

// ClaimForAnalysis atomically marks up to limit eligible rows as queued and
// returns them newest first. Eligible rows are active, not queued, not
// processed and carry both a title and a description.
func (s *SQLiteStore) ClaimForAnalysis(ctx context.Context, limit int) ([]*jobs.PreAnalyzedJob, error) {
	if limit <= 0 {
		return nil, nil
	}

	var claimed []*jobs.PreAnalyzedJob
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			UPDATE pre_analyzed_jobs
			SET queued_for_analysis = 1, queued_at = ?
			WHERE id IN (
				SELECT id FROM pre_analyzed_jobs
				WHERE is_active = 1
				AND queued_for_analysis = 0
				AND processed_at IS NULL
				AND trim(job_title) <> ''
				AND trim(COALESCE(description, '')) <> ''
				ORDER BY created_at DESC, id DESC
				LIMIT ?
			)
			AND queued_for_analysis = 0
			RETURNING id
		`, s.now(), limit)
		if err != nil {
			return fmt.Errorf("failed to claim rows for analysis: %w", err)
		}
		var ids []any
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				_ = rows.Close()
				return fmt.Errorf("failed to scan claimed id: %w", err)
			}
			ids = append(ids, id)
		}
		if err := rows.Close(); err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}

		sel, err := tx.QueryContext(ctx, `
			SELECT `+preAnalyzedColumns+`
			FROM pre_analyzed_jobs
			WHERE id IN (`+placeholders(len(ids))+`)
			ORDER BY created_at DESC, id DESC
		`, ids...)
		if err != nil {
			return fmt.Errorf("failed to load claimed rows: %w", err)
		}
		defer func() { _ = sel.Close() }()
		for sel.Next() {
			p, err := scanPreAnalyzed(sel)
			if err != nil {
				return err
			}
			claimed = append(claimed, p)
		}
		return sel.Err()
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// ReleaseQueued clears the queued flag on unprocessed rows with the given
// pre-analysis keys, making them eligible for the next selection.
func (s *SQLiteStore) ReleaseQueued(ctx context.Context, keys []string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE pre_analyzed_jobs
		SET queued_for_analysis = 0, queued_at = NULL
		WHERE processed_at IS NULL
		AND dedup_key_pre IN (`+placeholders(len(keys))+`)
	`, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to release queued rows: %w", err)
	}
	return res.RowsAffected()
}

// ReleaseStaleQueued resets rows that have been queued longer than timeout
// without being processed.
func (s *SQLiteStore) ReleaseStaleQueued(ctx context.Context, timeout time.Duration) (int64, error) {
	cutoff := s.now().Add(-timeout)

	res, err := s.db.ExecContext(ctx, `
		UPDATE pre_analyzed_jobs
		SET queued_for_analysis = 0, queued_at = NULL
		WHERE queued_for_analysis = 1
		AND processed_at IS NULL
		AND queued_at < ?
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup stale queued rows: %w", err)
	}
	return res.RowsAffected()
}

// GetPreAnalyzedByKey loads a pre-analyzed job by its pre-analysis key.
func (s *SQLiteStore) GetPreAnalyzedByKey(ctx context.Context, key string) (*jobs.PreAnalyzedJob, error) {
	p, err := scanPreAnalyzed(s.db.QueryRowContext(ctx,
		`SELECT `+preAnalyzedColumns+` FROM pre_analyzed_jobs WHERE dedup_key_pre = ?`, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, jobs.ErrNotFound
	}
	return p, err
}

// SetActive toggles whether a pre-analyzed job may be selected for analysis.
func (s *SQLiteStore) SetActive(ctx context.Context, key string, active bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pre_analyzed_jobs SET is_active = ? WHERE dedup_key_pre = ?`, active, key)
	if err != nil {
		return fmt.Errorf("failed to update is_active: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return jobs.ErrNotFound
	}
	return nil
}

func scanPreAnalyzed(sc rowScanner) (*jobs.PreAnalyzedJob, error) {
	var (
		p                   jobs.PreAnalyzedJob
		pr                  postingRow
		queuedAt, processed sql.NullTime
	)
	dest := append([]any{&p.ID, &p.CleanedSourceID, &p.CompanyID}, pr.dest(&p.Posting)...)
	dest = append(dest, &p.ConfidenceScore, &p.DedupKeyPre, &p.IsActive, &p.QueuedForAnalysis,
		&queuedAt, &processed, &p.CreatedAt)
	if err := sc.Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan pre-analyzed job: %w", err)
	}
	pr.apply(&p.Posting)
	p.QueuedAt = timePtr(queuedAt)
	p.ProcessedAt = timePtr(processed)
	p.CreatedAt = p.CreatedAt.UTC()
	return &p, nil
}
