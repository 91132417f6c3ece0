package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/masahif/jobforge/internal/jobs"
)

const analyzedColumns = `id, pre_analyzed_source_id, company_id, ` + postingColumns + `,
	dedup_key_analyzed, primary_industry, secondary_industries, seniority_level,
	authenticity_score, skills_analysis, structured_data, model_used, tokens_used,
	analysis_date, application_status, eligibility_flag`

// CommitAnalysis merges one analyzer result into the analyzed stage.
//
// It returns ErrNotFound when the pre-analysis key no longer resolves, and
// ErrDuplicate when the source was already processed or an analyzed record
// with the same analysis key exists. In the duplicate case the source row is
// still marked processed. On success the new analyzed row id is returned and
// the source row is un-queued and stamped processed in the same transaction.
func (s *SQLiteStore) CommitAnalysis(ctx context.Context, r *jobs.AnalysisResult) (int64, error) {
	now := s.now()

	var (
		id        int64
		duplicate bool
		key       string
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var (
			sourceID, companyID int64
			title               string
			processed           sql.NullTime
		)
		err := tx.QueryRowContext(ctx, `
			SELECT id, company_id, job_title, processed_at
			FROM pre_analyzed_jobs WHERE dedup_key_pre = ?
		`, r.DedupKeyPre).Scan(&sourceID, &companyID, &title, &processed)
		if errors.Is(err, sql.ErrNoRows) {
			return jobs.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to look up pre-analyzed job: %w", err)
		}
		if processed.Valid {
			duplicate = true
			return nil
		}

		key = jobs.AnalysisKey(title, companyID, r.PrimaryIndustry)
		var existing int64
		err = tx.QueryRowContext(ctx, `SELECT id FROM analyzed_jobs WHERE dedup_key_analyzed = ?`, key).Scan(&existing)
		switch {
		case err == nil:
			duplicate = true
			return markProcessed(ctx, tx, sourceID, now)
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("failed to look up analysis key: %w", err)
		}

		secondary := r.SecondaryIndustries
		if secondary == nil {
			secondary = []string{}
		}
		secondaryJSON, err := json.Marshal(secondary)
		if err != nil {
			return fmt.Errorf("failed to encode secondary industries: %w", err)
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO analyzed_jobs (pre_analyzed_source_id, company_id, `+postingColumns+`,
				dedup_key_analyzed, primary_industry, secondary_industries, seniority_level,
				authenticity_score, skills_analysis, structured_data, model_used, tokens_used,
				analysis_date, application_status, eligibility_flag)
			SELECT id, company_id, `+postingColumns+`,
				?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1
			FROM pre_analyzed_jobs WHERE id = ?
		`,
			key, r.PrimaryIndustry, string(secondaryJSON), nullString(r.SeniorityLevel),
			r.AuthenticityScore, nullRaw(r.SkillsAnalysis), nullRaw(r.StructuredData),
			nullString(r.ModelUsed), r.TokensUsed, now, string(jobs.StatusNotApplied),
			sourceID,
		)
		if err != nil {
			return err
		}
		if id, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("failed to get last insert ID: %w", err)
		}
		return markProcessed(ctx, tx, sourceID, now)
	})

	switch {
	case errors.Is(err, jobs.ErrNotFound):
		return 0, fmt.Errorf("pre-analysis key %s: %w", r.DedupKeyPre, jobs.ErrNotFound)
	case err != nil && isUniqueViolation(err):
		// Another writer inserted the same analysis key first.
		if markErr := s.withTx(ctx, func(tx *sql.Tx) error {
			return markProcessedByKey(ctx, tx, r.DedupKeyPre, now)
		}); markErr != nil {
			return 0, markErr
		}
		return 0, fmt.Errorf("analysis key %s: %w", key, jobs.ErrDuplicate)
	case err != nil:
		return 0, fmt.Errorf("failed to commit analysis: %w", err)
	case duplicate:
		return 0, fmt.Errorf("analysis of %s: %w", r.DedupKeyPre, jobs.ErrDuplicate)
	}
	return id, nil
}

func markProcessed(ctx context.Context, tx *sql.Tx, id int64, now time.Time) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE pre_analyzed_jobs
		SET queued_for_analysis = 0, processed_at = ?
		WHERE id = ?
	`, now, id)
	if err != nil {
		return fmt.Errorf("failed to mark pre-analyzed job %d processed: %w", id, err)
	}
	return nil
}

func markProcessedByKey(ctx context.Context, tx *sql.Tx, key string, now time.Time) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE pre_analyzed_jobs
		SET queued_for_analysis = 0, processed_at = ?
		WHERE dedup_key_pre = ? AND processed_at IS NULL
	`, now, key)
	if err != nil {
		return fmt.Errorf("failed to mark %s processed: %w", key, err)
	}
	return nil
}

func nullRaw(raw json.RawMessage) sql.NullString {
	if len(raw) == 0 || string(raw) == "null" {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}

// ListAnalyzed returns analyzed jobs, most recent analysis first.
func (s *SQLiteStore) ListAnalyzed(ctx context.Context, limit int) ([]*jobs.AnalyzedJob, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+analyzedColumns+`
		FROM analyzed_jobs
		ORDER BY analysis_date DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query analyzed jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*jobs.AnalyzedJob
	for rows.Next() {
		a, err := scanAnalyzed(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpdateApplicationStatus records the user's progress on an analyzed job.
func (s *SQLiteStore) UpdateApplicationStatus(ctx context.Context, id int64, status jobs.ApplicationStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE analyzed_jobs SET application_status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("failed to update application status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return jobs.ErrNotFound
	}
	return nil
}

func scanAnalyzed(sc rowScanner) (*jobs.AnalyzedJob, error) {
	var (
		a                  jobs.AnalyzedJob
		pr                 postingRow
		secondary          string
		seniority, model   sql.NullString
		skills, structured sql.NullString
		authenticity       sql.NullFloat64
		status             string
	)
	dest := append([]any{&a.ID, &a.PreAnalyzedSourceID, &a.CompanyID}, pr.dest(&a.Posting)...)
	dest = append(dest, &a.DedupKeyAnalyzed, &a.PrimaryIndustry, &secondary, &seniority,
		&authenticity, &skills, &structured, &model, &a.TokensUsed,
		&a.AnalysisDate, &status, &a.EligibilityFlag)
	if err := sc.Scan(dest...); err != nil {
		return nil, fmt.Errorf("failed to scan analyzed job: %w", err)
	}
	pr.apply(&a.Posting)
	if err := json.Unmarshal([]byte(secondary), &a.SecondaryIndustries); err != nil {
		return nil, fmt.Errorf("failed to decode secondary industries of %d: %w", a.ID, err)
	}
	a.SeniorityLevel = seniority.String
	a.AuthenticityScore = authenticity.Float64
	if skills.Valid {
		a.SkillsAnalysis = json.RawMessage(skills.String)
	}
	if structured.Valid {
		a.StructuredData = json.RawMessage(structured.String)
	}
	a.ModelUsed = model.String
	a.ApplicationStatus = jobs.ApplicationStatus(status)
	a.AnalysisDate = a.AnalysisDate.UTC()
	return &a, nil
}
