package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/masahif/jobforge/internal/jobs"
)

const rawColumns = `scrape_id, source_website, source_url, payload, synthesized_fields,
	scraper_identity, scraper_run_id, captured_at`

// InsertRaw appends a sanitized scrape. Raw rows are never updated.
func (s *SQLiteStore) InsertRaw(ctx context.Context, r *jobs.RawScrape) error {
	payload, err := json.Marshal(r.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}
	synth := r.SynthesizedFields
	if synth == nil {
		synth = []string{}
	}
	synthJSON, err := json.Marshal(synth)
	if err != nil {
		return fmt.Errorf("failed to encode synthesized fields: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO raw_scrapes (`+rawColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.ScrapeID, r.SourceWebsite, nullString(r.SourceURL), string(payload), string(synthJSON),
		nullString(r.ScraperIdentity), nullString(r.ScraperRunID), r.CapturedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("raw scrape %s: %w", r.ScrapeID, jobs.ErrDuplicate)
		}
		return fmt.Errorf("failed to insert raw scrape: %w", err)
	}
	return nil
}

// PendingRaw returns up to limit raw scrapes the cleaning stage has not
// examined yet, oldest first.
func (s *SQLiteStore) PendingRaw(ctx context.Context, limit int) ([]*jobs.RawScrape, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+rawColumns+`
		FROM raw_scrapes r
		WHERE NOT EXISTS (
			SELECT 1 FROM stage_progress sp
			WHERE sp.stage = ? AND sp.source_id = r.scrape_id
		)
		ORDER BY r.captured_at, r.scrape_id
		LIMIT ?
	`, progressClean, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending raw scrapes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*jobs.RawScrape
	for rows.Next() {
		r, err := scanRaw(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetRaw loads one raw scrape by id.
func (s *SQLiteStore) GetRaw(ctx context.Context, scrapeID string) (*jobs.RawScrape, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+rawColumns+` FROM raw_scrapes WHERE scrape_id = ?`, scrapeID)
	r, err := scanRaw(row)
	if err == sql.ErrNoRows {
		return nil, jobs.ErrNotFound
	}
	return r, err
}

// RecordCleanRejected marks a raw scrape as examined and rejected so the
// cleaning stage never retries it.
func (s *SQLiteStore) RecordCleanRejected(ctx context.Context, scrapeID string) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		return recordProgress(ctx, tx, progressClean, scrapeID, OutcomeRejected, 0, s.now())
	})
	if isUniqueViolation(err) {
		return fmt.Errorf("raw scrape %s already cleaned: %w", scrapeID, jobs.ErrDuplicate)
	}
	return err
}

func scanRaw(sc rowScanner) (*jobs.RawScrape, error) {
	var (
		r                       jobs.RawScrape
		srcURL, ident, runID    sql.NullString
		payload, synthesizedRaw string
	)
	err := sc.Scan(&r.ScrapeID, &r.SourceWebsite, &srcURL, &payload, &synthesizedRaw, &ident, &runID, &r.CapturedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan raw scrape: %w", err)
	}
	dec := json.NewDecoder(strings.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&r.Payload); err != nil {
		return nil, fmt.Errorf("failed to decode payload of %s: %w", r.ScrapeID, err)
	}
	if err := json.Unmarshal([]byte(synthesizedRaw), &r.SynthesizedFields); err != nil {
		return nil, fmt.Errorf("failed to decode synthesized fields of %s: %w", r.ScrapeID, err)
	}
	r.SourceURL = srcURL.String
	r.ScraperIdentity = ident.String
	r.ScraperRunID = runID.String
	r.CapturedAt = r.CapturedAt.UTC()
	return &r, nil
}
