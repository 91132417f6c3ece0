package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/masahif/jobforge/internal/jobs"
)

// unknownCompanyName stands in for postings that carried only a title.
const unknownCompanyName = "Unknown Company"

func companyKey(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// ResolveCompany returns the company whose name matches case-insensitively,
// creating it when none exists.
func (s *SQLiteStore) ResolveCompany(ctx context.Context, name string) (*jobs.Company, error) {
	var c *jobs.Company
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		c, err = resolveCompany(ctx, tx, name, s.now())
		return err
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func resolveCompany(ctx context.Context, tx *sql.Tx, name string, now time.Time) (*jobs.Company, error) {
	name = strings.Join(strings.Fields(name), " ")
	if name == "" {
		name = unknownCompanyName
	}
	key := companyKey(name)

	c := &jobs.Company{}
	err := tx.QueryRowContext(ctx, `SELECT id, name FROM companies WHERE name_key = ?`, key).Scan(&c.ID, &c.Name)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to query company: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO companies (name, name_key, created_at) VALUES (?, ?, ?)`,
		name, key, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert company: %w", err)
	}
	if c.ID, err = res.LastInsertId(); err != nil {
		return nil, fmt.Errorf("failed to get last insert ID: %w", err)
	}
	c.Name = name
	return c, nil
}
