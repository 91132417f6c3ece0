package storage

import (
	"database/sql"
	"time"

	"github.com/masahif/jobforge/internal/jobs"
)

// postingColumns lists the normalized posting columns in the order used by
// postingArgs and postingRow.
const postingColumns = `job_title, company_name, city, province, country,
	salary_min, salary_max, salary_currency, salary_period, work_arrangement,
	job_type, description, posted_at, company_website, external_job_id,
	source_website, source_url`

const postingColumnCount = 17

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func postingArgs(p *jobs.Posting) []any {
	return []any{
		p.JobTitle,
		p.CompanyName,
		nullString(p.Location.City),
		nullString(p.Location.Province),
		nullString(p.Location.Country),
		nullFloat(p.Salary.Min),
		nullFloat(p.Salary.Max),
		nullString(p.Salary.Currency),
		nullString(string(p.Salary.Period)),
		nullString(string(p.WorkArrangement)),
		nullString(p.JobType),
		nullString(p.Description),
		nullTime(p.PostedAt),
		nullString(p.CompanyWebsite),
		nullString(p.ExternalJobID),
		p.SourceWebsite,
		nullString(p.SourceURL),
	}
}

// postingRow holds scan targets for the nullable posting columns.
type postingRow struct {
	city, province, country     sql.NullString
	min, max                    sql.NullFloat64
	currency, period            sql.NullString
	arrangement, jobType, desc  sql.NullString
	postedAt                    sql.NullTime
	website, externalID, srcURL sql.NullString
}

func (r *postingRow) dest(p *jobs.Posting) []any {
	return []any{
		&p.JobTitle,
		&p.CompanyName,
		&r.city, &r.province, &r.country,
		&r.min, &r.max, &r.currency, &r.period, &r.arrangement,
		&r.jobType, &r.desc, &r.postedAt, &r.website, &r.externalID,
		&p.SourceWebsite,
		&r.srcURL,
	}
}

func (r *postingRow) apply(p *jobs.Posting) {
	p.Location = jobs.Location{City: r.city.String, Province: r.province.String, Country: r.country.String}
	if r.min.Valid {
		v := r.min.Float64
		p.Salary.Min = &v
	}
	if r.max.Valid {
		v := r.max.Float64
		p.Salary.Max = &v
	}
	p.Salary.Currency = r.currency.String
	p.Salary.Period = jobs.SalaryPeriod(r.period.String)
	p.WorkArrangement = jobs.WorkArrangement(r.arrangement.String)
	p.JobType = r.jobType.String
	p.Description = r.desc.String
	if r.postedAt.Valid {
		t := r.postedAt.Time.UTC()
		p.PostedAt = &t
	}
	p.CompanyWebsite = r.website.String
	p.ExternalJobID = r.externalID.String
	p.SourceURL = r.srcURL.String
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}
