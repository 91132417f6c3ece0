package storage

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/masahif/jobforge/internal/jobs"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test_jobforge.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// advance installs a manual clock on the store and returns a function that moves it.
func advance(s *SQLiteStore, start time.Time) func(time.Duration) {
	now := start
	s.now = func() time.Time { return now }
	return func(d time.Duration) { now = now.Add(d) }
}

func insertRaw(t *testing.T, s *SQLiteStore, id string) {
	t.Helper()
	err := s.InsertRaw(context.Background(), &jobs.RawScrape{
		ScrapeID:      id,
		SourceWebsite: "indeed",
		Payload:       map[string]any{"id": id},
		CapturedAt:    time.Now(),
	})
	if err != nil {
		t.Fatalf("InsertRaw(%s): %v", id, err)
	}
}

func posting(title, company, extID, desc string) *jobs.Posting {
	return &jobs.Posting{
		JobTitle:      title,
		CompanyName:   company,
		Location:      jobs.Location{City: "Toronto", Province: "ON", Country: "Canada"},
		Description:   desc,
		ExternalJobID: extID,
		SourceWebsite: "indeed",
	}
}

func TestMigrate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	records, err := s.AppliedMigrations(ctx)
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(records) != LatestSchemaVersion() {
		t.Fatalf("expected %d ledger entries, got %d", LatestSchemaVersion(), len(records))
	}
	for i, r := range records {
		if r.Version != i+1 {
			t.Errorf("ledger entry %d has version %d", i, r.Version)
		}
	}

	applied, err := s.Migrate(ctx)
	if err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
	if applied != 0 {
		t.Errorf("expected no migrations on rerun, got %d", applied)
	}
}

func TestRawScrapes(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	raw := &jobs.RawScrape{
		ScrapeID:          "scrape-1",
		SourceWebsite:     "indeed",
		SourceURL:         "https://example.com/jobs/1",
		Payload:           map[string]any{"positionName": "Backend Developer", "salary": 85000.0},
		SynthesizedFields: []string{"id"},
		ScraperIdentity:   "apify",
		CapturedAt:        time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	if err := s.InsertRaw(ctx, raw); err != nil {
		t.Fatalf("InsertRaw: %v", err)
	}

	t.Run("RoundTrip", func(t *testing.T) {
		got, err := s.GetRaw(ctx, "scrape-1")
		if err != nil {
			t.Fatalf("GetRaw: %v", err)
		}
		if got.Payload["positionName"] != "Backend Developer" {
			t.Errorf("payload = %v", got.Payload)
		}
		if !got.IsSynthesized("id") {
			t.Errorf("expected id to be recorded as synthesized")
		}
		if !got.CapturedAt.Equal(raw.CapturedAt) {
			t.Errorf("captured_at = %v, want %v", got.CapturedAt, raw.CapturedAt)
		}
	})

	t.Run("DuplicateID", func(t *testing.T) {
		err := s.InsertRaw(ctx, raw)
		if !errors.Is(err, jobs.ErrDuplicate) {
			t.Errorf("expected ErrDuplicate, got %v", err)
		}
	})

	t.Run("Immutable", func(t *testing.T) {
		if _, err := s.db.Exec(`UPDATE raw_scrapes SET source_website = 'x' WHERE scrape_id = 'scrape-1'`); err == nil {
			t.Error("expected update of raw scrape to fail")
		}
	})

	t.Run("Missing", func(t *testing.T) {
		if _, err := s.GetRaw(ctx, "nope"); !errors.Is(err, jobs.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestUpsertCleaned(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	for _, id := range []string{"r1", "r2", "r3", "r4", "r5"} {
		insertRaw(t, s, id)
	}

	first, merged, err := s.UpsertCleaned(ctx, "r1", posting("Developer", "Acme", "ext-1", "d"), 0.8)
	if err != nil || merged {
		t.Fatalf("first upsert: id=%d merged=%v err=%v", first, merged, err)
	}

	t.Run("MergesSameExternalID", func(t *testing.T) {
		id, merged, err := s.UpsertCleaned(ctx, "r2", posting("Developer II", "Acme", "ext-1", "d"), 0.5)
		if err != nil {
			t.Fatalf("UpsertCleaned: %v", err)
		}
		if !merged || id != first {
			t.Fatalf("expected merge into %d, got id=%d merged=%v", first, id, merged)
		}
		c, err := s.GetCleaned(ctx, first)
		if err != nil {
			t.Fatalf("GetCleaned: %v", err)
		}
		if c.DuplicatesCount != 2 {
			t.Errorf("duplicates_count = %d, want 2", c.DuplicatesCount)
		}
		if c.JobTitle != "Developer" {
			t.Errorf("earliest record should win, title = %q", c.JobTitle)
		}
	})

	t.Run("EmptyExternalIDAlwaysCreates", func(t *testing.T) {
		a, mergedA, err := s.UpsertCleaned(ctx, "r3", posting("Cook", "Diner", "", ""), 0.4)
		if err != nil {
			t.Fatalf("UpsertCleaned: %v", err)
		}
		b, mergedB, err := s.UpsertCleaned(ctx, "r4", posting("Cook", "Diner", "", ""), 0.4)
		if err != nil {
			t.Fatalf("UpsertCleaned: %v", err)
		}
		if mergedA || mergedB || a == b {
			t.Errorf("expected two distinct rows, got %d and %d", a, b)
		}
	})

	t.Run("SameScrapeTwice", func(t *testing.T) {
		_, _, err := s.UpsertCleaned(ctx, "r1", posting("Developer", "Acme", "ext-9", "d"), 0.8)
		if !errors.Is(err, jobs.ErrDuplicate) {
			t.Errorf("expected ErrDuplicate, got %v", err)
		}
	})

	t.Run("PendingRawSkipsExamined", func(t *testing.T) {
		if err := s.RecordCleanRejected(ctx, "r5"); err != nil {
			t.Fatalf("RecordCleanRejected: %v", err)
		}
		pending, err := s.PendingRaw(ctx, 10)
		if err != nil {
			t.Fatalf("PendingRaw: %v", err)
		}
		if len(pending) != 0 {
			t.Errorf("expected no pending raw scrapes, got %d", len(pending))
		}
	})

	t.Run("ConfidenceOutOfRangeIsNotDuplicate", func(t *testing.T) {
		insertRaw(t, s, "r6")
		_, _, err := s.UpsertCleaned(ctx, "r6", posting("QA", "Acme", "ext-6", ""), 1.5)
		if err == nil {
			t.Fatal("expected CHECK constraint failure")
		}
		if errors.Is(err, jobs.ErrDuplicate) {
			t.Errorf("CHECK failure must not be reported as duplicate: %v", err)
		}
	})
}

func TestTransferCleaned(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	for _, id := range []string{"r1", "r2", "r3"} {
		insertRaw(t, s, id)
	}

	id1, _, _ := s.UpsertCleaned(ctx, "r1", posting("Developer", "Acme Corp", "a", "Build things"), 0.9)
	id2, _, _ := s.UpsertCleaned(ctx, "r2", posting("developer ", "ACME CORP", "b", "Build things"), 0.9)
	id3, _, _ := s.UpsertCleaned(ctx, "r3", posting("Designer", "acme corp", "c", "Draw things"), 0.9)

	pending, err := s.PendingCleaned(ctx, 10)
	if err != nil {
		t.Fatalf("PendingCleaned: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("expected 3 pending cleaned jobs, got %d", len(pending))
	}

	results := make(map[int64]error)
	for _, c := range pending {
		_, err := s.TransferCleaned(ctx, c)
		results[c.ID] = err
	}

	if results[id1] != nil {
		t.Errorf("first transfer failed: %v", results[id1])
	}
	if !errors.Is(results[id2], jobs.ErrDuplicate) {
		t.Errorf("expected duplicate for same title/company/location, got %v", results[id2])
	}
	if results[id3] != nil {
		t.Errorf("distinct title should transfer, got %v", results[id3])
	}

	counts, err := s.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if counts.PreAnalyzed != 2 {
		t.Errorf("pre_analyzed_count = %d, want 2", counts.PreAnalyzed)
	}
	if counts.Companies != 1 {
		t.Errorf("company_count = %d, want 1 (case-insensitive resolution)", counts.Companies)
	}

	again, err := s.PendingCleaned(ctx, 10)
	if err != nil {
		t.Fatalf("PendingCleaned: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("expected every cleaned job to be examined, %d remain", len(again))
	}
}

func TestResolveCompany(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	tests := []struct {
		name   string
		input  string
		wantID int64
	}{
		{"Create", "Initech", 1},
		{"CaseInsensitive", "INITECH", 1},
		{"WhitespaceCollapsed", "  initech ", 1},
		{"Distinct", "Globex", 2},
		{"EmptyBecomesUnknown", "", 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := s.ResolveCompany(ctx, tt.input)
			if err != nil {
				t.Fatalf("ResolveCompany: %v", err)
			}
			if c.ID != tt.wantID {
				t.Errorf("ResolveCompany(%q) id = %d, want %d", tt.input, c.ID, tt.wantID)
			}
		})
	}
}

// seedPreAnalyzed creates one pre-analyzed job per posting and returns their keys.
func seedPreAnalyzed(t *testing.T, s *SQLiteStore, step func(time.Duration), postings ...*jobs.Posting) []string {
	t.Helper()
	ctx := context.Background()
	var keys []string
	for i, p := range postings {
		rawID := "seed-" + string(rune('a'+i))
		insertRaw(t, s, rawID)
		cid, _, err := s.UpsertCleaned(ctx, rawID, p, 0.9)
		if err != nil {
			t.Fatalf("UpsertCleaned: %v", err)
		}
		c, err := s.GetCleaned(ctx, cid)
		if err != nil {
			t.Fatalf("GetCleaned: %v", err)
		}
		if _, err := s.TransferCleaned(ctx, c); err != nil {
			t.Fatalf("TransferCleaned: %v", err)
		}
		keys = append(keys, jobs.PreAnalysisKeyFor(p))
		step(time.Second)
	}
	return keys
}

func TestClaimForAnalysis(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	step := advance(s, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))

	keys := seedPreAnalyzed(t, s, step,
		posting("Developer", "Acme", "1", "Write Go"),
		posting("Designer", "Acme", "2", "Draw"),
		posting("Analyst", "Acme", "3", ""), // no description
		posting("Manager", "Acme", "4", "Manage"),
	)
	if err := s.SetActive(ctx, keys[3], false); err != nil {
		t.Fatalf("SetActive: %v", err)
	}

	claimed, err := s.ClaimForAnalysis(ctx, 10)
	if err != nil {
		t.Fatalf("ClaimForAnalysis: %v", err)
	}
	if len(claimed) != 2 {
		t.Fatalf("expected 2 eligible rows, got %d", len(claimed))
	}
	if claimed[0].JobTitle != "Designer" || claimed[1].JobTitle != "Developer" {
		t.Errorf("expected newest first, got %q then %q", claimed[0].JobTitle, claimed[1].JobTitle)
	}
	for _, c := range claimed {
		if !c.QueuedForAnalysis || c.QueuedAt == nil {
			t.Errorf("%s should be queued with a timestamp", c.JobTitle)
		}
	}

	t.Run("AlreadyQueuedNotReselected", func(t *testing.T) {
		again, err := s.ClaimForAnalysis(ctx, 10)
		if err != nil {
			t.Fatalf("ClaimForAnalysis: %v", err)
		}
		if len(again) != 0 {
			t.Errorf("expected nothing left to claim, got %d", len(again))
		}
	})

	t.Run("ReleaseQueued", func(t *testing.T) {
		n, err := s.ReleaseQueued(ctx, []string{claimed[0].DedupKeyPre})
		if err != nil {
			t.Fatalf("ReleaseQueued: %v", err)
		}
		if n != 1 {
			t.Errorf("released %d rows, want 1", n)
		}
		again, err := s.ClaimForAnalysis(ctx, 10)
		if err != nil {
			t.Fatalf("ClaimForAnalysis: %v", err)
		}
		if len(again) != 1 || again[0].DedupKeyPre != claimed[0].DedupKeyPre {
			t.Errorf("expected the released row to be claimable again")
		}
	})

	t.Run("ReleaseStaleQueued", func(t *testing.T) {
		step(2 * time.Hour)
		n, err := s.ReleaseStaleQueued(ctx, time.Hour)
		if err != nil {
			t.Fatalf("ReleaseStaleQueued: %v", err)
		}
		if n != 2 {
			t.Errorf("released %d stale rows, want 2", n)
		}
	})
}

func TestCommitAnalysis(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	step := advance(s, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))

	regina := posting("Developer", "Acme", "2", "Write Go in Regina")
	regina.Location = jobs.Location{City: "Regina", Province: "SK", Country: "Canada"}
	// Same title and company in another city: distinct before analysis,
	// identical once the industry is known.
	keys := seedPreAnalyzed(t, s, step, posting("Developer", "Acme", "1", "Write Go"), regina)
	if keys[0] == keys[1] {
		t.Fatal("seed postings unexpectedly share a pre-analysis key")
	}
	if _, err := s.ClaimForAnalysis(ctx, 10); err != nil {
		t.Fatalf("ClaimForAnalysis: %v", err)
	}

	result := func(key, industry string) *jobs.AnalysisResult {
		return &jobs.AnalysisResult{
			DedupKeyPre: key,
			AnalyzerResponse: jobs.AnalyzerResponse{
				PrimaryIndustry:     industry,
				SecondaryIndustries: []string{"Software"},
				SeniorityLevel:      "mid",
				AuthenticityScore:   0.9,
				SkillsAnalysis:      json.RawMessage(`{"required":["go"]}`),
				ModelUsed:           "test-model",
				TokensUsed:          42,
			},
		}
	}

	id, err := s.CommitAnalysis(ctx, result(keys[0], "Technology"))
	if err != nil {
		t.Fatalf("CommitAnalysis: %v", err)
	}
	if id == 0 {
		t.Fatal("expected analyzed row id")
	}

	t.Run("SourceMarkedProcessed", func(t *testing.T) {
		p, err := s.GetPreAnalyzedByKey(ctx, keys[0])
		if err != nil {
			t.Fatalf("GetPreAnalyzedByKey: %v", err)
		}
		if p.ProcessedAt == nil || p.QueuedForAnalysis {
			t.Errorf("expected processed and un-queued, got processed=%v queued=%v", p.ProcessedAt, p.QueuedForAnalysis)
		}
	})

	t.Run("DuplicateAnalysisKey", func(t *testing.T) {
		_, err := s.CommitAnalysis(ctx, result(keys[1], "technology"))
		if !errors.Is(err, jobs.ErrDuplicate) {
			t.Fatalf("expected ErrDuplicate, got %v", err)
		}
		p, err := s.GetPreAnalyzedByKey(ctx, keys[1])
		if err != nil {
			t.Fatalf("GetPreAnalyzedByKey: %v", err)
		}
		if p.ProcessedAt == nil {
			t.Error("duplicate source should still be marked processed")
		}
	})

	t.Run("AlreadyProcessed", func(t *testing.T) {
		_, err := s.CommitAnalysis(ctx, result(keys[0], "Finance"))
		if !errors.Is(err, jobs.ErrDuplicate) {
			t.Errorf("expected ErrDuplicate, got %v", err)
		}
	})

	t.Run("OrphanedKey", func(t *testing.T) {
		_, err := s.CommitAnalysis(ctx, result("missing", "Technology"))
		if !errors.Is(err, jobs.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("AnalyzedDefaults", func(t *testing.T) {
		list, err := s.ListAnalyzed(ctx, 10)
		if err != nil {
			t.Fatalf("ListAnalyzed: %v", err)
		}
		if len(list) != 1 {
			t.Fatalf("expected 1 analyzed job, got %d", len(list))
		}
		a := list[0]
		if a.ApplicationStatus != jobs.StatusNotApplied || !a.EligibilityFlag {
			t.Errorf("unexpected defaults: status=%s eligible=%v", a.ApplicationStatus, a.EligibilityFlag)
		}
		if a.JobTitle != "Developer" || a.Location.City != "Toronto" {
			t.Errorf("posting fields not carried over: %+v", a.Posting)
		}
		if len(a.SecondaryIndustries) != 1 || a.TokensUsed != 42 {
			t.Errorf("AI fields not stored: %+v", a.AIFields)
		}
		if err := s.UpdateApplicationStatus(ctx, a.ID, jobs.StatusApplied); err != nil {
			t.Errorf("UpdateApplicationStatus: %v", err)
		}
	})

	t.Run("Counts", func(t *testing.T) {
		c, err := s.Counts(ctx)
		if err != nil {
			t.Fatalf("Counts: %v", err)
		}
		want := jobs.Counts{
			Raw: 2, Cleaned: 2, PreAnalyzed: 2, PreAnalyzedQueued: 0,
			PreAnalyzedProcessed: 2, Analyzed: 1, AnalysisCompleted: 1, Companies: 1,
		}
		if *c != want {
			t.Errorf("Counts = %+v, want %+v", *c, want)
		}
	})
}

func TestMeta(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if v, err := s.GetMeta(ctx, "last_run.clean"); err != nil || v != "" {
		t.Fatalf("GetMeta on empty store = %q, %v", v, err)
	}
	if err := s.SetMeta(ctx, "last_run.clean", "2025-06-01T00:00:00Z"); err != nil {
		t.Fatalf("SetMeta: %v", err)
	}
	if err := s.SetMeta(ctx, "other", "x"); err != nil {
		t.Fatalf("SetMeta: %v", err)
	}
	m, err := s.ListMeta(ctx, "last_run.")
	if err != nil {
		t.Fatalf("ListMeta: %v", err)
	}
	if len(m) != 1 || m["last_run.clean"] != "2025-06-01T00:00:00Z" {
		t.Errorf("ListMeta = %v", m)
	}
}
