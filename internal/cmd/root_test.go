package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/masahif/jobforge/internal/config"
	"github.com/masahif/jobforge/internal/jobs"
	"github.com/masahif/jobforge/internal/pipeline"
	"github.com/masahif/jobforge/internal/storage"
)

type fakeAnalyzer struct{}

func (fakeAnalyzer) Analyze(_ context.Context, reqs []jobs.AnalyzerRequest) ([]jobs.AnalyzerResponse, error) {
	out := make([]jobs.AnalyzerResponse, len(reqs))
	for i := range reqs {
		out[i] = jobs.AnalyzerResponse{
			PrimaryIndustry:   "Technology",
			SeniorityLevel:    "senior",
			AuthenticityScore: 0.9,
			SkillsAnalysis:    json.RawMessage(`{"required":["go","sql"]}`),
			ModelUsed:         "fake",
		}
	}
	return out, nil
}

// useAnalyzer swaps the analyzer factory for the duration of the test.
func useAnalyzer(t *testing.T, a pipeline.Analyzer) {
	t.Helper()
	orig := newAnalyzer
	newAnalyzer = func(*config.Config, *slog.Logger) pipeline.Analyzer { return a }
	t.Cleanup(func() { newAnalyzer = orig })
}

// execute runs the root command with args and returns what it printed.
func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(append(args, "--log-level", "error"))
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetIn(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func decodeResult(t *testing.T, out string) jobs.BatchResult {
	t.Helper()
	var res jobs.BatchResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("output is not a batch result: %v\n%s", err, out)
	}
	return res
}

const ingestInput = `[
  {"source_website": "indeed", "source_url": "https://ca.indeed.com/viewjob?jk=1",
   "raw_data": {"id": "abc-1", "positionName": "Go Developer", "company": "Acme",
                "location": "Toronto, ON", "description": "Build services in Go."}},
  {"source_website": "indeed", "source_url": "https://ca.indeed.com/viewjob?jk=1",
   "raw_data": {"id": "abc-1", "positionName": "Go Developer", "company": "Acme",
                "location": "Toronto, ON", "description": "Build services in Go."}},
  {"source_website": "indeed", "source_url": "https://ca.indeed.com/viewjob?jk=2",
   "raw_data": {"id": "abc-2", "positionName": "Python Developer", "company": "Acme",
                "location": "Toronto, ON", "description": "Build data tools."}}
]`

func TestSetVersionInfo(t *testing.T) {
	SetVersionInfo("1.2.3", "2025-01-01T10:00:00Z")

	expected := "1.2.3 (built 2025-01-01T10:00:00Z)"
	if rootCmd.Version != expected {
		t.Errorf("Expected version %s, got %s", expected, rootCmd.Version)
	}
}

func TestRootCmd(t *testing.T) {
	if rootCmd.Use != "jobforge" {
		t.Errorf("Expected use 'jobforge', got %s", rootCmd.Use)
	}

	want := []string{"ingest", "clean", "transfer", "analyze", "run", "stats",
		"release-stale", "migrate", "schedule", "status", "activate", "deactivate", "list"}
	for _, name := range want {
		found := false
		for _, c := range rootCmd.Commands() {
			if c.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("Expected subcommand %s", name)
		}
	}
}

func TestFlagBinding(t *testing.T) {
	persistent := rootCmd.PersistentFlags()
	for _, name := range []string{"config", "env-file", "database", "redis-url", "log-level",
		"log-file", "clean-size", "transfer-size", "queue-size"} {
		if persistent.Lookup(name) == nil {
			t.Errorf("Expected persistent flag %s to be defined", name)
		}
	}

	if rootCmd.Flags().Lookup("show-config") == nil {
		t.Error("Expected flag 'show-config' to be defined")
	}
}

func TestLoadConfigPrecedence(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "jobforge.yml")
	content := `
database_path: from-file.db
batch:
  clean_size: 11
  transfer_size: 12
analyzer:
  timeout: 45s
schedule: "@every 10m"
`
	if err := os.WriteFile(cfgPath, []byte(content), 0600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	origCfg, origEnv := cfgFile, envFile
	cfgFile, envFile = cfgPath, ""
	defer func() { cfgFile, envFile = origCfg, origEnv }()

	t.Setenv("JF_BATCH_TRANSFER_SIZE", "13")
	t.Setenv("JF_SCHEDULE", "@every 20m")

	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("database", "./jobforge.db", "")
	cmd.Flags().Int("clean-size", 500, "")
	cmd.Flags().String("schedule", "", "")
	if err := cmd.ParseFlags([]string{"--database", "flag.db"}); err != nil {
		t.Fatalf("ParseFlags: %v", err)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"flag beats file", cfg.DatabasePath, "flag.db"},
		{"file beats default", cfg.Batch.CleanSize, 11},
		{"env beats file", cfg.Batch.TransferSize, 13},
		{"env beats unset flag", cfg.Schedule, "@every 20m"},
		{"duration from file", cfg.Analyzer.Timeout, 45 * time.Second},
		{"default kept", cfg.Batch.QueueSize, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	origCfg, origEnv := cfgFile, envFile
	cfgFile, envFile = filepath.Join(t.TempDir(), "nope.yml"), ""
	defer func() { cfgFile, envFile = origCfg, origEnv }()

	if _, err := loadConfig(&cobra.Command{Use: "test"}); err == nil {
		t.Error("expected an error for a missing --config file")
	}
}

func TestLoadDotEnv(t *testing.T) {
	if _, set := os.LookupEnv("JF_LOG_MAX_BACKUPS"); set {
		t.Skip("JF_LOG_MAX_BACKUPS already set in the environment")
	}
	t.Cleanup(func() { _ = os.Unsetenv("JF_LOG_MAX_BACKUPS") })

	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("JF_LOG_MAX_BACKUPS=9\n"), 0600); err != nil {
		t.Fatalf("Failed to write .env: %v", err)
	}

	origCfg, origEnv := cfgFile, envFile
	cfgFile, envFile = "", path
	defer func() { cfgFile, envFile = origCfg, origEnv }()

	cfg, err := loadConfig(&cobra.Command{Use: "test"})
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Log.MaxBackups != 9 {
		t.Errorf("MaxBackups = %d, want 9 from .env", cfg.Log.MaxBackups)
	}

	if err := loadDotEnv(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Errorf("missing .env should be ignored, got %v", err)
	}
}

func TestShowCurrentConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Analyzer.APIKey = "sk-ant-very-secret"

	var out bytes.Buffer
	if err := showCurrentConfig(&out, cfg); err != nil {
		t.Fatalf("showCurrentConfig: %v", err)
	}

	text := out.String()
	if strings.Contains(text, "sk-ant-very-secret") {
		t.Error("API key leaked into show-config output")
	}
	for _, want := range []string{"database_path:", "queue_size: 10", "JF_"} {
		if !strings.Contains(text, want) {
			t.Errorf("show-config output missing %q", want)
		}
	}

	if err := showCurrentConfig(&out, nil); err == nil {
		t.Error("expected an error for nil config")
	}
}

func TestDecodeIngestRequests(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int
		wantErr bool
	}{
		{"array", ingestInput, 3, false},
		{"single object", `{"source_website":"indeed","raw_data":{"id":"1"}}`, 1, false},
		{"empty", "  \n", 0, false},
		{"malformed", `[{"source_website":`, 0, true},
		{"null entry", "[null]", 1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reqs, err := decodeIngestRequests(strings.NewReader(tt.input))
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if len(reqs) != tt.want {
				t.Errorf("decoded %d requests, want %d", len(reqs), tt.want)
			}
		})
	}
}

func TestDecodeIngestRequestsKeepsLargeIDs(t *testing.T) {
	reqs, err := decodeIngestRequests(strings.NewReader(
		`[{"source_website":"indeed","raw_data":{"id":9007199254740993,"positionName":"Backend Developer"}},
		  {"source_website":"indeed","raw_data":{"id":9007199254740992,"positionName":"Data Analyst"}}]`))
	if err != nil {
		t.Fatalf("decodeIngestRequests: %v", err)
	}
	want := []string{"9007199254740993", "9007199254740992"}
	for i, w := range want {
		id, ok := reqs[i].RawData["id"].(json.Number)
		if !ok {
			t.Fatalf("request %d id is %T, want json.Number", i, reqs[i].RawData["id"])
		}
		if id.String() != w {
			t.Errorf("request %d id = %s, want %s", i, id, w)
		}
	}
}

func TestIngestNullEntry(t *testing.T) {
	db := filepath.Join(t.TempDir(), "null.db")

	input := `[null, {"source_website":"indeed","raw_data":{"id":"n-1","positionName":"Go Developer","company":"Acme"}}]`
	out, err := execute(t, input, "ingest", "--database", db)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	res := decodeResult(t, out)
	if res.Total != 2 || res.Created != 1 || res.Rejected != 1 {
		t.Errorf("ingest result = %+v, want 1 created and 1 rejected", res)
	}
}

func TestPipelineCommands(t *testing.T) {
	useAnalyzer(t, fakeAnalyzer{})
	db := filepath.Join(t.TempDir(), "cli.db")

	out, err := execute(t, ingestInput, "ingest", "--file", "-", "--database", db)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if res := decodeResult(t, out); res.Total != 3 || res.Created != 3 {
		t.Errorf("ingest result = %+v, want 3 created", res)
	}

	out, err = execute(t, "", "clean", "--database", db)
	if err != nil {
		t.Fatalf("clean: %v", err)
	}
	if res := decodeResult(t, out); res.Created != 2 || res.Merged != 1 {
		t.Errorf("clean result = %+v, want 2 created and 1 merged", res)
	}

	out, err = execute(t, "", "transfer", "--database", db)
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if res := decodeResult(t, out); res.Created != 2 {
		t.Errorf("transfer result = %+v, want 2 created", res)
	}

	out, err = execute(t, "", "analyze", "--database", db)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if res := decodeResult(t, out); !res.Success || res.Created != 2 {
		t.Errorf("analyze result = %+v, want 2 created", res)
	}

	out, err = execute(t, "", "stats", "--database", db)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	var stats jobs.Stats
	if err := json.Unmarshal([]byte(out), &stats); err != nil {
		t.Fatalf("stats output: %v", err)
	}
	if stats.Raw != 3 || stats.Cleaned != 2 || stats.Analyzed != 2 || stats.AnalysisCompleted != 2 {
		t.Errorf("unexpected stats: %+v", stats.Counts)
	}
	if _, ok := stats.LastRuns[pipeline.StageAnalyze]; !ok {
		t.Errorf("last run of analyze not recorded: %v", stats.LastRuns)
	}

	out, err = execute(t, "", "list", "--database", db)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var listed []listedJob
	if err := json.Unmarshal([]byte(out), &listed); err != nil {
		t.Fatalf("list output: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("listed %d jobs, want 2", len(listed))
	}

	id := strconv.FormatInt(listed[0].ID, 10)
	if _, err := execute(t, "", "status", id, "applied", "--database", db); err != nil {
		t.Fatalf("status: %v", err)
	}
	if _, err := execute(t, "", "status", id, "ghosted", "--database", db); err == nil {
		t.Error("expected an error for an unknown status")
	}
	if _, err := execute(t, "", "status", "999999", "applied", "--database", db); !errors.Is(err, jobs.ErrNotFound) {
		t.Errorf("status on missing id: err = %v, want ErrNotFound", err)
	}
}

func TestActivateCommands(t *testing.T) {
	useAnalyzer(t, fakeAnalyzer{})
	ctx := context.Background()
	db := filepath.Join(t.TempDir(), "active.db")

	for _, args := range [][]string{{"ingest"}, {"clean"}, {"transfer"}} {
		if _, err := execute(t, ingestInput, append(args, "--database", db)...); err != nil {
			t.Fatalf("%s: %v", args[0], err)
		}
	}

	store, err := storage.NewSQLiteStore(db)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer func() { _ = store.Close() }()

	cleaned, err := store.GetCleaned(ctx, 1)
	if err != nil {
		t.Fatalf("GetCleaned: %v", err)
	}
	key := jobs.PreAnalysisKeyFor(&cleaned.Posting)

	out, err := execute(t, "", "deactivate", key, "--database", db)
	if err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	var toggled struct {
		Key      string `json:"dedup_key_pre"`
		IsActive bool   `json:"is_active"`
	}
	if err := json.Unmarshal([]byte(out), &toggled); err != nil {
		t.Fatalf("deactivate output: %v", err)
	}
	if toggled.Key != key || toggled.IsActive {
		t.Errorf("deactivate output = %+v", toggled)
	}

	out, err = execute(t, "", "analyze", "--database", db)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if res := decodeResult(t, out); res.Created != 1 {
		t.Errorf("analyze result = %+v, want only the active job analyzed", res)
	}
	p, err := store.GetPreAnalyzedByKey(ctx, key)
	if err != nil {
		t.Fatalf("GetPreAnalyzedByKey: %v", err)
	}
	if p.IsActive || p.ProcessedAt != nil {
		t.Errorf("inactive job was touched: active=%v processed=%v", p.IsActive, p.ProcessedAt)
	}

	if _, err := execute(t, "", "activate", key, "--database", db); err != nil {
		t.Fatalf("activate: %v", err)
	}
	out, err = execute(t, "", "analyze", "--database", db)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if res := decodeResult(t, out); res.Created != 1 {
		t.Errorf("analyze after activate = %+v, want 1 created", res)
	}

	if _, err := execute(t, "", "deactivate", "no-such-key", "--database", db); !errors.Is(err, jobs.ErrNotFound) {
		t.Errorf("deactivate unknown key: err = %v, want ErrNotFound", err)
	}
}

func TestRunWithoutAnalyzer(t *testing.T) {
	useAnalyzer(t, nil)
	db := filepath.Join(t.TempDir(), "run.db")

	out, err := execute(t, "", "run", "--database", db)
	if !errors.Is(err, errStagesFailed) {
		t.Fatalf("run err = %v, want errStagesFailed", err)
	}

	var results []jobs.BatchResult
	if err := json.Unmarshal([]byte(out), &results); err != nil {
		t.Fatalf("run output: %v\n%s", err, out)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	if !results[0].Success || !results[1].Success {
		t.Errorf("clean and transfer should succeed on an empty store: %+v", results[:2])
	}
	if results[2].Success {
		t.Error("analyze should fail without an analyzer")
	}
}

func TestMigrateCommand(t *testing.T) {
	db := filepath.Join(t.TempDir(), "migrate.db")

	out, err := execute(t, "", "migrate", "--database", db)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	var applied []struct {
		Version int `json:"version"`
	}
	if err := json.Unmarshal([]byte(out), &applied); err != nil {
		t.Fatalf("migrate output: %v", err)
	}
	if len(applied) == 0 || applied[len(applied)-1].Version < 1 {
		t.Errorf("unexpected applied migrations: %s", out)
	}
}

func TestReleaseStaleCommand(t *testing.T) {
	db := filepath.Join(t.TempDir(), "release.db")

	out, err := execute(t, "", "release-stale", "--database", db, "--stale-timeout", "1m")
	if err != nil {
		t.Fatalf("release-stale: %v", err)
	}
	var res struct {
		Released  int64  `json:"released"`
		OlderThan string `json:"older_than"`
	}
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("release-stale output: %v", err)
	}
	if res.Released != 0 || res.OlderThan != "1m0s" {
		t.Errorf("unexpected release result: %+v", res)
	}
}

func TestInvalidConfigRejected(t *testing.T) {
	db := filepath.Join(t.TempDir(), "bad.db")
	_, err := execute(t, "", "stats", "--database", db, "--queue-size", "0")
	if !errors.Is(err, config.ErrInvalidBatchSize) {
		t.Errorf("err = %v, want ErrInvalidBatchSize", err)
	}
	// reset the sticky flag value for later tests
	_ = rootCmd.PersistentFlags().Set("queue-size", "10")
}
