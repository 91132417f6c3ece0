package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/masahif/jobforge/internal/jobs"
	"github.com/masahif/jobforge/internal/logging"
	"github.com/masahif/jobforge/internal/pipeline"
	"github.com/masahif/jobforge/internal/scheduler"
)

// errStagesFailed is returned by run when at least one stage did not succeed.
var errStagesFailed = errors.New("one or more stages failed")

func addCommands(root *cobra.Command) {
	ingestCmd := &cobra.Command{
		Use:   "ingest",
		Short: "Store scrape payloads (JSON object or array) as raw scrapes",
		Args:  cobra.NoArgs,
		RunE:  runIngest,
	}
	ingestCmd.Flags().StringP("file", "f", "-", "JSON input file, - for stdin")

	stageCmds := []struct {
		stage string
		short string
	}{
		{pipeline.StageClean, "Normalize and deduplicate pending raw scrapes"},
		{pipeline.StageTransfer, "Promote cleaned jobs to the pre-analysis stage"},
		{pipeline.StageAnalyze, "Send a redacted batch to the analyzer and merge the results"},
	}
	for _, sc := range stageCmds {
		stage := sc.stage
		c := &cobra.Command{
			Use:   stage,
			Short: sc.short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runStage(cmd, stage)
			},
		}
		if stage == pipeline.StageAnalyze {
			c.Flags().String("model", "", "Analyzer model (default from config)")
		}
		root.AddCommand(c)
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run clean, transfer and analyze once, in order",
		Args:  cobra.NoArgs,
		RunE:  runAll,
	}
	runCmd.Flags().String("model", "", "Analyzer model (default from config)")

	scheduleCmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run the full pipeline on a cron schedule until interrupted",
		Args:  cobra.NoArgs,
		RunE:  runSchedule,
	}
	scheduleCmd.Flags().String("schedule", "", "Cron spec, e.g. \"@every 30m\" or \"0 * * * *\"")
	scheduleCmd.Flags().String("model", "", "Analyzer model (default from config)")

	releaseCmd := &cobra.Command{
		Use:   "release-stale",
		Short: "Un-queue rows stuck in the analysis queue",
		Args:  cobra.NoArgs,
		RunE:  runReleaseStale,
	}
	releaseCmd.Flags().Duration("stale-timeout", 0, "Release rows queued longer than this (default from config)")

	statusCmd := &cobra.Command{
		Use:   "status <analyzed-id> <status>",
		Short: "Set the application status of an analyzed job",
		Args:  cobra.ExactArgs(2),
		RunE:  runSetStatus,
	}

	activeCmds := []*cobra.Command{
		{
			Use:   "activate <pre-analysis-key>",
			Short: "Make a pre-analyzed job eligible for analysis again",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runSetActive(cmd, args[0], true)
			},
		},
		{
			Use:   "deactivate <pre-analysis-key>",
			Short: "Exclude a pre-analyzed job from analysis",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runSetActive(cmd, args[0], false)
			},
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List the most recently analyzed jobs",
		Args:  cobra.NoArgs,
		RunE:  runList,
	}
	listCmd.Flags().IntP("limit", "l", 20, "Maximum rows to list")

	root.AddCommand(
		ingestCmd,
		runCmd,
		scheduleCmd,
		releaseCmd,
		statusCmd,
		activeCmds[0],
		activeCmds[1],
		listCmd,
		&cobra.Command{
			Use:   "stats",
			Short: "Print per-stage counts and conversion rates",
			Args:  cobra.NoArgs,
			RunE:  runStats,
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply pending schema migrations and list the applied ones",
			Args:  cobra.NoArgs,
			RunE:  runMigrate,
		},
	)
}

// openApp loads configuration for cmd and wires the shared components.
func openApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return newApp(cmd.Context(), cfg)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// decodeIngestRequests accepts a single JSON object or an array of them.
// Numbers are decoded as json.Number so large integer ids keep every digit.
// A null array entry stays nil and is rejected by the ingester.
func decodeIngestRequests(r io.Reader) ([]*jobs.IngestRequest, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	if data[0] == '[' {
		var reqs []*jobs.IngestRequest
		if err := dec.Decode(&reqs); err != nil {
			return nil, fmt.Errorf("failed to decode input: %w", err)
		}
		return reqs, nil
	}

	var req jobs.IngestRequest
	if err := dec.Decode(&req); err != nil {
		return nil, fmt.Errorf("failed to decode input: %w", err)
	}
	return []*jobs.IngestRequest{&req}, nil
}

func runIngest(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Flags().GetString("file")

	var in io.Reader = cmd.InOrStdin()
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open input: %w", err)
		}
		defer func() { _ = f.Close() }()
		in = f
	}

	reqs, err := decodeIngestRequests(in)
	if err != nil {
		return err
	}

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	return writeJSON(cmd.OutOrStdout(), a.ingester().IngestAll(cmd.Context(), reqs))
}

func runStage(cmd *cobra.Command, stage string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	res, err := a.runner().RunStage(cmd.Context(), stage)
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), res)
}

func runAll(cmd *cobra.Command, _ []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	results := a.runner().RunAll(cmd.Context())
	if err := writeJSON(cmd.OutOrStdout(), results); err != nil {
		return err
	}
	for _, r := range results {
		if !r.Success {
			return errStagesFailed
		}
	}
	return nil
}

func runSchedule(cmd *cobra.Command, _ []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	runner := a.runner()
	s, err := scheduler.New(a.cfg.Schedule, func(ctx context.Context) {
		for _, r := range runner.RunAll(ctx) {
			if !r.Success {
				a.logger.Warn("Scheduled stage did not succeed", "stage", r.Stage, "message", r.Message)
			}
		}
	}, logging.Component(a.logger, "scheduler"))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.logger.Info("Scheduler started", "schedule", a.cfg.Schedule)
	return s.Run(ctx)
}

func runReleaseStale(cmd *cobra.Command, _ []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if a.cfg.StaleQueueTimeout <= 0 {
		return fmt.Errorf("stale_queue_timeout must be greater than 0 to release rows")
	}
	n, err := a.store.ReleaseStaleQueued(cmd.Context(), a.cfg.StaleQueueTimeout)
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), map[string]any{
		"released":   n,
		"older_than": a.cfg.StaleQueueTimeout.String(),
	})
}

func runStats(cmd *cobra.Command, _ []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	stats, err := pipeline.Stats(cmd.Context(), a.store)
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), stats)
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	applied, err := a.store.AppliedMigrations(cmd.Context())
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), applied)
}

func runSetStatus(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid analyzed job id %q: %w", args[0], err)
	}
	status, err := jobs.ParseApplicationStatus(args[1])
	if err != nil {
		return err
	}

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if err := a.store.UpdateApplicationStatus(cmd.Context(), id, status); err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), map[string]any{
		"id":                 id,
		"application_status": status,
		"updated_at":         time.Now().UTC().Format(time.RFC3339),
	})
}

func runSetActive(cmd *cobra.Command, key string, active bool) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if err := a.store.SetActive(cmd.Context(), key, active); err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), map[string]any{
		"dedup_key_pre": key,
		"is_active":     active,
	})
}

// listedJob is the list command's view of an analyzed job.
type listedJob struct {
	ID                int64                  `json:"id"`
	JobTitle          string                 `json:"job_title"`
	CompanyName       string                 `json:"company_name"`
	Location          jobs.Location          `json:"location"`
	PrimaryIndustry   string                 `json:"primary_industry"`
	SeniorityLevel    string                 `json:"seniority_level,omitempty"`
	AuthenticityScore float64                `json:"authenticity_score"`
	ApplicationStatus jobs.ApplicationStatus `json:"application_status"`
	AnalysisDate      time.Time              `json:"analysis_date"`
}

func runList(cmd *cobra.Command, _ []string) error {
	limit, _ := cmd.Flags().GetInt("limit")

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	rows, err := a.store.ListAnalyzed(cmd.Context(), limit)
	if err != nil {
		return err
	}
	out := make([]listedJob, 0, len(rows))
	for _, r := range rows {
		out = append(out, listedJob{
			ID:                r.ID,
			JobTitle:          r.JobTitle,
			CompanyName:       r.CompanyName,
			Location:          r.Location,
			PrimaryIndustry:   r.PrimaryIndustry,
			SeniorityLevel:    r.SeniorityLevel,
			AuthenticityScore: r.AuthenticityScore,
			ApplicationStatus: r.ApplicationStatus,
			AnalysisDate:      r.AnalysisDate,
		})
	}
	return writeJSON(cmd.OutOrStdout(), out)
}
