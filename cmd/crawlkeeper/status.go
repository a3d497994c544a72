package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/nao1215/crawlkeeper/internal/config"
	"github.com/nao1215/crawlkeeper/internal/report"
	"github.com/spf13/cobra"
)

// errNoState is returned when a job has never been crawled.
var errNoState = errors.New("no frontier state")

// NewStatusCmd creates the status command.
func NewStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the frontier state of crawl jobs",
		Long: `Status opens the frontier of one or more jobs and prints how many URLs are
queued, completed, failed and abandoned. Jobs are not crawled.

Examples:
  # Status of the "default" job
  crawlkeeper status

  # Status of every configured job as Markdown
  crawlkeeper status --all --markdown

  # Status of a frontier outside the XDG data directory
  crawlkeeper status --name docs --state-dir ./state --backend sqlite`,
		Args: cobra.NoArgs,
		RunE: runStatusCmd,
	}

	cmd.Flags().StringSliceP("job", "j", nil, "Show the named job from the configuration file (repeatable)")
	cmd.Flags().BoolP("all", "a", false, "Show every job in the configuration file")
	cmd.Flags().StringP("name", "n", config.DefaultJobName, "Job name when --job and --all are not given")
	cmd.Flags().String("state-dir", "", "Directory holding the frontier files")
	cmd.Flags().String("backend", config.DefaultBackend, "Frontier backend: log or sqlite")
	cmd.Flags().Int("max-failures", config.DefaultMaxFailures, "Failures after which a URL counts as abandoned")

	cmd.Flags().BoolP("markdown", "m", false, "Output Markdown (mutually exclusive with --json)")
	cmd.Flags().Bool("json", false, "Output JSON (mutually exclusive with --markdown)")
	cmd.MarkFlagsMutuallyExclusive("markdown", "json")

	return cmd
}

// runStatusCmd executes the status command.
func runStatusCmd(cmd *cobra.Command, _ []string) error {
	file, err := loadConfig(getStringFlag(cmd, "config"))
	if err != nil {
		return err
	}
	jobs, err := statusJobs(cmd, file)
	if err != nil {
		return err
	}

	logger := setupLogger(cmd)
	statuses := make([]*report.JobStatus, 0, len(jobs))
	for _, job := range jobs {
		status, err := jobStatus(cmd.Context(), job, logger)
		if err != nil {
			return err
		}
		statuses = append(statuses, status)
	}

	w, err := statusWriter(cmd)
	if err != nil {
		return err
	}
	_, err = w.Write(report.NewReport(statuses...))
	return err
}

// statusJobs resolves the jobs selected by the flags.
func statusJobs(cmd *cobra.Command, file *config.File) ([]*config.Job, error) {
	flags := cmd.Flags()

	names, err := flags.GetStringSlice("job")
	if err != nil {
		return nil, err
	}
	all, err := flags.GetBool("all")
	if err != nil {
		return nil, err
	}
	if all {
		names = file.JobNames()
		if len(names) == 0 {
			return nil, config.ErrNoJob
		}
	}
	if len(names) == 0 {
		name, err := flags.GetString("name")
		if err != nil {
			return nil, err
		}
		job, err := adHocJob(file, name, nil)
		if err != nil {
			return nil, err
		}
		return []*config.Job{job}, applyStatusFlags(cmd, job)
	}

	jobs := make([]*config.Job, 0, len(names))
	for _, name := range names {
		job, err := file.Job(name)
		if err != nil {
			return nil, err
		}
		if err := applyStatusFlags(cmd, job); err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// applyStatusFlags overrides where and how a job's frontier is read.
func applyStatusFlags(cmd *cobra.Command, job *config.Job) error {
	flags := cmd.Flags()
	var err error
	if flags.Changed("state-dir") {
		if job.StateDir, err = flags.GetString("state-dir"); err != nil {
			return err
		}
	}
	if flags.Changed("backend") {
		if job.Backend, err = flags.GetString("backend"); err != nil {
			return err
		}
	}
	if flags.Changed("max-failures") {
		if job.MaxFailures, err = flags.GetInt("max-failures"); err != nil {
			return err
		}
	}
	return nil
}

// jobStatus reads the frontier counters of a job without crawling it.
func jobStatus(ctx context.Context, job *config.Job, logger *slog.Logger) (*report.JobStatus, error) {
	if _, err := os.Stat(job.StateDir); errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: job %s has no state in %s", errNoState, job.Name, job.StateDir)
	}

	f, err := openFrontier(job, logger)
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", job.Name, err)
	}
	defer f.Close()

	stats, err := f.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", job.Name, err)
	}
	finished, err := f.IsFinished(ctx)
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", job.Name, err)
	}

	return &report.JobStatus{
		Job:      job.Name,
		Backend:  job.Backend,
		StateDir: job.StateDir,
		Stats:    stats,
		Finished: finished,
	}, nil
}

// statusWriter picks the report format from the flags.
func statusWriter(cmd *cobra.Command) (report.Writer, error) {
	markdown, err := cmd.Flags().GetBool("markdown")
	if err != nil {
		return nil, err
	}
	jsonOut, err := cmd.Flags().GetBool("json")
	if err != nil {
		return nil, err
	}

	out := cmd.OutOrStdout()
	switch {
	case jsonOut:
		return report.NewJSONWriter(out, report.WithPrettyPrint()), nil
	case markdown:
		return report.NewMarkdownWriter(out), nil
	default:
		return report.NewSimpleWriter(out, report.WithShowEmpty(true)), nil
	}
}
