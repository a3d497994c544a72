package batch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/nao1215/crawlkeeper/internal/frontier"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency is the number of jobs run at once when unset.
const DefaultConcurrency = 1

// Job is a named crawl. Run blocks until the crawl ends and returns the
// frontier stats observed at that point, even when it fails.
type Job struct {
	Name string
	Run  func(ctx context.Context) (frontier.Stats, error)
}

// Result is the outcome of one job.
type Result struct {
	Job     string
	Err     error
	Elapsed time.Duration
	Stats   frontier.Stats
}

// Runner runs jobs with a concurrency limit.
type Runner struct {
	concurrency int
	failFast    bool
	logger      *slog.Logger
	onResult    func(Result)
}

// Option configures a Runner.
type Option func(*Runner)

// WithConcurrency sets the maximum number of concurrent jobs.
// Non-positive values keep the default.
func WithConcurrency(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithFailFast cancels the remaining jobs after the first failure.
func WithFailFast(failFast bool) Option {
	return func(r *Runner) {
		r.failFast = failFast
	}
}

// WithLogger sets the logger for batch-level messages.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithOnResult registers a callback invoked as each job finishes.
// It is called from the job's goroutine and must be safe for concurrent use.
func WithOnResult(fn func(Result)) Option {
	return func(r *Runner) {
		r.onResult = fn
	}
}

// NewRunner creates a Runner.
func NewRunner(opts ...Option) *Runner {
	r := &Runner{
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// Run executes jobs and returns one Result per job, in input order.
//
// The returned error is nil when every job was started and failures were
// only recorded. With fail-fast it is the first job error; when ctx is
// cancelled it is the context error.
func (r *Runner) Run(ctx context.Context, jobs []Job) ([]Result, error) {
	r.logger.Info("starting batch",
		"jobs", len(jobs),
		"concurrency", r.concurrency,
		"fail_fast", r.failFast,
	)
	start := time.Now()

	results := make([]Result, len(jobs))
	var mu sync.Mutex
	record := func(i int, res Result) {
		mu.Lock()
		results[i] = res
		mu.Unlock()
		if r.onResult != nil {
			r.onResult(res)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	for i, job := range jobs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				record(i, Result{Job: job.Name, Err: err})
				return err
			}

			r.logger.Info("running job", "job", job.Name, "index", i+1, "total", len(jobs))
			jobStart := time.Now()
			stats, err := job.Run(gctx)
			res := Result{
				Job:     job.Name,
				Err:     err,
				Elapsed: time.Since(jobStart),
				Stats:   stats,
			}
			record(i, res)

			if err != nil {
				if errors.Is(err, context.Canceled) && gctx.Err() != nil {
					r.logger.Info("job cancelled", "job", job.Name)
					return nil
				}
				r.logger.Warn("job failed", "job", job.Name, "error", err)
				if r.failFast {
					return err
				}
				return nil
			}

			r.logger.Info("job completed",
				"job", job.Name,
				"completed", stats.Completed,
				"abandoned", stats.Abandoned,
				"elapsed", res.Elapsed,
			)
			return nil
		})
	}

	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	r.logger.Info("batch complete", "jobs", len(jobs), "elapsed", time.Since(start))
	return results, err
}

// Failed returns the results whose job ended with an error.
func Failed(results []Result) []Result {
	var failed []Result
	for _, res := range results {
		if res.Err != nil {
			failed = append(failed, res)
		}
	}
	return failed
}
