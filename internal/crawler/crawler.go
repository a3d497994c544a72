package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/nao1215/crawlkeeper/internal/errpolicy"
	"github.com/nao1215/crawlkeeper/internal/frontier"
	"github.com/nao1215/crawlkeeper/internal/metrics"
)

// State is the lifecycle state of a Crawler.
type State int

const (
	// StateIdle means no crawl is running. A crawl that drained its
	// frontier returns here.
	StateIdle State = iota
	// StateRunning means Crawl is executing.
	StateRunning
	// StateHalted means the last crawl stopped on an error.
	StateHalted
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateHalted:
		return "halted"
	default:
		return "unknown"
	}
}

// Crawler drives a frontier: it pops a URL, waits the crawl delay, fetches
// the page, hands it to the handler and records the outcome.
//
// A Crawler processes one URL at a time.
type Crawler struct {
	frontier frontier.Frontier
	fetcher  Fetcher
	handler  Handler

	policy  errpolicy.Policy
	delay   time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics
	job     string

	mu    sync.Mutex
	state State
	err   error
}

// Option configures a Crawler.
type Option func(*Crawler)

// WithErrorPolicy sets how fetch and handle errors are treated.
// The default is errpolicy.Throwing.
func WithErrorPolicy(p errpolicy.Policy) Option {
	return func(c *Crawler) {
		if p != nil {
			c.policy = p
		}
	}
}

// WithCrawlDelay sets the pause before each fetch.
func WithCrawlDelay(d time.Duration) Option {
	return func(c *Crawler) {
		c.delay = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Crawler) {
		c.logger = logger
	}
}

// WithMetrics records progress in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Crawler) {
		c.metrics = m
	}
}

// WithJobName labels logs and metrics with the crawl job name.
func WithJobName(name string) Option {
	return func(c *Crawler) {
		c.job = name
	}
}

// New creates a Crawler over the given frontier, fetcher and handler.
func New(f frontier.Frontier, fetcher Fetcher, handler Handler, opts ...Option) *Crawler {
	c := &Crawler{
		frontier: f,
		fetcher:  fetcher,
		handler:  handler,
		policy:   errpolicy.Throwing{},
		job:      "default",
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("job", c.job)

	return c
}

// State returns the current lifecycle state.
func (c *Crawler) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the error that halted the last crawl, or nil.
func (c *Crawler) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Crawl enqueues roots and processes the frontier until it is empty.
//
// Roots already known to the frontier are not queued again, so calling
// Crawl with the same roots after a restart resumes the previous crawl.
// Crawl returns nil once no URL is queued. It returns the error for
// frontier failures, for errors the policy chose to propagate, and for
// context cancellation; a URL being processed at cancellation stays
// in flight and is dispatched again by the next run.
func (c *Crawler) Crawl(ctx context.Context, roots ...string) error {
	c.mu.Lock()
	if c.state == StateRunning {
		c.mu.Unlock()
		return ErrBusy
	}
	c.state = StateRunning
	c.err = nil
	c.mu.Unlock()

	err := c.run(ctx, roots)

	c.mu.Lock()
	if err != nil {
		c.state = StateHalted
		c.err = err
	} else {
		c.state = StateIdle
	}
	c.mu.Unlock()

	return err
}

func (c *Crawler) run(ctx context.Context, roots []string) error {
	c.logger.Info("crawl started", "roots", roots, "delay", c.delay)

	for _, root := range roots {
		if err := c.enqueue(ctx, root); err != nil {
			return err
		}
	}

	processed := 0
	for {
		if err := ctx.Err(); err != nil {
			c.logger.Warn("crawl interrupted", "processed", processed)
			return err
		}

		c.reportQueued(ctx)

		finished, err := c.frontier.IsFinished(ctx)
		if err != nil {
			return fmt.Errorf("check frontier: %w", err)
		}
		if finished {
			c.logger.Info("crawl finished", "processed", processed)
			return nil
		}

		u, err := c.frontier.PopNext(ctx)
		if err != nil {
			return fmt.Errorf("pop next url: %w", err)
		}

		if err := c.process(ctx, u); err != nil {
			return err
		}
		processed++
	}
}

// process runs one URL through fetch and handle and records the outcome.
func (c *Crawler) process(ctx context.Context, u string) error {
	c.metrics.SetInFlight(c.job, 1)
	defer c.metrics.SetInFlight(c.job, 0)

	if c.delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.delay):
		}
	}

	c.logger.Debug("fetching", "url", u)
	start := time.Now()
	content, err := c.fetcher.Fetch(ctx, u)
	c.metrics.ObserveFetch(c.job, time.Since(start))

	if err == nil {
		err = c.handle(ctx, content, u)
	}

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		var fatal *enqueueError
		if errors.As(err, &fatal) {
			return fatal.err
		}
		return c.fail(ctx, u, err)
	}

	// Record the outcome even if ctx is cancelled from here on.
	if err := c.frontier.MarkCompleted(context.WithoutCancel(ctx), u); err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	c.metrics.Completed(c.job)
	c.logger.Debug("completed", "url", u)
	return nil
}

// enqueueError carries a frontier failure raised inside a handler's
// EnqueueFunc so the crawl stops even if the handler swallowed it.
type enqueueError struct {
	err error
}

func (e *enqueueError) Error() string { return e.err.Error() }

func (e *enqueueError) Unwrap() error { return e.err }

func (c *Crawler) handle(ctx context.Context, content, u string) error {
	var enqueueErr error
	enqueue := func(fromURL, newURL string) error {
		target := resolveURL(fromURL, newURL)
		err := c.enqueue(ctx, target)
		if errors.Is(err, frontier.ErrInvalidURL) {
			c.logger.Debug("skipping invalid link", "page", u, "link", target)
			return nil
		}
		if err != nil {
			if enqueueErr == nil {
				enqueueErr = err
			}
			return err
		}
		return nil
	}

	err := c.handler.Handle(ctx, content, u, enqueue)
	if enqueueErr != nil {
		return &enqueueError{err: enqueueErr}
	}
	if err != nil {
		return &HandlerError{URL: u, Err: err}
	}
	return nil
}

// fail records a failed attempt and lets the error policy decide whether the
// crawl goes on. The failure is recorded first so that the URL is no longer
// in flight when the policy's retry enqueues it again.
func (c *Crawler) fail(ctx context.Context, u string, cause error) error {
	kind := errorKind(cause)
	c.metrics.Failed(c.job, kind)
	c.logger.Debug("attempt failed", "url", u, "kind", kind, "error", cause)

	if err := c.frontier.MarkFailed(context.WithoutCancel(ctx), u); err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}

	retry := func() error {
		return c.enqueue(ctx, u)
	}
	return c.policy.Handle(ctx, cause, retry)
}

func (c *Crawler) enqueue(ctx context.Context, u string) error {
	if err := c.frontier.Enqueue(context.WithoutCancel(ctx), u); err != nil {
		return fmt.Errorf("enqueue %s: %w", u, err)
	}
	c.metrics.EnqueueRequested(c.job)
	return nil
}

func (c *Crawler) reportQueued(ctx context.Context) {
	if c.metrics == nil {
		return
	}
	stats, err := c.frontier.Stats(ctx)
	if err != nil {
		c.logger.Debug("failed to read frontier stats", "error", err)
		return
	}
	c.metrics.SetQueued(c.job, stats.Queued)
}

// resolveURL resolves newURL against fromURL.
//
// Absolute URLs pass through. Relative references are resolved only when
// the referrer is itself an absolute URL; anything else is an opaque
// identifier and is returned unchanged.
func resolveURL(fromURL, newURL string) string {
	ref, err := url.Parse(newURL)
	if err != nil || ref.IsAbs() || fromURL == "" {
		return newURL
	}
	base, err := url.Parse(fromURL)
	if err != nil || !base.IsAbs() {
		return newURL
	}
	return base.ResolveReference(ref).String()
}
