package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/nao1215/crawlkeeper/internal/batch"
	"github.com/nao1215/crawlkeeper/internal/config"
	"github.com/nao1215/crawlkeeper/internal/crawler"
	"github.com/nao1215/crawlkeeper/internal/errpolicy"
	"github.com/nao1215/crawlkeeper/internal/frontier"
	"github.com/nao1215/crawlkeeper/internal/handler"
	"github.com/nao1215/crawlkeeper/internal/metrics"
	"github.com/nao1215/crawlkeeper/internal/report"
	"github.com/nao1215/crawlkeeper/internal/tor"
	"github.com/spf13/cobra"
)

// errJobsFailed is returned when at least one job of the run failed.
var errJobsFailed = errors.New("one or more crawl jobs failed")

// NewCrawlCmd creates the crawl command.
func NewCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl [root-url...]",
		Short: "Crawl from root URLs, resuming any previous run",
		Long: `Crawl fetches pages starting at the root URLs and follows their links.

Every discovered URL is stored in the job's frontier before it is fetched.
Run the same job again after an interruption and it resumes where it stopped;
completed URLs are never fetched twice.

Give root URLs on the command line for an ad-hoc job, or select jobs from
the configuration file with --job or --all. Flags override file settings.

Examples:
  # Crawl a site into the "default" job
  crawlkeeper crawl https://example.com/

  # Crawl depth first into SQLite, one second between requests
  crawlkeeper crawl --name docs --order lifo --backend sqlite --crawl-delay 1s https://example.com/docs/

  # Run two configured jobs at once and expose metrics
  crawlkeeper crawl --job docs --job blog --batch 2 --metrics-addr :9090

  # Crawl through Tor
  crawlkeeper crawl --embedded-tor http://exampleonionaddress.onion/`,
		Args: cobra.ArbitraryArgs,
		RunE: runCrawlCmd,
	}

	// Job selection
	cmd.Flags().StringSliceP("job", "j", nil, "Run the named job from the configuration file (repeatable)")
	cmd.Flags().BoolP("all", "a", false, "Run every job in the configuration file")
	cmd.Flags().StringP("name", "n", config.DefaultJobName, "Job name for root URLs given as arguments")

	// Frontier
	cmd.Flags().String("backend", config.DefaultBackend, "Frontier backend: log or sqlite")
	cmd.Flags().String("state-dir", "", "Directory for frontier files (default: XDG data dir per job)")
	cmd.Flags().String("order", config.DefaultOrder, "Traversal order: fifo (breadth first) or lifo (depth first)")
	cmd.Flags().Int("max-failures", config.DefaultMaxFailures, "Failures after which a URL is abandoned")

	// Crawl behavior
	cmd.Flags().DurationP("crawl-delay", "d", config.DefaultCrawlDelay, "Pause before every request")
	cmd.Flags().String("error-policy", config.DefaultErrorPolicy, "On fetch or handler errors: throw, log or retry")
	cmd.Flags().Bool("same-host", false, "Only follow links to the page's own host")
	cmd.Flags().StringSlice("selector", nil, "CSS selector whose links are followed (repeatable)")
	cmd.Flags().StringSlice("ignore", nil, "URL path glob to skip (repeatable)")
	cmd.Flags().StringSlice("follow", nil, "URL path glob to follow; others are skipped (repeatable)")

	// HTTP
	cmd.Flags().String("user-agent", config.DefaultUserAgent, "User-Agent header")
	cmd.Flags().DurationP("timeout", "t", config.DefaultTimeout, "Timeout for each request")
	cmd.Flags().Int64("max-body-size", config.DefaultMaxBodySize, "Maximum response body size in bytes")
	cmd.Flags().String("cookie", "", "Cookie header sent with every request")
	cmd.Flags().StringToString("header", nil, "Extra request header as Name=Value (repeatable)")
	cmd.Flags().String("socks-proxy", "", "SOCKS5 proxy address, e.g. 127.0.0.1:9050")

	// Tor
	cmd.Flags().Bool("embedded-tor", false, "Start an embedded Tor daemon and crawl through it")
	cmd.Flags().DurationP("tor-timeout", "T", config.DefaultTorStartupTimeout, "Timeout for embedded Tor startup")

	// Output
	cmd.Flags().StringP("output-dir", "o", "", "Store every fetched page in this directory")
	cmd.Flags().String("output-format", config.DefaultOutputFormat, "Format of stored pages: html or markdown")
	cmd.Flags().BoolP("markdown", "m", false, "Print the final summary as Markdown")

	// Run
	cmd.Flags().IntP("batch", "b", config.DefaultBatchSize, "Number of jobs crawled concurrently")
	cmd.Flags().Bool("fail-fast", false, "Stop all jobs when one fails")
	cmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")

	return cmd
}

// runCrawlCmd executes the crawl command.
func runCrawlCmd(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(cmd, args)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	logger := setupLogger(cmd).With("run", uuid.NewString())
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	markdown, err := cmd.Flags().GetBool("markdown")
	if err != nil {
		return err
	}
	var w report.Writer = report.NewSimpleWriter(cmd.OutOrStdout())
	if markdown {
		w = report.NewMarkdownWriter(cmd.OutOrStdout())
	}

	return runCrawl(ctx, cfg, logger, w)
}

// buildConfig creates a Config from the configuration file and flags.
func buildConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	cfg := config.NewConfig()
	cfg.Verbose = getBoolFlag(cmd, "verbose")
	cfg.LogJSON = getBoolFlag(cmd, "log-json")
	cfg.ConfigFilePath = getStringFlag(cmd, "config")

	var err error
	if cfg.BatchSize, err = cmd.Flags().GetInt("batch"); err != nil {
		return nil, err
	}
	if cfg.FailFast, err = cmd.Flags().GetBool("fail-fast"); err != nil {
		return nil, err
	}
	if cfg.MetricsAddr, err = cmd.Flags().GetString("metrics-addr"); err != nil {
		return nil, err
	}
	if cfg.EmbeddedTor, err = cmd.Flags().GetBool("embedded-tor"); err != nil {
		return nil, err
	}
	if cfg.TorStartupTimeout, err = cmd.Flags().GetDuration("tor-timeout"); err != nil {
		return nil, err
	}

	file, err := loadConfig(cfg.ConfigFilePath)
	if err != nil {
		return nil, err
	}

	names, err := cmd.Flags().GetStringSlice("job")
	if err != nil {
		return nil, err
	}
	all, err := cmd.Flags().GetBool("all")
	if err != nil {
		return nil, err
	}
	if all {
		names = file.JobNames()
	}

	switch {
	case len(args) > 0 && len(names) > 0:
		return nil, errors.New("root URLs cannot be combined with --job or --all")
	case len(args) > 0:
		name, err := cmd.Flags().GetString("name")
		if err != nil {
			return nil, err
		}
		job, err := adHocJob(file, name, args)
		if err != nil {
			return nil, err
		}
		cfg.Jobs = append(cfg.Jobs, job)
	default:
		for _, name := range names {
			job, err := file.Job(name)
			if err != nil {
				return nil, err
			}
			cfg.Jobs = append(cfg.Jobs, job)
		}
	}

	for _, job := range cfg.Jobs {
		if err := applyJobFlags(cmd, job); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// loadConfig loads the configuration file. A file given explicitly must
// exist; otherwise a missing file yields an empty configuration.
func loadConfig(path string) (*config.File, error) {
	found := config.FindConfigFile(path)
	if found == "" {
		if path != "" {
			return nil, fmt.Errorf("%w: %s", config.ErrConfigNotFound, path)
		}
		return &config.File{Jobs: map[string]config.JobSettings{}}, nil
	}

	file, err := config.LoadConfigFile(found)
	if err != nil {
		return nil, fmt.Errorf("failed to load config file %s: %w", found, err)
	}
	return file, nil
}

// adHocJob builds a job from root URLs on the command line. File defaults
// apply, and so do the settings of a file job with the same name.
func adHocJob(file *config.File, name string, roots []string) (*config.Job, error) {
	var job *config.Job
	if _, ok := file.Jobs[name]; ok {
		var err error
		if job, err = file.Job(name); err != nil {
			return nil, err
		}
	} else {
		job = config.NewJob(name)
		file.Defaults.ApplyTo(job)
	}
	job.Roots = roots
	return job, nil
}

// applyJobFlags overrides job settings with the flags the user set.
func applyJobFlags(cmd *cobra.Command, job *config.Job) error {
	flags := cmd.Flags()
	var err error

	set := func(name string, apply func() error) {
		if err == nil && flags.Changed(name) {
			err = apply()
		}
	}

	set("backend", func() (e error) { job.Backend, e = flags.GetString("backend"); return })
	set("state-dir", func() (e error) { job.StateDir, e = flags.GetString("state-dir"); return })
	set("order", func() (e error) { job.Order, e = flags.GetString("order"); return })
	set("max-failures", func() (e error) { job.MaxFailures, e = flags.GetInt("max-failures"); return })
	set("crawl-delay", func() (e error) { job.CrawlDelay, e = flags.GetDuration("crawl-delay"); return })
	set("error-policy", func() (e error) { job.ErrorPolicy, e = flags.GetString("error-policy"); return })
	set("same-host", func() (e error) { job.SameHost, e = flags.GetBool("same-host"); return })
	set("selector", func() (e error) { job.Selectors, e = flags.GetStringSlice("selector"); return })
	set("ignore", func() (e error) { job.IgnorePatterns, e = flags.GetStringSlice("ignore"); return })
	set("follow", func() (e error) { job.FollowPatterns, e = flags.GetStringSlice("follow"); return })
	set("user-agent", func() (e error) { job.UserAgent, e = flags.GetString("user-agent"); return })
	set("timeout", func() (e error) { job.Timeout, e = flags.GetDuration("timeout"); return })
	set("max-body-size", func() (e error) { job.MaxBodySize, e = flags.GetInt64("max-body-size"); return })
	set("cookie", func() (e error) { job.Cookie, e = flags.GetString("cookie"); return })
	set("socks-proxy", func() (e error) { job.SOCKSProxy, e = flags.GetString("socks-proxy"); return })
	set("output-dir", func() (e error) { job.OutputDir, e = flags.GetString("output-dir"); return })
	set("output-format", func() (e error) { job.OutputFormat, e = flags.GetString("output-format"); return })
	set("header", func() error {
		headers, e := flags.GetStringToString("header")
		if e != nil {
			return e
		}
		merged := make(map[string]string, len(job.Headers)+len(headers))
		for k, v := range job.Headers {
			merged[k] = v
		}
		for k, v := range headers {
			merged[k] = v
		}
		job.Headers = merged
		return nil
	})

	return err
}

// runCrawl runs every job of cfg and writes a summary to w.
func runCrawl(ctx context.Context, cfg *config.Config, logger *slog.Logger, w report.Writer) error {
	logger.Info("starting crawl",
		"jobs", len(cfg.Jobs),
		"batch", cfg.BatchSize,
		"embeddedTor", cfg.EmbeddedTor,
	)

	var m *metrics.Metrics
	if cfg.MetricsAddr != "" {
		m = metrics.New()
		go func() {
			if err := m.Serve(ctx, cfg.MetricsAddr); err != nil {
				logger.Error("metrics server failed", "addr", cfg.MetricsAddr, "error", err)
			}
		}()
		logger.Info("serving metrics", "addr", cfg.MetricsAddr)
	}

	var shared http.RoundTripper
	if cfg.EmbeddedTor {
		client, embedded, err := startEmbeddedTor(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer func() {
			logger.Info("stopping embedded Tor daemon")
			if err := embedded.Stop(); err != nil {
				logger.Error("failed to stop embedded Tor", "error", err)
			}
		}()
		shared = client.Transport()
	}

	jobs := make([]batch.Job, 0, len(cfg.Jobs))
	byName := make(map[string]*config.Job, len(cfg.Jobs))
	for _, job := range cfg.Jobs {
		byName[job.Name] = job
		jobs = append(jobs, batch.Job{
			Name: job.Name,
			Run: func(ctx context.Context) (frontier.Stats, error) {
				return runJob(ctx, job, jobDeps{
					transport: shared,
					metrics:   m,
					logger:    logger,
				})
			},
		})
	}

	runner := batch.NewRunner(
		batch.WithConcurrency(cfg.BatchSize),
		batch.WithFailFast(cfg.FailFast),
		batch.WithLogger(logger),
	)
	results, runErr := runner.Run(ctx, jobs)

	statuses := make([]*report.JobStatus, 0, len(results))
	for _, res := range results {
		statuses = append(statuses, resultStatus(byName[res.Job], res))
	}
	if _, err := w.Write(report.NewReport(statuses...)); err != nil {
		logger.Error("failed to write summary", "error", err)
	}

	if runErr != nil {
		return runErr
	}
	if failed := batch.Failed(results); len(failed) > 0 {
		return fmt.Errorf("%w: %d of %d", errJobsFailed, len(failed), len(results))
	}
	return nil
}

// resultStatus turns a batch result into a report entry.
func resultStatus(job *config.Job, res batch.Result) *report.JobStatus {
	status := &report.JobStatus{
		Job:      res.Job,
		Stats:    res.Stats,
		Finished: res.Err == nil,
		Elapsed:  res.Elapsed,
	}
	if job != nil {
		status.Backend = job.Backend
		status.StateDir = job.StateDir
	}
	if res.Err != nil {
		status.Error = res.Err.Error()
	}
	return status
}

// jobDeps are collaborators shared by every job of a run.
type jobDeps struct {
	// transport overrides the per-job transport, e.g. embedded Tor.
	transport http.RoundTripper
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// runJob crawls one job to completion and returns its frontier stats.
func runJob(ctx context.Context, job *config.Job, deps jobDeps) (frontier.Stats, error) {
	logger := deps.logger.With("job", job.Name)

	f, err := openFrontier(job, logger)
	if err != nil {
		return frontier.Stats{}, err
	}
	defer func() {
		if err := f.Close(); err != nil {
			logger.Error("failed to close frontier", "error", err)
		}
	}()

	h, err := buildHandler(job)
	if err != nil {
		return frontier.Stats{}, err
	}

	transport := deps.transport
	if transport == nil && job.SOCKSProxy != "" {
		client, err := tor.NewClient(job.SOCKSProxy)
		if err != nil {
			return frontier.Stats{}, fmt.Errorf("failed to create SOCKS5 client: %w", err)
		}
		if err := client.CheckConnection(ctx).Error(); err != nil {
			return frontier.Stats{}, fmt.Errorf("SOCKS5 proxy check failed at %s: %w", job.SOCKSProxy, err)
		}
		transport = client.Transport()
	}

	policy, err := errpolicy.Parse(job.ErrorPolicy, logger)
	if err != nil {
		return frontier.Stats{}, err
	}

	c := crawler.New(f, buildFetcher(job, transport), h,
		crawler.WithErrorPolicy(policy),
		crawler.WithCrawlDelay(job.CrawlDelay),
		crawler.WithLogger(deps.logger),
		crawler.WithMetrics(deps.metrics),
		crawler.WithJobName(job.Name),
	)
	crawlErr := c.Crawl(ctx, job.Roots...)

	stats, err := f.Stats(context.WithoutCancel(ctx))
	if err != nil {
		logger.Error("failed to read frontier stats", "error", err)
	}
	return stats, crawlErr
}

// openFrontier opens the job's frontier with its order and failure limit.
func openFrontier(job *config.Job, logger *slog.Logger) (frontier.Frontier, error) {
	backend, err := frontier.ParseBackend(job.Backend)
	if err != nil {
		return nil, err
	}
	order, err := frontier.ParseOrder(job.Order)
	if err != nil {
		return nil, err
	}
	return frontier.Open(backend, job.StateDir, job.Name,
		frontier.WithOrder(order),
		frontier.WithMaxFailures(job.MaxFailures),
		frontier.WithLogger(logger),
	)
}

// buildFetcher creates the HTTP fetcher for a job. transport may be nil.
func buildFetcher(job *config.Job, transport http.RoundTripper) *crawler.HTTPFetcher {
	opts := []crawler.FetcherOption{
		crawler.WithUserAgent(job.UserAgent),
		crawler.WithTimeout(job.Timeout),
		crawler.WithMaxBodySize(job.MaxBodySize),
		crawler.WithCookie(job.Cookie),
		crawler.WithHeaders(job.Headers),
	}
	if transport != nil {
		opts = append(opts, crawler.WithTransport(transport))
	}
	return crawler.NewHTTPFetcher(opts...)
}

// buildHandler assembles the page handler chain of a job:
// link extraction (all links or CSS selectors), optional per-prefix routes,
// and optional archiving of every page.
func buildHandler(job *config.Job) (crawler.Handler, error) {
	filter := handler.Filter{
		SameHost:       job.SameHost,
		IgnorePatterns: job.IgnorePatterns,
		FollowPatterns: job.FollowPatterns,
	}

	var h crawler.Handler
	if len(job.Selectors) > 0 {
		sh, err := handler.NewSelectorHandler(job.Selectors, filter)
		if err != nil {
			return nil, err
		}
		h = sh
	} else if len(job.Routes) == 0 {
		h = handler.NewLinkHandler(filter)
	}

	if len(job.Routes) > 0 {
		routes := make([]handler.Route, 0, len(job.Routes))
		for _, r := range job.Routes {
			sh, err := handler.NewSelectorHandler(r.Selectors, filter)
			if err != nil {
				return nil, fmt.Errorf("route %s: %w", r.Prefix, err)
			}
			routes = append(routes, handler.Route{Prefix: r.Prefix, Handler: sh})
		}
		h = handler.NewRouter(routes, h)
	}

	if job.OutputDir != "" {
		format, err := handler.ParseFormat(job.OutputFormat)
		if err != nil {
			return nil, err
		}
		archive, err := handler.NewArchive(job.OutputDir, format, h)
		if err != nil {
			return nil, err
		}
		h = archive
	}
	return h, nil
}

// startEmbeddedTor starts a private Tor daemon and verifies its SOCKS port.
func startEmbeddedTor(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*tor.Client, *tor.EmbeddedTor, error) {
	logger.Warn("starting embedded Tor daemon; bootstrapping may take a few minutes")

	embedded := tor.NewEmbeddedTor(
		tor.WithStartupTimeout(cfg.TorStartupTimeout),
		tor.WithLogger(logger),
	)
	if err := embedded.Start(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to start embedded Tor: %w", err)
	}

	client, err := embedded.Client()
	if err != nil {
		_ = embedded.Stop() //nolint:errcheck // best effort cleanup
		return nil, nil, fmt.Errorf("failed to create Tor client: %w", err)
	}
	if err := client.CheckConnection(ctx).Error(); err != nil {
		_ = embedded.Stop() //nolint:errcheck // best effort cleanup
		return nil, nil, fmt.Errorf("embedded Tor proxy check failed: %w", err)
	}

	logger.Info("embedded Tor daemon started",
		"socksAddr", embedded.SocksAddr(),
		"controlAddr", embedded.ControlAddr(),
	)
	return client, embedded, nil
}
