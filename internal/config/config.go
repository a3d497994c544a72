package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"time"

	"github.com/adrg/xdg"

	"github.com/nao1215/crawlkeeper/internal/errpolicy"
	"github.com/nao1215/crawlkeeper/internal/frontier"
	"github.com/nao1215/crawlkeeper/internal/handler"
)

// Default configuration values.
const (
	// AppName is the application name used for XDG directory paths.
	AppName = "crawlkeeper"

	// DefaultJobName names the ad-hoc job built from CLI flags.
	DefaultJobName = "default"

	// DefaultBackend keeps the frontier in append-only log files.
	DefaultBackend = string(frontier.BackendLog)

	// DefaultOrder crawls breadth first.
	DefaultOrder = "fifo"

	// DefaultCrawlDelay is the pause before every fetch. Ten seconds is
	// slow on purpose: a resumable crawl can afford to be gentle.
	DefaultCrawlDelay = 10 * time.Second

	// DefaultMaxFailures is how often a URL may fail before it is abandoned.
	DefaultMaxFailures = frontier.DefaultMaxFailures

	// DefaultErrorPolicy retries failed URLs and logs the failure.
	DefaultErrorPolicy = "retry"

	// DefaultTimeout bounds one fetch, body included.
	DefaultTimeout = 10 * time.Second

	// DefaultMaxBodySize limits the response body read per page.
	DefaultMaxBodySize = 5 * 1024 * 1024 // 5MB

	// DefaultOutputFormat is used when pages are archived.
	DefaultOutputFormat = string(handler.FormatHTML)

	// DefaultBatchSize runs jobs one at a time.
	DefaultBatchSize = 1

	// DefaultTorStartupTimeout is the maximum time to wait for the embedded
	// Tor daemon to bootstrap.
	DefaultTorStartupTimeout = 3 * time.Minute

	// DefaultUserAgent identifies crawlkeeper in HTTP requests.
	DefaultUserAgent = "crawlkeeper/1.0 (+https://github.com/nao1215/crawlkeeper)"
)

// Config holds the process-wide options of one crawlkeeper run. It is
// filled from CLI flags and passed down explicitly.
type Config struct {
	// Verbose enables debug logging.
	Verbose bool

	// LogJSON switches log output to JSON.
	LogJSON bool

	// ConfigFilePath is the explicit configuration file, if any.
	ConfigFilePath string

	// BatchSize is how many jobs crawl concurrently.
	BatchSize int

	// FailFast cancels the remaining jobs when one fails.
	FailFast bool

	// MetricsAddr, when set, serves Prometheus metrics on this address.
	MetricsAddr string

	// EmbeddedTor starts a private Tor daemon and routes every job through it.
	EmbeddedTor bool

	// TorStartupTimeout bounds the embedded daemon's bootstrap.
	TorStartupTimeout time.Duration

	// Jobs are the crawls to run.
	Jobs []*Job
}

// NewConfig creates a Config with default values and no jobs.
func NewConfig() *Config {
	return &Config{
		BatchSize:         DefaultBatchSize,
		TorStartupTimeout: DefaultTorStartupTimeout,
	}
}

// Validate checks the run options and every job. The first problem found
// is returned.
func (c *Config) Validate() error {
	if len(c.Jobs) == 0 {
		return ErrNoJob
	}
	if c.BatchSize <= 0 {
		return ErrInvalidBatchSize
	}

	seen := make(map[string]bool, len(c.Jobs))
	for _, job := range c.Jobs {
		if seen[job.Name] {
			return fmt.Errorf("%w: %s", ErrDuplicateJob, job.Name)
		}
		seen[job.Name] = true

		if err := job.Validate(); err != nil {
			return fmt.Errorf("job %s: %w", job.Name, err)
		}
		if c.EmbeddedTor && job.SOCKSProxy != "" {
			return fmt.Errorf("job %s: %w", job.Name, ErrConflictingProxy)
		}
	}
	return nil
}

// Route sends pages under a URL prefix to their own link selectors.
type Route struct {
	// Prefix is matched against the page URL; the longest match wins.
	Prefix string `yaml:"prefix"`

	// Selectors pick the elements whose links are followed.
	Selectors []string `yaml:"selectors"`
}

// Job describes one resumable crawl.
type Job struct {
	// Name identifies the job and prefixes its frontier files.
	Name string

	// Roots are enqueued on every run. Known roots are not re-crawled,
	// which is what makes a restart resume.
	Roots []string

	// Backend selects the frontier storage: "log" or "sqlite".
	Backend string

	// StateDir holds the frontier files.
	StateDir string

	// Order is "fifo" (breadth first) or "lifo" (depth first).
	Order string

	// CrawlDelay is the pause before every fetch.
	CrawlDelay time.Duration

	// MaxFailures is the number of failures after which a URL is abandoned.
	MaxFailures int

	// ErrorPolicy is "throw", "log" or "retry".
	ErrorPolicy string

	UserAgent   string
	Timeout     time.Duration
	MaxBodySize int64

	// Cookie and Headers are sent with every request of this job.
	Cookie  string
	Headers map[string]string

	// SOCKSProxy routes this job's requests through a SOCKS5 proxy.
	SOCKSProxy string

	// SameHost only follows links to the host of the page they were found on.
	SameHost bool

	// Selectors, when set, restrict link extraction to matching elements.
	Selectors []string

	// IgnorePatterns and FollowPatterns are URL path globs.
	IgnorePatterns []string
	FollowPatterns []string

	// Routes override Selectors for pages under a URL prefix.
	Routes []Route

	// OutputDir, when set, archives every fetched page there.
	OutputDir string

	// OutputFormat is "html" or "markdown".
	OutputFormat string
}

// NewJob creates a Job with default values. Its state lives in the XDG
// data directory under the job name.
func NewJob(name string) *Job {
	return &Job{
		Name:         name,
		Backend:      DefaultBackend,
		StateDir:     JobStateDir(name),
		Order:        DefaultOrder,
		CrawlDelay:   DefaultCrawlDelay,
		MaxFailures:  DefaultMaxFailures,
		ErrorPolicy:  DefaultErrorPolicy,
		UserAgent:    DefaultUserAgent,
		Timeout:      DefaultTimeout,
		MaxBodySize:  DefaultMaxBodySize,
		OutputFormat: DefaultOutputFormat,
	}
}

var jobNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Validate checks the job. Enumerated settings are checked with the same
// parsers the crawl uses, so anything Validate accepts can be opened.
func (j *Job) Validate() error {
	if !jobNamePattern.MatchString(j.Name) {
		return fmt.Errorf("%w: %q", ErrInvalidJobName, j.Name)
	}

	if len(j.Roots) == 0 {
		return ErrNoRoot
	}
	for _, root := range j.Roots {
		u, err := url.Parse(root)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%w: %q", ErrInvalidRoot, root)
		}
	}

	if _, err := frontier.ParseBackend(j.Backend); err != nil {
		return err
	}
	if j.StateDir == "" {
		return ErrNoStateDir
	}
	if _, err := frontier.ParseOrder(j.Order); err != nil {
		return err
	}
	if j.CrawlDelay < 0 {
		return ErrInvalidCrawlDelay
	}
	if j.MaxFailures < 1 {
		return ErrInvalidMaxFailures
	}
	if _, err := errpolicy.Parse(j.ErrorPolicy, nil); err != nil {
		return err
	}
	if j.Timeout <= 0 {
		return ErrInvalidTimeout
	}
	if j.MaxBodySize < 0 {
		return ErrInvalidMaxBodySize
	}
	if _, err := handler.ParseFormat(j.OutputFormat); err != nil {
		return err
	}
	for _, r := range j.Routes {
		if r.Prefix == "" || len(r.Selectors) == 0 {
			return fmt.Errorf("%w: %q", ErrInvalidRoute, r.Prefix)
		}
	}
	return nil
}

// XDGDataDir returns the XDG data directory for crawlkeeper.
// On Linux: ~/.local/share/crawlkeeper
func XDGDataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// XDGConfigDir returns the XDG config directory for crawlkeeper.
// On Linux: ~/.config/crawlkeeper
func XDGConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// JobStateDir returns the default state directory of a job.
func JobStateDir(name string) string {
	return filepath.Join(XDGDataDir(), name)
}
