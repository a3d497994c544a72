package config

import "errors"

// Configuration validation errors, returned (possibly wrapped) by
// Config.Validate and Job.Validate.
var (
	// ErrNoJob is returned when a run has nothing to crawl.
	ErrNoJob = errors.New("no crawl job specified: give root URLs, --job or --all")

	// ErrDuplicateJob is returned when two jobs in one run share a name and
	// would therefore share frontier files.
	ErrDuplicateJob = errors.New("duplicate job name")

	// ErrUnknownJob is returned by File.Job for names the file does not define.
	ErrUnknownJob = errors.New("unknown job")

	// ErrInvalidJobName is returned for names that are unsafe as file name
	// prefixes.
	ErrInvalidJobName = errors.New("invalid job name: use letters, digits, '.', '_' or '-'")

	// ErrNoRoot is returned when a job has no root URLs.
	ErrNoRoot = errors.New("no root URL specified")

	// ErrInvalidRoot is returned for a root that is not an absolute http(s) URL.
	ErrInvalidRoot = errors.New("invalid root URL: must be an absolute http or https URL")

	// ErrNoStateDir is returned when a job has nowhere to keep its frontier.
	ErrNoStateDir = errors.New("no state directory specified")

	// ErrInvalidTimeout is returned when the fetch timeout is not positive.
	ErrInvalidTimeout = errors.New("invalid timeout: must be positive")

	// ErrInvalidBatchSize is returned when the number of concurrent jobs is
	// not positive.
	ErrInvalidBatchSize = errors.New("invalid batch size: must be positive")

	// ErrInvalidCrawlDelay is returned when the crawl delay is negative.
	// Use 0 for no delay between requests.
	ErrInvalidCrawlDelay = errors.New("invalid crawl delay: must be non-negative")

	// ErrInvalidMaxBodySize is returned when the max body size is negative.
	// Use 0 for the default limit.
	ErrInvalidMaxBodySize = errors.New("invalid max body size: must be non-negative")

	// ErrInvalidMaxFailures is returned when the per-URL failure cap is below 1.
	ErrInvalidMaxFailures = errors.New("invalid max failures per URL: must be at least 1")

	// ErrInvalidRoute is returned for a route without a prefix or selectors.
	ErrInvalidRoute = errors.New("invalid route: prefix and at least one selector are required")

	// ErrConflictingProxy is returned when --embedded-tor is combined with a
	// job that names its own SOCKS proxy.
	ErrConflictingProxy = errors.New("conflicting proxy settings: --embedded-tor cannot be combined with socksProxy")
)
