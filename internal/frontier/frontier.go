package frontier

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"
)

// DefaultMaxFailures is how many failed attempts a URL gets before it is
// abandoned.
const DefaultMaxFailures = 3

// Frontier is the crawl state manager.
//
// Expected lifecycle for a URL: Enqueue when discovered, PopNext when it is
// time to crawl it, then exactly one of MarkCompleted or MarkFailed.
type Frontier interface {
	// IsFinished reports whether no Queued URL remains. URLs that are
	// InProgress or failed-but-retryable do not count.
	IsFinished(ctx context.Context) (bool, error)

	// Enqueue adds url to the queue unless it is already Queued, InProgress,
	// Completed or Abandoned. The change is durable when Enqueue returns.
	// An empty url or one containing a line break fails with ErrInvalidURL.
	Enqueue(ctx context.Context, url string) error

	// PopNext returns the next URL according to the traversal order.
	// It returns ErrEmptyFrontier when nothing is queued.
	PopNext(ctx context.Context) (string, error)

	// MarkCompleted records that url was processed successfully.
	MarkCompleted(ctx context.Context, url string) error

	// MarkFailed records one failed attempt for url. It does not re-enqueue.
	MarkFailed(ctx context.Context, url string) error

	// Stats returns a snapshot of how many URLs are in each state.
	Stats(ctx context.Context) (Stats, error)

	// Close releases files or database handles.
	Close() error
}

// Order is the traversal discipline used by PopNext.
type Order int

const (
	// FIFO pops URLs in insertion order (breadth-first crawl).
	FIFO Order = iota
	// LIFO pops the most recently inserted URL first (depth-first crawl).
	LIFO
)

// String returns the lowercase name used in configuration files.
func (o Order) String() string {
	switch o {
	case FIFO:
		return "fifo"
	case LIFO:
		return "lifo"
	default:
		return "unknown"
	}
}

// ParseOrder converts "fifo"/"lifo" (any case, also "bfs"/"dfs") to an Order.
func ParseOrder(s string) (Order, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fifo", "bfs", "":
		return FIFO, nil
	case "lifo", "dfs":
		return LIFO, nil
	default:
		return FIFO, ErrInvalidOrder
	}
}

// Backend names a Frontier implementation.
type Backend string

const (
	// BackendLog selects LogFrontier.
	BackendLog Backend = "log"
	// BackendSQLite selects SQLiteFrontier.
	BackendSQLite Backend = "sqlite"
)

// ParseBackend validates a backend name from configuration.
func ParseBackend(s string) (Backend, error) {
	switch Backend(strings.ToLower(strings.TrimSpace(s))) {
	case BackendLog, "":
		return BackendLog, nil
	case BackendSQLite:
		return BackendSQLite, nil
	default:
		return "", ErrInvalidBackend
	}
}

// State is the logical state of a single URL.
type State int

const (
	// StateUnknown means the URL was never enqueued.
	StateUnknown State = iota
	// StateQueued means the URL waits to be popped.
	StateQueued
	// StateInProgress means the URL was popped and has no outcome yet.
	StateInProgress
	// StateCompleted means the URL was processed; it is never queued again.
	StateCompleted
	// StateFailed means the URL failed at least once and is below the
	// failure cap, so it may be enqueued again.
	StateFailed
	// StateAbandoned means the URL reached the failure cap.
	StateAbandoned
)

// String returns a lowercase state name.
func (s State) String() string {
	switch s {
	case StateQueued:
		return "queued"
	case StateInProgress:
		return "in progress"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateAbandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}

// Stats counts URLs per state.
//
// Failed counts URLs with at least one failure that are neither completed
// nor abandoned. A URL that failed once and was re-queued is counted both
// as Queued and as Failed.
type Stats struct {
	Queued     int `json:"queued"`
	InProgress int `json:"inProgress"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Abandoned  int `json:"abandoned"`
}

// Known returns the number of distinct URLs the frontier has seen, as far as
// the counters allow: queued + in progress + completed + abandoned.
func (s Stats) Known() int {
	return s.Queued + s.InProgress + s.Completed + s.Abandoned
}

// options are shared by both backends.
type options struct {
	order       Order
	maxFailures int
	logger      *slog.Logger
	now         func() time.Time
}

// Option configures a Frontier.
type Option func(*options)

// WithOrder sets the traversal order. Default is FIFO.
func WithOrder(o Order) Option {
	return func(opts *options) {
		opts.order = o
	}
}

// WithMaxFailures sets how many failures abandon a URL.
// Values below 1 keep the default.
func WithMaxFailures(n int) Option {
	return func(opts *options) {
		if n > 0 {
			opts.maxFailures = n
		}
	}
}

// WithLogger sets the logger used for recovery diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(opts *options) {
		opts.logger = logger
	}
}

// WithClock overrides the time source used for SQLite enqueue timestamps.
func WithClock(now func() time.Time) Option {
	return func(opts *options) {
		opts.now = now
	}
}

func newOptions(opts []Option) options {
	o := options{
		order:       FIFO,
		maxFailures: DefaultMaxFailures,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

// Open opens the frontier for a named crawl job stored under dir.
// The log backend uses LogPathsIn(dir, name); the SQLite backend uses
// <dir>/<name>.db.
func Open(backend Backend, dir, name string, opts ...Option) (Frontier, error) {
	switch backend {
	case BackendLog, "":
		return OpenLog(LogPathsIn(dir, name), opts...)
	case BackendSQLite:
		return OpenSQLite(filepath.Join(dir, name+".db"), opts...)
	default:
		return nil, ErrInvalidBackend
	}
}

// checkURL rejects URLs that cannot be stored as a single log line.
func checkURL(url string) error {
	if url == "" || strings.ContainsAny(url, "\r\n") {
		return fmt.Errorf("%w: %q", ErrInvalidURL, url)
	}
	return nil
}
