package errpolicy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// ErrUnknownPolicy is returned by Parse for unrecognized policy names.
var ErrUnknownPolicy = errors.New("unknown error policy: must be throw, log or retry")

// RetryFunc re-enqueues the URL whose processing failed.
type RetryFunc func() error

// Policy handles a recoverable crawl error.
//
// Handle returns nil to keep crawling, or an error to halt the crawl.
type Policy interface {
	Handle(ctx context.Context, err error, retry RetryFunc) error
}

// Throwing halts the crawl on the first error.
type Throwing struct{}

// Handle returns err unchanged.
func (Throwing) Handle(_ context.Context, err error, _ RetryFunc) error {
	return err
}

// String returns the policy name.
func (Throwing) String() string { return "throw" }

// Logging records the error and keeps crawling. The URL is not retried.
type Logging struct {
	logger *slog.Logger
}

// NewLogging creates a Logging policy. A nil logger uses slog.Default().
func NewLogging(logger *slog.Logger) *Logging {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logging{logger: logger}
}

// Handle logs err and returns nil.
func (p *Logging) Handle(ctx context.Context, err error, _ RetryFunc) error {
	p.logger.ErrorContext(ctx, "crawl error", "error", err)
	return nil
}

// String returns the policy name.
func (p *Logging) String() string { return "log" }

// Retrying re-enqueues the failing URL, then delegates to an inner policy.
//
// The retry goes through the frontier's normal Enqueue, so a URL that has
// reached its failure cap is silently not queued again.
type Retrying struct {
	inner Policy
}

// NewRetrying wraps inner. A nil inner behaves like Throwing.
func NewRetrying(inner Policy) *Retrying {
	if inner == nil {
		inner = Throwing{}
	}
	return &Retrying{inner: inner}
}

// Handle calls retry and then the inner policy. A failing retry is returned
// as is, since it means the frontier could not persist the URL.
func (p *Retrying) Handle(ctx context.Context, err error, retry RetryFunc) error {
	if retry != nil {
		if rerr := retry(); rerr != nil {
			return fmt.Errorf("retry after %w: %w", err, rerr)
		}
	}
	return p.inner.Handle(ctx, err, retry)
}

// String returns the policy name.
func (p *Retrying) String() string {
	return fmt.Sprintf("retry(%v)", p.inner)
}

// Parse builds a policy from its configuration name: "throw", "log" or
// "retry". "retry" wraps Logging.
func Parse(name string, logger *slog.Logger) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "throw", "throwing":
		return Throwing{}, nil
	case "log", "logging":
		return NewLogging(logger), nil
	case "retry", "retrying", "":
		return NewRetrying(NewLogging(logger)), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPolicy, name)
	}
}
