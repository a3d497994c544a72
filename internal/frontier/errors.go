package frontier

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyFrontier is returned by PopNext when nothing is queued.
	// Callers are expected to check IsFinished first, so seeing this error
	// during a crawl indicates a programming error.
	ErrEmptyFrontier = errors.New("cannot pop from empty frontier")

	// ErrClosed is returned when a frontier is used after Close.
	ErrClosed = errors.New("frontier is closed")

	// ErrInvalidOrder is returned by ParseOrder for unknown traversal orders.
	ErrInvalidOrder = errors.New("invalid traversal order: must be fifo or lifo")

	// ErrInvalidBackend is returned by ParseBackend for unknown backends.
	ErrInvalidBackend = errors.New("invalid frontier backend: must be log or sqlite")

	// ErrInvalidURL is returned by Enqueue for an empty URL or one that
	// contains a line break. Nothing is recorded for it.
	ErrInvalidURL = errors.New("invalid url: must be non-empty and on a single line")
)

// PersistenceError reports a failure to read or write durable crawl state.
// It is never retried: the crawl stops and the error reaches the caller.
type PersistenceError struct {
	// Op is the operation that failed, e.g. "open", "append", "write cursor".
	Op string

	// Path is the file or database involved.
	Path string

	// Err is the underlying I/O or database error.
	Err error
}

// Error implements the error interface.
func (e *PersistenceError) Error() string {
	return fmt.Sprintf("frontier %s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// IsPersistence reports whether err is, or wraps, a PersistenceError.
func IsPersistence(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}

func persistErr(op, path string, err error) error {
	return &PersistenceError{Op: op, Path: path, Err: err}
}
