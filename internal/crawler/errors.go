package crawler

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a TransportError.
type ErrorKind int

const (
	// KindInvalidURL means the URL was empty or could not be parsed.
	KindInvalidURL ErrorKind = iota
	// KindUnsupportedScheme means the URL is not http or https.
	KindUnsupportedScheme
	// KindNetwork covers connection failures: DNS, refused, reset, proxy errors.
	KindNetwork
	// KindTimeout means the request did not finish within the fetch timeout.
	KindTimeout
	// KindHTTPStatus means the server answered with a non-2xx status.
	KindHTTPStatus
	// KindTooManyRedirects means the redirect limit was hit.
	KindTooManyRedirects
)

// String returns a short label, also used as a metrics label value.
func (k ErrorKind) String() string {
	switch k {
	case KindInvalidURL:
		return "invalid_url"
	case KindUnsupportedScheme:
		return "unsupported_scheme"
	case KindNetwork:
		return "network"
	case KindTimeout:
		return "timeout"
	case KindHTTPStatus:
		return "http_status"
	case KindTooManyRedirects:
		return "too_many_redirects"
	default:
		return "unknown"
	}
}

// ErrBusy is returned by Crawl when another Crawl call is running on the
// same Crawler.
var ErrBusy = errors.New("crawler is already running")

// TransportError is returned by a Fetcher when a page could not be
// retrieved. It is recoverable and goes through the error policy.
type TransportError struct {
	// URL is the page that was requested.
	URL string

	// Kind classifies the failure.
	Kind ErrorKind

	// StatusCode is set for KindHTTPStatus.
	StatusCode int

	// Err is the underlying error, if any.
	Err error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	switch {
	case e.Kind == KindHTTPStatus:
		return fmt.Sprintf("fetch %s: HTTP status %d", e.URL, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
	default:
		return fmt.Sprintf("fetch %s: %s", e.URL, e.Kind)
	}
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// HandlerError wraps a failure returned by a Handler.
type HandlerError struct {
	// URL is the page being handled.
	URL string

	// Err is the error returned by the handler.
	Err error
}

// Error implements the error interface.
func (e *HandlerError) Error() string {
	return fmt.Sprintf("handle %s: %v", e.URL, e.Err)
}

// Unwrap returns the underlying error.
func (e *HandlerError) Unwrap() error {
	return e.Err
}

// errorKind returns the label used for metrics and logs.
func errorKind(err error) string {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Kind.String()
	}
	var he *HandlerError
	if errors.As(err, &he) {
		return "handler"
	}
	return "unknown"
}
