package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html/charset"
)

// Fetcher defaults.
const (
	DefaultUserAgent    = "crawlkeeper/1.0"
	DefaultTimeout      = 10 * time.Second
	DefaultMaxBodySize  = 5 * 1024 * 1024
	DefaultMaxRedirects = 10
)

// errTooManyRedirects is returned from CheckRedirect and mapped to
// KindTooManyRedirects.
var errTooManyRedirects = errors.New("stopped after too many redirects")

// HTTPFetcher fetches pages over HTTP(S) and decodes them to UTF-8.
type HTTPFetcher struct {
	client *http.Client

	userAgent    string
	timeout      time.Duration
	maxBodySize  int64
	maxRedirects int
	cookie       string
	headers      map[string]string
	transport    http.RoundTripper
}

// FetcherOption configures an HTTPFetcher.
type FetcherOption func(*HTTPFetcher)

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) FetcherOption {
	return func(f *HTTPFetcher) {
		if ua != "" {
			f.userAgent = ua
		}
	}
}

// WithTimeout sets the total time allowed for one fetch, body included.
func WithTimeout(d time.Duration) FetcherOption {
	return func(f *HTTPFetcher) {
		f.timeout = d
	}
}

// WithMaxBodySize caps how many bytes of a response body are read.
// Longer bodies are truncated, not rejected.
func WithMaxBodySize(n int64) FetcherOption {
	return func(f *HTTPFetcher) {
		if n > 0 {
			f.maxBodySize = n
		}
	}
}

// WithMaxRedirects sets how many redirects are followed before failing
// with KindTooManyRedirects.
func WithMaxRedirects(n int) FetcherOption {
	return func(f *HTTPFetcher) {
		f.maxRedirects = n
	}
}

// WithCookie sends a raw cookie string (e.g. "session=abc") on every request.
func WithCookie(cookie string) FetcherOption {
	return func(f *HTTPFetcher) {
		f.cookie = cookie
	}
}

// WithHeaders sends extra headers on every request.
func WithHeaders(headers map[string]string) FetcherOption {
	return func(f *HTTPFetcher) {
		f.headers = headers
	}
}

// WithTransport replaces the HTTP transport, e.g. with one that dials
// through a SOCKS5 proxy.
func WithTransport(rt http.RoundTripper) FetcherOption {
	return func(f *HTTPFetcher) {
		f.transport = rt
	}
}

// NewHTTPFetcher creates a fetcher.
func NewHTTPFetcher(opts ...FetcherOption) *HTTPFetcher {
	f := &HTTPFetcher{
		userAgent:    DefaultUserAgent,
		timeout:      DefaultTimeout,
		maxBodySize:  DefaultMaxBodySize,
		maxRedirects: DefaultMaxRedirects,
	}

	for _, opt := range opts {
		opt(f)
	}

	transport := f.transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	if f.cookie != "" || len(f.headers) > 0 {
		transport = &headerInjectingTransport{
			base:    transport,
			cookie:  f.cookie,
			headers: f.headers,
		}
	}

	maxRedirects := f.maxRedirects
	f.client = &http.Client{
		Transport: transport,
		Timeout:   f.timeout,
		CheckRedirect: func(_ *http.Request, via []*http.Request) error {
			if len(via) > maxRedirects {
				return errTooManyRedirects
			}
			return nil
		},
	}

	return f
}

// Fetch implements Fetcher. Any non-2xx response is a TransportError of
// kind KindHTTPStatus.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	if strings.TrimSpace(rawURL) == "" {
		return "", &TransportError{URL: rawURL, Kind: KindInvalidURL, Err: errors.New("empty url")}
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", &TransportError{URL: rawURL, Kind: KindInvalidURL, Err: err}
	}
	if scheme := strings.ToLower(u.Scheme); scheme != "http" && scheme != "https" {
		return "", &TransportError{
			URL:  rawURL,
			Kind: KindUnsupportedScheme,
			Err:  fmt.Errorf("scheme %q", u.Scheme),
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", &TransportError{URL: rawURL, Kind: KindInvalidURL, Err: err}
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", classify(rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096)) //nolint:errcheck // drain for connection reuse
		return "", &TransportError{URL: rawURL, Kind: KindHTTPStatus, StatusCode: resp.StatusCode}
	}

	// charset.NewReader sniffs the encoding from the header and the first
	// bytes of the body and falls back to UTF-8.
	body, err := charset.NewReader(io.LimitReader(resp.Body, f.maxBodySize), resp.Header.Get("Content-Type"))
	if err != nil {
		return "", classify(rawURL, err)
	}
	content, err := io.ReadAll(body)
	if err != nil {
		return "", classify(rawURL, err)
	}

	return string(content), nil
}

// classify maps a client error to a TransportError.
func classify(rawURL string, err error) *TransportError {
	if errors.Is(err, errTooManyRedirects) {
		return &TransportError{URL: rawURL, Kind: KindTooManyRedirects, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TransportError{URL: rawURL, Kind: KindTimeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TransportError{URL: rawURL, Kind: KindTimeout, Err: err}
	}
	return &TransportError{URL: rawURL, Kind: KindNetwork, Err: err}
}

// headerInjectingTransport wraps an http.RoundTripper to inject
// custom headers and cookies into every request, redirects included.
type headerInjectingTransport struct {
	base    http.RoundTripper
	cookie  string
	headers map[string]string
}

// RoundTrip implements http.RoundTripper.
func (t *headerInjectingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Clone the request to avoid modifying the original
	clone := req.Clone(req.Context())

	if t.cookie != "" {
		if existing := clone.Header.Get("Cookie"); existing != "" {
			clone.Header.Set("Cookie", existing+"; "+t.cookie)
		} else {
			clone.Header.Set("Cookie", t.cookie)
		}
	}

	for key, value := range t.headers {
		clone.Header.Set(key, value)
	}

	return t.base.RoundTrip(clone)
}
