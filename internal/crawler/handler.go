package crawler

import "context"

// EnqueueFunc is handed to a Handler so it can report discovered links.
// newURL is resolved against fromURL before it reaches the frontier.
// A returned error means the frontier could not persist the URL; the crawl
// stops even if the handler ignores it.
type EnqueueFunc func(fromURL, newURL string) error

// Handler processes the content of one page.
type Handler interface {
	Handle(ctx context.Context, content, url string, enqueue EnqueueFunc) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, content, url string, enqueue EnqueueFunc) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, content, url string, enqueue EnqueueFunc) error {
	return f(ctx, content, url, enqueue)
}

// Fetcher retrieves the content of a URL. Failures should be reported as
// *TransportError.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, url string) (string, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, url string) (string, error) {
	return f(ctx, url)
}
