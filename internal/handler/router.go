package handler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/nao1215/crawlkeeper/internal/crawler"
)

// ErrNoRoute is returned by Router.Handle when no prefix matches the URL
// and there is no fallback handler.
var ErrNoRoute = errors.New("no handler for url")

// Route maps a URL prefix to a handler.
type Route struct {
	Prefix  string
	Handler crawler.Handler
}

// Router dispatches each page to the handler with the longest matching URL
// prefix.
type Router struct {
	routes   []Route
	fallback crawler.Handler
}

var _ crawler.Handler = (*Router)(nil)

// NewRouter creates a Router. fallback handles URLs no route matches and
// may be nil, in which case such URLs fail with ErrNoRoute.
func NewRouter(routes []Route, fallback crawler.Handler) *Router {
	sorted := make([]Route, len(routes))
	copy(sorted, routes)
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].Prefix) > len(sorted[j].Prefix)
	})
	return &Router{routes: sorted, fallback: fallback}
}

// Match returns the handler for pageURL, or nil.
func (r *Router) Match(pageURL string) crawler.Handler {
	for _, route := range r.routes {
		if strings.HasPrefix(pageURL, route.Prefix) {
			return route.Handler
		}
	}
	return r.fallback
}

// Handle implements crawler.Handler.
func (r *Router) Handle(ctx context.Context, content, pageURL string, enqueue crawler.EnqueueFunc) error {
	h := r.Match(pageURL)
	if h == nil {
		return fmt.Errorf("%w: %s", ErrNoRoute, pageURL)
	}
	return h.Handle(ctx, content, pageURL, enqueue)
}
