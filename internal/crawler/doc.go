// Package crawler drives a crawl over a frontier.
//
// # Architecture
//
// The Crawler type runs a single pull loop:
//
//	IsFinished -> PopNext -> delay -> Fetch -> Handle -> MarkCompleted
//	                                    \        /
//	                                     on error -> MarkFailed -> error policy
//
// The frontier decides what is crawled next and remembers what is done,
// the Fetcher turns a URL into text, and the Handler extracts whatever the
// crawl is after and reports new links through an EnqueueFunc. Relative
// links are resolved against the page they were found on before they reach
// the frontier.
//
// # Errors
//
// Fetch failures are *TransportError and handler failures are
// *HandlerError. Both go to the configured errpolicy.Policy, which may retry
// the URL, log and continue, or halt the crawl. Frontier failures always
// halt the crawl, including ones raised from inside an EnqueueFunc.
//
// # Usage
//
//	f, _ := frontier.OpenLog(frontier.LogPathsIn(dir, "pedigree"))
//	c := crawler.New(f, crawler.NewHTTPFetcher(), handler,
//		crawler.WithCrawlDelay(10*time.Second),
//		crawler.WithErrorPolicy(errpolicy.NewRetrying(errpolicy.NewLogging(nil))))
//	err := c.Crawl(ctx, "https://example.com/")
package crawler
