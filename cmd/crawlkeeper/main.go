// Package main provides the entry point for the crawlkeeper CLI.
//
// crawlkeeper is a resumable web crawler. Every URL it discovers is written
// to a persistent frontier before it is fetched, so an interrupted crawl
// picks up where it stopped.
//
// Usage:
//
//	crawlkeeper crawl https://example.com/
//	crawlkeeper crawl --job docs
//	crawlkeeper status --job docs
//
// See --help for all available options.
package main

func main() {
	Execute()
}
