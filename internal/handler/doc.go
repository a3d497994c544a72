// Package handler provides crawler.Handler implementations.
//
//   - LinkHandler follows every <a href> on a page (golang.org/x/net/html).
//   - SelectorHandler follows only links matched by CSS selectors (goquery),
//     for sites where the interesting links live in a known part of the page.
//   - Router picks a handler by URL prefix.
//   - Archive stores each page under an output directory as HTML or
//     Markdown and then passes it on to another handler.
//
// LinkHandler and SelectorHandler share a Filter that restricts which
// discovered links are enqueued: same host only, and glob ignore/follow
// patterns on the URL path.
package handler
