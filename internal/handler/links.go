package handler

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"golang.org/x/net/html"

	"github.com/nao1215/crawlkeeper/internal/crawler"
)

// ParseResult is what ParseLinks extracts from a page.
type ParseResult struct {
	// Title is the page title from the <title> tag.
	Title string

	// Links are the absolute URLs of every <a href>, in document order and
	// without duplicates or fragments.
	Links []string
}

// ParseLinks walks an HTML document and collects its title and links.
// Relative hrefs are resolved against base, or against the document's
// <base href> when it has one.
func ParseLinks(r io.Reader, base *url.URL) (*ParseResult, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, err
	}

	result := &ParseResult{Links: make([]string, 0)}
	seen := make(map[string]bool)

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "title":
				if result.Title == "" && n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
					result.Title = strings.TrimSpace(n.FirstChild.Data)
				}
			case "base":
				if href := getAttr(n, "href"); href != "" {
					if u, err := url.Parse(href); err == nil {
						base = base.ResolveReference(u)
					}
				}
			case "a", "area":
				if link := resolveHref(base, getAttr(n, "href")); link != "" && !seen[link] {
					seen[link] = true
					result.Links = append(result.Links, link)
				}
			}
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return result, nil
}

// getAttr retrieves an attribute value from an HTML node.
func getAttr(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}

// LinkHandler enqueues every link on a page that passes its Filter.
type LinkHandler struct {
	filter Filter
}

var _ crawler.Handler = (*LinkHandler)(nil)

// NewLinkHandler creates a LinkHandler.
func NewLinkHandler(filter Filter) *LinkHandler {
	return &LinkHandler{filter: filter}
}

// Handle implements crawler.Handler.
func (h *LinkHandler) Handle(_ context.Context, content, pageURL string, enqueue crawler.EnqueueFunc) error {
	base, err := url.Parse(pageURL)
	if err != nil {
		return fmt.Errorf("parse page url: %w", err)
	}

	result, err := ParseLinks(strings.NewReader(content), base)
	if err != nil {
		return fmt.Errorf("parse html: %w", err)
	}

	for _, link := range result.Links {
		if !h.filter.Allow(pageURL, link) {
			continue
		}
		if err := enqueue(pageURL, link); err != nil {
			return err
		}
	}
	return nil
}
