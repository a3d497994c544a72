package handler

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/nao1215/crawlkeeper/internal/crawler"
)

// ErrNoSelectors is returned by NewSelectorHandler without selectors.
var ErrNoSelectors = errors.New("selector handler needs at least one CSS selector")

// SelectorHandler enqueues the links matched by CSS selectors, e.g.
// "#content ul.index a" for an index page whose other links are navigation
// noise. Matched elements without an href are searched for nested <a href>.
type SelectorHandler struct {
	selectors []string
	filter    Filter
}

var _ crawler.Handler = (*SelectorHandler)(nil)

// NewSelectorHandler creates a SelectorHandler.
func NewSelectorHandler(selectors []string, filter Filter) (*SelectorHandler, error) {
	cleaned := make([]string, 0, len(selectors))
	for _, s := range selectors {
		if s = strings.TrimSpace(s); s != "" {
			cleaned = append(cleaned, s)
		}
	}
	if len(cleaned) == 0 {
		return nil, ErrNoSelectors
	}
	return &SelectorHandler{selectors: cleaned, filter: filter}, nil
}

// Handle implements crawler.Handler.
func (h *SelectorHandler) Handle(_ context.Context, content, pageURL string, enqueue crawler.EnqueueFunc) error {
	base, err := url.Parse(pageURL)
	if err != nil {
		return fmt.Errorf("parse page url: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return fmt.Errorf("parse html: %w", err)
	}

	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if u, err := url.Parse(href); err == nil {
			base = base.ResolveReference(u)
		}
	}

	seen := make(map[string]bool)
	var enqueueErr error
	for _, sel := range h.selectors {
		doc.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			anchors := s
			if _, ok := s.Attr("href"); !ok {
				anchors = s.Find("a[href]")
			}
			anchors.EachWithBreak(func(_ int, a *goquery.Selection) bool {
				href, _ := a.Attr("href")
				link := resolveHref(base, href)
				if link == "" || seen[link] || !h.filter.Allow(pageURL, link) {
					return true
				}
				seen[link] = true
				if err := enqueue(pageURL, link); err != nil {
					enqueueErr = err
					return false
				}
				return true
			})
			return enqueueErr == nil
		})
		if enqueueErr != nil {
			return enqueueErr
		}
	}
	return nil
}
