package handler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
	"github.com/PuerkitoBio/goquery"
	"gopkg.in/yaml.v3"

	"github.com/nao1215/crawlkeeper/internal/crawler"
)

// Format is the on-disk format of archived pages.
type Format string

const (
	// FormatHTML stores the page content unchanged.
	FormatHTML Format = "html"
	// FormatMarkdown converts the page to GitHub flavored Markdown with a
	// YAML front matter block.
	FormatMarkdown Format = "markdown"
)

// ErrInvalidFormat is returned by ParseFormat for unknown formats.
var ErrInvalidFormat = errors.New("invalid output format: must be html or markdown")

// ParseFormat validates a format name. "md" is accepted for markdown.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "html", "":
		return FormatHTML, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	default:
		return "", ErrInvalidFormat
	}
}

// Archive writes every page it sees to a directory, one file per URL, then
// hands the page to the next handler.
type Archive struct {
	dir    string
	format Format
	next   crawler.Handler
	now    func() time.Time
}

var _ crawler.Handler = (*Archive)(nil)

// NewArchive creates the output directory and returns an Archive. next may
// be nil when pages should only be stored.
func NewArchive(dir string, format Format, next crawler.Handler) (*Archive, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &Archive{dir: dir, format: format, next: next, now: time.Now}, nil
}

// Handle implements crawler.Handler.
func (a *Archive) Handle(ctx context.Context, content, pageURL string, enqueue crawler.EnqueueFunc) error {
	data := []byte(content)
	if a.format == FormatMarkdown {
		converted, err := a.toMarkdown(content, pageURL)
		if err != nil {
			return fmt.Errorf("convert to markdown: %w", err)
		}
		data = []byte(converted)
	}

	path := filepath.Join(a.dir, FileName(pageURL, a.format))
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	if a.next == nil {
		return nil
	}
	return a.next.Handle(ctx, content, pageURL, enqueue)
}

// frontMatter heads every Markdown file.
type frontMatter struct {
	URL       string    `yaml:"url"`
	Title     string    `yaml:"title,omitempty"`
	FetchedAt time.Time `yaml:"fetched_at"`
}

func (a *Archive) toMarkdown(content, pageURL string) (string, error) {
	converter := md.NewConverter("", true, nil)
	converter.Use(plugin.GitHubFlavored())

	// Rewrite links to absolute URLs so the file reads well on its own.
	base, _ := url.Parse(pageURL) //nolint:errcheck // nil base keeps hrefs as written
	converter.AddRules(md.Rule{
		Filter: []string{"a"},
		Replacement: func(_ string, selec *goquery.Selection, _ *md.Options) *string {
			href, exists := selec.Attr("href")
			if !exists || base == nil {
				return nil
			}
			resolved := resolveHref(base, href)
			if resolved == "" {
				return nil
			}
			str := fmt.Sprintf("[%s](%s)", strings.TrimSpace(selec.Text()), resolved)
			return &str
		},
	})

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return "", err
	}
	doc.Find("script, style, noscript").Remove()
	title := strings.TrimSpace(doc.Find("title").First().Text())
	doc.Find("head").Remove()

	body := converter.Convert(doc.Selection)

	header, err := yaml.Marshal(frontMatter{URL: pageURL, Title: title, FetchedAt: a.now().UTC()})
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString("---\n")
	sb.Write(header)
	sb.WriteString("---\n\n")
	sb.WriteString(body)
	sb.WriteString("\n")
	return sb.String(), nil
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// FileName returns a file name for pageURL that is safe on every platform
// and unique per URL: a readable slug of host and path plus a short hash.
func FileName(pageURL string, format Format) string {
	slug := pageURL
	if u, err := url.Parse(pageURL); err == nil && u.Host != "" {
		slug = u.Host + u.Path
	}
	slug = strings.Trim(unsafeChars.ReplaceAllString(slug, "_"), "_.")
	if len(slug) > 80 {
		slug = slug[:80]
	}
	if slug == "" {
		slug = "page"
	}

	sum := sha256.Sum256([]byte(pageURL))
	ext := ".html"
	if format == FormatMarkdown {
		ext = ".md"
	}
	return slug + "-" + hex.EncodeToString(sum[:4]) + ext
}
