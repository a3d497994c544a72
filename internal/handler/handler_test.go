package handler

import (
	"context"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nao1215/crawlkeeper/internal/crawler"
)

// recorder collects the links a handler enqueues.
type recorder struct {
	links []string
	err   error
}

func (r *recorder) enqueue(_, newURL string) error {
	if r.err != nil {
		return r.err
	}
	r.links = append(r.links, newURL)
	return nil
}

func equalLinks(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

const indexPage = `<html>
<head><title> Potato Pedigree </title></head>
<body>
  <nav><a href="/">Home</a> <a href="/about">About</a></nav>
  <div id="content">
    <ul class="index">
      <li><a href="variety/1">Bintje</a></li>
      <li><a href="variety/2#history">Russet</a></li>
      <li><a href="variety/1">Bintje again</a></li>
    </ul>
    <a href="https://elsewhere.example/potato">External</a>
    <a href="mailto:info@potato.example">Mail</a>
    <a href="/files/list.pdf">PDF</a>
  </div>
</body>
</html>`

const indexURL = "http://potato.example/catalog/"

func TestParseLinks(t *testing.T) {
	t.Parallel()

	t.Run("collects title and unique absolute links", func(t *testing.T) {
		t.Parallel()

		base, _ := url.Parse(indexURL)
		result, err := ParseLinks(strings.NewReader(indexPage), base)
		if err != nil {
			t.Fatalf("ParseLinks() error = %v", err)
		}

		if result.Title != "Potato Pedigree" {
			t.Errorf("Title = %q", result.Title)
		}
		want := []string{
			"http://potato.example/",
			"http://potato.example/about",
			"http://potato.example/catalog/variety/1",
			"http://potato.example/catalog/variety/2",
			"https://elsewhere.example/potato",
			"http://potato.example/files/list.pdf",
		}
		if !equalLinks(result.Links, want) {
			t.Errorf("Links = %v, want %v", result.Links, want)
		}
	})

	t.Run("honours base element", func(t *testing.T) {
		t.Parallel()

		base, _ := url.Parse("http://potato.example/a/b")
		page := `<html><head><base href="/mirror/"></head><body><a href="x">x</a></body></html>`
		result, err := ParseLinks(strings.NewReader(page), base)
		if err != nil {
			t.Fatalf("ParseLinks() error = %v", err)
		}
		if want := []string{"http://potato.example/mirror/x"}; !equalLinks(result.Links, want) {
			t.Errorf("Links = %v, want %v", result.Links, want)
		}
	})
}

func TestLinkHandler(t *testing.T) {
	t.Parallel()

	t.Run("enqueues filtered links", func(t *testing.T) {
		t.Parallel()

		h := NewLinkHandler(Filter{SameHost: true, IgnorePatterns: []string{"*.pdf"}})
		rec := &recorder{}
		if err := h.Handle(context.Background(), indexPage, indexURL, rec.enqueue); err != nil {
			t.Fatalf("Handle() error = %v", err)
		}

		want := []string{
			"http://potato.example/",
			"http://potato.example/about",
			"http://potato.example/catalog/variety/1",
			"http://potato.example/catalog/variety/2",
		}
		if !equalLinks(rec.links, want) {
			t.Errorf("enqueued %v, want %v", rec.links, want)
		}
	})

	t.Run("returns enqueue error", func(t *testing.T) {
		t.Parallel()

		errDisk := errors.New("disk full")
		rec := &recorder{err: errDisk}
		err := NewLinkHandler(Filter{}).Handle(context.Background(), indexPage, indexURL, rec.enqueue)
		if !errors.Is(err, errDisk) {
			t.Errorf("Handle() error = %v, want %v", err, errDisk)
		}
	})
}

func TestSelectorHandler(t *testing.T) {
	t.Parallel()

	t.Run("requires selectors", func(t *testing.T) {
		t.Parallel()

		if _, err := NewSelectorHandler([]string{" ", ""}, Filter{}); !errors.Is(err, ErrNoSelectors) {
			t.Errorf("NewSelectorHandler() error = %v, want ErrNoSelectors", err)
		}
	})

	t.Run("follows only selected links", func(t *testing.T) {
		t.Parallel()

		h, err := NewSelectorHandler([]string{"#content ul.index"}, Filter{})
		if err != nil {
			t.Fatalf("NewSelectorHandler() error = %v", err)
		}
		rec := &recorder{}
		if err := h.Handle(context.Background(), indexPage, indexURL, rec.enqueue); err != nil {
			t.Fatalf("Handle() error = %v", err)
		}

		want := []string{
			"http://potato.example/catalog/variety/1",
			"http://potato.example/catalog/variety/2",
		}
		if !equalLinks(rec.links, want) {
			t.Errorf("enqueued %v, want %v", rec.links, want)
		}
	})

	t.Run("selector on anchors with filter", func(t *testing.T) {
		t.Parallel()

		h, err := NewSelectorHandler([]string{"#content a"}, Filter{SameHost: true})
		if err != nil {
			t.Fatalf("NewSelectorHandler() error = %v", err)
		}
		rec := &recorder{}
		if err := h.Handle(context.Background(), indexPage, indexURL, rec.enqueue); err != nil {
			t.Fatalf("Handle() error = %v", err)
		}

		want := []string{
			"http://potato.example/catalog/variety/1",
			"http://potato.example/catalog/variety/2",
			"http://potato.example/files/list.pdf",
		}
		if !equalLinks(rec.links, want) {
			t.Errorf("enqueued %v, want %v", rec.links, want)
		}
	})

	t.Run("stops on enqueue error", func(t *testing.T) {
		t.Parallel()

		h, _ := NewSelectorHandler([]string{"a"}, Filter{})
		errDisk := errors.New("disk full")
		rec := &recorder{err: errDisk}
		if err := h.Handle(context.Background(), indexPage, indexURL, rec.enqueue); !errors.Is(err, errDisk) {
			t.Errorf("Handle() error = %v, want %v", err, errDisk)
		}
	})
}

func TestRouter(t *testing.T) {
	t.Parallel()

	var got []string
	named := func(name string) crawler.Handler {
		return crawler.HandlerFunc(func(_ context.Context, _, _ string, _ crawler.EnqueueFunc) error {
			got = append(got, name)
			return nil
		})
	}

	r := NewRouter([]Route{
		{Prefix: "http://potato.example/", Handler: named("site")},
		{Prefix: "http://potato.example/variety/", Handler: named("variety")},
	}, nil)

	ctx := context.Background()
	noop := func(_, _ string) error { return nil }
	if err := r.Handle(ctx, "", "http://potato.example/variety/1", noop); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if err := r.Handle(ctx, "", "http://potato.example/about", noop); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if want := []string{"variety", "site"}; !equalLinks(got, want) {
		t.Errorf("routed to %v, want %v", got, want)
	}

	err := r.Handle(ctx, "", "http://unknown.example/", noop)
	if !errors.Is(err, ErrNoRoute) {
		t.Errorf("Handle() error = %v, want ErrNoRoute", err)
	}

	withFallback := NewRouter(nil, named("fallback"))
	if err := withFallback.Handle(ctx, "", "http://unknown.example/", noop); err != nil {
		t.Errorf("Handle() with fallback error = %v", err)
	}
}

func TestParseFormat(t *testing.T) {
	t.Parallel()

	if f, err := ParseFormat("MD"); err != nil || f != FormatMarkdown {
		t.Errorf("ParseFormat(MD) = %q, %v", f, err)
	}
	if f, err := ParseFormat(""); err != nil || f != FormatHTML {
		t.Errorf("ParseFormat(\"\") = %q, %v", f, err)
	}
	if _, err := ParseFormat("pdf"); !errors.Is(err, ErrInvalidFormat) {
		t.Errorf("ParseFormat(pdf) error = %v, want ErrInvalidFormat", err)
	}
}

func TestFileName(t *testing.T) {
	t.Parallel()

	a := FileName("http://potato.example/variety/1?lang=en", FormatHTML)
	b := FileName("http://potato.example/variety/1?lang=nl", FormatHTML)

	if !strings.HasPrefix(a, "potato.example_variety_1-") || !strings.HasSuffix(a, ".html") {
		t.Errorf("FileName() = %q", a)
	}
	if a == b {
		t.Error("different URLs should produce different file names")
	}
	if strings.ContainsAny(a, "/?:") {
		t.Errorf("FileName() = %q contains unsafe characters", a)
	}
	if got := FileName("root", FormatMarkdown); !strings.HasPrefix(got, "root-") || !strings.HasSuffix(got, ".md") {
		t.Errorf("FileName(root) = %q", got)
	}
}

func TestArchive(t *testing.T) {
	t.Parallel()

	t.Run("stores html and delegates", func(t *testing.T) {
		t.Parallel()

		dir := filepath.Join(t.TempDir(), "out")
		rec := &recorder{}
		a, err := NewArchive(dir, FormatHTML, NewLinkHandler(Filter{SameHost: true}))
		if err != nil {
			t.Fatalf("NewArchive() error = %v", err)
		}

		if err := a.Handle(context.Background(), indexPage, indexURL, rec.enqueue); err != nil {
			t.Fatalf("Handle() error = %v", err)
		}

		data, err := os.ReadFile(filepath.Join(dir, FileName(indexURL, FormatHTML))) //nolint:gosec // test path
		if err != nil {
			t.Fatalf("archived file missing: %v", err)
		}
		if string(data) != indexPage {
			t.Error("archived html differs from page content")
		}
		if len(rec.links) == 0 {
			t.Error("next handler was not called")
		}
	})

	t.Run("stores markdown with front matter", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		a, err := NewArchive(dir, FormatMarkdown, nil)
		if err != nil {
			t.Fatalf("NewArchive() error = %v", err)
		}
		a.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }

		page := `<html><head><title>Bintje</title><script>alert(1)</script></head>
<body><h1>Bintje</h1><p>A <strong>yellow</strong> potato.</p><a href="/variety/2">Russet</a></body></html>`
		pageURL := "http://potato.example/variety/1"
		if err := a.Handle(context.Background(), page, pageURL, (&recorder{}).enqueue); err != nil {
			t.Fatalf("Handle() error = %v", err)
		}

		data, err := os.ReadFile(filepath.Join(dir, FileName(pageURL, FormatMarkdown))) //nolint:gosec // test path
		if err != nil {
			t.Fatalf("archived file missing: %v", err)
		}
		got := string(data)

		for _, want := range []string{
			"---\nurl: http://potato.example/variety/1\n",
			"title: Bintje\n",
			"# Bintje",
			"**yellow**",
			"[Russet](http://potato.example/variety/2)",
		} {
			if !strings.Contains(got, want) {
				t.Errorf("markdown missing %q:\n%s", want, got)
			}
		}
		if strings.Contains(got, "alert(1)") {
			t.Errorf("markdown contains script content:\n%s", got)
		}
	})
}
