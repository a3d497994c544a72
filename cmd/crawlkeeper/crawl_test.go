package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nao1215/crawlkeeper/internal/config"
	"github.com/nao1215/crawlkeeper/internal/handler"
	"github.com/nao1215/crawlkeeper/internal/report"
	"github.com/spf13/cobra"
)

// potatoSite serves a tiny catalog and counts requests per path.
type potatoSite struct {
	*httptest.Server

	mu   sync.Mutex
	hits map[string]int
}

func newPotatoSite(t *testing.T) *potatoSite {
	t.Helper()

	s := &potatoSite{hits: make(map[string]int)}
	pages := map[string]string{
		"/":          `<a href="/variety/1">Bintje</a> <a href="/variety/2">Russet</a> <a href="/broken">?</a>`,
		"/variety/1": `<h1>Bintje</h1><a href="/variety/2">Russet</a><a href="/">home</a>`,
		"/variety/2": `<h1>Russet</h1>`,
	}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.hits[r.URL.Path]++
		s.mu.Unlock()

		page, ok := pages[r.URL.Path]
		if !ok {
			http.Error(w, "gone", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, "<html><body>%s</body></html>", page)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *potatoSite) hitCount(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

func (s *potatoSite) totalHits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, v := range s.hits {
		n += v
	}
	return n
}

// writeConfig writes a configuration file into a temp dir.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "crawlkeeper.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

const emptyConfig = "defaults:\n  crawlDelay: 0s\n"

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := NewRootCmd()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

// readStatus runs "status --json" and decodes the report.
func readStatus(t *testing.T, args ...string) *report.Report {
	t.Helper()
	out, err := execute(t, append([]string{"status", "--json"}, args...)...)
	if err != nil {
		t.Fatalf("status error = %v", err)
	}
	var r report.Report
	if err := json.Unmarshal([]byte(out), &r); err != nil {
		t.Fatalf("status output is not JSON: %v\n%s", err, out)
	}
	return &r
}

// parseCrawlFlags parses args into the crawl command without running it.
func parseCrawlFlags(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd, _, err := NewRootCmd().Find([]string{"crawl"})
	if err != nil {
		t.Fatalf("crawl command not found: %v", err)
	}
	if err := cmd.ParseFlags(args); err != nil {
		t.Fatalf("ParseFlags() error = %v", err)
	}
	return cmd
}

func TestNewCrawlCmd(t *testing.T) {
	t.Parallel()

	cmd := NewCrawlCmd()
	if cmd.Use != "crawl [root-url...]" {
		t.Errorf("unexpected use %q", cmd.Use)
	}

	flags := []struct {
		name      string
		shorthand string
		def       string
	}{
		{"job", "j", "[]"},
		{"all", "a", "false"},
		{"name", "n", config.DefaultJobName},
		{"backend", "", "log"},
		{"order", "", "fifo"},
		{"crawl-delay", "d", "10s"},
		{"max-failures", "", "3"},
		{"error-policy", "", "retry"},
		{"timeout", "t", "10s"},
		{"batch", "b", "1"},
		{"fail-fast", "", "false"},
		{"embedded-tor", "", "false"},
		{"metrics-addr", "", ""},
		{"output-dir", "o", ""},
	}
	for _, tt := range flags {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			flag := cmd.Flags().Lookup(tt.name)
			if flag == nil {
				t.Fatalf("expected %s flag", tt.name)
			}
			if flag.Shorthand != tt.shorthand {
				t.Errorf("shorthand = %q, want %q", flag.Shorthand, tt.shorthand)
			}
			if flag.DefValue != tt.def {
				t.Errorf("default = %q, want %q", flag.DefValue, tt.def)
			}
		})
	}
}

func TestBuildConfig(t *testing.T) {
	t.Parallel()

	cfgPath := writeConfig(t, `defaults:
  crawlDelay: 0s
  sameHost: true
  headers:
    X-Team: potato
jobs:
  pedigree:
    roots: [https://potato.example/pedigree]
    order: lifo
  varieties:
    roots: [https://potato.example/varieties]
    backend: sqlite
`)

	t.Run("root urls build an ad-hoc job", func(t *testing.T) {
		t.Parallel()

		cmd := parseCrawlFlags(t, "--config", cfgPath, "--name", "adhoc", "--state-dir", "/tmp/state",
			"--header", "Authorization=Bearer x", "--batch", "3",
			"https://potato.example/", "https://potato.example/other")
		cfg, err := buildConfig(cmd, cmd.Flags().Args())
		if err != nil {
			t.Fatalf("buildConfig() error = %v", err)
		}
		if len(cfg.Jobs) != 1 {
			t.Fatalf("got %d jobs, want 1", len(cfg.Jobs))
		}
		job := cfg.Jobs[0]
		if job.Name != "adhoc" || len(job.Roots) != 2 {
			t.Errorf("job = %s with roots %v", job.Name, job.Roots)
		}
		if job.CrawlDelay != 0 || !job.SameHost {
			t.Error("file defaults should apply to the ad-hoc job")
		}
		if job.StateDir != "/tmp/state" {
			t.Errorf("StateDir = %q", job.StateDir)
		}
		if job.Headers["X-Team"] != "potato" || job.Headers["Authorization"] != "Bearer x" {
			t.Errorf("Headers = %v, want file and flag headers merged", job.Headers)
		}
		if cfg.BatchSize != 3 {
			t.Errorf("BatchSize = %d, want 3", cfg.BatchSize)
		}
		if err := cfg.Validate(); err != nil {
			t.Errorf("Validate() error = %v", err)
		}
	})

	t.Run("flags override file jobs", func(t *testing.T) {
		t.Parallel()

		cmd := parseCrawlFlags(t, "--config", cfgPath, "--all", "--order", "fifo", "--crawl-delay", "2s")
		cfg, err := buildConfig(cmd, cmd.Flags().Args())
		if err != nil {
			t.Fatalf("buildConfig() error = %v", err)
		}
		if len(cfg.Jobs) != 2 || cfg.Jobs[0].Name != "pedigree" || cfg.Jobs[1].Name != "varieties" {
			t.Fatalf("jobs = %v", cfg.Jobs)
		}
		for _, job := range cfg.Jobs {
			if job.Order != "fifo" || job.CrawlDelay != 2*time.Second {
				t.Errorf("job %s: order %q delay %v, want flag values", job.Name, job.Order, job.CrawlDelay)
			}
		}
		if cfg.Jobs[1].Backend != "sqlite" {
			t.Error("unset flags must not override file settings")
		}
	})

	t.Run("unknown job", func(t *testing.T) {
		t.Parallel()

		cmd := parseCrawlFlags(t, "--config", cfgPath, "--job", "missing")
		if _, err := buildConfig(cmd, nil); !errors.Is(err, config.ErrUnknownJob) {
			t.Errorf("buildConfig() error = %v, want ErrUnknownJob", err)
		}
	})

	t.Run("roots and job are exclusive", func(t *testing.T) {
		t.Parallel()

		cmd := parseCrawlFlags(t, "--config", cfgPath, "--job", "pedigree", "https://potato.example/")
		if _, err := buildConfig(cmd, cmd.Flags().Args()); err == nil {
			t.Error("expected error when mixing root URLs and --job")
		}
	})

	t.Run("missing explicit config file", func(t *testing.T) {
		t.Parallel()

		cmd := parseCrawlFlags(t, "--config", filepath.Join(t.TempDir(), "nope.yaml"), "https://potato.example/")
		if _, err := buildConfig(cmd, cmd.Flags().Args()); !errors.Is(err, config.ErrConfigNotFound) {
			t.Errorf("buildConfig() error = %v, want ErrConfigNotFound", err)
		}
	})
}

func TestBuildHandler(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		setup func(j *config.Job)
		check func(t *testing.T, h any)
	}{
		{
			name:  "all links by default",
			setup: func(*config.Job) {},
			check: func(t *testing.T, h any) {
				if _, ok := h.(*handler.LinkHandler); !ok {
					t.Errorf("handler = %T, want *handler.LinkHandler", h)
				}
			},
		},
		{
			name:  "selectors",
			setup: func(j *config.Job) { j.Selectors = []string{"ul.index a"} },
			check: func(t *testing.T, h any) {
				if _, ok := h.(*handler.SelectorHandler); !ok {
					t.Errorf("handler = %T, want *handler.SelectorHandler", h)
				}
			},
		},
		{
			name: "routes without selectors have no fallback",
			setup: func(j *config.Job) {
				j.Routes = []config.Route{{Prefix: "https://potato.example/catalog/", Selectors: []string{"td a"}}}
			},
			check: func(t *testing.T, h any) {
				r, ok := h.(*handler.Router)
				if !ok {
					t.Fatalf("handler = %T, want *handler.Router", h)
				}
				if r.Match("https://potato.example/catalog/1") == nil {
					t.Error("catalog pages should match the route")
				}
				if r.Match("https://potato.example/about") != nil {
					t.Error("other pages should have no handler")
				}
			},
		},
		{
			name: "routes fall back to selectors",
			setup: func(j *config.Job) {
				j.Selectors = []string{"a.next"}
				j.Routes = []config.Route{{Prefix: "https://potato.example/catalog/", Selectors: []string{"td a"}}}
			},
			check: func(t *testing.T, h any) {
				r := h.(*handler.Router)
				if _, ok := r.Match("https://potato.example/about").(*handler.SelectorHandler); !ok {
					t.Error("unmatched pages should use the job selectors")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			job := config.NewJob("test")
			tt.setup(job)
			h, err := buildHandler(job)
			if err != nil {
				t.Fatalf("buildHandler() error = %v", err)
			}
			tt.check(t, h)
		})
	}

	t.Run("output dir wraps in archive", func(t *testing.T) {
		t.Parallel()
		job := config.NewJob("test")
		job.OutputDir = filepath.Join(t.TempDir(), "pages")
		job.OutputFormat = "markdown"
		h, err := buildHandler(job)
		if err != nil {
			t.Fatalf("buildHandler() error = %v", err)
		}
		if _, ok := h.(*handler.Archive); !ok {
			t.Errorf("handler = %T, want *handler.Archive", h)
		}
	})

	t.Run("invalid output format", func(t *testing.T) {
		t.Parallel()
		job := config.NewJob("test")
		job.OutputDir = t.TempDir()
		job.OutputFormat = "pdf"
		if _, err := buildHandler(job); !errors.Is(err, handler.ErrInvalidFormat) {
			t.Errorf("buildHandler() error = %v, want ErrInvalidFormat", err)
		}
	})
}

func TestCrawlCmd_EndToEnd(t *testing.T) {
	t.Parallel()

	site := newPotatoSite(t)
	cfgPath := writeConfig(t, emptyConfig)
	stateDir := t.TempDir()
	outDir := t.TempDir()

	out, err := execute(t, "crawl", "--config", cfgPath, "--name", "catalog",
		"--state-dir", stateDir, "--max-failures", "2",
		"--output-dir", outDir, "--output-format", "markdown",
		site.URL+"/")
	if err != nil {
		t.Fatalf("crawl error = %v", err)
	}
	if !strings.Contains(out, "JOB catalog") || !strings.Contains(out, "Status:    Finished") {
		t.Errorf("unexpected summary:\n%s", out)
	}

	for _, path := range []string{"/", "/variety/1", "/variety/2"} {
		if n := site.hitCount(path); n != 1 {
			t.Errorf("%s fetched %d times, want 1", path, n)
		}
	}
	if n := site.hitCount("/broken"); n != 2 {
		t.Errorf("/broken fetched %d times, want 2 (max failures)", n)
	}

	entries, err := os.ReadDir(outDir)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 3 {
		t.Errorf("archived %d pages, want 3", len(entries))
	}

	r := readStatus(t, "--config", cfgPath, "--name", "catalog", "--state-dir", stateDir, "--max-failures", "2")
	if len(r.Jobs) != 1 {
		t.Fatalf("status jobs = %d, want 1", len(r.Jobs))
	}
	got := r.Jobs[0]
	if got.Stats.Completed != 3 || got.Stats.Abandoned != 1 || got.Stats.Queued != 0 {
		t.Errorf("Stats = %+v, want 3 completed and 1 abandoned", got.Stats)
	}
	if !got.Finished {
		t.Error("status should report the job as finished")
	}

	t.Run("second run resumes without refetching", func(t *testing.T) {
		before := site.totalHits()
		if _, err := execute(t, "crawl", "--config", cfgPath, "--name", "catalog",
			"--state-dir", stateDir, "--max-failures", "2", site.URL+"/"); err != nil {
			t.Fatalf("crawl error = %v", err)
		}
		if after := site.totalHits(); after != before {
			t.Errorf("second run made %d requests, want 0", after-before)
		}
	})
}

func TestCrawlCmd_SQLiteBackend(t *testing.T) {
	t.Parallel()

	site := newPotatoSite(t)
	cfgPath := writeConfig(t, emptyConfig)
	stateDir := t.TempDir()

	if _, err := execute(t, "crawl", "--config", cfgPath, "--name", "lite", "--backend", "sqlite",
		"--state-dir", stateDir, "--error-policy", "log", "--order", "lifo", site.URL+"/"); err != nil {
		t.Fatalf("crawl error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(stateDir, "lite.db")); err != nil {
		t.Errorf("sqlite frontier not created: %v", err)
	}
	if n := site.hitCount("/broken"); n != 1 {
		t.Errorf("/broken fetched %d times, want 1 with the log policy", n)
	}
}

func TestCrawlCmd_ThrowPolicyFails(t *testing.T) {
	t.Parallel()

	site := newPotatoSite(t)
	cfgPath := writeConfig(t, emptyConfig)

	out, err := execute(t, "crawl", "--config", cfgPath, "--state-dir", t.TempDir(),
		"--error-policy", "throw", site.URL+"/broken")
	if !errors.Is(err, errJobsFailed) {
		t.Fatalf("crawl error = %v, want errJobsFailed", err)
	}
	if !strings.Contains(out, "Error - ") {
		t.Errorf("summary should show the job error:\n%s", out)
	}
}

func TestCrawlCmd_ConfiguredJobs(t *testing.T) {
	t.Parallel()

	site := newPotatoSite(t)
	stateDir := t.TempDir()
	cfgPath := writeConfig(t, fmt.Sprintf(`defaults:
  crawlDelay: 0s
  stateDir: %s
jobs:
  first:
    roots: [%s/variety/1]
    followPatterns: ["/variety/*"]
  second:
    roots: [%s/variety/2]
`, stateDir, site.URL, site.URL))

	out, err := execute(t, "crawl", "--config", cfgPath, "--all", "--batch", "2", "--markdown")
	if err != nil {
		t.Fatalf("crawl error = %v", err)
	}
	if !strings.Contains(out, "## Job `first`") || !strings.Contains(out, "## Job `second`") {
		t.Errorf("markdown summary should list both jobs:\n%s", out)
	}
	if site.hitCount("/") != 0 {
		t.Error("follow patterns should keep the first job out of /")
	}

	r := readStatus(t, "--config", cfgPath, "--all")
	if len(r.Jobs) != 2 {
		t.Fatalf("status jobs = %d, want 2", len(r.Jobs))
	}
	if r.Jobs[0].Stats.Completed != 2 || r.Jobs[1].Stats.Completed != 1 {
		t.Errorf("completed = %d, %d, want 2, 1", r.Jobs[0].Stats.Completed, r.Jobs[1].Stats.Completed)
	}
}

func TestCrawlCmd_InvalidConfig(t *testing.T) {
	t.Parallel()

	cfgPath := writeConfig(t, emptyConfig)

	tests := []struct {
		name string
		args []string
		want error
	}{
		{"no job", []string{"crawl", "--config", cfgPath}, config.ErrNoJob},
		{"bad root", []string{"crawl", "--config", cfgPath, "ftp://potato.example/"}, config.ErrInvalidRoot},
		{"bad batch", []string{"crawl", "--config", cfgPath, "--batch", "0", "https://potato.example/"}, config.ErrInvalidBatchSize},
		{"tor conflict", []string{"crawl", "--config", cfgPath, "--embedded-tor", "--socks-proxy", "127.0.0.1:9050", "https://potato.example/"}, config.ErrConflictingProxy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := execute(t, tt.args...); !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}
