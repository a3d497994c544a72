package main

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewStatusCmd(t *testing.T) {
	t.Parallel()

	cmd := NewStatusCmd()
	for _, name := range []string{"job", "all", "name", "state-dir", "backend", "max-failures", "markdown", "json"} {
		if cmd.Flags().Lookup(name) == nil {
			t.Errorf("expected %s flag", name)
		}
	}
}

func TestStatusCmd(t *testing.T) {
	t.Parallel()

	site := newPotatoSite(t)
	cfgPath := writeConfig(t, emptyConfig)
	stateDir := t.TempDir()

	if _, err := execute(t, "crawl", "--config", cfgPath, "--name", "tubers",
		"--state-dir", stateDir, "--max-failures", "1", site.URL+"/variety/1"); err != nil {
		t.Fatalf("crawl error = %v", err)
	}

	t.Run("text", func(t *testing.T) {
		t.Parallel()

		out, err := execute(t, "status", "--config", cfgPath, "--name", "tubers", "--state-dir", stateDir)
		if err != nil {
			t.Fatalf("status error = %v", err)
		}
		for _, want := range []string{"JOB tubers", "Status:    Finished", "Completed:", "Queued:"} {
			if !strings.Contains(out, want) {
				t.Errorf("expected output to contain %q\n%s", want, out)
			}
		}
	})

	t.Run("markdown", func(t *testing.T) {
		t.Parallel()

		out, err := execute(t, "status", "--config", cfgPath, "--name", "tubers", "--state-dir", stateDir, "--markdown")
		if err != nil {
			t.Fatalf("status error = %v", err)
		}
		if !strings.Contains(out, "# Crawl Status") || !strings.Contains(out, "[!WARNING]") {
			t.Errorf("unexpected markdown:\n%s", out)
		}
	})

	t.Run("json", func(t *testing.T) {
		t.Parallel()

		r := readStatus(t, "--config", cfgPath, "--name", "tubers", "--state-dir", stateDir)
		if got := r.Jobs[0].Stats.Completed; got != 3 {
			t.Errorf("Completed = %d, want 3", got)
		}
	})

	t.Run("markdown and json are exclusive", func(t *testing.T) {
		t.Parallel()

		_, err := execute(t, "status", "--config", cfgPath, "--state-dir", stateDir, "--markdown", "--json")
		if err == nil {
			t.Error("expected error for --markdown with --json")
		}
	})

	t.Run("missing state", func(t *testing.T) {
		t.Parallel()

		_, err := execute(t, "status", "--config", cfgPath, "--name", "nothing",
			"--state-dir", filepath.Join(t.TempDir(), "absent"))
		if !errors.Is(err, errNoState) {
			t.Errorf("status error = %v, want errNoState", err)
		}
	})
}
