package frontier

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func openLog(t *testing.T, paths LogPaths, opts ...Option) *LogFrontier {
	t.Helper()
	f, err := OpenLog(paths, opts...)
	if err != nil {
		t.Fatalf("OpenLog() error = %v", err)
	}
	return f
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path) //nolint:gosec // test file
	if err != nil {
		t.Fatalf("failed to read %s: %v", path, err)
	}
	return string(data)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

func TestLogPathsIn(t *testing.T) {
	t.Parallel()

	paths := LogPathsIn("/state", "pedigree")
	want := LogPaths{
		Visited:  filepath.Join("/state", "pedigree_visited.log"),
		Queue:    filepath.Join("/state", "pedigree_queue.log"),
		Cursor:   filepath.Join("/state", "pedigree_queue.cursor"),
		Failures: filepath.Join("/state", "pedigree_failures.log"),
	}
	if paths != want {
		t.Errorf("LogPathsIn() = %+v, want %+v", paths, want)
	}
}

func TestOpenLog(t *testing.T) {
	t.Parallel()

	t.Run("creates missing directories", func(t *testing.T) {
		t.Parallel()

		dir := filepath.Join(t.TempDir(), "nested", "state")
		f := openLog(t, LogPathsIn(dir, "job"))
		defer f.Close()

		if _, err := os.Stat(filepath.Join(dir, "job_queue.log")); err != nil {
			t.Errorf("queue log was not created: %v", err)
		}
	})

	t.Run("bad path is a persistence error", func(t *testing.T) {
		t.Parallel()

		blocker := filepath.Join(t.TempDir(), "file")
		writeFile(t, blocker, "not a directory")

		_, err := OpenLog(LogPathsIn(filepath.Join(blocker, "state"), "job"))
		if err == nil {
			t.Fatal("OpenLog() expected error for path below a regular file")
		}
		if !IsPersistence(err) {
			t.Errorf("OpenLog() error = %v, want PersistenceError", err)
		}
	})

	t.Run("empty path is rejected", func(t *testing.T) {
		t.Parallel()

		_, err := OpenLog(LogPaths{})
		if !IsPersistence(err) {
			t.Errorf("OpenLog() error = %v, want PersistenceError", err)
		}
	})
}

func TestLogFrontier_Files(t *testing.T) {
	t.Parallel()

	t.Run("every enqueue appends one queue line", func(t *testing.T) {
		t.Parallel()

		paths := LogPathsIn(t.TempDir(), "job")
		f := openLog(t, paths)
		defer f.Close()

		mustEnqueue(t, f, "a", "b", "a")

		if got := readFile(t, paths.Queue); got != "a\nb\n" {
			t.Errorf("queue log = %q, want %q", got, "a\nb\n")
		}
	})

	t.Run("rejected urls leave the queue log untouched", func(t *testing.T) {
		t.Parallel()

		paths := LogPathsIn(t.TempDir(), "job")
		f := openLog(t, paths)
		defer f.Close()

		mustEnqueue(t, f, "a")
		_ = f.Enqueue(context.Background(), "")
		_ = f.Enqueue(context.Background(), "x\ny")
		mustEnqueue(t, f, "b")

		if got := readFile(t, paths.Queue); got != "a\nb\n" {
			t.Errorf("queue log = %q, want %q", got, "a\nb\n")
		}
		if got := f.State("x\ny"); got != StateUnknown {
			t.Errorf("State(x\\ny) = %v, want %v", got, StateUnknown)
		}
	})

	t.Run("completion appends to visited log and advances cursor", func(t *testing.T) {
		t.Parallel()

		paths := LogPathsIn(t.TempDir(), "job")
		f := openLog(t, paths)
		defer f.Close()

		mustEnqueue(t, f, "a", "b")
		mustComplete(t, f, mustPop(t, f))

		if got := readFile(t, paths.Visited); got != "a\n" {
			t.Errorf("visited log = %q, want %q", got, "a\n")
		}
		if got := readFile(t, paths.Cursor); got != "1\n" {
			t.Errorf("cursor file = %q, want %q", got, "1\n")
		}

		mustFail(t, f, mustPop(t, f))
		if got := readFile(t, paths.Failures); got != "b\n" {
			t.Errorf("failures log = %q, want %q", got, "b\n")
		}
		if got := readFile(t, paths.Cursor); got != "2\n" {
			t.Errorf("cursor file = %q, want %q", got, "2\n")
		}
	})

	t.Run("cursor grows past ten without leftover digits", func(t *testing.T) {
		t.Parallel()

		paths := LogPathsIn(t.TempDir(), "job")
		f := openLog(t, paths)
		defer f.Close()

		for _, u := range strings.Split("a b c d e f g h i j k l", " ") {
			mustEnqueue(t, f, u)
		}
		drain(t, f)

		if got := readFile(t, paths.Cursor); got != "12\n" {
			t.Errorf("cursor file = %q, want %q", got, "12\n")
		}
	})

	t.Run("lifo cursor waits for the oldest outstanding line", func(t *testing.T) {
		t.Parallel()

		paths := LogPathsIn(t.TempDir(), "job")
		f := openLog(t, paths, WithOrder(LIFO))
		defer f.Close()

		mustEnqueue(t, f, "a", "b", "c")
		mustComplete(t, f, mustPop(t, f)) // c
		mustComplete(t, f, mustPop(t, f)) // b
		if f.Cursor() != 0 {
			t.Errorf("Cursor() = %d, want 0 while line 0 is outstanding", f.Cursor())
		}

		mustComplete(t, f, mustPop(t, f)) // a
		if f.Cursor() != 3 {
			t.Errorf("Cursor() = %d, want 3", f.Cursor())
		}
	})
}

func TestLogFrontier_Replay(t *testing.T) {
	t.Parallel()

	t.Run("torn trailing line is truncated", func(t *testing.T) {
		t.Parallel()

		paths := LogPathsIn(t.TempDir(), "job")
		writeFile(t, paths.Queue, "a\nb\nhalf-writ")

		f := openLog(t, paths)
		defer f.Close()

		got := drain(t, f)
		if want := []string{"a", "b"}; !equalOrder(got, want) {
			t.Errorf("pop order = %v, want %v", got, want)
		}
		if got := readFile(t, paths.Queue); got != "a\nb\n" {
			t.Errorf("queue log = %q, want %q", got, "a\nb\n")
		}
	})

	t.Run("failure recorded before cursor write is not replayed", func(t *testing.T) {
		t.Parallel()

		paths := LogPathsIn(t.TempDir(), "job")
		// Crash after appending the failure but before the cursor moved.
		writeFile(t, paths.Queue, "a\nb\n")
		writeFile(t, paths.Failures, "a\n")
		writeFile(t, paths.Cursor, "0\n")

		f := openLog(t, paths)
		defer f.Close()

		if got := f.State("a"); got != StateFailed {
			t.Errorf("State(a) = %v, want %v", got, StateFailed)
		}
		got := drain(t, f)
		if want := []string{"b"}; !equalOrder(got, want) {
			t.Errorf("pop order = %v, want %v", got, want)
		}
		if f.Cursor() != 2 {
			t.Errorf("Cursor() = %d, want 2", f.Cursor())
		}
	})

	t.Run("completion recorded before cursor write is not replayed", func(t *testing.T) {
		t.Parallel()

		paths := LogPathsIn(t.TempDir(), "job")
		writeFile(t, paths.Queue, "a\nb\n")
		writeFile(t, paths.Visited, "a\n")

		f := openLog(t, paths)
		defer f.Close()

		if f.Cursor() != 1 {
			t.Errorf("Cursor() = %d, want 1", f.Cursor())
		}
		if got := readFile(t, paths.Cursor); got != "1\n" {
			t.Errorf("cursor file = %q, want %q", got, "1\n")
		}
		if got := drain(t, f); !equalOrder(got, []string{"b"}) {
			t.Errorf("pop order = %v, want [b]", got)
		}
	})

	t.Run("retried url keeps only its last line", func(t *testing.T) {
		t.Parallel()

		paths := LogPathsIn(t.TempDir(), "job")
		writeFile(t, paths.Queue, "a\nb\na\n")
		writeFile(t, paths.Failures, "a\n")
		writeFile(t, paths.Cursor, "1\n")

		f := openLog(t, paths)
		defer f.Close()

		if got := drain(t, f); !equalOrder(got, []string{"b", "a"}) {
			t.Errorf("pop order = %v, want [b a]", got)
		}
	})

	t.Run("unterminated cursor replays from the start", func(t *testing.T) {
		t.Parallel()

		paths := LogPathsIn(t.TempDir(), "job")
		writeFile(t, paths.Queue, "a\nb\n")
		writeFile(t, paths.Visited, "a\n")
		writeFile(t, paths.Cursor, "7")

		f := openLog(t, paths)
		defer f.Close()

		if got := drain(t, f); !equalOrder(got, []string{"b"}) {
			t.Errorf("pop order = %v, want [b]", got)
		}
	})

	t.Run("garbage cursor is a persistence error", func(t *testing.T) {
		t.Parallel()

		paths := LogPathsIn(t.TempDir(), "job")
		writeFile(t, paths.Cursor, "seven\n")

		_, err := OpenLog(paths)
		if !IsPersistence(err) {
			t.Errorf("OpenLog() error = %v, want PersistenceError", err)
		}
	})
}

func TestLogFrontier_Closed(t *testing.T) {
	t.Parallel()

	f := openLog(t, LogPathsIn(t.TempDir(), "job"))
	if err := f.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := f.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if err := f.Enqueue(context.Background(), "a"); err != ErrClosed {
		t.Errorf("Enqueue() after Close error = %v, want ErrClosed", err)
	}
}

func TestLogFrontier_MarkWithoutPop(t *testing.T) {
	t.Parallel()

	paths := LogPathsIn(t.TempDir(), "job")
	f := openLog(t, paths)
	defer f.Close()

	mustEnqueue(t, f, "a")
	mustComplete(t, f, "a")
	mustFail(t, f, "a")

	if got := f.State("a"); got != StateQueued {
		t.Errorf("State(a) = %v, want %v", got, StateQueued)
	}
	if got := readFile(t, paths.Visited); got != "" {
		t.Errorf("visited log = %q, want empty", got)
	}
}
