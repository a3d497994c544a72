package frontier

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// LogPaths lists the files used by LogFrontier.
type LogPaths struct {
	// Visited receives one line per completed URL.
	Visited string

	// Queue receives one line per accepted Enqueue.
	Queue string

	// Cursor holds the number of queue lines already consumed.
	Cursor string

	// Failures receives one line per MarkFailed.
	Failures string
}

// LogPathsIn returns the conventional file names for a job called name
// inside dir, e.g. pedigree_visited.log and pedigree_queue.log.
func LogPathsIn(dir, name string) LogPaths {
	return LogPaths{
		Visited:  filepath.Join(dir, name+"_visited.log"),
		Queue:    filepath.Join(dir, name+"_queue.log"),
		Cursor:   filepath.Join(dir, name+"_queue.cursor"),
		Failures: filepath.Join(dir, name+"_failures.log"),
	}
}

// queueEntry is a queued URL and the queue-log line that put it there.
type queueEntry struct {
	url  string
	line int
}

// LogFrontier is a Frontier persisted in append-only text logs.
//
// Every mutating call appends and fsyncs before it returns. The queue log is
// never rewritten; the cursor file records how many of its leading lines
// have been consumed by MarkCompleted or MarkFailed.
type LogFrontier struct {
	mu sync.Mutex

	paths  LogPaths
	opts   options
	closed bool

	visitedFile  *os.File
	queueFile    *os.File
	cursorFile   *os.File
	failuresFile *os.File

	visited    map[string]struct{}
	failures   map[string]int
	queued     map[string]int
	inProgress map[string]int
	queue      []queueEntry

	// consumed holds consumed queue lines at or beyond cursor.
	consumed  map[int]struct{}
	cursor    int
	lineCount int
}

var _ Frontier = (*LogFrontier)(nil)

// OpenLog opens or creates the logs at paths and replays them.
// Missing files are treated as empty. A trailing line without a newline is
// the remains of an interrupted write and is cut off.
func OpenLog(paths LogPaths, opts ...Option) (*LogFrontier, error) {
	f := &LogFrontier{
		paths:      paths,
		opts:       newOptions(opts),
		visited:    make(map[string]struct{}),
		failures:   make(map[string]int),
		queued:     make(map[string]int),
		inProgress: make(map[string]int),
		consumed:   make(map[int]struct{}),
	}

	for _, p := range []string{paths.Visited, paths.Queue, paths.Cursor, paths.Failures} {
		if p == "" {
			return nil, persistErr("open", p, errors.New("empty path"))
		}
		if err := os.MkdirAll(filepath.Dir(p), 0750); err != nil {
			return nil, persistErr("create directory", filepath.Dir(p), err)
		}
	}

	visitedLines, err := f.readLog(paths.Visited)
	if err != nil {
		return nil, err
	}
	failureLines, err := f.readLog(paths.Failures)
	if err != nil {
		return nil, err
	}
	queueLines, err := f.readLog(paths.Queue)
	if err != nil {
		return nil, err
	}
	cursor, err := readCursor(paths.Cursor)
	if err != nil {
		return nil, err
	}

	f.replay(visitedLines, failureLines, queueLines, cursor)

	if err := f.openFiles(); err != nil {
		_ = f.closeFiles()
		return nil, err
	}
	if f.cursor != cursor {
		if err := f.writeCursor(); err != nil {
			_ = f.closeFiles()
			return nil, err
		}
	}

	f.opts.logger.Debug("frontier log replayed",
		"queue", paths.Queue,
		"queued", len(f.queue),
		"completed", len(f.visited),
		"cursor", f.cursor)

	return f, nil
}

// replay rebuilds the in-memory state from the three logs.
//
// A URL has at most one outstanding queue line at a time, and it is always
// its last one: Enqueue refuses a URL that is queued or in progress. Every
// earlier line was consumed by a failure, or by the completion that ended
// it. So the last line for u is outstanding iff u is not visited and u has
// more queue lines than recorded failures.
func (f *LogFrontier) replay(visited, failures, queue []string, cursor int) {
	for _, u := range visited {
		f.visited[u] = struct{}{}
	}
	for _, u := range failures {
		f.failures[u]++
	}

	lines := make(map[string]int, len(queue))
	last := make(map[string]int, len(queue))
	for i, u := range queue {
		lines[u]++
		last[u] = i
	}

	if cursor > len(queue) {
		f.opts.logger.Warn("frontier cursor beyond end of queue log; clamping",
			"cursor", cursor, "lines", len(queue))
		cursor = len(queue)
	}

	f.cursor = cursor
	f.lineCount = len(queue)
	for i := cursor; i < len(queue); i++ {
		u := queue[i]
		_, done := f.visited[u]
		outstanding := last[u] == i &&
			!done &&
			f.failures[u] < f.opts.maxFailures &&
			lines[u] > f.failures[u]
		if outstanding {
			f.queued[u] = i
			f.queue = append(f.queue, queueEntry{url: u, line: i})
			continue
		}
		f.consumed[i] = struct{}{}
	}
	f.advanceCursor()
}

// readLog returns the non-empty lines of path, truncating a torn last line.
func (f *LogFrontier) readLog(path string) ([]string, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from job configuration
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, persistErr("read", path, err)
	}

	if n := len(data); n > 0 && data[n-1] != '\n' {
		keep := bytes.LastIndexByte(data, '\n') + 1
		f.opts.logger.Warn("truncating incomplete trailing line",
			"path", path,
			"dropped", string(data[keep:]))
		if err := os.Truncate(path, int64(keep)); err != nil {
			return nil, persistErr("truncate", path, err)
		}
		data = data[:keep]
	}

	var lines []string
	for _, line := range strings.Split(string(data), "\n") {
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines, nil
}

// readCursor parses the cursor file. A missing or unterminated value reads
// as zero, which only costs a longer replay.
func readCursor(path string) (int, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from job configuration
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, persistErr("read", path, err)
	}
	line, _, terminated := strings.Cut(string(data), "\n")
	if !terminated {
		return 0, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil || n < 0 {
		return 0, persistErr("parse cursor", path, fmt.Errorf("invalid cursor %q", line))
	}
	return n, nil
}

func (f *LogFrontier) openFiles() error {
	var err error
	appendFlags := os.O_WRONLY | os.O_CREATE | os.O_APPEND
	if f.visitedFile, err = os.OpenFile(f.paths.Visited, appendFlags, 0600); err != nil {
		return persistErr("open", f.paths.Visited, err)
	}
	if f.queueFile, err = os.OpenFile(f.paths.Queue, appendFlags, 0600); err != nil {
		return persistErr("open", f.paths.Queue, err)
	}
	if f.failuresFile, err = os.OpenFile(f.paths.Failures, appendFlags, 0600); err != nil {
		return persistErr("open", f.paths.Failures, err)
	}
	if f.cursorFile, err = os.OpenFile(f.paths.Cursor, os.O_RDWR|os.O_CREATE, 0600); err != nil {
		return persistErr("open", f.paths.Cursor, err)
	}
	return nil
}

func (f *LogFrontier) closeFiles() error {
	var errs []error
	for _, file := range []*os.File{f.visitedFile, f.queueFile, f.failuresFile, f.cursorFile} {
		if file == nil {
			continue
		}
		if err := file.Close(); err != nil {
			errs = append(errs, persistErr("close", file.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// appendLine writes url plus newline to file and syncs it.
func appendLine(file *os.File, url string) error {
	if _, err := file.WriteString(url + "\n"); err != nil {
		return persistErr("append", file.Name(), err)
	}
	if err := file.Sync(); err != nil {
		return persistErr("sync", file.Name(), err)
	}
	return nil
}

// writeCursor overwrites the cursor file with the current value. The value
// only grows, so the new text always covers the old one.
func (f *LogFrontier) writeCursor() error {
	buf := strconv.Itoa(f.cursor) + "\n"
	if _, err := f.cursorFile.WriteAt([]byte(buf), 0); err != nil {
		return persistErr("write cursor", f.paths.Cursor, err)
	}
	if err := f.cursorFile.Truncate(int64(len(buf))); err != nil {
		return persistErr("write cursor", f.paths.Cursor, err)
	}
	if err := f.cursorFile.Sync(); err != nil {
		return persistErr("sync", f.paths.Cursor, err)
	}
	return nil
}

// advanceCursor moves the cursor over every consumed line at its front and
// reports whether it moved.
func (f *LogFrontier) advanceCursor() bool {
	start := f.cursor
	for {
		if _, ok := f.consumed[f.cursor]; !ok {
			break
		}
		delete(f.consumed, f.cursor)
		f.cursor++
	}
	return f.cursor != start
}

// consume marks a queue line as done and persists the cursor if it moved.
func (f *LogFrontier) consume(line int) error {
	f.consumed[line] = struct{}{}
	if f.advanceCursor() {
		return f.writeCursor()
	}
	return nil
}

// IsFinished implements Frontier.
func (f *LogFrontier) IsFinished(_ context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false, ErrClosed
	}
	return len(f.queue) == 0, nil
}

// Enqueue implements Frontier.
func (f *LogFrontier) Enqueue(_ context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	if err := checkURL(url); err != nil {
		return err
	}
	if st := f.stateLocked(url); st != StateUnknown && st != StateFailed {
		return nil
	}

	if err := appendLine(f.queueFile, url); err != nil {
		return err
	}
	line := f.lineCount
	f.lineCount++
	f.queued[url] = line
	f.queue = append(f.queue, queueEntry{url: url, line: line})
	return nil
}

// PopNext implements Frontier.
func (f *LogFrontier) PopNext(_ context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return "", ErrClosed
	}
	if len(f.queue) == 0 {
		return "", ErrEmptyFrontier
	}

	var e queueEntry
	if f.opts.order == LIFO {
		e = f.queue[len(f.queue)-1]
		f.queue = f.queue[:len(f.queue)-1]
	} else {
		e = f.queue[0]
		f.queue = f.queue[1:]
	}
	delete(f.queued, e.url)
	f.inProgress[e.url] = e.line
	return e.url, nil
}

// MarkCompleted implements Frontier.
func (f *LogFrontier) MarkCompleted(_ context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	line, ok := f.inProgress[url]
	if !ok {
		return nil
	}

	if err := appendLine(f.visitedFile, url); err != nil {
		return err
	}
	delete(f.inProgress, url)
	f.visited[url] = struct{}{}
	return f.consume(line)
}

// MarkFailed implements Frontier.
func (f *LogFrontier) MarkFailed(_ context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	line, ok := f.inProgress[url]
	if !ok {
		return nil
	}

	if err := appendLine(f.failuresFile, url); err != nil {
		return err
	}
	delete(f.inProgress, url)
	f.failures[url]++
	if f.failures[url] >= f.opts.maxFailures {
		f.opts.logger.Warn("abandoning url after repeated failures",
			"url", url, "failures", f.failures[url])
	}
	return f.consume(line)
}

// State returns the current state of url.
func (f *LogFrontier) State(url string) State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stateLocked(url)
}

func (f *LogFrontier) stateLocked(url string) State {
	if _, ok := f.visited[url]; ok {
		return StateCompleted
	}
	if _, ok := f.inProgress[url]; ok {
		return StateInProgress
	}
	if _, ok := f.queued[url]; ok {
		return StateQueued
	}
	n := f.failures[url]
	switch {
	case n >= f.opts.maxFailures:
		return StateAbandoned
	case n > 0:
		return StateFailed
	default:
		return StateUnknown
	}
}

// Cursor returns the number of consumed queue-log lines.
func (f *LogFrontier) Cursor() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cursor
}

// Stats implements Frontier.
func (f *LogFrontier) Stats(_ context.Context) (Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return Stats{}, ErrClosed
	}

	s := Stats{
		Queued:     len(f.queue),
		InProgress: len(f.inProgress),
		Completed:  len(f.visited),
	}
	for u, n := range f.failures {
		if _, ok := f.visited[u]; ok {
			continue
		}
		if n >= f.opts.maxFailures {
			s.Abandoned++
		} else {
			s.Failed++
		}
	}
	return s, nil
}

// Close implements Frontier. URLs still in progress stay outstanding in the
// queue log and are dispatched again by the next OpenLog.
func (f *LogFrontier) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	if len(f.inProgress) > 0 {
		f.opts.logger.Info("closing frontier with urls in progress", "count", len(f.inProgress))
	}
	return f.closeFiles()
}

// Paths returns the files backing the frontier.
func (f *LogFrontier) Paths() LogPaths {
	return f.paths
}

// String describes the frontier for log messages.
func (f *LogFrontier) String() string {
	return fmt.Sprintf("log frontier %s", f.paths.Queue)
}
