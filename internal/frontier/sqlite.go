package frontier

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteFrontier is a Frontier stored in a single SQLite table.
//
// It has no InProgress state: PopNext only reads, and the row stays
// eligible until MarkCompleted or MarkFailed changes it. This makes
// PopNext idempotent and makes recovery after a crash trivial.
//
// A failed row stays eligible until it reaches the failure cap, so failed
// URLs come back even when nobody re-enqueues them.
type SQLiteFrontier struct {
	// db is the underlying SQL database connection.
	db *sql.DB

	// dbPath is the path to the SQLite database file.
	dbPath string

	opts options

	// mu guards lastStamp.
	mu        sync.Mutex
	lastStamp int64
}

var _ Frontier = (*SQLiteFrontier)(nil)

// OpenSQLite opens or creates the frontier database at dbPath.
// The parent directory is created when missing.
func OpenSQLite(dbPath string, opts ...Option) (*SQLiteFrontier, error) {
	if dbPath == "" {
		return nil, persistErr("open", dbPath, errors.New("empty path"))
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0750); err != nil {
		return nil, persistErr("create directory", filepath.Dir(dbPath), err)
	}

	// modernc.org/sqlite takes the file mode as a query parameter.
	db, err := sql.Open("sqlite", dbPath+"?mode=rwc")
	if err != nil {
		return nil, persistErr("open", dbPath, err)
	}

	// SQLite only supports one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	f := &SQLiteFrontier{
		db:     db,
		dbPath: dbPath,
		opts:   newOptions(opts),
	}

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, persistErr("enable WAL", dbPath, err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA synchronous=FULL"); err != nil {
		_ = db.Close()
		return nil, persistErr("set synchronous", dbPath, err)
	}
	if err := f.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, persistErr("create tables", dbPath, err)
	}
	if err := f.loadLastStamp(ctx); err != nil {
		_ = db.Close()
		return nil, persistErr("read enqueue times", dbPath, err)
	}

	return f, nil
}

// createTables creates the schema if it doesn't exist.
func (f *SQLiteFrontier) createTables(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS queue (
		url TEXT PRIMARY KEY,
		visited BOOLEAN NOT NULL,
		failures SMALLINT NOT NULL,
		enqueue_time TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_queue_pending ON queue(visited, enqueue_time);
	`
	_, err := f.db.ExecContext(ctx, schema)
	return err
}

func (f *SQLiteFrontier) loadLastStamp(ctx context.Context) error {
	var last sql.NullInt64
	if err := f.db.QueryRowContext(ctx, "SELECT MAX(enqueue_time) FROM queue").Scan(&last); err != nil {
		return err
	}
	f.lastStamp = last.Int64
	return nil
}

// stamp returns the current time in Unix nanoseconds, bumped so that every
// value is strictly greater than the previous one.
func (f *SQLiteFrontier) stamp() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.opts.now().UnixNano()
	if now <= f.lastStamp {
		now = f.lastStamp + 1
	}
	f.lastStamp = now
	return now
}

// IsFinished implements Frontier.
func (f *SQLiteFrontier) IsFinished(ctx context.Context) (bool, error) {
	var n int
	err := f.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM queue WHERE visited = 0 AND failures < ?",
		f.opts.maxFailures).Scan(&n)
	if err != nil {
		return false, f.wrap("count pending", err)
	}
	return n == 0, nil
}

// Enqueue implements Frontier. A URL already in the table, in any state,
// is left alone.
func (f *SQLiteFrontier) Enqueue(ctx context.Context, url string) error {
	if err := checkURL(url); err != nil {
		return err
	}
	_, err := f.db.ExecContext(ctx, `
	INSERT INTO queue (url, visited, failures, enqueue_time)
	VALUES (?, 0, 0, ?)
	ON CONFLICT(url) DO NOTHING`, url, f.stamp())
	if err != nil {
		return f.wrap("enqueue", err)
	}
	return nil
}

// PopNext implements Frontier.
func (f *SQLiteFrontier) PopNext(ctx context.Context) (string, error) {
	direction := "ASC"
	if f.opts.order == LIFO {
		direction = "DESC"
	}
	query := fmt.Sprintf(`
	SELECT url FROM queue
	WHERE visited = 0 AND failures < ?
	ORDER BY enqueue_time %[1]s, rowid %[1]s
	LIMIT 1`, direction)

	var url string
	err := f.db.QueryRowContext(ctx, query, f.opts.maxFailures).Scan(&url)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrEmptyFrontier
	}
	if err != nil {
		return "", f.wrap("pop", err)
	}
	return url, nil
}

// MarkCompleted implements Frontier.
func (f *SQLiteFrontier) MarkCompleted(ctx context.Context, url string) error {
	_, err := f.db.ExecContext(ctx,
		"UPDATE queue SET visited = 1 WHERE url = ? AND visited = 0", url)
	if err != nil {
		return f.wrap("mark completed", err)
	}
	return nil
}

// MarkFailed implements Frontier. Refreshing enqueue_time moves the URL to
// the back of FIFO order and the front of LIFO order.
func (f *SQLiteFrontier) MarkFailed(ctx context.Context, url string) error {
	res, err := f.db.ExecContext(ctx, `
	UPDATE queue SET failures = failures + 1, enqueue_time = ?
	WHERE url = ? AND visited = 0 AND failures < ?`,
		f.stamp(), url, f.opts.maxFailures)
	if err != nil {
		return f.wrap("mark failed", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		var failures int
		if err := f.db.QueryRowContext(ctx,
			"SELECT failures FROM queue WHERE url = ?", url).Scan(&failures); err == nil &&
			failures >= f.opts.maxFailures {
			f.opts.logger.Warn("abandoning url after repeated failures",
				"url", url, "failures", failures)
		}
	}
	return nil
}

// State returns the current state of url. Pending rows read as Queued
// (StateFailed when they have failed before) since this backend does not
// track dispatch.
func (f *SQLiteFrontier) State(ctx context.Context, url string) (State, error) {
	var (
		visited  bool
		failures int
	)
	err := f.db.QueryRowContext(ctx,
		"SELECT visited, failures FROM queue WHERE url = ?", url).Scan(&visited, &failures)
	if errors.Is(err, sql.ErrNoRows) {
		return StateUnknown, nil
	}
	if err != nil {
		return StateUnknown, f.wrap("read state", err)
	}
	switch {
	case visited:
		return StateCompleted, nil
	case failures >= f.opts.maxFailures:
		return StateAbandoned, nil
	case failures > 0:
		return StateFailed, nil
	default:
		return StateQueued, nil
	}
}

// Stats implements Frontier. Every pending row counts as Queued, including
// those that already failed; InProgress is always zero.
func (f *SQLiteFrontier) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := f.db.QueryRowContext(ctx, `
	SELECT
		COALESCE(SUM(CASE WHEN visited = 0 AND failures < ? THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN visited = 1 THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN visited = 0 AND failures > 0 AND failures < ? THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN visited = 0 AND failures >= ? THEN 1 ELSE 0 END), 0)
	FROM queue`, f.opts.maxFailures, f.opts.maxFailures, f.opts.maxFailures).Scan(&s.Queued, &s.Completed, &s.Failed, &s.Abandoned)
	if err != nil {
		return Stats{}, f.wrap("stats", err)
	}
	return s, nil
}

// Close closes the database connection.
func (f *SQLiteFrontier) Close() error {
	if err := f.db.Close(); err != nil {
		return f.wrap("close", err)
	}
	return nil
}

// Path returns the database file path.
func (f *SQLiteFrontier) Path() string {
	return f.dbPath
}

// String describes the frontier for log messages.
func (f *SQLiteFrontier) String() string {
	return fmt.Sprintf("sqlite frontier %s", f.dbPath)
}

func (f *SQLiteFrontier) wrap(op string, err error) error {
	return persistErr(op, f.dbPath, err)
}
