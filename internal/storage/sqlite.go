package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	_ "modernc.org/sqlite"

	logx "vice/pkg/logx"
)

//go:embed migrations.sql
var schema string

// pruneEvery is how many appends pass between retention sweeps.
const pruneEvery = 500

type sqliteStore struct {
	db      *sql.DB
	log     logx.Logger
	keep    int
	appends atomic.Uint64
}

// sqliteDSN builds a modernc DSN with the pragmas applied on every new
// connection.
func sqliteDSN(path string, busy time.Duration) string {
	q := url.Values{}
	if busy > 0 {
		q.Add("_pragma", "busy_timeout("+strconv.FormatInt(busy.Milliseconds(), 10)+")")
	}
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path
		q.Add("_pragma", "journal_mode(WAL)")
		q.Add("_pragma", "synchronous(NORMAL)")
	}
	if len(q) == 0 {
		return dsn
	}
	return dsn + "?" + q.Encode()
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	switch path {
	case "":
		return nil, errors.New("sqlite path is required")
	case ":memory:":
	default:
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, errors.Wrap(err, "create storage dir")
		}
	}

	db, err := sql.Open("sqlite", sqliteDSN(path, cfg.BusyTimeout))
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	// One connection: SQLite has a single writer and :memory: is per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "migrate")
	}
	return &sqliteStore{db: db, log: log, keep: cfg.keep()}, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AppendRun(ctx context.Context, r Run) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(id, job, reason, status, err, due_at, started_at, finished_at, took_ms)
		 VALUES(?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO NOTHING`,
		r.ID, r.Job, r.Reason, r.Status, nullStr(r.Error),
		r.DueTime.UnixMilli(), r.StartedAt.UnixMilli(), r.FinishedAt.UnixMilli(), r.TookMS,
	)
	if err != nil {
		return errors.Wrapf(err, "append run %s", r.ID)
	}
	if s.appends.Add(1)%pruneEvery == 0 {
		s.sweep()
	}
	return nil
}

func (s *sqliteStore) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := s.prune(ctx); err != nil {
		s.log.Debug("prune failed", logx.Err(err))
	}
}

func (s *sqliteStore) RecentRuns(ctx context.Context, job string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = s.keep
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job, reason, status, COALESCE(err, ''), due_at, started_at, finished_at, took_ms
		 FROM runs WHERE job = ? ORDER BY started_at DESC, rowid DESC LIMIT ?`, job, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query runs")
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		var due, started, finished int64
		if err := rows.Scan(&r.ID, &r.Job, &r.Reason, &r.Status, &r.Error, &due, &started, &finished, &r.TookMS); err != nil {
			return nil, errors.Wrap(err, "scan run")
		}
		r.DueTime = time.UnixMilli(due).UTC()
		r.StartedAt = time.UnixMilli(started).UTC()
		r.FinishedAt = time.UnixMilli(finished).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// prune keeps the newest keep runs of every job.
func (s *sqliteStore) prune(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM runs WHERE rowid IN (
		   SELECT rowid FROM (
		     SELECT rowid, ROW_NUMBER() OVER (PARTITION BY job ORDER BY started_at DESC, rowid DESC) AS rn FROM runs
		   ) WHERE rn > ?
		 )`, s.keep)
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
