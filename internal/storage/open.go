package storage

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"

	logx "vice/pkg/logx"
)

// Store persists finished job runs.
type Store interface {
	AppendRun(ctx context.Context, r Run) error
	// RecentRuns returns up to limit runs of job, newest first.
	RecentRuns(ctx context.Context, job string, limit int) ([]Run, error)
	Close() error
}

type opener func(cfg Config, log logx.Logger) (Store, error)

var drivers = map[string]opener{
	"file":    openFile,
	"sqlite":  openSQLite,
	"sqlite3": openSQLite,
}

// Open returns the store for cfg.Driver, or (nil, nil) when the driver is
// empty or "none".
func Open(cfg Config, log logx.Logger) (Store, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if name == "" || name == "none" {
		return nil, nil
	}
	open, ok := drivers[name]
	if !ok {
		return nil, errors.Newf("unknown storage driver: %s", name)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return open(cfg, log.With(logx.String("comp", "storage"), logx.String("driver", name)))
}
