package storage

import (
	"time"

	"github.com/cockroachdb/errors"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage.
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	// Keep bounds the runs retained per job. 0 means DefaultKeep.
	Keep int
}

// DefaultKeep is the number of runs retained per job.
const DefaultKeep = 200

// Run is one finished job run. Keep it compact and schema-stable.
type Run struct {
	ID         string    `json:"id"`
	Job        string    `json:"job"`
	Reason     string    `json:"reason"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	DueTime    time.Time `json:"due_time"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	TookMS     int64     `json:"took_ms"`
}

func (c Config) keep() int {
	if c.Keep > 0 {
		return c.Keep
	}
	return DefaultKeep
}
