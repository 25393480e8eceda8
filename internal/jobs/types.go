package jobs

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/cockroachdb/errors"

	"vice/internal/worker"
)

var (
	// ErrNotFound is returned by Get for an unknown job name.
	ErrNotFound = errors.New("job not found")
	// ErrAlreadyExists is returned by Create for a taken job name.
	ErrAlreadyExists = errors.New("job already exists")
)

// Routine is the body of a job. ctx is canceled by Job.Cancel, job disposal
// or manager disposal.
type Routine func(ctx context.Context, parameter any, output io.Writer) error

func noopRoutine(context.Context, any, io.Writer) error { return nil }

// Clock provides the current time to the scheduler.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}

// Launcher starts a named goroutine. *supervisor.Supervisor satisfies it.
type Launcher interface {
	Go(name string, fn func(ctx context.Context) error)
}

type goLauncher struct{}

func (goLauncher) Go(_ string, fn func(ctx context.Context) error) {
	go func() { _ = fn(context.Background()) }()
}

// RunRecorder persists finished runs.
type RunRecorder interface {
	RecordRun(ctx context.Context, run RunInfo) error
}

// StartReason tells why a job run was started.
type StartReason int

const (
	ScheduleDueTime StartReason = iota + 1
	OverriddenDueTime
)

func (r StartReason) String() string {
	switch r {
	case ScheduleDueTime:
		return "ScheduleDueTime"
	case OverriddenDueTime:
		return "OverriddenDueTime"
	default:
		return fmt.Sprintf("StartReason(%d)", int(r))
	}
}

func (r StartReason) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

func (r *StartReason) UnmarshalText(b []byte) error {
	switch string(b) {
	case "ScheduleDueTime":
		*r = ScheduleDueTime
	case "OverriddenDueTime":
		*r = OverriddenDueTime
	default:
		return worker.Argumentf("unknown start reason %q", string(b))
	}
	return nil
}

// DueTimeInfo is an employee's next due time as seen by the scheduler.
type DueTimeInfo struct {
	DueTime      time.Time
	IsOverridden bool
}

// RunStatus is the outcome of a job run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunCanceled  RunStatus = "canceled"
)

// RunInfo describes one run of a job.
type RunInfo struct {
	ID         string        `json:"id"`
	Job        string        `json:"job"`
	Reason     StartReason   `json:"reason"`
	DueTime    time.Time     `json:"due_time"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at,omitempty"`
	Duration   time.Duration `json:"duration"`
	Status     RunStatus     `json:"status"`
	Error      string        `json:"error,omitempty"`
}

// JobInfo is a point-in-time view of a job.
type JobInfo struct {
	Name         string    `json:"name"`
	Schedule     string    `json:"schedule"`
	Enabled      bool      `json:"enabled"`
	Running      bool      `json:"running"`
	DueTime      time.Time `json:"due_time"`
	IsOverridden bool      `json:"is_overridden"`
	Runs         uint64    `json:"runs"`
	Current      *RunInfo  `json:"current,omitempty"`
	Last         *RunInfo  `json:"last,omitempty"`
}

func jobNameErr() error {
	return worker.Argumentf("Job name cannot be null or empty.")
}

func scheduleString(s Schedule) string {
	if st, ok := s.(fmt.Stringer); ok {
		return st.String()
	}
	return fmt.Sprintf("%T", s)
}
