package app

import (
	"context"
	"time"

	"vice/internal/jobs"
	"vice/internal/storage"
)

// runRecorder persists finished runs into the configured store.
type runRecorder struct {
	store storage.Store
}

func (r runRecorder) RecordRun(ctx context.Context, run jobs.RunInfo) error {
	return r.store.AppendRun(ctx, toStorageRun(run))
}

func toStorageRun(run jobs.RunInfo) storage.Run {
	return storage.Run{
		ID:         run.ID,
		Job:        run.Job,
		Reason:     run.Reason.String(),
		Status:     string(run.Status),
		Error:      run.Error,
		DueTime:    run.DueTime.UTC(),
		StartedAt:  run.StartedAt.UTC(),
		FinishedAt: run.FinishedAt.UTC(),
		TookMS:     run.Duration.Milliseconds(),
	}
}

func fromStorageRun(r storage.Run) jobs.RunInfo {
	// Unknown reasons from older rows read as scheduled.
	reason := jobs.ScheduleDueTime
	_ = reason.UnmarshalText([]byte(r.Reason))
	return jobs.RunInfo{
		ID:         r.ID,
		Job:        r.Job,
		Reason:     reason,
		DueTime:    r.DueTime,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Duration:   time.Duration(r.TookMS) * time.Millisecond,
		Status:     jobs.RunStatus(r.Status),
		Error:      r.Error,
	}
}
