package app

import (
	"time"

	"vice/internal/eventbus"
	"vice/internal/jobs"
	"vice/internal/runtime/supervisor"
	"vice/internal/worker"
)

// Status is the document served at /status and summarized by the heartbeat.
type Status struct {
	Vice          string              `json:"vice"`
	Jobs          []jobs.JobInfo      `json:"jobs"`
	Running       int                 `json:"running"`
	NextDue       time.Time           `json:"next_due"`
	Vacation      time.Duration       `json:"vacation"`
	EventsDropped uint64              `json:"events_dropped"`
	Supervisor    supervisor.Snapshot `json:"supervisor"`
}

// Status snapshots the scheduler. Jobs disposed while it runs are skipped.
func (a *App) Status() Status {
	var st Status
	if a.mgr == nil {
		return st
	}
	v := a.mgr.Vice()
	scan := v.LastScan()
	st.Vice = worker.Describe(v)
	st.Running = v.RunningCount()
	st.NextDue = scan.Earliest
	st.Vacation = scan.Vacation
	st.EventsDropped = eventbus.Dropped(a.bus)
	if a.sup != nil {
		st.Supervisor = a.sup.Snapshot()
	}
	for _, name := range v.JobNames() {
		job, err := v.GetJob(name)
		if err != nil {
			continue
		}
		st.Jobs = append(st.Jobs, job.Info())
	}
	return st
}
