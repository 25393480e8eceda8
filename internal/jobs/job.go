package jobs

import (
	"io"
	"time"

	logx "vice/pkg/logx"
)

// Job is the caller's handle on a registered job. Create and Get return the
// same handle for a name; it reads and controls the live entry.
type Job struct {
	e *employee
}

func (j *Job) Name() string { return j.e.name }

func (j *Job) Schedule() Schedule {
	v := j.e.vice
	v.mu.Lock()
	defer v.mu.Unlock()
	return j.e.schedule
}

// SetSchedule replaces the schedule and recomputes the due time from now.
// A nil schedule never comes due.
func (j *Job) SetSchedule(s Schedule) error {
	if s == nil {
		s = NeverSchedule{}
	}
	return j.update(func(e *employee, now time.Time) {
		e.schedule = s
		e.dueTime = s.DueTimeAfter(now)
		e.log.Debug("schedule changed", logx.String("schedule", scheduleString(s)), logx.Time("due", e.dueTime))
	})
}

func (j *Job) Routine() Routine {
	v := j.e.vice
	v.mu.Lock()
	defer v.mu.Unlock()
	return j.e.routine
}

// SetRoutine replaces the routine used by future runs. Nil restores the no-op routine.
func (j *Job) SetRoutine(r Routine) error {
	if r == nil {
		r = noopRoutine
	}
	return j.set(func(e *employee) { e.routine = r })
}

func (j *Job) Parameter() any {
	v := j.e.vice
	v.mu.Lock()
	defer v.mu.Unlock()
	return j.e.parameter
}

func (j *Job) SetParameter(p any) error {
	return j.set(func(e *employee) { e.parameter = p })
}

// Output returns the writer passed to future runs; nil means output is discarded.
func (j *Job) Output() io.Writer {
	v := j.e.vice
	v.mu.Lock()
	defer v.mu.Unlock()
	return j.e.output
}

func (j *Job) SetOutput(w io.Writer) error {
	return j.set(func(e *employee) { e.output = w })
}

// OverrideDueTime makes the job due at t once, bypassing the schedule.
// A zero t clears a pending override.
func (j *Job) OverrideDueTime(t time.Time) error {
	return j.update(func(e *employee, _ time.Time) { e.override = t })
}

// Trigger makes the job due now.
func (j *Job) Trigger() error {
	return j.update(func(e *employee, now time.Time) { e.override = now })
}

func (j *Job) Enabled() bool {
	v := j.e.vice
	v.mu.Lock()
	defer v.mu.Unlock()
	return j.e.enabled
}

// SetEnabled toggles scheduling. Enabling recomputes the due time from now.
func (j *Job) SetEnabled(enabled bool) error {
	return j.update(func(e *employee, now time.Time) {
		if enabled && !e.enabled {
			e.dueTime = e.schedule.DueTimeAfter(now)
		}
		e.enabled = enabled
	})
}

func (j *Job) IsRunning() bool {
	v := j.e.vice
	v.mu.Lock()
	defer v.mu.Unlock()
	return j.e.current != nil
}

// Cancel cancels the current run. It reports whether a run was in progress.
func (j *Job) Cancel() bool {
	v := j.e.vice
	v.mu.Lock()
	r := j.e.current
	v.mu.Unlock()
	if r == nil {
		return false
	}
	r.cancel()
	return true
}

// Wait blocks until the current run finishes. A negative timeout waits
// forever. It reports false on timeout.
func (j *Job) Wait(timeout time.Duration) bool {
	v := j.e.vice
	v.mu.Lock()
	r := j.e.current
	v.mu.Unlock()
	if r == nil {
		return true
	}
	if timeout < 0 {
		<-r.done
		return true
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-r.done:
		return true
	case <-t.C:
		return false
	}
}

func (j *Job) Info() JobInfo {
	e := j.e
	v := e.vice
	v.mu.Lock()
	defer v.mu.Unlock()

	info := JobInfo{
		Name:     e.name,
		Schedule: scheduleString(e.schedule),
		Enabled:  e.enabled,
		Running:  e.current != nil,
		DueTime:  e.dueTime,
		Runs:     e.runs,
	}
	if !e.override.IsZero() {
		info.DueTime = e.override
		info.IsOverridden = true
	}
	if e.current != nil {
		cur := e.current.info
		info.Current = &cur
	}
	if n := len(e.history); n > 0 {
		last := e.history[n-1]
		info.Last = &last
	}
	return info
}

// History returns the most recent finished runs, oldest first.
func (j *Job) History() []RunInfo {
	v := j.e.vice
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]RunInfo(nil), j.e.history...)
}

func (j *Job) IsDisposed() bool {
	v := j.e.vice
	v.mu.Lock()
	defer v.mu.Unlock()
	return j.e.disposed
}

// Dispose removes the job from the registry, cancels its current run and
// waits for it.
func (j *Job) Dispose() error {
	e := j.e
	v := e.vice
	v.mu.Lock()
	err := e.checkAlive()
	v.mu.Unlock()
	if err != nil {
		return err
	}
	v.removeJob(e)
	e.dispose()
	v.WorkArrived()
	return nil
}

func (j *Job) set(fn func(e *employee)) error {
	v := j.e.vice
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := j.e.checkAlive(); err != nil {
		return err
	}
	fn(j.e)
	return nil
}

// update mutates due-time state and wakes the scheduler.
func (j *Job) update(fn func(e *employee, now time.Time)) error {
	v := j.e.vice
	now := v.clock.Now()
	v.mu.Lock()
	if err := j.e.checkAlive(); err != nil {
		v.mu.Unlock()
		return err
	}
	fn(j.e, now)
	v.mu.Unlock()
	v.WorkArrived()
	return nil
}
