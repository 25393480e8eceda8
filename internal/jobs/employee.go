package jobs

import (
	"context"
	"io"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"vice/internal/eventbus"
	"vice/internal/worker"
	logx "vice/pkg/logx"
)

// employee runs one job. All fields below vice are guarded by vice.mu.
type employee struct {
	vice *Vice
	name string
	log  logx.Logger
	job  *Job

	schedule  Schedule
	routine   Routine
	parameter any
	output    io.Writer
	enabled   bool
	override  time.Time
	dueTime   time.Time
	current   *run
	history   []RunInfo
	runs      uint64
	disposed  bool
}

type run struct {
	info      RunInfo
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	routine   Routine
	parameter any
	output    io.Writer
}

func newEmployee(v *Vice, name string) *employee {
	e := &employee{
		vice:     v,
		name:     name,
		log:      v.log.With(logx.String("job", name)),
		schedule: NeverSchedule{},
		routine:  noopRoutine,
		enabled:  true,
		dueTime:  Never,
	}
	e.job = &Job{e: e}
	return e
}

// dueTimeInfo must be called with vice.mu held. ok is false for employees the
// scheduler must skip.
func (e *employee) dueTimeInfo() (DueTimeInfo, bool) {
	if e.disposed || !e.enabled {
		return DueTimeInfo{}, false
	}
	if !e.override.IsZero() {
		return DueTimeInfo{DueTime: e.override, IsOverridden: true}, true
	}
	if IsNever(e.dueTime) {
		return DueTimeInfo{}, false
	}
	return DueTimeInfo{DueTime: e.dueTime}, true
}

// nextDue must be called with vice.mu held.
func (e *employee) nextDue() time.Time {
	if info, ok := e.dueTimeInfo(); ok {
		return info.DueTime
	}
	return Never
}

// beginRun marks the employee running and consumes the due time that
// triggered it. Must be called with vice.mu held.
func (e *employee) beginRun(info DueTimeInfo, now time.Time) *run {
	reason := ScheduleDueTime
	if info.IsOverridden {
		reason = OverriddenDueTime
		e.override = time.Time{}
	} else {
		e.dueTime = e.schedule.DueTimeAfter(now)
	}

	ctx, cancel := context.WithCancel(e.vice.ctx)
	output := e.output
	if output == nil {
		output = io.Discard
	}
	r := &run{
		info: RunInfo{
			ID:        uuid.NewString(),
			Job:       e.name,
			Reason:    reason,
			DueTime:   info.DueTime,
			StartedAt: now,
			Status:    RunRunning,
		},
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		routine:   e.routine,
		parameter: e.parameter,
		output:    output,
	}
	e.current = r
	return r
}

// wakeUp hands the run to the launcher. It is called without vice.mu.
func (e *employee) wakeUp(r *run) {
	e.log.Debug("waking up", logx.String("reason", r.info.Reason.String()), logx.String("run", r.info.ID))
	eventbus.Publish(e.vice.bus, eventbus.JobStarted, r.info)
	e.vice.launcher.Go("job:"+e.name, func(ctx context.Context) error {
		stop := context.AfterFunc(ctx, r.cancel)
		defer stop()
		e.execute(r)
		return nil
	})
}

func (e *employee) execute(r *run) {
	defer r.cancel()

	err := e.invoke(r)
	info := r.info
	info.FinishedAt = e.vice.clock.Now()
	info.Duration = info.FinishedAt.Sub(info.StartedAt)
	switch {
	case err == nil:
		info.Status = RunSucceeded
	case errors.Is(err, context.Canceled) || r.ctx.Err() != nil:
		info.Status = RunCanceled
		info.Error = err.Error()
	default:
		info.Status = RunFailed
		info.Error = err.Error()
	}

	v := e.vice
	if info.Status == RunFailed {
		e.log.Warn("job failed", logx.String("run", info.ID), logx.Duration("took", info.Duration), logx.String("err", info.Error))
		eventbus.Publish(v.bus, eventbus.JobFailed, info)
	} else {
		e.log.Debug("job finished", logx.String("run", info.ID), logx.String("status", string(info.Status)), logx.Duration("took", info.Duration))
		eventbus.Publish(v.bus, eventbus.JobFinished, info)
	}
	if v.recorder != nil {
		ctx, cancel := context.WithTimeout(context.Background(), v.recordTimeout)
		if err := v.recorder.RecordRun(ctx, info); err != nil {
			e.log.Warn("record run failed", logx.Err(err))
		}
		cancel()
	}

	v.mu.Lock()
	if e.current == r {
		e.current = nil
	}
	e.runs++
	e.history = append(e.history, info)
	if over := len(e.history) - v.historySize; over > 0 {
		e.history = append(e.history[:0:0], e.history[over:]...)
	}
	v.mu.Unlock()

	close(r.done)
	v.WorkArrived()
}

// invoke contains panics of the routine.
func (e *employee) invoke(r *run) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errors.Newf("job '%s' routine panicked: %v", e.name, p)
		}
	}()
	return r.routine(r.ctx, r.parameter, r.output)
}

// dispose cancels and waits for the current run. The employee is already
// removed from the registry.
func (e *employee) dispose() {
	v := e.vice
	v.mu.Lock()
	if e.disposed {
		v.mu.Unlock()
		return
	}
	e.disposed = true
	r := e.current
	v.mu.Unlock()

	if r != nil {
		r.cancel()
		<-r.done
	}
	e.log.Debug("job disposed")
	eventbus.Publish(v.bus, eventbus.JobRemoved, e.name)
}

// checkAlive must be called with vice.mu held.
func (e *employee) checkAlive() error {
	if e.disposed {
		return worker.NewDisposedError(e.name)
	}
	return nil
}
