package worker

import (
	"sync/atomic"
	"time"

	logx "vice/pkg/logx"
)

// WorkFunc is one unit of work of a TimeoutWorker.
type WorkFunc func() error

// TimeoutWorker runs a WorkFunc, then sleeps for Timeout, forever.
//
// Changing the timeout during a vacation re-arms the running vacation with
// the new duration measured from the moment the vacation began. If that
// moment is already past the new duration the vacation ends as elapsed.
type TimeoutWorker struct {
	*LoopWorker

	work    WorkFunc
	log     logx.Logger
	timeout atomic.Int64
	changed *Signal
	runs    atomic.Uint64
}

const timeoutChangedIndex = 1

func NewTimeoutWorker(name string, timeout time.Duration, work WorkFunc, opts ...Option) (*TimeoutWorker, error) {
	if timeout <= 0 {
		return nil, Argumentf("timeout must be positive, got %s", timeout)
	}
	if work == nil {
		work = func() error { return nil }
	}
	tw := &TimeoutWorker{work: work, changed: NewSignal()}
	tw.timeout.Store(int64(timeout))

	opts = append([]Option{WithKind("TimeoutWorker")}, opts...)
	tw.LoopWorker = New(name, tw, opts...)
	tw.log = tw.LoopWorker.log
	return tw, nil
}

// Timeout returns the current vacation length. It never blocks on the control lock.
func (tw *TimeoutWorker) Timeout() time.Duration {
	return time.Duration(tw.timeout.Load())
}

// SetTimeout changes the vacation length. A vacation in progress picks it up
// immediately.
func (tw *TimeoutWorker) SetTimeout(d time.Duration) error {
	tw.ctl.Lock()
	defer tw.ctl.Unlock()

	if tw.State() == Disposed {
		return NewDisposedError(tw.name)
	}
	if d <= 0 {
		return Argumentf("timeout must be positive, got %s", d)
	}
	if old := time.Duration(tw.timeout.Swap(int64(d))); old != d {
		tw.log.Debug("timeout changed", logx.Duration("old", old), logx.Duration("new", d))
	}
	tw.changed.Set()
	return nil
}

// Runs returns how many work units have completed.
func (tw *TimeoutWorker) Runs() uint64 { return tw.runs.Load() }

func (tw *TimeoutWorker) ExtraSignals() []*Signal { return []*Signal{tw.changed} }

func (tw *TimeoutWorker) DoWork(ch *Channel) WorkFinishReason {
	if ch.ControlRequested() {
		return WorkGotControlSignal
	}
	if err := tw.work(); err != nil {
		tw.log.Warn("work failed", logx.Err(err))
	}
	tw.runs.Add(1)
	return WorkIsDone
}

func (tw *TimeoutWorker) TakeVacation(ch *Channel) VacationFinishReason {
	began := time.Now()
	for {
		remaining := tw.Timeout() - time.Since(began)
		if remaining <= 0 {
			return VacationTimeElapsed
		}
		switch idx := ch.WaitAny(remaining); idx {
		case ControlSignalIndex:
			return VacationGotControlSignal
		case timeoutChangedIndex:
			continue
		case WaitTimeout:
			return VacationTimeElapsed
		default:
			panic(internalErrorf("timeout worker '%s': unexpected signal index %d", tw.name, idx))
		}
	}
}
