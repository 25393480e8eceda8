package worker

import (
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"vice/internal/eventbus"
	logx "vice/pkg/logx"
)

// WorkFinishReason is returned by Routine.DoWork.
type WorkFinishReason int

const (
	// WorkGotControlSignal means a control operation is pending.
	WorkGotControlSignal WorkFinishReason = iota + 1
	// WorkIsDone means there is nothing more to do right now.
	WorkIsDone
)

func (r WorkFinishReason) String() string {
	switch r {
	case WorkGotControlSignal:
		return "GotControlSignal"
	case WorkIsDone:
		return "WorkIsDone"
	default:
		return fmt.Sprintf("WorkFinishReason(%d)", int(r))
	}
}

// VacationFinishReason is returned by Routine.TakeVacation.
type VacationFinishReason int

const (
	VacationGotControlSignal VacationFinishReason = iota + 1
	VacationTimeElapsed
	VacationNewWorkArrived
)

func (r VacationFinishReason) String() string {
	switch r {
	case VacationGotControlSignal:
		return "GotControlSignal"
	case VacationTimeElapsed:
		return "TimeElapsed"
	case VacationNewWorkArrived:
		return "NewWorkArrived"
	default:
		return fmt.Sprintf("VacationFinishReason(%d)", int(r))
	}
}

// Routine supplies the body of a LoopWorker. Both hooks run on the worker goroutine.
type Routine interface {
	// DoWork performs one work attempt. It returns WorkGotControlSignal when it
	// consumed a control signal (see Channel.ControlRequested).
	DoWork(ch *Channel) WorkFinishReason
	// TakeVacation sleeps until the next work attempt is due.
	TakeVacation(ch *Channel) VacationFinishReason
}

// ExtraSignaler is implemented by routines that wake on signals of their own.
// The signals are multiplexed by Channel.WaitAny at indices 1..n.
type ExtraSignaler interface {
	ExtraSignals() []*Signal
}

// DisposeHook is implemented by routines owning resources released on Dispose.
type DisposeHook interface {
	OnDisposed()
}

// Worker is the control surface exposed to hosts.
type Worker interface {
	Name() string
	Kind() string
	State() State
	Start() error
	Pause() error
	Resume() error
	Stop() error
	Dispose() error
	WaitForStateChange(timeout time.Duration, target State) bool
}

// DefaultPausePoll is how often a paused worker goroutine re-checks its
// state while waiting for the next control request.
const DefaultPausePoll = 10 * time.Millisecond

type Option func(*LoopWorker)

func WithLogger(log logx.Logger) Option {
	return func(w *LoopWorker) { w.log = log }
}

// WithBus publishes state transitions as eventbus.WorkerState events.
func WithBus(p eventbus.Publisher) Option {
	return func(w *LoopWorker) { w.bus = p }
}

func WithPausePoll(d time.Duration) Option {
	return func(w *LoopWorker) {
		if d > 0 {
			w.pausePoll = d
		}
	}
}

// WithKind sets the type name reported by Kind and Describe.
func WithKind(kind string) Option {
	return func(w *LoopWorker) {
		if kind != "" {
			w.kind = kind
		}
	}
}

// LoopWorker drives a Routine on a dedicated goroutine and owns its lifecycle.
//
// Control operations are serialized by a coarse lock and complete a
// request/acknowledge/release handshake with the goroutine before returning.
type LoopWorker struct {
	name      string
	kind      string
	routine   Routine
	log       logx.Logger
	bus       eventbus.Publisher
	pausePoll time.Duration

	ctl sync.Mutex

	mu      sync.Mutex
	state   State
	changed chan struct{}
	ch      *Channel
	fault   error
}

var _ Worker = (*LoopWorker)(nil)

func New(name string, r Routine, opts ...Option) *LoopWorker {
	w := &LoopWorker{
		name:      name,
		kind:      "LoopWorker",
		routine:   r,
		log:       logx.Nop(),
		pausePoll: DefaultPausePoll,
		state:     NotStarted,
		changed:   make(chan struct{}),
	}
	for _, o := range opts {
		o(w)
	}
	w.log = w.log.With(logx.String("comp", "worker"), logx.String("worker", name))
	return w
}

func (w *LoopWorker) Name() string { return w.name }
func (w *LoopWorker) Kind() string { return w.kind }

// Fault returns the error that terminated the worker goroutine, if any.
func (w *LoopWorker) Fault() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.fault
}

func (w *LoopWorker) Start() error {
	w.ctl.Lock()
	defer w.ctl.Unlock()

	if _, err := w.check("start", acceptStart); err != nil {
		return err
	}

	var extras []*Signal
	if es, ok := w.routine.(ExtraSignaler); ok {
		extras = es.ExtraSignals()
		if len(extras) == 0 {
			return InvalidOperationf("cannot start worker '%s': extra signals are provided but empty", w.name)
		}
	}
	ch, err := newChannel(extras)
	if err != nil {
		return errors.Wrapf(err, "cannot start worker '%s'", w.name)
	}

	w.setState(Starting)
	w.mu.Lock()
	w.ch = ch
	w.fault = nil
	w.mu.Unlock()

	go w.run(ch)

	if err := ch.waitRoutine(); err != nil {
		return w.fail(ch, "start", err, Stopped)
	}
	w.setState(Running)
	ch.resolve(Running)
	w.log.Info("worker started")
	return nil
}

func (w *LoopWorker) Pause() error {
	w.ctl.Lock()
	defer w.ctl.Unlock()

	if _, err := w.check("pause", acceptPause); err != nil {
		return err
	}
	return w.handshake("pause", Pausing)
}

func (w *LoopWorker) Resume() error {
	w.ctl.Lock()
	defer w.ctl.Unlock()

	if _, err := w.check("resume", acceptResume); err != nil {
		return err
	}
	return w.handshake("resume", Resuming)
}

// Stop ends the goroutine and waits for it to exit.
func (w *LoopWorker) Stop() error {
	w.ctl.Lock()
	defer w.ctl.Unlock()

	if _, err := w.check("stop", acceptStop); err != nil {
		return err
	}
	if err := w.handshake("stop", Stopping); err != nil {
		return err
	}
	w.log.Info("worker stopped")
	return nil
}

// Dispose stops the goroutine if it is alive and releases the worker for good.
func (w *LoopWorker) Dispose() error {
	w.ctl.Lock()
	defer w.ctl.Unlock()

	st, err := w.check("dispose", acceptDispose)
	if err != nil {
		return err
	}
	switch st {
	case Running, Paused:
		if err := w.handshake("dispose", Disposing); err != nil {
			return err
		}
	default:
		w.setState(Disposing)
		w.setState(Disposed)
		w.disposed()
	}
	w.log.Debug("worker disposed")
	return nil
}

// handshake moves the worker through a transitional state to its stable
// result. When the stable result ends the goroutine, it is joined.
func (w *LoopWorker) handshake(op string, transitional State) error {
	stable := transitional.Stable()
	w.mu.Lock()
	ch := w.ch
	w.mu.Unlock()
	if ch == nil {
		return internalErrorf("worker '%s' is %s without a signal channel", w.name, w.State())
	}

	w.setState(transitional)
	ch.control.Set()
	if err := ch.waitRoutine(); err != nil {
		final := Stopped
		if stable == Disposed {
			final = Disposed
		}
		return w.fail(ch, op, err, final)
	}
	w.setState(stable)
	ch.resolve(stable)

	if stable == Stopped || stable == Disposed {
		<-ch.done
		w.release(ch)
		if stable == Disposed {
			w.disposed()
		}
	}
	return nil
}

// fail records a fault observed during a handshake. The goroutine has
// already exited when it is called.
func (w *LoopWorker) fail(ch *Channel, op string, err error, final State) error {
	<-ch.done
	w.mu.Lock()
	w.fault = err
	w.mu.Unlock()
	w.release(ch)
	w.setState(final)
	if final == Disposed {
		w.disposed()
	}
	w.log.Error("worker faulted", logx.String("op", op), logx.Err(err))
	return errors.Wrapf(err, "%s worker '%s'", op, w.name)
}

func (w *LoopWorker) release(ch *Channel) {
	w.mu.Lock()
	if w.ch == ch {
		w.ch = nil
	}
	w.mu.Unlock()
}

func (w *LoopWorker) disposed() {
	if h, ok := w.routine.(DisposeHook); ok {
		h.OnDisposed()
	}
}

// run is the goroutine body. The fault is stored before done is closed.
func (w *LoopWorker) run(ch *Channel) {
	defer close(ch.done)
	defer func() {
		if r := recover(); r != nil {
			if err, ok := r.(error); ok {
				ch.fault = errors.Wrapf(err, "worker '%s' panicked", w.name)
			} else {
				ch.fault = errors.Newf("worker '%s' panicked: %v", w.name, r)
			}
			w.log.Error("worker goroutine panicked", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()

	if err := w.loop(ch); err != nil {
		ch.fault = err
		w.log.Error("worker goroutine faulted", logx.Err(err))
	}
}

func (w *LoopWorker) loop(ch *Channel) error {
	if st := w.State(); st != Starting {
		return internalErrorf("worker '%s' goroutine began in state %s", w.name, st)
	}
	if st := ch.acknowledge(); st != Running {
		return internalErrorf("worker '%s' goroutine released in state %s", w.name, st)
	}

	for {
		var (
			proceed bool
			err     error
		)
		switch reason := w.routine.DoWork(ch); reason {
		case WorkGotControlSignal:
			proceed, err = w.continueAfterControlSignal(ch)
		case WorkIsDone:
			switch v := w.routine.TakeVacation(ch); v {
			case VacationGotControlSignal:
				proceed, err = w.continueAfterControlSignal(ch)
			case VacationTimeElapsed, VacationNewWorkArrived:
				proceed = true
			default:
				err = internalErrorf("worker '%s': unexpected vacation finish reason %s", w.name, v)
			}
		default:
			err = internalErrorf("worker '%s': unexpected work finish reason %s", w.name, reason)
		}
		if err != nil || !proceed {
			return err
		}
	}
}

// continueAfterControlSignal answers a consumed control signal. It returns
// false when the goroutine must exit. A paused worker waits for the next
// control signal and answers it in the same loop.
func (w *LoopWorker) continueAfterControlSignal(ch *Channel) (bool, error) {
	expected := expectFromRunning
	for {
		if st := w.State(); !expected.has(st) {
			return false, internalErrorf("worker '%s' got a control signal in state %s", w.name, st)
		}

		switch st := ch.acknowledge(); st {
		case Running:
			return true, nil
		case Stopped, Disposed:
			return false, nil
		case Paused:
			if err := w.waitWhilePaused(ch); err != nil {
				return false, err
			}
			expected = expectFromPaused
		default:
			return false, internalErrorf("worker '%s' released in state %s", w.name, st)
		}
	}
}

// waitWhilePaused blocks until the next control request. Every pausePoll it
// checks that the state is still Paused or one of the transitions out of it;
// anything else means the state moved without a handshake.
func (w *LoopWorker) waitWhilePaused(ch *Channel) error {
	for !ch.control.WaitTimeout(w.pausePoll) {
		if st := w.State(); st != Paused && !expectFromPaused.has(st) {
			return internalErrorf("worker '%s' left Paused without a control signal (state %s)", w.name, st)
		}
	}
	return nil
}
