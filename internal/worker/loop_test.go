package worker

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"vice/internal/eventbus"
)

type stubRoutine struct {
	doWork   func(ch *Channel) WorkFinishReason
	extras   []*Signal
	disposed atomic.Int32
}

func (r *stubRoutine) DoWork(ch *Channel) WorkFinishReason {
	if r.doWork != nil {
		return r.doWork(ch)
	}
	return WorkIsDone
}

func (r *stubRoutine) TakeVacation(ch *Channel) VacationFinishReason {
	if ch.WaitAny(-1) == ControlSignalIndex {
		return VacationGotControlSignal
	}
	return VacationNewWorkArrived
}

func (r *stubRoutine) OnDisposed() { r.disposed.Add(1) }

type extraRoutine struct {
	stubRoutine
}

func (r *extraRoutine) ExtraSignals() []*Signal { return r.extras }

func newCounting(t *testing.T, timeout time.Duration) (*TimeoutWorker, *atomic.Int64) {
	t.Helper()
	var n atomic.Int64
	tw, err := NewTimeoutWorker("counter", timeout, func() error {
		n.Add(1)
		return nil
	}, WithPausePoll(time.Millisecond))
	require.NoError(t, err)
	return tw, &n
}

func TestLifecycle(t *testing.T) {
	t.Parallel()

	tw, n := newCounting(t, 2*time.Millisecond)
	require.Equal(t, NotStarted, tw.State())

	require.NoError(t, tw.Start())
	require.Equal(t, Running, tw.State())
	require.Eventually(t, func() bool { return n.Load() > 2 }, time.Second, time.Millisecond)

	require.NoError(t, tw.Pause())
	require.Equal(t, Paused, tw.State())
	paused := n.Load()
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, paused, n.Load(), "no work while paused")

	require.NoError(t, tw.Resume())
	require.Equal(t, Running, tw.State())
	require.Eventually(t, func() bool { return n.Load() > paused }, time.Second, time.Millisecond)

	require.NoError(t, tw.Stop())
	require.Equal(t, Stopped, tw.State())
	stopped := n.Load()
	time.Sleep(10 * time.Millisecond)
	require.Equal(t, stopped, n.Load(), "goroutine joined on stop")

	require.NoError(t, tw.Dispose())
	require.Equal(t, Disposed, tw.State())
	require.NoError(t, tw.Fault())
}

func TestInvalidOperationsKeepState(t *testing.T) {
	t.Parallel()

	type op struct {
		name string
		call func(w Worker) error
	}
	start := op{"start", Worker.Start}
	pause := op{"pause", Worker.Pause}
	resume := op{"resume", Worker.Resume}
	stop := op{"stop", Worker.Stop}

	tests := []struct {
		name    string
		prepare func(t *testing.T, w *TimeoutWorker)
		want    State
		invalid []op
	}{
		{
			name:    "not started",
			prepare: func(t *testing.T, w *TimeoutWorker) {},
			want:    NotStarted,
			invalid: []op{pause, resume, stop},
		},
		{
			name:    "running",
			prepare: func(t *testing.T, w *TimeoutWorker) { require.NoError(t, w.Start()) },
			want:    Running,
			invalid: []op{start, resume},
		},
		{
			name: "paused",
			prepare: func(t *testing.T, w *TimeoutWorker) {
				require.NoError(t, w.Start())
				require.NoError(t, w.Pause())
			},
			want:    Paused,
			invalid: []op{start, pause},
		},
		{
			name: "stopped",
			prepare: func(t *testing.T, w *TimeoutWorker) {
				require.NoError(t, w.Start())
				require.NoError(t, w.Stop())
			},
			want:    Stopped,
			invalid: []op{start, pause, resume, stop},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			w, _ := newCounting(t, time.Hour)
			tt.prepare(t, w)
			for _, o := range tt.invalid {
				err := o.call(w)
				require.ErrorIs(t, err, ErrInvalidOperation, o.name)
				require.Contains(t, err.Error(), tt.want.String())
				require.Equal(t, tt.want, w.State(), o.name)
			}
			require.NoError(t, w.Dispose())
		})
	}
}

func TestDisposedRejectsEverything(t *testing.T) {
	t.Parallel()

	w, _ := newCounting(t, time.Hour)
	require.NoError(t, w.Start())
	require.NoError(t, w.Dispose())

	for _, call := range []func() error{w.Start, w.Pause, w.Resume, w.Stop, w.Dispose} {
		err := call()
		require.ErrorIs(t, err, ErrDisposed)
		var de *DisposedError
		require.ErrorAs(t, err, &de)
		require.Equal(t, "counter", de.ObjectName)
		require.Equal(t, Disposed, w.State())
	}
	require.ErrorIs(t, w.SetTimeout(time.Second), ErrDisposed)
}

func TestDisposeFromNotStartedRunsHookOnce(t *testing.T) {
	t.Parallel()

	r := &stubRoutine{}
	w := New("idle", r)
	require.NoError(t, w.Dispose())
	require.ErrorIs(t, w.Dispose(), ErrDisposed)
	require.Equal(t, int32(1), r.disposed.Load())
}

func TestStartWaitsForGoroutine(t *testing.T) {
	t.Parallel()

	var ran atomic.Bool
	var stateSeen atomic.Int32
	r := &stubRoutine{}
	var w *LoopWorker
	r.doWork = func(ch *Channel) WorkFinishReason {
		stateSeen.Store(int32(w.State()))
		ran.Store(true)
		return WorkIsDone
	}
	w = New("ready", r)

	require.NoError(t, w.Start())
	require.Equal(t, Running, w.State())
	require.Eventually(t, ran.Load, time.Second, time.Millisecond)
	require.Equal(t, int32(Running), stateSeen.Load(), "work never runs before Running")
	require.NoError(t, w.Stop())
}

func TestStopInterruptsVacation(t *testing.T) {
	t.Parallel()

	w, n := newCounting(t, time.Hour)
	require.NoError(t, w.Start())
	require.Eventually(t, func() bool { return n.Load() == 1 }, time.Second, time.Millisecond)

	began := time.Now()
	require.NoError(t, w.Stop())
	require.Less(t, time.Since(began), time.Second)
	require.NoError(t, w.Dispose())
}

func TestTimeoutChangeRearmsVacation(t *testing.T) {
	t.Parallel()

	w, n := newCounting(t, time.Hour)
	require.Equal(t, time.Hour, w.Timeout())
	require.NoError(t, w.Start())
	require.Eventually(t, func() bool { return n.Load() == 1 }, time.Second, time.Millisecond)

	require.ErrorIs(t, w.SetTimeout(0), ErrArgument)
	require.ErrorIs(t, w.SetTimeout(-time.Second), ErrArgument)
	require.Equal(t, time.Hour, w.Timeout())

	require.NoError(t, w.SetTimeout(5*time.Millisecond))
	require.Equal(t, 5*time.Millisecond, w.Timeout())
	require.Eventually(t, func() bool { return n.Load() >= 3 }, time.Second, time.Millisecond)

	require.NoError(t, w.Dispose())
}

func TestTimeoutChangeDoesNotRunExtraWork(t *testing.T) {
	t.Parallel()

	w, n := newCounting(t, time.Hour)
	require.NoError(t, w.Start())
	require.Eventually(t, func() bool { return n.Load() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, w.SetTimeout(30*time.Minute))
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, int64(1), n.Load())
	require.NoError(t, w.Stop())
}

func TestNewTimeoutWorkerRejectsNonPositive(t *testing.T) {
	t.Parallel()

	_, err := NewTimeoutWorker("bad", 0, nil)
	require.ErrorIs(t, err, ErrArgument)
}

func TestInternalFaultSurfacesOnNextControl(t *testing.T) {
	t.Parallel()

	r := &stubRoutine{doWork: func(ch *Channel) WorkFinishReason { return WorkFinishReason(42) }}
	w := New("broken", r)
	require.NoError(t, w.Start())

	err := w.Stop()
	require.Error(t, err)
	require.True(t, IsInternal(err))
	require.Contains(t, err.Error(), "unexpected work finish reason")
	require.Equal(t, Stopped, w.State())
	require.Error(t, w.Fault())

	require.NoError(t, w.Dispose())
	require.Equal(t, Disposed, w.State())
}

func TestPanicInHookSurfaces(t *testing.T) {
	t.Parallel()

	r := &stubRoutine{doWork: func(ch *Channel) WorkFinishReason { panic("boom") }}
	w := New("panicky", r)
	require.NoError(t, w.Start())

	err := w.Dispose()
	require.Error(t, err)
	require.False(t, IsInternal(err))
	require.Contains(t, err.Error(), "boom")
	require.Equal(t, Disposed, w.State())
	require.Equal(t, int32(1), r.disposed.Load())
}

func TestPanickedInternalErrorStaysInternal(t *testing.T) {
	t.Parallel()

	r := &stubRoutine{doWork: func(ch *Channel) WorkFinishReason {
		panic(internalErrorf("unexpected signal index %d", 7))
	}}
	w := New("asserting", r)
	require.NoError(t, w.Start())

	err := w.Stop()
	require.Error(t, err)
	require.True(t, IsInternal(err))
	require.Contains(t, err.Error(), "panicked")
	require.Contains(t, err.Error(), "unexpected signal index 7")
	require.NoError(t, w.Dispose())
}

func TestBackToBackControlCalls(t *testing.T) {
	t.Parallel()

	sequences := []struct {
		name  string
		calls func(w *TimeoutWorker) []error
		want  State
	}{
		{"start stop", func(w *TimeoutWorker) []error {
			return []error{w.Start(), w.Stop()}
		}, Stopped},
		{"start pause resume dispose", func(w *TimeoutWorker) []error {
			return []error{w.Start(), w.Pause(), w.Resume(), w.Dispose()}
		}, Disposed},
		{"start pause stop", func(w *TimeoutWorker) []error {
			return []error{w.Start(), w.Pause(), w.Stop()}
		}, Stopped},
		{"start pause dispose", func(w *TimeoutWorker) []error {
			return []error{w.Start(), w.Pause(), w.Dispose()}
		}, Disposed},
	}
	for _, tt := range sequences {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			for _, timeout := range []time.Duration{time.Millisecond, time.Hour} {
				for i := 0; i < 200; i++ {
					w, _ := newCounting(t, timeout)
					for j, err := range tt.calls(w) {
						require.NoError(t, err, "iteration %d call %d", i, j)
					}
					require.Equal(t, tt.want, w.State())
					require.NoError(t, w.Fault())
					if w.State() != Disposed {
						require.NoError(t, w.Dispose())
					}
				}
			}
		})
	}
}

func TestPausedWorkerNoticesStateMovedWithoutHandshake(t *testing.T) {
	t.Parallel()

	w := New("paused", &stubRoutine{}, WithPausePoll(time.Millisecond))
	require.NoError(t, w.Start())
	require.NoError(t, w.Pause())

	w.mu.Lock()
	ch := w.ch
	w.mu.Unlock()
	w.setState(Running)

	select {
	case <-ch.done:
	case <-time.After(time.Second):
		t.Fatal("paused goroutine kept waiting")
	}
	require.True(t, IsInternal(ch.fault))

	err := w.Stop()
	require.True(t, IsInternal(err))
	require.Contains(t, err.Error(), "left Paused")
	require.Equal(t, Stopped, w.State())
	require.NoError(t, w.Dispose())
}

func TestStartValidatesExtraSignals(t *testing.T) {
	t.Parallel()

	s := NewSignal()
	tests := []struct {
		name   string
		extras []*Signal
	}{
		{"empty", []*Signal{}},
		{"nil entry", []*Signal{s, nil}},
		{"duplicate", []*Signal{s, s}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := &extraRoutine{stubRoutine{extras: tt.extras}}
			w := New("extras", r)
			require.ErrorIs(t, w.Start(), ErrInvalidOperation)
			require.Equal(t, NotStarted, w.State())
		})
	}
}

func TestWaitForStateChange(t *testing.T) {
	t.Parallel()

	w, _ := newCounting(t, time.Hour)
	require.True(t, w.WaitForStateChange(0, NotStarted))
	require.False(t, w.WaitForStateChange(5*time.Millisecond, Running))

	require.NoError(t, w.Start())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		time.Sleep(10 * time.Millisecond)
		_ = w.Stop()
	}()
	require.True(t, w.WaitForStateChange(-1, Stopped))
	wg.Wait()
	require.NoError(t, w.Dispose())
}

func TestConcurrentControlSerializes(t *testing.T) {
	t.Parallel()

	w, _ := newCounting(t, time.Millisecond)
	require.NoError(t, w.Start())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				var err error
				if (i+j)%2 == 0 {
					err = w.Pause()
				} else {
					err = w.Resume()
				}
				if err != nil {
					require.ErrorIs(t, err, ErrInvalidOperation)
				}
			}
		}(i)
	}
	wg.Wait()

	st := w.State()
	require.True(t, st == Running || st == Paused, st.String())
	require.NoError(t, w.Stop())
	require.NoError(t, w.Dispose())
}

func TestStateTransitionsPublished(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	events, unsub := bus.Subscribe(32)
	defer unsub()

	w := New("observed", &stubRoutine{}, WithBus(bus), WithKind("Stub"))
	require.NoError(t, w.Start())
	require.NoError(t, w.Dispose())

	var got []State
	for len(events) > 0 {
		e := <-events
		require.Equal(t, eventbus.WorkerState, e.Type)
		sc := e.Data.(StateChange)
		require.Equal(t, "observed", sc.Worker)
		got = append(got, sc.To)
	}
	require.Equal(t, []State{Starting, Running, Disposing, Disposed}, got)
}

func TestDescribe(t *testing.T) {
	t.Parallel()

	w, _ := newCounting(t, time.Second)
	require.Equal(t, "Type: TimeoutWorker; Name: counter; State: NotStarted", Describe(w))
	require.Equal(t, "<nil>", Describe(nil))
}

func TestStateStable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want State
	}{
		{Starting, Running},
		{Pausing, Paused},
		{Resuming, Running},
		{Stopping, Stopped},
		{Disposing, Disposed},
		{Paused, Paused},
		{NotStarted, NotStarted},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, tt.in.Stable(), tt.in.String())
		require.Equal(t, tt.in != tt.want, tt.in.IsTransitional())
	}
	require.Equal(t, "State(99)", State(99).String())
}
