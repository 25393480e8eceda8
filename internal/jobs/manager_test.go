package jobs

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"vice/internal/worker"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func startedManager(t *testing.T, opts ...Option) *Manager {
	t.Helper()
	m := NewManager(opts...)
	require.NoError(t, m.Start())
	t.Cleanup(func() {
		if !m.IsDisposed() {
			require.NoError(t, m.Dispose())
		}
	})
	return m
}

func TestManagerLifecycleFlags(t *testing.T) {
	t.Parallel()

	m := NewManager()
	require.False(t, m.IsRunning())
	require.False(t, m.IsDisposed())

	require.NoError(t, m.Start())
	require.True(t, m.IsRunning())
	require.False(t, m.IsDisposed())
	names, err := m.Names()
	require.NoError(t, err)
	require.Empty(t, names)

	require.NoError(t, m.Dispose())
	require.False(t, m.IsRunning())
	require.True(t, m.IsDisposed())
	require.Equal(t, worker.Disposed, m.Vice().State())
}

func TestManagerStartTwice(t *testing.T) {
	t.Parallel()

	m := startedManager(t)
	err := m.Start()
	require.ErrorIs(t, err, worker.ErrInvalidOperation)
	require.Equal(t, "'jobs.Manager' is already running", err.Error())
}

func TestManagerDisposedRejects(t *testing.T) {
	t.Parallel()

	m := NewManager()
	require.NoError(t, m.Dispose())

	for _, err := range []error{
		m.Start(),
		m.Dispose(),
		func() error { _, err := m.Create("job1"); return err }(),
		func() error { _, err := m.Get("job1"); return err }(),
		func() error { _, err := m.Names(); return err }(),
	} {
		require.ErrorIs(t, err, worker.ErrDisposed)
		require.Equal(t, "'jobs.Manager' is disposed.", err.Error())
		var de *worker.DisposedError
		require.ErrorAs(t, err, &de)
		require.Equal(t, ManagerName, de.ObjectName)
	}
	require.False(t, m.IsRunning())
}

func TestManagerNotStarted(t *testing.T) {
	t.Parallel()

	m := NewManager()
	defer func() { require.NoError(t, m.Dispose()) }()

	_, err := m.Create("job1")
	require.ErrorIs(t, err, worker.ErrInvalidOperation)
	require.Equal(t, "'jobs.Manager' not started.", err.Error())

	_, err = m.Get("job1")
	require.ErrorIs(t, err, worker.ErrInvalidOperation)
	_, err = m.Names()
	require.ErrorIs(t, err, worker.ErrInvalidOperation)
}

func TestCreateValidatesName(t *testing.T) {
	t.Parallel()

	m := startedManager(t)
	for _, bad := range []string{"", " ", "\t"} {
		_, err := m.Create(bad)
		require.ErrorIs(t, err, worker.ErrArgument)
		require.Equal(t, "Job name cannot be null or empty.", err.Error())
	}
	names, err := m.Names()
	require.NoError(t, err)
	require.Empty(t, names)
}

func TestCreateDuplicateAndGetUnknown(t *testing.T) {
	t.Parallel()

	m := startedManager(t)
	job, err := m.Create("job1")
	require.NoError(t, err)
	require.Equal(t, "job1", job.Name())

	_, err = m.Create("job1")
	require.ErrorIs(t, err, ErrAlreadyExists)
	require.Equal(t, "Job 'job1' already exists.", err.Error())

	_, err = m.Create("Job1")
	require.NoError(t, err, "names are case-sensitive")

	_, err = m.Get("nope")
	require.ErrorIs(t, err, ErrNotFound)
	require.Equal(t, "Job not found: 'nope'.", err.Error())

	got, err := m.Get("job1")
	require.NoError(t, err)
	require.Same(t, job, got)
}

func TestNewJobDefaults(t *testing.T) {
	t.Parallel()

	m := startedManager(t)
	job, err := m.Create("job1")
	require.NoError(t, err)

	require.Equal(t, Never, job.Schedule().DueTimeAfter(SystemClock.Now()))
	require.NotNil(t, job.Routine())
	require.Nil(t, job.Parameter())
	require.Nil(t, job.Output())
	require.True(t, job.Enabled())
	require.False(t, job.IsRunning())
	require.False(t, job.IsDisposed())
	require.Empty(t, job.History())

	info := job.Info()
	require.Equal(t, "job1", info.Name)
	require.Equal(t, "never", info.Schedule)
	require.False(t, info.IsOverridden)
}

func TestNamesIsStableSnapshot(t *testing.T) {
	t.Parallel()

	m := startedManager(t)
	for _, n := range []string{"c", "a", "b"} {
		_, err := m.Create(n)
		require.NoError(t, err)
	}

	first, err := m.Names()
	require.NoError(t, err)
	second, err := m.Names()
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, first)
	require.Equal(t, first, second)

	first[0] = "mutated"
	third, err := m.Names()
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, third)
}

func TestJobDisposeRemovesFromRegistry(t *testing.T) {
	t.Parallel()

	m := startedManager(t)
	job, err := m.Create("job1")
	require.NoError(t, err)

	require.NoError(t, job.Dispose())
	require.True(t, job.IsDisposed())
	require.ErrorIs(t, job.Dispose(), worker.ErrDisposed)
	require.ErrorIs(t, job.SetParameter(1), worker.ErrDisposed)
	require.ErrorIs(t, job.Trigger(), worker.ErrDisposed)

	_, err = m.Get("job1")
	require.ErrorIs(t, err, ErrNotFound)

	again, err := m.Create("job1")
	require.NoError(t, err)
	require.NotSame(t, job, again)
}

func TestManagerDisposeCascades(t *testing.T) {
	t.Parallel()

	m := NewManager()
	require.NoError(t, m.Start())
	a, err := m.Create("a")
	require.NoError(t, err)
	b, err := m.Create("b")
	require.NoError(t, err)

	require.NoError(t, m.Dispose())
	require.True(t, a.IsDisposed())
	require.True(t, b.IsDisposed())
	require.ErrorIs(t, m.Dispose(), worker.ErrDisposed)
}

func TestDisposeWhileRoutineCallsBack(t *testing.T) {
	t.Parallel()

	m := NewManager()
	require.NoError(t, m.Start())
	job, err := m.Create("callback")
	require.NoError(t, err)

	started := make(chan struct{})
	var namesErr error
	require.NoError(t, job.SetRoutine(func(ctx context.Context, _ any, _ io.Writer) error {
		close(started)
		<-ctx.Done()
		_, namesErr = m.Names()
		return ctx.Err()
	}))
	require.NoError(t, job.Trigger())

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("job never started")
	}

	done := make(chan error, 1)
	go func() { done <- m.Dispose() }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("dispose blocked on a routine calling the manager")
	}
	require.ErrorIs(t, namesErr, worker.ErrDisposed)
	require.True(t, job.IsDisposed())
}

func TestCreateJobAfterDispose(t *testing.T) {
	t.Parallel()

	v := NewVice()
	require.NoError(t, v.Start())
	require.NoError(t, v.Dispose())

	_, err := v.CreateJob("late")
	require.ErrorIs(t, err, worker.ErrDisposed)
	require.Empty(t, v.JobNames())

	idle := NewVice()
	require.NoError(t, idle.Dispose())
	_, err = idle.CreateJob("late")
	require.ErrorIs(t, err, worker.ErrDisposed)
}

func TestStartReasonText(t *testing.T) {
	t.Parallel()

	for _, r := range []StartReason{ScheduleDueTime, OverriddenDueTime} {
		b, err := r.MarshalText()
		require.NoError(t, err)
		var got StartReason
		require.NoError(t, got.UnmarshalText(b))
		require.Equal(t, r, got)
	}
	var r StartReason
	require.Error(t, r.UnmarshalText([]byte("Manual")))
}
