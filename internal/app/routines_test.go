package app

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"vice/internal/config"
	"vice/internal/jobs"
	"vice/pkg/unitctl"
)

func TestEchoRoutine(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, echoRoutine([]string{"a", "b"})(context.Background(), "ignored", &buf))
	require.NoError(t, echoRoutine(nil)(context.Background(), 42, &buf))
	require.Equal(t, "a b\n42\n", buf.String())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, echoRoutine(nil)(ctx, nil, io.Discard), context.Canceled)
}

func TestExecRoutine(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	r := execRoutine("greet", []string{"/bin/sh", "-c", `echo "$VICE_JOB:$VICE_PARAMETER"`})
	require.NoError(t, r(context.Background(), "p1", &buf))
	require.Equal(t, "greet:p1\n", buf.String())

	err := execRoutine("fail", []string{"/bin/sh", "-c", "exit 3"})(context.Background(), nil, io.Discard)
	require.ErrorContains(t, err, "exit status 3")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = execRoutine("slow", []string{"/bin/sh", "-c", "sleep 5"})(ctx, nil, io.Discard)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWithTimeout(t *testing.T) {
	t.Parallel()

	wait := func(ctx context.Context, _ any, _ io.Writer) error {
		<-ctx.Done()
		return ctx.Err()
	}
	err := withTimeout(wait, 10*time.Millisecond)(context.Background(), nil, io.Discard)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	var r jobs.Routine = wait
	require.NotNil(t, withTimeout(r, 0))
}

type fakeUnits struct {
	err    error
	closed bool
	calls  []string
}

func (f *fakeUnits) Run(_ context.Context, action unitctl.Action, unit string) (unitctl.Result, error) {
	f.calls = append(f.calls, string(action)+" "+unit)
	res := unitctl.Result{Unit: unitctl.UnitName(unit), Action: action, JobResult: "done"}
	if f.err != nil {
		res.JobResult = "failed"
		return res, f.err
	}
	return res, nil
}

func (f *fakeUnits) Close() error {
	f.closed = true
	return nil
}

func TestSystemdRoutine(t *testing.T) {
	t.Parallel()

	fake := &fakeUnits{}
	dials := 0
	pool := &unitPool{dial: func(context.Context) (unitRunner, error) {
		dials++
		return fake, nil
	}}

	var buf bytes.Buffer
	r := systemdRoutine(pool, unitctl.ActionRestart, "nginx")
	require.NoError(t, r(context.Background(), nil, &buf))
	require.NoError(t, r(context.Background(), nil, &buf))
	require.Equal(t, "restart nginx.service: done\nrestart nginx.service: done\n", buf.String())
	require.Equal(t, 1, dials)

	fake.err = errors.New("job failed")
	require.Error(t, r(context.Background(), nil, io.Discard))
	require.True(t, fake.closed)
	require.Nil(t, pool.conn)

	require.NoError(t, pool.Close())
}

func TestRoutineFor(t *testing.T) {
	t.Parallel()

	a := &App{units: newUnitPool()}
	for _, jc := range []config.JobConfig{
		{Name: "e"},
		{Name: "x", Kind: "exec", Args: []string{"/bin/true"}, Timeout: "1s"},
		{Name: "s", Kind: "systemd", Args: []string{"start", "nginx"}},
	} {
		r, err := a.routineFor(jc)
		require.NoError(t, err, jc.Name)
		require.NotNil(t, r)
	}
	_, err := a.routineFor(config.JobConfig{Name: "bad", Kind: "http"})
	require.Error(t, err)
	_, err = a.routineFor(config.JobConfig{Name: "bad", Kind: "systemd", Args: []string{"enable", "x"}})
	require.Error(t, err)
}

func TestRunRecorderMapping(t *testing.T) {
	t.Parallel()

	at := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
	in := jobs.RunInfo{
		ID:         "r1",
		Job:        "hello",
		Reason:     jobs.OverriddenDueTime,
		DueTime:    at,
		StartedAt:  at,
		FinishedAt: at.Add(1500 * time.Millisecond),
		Duration:   1500 * time.Millisecond,
		Status:     jobs.RunFailed,
		Error:      "boom",
	}
	row := toStorageRun(in)
	require.Equal(t, "OverriddenDueTime", row.Reason)
	require.Equal(t, int64(1500), row.TookMS)
	require.Equal(t, in, fromStorageRun(row))
}
