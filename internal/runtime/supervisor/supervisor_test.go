package supervisor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestGoRecoversPanicAndRecordsError(t *testing.T) {
	t.Parallel()

	s := New(context.Background())
	s.Go("boom", func(context.Context) error { panic("bad") })
	s.Go("fail", func(context.Context) error { return errors.New("nope") })
	s.Go0("ok", func(context.Context) {})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := s.Stop(ctx)
	require.Error(t, err)

	snap := s.Snapshot()
	require.Equal(t, uint64(3), snap.Started)
	require.Equal(t, int64(0), snap.Active)
	require.NotEmpty(t, snap.FirstError)

	byName := map[string]Stats{}
	for _, g := range snap.Goroutines {
		byName[g.Name] = g
	}
	require.Equal(t, uint64(1), byName["boom"].Panics)
	require.Contains(t, byName["fail"].LastErr, "nope")
	require.Empty(t, byName["ok"].LastErr)
}

func TestCanceledIsCleanExit(t *testing.T) {
	t.Parallel()

	s := New(context.Background())
	s.Go("wait", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, s.Stop(context.Background()))
	require.NoError(t, s.Err())
}

func TestCancelOnError(t *testing.T) {
	t.Parallel()

	s := New(context.Background(), WithCancelOnError(true))
	s.Go("fail", func(context.Context) error { return errors.New("fatal") })
	select {
	case <-s.Context().Done():
	case <-time.After(time.Second):
		t.Fatal("context not canceled")
	}
	require.Error(t, s.Wait(context.Background()))
}

func TestGoRestartRetriesUntilSuccess(t *testing.T) {
	t.Parallel()

	s := New(context.Background())
	var calls atomic.Int32
	s.GoRestart("flaky", time.Millisecond, 4*time.Millisecond, func(context.Context) error {
		if calls.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.Eventually(t, func() bool { return calls.Load() == 3 }, time.Second, time.Millisecond)
	err := s.Wait(context.Background())
	require.ErrorContains(t, err, "transient")

	var restarts uint64
	for _, g := range s.Snapshot().Goroutines {
		if g.Name == "flaky" {
			restarts = g.Restarts
		}
	}
	require.Equal(t, uint64(2), restarts)
	s.Cancel()
}
