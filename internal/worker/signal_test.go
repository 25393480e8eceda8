package worker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSignalCoalescesSets(t *testing.T) {
	t.Parallel()

	s := NewSignal()
	s.Set()
	s.Set()
	require.True(t, s.TryConsume())
	require.False(t, s.TryConsume())
}

func TestSignalWaitTimeout(t *testing.T) {
	t.Parallel()

	s := NewSignal()
	require.False(t, s.WaitTimeout(0))
	require.False(t, s.WaitTimeout(5*time.Millisecond))

	go func() {
		time.Sleep(5 * time.Millisecond)
		s.Set()
	}()
	require.True(t, s.WaitTimeout(time.Second))
}

func TestChannelWaitAny(t *testing.T) {
	t.Parallel()

	a, b := NewSignal(), NewSignal()
	ch, err := newChannel([]*Signal{a, b})
	require.NoError(t, err)
	require.Equal(t, 2, ch.Extras())

	require.Equal(t, WaitTimeout, ch.WaitAny(time.Millisecond))

	b.Set()
	require.Equal(t, 2, ch.WaitAny(time.Second))

	a.Set()
	require.Equal(t, 1, ch.WaitAny(-1))

	a.Set()
	ch.control.Set()
	require.Equal(t, ControlSignalIndex, ch.WaitAny(time.Second), "control wins over pending extras")
	require.Equal(t, 1, ch.WaitAny(time.Second))
}

func TestNewChannelRejectsBadExtras(t *testing.T) {
	t.Parallel()

	s := NewSignal()
	tests := []struct {
		name   string
		extras []*Signal
	}{
		{"nil", []*Signal{nil}},
		{"duplicate", []*Signal{s, s}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := newChannel(tt.extras)
			require.ErrorIs(t, err, ErrInvalidOperation)
		})
	}
}

func TestWaitRoutineReportsExitedGoroutine(t *testing.T) {
	t.Parallel()

	ch, err := newChannel(nil)
	require.NoError(t, err)
	close(ch.done)

	err = ch.waitRoutine()
	require.Error(t, err)
	require.True(t, IsInternal(err))
	require.True(t, ch.exited())
}

func TestWorkState(t *testing.T) {
	t.Parallel()

	ws := NewWorkState()
	snap := ws.Current()
	require.False(t, ws.Changed(snap))

	require.Equal(t, snap+1, ws.Advance())
	require.True(t, ws.Changed(snap))
	require.True(t, ws.Signal().TryConsume())
	require.False(t, ws.Signal().TryConsume())
}
