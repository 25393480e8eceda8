package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBusFanout(t *testing.T) {
	t.Parallel()

	b := New()
	a, unsubA := b.Subscribe(4)
	c, unsubC := b.Subscribe(4)
	defer unsubA()
	defer unsubC()

	Publish(b, JobStarted, "nightly")

	for _, ch := range []<-chan Event{a, c} {
		select {
		case e := <-ch:
			require.Equal(t, JobStarted, e.Type)
			require.Equal(t, "nightly", e.Data)
			require.False(t, e.Time.IsZero())
			require.True(t, e.HasPrefix("job"))
			require.False(t, e.HasPrefix("worker"))
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestBusDropsWhenFull(t *testing.T) {
	t.Parallel()

	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: WorkerState})
	b.Publish(Event{Type: WorkerState})

	require.Len(t, ch, 1)
	require.Equal(t, uint64(1), Dropped(b))
}

func TestBusUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()

	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()

	_, ok := <-ch
	require.False(t, ok)
	b.Publish(Event{Type: JobFinished})
}

func TestPublishNilPublisher(t *testing.T) {
	t.Parallel()
	Publish(nil, JobFailed, nil)
}
