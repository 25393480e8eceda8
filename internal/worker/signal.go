package worker

import (
	"reflect"
	"time"

	"github.com/cockroachdb/errors"
)

const (
	// ControlSignalIndex is returned by WaitAny when the control signal fired.
	ControlSignalIndex = 0
	// WaitTimeout is returned by WaitAny when nothing fired before the timeout.
	WaitTimeout = -1
)

// Signal is a single-slot auto-reset event.
//
// Set never blocks and is idempotent while the signal is set; a waiter
// consumes the signal when it wakes up.
type Signal struct {
	c chan struct{}
}

func NewSignal() *Signal {
	return &Signal{c: make(chan struct{}, 1)}
}

// Set marks the signal. Extra sets before a waiter consumes it are coalesced.
func (s *Signal) Set() {
	select {
	case s.c <- struct{}{}:
	default:
	}
}

// C exposes the underlying channel for select statements. Receiving from it
// consumes the signal.
func (s *Signal) C() <-chan struct{} { return s.c }

// Wait blocks until the signal is set and consumes it.
func (s *Signal) Wait() { <-s.c }

// WaitTimeout consumes the signal or returns false after d.
// A negative d waits forever.
func (s *Signal) WaitTimeout(d time.Duration) bool {
	if d < 0 {
		<-s.c
		return true
	}
	if s.TryConsume() {
		return true
	}
	if d == 0 {
		return false
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-s.c:
		return true
	case <-t.C:
		return false
	}
}

// TryConsume consumes the signal if it is set.
func (s *Signal) TryConsume() bool {
	select {
	case <-s.c:
		return true
	default:
		return false
	}
}

// Channel is the rendezvous between a worker's control side and its
// goroutine. A new Channel is created on every Start.
//
// control carries requests from the control side and routine carries the
// goroutine's acknowledgments. The control side answers each acknowledgment
// with the resolved state over release, which is unbuffered, so a release
// is always taken before the next request can be made.
type Channel struct {
	control *Signal
	routine *Signal
	release chan State
	extras  []*Signal
	cases   []reflect.SelectCase

	done  chan struct{}
	fault error // written by the worker goroutine before done is closed
}

func newChannel(extras []*Signal) (*Channel, error) {
	seen := make(map[*Signal]struct{}, len(extras))
	for i, s := range extras {
		if s == nil {
			return nil, InvalidOperationf("extra signal #%d is nil", i+1)
		}
		if _, dup := seen[s]; dup {
			return nil, InvalidOperationf("extra signal #%d is registered more than once", i+1)
		}
		seen[s] = struct{}{}
	}

	ch := &Channel{
		control: NewSignal(),
		routine: NewSignal(),
		release: make(chan State),
		extras:  extras,
		done:    make(chan struct{}),
	}
	ch.cases = make([]reflect.SelectCase, 0, len(extras)+2)
	ch.cases = append(ch.cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(ch.control.c)})
	for _, s := range extras {
		ch.cases = append(ch.cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(s.c)})
	}
	return ch, nil
}

// Extras returns the number of extra signals multiplexed by WaitAny.
func (c *Channel) Extras() int { return len(c.extras) }

// ControlRequested consumes a pending control signal without blocking.
// Long DoWork hooks call it between units of work.
func (c *Channel) ControlRequested() bool { return c.control.TryConsume() }

// Control exposes the control signal channel for hooks that build their own select.
func (c *Channel) Control() <-chan struct{} { return c.control.c }

// WaitAny waits for the control signal or one of the extra signals.
// It returns ControlSignalIndex, 1..Extras() for the extra signal that fired,
// or WaitTimeout. A negative timeout waits forever. The control signal wins
// when several are pending.
func (c *Channel) WaitAny(timeout time.Duration) int {
	if c.control.TryConsume() {
		return ControlSignalIndex
	}

	cases := c.cases
	if timeout >= 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		cases = append(cases[:len(cases):len(cases)], reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(t.C)})
	}
	chosen, _, _ := reflect.Select(cases)
	if chosen == len(c.cases) {
		return WaitTimeout
	}
	return chosen
}

// acknowledge is the worker side of a handshake: report readiness and block
// until the control side has finished its transition. It returns the state
// the control side resolved to.
func (c *Channel) acknowledge() State {
	c.routine.Set()
	return <-c.release
}

// resolve hands the stable state to a goroutine blocked in acknowledge.
func (c *Channel) resolve(st State) { c.release <- st }

// waitRoutine is the control side wait for the worker acknowledgment.
// It fails when the worker goroutine exits instead of acknowledging.
func (c *Channel) waitRoutine() error {
	if c.routine.TryConsume() {
		return nil
	}
	select {
	case <-c.routine.c:
		return nil
	case <-c.done:
		if c.routine.TryConsume() {
			return nil
		}
		if c.fault != nil {
			return c.fault
		}
		return errors.AssertionFailedf("worker goroutine exited without acknowledging the handshake")
	}
}

// exited reports whether the worker goroutine has returned.
func (c *Channel) exited() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
