package worker

import (
	"fmt"
	"time"

	"vice/internal/eventbus"
	logx "vice/pkg/logx"
)

// StateChange is the payload of eventbus.WorkerState events.
type StateChange struct {
	Worker string `json:"worker"`
	Kind   string `json:"kind"`
	From   State  `json:"from"`
	To     State  `json:"to"`
}

// State returns a snapshot of the lifecycle state.
func (w *LoopWorker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// WaitForStateChange blocks until the state equals target or timeout elapses.
// A negative timeout waits forever.
func (w *LoopWorker) WaitForStateChange(timeout time.Duration, target State) bool {
	var deadline <-chan time.Time
	if timeout >= 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		deadline = t.C
	}
	for {
		w.mu.Lock()
		st, changed := w.state, w.changed
		w.mu.Unlock()
		if st == target {
			return true
		}
		select {
		case <-changed:
		case <-deadline:
			return w.State() == target
		}
	}
}

func (w *LoopWorker) setState(to State) {
	w.mu.Lock()
	from := w.state
	if from == to {
		w.mu.Unlock()
		return
	}
	w.state = to
	close(w.changed)
	w.changed = make(chan struct{})
	w.mu.Unlock()

	w.log.Debug("state changed", logx.String("from", from.String()), logx.String("to", to.String()))
	eventbus.Publish(w.bus, eventbus.WorkerState, StateChange{Worker: w.name, Kind: w.kind, From: from, To: to})
}

// check validates the current state against the accepted source states of op.
// Must be called with the control lock held.
func (w *LoopWorker) check(op string, accepted states) (State, error) {
	st := w.State()
	if st == Disposed {
		return st, NewDisposedError(w.name)
	}
	if !accepted.has(st) {
		return st, InvalidOperationf("cannot %s worker '%s' in state %s", op, w.name, st)
	}
	return st, nil
}

// Describe renders the worker info line used by status output.
func Describe(w Worker) string {
	if w == nil {
		return "<nil>"
	}
	return fmt.Sprintf("Type: %s; Name: %s; State: %s", w.Kind(), w.Name(), w.State())
}
