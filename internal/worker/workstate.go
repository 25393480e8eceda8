package worker

import "sync"

// WorkState counts arrivals of new work. A routine snapshots Current before
// computing its vacation and compares again right before sleeping, so an
// arrival in between is never slept through.
type WorkState struct {
	mu    sync.Mutex
	value int64
	pulse *Signal
}

func NewWorkState() *WorkState {
	return &WorkState{pulse: NewSignal()}
}

// Advance bumps the counter and wakes a routine waiting on Signal.
func (s *WorkState) Advance() int64 {
	s.mu.Lock()
	s.value++
	v := s.value
	s.mu.Unlock()
	s.pulse.Set()
	return v
}

func (s *WorkState) Current() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

// Changed reports whether the counter moved past snapshot.
func (s *WorkState) Changed(snapshot int64) bool { return s.Current() != snapshot }

// Signal is pulsed on every Advance; it is meant to be returned from
// ExtraSignals.
func (s *WorkState) Signal() *Signal { return s.pulse }
