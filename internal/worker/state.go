package worker

import "fmt"

// State is a worker lifecycle state.
type State int

const (
	NotStarted State = iota
	Starting
	Running
	Pausing
	Paused
	Resuming
	Stopping
	Stopped
	Disposing
	Disposed
)

var stateNames = [...]string{
	NotStarted: "NotStarted",
	Starting:   "Starting",
	Running:    "Running",
	Pausing:    "Pausing",
	Paused:     "Paused",
	Resuming:   "Resuming",
	Stopping:   "Stopping",
	Stopped:    "Stopped",
	Disposing:  "Disposing",
	Disposed:   "Disposed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Stable maps a transitional state to the state it resolves to.
// Stable states map to themselves.
func (s State) Stable() State {
	switch s {
	case Starting, Resuming:
		return Running
	case Pausing:
		return Paused
	case Stopping:
		return Stopped
	case Disposing:
		return Disposed
	default:
		return s
	}
}

// IsTransitional reports whether s is one of the -ing states.
func (s State) IsTransitional() bool { return s.Stable() != s }

// IsTerminal reports whether no further lifecycle work is possible except Dispose.
func (s State) IsTerminal() bool { return s == Stopped || s == Disposed }

type states []State

func (ss states) has(s State) bool {
	for _, x := range ss {
		if x == s {
			return true
		}
	}
	return false
}

var (
	acceptStart   = states{NotStarted}
	acceptPause   = states{Running}
	acceptResume  = states{Paused}
	acceptStop    = states{Running, Paused}
	acceptDispose = states{NotStarted, Running, Paused, Stopped}

	// states the worker goroutine may observe when it answers a control signal
	expectFromRunning = states{Pausing, Stopping, Disposing}
	expectFromPaused  = states{Resuming, Stopping, Disposing}
)

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }
