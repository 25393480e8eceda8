// Package unitctl drives systemd units over D-Bus for scheduled jobs.
package unitctl

import (
	"strings"

	"github.com/cockroachdb/errors"
)

// Action is a unit job type accepted by Run.
type Action string

const (
	ActionStart   Action = "start"
	ActionStop    Action = "stop"
	ActionRestart Action = "restart"
	ActionReload  Action = "reload"
)

var ErrUnsupported = errors.New("unitctl: unsupported OS (linux only)")

// ParseAction validates a lower-case action name.
func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case ActionStart, ActionStop, ActionRestart, ActionReload:
		return a, nil
	default:
		return "", errors.Newf("unitctl: unknown action %q", s)
	}
}

// UnitName appends ".service" when name has no unit suffix.
func UnitName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	for _, suffix := range []string{".service", ".timer", ".socket", ".target", ".mount", ".path", ".slice", ".scope"} {
		if strings.HasSuffix(name, suffix) {
			return name
		}
	}
	return name + ".service"
}

// Result is the outcome of a finished unit job.
type Result struct {
	Unit   string
	Action Action
	// JobResult is systemd's job result ("done", "failed", "timeout", ...).
	JobResult string
}

func (r Result) OK() bool { return r.JobResult == "done" }
