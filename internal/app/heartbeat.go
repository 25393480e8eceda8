package app

import (
	"vice/internal/config"
	"vice/internal/worker"
	logx "vice/pkg/logx"
)

const heartbeatName = "heartbeat"

// applyHeartbeat starts, retunes or disposes the heartbeat worker to match hc.
func (a *App) applyHeartbeat(hc config.HeartbeatConfig) error {
	interval, err := hc.IntervalOrDefault()
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	switch {
	case !hc.Enabled:
		if a.heartbeat == nil {
			return nil
		}
		hb := a.heartbeat
		a.heartbeat = nil
		return hb.Dispose()
	case a.heartbeat == nil:
		hb, err := worker.NewTimeoutWorker(heartbeatName, interval, a.beat,
			worker.WithLogger(a.log.With(logx.String("comp", heartbeatName))),
			worker.WithBus(a.bus),
		)
		if err != nil {
			return err
		}
		if err := hb.Start(); err != nil {
			return err
		}
		a.heartbeat = hb
		return nil
	case a.heartbeat.Timeout() != interval:
		return a.heartbeat.SetTimeout(interval)
	default:
		return nil
	}
}

// beat logs one status line. It persists nothing.
func (a *App) beat() error {
	st := a.Status()
	names := make([]string, 0, len(st.Jobs))
	for _, j := range st.Jobs {
		names = append(names, j.Name)
	}
	a.log.Info("heartbeat",
		logx.String("vice", st.Vice),
		logx.Strs("jobs", names),
		logx.Int("running", st.Running),
		logx.Time("next_due", st.NextDue),
		logx.Duration("vacation", st.Vacation),
		logx.Int64("goroutines", st.Supervisor.Active),
		logx.Uint64("events_dropped", st.EventsDropped),
	)
	return nil
}

// Heartbeat returns the heartbeat worker, nil when disabled.
func (a *App) Heartbeat() *worker.TimeoutWorker {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.heartbeat
}
