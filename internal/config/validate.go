package config

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"vice/internal/jobs"
	"vice/internal/observability/pprof"
	"vice/internal/storage"
	"vice/pkg/unitctl"
)

// ViceSettings is ViceConfig with defaults applied.
type ViceSettings struct {
	MinVacation time.Duration
	MaxVacation time.Duration
	PausePoll   time.Duration
	HistorySize int
}

func (c ViceConfig) Resolve() (ViceSettings, error) {
	var s ViceSettings
	var err error
	if s.MinVacation, err = durationOr("vice.min_vacation", c.MinVacation, jobs.TimeQuantum); err != nil {
		return s, err
	}
	if s.MaxVacation, err = durationOr("vice.max_vacation", c.MaxVacation, jobs.DefaultMaxVacation); err != nil {
		return s, err
	}
	if s.PausePoll, err = durationOr("vice.pause_poll", c.PausePoll, 10*time.Millisecond); err != nil {
		return s, err
	}
	if s.MaxVacation < s.MinVacation {
		return s, errors.Newf("vice.max_vacation (%s) must be >= vice.min_vacation (%s)", s.MaxVacation, s.MinVacation)
	}
	s.HistorySize = c.HistorySize
	if s.HistorySize <= 0 {
		s.HistorySize = jobs.DefaultHistorySize
	}
	return s, nil
}

func (c HeartbeatConfig) IntervalOrDefault() (time.Duration, error) {
	return durationOr("heartbeat.interval", c.Interval, time.Minute)
}

// PprofSettings maps the section onto pprof.Config. Write timeout
// defaults to 60s so /profile can finish its default 30s capture.
func (c PprofConfig) PprofSettings() (pprof.Config, error) {
	out := pprof.Config{
		Enabled:              c.Enabled,
		Addr:                 strings.TrimSpace(c.Addr),
		Prefix:               strings.TrimSpace(c.Prefix),
		Token:                strings.TrimSpace(c.Token),
		AllowInsecure:        c.AllowInsecure,
		MutexProfileFraction: c.MutexProfileFraction,
		BlockProfileRate:     c.BlockProfileRate,
		MemProfileRate:       c.MemProfileRate,
	}
	var err error
	if out.ReadTimeout, err = durationOr("pprof.read_timeout", c.ReadTimeout, 10*time.Second); err != nil {
		return out, err
	}
	if out.WriteTimeout, err = durationOr("pprof.write_timeout", c.WriteTimeout, time.Minute); err != nil {
		return out, err
	}
	if out.IdleTimeout, err = durationOr("pprof.idle_timeout", c.IdleTimeout, time.Minute); err != nil {
		return out, err
	}
	if out.Addr == "" {
		out.Addr = pprof.DefaultAddr
	}
	if out.Enabled && out.Token == "" && !out.AllowInsecure && !pprof.IsLoopbackAddr(out.Addr) {
		return out, errors.Newf("pprof.addr %q is not loopback: set pprof.token or pprof.allow_insecure", out.Addr)
	}
	return out, nil
}

// StorageSettings maps the section onto storage.Config. A nil section
// yields the disabled driver.
func (c *StorageConfig) StorageSettings() (storage.Config, error) {
	if c == nil {
		return storage.Config{Driver: "none"}, nil
	}
	busy, err := durationField("storage.busy_timeout", c.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(c.Driver)),
		Path:        strings.TrimSpace(c.Path),
		BusyTimeout: busy,
		Keep:        c.Keep,
	}, nil
}

// Location resolves the job timezone; empty means local time.
func (j JobConfig) Location() (*time.Location, error) {
	tz := strings.TrimSpace(j.Timezone)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, errors.Wrapf(err, "job %q: timezone", j.Name)
	}
	return loc, nil
}

func (j JobConfig) RunTimeout() (time.Duration, error) {
	return durationField("jobs."+j.Name+".timeout", j.Timeout)
}

// Validate checks every section and reports all problems found.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs error
	if _, err := cfg.Vice.Resolve(); err != nil {
		errs = errors.CombineErrors(errs, err)
	}
	if _, err := cfg.Heartbeat.IntervalOrDefault(); err != nil {
		errs = errors.CombineErrors(errs, err)
	}
	if _, err := cfg.Pprof.PprofSettings(); err != nil {
		errs = errors.CombineErrors(errs, err)
	}
	if st, err := cfg.Storage.StorageSettings(); err != nil {
		errs = errors.CombineErrors(errs, err)
	} else {
		switch st.Driver {
		case "", "none", "file", "sqlite", "sqlite3":
		default:
			errs = errors.CombineErrors(errs, errors.Newf("storage.driver: unsupported %q", st.Driver))
		}
	}

	seen := make(map[string]struct{}, len(cfg.Jobs))
	for i, j := range cfg.Jobs {
		name := strings.TrimSpace(j.Name)
		if name == "" {
			errs = errors.CombineErrors(errs, errors.Newf("jobs[%d]: name is required", i))
			continue
		}
		if _, dup := seen[name]; dup {
			errs = errors.CombineErrors(errs, errors.Newf("jobs[%d]: duplicate name %q", i, name))
			continue
		}
		seen[name] = struct{}{}
		if err := validateJob(j); err != nil {
			errs = errors.CombineErrors(errs, errors.Wrapf(err, "jobs[%d]", i))
		}
	}
	return errs
}

func validateJob(j JobConfig) error {
	loc, err := j.Location()
	if err != nil {
		return err
	}
	if _, err := jobs.NewSchedule(j.Schedule, time.Now(), loc); err != nil {
		return errors.Wrapf(err, "job %q: schedule", j.Name)
	}
	if _, err := j.RunTimeout(); err != nil {
		return err
	}
	switch j.KindOrDefault() {
	case JobKindEcho:
	case JobKindExec:
		if len(j.Args) == 0 || strings.TrimSpace(j.Args[0]) == "" {
			return errors.Newf("job %q: exec requires args", j.Name)
		}
	case JobKindSystemd:
		if len(j.Args) != 2 || unitctl.UnitName(j.Args[1]) == "" {
			return errors.Newf("job %q: systemd requires args [action, unit]", j.Name)
		}
		if _, err := unitctl.ParseAction(j.Args[0]); err != nil {
			return errors.Wrapf(err, "job %q", j.Name)
		}
	default:
		return errors.Newf("job %q: unknown kind %q", j.Name, j.Kind)
	}
	return nil
}

// Validator adapts Validate to Manager.SetValidator.
func Validator(_ context.Context, cfg *Config) error { return Validate(cfg) }
