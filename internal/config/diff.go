package config

import (
	"reflect"
	"sort"
	"strings"

	logx "vice/pkg/logx"
)

// JobDiff lists jobs by name across two configs.
type JobDiff struct {
	Added   []string
	Removed []string
	Changed []string
}

func (d JobDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// DiffJobs compares job declarations by name. Names are trimmed.
func DiffJobs(oldJobs, newJobs []JobConfig) JobDiff {
	oldM := indexJobs(oldJobs)
	newM := indexJobs(newJobs)

	var d JobDiff
	for name, n := range newM {
		o, ok := oldM[name]
		switch {
		case !ok:
			d.Added = append(d.Added, name)
		case !reflect.DeepEqual(normalizeJob(o), normalizeJob(n)):
			d.Changed = append(d.Changed, name)
		}
	}
	for name := range oldM {
		if _, ok := newM[name]; !ok {
			d.Removed = append(d.Removed, name)
		}
	}
	sort.Strings(d.Added)
	sort.Strings(d.Removed)
	sort.Strings(d.Changed)
	return d
}

func indexJobs(list []JobConfig) map[string]JobConfig {
	m := make(map[string]JobConfig, len(list))
	for _, j := range list {
		name := strings.TrimSpace(j.Name)
		if name == "" {
			continue
		}
		m[name] = j
	}
	return m
}

func normalizeJob(j JobConfig) JobConfig {
	enabled := j.IsEnabled()
	j.Name = strings.TrimSpace(j.Name)
	j.Schedule = strings.TrimSpace(j.Schedule)
	j.Enabled = &enabled
	j.Kind = j.KindOrDefault()
	j.Timezone = strings.TrimSpace(j.Timezone)
	j.Timeout = strings.TrimSpace(j.Timeout)
	if len(j.Args) == 0 {
		j.Args = nil
	}
	return j
}

// SummarizeConfigChange returns the sorted list of changed sections,
// structured attrs for logging, and the per-job diff.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, JobDiff) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.alert_enabled", newCfg.Logging.Alert.Enabled),
		)
	}

	if oldCfg.Vice != newCfg.Vice {
		changed = append(changed, "vice")
		attrs = append(attrs,
			logx.String("vice.min_vacation", strings.TrimSpace(newCfg.Vice.MinVacation)),
			logx.String("vice.max_vacation", strings.TrimSpace(newCfg.Vice.MaxVacation)),
			logx.String("vice.pause_poll", strings.TrimSpace(newCfg.Vice.PausePoll)),
			logx.Int("vice.history_size", newCfg.Vice.HistorySize),
		)
	}

	if oldCfg.Heartbeat != newCfg.Heartbeat {
		changed = append(changed, "heartbeat")
		attrs = append(attrs,
			logx.Bool("heartbeat.enabled", newCfg.Heartbeat.Enabled),
			logx.String("heartbeat.interval", strings.TrimSpace(newCfg.Heartbeat.Interval)),
		)
	}

	if oldCfg.Pprof != newCfg.Pprof {
		changed = append(changed, "pprof")
		attrs = append(attrs,
			logx.Bool("pprof.enabled", newCfg.Pprof.Enabled),
			logx.String("pprof.addr", strings.TrimSpace(newCfg.Pprof.Addr)),
			logx.String("pprof.prefix", strings.TrimSpace(newCfg.Pprof.Prefix)),
			logx.Bool("pprof.token_set", strings.TrimSpace(newCfg.Pprof.Token) != ""),
			logx.Bool("pprof.allow_insecure", newCfg.Pprof.AllowInsecure),
		)
	}

	// Nil means disabled.
	var oldS, newS StorageConfig
	if oldCfg.Storage != nil {
		oldS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		newS = *newCfg.Storage
	}
	if oldS != newS {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newS.Path) != ""),
			logx.Int("storage.keep", newS.Keep),
		)
	}

	jd := DiffJobs(oldCfg.Jobs, newCfg.Jobs)
	if !jd.Empty() {
		changed = append(changed, "jobs")
		attrs = append(attrs,
			logx.Strs("jobs.added", jd.Added),
			logx.Strs("jobs.removed", jd.Removed),
			logx.Strs("jobs.changed", jd.Changed),
		)
	}

	sort.Strings(changed)
	return changed, attrs, jd
}
