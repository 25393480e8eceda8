package config

import (
	"strings"

	logx "vice/pkg/logx"
)

type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Vice      ViceConfig      `json:"vice"`
	Heartbeat HeartbeatConfig `json:"heartbeat"`
	Pprof     PprofConfig     `json:"pprof"`

	// Storage is optional; nil (or driver "none") disables run persistence.
	Storage *StorageConfig `json:"storage,omitempty"`
	Jobs    []JobConfig    `json:"jobs"`
}

type LoggingConfig struct {
	Level   string       `json:"level"`
	Console bool         `json:"console"`
	File    LoggingFile  `json:"file"`
	Alert   LoggingAlert `json:"alert"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingAlert forwards WARN+ lines to the alert sink, rate limited.
type LoggingAlert struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

func (c LoggingConfig) LogxConfig() logx.Config {
	return logx.Config{
		Level:   c.Level,
		Console: c.Console,
		File:    logx.FileConfig{Enabled: c.File.Enabled, Path: c.File.Path},
		Alert: logx.AlertConfig{
			Enabled:    c.Alert.Enabled,
			MinLevel:   c.Alert.MinLevel,
			RatePerSec: c.Alert.RatePerSec,
		},
	}
}

// ViceConfig tunes the scheduler worker.
//
// All durations are Go duration strings (e.g. "1ms", "30s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - min_vacation: "1ms"
//   - max_vacation: "1m"
//   - pause_poll: "10ms"
//   - history_size: 20
type ViceConfig struct {
	MinVacation string `json:"min_vacation,omitempty"`
	MaxVacation string `json:"max_vacation,omitempty"`
	PausePoll   string `json:"pause_poll,omitempty"`
	HistorySize int    `json:"history_size,omitempty"`
}

// HeartbeatConfig controls the periodic status line. Interval defaults to "1m".
type HeartbeatConfig struct {
	Enabled  bool   `json:"enabled"`
	Interval string `json:"interval,omitempty"`
}

// PprofConfig controls the optional debug HTTP server (pprof, /healthz,
// /status). A non-loopback addr requires token or allow_insecure.
//
// Example:
//
//	"pprof": { "enabled": true, "addr": "127.0.0.1:6060", "token": "..." }
type PprofConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Prefix        string `json:"prefix,omitempty"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
	MemProfileRate       int `json:"mem_profile_rate,omitempty"`
}

// StorageConfig controls the optional run history store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/vice.db", "keep": 200 }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
	Keep        int    `json:"keep,omitempty"`
}

const (
	JobKindEcho = "echo"
	JobKindExec = "exec"
	// JobKindSystemd runs a unit job: args are [action, unit].
	JobKindSystemd = "systemd"
)

// JobConfig declares one scheduled job.
//
// Schedule accepts "never", a cron expression (optionally prefixed with
// "cron:"), or an interval ("every:5m", "interval:01:30", "10s").
type JobConfig struct {
	Name     string `json:"name"`
	Schedule string `json:"schedule"`

	// Enabled is a pointer so an omitted value defaults to true.
	Enabled *bool `json:"enabled,omitempty"`

	Kind      string   `json:"kind"`
	Args      []string `json:"args,omitempty"`
	Parameter string   `json:"parameter,omitempty"`
	Timezone  string   `json:"timezone,omitempty"`

	// Timeout bounds a single run. Empty or "0s" means no limit.
	Timeout string `json:"timeout,omitempty"`
}

func (j JobConfig) IsEnabled() bool {
	return j.Enabled == nil || *j.Enabled
}

// KindOrDefault returns the normalized kind, "echo" when omitted.
func (j JobConfig) KindOrDefault() string {
	k := strings.ToLower(strings.TrimSpace(j.Kind))
	if k == "" {
		return JobKindEcho
	}
	return k
}
