package config

import (
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/cockroachdb/errors"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "VICE_"

// envOverrides are applied on top of the file on every load. Secrets such
// as the pprof token can stay out of the config file this way.
type envOverrides struct {
	LogLevel   string `env:"LOG_LEVEL"`
	PprofAddr  string `env:"PPROF_ADDR"`
	PprofToken string `env:"PPROF_TOKEN"`
}

// applyEnv overlays VICE_* variables from environ, or from the process
// environment when environ is nil.
func applyEnv(cfg *Config, environ map[string]string) error {
	opts := env.Options{Prefix: EnvPrefix}
	if environ != nil {
		opts.Environment = environ
	}
	var o envOverrides
	if err := env.ParseWithOptions(&o, opts); err != nil {
		return errors.Wrap(err, "environment overrides")
	}
	if v := strings.TrimSpace(o.LogLevel); v != "" {
		cfg.Logging.Level = v
	}
	if v := strings.TrimSpace(o.PprofAddr); v != "" {
		cfg.Pprof.Addr = v
	}
	if v := strings.TrimSpace(o.PprofToken); v != "" {
		cfg.Pprof.Token = v
	}
	return nil
}
