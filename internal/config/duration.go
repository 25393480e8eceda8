package config

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// durationField parses an optional, non-negative duration. Blank is zero.
// key names the field in error messages.
func durationField(key, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	switch d, err := time.ParseDuration(raw); {
	case err != nil:
		return 0, errors.Wrapf(err, "%s: invalid duration %q", key, raw)
	case d < 0:
		return 0, errors.Newf("%s: duration must be >= 0", key)
	default:
		return d, nil
	}
}

// durationOr is durationField with def standing in for zero.
func durationOr(key, raw string, def time.Duration) (time.Duration, error) {
	d, err := durationField(key, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}
