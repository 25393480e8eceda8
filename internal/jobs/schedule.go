package jobs

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"vice/internal/worker"
)

// Never is the due time of a schedule with no further occurrence.
var Never = time.Date(9999, time.December, 31, 0, 0, 0, 0, time.UTC)

// IsNever reports whether t is the Never sentinel or later.
func IsNever(t time.Time) bool { return !t.Before(Never) }

// Schedule yields the next due time strictly after t, or Never.
// Implementations must be pure functions of their input.
type Schedule interface {
	DueTimeAfter(t time.Time) time.Time
}

// ScheduleFunc adapts a function to Schedule.
type ScheduleFunc func(t time.Time) time.Time

func (f ScheduleFunc) DueTimeAfter(t time.Time) time.Time { return f(t) }

// NeverSchedule never comes due. It is the default schedule of a new job.
type NeverSchedule struct{}

func (NeverSchedule) DueTimeAfter(time.Time) time.Time { return Never }
func (NeverSchedule) String() string                   { return "never" }

// IntervalSchedule comes due every Every, aligned on Anchor.
type IntervalSchedule struct {
	Anchor time.Time
	Every  time.Duration
}

func (s IntervalSchedule) DueTimeAfter(t time.Time) time.Time {
	if s.Every <= 0 {
		return Never
	}
	if t.Before(s.Anchor) {
		return s.Anchor
	}
	n := t.Sub(s.Anchor)/s.Every + 1
	return s.Anchor.Add(n * s.Every)
}

func (s IntervalSchedule) String() string { return "every " + s.Every.String() }

// CronSchedule wraps a robfig/cron expression.
type CronSchedule struct {
	Expr string
	s    cron.Schedule
	loc  *time.Location
}

var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// NewCronSchedule parses expr (5 or 6 fields, or a descriptor such as @hourly).
// A nil loc means the location of the instant passed to DueTimeAfter.
func NewCronSchedule(expr string, loc *time.Location) (*CronSchedule, error) {
	s, err := cronParser.Parse(expr)
	if err != nil {
		return nil, worker.Argumentf("invalid cron %q: %v", expr, err)
	}
	return &CronSchedule{Expr: expr, s: s, loc: loc}, nil
}

func (c *CronSchedule) DueTimeAfter(t time.Time) time.Time {
	if c.loc != nil {
		t = t.In(c.loc)
	}
	next := c.s.Next(t)
	if next.IsZero() {
		return Never
	}
	return next
}

func (c *CronSchedule) String() string { return "cron " + c.Expr }

// SpecKind describes the normalized kind of a schedule string.
type SpecKind int

const (
	SpecNever SpecKind = iota
	SpecCron
	SpecInterval
)

// ParsedSpec is a parsed schedule string.
//
// Supported forms:
//   - Cron: "*/5 * * * *", "0 */10 * * * *", "@hourly", "@every 55m"
//   - Interval duration: "55m", "2h30m"
//   - Interval HH:MM: "00:50" (50 minutes), "02:30" (2 hours 30 minutes)
//   - "never" or empty: no occurrences
//
// Optional prefixes: "cron:" forces cron parsing, "interval:" or "every:"
// force interval parsing.
type ParsedSpec struct {
	Kind   SpecKind
	Cron   string
	Every  time.Duration
	Source string // "never" | "cron" | "duration" | "hhmm"
}

var reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

// ParseSchedule parses a schedule string without building it.
func ParseSchedule(raw string) (ParsedSpec, error) {
	s := strings.TrimSpace(raw)
	low := strings.ToLower(s)
	if s == "" || low == "never" {
		return ParsedSpec{Kind: SpecNever, Source: "never"}, nil
	}

	if rest, ok := cutPrefixFold(s, "cron:"); ok {
		if rest == "" {
			return ParsedSpec{}, worker.Argumentf("cron schedule required after 'cron:'")
		}
		return ParsedSpec{Kind: SpecCron, Cron: rest, Source: "cron"}, nil
	}
	for _, p := range []string{"interval:", "every:"} {
		if rest, ok := cutPrefixFold(s, p); ok {
			d, src, err := parseInterval(rest)
			if err != nil {
				return ParsedSpec{}, err
			}
			return ParsedSpec{Kind: SpecInterval, Every: d, Source: src}, nil
		}
	}

	if strings.ContainsAny(s, " \t\n\r") || strings.HasPrefix(s, "@") {
		return ParsedSpec{Kind: SpecCron, Cron: s, Source: "cron"}, nil
	}
	if reHHMM.MatchString(s) {
		d, err := parseHHMMDuration(s)
		if err != nil {
			return ParsedSpec{}, err
		}
		return ParsedSpec{Kind: SpecInterval, Every: d, Source: "hhmm"}, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		if d <= 0 {
			return ParsedSpec{}, worker.Argumentf("interval must be > 0")
		}
		return ParsedSpec{Kind: SpecInterval, Every: d, Source: "duration"}, nil
	}

	return ParsedSpec{}, worker.Argumentf(
		"invalid schedule %q (use cron like '*/5 * * * *', HH:MM like '02:30', or duration like '55m')", raw)
}

// Build turns the parsed spec into a Schedule. Intervals are anchored at anchor.
func (p ParsedSpec) Build(anchor time.Time, loc *time.Location) (Schedule, error) {
	switch p.Kind {
	case SpecNever:
		return NeverSchedule{}, nil
	case SpecCron:
		return NewCronSchedule(p.Cron, loc)
	case SpecInterval:
		return IntervalSchedule{Anchor: anchor, Every: p.Every}, nil
	default:
		return nil, worker.Argumentf("unknown schedule kind %d", p.Kind)
	}
}

// NewSchedule parses raw and builds it in one step.
func NewSchedule(raw string, anchor time.Time, loc *time.Location) (Schedule, error) {
	p, err := ParseSchedule(raw)
	if err != nil {
		return nil, err
	}
	return p.Build(anchor, loc)
}

func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) < len(prefix) || !strings.EqualFold(s[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(s[len(prefix):]), true
}

func parseInterval(v string) (time.Duration, string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, "", worker.Argumentf("interval required")
	}
	if reHHMM.MatchString(v) {
		d, err := parseHHMMDuration(v)
		return d, "hhmm", err
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, "", worker.Argumentf("invalid interval %q (use HH:MM or Go duration like '55m'/'2h30m')", v)
	}
	if d <= 0 {
		return 0, "", worker.Argumentf("interval must be > 0")
	}
	return d, "duration", nil
}

func parseHHMMDuration(v string) (time.Duration, error) {
	m := reHHMM.FindStringSubmatch(v)
	if len(m) != 3 {
		return 0, worker.Argumentf("invalid HH:MM %q", v)
	}
	hh, err1 := strconv.Atoi(m[1])
	mm, err2 := strconv.Atoi(m[2])
	if err1 != nil || err2 != nil {
		return 0, worker.Argumentf("invalid HH:MM %q", v)
	}
	if mm > 59 {
		return 0, worker.Argumentf("invalid minutes in %q", v)
	}
	d := time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
	if d <= 0 {
		return 0, worker.Argumentf("interval must be > 0")
	}
	return d, nil
}
