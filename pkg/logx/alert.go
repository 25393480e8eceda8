package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// AlertConfig controls forwarding of log lines to an AlertSink.
type AlertConfig struct {
	Enabled    bool
	MinLevel   string
	RatePerSec int
}

// Alert is a compact rendering of one log line.
type Alert struct {
	Level   Level
	Time    time.Time
	Message string
	Text    string
}

// AlertSink is called from a background goroutine, one alert at a time.
// It must not block for long.
type AlertSink func(ctx context.Context, a Alert)

const (
	alertTextMax  = 3500
	alertValueMax = 600
	alertStackMax = 900
)

// alerter is the zerolog.LevelWriter that feeds the sink. Writes never
// block: lines are dropped when the sink is unset, below the minimum level,
// over the rate or when the queue is full.
type alerter struct {
	mu      sync.Mutex
	sink    AlertSink
	min     Level
	limiter *rate.Limiter

	queue  chan Alert
	once   sync.Once
	cancel context.CancelFunc
	done   chan struct{}
}

func newAlerter(depth int) *alerter {
	return &alerter{queue: make(chan Alert, depth), min: LevelWarn}
}

func (a *alerter) setSink(sink AlertSink) {
	a.mu.Lock()
	a.sink = sink
	a.mu.Unlock()
}

func (a *alerter) configure(cfg AlertConfig) {
	perSec := max(1, cfg.RatePerSec)
	a.mu.Lock()
	a.min = parseLevel(cfg.MinLevel, LevelWarn)
	a.limiter = rate.NewLimiter(rate.Limit(perSec), perSec)
	a.mu.Unlock()
}

func (a *alerter) start() {
	a.once.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		a.mu.Lock()
		a.cancel = cancel
		a.done = make(chan struct{})
		done := a.done
		a.mu.Unlock()
		go a.run(ctx, done)
	})
}

func (a *alerter) stop() {
	a.mu.Lock()
	cancel, done := a.cancel, a.done
	a.cancel = nil
	a.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (a *alerter) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case al := <-a.queue:
			a.mu.Lock()
			sink := a.sink
			a.mu.Unlock()
			if sink != nil {
				sink(ctx, al)
			}
		}
	}
}

func (a *alerter) Write(p []byte) (int, error) { return a.WriteLevel(zerolog.NoLevel, p) }

func (a *alerter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	a.mu.Lock()
	pass := a.sink != nil && a.limiter != nil && level >= a.min && level != zerolog.NoLevel && a.limiter.Allow()
	a.mu.Unlock()
	if !pass {
		return len(p), nil
	}

	msg, text := renderAlert(p)
	if text == "" {
		return len(p), nil
	}
	select {
	case a.queue <- Alert{Level: level, Time: time.Now(), Message: msg, Text: text}:
	default:
	}
	return len(p), nil
}

// renderAlert turns a JSON log line into "[LEVEL] message" followed by one
// "- key=value" line per field, sorted by key.
func renderAlert(p []byte) (msg, text string) {
	p = bytes.TrimSpace(p)
	var doc map[string]any
	if err := json.Unmarshal(p, &doc); err != nil {
		raw := string(p)
		return raw, truncate(raw, alertTextMax)
	}

	msg, _ = doc[zerolog.MessageFieldName].(string)
	var b strings.Builder
	if lvl, _ := doc[zerolog.LevelFieldName].(string); lvl != "" {
		fmt.Fprintf(&b, "[%s] ", strings.ToUpper(lvl))
	}
	b.WriteString(msg)

	keys := make([]string, 0, len(doc))
	for k := range doc {
		switch k {
		case zerolog.TimestampFieldName, zerolog.LevelFieldName, zerolog.MessageFieldName:
		default:
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := fmt.Sprint(doc[k])
		if k == "stack" {
			fmt.Fprintf(&b, "\n- stack=\n%s", truncate(v, alertStackMax))
			continue
		}
		fmt.Fprintf(&b, "\n- %s=%s", k, truncate(v, alertValueMax))
	}
	return msg, truncate(b.String(), alertTextMax)
}
