package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, b []byte) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range bytes.Split(bytes.TrimSpace(b), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal(line, &m), string(line))
		out = append(out, m)
	}
	return out
}

func TestWriterLoggerFields(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewWriter(&buf, "info").With(String("comp", "test"))
	log.Debug("hidden")
	log.Info("hello", Int("n", 3), Strs("jobs", []string{"a", "b"}), Err(errors.New("boom")), Err(nil))

	lines := decodeLines(t, buf.Bytes())
	require.Len(t, lines, 1)
	require.Equal(t, "hello", lines[0]["message"])
	require.Equal(t, "test", lines[0]["comp"])
	require.Equal(t, float64(3), lines[0]["n"])
	// New() renames the error field; accept both spellings.
	errField := lines[0]["err"]
	if errField == nil {
		errField = lines[0]["error"]
	}
	require.Equal(t, "boom", errField)
}

func TestLineWriter(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	w := NewWriter(&buf, "debug").LineWriter(LevelInfo, "job output")
	_, _ = w.Write([]byte("first\nsec"))
	_, _ = w.Write([]byte("ond\r\npartial"))

	lines := decodeLines(t, buf.Bytes())
	require.Len(t, lines, 2)
	require.Equal(t, "first", lines[0]["line"])
	require.Equal(t, "second", lines[1]["line"])
	require.Equal(t, "job output", lines[1]["message"])
}

func TestZeroLoggerIsSafe(t *testing.T) {
	t.Parallel()

	var l Logger
	require.True(t, l.IsZero())
	l.Info("nothing")
	require.False(t, Nop().IsZero())
}

// Not parallel: New mutates zerolog globals.
func TestServiceFileAndAlerts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vice.log")
	svc, log := New(Config{
		Level: "debug",
		File:  FileConfig{Enabled: true, Path: path},
		Alert: AlertConfig{Enabled: true, MinLevel: "warn", RatePerSec: 1},
	})

	alerts := make(chan Alert, 4)
	svc.SetAlertSink(func(_ context.Context, a Alert) { alerts <- a })

	log.Info("routine")
	log.Warn("disk low", String("mount", "/var"))
	log.Warn("rate limited")

	select {
	case a := <-alerts:
		require.Equal(t, "disk low", a.Message)
		require.True(t, strings.HasPrefix(a.Text, "[WARN] disk low"))
		require.Contains(t, a.Text, "mount=/var")
	case <-time.After(2 * time.Second):
		t.Fatal("no alert")
	}
	select {
	case a := <-alerts:
		t.Fatalf("unexpected alert %q", a.Message)
	case <-time.After(50 * time.Millisecond):
	}

	svc.Apply(Config{Level: "error", File: FileConfig{Enabled: true, Path: path}})
	log.Warn("filtered")
	require.NoError(t, svc.Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	var msgs []string
	for _, m := range decodeLines(t, b) {
		msgs = append(msgs, m["message"].(string))
	}
	require.Equal(t, []string{"routine", "disk low", "rate limited"}, msgs)
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	require.Equal(t, LevelDebug, parseLevel(" debug ", LevelInfo))
	require.Equal(t, LevelInfo, parseLevel("bogus", LevelInfo))
	require.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}
