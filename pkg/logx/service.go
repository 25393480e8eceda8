package logx

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
)

type Config struct {
	Level   string
	Console bool
	File    FileConfig
	Alert   AlertConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

const defaultLogFile = "./vice.log"

// Service owns the process-wide outputs. Loggers derived from it pick up
// every Apply without being recreated.
type Service struct {
	mu     sync.Mutex
	file   *os.File
	alerts *alerter

	active atomic.Pointer[zerolog.Logger]
}

// New applies cfg and returns the service with its root logger.
func New(cfg Config) (*Service, Logger) {
	setGlobals()
	s := &Service{alerts: newAlerter(256)}
	s.Apply(cfg)
	return s, Logger{svc: s}
}

func (s *Service) Logger() Logger { return Logger{svc: s} }

func (s *Service) current() zerolog.Logger {
	if zl := s.active.Load(); zl != nil {
		return *zl
	}
	return zerolog.Nop()
}

// SetAlertSink installs the receiver for alert lines. Pass nil to detach.
func (s *Service) SetAlertSink(sink AlertSink) { s.alerts.setSink(sink) }

// Apply rebuilds the outputs from cfg. The new logger is published before
// the previous log file is closed.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.alerts.configure(cfg.Alert)

	var outs []io.Writer
	if cfg.Console {
		outs = append(outs, consoleWriter(Stdout()))
	}

	prevFile := s.file
	s.file = nil
	if cfg.File.Enabled {
		f, err := openLogFile(cfg.File.Path)
		if err != nil {
			fmt.Fprintf(Stderr(), "logx: %v\n", err)
		} else {
			s.file = f
			outs = append(outs, zerolog.SyncWriter(f))
		}
	}

	if cfg.Alert.Enabled {
		s.alerts.start()
		outs = append(outs, s.alerts)
	}
	if len(outs) == 0 {
		outs = append(outs, consoleWriter(Stdout()))
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(outs...)).
		Level(parseLevel(cfg.Level, LevelInfo)).
		With().Timestamp().Logger()
	s.active.Store(&zl)

	if prevFile != nil {
		_ = prevFile.Close()
	}
}

// Close drains the alert worker and closes the log file.
func (s *Service) Close() error {
	s.alerts.stop()

	s.mu.Lock()
	f := s.file
	s.file = nil
	s.mu.Unlock()

	if f == nil {
		return nil
	}
	return f.Close()
}

func openLogFile(path string) (*os.File, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = defaultLogFile
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "open log file %q", path)
	}
	return f, nil
}

// Stdout returns the configured stdout sink.
func Stdout() io.Writer { return os.Stdout }

// Stderr returns the configured stderr sink.
func Stderr() io.Writer { return os.Stderr }
