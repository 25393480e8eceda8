package config

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/singleflight"

	logx "vice/pkg/logx"
)

const validateTimeout = 5 * time.Second

// ValidatorFunc checks a parsed config before it is committed.
type ValidatorFunc func(ctx context.Context, cfg *Config) error

// Manager holds the committed config and publishes every accepted change to
// its subscribers.
type Manager struct {
	path     string
	log      logx.Logger
	validate ValidatorFunc
	environ  map[string]string

	mu      sync.RWMutex
	current *Config
	sum     uint64

	subsMu sync.Mutex
	subs   map[chan *Config]struct{}

	// A SIGHUP and a file event often arrive together.
	reloads singleflight.Group
}

func NewManager(path string) *Manager {
	return &Manager{path: path, log: logx.Nop(), subs: map[chan *Config]struct{}{}}
}

func (m *Manager) Path() string { return m.path }

func (m *Manager) SetLogger(log logx.Logger) {
	if log.IsZero() {
		log = logx.Nop()
	}
	m.log = log.With(logx.String("comp", "config"))
}

// SetValidator installs the check run by Load and Reload.
func (m *Manager) SetValidator(fn ValidatorFunc) { m.validate = fn }

// SetEnviron replaces the process environment as the source of VICE_*
// overrides. Mostly for tests.
func (m *Manager) SetEnviron(environ map[string]string) { m.environ = environ }

// Parse reads and decodes the file and applies VICE_* overrides. Nothing is
// committed.
func (m *Manager) Parse() (*Config, error) {
	b, err := os.ReadFile(m.path)
	if err != nil {
		return nil, errors.Wrapf(err, "read config %s", m.path)
	}
	cfg, err := Decode(m.path, b)
	if err != nil {
		return nil, err
	}
	if err := applyEnv(cfg, m.environ); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (m *Manager) check(ctx context.Context, cfg *Config) error {
	if m.validate == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, validateTimeout)
	defer cancel()
	return m.validate(ctx, cfg)
}

// Load parses, validates and commits the file without notifying subscribers.
func (m *Manager) Load() (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, err
	}
	if err := m.check(context.Background(), cfg); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	m.Commit(cfg)
	return cfg, nil
}

func (m *Manager) Commit(cfg *Config) {
	sum := fingerprint(cfg)
	m.mu.Lock()
	m.current, m.sum = cfg, sum
	m.mu.Unlock()
}

func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Reload re-reads the file and publishes it when the content changed and
// passed validation. Concurrent calls share one reload. The result reports
// whether a config was published.
func (m *Manager) Reload(ctx context.Context) (bool, error) {
	v, err, _ := m.reloads.Do("reload", func() (any, error) {
		return m.reload(ctx)
	})
	published, _ := v.(bool)
	return published, err
}

func (m *Manager) reload(ctx context.Context) (bool, error) {
	cfg, err := m.Parse()
	if err != nil {
		return false, err
	}

	sum := fingerprint(cfg)
	m.mu.RLock()
	same := sum != 0 && sum == m.sum
	m.mu.RUnlock()
	if same {
		m.log.Debug("config unchanged", logx.String("path", m.path))
		return false, nil
	}

	if err := m.check(ctx, cfg); err != nil {
		return false, errors.Wrap(err, "config rejected")
	}
	m.Commit(cfg)
	m.publish(cfg)
	m.log.Debug("config published", logx.String("path", m.path), logx.Uint64("hash", sum))
	return true, nil
}

// Subscribe returns a channel that receives each published config.
func (m *Manager) Subscribe(buffer int) chan *Config {
	ch := make(chan *Config, buffer)
	m.subsMu.Lock()
	m.subs[ch] = struct{}{}
	m.subsMu.Unlock()
	return ch
}

// Unsubscribe closes ch. Unknown channels are ignored.
func (m *Manager) Unsubscribe(ch chan *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	if _, ok := m.subs[ch]; ok {
		delete(m.subs, ch)
		close(ch)
	}
}

// publish never blocks. A subscriber with a full buffer loses its oldest
// pending config.
func (m *Manager) publish(cfg *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for ch := range m.subs {
		if !offerNewest(ch, cfg) {
			m.log.Debug("config update dropped", logx.Int("queue_cap", cap(ch)))
		}
	}
}

func offerNewest(ch chan *Config, cfg *Config) bool {
	for range 2 {
		select {
		case ch <- cfg:
			return true
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
	return false
}
