package pprof

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"vice/internal/runtime/supervisor"
	logx "vice/pkg/logx"
)

var errInsecureBind = errors.New("pprof refused to start: insecure bind")

// Service runs the debug server. The listener lives under its own
// supervisor, so a failing debug server never cancels the application.
type Service struct {
	log    logx.Logger
	status StatusFunc

	mu   sync.Mutex
	cfg  Config
	sup  *supervisor.Supervisor
	srv  *http.Server
	addr net.Addr
}

func New(cfg Config, log logx.Logger, status StatusFunc) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, log: log.With(logx.String("comp", "pprof")), status: status}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Addr returns the bound listener address, "" while not serving.
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.addr == nil {
		return ""
	}
	return s.addr.String()
}

// Reconfigure stores cfg and starts, stops or restarts the server to match.
// Profiling rates are applied even when the server stays off.
func (s *Service) Reconfigure(ctx context.Context, cfg Config) {
	cfg.applyRates()

	s.mu.Lock()
	prev, running := s.cfg, s.sup != nil
	s.cfg = cfg
	s.mu.Unlock()

	if running && (!cfg.Enabled || needsRestart(prev, cfg)) {
		s.Stop(ctx)
		running = false
	}
	if cfg.Enabled && !running {
		s.Start(ctx)
	}
}

// Start is a no-op when disabled or already running.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil || !s.cfg.Enabled {
		return
	}
	s.sup = supervisor.New(context.WithoutCancel(ctx),
		supervisor.WithLogger(s.log),
		supervisor.WithCancelOnError(false),
	)
	s.sup.GoRestart("pprof.serve", 500*time.Millisecond, 10*time.Second, s.serveOnce)
}

// Stop shuts the server down and waits for the serve loop until ctx ends.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	sup, srv := s.sup, s.srv
	s.sup = nil
	s.mu.Unlock()
	if sup == nil {
		return
	}

	sup.Cancel()
	if srv != nil {
		_ = srv.Shutdown(ctx)
	}
	if err := sup.Wait(ctx); err != nil && ctx.Err() != nil {
		s.log.Warn("pprof stop incomplete", logx.Err(err))
		return
	}
	s.log.Info("pprof stopped")
}

// serveOnce binds and serves until ctx ends. Returning context.Canceled
// tells the supervisor not to restart.
func (s *Service) serveOnce(ctx context.Context) error {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()
	if !cfg.Enabled || ctx.Err() != nil {
		return context.Canceled
	}

	addr := cfg.addr()
	if !IsLoopbackAddr(addr) && cfg.Token == "" {
		if !cfg.AllowInsecure {
			s.log.Error("non-loopback pprof addr requires token or allow_insecure", logx.String("addr", addr))
			return errInsecureBind
		}
		s.log.Warn("pprof serving without token on a non-loopback addr", logx.String("addr", addr))
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		if ctx.Err() != nil {
			return context.Canceled
		}
		return errors.Wrapf(err, "pprof listen %s", addr)
	}

	srv := &http.Server{
		Handler:      newHandler(cfg, s.status, s.log),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	s.mu.Lock()
	s.srv, s.addr = srv, ln.Addr()
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		if s.srv == srv {
			s.srv, s.addr = nil, nil
		}
		s.mu.Unlock()
		_ = srv.Close()
	}()

	stop := context.AfterFunc(ctx, func() {
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	})
	defer stop()

	prefix := normalizePrefix(cfg.Prefix)
	s.log.Info("pprof started",
		logx.String("addr", ln.Addr().String()),
		logx.String("prefix", prefix),
		logx.Bool("token_set", cfg.Token != ""),
		logx.String("url", "http://"+ln.Addr().String()+prefix),
	)

	err = srv.Serve(ln)
	if ctx.Err() != nil {
		return context.Canceled
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return errors.New("pprof server exited unexpectedly")
	}
	return err
}
