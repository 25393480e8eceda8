package app

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"vice/internal/config"
	"vice/internal/eventbus"
	"vice/internal/jobs"
	"vice/internal/observability/pprof"
	"vice/internal/runtime/supervisor"
	"vice/internal/storage"
	"vice/internal/worker"
	logx "vice/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	units *unitPool
	debug *pprof.Service

	clock     jobs.Clock
	jobOutput func(job string) io.Writer

	mgr *jobs.Manager

	mu        sync.Mutex
	heartbeat *worker.TimeoutWorker
	applied   *config.Config
}

type Option func(*App)

// WithClock drives the scheduler from c instead of the wall clock.
func WithClock(c jobs.Clock) Option {
	return func(a *App) { a.clock = c }
}

// WithJobOutput overrides where job output goes. By default every line
// is logged at info with the job name.
func WithJobOutput(fn func(job string) io.Writer) Option {
	return func(a *App) { a.jobOutput = fn }
}

// New loads the config and opens logging and storage. Nothing runs until Start.
func New(cfgPath string, opts ...Option) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfgm.SetValidator(config.Validator)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(cfg.Logging.LogxConfig())
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log)

	a := &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     eventbus.New(),
		units:   newUnitPool(),
		clock:   jobs.SystemClock,
		applied: cfg,
	}
	for _, o := range opts {
		o(a)
	}

	sc, err := cfg.Storage.StorageSettings()
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	st, err := storage.Open(sc, log)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	if st != nil {
		a.store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}
	return a, nil
}

func (a *App) Manager() *jobs.Manager { return a.mgr }

// Debug returns the debug HTTP server, nil before Start.
func (a *App) Debug() *pprof.Service { return a.debug }

// Store returns the run store, nil when storage is disabled.
func (a *App) Store() storage.Store { return a.store }

// SetAlertSink forwards alert lines (see logging.alert).
func (a *App) SetAlertSink(sink logx.AlertSink) { a.logs.SetAlertSink(sink) }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Reload re-reads the config file now; a changed config is applied by
// the reload loop.
func (a *App) Reload(ctx context.Context) error {
	_, err := a.cfgm.Reload(ctx)
	return err
}

func (a *App) Start(ctx context.Context) error {
	if a.sup != nil {
		return worker.InvalidOperationf("app already started")
	}
	cfg := a.cfgm.Get()
	vs, err := cfg.Vice.Resolve()
	if err != nil {
		return err
	}

	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	opts := []jobs.Option{
		jobs.WithClock(a.clock),
		jobs.WithLogger(a.log),
		jobs.WithBus(a.bus),
		jobs.WithLauncher(a.sup),
		jobs.WithContext(a.sup.Context()),
		jobs.WithVacationBounds(vs.MinVacation, vs.MaxVacation),
		jobs.WithPausePoll(vs.PausePoll),
		jobs.WithHistorySize(vs.HistorySize),
	}
	if a.store != nil {
		opts = append(opts, jobs.WithRecorder(runRecorder{store: a.store}))
	}

	// Subscribe before anything publishes.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.logEvent(e)
			}
		}
	})

	a.mgr = jobs.NewManager(opts...)
	if err := a.mgr.Start(); err != nil {
		a.sup.Cancel()
		return err
	}

	if err := a.syncJobs(config.DiffJobs(nil, cfg.Jobs), cfg.Jobs); err != nil {
		a.log.Warn("some jobs could not be configured", logx.Err(err))
	}
	a.logLastRuns(ctx, cfg.Jobs)

	if err := a.applyHeartbeat(cfg.Heartbeat); err != nil {
		a.log.Warn("heartbeat not started", logx.Err(err))
	}

	ps, err := cfg.Pprof.PprofSettings()
	if err != nil {
		a.log.Warn("pprof settings invalid", logx.Err(err))
	}
	a.debug = pprof.New(ps, a.log, func() any { return a.Status() })
	a.debug.Reconfigure(a.sup.Context(), ps)

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(newCfg)
			}
		}
	})

	a.sup.GoRestart("config.watch", 250*time.Millisecond, 5*time.Second, a.cfgm.Watch)

	names, _ := a.mgr.Names()
	a.log.Info("app started", logx.Strs("jobs", names))
	return nil
}

// applyConfig applies a validated reload. Vice tuning and storage need a restart.
func (a *App) applyConfig(newCfg *config.Config) {
	a.mu.Lock()
	last := a.applied
	a.applied = newCfg
	a.mu.Unlock()

	sections, attrs, jd := config.SummarizeConfigChange(last, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	a.logs.Apply(newCfg.Logging.LogxConfig())

	for _, s := range sections {
		if s == "vice" || s == "storage" {
			a.log.Warn("config section changed; restart required for changes to take effect", logx.String("section", s))
		}
	}
	if err := a.applyHeartbeat(newCfg.Heartbeat); err != nil {
		a.log.Warn("heartbeat update failed", logx.Err(err))
	}
	if ps, err := newCfg.Pprof.PprofSettings(); err != nil {
		a.log.Warn("pprof update failed", logx.Err(err))
	} else {
		ctx, cancel := context.WithTimeout(a.sup.Context(), 5*time.Second)
		a.debug.Reconfigure(ctx, ps)
		cancel()
	}
	if err := a.syncJobs(jd, newCfg.Jobs); err != nil {
		a.log.Warn("some jobs could not be reconfigured", logx.Err(err))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// syncJobs brings the registry in line with list for the names in d.
func (a *App) syncJobs(d config.JobDiff, list []config.JobConfig) error {
	byName := make(map[string]config.JobConfig, len(list))
	for _, jc := range list {
		byName[strings.TrimSpace(jc.Name)] = jc
	}

	var errs error
	for _, name := range d.Removed {
		job, err := a.mgr.Get(name)
		if err == nil {
			err = job.Dispose()
		}
		if err != nil && !errors.Is(err, jobs.ErrNotFound) {
			errs = errors.CombineErrors(errs, err)
		}
	}
	for _, name := range d.Added {
		job, err := a.mgr.Create(name)
		if err == nil {
			err = a.configureJob(job, byName[name])
		}
		errs = errors.CombineErrors(errs, err)
	}
	for _, name := range d.Changed {
		job, err := a.mgr.Get(name)
		if errors.Is(err, jobs.ErrNotFound) {
			job, err = a.mgr.Create(name)
		}
		if err == nil {
			err = a.configureJob(job, byName[name])
		}
		errs = errors.CombineErrors(errs, err)
	}
	return errs
}

// configureJob applies jc to job. The job is disabled while it changes so
// a half-configured job never runs.
func (a *App) configureJob(job *jobs.Job, jc config.JobConfig) error {
	loc, err := jc.Location()
	if err != nil {
		return err
	}
	sched, err := jobs.NewSchedule(jc.Schedule, a.clock.Now(), loc)
	if err != nil {
		return errors.Wrapf(err, "job %q: schedule", jc.Name)
	}
	routine, err := a.routineFor(jc)
	if err != nil {
		return err
	}

	var parameter any
	if jc.Parameter != "" {
		parameter = jc.Parameter
	}
	out := a.outputFor(job.Name())

	if err := job.SetEnabled(false); err != nil {
		return err
	}
	if err := job.SetSchedule(sched); err != nil {
		return err
	}
	if err := job.SetRoutine(routine); err != nil {
		return err
	}
	if err := job.SetParameter(parameter); err != nil {
		return err
	}
	if err := job.SetOutput(out); err != nil {
		return err
	}
	if err := job.SetEnabled(jc.IsEnabled()); err != nil {
		return err
	}
	a.log.Debug("job configured",
		logx.String("job", job.Name()),
		logx.String("schedule", strings.TrimSpace(jc.Schedule)),
		logx.String("kind", jc.KindOrDefault()),
		logx.Bool("enabled", jc.IsEnabled()),
	)
	return nil
}

func (a *App) outputFor(job string) io.Writer {
	if a.jobOutput != nil {
		return a.jobOutput(job)
	}
	return a.log.With(logx.String("job", job)).LineWriter(logx.LevelInfo, "job output")
}

// logLastRuns reports the latest persisted run of every configured job.
func (a *App) logLastRuns(ctx context.Context, list []config.JobConfig) {
	if a.store == nil {
		return
	}
	for _, jc := range list {
		name := strings.TrimSpace(jc.Name)
		runs, err := a.store.RecentRuns(ctx, name, 1)
		if err != nil {
			a.log.Warn("read run history failed", logx.String("job", name), logx.Err(err))
			continue
		}
		if len(runs) == 0 {
			continue
		}
		last := fromStorageRun(runs[0])
		a.log.Info("last run",
			logx.String("job", name),
			logx.String("status", string(last.Status)),
			logx.Time("started_at", last.StartedAt),
			logx.Duration("took", last.Duration),
		)
	}
}

func (a *App) logEvent(e eventbus.Event) {
	switch d := e.Data.(type) {
	case jobs.RunInfo:
		a.log.Debug("event",
			logx.String("type", e.Type),
			logx.String("job", d.Job),
			logx.String("run", d.ID),
			logx.String("status", string(d.Status)),
		)
	case worker.StateChange:
		a.log.Debug("event",
			logx.String("type", e.Type),
			logx.String("worker", d.Worker),
			logx.String("from", d.From.String()),
			logx.String("to", d.To.String()),
		)
	default:
		a.log.Debug("event", logx.String("type", e.Type), logx.Any("data", e.Data))
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Jobs first: disposing the manager cancels and joins every run.
	step := a.stepper(ctx)
	step("jobs", 5*time.Second, func(context.Context) error {
		if a.mgr == nil {
			return nil
		}
		return a.mgr.Dispose()
	})
	step("heartbeat", time.Second, func(context.Context) error {
		a.mu.Lock()
		hb := a.heartbeat
		a.heartbeat = nil
		a.mu.Unlock()
		if hb == nil {
			return nil
		}
		return hb.Dispose()
	})
	step("pprof", 2*time.Second, func(c context.Context) error {
		if a.debug != nil {
			a.debug.Stop(c)
		}
		return nil
	})
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Stop(c) })
	step("systemd", time.Second, func(context.Context) error { return a.units.Close() })
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// stepper returns a helper that runs one shutdown step bounded by max and
// the caller's deadline, so a stuck component can't stall the whole stop.
func (a *App) stepper(ctx context.Context) func(name string, max time.Duration, fn func(context.Context) error) {
	return func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- errors.Newf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				err := <-done
				a.log.Info("stop step finished after deadline",
					logx.String("name", name),
					logx.Duration("took", time.Since(start)),
					logx.Err(err),
				)
			}()
		}
	}
}
