package jobs

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"vice/internal/eventbus"
	"vice/internal/worker"
	logx "vice/pkg/logx"
)

const (
	// TimeQuantum is the shortest vacation the scheduler takes.
	TimeQuantum = time.Millisecond
	// DefaultMaxVacation caps a vacation so the registry is rescanned periodically.
	DefaultMaxVacation = time.Minute
	// DefaultHistorySize bounds the run history kept per job.
	DefaultHistorySize = 20

	workArrivedIndex = 1
)

type Option func(*Vice)

func WithClock(c Clock) Option {
	return func(v *Vice) {
		if c != nil {
			v.clock = c
		}
	}
}

func WithLogger(log logx.Logger) Option {
	return func(v *Vice) { v.log = log }
}

func WithBus(p eventbus.Publisher) Option {
	return func(v *Vice) { v.bus = p }
}

// WithRecorder persists every finished run.
func WithRecorder(r RunRecorder) Option {
	return func(v *Vice) { v.recorder = r }
}

// WithLauncher hosts job runs, typically on a supervisor.
func WithLauncher(l Launcher) Option {
	return func(v *Vice) {
		if l != nil {
			v.launcher = l
		}
	}
}

// WithVacationBounds clamps every vacation into [lo, hi]. Zero keeps the default.
func WithVacationBounds(lo, hi time.Duration) Option {
	return func(v *Vice) {
		if lo > 0 {
			v.minVacation = lo
		}
		if hi > 0 {
			v.maxVacation = hi
		}
	}
}

func WithHistorySize(n int) Option {
	return func(v *Vice) {
		if n > 0 {
			v.historySize = n
		}
	}
}

func WithPausePoll(d time.Duration) Option {
	return func(v *Vice) { v.pausePoll = d }
}

// WithContext sets the parent of every run context.
func WithContext(ctx context.Context) Option {
	return func(v *Vice) {
		if ctx != nil {
			v.parent = ctx
		}
	}
}

// ScanResult describes the latest DoWork cycle.
type ScanResult struct {
	At       time.Time
	Scanned  int
	Woken    []string
	Earliest time.Time
	Vacation time.Duration
}

// Vice is the scheduler worker. Every cycle it wakes the due employees and
// sleeps until the earliest remaining due time.
type Vice struct {
	*worker.LoopWorker

	clock         Clock
	log           logx.Logger
	bus           eventbus.Publisher
	recorder      RunRecorder
	recordTimeout time.Duration
	launcher      Launcher
	minVacation   time.Duration
	maxVacation   time.Duration
	historySize   int
	pausePoll     time.Duration
	parent        context.Context

	ctx    context.Context
	cancel context.CancelFunc
	work   *worker.WorkState

	// owned by the worker goroutine
	snapshot int64
	vacation time.Duration

	mu        sync.Mutex
	employees map[string]*employee
	closed    bool
	last      ScanResult
}

const viceName = "vice"

func NewVice(opts ...Option) *Vice {
	v := &Vice{
		clock:         SystemClock,
		log:           logx.Nop(),
		recordTimeout: 5 * time.Second,
		launcher:      goLauncher{},
		minVacation:   TimeQuantum,
		maxVacation:   DefaultMaxVacation,
		historySize:   DefaultHistorySize,
		parent:        context.Background(),
		work:          worker.NewWorkState(),
		employees:     map[string]*employee{},
	}
	for _, o := range opts {
		o(v)
	}
	if v.maxVacation < v.minVacation {
		v.maxVacation = v.minVacation
	}
	v.ctx, v.cancel = context.WithCancel(v.parent)
	v.log = v.log.With(logx.String("comp", "vice"))

	wopts := []worker.Option{worker.WithKind("Vice"), worker.WithLogger(v.log), worker.WithPausePoll(v.pausePoll)}
	if v.bus != nil {
		wopts = append(wopts, worker.WithBus(v.bus))
	}
	v.LoopWorker = worker.New(viceName, v, wopts...)
	return v
}

// WorkArrived wakes the scheduler so it rescans the registry.
func (v *Vice) WorkArrived() { v.work.Advance() }

// LastScan returns the result of the latest scan.
func (v *Vice) LastScan() ScanResult {
	v.mu.Lock()
	defer v.mu.Unlock()
	r := v.last
	r.Woken = append([]string(nil), r.Woken...)
	return r
}

func (v *Vice) ExtraSignals() []*worker.Signal { return []*worker.Signal{v.work.Signal()} }

func (v *Vice) DoWork(ch *worker.Channel) worker.WorkFinishReason {
	if ch.ControlRequested() {
		return worker.WorkGotControlSignal
	}

	v.snapshot = v.work.Current()
	now := v.clock.Now()
	earliest := Never

	type wakeup struct {
		e *employee
		r *run
	}
	var due []wakeup

	v.mu.Lock()
	for _, e := range v.employees {
		info, ok := e.dueTimeInfo()
		if !ok {
			continue
		}
		if now.Before(info.DueTime) {
			earliest = minTime(earliest, info.DueTime)
			continue
		}
		if e.current != nil {
			// overlap: an override waits for the run to finish, a schedule
			// occurrence is skipped
			if !info.IsOverridden {
				e.dueTime = e.schedule.DueTimeAfter(now)
				earliest = minTime(earliest, e.dueTime)
			}
			continue
		}
		due = append(due, wakeup{e: e, r: e.beginRun(info, now)})
		earliest = minTime(earliest, e.nextDue())
	}
	scanned := len(v.employees)
	v.mu.Unlock()

	woken := make([]string, 0, len(due))
	for _, w := range due {
		w.e.wakeUp(w.r)
		woken = append(woken, w.e.name)
	}
	sort.Strings(woken)

	v.vacation = v.clamp(earliest.Sub(now))

	v.mu.Lock()
	v.last = ScanResult{At: now, Scanned: scanned, Woken: woken, Earliest: earliest, Vacation: v.vacation}
	v.mu.Unlock()

	if len(woken) > 0 {
		v.log.Debug("scan", logx.Strs("woken", woken), logx.Duration("vacation", v.vacation))
	}
	return worker.WorkIsDone
}

func (v *Vice) TakeVacation(ch *worker.Channel) worker.VacationFinishReason {
	if v.work.Changed(v.snapshot) {
		return worker.VacationNewWorkArrived
	}
	switch ch.WaitAny(v.vacation) {
	case worker.ControlSignalIndex:
		return worker.VacationGotControlSignal
	case workArrivedIndex:
		return worker.VacationNewWorkArrived
	case worker.WaitTimeout:
		return worker.VacationTimeElapsed
	default:
		return 0
	}
}

// OnDisposed cascades disposal to every employee.
func (v *Vice) OnDisposed() {
	v.mu.Lock()
	list := make([]*employee, 0, len(v.employees))
	for _, e := range v.employees {
		list = append(list, e)
	}
	v.employees = map[string]*employee{}
	v.closed = true
	v.mu.Unlock()

	v.cancel()
	for _, e := range list {
		e.dispose()
	}
	v.log.Debug("employees disposed", logx.Int("count", len(list)))
}

func (v *Vice) clamp(d time.Duration) time.Duration {
	if d < v.minVacation {
		return v.minVacation
	}
	if d > v.maxVacation {
		return v.maxVacation
	}
	return d
}

// CreateJob registers a new job with the default no-op routine and a
// schedule that never comes due.
func (v *Vice) CreateJob(name string) (*Job, error) {
	if strings.TrimSpace(name) == "" {
		return nil, jobNameErr()
	}
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil, worker.NewDisposedError(viceName)
	}
	if _, ok := v.employees[name]; ok {
		v.mu.Unlock()
		return nil, worker.Kindf(ErrAlreadyExists, "Job '%s' already exists.", name)
	}
	e := newEmployee(v, name)
	v.employees[name] = e
	v.mu.Unlock()

	v.log.Debug("job created", logx.String("job", name))
	eventbus.Publish(v.bus, eventbus.JobCreated, name)
	v.WorkArrived()
	return e.job, nil
}

func (v *Vice) GetJob(name string) (*Job, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	e, ok := v.employees[name]
	if !ok {
		return nil, worker.Kindf(ErrNotFound, "Job not found: '%s'.", name)
	}
	return e.job, nil
}

// JobNames returns a snapshot of the registered names, sorted.
func (v *Vice) JobNames() []string {
	v.mu.Lock()
	names := make([]string, 0, len(v.employees))
	for n := range v.employees {
		names = append(names, n)
	}
	v.mu.Unlock()
	sort.Strings(names)
	return names
}

// RunningCount returns how many jobs are running right now.
func (v *Vice) RunningCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	n := 0
	for _, e := range v.employees {
		if e.current != nil {
			n++
		}
	}
	return n
}

// removeJob unregisters e if it is still registered under its name.
func (v *Vice) removeJob(e *employee) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if cur, ok := v.employees[e.name]; ok && cur == e {
		delete(v.employees, e.name)
		return true
	}
	return false
}

func minTime(a, b time.Time) time.Time {
	if b.Before(a) {
		return b
	}
	return a
}
