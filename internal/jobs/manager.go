package jobs

import (
	"sync"

	"vice/internal/worker"
)

// ManagerName identifies the manager in lifecycle errors.
const ManagerName = "jobs.Manager"

// Manager is the public face of the scheduler: it starts Vice and exposes
// the job registry.
type Manager struct {
	mu       sync.Mutex
	vice     *Vice
	started  bool
	disposed bool
}

func NewManager(opts ...Option) *Manager {
	return &Manager{vice: NewVice(opts...)}
}

// Vice exposes the scheduler worker for status output.
func (m *Manager) Vice() *Vice { return m.vice }

func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed {
		return worker.NewDisposedError(ManagerName)
	}
	if m.started {
		return worker.InvalidOperationf("'%s' is already running", ManagerName)
	}
	if err := m.vice.Start(); err != nil {
		return err
	}
	m.started = true
	return nil
}

func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started && !m.disposed
}

func (m *Manager) IsDisposed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disposed
}

func (m *Manager) Create(name string) (*Job, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	return m.vice.CreateJob(name)
}

func (m *Manager) Get(name string) (*Job, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	return m.vice.GetJob(name)
}

// Names returns a sorted snapshot of the job names.
func (m *Manager) Names() ([]string, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	return m.vice.JobNames(), nil
}

// Dispose stops the scheduler and disposes every job, waiting for their
// current runs. The lock is released first so a routine that calls back
// into the manager while it is being canceled gets ErrDisposed.
func (m *Manager) Dispose() error {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return worker.NewDisposedError(ManagerName)
	}
	m.disposed = true
	m.mu.Unlock()

	return m.vice.Dispose()
}

func (m *Manager) ready() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed {
		return worker.NewDisposedError(ManagerName)
	}
	if !m.started {
		return worker.InvalidOperationf("'%s' not started.", ManagerName)
	}
	return nil
}
