package folder

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/dl-alexandre/ocsync/internal/logging"
)

// Manager owns the folders of a process and runs at most one of them at a
// time. Sync requests for other folders wait in a queue.
type Manager struct {
	logger   logging.Logger
	listener Listener

	mu      sync.Mutex
	ctx     context.Context
	folders map[string]*Folder
	queue   []string
	active  string
}

// NewManager creates a manager that forwards run notifications to
// listener, which may be nil.
func NewManager(listener Listener, logger logging.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	return &Manager{
		logger:   logger,
		listener: listener,
		ctx:      context.Background(),
		folders:  make(map[string]*Folder),
	}
}

// Add creates a folder that reports to the manager.
func (m *Manager) Add(opts Options) (*Folder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.folders[opts.Alias]; exists {
		return nil, fmt.Errorf("folder %s already exists", opts.Alias)
	}
	opts.Listener = m
	if opts.Logger == nil {
		opts.Logger = m.logger
	}
	f, err := New(opts)
	if err != nil {
		return nil, err
	}
	m.folders[f.Alias()] = f
	return f, nil
}

// Folder returns the folder with alias, or nil.
func (m *Manager) Folder(alias string) *Folder {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.folders[alias]
}

// Folders returns all folders sorted by alias.
func (m *Manager) Folders() []*Folder {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Folder, 0, len(m.folders))
	for _, f := range m.folders {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Alias() < out[j].Alias() })
	return out
}

// Schedule queues a run of alias. A folder already queued or running is
// not queued twice.
func (m *Manager) Schedule(ctx context.Context, alias string) error {
	m.mu.Lock()
	if _, ok := m.folders[alias]; !ok {
		m.mu.Unlock()
		return fmt.Errorf("unknown folder %s", alias)
	}
	m.ctx = ctx
	if m.active != alias && !slices.Contains(m.queue, alias) {
		m.queue = append(m.queue, alias)
	}
	m.mu.Unlock()

	m.startNext()
	return nil
}

// ScheduleAll queues every folder.
func (m *Manager) ScheduleAll(ctx context.Context) {
	for _, f := range m.Folders() {
		_ = m.Schedule(ctx, f.Alias())
	}
}

// Active returns the alias of the running folder, or "".
func (m *Manager) Active() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Wait blocks until no folder is running and the queue is empty.
func (m *Manager) Wait(ctx context.Context) error {
	for {
		m.mu.Lock()
		active := m.folders[m.active]
		pending := len(m.queue)
		m.mu.Unlock()
		if active == nil && pending == 0 {
			return nil
		}
		if active == nil {
			m.startNext()
			continue
		}
		if err := active.Wait(ctx); err != nil {
			return err
		}
	}
}

func (m *Manager) startNext() {
	for {
		m.mu.Lock()
		if m.active != "" || len(m.queue) == 0 {
			m.mu.Unlock()
			return
		}
		alias := m.queue[0]
		m.queue = m.queue[1:]
		f := m.folders[alias]
		ctx := m.ctx
		m.active = alias
		m.mu.Unlock()

		err := f.StartSync(ctx)
		if err == nil {
			return
		}

		m.mu.Lock()
		m.active = ""
		m.mu.Unlock()
		if !errors.Is(err, context.Canceled) {
			m.logger.Warn("Could not start sync", logging.F("folder", alias), logging.F("error", err.Error()))
		}
	}
}

func (m *Manager) SyncStarted(alias string) {
	if m.listener != nil {
		m.listener.SyncStarted(alias)
	}
}

func (m *Manager) SyncFinished(alias string, result Result) {
	m.mu.Lock()
	if m.active == alias {
		m.active = ""
	}
	m.mu.Unlock()

	if m.listener != nil {
		m.listener.SyncFinished(alias, result)
	}
	m.startNext()
}
