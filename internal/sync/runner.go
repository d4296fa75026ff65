// Package sync drives one run of a sync engine on a worker goroutine and
// reports its progress as events.
package sync

import (
	"context"
	"errors"
	"fmt"
	stdsync "sync"
	"time"

	"github.com/dl-alexandre/ocsync/internal/auth"
	"github.com/dl-alexandre/ocsync/internal/logging"
	"github.com/dl-alexandre/ocsync/internal/metrics"
	"github.com/dl-alexandre/ocsync/internal/sync/engine"
	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// ErrStillRunning is returned by Start while a run is in progress.
var ErrStillRunning = errors.New("sync run still in progress")

// User facing messages of the run phases.
const (
	MsgCreateFailed     = "The sync engine could not be created."
	MsgLockFailed       = "The sync engine failed to create a lock file."
	MsgStateDBFailed    = "The sync engine failed to load the state database."
	MsgModuleFailed     = "The sync engine failed to load a module for the target."
	MsgTimeSkew         = "The system time between the local machine and the server differs too much. Please use a time synchronization service (ntp) on both machines."
	MsgFilesystemFailed = "The sync engine could not detect the filesystem type."
	MsgTreeFailed       = "The sync engine got an error while processing internal trees."
	MsgInternalError    = "The sync engine reported internal error number %d."
	MsgUpdateFailed     = "The sync engine update failed."
	MsgReconcileFailed  = "The sync engine reconcile failed."
	MsgPropagateFailed  = "The sync engine propagate failed."

	MsgDirPermissions = "The local filesystem has directories which are write protected.\nThat prevents ocsync from syncing successfully.\nPlease make sure that all directories are writeable."
	MsgWalkFailed     = "The sync engine encountered an error while examining the file system.\nSyncing is not possible."
	MsgInstructions   = "The sync engine update generated a strange instruction.\nPlease write a bug report."
	MsgLocalFSProblem = "Local filesystem problems. Better disable Syncing and check."
)

// EventType identifies a runner event.
type EventType int

const (
	EventStarted EventType = iota
	EventErrorOccurred
	EventTreeWalkCompleted
	EventFinished
	EventTerminated
)

func (t EventType) String() string {
	switch t {
	case EventStarted:
		return "started"
	case EventErrorOccurred:
		return "error"
	case EventTreeWalkCompleted:
		return "tree_walk_completed"
	case EventFinished:
		return "finished"
	case EventTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Event is sent by the worker. Message is set for EventErrorOccurred.
// Stats is set for EventTreeWalkCompleted and belongs to the receiver.
type Event struct {
	Type    EventType
	Message string
	Stats   *WalkStats
}

// Params bind a runner to one folder.
type Params struct {
	SourcePath  string
	Target      string
	LocalOnly   bool
	ExcludeFile string
	Credentials *auth.Store
	Open        engine.Opener
	// Fs is used to check directory permissions during the walk.
	Fs     afero.Fs
	Logger logging.Logger
}

// Runner runs the engine phases for one folder on a worker goroutine.
type Runner struct {
	params Params
	logger logging.Logger

	mu      stdsync.Mutex
	running bool
	events  chan Event
}

func NewRunner(p Params) *Runner {
	if p.Credentials == nil {
		p.Credentials = auth.NewStore()
	}
	if p.Fs == nil {
		p.Fs = afero.NewOsFs()
	}
	if p.Logger == nil {
		p.Logger = logging.NewNoOpLogger()
	}
	return &Runner{params: p, logger: p.Logger}
}

// Start launches a run. It returns ErrStillRunning, and drops the request,
// while the previous run has not sent its final event.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		r.logger.Warn("Sync run still in progress, request dropped", logging.F("source", r.params.SourcePath))
		return ErrStillRunning
	}
	r.running = true
	events := make(chan Event, 8)
	r.events = events
	r.mu.Unlock()

	runID := uuid.New().String()
	ctx = logging.ContextWithTraceID(ctx, runID)
	go r.run(ctx, r.logger.WithTraceID(runID), events)
	return nil
}

// Events returns the channel of the current run. It is closed after the
// final Finished or Terminated event. Before the first Start it is nil.
func (r *Runner) Events() <-chan Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events
}

func (r *Runner) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *Runner) run(ctx context.Context, logger logging.Logger, events chan<- Event) {
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("Sync worker crashed", logging.F("panic", fmt.Sprint(rec)))
			metrics.RecordSyncError("worker")
			events <- Event{Type: EventTerminated}
		}
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
		close(events)
	}()

	logger.Info("Sync run started",
		logging.F("source", r.params.SourcePath),
		logging.F("localOnly", r.params.LocalOnly),
	)
	events <- Event{Type: EventStarted}

	w := &worker{params: r.params, logger: logger, events: events, auth: r.authCallback(logger)}
	w.execute(ctx)

	logger.Info("Sync run finished", logging.F("duration_ms", time.Since(start).Milliseconds()))
	events <- Event{Type: EventFinished}
}

// authCallback answers engine prompts from the credential store.
func (r *Runner) authCallback(logger logging.Logger) engine.AuthCallback {
	creds := r.params.Credentials
	return func(prompt string, buf []byte, _, _ bool) int {
		switch ClassifyPrompt(prompt) {
		case PromptUsername:
			creds.With(func(username, _ string) { fillBuffer(buf, username) })
		case PromptPassword:
			creds.With(func(_, password string) { fillBuffer(buf, password) })
		case PromptCertificate:
			// The certificate was already vetted by the trust cache.
			fillBuffer(buf, "yes")
		default:
			logger.Warn("Unrecognized engine prompt", logging.F("prompt", prompt))
		}
		return 0
	}
}

type worker struct {
	params Params
	logger logging.Logger
	events chan<- Event
	auth   engine.AuthCallback
}

func (w *worker) fail(phase, msg string, err error) {
	fields := []logging.Field{logging.F("phase", phase)}
	if err != nil {
		fields = append(fields, logging.F("error", err.Error()))
	}
	w.logger.Error("Sync phase failed", fields...)
	metrics.RecordSyncError(phase)
	w.events <- Event{Type: EventErrorOccurred, Message: msg}
}

func (w *worker) execute(ctx context.Context) {
	h, err := w.params.Open(w.params.SourcePath, w.params.Target)
	if err != nil {
		w.fail("create", MsgCreateFailed, err)
		return
	}
	defer h.Destroy()

	h.SetAuthCallback(w.auth)
	h.EnableConflictCopies()
	if w.params.ExcludeFile != "" {
		if err := h.SetExcludeList(w.params.ExcludeFile); err != nil {
			w.logger.Warn("Exclude list not loaded",
				logging.F("path", w.params.ExcludeFile),
				logging.F("error", err.Error()),
			)
		}
	}
	if w.params.LocalOnly {
		h.SetLocalOnly(true)
	}

	if err := h.Init(ctx); err != nil {
		w.fail("init", InitMessage(err), err)
		return
	}
	if err := h.Update(ctx); err != nil {
		w.fail("update", MsgUpdateFailed, err)
		return
	}

	stats := Fold(w.params.SourcePath, h.LocalTree(), WritableDirs(w.params.Fs, w.params.SourcePath))
	if stats.ErrorKind != WalkErrorNone {
		w.fail("walk", walkMessage(stats.ErrorKind), fmt.Errorf("walk stopped after %d entries: %s", stats.SeenFiles, stats.ErrorKind))
		w.events <- Event{Type: EventErrorOccurred, Message: MsgLocalFSProblem}
		return
	}
	w.logger.Debug("Local tree walked",
		logging.F("seen", stats.SeenFiles),
		logging.F("new", stats.NewFiles),
		logging.F("eval", stats.Eval),
		logging.F("removed", stats.Removed),
		logging.F("renamed", stats.Renamed),
		logging.F("conflicts", stats.Conflicts),
	)
	// stats belongs to the receiver from here on.
	w.events <- Event{Type: EventTreeWalkCompleted, Stats: stats}

	if w.params.LocalOnly {
		return
	}

	if err := h.Reconcile(ctx); err != nil {
		w.fail("reconcile", MsgReconcileFailed, err)
		return
	}
	if err := h.Propagate(ctx); err != nil {
		w.fail("propagate", MsgPropagateFailed, err)
		return
	}
}

// InitMessage maps an Init failure to its user facing message.
func InitMessage(err error) string {
	code, errno := engine.CodeOf(err)
	switch code {
	case engine.ErrLock:
		return MsgLockFailed
	case engine.ErrStateDBLoad:
		return MsgStateDBFailed
	case engine.ErrModule:
		return MsgModuleFailed
	case engine.ErrTimeSkew:
		return MsgTimeSkew
	case engine.ErrFilesystem:
		return MsgFilesystemFailed
	case engine.ErrTree:
		return MsgTreeFailed
	default:
		return fmt.Sprintf(MsgInternalError, errno)
	}
}

func walkMessage(kind WalkErrorKind) string {
	switch kind {
	case WalkErrorDirPermissions:
		return MsgDirPermissions
	case WalkErrorInstructions:
		return MsgInstructions
	default:
		return MsgWalkFailed
	}
}
