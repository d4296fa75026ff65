// Package folder schedules sync runs for configured folders and turns
// runner events into results.
package folder

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dl-alexandre/ocsync/internal/auth"
	"github.com/dl-alexandre/ocsync/internal/logging"
	"github.com/dl-alexandre/ocsync/internal/metrics"
	ocsync "github.com/dl-alexandre/ocsync/internal/sync"
	"github.com/dl-alexandre/ocsync/internal/sync/engine"
	"github.com/dl-alexandre/ocsync/internal/utils"
	"github.com/spf13/afero"
)

// MsgTerminated replaces every other error of a run whose worker died.
const MsgTerminated = "The sync thread terminated unexpectedly."

// RunMode says how far a run goes.
type RunMode int

const (
	RunModeLocalOnly RunMode = iota
	RunModeFullRemote
)

func (m RunMode) String() string {
	if m == RunModeFullRemote {
		return "full-remote"
	}
	return "local-only"
}

// Status is the outcome of a run.
type Status int

const (
	StatusUndefined Status = iota
	StatusSuccess
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	default:
		return "undefined"
	}
}

// Result is reported to the Listener when a run ends.
type Result struct {
	Status Status
	Errors []string
	Mode   RunMode
	// SeenFiles is the walked entry count, zero when the walk did not complete.
	SeenFiles int
	Duration  time.Duration
}

// Listener is notified about runs. Calls come from the event goroutine.
type Listener interface {
	SyncStarted(alias string)
	SyncFinished(alias string, result Result)
}

// CredentialSource supplies the current username and password of the
// folder's connection.
type CredentialSource interface {
	Credentials() (username, password string)
}

// Options configure a Folder.
type Options struct {
	Alias     string
	LocalPath string
	// RemoteURL is the http(s) URL of the remote collection.
	RemoteURL        string
	Credentials      *auth.Store
	CredentialSource CredentialSource
	// FullSyncEvery is the number of poll ticks between full remote runs.
	FullSyncEvery int
	UseWatcher    bool
	ExcludeFile   string
	Open          engine.Opener
	Fs            afero.Fs
	Listener      Listener
	Logger        logging.Logger
}

// Folder owns the runs of one local directory.
type Folder struct {
	opts   Options
	logger logging.Logger

	mu            sync.Mutex
	busy          bool
	mode          RunMode
	started       time.Time
	errors        []string
	errorFlag     bool
	pollCount     int
	localChanges  bool
	lastSeenFiles int
	runSeenFiles  int
	lastResult    Result
	idle          chan struct{}
}

func New(opts Options) (*Folder, error) {
	if opts.Alias == "" {
		return nil, fmt.Errorf("folder alias is required")
	}
	if opts.LocalPath == "" {
		return nil, fmt.Errorf("folder %s: local path is required", opts.Alias)
	}
	if _, err := targetLocator(opts.RemoteURL); err != nil {
		return nil, fmt.Errorf("folder %s: %w", opts.Alias, err)
	}
	if opts.Open == nil {
		return nil, fmt.Errorf("folder %s: no engine", opts.Alias)
	}
	if opts.Credentials == nil {
		opts.Credentials = auth.NewStore()
	}
	if opts.FullSyncEvery <= 0 {
		opts.FullSyncEvery = utils.DefaultFullSyncEvery
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNoOpLogger()
	}

	idle := make(chan struct{})
	close(idle)
	return &Folder{
		opts:   opts,
		logger: opts.Logger,
		idle:   idle,
	}, nil
}

func (f *Folder) Alias() string { return f.opts.Alias }

func (f *Folder) LocalPath() string { return f.opts.LocalPath }

// RemotePath is the remote collection below the WebDAV root.
func (f *Folder) RemotePath() string {
	u, err := url.Parse(f.opts.RemoteURL)
	if err != nil {
		return f.opts.RemoteURL
	}
	p := u.Path
	if i := strings.Index(p, "/"+utils.WebDAVPath); i >= 0 {
		p = p[i+len(utils.WebDAVPath)+1:]
	}
	return strings.Trim(p, "/")
}

// IsBusy reports whether a run is in progress.
func (f *Folder) IsBusy() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.busy
}

// LastResult returns the result of the previous run.
func (f *Folder) LastResult() Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastResult
}

// PollTick counts one poll interval towards the next full remote run.
func (f *Folder) PollTick() {
	f.mu.Lock()
	f.pollCount++
	f.mu.Unlock()
}

// MarkDirty records a local change so the next run goes to the server.
func (f *Folder) MarkDirty() {
	f.mu.Lock()
	f.localChanges = true
	f.mu.Unlock()
}

// NextMode is the mode StartSync would use now.
func (f *Folder) NextMode() RunMode {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nextModeLocked()
}

func (f *Folder) nextModeLocked() RunMode {
	if f.opts.UseWatcher || f.localChanges || f.pollCount >= f.opts.FullSyncEvery {
		return RunModeFullRemote
	}
	return RunModeLocalOnly
}

// Wait blocks until the current run, if any, has reported its result.
func (f *Folder) Wait(ctx context.Context) error {
	f.mu.Lock()
	idle := f.idle
	f.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StartSync starts a run unless one is in progress, in which case it logs
// and returns ocsync.ErrStillRunning.
func (f *Folder) StartSync(ctx context.Context) error {
	f.mu.Lock()
	if f.busy {
		f.mu.Unlock()
		f.logger.Warn("Sync already running", logging.F("folder", f.opts.Alias))
		return ocsync.ErrStillRunning
	}

	target, err := targetLocator(f.opts.RemoteURL)
	if err != nil {
		f.mu.Unlock()
		return err
	}

	f.errors = nil
	f.errorFlag = false
	f.runSeenFiles = 0
	f.mode = f.nextModeLocked()
	if f.mode == RunModeFullRemote {
		f.pollCount = 0
		f.localChanges = false
	}

	if f.opts.CredentialSource != nil {
		f.opts.Credentials.Set(f.opts.CredentialSource.Credentials())
	}

	runner := ocsync.NewRunner(ocsync.Params{
		SourcePath:  f.opts.LocalPath,
		Target:      target,
		LocalOnly:   f.mode == RunModeLocalOnly,
		ExcludeFile: f.opts.ExcludeFile,
		Credentials: f.opts.Credentials,
		Open:        f.opts.Open,
		Fs:          f.opts.Fs,
		Logger:      f.logger,
	})
	if err := runner.Start(ctx); err != nil {
		f.mu.Unlock()
		return err
	}
	f.busy = true
	f.started = time.Now()
	f.idle = make(chan struct{})
	mode := f.mode
	f.mu.Unlock()

	f.logger.Info("Sync started",
		logging.F("folder", f.opts.Alias),
		logging.F("mode", mode.String()),
		logging.F("target", target),
	)
	go f.consume(runner.Events())
	return nil
}

func (f *Folder) consume(events <-chan ocsync.Event) {
	var result *Result
	for ev := range events {
		switch ev.Type {
		case ocsync.EventStarted:
			if f.opts.Listener != nil {
				f.opts.Listener.SyncStarted(f.opts.Alias)
			}
		case ocsync.EventErrorOccurred:
			f.addError(ev.Message)
		case ocsync.EventTreeWalkCompleted:
			f.treeWalked(ev.Stats)
		case ocsync.EventFinished:
			result = f.finished()
		case ocsync.EventTerminated:
			result = f.terminated()
		}
	}
	if result == nil {
		// The channel closed without a final event.
		result = f.terminated()
	}

	f.mu.Lock()
	result.SeenFiles = f.runSeenFiles
	result.Duration = time.Since(f.started)
	f.lastResult = *result
	f.busy = false
	idle := f.idle
	f.mu.Unlock()

	metrics.RecordSyncRun(result.Mode.String(), result.Status.String(), result.Duration)
	f.logger.Info("Sync finished",
		logging.F("folder", f.opts.Alias),
		logging.F("status", result.Status.String()),
		logging.F("errors", len(result.Errors)),
	)
	if f.opts.Listener != nil {
		f.opts.Listener.SyncFinished(f.opts.Alias, *result)
	}
	close(idle)
}

func (f *Folder) addError(msg string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, msg)
	f.errorFlag = true
}

// treeWalked updates the change heuristics for the next run. The stats
// are not kept.
func (f *Folder) treeWalked(stats *ocsync.WalkStats) {
	if stats == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.mode == RunModeFullRemote {
		f.lastSeenFiles = 0
	}
	f.localChanges = false
	if f.lastSeenFiles > 0 && f.lastSeenFiles != stats.SeenFiles {
		f.logger.Debug("Seen file count changed",
			logging.F("folder", f.opts.Alias),
			logging.F("before", f.lastSeenFiles),
			logging.F("now", stats.SeenFiles),
		)
		f.localChanges = true
	}
	if stats.LocalChanges() > 0 {
		f.localChanges = true
	}
	f.lastSeenFiles = stats.SeenFiles
	f.runSeenFiles = stats.SeenFiles
	metrics.SetWalkSeenFiles(f.opts.Alias, stats.SeenFiles)
}

func (f *Folder) finished() *Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	res := &Result{Status: StatusSuccess, Mode: f.mode}
	if f.errorFlag {
		res.Status = StatusError
		res.Errors = append([]string(nil), f.errors...)
	}
	if f.mode == RunModeFullRemote {
		f.lastSeenFiles = 0
	}
	return res
}

func (f *Folder) terminated() *Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = []string{MsgTerminated}
	f.errorFlag = true
	if f.mode == RunModeFullRemote {
		f.lastSeenFiles = 0
	}
	return &Result{Status: StatusError, Errors: []string{MsgTerminated}, Mode: f.mode}
}

// targetLocator rewrites an http(s) URL to the engine's scheme: plain
// http becomes owncloud, anything else ownclouds.
func targetLocator(remoteURL string) (string, error) {
	u, err := url.Parse(remoteURL)
	if err != nil {
		return "", fmt.Errorf("invalid remote URL %q: %w", remoteURL, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid remote URL %q: missing host", remoteURL)
	}
	if u.Scheme == "http" {
		u.Scheme = utils.SchemePlain
	} else {
		u.Scheme = utils.SchemeSecure
	}
	return u.String(), nil
}
