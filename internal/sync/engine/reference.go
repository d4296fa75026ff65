package engine

import (
	"bytes"
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dl-alexandre/ocsync/internal/api"
	"github.com/dl-alexandre/ocsync/internal/auth"
	"github.com/dl-alexandre/ocsync/internal/logging"
	"github.com/dl-alexandre/ocsync/internal/sync/conflict"
	"github.com/dl-alexandre/ocsync/internal/sync/diff"
	"github.com/dl-alexandre/ocsync/internal/sync/exclude"
	"github.com/dl-alexandre/ocsync/internal/sync/executor"
	"github.com/dl-alexandre/ocsync/internal/sync/index"
	"github.com/dl-alexandre/ocsync/internal/sync/scanner"
	"github.com/dl-alexandre/ocsync/internal/trust"
	"github.com/dl-alexandre/ocsync/internal/utils"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
)

// Options configures the WebDAV engine.
type Options struct {
	// Fs holds the synced tree. The journal always lives on the OS
	// filesystem next to it.
	Fs          afero.Fs
	Clock       clockwork.Clock
	MaxTimeSkew time.Duration
	Concurrency int
	// Trust is consulted before the auth callback for certificate problems.
	Trust   *trust.Cache
	RootCAs *x509.CertPool
	Timeout time.Duration
	Logger  logging.Logger
	// WrapTransport is passed to the WebDAV client.
	WrapTransport func(http.RoundTripper) http.RoundTripper
}

// Engine syncs a local directory with a WebDAV collection. It keeps the
// state of the previous run in a journal inside the local directory.
type Engine struct {
	source string
	target *url.URL
	opts   Options
	fs     afero.Fs
	clock  clockwork.Clock
	logger logging.Logger

	authCallback   AuthCallback
	conflictCopies bool
	localOnly      bool
	excludes       []string

	matcher    *exclude.Matcher
	journal    *index.DB
	client     *api.Client
	lockPath   string
	locked     bool
	configID   string
	remoteRoot string

	prev   map[string]index.SyncEntry
	local  map[string]scanner.LocalEntry
	remote map[string]scanner.RemoteEntry
	tree   []TreeEntry

	actions []diff.Action
}

// NewOpener returns an Opener creating engines with opts.
func NewOpener(opts Options) Opener {
	return func(source, target string) (Handle, error) {
		return Open(source, target, opts)
	}
}

// Open binds an engine to source and target without touching either.
// target is an owncloud:// or ownclouds:// locator of a WebDAV collection.
func Open(source, target string, opts Options) (*Engine, error) {
	if strings.TrimSpace(source) == "" {
		return nil, errors.New("source path is empty")
	}
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("invalid target %q: %w", target, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid target %q: missing host", target)
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNoOpLogger()
	}
	if opts.MaxTimeSkew <= 0 {
		opts.MaxTimeSkew = utils.DefaultMaxTimeSkewSec * time.Second
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = utils.DefaultConcurrency
	}

	source = filepath.Clean(source)
	return &Engine{
		source:   source,
		target:   u,
		opts:     opts,
		fs:       opts.Fs,
		clock:    opts.Clock,
		logger:   opts.Logger,
		lockPath: filepath.Join(source, utils.LockFileName),
		configID: target,
	}, nil
}

func (e *Engine) SetAuthCallback(cb AuthCallback) { e.authCallback = cb }

func (e *Engine) EnableConflictCopies() { e.conflictCopies = true }

func (e *Engine) SetLocalOnly(localOnly bool) { e.localOnly = localOnly }

// SetExcludeList adds the patterns of an exclude file.
func (e *Engine) SetExcludeList(path string) error {
	patterns, err := exclude.LoadFile(afero.NewOsFs(), path)
	if err != nil {
		return err
	}
	e.excludes = append(e.excludes, patterns...)
	return nil
}

// Init checks the target scheme and the local directory, takes the lock,
// loads the journal and, unless local only, connects to the server and
// compares clocks.
func (e *Engine) Init(ctx context.Context) error {
	scheme, err := httpScheme(e.target.Scheme)
	if err != nil {
		return newError(ErrModule, err)
	}

	info, err := e.fs.Stat(e.source)
	if err != nil {
		return newError(ErrFilesystem, err)
	}
	if !info.IsDir() {
		return newError(ErrFilesystem, fmt.Errorf("%s is not a directory", e.source))
	}

	lock, err := e.fs.OpenFile(e.lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return newError(ErrLock, err)
	}
	e.locked = true
	_, _ = lock.WriteString(strconv.Itoa(os.Getpid()))
	_ = lock.Close()

	journal, err := index.Open(filepath.Join(e.source, utils.JournalFileName))
	if err != nil {
		return newError(ErrStateDBLoad, err)
	}
	e.journal = journal

	entries, err := journal.ListEntries(ctx, e.configID)
	if err != nil {
		return newError(ErrTree, err)
	}
	recorded, err := journal.GetConfig(ctx, e.configID)
	if err != nil {
		return newError(ErrStateDBLoad, err)
	}
	if recorded != nil && recorded.LocalRoot != e.source {
		// The journal was copied along with the tree from somewhere else.
		e.logger.Warn("Journal belongs to another folder, starting over",
			logging.F("recorded", recorded.LocalRoot), logging.F("source", e.source))
		entries = nil
	}
	e.prev = make(map[string]index.SyncEntry, len(entries))
	for _, entry := range entries {
		e.prev[entry.RelativePath] = entry
	}
	e.matcher = exclude.New(e.excludes)

	if e.localOnly {
		e.logger.Debug("Engine initialized (local only)", logging.F("source", e.source))
		return nil
	}

	base, root := splitTarget(e.target)
	base.Scheme = scheme
	e.remoteRoot = root

	creds := auth.NewStore()
	creds.Set(e.ask(PromptUsername, true), e.ask(PromptPassword, false))

	client, err := api.NewClient(api.Options{
		BaseURL:       base.String(),
		Credentials:   creds,
		Trust:         &callbackVerifier{cache: e.opts.Trust, engine: e},
		RootCAs:       e.opts.RootCAs,
		Logger:        e.logger,
		WrapTransport: e.opts.WrapTransport,
		Timeout:       e.opts.Timeout,
		Now:           e.clock.Now,
	})
	if err != nil {
		return newError(ErrModule, err)
	}
	e.client = client

	serverTime, err := client.ServerTime(ctx)
	if err != nil {
		return &Error{Code: ErrUnknown, Errno: errnoFor(err), Err: err}
	}
	skew := e.clock.Now().Sub(serverTime)
	if skew < 0 {
		skew = -skew
	}
	if skew > e.opts.MaxTimeSkew {
		return newError(ErrTimeSkew, fmt.Errorf("server clock differs by %s", skew.Round(time.Second)))
	}

	e.logger.Debug("Engine initialized",
		logging.F("source", e.source),
		logging.F("server", client.BaseURL()),
		logging.F("remoteRoot", e.remoteRoot),
	)
	return nil
}

// Update scans the local tree and, unless local only, the remote tree, and
// assigns every local entry its instruction.
func (e *Engine) Update(ctx context.Context) error {
	if e.prev == nil {
		return errors.New("engine not initialized")
	}
	local, err := scanner.ScanLocal(ctx, e.fs, e.source, e.matcher, e.prev)
	if err != nil {
		return fmt.Errorf("scanning %s: %w", e.source, err)
	}
	e.local = local

	if !e.localOnly {
		remote, err := e.scanRemote(ctx)
		if err != nil {
			return err
		}
		e.remote = remote
	}

	e.tree = e.buildTree()
	return nil
}

func (e *Engine) scanRemote(ctx context.Context) (map[string]scanner.RemoteEntry, error) {
	rs := scanner.NewRemoteScanner(e.client, e.matcher)
	remote, err := rs.ListTree(ctx, e.remoteRoot)
	if err == nil {
		return remote, nil
	}
	if !api.IsNotFound(err) || e.remoteRoot == "" {
		return nil, fmt.Errorf("listing remote %s: %w", e.remoteRoot, err)
	}

	e.logger.Info("Creating remote folder", logging.F("path", e.remoteRoot))
	parts := strings.Split(e.remoteRoot, "/")
	for i := range parts {
		if err := e.client.Mkdir(ctx, strings.Join(parts[:i+1], "/")); err != nil {
			return nil, fmt.Errorf("creating remote %s: %w", e.remoteRoot, err)
		}
	}
	return map[string]scanner.RemoteEntry{}, nil
}

func (e *Engine) buildTree() []TreeEntry {
	renames := diff.LocalRenames(diff.Snapshot{Local: e.local, Prev: e.prev})
	renamedFrom := make(map[string]bool, len(renames))
	for _, from := range renames {
		renamedFrom[from] = true
	}

	tree := make([]TreeEntry, 0, len(e.local)+len(e.prev))
	for p, local := range e.local {
		entry := TreeEntry{Path: p, IsDir: local.IsDir}
		prev, hasPrev := e.prev[p]
		switch {
		case local.Excluded:
			entry.Instruction = InstructionIgnore
		case local.StatErr != nil:
			entry.Instruction = InstructionStatError
		case renames[p] != "":
			entry.Instruction = InstructionRename
		case !hasPrev:
			entry.Instruction = InstructionNew
		case diff.LocalModified(local, &prev):
			entry.Instruction = InstructionEval
			if remote, ok := e.remote[p]; ok && diff.RemoteModified(remote, &prev) {
				entry.Instruction = InstructionConflict
			}
		default:
			entry.Instruction = InstructionNone
		}
		tree = append(tree, entry)
	}
	for p, prev := range e.prev {
		if _, ok := e.local[p]; ok || renamedFrom[p] {
			continue
		}
		if prev.LocalMTime == 0 && !prev.IsDir {
			continue
		}
		tree = append(tree, TreeEntry{Path: p, IsDir: prev.IsDir, Instruction: InstructionRemove})
	}

	sort.Slice(tree, func(i, j int) bool { return tree[i].Path < tree[j].Path })
	return tree
}

// LocalTree yields the entries computed by Update in path order. Removed
// entries are reported as well.
func (e *Engine) LocalTree() iter.Seq2[TreeEntry, error] {
	return func(yield func(TreeEntry, error) bool) {
		if e.tree == nil && e.local == nil {
			yield(TreeEntry{}, errors.New("local tree not available before update"))
			return
		}
		for _, entry := range e.tree {
			if !yield(entry, nil) {
				return
			}
		}
	}
}

// Reconcile computes the actions that bring both trees in line.
func (e *Engine) Reconcile(ctx context.Context) error {
	if e.localOnly {
		return nil
	}
	if e.remote == nil {
		return errors.New("remote tree not available before update")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	snapshot := diff.Snapshot{Local: e.local, Remote: e.remote, Prev: e.prev}
	result := diff.ApplyRenames(diff.Compute(snapshot, true), snapshot)

	resolved, remaining := conflict.Resolve(result.Conflicts, conflict.PolicyFor(e.conflictCopies), e.clock.Now())
	if len(remaining) > 0 {
		return fmt.Errorf("%d conflicts left unresolved", len(remaining))
	}
	e.actions = append(result.Actions, resolved...)

	e.logger.Debug("Reconciled",
		logging.F("actions", len(e.actions)),
		logging.F("conflicts", len(result.Conflicts)),
	)
	return nil
}

// Propagate applies the reconciled actions and rewrites the journal.
func (e *Engine) Propagate(ctx context.Context) error {
	if e.localOnly {
		return nil
	}
	if e.remote == nil {
		return errors.New("nothing reconciled")
	}

	state := executor.State{
		LocalRoot:     e.source,
		RemoteRoot:    e.remoteRoot,
		LocalEntries:  e.local,
		RemoteEntries: e.remote,
	}
	exec := executor.New(e.client, e.fs, e.logger)
	state, summary, err := exec.Apply(ctx, e.actions, state, executor.Options{Concurrency: e.opts.Concurrency})
	if err != nil {
		return err
	}

	entries := buildIndexEntries(e.configID, state.LocalEntries, state.RemoteEntries, e.prev)
	if err := e.journal.ReplaceEntries(ctx, e.configID, entries); err != nil {
		return fmt.Errorf("writing journal: %w", err)
	}
	if err := e.journal.UpsertConfig(ctx, index.SyncConfig{
		ID:              e.configID,
		LocalRoot:       e.source,
		RemoteRoot:      e.remoteRoot,
		ExcludePatterns: e.excludes,
		ConflictCopies:  e.conflictCopies,
		LastSyncTime:    e.clock.Now().Unix(),
	}); err != nil {
		return fmt.Errorf("writing journal: %w", err)
	}

	e.logger.Info("Propagation finished",
		logging.F("uploads", summary.Uploads+summary.Updates),
		logging.F("downloads", summary.Downloads),
		logging.F("deletes", summary.Deletes),
		logging.F("moves", summary.Moves),
		logging.F("mkdirs", summary.Mkdirs),
	)
	return nil
}

// Destroy closes the journal and releases the lock. It is safe to call
// after a failed Init.
func (e *Engine) Destroy() {
	if e.journal != nil {
		if err := e.journal.Close(); err != nil {
			e.logger.Warn("Closing journal failed", logging.F("error", err.Error()))
		}
		e.journal = nil
	}
	if e.locked {
		if err := e.fs.Remove(e.lockPath); err != nil {
			e.logger.Warn("Removing lock failed", logging.F("error", err.Error()))
		}
		e.locked = false
	}
}

// ask sends prompt through the auth callback and returns the answer.
func (e *Engine) ask(prompt string, echo bool) string {
	if e.authCallback == nil {
		return ""
	}
	buf := make([]byte, 256)
	if e.authCallback(prompt, buf, echo, false) != 0 {
		return ""
	}
	if i := bytes.IndexByte(buf, 0); i >= 0 {
		buf = buf[:i]
	}
	return string(buf)
}

// callbackVerifier accepts certificate problems the trust cache accepts
// and the auth callback confirms.
type callbackVerifier struct {
	cache  *trust.Cache
	engine *Engine
}

func (v *callbackVerifier) Allows(errs []trust.CertError) bool {
	return v.cache != nil && v.cache.Allows(errs)
}

func (v *callbackVerifier) Check(errs []trust.CertError) bool {
	if v.cache != nil && !v.cache.Check(errs) {
		return false
	}
	prompt := PromptCertificatePrefix + "\n" + trust.Describe(errs) +
		"\nDo you want to accept the certificate chain anyway?\nAnswer yes to do so and take the risk: "
	return strings.EqualFold(strings.TrimSpace(v.engine.ask(prompt, true)), "yes")
}

func (v *callbackVerifier) Reset() {
	if v.cache != nil {
		v.cache.Reset()
	}
}

func httpScheme(scheme string) (string, error) {
	switch scheme {
	case utils.SchemePlain:
		return "http", nil
	case utils.SchemeSecure:
		return "https", nil
	default:
		return "", fmt.Errorf("no module for scheme %q", scheme)
	}
}

// splitTarget separates the server root from the collection below the
// WebDAV root. Without a WebDAV root the whole path is the collection.
func splitTarget(target *url.URL) (*url.URL, string) {
	base := *target
	base.RawQuery = ""
	base.Fragment = ""
	base.RawPath = ""
	marker := "/" + strings.TrimSuffix(utils.WebDAVPath, "/")
	p := target.Path
	if i := strings.Index(p, marker); i >= 0 {
		base.Path = p[:i]
		return &base, strings.Trim(p[i+len(marker):], "/")
	}
	base.Path = ""
	return &base, strings.Trim(p, "/")
}

// errnoFor gives unclassified failures a stable number: the HTTP status
// when there is one, 1 otherwise.
func errnoFor(err error) int {
	var appErr *utils.AppError
	if errors.As(err, &appErr) && appErr.CLIError.HTTPStatus != 0 {
		return appErr.CLIError.HTTPStatus
	}
	return 1
}

func buildIndexEntries(configID string, local map[string]scanner.LocalEntry, remote map[string]scanner.RemoteEntry, prev map[string]index.SyncEntry) []index.SyncEntry {
	paths := make(map[string]struct{})
	for p := range local {
		paths[p] = struct{}{}
	}
	for p := range remote {
		paths[p] = struct{}{}
	}
	var entries []index.SyncEntry
	for p := range paths {
		localEntry, localOK := local[p]
		remoteEntry, remoteOK := remote[p]
		if localOK && localEntry.Excluded {
			continue
		}
		if localOK && localEntry.StatErr != nil {
			if old, ok := prev[p]; ok {
				entries = append(entries, old)
			}
			continue
		}
		entry := index.SyncEntry{
			ConfigID:     configID,
			RelativePath: p,
			IsDir:        localEntry.IsDir || remoteEntry.IsDir,
		}
		if localOK {
			entry.LocalMTime = localEntry.ModTime
			entry.LocalSize = localEntry.Size
			entry.ContentHash = localEntry.Hash
		}
		if remoteOK {
			entry.RemoteMTime = remoteEntry.ModifiedTime
			entry.RemoteSize = remoteEntry.Size
			entry.RemoteETag = remoteEntry.ETag
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].RelativePath < entries[j].RelativePath })
	return entries
}
