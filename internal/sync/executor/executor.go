package executor

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dl-alexandre/ocsync/internal/api"
	"github.com/dl-alexandre/ocsync/internal/logging"
	"github.com/dl-alexandre/ocsync/internal/sync/diff"
	"github.com/dl-alexandre/ocsync/internal/sync/scanner"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
)

// Remote is the subset of the WebDAV client the executor needs.
// *api.Client implements it.
type Remote interface {
	Mkdir(ctx context.Context, dir string) error
	Upload(ctx context.Context, file string, data []byte, modTime time.Time) error
	Download(ctx context.Context, file string) ([]byte, error)
	Delete(ctx context.Context, target string) error
	Move(ctx context.Context, from, to string) error
	Stat(ctx context.Context, target string) (api.Resource, error)
}

type Executor struct {
	remote Remote
	fs     afero.Fs
	logger logging.Logger
}

type Options struct {
	Concurrency int
	DryRun      bool
}

// State is both trees as known to the executor. Apply keeps it in step
// with every action so it can be written back to the journal.
type State struct {
	LocalRoot     string
	RemoteRoot    string
	LocalEntries  map[string]scanner.LocalEntry
	RemoteEntries map[string]scanner.RemoteEntry
}

type Summary struct {
	Uploads   int
	Updates   int
	Downloads int
	Deletes   int
	Moves     int
	Mkdirs    int
}

// Total is the number of applied actions.
func (s Summary) Total() int {
	return s.Uploads + s.Updates + s.Downloads + s.Deletes + s.Moves + s.Mkdirs
}

func New(remote Remote, fs afero.Fs, logger logging.Logger) *Executor {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	return &Executor{
		remote: remote,
		fs:     fs,
		logger: logger,
	}
}

// Apply runs actions in dependency order: moves, deletes (deepest first),
// directory creation (shallowest first), then uploads and downloads with
// bounded concurrency. The first failure stops the run.
func (e *Executor) Apply(ctx context.Context, actions []diff.Action, state State, opts Options) (State, Summary, error) {
	summary := Summary{}
	if opts.DryRun {
		for _, action := range actions {
			summary = addSummary(summary, action.Type)
		}
		return state, summary, nil
	}

	remoteDirs := make(map[string]bool)
	remoteDirs[""] = true
	for pathKey, entry := range state.RemoteEntries {
		if entry.IsDir {
			remoteDirs[pathKey] = true
		}
	}

	var mkdirRemote, mkdirLocal, moveRemote, moveLocal, uploads, updates, downloads, deleteRemote, deleteLocal []diff.Action
	for _, action := range actions {
		switch action.Type {
		case diff.ActionMkdirRemote:
			mkdirRemote = append(mkdirRemote, action)
		case diff.ActionMkdirLocal:
			mkdirLocal = append(mkdirLocal, action)
		case diff.ActionMoveRemote:
			moveRemote = append(moveRemote, action)
		case diff.ActionMoveLocal:
			moveLocal = append(moveLocal, action)
		case diff.ActionUpload:
			uploads = append(uploads, action)
		case diff.ActionUpdate:
			updates = append(updates, action)
		case diff.ActionDownload:
			downloads = append(downloads, action)
		case diff.ActionDeleteRemote:
			deleteRemote = append(deleteRemote, action)
		case diff.ActionDeleteLocal:
			deleteLocal = append(deleteLocal, action)
		}
	}

	for _, action := range moveRemote {
		if err := e.applyMoveRemote(ctx, remoteDirs, state, action); err != nil {
			return state, summary, err
		}
		summary = addSummary(summary, action.Type)
	}

	for _, action := range moveLocal {
		if err := e.applyMoveLocal(state, action); err != nil {
			return state, summary, err
		}
		summary = addSummary(summary, action.Type)
	}

	sortByDepth(deleteLocal, false)
	for _, action := range deleteLocal {
		if err := e.deleteLocal(state, action); err != nil {
			return state, summary, err
		}
		summary = addSummary(summary, action.Type)
	}

	sortByDepth(deleteRemote, false)
	for _, action := range deleteRemote {
		if err := e.deleteRemote(ctx, remoteDirs, state, action); err != nil {
			return state, summary, err
		}
		summary = addSummary(summary, action.Type)
	}

	sortByDepth(mkdirRemote, true)
	for _, action := range mkdirRemote {
		if err := e.ensureRemoteDir(ctx, remoteDirs, state.RemoteRoot, action.Path); err != nil {
			return state, summary, err
		}
		state.RemoteEntries[action.Path] = scanner.RemoteEntry{RelativePath: action.Path, IsDir: true}
		summary = addSummary(summary, action.Type)
	}

	sortByDepth(mkdirLocal, true)
	for _, action := range mkdirLocal {
		absPath := filepath.Join(state.LocalRoot, filepath.FromSlash(action.Path))
		if err := e.fs.MkdirAll(absPath, 0o755); err != nil {
			return state, summary, fmt.Errorf("creating %s: %w", action.Path, err)
		}
		state.LocalEntries[action.Path] = scanner.LocalEntry{
			RelativePath: action.Path,
			AbsPath:      absPath,
			IsDir:        true,
		}
		summary = addSummary(summary, action.Type)
	}

	for _, action := range append(uploads, updates...) {
		if err := e.ensureRemoteDir(ctx, remoteDirs, state.RemoteRoot, parentOf(action.Path)); err != nil {
			return state, summary, err
		}
	}

	stateMu := &sync.Mutex{}

	upload := func(ctx context.Context, action diff.Action) error {
		return e.upload(ctx, stateMu, state, action)
	}
	if err := e.runConcurrent(ctx, uploads, opts.Concurrency, upload); err != nil {
		return state, summary, err
	}
	for range uploads {
		summary = addSummary(summary, diff.ActionUpload)
	}

	if err := e.runConcurrent(ctx, updates, opts.Concurrency, upload); err != nil {
		return state, summary, err
	}
	for range updates {
		summary = addSummary(summary, diff.ActionUpdate)
	}

	for _, action := range downloads {
		parent := filepath.Join(state.LocalRoot, filepath.FromSlash(parentOf(action.Path)))
		if err := e.fs.MkdirAll(parent, 0o755); err != nil {
			return state, summary, err
		}
	}

	if err := e.runConcurrent(ctx, downloads, opts.Concurrency, func(ctx context.Context, action diff.Action) error {
		return e.download(ctx, stateMu, state, action)
	}); err != nil {
		return state, summary, err
	}
	for range downloads {
		summary = addSummary(summary, diff.ActionDownload)
	}

	return state, summary, nil
}

func (e *Executor) runConcurrent(ctx context.Context, actions []diff.Action, concurrency int, handler func(context.Context, diff.Action) error) error {
	if len(actions) == 0 {
		return nil
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, action := range actions {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			return handler(gctx, action)
		})
	}
	return g.Wait()
}

func (e *Executor) upload(ctx context.Context, mu *sync.Mutex, state State, action diff.Action) error {
	mu.Lock()
	localEntry := resolveLocalEntry(state.LocalEntries, action.Path, action.Local)
	mu.Unlock()
	if localEntry == nil {
		return nil
	}

	data, err := afero.ReadFile(e.fs, localEntry.AbsPath)
	if err != nil {
		return fmt.Errorf("reading %s: %w", action.Path, err)
	}
	remotePath := api.Join(state.RemoteRoot, action.Path)
	e.logger.Debug("Uploading", logging.F("path", action.Path), logging.F("size", len(data)))
	var modTime time.Time
	if localEntry.ModTime != 0 {
		modTime = time.Unix(localEntry.ModTime, 0)
	}
	if err := e.remote.Upload(ctx, remotePath, data, modTime); err != nil {
		return err
	}
	res, err := e.remote.Stat(ctx, remotePath)
	if err != nil {
		return err
	}

	mu.Lock()
	defer mu.Unlock()
	state.RemoteEntries[action.Path] = remoteEntryFrom(action.Path, res)
	if localEntry.Hash == "" {
		updated := *localEntry
		updated.Hash = scanner.HashBytes(data)
		state.LocalEntries[action.Path] = updated
	}
	return nil
}

func (e *Executor) download(ctx context.Context, mu *sync.Mutex, state State, action diff.Action) error {
	mu.Lock()
	remoteEntry := resolveRemoteEntry(state.RemoteEntries, action.Path, action.Remote)
	mu.Unlock()
	if remoteEntry == nil {
		return nil
	}

	remotePath := api.Join(state.RemoteRoot, action.Path)
	data, err := e.remote.Download(ctx, remotePath)
	if err != nil {
		return err
	}
	absPath := filepath.Join(state.LocalRoot, filepath.FromSlash(action.Path))
	e.logger.Debug("Downloaded", logging.F("path", action.Path), logging.F("size", len(data)))
	if err := afero.WriteFile(e.fs, absPath, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", action.Path, err)
	}
	if remoteEntry.ModifiedTime != 0 {
		mtime := time.Unix(remoteEntry.ModifiedTime, 0)
		if err := e.fs.Chtimes(absPath, mtime, mtime); err != nil {
			e.logger.Warn("Could not set modification time", logging.F("path", action.Path), logging.F("error", err.Error()))
		}
	}
	info, err := e.fs.Stat(absPath)
	if err != nil {
		return err
	}

	mu.Lock()
	defer mu.Unlock()
	state.LocalEntries[action.Path] = scanner.LocalEntry{
		RelativePath: action.Path,
		AbsPath:      absPath,
		Size:         info.Size(),
		ModTime:      info.ModTime().Unix(),
		Hash:         scanner.HashBytes(data),
	}
	return nil
}

func (e *Executor) ensureRemoteDir(ctx context.Context, remoteDirs map[string]bool, remoteRoot, relPath string) error {
	if relPath == "" || relPath == "." {
		return nil
	}
	if remoteDirs[relPath] {
		return nil
	}
	if err := e.ensureRemoteDir(ctx, remoteDirs, remoteRoot, parentOf(relPath)); err != nil {
		return err
	}
	if err := e.remote.Mkdir(ctx, api.Join(remoteRoot, relPath)); err != nil {
		return err
	}
	remoteDirs[relPath] = true
	return nil
}

func (e *Executor) applyMoveLocal(state State, action diff.Action) error {
	from := filepath.Join(state.LocalRoot, filepath.FromSlash(action.FromPath))
	to := filepath.Join(state.LocalRoot, filepath.FromSlash(action.ToPath))
	if err := e.fs.MkdirAll(filepath.Dir(to), 0o755); err != nil {
		return err
	}
	if err := e.fs.Rename(from, to); err != nil {
		return fmt.Errorf("moving %s: %w", action.FromPath, err)
	}
	renameKeys(state.LocalEntries, action.FromPath, action.ToPath, func(key string, entry scanner.LocalEntry) scanner.LocalEntry {
		entry.RelativePath = key
		entry.AbsPath = filepath.Join(state.LocalRoot, filepath.FromSlash(key))
		return entry
	})
	return nil
}

func (e *Executor) applyMoveRemote(ctx context.Context, remoteDirs map[string]bool, state State, action diff.Action) error {
	if err := e.ensureRemoteDir(ctx, remoteDirs, state.RemoteRoot, parentOf(action.ToPath)); err != nil {
		return err
	}
	if err := e.remote.Move(ctx, api.Join(state.RemoteRoot, action.FromPath), api.Join(state.RemoteRoot, action.ToPath)); err != nil {
		return err
	}
	renameKeys(state.RemoteEntries, action.FromPath, action.ToPath, func(key string, entry scanner.RemoteEntry) scanner.RemoteEntry {
		entry.RelativePath = key
		if entry.IsDir {
			remoteDirs[key] = true
		}
		return entry
	})
	return nil
}

func (e *Executor) deleteLocal(state State, action diff.Action) error {
	target := filepath.Join(state.LocalRoot, filepath.FromSlash(action.Path))
	if entry, ok := state.LocalEntries[action.Path]; ok && entry.IsDir {
		if err := e.fs.RemoveAll(target); err != nil {
			return err
		}
	} else {
		if err := e.fs.Remove(target); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	removeTree(state.LocalEntries, action.Path)
	return nil
}

func (e *Executor) deleteRemote(ctx context.Context, remoteDirs map[string]bool, state State, action diff.Action) error {
	if err := e.remote.Delete(ctx, api.Join(state.RemoteRoot, action.Path)); err != nil {
		return err
	}
	removeTree(state.RemoteEntries, action.Path)
	for key := range remoteDirs {
		if key == action.Path || strings.HasPrefix(key, action.Path+"/") {
			delete(remoteDirs, key)
		}
	}
	return nil
}

func renameKeys[T any](entries map[string]T, from, to string, fix func(string, T) T) {
	fromPrefix := from + "/"
	moved := make(map[string]T)
	for key, entry := range entries {
		switch {
		case key == from:
			moved[to] = fix(to, entry)
		case strings.HasPrefix(key, fromPrefix):
			newKey := to + "/" + strings.TrimPrefix(key, fromPrefix)
			moved[newKey] = fix(newKey, entry)
		default:
			continue
		}
		delete(entries, key)
	}
	for key, entry := range moved {
		entries[key] = entry
	}
}

func removeTree[T any](entries map[string]T, root string) {
	prefix := root + "/"
	for key := range entries {
		if key == root || strings.HasPrefix(key, prefix) {
			delete(entries, key)
		}
	}
}

func remoteEntryFrom(rel string, res api.Resource) scanner.RemoteEntry {
	entry := scanner.RemoteEntry{
		RelativePath: rel,
		IsDir:        res.IsDir,
		Size:         res.Size,
		ETag:         res.ETag,
	}
	if !res.ModTime.IsZero() {
		entry.ModifiedTime = res.ModTime.Unix()
	}
	return entry
}

func addSummary(summary Summary, actionType diff.ActionType) Summary {
	switch actionType {
	case diff.ActionUpload:
		summary.Uploads++
	case diff.ActionUpdate:
		summary.Updates++
	case diff.ActionDownload:
		summary.Downloads++
	case diff.ActionDeleteLocal, diff.ActionDeleteRemote:
		summary.Deletes++
	case diff.ActionMoveLocal, diff.ActionMoveRemote:
		summary.Moves++
	case diff.ActionMkdirLocal, diff.ActionMkdirRemote:
		summary.Mkdirs++
	}
	return summary
}

func resolveLocalEntry(localEntries map[string]scanner.LocalEntry, path string, entry *scanner.LocalEntry) *scanner.LocalEntry {
	if resolved, ok := localEntries[path]; ok {
		value := resolved
		return &value
	}
	return entry
}

func resolveRemoteEntry(remoteEntries map[string]scanner.RemoteEntry, path string, entry *scanner.RemoteEntry) *scanner.RemoteEntry {
	if entry != nil {
		return entry
	}
	if resolved, ok := remoteEntries[path]; ok {
		value := resolved
		return &value
	}
	return nil
}

func sortByDepth(actions []diff.Action, ascending bool) {
	sort.SliceStable(actions, func(i, j int) bool {
		di := depth(actions[i].Path)
		dj := depth(actions[j].Path)
		if ascending {
			return di < dj
		}
		return di > dj
	})
}

func depth(p string) int {
	if p == "" {
		return 0
	}
	return strings.Count(p, "/") + 1
}

func parentOf(p string) string {
	parent := path.Dir(p)
	if parent == "." || parent == "/" {
		return ""
	}
	return parent
}
