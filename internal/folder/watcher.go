package folder

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/dl-alexandre/ocsync/internal/logging"
	"github.com/dl-alexandre/ocsync/internal/sync/exclude"
	"github.com/fsnotify/fsnotify"
)

// Watcher marks folders dirty on file system events and queues a run.
// Events that arrive while a folder syncs are dropped, they are mostly
// caused by the run itself.
type Watcher struct {
	manager *Manager
	matcher *exclude.Matcher
	logger  logging.Logger
}

func NewWatcher(manager *Manager, excludes []string, logger logging.Logger) *Watcher {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	return &Watcher{manager: manager, matcher: exclude.New(excludes), logger: logger}
}

// Run watches every folder of the manager until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fw.Close()

	folders := w.manager.Folders()
	for _, f := range folders {
		if err := w.addTree(fw, f.LocalPath()); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handle(ctx, fw, folders, ev)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("Watcher error", logging.F("error", err.Error()))
		}
	}
}

func (w *Watcher) handle(ctx context.Context, fw *fsnotify.Watcher, folders []*Folder, ev fsnotify.Event) {
	f, rel := owner(folders, ev.Name)
	if f == nil || rel == "" {
		return
	}
	isDir := isDirectory(ev.Name)
	if isDir && ev.Has(fsnotify.Create) {
		if err := w.addTree(fw, ev.Name); err != nil {
			w.logger.Warn("Watching new directory failed", logging.F("error", err.Error()))
		}
	}
	if w.matcher.IsExcluded(rel, isDir) || f.IsBusy() {
		return
	}

	w.logger.Debug("Local change", logging.F("folder", f.Alias()), logging.F("path", rel), logging.F("op", ev.Op.String()))
	f.MarkDirty()
	if err := w.manager.Schedule(ctx, f.Alias()); err != nil {
		w.logger.Warn("Scheduling failed", logging.F("folder", f.Alias()), logging.F("error", err.Error()))
	}
}

// addTree watches root and every directory below it. A root that is not a
// directory is ignored.
func (w *Watcher) addTree(fw *fsnotify.Watcher, root string) error {
	if !isDirectory(root) {
		return nil
	}
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if err := fw.Add(p); err != nil {
			return fmt.Errorf("failed to watch %s: %w", p, err)
		}
		return nil
	})
}

// owner finds the folder containing name and the slash separated path
// relative to it.
func owner(folders []*Folder, name string) (*Folder, string) {
	for _, f := range folders {
		rel, err := filepath.Rel(f.LocalPath(), name)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		if rel == "." {
			return f, ""
		}
		return f, filepath.ToSlash(rel)
	}
	return nil, ""
}

func isDirectory(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}
