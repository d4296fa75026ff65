package diff

import (
	"sort"

	"github.com/dl-alexandre/ocsync/internal/sync/index"
	"github.com/dl-alexandre/ocsync/internal/sync/scanner"
)

type Snapshot struct {
	Local  map[string]scanner.LocalEntry
	Remote map[string]scanner.RemoteEntry
	Prev   map[string]index.SyncEntry
}

type Result struct {
	Actions   []Action
	Conflicts []Conflict
}

// Compute compares both trees with the journal. Paths that are excluded or
// could not be examined locally are left alone.
func Compute(snapshot Snapshot, includeDeletes bool) Result {
	paths := make(map[string]struct{})
	for p := range snapshot.Local {
		paths[p] = struct{}{}
	}
	for p := range snapshot.Remote {
		paths[p] = struct{}{}
	}
	for p := range snapshot.Prev {
		paths[p] = struct{}{}
	}

	var allPaths []string
	for p := range paths {
		allPaths = append(allPaths, p)
	}
	sort.Strings(allPaths)

	var actions []Action
	var conflicts []Conflict

	for _, path := range allPaths {
		localEntry, localOK := snapshot.Local[path]
		remoteEntry, remoteOK := snapshot.Remote[path]
		prevEntry, prevOK := snapshot.Prev[path]

		if localOK && (localEntry.Excluded || localEntry.StatErr != nil) {
			continue
		}

		localPtr := entryPtr(localOK, localEntry)
		remotePtr := remotePtr(remoteOK, remoteEntry)
		prevPtr := prevPtr(prevOK, prevEntry)

		if localOK && remoteOK && localEntry.IsDir != remoteEntry.IsDir {
			conflicts = append(conflicts, Conflict{
				Path:   path,
				Kind:   ConflictTypeMismatch,
				Local:  localPtr,
				Remote: remotePtr,
				Prev:   prevPtr,
			})
			continue
		}

		if localOK && remoteOK && localEntry.IsDir {
			continue
		}
		// Same size and mtime on both sides without history counts as synced.
		if localOK && remoteOK && !prevOK && localEntry.Size == remoteEntry.Size && localEntry.ModTime == remoteEntry.ModifiedTime {
			continue
		}

		localChanged := localOK && LocalModified(localEntry, prevPtr)
		remoteChanged := remoteOK && RemoteModified(remoteEntry, prevPtr)

		localDeleted := !localOK && prevOK
		remoteDeleted := !remoteOK && prevOK

		switch {
		case localOK && remoteOK:
			if localChanged && remoteChanged {
				conflicts = append(conflicts, Conflict{
					Path:   path,
					Kind:   ConflictBothModified,
					Local:  localPtr,
					Remote: remotePtr,
					Prev:   prevPtr,
				})
				continue
			}
			if localChanged {
				actions = append(actions, Action{
					Type:   ActionUpdate,
					Path:   path,
					Local:  localPtr,
					Remote: remotePtr,
					Prev:   prevPtr,
				})
				continue
			}
			if remoteChanged {
				actions = append(actions, Action{
					Type:   ActionDownload,
					Path:   path,
					Local:  localPtr,
					Remote: remotePtr,
					Prev:   prevPtr,
				})
				continue
			}
		case localOK && !remoteOK:
			if localEntry.IsDir {
				if prevOK && prevEntry.IsDir {
					if includeDeletes && remoteDeleted {
						actions = append(actions, Action{
							Type:  ActionDeleteLocal,
							Path:  path,
							Local: localPtr,
							Prev:  prevPtr,
						})
					}
					continue
				}
				actions = append(actions, Action{
					Type:  ActionMkdirRemote,
					Path:  path,
					Local: localPtr,
					Prev:  prevPtr,
				})
				continue
			}
			if prevOK && wasRemote(prevEntry) {
				if localChanged && !remoteOK {
					conflicts = append(conflicts, Conflict{
						Path:   path,
						Kind:   ConflictRemoteDeletedLocalModified,
						Local:  localPtr,
						Remote: nil,
						Prev:   prevPtr,
					})
					continue
				}
				if includeDeletes {
					actions = append(actions, Action{
						Type:  ActionDeleteLocal,
						Path:  path,
						Local: localPtr,
						Prev:  prevPtr,
					})
				}
				continue
			}
			actions = append(actions, Action{
				Type:  ActionUpload,
				Path:  path,
				Local: localPtr,
				Prev:  prevPtr,
			})
		case !localOK && remoteOK:
			if remoteEntry.IsDir {
				if prevOK && prevEntry.IsDir {
					if includeDeletes && localDeleted {
						actions = append(actions, Action{
							Type:   ActionDeleteRemote,
							Path:   path,
							Remote: remotePtr,
							Prev:   prevPtr,
						})
					}
					continue
				}
				actions = append(actions, Action{
					Type:   ActionMkdirLocal,
					Path:   path,
					Remote: remotePtr,
					Prev:   prevPtr,
				})
				continue
			}
			if prevOK && wasLocal(prevEntry) {
				if remoteChanged && !localOK {
					conflicts = append(conflicts, Conflict{
						Path:   path,
						Kind:   ConflictLocalDeletedRemoteModified,
						Local:  nil,
						Remote: remotePtr,
						Prev:   prevPtr,
					})
					continue
				}
				if includeDeletes {
					actions = append(actions, Action{
						Type:   ActionDeleteRemote,
						Path:   path,
						Remote: remotePtr,
						Prev:   prevPtr,
					})
				}
				continue
			}
			actions = append(actions, Action{
				Type:   ActionDownload,
				Path:   path,
				Remote: remotePtr,
				Prev:   prevPtr,
			})
		default:
			if localDeleted && remoteDeleted {
				continue
			}
		}
	}

	return Result{
		Actions:   actions,
		Conflicts: conflicts,
	}
}

func entryPtr(ok bool, entry scanner.LocalEntry) *scanner.LocalEntry {
	if !ok {
		return nil
	}
	e := entry
	return &e
}

func remotePtr(ok bool, entry scanner.RemoteEntry) *scanner.RemoteEntry {
	if !ok {
		return nil
	}
	e := entry
	return &e
}

func prevPtr(ok bool, entry index.SyncEntry) *index.SyncEntry {
	if !ok {
		return nil
	}
	e := entry
	return &e
}

// LocalModified reports whether local differs from the journal entry.
func LocalModified(local scanner.LocalEntry, prev *index.SyncEntry) bool {
	if prev == nil {
		return true
	}
	if local.IsDir != prev.IsDir {
		return true
	}
	if local.IsDir {
		return false
	}
	if local.Size != prev.LocalSize || local.ModTime != prev.LocalMTime {
		if prev.ContentHash != "" && local.Hash != "" {
			return prev.ContentHash != local.Hash
		}
		return true
	}
	return false
}

// RemoteModified reports whether remote differs from the journal entry. The
// ETag decides when both sides have one.
func RemoteModified(remote scanner.RemoteEntry, prev *index.SyncEntry) bool {
	if prev == nil {
		return true
	}
	if remote.IsDir != prev.IsDir {
		return true
	}
	if remote.IsDir {
		return false
	}
	if remote.ETag != "" && prev.RemoteETag != "" {
		return remote.ETag != prev.RemoteETag
	}
	if remote.ModifiedTime != 0 && prev.RemoteMTime != 0 {
		return remote.ModifiedTime != prev.RemoteMTime
	}
	if remote.Size != prev.RemoteSize {
		return true
	}
	return false
}

func wasRemote(prev index.SyncEntry) bool {
	return prev.RemoteETag != "" || prev.RemoteMTime != 0
}

func wasLocal(prev index.SyncEntry) bool {
	return prev.LocalMTime > 0
}
