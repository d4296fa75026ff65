package diff

import (
	"github.com/dl-alexandre/ocsync/internal/sync/index"
)

func ApplyRenames(result Result, snapshot Snapshot) Result {
	result = applyLocalRenames(result, snapshot)
	result = applyRemoteRenames(result, snapshot)
	return result
}

// LocalRenames maps new local paths to the journal paths they were moved
// from. A move is recognized when exactly one vanished file has the same
// content hash.
func LocalRenames(snapshot Snapshot) map[string]string {
	deletedByHash := make(map[string][]index.SyncEntry)
	for path, prev := range snapshot.Prev {
		if prev.IsDir {
			continue
		}
		if _, ok := snapshot.Local[path]; ok {
			continue
		}
		if prev.ContentHash == "" {
			continue
		}
		deletedByHash[prev.ContentHash] = append(deletedByHash[prev.ContentHash], prev)
	}

	renames := make(map[string]string)
	used := make(map[string]bool)
	for path, local := range snapshot.Local {
		if local.IsDir || local.Excluded || local.StatErr != nil {
			continue
		}
		if _, ok := snapshot.Prev[path]; ok {
			continue
		}
		if local.Hash == "" {
			continue
		}
		candidates := deletedByHash[local.Hash]
		if len(candidates) != 1 {
			continue
		}
		prev := candidates[0]
		if used[prev.RelativePath] {
			continue
		}
		used[prev.RelativePath] = true
		renames[path] = prev.RelativePath
	}
	return renames
}

func applyLocalRenames(result Result, snapshot Snapshot) Result {
	for path, from := range LocalRenames(snapshot) {
		if _, ok := snapshot.Remote[from]; !ok {
			continue
		}
		local := snapshot.Local[path]
		prev := snapshot.Prev[from]

		result.Actions = removeAction(result.Actions, ActionDeleteRemote, from)
		result.Actions = removeAction(result.Actions, ActionUpload, path)
		result.Actions = append(result.Actions, Action{
			Type:     ActionMoveRemote,
			FromPath: from,
			ToPath:   path,
			Path:     path,
			Local:    &local,
			Prev:     &prev,
		})
	}

	return result
}

// applyRemoteRenames pairs a vanished journal file with a new remote file
// carrying the same ETag.
func applyRemoteRenames(result Result, snapshot Snapshot) Result {
	prevByETag := make(map[string]index.SyncEntry)
	for path, prev := range snapshot.Prev {
		if prev.IsDir || prev.RemoteETag == "" {
			continue
		}
		if _, ok := snapshot.Remote[path]; ok {
			continue
		}
		prevByETag[prev.RemoteETag] = prev
	}

	for path, remote := range snapshot.Remote {
		if remote.IsDir || remote.ETag == "" {
			continue
		}
		prev, ok := prevByETag[remote.ETag]
		if !ok {
			continue
		}
		if prev.RelativePath == path {
			continue
		}
		if _, ok := snapshot.Prev[path]; ok {
			continue
		}
		if _, ok := snapshot.Local[prev.RelativePath]; !ok {
			continue
		}
		delete(prevByETag, remote.ETag)

		result.Actions = removeAction(result.Actions, ActionDeleteLocal, prev.RelativePath)
		result.Actions = removeAction(result.Actions, ActionDownload, path)
		result.Actions = append(result.Actions, Action{
			Type:     ActionMoveLocal,
			FromPath: prev.RelativePath,
			ToPath:   path,
			Path:     path,
			Remote:   &remote,
			Prev:     &prev,
		})
	}

	return result
}

func removeAction(actions []Action, actionType ActionType, path string) []Action {
	filtered := actions[:0]
	for _, action := range actions {
		if action.Type == actionType && action.Path == path {
			continue
		}
		filtered = append(filtered, action)
	}
	return filtered
}
