package conflict

import (
	"path"
	"strings"
	"time"

	"github.com/dl-alexandre/ocsync/internal/sync/diff"
	"github.com/dl-alexandre/ocsync/internal/utils"
)

type Policy string

const (
	PolicyLocalWins    Policy = "local-wins"
	PolicyRemoteWins   Policy = "remote-wins"
	PolicyConflictCopy Policy = "conflict-copy"
)

// PolicyFor picks the policy used by the engine.
func PolicyFor(conflictCopies bool) Policy {
	if conflictCopies {
		return PolicyConflictCopy
	}
	return PolicyRemoteWins
}

// Resolve turns conflicts into actions. Conflicts an unknown policy cannot
// handle are returned unchanged.
func Resolve(conflicts []diff.Conflict, policy Policy, now time.Time) ([]diff.Action, []diff.Conflict) {
	var actions []diff.Action
	var remaining []diff.Conflict

	for _, conflict := range conflicts {
		switch policy {
		case PolicyLocalWins:
			actions = append(actions, resolveLocalWins(conflict)...)
		case PolicyRemoteWins:
			actions = append(actions, resolveRemoteWins(conflict)...)
		case PolicyConflictCopy:
			actions = append(actions, resolveConflictCopy(conflict, now)...)
		default:
			remaining = append(remaining, conflict)
		}
	}

	return actions, remaining
}

func resolveLocalWins(conflict diff.Conflict) []diff.Action {
	switch conflict.Kind {
	case diff.ConflictBothModified:
		return []diff.Action{{
			Type:   diff.ActionUpdate,
			Path:   conflict.Path,
			Local:  conflict.Local,
			Remote: conflict.Remote,
			Prev:   conflict.Prev,
		}}
	case diff.ConflictLocalDeletedRemoteModified:
		return []diff.Action{{
			Type:   diff.ActionDeleteRemote,
			Path:   conflict.Path,
			Remote: conflict.Remote,
			Prev:   conflict.Prev,
		}}
	case diff.ConflictRemoteDeletedLocalModified:
		return []diff.Action{{
			Type:  diff.ActionUpload,
			Path:  conflict.Path,
			Local: conflict.Local,
			Prev:  conflict.Prev,
		}}
	case diff.ConflictTypeMismatch:
		create := diff.ActionUpload
		if conflict.Local != nil && conflict.Local.IsDir {
			create = diff.ActionMkdirRemote
		}
		return []diff.Action{
			{
				Type:   diff.ActionDeleteRemote,
				Path:   conflict.Path,
				Remote: conflict.Remote,
				Prev:   conflict.Prev,
			},
			{
				Type:  create,
				Path:  conflict.Path,
				Local: conflict.Local,
				Prev:  conflict.Prev,
			},
		}
	}
	return nil
}

func resolveRemoteWins(conflict diff.Conflict) []diff.Action {
	switch conflict.Kind {
	case diff.ConflictBothModified:
		return []diff.Action{{
			Type:   diff.ActionDownload,
			Path:   conflict.Path,
			Local:  conflict.Local,
			Remote: conflict.Remote,
			Prev:   conflict.Prev,
		}}
	case diff.ConflictLocalDeletedRemoteModified:
		return []diff.Action{{
			Type:   diff.ActionDownload,
			Path:   conflict.Path,
			Remote: conflict.Remote,
			Prev:   conflict.Prev,
		}}
	case diff.ConflictRemoteDeletedLocalModified:
		return []diff.Action{{
			Type:  diff.ActionDeleteLocal,
			Path:  conflict.Path,
			Local: conflict.Local,
			Prev:  conflict.Prev,
		}}
	case diff.ConflictTypeMismatch:
		create := diff.ActionDownload
		if conflict.Remote != nil && conflict.Remote.IsDir {
			create = diff.ActionMkdirLocal
		}
		return []diff.Action{
			{
				Type:  diff.ActionDeleteLocal,
				Path:  conflict.Path,
				Local: conflict.Local,
				Prev:  conflict.Prev,
			},
			{
				Type:   create,
				Path:   conflict.Path,
				Remote: conflict.Remote,
				Prev:   conflict.Prev,
			},
		}
	}
	return nil
}

// resolveConflictCopy keeps both versions of a file changed on both sides:
// the local file is renamed to a conflict copy and uploaded, then the remote
// version is downloaded in its place. Edits never lose to deletes.
func resolveConflictCopy(conflict diff.Conflict, now time.Time) []diff.Action {
	switch conflict.Kind {
	case diff.ConflictBothModified:
		if conflict.Local == nil || conflict.Remote == nil {
			return resolveRemoteWins(conflict)
		}
		copyPath := ConflictCopyPath(conflict.Path, now)
		return []diff.Action{
			{
				Type:     diff.ActionMoveLocal,
				FromPath: conflict.Path,
				ToPath:   copyPath,
				Path:     copyPath,
				Local:    conflict.Local,
			},
			{
				Type: diff.ActionUpload,
				Path: copyPath,
			},
			{
				Type:   diff.ActionDownload,
				Path:   conflict.Path,
				Remote: conflict.Remote,
				Prev:   conflict.Prev,
			},
		}
	case diff.ConflictLocalDeletedRemoteModified:
		return resolveRemoteWins(conflict)
	default:
		return resolveLocalWins(conflict)
	}
}

// ConflictCopyPath returns p with a conflict marker and timestamp inserted
// before the extension, e.g. "a/b_conflict-20240501-100000.txt".
func ConflictCopyPath(p string, now time.Time) string {
	ext := path.Ext(p)
	base := strings.TrimSuffix(p, ext)
	if base == "" || strings.HasSuffix(base, "/") {
		base, ext = p, ""
	}
	return base + utils.ConflictMarker + now.UTC().Format("20060102-150405") + ext
}
