package sync

import (
	"iter"
	"path/filepath"

	"github.com/dl-alexandre/ocsync/internal/sync/engine"
	"github.com/spf13/afero"
)

// WalkErrorKind says why a local tree walk stopped early.
type WalkErrorKind int

const (
	WalkErrorNone WalkErrorKind = iota
	WalkErrorDirPermissions
	WalkErrorWalk
	WalkErrorInstructions
)

func (k WalkErrorKind) String() string {
	switch k {
	case WalkErrorNone:
		return "none"
	case WalkErrorDirPermissions:
		return "dir_permissions"
	case WalkErrorWalk:
		return "walk"
	case WalkErrorInstructions:
		return "instructions"
	default:
		return "unknown"
	}
}

// WalkStats counts the entries of one local tree walk by instruction.
type WalkStats struct {
	SourcePath string

	SeenFiles int
	Eval      int
	Removed   int
	Renamed   int
	NewFiles  int
	Conflicts int
	Ignores   int
	Sync      int
	Errors    int

	ErrorKind WalkErrorKind
}

// LocalChanges is the number of entries that changed locally since the
// previous run.
func (s *WalkStats) LocalChanges() int {
	return s.NewFiles + s.Eval + s.Removed + s.Renamed
}

// DirCheck reports whether the directory at a source-relative path may be
// written and searched.
type DirCheck func(rel string) bool

// Visit folds one entry into s and reports whether the walk may continue.
func (s *WalkStats) Visit(entry engine.TreeEntry, dirOK DirCheck) bool {
	s.SeenFiles++

	switch entry.Instruction {
	case engine.InstructionNone:
	case engine.InstructionEval:
		s.Eval++
	case engine.InstructionRemove:
		s.Removed++
	case engine.InstructionRename:
		s.Renamed++
	case engine.InstructionNew:
		s.NewFiles++
	case engine.InstructionConflict:
		s.Conflicts++
	case engine.InstructionIgnore:
		s.Ignores++
	case engine.InstructionSync:
		s.Sync++
	case engine.InstructionStatError, engine.InstructionError,
		engine.InstructionDeleted, engine.InstructionUpdated:
		s.Errors++
		s.ErrorKind = WalkErrorInstructions
	default:
		s.Errors++
		s.ErrorKind = WalkErrorWalk
	}

	// Removed entries are gone from disk, there is nothing to check.
	if entry.IsDir && s.ErrorKind == WalkErrorNone &&
		entry.Instruction != engine.InstructionRemove && dirOK != nil && !dirOK(entry.Path) {
		s.ErrorKind = WalkErrorDirPermissions
	}

	return s.ErrorKind == WalkErrorNone
}

// Fold walks tree into a new WalkStats. It stops at the first entry that
// sets an error kind. An error from the tree itself stops the walk with
// WalkErrorWalk.
func Fold(source string, tree iter.Seq2[engine.TreeEntry, error], dirOK DirCheck) *WalkStats {
	stats := &WalkStats{SourcePath: source}
	for entry, err := range tree {
		if err != nil {
			stats.ErrorKind = WalkErrorWalk
			break
		}
		if !stats.Visit(entry, dirOK) {
			break
		}
	}
	return stats
}

// WritableDirs checks the owner write and execute bits of directories below
// root. A directory that cannot be stat'ed fails the check.
func WritableDirs(fs afero.Fs, root string) DirCheck {
	return func(rel string) bool {
		info, err := fs.Stat(filepath.Join(root, filepath.FromSlash(rel)))
		if err != nil {
			return false
		}
		return info.Mode().Perm()&0o300 == 0o300
	}
}
