// Package engine defines the interface between the sync runner and a sync
// engine, and provides a WebDAV implementation of it.
package engine

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
)

// Instruction is what the engine plans to do with one tree entry.
type Instruction int

const (
	InstructionNone Instruction = iota
	InstructionEval
	InstructionRemove
	InstructionRename
	InstructionNew
	InstructionConflict
	InstructionIgnore
	InstructionSync
	InstructionStatError
	InstructionError
	InstructionDeleted
	InstructionUpdated
)

var instructionNames = map[Instruction]string{
	InstructionNone:      "none",
	InstructionEval:      "eval",
	InstructionRemove:    "remove",
	InstructionRename:    "rename",
	InstructionNew:       "new",
	InstructionConflict:  "conflict",
	InstructionIgnore:    "ignore",
	InstructionSync:      "sync",
	InstructionStatError: "stat_error",
	InstructionError:     "error",
	InstructionDeleted:   "deleted",
	InstructionUpdated:   "updated",
}

func (i Instruction) String() string {
	if name, ok := instructionNames[i]; ok {
		return name
	}
	return fmt.Sprintf("instruction(%d)", int(i))
}

// TreeEntry is one visited entry of the local tree walk. Path is relative
// to the source directory and slash separated.
type TreeEntry struct {
	Path        string
	Instruction Instruction
	IsDir       bool
}

// AuthCallback answers an engine prompt by writing into buf. The return
// value is 0 on success.
type AuthCallback func(prompt string, buf []byte, echo, verify bool) int

// Prompts the engine asks through the AuthCallback.
const (
	PromptUsername          = "Enter your username:"
	PromptPassword          = "Enter your password:"
	PromptCertificatePrefix = "There are problems with the SSL certificate:"
)

// Handle is one engine context bound to a source directory and a target.
type Handle interface {
	SetAuthCallback(cb AuthCallback)
	EnableConflictCopies()
	SetExcludeList(path string) error
	SetLocalOnly(localOnly bool)
	Init(ctx context.Context) error
	Update(ctx context.Context) error
	// LocalTree yields every visited local entry. Iteration stops when the
	// consumer stops or after the first error.
	LocalTree() iter.Seq2[TreeEntry, error]
	Reconcile(ctx context.Context) error
	Propagate(ctx context.Context) error
	Destroy()
}

// Opener creates a Handle for source and target.
type Opener func(source, target string) (Handle, error)

// Code classifies Init failures.
type Code int

const (
	ErrUnknown Code = iota
	ErrLock
	ErrStateDBLoad
	ErrModule
	ErrTimeSkew
	ErrFilesystem
	ErrTree
)

func (c Code) String() string {
	switch c {
	case ErrLock:
		return "lock"
	case ErrStateDBLoad:
		return "statedb_load"
	case ErrModule:
		return "module"
	case ErrTimeSkew:
		return "timeskew"
	case ErrFilesystem:
		return "filesystem"
	case ErrTree:
		return "tree"
	default:
		return "unknown"
	}
}

// Error is a classified engine failure. Errno carries the numeric cause
// for ErrUnknown.
type Error struct {
	Code  Code
	Errno int
	Err   error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("engine ")
	b.WriteString(e.Code.String())
	if e.Code == ErrUnknown && e.Errno != 0 {
		fmt.Fprintf(&b, " (%d)", e.Errno)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// CodeOf returns the Code of err, or ErrUnknown when err is not an *Error.
func CodeOf(err error) (Code, int) {
	var engineErr *Error
	if errors.As(err, &engineErr) {
		return engineErr.Code, engineErr.Errno
	}
	return ErrUnknown, 0
}

func newError(code Code, err error) *Error {
	return &Error{Code: code, Errno: int(code), Err: err}
}
