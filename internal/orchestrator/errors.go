package orchestrator

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRequest is wrapped by Request.Validate failures.
	ErrInvalidRequest = errors.New("invalid publish request")
	// ErrDetachedHead means HEAD does not point at a branch.
	ErrDetachedHead = errors.New("HEAD is detached; check out a branch before publishing")
	// ErrSameBranch means the target branch is the branch currently checked out.
	ErrSameBranch = errors.New("target branch is the current branch")
	// ErrDirtyRepository means the working tree or index has uncommitted changes.
	ErrDirtyRepository = errors.New("working tree has uncommitted changes")
)

// GenerationError wraps a failure of the generate step.
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generate: %v", e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// PathEscapeError reports an enumerated file outside the working tree root. It
// indicates a defect rather than a user error.
type PathEscapeError struct {
	Path string
	Root string
}

func (e *PathEscapeError) Error() string {
	return fmt.Sprintf("path %s escapes working tree %s", e.Path, e.Root)
}

// CommitError wraps a backend failure while preparing the index or committing.
type CommitError struct {
	Op  string
	Err error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *CommitError) Unwrap() error {
	return e.Err
}

// PushError wraps a push failure. The local commit is kept.
type PushError struct {
	Remote string
	Branch string
	Commit string
	Err    error
}

func (e *PushError) Error() string {
	return fmt.Sprintf("push %s to %s: %v", e.Branch, e.Remote, e.Err)
}

func (e *PushError) Unwrap() error {
	return e.Err
}

// RestorationError reports a failure to check the source branch back out. Cause
// holds the error that ended the publish, if any; both are reachable through
// errors.Is and errors.As.
type RestorationError struct {
	Branch string
	Err    error
	Cause  error
}

func (e *RestorationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("restore branch %s: %v (publish failed: %v)", e.Branch, e.Err, e.Cause)
	}
	return fmt.Sprintf("restore branch %s: %v", e.Branch, e.Err)
}

func (e *RestorationError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}
