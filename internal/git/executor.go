package git

import (
	"context"
	"errors"
)

// ErrNotRepository is returned by Executor.Open when the directory is not inside
// a git working tree.
var ErrNotRepository = errors.New("git: not a git working tree")

// DefaultAuthorName is the commit author used when neither the executor nor the
// git configuration provide one.
const DefaultAuthorName = "Publish Branch Bot"

// DefaultAuthorEmail is the commit author email used when neither the executor nor
// the git configuration provide one.
const DefaultAuthorEmail = "no-reply@rancher.com"

// Executor opens working trees for publish operations.
type Executor interface {
	Open(ctx context.Context, dir string) (Workspace, error)
}

// Workspace exposes the git primitives required by the publish orchestrator.
// Implementations may shell out to git or use a pure Go library.
type Workspace interface {
	// Root returns the absolute path of the working tree.
	Root() string

	// CurrentBranch returns the short name of the checked out branch. The boolean
	// is false when HEAD is detached.
	CurrentBranch(ctx context.Context) (string, bool, error)
	ListBranches(ctx context.Context) ([]string, error)

	// CreateBranch creates a local branch at the current HEAD commit without
	// touching the index or working tree.
	CreateBranch(ctx context.Context, name string) error
	Checkout(ctx context.Context, branch string, opts CheckoutOptions) error

	StatusMatrix(ctx context.Context) ([]StatusEntry, error)
	ListTrackedFiles(ctx context.Context) ([]string, error)
	Unstage(ctx context.Context, paths ...string) error
	Stage(ctx context.Context, paths []string, opts StageOptions) error

	// Commit records the index as a commit with exactly opts.Parents as parents
	// and points refs/heads/<opts.Ref> at it. It returns the commit id.
	Commit(ctx context.Context, opts CommitOptions) (string, error)
	Push(ctx context.Context, opts PushOptions) error
}

// CheckoutOptions controls how Workspace.Checkout switches branches.
type CheckoutOptions struct {
	// MutateFiles forces the index and tracked files to match the branch. When
	// false only the HEAD pointer moves.
	MutateFiles bool
}

// StageOptions controls Workspace.Stage.
type StageOptions struct {
	// Force adds paths even when they are ignored.
	Force bool
}

// CommitOptions describes the commit created by Workspace.Commit.
type CommitOptions struct {
	Ref     string
	Message string
	// Parents lists parent commit ids. Empty produces an orphan commit.
	Parents []string
}

// PushOptions describes the ref update sent by Workspace.Push.
type PushOptions struct {
	Ref string
	// RemoteRef defaults to refs/heads/<Ref>.
	RemoteRef string
	// Remote defaults to "origin".
	Remote    string
	Force     bool
	Auth      AuthFunc
	Transport *Transport
}

func (o PushOptions) remote() string {
	if o.Remote == "" {
		return defaultRemote
	}
	return o.Remote
}

func (o PushOptions) refSpec() string {
	remoteRef := o.RemoteRef
	if remoteRef == "" {
		remoteRef = branchRef(o.Ref)
	}
	spec := branchRef(o.Ref) + ":" + remoteRef
	if o.Force {
		spec = "+" + spec
	}
	return spec
}

const defaultRemote = "origin"

func branchRef(name string) string {
	return "refs/heads/" + name
}
