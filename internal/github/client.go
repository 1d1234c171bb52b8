package gh

import (
	"context"
	"errors"
	"fmt"
)

// Client is the GitHub surface a publish reports through.
type Client interface {
	// BranchHead returns the commit the remote branch points at, or
	// ErrBranchNotFound.
	BranchHead(ctx context.Context, owner, repo, branch string) (string, error)
	// UpsertComment edits the pull request comment carrying marker, or creates
	// one when none does.
	UpsertComment(ctx context.Context, pr PullRequest, marker, body string) (CommentAction, error)
}

// Factory builds a Client authenticated with token.
type Factory func(ctx context.Context, token string) (Client, error)

// PullRequest identifies the pull request a summary is posted on.
type PullRequest struct {
	Owner  string
	Repo   string
	Number int
}

func (pr PullRequest) String() string {
	return fmt.Sprintf("%s/%s#%d", pr.Owner, pr.Repo, pr.Number)
}

// CommentAction reports what UpsertComment did.
type CommentAction string

const (
	CommentCreated   CommentAction = "created"
	CommentUpdated   CommentAction = "updated"
	CommentUnchanged CommentAction = "unchanged"
)

// ErrBranchNotFound indicates the requested branch does not exist on the remote.
var ErrBranchNotFound = errors.New("github: branch not found")

// APIError is a failed GitHub API call. StatusCode is zero when no response
// was received.
type APIError struct {
	Op         string
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err came from a GitHub call that may succeed
// later: a rate limit, a 5xx response or a network timeout.
func IsRetryable(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Retryable
}
