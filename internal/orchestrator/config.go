package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/rancher/publish-branch-action/internal/git"
	"github.com/rancher/publish-branch-action/internal/refs"
)

// Config captures the runtime controls the orchestrator needs.
type Config struct {
	// WalkConcurrency bounds concurrent directory reads while collecting the
	// publish set. Zero uses the enumerator default.
	WalkConcurrency int
	// DryRun wraps the executor so that no branch, index or remote is modified.
	DryRun bool
}

const (
	DefaultRemote        = "origin"
	DefaultCommitMessage = "Published"
)

// GenerateFunc populates the working tree with the artifacts to publish.
type GenerateFunc func(ctx context.Context) error

// Request describes a single publish.
type Request struct {
	// Dir is any directory inside the working tree.
	Dir          string
	TargetBranch string
	// PublishPaths are prefixes of the working tree relative paths to publish.
	PublishPaths  []string
	Generate      GenerateFunc
	Remote        string
	CommitMessage string
	// Push happens only when both Auth and Transport are set.
	Auth      git.AuthFunc
	Transport *git.Transport
}

// Validate normalises the request, applies defaults and reports missing fields.
// Errors wrap ErrInvalidRequest.
func (r *Request) Validate() error {
	if strings.TrimSpace(r.Dir) == "" {
		return fmt.Errorf("%w: working tree directory is required", ErrInvalidRequest)
	}

	r.TargetBranch = refs.NormalizeBranch(r.TargetBranch)
	if r.TargetBranch == "" {
		return fmt.Errorf("%w: target branch is required", ErrInvalidRequest)
	}
	if err := refs.ValidateBranch(r.TargetBranch); err != nil {
		return fmt.Errorf("%w: target branch %q: %v", ErrInvalidRequest, r.TargetBranch, err)
	}

	prefixes := make([]string, 0, len(r.PublishPaths))
	for _, p := range r.PublishPaths {
		if p = strings.TrimSpace(p); p != "" {
			prefixes = append(prefixes, p)
		}
	}
	if len(prefixes) == 0 {
		return fmt.Errorf("%w: at least one publish path is required", ErrInvalidRequest)
	}
	r.PublishPaths = prefixes

	if r.Generate == nil {
		return fmt.Errorf("%w: generate function is required", ErrInvalidRequest)
	}

	r.Remote = strings.TrimSpace(r.Remote)
	if r.Remote == "" {
		r.Remote = DefaultRemote
	}
	if strings.TrimSpace(r.CommitMessage) == "" {
		r.CommitMessage = DefaultCommitMessage
	}
	return nil
}

func (r *Request) pushEnabled() bool {
	return r.Auth != nil && r.Transport != nil
}
