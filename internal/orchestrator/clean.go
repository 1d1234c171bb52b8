package orchestrator

import (
	"context"

	"github.com/rancher/publish-branch-action/internal/git"
)

// StatusReader is the part of git.Workspace needed to judge cleanliness.
type StatusReader interface {
	StatusMatrix(ctx context.Context) ([]git.StatusEntry, error)
}

// IsClean reports whether no status entry carries uncommitted state. Untracked
// files count as changes. Status errors are returned unchanged.
func IsClean(ctx context.Context, ws StatusReader) (bool, error) {
	entries, err := ws.StatusMatrix(ctx)
	if err != nil {
		return false, err
	}
	for _, entry := range entries {
		if entry.Changed() {
			return false, nil
		}
	}
	return true, nil
}
