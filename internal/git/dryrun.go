package git

import (
	"context"
	"log/slog"
)

// NewDryRunExecutor returns an Executor whose workspaces forward read operations
// to inner and log every mutation instead of performing it. Commit returns an
// empty id.
func NewDryRunExecutor(inner Executor, logger *slog.Logger) Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &dryRunExecutor{inner: inner, log: logger}
}

type dryRunExecutor struct {
	inner Executor
	log   *slog.Logger
}

func (e *dryRunExecutor) Open(ctx context.Context, dir string) (Workspace, error) {
	ws, err := e.inner.Open(ctx, dir)
	if err != nil {
		return nil, err
	}
	return &dryRunWorkspace{Workspace: ws, log: e.log.With("dry_run", true)}, nil
}

// dryRunWorkspace embeds the real workspace so reads pass straight through.
type dryRunWorkspace struct {
	Workspace
	log *slog.Logger
}

func (w *dryRunWorkspace) CreateBranch(ctx context.Context, name string) error {
	w.log.InfoContext(ctx, "skipping branch creation", "branch", name)
	return nil
}

func (w *dryRunWorkspace) Checkout(ctx context.Context, branch string, opts CheckoutOptions) error {
	w.log.InfoContext(ctx, "skipping checkout", "branch", branch, "mutate_files", opts.MutateFiles)
	return nil
}

func (w *dryRunWorkspace) Unstage(ctx context.Context, paths ...string) error {
	w.log.DebugContext(ctx, "skipping unstage", "paths", len(paths))
	return nil
}

func (w *dryRunWorkspace) Stage(ctx context.Context, paths []string, opts StageOptions) error {
	w.log.InfoContext(ctx, "skipping stage", "paths", len(paths), "force", opts.Force)
	return nil
}

func (w *dryRunWorkspace) Commit(ctx context.Context, opts CommitOptions) (string, error) {
	w.log.InfoContext(ctx, "skipping commit", "ref", opts.Ref, "parents", len(opts.Parents))
	return "", nil
}

func (w *dryRunWorkspace) Push(ctx context.Context, opts PushOptions) error {
	w.log.InfoContext(ctx, "skipping push", "ref", opts.Ref, "remote", opts.remote(), "force", opts.Force)
	return nil
}
