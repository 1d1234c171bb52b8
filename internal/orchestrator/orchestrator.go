package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/rancher/publish-branch-action/internal/git"
	"github.com/rancher/publish-branch-action/internal/paths"
)

// Orchestrator publishes a generated subset of a working tree as a single
// parentless commit on a dedicated branch, then returns the working tree to the
// branch it started on.
type Orchestrator struct {
	cfg Config
	git git.Executor
	log *slog.Logger
}

// State names a step of a publish. Each transition is logged at debug level.
type State string

const (
	StateValidated State = "validated"
	StateSwitched  State = "switched"
	StateGenerated State = "generated"
	StateFiltered  State = "filtered"
	StateCommitted State = "committed"
	StatePushed    State = "pushed"
	StateRestored  State = "restored"
)

// Result captures the outcome of a successful publish.
type Result struct {
	SourceBranch string
	TargetBranch string
	// Commit is empty for dry runs.
	Commit string
	// Files lists the published paths relative to the working tree root, sorted.
	Files         []string
	CreatedBranch bool
	Pushed        bool
	Remote        string
	DryRun        bool
}

// New returns a configured Orchestrator instance.
func New(cfg Config, executor git.Executor, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.DryRun && executor != nil {
		executor = git.NewDryRunExecutor(executor, logger)
	}
	return &Orchestrator{cfg: cfg, git: executor, log: logger}
}

// Publish runs the publish state machine for req.
//
// Nothing is modified until the request, the current branch and the working tree
// have been validated. From the branch switch onwards the source branch is
// always checked out again with its files forced back, on success, on error and
// on panic. A failed restoration is reported as a *RestorationError that also
// carries the error that ended the publish.
func (o *Orchestrator) Publish(ctx context.Context, req Request) (result Result, err error) {
	if o.git == nil {
		return Result{}, fmt.Errorf("git executor is required")
	}
	if err := req.Validate(); err != nil {
		return Result{}, err
	}

	ws, err := o.git.Open(ctx, req.Dir)
	if err != nil {
		return Result{}, fmt.Errorf("open working tree: %w", err)
	}
	log := o.log.With("target_branch", req.TargetBranch, "root", ws.Root())

	source, exists, err := o.validate(ctx, ws, req.TargetBranch)
	if err != nil {
		return Result{}, err
	}
	log = log.With("source_branch", source)
	o.transition(ctx, log, StateValidated, "target_exists", exists)

	result = Result{
		SourceBranch:  source,
		TargetBranch:  req.TargetBranch,
		CreatedBranch: !exists,
		Remote:        req.Remote,
		DryRun:        o.cfg.DryRun,
	}

	defer func() {
		if p := recover(); p != nil {
			if restoreErr := o.restore(ctx, log, ws, source); restoreErr != nil {
				log.ErrorContext(ctx, "failed to restore source branch after panic", "error", restoreErr)
			}
			panic(p)
		}
		if restoreErr := o.restore(ctx, log, ws, source); restoreErr != nil {
			err = &RestorationError{Branch: source, Err: restoreErr, Cause: err}
		}
		if err != nil {
			result = Result{}
		}
	}()

	if !exists {
		if err := ws.CreateBranch(ctx, req.TargetBranch); err != nil {
			return result, fmt.Errorf("create branch %s: %w", req.TargetBranch, err)
		}
	}
	if err := ws.Checkout(ctx, req.TargetBranch, git.CheckoutOptions{MutateFiles: false}); err != nil {
		return result, fmt.Errorf("switch to %s: %w", req.TargetBranch, err)
	}
	o.transition(ctx, log, StateSwitched)

	if err := req.Generate(ctx); err != nil {
		return result, &GenerationError{Err: err}
	}
	o.transition(ctx, log, StateGenerated)

	tracked, err := ws.ListTrackedFiles(ctx)
	if err != nil {
		return result, &CommitError{Op: "list tracked files", Err: err}
	}
	if err := ws.Unstage(ctx, tracked...); err != nil {
		return result, &CommitError{Op: "unstage", Err: err}
	}

	files, err := o.collect(ctx, ws.Root(), paths.NewFilter(req.PublishPaths...))
	if err != nil {
		return result, err
	}
	if len(files) == 0 {
		log.WarnContext(ctx, "no files matched the publish paths; committing an empty tree", "publish_paths", req.PublishPaths)
	}
	o.transition(ctx, log, StateFiltered, "files", len(files), "unstaged", len(tracked))

	if err := ws.Stage(ctx, files, git.StageOptions{Force: true}); err != nil {
		return result, &CommitError{Op: "stage", Err: err}
	}
	commit, err := ws.Commit(ctx, git.CommitOptions{Ref: req.TargetBranch, Message: req.CommitMessage})
	if err != nil {
		return result, &CommitError{Op: "commit", Err: err}
	}
	result.Commit = commit
	result.Files = files
	o.transition(ctx, log, StateCommitted, "commit", commit)

	if !req.pushEnabled() {
		log.InfoContext(ctx, "skipping push: no credentials or transport configured")
		return result, nil
	}

	err = ws.Push(ctx, git.PushOptions{
		Ref:       req.TargetBranch,
		RemoteRef: "refs/heads/" + req.TargetBranch,
		Remote:    req.Remote,
		Force:     true,
		Auth:      req.Auth,
		Transport: req.Transport,
	})
	if err != nil {
		return result, &PushError{Remote: req.Remote, Branch: req.TargetBranch, Commit: commit, Err: err}
	}
	// The dry run executor accepts the push without sending anything.
	result.Pushed = !o.cfg.DryRun
	o.transition(ctx, log, StatePushed, "remote", req.Remote)

	return result, nil
}

// validate performs the read-only checks and reports the source branch and
// whether the target branch already exists.
func (o *Orchestrator) validate(ctx context.Context, ws git.Workspace, target string) (string, bool, error) {
	source, attached, err := ws.CurrentBranch(ctx)
	if err != nil {
		return "", false, fmt.Errorf("read current branch: %w", err)
	}
	if !attached {
		return "", false, ErrDetachedHead
	}
	if source == target {
		return "", false, fmt.Errorf("%w: %s", ErrSameBranch, source)
	}

	clean, err := IsClean(ctx, ws)
	if err != nil {
		return "", false, fmt.Errorf("read working tree status: %w", err)
	}
	if !clean {
		return "", false, ErrDirtyRepository
	}

	branches, err := ws.ListBranches(ctx)
	if err != nil {
		return "", false, fmt.Errorf("list branches: %w", err)
	}
	return source, slices.Contains(branches, target), nil
}

// collect enumerates the working tree and returns the sorted relative paths
// selected by filter.
func (o *Orchestrator) collect(ctx context.Context, root string, filter paths.Filter) ([]string, error) {
	var (
		mu    sync.Mutex
		files []string
	)

	err := paths.Walk(ctx, root, func(path string) error {
		rel, err := filepath.Rel(root, path)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
			return &PathEscapeError{Path: path, Root: root}
		}
		rel = filepath.ToSlash(rel)
		if !filter.Match(rel) {
			return nil
		}
		mu.Lock()
		files = append(files, rel)
		mu.Unlock()
		return nil
	}, paths.WithConcurrency(o.cfg.WalkConcurrency))
	if err != nil {
		return nil, fmt.Errorf("enumerate files: %w", err)
	}

	sort.Strings(files)
	return files, nil
}

// restore forces the source branch back. It ignores cancellation of ctx so that
// a cancelled publish still returns the caller to their branch.
func (o *Orchestrator) restore(ctx context.Context, log *slog.Logger, ws git.Workspace, source string) error {
	ctx = context.WithoutCancel(ctx)
	if err := ws.Checkout(ctx, source, git.CheckoutOptions{MutateFiles: true}); err != nil {
		return err
	}
	o.transition(ctx, log, StateRestored)
	return nil
}

func (o *Orchestrator) transition(ctx context.Context, log *slog.Logger, state State, attrs ...any) {
	log.DebugContext(ctx, "publish state", append([]any{"state", string(state)}, attrs...)...)
}
