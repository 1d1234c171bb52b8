package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/rancher/publish-branch-action/internal/event"
	"github.com/rancher/publish-branch-action/internal/generate"
	"github.com/rancher/publish-branch-action/internal/git"
	gh "github.com/rancher/publish-branch-action/internal/github"
	"github.com/rancher/publish-branch-action/internal/orchestrator"
)

// Runner glues together the orchestrator and supporting services to execute the publish flow.
type Runner struct {
	cfg       Config
	log       *slog.Logger
	logCloser io.Closer
	ghFactory gh.Factory
	gitExec   git.Executor // only set for testing via NewRunnerWithDeps
}

// NewRunner constructs a Runner with the supplied configuration.
func NewRunner(cfg Config) (*Runner, error) {
	logger, closer, err := NewFileLogger(cfg.LogLevel, cfg.LogFormat, cfg.LogFile)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	return &Runner{
		cfg:       cfg,
		log:       logger,
		logCloser: closer,
		ghFactory: gh.NewRESTFactory(cfg.GitHubBaseURL, cfg.GitHubUploadURL),
	}, nil
}

// NewRunnerWithDeps constructs a Runner with injected dependencies for testing.
func NewRunnerWithDeps(cfg Config, log *slog.Logger, ghFactory gh.Factory, gitExec git.Executor) *Runner {
	return &Runner{cfg: cfg, log: log, ghFactory: ghFactory, gitExec: gitExec}
}

// Close releases the log file, if any.
func (r *Runner) Close() error {
	if r.logCloser == nil {
		return nil
	}
	return r.logCloser.Close()
}

// Run executes the application using the provided context.
func (r *Runner) Run(ctx context.Context) error {
	if r.log == nil {
		r.log = slog.New(slog.DiscardHandler)
	}
	r.log.Info("starting publish branch action run",
		"target_branch", r.cfg.TargetBranch,
		"publish_paths", r.cfg.PublishPaths,
		"dry_run", r.cfg.DryRun,
		"git_backend", r.cfg.GitBackend)

	gitExec := r.gitExec
	if gitExec == nil {
		exec, err := r.buildGitExecutor()
		if err != nil {
			return fmt.Errorf("configure git executor: %w", err)
		}
		gitExec = exec
	}

	dir, err := filepath.Abs(r.cfg.WorkingDirectory)
	if err != nil {
		return fmt.Errorf("resolve working directory: %w", err)
	}

	req := orchestrator.Request{
		Dir:           dir,
		TargetBranch:  r.cfg.TargetBranch,
		PublishPaths:  r.cfg.PublishPaths,
		Remote:        r.cfg.Remote,
		CommitMessage: r.cfg.CommitMessage,
		Generate: generate.Command{
			Script: r.cfg.GenerateCommand,
			Shell:  r.cfg.GenerateShell,
			Dir:    dir,
			Env:    []string{"PUBLISH_TARGET_BRANCH=" + r.cfg.TargetBranch},
		}.Run,
	}
	if r.cfg.Push {
		req.Auth = git.TokenAuth(r.cfg.GitHubToken)
		req.Transport = &git.Transport{
			InsecureSkipTLS: r.cfg.InsecureSkipTLS,
			ProxyURL:        r.cfg.HTTPSProxy,
		}
	}

	orch := orchestrator.New(orchestrator.Config{DryRun: r.cfg.DryRun}, gitExec, r.log)
	result, publishErr := orch.Publish(ctx, req)

	rep := report{Result: result, Err: publishErr}
	if publishErr != nil {
		r.log.Error("publish failed", "error", publishErr)
		var pushErr *orchestrator.PushError
		if errors.As(publishErr, &pushErr) {
			rep.Result.Commit = pushErr.Commit
		}
	} else {
		r.log.Info("publish completed",
			"commit", result.Commit,
			"branch", result.TargetBranch,
			"files", len(result.Files),
			"pushed", result.Pushed)
	}

	ghClient := r.githubClient(ctx)
	repo, repoErr := event.ParseRepository(os.Getenv("GITHUB_REPOSITORY"))

	if publishErr == nil && result.Pushed && ghClient != nil && repoErr == nil {
		rep.Verified = r.verifyRemoteBranch(ctx, ghClient, repo, result)
	}

	if err := r.writeStepSummary(rep); err != nil {
		r.log.Warn("failed to write step summary", "error", err)
	}
	if err := r.writeGitHubOutputs(rep); err != nil {
		r.log.Warn("failed to write action outputs", "error", err)
	}

	if r.cfg.CommentOnPR && ghClient != nil {
		if err := r.commentOnTriggeringPullRequest(ctx, ghClient, rep); err != nil {
			r.log.Warn("failed to post pull request comment", "error", err)
		}
	}

	if publishErr != nil {
		return fmt.Errorf("publish %s: %w", r.cfg.TargetBranch, publishErr)
	}
	return nil
}

func (r *Runner) githubClient(ctx context.Context) gh.Client {
	if r.ghFactory == nil || r.cfg.GitHubToken == "" {
		return nil
	}
	client, err := r.ghFactory(ctx, r.cfg.GitHubToken)
	if err != nil {
		r.log.Warn("failed to initialize github client", "error", err)
		return nil
	}
	return client
}

// verifyRemoteBranch reports whether the remote branch head is the published commit.
func (r *Runner) verifyRemoteBranch(ctx context.Context, client gh.Client, repo event.Repository, result orchestrator.Result) bool {
	head, err := client.BranchHead(ctx, repo.Owner, repo.Name, result.TargetBranch)
	if err != nil {
		r.log.Warn("could not verify published branch", "repository", repo.String(), "branch", result.TargetBranch, "error", err, "retryable", gh.IsRetryable(err))
		return false
	}
	if head != result.Commit {
		r.log.Warn("remote branch head does not match published commit", "repository", repo.String(), "branch", result.TargetBranch, "remote_head", head, "commit", result.Commit)
		return false
	}
	r.log.Debug("remote branch verified", "repository", repo.String(), "branch", result.TargetBranch, "commit", head)
	return true
}

func (r *Runner) commentOnTriggeringPullRequest(ctx context.Context, client gh.Client, rep report) error {
	eventName := strings.TrimSpace(os.Getenv("GITHUB_EVENT_NAME"))
	if !event.IsPullRequestEvent(eventName) {
		r.log.Debug("not commenting outside pull request events", "event_name", eventName)
		return nil
	}

	eventPath := strings.TrimSpace(os.Getenv("GITHUB_EVENT_PATH"))
	if eventPath == "" {
		return fmt.Errorf("GITHUB_EVENT_PATH is required for pull_request events")
	}

	payload, err := event.ParsePullRequestEventFile(eventPath)
	if err != nil {
		return fmt.Errorf("parse pull request event: %w", err)
	}
	if payload.Repository.Owner == "" || payload.Repository.Name == "" {
		return fmt.Errorf("event payload missing repository owner/name")
	}
	if payload.PullRequest.Number == 0 {
		return fmt.Errorf("event payload missing pull request number")
	}

	pr := gh.PullRequest{Owner: payload.Repository.Owner, Repo: payload.Repository.Name, Number: payload.PullRequest.Number}
	return r.upsertSummaryComment(ctx, client, pr, rep)
}

func (r *Runner) buildGitExecutor() (git.Executor, error) {
	switch r.cfg.GitBackend {
	case GitBackendShell, "":
		exec := git.NewShellExecutor()
		exec.UserName = r.cfg.GitUserName
		exec.UserEmail = r.cfg.GitUserEmail
		return exec, nil
	case GitBackendGoGit:
		exec := git.NewGoGitExecutor()
		exec.UserName = r.cfg.GitUserName
		exec.UserEmail = r.cfg.GitUserEmail
		return exec, nil
	default:
		return nil, fmt.Errorf("unsupported git backend %q", r.cfg.GitBackend)
	}
}
