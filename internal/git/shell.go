package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rancher/publish-branch-action/internal/proc"
)

// pathspecBatch bounds how many paths are passed to a single git invocation.
const pathspecBatch = 500

// ShellExecutor shells out to the system git binary to operate on an existing
// working tree.
type ShellExecutor struct {
	// Git is the git binary to execute. Defaults to "git" when empty.
	Git string

	// UserName and UserEmail set the identity recorded on publish commits. When
	// empty the repository's git configuration applies.
	UserName  string
	UserEmail string

	// NetworkRetries controls how many additional attempts should be made for network
	// oriented git commands (fetch, push). When zero, a default of 2 retries is used.
	NetworkRetries int

	// NetworkRetryDelay controls the initial backoff delay between retries. When zero,
	// a default of 1 second is used. Backoff grows exponentially per attempt.
	NetworkRetryDelay time.Duration

	// NetworkTimeout bounds network commands that would otherwise inherit an unbounded
	// context. When zero, a default of 2 minutes is used.
	NetworkTimeout time.Duration
}

// NewShellExecutor returns an Executor backed by system git commands.
func NewShellExecutor() *ShellExecutor {
	return &ShellExecutor{}
}

func (e *ShellExecutor) gitBinary() string {
	if e.Git == "" {
		return "git"
	}
	return e.Git
}

func (e *ShellExecutor) Open(ctx context.Context, dir string) (Workspace, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("working tree directory is required")
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve working tree: %w", err)
	}

	out, err := e.captureGitOutput(ctx, "-C", abs, "rev-parse", "--show-toplevel")
	if err != nil {
		var gitErr *GitError
		if errors.As(err, &gitErr) && strings.Contains(strings.ToLower(gitErr.Output), "not a git repository") {
			return nil, fmt.Errorf("%w: %s", ErrNotRepository, abs)
		}
		return nil, fmt.Errorf("git rev-parse --show-toplevel: %w", err)
	}

	root := strings.TrimSpace(out)
	if root == "" {
		return nil, fmt.Errorf("%w: %s", ErrNotRepository, abs)
	}

	return &shellWorkspace{executor: e, path: filepath.Clean(root)}, nil
}

type shellWorkspace struct {
	path     string
	executor *ShellExecutor
}

func (w *shellWorkspace) Root() string {
	return w.path
}

func (w *shellWorkspace) CurrentBranch(ctx context.Context) (string, bool, error) {
	out, err := w.capture(ctx, "symbolic-ref", "--quiet", "HEAD")
	if err != nil {
		// symbolic-ref --quiet exits 1 without output when HEAD is detached.
		if exitCode(err) == 1 {
			return "", false, nil
		}
		return "", false, fmt.Errorf("git symbolic-ref HEAD: %w", err)
	}

	ref := strings.TrimSpace(out)
	if !strings.HasPrefix(ref, "refs/heads/") {
		return "", false, nil
	}
	return strings.TrimPrefix(ref, "refs/heads/"), true, nil
}

func (w *shellWorkspace) ListBranches(ctx context.Context) ([]string, error) {
	out, err := w.capture(ctx, "for-each-ref", "--format=%(refname)", "refs/heads/")
	if err != nil {
		return nil, fmt.Errorf("git for-each-ref: %w", err)
	}

	var branches []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		branches = append(branches, strings.TrimPrefix(line, "refs/heads/"))
	}
	return branches, nil
}

func (w *shellWorkspace) CreateBranch(ctx context.Context, name string) error {
	born, err := w.refExists(ctx, "HEAD")
	if err != nil {
		return err
	}
	if !born {
		// Nothing to point at yet; the first commit on the branch creates it.
		return nil
	}
	if err := w.exec(ctx, "branch", "--no-track", name, "HEAD"); err != nil {
		return fmt.Errorf("git branch %s: %w", name, err)
	}
	return nil
}

func (w *shellWorkspace) Checkout(ctx context.Context, branch string, opts CheckoutOptions) error {
	if !opts.MutateFiles {
		if err := w.exec(ctx, "symbolic-ref", "HEAD", branchRef(branch)); err != nil {
			return fmt.Errorf("git symbolic-ref HEAD %s: %w", branch, err)
		}
		return nil
	}

	born, err := w.refExists(ctx, branchRef(branch))
	if err != nil {
		return err
	}
	if !born {
		if err := w.exec(ctx, "symbolic-ref", "HEAD", branchRef(branch)); err != nil {
			return fmt.Errorf("git symbolic-ref HEAD %s: %w", branch, err)
		}
		if err := w.exec(ctx, "read-tree", "--empty"); err != nil {
			return fmt.Errorf("git read-tree --empty: %w", err)
		}
		return nil
	}

	if err := w.exec(ctx, "checkout", "--force", branch, "--"); err != nil {
		return fmt.Errorf("git checkout --force %s: %w", branch, err)
	}
	return nil
}

func (w *shellWorkspace) StatusMatrix(ctx context.Context) ([]StatusEntry, error) {
	out, err := w.capture(ctx, "status", "--porcelain=v1", "-z", "--untracked-files=all")
	if err != nil {
		return nil, fmt.Errorf("git status: %w", err)
	}
	return parsePorcelain(out), nil
}

// parsePorcelain decodes `git status --porcelain=v1 -z` output.
func parsePorcelain(out string) []StatusEntry {
	fields := strings.Split(out, "\x00")
	entries := make([]StatusEntry, 0, len(fields))

	for i := 0; i < len(fields); i++ {
		field := fields[i]
		if len(field) < 4 {
			continue
		}
		x, y, path := field[0], field[1], field[3:]
		if x == '!' {
			continue
		}
		entries = append(entries, entryFromCodes(path, x, y))

		// Renames and copies are followed by the source path.
		if x == 'R' || x == 'C' {
			i++
			if x == 'R' && i < len(fields) && fields[i] != "" {
				entries = append(entries, StatusEntry{Path: fields[i], Head: HeadPresent, Workdir: WorkdirAbsent, Stage: StageAbsent})
			}
		}
	}
	return entries
}

func (w *shellWorkspace) ListTrackedFiles(ctx context.Context) ([]string, error) {
	out, err := w.capture(ctx, "ls-files", "-z")
	if err != nil {
		return nil, fmt.Errorf("git ls-files: %w", err)
	}

	var files []string
	for _, name := range strings.Split(out, "\x00") {
		if name != "" {
			files = append(files, name)
		}
	}
	return files, nil
}

func (w *shellWorkspace) Unstage(ctx context.Context, paths ...string) error {
	for _, batch := range batches(paths) {
		args := append([]string{"--literal-pathspecs", "rm", "--cached", "--force", "--quiet", "--ignore-unmatch", "--"}, batch...)
		if err := w.exec(ctx, args...); err != nil {
			return fmt.Errorf("git rm --cached: %w", err)
		}
	}
	return nil
}

func (w *shellWorkspace) Stage(ctx context.Context, paths []string, opts StageOptions) error {
	for _, batch := range batches(paths) {
		args := []string{"--literal-pathspecs", "add"}
		if opts.Force {
			args = append(args, "--force")
		}
		args = append(args, "--")
		args = append(args, batch...)
		if err := w.exec(ctx, args...); err != nil {
			return fmt.Errorf("git add: %w", err)
		}
	}
	return nil
}

func (w *shellWorkspace) Commit(ctx context.Context, opts CommitOptions) (string, error) {
	if opts.Ref == "" {
		return "", fmt.Errorf("commit ref is required")
	}

	tree, err := w.capture(ctx, "write-tree")
	if err != nil {
		return "", fmt.Errorf("git write-tree: %w", err)
	}

	args := w.identityArgs(ctx)
	args = append(args, "commit-tree", strings.TrimSpace(tree), "-m", opts.Message)
	for _, parent := range opts.Parents {
		args = append(args, "-p", parent)
	}

	out, err := w.capture(ctx, args...)
	if err != nil {
		return "", fmt.Errorf("git commit-tree: %w", err)
	}
	commit := strings.TrimSpace(out)

	if err := w.exec(ctx, "update-ref", "-m", "publish", branchRef(opts.Ref), commit); err != nil {
		return "", fmt.Errorf("git update-ref %s: %w", opts.Ref, err)
	}
	return commit, nil
}

// identityArgs pins the commit identity. Fields the executor leaves empty come
// from git config, then from DefaultAuthorName and DefaultAuthorEmail.
func (w *shellWorkspace) identityArgs(ctx context.Context) []string {
	name := w.configured(ctx, w.executor.UserName, "user.name", DefaultAuthorName)
	email := w.configured(ctx, w.executor.UserEmail, "user.email", DefaultAuthorEmail)
	return []string{"-c", "user.name=" + name, "-c", "user.email=" + email}
}

func (w *shellWorkspace) configured(ctx context.Context, value, key, fallback string) string {
	if value != "" {
		return value
	}
	// git config exits 1 for an unset key.
	if out, err := w.capture(ctx, "config", "--get", key); err == nil && strings.TrimSpace(out) != "" {
		return strings.TrimSpace(out)
	}
	return fallback
}

func (w *shellWorkspace) Push(ctx context.Context, opts PushOptions) error {
	if opts.Ref == "" {
		return fmt.Errorf("push ref is required")
	}

	remote := opts.remote()
	target := remote

	if opts.Auth != nil {
		remoteURL, err := w.remoteURL(ctx, remote)
		if err != nil {
			return err
		}
		creds, err := opts.Auth(ctx, remoteURL)
		if err != nil {
			return fmt.Errorf("resolve credentials for %s: %w", remote, err)
		}
		if creds != nil {
			target, err = withCredentials(remoteURL, creds)
			if err != nil {
				return err
			}
		}
	}

	args, cleanup, err := transportArgs(opts.Transport)
	if err != nil {
		return err
	}
	defer cleanup()

	args = append(args, "push", target, opts.refSpec())
	if err := w.exec(ctx, args...); err != nil {
		return fmt.Errorf("git push %s %s: %w", remote, opts.Ref, err)
	}
	return nil
}

func (w *shellWorkspace) remoteURL(ctx context.Context, remote string) (string, error) {
	out, err := w.capture(ctx, "remote", "get-url", remote)
	if err != nil {
		if strings.Contains(remote, "://") {
			return remote, nil
		}
		return "", fmt.Errorf("git remote get-url %s: %w", remote, err)
	}
	return strings.TrimSpace(out), nil
}

// transportArgs converts transport settings into git -c overrides. The returned
// cleanup removes any temporary CA bundle.
func transportArgs(t *Transport) ([]string, func(), error) {
	noop := func() {}
	if t == nil {
		return nil, noop, nil
	}

	var args []string
	if t.InsecureSkipTLS {
		args = append(args, "-c", "http.sslVerify=false")
	}
	if t.ProxyURL != "" {
		args = append(args, "-c", "http.proxy="+t.ProxyURL)
	}
	if len(t.CABundle) == 0 {
		return args, noop, nil
	}

	file, err := os.CreateTemp("", "publish-ca-*.pem")
	if err != nil {
		return nil, noop, fmt.Errorf("create ca bundle: %w", err)
	}
	cleanup := func() {
		_ = os.Remove(file.Name())
	}
	if _, err := file.Write(t.CABundle); err != nil {
		_ = file.Close()
		cleanup()
		return nil, noop, fmt.Errorf("write ca bundle: %w", err)
	}
	if err := file.Close(); err != nil {
		cleanup()
		return nil, noop, fmt.Errorf("close ca bundle: %w", err)
	}
	args = append(args, "-c", "http.sslCAInfo="+file.Name())
	return args, cleanup, nil
}

func (w *shellWorkspace) refExists(ctx context.Context, ref string) (bool, error) {
	_, err := w.capture(ctx, "rev-parse", "--verify", "--quiet", ref+"^{commit}")
	if err == nil {
		return true, nil
	}
	if exitCode(err) == 1 {
		return false, nil
	}
	return false, fmt.Errorf("git rev-parse %s: %w", ref, err)
}

func batches(paths []string) [][]string {
	var out [][]string
	for len(paths) > 0 {
		n := pathspecBatch
		if len(paths) < n {
			n = len(paths)
		}
		out = append(out, paths[:n])
		paths = paths[n:]
	}
	return out
}

func (w *shellWorkspace) exec(ctx context.Context, args ...string) error {
	cmd := append([]string{"-C", w.path}, args...)
	return w.executor.runGit(ctx, cmd...)
}

func (w *shellWorkspace) capture(ctx context.Context, args ...string) (string, error) {
	cmd := append([]string{"-C", w.path}, args...)
	return w.executor.captureGitOutput(ctx, cmd...)
}

func (e *ShellExecutor) captureGitOutput(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, e.gitBinary(), args...)
	cmd.Env = gitEnv()
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", &GitError{Args: args, Output: stderr.String(), Err: err}
	}
	return stdout.String(), nil
}

func (e *ShellExecutor) runGit(ctx context.Context, args ...string) error {
	primary := primaryGitCommand(args)
	isNetwork := isNetworkCommand(primary)

	retries := 0
	if isNetwork {
		retries = e.networkRetriesValue()
	}

	delay := e.networkRetryDelayValue()
	var lastErr error

	for attempt := 0; attempt <= retries; attempt++ {
		attemptCtx, cancel := e.applyNetworkTimeout(ctx, isNetwork)
		err := e.runGitOnce(attemptCtx, args...)
		cancel()

		if err == nil {
			return nil
		}
		lastErr = err

		if !isNetwork {
			break
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			break
		}
		if attempt == retries {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		if delay < time.Second {
			delay = time.Second
		}
		delay *= 2
	}

	return lastErr
}

func (e *ShellExecutor) runGitOnce(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, e.gitBinary(), args...)
	cmd.Env = gitEnv()
	proc.SetGroup(cmd)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	if err := cmd.Start(); err != nil {
		return &GitError{Args: args, Output: output.String(), Err: err}
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	select {
	case <-ctx.Done():
		proc.KillGroup(cmd)
		<-done
		return ctx.Err()
	case err := <-done:
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return &GitError{Args: args, Output: output.String(), Err: err}
		}
	}

	return nil
}

func gitEnv() []string {
	return append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
}

func primaryGitCommand(args []string) string {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			if i+1 < len(args) {
				return args[i+1]
			}
			return ""
		}
		if strings.HasPrefix(arg, "-") {
			switch arg {
			case "-C", "--git-dir", "-c":
				i++
			}
			continue
		}
		return arg
	}
	return ""
}

func isNetworkCommand(cmd string) bool {
	switch cmd {
	case "clone", "fetch", "push", "pull", "ls-remote":
		return true
	default:
		return false
	}
}

func (e *ShellExecutor) networkRetriesValue() int {
	if e.NetworkRetries < 0 {
		return 0
	}
	if e.NetworkRetries == 0 {
		return 2
	}
	return e.NetworkRetries
}

func (e *ShellExecutor) networkRetryDelayValue() time.Duration {
	if e.NetworkRetryDelay <= 0 {
		return time.Second
	}
	return e.NetworkRetryDelay
}

func (e *ShellExecutor) networkTimeoutValue() time.Duration {
	if e.NetworkTimeout <= 0 {
		return 2 * time.Minute
	}
	return e.NetworkTimeout
}

func (e *ShellExecutor) applyNetworkTimeout(ctx context.Context, network bool) (context.Context, context.CancelFunc) {
	if !network {
		return ctx, func() {}
	}
	if deadline, ok := ctx.Deadline(); ok && !deadline.IsZero() {
		return ctx, func() {}
	}
	timeout := e.networkTimeoutValue()
	if timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}

// GitError wraps failures when invoking the git binary. Credentials embedded in
// arguments are redacted from the message.
type GitError struct {
	Args   []string
	Output string
	Err    error
}

func (e *GitError) Error() string {
	if e == nil {
		return ""
	}
	args := make([]string, len(e.Args))
	for i, arg := range e.Args {
		args[i] = redactURL(arg)
	}
	return fmt.Sprintf("git %s: %v\n%s", strings.Join(args, " "), e.Err, e.Output)
}

func (e *GitError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
