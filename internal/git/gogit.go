package git

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
	"github.com/go-git/go-git/v5/plumbing/format/index"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
)

// GoGitExecutor operates on working trees in-process with go-git. It needs no git
// binary, which makes it suitable for minimal containers.
type GoGitExecutor struct {
	// UserName and UserEmail set the identity recorded on publish commits. When
	// empty the repository's local and global git configuration apply.
	UserName  string
	UserEmail string
}

// NewGoGitExecutor returns an Executor backed by go-git.
func NewGoGitExecutor() *GoGitExecutor {
	return &GoGitExecutor{}
}

func (e *GoGitExecutor) Open(ctx context.Context, dir string) (Workspace, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("working tree directory is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	repo, err := gogit.PlainOpenWithOptions(dir, &gogit.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, gogit.ErrRepositoryNotExists) {
			return nil, fmt.Errorf("%w: %s", ErrNotRepository, dir)
		}
		return nil, fmt.Errorf("open repository: %w", err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		if errors.Is(err, gogit.ErrIsBareRepository) {
			return nil, fmt.Errorf("%w: %s is bare", ErrNotRepository, dir)
		}
		return nil, fmt.Errorf("open worktree: %w", err)
	}

	return &goGitWorkspace{executor: e, repo: repo, wt: wt, fs: wt.Filesystem}, nil
}

type goGitWorkspace struct {
	executor *GoGitExecutor
	repo     *gogit.Repository
	wt       *gogit.Worktree
	fs       billy.Filesystem
}

func (w *goGitWorkspace) Root() string {
	return w.fs.Root()
}

func (w *goGitWorkspace) CurrentBranch(ctx context.Context) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	head, err := w.repo.Storer.Reference(plumbing.HEAD)
	if err != nil {
		return "", false, fmt.Errorf("read HEAD: %w", err)
	}
	if head.Type() != plumbing.SymbolicReference || !head.Target().IsBranch() {
		return "", false, nil
	}
	return head.Target().Short(), true, nil
}

func (w *goGitWorkspace) ListBranches(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	iter, err := w.repo.Branches()
	if err != nil {
		return nil, fmt.Errorf("list branches: %w", err)
	}
	defer iter.Close()

	var branches []string
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		branches = append(branches, ref.Name().Short())
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterate branches: %w", err)
	}
	return branches, nil
}

func (w *goGitWorkspace) CreateBranch(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	head, err := w.repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			// Unborn HEAD; the first commit on the branch creates it.
			return nil
		}
		return fmt.Errorf("resolve HEAD: %w", err)
	}

	ref := plumbing.NewHashReference(plumbing.NewBranchReferenceName(name), head.Hash())
	if err := w.repo.Storer.SetReference(ref); err != nil {
		return fmt.Errorf("create branch %s: %w", name, err)
	}
	return nil
}

func (w *goGitWorkspace) Checkout(ctx context.Context, branch string, opts CheckoutOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	name := plumbing.NewBranchReferenceName(branch)
	if !opts.MutateFiles {
		return w.pointHEAD(name)
	}

	ref, err := w.repo.Reference(name, true)
	if err != nil {
		if !errors.Is(err, plumbing.ErrReferenceNotFound) {
			return fmt.Errorf("resolve %s: %w", branch, err)
		}
		if err := w.pointHEAD(name); err != nil {
			return err
		}
		if err := w.repo.Storer.SetIndex(&index.Index{Version: 2}); err != nil {
			return fmt.Errorf("reset index: %w", err)
		}
		return nil
	}

	return w.forceCheckout(name, ref.Hash())
}

func (w *goGitWorkspace) pointHEAD(name plumbing.ReferenceName) error {
	if err := w.repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, name)); err != nil {
		return fmt.Errorf("point HEAD at %s: %w", name.Short(), err)
	}
	return nil
}

// forceCheckout makes the index and tracked files match the commit. Files tracked
// by the current index but absent from the commit are removed; untracked files
// are left alone.
func (w *goGitWorkspace) forceCheckout(name plumbing.ReferenceName, hash plumbing.Hash) error {
	commit, err := w.repo.CommitObject(hash)
	if err != nil {
		return fmt.Errorf("read commit %s: %w", hash, err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return fmt.Errorf("read tree of %s: %w", hash, err)
	}

	idx, err := w.repo.Storer.Index()
	if err != nil {
		return fmt.Errorf("read index: %w", err)
	}
	for _, entry := range idx.Entries {
		_, err := tree.File(entry.Name)
		if err == nil {
			continue
		}
		if !isMissingFile(err) {
			return fmt.Errorf("look up %s: %w", entry.Name, err)
		}
		if err := w.removeFile(entry.Name); err != nil {
			return err
		}
	}

	err = tree.Files().ForEach(func(f *object.File) error {
		return w.writeFile(f)
	})
	if err != nil {
		return err
	}

	if err := w.pointHEAD(name); err != nil {
		return err
	}
	if err := w.wt.Reset(&gogit.ResetOptions{Commit: hash, Mode: gogit.MixedReset}); err != nil {
		return fmt.Errorf("reset index to %s: %w", name.Short(), err)
	}
	return nil
}

func isMissingFile(err error) bool {
	return errors.Is(err, object.ErrFileNotFound) ||
		errors.Is(err, object.ErrDirectoryNotFound) ||
		errors.Is(err, object.ErrEntryNotFound)
}

func (w *goGitWorkspace) removeFile(name string) error {
	if err := w.fs.Remove(name); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %s: %w", name, err)
	}
	for dir := path.Dir(name); dir != "." && dir != "/"; dir = path.Dir(dir) {
		entries, err := w.fs.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			break
		}
		if err := w.fs.Remove(dir); err != nil {
			break
		}
	}
	return nil
}

func (w *goGitWorkspace) writeFile(f *object.File) error {
	if f.Mode == filemode.Submodule {
		return nil
	}
	if dir := path.Dir(f.Name); dir != "." {
		if err := w.fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	if f.Mode == filemode.Symlink {
		target, err := f.Contents()
		if err != nil {
			return fmt.Errorf("read link %s: %w", f.Name, err)
		}
		if current, err := w.fs.Readlink(f.Name); err == nil && current == target {
			return nil
		}
		_ = w.fs.Remove(f.Name)
		if err := w.fs.Symlink(target, f.Name); err != nil {
			return fmt.Errorf("write link %s: %w", f.Name, err)
		}
		return nil
	}

	if data, err := util.ReadFile(w.fs, f.Name); err == nil && plumbing.ComputeHash(plumbing.BlobObject, data) == f.Hash {
		return nil
	}

	perm := os.FileMode(0o644)
	if f.Mode == filemode.Executable {
		perm = 0o755
	}

	r, err := f.Reader()
	if err != nil {
		return fmt.Errorf("read blob %s: %w", f.Name, err)
	}
	defer r.Close()

	out, err := w.fs.OpenFile(f.Name, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return fmt.Errorf("open %s: %w", f.Name, err)
	}
	if _, err := io.Copy(out, r); err != nil {
		_ = out.Close()
		return fmt.Errorf("write %s: %w", f.Name, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close %s: %w", f.Name, err)
	}
	return nil
}

func (w *goGitWorkspace) StatusMatrix(ctx context.Context) ([]StatusEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	status, err := w.wt.Status()
	if err != nil {
		return nil, fmt.Errorf("worktree status: %w", err)
	}

	entries := make([]StatusEntry, 0, len(status))
	for name, fs := range status {
		if fs.Staging == gogit.Unmodified && fs.Worktree == gogit.Unmodified {
			continue
		}
		entries = append(entries, entryFromCodes(name, byte(fs.Staging), byte(fs.Worktree)))
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

func (w *goGitWorkspace) ListTrackedFiles(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	idx, err := w.repo.Storer.Index()
	if err != nil {
		return nil, fmt.Errorf("read index: %w", err)
	}
	files := make([]string, 0, len(idx.Entries))
	for _, entry := range idx.Entries {
		files = append(files, entry.Name)
	}
	return files, nil
}

func (w *goGitWorkspace) Unstage(ctx context.Context, paths ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(paths) == 0 {
		return nil
	}
	idx, err := w.repo.Storer.Index()
	if err != nil {
		return fmt.Errorf("read index: %w", err)
	}
	for _, p := range paths {
		if _, err := idx.Remove(p); err != nil && !errors.Is(err, index.ErrEntryNotFound) {
			return fmt.Errorf("unstage %s: %w", p, err)
		}
	}
	if err := w.repo.Storer.SetIndex(idx); err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	return nil
}

func (w *goGitWorkspace) Stage(ctx context.Context, paths []string, opts StageOptions) error {
	var ignored gitignore.Matcher
	if !opts.Force {
		patterns, err := gitignore.ReadPatterns(w.fs, nil)
		if err != nil {
			return fmt.Errorf("read ignore patterns: %w", err)
		}
		ignored = gitignore.NewMatcher(append(patterns, w.wt.Excludes...))
	}

	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}
		if ignored != nil && ignored.Match(strings.Split(p, "/"), false) {
			continue
		}
		if err := w.wt.AddWithOptions(&gogit.AddOptions{Path: p, SkipStatus: true}); err != nil {
			return fmt.Errorf("stage %s: %w", p, err)
		}
	}
	return nil
}

func (w *goGitWorkspace) Commit(ctx context.Context, opts CommitOptions) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if opts.Ref == "" {
		return "", fmt.Errorf("commit ref is required")
	}

	name := plumbing.NewBranchReferenceName(opts.Ref)
	head, err := w.repo.Storer.Reference(plumbing.HEAD)
	if err != nil {
		return "", fmt.Errorf("read HEAD: %w", err)
	}
	if head.Type() != plumbing.SymbolicReference || head.Target() != name {
		return "", fmt.Errorf("commit ref %s is not checked out", opts.Ref)
	}

	sig := w.signature()
	parents := make([]plumbing.Hash, 0, len(opts.Parents))
	for _, p := range opts.Parents {
		parents = append(parents, plumbing.NewHash(p))
	}

	// go-git defaults empty parents to HEAD, so an orphan commit is made against
	// an unborn branch and the previous tip restored if the commit fails.
	var previous *plumbing.Reference
	if len(parents) == 0 {
		previous, err = w.repo.Storer.Reference(name)
		switch {
		case err == nil:
			if err := w.repo.Storer.RemoveReference(name); err != nil {
				return "", fmt.Errorf("detach %s: %w", opts.Ref, err)
			}
		case errors.Is(err, plumbing.ErrReferenceNotFound):
			previous = nil
		default:
			return "", fmt.Errorf("read %s: %w", opts.Ref, err)
		}
	}

	hash, err := w.wt.Commit(opts.Message, &gogit.CommitOptions{
		Author:            sig,
		Committer:         sig,
		Parents:           parents,
		AllowEmptyCommits: true,
	})
	if err != nil {
		if previous != nil {
			_ = w.repo.Storer.SetReference(previous)
		}
		return "", fmt.Errorf("commit: %w", err)
	}
	return hash.String(), nil
}

func (w *goGitWorkspace) signature() *object.Signature {
	name, email := w.executor.UserName, w.executor.UserEmail
	if name == "" || email == "" {
		if cfg, err := w.repo.ConfigScoped(config.GlobalScope); err == nil {
			if name == "" {
				name = cfg.User.Name
			}
			if email == "" {
				email = cfg.User.Email
			}
		}
	}
	if name == "" {
		name = DefaultAuthorName
	}
	if email == "" {
		email = DefaultAuthorEmail
	}
	return &object.Signature{Name: name, Email: email, When: time.Now()}
}

func (w *goGitWorkspace) Push(ctx context.Context, opts PushOptions) error {
	if opts.Ref == "" {
		return fmt.Errorf("push ref is required")
	}

	remoteName := opts.remote()
	remote, err := w.repo.Remote(remoteName)
	if err != nil {
		return fmt.Errorf("remote %s: %w", remoteName, err)
	}

	po := &gogit.PushOptions{
		RemoteName: remoteName,
		RefSpecs:   []config.RefSpec{config.RefSpec(opts.refSpec())},
		Force:      opts.Force,
	}

	if opts.Auth != nil {
		var remoteURL string
		if urls := remote.Config().URLs; len(urls) > 0 {
			remoteURL = urls[0]
		}
		creds, err := opts.Auth(ctx, remoteURL)
		if err != nil {
			return fmt.Errorf("resolve credentials for %s: %w", remoteName, err)
		}
		if creds != nil && isHTTPRemote(remoteURL) {
			po.Auth = &githttp.BasicAuth{Username: creds.Username, Password: creds.Password}
		}
	}

	if t := opts.Transport; t != nil {
		po.InsecureSkipTLS = t.InsecureSkipTLS
		po.CABundle = t.CABundle
		if t.ProxyURL != "" {
			po.ProxyOptions = transport.ProxyOptions{URL: t.ProxyURL}
		}
	}

	if err := w.repo.PushContext(ctx, po); err != nil && !errors.Is(err, gogit.NoErrAlreadyUpToDate) {
		return fmt.Errorf("push %s to %s: %w", opts.Ref, remoteName, err)
	}
	return nil
}
