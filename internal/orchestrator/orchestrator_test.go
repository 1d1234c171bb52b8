package orchestrator_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/rancher/publish-branch-action/internal/git"
	"github.com/rancher/publish-branch-action/internal/orchestrator"
)

var _ = Describe("Orchestrator", func() {
	var (
		ctx       context.Context
		cfg       orchestrator.Config
		root      string
		ws        *fakeWorkspace
		exec      *fakeExecutor
		generated []string
		req       orchestrator.Request
	)

	writeFiles := func(names ...string) {
		for _, name := range names {
			path := filepath.Join(root, filepath.FromSlash(name))
			Expect(os.MkdirAll(filepath.Dir(path), 0o755)).To(Succeed())
			Expect(os.WriteFile(path, []byte(name), 0o644)).To(Succeed())
		}
	}

	BeforeEach(func() {
		ctx = context.Background()
		cfg = orchestrator.Config{WalkConcurrency: 4}

		var err error
		root, err = os.MkdirTemp("", "publish-orchestrator-")
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(os.RemoveAll, root)

		ws = &fakeWorkspace{
			root:     root,
			branch:   "main",
			branches: []string{"main"},
			tracked:  []string{"README.md", "src/main.go"},
			status:   []git.StatusEntry{{Path: "README.md", Head: 1, Workdir: 1, Stage: 1}},
		}
		exec = &fakeExecutor{workspace: ws}

		generated = []string{"dist/x", "dist/y", "dist/sub/z"}
		writeFiles("a.txt")
		req = orchestrator.Request{
			Dir:          root,
			TargetBranch: "gh-pages",
			PublishPaths: []string{"dist"},
			Generate: func(context.Context) error {
				writeFiles(generated...)
				return nil
			},
		}
	})

	Describe("validation", func() {
		It("rejects a detached HEAD without mutating anything", func() {
			ws.detached = true
			called := false
			req.Generate = func(context.Context) error { called = true; return nil }

			_, err := orchestrator.New(cfg, exec, nil).Publish(ctx, req)
			Expect(err).To(MatchError(orchestrator.ErrDetachedHead))
			Expect(ws.mutations).To(BeEmpty())
			Expect(called).To(BeFalse())
		})

		It("rejects publishing to the current branch without mutating anything", func() {
			req.TargetBranch = "refs/heads/main"

			_, err := orchestrator.New(cfg, exec, nil).Publish(ctx, req)
			Expect(err).To(MatchError(orchestrator.ErrSameBranch))
			Expect(ws.mutations).To(BeEmpty())
		})

		It("rejects a modified tracked file", func() {
			ws.status = []git.StatusEntry{{Path: "README.md", Head: 1, Workdir: 2, Stage: 1}}

			_, err := orchestrator.New(cfg, exec, nil).Publish(ctx, req)
			Expect(err).To(MatchError(orchestrator.ErrDirtyRepository))
			Expect(ws.mutations).To(BeEmpty())
		})

		It("rejects untracked files", func() {
			ws.status = []git.StatusEntry{{Path: "scratch.txt", Head: 0, Workdir: 2, Stage: 0}}

			_, err := orchestrator.New(cfg, exec, nil).Publish(ctx, req)
			Expect(err).To(MatchError(orchestrator.ErrDirtyRepository))
		})

		It("propagates status failures unchanged", func() {
			statusErr := errors.New("index corrupt")
			ws.errs = map[string]error{"status": statusErr}

			_, err := orchestrator.New(cfg, exec, nil).Publish(ctx, req)
			Expect(errors.Is(err, statusErr)).To(BeTrue())
			Expect(ws.mutations).To(BeEmpty())
		})

		It("rejects incomplete requests before opening the working tree", func() {
			req.PublishPaths = []string{" ", ""}

			_, err := orchestrator.New(cfg, exec, nil).Publish(ctx, req)
			Expect(err).To(MatchError(orchestrator.ErrInvalidRequest))
			Expect(exec.opened).To(BeEmpty())
		})

		It("wraps open failures", func() {
			exec.err = git.ErrNotRepository

			_, err := orchestrator.New(cfg, exec, nil).Publish(ctx, req)
			Expect(err).To(MatchError(git.ErrNotRepository))
		})
	})

	Describe("publishing", func() {
		It("commits exactly the files under the publish path as an orphan", func() {
			result, err := orchestrator.New(cfg, exec, nil).Publish(ctx, req)
			Expect(err).NotTo(HaveOccurred())

			Expect(ws.mutations).To(Equal([]string{
				"create:gh-pages",
				"checkout:gh-pages:false",
				"unstage",
				"stage",
				"commit:gh-pages",
				"checkout:main:true",
			}))
			Expect(ws.unstaged).To(Equal([]string{"README.md", "src/main.go"}))
			Expect(ws.staged).To(Equal([]string{"dist/sub/z", "dist/x", "dist/y"}))
			Expect(ws.stageOpts.Force).To(BeTrue())
			Expect(ws.commits).To(HaveLen(1))
			Expect(ws.commits[0].Parents).To(BeEmpty())
			Expect(ws.commits[0].Message).To(Equal(orchestrator.DefaultCommitMessage))

			Expect(result.SourceBranch).To(Equal("main"))
			Expect(result.TargetBranch).To(Equal("gh-pages"))
			Expect(result.Commit).To(Equal("deadbeef"))
			Expect(result.Files).To(Equal([]string{"dist/sub/z", "dist/x", "dist/y"}))
			Expect(result.CreatedBranch).To(BeTrue())
			Expect(result.Pushed).To(BeFalse())
			Expect(result.Remote).To(Equal(orchestrator.DefaultRemote))
			Expect(ws.branch).To(Equal("main"))
		})

		It("selects files under any of several prefixes", func() {
			generated = []string{"dist/a", "docs/b", "src/c"}
			req.PublishPaths = []string{"dist", "docs"}

			result, err := orchestrator.New(cfg, exec, nil).Publish(ctx, req)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Files).To(Equal([]string{"dist/a", "docs/b"}))
		})

		It("never publishes the .git directory", func() {
			writeFiles(".git/HEAD", "dist/.git/config")
			generated = []string{".well-known/x", "dist/x"}
			req.PublishPaths = []string{".", "dist"}

			result, err := orchestrator.New(cfg, exec, nil).Publish(ctx, req)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Files).To(Equal([]string{".well-known/x", "dist/x"}))
		})

		It("reuses an existing target branch without recreating it", func() {
			ws.branches = []string{"main", "gh-pages"}

			result, err := orchestrator.New(cfg, exec, nil).Publish(ctx, req)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.CreatedBranch).To(BeFalse())
			Expect(ws.mutations[0]).To(Equal("checkout:gh-pages:false"))
			Expect(ws.commits[0].Parents).To(BeEmpty())
		})

		It("does not push without credentials", func() {
			req.Transport = &git.Transport{}

			result, err := orchestrator.New(cfg, exec, nil).Publish(ctx, req)
			Expect(err).NotTo(HaveOccurred())
			Expect(ws.pushes).To(BeEmpty())
			Expect(result.Pushed).To(BeFalse())
		})

		It("does not push without a transport", func() {
			req.Auth = git.TokenAuth("token")

			_, err := orchestrator.New(cfg, exec, nil).Publish(ctx, req)
			Expect(err).NotTo(HaveOccurred())
			Expect(ws.pushes).To(BeEmpty())
		})

		It("force pushes the target branch when credentials and transport are set", func() {
			req.Auth = git.TokenAuth("token")
			req.Transport = &git.Transport{}
			req.Remote = "upstream"

			result, err := orchestrator.New(cfg, exec, nil).Publish(ctx, req)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Pushed).To(BeTrue())
			Expect(ws.pushes).To(HaveLen(1))
			Expect(ws.pushes[0].Ref).To(Equal("gh-pages"))
			Expect(ws.pushes[0].RemoteRef).To(Equal("refs/heads/gh-pages"))
			Expect(ws.pushes[0].Remote).To(Equal("upstream"))
			Expect(ws.pushes[0].Force).To(BeTrue())
			Expect(ws.mutations[len(ws.mutations)-2:]).To(Equal([]string{"push:gh-pages", "checkout:main:true"}))
		})

		It("commits an empty tree when nothing matches", func() {
			req.PublishPaths = []string{"nothing-here/"}

			result, err := orchestrator.New(cfg, exec, nil).Publish(ctx, req)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Files).To(BeEmpty())
			Expect(ws.commits).To(HaveLen(1))
		})

		It("skips every mutation in dry run mode", func() {
			cfg.DryRun = true

			result, err := orchestrator.New(cfg, exec, nil).Publish(ctx, req)
			Expect(err).NotTo(HaveOccurred())
			Expect(ws.mutations).To(BeEmpty())
			Expect(result.DryRun).To(BeTrue())
			Expect(result.Commit).To(BeEmpty())
			Expect(result.Pushed).To(BeFalse())
			Expect(result.Files).To(Equal([]string{"dist/sub/z", "dist/x", "dist/y"}))
		})
	})

	Describe("restoration", func() {
		expectRestored := func() {
			Expect(ws.mutations[len(ws.mutations)-1]).To(Equal("checkout:main:true"))
			Expect(ws.branch).To(Equal("main"))
		}

		It("restores after a failing generate", func() {
			genErr := errors.New("build failed")
			req.Generate = func(context.Context) error { return genErr }

			result, err := orchestrator.New(cfg, exec, nil).Publish(ctx, req)
			var generationErr *orchestrator.GenerationError
			Expect(errors.As(err, &generationErr)).To(BeTrue())
			Expect(errors.Is(err, genErr)).To(BeTrue())
			Expect(result).To(Equal(orchestrator.Result{}))
			expectRestored()
		})

		It("restores after failing to switch branches", func() {
			ws.errs = map[string]error{"checkout:gh-pages": errors.New("locked")}

			_, err := orchestrator.New(cfg, exec, nil).Publish(ctx, req)
			Expect(err).To(MatchError(ContainSubstring("switch to gh-pages")))
			expectRestored()
		})

		DescribeTable("restores after backend failures while committing",
			func(call, op string) {
				backendErr := errors.New(call + " failed")
				ws.errs = map[string]error{call: backendErr}

				_, err := orchestrator.New(cfg, exec, nil).Publish(ctx, req)
				var commitErr *orchestrator.CommitError
				Expect(errors.As(err, &commitErr)).To(BeTrue())
				Expect(commitErr.Op).To(Equal(op))
				Expect(errors.Is(err, backendErr)).To(BeTrue())
				expectRestored()
			},
			Entry("listing tracked files", "tracked", "list tracked files"),
			Entry("unstaging", "unstage", "unstage"),
			Entry("staging", "stage", "stage"),
			Entry("committing", "commit", "commit"),
		)

		It("restores after a failing push and keeps the local commit", func() {
			pushErr := errors.New("rejected")
			ws.errs = map[string]error{"push": pushErr}
			req.Auth = git.TokenAuth("token")
			req.Transport = &git.Transport{}

			_, err := orchestrator.New(cfg, exec, nil).Publish(ctx, req)
			var pe *orchestrator.PushError
			Expect(errors.As(err, &pe)).To(BeTrue())
			Expect(pe.Commit).To(Equal("deadbeef"))
			Expect(errors.Is(err, pushErr)).To(BeTrue())
			Expect(ws.commits).To(HaveLen(1))
			expectRestored()
		})

		It("reports both the restoration failure and the original cause", func() {
			genErr := errors.New("build failed")
			restoreErr := errors.New("checkout failed")
			req.Generate = func(context.Context) error { return genErr }
			ws.errs = map[string]error{"checkout:main": restoreErr}

			_, err := orchestrator.New(cfg, exec, nil).Publish(ctx, req)
			var re *orchestrator.RestorationError
			Expect(errors.As(err, &re)).To(BeTrue())
			Expect(re.Branch).To(Equal("main"))
			Expect(errors.Is(err, restoreErr)).To(BeTrue())
			Expect(errors.Is(err, genErr)).To(BeTrue())

			var generationErr *orchestrator.GenerationError
			Expect(errors.As(err, &generationErr)).To(BeTrue())
		})

		It("reports a restoration failure after an otherwise successful publish", func() {
			restoreErr := errors.New("checkout failed")
			ws.errs = map[string]error{"checkout:main": restoreErr}

			result, err := orchestrator.New(cfg, exec, nil).Publish(ctx, req)
			var re *orchestrator.RestorationError
			Expect(errors.As(err, &re)).To(BeTrue())
			Expect(re.Cause).To(BeNil())
			Expect(result).To(Equal(orchestrator.Result{}))
		})

		It("restores before re-raising a panic from generate", func() {
			req.Generate = func(context.Context) error { panic("generator exploded") }

			Expect(func() {
				_, _ = orchestrator.New(cfg, exec, nil).Publish(ctx, req)
			}).To(PanicWith("generator exploded"))
			expectRestored()
		})

		It("restores with a live context when the caller cancels", func() {
			cancelCtx, cancel := context.WithCancel(ctx)
			req.Generate = func(context.Context) error {
				cancel()
				return context.Canceled
			}

			_, err := orchestrator.New(cfg, exec, nil).Publish(cancelCtx, req)
			Expect(errors.Is(err, context.Canceled)).To(BeTrue())
			Expect(ws.restoreCtxs).To(HaveLen(1))
			Expect(ws.restoreCtxs[0].Err()).NotTo(HaveOccurred())
			expectRestored()
		})
	})
})

var _ = Describe("IsClean", func() {
	It("is idempotent", func() {
		ws := &fakeWorkspace{status: []git.StatusEntry{
			{Path: "a", Head: 1, Workdir: 1, Stage: 1},
			{Path: "b", Head: 1, Workdir: 2, Stage: 2},
		}}

		first, err := orchestrator.IsClean(context.Background(), ws)
		Expect(err).NotTo(HaveOccurred())
		second, err := orchestrator.IsClean(context.Background(), ws)
		Expect(err).NotTo(HaveOccurred())
		Expect(first).To(BeFalse())
		Expect(second).To(Equal(first))
		Expect(ws.statusCalls).To(Equal(2))
	})

	It("treats fully committed and fully absent entries as clean", func() {
		ws := &fakeWorkspace{status: []git.StatusEntry{
			{Path: "a", Head: 1, Workdir: 1, Stage: 1},
			{Path: "b", Head: 0, Workdir: 0, Stage: 0},
		}}

		clean, err := orchestrator.IsClean(context.Background(), ws)
		Expect(err).NotTo(HaveOccurred())
		Expect(clean).To(BeTrue())
	})
})

var _ = Describe("Request", func() {
	It("applies defaults and normalises the target branch", func() {
		req := orchestrator.Request{
			Dir:          ".",
			TargetBranch: " refs/heads/gh-pages ",
			PublishPaths: []string{" dist/ ", ""},
			Generate:     func(context.Context) error { return nil },
		}

		Expect(req.Validate()).To(Succeed())
		Expect(req.TargetBranch).To(Equal("gh-pages"))
		Expect(req.PublishPaths).To(Equal([]string{"dist/"}))
		Expect(req.Remote).To(Equal("origin"))
		Expect(req.CommitMessage).To(Equal("Published"))
	})

	DescribeTable("rejects invalid requests",
		func(mutate func(*orchestrator.Request)) {
			req := orchestrator.Request{
				Dir:          ".",
				TargetBranch: "gh-pages",
				PublishPaths: []string{"dist"},
				Generate:     func(context.Context) error { return nil },
			}
			mutate(&req)
			Expect(req.Validate()).To(MatchError(orchestrator.ErrInvalidRequest))
		},
		Entry("missing directory", func(r *orchestrator.Request) { r.Dir = "" }),
		Entry("missing target", func(r *orchestrator.Request) { r.TargetBranch = "refs/heads/" }),
		Entry("malformed target", func(r *orchestrator.Request) { r.TargetBranch = "gh..pages" }),
		Entry("missing publish paths", func(r *orchestrator.Request) { r.PublishPaths = nil }),
		Entry("missing generate", func(r *orchestrator.Request) { r.Generate = nil }),
	)
})

var _ = Describe("PathEscapeError", func() {
	It("names the offending path and root", func() {
		err := error(&orchestrator.PathEscapeError{Path: "/tmp/other/file", Root: "/tmp/repo"})
		Expect(err).To(MatchError("path /tmp/other/file escapes working tree /tmp/repo"))
	})
})
