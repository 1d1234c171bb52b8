package orchestrator_test

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/rancher/publish-branch-action/internal/git"
	"github.com/rancher/publish-branch-action/internal/orchestrator"
)

func runGit(dir string, args ...string) string {
	GinkgoHelper()
	cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	out, err := cmd.CombinedOutput()
	Expect(err).NotTo(HaveOccurred(), "git %s: %s", strings.Join(args, " "), out)
	return strings.TrimSpace(string(out))
}

func writeRepoFile(root, name, contents string) {
	GinkgoHelper()
	path := filepath.Join(root, filepath.FromSlash(name))
	Expect(os.MkdirAll(filepath.Dir(path), 0o755)).To(Succeed())
	Expect(os.WriteFile(path, []byte(contents), 0o644)).To(Succeed())
}

func newRepo() string {
	GinkgoHelper()
	dir, err := os.MkdirTemp("", "publish-repo-")
	Expect(err).NotTo(HaveOccurred())
	DeferCleanup(os.RemoveAll, dir)

	runGit(dir, "init", "--quiet")
	runGit(dir, "symbolic-ref", "HEAD", "refs/heads/main")
	runGit(dir, "config", "user.name", "Test User")
	runGit(dir, "config", "user.email", "test@example.com")
	runGit(dir, "config", "commit.gpgsign", "false")
	writeRepoFile(dir, "a.txt", "source\n")
	writeRepoFile(dir, "src/app.go", "package app\n")
	writeRepoFile(dir, ".gitignore", "dist/\n")
	runGit(dir, "add", ".")
	runGit(dir, "commit", "--quiet", "-m", "initial")
	return dir
}

func treeFiles(dir, ref string) []string {
	GinkgoHelper()
	out := runGit(dir, "ls-tree", "-r", "--name-only", ref)
	if out == "" {
		return nil
	}
	return strings.Split(out, "\n")
}

func generator(root string, files ...string) orchestrator.GenerateFunc {
	return func(context.Context) error {
		for _, name := range files {
			writeRepoFile(root, name, "generated "+name+"\n")
		}
		return nil
	}
}

var _ = Describe("Publishing to a real repository", func() {
	backends := map[string]func() git.Executor{
		"shell": func() git.Executor {
			return &git.ShellExecutor{UserName: "Publish Bot", UserEmail: "bot@example.com"}
		},
		"go-git": func() git.Executor {
			return &git.GoGitExecutor{UserName: "Publish Bot", UserEmail: "bot@example.com"}
		},
	}

	for name, newExecutor := range backends {
		Context("with the "+name+" backend", func() {
			var (
				ctx  context.Context
				dir  string
				orch *orchestrator.Orchestrator
			)

			BeforeEach(func() {
				ctx = context.Background()
				dir = newRepo()
				orch = orchestrator.New(orchestrator.Config{}, newExecutor(), nil)
			})

			expectSourceRestored := func() {
				GinkgoHelper()
				Expect(runGit(dir, "symbolic-ref", "--short", "HEAD")).To(Equal("main"))
				Expect(runGit(dir, "status", "--porcelain", "--untracked-files=no")).To(BeEmpty())
				content, err := os.ReadFile(filepath.Join(dir, "a.txt"))
				Expect(err).NotTo(HaveOccurred())
				Expect(string(content)).To(Equal("source\n"))
			}

			It("publishes exactly the generated subtree as a parentless commit", func() {
				result, err := orch.Publish(ctx, orchestrator.Request{
					Dir:          dir,
					TargetBranch: "gh-pages",
					PublishPaths: []string{"dist"},
					Generate:     generator(dir, "dist/x", "dist/y", "dist/sub/z"),
				})
				Expect(err).NotTo(HaveOccurred())

				Expect(result.Commit).To(Equal(runGit(dir, "rev-parse", "refs/heads/gh-pages")))
				Expect(runGit(dir, "rev-list", "--count", "gh-pages")).To(Equal("1"))
				Expect(treeFiles(dir, "gh-pages")).To(ConsistOf("dist/x", "dist/y", "dist/sub/z"))
				Expect(runGit(dir, "log", "-1", "--format=%s", "gh-pages")).To(Equal("Published"))
				expectSourceRestored()
			})

			It("publishes files under every prefix and nothing else", func() {
				_, err := orch.Publish(ctx, orchestrator.Request{
					Dir:          dir,
					TargetBranch: "site",
					PublishPaths: []string{"dist", "docs"},
					Generate:     generator(dir, "dist/a", "docs/b", "out/c"),
				})
				Expect(err).NotTo(HaveOccurred())
				Expect(treeFiles(dir, "site")).To(ConsistOf("dist/a", "docs/b"))
			})

			It("replaces an existing branch with history by a single orphan commit", func() {
				runGit(dir, "checkout", "--quiet", "-b", "gh-pages")
				writeRepoFile(dir, "old.txt", "old\n")
				runGit(dir, "add", "old.txt")
				runGit(dir, "commit", "--quiet", "-m", "old publish")
				runGit(dir, "checkout", "--quiet", "main")

				result, err := orch.Publish(ctx, orchestrator.Request{
					Dir:           dir,
					TargetBranch:  "gh-pages",
					PublishPaths:  []string{"dist/"},
					CommitMessage: "Deploy",
					Generate:      generator(dir, "dist/index.html"),
				})
				Expect(err).NotTo(HaveOccurred())
				Expect(result.CreatedBranch).To(BeFalse())
				Expect(runGit(dir, "rev-list", "--count", "gh-pages")).To(Equal("1"))
				Expect(treeFiles(dir, "gh-pages")).To(ConsistOf("dist/index.html"))
				Expect(runGit(dir, "log", "-1", "--format=%s", "gh-pages")).To(Equal("Deploy"))
				expectSourceRestored()
			})

			It("overwrites the previous publish on re-publish", func() {
				first, err := orch.Publish(ctx, orchestrator.Request{
					Dir: dir, TargetBranch: "gh-pages", PublishPaths: []string{"dist"},
					Generate: generator(dir, "dist/first"),
				})
				Expect(err).NotTo(HaveOccurred())

				second, err := orch.Publish(ctx, orchestrator.Request{
					Dir: dir, TargetBranch: "gh-pages", PublishPaths: []string{"dist"},
					Generate: generator(dir, "dist/second"),
				})
				Expect(err).NotTo(HaveOccurred())

				Expect(second.Commit).NotTo(Equal(first.Commit))
				Expect(runGit(dir, "rev-list", "--count", "gh-pages")).To(Equal("1"))
				Expect(treeFiles(dir, "gh-pages")).To(ConsistOf("dist/second"))
				expectSourceRestored()
			})

			It("rejects a dirty working tree without touching it", func() {
				writeRepoFile(dir, "a.txt", "edited\n")

				_, err := orch.Publish(ctx, orchestrator.Request{
					Dir: dir, TargetBranch: "gh-pages", PublishPaths: []string{"dist"},
					Generate: generator(dir, "dist/x"),
				})
				Expect(err).To(MatchError(orchestrator.ErrDirtyRepository))
				Expect(runGit(dir, "branch", "--list", "gh-pages")).To(BeEmpty())
				content, readErr := os.ReadFile(filepath.Join(dir, "a.txt"))
				Expect(readErr).NotTo(HaveOccurred())
				Expect(string(content)).To(Equal("edited\n"))
			})

			It("rejects a detached HEAD", func() {
				runGit(dir, "checkout", "--quiet", "--detach", "HEAD")

				_, err := orch.Publish(ctx, orchestrator.Request{
					Dir: dir, TargetBranch: "gh-pages", PublishPaths: []string{"dist"},
					Generate: generator(dir, "dist/x"),
				})
				Expect(err).To(MatchError(orchestrator.ErrDetachedHead))
			})

			It("restores the source branch when generate fails", func() {
				_, err := orch.Publish(ctx, orchestrator.Request{
					Dir: dir, TargetBranch: "gh-pages", PublishPaths: []string{"dist"},
					Generate: func(context.Context) error {
						writeRepoFile(dir, "a.txt", "clobbered by the build\n")
						return errors.New("build failed")
					},
				})
				var generationErr *orchestrator.GenerationError
				Expect(errors.As(err, &generationErr)).To(BeTrue())
				expectSourceRestored()
			})
		})
	}

	It("force pushes the orphan commit when credentials and transport are given", func() {
		ctx := context.Background()
		dir := newRepo()
		remote, err := os.MkdirTemp("", "publish-remote-")
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(os.RemoveAll, remote)
		runGit(remote, "init", "--quiet", "--bare")
		runGit(dir, "remote", "add", "origin", remote)

		// Seed the remote branch with unrelated history that the publish discards.
		runGit(dir, "push", "--quiet", "origin", "main:refs/heads/gh-pages")

		orch := orchestrator.New(orchestrator.Config{}, &git.ShellExecutor{UserName: "Publish Bot", UserEmail: "bot@example.com"}, nil)
		result, err := orch.Publish(ctx, orchestrator.Request{
			Dir:          dir,
			TargetBranch: "gh-pages",
			PublishPaths: []string{"dist"},
			Generate:     generator(dir, "dist/index.html"),
			Auth:         git.TokenAuth("token"),
			Transport:    &git.Transport{},
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Pushed).To(BeTrue())
		Expect(runGit(remote, "rev-parse", "refs/heads/gh-pages")).To(Equal(result.Commit))
	})

	It("leaves the remote alone when no credentials are given", func() {
		ctx := context.Background()
		dir := newRepo()
		runGit(dir, "remote", "add", "origin", "https://invalid.example.invalid/repo.git")

		orch := orchestrator.New(orchestrator.Config{}, &git.GoGitExecutor{}, nil)
		result, err := orch.Publish(ctx, orchestrator.Request{
			Dir:          dir,
			TargetBranch: "gh-pages",
			PublishPaths: []string{"dist"},
			Generate:     generator(dir, "dist/index.html"),
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Pushed).To(BeFalse())
		Expect(result.Commit).NotTo(BeEmpty())
	})
})
