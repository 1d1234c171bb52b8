package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/rancher/publish-branch-action/internal/app"
	"github.com/rancher/publish-branch-action/internal/paths"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, _ := newRootCmd()
	if err := cmd.ExecuteContext(ctx); err != nil {
		log.Printf("publish branch action failed: %v", err)
		stop()
		os.Exit(1)
	}
}

type flagValues struct {
	workingDirectory string
	targetBranch     string
	publishPaths     string
	generateCommand  string
	remote           string
	commitMessage    string
	gitBackend       string
	logFile          string
	push             bool
	dryRun           bool
	verbose          bool
}

func newRootCmd() (*cobra.Command, *flagValues) {
	fv := &flagValues{}

	cmd := &cobra.Command{
		Use:   "publish-branch-action",
		Short: "Publish generated files as a single orphan commit on a branch",
		Long: `Run a generate command, then publish the files under the given paths as the
entire tree of a new parentless commit on the target branch, optionally force
pushing it. The original branch and its files are always restored.

Inputs are read from INPUT_* environment variables (as set by GitHub Actions)
and an optional YAML file named by INPUT_CONFIG_FILE. Flags override both.`,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.LoadConfig(func(cfg *app.Config) {
				applyFlags(cmd.Flags(), cfg, *fv)
			})
			if err != nil {
				return err
			}

			runner, err := app.NewRunner(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = runner.Close() }()

			return runner.Run(cmd.Context())
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&fv.workingDirectory, "dir", "C", "", "directory inside the working tree to publish from")
	flags.StringVarP(&fv.targetBranch, "branch", "b", "", "branch that receives the published commit")
	flags.StringVarP(&fv.publishPaths, "paths", "p", "", "comma or newline separated path prefixes to publish")
	flags.StringVarP(&fv.generateCommand, "generate", "g", "", "shell command that produces the files to publish")
	flags.StringVar(&fv.remote, "remote", "", "remote to push to")
	flags.StringVarP(&fv.commitMessage, "message", "m", "", "commit message")
	flags.StringVar(&fv.gitBackend, "git-backend", "", "git backend: shell or go-git")
	flags.StringVar(&fv.logFile, "log-file", "", "also write logs to this rotating file")
	flags.BoolVar(&fv.push, "push", true, "force push the branch after committing")
	flags.BoolVar(&fv.dryRun, "dry-run", false, "generate and collect files without touching branches or remotes")
	flags.BoolVarP(&fv.verbose, "verbose", "v", false, "enable debug logging")

	return cmd, fv
}

// applyFlags copies explicitly set flags over cfg.
func applyFlags(flags *pflag.FlagSet, cfg *app.Config, fv flagValues) {
	if flags.Changed("dir") {
		cfg.WorkingDirectory = fv.workingDirectory
	}
	if flags.Changed("branch") {
		cfg.TargetBranch = fv.targetBranch
	}
	if flags.Changed("paths") {
		cfg.PublishPaths = paths.ParsePrefixes(fv.publishPaths)
	}
	if flags.Changed("generate") {
		cfg.GenerateCommand = fv.generateCommand
	}
	if flags.Changed("remote") {
		cfg.Remote = fv.remote
	}
	if flags.Changed("message") {
		cfg.CommitMessage = fv.commitMessage
	}
	if flags.Changed("git-backend") {
		cfg.GitBackend = fv.gitBackend
	}
	if flags.Changed("log-file") {
		cfg.LogFile = fv.logFile
	}
	if flags.Changed("push") {
		cfg.Push = fv.push
	}
	if flags.Changed("dry-run") {
		cfg.DryRun = fv.dryRun
	}
	if flags.Changed("verbose") {
		cfg.Verbose = fv.verbose
	}
}
