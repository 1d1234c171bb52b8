// Package generate runs the user supplied command that produces the artifacts
// to publish.
package generate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/rancher/publish-branch-action/internal/proc"
)

// DefaultShell interprets scripts when Command.Shell is empty.
const DefaultShell = "sh"

// Command runs Script through Shell with "-c" inside Dir.
type Command struct {
	Script string
	Shell  string
	Dir    string
	// Env entries are appended to the current process environment.
	Env []string
	// Stdout and Stderr default to the process streams.
	Stdout io.Writer
	Stderr io.Writer
}

// Run executes the script and waits for it. An empty script does nothing. When
// ctx is done the whole process group is killed and ctx.Err() returned.
func (c Command) Run(ctx context.Context) error {
	if strings.TrimSpace(c.Script) == "" {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	shell := c.Shell
	if shell == "" {
		shell = DefaultShell
	}

	cmd := exec.Command(shell, "-c", c.Script)
	cmd.Dir = c.Dir
	cmd.Env = append(os.Environ(), c.Env...)
	cmd.Stdout = c.Stdout
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	cmd.Stderr = c.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	proc.SetGroup(cmd)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", shell, err)
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
			return &ExitError{Script: c.Script, Code: exitCode(err), Err: err}
		}
	}
	return nil
}

// ExitError reports a script that exited unsuccessfully. Code is -1 when the
// process did not exit normally.
type ExitError struct {
	Script string
	Code   int
	Err    error
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("generate command %q exited with code %d: %v", e.Script, e.Code, e.Err)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
