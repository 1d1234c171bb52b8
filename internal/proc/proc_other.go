//go:build !unix

package proc

import "os/exec"

func SetGroup(cmd *exec.Cmd) {}

func KillGroup(cmd *exec.Cmd) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	_ = cmd.Process.Kill()
}
