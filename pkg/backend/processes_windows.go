//go:build windows

package backend

import (
	"os"
	"os/exec"
)

func setProcessGroup(*exec.Cmd) {}

func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}

func terminatingSignal(state *os.ProcessState) (string, bool) {
	if state == nil || state.ExitCode() != -1 {
		return "", false
	}
	return "unknown", true
}
