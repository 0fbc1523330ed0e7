//go:build windows

package servermgr

import "os/exec"

// killProcessGroup has no process-group equivalent wired on Windows;
// killing the direct child is the best available behavior.
func killProcessGroup(cmd *exec.Cmd) {
	_ = cmd.Process.Kill()
}

func setProcessGroup(cmd *exec.Cmd) {}
