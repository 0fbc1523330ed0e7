//go:build !windows

package servermgr

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// killProcessGroup signals the whole process group so helper processes a
// language server may have forked (common for typescript-language-server
// and pylsp) are reaped along with the direct child, not just orphaned.
func killProcessGroup(cmd *exec.Cmd) {
	pid := cmd.Process.Pid
	if err := unix.Kill(-pid, syscall.SIGTERM); err != nil {
		_ = cmd.Process.Kill()
	}
}

// setProcessGroup is called before Start so the child becomes the leader
// of its own process group, making killProcessGroup's negative-pid signal
// meaningful.
func setProcessGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}
