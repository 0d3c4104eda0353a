//go:build !windows

package process

import (
	"os/exec"
	"syscall"
)

// configureSysProcAttr places the child in its own process group so a
// cancelled context can take down anything it spawned.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		// negative pid signals the whole group
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
