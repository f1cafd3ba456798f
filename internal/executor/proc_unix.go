//go:build unix

package executor

import (
	"os/exec"
	"syscall"
)

// setProcessGroup makes cancellation kill the whole process tree started
// by the shell, not only the shell itself.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
