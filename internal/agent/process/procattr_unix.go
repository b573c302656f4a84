//go:build unix && !linux

package process

import (
	"os/exec"
	"syscall"
)

// setProcGroup runs the agent in its own process group.
// Pdeathsig is Linux-specific; elsewhere orphan cleanup relies on Stop.
func setProcGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killProcessGroup kills the entire process group for the given PID.
func killProcessGroup(pid int) error {
	return syscall.Kill(-pid, syscall.SIGKILL)
}
