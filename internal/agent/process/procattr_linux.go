//go:build linux

package process

import (
	"os/exec"
	"syscall"
)

// setProcGroup runs the agent in its own process group so Stop can kill its
// children too. Pdeathsig takes the agent down if the bridge dies without
// calling Stop.
func setProcGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGTERM,
	}
}

// killProcessGroup kills the entire process group for the given PID.
func killProcessGroup(pid int) error {
	return syscall.Kill(-pid, syscall.SIGKILL)
}
