//go:build !windows

package control

import (
	"os/exec"
	"syscall"
)

// configureSysProcAttr detaches the launched service on Unix-like
// systems: a new session (setsid) so the child has no controlling
// terminal and outlives the daemon cleanly.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
