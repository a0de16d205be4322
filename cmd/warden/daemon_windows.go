//go:build windows

package main

import (
	"os"
	"os/exec"
	"syscall"
)

const (
	createNewProcessGroup = 0x00000200
	createNoWindow        = 0x08000000
)

func configureDaemonAttrs(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: createNewProcessGroup | createNoWindow,
	}
}

// Detached background mode relies on Unix sessions; on Windows run the
// supervisor under a service manager instead.
func isDaemonSupported() bool {
	return false
}

// signalStop terminates the daemon. Windows has no SIGTERM delivery for
// unrelated processes, so the state flush on shutdown is skipped; the
// snapshot written after the last tick is still intact.
func signalStop(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Kill()
}
