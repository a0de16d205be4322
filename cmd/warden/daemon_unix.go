//go:build !windows

package main

import (
	"os"
	"os/exec"
	"syscall"
)

// configureDaemonAttrs detaches the child into its own session so it
// survives the terminal closing.
func configureDaemonAttrs(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}
}

func isDaemonSupported() bool {
	return true
}

// signalStop asks the daemon to shut down gracefully.
func signalStop(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Signal(syscall.SIGTERM)
}
