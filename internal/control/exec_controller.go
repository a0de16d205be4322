package control

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	gopsproc "github.com/shirou/gopsutil/v4/process"

	"github.com/loykin/warden/internal/env"
	"github.com/loykin/warden/internal/logger"
)

const defaultStopGrace = 3 * time.Second

// ExecController is the real Controller: it launches service commands
// detached via os/exec and finds running instances by scanning the OS
// process table with gopsutil.
type ExecController struct {
	envM      *env.Env
	logCfg    logger.Config
	stopGrace time.Duration
	logger    *slog.Logger
}

func NewExecController(envM *env.Env, logCfg logger.Config, stopGrace time.Duration, lg *slog.Logger) *ExecController {
	if envM == nil {
		envM = env.New()
	}
	if stopGrace <= 0 {
		stopGrace = defaultStopGrace
	}
	if lg == nil {
		lg = slog.Default()
	}
	return &ExecController{envM: envM, logCfg: logCfg, stopGrace: stopGrace, logger: lg}
}

// Start launches spec's command detached. It returns once the process is
// spawned; health verification is the caller's job. Launch failures
// (missing workdir, missing executable, spawn error) come back as
// *StartError.
func (c *ExecController) Start(_ context.Context, spec Spec) error {
	if spec.WorkDir != "" {
		fi, err := os.Stat(spec.WorkDir)
		if err != nil {
			return &StartError{Name: spec.Name, Err: fmt.Errorf("working directory: %w", err)}
		}
		if !fi.IsDir() {
			return &StartError{Name: spec.Name, Err: fmt.Errorf("working directory %s is not a directory", spec.WorkDir)}
		}
	}

	cmd := spec.BuildCommand()
	if cmd.Err != nil {
		return &StartError{Name: spec.Name, Err: cmd.Err}
	}
	if spec.WorkDir != "" {
		cmd.Dir = spec.WorkDir
	}
	cmd.Env = c.envM.Merge(spec.Env)
	configureSysProcAttr(cmd)

	outW, errW, err := c.logCfg.ServiceWriters(spec.Name)
	if err != nil {
		c.logger.Warn("service log setup failed, discarding output", "service", spec.Name, "error", err)
	}
	// Nil writers stay nil: os/exec connects the child to the null
	// device itself and owns that descriptor, so launches without log
	// capture never accumulate open files in the daemon.
	cmd.Stdin = nil
	if outW != nil {
		cmd.Stdout = outW
	}
	if errW != nil {
		cmd.Stderr = errW
	}

	if err := cmd.Start(); err != nil {
		closeAll(outW, errW)
		return &StartError{Name: spec.Name, Err: err}
	}
	c.logger.Info("service launched", "service", spec.Name, "pid", cmd.Process.Pid)

	// Reap in the background so an exiting child never lingers as a
	// zombie; the supervisor learns about death through health probes.
	go func() {
		_ = cmd.Wait()
		closeAll(outW, errW)
	}()
	return nil
}

// Stop terminates every process matching spec.Match: SIGTERM first, then
// SIGKILL for anything still alive after the grace window. No matching
// process is success, so Stop is idempotent.
func (c *ExecController) Stop(ctx context.Context, spec Spec) error {
	procs, err := c.findMatching(ctx, spec.Match)
	if err != nil {
		return fmt.Errorf("stop %s: enumerate processes: %w", spec.Name, err)
	}
	if len(procs) == 0 {
		return nil
	}
	for _, p := range procs {
		c.logger.Info("terminating service process", "service", spec.Name, "pid", p.Pid)
		_ = p.TerminateWithContext(ctx)
	}

	deadline := time.Now().Add(c.stopGrace)
	for time.Now().Before(deadline) {
		if !anyRunning(ctx, procs) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}

	for _, p := range procs {
		if running, _ := p.IsRunningWithContext(ctx); running {
			c.logger.Warn("service did not exit in grace window, killing", "service", spec.Name, "pid", p.Pid)
			_ = p.KillWithContext(ctx)
		}
	}
	return nil
}

// Running reports whether any process matches spec.Match.
func (c *ExecController) Running(ctx context.Context, spec Spec) (bool, error) {
	procs, err := c.findMatching(ctx, spec.Match)
	if err != nil {
		return false, err
	}
	return len(procs) > 0, nil
}

func (c *ExecController) findMatching(ctx context.Context, m Match) ([]*gopsproc.Process, error) {
	if m.Empty() {
		return nil, nil
	}
	procs, err := gopsproc.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	self := int32(os.Getpid())
	var out []*gopsproc.Process
	for _, p := range procs {
		if p.Pid == self {
			continue
		}
		if m.Exe != "" {
			name, err := p.NameWithContext(ctx)
			if err != nil || name != m.Exe {
				continue
			}
		}
		if m.Cmdline != "" {
			cmdline, err := p.CmdlineWithContext(ctx)
			if err != nil || !strings.Contains(cmdline, m.Cmdline) {
				continue
			}
		}
		out = append(out, p)
	}
	return out, nil
}

func anyRunning(ctx context.Context, procs []*gopsproc.Process) bool {
	for _, p := range procs {
		if running, _ := p.IsRunningWithContext(ctx); running {
			return true
		}
	}
	return false
}

func closeAll(ws ...io.WriteCloser) {
	for _, w := range ws {
		if w != nil {
			_ = w.Close()
		}
	}
}
