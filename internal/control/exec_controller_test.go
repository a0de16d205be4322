package control

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/loykin/warden/internal/env"
	"github.com/loykin/warden/internal/logger"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tests require sh/sleep on Unix-like systems")
	}
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(50 * time.Millisecond)
	}
	return cond()
}

func TestStartAndStopByCmdlineMatch(t *testing.T) {
	requireUnix(t)
	ctrl := NewExecController(env.New(), logger.Config{}, time.Second, nil)
	marker := fmt.Sprintf("warden-test-%d", os.Getpid())
	spec := Spec{
		Name:      "sleeper",
		HealthURL: "http://127.0.0.1:1/healthz",
		// Two statements keep the shell resident, so its cmdline (which
		// carries the marker) stays visible in the process table.
		Command: fmt.Sprintf("sh -c 'sleep 30; echo %s'", marker),
		Match:   Match{Cmdline: marker},
	}
	ctx := context.Background()

	if err := ctrl.Start(ctx, spec); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !waitUntil(t, 2*time.Second, func() bool {
		running, _ := ctrl.Running(ctx, spec)
		return running
	}) {
		t.Fatalf("launched process never matched")
	}

	if err := ctrl.Stop(ctx, spec); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !waitUntil(t, 2*time.Second, func() bool {
		running, _ := ctrl.Running(ctx, spec)
		return !running
	}) {
		t.Fatalf("process survived Stop")
	}
}

func TestStopWithNoMatchIsIdempotent(t *testing.T) {
	ctrl := NewExecController(nil, logger.Config{}, time.Second, nil)
	spec := Spec{Name: "ghost", Match: Match{Cmdline: "warden-no-such-process-marker"}}
	if err := ctrl.Stop(context.Background(), spec); err != nil {
		t.Fatalf("Stop of absent process: %v", err)
	}
}

func TestStartMissingExecutableIsStartError(t *testing.T) {
	requireUnix(t)
	ctrl := NewExecController(nil, logger.Config{}, time.Second, nil)
	spec := Spec{Name: "bad", Command: "/nonexistent/binary-xyz", Match: Match{Exe: "binary-xyz"}}
	err := ctrl.Start(context.Background(), spec)
	if err == nil {
		t.Fatalf("expected launch failure")
	}
	var se *StartError
	if !errors.As(err, &se) || se.Name != "bad" {
		t.Fatalf("expected *StartError for bad, got %T %v", err, err)
	}
	if !IsStartFailed(err) {
		t.Fatalf("IsStartFailed should recognize %v", err)
	}
}

func TestStartMissingWorkDirIsStartError(t *testing.T) {
	ctrl := NewExecController(nil, logger.Config{}, time.Second, nil)
	spec := Spec{
		Name:    "wd",
		Command: "sleep 1",
		WorkDir: filepath.Join(os.TempDir(), "warden-absent-workdir"),
		Match:   Match{Exe: "sleep"},
	}
	err := ctrl.Start(context.Background(), spec)
	var se *StartError
	if !errors.As(err, &se) {
		t.Fatalf("expected *StartError, got %v", err)
	}
	if !strings.Contains(err.Error(), "working directory") {
		t.Fatalf("error should mention workdir: %v", err)
	}
}

func TestStartCapturesServiceOutput(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	ctrl := NewExecController(env.New(), logger.Config{Dir: dir}, time.Second, nil)
	spec := Spec{
		Name:    "echoer",
		Command: "sh -c 'echo hello-stdout; echo hello-stderr 1>&2'",
		Match:   Match{Cmdline: "hello-stdout"},
	}
	if err := ctrl.Start(context.Background(), spec); err != nil {
		t.Fatalf("Start: %v", err)
	}

	outFile := filepath.Join(dir, "echoer.stdout.log")
	if !waitUntil(t, 3*time.Second, func() bool {
		b, err := os.ReadFile(outFile)
		return err == nil && strings.Contains(string(b), "hello-stdout")
	}) {
		t.Fatalf("stdout not captured in %s", outFile)
	}
	errFile := filepath.Join(dir, "echoer.stderr.log")
	if !waitUntil(t, 3*time.Second, func() bool {
		b, err := os.ReadFile(errFile)
		return err == nil && strings.Contains(string(b), "hello-stderr")
	}) {
		t.Fatalf("stderr not captured in %s", errFile)
	}
}

func openFDCount(t *testing.T) int {
	t.Helper()
	entries, err := os.ReadDir("/proc/self/fd")
	if err != nil {
		t.Skipf("/proc/self/fd unavailable: %v", err)
	}
	return len(entries)
}

// Without a log dir there is nothing for the daemon to hold open per
// launch; repeated starts must not accumulate descriptors.
func TestStartWithoutLogDirDoesNotLeakFDs(t *testing.T) {
	requireUnix(t)
	ctrl := NewExecController(env.New(), logger.Config{}, time.Second, nil)
	spec := Spec{Name: "short", Command: "/bin/true", Match: Match{Exe: "true"}}
	ctx := context.Background()

	before := openFDCount(t)
	const launches = 20
	for i := 0; i < launches; i++ {
		if err := ctrl.Start(ctx, spec); err != nil {
			t.Fatalf("Start #%d: %v", i, err)
		}
	}
	// Give the reapers a moment to collect the exited children.
	if !waitUntil(t, 3*time.Second, func() bool {
		return openFDCount(t) <= before+2
	}) {
		t.Fatalf("fd count grew from %d to %d after %d starts", before, openFDCount(t), launches)
	}
}

func TestStartAppliesEnvOverlay(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	envM := env.New()
	envM.Set("GLOBAL_VAL", "from-global")
	ctrl := NewExecController(envM, logger.Config{Dir: dir}, time.Second, nil)
	spec := Spec{
		Name:    "envy",
		Command: `sh -c 'echo "$GLOBAL_VAL $SERVICE_VAL"'`,
		Env:     map[string]string{"SERVICE_VAL": "from-service"},
		Match:   Match{Cmdline: "GLOBAL_VAL"},
	}
	if err := ctrl.Start(context.Background(), spec); err != nil {
		t.Fatalf("Start: %v", err)
	}
	outFile := filepath.Join(dir, "envy.stdout.log")
	if !waitUntil(t, 3*time.Second, func() bool {
		b, err := os.ReadFile(outFile)
		return err == nil && strings.Contains(string(b), "from-global from-service")
	}) {
		b, _ := os.ReadFile(outFile)
		t.Fatalf("env overlay not applied, output: %q", string(b))
	}
}
