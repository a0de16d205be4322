package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "warden.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
state_file = "state/warden.json"
scan_interval = "15s"
health_poll_interval = "2s"
stop_grace = "5s"
env = ["GLOBAL=one"]

[policy]
cooldown = "30s"
max_restarts_per_hour = 3
window = "30m"
rate_limit_reset = "45m"

[log]
dir = "logs"
level = "debug"

[server]
listen = "127.0.0.1:8420"
base_path = "api"
pidfile = "warden.pid"

[metrics]
enabled = true
listen = ":9091"

[reporter]
url = "http://example.com/hook"

[history]
type = "sqlite"
path = "history.db"

[[services]]
name = "grafana"
health_url = "http://127.0.0.1:3000/api/health"
command = "/usr/sbin/grafana-server"
startup_timeout = "90s"
probe_timeout = "3s"
[services.match]
exe = "grafana-server"

[[services]]
name = "redis"
health_url = "http://127.0.0.1:6379/ping"
command = "redis-server /etc/redis.conf"
[services.env]
REDIS_OPTS = "--appendonly yes"
[services.match]
cmdline = "redis.conf"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	base := filepath.Dir(path)
	assert.Equal(t, filepath.Join(base, "state/warden.json"), cfg.StateFile)
	assert.Equal(t, 15*time.Second, cfg.ScanInterval)
	assert.Equal(t, 2*time.Second, cfg.HealthPollInterval)
	assert.Equal(t, 5*time.Second, cfg.StopGrace)
	assert.Contains(t, cfg.GlobalEnv, "GLOBAL=one")

	assert.Equal(t, 30*time.Second, cfg.Policy.Cooldown)
	assert.Equal(t, 3, cfg.Policy.MaxRestarts)
	assert.Equal(t, 30*time.Minute, cfg.Policy.Window)
	assert.Equal(t, 45*time.Minute, cfg.Policy.ResetAfter)

	assert.Equal(t, filepath.Join(base, "logs"), cfg.Log.Dir)
	require.NotNil(t, cfg.Server)
	assert.Equal(t, "/api", cfg.Server.BasePath, "base_path gains a leading slash")
	assert.Equal(t, filepath.Join(base, "warden.pid"), cfg.Server.PidFile)
	require.NotNil(t, cfg.History)
	assert.Equal(t, filepath.Join(base, "history.db"), cfg.History.Path)

	require.Len(t, cfg.Specs, 2)
	assert.Equal(t, 90*time.Second, cfg.Specs[0].StartupTimeout)
	assert.Equal(t, 3*time.Second, cfg.Specs[0].ProbeTimeout)
	// Defaults fill what the second service omits.
	assert.Equal(t, DefaultStartupTimeout, cfg.Specs[1].StartupTimeout)
	assert.Equal(t, DefaultProbeTimeout, cfg.Specs[1].ProbeTimeout)
	assert.Equal(t, "--appendonly yes", cfg.Specs[1].Env["REDIS_OPTS"])
	assert.Empty(t, cfg.Invalid)
}

func TestLoadDefaultsWhenOmitted(t *testing.T) {
	path := writeConfig(t, `
state_file = "/var/lib/warden/state.json"

[[services]]
name = "a"
health_url = "http://127.0.0.1:1/healthz"
command = "/bin/a"
[services.match]
exe = "a"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultScanInterval, cfg.ScanInterval)
	assert.Equal(t, DefaultHealthPollInterval, cfg.HealthPollInterval)
	assert.Equal(t, DefaultStopGrace, cfg.StopGrace)
	assert.Equal(t, 60*time.Second, cfg.Policy.Cooldown)
	assert.Equal(t, 5, cfg.Policy.MaxRestarts)
	assert.Equal(t, "/var/lib/warden/state.json", cfg.StateFile, "absolute paths stay untouched")
}

func TestLoadCollectsInvalidServices(t *testing.T) {
	path := writeConfig(t, `
state_file = "state.json"

[[services]]
name = "good"
health_url = "http://127.0.0.1:1/healthz"
command = "/bin/good"
[services.match]
exe = "good"

[[services]]
name = "no-url"
command = "/bin/bad"
[services.match]
exe = "bad"

[[services]]
name = "good"
health_url = "http://127.0.0.1:2/healthz"
command = "/bin/dup"
[services.match]
exe = "dup"
`)
	cfg, err := Load(path)
	require.NoError(t, err, "invalid services must not fail the load")
	assert.Len(t, cfg.Specs, 1)
	require.Len(t, cfg.Invalid, 2)
	assert.Equal(t, "no-url", cfg.Invalid[0].Name)
	assert.Contains(t, cfg.Invalid[1].Err.Error(), "duplicate")
}

func TestLoadFailsWithoutValidServices(t *testing.T) {
	path := writeConfig(t, `
state_file = "state.json"

[[services]]
name = "broken"
command = "/bin/borked"
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no valid services")
}

func TestLoadFailsWithoutStateFile(t *testing.T) {
	path := writeConfig(t, `
[[services]]
name = "a"
health_url = "http://127.0.0.1:1/healthz"
command = "/bin/a"
[services.match]
exe = "a"
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "state_file")
}

func TestLoadRejectsUnknownHistoryType(t *testing.T) {
	path := writeConfig(t, `
state_file = "state.json"

[history]
type = "postgres"
path = "x"

[[services]]
name = "a"
health_url = "http://127.0.0.1:1/healthz"
command = "/bin/a"
[services.match]
exe = "a"
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "history type")
}

func TestLoadEnvFilesMergeOrder(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, "service.env")
	require.NoError(t, os.WriteFile(envPath, []byte("# comment\nFROM_FILE=yes\nSHARED=file\n"), 0o600))

	path := filepath.Join(dir, "warden.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
state_file = "state.json"
env = ["SHARED=toml"]
env_files = ["service.env"]

[[services]]
name = "a"
health_url = "http://127.0.0.1:1/healthz"
command = "/bin/a"
[services.match]
exe = "a"
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Contains(t, cfg.GlobalEnv, "FROM_FILE=yes")
	assert.Contains(t, cfg.GlobalEnv, "SHARED=toml", "top-level env overrides env_files")
	assert.NotContains(t, cfg.GlobalEnv, "SHARED=file")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.Error(t, err)
}
