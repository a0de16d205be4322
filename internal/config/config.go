package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/warden/internal/control"
	"github.com/loykin/warden/internal/logger"
	"github.com/loykin/warden/internal/ratelimit"
)

// Defaults applied when the TOML omits a value.
const (
	DefaultScanInterval       = 30 * time.Second
	DefaultHealthPollInterval = 5 * time.Second
	DefaultStopGrace          = 3 * time.Second
	DefaultStartupTimeout     = 120 * time.Second
	DefaultProbeTimeout       = 5 * time.Second
	DefaultReporterInterval   = 5 * time.Minute
	DefaultReporterTimeout    = 10 * time.Second
)

// FileConfig represents the top-level TOML structure.
type FileConfig struct {
	StateFile          string            `toml:"state_file" mapstructure:"state_file"`
	ScanInterval       time.Duration     `toml:"scan_interval" mapstructure:"scan_interval"`
	HealthPollInterval time.Duration     `toml:"health_poll_interval" mapstructure:"health_poll_interval"`
	StopGrace          time.Duration     `toml:"stop_grace" mapstructure:"stop_grace"`
	Env                []string          `toml:"env" mapstructure:"env"`
	EnvFiles           []string          `toml:"env_files" mapstructure:"env_files"`
	Policy             *ratelimit.Policy `toml:"policy" mapstructure:"policy"`
	Log                *logger.Config    `toml:"log" mapstructure:"log"`
	Server             *ServerConfig     `toml:"server" mapstructure:"server"`
	Metrics            *MetricsConfig    `toml:"metrics" mapstructure:"metrics"`
	Reporter           *ReporterConfig   `toml:"reporter" mapstructure:"reporter"`
	History            *HistoryConfig    `toml:"history" mapstructure:"history"`
	Services           []ServiceConfig   `toml:"services" mapstructure:"services"`
}

type ServerConfig struct {
	Listen   string `toml:"listen" mapstructure:"listen"`
	BasePath string `toml:"base_path" mapstructure:"base_path"`
	PidFile  string `toml:"pidfile" mapstructure:"pidfile"`
	LogFile  string `toml:"logfile" mapstructure:"logfile"`
}

type MetricsConfig struct {
	Enabled bool   `toml:"enabled" mapstructure:"enabled"`
	Listen  string `toml:"listen" mapstructure:"listen"`
}

type ReporterConfig struct {
	URL      string        `toml:"url" mapstructure:"url"`
	Interval time.Duration `toml:"interval" mapstructure:"interval"`
	Timeout  time.Duration `toml:"timeout" mapstructure:"timeout"`
}

type HistoryConfig struct {
	Type string `toml:"type" mapstructure:"type"` // "sqlite"
	Path string `toml:"path" mapstructure:"path"`
}

type ServiceConfig struct {
	Name           string            `toml:"name" mapstructure:"name"`
	HealthURL      string            `toml:"health_url" mapstructure:"health_url"`
	Command        string            `toml:"command" mapstructure:"command"`
	Args           []string          `toml:"args" mapstructure:"args"`
	WorkDir        string            `toml:"workdir" mapstructure:"workdir"`
	Env            map[string]string `toml:"env" mapstructure:"env"`
	Match          control.Match     `toml:"match" mapstructure:"match"`
	StartupTimeout time.Duration     `toml:"startup_timeout" mapstructure:"startup_timeout"`
	ProbeTimeout   time.Duration     `toml:"probe_timeout" mapstructure:"probe_timeout"`
}

// ServiceError is a per-service configuration failure. It disables that
// one service; the daemon still supervises the remaining valid ones.
type ServiceError struct {
	Name string
	Err  error
}

func (e ServiceError) Error() string {
	return fmt.Sprintf("service %q: %v", e.Name, e.Err)
}

// Config is the validated, default-filled runtime configuration.
type Config struct {
	StateFile          string
	ScanInterval       time.Duration
	HealthPollInterval time.Duration
	StopGrace          time.Duration
	Policy             ratelimit.Policy
	Log                logger.Config
	GlobalEnv          []string
	Server             *ServerConfig
	Metrics            *MetricsConfig
	Reporter           *ReporterConfig
	History            *HistoryConfig
	Specs              []control.Spec
	Invalid            []ServiceError
}

// Load parses and validates the TOML config at path. Relative state,
// log, pid and history paths are resolved against the config file's
// directory. Invalid service specs are collected in Invalid rather than
// failing the load; Load errors only on unreadable/unparsable TOML or
// when nothing valid remains to supervise.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, err
	}

	base := filepath.Dir(path)
	cfg := &Config{
		StateFile:          resolve(base, fc.StateFile),
		ScanInterval:       durOr(fc.ScanInterval, DefaultScanInterval),
		HealthPollInterval: durOr(fc.HealthPollInterval, DefaultHealthPollInterval),
		StopGrace:          durOr(fc.StopGrace, DefaultStopGrace),
		Policy:             ratelimit.DefaultPolicy(),
		Server:             fc.Server,
		Metrics:            fc.Metrics,
		Reporter:           fc.Reporter,
		History:            fc.History,
	}
	if cfg.StateFile == "" {
		return nil, fmt.Errorf("state_file must be set")
	}
	if fc.Policy != nil {
		cfg.Policy = fc.Policy.Normalize()
	}
	if fc.Log != nil {
		cfg.Log = *fc.Log
		cfg.Log.Dir = resolve(base, cfg.Log.Dir)
	}
	if cfg.Server != nil {
		cfg.Server.PidFile = resolve(base, cfg.Server.PidFile)
		cfg.Server.LogFile = resolve(base, cfg.Server.LogFile)
		if cfg.Server.BasePath != "" && !strings.HasPrefix(cfg.Server.BasePath, "/") {
			cfg.Server.BasePath = "/" + cfg.Server.BasePath
		}
	}
	if cfg.Reporter != nil && cfg.Reporter.URL != "" {
		cfg.Reporter.Interval = durOr(cfg.Reporter.Interval, DefaultReporterInterval)
		cfg.Reporter.Timeout = durOr(cfg.Reporter.Timeout, DefaultReporterTimeout)
	}
	if cfg.History != nil {
		if cfg.History.Type != "" && cfg.History.Type != "sqlite" {
			return nil, fmt.Errorf("unknown history type %q", cfg.History.Type)
		}
		cfg.History.Path = resolve(base, cfg.History.Path)
	}

	genv, err := loadGlobalEnv(base, fc)
	if err != nil {
		return nil, err
	}
	cfg.GlobalEnv = genv

	seen := make(map[string]bool, len(fc.Services))
	for _, sc := range fc.Services {
		spec := control.Spec{
			Name:           sc.Name,
			HealthURL:      sc.HealthURL,
			Command:        sc.Command,
			Args:           sc.Args,
			WorkDir:        sc.WorkDir,
			Env:            sc.Env,
			Match:          sc.Match,
			StartupTimeout: durOr(sc.StartupTimeout, DefaultStartupTimeout),
			ProbeTimeout:   durOr(sc.ProbeTimeout, DefaultProbeTimeout),
		}
		if err := spec.Validate(); err != nil {
			cfg.Invalid = append(cfg.Invalid, ServiceError{Name: sc.Name, Err: err})
			continue
		}
		if seen[spec.Name] {
			cfg.Invalid = append(cfg.Invalid, ServiceError{Name: sc.Name, Err: fmt.Errorf("duplicate service name")})
			continue
		}
		seen[spec.Name] = true
		cfg.Specs = append(cfg.Specs, spec)
	}
	if len(cfg.Specs) == 0 {
		return nil, fmt.Errorf("no valid services configured (%d invalid)", len(cfg.Invalid))
	}
	return cfg, nil
}

// loadGlobalEnv merges env sources: env_files contents in order, then the
// top-level env list overriding last.
func loadGlobalEnv(base string, fc FileConfig) ([]string, error) {
	m := make(map[string]string)
	for _, p := range fc.EnvFiles {
		pairs, err := loadEnvFile(resolve(base, p))
		if err != nil {
			return nil, err
		}
		for k, v := range pairs {
			m[k] = v
		}
	}
	for _, kv := range fc.Env {
		if i := strings.IndexByte(kv, '='); i > 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	return out, nil
}

// loadEnvFile parses a simple .env file with KEY=VALUE lines (no export,
// no quotes). Lines starting with # are ignored.
func loadEnvFile(path string) (map[string]string, error) {
	clean := filepath.Clean(path)
	b, err := os.ReadFile(clean)
	if err != nil {
		return nil, err
	}
	m := make(map[string]string)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i >= 0 {
			k := strings.TrimSpace(line[:i])
			v := strings.TrimSpace(line[i+1:])
			if k != "" {
				m[k] = v
			}
		}
	}
	return m, nil
}

func resolve(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

func durOr(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}
