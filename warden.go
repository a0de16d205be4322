package warden

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	cfg "github.com/loykin/warden/internal/config"
	"github.com/loykin/warden/internal/control"
	"github.com/loykin/warden/internal/env"
	"github.com/loykin/warden/internal/history"
	"github.com/loykin/warden/internal/logger"
	"github.com/loykin/warden/internal/probe"
	"github.com/loykin/warden/internal/ratelimit"
	"github.com/loykin/warden/internal/server"
	"github.com/loykin/warden/internal/state"
	"github.com/loykin/warden/internal/supervisor"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Spec = control.Spec

type Match = control.Match

type Policy = ratelimit.Policy

type Status = state.Status

type Snapshot = supervisor.Snapshot

type ServiceStatus = supervisor.ServiceStatus

type HistorySink = history.Sink

type HistoryEvent = history.Event

type Config = cfg.Config

type LogConfig = logger.Config

// LoadConfig parses and validates a TOML config file.
func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

// DefaultPolicy returns the built-in restart policy: 60s cooldown, at
// most 5 restarts per sliding hour, 1h suspension once over.
func DefaultPolicy() Policy { return ratelimit.DefaultPolicy() }

// Options configures an embedded Supervisor. StatePath and Specs are
// required; everything else defaults sensibly.
type Options struct {
	Specs              []Spec
	Policy             Policy
	ScanInterval       time.Duration
	HealthPollInterval time.Duration
	StopGrace          time.Duration
	StatePath          string
	GlobalEnv          []string // K=V overrides layered over the OS env
	Log                LogConfig
	History            HistorySink
	Logger             *slog.Logger
}

// Supervisor is a thin facade over internal/supervisor.Supervisor for
// embedding the scan loop in another program.
type Supervisor struct{ inner *supervisor.Supervisor }

func New(opts Options) (*Supervisor, error) {
	envM := env.New()
	envM.FromOS()
	envM.SetAll(opts.GlobalEnv)
	stopGrace := opts.StopGrace
	if stopGrace <= 0 {
		stopGrace = cfg.DefaultStopGrace
	}
	inner, err := supervisor.New(supervisor.Options{
		Specs:              opts.Specs,
		Policy:             opts.Policy,
		ScanInterval:       opts.ScanInterval,
		HealthPollInterval: opts.HealthPollInterval,
		Store:              state.NewFileStore(opts.StatePath, opts.Logger),
		Controller:         control.NewExecController(envM, opts.Log, stopGrace, opts.Logger),
		Prober:             probe.New(),
		History:            opts.History,
		Logger:             opts.Logger,
	})
	if err != nil {
		return nil, err
	}
	return &Supervisor{inner: inner}, nil
}

// Run executes scan ticks until ctx is canceled.
func (s *Supervisor) Run(ctx context.Context) error { return s.inner.Run(ctx) }

// Tick scans all services once.
func (s *Supervisor) Tick(ctx context.Context) { s.inner.Tick(ctx) }

// Snapshot returns the current status of all supervised services.
func (s *Supervisor) Snapshot() Snapshot { return s.inner.Snapshot() }

// Reset zeroes one service's runtime state, or all when name is empty.
func (s *Supervisor) Reset(name string) bool { return s.inner.ResetService(name) }

// APIHandler returns the daemon's HTTP API mounted at basePath, for
// embedding in an existing mux. hist may be nil.
func (s *Supervisor) APIHandler(hist HistorySink, basePath string) http.Handler {
	return server.NewRouter(s.inner, hist, basePath).Handler()
}
