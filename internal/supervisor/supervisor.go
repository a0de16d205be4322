package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/warden/internal/control"
	"github.com/loykin/warden/internal/history"
	"github.com/loykin/warden/internal/metrics"
	"github.com/loykin/warden/internal/probe"
	"github.com/loykin/warden/internal/ratelimit"
	"github.com/loykin/warden/internal/state"
)

// Prober performs one bounded liveness check. Satisfied by *probe.HTTPProbe.
type Prober interface {
	Check(ctx context.Context, url string, timeout time.Duration) probe.Result
}

// Options configures a Supervisor.
type Options struct {
	Specs              []control.Spec
	Policy             ratelimit.Policy
	ScanInterval       time.Duration
	HealthPollInterval time.Duration
	Store              *state.FileStore
	Controller         control.Controller
	Prober             Prober
	History            history.Sink // optional
	Logger             *slog.Logger
}

// Supervisor runs the scan loop: probe every service each tick, decide
// restarts through the rate limiter, execute them through the
// Controller, and flush every state mutation through the store before
// moving on.
//
// Services within a tick are evaluated concurrently, one goroutine per
// service. All mutation of the persisted document is serialized through
// mu (one writer, many probers), and mu is never held across a probe
// or a process operation, so a slow service cannot stall the others'
// bookkeeping.
type Supervisor struct {
	specs      []control.Spec
	policy     ratelimit.Policy
	scanEvery  time.Duration
	healthPoll time.Duration
	store      *state.FileStore
	ctrl       control.Controller
	prober     Prober
	hist       history.Sink
	logger     *slog.Logger

	mu  sync.Mutex
	doc *state.Document

	now func() time.Time
}

func New(opts Options) (*Supervisor, error) {
	if len(opts.Specs) == 0 {
		return nil, fmt.Errorf("no services to supervise")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("state store required")
	}
	if opts.Controller == nil {
		return nil, fmt.Errorf("process controller required")
	}
	if opts.Prober == nil {
		opts.Prober = probe.New()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ScanInterval <= 0 {
		opts.ScanInterval = 30 * time.Second
	}
	if opts.HealthPollInterval <= 0 {
		opts.HealthPollInterval = 5 * time.Second
	}
	s := &Supervisor{
		specs:      opts.Specs,
		policy:     opts.Policy.Normalize(),
		scanEvery:  opts.ScanInterval,
		healthPoll: opts.HealthPollInterval,
		store:      opts.Store,
		ctrl:       opts.Controller,
		prober:     opts.Prober,
		hist:       opts.History,
		logger:     opts.Logger,
		now:        time.Now,
	}
	s.doc = s.store.Load(s.now())
	for _, spec := range s.specs {
		s.doc.Service(spec.Name)
	}
	if err := s.store.Save(s.doc); err != nil {
		return nil, fmt.Errorf("initial state save: %w", err)
	}
	return s, nil
}

// Run executes scan ticks until ctx is canceled, then flushes final
// state. Cancellation stops new ticks; the in-flight tick finishes at
// its own timeouts (shutdown never truncates a restart verification).
func (s *Supervisor) Run(ctx context.Context) error {
	s.logger.Info("supervisor started",
		"services", len(s.specs),
		"scan_interval", s.scanEvery,
		"cooldown", s.policy.Cooldown,
		"max_restarts_per_window", s.policy.MaxRestarts)

	ticker := time.NewTicker(s.scanEvery)
	defer ticker.Stop()

	s.Tick(context.WithoutCancel(ctx))
	for {
		select {
		case <-ctx.Done():
			s.flush()
			s.logger.Info("supervisor stopped")
			return nil
		case <-ticker.C:
			s.Tick(context.WithoutCancel(ctx))
		}
	}
}

// Tick scans all services once. Exported for one-shot use ("check now")
// and tests.
func (s *Supervisor) Tick(ctx context.Context) {
	var wg sync.WaitGroup
	for _, spec := range s.specs {
		wg.Add(1)
		go func(spec control.Spec) {
			defer wg.Done()
			// A failure in one service's evaluation must not take the
			// scan of the others down with it.
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("service evaluation panicked", "service", spec.Name, "panic", r)
				}
			}()
			s.evaluate(ctx, spec)
		}(spec)
	}
	wg.Wait()

	s.mu.Lock()
	s.doc.LastCheckAt = s.now()
	s.saveLocked()
	s.mu.Unlock()
}

// evaluate runs one service through the per-tick state machine:
// probe → (healthy | decide → restart → await health).
func (s *Supervisor) evaluate(ctx context.Context, spec control.Spec) {
	res := s.prober.Check(ctx, spec.HealthURL, spec.ProbeTimeout)
	metrics.ObserveProbe(spec.Name, res.Online, res.Latency.Seconds())
	metrics.SetServiceUp(spec.Name, res.Online)

	if res.Online {
		s.setStatus(spec.Name, state.StatusOnline, "")
		return
	}
	s.setStatus(spec.Name, state.StatusOffline, errText(res.Err))

	s.mu.Lock()
	st := s.doc.Service(spec.Name)
	decision := ratelimit.Decide(st, s.now(), s.policy)
	s.saveLocked()
	s.mu.Unlock()

	if !decision.Allowed() {
		s.logger.Info("restart refused", "service", spec.Name, "decision", decision.String())
		metrics.IncRefused(spec.Name, string(decision.Verdict))
		return
	}

	s.restart(ctx, spec)
}

// restart stops the old process (best-effort), launches the new one, and
// records the attempt before health is known. A start that never becomes
// healthy still consumes one slot of the hourly budget: the policy
// bounds attempts, not successes, which is what protects the host from a
// crash-restart storm.
func (s *Supervisor) restart(ctx context.Context, spec control.Spec) {
	s.logger.Warn("restarting service", "service", spec.Name, "match", spec.Match.Describe())

	if err := s.ctrl.Stop(ctx, spec); err != nil {
		s.logger.Warn("stop before restart failed, continuing", "service", spec.Name, "error", err)
	}

	startErr := s.ctrl.Start(ctx, spec)
	issuedAt := s.now()

	s.mu.Lock()
	s.doc.Service(spec.Name).RecordRestart(issuedAt)
	s.saveLocked()
	s.mu.Unlock()
	metrics.IncRestart(spec.Name)

	if startErr != nil {
		// The attempt still counted above; skipping the health wait is
		// the only concession to a command that never launched.
		s.logger.Error("service start failed", "service", spec.Name, "error", startErr)
		metrics.IncRestartFailure(spec.Name, "start_failed")
		s.record(ctx, history.Event{
			Service: spec.Name, IssuedAt: issuedAt,
			Outcome: history.OutcomeStartFailed, Error: startErr.Error(),
		})
		return
	}

	if s.awaitHealthy(ctx, spec) {
		s.logger.Info("service recovered", "service", spec.Name)
		s.setStatus(spec.Name, state.StatusOnline, "")
		metrics.SetServiceUp(spec.Name, true)
		s.record(ctx, history.Event{
			Service: spec.Name, IssuedAt: issuedAt, Outcome: history.OutcomeRecovered,
		})
		return
	}

	s.logger.Error("service did not become healthy in time",
		"service", spec.Name, "timeout", spec.StartupTimeout)
	metrics.IncRestartFailure(spec.Name, "health_timeout")
	s.record(ctx, history.Event{
		Service: spec.Name, IssuedAt: issuedAt,
		Outcome: history.OutcomeHealthTimeout,
		Error:   fmt.Sprintf("no healthy probe within %s", spec.StartupTimeout),
	})
}

// awaitHealthy polls the health endpoint until it answers or the
// service's startup timeout elapses.
func (s *Supervisor) awaitHealthy(ctx context.Context, spec control.Spec) bool {
	deadline := s.now().Add(spec.StartupTimeout)
	for {
		res := s.prober.Check(ctx, spec.HealthURL, spec.ProbeTimeout)
		if res.Online {
			return true
		}
		if !s.now().Add(s.healthPoll).Before(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(s.healthPoll):
		}
	}
}

// setStatus records a probe outcome, logging online/offline transitions.
func (s *Supervisor) setStatus(name string, st state.Status, reason string) {
	s.mu.Lock()
	entry := s.doc.Service(name)
	prev := entry.LastStatus
	entry.LastStatus = st
	changed := prev != st
	if changed {
		s.saveLocked()
	}
	s.mu.Unlock()

	if !changed {
		return
	}
	metrics.RecordStateTransition(name, string(prev), string(st))
	if st == state.StatusOnline {
		s.logger.Info("service online", "service", name, "previous", string(prev))
	} else {
		s.logger.Warn("service offline", "service", name, "previous", string(prev), "reason", reason)
	}
}

// saveLocked persists the snapshot; mu must be held. A failed save keeps
// the in-memory state authoritative for this process lifetime, but the
// operator is warned on every attempt since a daemon restart would lose
// rate-limit history.
func (s *Supervisor) saveLocked() {
	if err := s.store.Save(s.doc); err != nil {
		s.logger.Error("state save failed; decisions continue in memory but will not survive a daemon restart",
			"path", s.store.Path(), "error", err)
	}
}

func (s *Supervisor) flush() {
	s.mu.Lock()
	s.saveLocked()
	s.mu.Unlock()
}

func (s *Supervisor) record(ctx context.Context, e history.Event) {
	if s.hist == nil {
		return
	}
	if err := s.hist.Record(ctx, e); err != nil {
		s.logger.Warn("history sink write failed", "service", e.Service, "error", err)
	}
}

// ResetService zeroes one service's runtime state, or all services when
// name is empty. It reports whether anything was reset.
func (s *Supervisor) ResetService(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ok := s.doc.ResetService(name)
	if ok {
		s.saveLocked()
	}
	return ok
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
