package ratelimit

import (
	"fmt"
	"time"

	"github.com/loykin/warden/internal/state"
)

// Policy holds the restart throttling constants applied per service.
type Policy struct {
	Cooldown    time.Duration `json:"cooldown" mapstructure:"cooldown"`                           // minimum gap between two restart attempts
	MaxRestarts int           `json:"max_restarts_per_hour" mapstructure:"max_restarts_per_hour"` // attempts allowed inside Window
	Window      time.Duration `json:"window" mapstructure:"window"`                               // rolling lookback for MaxRestarts
	ResetAfter  time.Duration `json:"rate_limit_reset" mapstructure:"rate_limit_reset"`           // suspension length once the cap trips
}

// DefaultPolicy returns the stock policy: 60s cooldown, 5 restarts per
// rolling hour, 1h suspension once exceeded.
func DefaultPolicy() Policy {
	return Policy{
		Cooldown:    60 * time.Second,
		MaxRestarts: 5,
		Window:      time.Hour,
		ResetAfter:  time.Hour,
	}
}

// Normalize fills zero fields with defaults.
func (p Policy) Normalize() Policy {
	d := DefaultPolicy()
	if p.Cooldown <= 0 {
		p.Cooldown = d.Cooldown
	}
	if p.MaxRestarts <= 0 {
		p.MaxRestarts = d.MaxRestarts
	}
	if p.Window <= 0 {
		p.Window = d.Window
	}
	if p.ResetAfter <= 0 {
		p.ResetAfter = d.ResetAfter
	}
	return p
}

// Verdict is the outcome of a restart decision.
type Verdict string

const (
	VerdictAllow       Verdict = "allow"
	VerdictCooldown    Verdict = "cooldown"
	VerdictRateLimited Verdict = "rate_limited"
)

// Decision carries the verdict and, for refusals, the remaining wait.
type Decision struct {
	Verdict   Verdict
	Remaining time.Duration
}

func (d Decision) Allowed() bool { return d.Verdict == VerdictAllow }

func (d Decision) String() string {
	switch d.Verdict {
	case VerdictAllow:
		return "allow"
	case VerdictCooldown:
		return fmt.Sprintf("cooldown (%s remaining)", d.Remaining.Round(time.Second))
	case VerdictRateLimited:
		return fmt.Sprintf("rate-limited (%s remaining)", d.Remaining.Round(time.Second))
	}
	return string(d.Verdict)
}

// Inspect is Decide without side effects: it answers "what would the
// next restart decision be" for status reporting, leaving st untouched.
func Inspect(st state.ServiceState, now time.Time, p Policy) Decision {
	cp := st
	cp.RestartHistory = append([]time.Time(nil), st.RestartHistory...)
	return Decide(&cp, now, p)
}

// Decide applies the restart policy to one service's state at time now.
// It mutates st as a side effect of the decision: an expired suspension
// clears the whole restart history (a full clean slate, not a sliding
// decay), the history is pruned to the trailing window, and tripping
// the cap stamps RateLimitedUntil. The caller persists st afterwards.
func Decide(st *state.ServiceState, now time.Time, p Policy) Decision {
	p = p.Normalize()

	if st.RateLimitedUntil != nil {
		if now.Before(*st.RateLimitedUntil) {
			return Decision{Verdict: VerdictRateLimited, Remaining: st.RateLimitedUntil.Sub(now)}
		}
		// Suspension expired: full reset.
		st.RateLimitedUntil = nil
		st.RestartHistory = nil
	}

	st.Prune(now, p.Window)

	if st.LastRestartAt != nil {
		if elapsed := now.Sub(*st.LastRestartAt); elapsed < p.Cooldown {
			return Decision{Verdict: VerdictCooldown, Remaining: p.Cooldown - elapsed}
		}
	}

	if len(st.RestartHistory) >= p.MaxRestarts {
		until := now.Add(p.ResetAfter)
		st.RateLimitedUntil = &until
		return Decision{Verdict: VerdictRateLimited, Remaining: p.ResetAfter}
	}

	return Decision{Verdict: VerdictAllow}
}
