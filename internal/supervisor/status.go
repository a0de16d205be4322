package supervisor

import (
	"time"

	"github.com/loykin/warden/internal/control"
	"github.com/loykin/warden/internal/ratelimit"
	"github.com/loykin/warden/internal/state"
)

// ServiceStatus is the operator-facing view of one service. Decision
// distinguishes "offline, will retry next tick" from "offline, in
// cooldown" and "offline, rate-limited", which need different operator
// action.
type ServiceStatus struct {
	Name               string       `json:"name"`
	Status             state.Status `json:"status"`
	Online             bool         `json:"online"`
	LastRestartAt      *time.Time   `json:"last_restart_at,omitempty"`
	RestartsThisWindow int          `json:"restarts_this_window"`
	Verdict            string       `json:"verdict"`
	RemainingSeconds   int64        `json:"remaining_seconds,omitempty"`
	Decision           string       `json:"decision"`
}

// Snapshot is a point-in-time view of the whole supervisor.
type Snapshot struct {
	StartedAt     time.Time       `json:"started_at"`
	LastCheckAt   time.Time       `json:"last_check_at"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Services      []ServiceStatus `json:"services"`
}

// Snapshot returns the current status of all supervised services.
func (s *Supervisor) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return BuildSnapshot(s.doc, s.specs, s.policy, s.now())
}

// BuildSnapshot assembles a Snapshot from a state document. It never
// mutates doc, so it is safe on a read-only load of the state file (the
// CLI status path when no daemon is running).
func BuildSnapshot(doc *state.Document, specs []control.Spec, policy ratelimit.Policy, now time.Time) Snapshot {
	snap := Snapshot{
		StartedAt:     doc.StartedAt,
		LastCheckAt:   doc.LastCheckAt,
		UptimeSeconds: int64(now.Sub(doc.StartedAt).Seconds()),
		Services:      make([]ServiceStatus, 0, len(specs)),
	}
	for _, spec := range specs {
		st := doc.Services[spec.Name]
		if st == nil {
			st = &state.ServiceState{LastStatus: state.StatusUnknown}
		}
		d := ratelimit.Inspect(*st, now, policy)
		ss := ServiceStatus{
			Name:               spec.Name,
			Status:             st.LastStatus,
			Online:             st.LastStatus == state.StatusOnline,
			LastRestartAt:      st.LastRestartAt,
			RestartsThisWindow: restartsInWindow(st, now, policy.Window),
			Verdict:            string(d.Verdict),
			Decision:           d.String(),
		}
		if !d.Allowed() {
			ss.RemainingSeconds = int64(d.Remaining.Round(time.Second).Seconds())
		}
		snap.Services = append(snap.Services, ss)
	}
	return snap
}

func restartsInWindow(st *state.ServiceState, now time.Time, window time.Duration) int {
	cutoff := now.Add(-window)
	n := 0
	for _, ts := range st.RestartHistory {
		if ts.After(cutoff) {
			n++
		}
	}
	return n
}
