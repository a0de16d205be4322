package state

import (
	"time"
)

// Status is the last observed liveness of a supervised service.
type Status string

const (
	StatusUnknown Status = "unknown"
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// ServiceState is the persisted, mutable runtime state of one service.
// LastRestartAt is set the moment a start command is issued, not when
// health is confirmed. RestartHistory holds timestamps of issued restart
// attempts and is pruned to the trailing rate-limit window before any
// restart decision.
type ServiceState struct {
	LastStatus       Status      `json:"last_status"`
	LastRestartAt    *time.Time  `json:"last_restart_at,omitempty"`
	RestartHistory   []time.Time `json:"restart_history,omitempty"`
	RateLimitedUntil *time.Time  `json:"rate_limited_until,omitempty"`
}

// Prune drops restart history entries at or older than now-window.
func (s *ServiceState) Prune(now time.Time, window time.Duration) {
	if len(s.RestartHistory) == 0 {
		return
	}
	cutoff := now.Add(-window)
	kept := s.RestartHistory[:0]
	for _, ts := range s.RestartHistory {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	s.RestartHistory = kept
}

// RecordRestart marks a restart attempt issued at ts.
func (s *ServiceState) RecordRestart(ts time.Time) {
	t := ts
	s.LastRestartAt = &t
	s.RestartHistory = append(s.RestartHistory, ts)
}

// Reset returns the state to its zero value.
func (s *ServiceState) Reset() {
	*s = ServiceState{LastStatus: StatusUnknown}
}

// Document is the top-level persisted snapshot. It is always written as a
// complete document; partial writes are never observable (see FileStore).
type Document struct {
	StartedAt   time.Time                `json:"started_at"`
	LastCheckAt time.Time                `json:"last_check_at"`
	Services    map[string]*ServiceState `json:"services"`
}

// NewDocument returns an empty snapshot stamped with now as the daemon
// start time.
func NewDocument(now time.Time) *Document {
	return &Document{StartedAt: now, Services: make(map[string]*ServiceState)}
}

// Service returns the state entry for name, creating it if absent.
func (d *Document) Service(name string) *ServiceState {
	if d.Services == nil {
		d.Services = make(map[string]*ServiceState)
	}
	st, ok := d.Services[name]
	if !ok {
		st = &ServiceState{LastStatus: StatusUnknown}
		d.Services[name] = st
	}
	return st
}

// ResetService zeroes one service entry, or all entries when name is empty.
// It reports whether any entry was touched.
func (d *Document) ResetService(name string) bool {
	if name == "" {
		for _, st := range d.Services {
			st.Reset()
		}
		return len(d.Services) > 0
	}
	st, ok := d.Services[name]
	if !ok {
		return false
	}
	st.Reset()
	return true
}
