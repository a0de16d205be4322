package client

import "time"

// ServiceStatus mirrors the daemon's per-service status document.
type ServiceStatus struct {
	Name               string     `json:"name"`
	Status             string     `json:"status"`
	Online             bool       `json:"online"`
	LastRestartAt      *time.Time `json:"last_restart_at,omitempty"`
	RestartsThisWindow int        `json:"restarts_this_window"`
	Verdict            string     `json:"verdict"`
	RemainingSeconds   int64      `json:"remaining_seconds,omitempty"`
	Decision           string     `json:"decision"`
}

// Snapshot mirrors the daemon's full status document.
type Snapshot struct {
	StartedAt     time.Time       `json:"started_at"`
	LastCheckAt   time.Time       `json:"last_check_at"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Services      []ServiceStatus `json:"services"`
}

// RestartEvent mirrors one audited restart attempt.
type RestartEvent struct {
	Service  string    `json:"service"`
	IssuedAt time.Time `json:"issued_at"`
	Outcome  string    `json:"outcome"`
	Error    string    `json:"error,omitempty"`
}

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error string `json:"error"`
}
