package history

import (
	"context"
	"time"
)

// Outcome classifies how a restart attempt ended.
type Outcome string

const (
	OutcomeRecovered     Outcome = "recovered"      // became healthy within the startup timeout
	OutcomeStartFailed   Outcome = "start_failed"   // the command never produced a process
	OutcomeHealthTimeout Outcome = "health_timeout" // launched but never answered before the deadline
)

// Event is one restart attempt, recorded when its outcome is known.
type Event struct {
	Service  string    `json:"service"`
	IssuedAt time.Time `json:"issued_at"`
	Outcome  Outcome   `json:"outcome"`
	Error    string    `json:"error,omitempty"`
}

// Sink is an append-only audit destination for restart events. It
// supplements the state snapshot, which only keeps the trailing
// rate-limit window. Implementations must be safe for concurrent use;
// sink failures must never affect restart decisions.
type Sink interface {
	Record(ctx context.Context, e Event) error
	// Recent returns up to limit most recent events for a service,
	// newest first. Empty service selects all services.
	Recent(ctx context.Context, service string, limit int) ([]Event, error)
	Close() error
}
