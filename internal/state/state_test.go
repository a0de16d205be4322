package state

import (
	"testing"
	"time"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestPruneKeepsOnlyWindow(t *testing.T) {
	st := &ServiceState{RestartHistory: []time.Time{
		t0.Add(-2 * time.Hour),
		t0.Add(-61 * time.Minute),
		t0.Add(-59 * time.Minute),
		t0.Add(-time.Minute),
	}}
	st.Prune(t0, time.Hour)
	if len(st.RestartHistory) != 2 {
		t.Fatalf("kept %d entries, want 2: %v", len(st.RestartHistory), st.RestartHistory)
	}
	if !st.RestartHistory[0].Equal(t0.Add(-59 * time.Minute)) {
		t.Fatalf("wrong entries kept: %v", st.RestartHistory)
	}
}

func TestPruneDropsExactCutoff(t *testing.T) {
	st := &ServiceState{RestartHistory: []time.Time{t0.Add(-time.Hour)}}
	st.Prune(t0, time.Hour)
	if len(st.RestartHistory) != 0 {
		t.Fatalf("entry exactly at cutoff should be dropped")
	}
}

func TestRecordRestart(t *testing.T) {
	st := &ServiceState{}
	st.RecordRestart(t0)
	st.RecordRestart(t0.Add(time.Minute))
	if st.LastRestartAt == nil || !st.LastRestartAt.Equal(t0.Add(time.Minute)) {
		t.Fatalf("LastRestartAt = %v", st.LastRestartAt)
	}
	if len(st.RestartHistory) != 2 {
		t.Fatalf("history length = %d", len(st.RestartHistory))
	}
}

func TestResetReturnsZeroValue(t *testing.T) {
	until := t0.Add(time.Hour)
	st := &ServiceState{
		LastStatus:       StatusOffline,
		LastRestartAt:    &t0,
		RestartHistory:   []time.Time{t0},
		RateLimitedUntil: &until,
	}
	st.Reset()
	if st.LastStatus != StatusUnknown || st.LastRestartAt != nil ||
		st.RestartHistory != nil || st.RateLimitedUntil != nil {
		t.Fatalf("not zeroed: %+v", st)
	}
}

func TestDocumentServiceAutoCreates(t *testing.T) {
	d := NewDocument(t0)
	st := d.Service("grafana")
	if st == nil || st.LastStatus != StatusUnknown {
		t.Fatalf("auto-created entry wrong: %+v", st)
	}
	if d.Service("grafana") != st {
		t.Fatalf("second lookup returned a different entry")
	}
}

func TestResetServiceByName(t *testing.T) {
	d := NewDocument(t0)
	d.Service("a").LastStatus = StatusOffline
	d.Service("b").LastStatus = StatusOnline

	if !d.ResetService("a") {
		t.Fatalf("reset of known service failed")
	}
	if d.Services["a"].LastStatus != StatusUnknown {
		t.Fatalf("a not reset")
	}
	if d.Services["b"].LastStatus != StatusOnline {
		t.Fatalf("b should be untouched")
	}
	if d.ResetService("missing") {
		t.Fatalf("reset of unknown service should report false")
	}
}

func TestResetServiceAll(t *testing.T) {
	d := NewDocument(t0)
	if d.ResetService("") {
		t.Fatalf("reset-all on empty document should report false")
	}
	d.Service("a").RecordRestart(t0)
	d.Service("b").RecordRestart(t0)
	if !d.ResetService("") {
		t.Fatalf("reset-all failed")
	}
	for name, st := range d.Services {
		if st.LastRestartAt != nil {
			t.Fatalf("service %s not reset", name)
		}
	}
}
