package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	probesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "probe",
			Name:      "checks_total",
			Help:      "Number of liveness probes by result (online/offline).",
		}, []string{"name", "result"},
	)
	probeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "warden",
			Subsystem: "probe",
			Name:      "duration_seconds",
			Help:      "Liveness probe latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"name"},
	)
	restartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "supervisor",
			Name:      "restarts_total",
			Help:      "Number of restart attempts issued.",
		}, []string{"name"},
	)
	restartFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "supervisor",
			Name:      "restart_failures_total",
			Help:      "Restart attempts that never launched or never became healthy.",
		}, []string{"name", "reason"},
	)
	restartsRefused = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "supervisor",
			Name:      "restarts_refused_total",
			Help:      "Restart attempts refused by cooldown or rate limiting.",
		}, []string{"name", "verdict"},
	)
	serviceUp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "warden",
			Subsystem: "service",
			Name:      "up",
			Help:      "Whether the service answered its last probe (1 = online).",
		}, []string{"name"},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "service",
			Name:      "state_transitions_total",
			Help:      "Number of online/offline transitions per service.",
		}, []string{"name", "from", "to"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{probesTotal, probeDuration, restartsTotal, restartFailures, restartsRefused, serviceUp, stateTransitions}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// RegisterDefault registers against the default Prometheus registry.
func RegisterDefault() error { return Register(prometheus.DefaultRegisterer) }

// Handler returns an http.Handler serving Prometheus metrics for the
// DefaultGatherer. The caller wires it into a server.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func ObserveProbe(name string, online bool, seconds float64) {
	if !regOK.Load() {
		return
	}
	result := "offline"
	if online {
		result = "online"
	}
	probesTotal.WithLabelValues(name, result).Inc()
	probeDuration.WithLabelValues(name).Observe(seconds)
}

func IncRestart(name string) {
	if regOK.Load() {
		restartsTotal.WithLabelValues(name).Inc()
	}
}

func IncRestartFailure(name, reason string) {
	if regOK.Load() {
		restartFailures.WithLabelValues(name, reason).Inc()
	}
}

func IncRefused(name, verdict string) {
	if regOK.Load() {
		restartsRefused.WithLabelValues(name, verdict).Inc()
	}
}

func SetServiceUp(name string, up bool) {
	if regOK.Load() {
		v := 0.0
		if up {
			v = 1.0
		}
		serviceUp.WithLabelValues(name).Set(v)
	}
}

func RecordStateTransition(name, from, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(name, from, to).Inc()
	}
}
