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

	cyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "screenguard",
			Subsystem: "cycle",
			Name:      "total",
			Help:      "Completed capture-and-analyze cycles by outcome.",
		}, []string{"outcome"},
	)
	cycleDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "screenguard",
			Subsystem: "cycle",
			Name:      "duration_seconds",
			Help:      "Wall time of a cycle from capture to the final event.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
		}, []string{"outcome"},
	)
	cyclesSkipped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "screenguard",
			Subsystem: "cycle",
			Name:      "skipped_total",
			Help:      "Triggers ignored because a cycle was already in flight.",
		},
	)
	eventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "screenguard",
			Subsystem: "events",
			Name:      "emitted_total",
			Help:      "Events handed to the dispatcher by type.",
		}, []string{"type"},
	)
	eventsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "screenguard",
			Subsystem: "events",
			Name:      "dropped_total",
			Help:      "Events dropped because a sink queue was full.",
		}, []string{"sink"},
	)
	sinkErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "screenguard",
			Subsystem: "events",
			Name:      "sink_errors_total",
			Help:      "Send failures reported by sinks.",
		}, []string{"sink"},
	)
	countdownRemaining = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "screenguard",
			Subsystem: "countdown",
			Name:      "remaining_seconds",
			Help:      "Seconds until the next scheduled capture.",
		},
	)
	provisionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "screenguard",
			Subsystem: "provision",
			Name:      "total",
			Help:      "Provisioning outcomes (existing, created, failed).",
		}, []string{"result"},
	)
	provisionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "screenguard",
			Subsystem: "provision",
			Name:      "duration_seconds",
			Help:      "Time spent creating the analyzer environment.",
			Buckets:   []float64{0.1, 1, 5, 15, 30, 60, 120, 300},
		},
	)
	analyzerPeakRSS = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "screenguard",
			Subsystem: "analyzer",
			Name:      "peak_rss_bytes",
			Help:      "Peak resident memory of the most recent analyzer run.",
		},
	)
	analyzerCPU = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "screenguard",
			Subsystem: "analyzer",
			Name:      "cpu_percent",
			Help:      "Last sampled CPU usage of the running analyzer.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		cyclesTotal, cycleDuration, cyclesSkipped,
		eventsTotal, eventsDropped, sinkErrors,
		countdownRemaining, provisionTotal, provisionDuration,
		analyzerPeakRSS, analyzerCPU,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// already registered with this registerer: keep the existing one
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

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Helpers below no-op until Register has succeeded.

func ObserveCycle(outcome string, seconds float64) {
	if regOK.Load() {
		cyclesTotal.WithLabelValues(outcome).Inc()
		cycleDuration.WithLabelValues(outcome).Observe(seconds)
	}
}

func IncCycleSkipped() {
	if regOK.Load() {
		cyclesSkipped.Inc()
	}
}

func IncEvent(typ string) {
	if regOK.Load() {
		eventsTotal.WithLabelValues(typ).Inc()
	}
}

func IncEventDropped(sink string) {
	if regOK.Load() {
		eventsDropped.WithLabelValues(sink).Inc()
	}
}

func IncSinkError(sink string) {
	if regOK.Load() {
		sinkErrors.WithLabelValues(sink).Inc()
	}
}

func SetCountdownRemaining(seconds int) {
	if regOK.Load() {
		countdownRemaining.Set(float64(seconds))
	}
}

func ObserveProvision(result string, seconds float64) {
	if regOK.Load() {
		provisionTotal.WithLabelValues(result).Inc()
		if result == "created" {
			provisionDuration.Observe(seconds)
		}
	}
}

func setAnalyzerUsage(peakRSS uint64, cpu float64) {
	if regOK.Load() {
		analyzerPeakRSS.Set(float64(peakRSS))
		analyzerCPU.Set(cpu)
	}
}
