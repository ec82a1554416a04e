// Package metrics exposes Prometheus collectors for the user-state store.
//
// Collectors are registered on Registry rather than the global default so an
// embedding program decides whether and where to expose them.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mesh-intelligence/hanfu/internal/migrate"
)

// Registry holds every collector of this package.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

// Save operation labels.
const (
	OpSaveOne = "one"
	OpSaveAll = "all"
)

// Outcome labels.
const (
	resultOK    = "ok"
	resultError = "error"
)

var (
	loadsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hanfu",
		Subsystem: "store",
		Name:      "loads_total",
		Help:      "Store loads by backend and migration outcome.",
	}, []string{"backend", "result"})

	savesTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hanfu",
		Subsystem: "store",
		Name:      "saves_total",
		Help:      "Store saves by backend, operation, and outcome.",
	}, []string{"backend", "op", "result"})

	saveDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "hanfu",
		Subsystem: "store",
		Name:      "save_duration_seconds",
		Help:      "Latency of store saves.",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14), // 0.1ms to ~0.8s
	}, []string{"backend", "op"})

	records = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "hanfu",
		Subsystem: "store",
		Name:      "records",
		Help:      "User states held in memory.",
	})
)

// ObserveLoad counts one load. Failed loads are counted with result "error".
func ObserveLoad(backend string, res migrate.Result, err error) {
	result := res.String()
	if err != nil {
		result = resultError
	}
	loadsTotal.WithLabelValues(backend, result).Inc()
}

// ObserveSave counts one save started at start.
func ObserveSave(backend, op string, start time.Time, err error) {
	result := resultOK
	if err != nil {
		result = resultError
	}
	savesTotal.WithLabelValues(backend, op, result).Inc()
	saveDuration.WithLabelValues(backend, op).Observe(time.Since(start).Seconds())
}

// SetRecords sets the number of in-memory user states.
func SetRecords(n int) {
	records.Set(float64(n))
}

// IncRecords counts one newly inserted user state.
func IncRecords() {
	records.Inc()
}

// SavesTotal returns the counter for one backend, operation, and outcome.
// Tests use it to read counts.
func SavesTotal(backend, op string, ok bool) prometheus.Counter {
	result := resultOK
	if !ok {
		result = resultError
	}
	return savesTotal.WithLabelValues(backend, op, result)
}

// LoadsTotal returns the counter for one backend and load outcome label.
func LoadsTotal(backend, result string) prometheus.Counter {
	return loadsTotal.WithLabelValues(backend, result)
}

// Records returns the in-memory record gauge.
func Records() prometheus.Gauge {
	return records
}
