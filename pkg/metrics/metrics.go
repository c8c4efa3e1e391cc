package metrics

import (
	"errors"
	"os"
	"time"

	"github.com/jeremyhahn/go-trusted-pki/pkg/pki"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	Namespace = "pki"

	ClassParse       = "parse"
	ClassInput       = "input"
	ClassUnsupported = "unsupported"
	ClassIO          = "io"
	ClassOther       = "other"
)

// Metrics holds the builder and store collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	builds   *prometheus.CounterVec
	failures *prometheus.CounterVec
	duration *prometheus.HistogramVec
	storeOps *prometheus.CounterVec
}

// Creates the collectors and registers them with the registerer. A nil
// registerer leaves the collectors unregistered.
func New(registerer prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		builds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "builder",
			Name:      "builds_total",
			Help:      "Number of builder invocations that produced an artifact.",
		}, []string{"builder"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "builder",
			Name:      "failures_total",
			Help:      "Number of failed builder invocations by error class.",
		}, []string{"builder", "class"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "builder",
			Name:      "duration_seconds",
			Help:      "Builder invocation latency.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"builder"}),
		storeOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "store",
			Name:      "operations_total",
			Help:      "Number of certificate store operations.",
		}, []string{"store", "op"}),
	}
	if registerer == nil {
		return m, nil
	}
	for _, c := range m.collectors() {
		if err := registerer.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{m.builds, m.failures, m.duration, m.storeOps}
}

// Records the outcome and latency of a builder invocation
func (m *Metrics) ObserveBuild(builder string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(builder).Observe(time.Since(start).Seconds())
	if err != nil {
		m.failures.WithLabelValues(builder, ErrorClass(err)).Inc()
		return
	}
	m.builds.WithLabelValues(builder).Inc()
}

func (m *Metrics) StoreOperation(store, op string) {
	if m == nil {
		return
	}
	m.storeOps.WithLabelValues(store, op).Inc()
}

// Maps an error to its failure class label
func ErrorClass(err error) string {
	var pathErr *os.PathError
	switch {
	case errors.Is(err, pki.ErrNotRecognized):
		return ClassParse
	case errors.Is(err, pki.ErrUnsupported):
		return ClassUnsupported
	case errors.Is(err, pki.ErrInvalidInput), errors.Is(err, pki.ErrIssuerKeyNotFound):
		return ClassInput
	case errors.As(err, &pathErr):
		return ClassIO
	}
	return ClassOther
}
