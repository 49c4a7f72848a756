// Package metrics provides Prometheus metrics for lanlobby.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "lanlobby"
)

// Metrics contains all Prometheus metrics for the directory daemon.
type Metrics struct {
	// Directory metrics
	AccountsTotal      prometheus.Gauge
	AccountsOnline     prometheus.Gauge
	RegistrationsTotal prometheus.Counter
	LoginsTotal        prometheus.Counter
	LoginFailures      *prometheus.CounterVec
	HeartbeatsTotal    prometheus.Counter
	ReapedTotal        prometheus.Counter

	// Session handler metrics
	ConnectionsActive prometheus.Gauge
	ConnectionsTotal  prometheus.Counter
	RequestsTotal     *prometheus.CounterVec
	BadRequestsTotal  prometheus.Counter

	// Snapshot metrics
	SnapshotWrites  prometheus.Counter
	SnapshotErrors  prometheus.Counter
	SnapshotLatency prometheus.Histogram
}

var (
	defaultMetrics *Metrics
	metricsOnce    sync.Once
)

// Default returns the default metrics instance.
func Default() *Metrics {
	metricsOnce.Do(func() {
		defaultMetrics = NewMetrics()
	})
	return defaultMetrics
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates a new Metrics instance with a custom registry.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		AccountsTotal: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "accounts_total",
			Help:      "Number of registered accounts",
		}),
		AccountsOnline: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "accounts_online",
			Help:      "Number of accounts currently marked online",
		}),
		RegistrationsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registrations_total",
			Help:      "Total successful account registrations",
		}),
		LoginsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "Total successful logins",
		}),
		LoginFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "login_failures_total",
			Help:      "Total failed logins by reason",
		}, []string{"reason"}),
		HeartbeatsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeats_total",
			Help:      "Total heartbeat updates processed",
		}),
		ReapedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reaped_total",
			Help:      "Total accounts demoted to offline by the presence reaper",
		}),

		ConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Number of currently open client connections",
		}),
		ConnectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Total client connections accepted",
		}),
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total directory requests by command and status",
		}, []string{"cmd", "status"}),
		BadRequestsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bad_requests_total",
			Help:      "Total malformed requests answered with BAD_REQUEST",
		}),

		SnapshotWrites: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_writes_total",
			Help:      "Total account snapshot writes",
		}),
		SnapshotErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_errors_total",
			Help:      "Total failed account snapshot writes",
		}),
		SnapshotLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "snapshot_write_seconds",
			Help:      "Account snapshot write latency",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}
