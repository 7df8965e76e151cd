// Package metrics exposes a Server's lifetime counters as Prometheus
// collectors, scrapeable by any standard Prometheus deployment.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the process-lifetime counters and gauges a Server updates
// as it serves requests. Register it with MustRegister against a
// prometheus.Registerer of the caller's choice and expose it with promhttp
// in the hosting binary.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ActiveRequests  prometheus.Gauge

	UploadsTotal  prometheus.Counter
	UploadsFailed prometheus.Counter
	BytesUploaded prometheus.Counter

	CompressionsTotal prometheus.CounterVec
	BytesCompressedIn prometheus.Counter
	BytesCompressedOut prometheus.Counter

	ConnectionsActive prometheus.Gauge
	ConnectionsTotal  prometheus.Counter
}

// New constructs a Metrics instance with all collectors created but not
// yet registered.
func New() *Metrics {
	return &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sagui",
			Name:      "requests_total",
			Help:      "Total HTTP requests dispatched, labeled by method and status class.",
		}, []string{"method", "status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sagui",
			Name:      "request_duration_seconds",
			Help:      "Request handling latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sagui",
			Name:      "active_requests",
			Help:      "Requests currently being handled.",
		}),
		UploadsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sagui",
			Name:      "uploads_total",
			Help:      "File parts spooled by the upload engine.",
		}),
		UploadsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sagui",
			Name:      "uploads_failed_total",
			Help:      "File parts that failed to spool or save.",
		}),
		BytesUploaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sagui",
			Name:      "bytes_uploaded_total",
			Help:      "Bytes written to upload temp storage.",
		}),
		CompressionsTotal: *prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sagui",
			Name:      "compressions_total",
			Help:      "Compressed responses sent, labeled by encoding.",
		}, []string{"encoding"}),
		BytesCompressedIn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sagui",
			Name:      "compressed_bytes_in_total",
			Help:      "Uncompressed bytes fed into the response compressor.",
		}),
		BytesCompressedOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sagui",
			Name:      "compressed_bytes_out_total",
			Help:      "Compressed bytes written to the wire.",
		}),
		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sagui",
			Name:      "connections_active",
			Help:      "TCP connections currently open.",
		}),
		ConnectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sagui",
			Name:      "connections_total",
			Help:      "TCP connections accepted since start.",
		}),
	}
}

// MustRegister registers every collector against reg, panicking on
// duplicate registration the way prometheus.MustRegister always does.
func (m *Metrics) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.ActiveRequests,
		m.UploadsTotal,
		m.UploadsFailed,
		m.BytesUploaded,
		&m.CompressionsTotal,
		m.BytesCompressedIn,
		m.BytesCompressedOut,
		m.ConnectionsActive,
		m.ConnectionsTotal,
	)
}
