// Package metrics exposes Prometheus metrics for the storage node.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rxanders35/fdfs/pkg/volume_server"
	"github.com/rxanders35/fdfs/pkg/volume_server/binlog"
)

// Metrics holds all Prometheus metrics for a volume server.
type Metrics struct {
	// Request metrics
	RequestsTotal   *prometheus.CounterVec   // fdfs_requests_total{operation,status}
	RequestDuration *prometheus.HistogramVec // fdfs_request_duration_seconds{operation}

	// Transfer metrics
	BytesWritten prometheus.Counter // fdfs_bytes_written_total
	BytesRead    prometheus.Counter // fdfs_bytes_read_total

	// Volume metrics
	FilesCreated  *prometheus.CounterVec // fdfs_files_created_total{volume}
	FilesDeleted  *prometheus.CounterVec // fdfs_files_deleted_total{volume}
	VolumeUsed    *prometheus.GaugeVec   // fdfs_volume_used_bytes{volume}
	VolumeCapacity *prometheus.GaugeVec   // fdfs_volume_capacity_bytes{volume}
}

// New registers the metrics with registry, or the default registerer when
// registry is nil.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	f := promauto.With(registry)

	return &Metrics{
		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fdfs_requests_total",
			Help: "Total requests by operation and status",
		}, []string{"operation", "status"}),

		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fdfs_request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),

		BytesWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "fdfs_bytes_written_total",
			Help: "Total bytes committed to volumes",
		}),

		BytesRead: f.NewCounter(prometheus.CounterOpts{
			Name: "fdfs_bytes_read_total",
			Help: "Total bytes served from volumes",
		}),

		FilesCreated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fdfs_files_created_total",
			Help: "Files committed per volume",
		}, []string{"volume"}),

		FilesDeleted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fdfs_files_deleted_total",
			Help: "Files deleted per volume",
		}, []string{"volume"}),

		VolumeUsed: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fdfs_volume_used_bytes",
			Help: "Bytes accounted to each volume",
		}, []string{"volume"}),

		VolumeCapacity: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fdfs_volume_capacity_bytes",
			Help: "Configured capacity of each volume (0 = unbounded)",
		}, []string{"volume"}),
	}
}

// RecordRequest records a request metric.
func (m *Metrics) RecordRequest(operation, status string, durationSeconds float64) {
	m.RequestsTotal.WithLabelValues(operation, status).Inc()
	m.RequestDuration.WithLabelValues(operation).Observe(durationSeconds)
}

func (m *Metrics) RecordRead(bytes int) {
	m.BytesRead.Add(float64(bytes))
}

// SetVolumes refreshes the per-volume gauges from a registry snapshot.
func (m *Metrics) SetVolumes(stats []volume_server.VolumeStat) {
	for _, s := range stats {
		m.VolumeUsed.WithLabelValues(s.Name).Set(float64(s.Used))
		m.VolumeCapacity.WithLabelValues(s.Name).Set(float64(s.Capacity))
	}
}

// Observe implements volume_server.Observer.
func (m *Metrics) Observe(_ context.Context, ev volume_server.Event) error {
	switch ev.Op {
	case binlog.Create:
		m.BytesWritten.Add(float64(ev.Size))
		m.FilesCreated.WithLabelValues(ev.Volume).Inc()
	case binlog.Delete:
		m.FilesDeleted.WithLabelValues(ev.Volume).Inc()
	}
	m.VolumeUsed.WithLabelValues(ev.Volume).Set(float64(ev.VolumeUsed))
	return nil
}
