// Package metrics exposes Prometheus collectors for the archive pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics satisfies both job.Observer and dispatcher.Gauges.
type Metrics struct {
	reg *prometheus.Registry

	jobsTotal   *prometheus.CounterVec
	imagesTotal *prometheus.CounterVec
	bytesTotal  prometheus.Counter
	queueDepth  prometheus.Gauge
	batchSize   prometheus.Gauge
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		jobsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archivist_jobs_total",
				Help: "Jobs that reached a terminal state, labeled by state.",
			},
			[]string{"state"},
		),
		imagesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archivist_images_total",
				Help: "Images handled by the worker pool, labeled by outcome.",
			},
			[]string{"outcome"},
		),
		bytesTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "archivist_bytes_total",
			Help: "Image bytes written to disk.",
		}),
		queueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "archivist_queue_depth",
			Help: "Jobs waiting in the dispatcher queue.",
		}),
		batchSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "archivist_batch_size",
			Help: "Size of the most recent dispatcher batch.",
		}),
	}
}

func (m *Metrics) JobFinished(state string) {
	m.jobsTotal.WithLabelValues(state).Inc()
}

func (m *Metrics) ImagesFetched(downloaded, skipped, failed int, bytes int64) {
	m.imagesTotal.WithLabelValues("downloaded").Add(float64(downloaded))
	m.imagesTotal.WithLabelValues("skipped").Add(float64(skipped))
	m.imagesTotal.WithLabelValues("failed").Add(float64(failed))
	if bytes > 0 {
		m.bytesTotal.Add(float64(bytes))
	}
}

func (m *Metrics) QueueDepth(n int) { m.queueDepth.Set(float64(n)) }
func (m *Metrics) BatchSize(n int)  { m.batchSize.Set(float64(n)) }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }
