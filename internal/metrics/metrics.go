// Package metrics exposes recorder health on a private Prometheus registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the recorder's gauges and counters. A nil *Metrics is a
// valid no-op.
type Metrics struct {
	registry *prometheus.Registry

	pipelineState   *prometheus.GaugeVec
	restartsTotal   prometheus.Counter
	storagePresent  prometheus.Gauge
	indicatorSignal *prometheus.GaugeVec
	segmentsTotal   *prometheus.CounterVec
	archiveErrors   prometheus.Counter
	spoolPending    prometheus.Gauge
	streamSegments  prometheus.Gauge
	gpsFix          prometheus.Gauge
}

// New creates and registers the recorder metrics.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		pipelineState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "picam_pipeline_state",
			Help: "1 for the current pipeline state, 0 for all others",
		}, []string{"state"}),
		restartsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "picam_encoder_restarts_total",
			Help: "Total number of automatic encoder restarts",
		}),
		storagePresent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "picam_storage_present",
			Help: "1 while the archival storage is mounted and writable",
		}),
		indicatorSignal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "picam_indicator_signal",
			Help: "1 for the current indicator signal, 0 for all others",
		}, []string{"signal"}),
		segmentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "picam_segments_total",
			Help: "Archival segments by outcome",
		}, []string{"outcome"}),
		archiveErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "picam_archive_write_errors_total",
			Help: "Total number of failed archival writes",
		}),
		spoolPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "picam_spool_pending_segments",
			Help: "Closed segments waiting in the local spool",
		}),
		streamSegments: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "picam_stream_playlist_segments",
			Help: "Segments listed in the live playlist",
		}),
		gpsFix: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "picam_gps_fix",
			Help: "1 while the GNSS receiver reports a usable fix",
		}),
	}

	registry.MustRegister(
		m.pipelineState,
		m.restartsTotal,
		m.storagePresent,
		m.indicatorSignal,
		m.segmentsTotal,
		m.archiveErrors,
		m.spoolPending,
		m.streamSegments,
		m.gpsFix,
	)
	return m
}

// SetPipelineState marks state as current among all known states.
func (m *Metrics) SetPipelineState(state string, all []string) {
	if m == nil {
		return
	}
	setOneHot(m.pipelineState, state, all)
}

// IncRestarts counts an automatic restart.
func (m *Metrics) IncRestarts() {
	if m == nil {
		return
	}
	m.restartsTotal.Inc()
}

// SetStoragePresent records the storage state.
func (m *Metrics) SetStoragePresent(present bool) {
	if m == nil {
		return
	}
	m.storagePresent.Set(boolValue(present))
}

// SetIndicator marks signal as current among all signals.
func (m *Metrics) SetIndicator(signal string, all []string) {
	if m == nil {
		return
	}
	setOneHot(m.indicatorSignal, signal, all)
}

// IncSegment counts a segment outcome: closed, archived or dropped.
func (m *Metrics) IncSegment(outcome string) {
	if m == nil {
		return
	}
	m.segmentsTotal.WithLabelValues(outcome).Inc()
}

// IncArchiveErrors counts a failed archival write.
func (m *Metrics) IncArchiveErrors() {
	if m == nil {
		return
	}
	m.archiveErrors.Inc()
}

// SetSpoolPending records the spool backlog.
func (m *Metrics) SetSpoolPending(n int) {
	if m == nil {
		return
	}
	m.spoolPending.Set(float64(n))
}

// SetStreamSegments records the live playlist length.
func (m *Metrics) SetStreamSegments(n int) {
	if m == nil {
		return
	}
	m.streamSegments.Set(float64(n))
}

// SetGPSFix records whether a fix is available.
func (m *Metrics) SetGPSFix(fix bool) {
	if m == nil {
		return
	}
	m.gpsFix.Set(boolValue(fix))
}

// Handler serves the registry. updateGauges runs before each scrape.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func setOneHot(vec *prometheus.GaugeVec, current string, all []string) {
	for _, label := range all {
		vec.WithLabelValues(label).Set(boolValue(label == current))
	}
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
