package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/firebird631/siis-rev/internal/domain/models"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	ticksTotal    *prometheus.CounterVec
	ohlcClosed    *prometheus.CounterVec
	anomalies     *prometheus.CounterVec
	flushRows     *prometheus.CounterVec
	flushErrors   *prometheus.CounterVec
	flushDuration *prometheus.HistogramVec
	pendingRows   *prometheus.GaugeVec
}

// New creates a new Prometheus metrics recorder.
func New() *Recorder {
	return &Recorder{
		ticksTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "siis_ticks_total",
				Help: "Total number of ticks ingested",
			},
			[]string{"market"},
		),
		ohlcClosed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "siis_ohlc_closed_total",
				Help: "Total number of candles consolidated",
			},
			[]string{"market", "timeframe"},
		),
		anomalies: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "siis_anomalies_total",
				Help: "Total number of dropped or malformed inputs",
			},
			[]string{"kind"},
		),
		flushRows: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "siis_flush_rows_total",
				Help: "Total number of rows flushed to the backend",
			},
			[]string{"kind"},
		),
		flushErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "siis_flush_errors_total",
				Help: "Total number of failed flush batches",
			},
			[]string{"kind"},
		),
		flushDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "siis_flush_duration_seconds",
				Help:    "Duration of backend flush batches in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		pendingRows: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "siis_pending_rows",
				Help: "Rows buffered in the write-behind store",
			},
			[]string{"kind"},
		),
	}
}

// RecordTick counts one ingested tick.
func (r *Recorder) RecordTick(marketID string) {
	r.ticksTotal.WithLabelValues(marketID).Inc()
}

// RecordOhlcClosed counts one consolidated candle.
func (r *Recorder) RecordOhlcClosed(marketID string, tf models.Timeframe) {
	r.ohlcClosed.WithLabelValues(marketID, tf.String()).Inc()
}

// RecordAnomaly counts one dropped or malformed input.
func (r *Recorder) RecordAnomaly(kind string) {
	r.anomalies.WithLabelValues(kind).Inc()
}

// RecordFlush records one successful flush batch.
func (r *Recorder) RecordFlush(kind string, rows int, seconds float64) {
	r.flushRows.WithLabelValues(kind).Add(float64(rows))
	r.flushDuration.WithLabelValues(kind).Observe(seconds)
}

// RecordFlushError counts one failed flush batch.
func (r *Recorder) RecordFlushError(kind string) {
	r.flushErrors.WithLabelValues(kind).Inc()
}

// SetPending reports the current pending row count of one kind.
func (r *Recorder) SetPending(kind string, n int) {
	r.pendingRows.WithLabelValues(kind).Set(float64(n))
}
