package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the pipeline.
type Metrics struct {
	// Ingestion metrics
	RowsRead         prometheus.Counter
	RowsDropped      *prometheus.CounterVec
	FieldDefaults    *prometheus.CounterVec
	EventsInserted   prometheus.Counter
	PurchasesKept    prometheus.Counter
	PurchasesDeduped prometheus.Counter
	ChunksCommitted  prometheus.Counter

	// Transaction metrics
	TransactionRollbacks *prometheus.CounterVec

	// Stage metrics
	StageDuration *prometheus.HistogramVec

	// Output metrics
	UsersTotal   prometheus.Gauge
	LTVRowsTotal prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		RowsRead: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rows_read_total",
				Help:      "Total raw input rows read",
			},
		),
		RowsDropped: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rows_dropped_total",
				Help:      "Rows dropped as unusable",
			},
			[]string{"reason"},
		),
		FieldDefaults: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "field_defaults_total",
				Help:      "Fields substituted with defaults during normalization",
			},
			[]string{"field"},
		),
		EventsInserted: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_inserted_total",
				Help:      "Events written to the canonical store",
			},
		),
		PurchasesKept: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "purchases_inserted_total",
				Help:      "Purchases written after deduplication",
			},
		),
		PurchasesDeduped: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "purchases_deduplicated_total",
				Help:      "Purchase rows discarded as duplicates",
			},
		),
		ChunksCommitted: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "chunks_committed_total",
				Help:      "Chunk transactions committed",
			},
		),
		TransactionRollbacks: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transaction_rollbacks_total",
				Help:      "Table-replacement transactions rolled back",
			},
			[]string{"stage"},
		),
		StageDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Duration of each pipeline stage",
				Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
			},
			[]string{"stage"},
		),
		UsersTotal: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "users_total",
				Help:      "Users in the canonical store after the run",
			},
		),
		LTVRowsTotal: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "user_ltv_rows_total",
				Help:      "UserLTV rows produced by the run",
			},
		),
	}
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// All record helpers tolerate a nil receiver so components can run
// without a registry (tests respawn components, promauto registers
// globally).

// RecordRead records one raw input row.
func (m *Metrics) RecordRead() {
	if m == nil {
		return
	}
	m.RowsRead.Inc()
}

// RecordDrop records one dropped row.
func (m *Metrics) RecordDrop(reason string) {
	if m == nil {
		return
	}
	m.RowsDropped.WithLabelValues(reason).Inc()
}

// RecordDefault records one defaulted field.
func (m *Metrics) RecordDefault(field string) {
	if m == nil {
		return
	}
	m.FieldDefaults.WithLabelValues(field).Inc()
}

// RecordChunk records one committed chunk.
func (m *Metrics) RecordChunk(events, purchases, duplicates int) {
	if m == nil {
		return
	}
	m.ChunksCommitted.Inc()
	m.EventsInserted.Add(float64(events))
	m.PurchasesKept.Add(float64(purchases))
	m.PurchasesDeduped.Add(float64(duplicates))
}

// RecordStage records the duration of a completed pipeline stage.
func (m *Metrics) RecordStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordRollback records a rolled-back table-replacement transaction.
func (m *Metrics) RecordRollback(stage string) {
	if m == nil {
		return
	}
	m.TransactionRollbacks.WithLabelValues(stage).Inc()
}

// SetTotals records the post-run collection sizes.
func (m *Metrics) SetTotals(users, ltvRows int) {
	if m == nil {
		return
	}
	m.UsersTotal.Set(float64(users))
	m.LTVRowsTotal.Set(float64(ltvRows))
}
