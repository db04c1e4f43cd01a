package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome label values.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
	OutcomeIgnored = "ignored"
)

// Delivery label values for broker messages.
const (
	DeliveryAcked    = "acked"
	DeliveryDropped  = "dropped"
	DeliveryRequeued = "requeued"
)

// Metrics holds the Prometheus collectors for storage, ingestion and notifications.
// All recorder methods are safe to call on a nil *Metrics.
type Metrics struct {
	StorageOperationsTotal   *prometheus.CounterVec
	StorageOperationDuration *prometheus.HistogramVec
	StorageFallbacksTotal    *prometheus.CounterVec
	StorageState             *prometheus.GaugeVec
	StorageUnreplicated      prometheus.Gauge

	EventsProcessedTotal *prometheus.CounterVec
	EventDuration        *prometheus.HistogramVec

	NotificationsTotal *prometheus.CounterVec

	BusDeliveriesTotal *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg when it is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		StorageOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billsync_storage_operations_total",
				Help: "Storage backend operations by backend, operation and outcome",
			},
			[]string{"backend", "op", "outcome"},
		),
		StorageOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "billsync_storage_operation_duration_seconds",
				Help:    "Storage backend operation latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"backend", "op"},
		),
		StorageFallbacksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billsync_storage_fallbacks_total",
				Help: "Operations served by the local store after a primary failure",
			},
			[]string{"op"},
		),
		StorageState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "billsync_storage_state",
				Help: "Current storage facade state (1 for the active state)",
			},
			[]string{"state"},
		),
		StorageUnreplicated: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "billsync_storage_unreplicated_collections",
				Help: "Collections holding local writes the primary has not seen yet",
			},
		),
		EventsProcessedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billsync_events_processed_total",
				Help: "Billing events processed by type and outcome",
			},
			[]string{"type", "outcome"},
		),
		EventDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "billsync_event_duration_seconds",
				Help:    "Billing event processing latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"type"},
		),
		NotificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billsync_notifications_total",
				Help: "Transactional notifications by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		BusDeliveriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billsync_bus_deliveries_total",
				Help: "Broker deliveries by event type and disposition",
			},
			[]string{"type", "disposition"},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.StorageOperationsTotal,
			m.StorageOperationDuration,
			m.StorageFallbacksTotal,
			m.StorageState,
			m.StorageUnreplicated,
			m.EventsProcessedTotal,
			m.EventDuration,
			m.NotificationsTotal,
			m.BusDeliveriesTotal,
		)
	}

	return m
}

// RecordStorageOperation records one backend call.
func (m *Metrics) RecordStorageOperation(backend, op string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	m.StorageOperationsTotal.WithLabelValues(backend, op, outcome(err)).Inc()
	m.StorageOperationDuration.WithLabelValues(backend, op).Observe(duration.Seconds())
}

// RecordFallback records an operation that was redirected to the local store.
func (m *Metrics) RecordFallback(op string) {
	if m == nil {
		return
	}
	m.StorageFallbacksTotal.WithLabelValues(op).Inc()
}

// SetStorageState marks state as the single active facade state.
func (m *Metrics) SetStorageState(state string) {
	if m == nil {
		return
	}
	m.StorageState.Reset()
	m.StorageState.WithLabelValues(state).Set(1)
}

// SetUnreplicated sets the number of collections awaiting replication to the primary.
func (m *Metrics) SetUnreplicated(n int) {
	if m == nil {
		return
	}
	m.StorageUnreplicated.Set(float64(n))
}

// RecordEvent records the processing of one billing event.
func (m *Metrics) RecordEvent(eventType, result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.EventsProcessedTotal.WithLabelValues(eventType, result).Inc()
	m.EventDuration.WithLabelValues(eventType).Observe(duration.Seconds())
}

// RecordNotification records a notifier dispatch.
func (m *Metrics) RecordNotification(kind string, err error) {
	if m == nil {
		return
	}
	m.NotificationsTotal.WithLabelValues(kind, outcome(err)).Inc()
}

// RecordDelivery records how a broker delivery was settled.
func (m *Metrics) RecordDelivery(eventType, disposition string) {
	if m == nil {
		return
	}
	m.BusDeliveriesTotal.WithLabelValues(eventType, disposition).Inc()
}

func outcome(err error) string {
	if err != nil {
		return OutcomeError
	}
	return OutcomeSuccess
}
