package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// CourierCallTotal counts outbound courier API calls by operation and outcome.
	CourierCallTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "courier_call_total",
		Help: "Count of outbound courier API calls by outcome.",
	}, []string{"provider", "op", "result"})
	// CourierCallDuration records courier call latency in seconds.
	CourierCallDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "courier_call_duration_seconds",
		Help:    "Latency of outbound courier API calls in seconds.",
		Buckets: []float64{0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"provider", "op"})
	// ShipmentCreatedTotal counts shipment creation attempts by provider and outcome.
	ShipmentCreatedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "shipment_created_total",
		Help: "Count of shipment creation attempts by outcome.",
	}, []string{"provider", "result"})
	// ReconcileTotal counts order-status reconciliation outcomes.
	ReconcileTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reconcile_total",
		Help: "Count of order reconciliation outcomes.",
	}, []string{"result"})
	// CourierWebhookTotal counts inbound courier webhook processing outcomes.
	CourierWebhookTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "courier_webhook_total",
		Help: "Count of processed courier webhooks by outcome.",
	}, []string{"provider", "result"})
	// RefreshTasksTotal counts background status-refresh task outcomes.
	RefreshTasksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "refresh_tasks_total",
		Help: "Count of background shipment refresh task outcomes.",
	}, []string{"result"})
)

// MustRegisterDomainMetrics registers the delivery-domain collectors exactly
// once. Collectors are usable before registration so unit tests need no setup.
func MustRegisterDomainMetrics(reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		reg.MustRegister(CourierCallTotal, CourierCallDuration, ShipmentCreatedTotal,
			ReconcileTotal, CourierWebhookTotal, RefreshTasksTotal)
	})
}
