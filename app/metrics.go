package app

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics tracks per-vendor delivery outcomes on a private registry.
type Metrics struct {
	registry         *prometheus.Registry
	total            *prometheus.CounterVec
	retries          *prometheus.CounterVec
	deliveryDuration *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		total: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "courier_notifications_total",
			Help: "Total notifications by vendor and outcome.",
		}, []string{"vendor_name", "status"}),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "courier_notifications_retry_total",
			Help: "Total scheduled notification retries by vendor.",
		}, []string{"vendor_name"}),
		deliveryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "courier_notification_delivery_duration_seconds",
			Help:    "Wall time of a single delivery attempt by vendor.",
			Buckets: prometheus.DefBuckets,
		}, []string{"vendor_name"}),
	}
}

func (m *Metrics) RecordReceived(vendorName string)  { m.record(vendorName, "received") }
func (m *Metrics) RecordPending(vendorName string)   { m.record(vendorName, "pending") }
func (m *Metrics) RecordDelivered(vendorName string) { m.record(vendorName, "delivered") }
func (m *Metrics) RecordFailed(vendorName string)    { m.record(vendorName, "failed") }

func (m *Metrics) record(vendorName, status string) {
	m.total.WithLabelValues(vendorName, status).Inc()
}

func (m *Metrics) RecordRetry(vendorName string) {
	m.retries.WithLabelValues(vendorName).Inc()
}

func (m *Metrics) ObserveDeliveryDuration(vendorName string, d time.Duration) {
	m.deliveryDuration.WithLabelValues(vendorName).Observe(d.Seconds())
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
