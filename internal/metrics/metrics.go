package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// HTTP метрики
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "http_request_duration_seconds",
			Help: "Duration of HTTP requests in seconds",
		},
		[]string{"method", "path"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Current number of HTTP requests in flight",
		},
	)

	// wg-easy API метрики
	WGAPIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wg_api_requests_total",
			Help: "Total number of wg-easy API requests",
		},
		[]string{"server_id", "endpoint", "status"},
	)
	WGAPIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "wg_api_request_duration_seconds",
			Help: "Duration of wg-easy API requests in seconds",
		},
		[]string{"server_id", "endpoint"},
	)

	// Метрики планировщика
	SweepRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sweep_runs_total",
			Help: "Total number of reconciliation sweep runs",
		},
		[]string{"sweep"},
	)
	SweepSubscriptionsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sweep_subscriptions_processed_total",
			Help: "Subscriptions processed by reconciliation sweeps",
		},
		[]string{"sweep", "result"},
	)
	NotificationsSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_sent_total",
			Help: "Notifications handed to the notifier, by category",
		},
		[]string{"category"},
	)

	// Метрики пула серверов
	PoolServers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pool_servers",
			Help: "Number of registered wg-easy servers",
		},
	)
	PoolClientsCount = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pool_clients_count",
			Help: "Cached clients count per server",
		},
		[]string{"server_id"},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		HTTPRequestsInFlight,
		WGAPIRequestsTotal,
		WGAPIRequestDuration,
		SweepRunsTotal,
		SweepSubscriptionsProcessed,
		NotificationsSentTotal,
		PoolServers,
		PoolClientsCount,
	)
}
