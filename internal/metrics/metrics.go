// Package metrics holds Prometheus instruments that are used across
// hostbus.  All collectors are registered with the global registry, so
// importing this package in main.go is enough to expose them on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	DeploymentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deployments_total",
			Help: "Deployment attempts by terminal status.",
		}, []string{"status"})

	DeploymentsRejectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "deployments_rejected_total",
			Help: "Deploy requests rejected because the app was busy.",
		})

	DeploymentsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "deployments_in_flight",
			Help: "Deployments currently holding an app lock.",
		})

	DeploymentDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "deployment_duration_seconds",
			Help:    "Wall time of one deployment attempt.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		})

	MigrationWarningsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "migration_warnings_total",
			Help: "Best-effort migration steps that failed during deploy.",
		})

	TenantResolveTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tenant_resolve_total",
			Help: "Cumulative number of tenant contexts resolved.",
		})

	TenantResolveErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tenant_resolve_errors_total",
			Help: "Cumulative number of tenant resolution errors.",
		})
)

func init() {
	prometheus.MustRegister(
		DeploymentsTotal,
		DeploymentsRejectedTotal,
		DeploymentsInFlight,
		DeploymentDuration,
		MigrationWarningsTotal,
		TenantResolveTotal,
		TenantResolveErrorsTotal,
	)
}
