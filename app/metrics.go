package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the replicate service collectors. They are registered on the
// registerer handed to NewMetrics so that tests can use private registries.
type Metrics struct {
	replicates *prometheus.CounterVec
	targets    *prometheus.CounterVec
	pvalues    *prometheus.HistogramVec
	duration   *prometheus.HistogramVec
}

// NewMetrics creates and registers the replicate collectors
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		// Labels: scenario, result ("ok", "failed")
		replicates: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "selinf_replicates_total",
			Help: "Replicates run by scenario and result",
		}, []string{"scenario", "result"}),

		// Labels: scenario, status ("computed", "skipped")
		targets: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "selinf_targets_total",
			Help: "Tested targets by scenario and status",
		}, []string{"scenario", "status"}),

		// Labels: scenario, hypothesis ("null", "alternative")
		pvalues: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "selinf_pvalues",
			Help:    "Selective p-values by hypothesis",
			Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
		}, []string{"scenario", "hypothesis"}),

		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "selinf_replicate_duration_seconds",
			Help:    "Wall time of one replicate",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"scenario"}),
	}
}
