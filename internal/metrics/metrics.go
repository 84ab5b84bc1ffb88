// Package metrics exposes counters for lifecycle sagas and integrity scans.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	ItemsCreated  prometheus.Counter
	Observations  prometheus.Counter
	Compensations *prometheus.CounterVec
	ScanOrphans   prometheus.Gauge
	ScanMissing   prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ItemsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "berrytrace_items_created_total",
			Help: "Items created successfully.",
		}),
		Observations: factory.NewCounter(prometheus.CounterOpts{
			Name: "berrytrace_observations_total",
			Help: "Observation records created successfully.",
		}),
		Compensations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "berrytrace_compensations_total",
			Help: "Compensating actions fired after a saga step failed.",
		}, []string{"saga"}),
		ScanOrphans: factory.NewGauge(prometheus.GaugeOpts{
			Name: "berrytrace_scan_orphaned_artifacts",
			Help: "Orphaned artifacts found by the last integrity scan.",
		}),
		ScanMissing: factory.NewGauge(prometheus.GaugeOpts{
			Name: "berrytrace_scan_missing_artifacts",
			Help: "Referenced-but-missing artifacts found by the last integrity scan.",
		}),
	}
}
