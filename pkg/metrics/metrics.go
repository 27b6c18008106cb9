// Package metrics exposes prometheus instrumentation for the compliance engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MonitorRuns counts monitor executions by outcome. A compliance
	// violation is a normal run outcome, not a failed run.
	MonitorRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "emoney",
		Subsystem: "compliance",
		Name:      "monitor_runs_total",
		Help:      "Monitor executions partitioned by monitor and outcome",
	}, []string{"monitor", "outcome"})

	// Violations counts compliance violations found by the monitors.
	Violations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "emoney",
		Subsystem: "compliance",
		Name:      "violations_total",
		Help:      "Compliance violations found, by monitor and kind",
	}, []string{"monitor", "kind"})

	// SettlementItems counts individual settlement rail outcomes.
	SettlementItems = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "emoney",
		Subsystem: "settlement",
		Name:      "items_total",
		Help:      "Settlement transactions by rail outcome",
	}, []string{"result"})

	// HealthSamples counts ingested health-check samples.
	HealthSamples = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "emoney",
		Subsystem: "availability",
		Name:      "health_samples_total",
		Help:      "Health-check samples recorded, by check type and status",
	}, []string{"check_type", "status"})

	// DormancyTransitions counts applied wallet dormancy transitions.
	DormancyTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "emoney",
		Subsystem: "dormancy",
		Name:      "transitions_total",
		Help:      "Wallet dormancy transitions applied, by target state",
	}, []string{"to"})
)
