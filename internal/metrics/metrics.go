// Package metrics holds the Prometheus collectors exported at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	IngestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shaayud_ingests_total",
		Help: "Total number of ingest calls, labelled by outcome.",
	}, []string{"outcome"})

	IngestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "shaayud_ingest_duration_ms",
		Help:    "End-to-end ingest latency in milliseconds, admission wait included.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	})

	AdmissionWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "shaayud_admission_wait_ms",
		Help:    "Time spent queued for a graph transaction slot, in milliseconds.",
		Buckets: []float64{0.1, 1, 5, 10, 50, 100, 500, 1000, 5000},
	})

	GraphFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shaayud_graph_failures_total",
		Help: "Total number of failed graph transactions, labelled by phase.",
	}, []string{"phase"})

	InFlightTx = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "shaayud_graph_inflight_transactions",
		Help: "Graph transactions currently admitted.",
	})

	RulesMatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shaayud_rules_matched_total",
		Help: "Total number of rule matches, labelled by rule ID.",
	}, []string{"rule_id"})

	Verdicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shaayud_verdicts_total",
		Help: "Total number of scored events, labelled by verdict.",
	}, []string{"verdict"})

	ParamsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shaayud_graph_params_dropped_total",
		Help: "Graph parameters bound as null because their shape is unsupported.",
	}, []string{"param"})

	SideEffectFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shaayud_side_effect_failures_total",
		Help: "Best-effort post-commit failures, labelled by target (journal, bus, velocity).",
	}, []string{"target"})
)
