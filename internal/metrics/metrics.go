// Package metrics provides Prometheus metrics for agentloom.
// Labels stay low-cardinality: no session or connection ids.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsAppendedTotal counts appended events by type and append mode
	// (live, replay, global).
	EventsAppendedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentloom_events_appended_total",
		Help: "Total number of events appended to the event log, by type and mode.",
	}, []string{"type", "mode"})

	// CommandsTotal counts dispatched commands by outcome (ok, rejected, failed).
	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentloom_commands_total",
		Help: "Total number of dispatched commands, by command and outcome.",
	}, []string{"command", "outcome"})

	ProcessorFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentloom_processor_failures_total",
		Help: "Total number of processor invocations that returned an error, by processor.",
	}, []string{"processor"})

	RelayConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "agentloom_relay_connections",
		Help: "Current number of connected relay clients.",
	})

	RelayDraining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "agentloom_relay_draining",
		Help: "Current number of relay connections waiting for write readiness.",
	})

	// RelayDroppedTotal counts abandoned relay queues by reason (dropped, closed, encode).
	RelayDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentloom_relay_dropped_total",
		Help: "Total number of relay connections whose pending queue was abandoned, by reason.",
	}, []string{"reason"})

	TurnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentloom_agent_turns_total",
		Help: "Total number of agent turns run by the bridge, by outcome.",
	}, []string{"outcome"})

	LLMRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agentloom_llm_retries_total",
		Help: "Total number of model calls retried after a transient failure.",
	})
)
