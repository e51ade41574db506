// Package metrics exposes the agent's operational counters via
// prometheus/client_golang, promoted from the teacher's agent go.mod
// dependency (previously wired to a dead heartbeat stub) into live
// executor instrumentation.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// ExecutionsTotal counts operation executions by kind and outcome
// (completed/failed), incremented from the Agent Operation Executor.
var ExecutionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "vaultline_agent_executions_total",
		Help: "Total number of backup-tool operation executions by kind and outcome.",
	},
	[]string{"kind", "outcome"},
)

// ChannelReconnectsTotal counts Control Channel Client reconnect attempts.
var ChannelReconnectsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "vaultline_agent_channel_reconnects_total",
		Help: "Total number of control channel reconnect attempts.",
	},
)

func init() {
	prometheus.MustRegister(ExecutionsTotal, ChannelReconnectsTotal)
}
