package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MessagesIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cortex_attention_messages_ingested_total",
			Help: "Messages accepted into the queue, by source",
		},
		[]string{"source"},
	)

	MessagesRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cortex_attention_messages_rejected_total",
			Help: "Messages rejected before scoring, by source and reason",
		},
		[]string{"source", "reason"},
	)

	SalienceScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cortex_attention_salience_score",
			Help:    "Distribution of total salience scores",
			Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
		},
	)

	MessagesByLevel = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cortex_attention_messages_by_level_total",
			Help: "Scored messages by priority level",
		},
		[]string{"level"},
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cortex_attention_queue_depth",
			Help: "Entries currently held by the priority queue",
		},
	)

	QueueEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cortex_attention_queue_evictions_total",
			Help: "Entries evicted because the queue was full",
		},
	)

	QueueExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cortex_attention_queue_expired_total",
			Help: "Entries removed by the age cleanup job",
		},
	)

	AttentionState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cortex_attention_state",
			Help: "1 for the live attention state, 0 otherwise",
		},
		[]string{"state"},
	)

	AttentionTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cortex_attention_transitions_total",
			Help: "Attention state transitions",
		},
		[]string{"from", "to", "reason"},
	)

	Interrupts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cortex_attention_interrupts_total",
			Help: "Interrupt signals raised, by kind",
		},
		[]string{"kind"},
	)

	ResponsesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cortex_attention_responses_sent_total",
			Help: "Responses delivered to a source",
		},
		[]string{"source"},
	)

	ResponsesFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cortex_attention_responses_failed_total",
			Help: "Responses that failed, by source and stage",
		},
		[]string{"source", "stage"},
	)

	ResponseLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "cortex_attention_response_latency_seconds",
			Help: "Time spent generating a response",
		},
	)

	TicksSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cortex_attention_ticks_skipped_total",
			Help: "Ticks skipped because the previous one was still running",
		},
		[]string{"tick"},
	)

	ConnectionStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cortex_attention_connection_status",
			Help: "Source connection status: 0 disconnected, 1 connecting, 2 connected, 3 exhausted",
		},
		[]string{"source"},
	)

	ConnectAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cortex_attention_connect_attempts_total",
			Help: "Connection attempts by source and result",
		},
		[]string{"source", "result"},
	)

	SnapshotsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cortex_attention_snapshots_emitted_total",
			Help: "Context snapshots handed to the sink, by result",
		},
		[]string{"result"},
	)
)

// SetAttentionState marks state as live and every other known state as idle.
func SetAttentionState(state string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		AttentionState.WithLabelValues(s).Set(v)
	}
}
