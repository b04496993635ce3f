package chat

import "time"

// RollingContext summarizes recent activity around an inbound message. It is
// built by the ingestion path and treated as read-only by everything else.
type RollingContext struct {
	Now time.Time

	// Velocity is the number of inbound messages in the trailing minute.
	Velocity int
	// LastActivity is the arrival time of the previous inbound message.
	// The zero value means no activity has been seen yet.
	LastActivity time.Time

	StreamTopic      []string
	RecentTopics     []string
	RecentStatements []string
	OpenThreads      []string
}

// QuietFor returns how long chat has been silent as of Now. It returns zero
// when no activity has been recorded.
func (rc RollingContext) QuietFor() time.Duration {
	if rc.LastActivity.IsZero() {
		return 0
	}
	d := rc.Now.Sub(rc.LastActivity)
	if d < 0 {
		return 0
	}
	return d
}

// HasOpenThread reports whether the persona has an open exchange with authorID.
func (rc RollingContext) HasOpenThread(authorID string) bool {
	for _, id := range rc.OpenThreads {
		if id == authorID {
			return true
		}
	}
	return false
}

// Trend is a coarse direction of chat engagement.
type Trend string

const (
	TrendRising  Trend = "rising"
	TrendSteady  Trend = "steady"
	TrendFalling Trend = "falling"
)

// SourceStats aggregates one source's traffic over the emission window.
type SourceStats struct {
	Messages        int     `json:"messages"`
	AverageSalience float64 `json:"average_salience"`
}

// Snapshot is the aggregated view handed to context sinks and responders.
type Snapshot struct {
	ID              string                 `json:"id"`
	At              time.Time              `json:"at"`
	Sources         map[string]SourceStats `json:"sources"`
	TotalMessages   int                    `json:"total_messages"`
	AverageSalience float64                `json:"average_salience"`
	Sentiment       float64                `json:"sentiment"`
	Trend           Trend                  `json:"trend"`
	Velocity        int                    `json:"velocity"`
	AttentionState  string                 `json:"attention_state"`
	QueueDepth      int                    `json:"queue_depth"`
	RecentTopics    []string               `json:"recent_topics,omitempty"`
}
