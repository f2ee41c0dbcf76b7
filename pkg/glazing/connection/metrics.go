package connection

import (
	"context"
	"time"

	"github.com/Avinash-jetwani/glazing-ai-bot/pkg/glazing"
	"github.com/Avinash-jetwani/glazing-ai-bot/pkg/glazing/o11y"
)

// Metric names recorded by the manager.
const (
	MetricConnectionAttempts = "glazing_connection_attempts_total"
	MetricReconnects         = "glazing_reconnects_scheduled_total"
	MetricRetriesExhausted   = "glazing_retries_exhausted_total"
	MetricFramesReceived     = "glazing_frames_received_total"
	MetricMessagesSent       = "glazing_messages_sent_total"
	MetricDecodeErrors       = "glazing_decode_errors_total"
	MetricHeartbeats         = "glazing_heartbeats_sent_total"
	MetricStateTransitions   = "glazing_state_transitions_total"
	MetricConnectDuration    = "glazing_connect_duration_seconds"
	MetricConnectionOpen     = "glazing_connection_open"
)

// managerMetrics is nil when no provider is configured; every method is a
// no-op on a nil receiver.
type managerMetrics struct {
	attempts        o11y.Counter
	reconnects      o11y.Counter
	exhausted       o11y.Counter
	framesReceived  o11y.Counter
	messagesSent    o11y.Counter
	decodeErrors    o11y.Counter
	heartbeats      o11y.Counter
	transitions     o11y.Counter
	connectDuration o11y.Histogram
	open            o11y.Gauge
}

func newManagerMetrics(provider o11y.MetricsProvider) *managerMetrics {
	if provider == nil {
		return nil
	}
	return &managerMetrics{
		attempts:        provider.Counter(MetricConnectionAttempts),
		reconnects:      provider.Counter(MetricReconnects),
		exhausted:       provider.Counter(MetricRetriesExhausted),
		framesReceived:  provider.Counter(MetricFramesReceived),
		messagesSent:    provider.Counter(MetricMessagesSent),
		decodeErrors:    provider.Counter(MetricDecodeErrors),
		heartbeats:      provider.Counter(MetricHeartbeats),
		transitions:     provider.Counter(MetricStateTransitions),
		connectDuration: provider.Histogram(MetricConnectDuration),
		open:            provider.Gauge(MetricConnectionOpen),
	}
}

func (mm *managerMetrics) connected(ctx context.Context, took time.Duration) {
	if mm == nil {
		return
	}
	mm.attempts.Add(ctx, 1, o11y.Label{Key: "result", Value: "success"})
	mm.connectDuration.Record(ctx, took.Seconds())
	mm.open.Set(ctx, 1)
}

func (mm *managerMetrics) dialFailed(ctx context.Context) {
	if mm == nil {
		return
	}
	mm.attempts.Add(ctx, 1, o11y.Label{Key: "result", Value: "failure"})
}

func (mm *managerMetrics) disconnected(ctx context.Context) {
	if mm == nil {
		return
	}
	mm.open.Set(ctx, 0)
}

func (mm *managerMetrics) reconnectScheduled(ctx context.Context) {
	if mm == nil {
		return
	}
	mm.reconnects.Add(ctx, 1)
}

func (mm *managerMetrics) retriesExhausted(ctx context.Context) {
	if mm == nil {
		return
	}
	mm.exhausted.Add(ctx, 1)
}

func (mm *managerMetrics) frameReceived(ctx context.Context, frameType string) {
	if mm == nil {
		return
	}
	mm.framesReceived.Add(ctx, 1, o11y.Label{Key: "type", Value: frameType})
}

func (mm *managerMetrics) messageSent(ctx context.Context) {
	if mm == nil {
		return
	}
	mm.messagesSent.Add(ctx, 1)
}

func (mm *managerMetrics) decodeError(ctx context.Context) {
	if mm == nil {
		return
	}
	mm.decodeErrors.Add(ctx, 1)
}

func (mm *managerMetrics) heartbeatSent(ctx context.Context) {
	if mm == nil {
		return
	}
	mm.heartbeats.Add(ctx, 1)
}

func (mm *managerMetrics) stateChanged(ctx context.Context, from, to glazing.ConnectionState) {
	if mm == nil {
		return
	}
	mm.transitions.Add(ctx, 1,
		o11y.Label{Key: "from", Value: from.String()},
		o11y.Label{Key: "to", Value: to.String()},
	)
}
