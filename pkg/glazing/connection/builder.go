package connection

import (
	"fmt"
	"time"

	"github.com/Avinash-jetwani/glazing-ai-bot/pkg/glazing"
	"github.com/Avinash-jetwani/glazing-ai-bot/pkg/glazing/backoff"
	"github.com/Avinash-jetwani/glazing-ai-bot/pkg/glazing/o11y"
	"github.com/Avinash-jetwani/glazing-ai-bot/pkg/glazing/websockets"
	"go.uber.org/zap"
)

const (
	DefaultHeartbeatInterval = 20 * time.Second
	DefaultSendQueueSize     = 100
	DefaultMonitorQueueSize  = 256
)

// ManagerBuilder provides a fluent interface for building a Manager.
type ManagerBuilder struct {
	url               string
	logger            *zap.Logger
	dialer            websockets.Dialer
	policy            backoff.Policy
	heartbeatInterval time.Duration
	sendQueueSize     int
	monitorQueueSize  int
	monitors          []glazing.ConnectionMonitor
	metricsProvider   o11y.MetricsProvider
	tracingProvider   o11y.TracingProvider
}

// NewManager creates a new Manager builder with default settings.
func NewManager() *ManagerBuilder {
	return &ManagerBuilder{
		logger:            zap.NewNop(),
		policy:            backoff.Default(),
		heartbeatInterval: DefaultHeartbeatInterval,
		sendQueueSize:     DefaultSendQueueSize,
		monitorQueueSize:  DefaultMonitorQueueSize,
	}
}

// WithURL sets the endpoint URL to connect to.
func (b *ManagerBuilder) WithURL(url string) *ManagerBuilder {
	b.url = url
	return b
}

// WithLogger sets the logger for the manager.
func (b *ManagerBuilder) WithLogger(logger *zap.Logger) *ManagerBuilder {
	if logger != nil {
		b.logger = logger
	}
	return b
}

// WithDialer sets the dialer used for every attempt. Defaults to a
// websockets.CoderDialer using the manager's logger.
func (b *ManagerBuilder) WithDialer(dialer websockets.Dialer) *ManagerBuilder {
	if dialer != nil {
		b.dialer = dialer
	}
	return b
}

// WithBackoff sets the reconnect policy.
func (b *ManagerBuilder) WithBackoff(policy backoff.Policy) *ManagerBuilder {
	if policy.MaxAttempts() > 0 {
		b.policy = policy
	}
	return b
}

// WithHeartbeatInterval sets how often a ping is sent while open.
// Zero disables the heartbeat; negative values are ignored.
func (b *ManagerBuilder) WithHeartbeatInterval(interval time.Duration) *ManagerBuilder {
	if interval >= 0 {
		b.heartbeatInterval = interval
	}
	return b
}

// WithSendQueueSize sets the buffer size of the outbound frame queue.
func (b *ManagerBuilder) WithSendQueueSize(size int) *ManagerBuilder {
	if size > 0 {
		b.sendQueueSize = size
	}
	return b
}

// WithMonitorQueueSize sets how many notifications may be pending delivery
// before new ones are dropped.
func (b *ManagerBuilder) WithMonitorQueueSize(size int) *ManagerBuilder {
	if size > 0 {
		b.monitorQueueSize = size
	}
	return b
}

// WithMonitor adds a monitor. It may be called more than once; monitors are
// notified in the order they were added.
func (b *ManagerBuilder) WithMonitor(monitor glazing.ConnectionMonitor) *ManagerBuilder {
	if monitor != nil {
		b.monitors = append(b.monitors, monitor)
	}
	return b
}

// WithObservability sets optional metrics and tracing providers.
func (b *ManagerBuilder) WithObservability(config o11y.Config) *ManagerBuilder {
	b.metricsProvider = config.MetricsProvider
	b.tracingProvider = config.TracingProvider
	return b
}

// Build creates the manager. It must be started before use.
func (b *ManagerBuilder) Build() (*Manager, error) {
	if err := b.IsValid(); err != nil {
		return nil, err
	}

	return newManager(b), nil
}

// IsValid checks that all required configuration is present.
func (b *ManagerBuilder) IsValid() error {
	if b.url == "" {
		return fmt.Errorf("URL is required")
	}

	if b.logger == nil {
		b.logger = zap.NewNop()
	}

	if b.dialer == nil {
		b.dialer = websockets.NewDialer().WithLogger(b.logger).Build()
	}

	if b.sendQueueSize <= 0 {
		b.sendQueueSize = DefaultSendQueueSize
	}

	if b.monitorQueueSize <= 0 {
		b.monitorQueueSize = DefaultMonitorQueueSize
	}

	return nil
}
