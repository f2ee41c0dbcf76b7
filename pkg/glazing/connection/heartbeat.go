package connection

import (
	"context"
	"time"

	"github.com/Avinash-jetwani/glazing-ai-bot/pkg/glazing"
	"github.com/Avinash-jetwani/glazing-ai-bot/pkg/glazing/protocol"
	"go.uber.org/zap"
)

// startHeartbeat runs a ticker for the attempt that asks the loop to send a
// ping every heartbeatInterval. It is stopped when the attempt leaves Open.
func (m *Manager) startHeartbeat(a *attempt) {
	if m.heartbeatInterval <= 0 {
		return
	}

	ctx, cancel := context.WithCancel(a.ctx)
	a.stopHeartbeat = cancel

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ticker := time.NewTicker(m.heartbeatInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if !m.post(event{kind: eventHeartbeat, gen: a.gen}) {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// onHeartbeat queues a ping. If it cannot be queued, or writing it fails, the
// attempt is treated as abnormally closed with ErrHeartbeatFailed.
func (m *Manager) onHeartbeat(ev event) {
	if !m.isCurrent(ev.gen) || m.state != glazing.StateOpen {
		return
	}
	m.logger.Debug("Sending heartbeat", zap.Uint64("generation", ev.gen))
	if m.sendControl(m.current, protocol.FrameTypePing, true) {
		m.metrics.heartbeatSent(m.ctx)
	}
}
