// Package activation ties a connection's lifetime to a host-owned boolean
// "active" signal, such as widget visibility.
package activation

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Avinash-jetwani/glazing-ai-bot/pkg/glazing"
	"github.com/Avinash-jetwani/glazing-ai-bot/pkg/glazing/endpoint"
	"go.uber.org/zap"
)

// Target is the part of a connection the controller drives.
// *connection.Manager satisfies it.
type Target interface {
	Activate() error
	Deactivate() error
	SetEndpoint(url string) error
	Stop() error
}

// Controller forwards edges of the active signal to its target. Repeated
// values are ignored, so Set(true) twice activates once.
type Controller struct {
	target   Target
	resolver *endpoint.Resolver
	logger   *zap.Logger

	mu     sync.Mutex
	active bool
	closed bool
}

func NewController(target Target) *Controller {
	return &Controller{
		target: target,
		logger: zap.NewNop(),
	}
}

func (c *Controller) WithLogger(logger *zap.Logger) *Controller {
	if logger != nil {
		c.logger = logger
	}
	return c
}

// WithResolver sets the resolver SetWidgetKey uses to build the new endpoint.
func (c *Controller) WithResolver(resolver *endpoint.Resolver) *Controller {
	c.resolver = resolver
	return c
}

// Active reports the last value the controller acted on.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Set applies a new value of the active signal. Only a change of value
// reaches the target.
func (c *Controller) Set(active bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return glazing.ErrStopped
	}
	if active == c.active {
		return nil
	}

	apply, name := c.target.Deactivate, "deactivated"
	if active {
		apply, name = c.target.Activate, "activated"
	}
	// the edge stays pending until the target accepts it
	if err := apply(); err != nil {
		return err
	}
	c.active = active
	c.logger.Debug("Widget " + name)
	return nil
}

// Watch applies every value received on signal until it is closed or ctx is
// done. Errors from the target are logged and do not stop the watch.
func (c *Controller) Watch(ctx context.Context, signal <-chan bool) {
	for {
		select {
		case active, ok := <-signal:
			if !ok {
				return
			}
			if err := c.Set(active); err != nil {
				c.logger.Warn("Failed to apply activation change", zap.Bool("active", active), zap.Error(err))
				if errors.Is(err, glazing.ErrStopped) {
					return
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

// SetWidgetKey re-resolves the endpoint for a new widget key and retargets
// the connection.
func (c *Controller) SetWidgetKey(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return glazing.ErrStopped
	}
	if c.resolver == nil {
		return fmt.Errorf("no endpoint resolver configured")
	}

	c.resolver = endpoint.NewResolver(key, c.resolver.Environment()).
		WithLoopbackPort(c.resolver.LoopbackPort())
	url := c.resolver.Resolve()
	c.logger.Info("Widget key changed", zap.String("widget_key", c.resolver.WidgetKey()), zap.String("endpoint", url))

	return c.target.SetEndpoint(url)
}

// Close ends the target's life with Stop, which closes a live socket as
// unmounted rather than deactivated. It is safe to call more than once.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.active = false
	c.logger.Debug("Widget unmounted")

	return c.target.Stop()
}
