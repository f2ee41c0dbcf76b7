// Package monitor provides ConnectionMonitor wrappers: asynchronous
// delivery, logging and fan-out.
package monitor

import (
	"errors"
	"sync"

	"github.com/Avinash-jetwani/glazing-ai-bot/pkg/glazing"
	"go.uber.org/zap"
)

var (
	ErrQueueFull     = errors.New("monitor queue is full")
	ErrMonitorClosed = errors.New("monitor is closed")
)

type notificationKind int

const (
	notifyStateChange notificationKind = iota
	notifyMessage
	notifySystemMessage
	notifyRetriesExhausted
)

type notification struct {
	kind     notificationKind
	event    glazing.StateEvent
	message  glazing.Message
	text     string
	attempts int
}

// AsyncMonitor wraps another monitor and delivers notifications in order from
// a background goroutine, so the notifying side never runs collaborator code
// and collaborators may call back into the connection.
//
// Notifications that do not fit in the queue are dropped and logged.
type AsyncMonitor struct {
	wrapped   glazing.ConnectionMonitor
	logger    *zap.Logger
	queue     chan notification
	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	closeOnce sync.Once
}

// NewAsyncMonitor creates an AsyncMonitor with the given queue size
// (default 256). Call Start before use and Close when done.
func NewAsyncMonitor(wrapped glazing.ConnectionMonitor, queueSize int) *AsyncMonitor {
	if queueSize <= 0 {
		queueSize = 256
	}
	if wrapped == nil {
		wrapped = glazing.BaseMonitor{}
	}
	return &AsyncMonitor{
		wrapped: wrapped,
		logger:  zap.NewNop(),
		queue:   make(chan notification, queueSize),
		done:    make(chan struct{}),
	}
}

// WithLogger sets the logger used to report dropped notifications.
func (a *AsyncMonitor) WithLogger(logger *zap.Logger) *AsyncMonitor {
	if logger != nil {
		a.logger = logger
	}
	return a
}

// Start begins delivering notifications. Calling it more than once is harmless.
func (a *AsyncMonitor) Start() *AsyncMonitor {
	a.startOnce.Do(func() {
		a.wg.Add(1)
		go a.processQueue()
	})
	return a
}

func (a *AsyncMonitor) processQueue() {
	defer a.wg.Done()
	for {
		select {
		case n := <-a.queue:
			a.deliver(n)
		case <-a.done:
			a.drainQueue()
			return
		}
	}
}

func (a *AsyncMonitor) drainQueue() {
	for {
		select {
		case n := <-a.queue:
			a.deliver(n)
		default:
			return
		}
	}
}

func (a *AsyncMonitor) deliver(n notification) {
	switch n.kind {
	case notifyStateChange:
		a.wrapped.OnStateChange(n.event)
	case notifyMessage:
		a.wrapped.OnMessage(n.message)
	case notifySystemMessage:
		a.wrapped.OnSystemMessage(n.text)
	case notifyRetriesExhausted:
		a.wrapped.OnRetriesExhausted(n.attempts)
	}
}

func (a *AsyncMonitor) enqueue(n notification) error {
	if a.IsClosed() {
		return ErrMonitorClosed
	}
	select {
	case a.queue <- n:
		return nil
	default:
		a.logger.Warn("Dropping monitor notification, queue is full", zap.Int("kind", int(n.kind)))
		return ErrQueueFull
	}
}

func (a *AsyncMonitor) OnStateChange(event glazing.StateEvent) {
	_ = a.enqueue(notification{kind: notifyStateChange, event: event})
}

func (a *AsyncMonitor) OnMessage(msg glazing.Message) {
	_ = a.enqueue(notification{kind: notifyMessage, message: msg})
}

func (a *AsyncMonitor) OnSystemMessage(text string) {
	_ = a.enqueue(notification{kind: notifySystemMessage, text: text})
}

func (a *AsyncMonitor) OnRetriesExhausted(attempts int) {
	_ = a.enqueue(notification{kind: notifyRetriesExhausted, attempts: attempts})
}

// Close stops accepting notifications, delivers everything already queued
// and waits for the delivery goroutine to exit. No callback runs after Close
// returns.
func (a *AsyncMonitor) Close() error {
	a.closeOnce.Do(func() {
		close(a.done)
		a.wg.Wait()
	})
	return nil
}

// QueueSize returns the current number of queued notifications
func (a *AsyncMonitor) QueueSize() int {
	return len(a.queue)
}

// IsClosed returns true if the monitor has been closed
func (a *AsyncMonitor) IsClosed() bool {
	select {
	case <-a.done:
		return true
	default:
		return false
	}
}
