// Package connection implements the widget's resilient connection manager:
// a single logical connection to the chat endpoint that reconnects with
// exponential backoff, detects dead sockets with heartbeats and keeps the
// transcript.
//
// All state is owned by one event-loop goroutine. Control calls, dial
// results, inbound frames, write failures and timers are delivered to it as
// events. Every physical attempt carries a generation number and events from
// a superseded generation are discarded.
package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Avinash-jetwani/glazing-ai-bot/pkg/glazing"
	"github.com/Avinash-jetwani/glazing-ai-bot/pkg/glazing/backoff"
	"github.com/Avinash-jetwani/glazing-ai-bot/pkg/glazing/monitor"
	"github.com/Avinash-jetwani/glazing-ai-bot/pkg/glazing/o11y"
	"github.com/Avinash-jetwani/glazing-ai-bot/pkg/glazing/protocol"
	"github.com/Avinash-jetwani/glazing-ai-bot/pkg/glazing/websockets"
	"github.com/coder/websocket"
	"go.uber.org/zap"
)

var (
	// ErrSendQueueFull is returned by Send when the outbound queue has no room.
	ErrSendQueueFull = errors.New("send queue is full")
	// ErrHeartbeatFailed wraps the write error of a failed heartbeat.
	ErrHeartbeatFailed = errors.New("heartbeat failed")
)

// Close reasons sent to the endpoint.
const (
	reasonDeactivated     = "Component deactivated"
	reasonUnmounted       = "Component unmounted"
	reasonReconnect       = "Reconnect requested"
	reasonEndpointChanged = "Endpoint changed"
	reasonSuperseded      = "Superseded"
	reasonConnectionError = "connection error"
)

type eventKind int

const (
	// control calls
	eventActivate eventKind = iota
	eventDeactivate
	eventSend
	eventReconnect
	eventSetEndpoint
	eventStop

	// attempt callbacks
	eventDialed
	eventDialFailed
	eventFrame
	eventTransportClosed
	eventWriteFailed
	eventHeartbeat
	eventRetry
	eventCloseComplete
)

type event struct {
	kind      eventKind
	gen       uint64
	text      string
	data      []byte
	transport websockets.Transport
	err       error
	heartbeat bool
	reply     chan error
}

type outboundFrame struct {
	data      []byte
	heartbeat bool
}

// attempt is one physical connection attempt.
type attempt struct {
	gen     uint64
	url     string
	ctx     context.Context
	cancel  context.CancelFunc
	started time.Time
	span    o11y.Span

	// set once open
	transport     websockets.Transport
	outbound      chan outboundFrame
	stopHeartbeat context.CancelFunc
}

type snapshot struct {
	state      glazing.ConnectionState
	attempts   int
	exhausted  bool
	endpoint   string
	transcript []glazing.Message
}

// Manager implements glazing.Connection.
type Manager struct {
	logger            *zap.Logger
	dialer            websockets.Dialer
	policy            backoff.Policy
	heartbeatInterval time.Duration
	sendQueueSize     int
	notifier          *monitor.AsyncMonitor
	metrics           *managerMetrics
	tracingProvider   o11y.TracingProvider
	now               func() time.Time

	inbox    chan event
	ctx      context.Context
	cancel   context.CancelFunc
	loopDone chan struct{}
	wg       sync.WaitGroup
	closers  sync.WaitGroup
	started  int32
	stopped  int32

	// owned by the event loop
	state      glazing.ConnectionState
	attempts   int
	exhausted  bool
	active     bool
	endpoint   string
	gen        uint64
	current    *attempt
	closingGen uint64
	retryTimer *time.Timer
	retryToken uint64
	transcript []glazing.Message

	mu   sync.RWMutex
	snap snapshot
}

var _ glazing.Connection = (*Manager)(nil)

func newManager(b *ManagerBuilder) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		logger:            b.logger,
		dialer:            b.dialer,
		policy:            b.policy,
		heartbeatInterval: b.heartbeatInterval,
		sendQueueSize:     b.sendQueueSize,
		notifier:          monitor.NewAsyncMonitor(monitor.NewMulti(b.monitors...), b.monitorQueueSize).WithLogger(b.logger),
		metrics:           newManagerMetrics(b.metricsProvider),
		tracingProvider:   b.tracingProvider,
		now:               time.Now,
		inbox:             make(chan event, 64),
		ctx:               ctx,
		cancel:            cancel,
		loopDone:          make(chan struct{}),
		state:             glazing.StateIdle,
		endpoint:          b.url,
	}
	m.publish()

	return m
}

// Start begins the event loop.
func (m *Manager) Start() error {
	if atomic.LoadInt32(&m.stopped) == 1 {
		return glazing.ErrStopped
	}
	if !atomic.CompareAndSwapInt32(&m.started, 0, 1) {
		return fmt.Errorf("connection manager already started")
	}

	m.notifier.Start()

	m.wg.Add(1)
	go m.run()

	return nil
}

// Stop tears the manager down for good: reconnection is disabled, timers are
// cancelled, a live socket is closed with a normal closure and all goroutines
// are joined. Pending notifications are delivered before Stop returns and
// none are delivered afterwards.
func (m *Manager) Stop() error {
	if !atomic.CompareAndSwapInt32(&m.stopped, 0, 1) {
		return nil
	}

	if atomic.LoadInt32(&m.started) == 1 {
		reply := make(chan error, 1)
		select {
		case m.inbox <- event{kind: eventStop, reply: reply}:
			<-reply
		case <-m.loopDone:
		}
	}

	// let close handshakes finish before contexts are cancelled
	m.closers.Wait()
	m.cancel()
	m.wg.Wait()

	if pending := m.notifier.QueueSize(); pending > 0 {
		m.logger.Debug("Delivering pending notifications", zap.Int("pending", pending))
	}
	return m.notifier.Close()
}

func (m *Manager) Activate() error {
	return m.command(event{kind: eventActivate})
}

func (m *Manager) Deactivate() error {
	return m.command(event{kind: eventDeactivate})
}

// Send appends text to the transcript as a user message and queues it for
// the socket. It fails with glazing.ErrNotOpen unless the connection is open.
func (m *Manager) Send(text string) error {
	return m.command(event{kind: eventSend, text: text})
}

// RequestReconnect resets the reconnect counter and connects immediately.
// It does nothing while deactivated.
func (m *Manager) RequestReconnect() error {
	return m.command(event{kind: eventReconnect})
}

// SetEndpoint changes the endpoint URL. A live attempt for the old URL is
// closed and a fresh attempt started.
func (m *Manager) SetEndpoint(url string) error {
	if url == "" {
		return fmt.Errorf("endpoint URL is required")
	}
	return m.command(event{kind: eventSetEndpoint, text: url})
}

func (m *Manager) State() glazing.ConnectionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snap.state
}

func (m *Manager) ReconnectAttempts() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snap.attempts
}

func (m *Manager) RetriesExhausted() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snap.exhausted
}

func (m *Manager) Endpoint() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snap.endpoint
}

// Transcript returns a copy of all messages in order.
func (m *Manager) Transcript() []glazing.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]glazing.Message, len(m.snap.transcript))
	copy(out, m.snap.transcript)
	return out
}

// MaxAttempts is the configured reconnect cap.
func (m *Manager) MaxAttempts() int {
	return m.policy.MaxAttempts()
}

// command hands a control call to the loop and waits for it to be applied.
// The loop never performs I/O while applying one.
func (m *Manager) command(ev event) error {
	if atomic.LoadInt32(&m.stopped) == 1 {
		return glazing.ErrStopped
	}
	if atomic.LoadInt32(&m.started) == 0 {
		return glazing.ErrNotStarted
	}

	ev.reply = make(chan error, 1)
	select {
	case m.inbox <- ev:
	case <-m.loopDone:
		return glazing.ErrStopped
	}

	select {
	case err := <-ev.reply:
		return err
	case <-m.loopDone:
		select {
		case err := <-ev.reply:
			return err
		default:
			return glazing.ErrStopped
		}
	}
}

// post delivers an internal event. It returns false once the loop is gone.
func (m *Manager) post(ev event) bool {
	select {
	case m.inbox <- ev:
		return true
	case <-m.loopDone:
		return false
	case <-m.ctx.Done():
		return false
	}
}

func (m *Manager) run() {
	defer m.wg.Done()
	defer close(m.loopDone)

	m.logger.Debug("Connection manager started", zap.String("endpoint", m.endpoint))

	for {
		select {
		case ev := <-m.inbox:
			if m.handle(ev) {
				m.logger.Debug("Connection manager stopped")
				return
			}
		case <-m.ctx.Done():
			return
		}
	}
}

func (m *Manager) handle(ev event) (stop bool) {
	switch ev.kind {
	case eventActivate:
		ev.reply <- m.activate()
	case eventDeactivate:
		ev.reply <- m.deactivate()
	case eventSend:
		ev.reply <- m.send(ev.text)
	case eventReconnect:
		ev.reply <- m.requestReconnect()
	case eventSetEndpoint:
		ev.reply <- m.setEndpoint(ev.text)
	case eventStop:
		m.shutdown()
		ev.reply <- nil
		return true
	case eventDialed:
		m.onDialed(ev)
	case eventDialFailed:
		m.onDialFailed(ev)
	case eventFrame:
		m.onFrame(ev)
	case eventTransportClosed:
		m.onTransportClosed(ev)
	case eventWriteFailed:
		m.onWriteFailed(ev)
	case eventHeartbeat:
		m.onHeartbeat(ev)
	case eventRetry:
		m.onRetry(ev)
	case eventCloseComplete:
		m.onCloseComplete(ev)
	default:
		m.logger.Debug("Connection manager received unknown event", zap.Int("kind", int(ev.kind)))
	}
	return false
}

func (m *Manager) isCurrent(gen uint64) bool {
	return m.current != nil && m.current.gen == gen
}

// Control calls

func (m *Manager) activate() error {
	if !m.active {
		// a new activation lifetime starts with a clean counter
		m.active = true
		m.attempts = 0
		m.exhausted = false
	}
	if m.current != nil {
		return nil
	}
	m.cancelRetry()
	m.connect()
	return nil
}

func (m *Manager) deactivate() error {
	m.active = false
	m.cancelRetry()

	a := m.current
	if a == nil {
		m.publish()
		return nil
	}
	m.current = nil

	if a.transport == nil {
		a.cancel()
		m.endSpan(a, context.Canceled)
		m.setState(glazing.StateClosed, nil)
		return nil
	}

	m.closingGen = a.gen
	m.setState(glazing.StateClosing, nil)
	m.release(a, websockets.StatusNormalClosure, reasonDeactivated, func() {
		m.post(event{kind: eventCloseComplete, gen: a.gen})
	})
	m.logger.Info("Connection deactivated", zap.String("endpoint", a.url))
	return nil
}

func (m *Manager) send(text string) error {
	a := m.current
	if m.state != glazing.StateOpen || a == nil || a.transport == nil {
		m.logger.Warn("Cannot send message, connection is not open", zap.Stringer("state", m.state))
		return glazing.ErrNotOpen
	}
	if len(a.outbound) == cap(a.outbound) {
		m.logger.Warn("Cannot send message, send queue is full", zap.Int("queueSize", cap(a.outbound)))
		return ErrSendQueueFull
	}

	m.appendMessage(glazing.NewMessage(text, true, m.now()))
	a.outbound <- outboundFrame{data: protocol.EncodeUserText(text)}
	m.metrics.messageSent(m.ctx)
	return nil
}

func (m *Manager) requestReconnect() error {
	if !m.active {
		m.logger.Debug("Ignoring reconnect request while inactive")
		return nil
	}

	m.attempts = 0
	m.exhausted = false
	m.cancelRetry()
	if a := m.current; a != nil {
		m.current = nil
		m.abandon(a, reasonReconnect)
	}
	m.logger.Info("Manual reconnect requested", zap.String("endpoint", m.endpoint))
	m.connect()
	return nil
}

func (m *Manager) setEndpoint(url string) error {
	if url == m.endpoint {
		return nil
	}
	m.logger.Info("Endpoint changed", zap.String("from", m.endpoint), zap.String("to", url))
	m.endpoint = url

	a := m.current
	if a == nil {
		// a pending retry picks up the new endpoint
		m.publish()
		return nil
	}
	m.current = nil
	m.abandon(a, reasonEndpointChanged)
	m.attempts = 0
	m.exhausted = false
	m.cancelRetry()
	m.connect()
	return nil
}

func (m *Manager) shutdown() {
	m.active = false
	m.cancelRetry()

	if a := m.current; a != nil {
		m.current = nil
		m.abandon(a, reasonUnmounted)
		m.setState(glazing.StateClosed, nil)
		return
	}
	if m.state == glazing.StateClosing {
		m.setState(glazing.StateClosed, nil)
	}
}

// Attempt lifecycle

func (m *Manager) connect() {
	m.gen++
	ctx, cancel := context.WithCancel(m.ctx)
	a := &attempt{
		gen:     m.gen,
		url:     m.endpoint,
		ctx:     ctx,
		cancel:  cancel,
		started: m.now(),
	}
	if m.tracingProvider != nil {
		_, a.span = m.tracingProvider.StartSpan(ctx, "glazing.connect")
		a.span.SetAttributes(
			o11y.Label{Key: "endpoint", Value: a.url},
			o11y.Label{Key: "attempt", Value: fmt.Sprint(m.attempts)},
		)
	}
	m.current = a
	m.setState(glazing.StateConnecting, nil)

	m.logger.Info("Connecting",
		zap.String("endpoint", a.url),
		zap.Int("attempt", m.attempts),
		zap.Uint64("generation", a.gen),
	)

	m.wg.Add(1)
	go m.dial(a)
}

func (m *Manager) dial(a *attempt) {
	defer m.wg.Done()

	t, err := m.dialer.Dial(a.ctx, a.url)
	if err != nil {
		m.post(event{kind: eventDialFailed, gen: a.gen, err: err})
		return
	}
	if !m.post(event{kind: eventDialed, gen: a.gen, transport: t}) {
		_ = t.CloseNow()
	}
}

func (m *Manager) onDialed(ev event) {
	if !m.isCurrent(ev.gen) || m.state != glazing.StateConnecting {
		m.logger.Debug("Discarding superseded connection", zap.Uint64("generation", ev.gen))
		t := ev.transport
		m.closers.Add(1)
		go func() {
			defer m.closers.Done()
			_ = t.Close(websockets.StatusNormalClosure, reasonSuperseded)
		}()
		return
	}

	a := m.current
	a.transport = ev.transport
	a.outbound = make(chan outboundFrame, m.sendQueueSize)

	m.attempts = 0
	m.exhausted = false
	m.metrics.connected(m.ctx, m.now().Sub(a.started))
	m.endSpan(a, nil)
	m.setState(glazing.StateOpen, nil)

	m.logger.Info("Connected", zap.String("endpoint", a.url), zap.Uint64("generation", a.gen))

	m.wg.Add(2)
	go m.readLoop(a)
	go m.writeLoop(a)
	m.startHeartbeat(a)
}

func (m *Manager) onDialFailed(ev event) {
	if !m.isCurrent(ev.gen) {
		m.logger.Debug("Ignoring dial failure of superseded attempt", zap.Uint64("generation", ev.gen), zap.Error(ev.err))
		return
	}
	m.failAttempt(ev.err)
}

func (m *Manager) onTransportClosed(ev event) {
	if !m.isCurrent(ev.gen) {
		m.logger.Debug("Ignoring close of superseded attempt", zap.Uint64("generation", ev.gen))
		return
	}

	if websockets.IsNormalClosure(ev.err) {
		a := m.current
		m.current = nil
		m.release(a, websockets.StatusNormalClosure, "", nil)
		m.metrics.disconnected(m.ctx)
		m.setState(glazing.StateClosed, nil)
		m.logger.Info("Connection closed normally by endpoint", zap.String("endpoint", a.url))
		return
	}

	m.failAttempt(fmt.Errorf("connection closed: %w", ev.err))
}

func (m *Manager) onWriteFailed(ev event) {
	if !m.isCurrent(ev.gen) {
		return
	}
	err := ev.err
	if ev.heartbeat {
		err = fmt.Errorf("%w: %w", ErrHeartbeatFailed, ev.err)
	}
	m.failAttempt(err)
}

func (m *Manager) onCloseComplete(ev event) {
	if m.state == glazing.StateClosing && ev.gen == m.closingGen {
		m.setState(glazing.StateClosed, nil)
	}
}

// failAttempt handles every abnormal end of the current attempt.
func (m *Manager) failAttempt(err error) {
	a := m.current
	m.current = nil
	wasOpen := a.transport != nil
	m.release(a, websockets.StatusInternalError, reasonConnectionError, nil)
	m.endSpan(a, err)
	if wasOpen {
		m.metrics.disconnected(m.ctx)
	} else {
		m.metrics.dialFailed(m.ctx)
	}

	m.logger.Warn("Connection lost", zap.String("endpoint", a.url), zap.Error(err))

	if m.active && m.policy.Allows(m.attempts) {
		m.attempts++
		delay := m.policy.Delay(m.attempts)
		m.scheduleRetry(delay)
		m.setState(glazing.StateClosed, err)
		m.metrics.reconnectScheduled(m.ctx)
		m.logger.Info("Reconnect scheduled",
			zap.Int("attempt", m.attempts),
			zap.Int("maxAttempts", m.policy.MaxAttempts()),
			zap.Duration("delay", delay),
		)
		return
	}

	m.exhausted = true
	m.setState(glazing.StateClosed, err)
	m.metrics.retriesExhausted(m.ctx)
	m.logger.Error("Max reconnect attempts reached", zap.Int("attempts", m.attempts))
	m.notifier.OnRetriesExhausted(m.attempts)
}

// release stops the attempt's heartbeat and closes its socket off the loop.
// done, if set, runs after the close handshake.
func (m *Manager) release(a *attempt, code websocket.StatusCode, reason string, done func()) {
	if a.stopHeartbeat != nil {
		a.stopHeartbeat()
	}
	if a.transport == nil {
		a.cancel()
		if done != nil {
			done()
		}
		return
	}

	m.closers.Add(1)
	go func() {
		defer m.closers.Done()
		if err := a.transport.Close(code, reason); err != nil {
			m.logger.Debug("Error closing connection", zap.Uint64("generation", a.gen), zap.Error(err))
		}
		a.cancel()
		if done != nil {
			done()
		}
	}()
}

// abandon ends the current attempt normally without passing through Closed.
func (m *Manager) abandon(a *attempt, reason string) {
	if a.transport != nil {
		m.metrics.disconnected(m.ctx)
	} else {
		m.endSpan(a, context.Canceled)
	}
	m.release(a, websockets.StatusNormalClosure, reason, nil)
}

func (m *Manager) endSpan(a *attempt, err error) {
	if a.span == nil {
		return
	}
	if err != nil {
		a.span.SetStatus(o11y.SpanStatusError, err.Error())
	} else {
		a.span.SetStatus(o11y.SpanStatusOK, "")
	}
	a.span.End()
	a.span = nil
}

// Retry timer

func (m *Manager) scheduleRetry(delay time.Duration) {
	m.cancelRetry()
	token := m.retryToken
	m.retryTimer = time.AfterFunc(delay, func() {
		m.post(event{kind: eventRetry, gen: token})
	})
}

// cancelRetry stops the pending timer and invalidates its token so that a
// timer which already fired is ignored.
func (m *Manager) cancelRetry() {
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	m.retryToken++
}

func (m *Manager) onRetry(ev event) {
	if m.retryTimer == nil || ev.gen != m.retryToken {
		m.logger.Debug("Ignoring cancelled retry timer")
		return
	}
	m.retryTimer = nil
	if !m.active || m.current != nil {
		return
	}
	m.connect()
}

// Socket I/O

func (m *Manager) readLoop(a *attempt) {
	defer m.wg.Done()

	for {
		data, err := a.transport.Read(a.ctx)
		if err != nil {
			m.post(event{kind: eventTransportClosed, gen: a.gen, err: err})
			return
		}
		if !m.post(event{kind: eventFrame, gen: a.gen, data: data}) {
			return
		}
	}
}

func (m *Manager) writeLoop(a *attempt) {
	defer m.wg.Done()

	for {
		select {
		case f := <-a.outbound:
			if err := a.transport.Write(a.ctx, f.data); err != nil {
				m.post(event{kind: eventWriteFailed, gen: a.gen, err: err, heartbeat: f.heartbeat})
				return
			}
		case <-a.ctx.Done():
			return
		}
	}
}

func (m *Manager) onFrame(ev event) {
	if !m.isCurrent(ev.gen) || m.state != glazing.StateOpen {
		m.logger.Debug("Discarding frame from superseded attempt", zap.Uint64("generation", ev.gen))
		return
	}

	frame, err := protocol.Decode(ev.data)
	if err != nil {
		m.metrics.decodeError(m.ctx)
		m.logger.Warn("Dropping undecodable frame", zap.Int("size", len(ev.data)), zap.Error(err))
		return
	}
	m.metrics.frameReceived(m.ctx, string(frame.Type))
	if !frame.Known() {
		m.logger.Debug("Ignoring frame of unknown type",
			zap.String("type", string(frame.Type)),
			zap.String("message", frame.Message),
		)
		return
	}

	switch frame.Type {
	case protocol.FrameTypeEcho:
		m.appendMessage(glazing.NewMessage(frame.Message, false, m.now()))
	case protocol.FrameTypeSystem:
		m.logger.Info("System message",
			zap.String("message", frame.Message),
			zap.String("session_id", frame.SessionID),
		)
		m.notifier.OnSystemMessage(frame.Message)
	case protocol.FrameTypePing:
		m.sendControl(m.current, protocol.FrameTypePong, false)
	case protocol.FrameTypePong:
		fields := []zap.Field{zap.String("timestamp", frame.Timestamp)}
		if sent, ok := frame.Time(); ok {
			fields = append(fields, zap.Duration("age", m.now().Sub(sent)))
		}
		m.logger.Debug("Pong received", fields...)
	}
}

// sendControl queues a ping or pong. A full queue drops a pong; a heartbeat
// that cannot be queued fails the attempt.
func (m *Manager) sendControl(a *attempt, frameType protocol.FrameType, heartbeat bool) bool {
	data, err := protocol.EncodeControl(frameType, m.now())
	if err != nil {
		m.logger.Error("Failed to encode control frame", zap.Error(err))
		return false
	}
	select {
	case a.outbound <- outboundFrame{data: data, heartbeat: heartbeat}:
		return true
	default:
	}

	if heartbeat {
		m.failAttempt(fmt.Errorf("%w: send queue is full", ErrHeartbeatFailed))
		return false
	}
	m.logger.Warn("Send queue full, dropping control frame", zap.String("type", string(frameType)))
	return false
}

func (m *Manager) appendMessage(msg glazing.Message) {
	m.transcript = append(m.transcript, msg)
	m.publish()
	m.notifier.OnMessage(msg)
}

// State publication

func (m *Manager) publish() {
	n := len(m.transcript)
	m.mu.Lock()
	m.snap = snapshot{
		state:      m.state,
		attempts:   m.attempts,
		exhausted:  m.exhausted,
		endpoint:   m.endpoint,
		transcript: m.transcript[:n:n],
	}
	m.mu.Unlock()
}

// setState publishes the new snapshot before notifying monitors, so a
// monitor never observes an Open state with a stale counter.
func (m *Manager) setState(state glazing.ConnectionState, err error) {
	prev := m.state
	m.state = state
	m.publish()
	if prev == state {
		return
	}

	m.metrics.stateChanged(m.ctx, prev, state)
	m.notifier.OnStateChange(glazing.StateEvent{
		Previous: prev,
		Current:  state,
		Attempts: m.attempts,
		Endpoint: m.endpoint,
		Err:      err,
	})
}
