package connection

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Avinash-jetwani/glazing-ai-bot/pkg/glazing"
	"github.com/Avinash-jetwani/glazing-ai-bot/pkg/glazing/websockets"
	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"
)

var errRefused = errors.New("connection refused")

type readResult struct {
	data []byte
	err  error
}

// fakeTransport is a scripted socket. Tests push inbound frames with
// serverSends and observe outbound frames on writes.
type fakeTransport struct {
	reads      chan readResult
	writes     chan []byte
	failWrites atomic.Bool
	hold       chan struct{}
	closed     chan struct{}
	closeOnce  sync.Once

	mu          sync.Mutex
	closeCode   websocket.StatusCode
	closeReason string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		reads:  make(chan readResult, 16),
		writes: make(chan []byte, 256),
		closed: make(chan struct{}),
	}
}

func (f *fakeTransport) Read(ctx context.Context) ([]byte, error) {
	select {
	case r := <-f.reads:
		return r.data, r.err
	case <-f.closed:
		return nil, errors.New("use of closed connection")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeTransport) Write(ctx context.Context, data []byte) error {
	if f.failWrites.Load() {
		return errors.New("broken pipe")
	}
	if f.hold != nil {
		select {
		case <-f.hold:
		case <-f.closed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	select {
	case <-f.closed:
		return errors.New("use of closed connection")
	default:
	}
	select {
	case f.writes <- data:
	default:
	}
	return nil
}

func (f *fakeTransport) Close(code websocket.StatusCode, reason string) error {
	f.closeOnce.Do(func() {
		f.mu.Lock()
		f.closeCode = code
		f.closeReason = reason
		f.mu.Unlock()
		close(f.closed)
	})
	return nil
}

func (f *fakeTransport) CloseNow() error {
	return f.Close(websocket.StatusAbnormalClosure, "")
}

func (f *fakeTransport) serverSends(frame string) {
	f.reads <- readResult{data: []byte(frame)}
}

func (f *fakeTransport) serverCloses(code websocket.StatusCode) {
	f.reads <- readResult{err: websocket.CloseError{Code: code, Reason: "bye"}}
}

func (f *fakeTransport) serverDrops() {
	f.reads <- readResult{err: errors.New("connection reset by peer")}
}

func (f *fakeTransport) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

func (f *fakeTransport) closeInfo() (websocket.StatusCode, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCode, f.closeReason
}

// nextWrite waits for the next outbound frame.
func (f *fakeTransport) nextWrite(t *testing.T) string {
	t.Helper()
	select {
	case data := <-f.writes:
		return string(data)
	case <-time.After(2 * time.Second):
		require.FailNow(t, "timed out waiting for a write")
		return ""
	}
}

type dialResult struct {
	transport *fakeTransport
	err       error
}

// fakeDialer hands out queued results in order. A dial with nothing queued
// blocks until a result is queued or its context is cancelled.
type fakeDialer struct {
	mu      sync.Mutex
	urls    []string
	results chan dialResult
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{results: make(chan dialResult, 64)}
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (websockets.Transport, error) {
	d.mu.Lock()
	d.urls = append(d.urls, url)
	d.mu.Unlock()

	select {
	case r := <-d.results:
		if r.err != nil {
			return nil, r.err
		}
		return r.transport, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *fakeDialer) succeed() *fakeTransport {
	t := newFakeTransport()
	d.results <- dialResult{transport: t}
	return t
}

func (d *fakeDialer) fail(n int) {
	for i := 0; i < n; i++ {
		d.results <- dialResult{err: errRefused}
	}
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}

func (d *fakeDialer) dialedURLs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.urls...)
}

// mockMonitor records every notification.
type mockMonitor struct {
	mu        sync.Mutex
	events    []glazing.StateEvent
	messages  []glazing.Message
	system    []string
	exhausted []int
	onState   func(glazing.StateEvent)
}

func (m *mockMonitor) OnStateChange(event glazing.StateEvent) {
	m.mu.Lock()
	m.events = append(m.events, event)
	hook := m.onState
	m.mu.Unlock()
	if hook != nil {
		hook(event)
	}
}

func (m *mockMonitor) OnMessage(msg glazing.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
}

func (m *mockMonitor) OnSystemMessage(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.system = append(m.system, text)
}

func (m *mockMonitor) OnRetriesExhausted(attempts int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exhausted = append(m.exhausted, attempts)
}

func (m *mockMonitor) states() []glazing.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]glazing.ConnectionState, len(m.events))
	for i, e := range m.events {
		out[i] = e.Current
	}
	return out
}

func (m *mockMonitor) stateEvents() []glazing.StateEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]glazing.StateEvent(nil), m.events...)
}

func (m *mockMonitor) systemMessages() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.system...)
}

func (m *mockMonitor) transcriptMessages() []glazing.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]glazing.Message(nil), m.messages...)
}

func (m *mockMonitor) exhaustedCalls() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.exhausted...)
}
