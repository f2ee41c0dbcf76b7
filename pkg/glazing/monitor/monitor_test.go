package monitor

import (
	"sync"
	"testing"
	"time"

	"github.com/Avinash-jetwani/glazing-ai-bot/pkg/glazing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// recordingMonitor records every callback as a short string.
type recordingMonitor struct {
	mu     sync.Mutex
	calls  []string
	block  chan struct{}
	events []glazing.StateEvent
}

func (r *recordingMonitor) record(call string) {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	r.calls = append(r.calls, call)
	r.mu.Unlock()
}

func (r *recordingMonitor) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recordingMonitor) OnStateChange(event glazing.StateEvent) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
	r.record("state:" + event.Current.String())
}
func (r *recordingMonitor) OnMessage(msg glazing.Message)   { r.record("message:" + msg.Text) }
func (r *recordingMonitor) OnSystemMessage(text string)     { r.record("system:" + text) }
func (r *recordingMonitor) OnRetriesExhausted(attempts int) { r.record("exhausted") }

func TestAsyncMonitor(t *testing.T) {
	t.Run("delivers in order", func(t *testing.T) {
		rec := &recordingMonitor{}
		a := NewAsyncMonitor(rec, 10).Start()

		a.OnStateChange(glazing.StateEvent{Current: glazing.StateConnecting})
		a.OnStateChange(glazing.StateEvent{Current: glazing.StateOpen})
		a.OnSystemMessage("welcome")
		a.OnMessage(glazing.Message{Text: "hi"})
		a.OnRetriesExhausted(15)
		require.NoError(t, a.Close())

		assert.Equal(t, []string{
			"state:connecting",
			"state:open",
			"system:welcome",
			"message:hi",
			"exhausted",
		}, rec.Calls())
	})

	t.Run("close drains the queue", func(t *testing.T) {
		rec := &recordingMonitor{block: make(chan struct{})}
		a := NewAsyncMonitor(rec, 10).Start()
		for i := 0; i < 5; i++ {
			a.OnSystemMessage("x")
		}
		close(rec.block)
		require.NoError(t, a.Close())
		assert.Len(t, rec.Calls(), 5)
	})

	t.Run("full queue drops and logs", func(t *testing.T) {
		core, logs := observer.New(zapcore.WarnLevel)
		rec := &recordingMonitor{block: make(chan struct{})}
		a := NewAsyncMonitor(rec, 1).WithLogger(zap.New(core)).Start()

		// first is picked up and blocks, second fills the queue
		a.OnSystemMessage("1")
		require.Eventually(t, func() bool { return a.QueueSize() == 0 }, time.Second, time.Millisecond)
		a.OnSystemMessage("2")
		assert.ErrorIs(t, a.enqueue(notification{kind: notifySystemMessage, text: "3"}), ErrQueueFull)
		assert.Equal(t, 1, logs.FilterMessage("Dropping monitor notification, queue is full").Len())

		close(rec.block)
		require.NoError(t, a.Close())
		assert.Equal(t, []string{"system:1", "system:2"}, rec.Calls())
	})

	t.Run("closed monitor rejects", func(t *testing.T) {
		a := NewAsyncMonitor(nil, 0).Start()
		require.NoError(t, a.Close())
		require.NoError(t, a.Close())
		assert.True(t, a.IsClosed())
		assert.ErrorIs(t, a.enqueue(notification{}), ErrMonitorClosed)
	})

	t.Run("callbacks may call back into the notifier", func(t *testing.T) {
		rec := &recordingMonitor{}
		var a *AsyncMonitor
		reentrant := &reentrantMonitor{onState: func() { a.OnSystemMessage("from callback") }, next: rec}
		a = NewAsyncMonitor(reentrant, 10).Start()
		a.OnStateChange(glazing.StateEvent{Current: glazing.StateOpen})
		require.Eventually(t, func() bool { return len(rec.Calls()) == 2 }, time.Second, time.Millisecond)
		require.NoError(t, a.Close())
	})
}

type reentrantMonitor struct {
	glazing.BaseMonitor
	onState func()
	next    glazing.ConnectionMonitor
}

func (r *reentrantMonitor) OnStateChange(event glazing.StateEvent) {
	r.next.OnStateChange(event)
	r.onState()
}

func (r *reentrantMonitor) OnSystemMessage(text string) {
	r.next.OnSystemMessage(text)
}

func TestLoggingMonitor(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	rec := &recordingMonitor{}
	l := NewLoggingMonitor(rec, zap.New(core), zapcore.DebugLevel)

	l.OnStateChange(glazing.StateEvent{Previous: glazing.StateIdle, Current: glazing.StateConnecting, Endpoint: "ws://x"})
	l.OnMessage(glazing.Message{ID: "1", Text: "hi"})
	l.OnSystemMessage("welcome")
	l.OnRetriesExhausted(15)

	assert.Equal(t, []string{"state:connecting", "message:hi", "system:welcome", "exhausted"}, rec.Calls())
	require.Equal(t, 4, logs.Len())

	entries := logs.All()
	assert.Equal(t, "Connection state changed", entries[0].Message)
	assert.Equal(t, "connecting", entries[0].ContextMap()["to"])
	assert.Equal(t, zapcore.WarnLevel, entries[3].Level)

	t.Run("standalone", func(t *testing.T) {
		assert.NotPanics(t, func() {
			s := NewLoggingMonitor(nil, nil, zapcore.InfoLevel)
			s.OnStateChange(glazing.StateEvent{})
			s.OnMessage(glazing.Message{})
			s.OnSystemMessage("")
			s.OnRetriesExhausted(1)
		})
	})
}

func TestMulti(t *testing.T) {
	a, b := &recordingMonitor{}, &recordingMonitor{}

	m := NewMulti(a, nil, b)
	m.OnSystemMessage("x")
	m.OnMessage(glazing.Message{Text: "y"})
	m.OnStateChange(glazing.StateEvent{Current: glazing.StateClosed})
	m.OnRetriesExhausted(1)

	want := []string{"system:x", "message:y", "state:closed", "exhausted"}
	assert.Equal(t, want, a.Calls())
	assert.Equal(t, want, b.Calls())

	assert.Same(t, a, NewMulti(nil, a))
	assert.Equal(t, glazing.BaseMonitor{}, NewMulti())
}
