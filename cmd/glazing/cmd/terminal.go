package cmd

import (
	"fmt"
	"io"
	"sync"

	"github.com/Avinash-jetwani/glazing-ai-bot/pkg/glazing"
	"github.com/Avinash-jetwani/glazing-ai-bot/pkg/glazing/transform"
)

// terminalMonitor prints the conversation and connection notices.
type terminalMonitor struct {
	glazing.BaseMonitor

	mu        sync.Mutex
	out       io.Writer
	formatter *transform.MessageFormatter
	endpoint  func() string
	// echoUser also prints the user's own messages
	echoUser bool
}

func (t *terminalMonitor) printf(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, format, args...)
}

func (t *terminalMonitor) OnStateChange(event glazing.StateEvent) {
	switch event.Current {
	case glazing.StateOpen:
		t.printf("* connected to %s\n", event.Endpoint)
	case glazing.StateClosed:
		if event.Err != nil {
			t.printf("* disconnected: %v (attempt %d)\n", event.Err, event.Attempts)
		} else if event.Previous != glazing.StateIdle {
			t.printf("* disconnected\n")
		}
	}
}

func (t *terminalMonitor) OnMessage(msg glazing.Message) {
	if msg.IsUser && !t.echoUser {
		return
	}
	line, ok, err := t.formatter.Format(msg, t.endpoint())
	if err != nil {
		t.printf("* %v\n", err)
		return
	}
	if ok {
		t.printf("%s\n", line)
	}
}

func (t *terminalMonitor) OnSystemMessage(text string) {
	t.printf("* %s\n", text)
}

func (t *terminalMonitor) OnRetriesExhausted(attempts int) {
	t.printf("* max reconnect attempts reached after %d attempts, type /reconnect to try again\n", attempts)
}
