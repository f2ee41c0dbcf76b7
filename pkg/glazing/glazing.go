// Package glazing holds the shared model for the chat widget connection core:
// connection states, transcript messages and the collaborator interfaces.
package glazing

import (
	"time"

	"github.com/google/uuid"
)

// ConnectionState is the lifecycle state of the one logical connection.
type ConnectionState int

const (
	StateIdle ConnectionState = iota
	StateConnecting
	StateOpen
	StateClosing
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Message is one transcript entry. Messages are immutable once created.
type Message struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	IsUser    bool      `json:"is_user"`
	Timestamp time.Time `json:"timestamp"`
}

// NewMessage creates a transcript entry with a fresh time-ordered ID.
func NewMessage(text string, isUser bool, at time.Time) Message {
	return Message{
		ID:        newMessageID(),
		Text:      text,
		IsUser:    isUser,
		Timestamp: at,
	}
}

func newMessageID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

// StateEvent describes a single state transition.
type StateEvent struct {
	Previous ConnectionState
	Current  ConnectionState
	// Attempts is the reconnect counter after the transition.
	Attempts int
	// Endpoint is the URL of the attempt the transition belongs to.
	Endpoint string
	// Err is set when the transition was caused by a failure.
	Err error
}

// Connection is the control surface the host uses to drive the connection.
type Connection interface {
	Activate() error
	Deactivate() error
	Send(text string) error
	RequestReconnect() error

	State() ConnectionState
	ReconnectAttempts() int
	RetriesExhausted() bool
	Transcript() []Message
	Endpoint() string
}

// ConnectionMonitor receives connection notifications. Callbacks are delivered
// in order on a goroutine owned by the connection, never on the caller's.
type ConnectionMonitor interface {
	OnStateChange(event StateEvent)
	OnMessage(msg Message)
	OnSystemMessage(text string)
	OnRetriesExhausted(attempts int)
}

// BaseMonitor provides no-op implementations of ConnectionMonitor so that
// implementations can embed it and override only what they need.
type BaseMonitor struct{}

func (BaseMonitor) OnStateChange(StateEvent) {}
func (BaseMonitor) OnMessage(Message)        {}
func (BaseMonitor) OnSystemMessage(string)   {}
func (BaseMonitor) OnRetriesExhausted(int)   {}
