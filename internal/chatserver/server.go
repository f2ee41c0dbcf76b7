// Package chatserver is a local stand-in for the chat API's socket endpoint.
// It greets each connection with a system frame, echoes text back, answers
// ping with pong and sends periodic keepalive pings.
package chatserver

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	DefaultKeepalive = 30 * time.Second
	pathPrefix       = "/ws/"
	// naive ISO-8601, as the API emits it
	timestampLayout = "2006-01-02T15:04:05.000000"
)

// Received is one inbound message as seen by the server.
type Received struct {
	WidgetKey string
	SessionID string
	Text      string
}

// Server handles /ws/{widget_key}.
type Server struct {
	logger    *zap.Logger
	upgrader  websocket.Upgrader
	keepalive time.Duration

	rejecting atomic.Bool
	accepted  atomic.Int64

	mu       sync.Mutex
	sessions map[*session]struct{}
	received []Received
}

type session struct {
	id        string
	widgetKey string
	conn      *websocket.Conn
	writeMu   sync.Mutex
}

// New creates a server with the default keepalive interval.
func New(logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		logger:    logger,
		keepalive: DefaultKeepalive,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		sessions: make(map[*session]struct{}),
	}
}

// WithKeepalive sets the server ping interval. Zero disables keepalive pings.
func (s *Server) WithKeepalive(interval time.Duration) *Server {
	if interval >= 0 {
		s.keepalive = interval
	}
	return s
}

// SetRejecting makes the server refuse upgrades with 503 while true.
func (s *Server) SetRejecting(reject bool) {
	s.rejecting.Store(reject)
}

// Accepted returns how many sockets have been upgraded so far.
func (s *Server) Accepted() int {
	return int(s.accepted.Load())
}

// Connections returns the number of live sessions.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Received returns a copy of all text messages received.
func (s *Server) Received() []Received {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Received, len(s.received))
	copy(out, s.received)
	return out
}

// DisconnectAll closes every live session with the given close code.
func (s *Server) DisconnectAll(code int, reason string) {
	s.mu.Lock()
	sessions := make([]*session, 0, len(s.sessions))
	for sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.writeMu.Lock()
		_ = sess.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
		sess.writeMu.Unlock()
		_ = sess.conn.Close()
	}
}

// DropAll closes every live session without a close frame.
func (s *Server) DropAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sess := range s.sessions {
		_ = sess.conn.Close()
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	widgetKey := strings.TrimPrefix(r.URL.Path, pathPrefix)
	if !strings.HasPrefix(r.URL.Path, pathPrefix) || widgetKey == "" {
		http.NotFound(w, r)
		return
	}
	if s.rejecting.Load() {
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Upgrade failed", zap.Error(err))
		return
	}
	s.accepted.Add(1)

	sess := &session{
		id:        uuid.NewString(),
		widgetKey: widgetKey,
		conn:      conn,
	}
	s.mu.Lock()
	s.sessions[sess] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.sessions, sess)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	s.logger.Info("Widget connected", zap.String("widget_key", widgetKey), zap.String("session_id", sess.id))

	if err := sess.send(map[string]string{
		"type":       "system",
		"message":    "Connected successfully with widget key: " + widgetKey,
		"session_id": sess.id,
		"timestamp":  now(),
	}); err != nil {
		return
	}

	done := make(chan struct{})
	defer close(done)
	if s.keepalive > 0 {
		go s.keepaliveLoop(sess, done)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.logger.Debug("Widget disconnected", zap.String("session_id", sess.id), zap.Error(err))
			return
		}
		if err := s.process(sess, string(data)); err != nil {
			return
		}
	}
}

func (s *Server) process(sess *session, text string) error {
	var envelope struct {
		Type string `json:"type"`
	}
	if json.Unmarshal([]byte(text), &envelope) == nil {
		switch envelope.Type {
		case "ping":
			return sess.send(map[string]string{"type": "pong", "timestamp": now()})
		case "pong":
			return nil
		}
	}

	s.mu.Lock()
	s.received = append(s.received, Received{WidgetKey: sess.widgetKey, SessionID: sess.id, Text: text})
	s.mu.Unlock()

	return sess.send(map[string]string{
		"type":       "echo",
		"message":    text,
		"session_id": sess.id,
		"timestamp":  now(),
	})
}

func (s *Server) keepaliveLoop(sess *session, done <-chan struct{}) {
	ticker := time.NewTicker(s.keepalive)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := sess.send(map[string]string{
				"type":       "ping",
				"timestamp":  now(),
				"session_id": sess.id,
			}); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (sess *session) send(v any) error {
	sess.writeMu.Lock()
	defer sess.writeMu.Unlock()
	return sess.conn.WriteJSON(v)
}

func now() string {
	return time.Now().UTC().Format(timestampLayout)
}
