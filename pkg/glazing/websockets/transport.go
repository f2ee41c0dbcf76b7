// Package websockets adapts github.com/coder/websocket to the small
// transport surface the connection manager needs.
package websockets

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// Close codes used by the connection manager.
const (
	StatusNormalClosure = websocket.StatusNormalClosure
	StatusInternalError = websocket.StatusInternalError
)

// Transport is one established socket.
type Transport interface {
	// Read blocks until the next data frame arrives. A close from the peer is
	// returned as an error carrying the close status (see CloseCode).
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	// Close performs the close handshake with the given code and reason.
	Close(code websocket.StatusCode, reason string) error
	// CloseNow drops the socket without a handshake.
	CloseNow() error
}

// Dialer opens transports.
type Dialer interface {
	Dial(ctx context.Context, url string) (Transport, error)
}

// CloseCode extracts the close status from an error returned by Read.
// It returns -1 when err does not carry a close frame.
func CloseCode(err error) websocket.StatusCode {
	return websocket.CloseStatus(err)
}

// IsNormalClosure reports whether err is a clean close with code 1000.
func IsNormalClosure(err error) bool {
	return CloseCode(err) == websocket.StatusNormalClosure
}

// ErrDialTimeout is wrapped into dial errors caused by the dial timeout.
var ErrDialTimeout = errors.New("dial timed out")

// CoderDialer dials transports with github.com/coder/websocket.
type CoderDialer struct {
	logger       *zap.Logger
	dialTimeout  time.Duration
	writeTimeout time.Duration
	readLimit    int64
	headers      map[string][]string
}

// Dial connects to url. The dial timeout bounds only the handshake.
func (d *CoderDialer) Dial(ctx context.Context, url string) (Transport, error) {
	dialCtx, cancel := context.WithTimeout(ctx, d.dialTimeout)
	defer cancel()

	opts := &websocket.DialOptions{}
	if len(d.headers) > 0 {
		opts.HTTPHeader = make(map[string][]string, len(d.headers))
		for key, values := range d.headers {
			opts.HTTPHeader[key] = values
		}
	}

	conn, _, err := websocket.Dial(dialCtx, url, opts)
	if err != nil {
		if errors.Is(dialCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("failed to connect to %s: %w: %w", url, ErrDialTimeout, err)
		}
		return nil, fmt.Errorf("failed to connect to %s: %w", url, err)
	}
	if d.readLimit > 0 {
		conn.SetReadLimit(d.readLimit)
	}

	d.logger.Debug("WebSocket dialed", zap.String("url", url))

	return &coderTransport{conn: conn, writeTimeout: d.writeTimeout}, nil
}

type coderTransport struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
}

func (t *coderTransport) Read(ctx context.Context) ([]byte, error) {
	// Binary frames are treated like text; the endpoint only sends JSON.
	_, data, err := t.conn.Read(ctx)
	return data, err
}

func (t *coderTransport) Write(ctx context.Context, data []byte) error {
	if t.writeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.writeTimeout)
		defer cancel()
	}
	return t.conn.Write(ctx, websocket.MessageText, data)
}

func (t *coderTransport) Close(code websocket.StatusCode, reason string) error {
	return t.conn.Close(code, reason)
}

func (t *coderTransport) CloseNow() error {
	return t.conn.CloseNow()
}
