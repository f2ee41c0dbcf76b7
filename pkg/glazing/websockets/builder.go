package websockets

import (
	"time"

	"go.uber.org/zap"
)

const (
	DefaultDialTimeout  = 30 * time.Second
	DefaultWriteTimeout = 10 * time.Second
	DefaultReadLimit    = 1 << 20
)

// DialerBuilder provides a fluent interface for building a CoderDialer.
type DialerBuilder struct {
	logger       *zap.Logger
	dialTimeout  time.Duration
	writeTimeout time.Duration
	readLimit    int64
	headers      map[string][]string
}

// NewDialer creates a new dialer builder with default settings.
func NewDialer() *DialerBuilder {
	return &DialerBuilder{
		logger:       zap.NewNop(),
		dialTimeout:  DefaultDialTimeout,
		writeTimeout: DefaultWriteTimeout,
		readLimit:    DefaultReadLimit,
	}
}

// WithLogger sets the logger for the dialer.
func (b *DialerBuilder) WithLogger(logger *zap.Logger) *DialerBuilder {
	if logger != nil {
		b.logger = logger
	}
	return b
}

// WithDialTimeout sets the timeout for the opening handshake.
func (b *DialerBuilder) WithDialTimeout(timeout time.Duration) *DialerBuilder {
	if timeout > 0 {
		b.dialTimeout = timeout
	}
	return b
}

// WithWriteTimeout bounds each frame write.
func (b *DialerBuilder) WithWriteTimeout(timeout time.Duration) *DialerBuilder {
	if timeout > 0 {
		b.writeTimeout = timeout
	}
	return b
}

// WithReadLimit sets the maximum inbound frame size in bytes.
func (b *DialerBuilder) WithReadLimit(limit int64) *DialerBuilder {
	if limit > 0 {
		b.readLimit = limit
	}
	return b
}

// WithHeaders merges custom HTTP headers into the handshake request.
func (b *DialerBuilder) WithHeaders(headers map[string][]string) *DialerBuilder {
	if b.headers == nil {
		b.headers = make(map[string][]string)
	}
	for key, values := range headers {
		b.headers[key] = values
	}
	return b
}

// WithHeader sets a single HTTP header for the handshake.
func (b *DialerBuilder) WithHeader(key, value string) *DialerBuilder {
	if b.headers == nil {
		b.headers = make(map[string][]string)
	}
	b.headers[key] = []string{value}
	return b
}

func (b *DialerBuilder) Build() *CoderDialer {
	return &CoderDialer{
		logger:       b.logger,
		dialTimeout:  b.dialTimeout,
		writeTimeout: b.writeTimeout,
		readLimit:    b.readLimit,
		headers:      b.headers,
	}
}
