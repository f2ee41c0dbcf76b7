// Package o11y defines the metrics and tracing hooks used by the connection
// manager, independent of any telemetry backend.
package o11y

import (
	"context"
)

// Config carries the providers handed to a connection manager. Either may
// be nil, in which case that signal is not recorded.
type Config struct {
	MetricsProvider MetricsProvider
	TracingProvider TracingProvider
}

// MetricsProvider hands out named instruments. See MemoryProvider and the
// otel package.
type MetricsProvider interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
	Gauge(name string) Gauge
}

// TracingProvider starts one span per connection attempt.
type TracingProvider interface {
	StartSpan(ctx context.Context, name string) (context.Context, Span)
}

// Counter only goes up.
type Counter interface {
	Add(ctx context.Context, value int64, labels ...Label)
}

type Histogram interface {
	Record(ctx context.Context, value float64, labels ...Label)
}

// Gauge holds the latest value set, such as whether a socket is open.
type Gauge interface {
	Set(ctx context.Context, value float64, labels ...Label)
}

type Span interface {
	SetAttributes(labels ...Label)
	SetStatus(code SpanStatusCode, description string)
	End()
}

// Label is attached to measurements and spans, e.g. result=failure or
// from=connecting.
type Label struct {
	Key   string
	Value string
}

type SpanStatusCode int

const (
	SpanStatusUnset SpanStatusCode = iota
	SpanStatusOK
	SpanStatusError
)
