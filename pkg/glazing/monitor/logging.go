package monitor

import (
	"github.com/Avinash-jetwani/glazing-ai-bot/pkg/glazing"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LoggingMonitor logs every notification and forwards it to the wrapped
// monitor, if any.
type LoggingMonitor struct {
	wrapped  glazing.ConnectionMonitor // can be nil
	logger   *zap.Logger
	logLevel zapcore.Level
	name     string
}

// NewLoggingMonitor creates a LoggingMonitor. If wrapped is nil it only logs.
func NewLoggingMonitor(wrapped glazing.ConnectionMonitor, logger *zap.Logger, logLevel zapcore.Level) *LoggingMonitor {
	return NewNamedLoggingMonitor(wrapped, logger, logLevel, "LoggingMonitor")
}

// NewNamedLoggingMonitor is NewLoggingMonitor with a custom name in the log fields.
func NewNamedLoggingMonitor(wrapped glazing.ConnectionMonitor, logger *zap.Logger, logLevel zapcore.Level, name string) *LoggingMonitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoggingMonitor{
		wrapped:  wrapped,
		logger:   logger,
		logLevel: logLevel,
		name:     name,
	}
}

func (l *LoggingMonitor) OnStateChange(event glazing.StateEvent) {
	fields := []zap.Field{
		zap.String("monitor", l.name),
		zap.Stringer("from", event.Previous),
		zap.Stringer("to", event.Current),
		zap.Int("attempts", event.Attempts),
		zap.String("endpoint", event.Endpoint),
	}
	if event.Err != nil {
		fields = append(fields, zap.Error(event.Err))
	}
	l.logger.Log(l.logLevel, "Connection state changed", fields...)

	if l.wrapped != nil {
		l.wrapped.OnStateChange(event)
	}
}

func (l *LoggingMonitor) OnMessage(msg glazing.Message) {
	l.logger.Log(l.logLevel, "Transcript message",
		zap.String("monitor", l.name),
		zap.String("id", msg.ID),
		zap.Bool("isUser", msg.IsUser),
		zap.Int("length", len(msg.Text)),
	)

	if l.wrapped != nil {
		l.wrapped.OnMessage(msg)
	}
}

func (l *LoggingMonitor) OnSystemMessage(text string) {
	l.logger.Log(l.logLevel, "System message",
		zap.String("monitor", l.name),
		zap.String("message", text),
	)

	if l.wrapped != nil {
		l.wrapped.OnSystemMessage(text)
	}
}

func (l *LoggingMonitor) OnRetriesExhausted(attempts int) {
	// always at least warn; the connection has given up
	level := l.logLevel
	if level < zapcore.WarnLevel {
		level = zapcore.WarnLevel
	}
	l.logger.Log(level, "Reconnect attempts exhausted",
		zap.String("monitor", l.name),
		zap.Int("attempts", attempts),
	)

	if l.wrapped != nil {
		l.wrapped.OnRetriesExhausted(attempts)
	}
}
