package audit

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
)

// Sink receives events. Implementations must never propagate failures;
// anything that goes wrong inside a sink is the sink's problem.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// NoopSink discards every event.
type NoopSink struct{}

func (NoopSink) Emit(context.Context, Event) {}

// ChannelSink exposes events on a channel, mainly for tests and embedding
// applications that run their own fan-out.
type ChannelSink struct {
	events chan Event
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{events: make(chan Event, buffer)}
}

func (s *ChannelSink) Emit(ctx context.Context, event Event) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

// WriterSink appends line-delimited JSON to a writer. Writes are
// serialized; marshal or write failures are swallowed.
type WriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{writer: w}
}

func (s *WriterSink) Emit(_ context.Context, event Event) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}

// LoggerSink emits one slog record per event. Severity maps to the log
// level: INFO to Info, MEDIUM to Warn, HIGH and CRITICAL to Error.
type LoggerSink struct {
	logger *slog.Logger
}

func NewLoggerSink(logger *slog.Logger) *LoggerSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggerSink{logger: logger}
}

func (s *LoggerSink) Emit(ctx context.Context, event Event) {
	s.logger.LogAttrs(ctx, severityLevel(event.Severity), "audit event",
		slog.String("audit_id", event.ID),
		slog.String("type", event.Type),
		slog.String("severity", event.Severity.String()),
		slog.String("user_id", event.UserID),
		slog.String("session_id", event.SessionID),
		slog.String("ip", event.IP),
		slog.String("outcome", event.Outcome),
		slog.String("error_code", event.ErrorCode),
		slog.String("correlation_id", event.CorrelationID),
		slog.Time("at", event.Timestamp),
	)
}

func severityLevel(s Severity) slog.Level {
	switch s {
	case SeverityInfo:
		return slog.LevelInfo
	case SeverityMedium:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}
