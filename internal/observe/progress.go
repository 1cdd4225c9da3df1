package observe

import (
	"go.uber.org/zap"

	"github-maintainer/internal/domain"
)

// LogSink writes progress events to the structured log.
type LogSink struct {
	log *zap.Logger
}

func NewLogSink(log *zap.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Emit(event domain.ProgressEvent) {
	fields := []zap.Field{
		zap.String("stage", event.Stage),
		zap.Time("at", event.Timestamp),
	}
	if event.Total > 0 {
		fields = append(fields, zap.Int("current", event.Current), zap.Int("total", event.Total))
	}
	s.log.Info(event.Message, fields...)
}

// SinkFunc adapts a function into a ProgressSink.
type SinkFunc func(event domain.ProgressEvent)

func (f SinkFunc) Emit(event domain.ProgressEvent) { f(event) }

// NopSink discards all events.
type NopSink struct{}

func (NopSink) Emit(domain.ProgressEvent) {}
