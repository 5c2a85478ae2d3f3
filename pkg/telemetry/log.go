package telemetry

import (
	"context"
	"log/slog"
	"strings"
)

// LogSink writes one structured record per event.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger.With(slog.String("component", "coord"))}
}

func (s *LogSink) Emit(ctx context.Context, ev Event) {
	attrs := []slog.Attr{
		slog.String("name", ev.Name),
		slog.String("keys", strings.Join(ev.Keys, ",")),
		slog.String("holder", ev.Holder.String()),
		slog.String("mode", ev.Mode.String()),
		slog.Duration("wait", ev.Wait),
		slog.Duration("duration", ev.Duration),
		slog.String("outcome", string(ev.Outcome)),
	}

	level := slog.LevelInfo
	switch ev.Outcome {
	case OutcomeBusy:
		level = slog.LevelWarn
		attrs = append(attrs, slog.String("busy_key", ev.BusyKey))
	case OutcomeError, OutcomePanic:
		level = slog.LevelError
	}
	if ev.Err != nil {
		attrs = append(attrs, slog.String("error", ev.Err.Error()))
	}

	s.logger.LogAttrs(ctx, level, "guarded run", attrs...)
}
