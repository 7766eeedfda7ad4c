// File: internal/observability/mirror.go
package observability

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/fireflybatch/api/schemas"
)

// LevelFor maps a progress severity onto a zap level.
func LevelFor(sev schemas.Severity) zapcore.Level {
	switch sev {
	case schemas.SeverityStep:
		return zapcore.DebugLevel
	case schemas.SeverityWarning:
		return zapcore.WarnLevel
	case schemas.SeverityError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// MirrorSink writes progress events into the structured log.
type MirrorSink struct {
	logger *zap.Logger
}

// NewMirrorSink returns a sink that logs each event on logger.
func NewMirrorSink(logger *zap.Logger) *MirrorSink {
	return &MirrorSink{logger: logger.Named("progress")}
}

// Emit logs ev at the level matching its severity.
func (m *MirrorSink) Emit(ev schemas.LogEvent) {
	fields := []zap.Field{zap.String("severity", string(ev.Severity))}
	if ev.CommandID != "" {
		fields = append(fields, zap.String("command_id", ev.CommandID))
	}
	if ce := m.logger.Check(LevelFor(ev.Severity), ev.Message); ce != nil {
		ce.Write(fields...)
	}
}

// Mirror drains events into sink until the channel closes or ctx ends.
func Mirror(ctx context.Context, events <-chan schemas.LogEvent, sink schemas.LogSink) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			sink.Emit(ev)
		}
	}
}
