// internal/automation/report.go
package automation

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/fireflybatch/api/schemas"
)

// reporter emits progress events for one command.
type reporter struct {
	sink      schemas.LogSink
	logger    *zap.Logger
	commandID string
}

func newReporter(sink schemas.LogSink, logger *zap.Logger, commandID string) *reporter {
	if sink == nil {
		sink = schemas.NopSink
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &reporter{sink: sink, logger: logger.With(zap.String("command_id", commandID)), commandID: commandID}
}

func (r *reporter) emit(sev schemas.Severity, format string, args ...interface{}) {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	r.sink.Emit(schemas.LogEvent{Message: msg, Severity: sev, CommandID: r.commandID})
}

func (r *reporter) step(format string, args ...interface{}) {
	r.emit(schemas.SeverityStep, format, args...)
}
func (r *reporter) info(format string, args ...interface{}) {
	r.emit(schemas.SeverityInfo, format, args...)
}
func (r *reporter) success(format string, args ...interface{}) {
	r.emit(schemas.SeveritySuccess, format, args...)
}
func (r *reporter) warn(format string, args ...interface{}) {
	r.emit(schemas.SeverityWarning, format, args...)
}
func (r *reporter) fail(format string, args ...interface{}) {
	r.emit(schemas.SeverityError, format, args...)
}
