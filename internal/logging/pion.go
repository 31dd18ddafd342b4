package logging

import (
	"fmt"

	pionlogging "github.com/pion/logging"
)

// pionLogger routes pion's leveled logging into a module logger. pion has no
// structured fields, so formatted variants are rendered into the message.
type pionLogger struct {
	logger Logger
}

// NewPionLogger adapts logger for pion libraries. Trace output is folded
// into Debug.
func NewPionLogger(logger Logger) pionlogging.LeveledLogger {
	return pionLogger{logger: logger}
}

func (p pionLogger) Trace(msg string) { p.logger.Debug(msg) }
func (p pionLogger) Debug(msg string) { p.logger.Debug(msg) }
func (p pionLogger) Info(msg string)  { p.logger.Info(msg) }
func (p pionLogger) Warn(msg string)  { p.logger.Warn(msg) }
func (p pionLogger) Error(msg string) { p.logger.Error(msg) }

func (p pionLogger) Tracef(format string, args ...any) { p.logger.Debug(fmt.Sprintf(format, args...)) }
func (p pionLogger) Debugf(format string, args ...any) { p.logger.Debug(fmt.Sprintf(format, args...)) }
func (p pionLogger) Infof(format string, args ...any)  { p.logger.Info(fmt.Sprintf(format, args...)) }
func (p pionLogger) Warnf(format string, args ...any)  { p.logger.Warn(fmt.Sprintf(format, args...)) }
func (p pionLogger) Errorf(format string, args ...any) { p.logger.Error(fmt.Sprintf(format, args...)) }
