package util

import (
	"fmt"

	"github.com/pterm/pterm"
)

func init() {
	pterm.DefaultLogger.ShowTime = true
	pterm.DefaultLogger.TimeFormat = "02 Jan 15:04:05"
	pterm.DefaultLogger.MaxWidth = 1000
}

// Leveled logging on the pterm default logger, which writes to stderr. Key
// material must never be passed to any of these.

func LogDebug(format string, args ...any) {
	logAt(pterm.LogLevelDebug, nil, format, args)
}

func LogInfo(format string, args ...any) {
	logAt(pterm.LogLevelInfo, nil, format, args)
}

func LogWarning(format string, args ...any) {
	logAt(pterm.LogLevelWarn, nil, format, args)
}

func LogError(format string, args ...any) {
	logAt(pterm.LogLevelError, nil, format, args)
}

// LogSuccess prints a one-off confirmation for CLI users.
func LogSuccess(format string, args ...any) {
	pterm.Success.Println(fmt.Sprintf(format, args...))
}

// EnableDebug configures the logger to show debug messages.
func EnableDebug() {
	pterm.DefaultLogger.Level = pterm.LogLevelDebug
}

func logAt(level pterm.LogLevel, fields []pterm.LoggerArgument, format string, args []any) {
	l := pterm.DefaultLogger
	msg := fmt.Sprintf(format, args...)
	switch level {
	case pterm.LogLevelDebug:
		l.Debug(msg, fields)
	case pterm.LogLevelWarn:
		l.Warn(msg, fields)
	case pterm.LogLevelError:
		l.Error(msg, fields)
	default:
		l.Info(msg, fields)
	}
}

// ConnLog logs on behalf of one connection. Every line carries the id as a
// structured "conn" field.
type ConnLog uint32

func (c ConnLog) fields() []pterm.LoggerArgument {
	return pterm.DefaultLogger.Args("conn", fmt.Sprintf("%08x", uint32(c)))
}

func (c ConnLog) Debug(format string, args ...any) {
	logAt(pterm.LogLevelDebug, c.fields(), format, args)
}

func (c ConnLog) Info(format string, args ...any) {
	logAt(pterm.LogLevelInfo, c.fields(), format, args)
}

func (c ConnLog) Warn(format string, args ...any) {
	logAt(pterm.LogLevelWarn, c.fields(), format, args)
}

func (c ConnLog) Error(format string, args ...any) {
	logAt(pterm.LogLevelError, c.fields(), format, args)
}
