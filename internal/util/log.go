package util

import (
	"fmt"
	"io"

	"github.com/pterm/pterm"
)

func init() {
	pterm.DefaultLogger.ShowTime = true
	pterm.DefaultLogger.TimeFormat = "02 Jan 15:04:05.000"
	pterm.DefaultLogger.MaxWidth = 1000
}

// Leveled logging functions backed by the pterm default logger.

func LogDebug(format string, args ...any) {
	pterm.DefaultLogger.Debug(fmt.Sprintf(format, args...))
}

func LogInfo(format string, args ...any) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...))
}

func LogSuccess(format string, args ...any) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...))
}

func LogWarning(format string, args ...any) {
	pterm.DefaultLogger.Warn(fmt.Sprintf(format, args...))
}

func LogError(format string, args ...any) {
	pterm.DefaultLogger.Error(fmt.Sprintf(format, args...))
}

// EnableDebug configures the logger to show debug messages.
func EnableDebug() {
	pterm.DefaultLogger.Level = pterm.LogLevelDebug
}

// SetLogOutput redirects log lines, e.g. away from a terminal that carries a
// response body.
func SetLogOutput(w io.Writer) {
	pterm.DefaultLogger.Writer = w
}

// SessionLog prefixes every line with an 8-hex-digit session id.
type SessionLog uint32

func (l SessionLog) Debug(format string, args ...any) {
	LogDebug("[%08x] "+format, l.prepend(args)...)
}

func (l SessionLog) Info(format string, args ...any) {
	LogInfo("[%08x] "+format, l.prepend(args)...)
}

func (l SessionLog) Warning(format string, args ...any) {
	LogWarning("[%08x] "+format, l.prepend(args)...)
}

func (l SessionLog) Error(format string, args ...any) {
	LogError("[%08x] "+format, l.prepend(args)...)
}

func (l SessionLog) prepend(args []any) []any {
	return append([]any{uint32(l)}, args...)
}
