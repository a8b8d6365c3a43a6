// Package log centralizes logging for fpgaflash behind a single logrus
// instance configured with the prefixed formatter, replacing the scattered
// printf-style Info|Warn|Error|Success calls of the original tool with one
// place to control verbosity and output destination.
package log

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

// L is the package-wide logger. Every fpgaflash package logs through it
// rather than constructing its own logrus.Logger, so a single -v
// flag in cmd/fpgaflash controls the whole module.
var L = logrus.New()

func init() {
	L.Out = os.Stderr
	L.SetFormatter(&prefixed.TextFormatter{
		ForceColors:     false,
		FullTimestamp:   true,
		TimestampFormat: "15:04:05",
	})
	L.SetLevel(logrus.InfoLevel)
}

// SetVerbosity maps the CLI's -v count (negative=errors only, 0=info, 1=debug, 2+=trace) onto a
// logrus level, the same one-flag-many-levels shape the original's
// verbose_level option used.
func SetVerbosity(n int) {
	switch {
	case n <= -1:
		L.SetLevel(logrus.ErrorLevel)
	case n == 0:
		L.SetLevel(logrus.InfoLevel)
	case n == 1:
		L.SetLevel(logrus.DebugLevel)
	default:
		L.SetLevel(logrus.TraceLevel)
	}
}

// SetOutput redirects diagnostic logging, used by tests to capture output.
func SetOutput(w io.Writer) {
	L.Out = w
}

// Info logs a human-readable status line (stage started, device found).
func Info(args ...interface{}) { L.Info(args...) }

// Warn logs a recoverable anomaly (soft-fail, retried short read).
func Warn(args ...interface{}) { L.Warn(args...) }

// Error logs a failure about to abort the current operation.
func Error(args ...interface{}) { L.Error(args...) }

// Success logs completion of an operation, mirroring the original's
// dedicated "success" level (implemented here as Info with a fixed field so
// it can still be grepped/filtered independently of plain Info lines).
func Success(args ...interface{}) {
	L.WithField("result", "success").Info(args...)
}

// Infof, Warnf, Errorf are the formatted counterparts.
func Infof(format string, args ...interface{})  { L.Infof(format, args...) }
func Warnf(format string, args ...interface{})  { L.Warnf(format, args...) }
func Errorf(format string, args ...interface{}) { L.Errorf(format, args...) }

// WithField returns an entry for structured, multi-call logging (e.g.
// tagging every line of a long erase loop with the sector index).
func WithField(key string, value interface{}) *logrus.Entry {
	return L.WithField(key, value)
}
