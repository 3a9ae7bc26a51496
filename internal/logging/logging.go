// Package logging configures the process-wide logger shared by the engine's
// control plane and fault plane.
package logging

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
)

var logger = log.New()

func init() {
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	logger.SetLevel(log.InfoLevel)
}

// Logger returns the shared logger.
func Logger() *log.Logger { return logger }

// SetLevel parses a level name (as found in config.toml's logging.level) and
// applies it. An unrecognized name falls back to info rather than failing,
// since a bad log level should never prevent the engine from starting.
// Ignored once SetVerbose(true) has been called.
func SetLevel(name string) {
	if verbose {
		return
	}
	lvl, err := log.ParseLevel(name)
	if err != nil {
		lvl = log.InfoLevel
	}
	logger.SetLevel(lvl)
}

// SetVerbose raises the level to debug, matching the CLI's --verbose flag;
// it takes precedence over whatever config.toml requested.
func SetVerbose(v bool) {
	verbose = v
	if v {
		logger.SetLevel(log.DebugLevel)
	}
}

// verbose records the last SetVerbose value, so that a later SetLevel
// (from config.toml) does not lower the level again.
var verbose bool

// Info, Warn, and Debug log a plain message at the shared logger's
// corresponding level, for call sites with no structured fields to attach.
func Info(args ...any)  { logger.Info(args...) }
func Warn(args ...any)  { logger.Warn(args...) }
func Debug(args ...any) { logger.Debug(args...) }

// Fields is a shorthand for log.Fields, re-exported so callers in this
// module don't need a second logrus import just for structured fields.
type Fields = log.Fields

// WithFields is shorthand for Logger().WithFields.
func WithFields(f Fields) *log.Entry { return logger.WithFields(f) }

// Fatalf logs at error level and panics; used at the few points in the
// engine where a failure leaves no way to service the in-flight request
// and the process must not continue in a half-serviced state.
func Fatalf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	logger.Error(msg)
	panic(msg)
}
