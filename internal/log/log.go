// Package log is a thin wrapper around logrus so the rest of the tree
// doesn't import the logging backend directly.
package log

import (
	"github.com/sirupsen/logrus"
)

var logger = logrus.New()

// SetDebug enables debug-level output.
func SetDebug(enabled bool) {
	if enabled {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}
}

// Debugf logs detailed information about internal behavior.
func Debugf(format string, args ...any) {
	logger.Debugf(format, args...)
}

// Infof logs informational messages about the general state of the tool.
func Infof(format string, args ...any) {
	logger.Infof(format, args...)
}

// Warnf logs conditions that are recoverable but worth surfacing.
func Warnf(format string, args ...any) {
	logger.Warnf(format, args...)
}

// Errorf logs exceptional states.
func Errorf(format string, args ...any) {
	logger.Errorf(format, args...)
}

// Fatalf logs the message and exits.
func Fatalf(format string, args ...any) {
	logger.Fatalf(format, args...)
}
