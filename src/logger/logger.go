package logger

import (
	"fmt"
	"log"
	"os"
	"strings"
)

// -----------------------------------------------------------------------------

const (
	levelDebug = iota
	levelInfo
	levelWarning
	levelError
)

// Logger provides structured logging functionality
type Logger struct {
	name     string
	logger   *log.Logger
	minLevel int
}

// -----------------------------------------------------------------------------

// NewLogger creates a new Logger instance. minLevel is one of
// DEBUG/INFO/WARNING/ERROR; anything else defaults to INFO.
func NewLogger(minLevel string, name string) *Logger {
	return &Logger{
		name:     name,
		logger:   log.New(os.Stdout, "", log.LstdFlags),
		minLevel: parseLevel(minLevel),
	}
}

// -----------------------------------------------------------------------------

func parseLevel(s string) int {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return levelDebug
	case "WARNING":
		return levelWarning
	case "ERROR":
		return levelError
	default:
		return levelInfo
	}
}

// -----------------------------------------------------------------------------

// Debug logs debug messages (protocol noise, discarded frames)
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.minLevel > levelDebug {
		return
	}
	msg := fmt.Sprintf(format, args...)
	l.logger.Printf("[%s] DEBUG: %s", l.name, msg)
}

// -----------------------------------------------------------------------------

// Info logs informational messages
func (l *Logger) Info(format string, args ...interface{}) {
	if l.minLevel > levelInfo {
		return
	}
	msg := fmt.Sprintf(format, args...)
	l.logger.Printf("[%s] INFO: %s", l.name, msg)
}

// -----------------------------------------------------------------------------

// Warning logs warning messages
func (l *Logger) Warning(format string, args ...interface{}) {
	if l.minLevel > levelWarning {
		return
	}
	msg := fmt.Sprintf(format, args...)
	l.logger.Printf("[%s] WARNING: %s", l.name, msg)
}

// -----------------------------------------------------------------------------

// Error logs error messages
func (l *Logger) Error(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	l.logger.Printf("[%s] ERROR: %s", l.name, msg)
}

// -----------------------------------------------------------------------------

// Critical logs critical errors and exits the application
func (l *Logger) Critical(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	l.logger.Printf("[%s] CRITICAL: %s", l.name, msg)
	os.Exit(1)
}
