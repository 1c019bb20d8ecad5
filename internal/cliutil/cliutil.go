// Package cliutil provides the small set of CLI conveniences shared by
// cmd/memchunkctl's subcommands: a leveled logger and a consistent
// error-exit path.
package cliutil

import (
	"fmt"
	"os"
	"time"
)

// Logger is a minimal leveled logger satisfying region.Logger.
// Verbose gates Info, DebugMode gates Debug; Warn and Error always
// print.
type Logger struct {
	Verbose   bool
	DebugMode bool
}

// NewLogger creates a Logger with the given verbosity flags.
func NewLogger(verbose, debug bool) *Logger {
	return &Logger{Verbose: verbose, DebugMode: debug}
}

func (l *Logger) print(level, format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "[%s] %s: %s\n", level, time.Now().Format("15:04:05"), fmt.Sprintf(format, args...))
}

// Info logs an info-level message when Verbose is set.
func (l *Logger) Info(format string, args ...interface{}) {
	if l.Verbose {
		l.print("INFO", format, args...)
	}
}

// Debug logs a debug-level message when DebugMode is set.
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.DebugMode {
		l.print("DEBUG", format, args...)
	}
}

// Warn always logs.
func (l *Logger) Warn(format string, args ...interface{}) { l.print("WARN", format, args...) }

// Error always logs.
func (l *Logger) Error(format string, args ...interface{}) { l.print("ERROR", format, args...) }

// ExitWithError prints a formatted error to stderr and exits with code 1.
func ExitWithError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
