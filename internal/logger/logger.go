package logger

import (
	"fmt"
	"log"
	"os"

	"github.com/fatih/color"
)

// Logger is a small leveled logger. Debug output is off unless enabled.
type Logger struct {
	debug       bool
	debugLogger *log.Logger
	infoLogger  *log.Logger
	warnLogger  *log.Logger
	errorLogger *log.Logger
}

// New creates a logger. Errors and warnings go to stderr, the rest to stdout.
func New(debug bool) *Logger {
	return &Logger{
		debug:       debug,
		debugLogger: log.New(os.Stdout, "DEBUG: ", log.Ldate|log.Ltime|log.Lshortfile),
		infoLogger:  log.New(os.Stdout, "INFO: ", log.Ldate|log.Ltime),
		warnLogger:  log.New(os.Stderr, color.YellowString("WARN: "), log.Ldate|log.Ltime),
		errorLogger: log.New(os.Stderr, color.RedString("ERROR: "), log.Ldate|log.Ltime|log.Lshortfile),
	}
}

// Debug logs a debug message if debug mode is enabled.
func (l *Logger) Debug(format string, v ...interface{}) {
	if l.debug {
		l.debugLogger.Output(2, fmt.Sprintf(format, v...))
	}
}

// Info logs an info message.
func (l *Logger) Info(format string, v ...interface{}) {
	l.infoLogger.Output(2, fmt.Sprintf(format, v...))
}

// Warn logs a warning.
func (l *Logger) Warn(format string, v ...interface{}) {
	l.warnLogger.Output(2, fmt.Sprintf(format, v...))
}

// Error logs an error message.
func (l *Logger) Error(format string, v ...interface{}) {
	l.errorLogger.Output(2, fmt.Sprintf(format, v...))
}

// IsDebugEnabled returns whether debug logging is enabled.
func (l *Logger) IsDebugEnabled() bool { return l.debug }

// Discard returns a logger whose output goes nowhere. Handy in tests.
func Discard() *Logger {
	null, _ := os.Open(os.DevNull)
	flags := 0
	return &Logger{
		debugLogger: log.New(null, "", flags),
		infoLogger:  log.New(null, "", flags),
		warnLogger:  log.New(null, "", flags),
		errorLogger: log.New(null, "", flags),
	}
}
