package logger

import (
	"io"
	"os"
	"syscall"
	"time"

	"codeberg.org/mutker/procmon/internal/errors"
	"github.com/rs/zerolog"
)

var log = zerolog.New(os.Stderr).With().Timestamp().Logger()

type LogEvent struct {
	*zerolog.Event
}

func (e *LogEvent) Msg(msg string) {
	e.Event.Msg(msg)
}

func (e *LogEvent) Send() {
	e.Event.Send()
}

// Init initializes the global logger. level is one of debug, info, warning
// or error.
func Init(level string, isService bool) error {
	output := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}

	if isService {
		output.TimeFormat = ""
		output.FormatTimestamp = func(_ interface{}) string {
			return ""
		}
	}

	log = zerolog.New(output).With().Timestamp().Logger()

	return SetLogLevel(level)
}

// SetLogLevel sets the global log level
func SetLogLevel(level string) error {
	var l zerolog.Level
	switch level {
	case "debug":
		l = zerolog.DebugLevel
	case "info":
		l = zerolog.InfoLevel
	case "warning", "warn":
		l = zerolog.WarnLevel
	case "error":
		l = zerolog.ErrorLevel
	default:
		return errors.New().WithData(errors.ErrInvalidLogLevel, level)
	}
	zerolog.SetGlobalLevel(l)

	return nil
}

// IsService checks if the application is running as a service
func IsService() bool {
	if _, err := os.Stdin.Stat(); err != nil {
		return true
	}
	if os.Getenv("SERVICE_NAME") != "" || os.Getenv("INVOCATION_ID") != "" {
		return true
	}
	if os.Getppid() == 1 {
		return true
	}

	return syscall.Getpgrp() == syscall.Getpid()
}

// Debug logs a debug message
func Debug() *LogEvent {
	return &LogEvent{log.Debug()}
}

// Info logs an info message
func Info() *LogEvent {
	return &LogEvent{log.Info()}
}

// Warn logs a warning message
func Warn() *LogEvent {
	return &LogEvent{log.Warn()}
}

// Error logs an error message
func Error() *LogEvent {
	return &LogEvent{log.Error()}
}

// ErrorWithCode logs an error message with a specific error code
func ErrorWithCode(err errors.Error) *LogEvent {
	return &LogEvent{withCode(log.Error(), err)}
}

// Fatal logs a fatal message and exits the program
func Fatal() *LogEvent {
	return &LogEvent{log.Fatal()}
}

// FatalWithCode logs a fatal message with a specific error code and exits the program
func FatalWithCode(err errors.Error) *LogEvent {
	return &LogEvent{withCode(log.Fatal(), err)}
}

func withCode(ev *zerolog.Event, err errors.Error) *zerolog.Event {
	return ev.
		Str("error_code", string(err.Code())).
		Str("error_message", err.Error()).
		AnErr("error", err.Unwrap())
}

// componentLogger is a Logger bound to a zerolog instance
type componentLogger struct {
	zl zerolog.Logger
}

// Default returns a Logger backed by the global logger.
func Default() Logger {
	return &componentLogger{zl: log}
}

// New returns a Logger writing to w. Used by tests to capture output.
func New(w io.Writer) Logger {
	return &componentLogger{zl: zerolog.New(w).With().Timestamp().Logger()}
}

// Nop returns a Logger that discards everything.
func Nop() Logger {
	return &componentLogger{zl: zerolog.Nop()}
}

func (l *componentLogger) Debug() *LogEvent { return &LogEvent{l.zl.Debug()} }
func (l *componentLogger) Info() *LogEvent  { return &LogEvent{l.zl.Info()} }
func (l *componentLogger) Warn() *LogEvent  { return &LogEvent{l.zl.Warn()} }
func (l *componentLogger) Error() *LogEvent { return &LogEvent{l.zl.Error()} }

func (l *componentLogger) ErrorWithCode(err errors.Error) *LogEvent {
	return &LogEvent{withCode(l.zl.Error(), err)}
}

func (l *componentLogger) With(component string) Logger {
	return &componentLogger{zl: l.zl.With().Str("component", component).Logger()}
}
