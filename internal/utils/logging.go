package utils

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// LogLevel represents the logging level
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// LogFormat represents the logging format
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// Logger wraps logrus.Logger with an output toggle.
type Logger struct {
	*logrus.Logger

	mu  sync.Mutex
	out io.Writer
	off bool
}

// LoggerConfig holds configuration for the logger
type LoggerConfig struct {
	Level  LogLevel  `yaml:"level" env:"OBJKIT_LOG_LEVEL"`
	Format LogFormat `yaml:"format" env:"OBJKIT_LOG_FORMAT"`
	Output io.Writer `yaml:"-"`
}

// NewLogger creates a new logger with the given configuration
func NewLogger(config LoggerConfig) *Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(string(config.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	switch config.Format {
	case LogFormatJSON:
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		})
	default:
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		})
	}

	out := config.Output
	if out == nil {
		out = os.Stderr
	}
	logger.SetOutput(out)

	return &Logger{Logger: logger, out: out}
}

// NewDefaultLogger creates a logger with default configuration
func NewDefaultLogger() *Logger {
	return NewLogger(LoggerConfig{
		Level:  LogLevelInfo,
		Format: LogFormatText,
		Output: os.Stderr,
	})
}

// Disable discards all output until Enable is called.
func (l *Logger) Disable() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.off = true
	l.Logger.SetOutput(io.Discard)
}

// Enable restores the configured output.
func (l *Logger) Enable() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.off = false
	l.Logger.SetOutput(l.out)
}

// Enabled reports whether output is currently written.
func (l *Logger) Enabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return !l.off
}

// SetOutput changes the writer used while enabled.
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.out = w
	if !l.off {
		l.Logger.SetOutput(w)
	}
}

// WithComponent adds a component field to the logger
func (l *Logger) WithComponent(component string) *logrus.Entry {
	return l.WithField("component", component)
}

// WithBinary tags entries with the image being processed.
func (l *Logger) WithBinary(component, path string) *logrus.Entry {
	return l.WithFields(logrus.Fields{
		"component": component,
		"path":      path,
	})
}

// ParseLogLevel parses a log level string
func ParseLogLevel(level string) (LogLevel, error) {
	switch strings.ToLower(level) {
	case "debug":
		return LogLevelDebug, nil
	case "info":
		return LogLevelInfo, nil
	case "warn", "warning":
		return LogLevelWarn, nil
	case "error":
		return LogLevelError, nil
	default:
		return LogLevelInfo, nil
	}
}

// ParseLogFormat parses a log format string
func ParseLogFormat(format string) LogFormat {
	switch strings.ToLower(format) {
	case "json":
		return LogFormatJSON
	default:
		return LogFormatText
	}
}

var (
	diagOnce sync.Once
	diag     *Logger
)

// Diagnostics is the process-wide diagnostic logger used when no logger is
// injected explicitly. It only ever affects what is printed.
func Diagnostics() *Logger {
	diagOnce.Do(func() {
		diag = NewLogger(LoggerConfig{Level: LogLevelWarn, Format: LogFormatText})
	})
	return diag
}

// EnableLogging turns diagnostic output on.
func EnableLogging() { Diagnostics().Enable() }

// DisableLogging turns diagnostic output off.
func DisableLogging() { Diagnostics().Disable() }
