package speakwatch

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog for structured logging
type Logger struct {
	logger zerolog.Logger
}

// LogLevel represents the logging level
type LogLevel int

const (
	TraceLevel LogLevel = iota
	DebugLevel
	InfoLevel
	WarnLevel
	ErrorLevel
	DisabledLevel
)

// ParseLogLevel maps a config string to a LogLevel.
func ParseLogLevel(s string) (LogLevel, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return TraceLevel, true
	case "debug":
		return DebugLevel, true
	case "info", "":
		return InfoLevel, true
	case "warn", "warning":
		return WarnLevel, true
	case "error":
		return ErrorLevel, true
	case "none", "disabled":
		return DisabledLevel, true
	}
	return InfoLevel, false
}

// LogConfig represents the configuration for logging
type LogConfig struct {
	Level  LogLevel
	Pretty bool
	Output io.Writer
	Fields map[string]interface{}
}

// DefaultLogConfig returns a default logging configuration
func DefaultLogConfig() *LogConfig {
	return &LogConfig{
		Level:  InfoLevel,
		Pretty: true,
		Output: os.Stderr,
		Fields: make(map[string]interface{}),
	}
}

// NewLogger creates a new structured logger
func NewLogger(config *LogConfig) *Logger {
	if config == nil {
		config = DefaultLogConfig()
	}
	out := config.Output
	if out == nil {
		out = os.Stderr
	}

	var logger zerolog.Logger
	if config.Pretty {
		logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.Kitchen,
		})
	} else {
		logger = zerolog.New(out)
	}

	switch config.Level {
	case TraceLevel:
		logger = logger.Level(zerolog.TraceLevel)
	case DebugLevel:
		logger = logger.Level(zerolog.DebugLevel)
	case InfoLevel:
		logger = logger.Level(zerolog.InfoLevel)
	case WarnLevel:
		logger = logger.Level(zerolog.WarnLevel)
	case ErrorLevel:
		logger = logger.Level(zerolog.ErrorLevel)
	case DisabledLevel:
		logger = logger.Level(zerolog.Disabled)
	}

	logger = logger.With().Timestamp().Logger()

	if len(config.Fields) > 0 {
		logger = logger.With().Fields(config.Fields).Logger()
	}

	return &Logger{logger: logger}
}

// NopLogger returns a logger that discards everything.
func NopLogger() *Logger {
	return &Logger{logger: zerolog.Nop()}
}

// WithComponent adds a component field to the logger
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{logger: l.logger.With().Str("component", component).Logger()}
}

// WithField adds a field to the logger
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{logger: l.logger.With().Interface(key, value).Logger()}
}

// WithFields adds multiple fields to the logger
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	return &Logger{logger: l.logger.With().Fields(fields).Logger()}
}

// WithError adds an error field to the logger
func (l *Logger) WithError(err error) *Logger {
	return &Logger{logger: l.logger.With().Err(err).Logger()}
}

// Debug logs a debug level message
func (l *Logger) Debug(msg string) {
	l.logger.Debug().Msg(msg)
}

// Debugf logs a debug level formatted message
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.logger.Debug().Msgf(format, args...)
}

// Info logs an info level message
func (l *Logger) Info(msg string) {
	l.logger.Info().Msg(msg)
}

// Infof logs an info level formatted message
func (l *Logger) Infof(format string, args ...interface{}) {
	l.logger.Info().Msgf(format, args...)
}

// Warn logs a warn level message
func (l *Logger) Warn(msg string) {
	l.logger.Warn().Msg(msg)
}

// Error logs an error level message
func (l *Logger) Error(msg string) {
	l.logger.Error().Msg(msg)
}

// Fatal logs a fatal level message and exits
func (l *Logger) Fatal(msg string) {
	l.logger.Fatal().Msg(msg)
}

// LogAudioEvent logs audio-related events with structured fields
func (l *Logger) LogAudioEvent(event string, fields map[string]interface{}) {
	l.logger.Info().
		Str("event_type", "audio").
		Str("event", event).
		Fields(fields).
		Msg("Audio event")
}

// LogError logs a MonitorError with its code and device
func (l *Logger) LogError(err *MonitorError) {
	event := l.logger.Error().
		Str("error_code", err.Code).
		Time("at", err.Timestamp)
	if err.Device != "" {
		event = event.Str("device", err.Device)
	}
	if err.err != nil {
		event = event.AnErr("cause", err.err)
	}
	event.Msg(err.Message)
}

var globalLogger = NewLogger(DefaultLogConfig())

// GetGlobalLogger returns the global logger instance
func GetGlobalLogger() *Logger {
	return globalLogger
}

// SetGlobalLogger sets the global logger instance
func SetGlobalLogger(logger *Logger) {
	globalLogger = logger
}
