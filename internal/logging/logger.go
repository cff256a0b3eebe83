package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"
)

// LogLevel represents the logging level
type LogLevel string

const (
	// LogLevelQuiet suppresses all output except errors
	LogLevelQuiet LogLevel = "quiet"
	// LogLevelNormal shows standard operational messages
	LogLevelNormal LogLevel = "normal"
	// LogLevelVerbose shows per-file decisions
	LogLevelVerbose LogLevel = "verbose"
	// LogLevelDebug shows all debug information
	LogLevelDebug LogLevel = "debug"
)

type contextKey string

const correlationIDKey contextKey = "correlation_id"

// Logger provides structured logging capabilities
type Logger struct {
	logger *logrus.Logger
	level  LogLevel
	file   *os.File
}

// Config holds logger configuration
type Config struct {
	Level      LogLevel
	Output     io.Writer
	Format     string // "text" or "json"
	ShowCaller bool
	LogFile    string
}

// NewLogger creates a new logger with the specified configuration.
// Output defaults to stderr so command output on stdout stays clean.
func NewLogger(config Config) (*Logger, error) {
	logger := logrus.New()

	out := config.Output
	if out == nil {
		out = os.Stderr
	}
	logger.SetOutput(out)

	switch config.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
		})
	default:
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}

	logger.SetLevel(toLogrusLevel(config.Level))

	if config.ShowCaller {
		logger.SetReportCaller(true)
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
			CallerPrettyfier: func(f *runtime.Frame) (string, string) {
				filename := filepath.Base(f.File)
				return fmt.Sprintf("%s()", f.Function), fmt.Sprintf("%s:%d", filename, f.Line)
			},
		})
	}

	l := &Logger{logger: logger, level: config.Level}

	if config.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(config.LogFile), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory for %s: %w", config.LogFile, err)
		}
		file, err := os.OpenFile(config.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", config.LogFile, err)
		}
		logger.SetOutput(io.MultiWriter(out, file))
		l.file = file
	}

	return l, nil
}

// NewDefaultLogger creates a logger with default configuration
func NewDefaultLogger() *Logger {
	logger, _ := NewLogger(Config{
		Level:  LogLevelNormal,
		Output: os.Stderr,
		Format: "text",
	})
	return logger
}

// NewNopLogger returns a logger that discards everything
func NewNopLogger() *Logger {
	logger, _ := NewLogger(Config{Level: LogLevelQuiet, Output: io.Discard})
	return logger
}

func toLogrusLevel(level LogLevel) logrus.Level {
	switch level {
	case LogLevelQuiet:
		return logrus.ErrorLevel
	case LogLevelVerbose:
		return logrus.DebugLevel
	case LogLevelDebug:
		return logrus.TraceLevel
	default:
		return logrus.InfoLevel
	}
}

// Close releases the log file, if any
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// WithContext returns a logger entry carrying the correlation ID from ctx
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.logger.WithContext(ctx)
	if id := CorrelationIDFromContext(ctx); id != "" {
		entry = entry.WithField("correlation_id", id)
	}
	return entry
}

// WithFields returns a logger with additional fields
func (l *Logger) WithFields(fields map[string]interface{}) *logrus.Entry {
	return l.logger.WithFields(fields)
}

// WithField returns a logger with a single additional field
func (l *Logger) WithField(key string, value interface{}) *logrus.Entry {
	return l.logger.WithField(key, value)
}

// LogScan logs the outcome of a tree scan
func (l *Logger) LogScan(root string, scanned, included, skipped int, duration time.Duration) {
	l.logger.WithFields(logrus.Fields{
		"operation": "scan",
		"root":      root,
		"scanned":   scanned,
		"included":  included,
		"skipped":   skipped,
		"duration":  duration.String(),
	}).Info("Scan completed")
}

// LogFileDecision logs a per-file include/skip decision at verbose level
func (l *Logger) LogFileDecision(path string, included bool, reason string) {
	if !l.logger.IsLevelEnabled(logrus.DebugLevel) {
		return
	}
	l.logger.WithFields(logrus.Fields{
		"path":     path,
		"included": included,
		"reason":   reason,
	}).Debug("File decision")
}

// LogArchiveWrite logs an archive write
func (l *Logger) LogArchiveWrite(path string, files int, bytes int64, encrypted bool, err error) {
	fields := logrus.Fields{
		"operation": "archive_write",
		"archive":   path,
		"files":     files,
		"bytes":     bytes,
		"encrypted": encrypted,
	}

	if err != nil {
		fields["error"] = err.Error()
		l.logger.WithFields(fields).Error("Archive write failed")
		return
	}
	l.logger.WithFields(fields).Info("Archive written")
}

// LogRehydrate logs a rehydration run
func (l *Logger) LogRehydrate(archive, output string, written, rejected int) {
	fields := logrus.Fields{
		"operation": "rehydrate",
		"archive":   archive,
		"output":    output,
		"written":   written,
		"rejected":  rejected,
	}
	if rejected > 0 {
		l.logger.WithFields(fields).Warn("Rehydration rejected unsafe paths")
		return
	}
	l.logger.WithFields(fields).Info("Rehydration completed")
}

// Info logs an info message
func (l *Logger) Info(msg string) {
	l.logger.Info(msg)
}

// Infof logs a formatted info message
func (l *Logger) Infof(format string, args ...interface{}) {
	l.logger.Infof(format, args...)
}

// Debug logs a debug message
func (l *Logger) Debug(msg string) {
	l.logger.Debug(msg)
}

// Debugf logs a formatted debug message
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.logger.Debugf(format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string) {
	l.logger.Warn(msg)
}

// Warnf logs a formatted warning message
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.logger.Warnf(format, args...)
}

// Error logs an error message
func (l *Logger) Error(msg string) {
	l.logger.Error(msg)
}

// Errorf logs a formatted error message
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.logger.Errorf(format, args...)
}

// GetLevel returns the current log level
func (l *Logger) GetLevel() LogLevel {
	return l.level
}

// SetLevel sets the log level
func (l *Logger) SetLevel(level LogLevel) {
	l.level = level
	l.logger.SetLevel(toLogrusLevel(level))
}

// IsLevelEnabled checks if a log level is enabled
func (l *Logger) IsLevelEnabled(level LogLevel) bool {
	switch level {
	case LogLevelQuiet:
		return l.logger.IsLevelEnabled(logrus.ErrorLevel)
	case LogLevelNormal:
		return l.logger.IsLevelEnabled(logrus.InfoLevel)
	case LogLevelVerbose:
		return l.logger.IsLevelEnabled(logrus.DebugLevel)
	case LogLevelDebug:
		return l.logger.IsLevelEnabled(logrus.TraceLevel)
	default:
		return false
	}
}

// LogOperationStart logs the start of an operation and returns a function to log completion
func (l *Logger) LogOperationStart(operation string, fields map[string]interface{}) func(error) {
	startTime := time.Now()

	logFields := logrus.Fields{
		"operation": operation,
		"status":    "started",
	}
	for k, v := range fields {
		logFields[k] = v
	}

	l.logger.WithFields(logFields).Debug("Operation started")

	return func(err error) {
		logFields["status"] = "completed"
		logFields["duration"] = time.Since(startTime).String()

		if err != nil {
			logFields["error"] = err.Error()
			logFields["success"] = false
			l.logger.WithFields(logFields).Error("Operation failed")
		} else {
			logFields["success"] = true
			l.logger.WithFields(logFields).Info("Operation completed")
		}
	}
}

// ContextWithCorrelationID attaches a correlation ID for tracing
func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// CorrelationIDFromContext extracts the correlation ID from ctx
func CorrelationIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(correlationIDKey).(string); ok {
		return id
	}
	return ""
}
