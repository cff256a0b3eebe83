package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"jugaad-backup/internal/logging"
)

// AuditLogger records engine operations with a correlation ID, both in the
// regular log and, when enabled, as JSON lines in an audit file
type AuditLogger struct {
	logger        *logging.Logger
	auditLogger   *logrus.Logger
	file          *os.File
	correlationID string
}

// AuditConfig configures an AuditLogger
type AuditConfig struct {
	Logger        *logging.Logger
	AuditLogFile  string
	CorrelationID string
	Enabled       bool
}

// LogEntry is one structured operation record
type LogEntry struct {
	Timestamp     time.Time              `json:"timestamp"`
	CorrelationID string                 `json:"correlation_id"`
	Operation     string                 `json:"operation"`
	Archive       string                 `json:"archive,omitempty"`
	Project       string                 `json:"project,omitempty"`
	Status        string                 `json:"status"`
	Duration      string                 `json:"duration,omitempty"`
	Success       bool                   `json:"success"`
	Error         string                 `json:"error,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// NewAuditLogger creates an audit logger. A missing correlation ID gets a
// fresh UUID.
func NewAuditLogger(config AuditConfig) (*AuditLogger, error) {
	correlationID := config.CorrelationID
	if correlationID == "" {
		correlationID = uuid.New().String()
	}

	logger := config.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	al := &AuditLogger{
		logger:        logger,
		correlationID: correlationID,
	}

	if config.Enabled && config.AuditLogFile != "" {
		if err := os.MkdirAll(filepath.Dir(config.AuditLogFile), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create audit log directory: %w", err)
		}

		f, err := os.OpenFile(config.AuditLogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open audit log file: %w", err)
		}

		auditLogger := logrus.New()
		auditLogger.SetOutput(f)
		auditLogger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
		auditLogger.SetLevel(logrus.InfoLevel)

		al.auditLogger = auditLogger
		al.file = f
	}

	return al, nil
}

// CorrelationID returns the current correlation ID
func (al *AuditLogger) CorrelationID() string {
	return al.correlationID
}

// WithCorrelationID returns a logger sharing the same sinks under a new ID
func (al *AuditLogger) WithCorrelationID(correlationID string) *AuditLogger {
	return &AuditLogger{
		logger:        al.logger,
		auditLogger:   al.auditLogger,
		correlationID: correlationID,
	}
}

// Close closes the audit file
func (al *AuditLogger) Close() error {
	if al.file != nil {
		return al.file.Close()
	}
	return nil
}

// Track logs the start of an operation and returns the function that logs
// its completion. Metadata passed at completion is merged into the record.
func (al *AuditLogger) Track(ctx context.Context, operation, archive string, metadata map[string]interface{}) func(error, map[string]interface{}) {
	if al == nil {
		return func(error, map[string]interface{}) {}
	}

	start := time.Now()
	if metadata == nil {
		metadata = make(map[string]interface{})
	}
	entry := LogEntry{
		Timestamp:     start,
		CorrelationID: al.correlationID,
		Operation:     operation,
		Archive:       archive,
		Status:        "started",
		Success:       true,
		Metadata:      metadata,
	}
	al.logStructured(entry)

	return func(err error, extra map[string]interface{}) {
		duration := time.Since(start)
		entry.Timestamp = time.Now()
		entry.Status = "completed"
		entry.Duration = duration.String()
		entry.Success = err == nil
		if err != nil {
			entry.Error = err.Error()
			entry.Status = "failed"
		}
		for k, v := range extra {
			entry.Metadata[k] = v
		}
		al.logStructured(entry)

		result := "success"
		if err != nil {
			result = "failure"
		}
		details := map[string]interface{}{
			"archive":  archive,
			"duration": duration.String(),
		}
		for k, v := range entry.Metadata {
			details[k] = v
		}
		if entry.Error != "" {
			details["error"] = entry.Error
		}
		al.logAudit(ctx, operation, result, details)
	}
}

func (al *AuditLogger) logStructured(entry LogEntry) {
	fields := map[string]interface{}{
		"correlation_id": entry.CorrelationID,
		"operation":      entry.Operation,
		"status":         entry.Status,
		"success":        entry.Success,
	}
	if entry.Archive != "" {
		fields["archive"] = entry.Archive
	}
	if entry.Duration != "" {
		fields["duration"] = entry.Duration
	}
	if entry.Error != "" {
		fields["error"] = entry.Error
	}
	for k, v := range entry.Metadata {
		fields[k] = v
	}

	logEntry := al.logger.WithFields(fields)
	switch {
	case !entry.Success:
		logEntry.Error("Operation failed")
	case entry.Status == "started":
		logEntry.Debug("Operation started")
	default:
		logEntry.Debug("Operation completed")
	}
}

func (al *AuditLogger) logAudit(ctx context.Context, operation, result string, details map[string]interface{}) {
	if al.auditLogger == nil {
		return
	}

	fields := logrus.Fields{
		"correlation_id": al.correlationID,
		"operation":      operation,
		"result":         result,
		"details":        details,
	}
	if id := logging.CorrelationIDFromContext(ctx); id != "" && id != al.correlationID {
		fields["parent_correlation_id"] = id
	}
	if user := os.Getenv("USER"); user != "" {
		fields["user"] = user
	}
	al.auditLogger.WithFields(fields).Info("Audit log entry")
}
