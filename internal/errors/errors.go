package errors

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	// ErrorTypeScan represents unreadable files or directories during a scan
	ErrorTypeScan ErrorType = "scan"
	// ErrorTypeFormat represents malformed archive framing or manifest
	ErrorTypeFormat ErrorType = "format"
	// ErrorTypeDecryption represents a wrong key, tampered or truncated envelope
	ErrorTypeDecryption ErrorType = "decryption"
	// ErrorTypePathTraversal represents an archive entry that escapes the output root
	ErrorTypePathTraversal ErrorType = "path_traversal"
	// ErrorTypeWrite represents failures writing archives or rehydrated files
	ErrorTypeWrite ErrorType = "write"
	// ErrorTypeValidation represents invalid input or configuration values
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypePermission represents permission/access errors
	ErrorTypePermission ErrorType = "permission"
	// ErrorTypeLock represents a backup directory held by another process
	ErrorTypeLock ErrorType = "lock"
	// ErrorTypeNotFound represents missing archives or directories
	ErrorTypeNotFound ErrorType = "not_found"
	// ErrorTypeConflict represents an operation that does not apply to the current state
	ErrorTypeConflict ErrorType = "conflict"
	// ErrorTypeEncryptedInput represents an operation that needs plaintext input
	ErrorTypeEncryptedInput ErrorType = "encrypted_input"
	// ErrorTypeConfiguration represents configuration loading errors
	ErrorTypeConfiguration ErrorType = "configuration"
	// ErrorTypeTimeout represents timeout errors
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeInterruption represents user interruption
	ErrorTypeInterruption ErrorType = "interruption"
	// ErrorTypeUnknown represents unknown errors
	ErrorTypeUnknown ErrorType = "unknown"
)

// AppError represents an application-specific error with context
type AppError struct {
	Type        ErrorType
	Message     string
	Cause       error
	Context     map[string]interface{}
	Recoverable bool
	UserMessage string
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// GetUserMessage returns a user-friendly error message
func (e *AppError) GetUserMessage() string {
	if e.UserMessage != "" {
		return e.UserMessage
	}
	return e.Message
}

// IsRecoverable returns whether the error is recoverable
func (e *AppError) IsRecoverable() bool {
	return e.Recoverable
}

// WithContext adds context information to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithUserMessage sets the message shown to users instead of Message
func (e *AppError) WithUserMessage(msg string) *AppError {
	e.UserMessage = msg
	return e
}

// NewAppError creates a new application error
func NewAppError(errorType ErrorType, message string, cause error) *AppError {
	return &AppError{
		Type:        errorType,
		Message:     message,
		Cause:       cause,
		Context:     make(map[string]interface{}),
		Recoverable: false,
	}
}

// NewRecoverableError creates a new recoverable error
func NewRecoverableError(errorType ErrorType, message string, cause error) *AppError {
	return &AppError{
		Type:        errorType,
		Message:     message,
		Cause:       cause,
		Context:     make(map[string]interface{}),
		Recoverable: true,
	}
}

// NewScanError creates an error for a file or directory that could not be read
func NewScanError(path string, cause error) *AppError {
	return NewAppError(ErrorTypeScan, fmt.Sprintf("cannot read %s", path), cause).
		WithContext("path", path)
}

// NewFormatError creates an archive framing or manifest error
func NewFormatError(message string, cause error) *AppError {
	return NewAppError(ErrorTypeFormat, message, cause)
}

// NewDecryptionError creates an error for an envelope that cannot be opened.
// The user message never distinguishes a wrong key from tampering.
func NewDecryptionError(message string, cause error) *AppError {
	return NewAppError(ErrorTypeDecryption, message, cause).
		WithUserMessage("Archive could not be decrypted: wrong passphrase, different machine, or corrupted data")
}

// NewPathTraversalError creates an error for an archive entry outside the output root
func NewPathTraversalError(path string) *AppError {
	return NewAppError(ErrorTypePathTraversal, fmt.Sprintf("path escapes output root: %s", path), nil).
		WithContext("path", path)
}

// NewWriteError creates an error for a failed archive or output write
func NewWriteError(path string, cause error) *AppError {
	return NewAppError(ErrorTypeWrite, fmt.Sprintf("failed to write %s", path), cause).
		WithContext("path", path)
}

// NewValidationError creates a validation error
func NewValidationError(message string, cause error) *AppError {
	return NewAppError(ErrorTypeValidation, message, cause)
}

// NewLockError creates a recoverable error for a held backup lock
func NewLockError(path string, cause error) *AppError {
	return NewRecoverableError(ErrorTypeLock, fmt.Sprintf("backup directory is locked: %s", path), cause).
		WithContext("lock", path).
		WithUserMessage("Another jugaad process is working on this backup directory, try again later")
}

// NewNotFoundError creates an error for a missing archive or directory
func NewNotFoundError(what string, cause error) *AppError {
	return NewAppError(ErrorTypeNotFound, fmt.Sprintf("%s not found", what), cause)
}

// NewConflictError creates an error for an operation that does not apply
func NewConflictError(message string) *AppError {
	return NewAppError(ErrorTypeConflict, message, nil)
}

// NewEncryptedInputError creates an error for an encrypted archive given to a plaintext-only operation
func NewEncryptedInputError(path string) *AppError {
	return NewAppError(ErrorTypeEncryptedInput, fmt.Sprintf("archive is encrypted: %s", path), nil).
		WithContext("path", path).
		WithUserMessage(fmt.Sprintf("%s is encrypted; decrypt it or choose a plain archive", path))
}

// NewConfigurationError creates a configuration error
func NewConfigurationError(message string, cause error) *AppError {
	return NewAppError(ErrorTypeConfiguration, message, cause)
}

// IsType reports whether err is an AppError of the given type
func IsType(err error, errorType ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == errorType
	}
	return false
}

// ValidationErrors collects multiple validation failures
type ValidationErrors struct {
	Errors []string
}

// Add records a validation failure
func (v *ValidationErrors) Add(field, message string) {
	v.Errors = append(v.Errors, fmt.Sprintf("%s: %s", field, message))
}

// HasErrors reports whether any failure was recorded
func (v *ValidationErrors) HasErrors() bool {
	return len(v.Errors) > 0
}

// Error implements the error interface
func (v *ValidationErrors) Error() string {
	return "validation failed: " + strings.Join(v.Errors, "; ")
}

// Err returns nil when nothing was recorded, otherwise a validation AppError
func (v *ValidationErrors) Err() error {
	if !v.HasErrors() {
		return nil
	}
	return NewValidationError(v.Error(), nil)
}

// ErrorClassifier provides methods to classify and handle different types of errors
type ErrorClassifier struct{}

// NewErrorClassifier creates a new error classifier
func NewErrorClassifier() *ErrorClassifier {
	return &ErrorClassifier{}
}

// ClassifyError analyzes an error and returns an AppError with appropriate classification
func (ec *ErrorClassifier) ClassifyError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	if ctxErr := ec.classifyContextError(err); ctxErr != nil {
		return ctxErr
	}

	if fsErr := ec.classifyFileSystemError(err); fsErr != nil {
		return fsErr
	}

	return NewAppError(ErrorTypeUnknown, "An unexpected error occurred", err)
}

// classifyContextError classifies context-related errors
func (ec *ErrorClassifier) classifyContextError(err error) *AppError {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewRecoverableError(ErrorTypeTimeout,
			"Operation timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return NewAppError(ErrorTypeInterruption,
			"Operation was canceled", err)
	}

	return nil
}

// classifyFileSystemError classifies file system errors
func (ec *ErrorClassifier) classifyFileSystemError(err error) *AppError {
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		switch {
		case errors.Is(pathErr.Err, syscall.ENOENT):
			return NewAppError(ErrorTypeNotFound,
				fmt.Sprintf("File or directory not found: %s", pathErr.Path), err)
		case errors.Is(pathErr.Err, syscall.EACCES), errors.Is(pathErr.Err, syscall.EPERM):
			return NewAppError(ErrorTypePermission,
				fmt.Sprintf("Permission denied: %s", pathErr.Path), err)
		case errors.Is(pathErr.Err, syscall.ENOSPC):
			return NewAppError(ErrorTypeWrite,
				"No space left on device", err)
		case errors.Is(pathErr.Err, syscall.EAGAIN), errors.Is(pathErr.Err, syscall.EWOULDBLOCK):
			return NewRecoverableError(ErrorTypeLock,
				fmt.Sprintf("Resource temporarily unavailable: %s", pathErr.Path), err)
		}
	}

	return nil
}

// RetryConfig holds configuration for retry operations
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
}

// DefaultRetryConfig returns a default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   1 * time.Second,
		MaxDelay:    30 * time.Second,
		Multiplier:  2.0,
	}
}

// RetryHandler provides retry functionality for operations
type RetryHandler struct {
	config     RetryConfig
	classifier *ErrorClassifier
}

// NewRetryHandler creates a new retry handler
func NewRetryHandler(config RetryConfig) *RetryHandler {
	return &RetryHandler{
		config:     config,
		classifier: NewErrorClassifier(),
	}
}

// NewDefaultRetryHandler creates a retry handler with default configuration
func NewDefaultRetryHandler() *RetryHandler {
	return NewRetryHandler(DefaultRetryConfig())
}

// Retry executes a function with retry logic for recoverable errors
func (rh *RetryHandler) Retry(ctx context.Context, operation func() error) error {
	var lastErr error

	for attempt := 1; attempt <= rh.config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return NewAppError(ErrorTypeInterruption, "Operation canceled", ctx.Err())
		default:
		}

		err := operation()
		if err == nil {
			return nil
		}

		lastErr = err
		appErr := rh.classifier.ClassifyError(err)

		if !appErr.IsRecoverable() {
			return appErr
		}

		if attempt == rh.config.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return NewAppError(ErrorTypeInterruption, "Operation canceled during retry", ctx.Err())
		case <-time.After(rh.calculateDelay(attempt)):
		}
	}

	return rh.classifier.ClassifyError(lastErr).
		WithContext("attempts", rh.config.MaxAttempts)
}

// calculateDelay calculates the delay for a given attempt using exponential backoff
func (rh *RetryHandler) calculateDelay(attempt int) time.Duration {
	multiplier := 1.0
	for i := 1; i < attempt; i++ {
		multiplier *= rh.config.Multiplier
	}

	delay := time.Duration(float64(rh.config.BaseDelay) * multiplier)

	if delay > rh.config.MaxDelay {
		delay = rh.config.MaxDelay
	}

	return delay
}

// GracefulShutdownHandler handles graceful shutdown on interruption signals
type GracefulShutdownHandler struct {
	mu            sync.Mutex
	shutdownFuncs []func() error
	signalChan    chan os.Signal
	done          chan bool
	once          sync.Once
}

// NewGracefulShutdownHandler creates a new graceful shutdown handler
func NewGracefulShutdownHandler() *GracefulShutdownHandler {
	return &GracefulShutdownHandler{
		shutdownFuncs: make([]func() error, 0),
		signalChan:    make(chan os.Signal, 1),
		done:          make(chan bool, 1),
	}
}

// RegisterShutdownFunc registers a function to be called during shutdown
func (gsh *GracefulShutdownHandler) RegisterShutdownFunc(fn func() error) {
	gsh.mu.Lock()
	defer gsh.mu.Unlock()
	gsh.shutdownFuncs = append(gsh.shutdownFuncs, fn)
}

// Start starts listening for shutdown signals
func (gsh *GracefulShutdownHandler) Start() {
	signal.Notify(gsh.signalChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if _, ok := <-gsh.signalChan; ok {
			gsh.Shutdown()
		}
	}()
}

// Stop stops listening for signals
func (gsh *GracefulShutdownHandler) Stop() {
	signal.Stop(gsh.signalChan)
	close(gsh.signalChan)
}

// WaitForShutdown waits for shutdown to complete
func (gsh *GracefulShutdownHandler) WaitForShutdown() {
	<-gsh.done
}

// Shutdown runs the registered functions in reverse order, once
func (gsh *GracefulShutdownHandler) Shutdown() {
	gsh.once.Do(func() {
		defer func() {
			gsh.done <- true
		}()

		gsh.mu.Lock()
		funcs := append([]func() error(nil), gsh.shutdownFuncs...)
		gsh.mu.Unlock()

		for i := len(funcs) - 1; i >= 0; i-- {
			if err := funcs[i](); err != nil {
				fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
			}
		}
	})
}

// IsRecoverableError checks if an error is recoverable
func IsRecoverableError(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.IsRecoverable()
	}
	return false
}

// GetErrorType returns the error type of an error
func GetErrorType(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrorTypeUnknown
}

// FormatUserError formats an error for display to users
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.GetUserMessage()
	}

	return "An unexpected error occurred. Please check the logs for more details."
}

// WrapError wraps an existing error with additional context
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return NewAppError(appErr.Type, message, err)
	}

	classifiedErr := NewErrorClassifier().ClassifyError(err)
	classifiedErr.Message = message
	return classifiedErr
}
