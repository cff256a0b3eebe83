// Package lock serialises writers of one backup directory with an
// advisory file lock.
package lock

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"jugaad-backup/internal/errors"
)

const (
	DefaultTimeout    = 10 * time.Second
	DefaultRetryDelay = 200 * time.Millisecond
)

// Options controls acquisition
type Options struct {
	Timeout    time.Duration
	RetryDelay time.Duration
}

// Lock is a held advisory lock
type Lock struct {
	fl *flock.Flock
}

// Acquire takes the exclusive lock at path, retrying until the timeout.
// A lock still held by another process after the timeout is a lock error.
func Acquire(ctx context.Context, path string, opts Options) (*Lock, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.NewLockError(path, err)
	}

	attempts := int(opts.Timeout/opts.RetryDelay) + 1
	retry := errors.NewRetryHandler(errors.RetryConfig{
		MaxAttempts: attempts,
		BaseDelay:   opts.RetryDelay,
		MaxDelay:    opts.RetryDelay,
		Multiplier:  1,
	})

	fl := flock.New(path)
	err := retry.Retry(ctx, func() error {
		ok, err := fl.TryLock()
		if err != nil {
			return errors.NewErrorClassifier().ClassifyError(err)
		}
		if !ok {
			return errors.NewRecoverableError(errors.ErrorTypeLock, "backup directory is locked by another process", nil).
				WithContext("path", path)
		}
		return nil
	})
	if err != nil {
		if errors.IsType(err, errors.ErrorTypeLock) {
			return nil, errors.NewLockError(path, err)
		}
		return nil, err
	}
	return &Lock{fl: fl}, nil
}

// Path returns the lock file path
func (l *Lock) Path() string {
	return l.fl.Path()
}

// Release drops the lock. The lock file itself is left in place.
func (l *Lock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	return l.fl.Unlock()
}

// With runs fn while holding the lock at path
func With(ctx context.Context, path string, opts Options, fn func() error) error {
	l, err := Acquire(ctx, path, opts)
	if err != nil {
		return err
	}
	defer l.Release()
	return fn()
}
