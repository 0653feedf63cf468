// Package errors defines the sentinel errors shared across the sync
// engine. Call sites wrap these with fmt.Errorf("...: %w", err) and
// callers classify with errors.Is or the helpers below.
package errors

import (
	"context"
	"errors"
	"net"
)

// Watcher errors. All recoverable by user action, never fatal.
var (
	ErrAlreadyRunning   = errors.New("watcher already running")
	ErrPermissionDenied = errors.New("permission denied")
	ErrPathNotFound     = errors.New("path not found")
)

// Packaging errors.
var (
	ErrNoFilesMatched = errors.New("no files matched the profile patterns")
	// ErrConcurrentPackage signals contention on a (game, emulator) key,
	// not a bug: another packaging run is already in flight.
	ErrConcurrentPackage = errors.New("concurrent package in progress")
)

// Cloud errors.
var (
	ErrDisabled      = errors.New("cloud sync is disabled")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrNotFound      = errors.New("not found")
	ErrNetwork       = errors.New("network error")
	ErrTimeout       = errors.New("request timed out")
	ErrServer        = errors.New("server error")
	ErrInvalidConfig = errors.New("invalid cloud configuration")
)

// Conflict resolution errors.
var (
	ErrNoActiveConflict = errors.New("no active conflict for game")
	ErrApplyFailed      = errors.New("applying conflict decision failed")
)

// IsTransient reports whether a cloud operation failed in a way that is
// worth retrying: timeouts, connection-level failures, and 5xx responses.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, ErrNetwork) || errors.Is(err, ErrServer) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return false
}

// IsPermanent reports whether a cloud error should be surfaced without
// retrying and removed from the queue.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrDisabled) ||
		errors.Is(err, ErrInvalidConfig)
}
