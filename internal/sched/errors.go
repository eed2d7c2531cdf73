package sched

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
)

var (
	// ErrClosed is returned by Acquire after the gate has been shut down.
	ErrClosed = errors.New("scheduler closed")
	// ErrNotFound is returned for lookups of unknown job IDs.
	ErrNotFound = errors.New("job not found")
	// ErrCancelled marks tasks abandoned because their job was cancelled.
	ErrCancelled = errors.New("job cancelled")
	// ErrSlotWait is returned when a task waited longer than the configured
	// bound for a concurrency slot.
	ErrSlotWait = errors.New("timed out waiting for concurrency slot")
)

// TransientError wraps failures worth retrying (timeouts, resets, 429s).
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// TerminalError wraps failures that no retry can fix (bad input, validation).
type TerminalError struct {
	Err error
}

func (e *TerminalError) Error() string { return fmt.Sprintf("terminal: %v", e.Err) }
func (e *TerminalError) Unwrap() error { return e.Err }

// Transient marks err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// Terminal marks err as non-retryable.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &TerminalError{Err: err}
}

// Retryable classifies an error. Explicit markers win; otherwise network
// timeouts and connection-level failures are treated as transient and
// everything else as terminal.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var transient *TransientError
	if errors.As(err, &transient) {
		return true
	}
	var terminal *TerminalError
	if errors.As(err, &terminal) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrCancelled) {
		return false
	}
	if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}
