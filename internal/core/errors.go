package core

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrCancelled is returned by a status wait aborted with Cancel.
	ErrCancelled = errors.New("pcsc: operation cancelled")
	// ErrTimeout is returned when a status wait expires without a change.
	ErrTimeout = errors.New("pcsc: timeout")
	// ErrNoService means the platform smart card service is not running.
	ErrNoService = errors.New("pcsc: smart card service not available")
	// ErrNoCard means no card is in the reader or it was removed.
	ErrNoCard = errors.New("pcsc: no card in reader")

	// ErrMonitorRunning is returned by Start on a monitor that is already monitoring.
	ErrMonitorRunning = errors.New("monitor already running")
	// ErrResponseTooLarge is returned when a response overflows the receive buffer.
	ErrResponseTooLarge = errors.New("response exceeds receive buffer")
)

// ReaderNotFoundError is returned when the configured reader is not among
// the readers PC/SC enumerates.
type ReaderNotFoundError struct {
	Reader    string
	Available []string
}

func (e *ReaderNotFoundError) Error() string {
	if len(e.Available) == 0 {
		return fmt.Sprintf("reader %q not found (no readers connected)", e.Reader)
	}
	return fmt.Sprintf("reader %q not found (available: %s)", e.Reader, strings.Join(e.Available, ", "))
}

// ServiceUnavailableError is returned when the PC/SC service cannot be reached.
type ServiceUnavailableError struct {
	Err error
}

func (e *ServiceUnavailableError) Error() string {
	return fmt.Sprintf("smart card service unavailable: %v", e.Err)
}

func (e *ServiceUnavailableError) Unwrap() error { return e.Err }

// ConnectFailure records a failed connect during identification. It is
// logged, never returned: the card may already have left the field.
type ConnectFailure struct {
	Reader string
	Err    error
}

func (e *ConnectFailure) Error() string {
	return fmt.Sprintf("failed to connect to reader %q: %v", e.Reader, e.Err)
}

func (e *ConnectFailure) Unwrap() error { return e.Err }

// TransmitFailure is returned when an exchange fails after the connection
// to the card was established.
type TransmitFailure struct {
	Reader string
	Op     string
	Err    error
}

func (e *TransmitFailure) Error() string {
	return fmt.Sprintf("%s on reader %q failed: %v", e.Op, e.Reader, e.Err)
}

func (e *TransmitFailure) Unwrap() error { return e.Err }

// wrapServiceError turns ErrNoService into a ServiceUnavailableError and
// wraps everything else with msg.
func wrapServiceError(msg string, err error) error {
	if errors.Is(err, ErrNoService) {
		return &ServiceUnavailableError{Err: err}
	}
	return fmt.Errorf("%s: %w", msg, err)
}
