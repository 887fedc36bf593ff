package common

import (
	"errors"
	"fmt"
)

// --------------------------------------------------------------------------
// Error kinds
// --------------------------------------------------------------------------

// The closed set of terminal error kinds an operation can surface. Retryable
// conditions (transport resets, topology not ready, transient overload) are
// resolved inside the client and only reach the caller wrapped in one of
// these once retries are exhausted.
var (
	// ErrProtocolDecode marks a malformed or unexpected frame. Fatal, never retried.
	ErrProtocolDecode = errors.New("protocol decode error")

	// ErrTopologyNotReady is returned by routing while a partition slot is
	// not active (mid-rebalance) or no topology snapshot is installed yet.
	// Retried with backoff, bounded by the operation timeout.
	ErrTopologyNotReady = errors.New("topology not ready")

	// ErrOperationTimeout marks an operation whose deadline elapsed before a
	// response arrived. For mutations the server-side effect is ambiguous.
	ErrOperationTimeout = errors.New("operation timed out")

	// ErrDurabilityTimeout marks a mutation whose primary write succeeded
	// but whose durability requirement was not confirmed in time. Reported
	// distinctly from ErrOperationTimeout: the write DID happen.
	ErrDurabilityTimeout = errors.New("durability requirement not met before timeout")

	// ErrDurabilityConflict is returned when observe polling sees a newer
	// cas than the mutation's: the write has been superseded.
	ErrDurabilityConflict = errors.New("mutation superseded during durability polling")

	// ErrCancelled marks an operation completed by explicit cancellation.
	ErrCancelled = errors.New("operation cancelled")

	// ErrConnClosed marks a send attempted on a closed or draining endpoint.
	// Transient, retried per policy.
	ErrConnClosed = errors.New("connection closed")
)

// --------------------------------------------------------------------------
// Server-reported statuses
// --------------------------------------------------------------------------

// BusinessStatusError is a server-reported logical failure (key not found,
// cas mismatch, value too big, sub-document path error). It is surfaced to
// the caller verbatim and never retried.
type BusinessStatusError struct {
	Status     uint16 // raw wire status code
	StatusName string
	Key        string
}

func (e *BusinessStatusError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("server status %s (0x%04x) for key %q", e.StatusName, e.Status, e.Key)
	}
	return fmt.Sprintf("server status %s (0x%04x)", e.StatusName, e.Status)
}

// Is allows errors.Is comparisons against another BusinessStatusError with
// the same status code, ignoring key context.
func (e *BusinessStatusError) Is(target error) bool {
	var other *BusinessStatusError
	if errors.As(target, &other) {
		return other.Status == e.Status
	}
	return false
}

// TransportError wraps an I/O failure on a specific endpoint. Transient,
// retried per policy.
type TransportError struct {
	Endpoint string
	Inner    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error on %s: %v", e.Endpoint, e.Inner)
}

func (e *TransportError) Unwrap() error { return e.Inner }

// --------------------------------------------------------------------------
// Operation context wrapping
// --------------------------------------------------------------------------

// OpError attaches diagnosis context (key, last attempted node) to a
// terminal error so callers can diagnose without re-running the operation.
type OpError struct {
	Op   string
	Key  string
	Node string
	Err  error
}

func (e *OpError) Error() string {
	if e.Node != "" {
		return fmt.Sprintf("%s %q on node %s: %v", e.Op, e.Key, e.Node, e.Err)
	}
	return fmt.Sprintf("%s %q: %v", e.Op, e.Key, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// IsRetryable reports whether an error kind may be resolved by retrying the
// dispatch. Business statuses and protocol errors are never retryable.
// Transient server statuses advertise themselves through Temporary().
func IsRetryable(err error) bool {
	if errors.Is(err, ErrTopologyNotReady) || errors.Is(err, ErrConnClosed) {
		return true
	}
	var te *TransportError
	if errors.As(err, &te) {
		return true
	}
	var tmp interface{ Temporary() bool }
	return errors.As(err, &tmp) && tmp.Temporary()
}
