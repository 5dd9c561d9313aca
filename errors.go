package sympai

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure cases.
var (
	// ErrNoToken is returned when an operation requires authentication
	// and no bearer token is configured.
	ErrNoToken = errors.New("not authenticated")

	// ErrNotConnected is returned when a realtime send is attempted
	// without an open socket.
	ErrNotConnected = errors.New("realtime connection not open")

	// ErrSessionMismatch is returned when a realtime send targets a
	// session other than the one the socket is bound to.
	ErrSessionMismatch = errors.New("not connected to this session")

	// ErrEmptyMessage is returned when sending blank text.
	ErrEmptyMessage = errors.New("message text is empty")

	// ErrCreateInFlight is returned when a session creation is already
	// pending.
	ErrCreateInFlight = errors.New("session creation already in progress")

	// ErrSessionNotFound is returned when a session id is unknown to
	// the backend.
	ErrSessionNotFound = errors.New("session not found")
)

// APIError describes a failed dashboard API call.
type APIError struct {
	Op         string // The operation, e.g. "list sessions"
	StatusCode int    // HTTP status, 0 for transport failures
	Message    string // Server-provided message, if any
	Err        error  // Underlying error
}

func (e *APIError) Error() string {
	switch {
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: unexpected status %d", e.Op, e.StatusCode)
	default:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// Notice returns the user-facing text for this failure: the server's
// message when it sent one, otherwise a connectivity hint.
func (e *APIError) Notice() string {
	if e.Message != "" {
		return e.Message
	}
	if e.StatusCode == 0 {
		return "Cannot connect to server. Please check your connection."
	}
	return "An error occurred"
}

// SocketError describes a realtime connection failure.
type SocketError struct {
	Code   int    // Close code, 0 when the connection never opened
	Reason string // Close reason or dial failure detail
	Err    error
}

func (e *SocketError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("realtime connection closed (%d): %s", e.Code, e.Reason)
	}
	return fmt.Sprintf("realtime connection failed: %v", e.Err)
}

func (e *SocketError) Unwrap() error {
	return e.Err
}
