package auth

import (
	"errors"
	"fmt"
)

// ErrorKind tags why an identity operation did not fully succeed.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	// KindTransport: provider unreachable or failed unexpectedly.
	KindTransport
	// KindRejection: provider explicitly refused (bad credentials, duplicate email).
	KindRejection
	// KindInconsistentState: partial success, reported as success with a warning.
	KindInconsistentState
	// KindPrecondition: called without a current identity; no provider call made.
	KindPrecondition
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindTransport:
		return "transport"
	case KindRejection:
		return "rejection"
	case KindInconsistentState:
		return "inconsistent_state"
	case KindPrecondition:
		return "precondition"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

func (k ErrorKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// ErrNotFound is returned by providers when no profile row exists for an account.
var ErrNotFound = errors.New("profile not found")

// Error is a classified provider or resolver error.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Reject reports an explicit refusal with the provider's message (may be empty).
func Reject(message string) error {
	return &Error{Kind: KindRejection, Message: message}
}

// Transport wraps a network or provider failure.
func Transport(err error) error {
	return &Error{Kind: KindTransport, Err: err}
}

// KindOf classifies err. Unclassified errors count as transport failures.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindTransport
}

func messageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return ""
}

// Result is what every identity-mutating operation resolves to.
type Result struct {
	OK      bool      `json:"ok"`
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message,omitempty"`
	Warning string    `json:"warning,omitempty"`
}

// Err returns nil for clean successes and an *Error otherwise, including
// successes that carry a warning.
func (r Result) Err() error {
	if r.Kind == KindNone {
		return nil
	}
	msg := r.Message
	if msg == "" {
		msg = r.Warning
	}
	return &Error{Kind: r.Kind, Message: msg}
}
