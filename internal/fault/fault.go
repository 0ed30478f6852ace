// Package fault classifies the failures of the secure transport core so that
// callers can decide how to react (read more bytes, drop the packet, or tear
// the session down).
package fault

import (
	"errors"
)

// Kind categorizes an error.
type Kind uint8

const (
	// Truncated means fewer bytes are buffered than a packet declares.
	// The driver reacts by reading more; it is never fatal on its own.
	Truncated Kind = iota + 1
	// Malformed means a length field or flag is inconsistent with the format.
	Malformed
	// InvalidPublicKey is fatal to the session.
	InvalidPublicKey
	// IntegrityViolation is a MAC mismatch after key exchange. Fatal.
	IntegrityViolation
	// ChallengeMismatch is a wrong or stale challenge response. Bounded retries.
	ChallengeMismatch
	// AuthenticationFailed is reported by the initiator when the responder
	// rejects it for good, or when the responder cannot prove itself.
	AuthenticationFailed
	// ProtocolViolation is a packet kind that is invalid for the current state.
	ProtocolViolation
	// SessionClosed is returned by every operation on a closed session.
	SessionClosed
	// Internal covers entropy and other local failures.
	Internal
)

var kindNames = map[Kind]string{
	Truncated:            "truncated",
	Malformed:            "malformed",
	InvalidPublicKey:     "invalid public key",
	IntegrityViolation:   "integrity violation",
	ChallengeMismatch:    "challenge mismatch",
	AuthenticationFailed: "authentication failed",
	ProtocolViolation:    "protocol violation",
	SessionClosed:        "session closed",
	Internal:             "internal error",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Error is a classified error.
type Error struct {
	Kind  Kind
	Msg   string
	Inner error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := e.Kind.String()
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Inner != nil {
		msg += ": " + e.Inner.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Inner }

// New returns an error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap returns an error of the given kind with an underlying cause.
func Wrap(kind Kind, msg string, inner error) *Error {
	return &Error{Kind: kind, Msg: msg, Inner: inner}
}

// Is reports whether any error in err's chain is a fault of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// KindOf returns the kind of the first fault in err's chain, or 0.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return 0
}
