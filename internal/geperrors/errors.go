// Package geperrors defines the shared error taxonomy used across every
// engine and helper in the group encryption protocol core (spec.md §4.7).
package geperrors

import (
	"errors"
	"fmt"
)

// Kind is the error taxonomy discriminant.
type Kind int

const (
	// General covers anything not otherwise classified.
	General Kind = iota
	// Timeout names an interest timeout. Neither engine returns it: both
	// retry a timed-out interest and then treat it as a nack, so a consumer
	// fetch that exhausts its retries fails with DataRetrievalFailure.
	Timeout
	// Validation is raised when packet validation fails.
	Validation
	// UnsupportedEncryptionScheme is raised for an unknown algorithm id.
	UnsupportedEncryptionScheme
	// InvalidEncryptedFormat is raised when an EncryptedContent or D-KEY
	// wire structure is malformed.
	InvalidEncryptedFormat
	// NoDecryptKey is raised when a required consumer key is absent from
	// the key database.
	NoDecryptKey
	// EncryptionFailure is raised when an underlying crypto primitive
	// fails.
	EncryptionFailure
	// DataRetrievalFailure is raised when a fetch exhausts retries and
	// delegation failover without success.
	DataRetrievalFailure
)

func (k Kind) String() string {
	switch k {
	case Timeout:
		return "Timeout"
	case Validation:
		return "Validation"
	case UnsupportedEncryptionScheme:
		return "UnsupportedEncryptionScheme"
	case InvalidEncryptedFormat:
		return "InvalidEncryptedFormat"
	case NoDecryptKey:
		return "NoDecryptKey"
	case EncryptionFailure:
		return "EncryptionFailure"
	case DataRetrievalFailure:
		return "DataRetrievalFailure"
	default:
		return "General"
	}
}

// Error is the concrete error type carried across every async callback
// boundary in the core. It supports errors.Is/As/Unwrap so callers can
// match on Kind or on a wrapped cause.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports Kind equality so errors.Is(err, geperrors.New(NoDecryptKey, ""))
// matches any NoDecryptKey error regardless of message or cause.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// New constructs an Error with no wrapped cause.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap constructs an Error wrapping cause.
func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

// KindOf returns the Kind of err if it is (or wraps) a *Error, and General
// otherwise.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return General
}
