package contracts

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures so callers can tell timeouts from rejections.
type ErrorKind string

const (
	KindValidation    ErrorKind = "VALIDATION"
	KindVerification  ErrorKind = "VERIFICATION"
	KindQuorumTimeout ErrorKind = "QUORUM_TIMEOUT"
	KindSettlement    ErrorKind = "SETTLEMENT"
	KindNotification  ErrorKind = "NOTIFICATION"
	KindTimeout       ErrorKind = "TIMEOUT"
	KindNotFound      ErrorKind = "NOT_FOUND"
	KindConflict      ErrorKind = "CONFLICT"
	KindCancelled     ErrorKind = "CANCELLED"
)

// Retryable reports whether a caller may retry with corrected input.
func (k ErrorKind) Retryable() bool {
	return k == KindVerification || k == KindNotification
}

// Sentinels for errors.Is matching by kind.
var (
	ErrValidation    = &Error{Kind: KindValidation}
	ErrVerification  = &Error{Kind: KindVerification}
	ErrQuorumTimeout = &Error{Kind: KindQuorumTimeout}
	ErrSettlement    = &Error{Kind: KindSettlement}
	ErrNotification  = &Error{Kind: KindNotification}
	ErrTimeout       = &Error{Kind: KindTimeout}
	ErrNotFound      = &Error{Kind: KindNotFound}
	ErrConflict      = &Error{Kind: KindConflict}
	ErrCancelled     = &Error{Kind: KindCancelled}
)

// Error is a typed engine error.
type Error struct {
	Kind    ErrorKind
	Step    string
	Message string
	Err     error
}

// NewError builds a typed error.
func NewError(kind ErrorKind, step, format string, args ...any) *Error {
	return &Error{Kind: kind, Step: step, Message: fmt.Sprintf(format, args...)}
}

// WrapError builds a typed error around a cause.
func WrapError(kind ErrorKind, step string, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Step: step, Message: fmt.Sprintf(format, args...), Err: err}
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Step != "" {
		msg += " [" + e.Step + "]"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf extracts the kind of err, or "" if err is not typed.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
