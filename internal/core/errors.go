package core

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure for the orchestrator: signaling,
// not-found and request errors are always permanent, everything else
// is recoverable while a session is running.
type ErrorKind string

const (
	KindSignaling ErrorKind = "signaling" // malformed offer/answer or ice-server link
	KindState     ErrorKind = "state"     // operation attempted in an invalid lifecycle state
	KindRequest   ErrorKind = "request"   // client-side bad request (HTTP 400 and friends)
	KindNotFound  ErrorKind = "not-found" // remote resource missing (HTTP 404/406)
	KindOther     ErrorKind = "other"     // uncategorized, including transport failures
)

type Error struct {
	Kind  ErrorKind
	Msg   string
	cause error
}

func NewError(kind ErrorKind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func WrapError(kind ErrorKind, err error, msg string) *Error {
	return &Error{Kind: kind, Msg: msg, cause: err}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return string(e.Kind) + ": " + e.Msg + ": " + e.cause.Error()
	}
	return string(e.Kind) + ": " + e.Msg
}

func (e *Error) Unwrap() error { return e.cause }

// KindOf extracts the kind of err, defaulting to KindOther for plain errors.
func KindOf(err error) ErrorKind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindOther
}

// Permanent reports whether err must drive the machine to the failed
// state regardless of the current lifecycle state.
func Permanent(err error) bool {
	switch KindOf(err) {
	case KindSignaling, KindNotFound, KindRequest:
		return true
	}
	return false
}
