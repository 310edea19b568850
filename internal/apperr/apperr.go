// Package apperr defines the error kinds surfaced by the dispatch core.
// Every public operation fails with exactly one *Error; callers branch on
// its Kind with errors.Is against the package sentinels or KindOf.
package apperr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindAuthorization
	KindInvalidTransition
	KindNotFound
	KindStorage
	// KindExternal is a failure of an outside collaborator such as the payment gateway.
	KindExternal
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation_error"
	case KindAuthorization:
		return "authorization_error"
	case KindInvalidTransition:
		return "invalid_state_transition"
	case KindNotFound:
		return "not_found"
	case KindStorage:
		return "storage_error"
	case KindExternal:
		return "external_error"
	default:
		return "unknown"
	}
}

type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error

	// set for KindInvalidTransition
	Current   string
	Attempted string
}

func (e *Error) Error() string {
	var s string
	switch {
	case e.Kind == KindInvalidTransition && e.Current != "":
		s = fmt.Sprintf("cannot %s in state %q", e.Attempted, e.Current)
		if e.Msg != "" {
			s += ": " + e.Msg
		}
	case e.Msg != "":
		s = e.Msg
	default:
		s = e.Kind.String()
	}
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrNotFound) works
// regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrValidation        = &Error{Kind: KindValidation}
	ErrAuthorization     = &Error{Kind: KindAuthorization}
	ErrInvalidTransition = &Error{Kind: KindInvalidTransition}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrStorage           = &Error{Kind: KindStorage}
	ErrExternal          = &Error{Kind: KindExternal}
)

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func Validation(op, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func Unauthorized(op, format string, args ...any) *Error {
	return &Error{Kind: KindAuthorization, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Transition reports an action attempted from a state that forbids it.
func Transition(op, current, attempted string) *Error {
	return &Error{Kind: KindInvalidTransition, Op: op, Current: current, Attempted: attempted}
}

// TransitionMsg is Transition with an explanation, e.g. why a driver may not accept.
func TransitionMsg(op, current, attempted, msg string) *Error {
	return &Error{Kind: KindInvalidTransition, Op: op, Current: current, Attempted: attempted, Msg: msg}
}

func NotFound(op, entity, id string) *Error {
	return &Error{Kind: KindNotFound, Op: op, Msg: fmt.Sprintf("%s %q not found", entity, id)}
}

func Storage(op string, err error) *Error {
	return &Error{Kind: KindStorage, Op: op, Msg: "storage failure", Err: err}
}

func External(op string, err error) *Error {
	return &Error{Kind: KindExternal, Op: op, Msg: "upstream failure", Err: err}
}
