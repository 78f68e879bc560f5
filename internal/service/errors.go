package service

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindInvalidInput   Kind = "invalid_input"
	KindNotPermitted   Kind = "not_permitted"
	KindAlreadyClaimed Kind = "already_claimed"
	KindNotFound       Kind = "not_found"
	KindSystem         Kind = "system_error"
)

// Store sentinels. Implementations return these (possibly wrapped).
var (
	ErrNotFound           = errors.New("not found")
	ErrPreconditionFailed = errors.New("precondition failed")
)

// Error is returned by every engine operation that does not succeed.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Kind == KindSystem {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func invalidInput(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidInput, Message: fmt.Sprintf(format, args...)}
}

// notPermitted never carries the reason; callers only learn that the action is refused.
func notPermitted() *Error {
	return &Error{Kind: KindNotPermitted, Message: "not permitted"}
}

func alreadyClaimed() *Error {
	return &Error{Kind: KindAlreadyClaimed, Message: "case already claimed by another responder"}
}

func notFound(what string) *Error {
	return &Error{Kind: KindNotFound, Message: what + " not found"}
}

func systemError(msg string, err error) *Error {
	return &Error{Kind: KindSystem, Message: msg, Err: err}
}

// KindOf classifies err. Anything that is not an *Error is a system error.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindSystem
}

// storeErr maps a store read failure to an engine error.
func storeErr(err error, what string) *Error {
	if errors.Is(err, ErrNotFound) {
		return notFound(what)
	}
	return systemError("load "+what, err)
}
