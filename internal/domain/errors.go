package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// Error classes. Every failure the core reports matches exactly one of these
// through errors.Is.
var (
	ErrValidation     = errors.New("validation failed")
	ErrAuthRequired   = errors.New("authentication required")
	ErrDuplicateItem  = errors.New("item already in cart")
	ErrServerRejected = errors.New("request rejected by server")
	ErrServerFault    = errors.New("server fault")
	ErrUnreachable    = errors.New("backend unreachable")
)

// Error is a classified failure. Status is the HTTP status when the server
// answered, zero otherwise. Message is the text meant for the user.
type Error struct {
	Kind    error
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Status != 0 && e.Message != "":
		return fmt.Sprintf("%v (status %d): %s", e.Kind, e.Status, e.Message)
	case e.Message != "":
		return fmt.Sprintf("%v: %s", e.Kind, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%v: %v", e.Kind, e.Err)
	default:
		return e.Kind.Error()
	}
}

func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds a classified error without a cause.
func NewError(kind error, status int, message string) *Error {
	return &Error{Kind: kind, Status: status, Message: message}
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}

// MessageOf returns the user-facing message carried by err, or fallback when
// there is none.
func MessageOf(err error, fallback string) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return fallback
}

// IsNotFound reports a 404 answer from the server.
func IsNotFound(err error) bool {
	return StatusOf(err) == http.StatusNotFound
}
