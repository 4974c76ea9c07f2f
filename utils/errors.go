package utils

import (
	stderrors "errors"
	"fmt"
)

type notFoundError struct {
	what string
	id   string
}

func (e *notFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.what, e.id)
}

// NewSensorNotFoundError is used when a sensor id has no live registration.
func NewSensorNotFoundError(id string) error {
	return &notFoundError{what: "sensor", id: id}
}

// NewSessionNotFoundError is used when a session id has no live entry.
func NewSessionNotFoundError(id string) error {
	return &notFoundError{what: "session", id: id}
}

// NewDriverNotFoundError is used when a driver model has no registration.
func NewDriverNotFoundError(model string) error {
	return &notFoundError{what: "driver", id: model}
}

// IsNotFoundError reports whether err is any not-found lookup failure.
func IsNotFoundError(err error) bool {
	var nf *notFoundError
	return stderrors.As(err, &nf)
}

type conflictError struct {
	what string
	id   string
}

func (e *conflictError) Error() string {
	return fmt.Sprintf("%s %q already exists", e.what, e.id)
}

// NewDuplicateSensorError is used when a sensor id is already registered.
func NewDuplicateSensorError(id string) error {
	return &conflictError{what: "sensor", id: id}
}

// NewDuplicateSessionError is used when a session id is already live.
func NewDuplicateSessionError(id string) error {
	return &conflictError{what: "session", id: id}
}

// IsConflictError reports whether err is a duplicate-id rejection.
func IsConflictError(err error) bool {
	var ce *conflictError
	return stderrors.As(err, &ce)
}

type unsupportedError struct {
	what string
	on   string
}

func (e *unsupportedError) Error() string {
	return fmt.Sprintf("%s not supported on %q", e.what, e.on)
}

// NewUnsupportedError is used when a capability is absent on a board or
// sensor; callers are expected to check capabilities first.
func NewUnsupportedError(what, on string) error {
	return &unsupportedError{what: what, on: on}
}

// IsUnsupportedError reports whether err is a missing-capability failure.
func IsUnsupportedError(err error) bool {
	var ue *unsupportedError
	return stderrors.As(err, &ue)
}

// NewUnexpectedTypeError is used when there is a type mismatch.
func NewUnexpectedTypeError(expected, actual interface{}) error {
	return fmt.Errorf("expected %T but got %T", expected, actual)
}
