// Package failure carries the error taxonomy shared by the core components.
// Every expected domain condition is returned as an *Error with a Kind and the
// state of the entity at the time of the failure, so callers can render a
// meaningful message without parsing strings.
package failure

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	InvalidTransition Kind = "invalid_transition"
	ResourceConflict  Kind = "resource_conflict"
	ValidationError   Kind = "validation_error"
	NotFound          Kind = "not_found"
	TimeoutExceeded   Kind = "timeout_exceeded"
)

type Error struct {
	Kind    Kind   `json:"kind"`
	Op      string `json:"op,omitempty"`
	Entity  string `json:"entity,omitempty"`
	State   string `json:"state,omitempty"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.State != "" {
		msg = fmt.Sprintf("%s (%s state %s)", msg, e.Entity, e.State)
	}
	return msg
}

// Is lets errors.Is match on kind alone: errors.Is(err, &Error{Kind: NotFound}).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && (t.Entity == "" || t.Entity == e.Entity)
}

func Transition(op, entity, state string) error {
	return &Error{Kind: InvalidTransition, Op: op, Entity: entity, State: state, Message: "operation not allowed from current status"}
}

func Conflict(op, entity, state, msg string) error {
	return &Error{Kind: ResourceConflict, Op: op, Entity: entity, State: state, Message: msg}
}

func Validation(op, msg string) error {
	return &Error{Kind: ValidationError, Op: op, Message: msg}
}

func Missing(entity string) error {
	return &Error{Kind: NotFound, Entity: entity, Message: entity + " not found"}
}

func Timeout(op, entity, state, msg string) error {
	return &Error{Kind: TimeoutExceeded, Op: op, Entity: entity, State: state, Message: msg}
}

// KindOf returns the kind of the first *Error in the chain, or "" for
// infrastructure errors.
func KindOf(err error) Kind {
	var fail *Error
	if errors.As(err, &fail) {
		return fail.Kind
	}
	return ""
}

func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// HTTPStatus maps a failure kind onto the closest HTTP status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case InvalidTransition, ResourceConflict:
		return http.StatusConflict
	case ValidationError:
		return http.StatusUnprocessableEntity
	case NotFound:
		return http.StatusNotFound
	case TimeoutExceeded:
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}
