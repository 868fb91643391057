// Package apperr defines the structured error taxonomy shared by the
// engine boundaries. Every operation failure is classifiable into a Kind
// so transport layers can translate it without inspecting engine internals.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an operation failure.
type Kind int

const (
	// Infrastructure covers coordination store or storage failures that
	// the caller may retry.
	Infrastructure Kind = iota
	// Cooldown means the operation was attempted before its next allowed time.
	Cooldown
	// Validation means the input was rejected before touching storage.
	Validation
	// Conflict means the entity was already in a state that forbids the
	// operation (code used, cell taken, not your turn).
	Conflict
	// NotFound means the referenced entity does not exist.
	NotFound
	// Forbidden means the caller lacks the required role.
	Forbidden
)

// String returns the kind's wire name.
func (k Kind) String() string {
	switch k {
	case Cooldown:
		return "cooldown"
	case Validation:
		return "validation"
	case Conflict:
		return "conflict"
	case NotFound:
		return "not_found"
	case Forbidden:
		return "forbidden"
	default:
		return "infrastructure"
	}
}

// Error is a classified failure with a human-readable message.
type Error struct {
	kind Kind
	msg  string
	err  error
}

// New creates a classified error.
func New(kind Kind, msg string) *Error {
	return &Error{kind: kind, msg: msg}
}

// Wrap classifies an underlying error.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{kind: kind, msg: msg, err: err}
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.err)
	}
	return e.msg
}

// Kind returns the error's classification.
func (e *Error) Kind() Kind { return e.kind }

// Message returns the human-readable message without the cause chain.
func (e *Error) Message() string { return e.msg }

func (e *Error) Unwrap() error { return e.err }

// kinder is implemented by any error that knows its own classification.
type kinder interface {
	Kind() Kind
}

// KindOf walks the error chain and returns the first classification found.
// Unclassified errors are treated as Infrastructure.
func KindOf(err error) Kind {
	for err != nil {
		if k, ok := err.(kinder); ok {
			return k.Kind()
		}
		err = errors.Unwrap(err)
	}
	return Infrastructure
}
