// Package apperr defines the error kinds shared across the assistant:
// provider and index outages, bad arguments, missing records and
// model-side failures.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation and HTTP mapping.
type Kind uint8

const (
	Unknown Kind = iota
	ProviderUnavailable
	IndexUnavailable
	InvalidArgument
	NotFound
	AgentFailure
)

func (k Kind) String() string {
	switch k {
	case ProviderUnavailable:
		return "provider unavailable"
	case IndexUnavailable:
		return "index unavailable"
	case InvalidArgument:
		return "invalid argument"
	case NotFound:
		return "not found"
	case AgentFailure:
		return "agent failure"
	default:
		return "unknown error"
	}
}

// Error is a classified error. Op names the failing operation.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// Sentinels for errors.Is. Any *Error of the same Kind matches.
var (
	ErrProviderUnavailable = &Error{Kind: ProviderUnavailable}
	ErrIndexUnavailable    = &Error{Kind: IndexUnavailable}
	ErrInvalidArgument     = &Error{Kind: InvalidArgument}
	ErrNotFound            = &Error{Kind: NotFound}
	ErrAgentFailure        = &Error{Kind: AgentFailure}
)

// E builds a classified error.
func E(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a classified error with a formatted cause.
func Errorf(kind Kind, op string, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports a match against a bare sentinel of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Err == nil && t.Kind == e.Kind
}

// KindOf returns the outermost Kind in err's chain, or Unknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}
