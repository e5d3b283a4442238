// Package errors provides the closed error taxonomy shared by every remote
// call and the single function that narrows raw backend failures into it.
package errors

import (
	"fmt"
)

// Kind is the closed set of failure classes a remote call can produce.
type Kind string

const (
	KindNetworkTimeout     Kind = "NETWORK_TIMEOUT"
	KindNetworkUnreachable Kind = "NETWORK_UNREACHABLE"
	KindValidation         Kind = "VALIDATION_FAILURE"
	KindNotFound           Kind = "NOT_FOUND"
	KindPermission         Kind = "PERMISSION_DENIED"
	KindDatabase           Kind = "DATABASE_ERROR"
	KindUnknown            Kind = "UNKNOWN"
)

// Kinds lists every kind in the taxonomy.
var Kinds = []Kind{
	KindNetworkTimeout,
	KindNetworkUnreachable,
	KindValidation,
	KindNotFound,
	KindPermission,
	KindDatabase,
	KindUnknown,
}

// Recoverable reports whether a retry may succeed for this kind.
func (k Kind) Recoverable() bool {
	switch k {
	case KindNetworkTimeout, KindNetworkUnreachable:
		return true
	default:
		return false
	}
}

// Critical reports whether this kind warrants the long user notification.
func (k Kind) Critical() bool {
	return k == KindDatabase
}

// Valid reports whether k is part of the taxonomy.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// defaultHints are shown to the user when the backend supplied none.
var defaultHints = map[Kind]string{
	KindNetworkTimeout:     "The backend is slow to respond. Try again in a moment.",
	KindNetworkUnreachable: "Check that the network is started and peers are reachable.",
	KindValidation:         "Check the input and try again.",
	KindPermission:         "You are not allowed to perform this action.",
	KindDatabase:           "Local storage reported a failure. Restarting the app may help.",
}

// AppError is the canonical typed error produced at the remote call boundary.
type AppError struct {
	Kind    Kind
	Message string
	Hint    string
	Command string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	prefix := fmt.Sprintf("[%s]", e.Kind)
	if e.Command != "" {
		prefix = fmt.Sprintf("[%s] %s:", e.Kind, e.Command)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %v", prefix, e.Message, e.Err)
	}
	return fmt.Sprintf("%s %s", prefix, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// Recoverable reports whether the error's kind is retryable.
func (e *AppError) Recoverable() bool {
	return e.Kind.Recoverable()
}

// Critical reports whether the error's kind is critical.
func (e *AppError) Critical() bool {
	return e.Kind.Critical()
}

// New creates a new AppError with the default hint for its kind.
func New(kind Kind, message string) *AppError {
	return &AppError{
		Kind:    kind,
		Message: message,
		Hint:    defaultHints[kind],
	}
}

// Wrap wraps an existing error with a kind.
func Wrap(kind Kind, message string, err error) *AppError {
	return &AppError{
		Kind:    kind,
		Message: message,
		Hint:    defaultHints[kind],
		Err:     err,
	}
}

// Is checks if an error is an AppError of a specific kind.
func Is(err error, kind Kind) bool {
	if appErr, ok := As(err); ok {
		return appErr.Kind == kind
	}
	return false
}

// KindOf returns the kind of err, or KindUnknown for untyped errors.
func KindOf(err error) Kind {
	if appErr, ok := As(err); ok {
		return appErr.Kind
	}
	return KindUnknown
}
