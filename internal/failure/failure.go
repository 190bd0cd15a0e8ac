package failure

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a failure so callers can render a kind-specific message.
type Kind string

const (
	InvalidInput          Kind = "invalid_input"
	InvalidConfig         Kind = "invalid_config"
	TranscriptionProvider Kind = "transcription_provider_error"
	TranscriptionTimeout  Kind = "transcription_timeout"
	Storage               Kind = "storage_error"
	Generation            Kind = "generation_error"
	Canceled              Kind = "canceled"
	Unknown               Kind = "unknown"
)

// Error is the single error type surfaced by the pipeline stages.
type Error struct {
	Kind Kind
	Op   string
	// DiagnosticID cross-references the provider's dashboard (transcript id, response id).
	DiagnosticID string
	Err          error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.DiagnosticID != "" {
		msg += fmt.Sprintf(" (id=%s)", e.DiagnosticID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error from a formatted message.
func New(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Wrap attaches a kind to err. An err that already carries a kind keeps it.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return err
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// WithID sets the diagnostic identifier and returns e.
func (e *Error) WithID(id string) *Error {
	e.DiagnosticID = id
	return e
}

// KindOf returns the kind carried by err, Canceled for bare context
// cancellation and Unknown otherwise.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.Canceled) {
		return Canceled
	}
	return Unknown
}

// IsKind reports whether err carries kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// DiagnosticID returns the provider identifier attached to err, if any.
func DiagnosticID(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.DiagnosticID
	}
	return ""
}
