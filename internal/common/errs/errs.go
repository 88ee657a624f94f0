// Package errs defines the typed error taxonomy shared by the settlement core.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error for retry and surfacing decisions.
type Kind string

const (
	// KindValidation marks malformed cart, discount, or request input.
	KindValidation Kind = "validation"
	// KindNetwork marks an unreachable content store or ledger RPC. Retryable.
	KindNetwork Kind = "network"
	// KindTimeout marks a content-store read that exceeded its bound. Retryable.
	KindTimeout Kind = "timeout"
	// KindDecode marks content that was fetched but is not valid JSON.
	KindDecode Kind = "decode"
	// KindLedgerRevert marks a transaction reverted on-chain. Not retryable
	// without caller intervention.
	KindLedgerRevert Kind = "ledger_revert"
	// KindStateConflict marks an illegal or racing state transition.
	// Retryable after re-reading current state.
	KindStateConflict Kind = "state_conflict"
	// KindPaymentBackend marks a processor-side capture/refund rejection.
	KindPaymentBackend Kind = "payment_backend"
)

// Error carries a kind, a message, and an optional wrapped cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an error of the given kind.
func New(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap wraps a cause with a kind and message.
func Wrap(kind Kind, err error, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// Validation creates a validation error.
func Validation(format string, args ...any) error {
	return New(KindValidation, format, args...)
}

// Network creates a network error.
func Network(err error, format string, args ...any) error {
	return Wrap(KindNetwork, err, format, args...)
}

// Timeout creates a timeout error.
func Timeout(err error, format string, args ...any) error {
	return Wrap(KindTimeout, err, format, args...)
}

// Decode creates a decode error.
func Decode(err error, format string, args ...any) error {
	return Wrap(KindDecode, err, format, args...)
}

// LedgerRevert creates a ledger revert error.
func LedgerRevert(err error, format string, args ...any) error {
	return Wrap(KindLedgerRevert, err, format, args...)
}

// StateConflict creates a state conflict error.
func StateConflict(format string, args ...any) error {
	return New(KindStateConflict, format, args...)
}

// PaymentBackend creates a payment backend error.
func PaymentBackend(err error, format string, args ...any) error {
	return Wrap(KindPaymentBackend, err, format, args...)
}

// KindOf returns the kind of err, or "" if err carries no kind.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err is of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Retryable reports whether the caller may retry without intervention.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindNetwork, KindTimeout, KindStateConflict:
		return true
	}
	return false
}
