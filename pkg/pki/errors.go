package pki

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"
)

var (
	ErrNotRecognized     = errors.New("pki: input not recognized")
	ErrInvalidInput      = errors.New("pki: invalid input")
	ErrUnsupported       = errors.New("pki: unsupported value")
	ErrIssuerKeyNotFound = errors.New("pki: issuer private key not found")
	ErrKeyMismatch       = errors.New("pki: private key does not match public key")
	ErrInvalidPEM        = errors.New("pki: invalid PEM encoding")
	ErrPasswordRequired  = errors.New("pki: password required")
	ErrNotSigningKey     = errors.New("pki: key algorithm cannot sign")
	ErrInvalidSignature  = errors.New("pki: invalid signature")
)

// ParseError is returned when none of the decode attempts recognized the
// input. Err aggregates every individual attempt failure.
type ParseError struct {
	Source string
	Err    error
}

func NewParseError(source string, failures error) *ParseError {
	return &ParseError{Source: source, Err: failures}
}

func (e *ParseError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", ErrNotRecognized, e.Source)
	}
	return fmt.Sprintf("%s: %s: %s", ErrNotRecognized, e.Source, e.Err)
}

// Returns each cascade attempt failure individually
func (e *ParseError) Errors() []error {
	return multierr.Errors(e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func (e *ParseError) Is(target error) bool {
	return target == ErrNotRecognized
}

// InputError reports a missing or invalid required input. It is never
// retried automatically.
type InputError struct {
	Field   string
	Message string
	Err     error
}

func NewInputError(field, message string) *InputError {
	return &InputError{Field: field, Message: message}
}

func (e *InputError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s: %s", ErrInvalidInput, e.Field, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", ErrInvalidInput, e.Field, e.Message)
}

func (e *InputError) Unwrap() error {
	return e.Err
}

func (e *InputError) Is(target error) bool {
	return target == ErrInvalidInput
}

// Returns a missing-required-input error for the named field
func Missing(field string) *InputError {
	return &InputError{Field: field, Message: "required"}
}

// UnsupportedError names an enum value or algorithm that is not supported
type UnsupportedError struct {
	Name  string
	Value any
}

func NewUnsupportedError(name string, value any) *UnsupportedError {
	return &UnsupportedError{Name: name, Value: value}
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrUnsupported, e.Name, e.Value)
}

func (e *UnsupportedError) Is(target error) bool {
	return target == ErrUnsupported
}
