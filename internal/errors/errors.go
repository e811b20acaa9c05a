// Package errors defines the failure taxonomy shared by the sync engine, the
// transport dispatcher and the HTTP layer.
package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration marks a missing account or group, or a required field left empty.
	ErrConfiguration = errors.New("configuration error")

	// ErrConnectivity marks DNS, TCP or TLS handshake failures.
	ErrConnectivity = errors.New("connectivity error")

	// ErrProtocol marks a rejected mailbox or transport command, including failed authentication.
	ErrProtocol = errors.New("protocol error")

	// ErrNegotiationExhausted marks a send where every connection-security strategy failed.
	ErrNegotiationExhausted = errors.New("all transport security strategies failed")
)

// Error codes for API responses
const (
	CodeConfiguration        = "CONFIGURATION_ERROR"
	CodeConnectivity         = "CONNECTIVITY_ERROR"
	CodeProtocol             = "PROTOCOL_ERROR"
	CodeNegotiationExhausted = "NEGOTIATION_EXHAUSTED"
	CodeInternalError        = "INTERNAL_ERROR"
)

// AppError carries a taxonomy kind, the underlying cause and a human-readable message.
type AppError struct {
	Kind    error
	Err     error
	Message string
	Code    string
}

func (e *AppError) Error() string {
	if e.Err != nil && e.Message != "" {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Kind.Error()
}

// Unwrap exposes both the kind sentinel and the cause to errors.Is and errors.As.
func (e *AppError) Unwrap() []error {
	var errs []error
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// NewAppError creates a new AppError. The code is derived from kind.
func NewAppError(kind error, err error, message string) *AppError {
	return &AppError{
		Kind:    kind,
		Err:     err,
		Message: message,
		Code:    codeFor(kind),
	}
}

// Configuration reports a configuration problem that no retry will fix.
func Configuration(format string, args ...any) error {
	return NewAppError(ErrConfiguration, nil, fmt.Sprintf(format, args...))
}

// Connectivity wraps a network-level failure.
func Connectivity(err error, message string) error {
	return NewAppError(ErrConnectivity, err, message)
}

// Protocol wraps a server-side rejection.
func Protocol(err error, message string) error {
	return NewAppError(ErrProtocol, err, message)
}

// GetErrorCode returns the API code for err, or CodeInternalError when err is outside the taxonomy.
func GetErrorCode(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Code != "" {
		return appErr.Code
	}
	for _, kind := range []error{ErrConfiguration, ErrConnectivity, ErrProtocol, ErrNegotiationExhausted} {
		if errors.Is(err, kind) {
			return codeFor(kind)
		}
	}
	return CodeInternalError
}

func codeFor(kind error) string {
	switch kind {
	case ErrConfiguration:
		return CodeConfiguration
	case ErrConnectivity:
		return CodeConnectivity
	case ErrProtocol:
		return CodeProtocol
	case ErrNegotiationExhausted:
		return CodeNegotiationExhausted
	default:
		return CodeInternalError
	}
}
