package apperrors

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")

	// Kind sentinels. Every *Error unwraps to the sentinel of its Kind, so
	// callers can test with errors.Is(err, apperrors.ErrValidation).
	ErrValidation = errors.New("validation error")
	ErrAuth       = errors.New("authentication error")
	ErrConnection = errors.New("connection error")
	ErrDecryption = errors.New("decryption error")
	ErrQuery      = errors.New("query error")
	ErrConfig     = errors.New("configuration error")
	ErrInternal   = errors.New("internal error")
)

// Kind classifies an error for propagation and response mapping.
type Kind string

const (
	KindValidation Kind = "validation"
	KindAuth       Kind = "auth"
	KindConnection Kind = "connection"
	KindDecryption Kind = "decryption"
	KindQuery      Kind = "query"
	KindConfig     Kind = "config"
	KindInternal   Kind = "internal"
)

// ConnectionReason is the closed set of tenant connection failure causes.
type ConnectionReason string

const (
	ReasonInvalidCredentials ConnectionReason = "invalid_credentials"
	ReasonDatabaseNotFound   ConnectionReason = "database_not_found"
	ReasonTimeout            ConnectionReason = "timeout"
	ReasonConnectionRefused  ConnectionReason = "connection_refused"
	ReasonFailed             ConnectionReason = "connection_failed"
)

// Error is a classified application error.
type Error struct {
	Kind    Kind
	Field   string           // Offending input field (validation errors)
	Reason  ConnectionReason // Tenant connection failure cause (auth/connection errors)
	Message string           // Safe to show to callers
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Field != "" {
		fmt.Fprintf(&b, " [%s]", e.Field)
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

// Unwrap exposes both the kind sentinel and the underlying cause.
func (e *Error) Unwrap() []error {
	errs := []error{kindSentinel(e.Kind)}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

func kindSentinel(k Kind) error {
	switch k {
	case KindValidation:
		return ErrValidation
	case KindAuth:
		return ErrAuth
	case KindConnection:
		return ErrConnection
	case KindDecryption:
		return ErrDecryption
	case KindQuery:
		return ErrQuery
	case KindConfig:
		return ErrConfig
	default:
		return ErrInternal
	}
}

// NewValidationError reports malformed user input. field names the input at fault.
func NewValidationError(field, message string) *Error {
	return &Error{Kind: KindValidation, Field: field, Message: message}
}

// NewAuthError reports that a tenant database rejected the supplied credentials.
func NewAuthError(message string, cause error) *Error {
	return &Error{Kind: KindAuth, Reason: ReasonInvalidCredentials, Message: message, Cause: cause}
}

// NewConnectionError reports an unreachable, refusing or slow tenant database.
func NewConnectionError(reason ConnectionReason, message string, cause error) *Error {
	return &Error{Kind: KindConnection, Reason: reason, Message: message, Cause: cause}
}

// NewDecryptionError reports tampered ciphertext or a mismatched key.
func NewDecryptionError(message string, cause error) *Error {
	return &Error{Kind: KindDecryption, Message: message, Cause: cause}
}

// NewQueryError reports a metric that could not be computed against a tenant schema.
func NewQueryError(metric string, cause error) *Error {
	return &Error{Kind: KindQuery, Field: metric, Message: "metric could not be computed", Cause: cause}
}

// NewConfigError reports invalid server configuration.
func NewConfigError(message string) *Error {
	return &Error{Kind: KindConfig, Message: message}
}

// NewInternalError wraps an unexpected failure. The cause is for server logs only.
func NewInternalError(cause error) *Error {
	return &Error{Kind: KindInternal, Message: "an unexpected error occurred", Cause: cause}
}

// KindOf returns the Kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}
