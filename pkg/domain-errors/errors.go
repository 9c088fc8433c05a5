// Package domainerrors provides coded domain errors. Services return these so
// transports can map a stable code to a response without string matching, and
// so callers can branch on outcomes (a denial is a result, not a panic).
package domainerrors

import (
	"errors"
	"fmt"
)

// Code identifies a class of domain failure.
type Code string

const (
	CodeInvalidInput Code = "invalid_input"
	CodeInternal     Code = "internal"
	CodeNotFound     Code = "not_found"
	CodeTimeout      Code = "timeout"
	CodeUnauthorized Code = "unauthorized"

	// Authorization denial codes. Transports collapse all of these into a
	// generic "not authorized" response; the specific code is for audit
	// entries and operator logs only.
	CodeTenantMismatch   Code = "tenant_mismatch"
	CodeRoleInsufficient Code = "role_insufficient"
	CodeConsentRequired  Code = "consent_required"
	CodeConsentExpired   Code = "consent_expired"

	// Vault and audit-chain failure codes.
	CodeKeyExpired     Code = "key_expired"
	CodeKeyNotFound    Code = "key_not_found"
	CodeVaultMiss      Code = "vault_miss"
	CodeChainIntegrity Code = "chain_integrity_violation"
	CodeStorageFailure Code = "storage_failure"
)

// Error carries a code and an operator-facing message. The message must never
// reach an end user verbatim; transports translate codes to generic responses.
type Error struct {
	Code    Code
	Message string
	wrapped error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.wrapped }

// New creates a coded error.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code to an underlying error while preserving the chain for
// errors.Is / errors.As.
func Wrap(code Code, message string, err error) error {
	return &Error{Code: code, Message: message, wrapped: err}
}

// HasCode reports whether any error in the chain carries the given code.
func HasCode(err error, code Code) bool {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Code == code
	}
	return false
}

// CodeOf returns the code of the first coded error in the chain, or
// CodeInternal when the error carries no code.
func CodeOf(err error) Code {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return CodeInternal
}
