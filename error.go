package samlauth

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidParameter   = errors.New("invalid parameter")
	ErrInvalidConfig      = errors.New("invalid configuration")
	ErrInvalidCertificate = errors.New("invalid signing certificate")
	ErrInvalidMetadata    = errors.New("invalid service provider metadata")
	ErrIdentityUnresolved = errors.New("identity unresolved")
	ErrAccountNotFound    = errors.New("account not found")
	ErrAccountExists      = errors.New("account already exists")
	ErrUnknownRole        = errors.New("unknown role")
	ErrProvisioning       = errors.New("account provisioning failed")
	ErrInternal           = errors.New("internal error")
)

// ErrorCode is a stable, numbered identifier included in every generic
// user-facing failure so operators can correlate user reports with server
// logs without exposing protocol or validator internals to the client.
type ErrorCode int

const (
	// CodeAuthenticationFailed covers identity resolution failures: no
	// matching account, auto-registration disabled, or provisioning errors.
	CodeAuthenticationFailed ErrorCode = 1

	// CodeValidationFailed covers assertion or logout messages rejected by
	// the SAML toolkit.
	CodeValidationFailed ErrorCode = 2

	// CodeInternal covers unexpected failures inside a handler.
	CodeInternal ErrorCode = 3

	// CodeInvalidConfig covers incomplete or malformed IdP/SP settings.
	CodeInvalidConfig ErrorCode = 10
)

// UserMessage returns the generic text shown to the end user. The wording is
// deliberately uniform across the authentication codes so the message leaks
// nothing about which check failed.
func (c ErrorCode) UserMessage() string {
	switch c {
	case CodeAuthenticationFailed, CodeValidationFailed:
		return fmt.Sprintf("[SAMLAUTH] error #%02d: invalid authentication data, please check your login details and try again", int(c))
	case CodeInvalidConfig:
		return fmt.Sprintf("[SAMLAUTH] error #%02d: single sign-on is not configured correctly, please contact your administrator", int(c))
	default:
		return fmt.Sprintf("[SAMLAUTH] error #%02d: we could not process this request, please contact your administrator with the mentioned error code", int(c))
	}
}

// ValidationError is returned by a Toolkit when a SAML message fails
// structural or cryptographic checks. It carries the toolkit's raw error
// list and a human-readable reason for server-side logging; its Error
// method intentionally reveals neither.
type ValidationError struct {
	Errors []error
	Reason string
}

func (e *ValidationError) Error() string {
	return "saml message validation failed"
}

// Unwrap exposes the underlying toolkit errors to errors.Is/As.
func (e *ValidationError) Unwrap() []error {
	return e.Errors
}
