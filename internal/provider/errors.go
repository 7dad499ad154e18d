package provider

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies adapter failures.
type ErrorKind string

const (
	// CredentialsMissing means no credentials are configured for the vendor.
	CredentialsMissing ErrorKind = "credentials_missing"
	// VendorError means the vendor API returned a failure.
	VendorError ErrorKind = "vendor_error"
	// Unsupported means the provider, service or resource type is unknown.
	Unsupported ErrorKind = "unsupported"
	// AuthenticationFailed means the vendor rejected the credentials.
	AuthenticationFailed ErrorKind = "authentication_failed"
	// PolicyDenied means the deploy admission policy rejected the request.
	PolicyDenied ErrorKind = "policy_denied"
	// InvalidRequest means the deploy request failed validation.
	InvalidRequest ErrorKind = "invalid_request"
)

// Error is the error type returned by adapters and the manager.
type Error struct {
	Kind     ErrorKind
	Provider Kind
	Op       string
	Err      error
}

func (e *Error) Error() string {
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf builds an Error whose message is prefixed with the vendor name.
func Errorf(kind ErrorKind, p Kind, format string, args ...any) *Error {
	return &Error{
		Kind:     kind,
		Provider: p,
		Err:      fmt.Errorf("%s: %w", p, fmt.Errorf(format, args...)),
	}
}

// Wrap attaches a kind to an existing error, keeping its message.
func Wrap(kind ErrorKind, p Kind, op string, err error) *Error {
	return &Error{Kind: kind, Provider: p, Op: op, Err: err}
}

// MissingCredentials is the error adapters return before any vendor call
// when the credential store has nothing for them.
func MissingCredentials(p Kind) *Error {
	return &Error{
		Kind:     CredentialsMissing,
		Provider: p,
		Err:      fmt.Errorf("%s credentials not configured", displayName(p)),
	}
}

// UnsupportedService is returned when a deploy names an unknown service.
func UnsupportedService(p Kind, service string) *Error {
	return &Error{
		Kind:     Unsupported,
		Provider: p,
		Op:       "deploy",
		Err:      fmt.Errorf("unsupported %s service: %s", p, service),
	}
}

// UnsupportedType is returned when a status or delete names an unknown type.
func UnsupportedType(p Kind, typ string) *Error {
	return &Error{
		Kind:     Unsupported,
		Provider: p,
		Err:      fmt.Errorf("unsupported %s resource type: %s", p, typ),
	}
}

// KindOf returns the ErrorKind of err, or "" if err carries none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// IsNotConfigured reports whether err means the vendor has no usable
// credentials, either by kind or by message for untyped errors.
func IsNotConfigured(err error) bool {
	if err == nil {
		return false
	}
	if IsKind(err, CredentialsMissing) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "credentials") || strings.Contains(msg, "not configured")
}

func displayName(p Kind) string {
	switch p {
	case AWS:
		return "AWS"
	case GCP:
		return "GCP"
	case IBM:
		return "IBM"
	case DigitalOcean:
		return "DigitalOcean"
	case "":
		return "Provider"
	default:
		s := string(p)
		return strings.ToUpper(s[:1]) + s[1:]
	}
}
