package proxy

import "fmt"

// Kind classifies a dispatch failure so handlers can render it in the
// caller's schema.
type Kind string

const (
	KindMalformedCredential Kind = "malformed_credential"
	KindCredentialsRequired Kind = "credentials_required"
	KindReauthRequired      Kind = "reauth_required"
	KindOnboardError        Kind = "onboard_error"
	KindSchemaError         Kind = "schema_error"
	KindBackendError        Kind = "backend_error"
	KindStreamInterrupted   Kind = "stream_interrupted"
)

// Error is a classified dispatch failure. Message is safe to return to
// the caller: it never carries token or credential material.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	cause   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

func dispatchErr(kind Kind, status int, cause error, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    kind,
		Status:  status,
		Message: fmt.Sprintf(format, args...),
		cause:   cause,
	}
}
