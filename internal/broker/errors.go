package broker

import (
	"fmt"
	"net/http"
)

// ErrorKind classifies broker failures. Each kind maps to exactly one HTTP
// status on the admin surface.
type ErrorKind int

const (
	KindAuthenticationFailed ErrorKind = iota
	KindAuthorizationFailed
	KindChannelError
	KindConnectionError
	KindApplicationNotFound
	KindChannelNotFound
	KindBadRequest
	KindInternal
	KindSerialization
	KindIO
	KindNotFound
)

func (k ErrorKind) String() string {
	switch k {
	case KindAuthenticationFailed:
		return "AuthenticationFailed"
	case KindAuthorizationFailed:
		return "AuthorizationFailed"
	case KindChannelError:
		return "ChannelError"
	case KindConnectionError:
		return "ConnectionError"
	case KindApplicationNotFound:
		return "ApplicationNotFound"
	case KindChannelNotFound:
		return "ChannelNotFound"
	case KindBadRequest:
		return "BadRequest"
	case KindInternal:
		return "Internal"
	case KindSerialization:
		return "SerializationError"
	case KindIO:
		return "IoError"
	case KindNotFound:
		return "NotFound"
	}
	return "Internal"
}

// HTTPStatus maps a kind onto the admin surface status code.
func (k ErrorKind) HTTPStatus() int {
	switch k {
	case KindAuthenticationFailed:
		return http.StatusUnauthorized
	case KindAuthorizationFailed:
		return http.StatusForbidden
	case KindApplicationNotFound, KindChannelNotFound, KindNotFound:
		return http.StatusNotFound
	case KindChannelError, KindConnectionError, KindBadRequest:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// Error is a kind-tagged broker error.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a kind-tagged error with a formatted message.
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the kind from err, defaulting to Internal for foreign
// errors.
func KindOf(err error) ErrorKind {
	if be, ok := err.(*Error); ok {
		return be.Kind
	}
	return KindInternal
}
