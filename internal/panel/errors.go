package panel

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupported is returned when a variant has no endpoint for an operation.
var ErrUnsupported = errors.New("operation not supported by panel variant")

// AuthError reports a rejected login or a session the panel no longer accepts.
type AuthError struct {
	Server string
	Reason string
	// Rejected is set when an existing session was refused by a call,
	// as opposed to the login itself failing.
	Rejected bool
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("panel %s: authentication failed: %s", e.Server, e.Reason)
}

// NetworkError wraps timeouts and connection failures.
type NetworkError struct {
	Server string
	Op     string
	Err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("panel %s: %s: %v", e.Server, e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// NotFoundError reports a missing inbound or client on the remote side.
type NotFoundError struct {
	Server string
	Kind   string
	Key    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("panel %s: %s %s not found", e.Server, e.Kind, e.Key)
}

// APIError is a well-formed response with success=false.
type APIError struct {
	Server string
	Op     string
	Status int
	Msg    string
}

func (e *APIError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("panel %s: %s: rejected (http %d)", e.Server, e.Op, e.Status)
	}
	return fmt.Sprintf("panel %s: %s: %s", e.Server, e.Op, e.Msg)
}

func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

func IsNetwork(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// Redact replaces every non-empty secret in s.
func Redact(s string, secrets ...string) string {
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		s = strings.ReplaceAll(s, secret, "***")
	}
	return s
}
