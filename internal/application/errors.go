package application

import (
	"errors"
	"strings"
)

var (
	// ErrInvalidCredentials is returned when the backend rejects an email/password pair.
	ErrInvalidCredentials = errors.New("application: invalid credentials")
	// ErrUnauthenticated is returned when the backend rejects an access token.
	ErrUnauthenticated = errors.New("application: unauthenticated")
	// ErrAlreadyAuthenticated is returned by Login on a signed-in session.
	ErrAlreadyAuthenticated = errors.New("application: already authenticated")
	// ErrLoginSuperseded is returned by a login attempt whose outcome was discarded
	// because a later login, logout or interrupt happened first.
	ErrLoginSuperseded = errors.New("application: login superseded")
	// ErrInvalidProfile is returned when the fetched profile cannot back a session.
	ErrInvalidProfile = errors.New("application: invalid profile")
	// ErrInvalidPolicy is returned when a route policy table is malformed.
	ErrInvalidPolicy = errors.New("application: invalid route policy")
	// ErrInconsistentSession is returned when a session about to be installed
	// breaks the status, token and user invariants. The controller is left anonymous.
	ErrInconsistentSession = errors.New("application: inconsistent session")
)

// DefaultInvalidCredentialsMessage is shown when the backend gives no reason.
const DefaultInvalidCredentialsMessage = "Email ou mot de passe incorrect."

// ValidationError captures field level validation issues that callers can surface to users.
type ValidationError struct {
	FieldErrors map[string]string
}

// Error implements the error interface.
func (v *ValidationError) Error() string {
	if v == nil {
		return ""
	}
	return "validation failed"
}

// HasErrors reports whether any field level issues were recorded.
func (v *ValidationError) HasErrors() bool {
	return v != nil && len(v.FieldErrors) > 0
}

func (v *ValidationError) add(field, message string) {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string]string)
	}
	v.FieldErrors[field] = message
}

// RejectedError reports a request the backend refused, with its stated reason.
type RejectedError struct {
	Status int
	Reason string
}

// Error implements the error interface.
func (e *RejectedError) Error() string {
	if e == nil {
		return ""
	}
	if e.Reason == "" {
		return "request rejected"
	}
	return "request rejected: " + e.Reason
}

// LoginError is returned by a failed login. Reason is safe to show to the user.
type LoginError struct {
	Reason string
	Err    error
}

// Error implements the error interface.
func (e *LoginError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return "login failed: " + e.Reason
	}
	return "login failed: " + e.Err.Error()
}

// Unwrap returns the underlying cause.
func (e *LoginError) Unwrap() error {
	return e.Err
}

func newLoginError(err error) *LoginError {
	var rejected *RejectedError
	if errors.As(err, &rejected) && rejected.Status >= 400 && rejected.Status < 500 {
		reason := strings.TrimSpace(rejected.Reason)
		if reason == "" {
			reason = DefaultInvalidCredentialsMessage
		}
		return &LoginError{Reason: reason, Err: errors.Join(ErrInvalidCredentials, err)}
	}
	return &LoginError{Reason: "La connexion a échoué. Veuillez réessayer.", Err: err}
}
