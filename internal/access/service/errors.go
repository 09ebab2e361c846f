package service

import (
	"errors"
	"fmt"
)

// Error values returned by the access services. Their messages double as
// the stable error codes of the HTTP API. Anything that is none of these is
// a hard failure of a collaborator and must not be reported as a denial.
var (
	ErrIdentity     = errors.New("invalid_identity")
	ErrTokenInvalid = errors.New("invalid_token")
	ErrTokenExpired = errors.New("token_expired")
	ErrTokenRevoked = errors.New("token_revoked")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not_found")
	ErrInvalidInput = errors.New("invalid_request")

	// ErrIntegrity reports a resource hierarchy that violates its shape,
	// such as a cycle or a comment hanging off a project.
	ErrIntegrity = errors.New("hierarchy_integrity")
)

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// result classifies an error for metric labels.
func result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrTokenExpired):
		return "expired"
	case errors.Is(err, ErrTokenRevoked):
		return "revoked"
	case errors.Is(err, ErrTokenInvalid):
		return "invalid"
	case errors.Is(err, ErrIdentity):
		return "identity"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	default:
		return "error"
	}
}
