package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/aussiebroadwan/trackgate/internal/access/service"
	"github.com/aussiebroadwan/trackgate/pkg/httpx"
	"github.com/aussiebroadwan/trackgate/pkg/slogx"
)

var statusBySentinel = []struct {
	err    error
	status int
}{
	{service.ErrIdentity, http.StatusUnauthorized},
	{service.ErrTokenInvalid, http.StatusUnauthorized},
	{service.ErrTokenExpired, http.StatusUnauthorized},
	{service.ErrTokenRevoked, http.StatusUnauthorized},
	{service.ErrForbidden, http.StatusForbidden},
	{service.ErrNotFound, http.StatusNotFound},
	{service.ErrInvalidInput, http.StatusBadRequest},
	{service.ErrIntegrity, http.StatusConflict},
}

func isCredentialError(err error) bool {
	return errors.Is(err, service.ErrTokenInvalid) ||
		errors.Is(err, service.ErrTokenExpired) ||
		errors.Is(err, service.ErrTokenRevoked) ||
		errors.Is(err, service.ErrIdentity)
}

// writeServiceError maps a service error onto a status code. The error code
// in the body is the sentinel's message. Anything unrecognised is a server
// error and its details stay in the log.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	for _, s := range statusBySentinel {
		if !errors.Is(err, s.err) {
			continue
		}
		code := s.err.Error()

		var desc string
		if s.err == service.ErrInvalidInput {
			desc = strings.TrimPrefix(err.Error(), code+": ")
		}
		if s.status == http.StatusUnauthorized && s.err != service.ErrIdentity {
			w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
		}
		httpx.WriteError(w, s.status, code, desc)
		return
	}

	slogx.FromContext(r.Context()).Error("request failed", "error", err)
	httpx.WriteError(w, http.StatusInternalServerError, "server_error", "")
}
