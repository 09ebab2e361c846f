package httpx

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/aussiebroadwan/trackgate/pkg/slogx"
)

type ctxKey string

const ctxKeySubjectID ctxKey = "subject_id"

// ErrUnauthenticated marks an Authenticator error as a rejected credential.
// Any other error is treated as a failure of the authenticator itself.
var ErrUnauthenticated = errors.New("unauthenticated")

// Authenticator validates a raw bearer credential and returns the request
// context enriched with whatever the caller needs downstream, plus the
// subject id of the credential.
type Authenticator func(ctx context.Context, raw string) (context.Context, string, error)

// WithSubjectID stores the authenticated subject id in ctx.
func WithSubjectID(ctx context.Context, subjectID string) context.Context {
	return context.WithValue(ctx, ctxKeySubjectID, subjectID)
}

// SubjectID returns the authenticated subject id, or "" for anonymous requests.
func SubjectID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeySubjectID).(string)
	return id
}

// BearerToken extracts the credential from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, bool) {
	authz := r.Header.Get("Authorization")
	scheme, raw, ok := strings.Cut(authz, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	raw = strings.TrimSpace(raw)
	return raw, raw != ""
}

// AuthnMiddleware rejects requests without a valid bearer credential.
func AuthnMiddleware(authenticate Authenticator) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			raw, ok := BearerToken(r)
			if !ok {
				WriteBearerError(w, "missing bearer token")
				return
			}

			ctx, subjectID, err := authenticate(ctx, raw)
			switch {
			case errors.Is(err, ErrUnauthenticated):
				slogx.FromContext(r.Context()).Warn("bearer authentication failed", "error", err)
				WriteBearerError(w, "token rejected")
				return
			case err != nil:
				slogx.FromContext(r.Context()).Error("bearer authentication unavailable", "error", err)
				WriteError(w, http.StatusInternalServerError, "server_error", "")
				return
			}

			ctx = slogx.WithSubject(WithSubjectID(ctx, subjectID), subjectID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WriteBearerError writes an RFC 6750 invalid_token challenge.
func WriteBearerError(w http.ResponseWriter, desc string) {
	w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token", error_description="`+desc+`"`)
	WriteError(w, http.StatusUnauthorized, "invalid_token", desc)
}
