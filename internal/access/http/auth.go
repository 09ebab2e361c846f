package http

import (
	"net/http"
	"strings"

	"github.com/aussiebroadwan/trackgate/internal/access/domain"
	"github.com/aussiebroadwan/trackgate/internal/access/service"
	"github.com/aussiebroadwan/trackgate/pkg/httpx"
	"github.com/aussiebroadwan/trackgate/pkg/slogx"
)

// AuthHandler serves the token lifecycle endpoints. Requests are
// application/x-www-form-urlencoded.
type AuthHandler struct {
	Tokens *service.TokenService
}

type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	TokenType        string `json:"token_type"`
	ExpiresIn        int    `json:"expires_in"`
	RefreshExpiresIn int    `json:"refresh_expires_in"`
}

func newTokenResponse(pair domain.TokenPair) tokenResponse {
	return tokenResponse{
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		TokenType:        pair.TokenType,
		ExpiresIn:        int(pair.ExpiresIn.Seconds()),
		RefreshExpiresIn: int(pair.RefreshExpiresIn.Seconds()),
	}
}

// parseForm enforces the form content type and parses the body.
func parseForm(w http.ResponseWriter, r *http.Request) bool {
	if ct := r.Header.Get("Content-Type"); ct != "" &&
		!strings.HasPrefix(ct, "application/x-www-form-urlencoded") {
		httpx.WriteError(w, http.StatusUnsupportedMediaType, "invalid_request", "expected application/x-www-form-urlencoded")
		return false
	}
	if err := r.ParseForm(); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "malformed form body")
		return false
	}
	return true
}

// HandleLogin serves POST /v1/auth/login.
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if !parseForm(w, r) {
		return
	}

	username := strings.TrimSpace(r.Form.Get("username"))
	password := r.Form.Get("password")
	if username == "" || password == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "username and password are required")
		return
	}

	pair, err := h.Tokens.Login(r.Context(), username, password)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, newTokenResponse(pair))
}

// HandleRefresh serves POST /v1/auth/refresh.
func (h *AuthHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	if !parseForm(w, r) {
		return
	}

	refresh := r.Form.Get("refresh_token")
	if refresh == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "refresh_token is required")
		return
	}

	pair, err := h.Tokens.Rotate(r.Context(), refresh)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, newTokenResponse(pair))
}

// HandleLogout serves POST /v1/auth/logout. Unknown or already revoked
// tokens still get 200 so the endpoint cannot be used to test tokens.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if !parseForm(w, r) {
		return
	}

	token := r.Form.Get("token")
	if token == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "token is required")
		return
	}

	if err := h.Tokens.Revoke(r.Context(), token); err != nil {
		if !isCredentialError(err) {
			writeServiceError(w, r, err)
			return
		}
		slogx.FromContext(r.Context()).Warn("logout with unusable token", "error", err)
	}

	httpx.WriteJSON(w, http.StatusOK, struct{}{})
}
