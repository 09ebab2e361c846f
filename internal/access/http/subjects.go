package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/aussiebroadwan/trackgate/internal/access/domain"
	"github.com/aussiebroadwan/trackgate/internal/access/service"
	"github.com/aussiebroadwan/trackgate/pkg/httpx"
)

// SubjectsHandler serves self-service signup and profile lookup. Signup is
// public and never grants staff.
type SubjectsHandler struct {
	Members *service.MembershipService
}

type subjectJSON struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Staff     bool      `json:"staff"`
	CreatedAt time.Time `json:"created_at"`
}

func toSubjectJSON(s domain.Subject) subjectJSON {
	return subjectJSON{
		ID:        s.ID,
		Username:  s.Username,
		Staff:     s.Staff,
		CreatedAt: s.CreatedAt,
	}
}

// HandleSignup serves POST /v1/subjects with {"username", "password"}.
func (h *SubjectsHandler) HandleSignup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<12)).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}

	subject, err := h.Members.CreateSubject(r.Context(), service.NewSubject{
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toSubjectJSON(subject))
}

// HandleMe serves GET /v1/subjects/me.
func (h *SubjectsHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	subject, err := h.Members.Self(r.Context(), identity(r.Context()))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toSubjectJSON(subject))
}
