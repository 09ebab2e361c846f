package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/aussiebroadwan/trackgate/internal/access/service"
	"github.com/aussiebroadwan/trackgate/pkg/httpx"
)

type MembershipHandler struct {
	Members *service.MembershipService
}

type assignmentJSON struct {
	SubjectID string    `json:"subject_id"`
	Role      string    `json:"role"`
	AddedBy   string    `json:"added_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// HandleListContributors serves GET /v1/projects/{id}/contributors.
func (h *MembershipHandler) HandleListContributors(w http.ResponseWriter, r *http.Request) {
	list, err := h.Members.Contributors(r.Context(), identity(r.Context()), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	out := make([]assignmentJSON, 0, len(list))
	for _, a := range list {
		out = append(out, assignmentJSON{
			SubjectID: a.SubjectID,
			Role:      string(a.Role),
			AddedBy:   a.AddedBy,
			CreatedAt: a.CreatedAt,
		})
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"contributors": out})
}

// HandleAddContributor serves PUT /v1/projects/{id}/contributors/{subject}.
func (h *MembershipHandler) HandleAddContributor(w http.ResponseWriter, r *http.Request) {
	err := h.Members.AddContributor(r.Context(), identity(r.Context()), r.PathValue("id"), r.PathValue("subject"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleRemoveContributor serves DELETE /v1/projects/{id}/contributors/{subject}.
func (h *MembershipHandler) HandleRemoveContributor(w http.ResponseWriter, r *http.Request) {
	err := h.Members.RemoveContributor(r.Context(), identity(r.Context()), r.PathValue("id"), r.PathValue("subject"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleSetStaff serves PUT /v1/subjects/{id}/staff with {"staff": bool}.
func (h *MembershipHandler) HandleSetStaff(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Staff *bool `json:"staff"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<12)).Decode(&req); err != nil || req.Staff == nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", `body must be {"staff": true|false}`)
		return
	}

	if err := h.Members.SetStaff(r.Context(), identity(r.Context()), r.PathValue("id"), *req.Staff); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleDisable serves POST /v1/subjects/{id}/disable.
func (h *MembershipHandler) HandleDisable(w http.ResponseWriter, r *http.Request) {
	if err := h.Members.DisableSubject(r.Context(), identity(r.Context()), r.PathValue("id")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
