package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/aussiebroadwan/trackgate/internal/access/domain"
	"github.com/aussiebroadwan/trackgate/internal/access/service"
	"github.com/aussiebroadwan/trackgate/pkg/httpx"
)

type ResourcesHandler struct {
	Members *service.MembershipService
}

type resourceJSON struct {
	ID        string              `json:"id"`
	Type      domain.ResourceType `json:"type"`
	OwnerID   string              `json:"owner_id"`
	ParentID  string              `json:"parent_id,omitempty"`
	CreatedAt time.Time           `json:"created_at"`
}

func toResourceJSON(r domain.Resource) resourceJSON {
	return resourceJSON{
		ID:        r.ID,
		Type:      r.Type,
		OwnerID:   r.OwnerID,
		ParentID:  r.ParentID,
		CreatedAt: r.CreatedAt,
	}
}

type createResourceRequest struct {
	Type     domain.ResourceType `json:"type"`
	ParentID string              `json:"parent_id"`
}

// HandleList serves GET /v1/resources?type=issue&parent_id=...
func (h *ResourcesHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	typ := domain.ResourceType(q.Get("type"))
	if typ == "" {
		typ = domain.ResourceProject
	}

	list, err := h.Members.ListVisible(r.Context(), identity(r.Context()), typ, q.Get("parent_id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	out := make([]resourceJSON, 0, len(list))
	for _, res := range list {
		out = append(out, toResourceJSON(res))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"resources": out})
}

// HandleCreate serves POST /v1/resources.
func (h *ResourcesHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req createResourceRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}

	res, err := h.Members.RegisterResource(r.Context(), identity(r.Context()), req.Type, req.ParentID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toResourceJSON(res))
}

// HandleDelete serves DELETE /v1/resources/{id}.
func (h *ResourcesHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.Members.DeleteResource(r.Context(), identity(r.Context()), r.PathValue("id")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
