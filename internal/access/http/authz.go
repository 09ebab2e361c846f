package http

import (
	"encoding/json"
	"net/http"

	"github.com/aussiebroadwan/trackgate/internal/access/domain"
	"github.com/aussiebroadwan/trackgate/internal/access/service"
	"github.com/aussiebroadwan/trackgate/pkg/httpx"
)

// DecisionHeader carries the id of the decision behind a response, allowed
// or not, so callers can correlate it with the audit log.
const DecisionHeader = "X-Decision-ID"

// CheckHandler serves POST /v1/authz/check for the authenticated caller.
type CheckHandler struct {
	Engine *service.Engine
}

type checkRequest struct {
	ResourceID string        `json:"resource_id"`
	Action     domain.Action `json:"action"`
}

type checkResponse struct {
	Allowed      bool                `json:"allowed"`
	DecisionID   string              `json:"decision_id"`
	ResourceType domain.ResourceType `json:"resource_type,omitempty"`
	Role         domain.Role         `json:"role"`
}

func (h *CheckHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}

	d, err := h.Engine.Authorize(r.Context(), identity(r.Context()), req.ResourceID, req.Action)
	w.Header().Set(DecisionHeader, d.ID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, checkResponse{
		Allowed:      d.Allowed(),
		DecisionID:   d.ID,
		ResourceType: d.ResourceType,
		Role:         d.Role,
	})
}
