package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"fleetboard-backend/internal/alertstate"
	"fleetboard-backend/pkg/logging/logging"
)

// LegacyAlertsHandler serves the computed-attribute alert state. It needs
// the admin credential from config: without it every call is refused.
type LegacyAlertsHandler struct {
	Store *alertstate.LegacyStore
}

func NewLegacyAlertsHandler(store *alertstate.LegacyStore) *LegacyAlertsHandler {
	return &LegacyAlertsHandler{Store: store}
}

type legacyStateRequest struct {
	Company  string             `json:"company"`
	Username string             `json:"username"`
	IDs      []string           `json:"ids"`
	Patches  []alertstate.Patch `json:"patches"`
}

func (h *LegacyAlertsHandler) decode(w http.ResponseWriter, r *http.Request) (legacyStateRequest, bool) {
	var req legacyStateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return legacyStateRequest{}, false
	}
	if !h.Store.Configured() {
		writeError(w, http.StatusForbidden, "admin_required")
		return legacyStateRequest{}, false
	}
	if req.Company == "" {
		req.Company = CompanyFromUsername(req.Username)
	}
	return req, true
}

func (h *LegacyAlertsHandler) StateGet(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}

	states, err := h.Store.Get(r.Context(), req.Company, req.IDs)
	if err != nil {
		logging.L(r.Context()).Warn("legacy state get failed", zap.Error(err))
		writeErrorDetail(w, http.StatusInternalServerError, "state_get_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, struct {
		OK      bool           `json:"ok"`
		States  map[string]any `json:"states"`
		Company string         `json:"company"`
	}{true, states, req.Company})
}

func (h *LegacyAlertsHandler) StatePatch(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}

	count, err := h.Store.ApplyPatches(r.Context(), req.Company, req.Username, req.Patches)
	if err != nil {
		logging.L(r.Context()).Warn("legacy state patch failed", zap.Error(err))
		writeErrorDetail(w, http.StatusInternalServerError, "state_patch_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, struct {
		OK      bool   `json:"ok"`
		Company string `json:"company"`
		Count   int    `json:"count"`
	}{true, req.Company, count})
}
