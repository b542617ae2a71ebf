package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"fleetboard-backend/internal/alertstore"
	"fleetboard-backend/pkg/logging/logging"
)

// DBAlertsHandler serves the PostgreSQL alert workflow. Store may be nil
// when no database is configured; every endpoint then answers 503.
type DBAlertsHandler struct {
	Store *alertstore.Store
}

func NewDBAlertsHandler(store *alertstore.Store) *DBAlertsHandler {
	return &DBAlertsHandler{Store: store}
}

func (h *DBAlertsHandler) available(w http.ResponseWriter) bool {
	if h.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "db_unavailable")
		return false
	}
	return true
}

type dbStateRequest struct {
	Company  string                  `json:"company"`
	Username string                  `json:"username"`
	IDs      []any                   `json:"ids"`
	Type     string                  `json:"type"`
	Patches  []alertstore.StatePatch `json:"patches"`
}

// normIDs stringifies alert ids, which clients send as strings or numbers.
func normIDs(raw []any) []string {
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		switch id := v.(type) {
		case string:
			if id != "" {
				out = append(out, id)
			}
		case float64:
			out = append(out, strconv.FormatFloat(id, 'f', -1, 64))
		}
	}
	return out
}

func (req *dbStateRequest) company() string {
	if req.Company != "" {
		return strings.ToLower(req.Company)
	}
	return CompanyFromUsername(req.Username)
}

func (h *DBAlertsHandler) decode(w http.ResponseWriter, r *http.Request) (dbStateRequest, bool) {
	if !h.available(w) {
		return dbStateRequest{}, false
	}
	var req dbStateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return dbStateRequest{}, false
	}
	return req, true
}

func (h *DBAlertsHandler) StatePatch(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	if req.Company == "" {
		writeError(w, http.StatusBadRequest, "missing_company")
		return
	}

	count, err := h.Store.PatchStates(r.Context(), strings.ToLower(req.Company), req.Username, req.Patches)
	if err != nil {
		logging.L(r.Context()).Error("db state patch failed", zap.Error(err))
		writeErrorDetail(w, http.StatusInternalServerError, "db_patch_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, struct {
		OK      bool   `json:"ok"`
		Company string `json:"company"`
		Count   int    `json:"count"`
	}{true, req.Company, count})
}

func (h *DBAlertsHandler) StateGet(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	if req.Company == "" {
		writeError(w, http.StatusBadRequest, "missing_company")
		return
	}

	states, err := h.Store.GetStates(r.Context(), strings.ToLower(req.Company), normIDs(req.IDs))
	if err != nil {
		logging.L(r.Context()).Error("db state get failed", zap.Error(err))
		writeErrorDetail(w, http.StatusInternalServerError, "db_get_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, struct {
		OK      bool                              `json:"ok"`
		States  map[string]*alertstore.AlertState `json:"states"`
		Company string                            `json:"company"`
	}{true, states, req.Company})
}

func (h *DBAlertsHandler) markStatus(w http.ResponseWriter, r *http.Request, status string) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	company := req.company()
	ids := normIDs(req.IDs)
	if len(ids) == 0 {
		writeError(w, http.StatusBadRequest, "no_ids")
		return
	}

	var err error
	if status == "in_progress" {
		err = h.Store.MarkInProgress(r.Context(), company, req.Username, ids, req.Type)
	} else {
		err = h.Store.MarkResolved(r.Context(), company, req.Username, ids, req.Type)
	}
	if err != nil {
		logging.L(r.Context()).Error("db status update failed",
			zap.String("status", status), zap.Error(err))
		writeErrorDetail(w, http.StatusInternalServerError, "db_update_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, struct {
		OK      bool   `json:"ok"`
		Company string `json:"company"`
		Count   int    `json:"count"`
		Status  string `json:"status"`
	}{true, company, len(ids), status})
}

func (h *DBAlertsHandler) MarkInProgress(w http.ResponseWriter, r *http.Request) {
	h.markStatus(w, r, "in_progress")
}

func (h *DBAlertsHandler) MarkResolved(w http.ResponseWriter, r *http.Request) {
	h.markStatus(w, r, "resolved")
}

func (h *DBAlertsHandler) listByStatus(w http.ResponseWriter, r *http.Request, statuses []string) {
	if !h.available(w) {
		return
	}

	q := r.URL.Query()
	company := strings.ToLower(q.Get("company"))
	if company == "" {
		writeError(w, http.StatusBadRequest, "missing_company")
		return
	}

	filter := alertstore.ListFilter{Query: q.Get("q")}
	if t, err := time.Parse(time.RFC3339, q.Get("since")); err == nil {
		filter.Since = &t
	}
	if t, err := time.Parse(time.RFC3339, q.Get("until")); err == nil {
		filter.Until = &t
	}
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	filter.Offset, _ = strconv.Atoi(q.Get("offset"))

	rows, err := h.Store.ListByStatus(r.Context(), company, statuses, filter)
	if err != nil {
		logging.L(r.Context()).Error("db listing failed", zap.Error(err))
		writeErrorDetail(w, http.StatusInternalServerError, "db_list_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, struct {
		OK      bool                  `json:"ok"`
		Company string                `json:"company"`
		Rows    []alertstore.StateRow `json:"rows"`
		Count   int                   `json:"count"`
	}{true, company, rows, len(rows)})
}

func (h *DBAlertsHandler) ListInProgress(w http.ResponseWriter, r *http.Request) {
	h.listByStatus(w, r, []string{"in_progress"})
}

// ListResolved also accepts the legacy 'done' status still present in
// older rows.
func (h *DBAlertsHandler) ListResolved(w http.ResponseWriter, r *http.Request) {
	h.listByStatus(w, r, []string{"resolved", "done"})
}
