package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"fleetboard-backend/internal/fleet"
	"fleetboard-backend/internal/upstream"
	"fleetboard-backend/pkg/logging/logging"
)

// SessionHandler covers login and the two critical metadata endpoints.
type SessionHandler struct {
	Upstream *upstream.Client
	Fetchers *fleet.Fetchers
	TestPath string
}

func NewSessionHandler(client *upstream.Client, fetchers *fleet.Fetchers, testPath string) *SessionHandler {
	return &SessionHandler{Upstream: client, Fetchers: fetchers, TestPath: testPath}
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func decodeCredentials(w http.ResponseWriter, r *http.Request) (credentials, string, bool) {
	var creds credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return credentials{}, "", false
	}
	auth := upstream.SessionCookie(creds.Password)
	if auth == "" {
		writeError(w, http.StatusBadRequest, "missing_credentials")
		return credentials{}, "", false
	}
	return creds, auth, true
}

// Login validates a session token by probing the telemetry API with it.
func (h *SessionHandler) Login(w http.ResponseWriter, r *http.Request) {
	logger := logging.L(r.Context())

	_, auth, ok := decodeCredentials(w, r)
	if !ok {
		return
	}

	status, body, err := h.Upstream.Probe(r.Context(), auth, h.TestPath)
	if err != nil {
		logger.Warn("login probe failed", zap.Error(err))
		writeErrorDetail(w, http.StatusInternalServerError, "network_error", err.Error())
		return
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		writeJSON(w, status, errorResponse{Error: "invalid_credentials", Status: status})
		return
	}
	if status >= 400 {
		writeJSON(w, status, errorResponse{Error: "upstream_error", Status: status, Detail: rawDetail(body)})
		return
	}

	writeJSON(w, http.StatusOK, struct {
		OK     bool `json:"ok"`
		Status int  `json:"status"`
	}{true, status})
}

// Devices returns the caller's device list. Devices are critical: an
// upstream failure fails the request instead of degrading.
func (h *SessionHandler) Devices(w http.ResponseWriter, r *http.Request) {
	_, auth, ok := decodeCredentials(w, r)
	if !ok {
		return
	}

	data, err := h.Fetchers.Devices(r.Context(), auth)
	if err != nil {
		logging.L(r.Context()).Warn("devices fetch failed", zap.Error(err))
		writeErrorDetail(w, http.StatusInternalServerError, "devices_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, struct {
		OK      bool            `json:"ok"`
		Devices json.RawMessage `json:"devices"`
	}{true, data})
}

func (h *SessionHandler) Groups(w http.ResponseWriter, r *http.Request) {
	_, auth, ok := decodeCredentials(w, r)
	if !ok {
		return
	}

	data, err := h.Fetchers.Groups(r.Context(), auth)
	if err != nil {
		logging.L(r.Context()).Warn("groups fetch failed", zap.Error(err))
		writeErrorDetail(w, http.StatusInternalServerError, "groups_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, struct {
		OK     bool            `json:"ok"`
		Groups json.RawMessage `json:"groups"`
	}{true, data})
}
