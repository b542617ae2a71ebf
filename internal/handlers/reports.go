package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"fleetboard-backend/internal/fleet"
	"fleetboard-backend/internal/upstream"
	"fleetboard-backend/pkg/logging/logging"
)

// ReportsHandler exposes the fleet aggregation reports.
type ReportsHandler struct {
	Service *fleet.Service
}

func NewReportsHandler(svc *fleet.Service) *ReportsHandler {
	return &ReportsHandler{Service: svc}
}

type reportRequest struct {
	Username  string  `json:"username"`
	Password  string  `json:"password"`
	DeviceIDs []int64 `json:"deviceIds"`
	From      string  `json:"from"`
	To        string  `json:"to"`
}

// decodeReportRequest applies the validation shared by every report: a
// credential, at least one device and a full time range. On failure the
// error response is already written.
func decodeReportRequest(w http.ResponseWriter, r *http.Request) (reportRequest, string, bool) {
	var req reportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return reportRequest{}, "", false
	}
	auth := upstream.SessionCookie(req.Password)
	switch {
	case auth == "":
		writeError(w, http.StatusBadRequest, "missing_credentials")
		return reportRequest{}, "", false
	case len(req.DeviceIDs) == 0:
		writeError(w, http.StatusBadRequest, "no_devices")
		return reportRequest{}, "", false
	case req.From == "" || req.To == "":
		writeError(w, http.StatusBadRequest, "missing_range")
		return reportRequest{}, "", false
	}
	return req, auth, true
}

func reportFailure(w http.ResponseWriter, r *http.Request, code string, err error) {
	logging.L(r.Context()).Warn("report failed", zap.String("report", code), zap.Error(err))
	writeErrorDetail(w, http.StatusInternalServerError, code, err.Error())
}

func (h *ReportsHandler) AverageSpeed(w http.ResponseWriter, r *http.Request) {
	req, auth, ok := decodeReportRequest(w, r)
	if !ok {
		return
	}
	res, err := h.Service.AverageSpeed(r.Context(), auth, req.DeviceIDs, req.From, req.To)
	if err != nil {
		reportFailure(w, r, "avg_speed_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		OK bool `json:"ok"`
		fleet.AverageSpeedResult
	}{true, res})
}

func (h *ReportsHandler) MaxSpeed(w http.ResponseWriter, r *http.Request) {
	req, auth, ok := decodeReportRequest(w, r)
	if !ok {
		return
	}
	res, err := h.Service.MaxSpeed(r.Context(), auth, req.DeviceIDs, req.From, req.To)
	if err != nil {
		reportFailure(w, r, "max_speed_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		OK bool `json:"ok"`
		fleet.MaxSpeedResult
	}{true, res})
}

func (h *ReportsHandler) Fuel(w http.ResponseWriter, r *http.Request) {
	req, auth, ok := decodeReportRequest(w, r)
	if !ok {
		return
	}
	res, err := h.Service.Fuel(r.Context(), auth, req.DeviceIDs, req.From, req.To)
	if err != nil {
		reportFailure(w, r, "avg_fuel_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		OK bool `json:"ok"`
		fleet.FuelResult
	}{true, res})
}

func (h *ReportsHandler) ActiveDevices(w http.ResponseWriter, r *http.Request) {
	req, auth, ok := decodeReportRequest(w, r)
	if !ok {
		return
	}
	res, err := h.Service.ActiveDevices(r.Context(), auth, req.DeviceIDs, req.From, req.To)
	if err != nil {
		reportFailure(w, r, "active_devices_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		OK bool `json:"ok"`
		fleet.ActiveDevicesResult
	}{true, res})
}

func (h *ReportsHandler) TotalDistance(w http.ResponseWriter, r *http.Request) {
	req, auth, ok := decodeReportRequest(w, r)
	if !ok {
		return
	}
	res, err := h.Service.TotalDistance(r.Context(), auth, req.DeviceIDs, req.From, req.To)
	if err != nil {
		reportFailure(w, r, "total_distance_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		OK bool `json:"ok"`
		fleet.TotalDistanceResult
	}{true, res})
}

func (h *ReportsHandler) MaintenanceEfficiency(w http.ResponseWriter, r *http.Request) {
	req, auth, ok := decodeReportRequest(w, r)
	if !ok {
		return
	}
	res, err := h.Service.MaintenanceEfficiency(r.Context(), auth, req.DeviceIDs)
	if err != nil {
		reportFailure(w, r, "maint_eff_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		OK bool `json:"ok"`
		fleet.MaintenanceEfficiencyResult
	}{true, res})
}

func (h *ReportsHandler) VehicleAlerts(w http.ResponseWriter, r *http.Request) {
	req, auth, ok := decodeReportRequest(w, r)
	if !ok {
		return
	}
	res, err := h.Service.VehicleAlerts(r.Context(), auth, req.DeviceIDs, req.From, req.To)
	if err != nil {
		reportFailure(w, r, "vehicle_alerts_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		OK bool `json:"ok"`
		fleet.VehicleAlertsResult
	}{true, res})
}
