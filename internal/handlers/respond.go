package handlers

import (
	"encoding/json"
	"net/http"
)

// errorResponse is the failure envelope shared by every endpoint. Status
// carries the upstream status when the failure was remote; Detail carries
// the upstream body or the error message.
type errorResponse struct {
	OK     bool            `json:"ok"`
	Error  string          `json:"error"`
	Status int             `json:"status,omitempty"`
	Detail json.RawMessage `json:"detail,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, errorResponse{Error: code})
}

func writeErrorDetail(w http.ResponseWriter, status int, code, detail string) {
	writeJSON(w, status, errorResponse{Error: code, Detail: rawDetail([]byte(detail))})
}

// rawDetail embeds a byte payload as JSON, quoting it when it is not valid
// JSON on its own.
func rawDetail(b []byte) json.RawMessage {
	if len(b) == 0 {
		return nil
	}
	if json.Valid(b) {
		return json.RawMessage(b)
	}
	quoted, _ := json.Marshal(string(b))
	return quoted
}
