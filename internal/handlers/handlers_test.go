package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"fleetboard-backend/internal/alertstate"
	"fleetboard-backend/internal/cache"
	"fleetboard-backend/internal/fleet"
	"fleetboard-backend/internal/upstream"
)

func postJSON(t *testing.T, h http.HandlerFunc, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func TestReportValidation(t *testing.T) {
	h := NewReportsHandler(nil)

	cases := []struct {
		name string
		body string
		code string
	}{
		{"bad json", `{`, "invalid_json"},
		{"no password", `{"username":"u","deviceIds":[1],"from":"a","to":"b"}`, "missing_credentials"},
		{"no devices", `{"username":"u","password":"p","deviceIds":[],"from":"a","to":"b"}`, "no_devices"},
		{"no range", `{"username":"u","password":"p","deviceIds":[1],"to":"b"}`, "missing_range"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			rec := postJSON(t, h.AverageSpeed, c.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), c.code)
			assert.Contains(t, rec.Body.String(), `"ok":false`)
		})
	}
}

func TestLoginStatuses(t *testing.T) {
	upstreamStatus := http.StatusOK
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(upstreamStatus)
		w.Write([]byte(`{"detail":"x"}`))
	}))
	defer srv.Close()

	client, err := upstream.NewClient(upstream.Config{BaseURL: srv.URL}, zap.NewNop())
	require.NoError(t, err)
	defer client.Close()

	co := cache.NewCoalescer(nil, zap.NewNop())
	fetchers := fleet.NewFetchers(client, co, cache.DefaultTTLPolicy())
	h := NewSessionHandler(client, fetchers, "/devices")

	rec := postJSON(t, h.Login, `{"username":"u","password":"tok"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok":true`)

	upstreamStatus = http.StatusUnauthorized
	rec = postJSON(t, h.Login, `{"username":"u","password":"bad"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_credentials")

	upstreamStatus = http.StatusNotFound
	rec = postJSON(t, h.Login, `{"username":"u","password":"tok"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "upstream_error")

	rec = postJSON(t, h.Login, `{"username":"u"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "missing_credentials")
}

func TestDevicesWrapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"id":1,"name":"truck"}]`))
	}))
	defer srv.Close()

	client, err := upstream.NewClient(upstream.Config{BaseURL: srv.URL}, zap.NewNop())
	require.NoError(t, err)
	defer client.Close()

	co := cache.NewCoalescer(nil, zap.NewNop())
	h := NewSessionHandler(client, fleet.NewFetchers(client, co, cache.DefaultTTLPolicy()), "/devices")

	rec := postJSON(t, h.Devices, `{"username":"u","password":"tok"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true,"devices":[{"id":1,"name":"truck"}]}`, rec.Body.String())
}

func TestLegacyAlertsRequireAdmin(t *testing.T) {
	h := NewLegacyAlertsHandler(alertstate.NewLegacyStore(nil, ""))

	rec := postJSON(t, h.StateGet, `{"username":"u@x"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "admin_required")

	rec = postJSON(t, h.StatePatch, `{"company":"acme","patches":[]}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestDBAlertsUnavailable(t *testing.T) {
	h := NewDBAlertsHandler(nil)

	rec := postJSON(t, h.StatePatch, `{"company":"acme"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "db_unavailable")

	req := httptest.NewRequest(http.MethodGet, "/?company=acme", nil)
	rec = httptest.NewRecorder()
	h.ListInProgress(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
