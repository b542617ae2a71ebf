package fleet

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"fleetboard-backend/internal/cache"
	"fleetboard-backend/internal/upstream"
)

func newAlertsService(t *testing.T, eventsByDevice map[string]string, notifications, geofences string) *Service {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/reports/events":
			body, ok := eventsByDevice[r.URL.Query().Get("deviceId")]
			if !ok {
				body = "[]"
			}
			fmt.Fprint(w, body)
		case "/notifications":
			fmt.Fprint(w, notifications)
		case "/geofences":
			fmt.Fprint(w, geofences)
		default:
			fmt.Fprint(w, "[]")
		}
	}))
	t.Cleanup(srv.Close)

	client, err := upstream.NewClient(upstream.Config{BaseURL: srv.URL}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	co := cache.NewCoalescer(nil, zap.NewNop())
	return NewService(NewFetchers(client, co, cache.DefaultTTLPolicy()), 4)
}

func TestVehicleAlertsStateFromIgnition(t *testing.T) {
	svc := newAlertsService(t, map[string]string{
		"1": `[
			{"type":"ignitionOn","serverTime":"2024-03-01T08:00:00Z"},
			{"type":"ignitionOff","serverTime":"2024-03-01T12:00:00Z"}
		]`,
	}, "[]", "[]")

	res, err := svc.VehicleAlerts(context.Background(), "tok", []int64{1}, "a", "b")
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, StateArret, res.Rows[0].State)
	assert.Equal(t, "Arrêt", res.Rows[0].StateLabel)
}

func TestVehicleAlertsIgnitionOrderIndependent(t *testing.T) {
	// events arrive newest first; the later ignitionOff must still win
	svc := newAlertsService(t, map[string]string{
		"1": `[
			{"type":"ignitionOff","serverTime":"2024-03-01T12:00:00Z"},
			{"type":"ignitionOn","serverTime":"2024-03-01T08:00:00Z"}
		]`,
	}, "[]", "[]")

	res, err := svc.VehicleAlerts(context.Background(), "tok", []int64{1}, "a", "b")
	require.NoError(t, err)
	assert.Equal(t, StateArret, res.Rows[0].State)
}

func TestVehicleAlertsEqualTimestampLastWins(t *testing.T) {
	// with identical serverTime the event processed last decides the state
	svc := newAlertsService(t, map[string]string{
		"1": `[
			{"type":"ignitionOn","serverTime":"2024-03-01T08:00:00Z"},
			{"type":"ignitionOff","serverTime":"2024-03-01T08:00:00Z"}
		]`,
		"2": `[
			{"type":"ignitionOff","serverTime":"2024-03-01T08:00:00Z"},
			{"type":"ignitionOn","serverTime":"2024-03-01T08:00:00Z"}
		]`,
	}, "[]", "[]")

	res, err := svc.VehicleAlerts(context.Background(), "tok", []int64{1, 2}, "a", "b")
	require.NoError(t, err)
	require.Len(t, res.Rows, 2)

	byDevice := map[int64]VehicleAlertRow{}
	for _, row := range res.Rows {
		byDevice[row.DeviceID] = row
	}
	assert.Equal(t, StateArret, byDevice[1].State)
	assert.Equal(t, StateEnService, byDevice[2].State)
}

func TestVehicleAlertsNoEvents(t *testing.T) {
	svc := newAlertsService(t, nil, "[]", "[]")

	res, err := svc.VehicleAlerts(context.Background(), "tok", []int64{1}, "a", "b")
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, StateHorsService, res.Rows[0].State)
	assert.Equal(t, "Hors service", res.Rows[0].StateLabel)
	assert.Empty(t, res.Rows[0].Alerts)
	assert.Zero(t, res.Rows[0].AlertCount)
}

func TestVehicleAlertsDefaultsToEnService(t *testing.T) {
	svc := newAlertsService(t, map[string]string{
		"1": `[{"type":"deviceMoving","serverTime":"2024-03-01T08:00:00Z"}]`,
	}, "[]", "[]")

	res, err := svc.VehicleAlerts(context.Background(), "tok", []int64{1}, "a", "b")
	require.NoError(t, err)
	assert.Equal(t, StateEnService, res.Rows[0].State)
	assert.Equal(t, "En service", res.Rows[0].StateLabel)
}

func TestVehicleAlertsIdleAlarm(t *testing.T) {
	svc := newAlertsService(t, map[string]string{
		"1": `[{"type":"alarm","serverTime":"2024-03-01T08:00:00Z","attributes":{"alarm":"excessiveIdle"}}]`,
	}, "[]", "[]")

	res, err := svc.VehicleAlerts(context.Background(), "tok", []int64{1}, "a", "b")
	require.NoError(t, err)
	assert.Equal(t, StateIdle, res.Rows[0].State)
	assert.Equal(t, "Idle", res.Rows[0].StateLabel)
	assert.Contains(t, res.Rows[0].Alerts, "excessiveIdle")
}

func TestVehicleAlertsNotificationLabels(t *testing.T) {
	svc := newAlertsService(t, map[string]string{
		"1": `[
			{"type":"alarm","serverTime":"2024-03-01T08:00:00Z","attributes":{"alarm":"sos","notifications":"11, 99"}}
		]`,
	}, `[{"id":11,"attributes":{"name":"Speeding"}}]`, "[]")

	res, err := svc.VehicleAlerts(context.Background(), "tok", []int64{1}, "a", "b")
	require.NoError(t, err)
	row := res.Rows[0]
	assert.Contains(t, row.Alerts, "Speeding")
	assert.Contains(t, row.Alerts, "notif:99")
	assert.Contains(t, row.Alerts, "sos")
	// one occurrence per resolved notification
	assert.Equal(t, 2, row.AlertCount)
}

func TestVehicleAlertsGeofences(t *testing.T) {
	svc := newAlertsService(t, map[string]string{
		"1": `[
			{"type":"geofenceEnter","serverTime":"2024-03-01T08:00:00Z","geofenceId":5},
			{"type":"geofenceExit","serverTime":"2024-03-01T09:00:00Z","geofenceId":5},
			{"type":"geofenceEnter","serverTime":"2024-03-01T10:00:00Z","geofenceId":8}
		]`,
	}, "[]", `[{"id":5,"name":"Depot"}]`)

	res, err := svc.VehicleAlerts(context.Background(), "tok", []int64{1}, "a", "b")
	require.NoError(t, err)
	row := res.Rows[0]
	assert.Equal(t, []string{"Depot", "geofence:8"}, row.Geofences)
	assert.Equal(t, 2, row.GeofenceCount)
	assert.Equal(t, 3, row.AlertCount)
}

func TestInferStateFromNotificationLabel(t *testing.T) {
	labels := map[int64]string{7: "Engine Off alert", 8: "Idle too long"}

	ev := upstream.Event{Type: "alarm"}
	assert.Equal(t, "", inferStateFromEvent(ev, labels))

	ev = upstream.Event{Type: "alarm", Attributes: upstream.EventAttributes{Notifications: []byte("8")}}
	assert.Equal(t, StateIdle, inferStateFromEvent(ev, labels))

	ev = upstream.Event{Type: "alarm", Attributes: upstream.EventAttributes{Notifications: []byte("7")}}
	assert.Equal(t, StateArret, inferStateFromEvent(ev, labels))
}
