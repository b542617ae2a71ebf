package fleet

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"fleetboard-backend/internal/pool"
	"fleetboard-backend/internal/upstream"
)

// Vehicle operating states inferred from the event stream.
const (
	StateEnService   = "en_service"
	StateArret       = "arret"
	StateIdle        = "idle"
	StateHorsService = "hors_service"
)

func stateLabel(state string) string {
	switch state {
	case StateEnService:
		return "En service"
	case StateArret:
		return "Arrêt"
	case StateIdle:
		return "Idle"
	default:
		return "Hors service"
	}
}

type VehicleAlertRow struct {
	DeviceID      int64    `json:"deviceId"`
	Alerts        []string `json:"alerts"`
	Geofences     []string `json:"geofences"`
	AlertCount    int      `json:"alertCount"`
	GeofenceCount int      `json:"geofenceCount"`
	State         string   `json:"state"`
	StateLabel    string   `json:"stateLabel"`
}

type VehicleAlertsResult struct {
	Rows  []VehicleAlertRow `json:"rows"`
	Count int               `json:"count"`
}

// VehicleAlerts derives, per device, the set of alert labels raised in the
// window, the geofences touched, an occurrence count and the vehicle's
// current operating state. Notification and geofence id maps are fetched
// once for the whole batch, then each device's events are scanned in
// server-timestamp order.
func (s *Service) VehicleAlerts(ctx context.Context, auth string, deviceIDs []int64, from, to string) (VehicleAlertsResult, error) {
	notifs, err := s.Fetchers.Notifications(ctx, auth)
	if err != nil {
		return VehicleAlertsResult{}, err
	}
	geofences, err := s.Fetchers.Geofences(ctx, auth)
	if err != nil {
		return VehicleAlertsResult{}, err
	}

	notifLabels := make(map[int64]string, len(notifs))
	for _, n := range notifs {
		notifLabels[n.ID] = n.Label()
	}
	geofenceNames := make(map[int64]string, len(geofences))
	for _, g := range geofences {
		name := g.Name
		if name == "" {
			name = fmt.Sprintf("geofence:%d", g.ID)
		}
		geofenceNames[g.ID] = name
	}

	lists, err := pool.Run(ctx, deviceIDs, s.Concurrency, func(ctx context.Context, id int64, _ int) ([]upstream.Event, error) {
		return s.Fetchers.Events(ctx, auth, id, from, to)
	})
	if err != nil {
		return VehicleAlertsResult{}, err
	}

	rows := make([]VehicleAlertRow, 0, len(deviceIDs))
	for i, events := range lists {
		rows = append(rows, deriveVehicleAlertRow(deviceIDs[i], events, notifLabels, geofenceNames))
	}
	return VehicleAlertsResult{Rows: rows, Count: len(rows)}, nil
}

func deriveVehicleAlertRow(deviceID int64, events []upstream.Event, notifLabels map[int64]string, geofenceNames map[int64]string) VehicleAlertRow {
	sorted := make([]upstream.Event, len(events))
	copy(sorted, events)
	// stable sort on serverTime only; same-timestamp events keep upstream
	// order, which the >= state tie-break below depends on
	sort.SliceStable(sorted, func(a, b int) bool {
		return sorted[a].ServerUnixMilli() < sorted[b].ServerUnixMilli()
	})

	alertSet := make(map[string]struct{})
	geoSet := make(map[string]struct{})
	occurrences := 0
	lastState := ""
	var lastTs int64

	for _, ev := range sorted {
		if ev.Type != "" && ev.Type != "alarm" {
			alertSet[ev.Type] = struct{}{}
			occurrences++
		}
		if ev.Type == "alarm" && ev.Attributes.Alarm != "" {
			alertSet[ev.Attributes.Alarm] = struct{}{}
		}

		ids := ev.NotificationIDs()
		for _, nid := range ids {
			label, ok := notifLabels[nid]
			if !ok {
				label = fmt.Sprintf("notif:%d", nid)
			}
			alertSet[label] = struct{}{}
		}
		if ev.Type == "alarm" {
			// alarms count one occurrence per resolved notification, or one
			// when the alarm carries none
			if len(ids) > 0 {
				occurrences += len(ids)
			} else {
				occurrences++
			}
		}

		if ev.GeofenceID > 0 {
			name, ok := geofenceNames[ev.GeofenceID]
			if !ok {
				name = fmt.Sprintf("geofence:%d", ev.GeofenceID)
			}
			geoSet[name] = struct{}{}
		}

		if st := inferStateFromEvent(ev, notifLabels); st != "" {
			if ts := ev.ServerUnixMilli(); ts >= lastTs {
				lastState = st
				lastTs = ts
			}
		}
	}

	if lastState == "" {
		if len(sorted) > 0 {
			lastState = StateEnService
		} else {
			lastState = StateHorsService
		}
	}

	return VehicleAlertRow{
		DeviceID:      deviceID,
		Alerts:        sortedKeys(alertSet),
		Geofences:     sortedKeys(geoSet),
		AlertCount:    occurrences,
		GeofenceCount: len(geoSet),
		State:         lastState,
		StateLabel:    stateLabel(lastState),
	}
}

// inferStateFromEvent maps one event to an operating state, or "" when the
// event says nothing about state. Ignition events answer directly; alarm
// sub-types and resolved notification labels are matched on text.
func inferStateFromEvent(ev upstream.Event, notifLabels map[int64]string) string {
	t := strings.ToLower(ev.Type)
	switch t {
	case "ignitionon":
		return StateEnService
	case "ignitionoff":
		return StateArret
	case "alarm":
		if strings.Contains(strings.ToLower(ev.Attributes.Alarm), "idle") {
			return StateIdle
		}
	}

	for _, id := range ev.NotificationIDs() {
		label := strings.ToLower(notifLabels[id])
		if strings.Contains(label, "idle") {
			return StateIdle
		}
		if strings.Contains(label, "engineoff") || strings.Contains(label, "engine off") ||
			strings.Contains(label, "arrêt") || strings.Contains(label, "arret") {
			return StateArret
		}
	}
	return ""
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
