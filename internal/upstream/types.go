package upstream

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Trip is one row of the upstream trip report. Numeric fields are pointers
// because the API omits them freely and a missing reading must not count as 0.
type Trip struct {
	DeviceID     int64    `json:"deviceId"`
	DeviceName   string   `json:"deviceName"`
	AverageSpeed *float64 `json:"averageSpeed"`
	MaxSpeed     *float64 `json:"maxSpeed"`
	SpentFuel    *float64 `json:"spentFuel"`
	Distance     *float64 `json:"distance"`   // meters
	DistanceKm   *float64 `json:"distanceKm"` // some installations report km directly
	StartTime    string   `json:"startTime"`
	EndTime      string   `json:"endTime"`
}

// Event is one row of the upstream event report.
type Event struct {
	ID         int64           `json:"id"`
	Type       string          `json:"type"`
	ServerTime string          `json:"serverTime"`
	GeofenceID int64           `json:"geofenceId"`
	Attributes EventAttributes `json:"attributes"`
}

type EventAttributes struct {
	Alarm          string          `json:"alarm"`
	Notifications  json.RawMessage `json:"notifications"`
	NotificationID json.RawMessage `json:"notificationId"`
}

// ServerUnixMilli parses the event's server timestamp; unparseable or
// missing timestamps yield 0, matching how report math treats them.
func (e Event) ServerUnixMilli() int64 {
	if e.ServerTime == "" {
		return 0
	}
	t, err := time.Parse(time.RFC3339, e.ServerTime)
	if err != nil {
		return 0
	}
	return t.UnixMilli()
}

// NotificationIDs extracts the notification references an event carries.
// The API sends them either as a single number or as a delimited string
// ("12, 34"), in one of two attribute keys.
func (e Event) NotificationIDs() []int64 {
	raw := e.Attributes.Notifications
	if len(raw) == 0 || string(raw) == "null" {
		raw = e.Attributes.NotificationID
	}
	return parseNotificationIDs(raw)
}

func parseNotificationIDs(raw json.RawMessage) []int64 {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}

	var asNumber float64
	if err := json.Unmarshal(raw, &asNumber); err == nil {
		return []int64{int64(asNumber)}
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err != nil {
		return nil
	}

	var ids []int64
	for _, part := range strings.FieldsFunc(asString, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	}) {
		if id, err := strconv.ParseInt(part, 10, 64); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}

// MaintenanceRecord is one upstream maintenance entry. Attributes carry
// installation-specific keys; "due" (remaining distance/time) is the one the
// reports read.
type MaintenanceRecord struct {
	ID         int64          `json:"id"`
	Name       string         `json:"name"`
	Type       string         `json:"type"`
	Attributes map[string]any `json:"attributes"`
}

// Due returns the numeric attributes.due, accepting numbers and numeric
// strings. ok is false when absent or not numeric.
func (m MaintenanceRecord) Due() (float64, bool) {
	v, present := m.Attributes["due"]
	if !present {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// Notification is an upstream notification definition, used to resolve
// notification ids referenced by events into display labels.
type Notification struct {
	ID         int64                  `json:"id"`
	Type       string                 `json:"type"`
	Attributes NotificationAttributes `json:"attributes"`
}

type NotificationAttributes struct {
	Name   string `json:"name"`
	Alarms string `json:"alarms"`
}

// Label picks the first human-usable name for the notification.
func (n Notification) Label() string {
	switch {
	case n.Attributes.Name != "":
		return n.Attributes.Name
	case n.Attributes.Alarms != "":
		return n.Attributes.Alarms
	case n.Type != "":
		return n.Type
	default:
		return fmt.Sprintf("notif:%d", n.ID)
	}
}

type Geofence struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// ComputedAttribute is the upstream generic key/value store entry, used as
// the legacy persistence fallback for alert workflow state.
type ComputedAttribute struct {
	ID          int64  `json:"id,omitempty"`
	Attribute   string `json:"attribute"`
	Description string `json:"description,omitempty"`
	Expression  string `json:"expression"`
}
