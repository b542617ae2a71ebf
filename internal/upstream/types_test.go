package upstream

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventNotificationIDs(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want []int64
	}{
		{"delimited string", `{"notifications":"12, 34"}`, []int64{12, 34}},
		{"single number", `{"notificationId":7}`, []int64{7}},
		{"string with junk", `{"notifications":"5,x,9"}`, []int64{5, 9}},
		{"absent", `{}`, nil},
		{"notifications wins over notificationId", `{"notifications":"1","notificationId":2}`, []int64{1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var attrs EventAttributes
			require.NoError(t, json.Unmarshal([]byte(tc.raw), &attrs))
			ev := Event{Attributes: attrs}
			assert.Equal(t, tc.want, ev.NotificationIDs())
		})
	}
}

func TestEventServerUnixMilli(t *testing.T) {
	ev := Event{ServerTime: "2024-03-01T10:00:00Z"}
	assert.Equal(t, int64(1709287200000), ev.ServerUnixMilli())

	assert.Zero(t, Event{ServerTime: "not-a-time"}.ServerUnixMilli())
	assert.Zero(t, Event{}.ServerUnixMilli())
}

func TestMaintenanceDue(t *testing.T) {
	m := MaintenanceRecord{Attributes: map[string]any{"due": -10.0}}
	due, ok := m.Due()
	require.True(t, ok)
	assert.Equal(t, -10.0, due)

	m = MaintenanceRecord{Attributes: map[string]any{"due": "250"}}
	due, ok = m.Due()
	require.True(t, ok)
	assert.Equal(t, 250.0, due)

	_, ok = MaintenanceRecord{Attributes: map[string]any{}}.Due()
	assert.False(t, ok)

	_, ok = MaintenanceRecord{Attributes: map[string]any{"due": true}}.Due()
	assert.False(t, ok)
}

func TestNotificationLabel(t *testing.T) {
	assert.Equal(t, "Idle engine", Notification{ID: 1, Type: "alarm", Attributes: NotificationAttributes{Name: "Idle engine"}}.Label())
	assert.Equal(t, "idle", Notification{ID: 1, Type: "alarm", Attributes: NotificationAttributes{Alarms: "idle"}}.Label())
	assert.Equal(t, "alarm", Notification{ID: 1, Type: "alarm"}.Label())
	assert.Equal(t, "notif:9", Notification{ID: 9}.Label())
}

func TestNormalizeArray(t *testing.T) {
	assert.Equal(t, "[]", string(normalizeArray(nil)))
	assert.Equal(t, "[]", string(normalizeArray([]byte(" null "))))
	assert.Equal(t, `[1,2]`, string(normalizeArray([]byte(" [1,2] "))))
	assert.Equal(t, `[{"a":1}]`, string(normalizeArray([]byte(`{"a":1}`))))
}
