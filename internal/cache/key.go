package cache

import (
	"strings"
	"time"
)

// Key joins the ordered parts of a cache key with "|".
// Two keys are equal iff the joined tuples are equal; order matters,
// so callers must always pass parts in the same position
// (resource name first, then auth, then resource parameters).
func Key(parts ...string) string {
	return strings.Join(parts, "|")
}

// Resource returns the first tuple element of a key (the resource name),
// used for logging and metrics labels.
func Resource(key string) string {
	if i := strings.IndexByte(key, '|'); i >= 0 {
		return key[:i]
	}
	return key
}

// TTLPolicy maps a resource class to how long a cached answer stays fresh.
// TTLs are fixed per class, never per key.
type TTLPolicy struct {
	Trips       time.Duration
	Events      time.Duration
	Maintenance time.Duration
	Metadata    time.Duration // devices, groups, notifications, geofences
}

func DefaultTTLPolicy() TTLPolicy {
	return TTLPolicy{
		Trips:       60 * time.Second,
		Events:      45 * time.Second,
		Maintenance: 120 * time.Second,
		Metadata:    5 * time.Minute,
	}
}
