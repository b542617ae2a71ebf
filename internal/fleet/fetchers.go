// Package fleet composes the coalescing cache, the bounded worker pool and
// the telemetry client into per-resource fetchers and fleet-wide report
// aggregations.
package fleet

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"fleetboard-backend/internal/cache"
	"fleetboard-backend/internal/upstream"
	"fleetboard-backend/pkg/logging/logging"
)

// criticality decides what a fetch failure means for the caller.
// This is the single place the resilience policy lives: devices and groups
// are critical (nothing works without them), everything else is enrichment
// where partial data beats total failure.
type criticality int

const (
	critical criticality = iota
	bestEffort
)

// Fetchers wraps every upstream resource with the coalescing cache and its
// resource-class TTL.
type Fetchers struct {
	Upstream *upstream.Client
	Cache    *cache.Coalescer
	TTL      cache.TTLPolicy
}

func NewFetchers(client *upstream.Client, c *cache.Coalescer, ttl cache.TTLPolicy) *Fetchers {
	return &Fetchers{Upstream: client, Cache: c, TTL: ttl}
}

// fetch memoizes one upstream call under key. For critical resources an
// upstream status >= 400 fails the producer. For best-effort resources a
// status >= 400 yields an empty array that is cached like a real empty
// answer (matching the upstream's own semantics for no data), while a
// transport error is never cached and degrades to an empty array here at
// the fetcher boundary.
func (f *Fetchers) fetch(ctx context.Context, resource, key string, ttl time.Duration, crit criticality, call func(context.Context) ([]byte, int, error)) ([]byte, error) {
	data, err := f.Cache.Memoize(ctx, key, ttl, func(ctx context.Context) ([]byte, error) {
		body, status, err := call(ctx)
		if err != nil {
			return nil, err
		}
		if status >= 400 {
			if crit == critical {
				return nil, fmt.Errorf("%s: upstream status %d", resource, status)
			}
			return []byte("[]"), nil
		}
		return body, nil
	})
	if err != nil {
		if crit == bestEffort {
			logging.L(ctx).Warn("best-effort fetch degraded to empty",
				zap.String("resource", resource),
				zap.Error(err),
			)
			return []byte("[]"), nil
		}
		return nil, err
	}
	return data, nil
}

// Devices returns the raw device list. Critical: callers cannot proceed
// without it.
func (f *Fetchers) Devices(ctx context.Context, auth string) (json.RawMessage, error) {
	key := cache.Key("devices", auth)
	return f.fetch(ctx, "devices", key, f.TTL.Metadata, critical, func(ctx context.Context) ([]byte, int, error) {
		return f.Upstream.Devices(ctx, auth)
	})
}

// Groups returns the raw group list. Critical.
func (f *Fetchers) Groups(ctx context.Context, auth string) (json.RawMessage, error) {
	key := cache.Key("groups", auth)
	return f.fetch(ctx, "groups", key, f.TTL.Metadata, critical, func(ctx context.Context) ([]byte, int, error) {
		return f.Upstream.Groups(ctx, auth)
	})
}

// Notifications returns the notification definitions. Best-effort.
func (f *Fetchers) Notifications(ctx context.Context, auth string) ([]upstream.Notification, error) {
	key := cache.Key("notifications", auth)
	data, err := f.fetch(ctx, "notifications", key, f.TTL.Metadata, bestEffort, func(ctx context.Context) ([]byte, int, error) {
		return f.Upstream.Notifications(ctx, auth)
	})
	if err != nil {
		return nil, err
	}
	return decode[upstream.Notification]("notifications", data)
}

// Geofences returns the geofence list. Best-effort.
func (f *Fetchers) Geofences(ctx context.Context, auth string) ([]upstream.Geofence, error) {
	key := cache.Key("geofences", auth)
	data, err := f.fetch(ctx, "geofences", key, f.TTL.Metadata, bestEffort, func(ctx context.Context) ([]byte, int, error) {
		return f.Upstream.Geofences(ctx, auth)
	})
	if err != nil {
		return nil, err
	}
	return decode[upstream.Geofence]("geofences", data)
}

// Trips returns one device's trips for the window. Best-effort.
func (f *Fetchers) Trips(ctx context.Context, auth string, deviceID int64, from, to string) ([]upstream.Trip, error) {
	key := cache.Key("trips", auth, strconv.FormatInt(deviceID, 10), from, to)
	data, err := f.fetch(ctx, "trips", key, f.TTL.Trips, bestEffort, func(ctx context.Context) ([]byte, int, error) {
		return f.Upstream.Trips(ctx, auth, deviceID, from, to)
	})
	if err != nil {
		return nil, err
	}
	return decode[upstream.Trip]("trips", data)
}

// Events returns one device's events for the window. Best-effort.
func (f *Fetchers) Events(ctx context.Context, auth string, deviceID int64, from, to string) ([]upstream.Event, error) {
	key := cache.Key("events", auth, strconv.FormatInt(deviceID, 10), from, to)
	data, err := f.fetch(ctx, "events", key, f.TTL.Events, bestEffort, func(ctx context.Context) ([]byte, int, error) {
		return f.Upstream.Events(ctx, auth, deviceID, from, to)
	})
	if err != nil {
		return nil, err
	}
	return decode[upstream.Event]("events", data)
}

// Maintenance returns one device's maintenance records. Best-effort.
func (f *Fetchers) Maintenance(ctx context.Context, auth string, deviceID int64) ([]upstream.MaintenanceRecord, error) {
	key := cache.Key("maint", auth, strconv.FormatInt(deviceID, 10))
	data, err := f.fetch(ctx, "maint", key, f.TTL.Maintenance, bestEffort, func(ctx context.Context) ([]byte, int, error) {
		return f.Upstream.Maintenance(ctx, auth, deviceID)
	})
	if err != nil {
		return nil, err
	}
	return decode[upstream.MaintenanceRecord]("maint", data)
}

func decode[T any](resource string, data []byte) ([]T, error) {
	var out []T
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%s: decode cached payload: %w", resource, err)
	}
	return out, nil
}
