package fleet

import (
	"context"
	"strconv"

	"fleetboard-backend/internal/pool"
	"fleetboard-backend/internal/upstream"
)

// DefaultConcurrency bounds simultaneous upstream calls during a fan-out.
const DefaultConcurrency = 10

// Service answers report queries by fanning per-device fetches through the
// worker pool and reducing the results. A Service is shared across requests;
// each report run gets its own pool.
type Service struct {
	Fetchers    *Fetchers
	Concurrency int
}

func NewService(f *Fetchers, concurrency int) *Service {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Service{Fetchers: f, Concurrency: concurrency}
}

// tripsForDevices fans out one trip fetch per device. Results are index
// aligned with deviceIDs. Trips are best-effort, so an unreachable device
// contributes an empty slice instead of failing the report.
func (s *Service) tripsForDevices(ctx context.Context, auth string, deviceIDs []int64, from, to string) ([][]upstream.Trip, error) {
	return pool.Run(ctx, deviceIDs, s.Concurrency, func(ctx context.Context, id int64, _ int) ([]upstream.Trip, error) {
		return s.Fetchers.Trips(ctx, auth, id, from, to)
	})
}

type AverageSpeedResult struct {
	AverageSpeed     float64 `json:"averageSpeed"`
	TripsCount       int     `json:"tripsCount"`
	DevicesCountUsed int     `json:"devicesCountUsed"`
}

// AverageSpeed is the mean of every valid averageSpeed reading across all
// trips of all devices. Devices contributing no valid reading do not count
// toward devicesCountUsed.
func (s *Service) AverageSpeed(ctx context.Context, auth string, deviceIDs []int64, from, to string) (AverageSpeedResult, error) {
	tripsByDevice, err := s.tripsForDevices(ctx, auth, deviceIDs, from, to)
	if err != nil {
		return AverageSpeedResult{}, err
	}

	var sum float64
	var count, used int
	for _, trips := range tripsByDevice {
		var local float64
		n := 0
		for _, t := range trips {
			if t.AverageSpeed != nil {
				local += *t.AverageSpeed
				n++
			}
		}
		if n > 0 {
			sum += local
			count += n
			used++
		}
	}

	res := AverageSpeedResult{TripsCount: count, DevicesCountUsed: used}
	if count > 0 {
		res.AverageSpeed = sum / float64(count)
	}
	return res, nil
}

type MaxSpeedMeta struct {
	DeviceID   int64  `json:"deviceId"`
	DeviceName string `json:"deviceName"`
	StartTime  string `json:"startTime,omitempty"`
	EndTime    string `json:"endTime,omitempty"`
}

type MaxSpeedResult struct {
	MaxSpeed         float64       `json:"maxSpeed"`
	TripsCount       int           `json:"tripsCount"`
	DevicesCountUsed int           `json:"devicesCountUsed"`
	Meta             *MaxSpeedMeta `json:"meta"`
}

// MaxSpeed scans every trip for the highest maxSpeed reading. Only a
// strictly greater reading takes over, so ties keep the first trip seen;
// provenance metadata is captured with each new maximum.
func (s *Service) MaxSpeed(ctx context.Context, auth string, deviceIDs []int64, from, to string) (MaxSpeedResult, error) {
	tripsByDevice, err := s.tripsForDevices(ctx, auth, deviceIDs, from, to)
	if err != nil {
		return MaxSpeedResult{}, err
	}

	res := MaxSpeedResult{DevicesCountUsed: len(deviceIDs)}
	for i, trips := range tripsByDevice {
		for _, t := range trips {
			if t.MaxSpeed == nil {
				continue
			}
			res.TripsCount++
			if *t.MaxSpeed > res.MaxSpeed {
				res.MaxSpeed = *t.MaxSpeed
				meta := MaxSpeedMeta{
					DeviceID:   t.DeviceID,
					DeviceName: t.DeviceName,
					StartTime:  t.StartTime,
					EndTime:    t.EndTime,
				}
				if meta.DeviceID == 0 {
					meta.DeviceID = deviceIDs[i]
				}
				if meta.DeviceName == "" {
					meta.DeviceName = strconv.FormatInt(deviceIDs[i], 10)
				}
				res.Meta = &meta
			}
		}
	}
	return res, nil
}

type FuelResult struct {
	AverageFuel      float64 `json:"averageFuel"`
	TotalFuel        float64 `json:"totalFuel"`
	TripsCount       int     `json:"tripsCount"`
	DevicesCountUsed int     `json:"devicesCountUsed"`
}

// Fuel sums spentFuel across trips. Negative readings are sensor noise and
// are clamped to 0 per record; the running sum is clamped again before the
// division, which can no longer fire after per-record clamping but is kept
// for symmetry with the per-record guard.
func (s *Service) Fuel(ctx context.Context, auth string, deviceIDs []int64, from, to string) (FuelResult, error) {
	tripsByDevice, err := s.tripsForDevices(ctx, auth, deviceIDs, from, to)
	if err != nil {
		return FuelResult{}, err
	}

	var sumFuel float64
	var count, used int
	for _, trips := range tripsByDevice {
		if len(trips) > 0 {
			used++
		}
		for _, t := range trips {
			if t.SpentFuel == nil {
				continue
			}
			v := *t.SpentFuel
			if v < 0 {
				v = 0
			}
			sumFuel += v
			count++
		}
	}
	if sumFuel < 0 {
		sumFuel = 0
	}

	res := FuelResult{TotalFuel: sumFuel, TripsCount: count, DevicesCountUsed: used}
	if count > 0 {
		res.AverageFuel = sumFuel / float64(count)
	}
	return res, nil
}

type ActiveDevicesResult struct {
	ActiveDeviceIDs []int64 `json:"activeDeviceIds"`
	Count           int     `json:"count"`
}

// ActiveDevices returns the devices with at least one trip in the window.
func (s *Service) ActiveDevices(ctx context.Context, auth string, deviceIDs []int64, from, to string) (ActiveDevicesResult, error) {
	tripsByDevice, err := s.tripsForDevices(ctx, auth, deviceIDs, from, to)
	if err != nil {
		return ActiveDevicesResult{}, err
	}

	active := make([]int64, 0, len(deviceIDs))
	for i, trips := range tripsByDevice {
		if len(trips) > 0 {
			active = append(active, deviceIDs[i])
		}
	}
	return ActiveDevicesResult{ActiveDeviceIDs: active, Count: len(active)}, nil
}

type TotalDistanceResult struct {
	TotalKm float64 `json:"totalKm"`
}

// TotalDistance sums trip distances in km. The upstream usually reports
// meters in `distance`; some installations report km in `distanceKm`. The
// meter field wins when both are present.
func (s *Service) TotalDistance(ctx context.Context, auth string, deviceIDs []int64, from, to string) (TotalDistanceResult, error) {
	tripsByDevice, err := s.tripsForDevices(ctx, auth, deviceIDs, from, to)
	if err != nil {
		return TotalDistanceResult{}, err
	}

	var totalKm float64
	for _, trips := range tripsByDevice {
		for _, t := range trips {
			switch {
			case t.Distance != nil:
				totalKm += *t.Distance / 1000
			case t.DistanceKm != nil:
				totalKm += *t.DistanceKm
			}
		}
	}
	if totalKm < 0 {
		totalKm = 0
	}
	return TotalDistanceResult{TotalKm: totalKm}, nil
}

type MaintenanceEfficiencyResult struct {
	Efficiency float64 `json:"efficiency"`
	Total      int     `json:"total"`
	OK         int     `json:"okCount"`
}

// MaintenanceEfficiency is the percentage of devices with no overdue
// maintenance record (attributes.due <= 0 means the deadline has passed).
// A device with no maintenance records counts as compliant.
func (s *Service) MaintenanceEfficiency(ctx context.Context, auth string, deviceIDs []int64) (MaintenanceEfficiencyResult, error) {
	lists, err := pool.Run(ctx, deviceIDs, s.Concurrency, func(ctx context.Context, id int64, _ int) ([]upstream.MaintenanceRecord, error) {
		return s.Fetchers.Maintenance(ctx, auth, id)
	})
	if err != nil {
		return MaintenanceEfficiencyResult{}, err
	}

	res := MaintenanceEfficiencyResult{}
	for _, maints := range lists {
		res.Total++
		overdue := false
		for _, m := range maints {
			if due, ok := m.Due(); ok && due <= 0 {
				overdue = true
				break
			}
		}
		if !overdue {
			res.OK++
		}
	}
	if res.Total > 0 {
		res.Efficiency = float64(res.OK) / float64(res.Total) * 100
	}
	return res, nil
}
