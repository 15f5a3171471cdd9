// Package store defines the read/write contracts the trajectory pipeline
// needs from external storage (spec.md §6). The core depends only on these
// interfaces; pgstore provides the Postgres-backed implementation used in
// production, following the same separation the teacher draws between
// business/data/gtfs and foundation/database.
package store

import (
	"context"
	"time"

	"github.com/opentransittools/trajectorycore/business/data/trajectory"
)

// SampleReader loads a device's raw samples for a time window.
type SampleReader interface {
	ReadLocations(ctx context.Context, deviceID string, start, end time.Time, includeAll bool) ([]trajectory.Sample, error)
}

// TransitObservationReader loads transit vehicle position reports relevant
// to a device's window. The spatial-buffer intersection is performed by
// the store, not the core (spec.md §6).
type TransitObservationReader interface {
	ReadTransitObservations(ctx context.Context, deviceID string, start, end time.Time) ([]trajectory.TransitVehicleObservation, error)
}

// PriorLegReader answers whether a trip already has user-corrected legs
// attached, implementing the idempotent-write gate of spec.md §5.
type PriorLegReader interface {
	HasUserEditedLegs(ctx context.Context, deviceID string, tripStart, tripEnd time.Time) (bool, error)
}

// TripWriter persists a device's trip and its legs atomically, replacing
// any prior legs for the same trip window (spec.md §5 Idempotency of
// writes).
type TripWriter interface {
	WriteTrip(ctx context.Context, deviceID string, tripStart, tripEnd time.Time, legs []trajectory.Leg) error
}

// DeviceCursor names a device with newly received samples and the
// timestamp of its most recent processed sample.
type DeviceCursor struct {
	DeviceID      string
	LastProcessed time.Time
}

// WorkDiscoverer drives the dispatcher by listing devices whose most recent
// sample arrival is newer than their last-processed cursor.
type WorkDiscoverer interface {
	FindDevicesWithNewSamples(ctx context.Context, minReceivedAt time.Time) ([]DeviceCursor, error)
}
