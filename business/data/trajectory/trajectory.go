// Package trajectory holds the core data types shared by every stage of the
// trajectory analysis pipeline: Sample, Trip, Leg and the closed enums used
// to tag them.
package trajectory

import (
	"fmt"
	"time"
)

// ActivityType is the device-reported coarse motion label that accompanies
// a Sample. It is a closed set; unrecognized strings from storage map to
// ActivityUnknown rather than propagating free-form text into the filter.
type ActivityType int

const (
	ActivityUnknown ActivityType = iota
	ActivityStill
	ActivityOnFoot
	ActivityWalking
	ActivityRunning
	ActivityOnBicycle
	ActivityInVehicle
)

var activityNames = map[ActivityType]string{
	ActivityUnknown:   "unknown",
	ActivityStill:     "still",
	ActivityOnFoot:    "on_foot",
	ActivityWalking:   "walking",
	ActivityRunning:   "running",
	ActivityOnBicycle: "on_bicycle",
	ActivityInVehicle: "in_vehicle",
}

var activityByName = func() map[string]ActivityType {
	m := make(map[string]ActivityType, len(activityNames))
	for k, v := range activityNames {
		m[v] = k
	}
	return m
}()

func (a ActivityType) String() string {
	if name, ok := activityNames[a]; ok {
		return name
	}
	return "unknown"
}

// ParseActivityType maps a raw device-reported activity string to an
// ActivityType, returning ActivityUnknown for anything it doesn't recognize.
func ParseActivityType(s string) ActivityType {
	if a, ok := activityByName[s]; ok {
		return a
	}
	return ActivityUnknown
}

// TransportMode is the closed set of modes a Leg may be tagged with, plus
// the two "non-modes" (Still, Unknown) that the IMM filter reasons about
// internally but which a committed Leg may never carry (see Leg invariant).
type TransportMode int

const (
	ModeUnknown TransportMode = iota
	ModeStill
	ModeWalking
	ModeOnBicycle
	ModeInVehicle
	ModeBus
	ModeTram
	ModeTrain
)

var modeNames = map[TransportMode]string{
	ModeUnknown:   "unknown",
	ModeStill:     "still",
	ModeWalking:   "walking",
	ModeOnBicycle: "on_bicycle",
	ModeInVehicle: "in_vehicle",
	ModeBus:       "bus",
	ModeTram:      "tram",
	ModeTrain:     "train",
}

func (m TransportMode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}
	return "unknown"
}

// IsLegal reports whether m is a mode a committed Leg may carry (never
// still or unknown, per the Leg invariant in spec).
func (m TransportMode) IsLegal() bool {
	return m != ModeStill && m != ModeUnknown
}

// TransitRouteType is the GTFS route_type subset the transit matcher cares
// about.
type TransitRouteType int

const (
	RouteTypeTram  TransitRouteType = 0
	RouteTypeTrain TransitRouteType = 2
	RouteTypeBus   TransitRouteType = 3
)

// Mode maps a TransitRouteType to the TransportMode a matched leg is
// rewritten to.
func (rt TransitRouteType) Mode() TransportMode {
	switch rt {
	case RouteTypeTram:
		return ModeTram
	case RouteTypeTrain:
		return ModeTrain
	case RouteTypeBus:
		return ModeBus
	default:
		return ModeInVehicle
	}
}

// Point is a planar (x, y) coordinate in the configured local metric
// projection.
type Point struct {
	X float64
	Y float64
}

// Sample is one immutable, time-stamped geolocation reading from a device.
// Samples are never mutated by the core; DeltaT/DeltaD are precomputed by
// the loader relative to the previous sample in time order.
type Sample struct {
	Time               time.Time
	X                  float64
	Y                  float64
	Speed              *float64
	LocError           float64
	Activity           ActivityType
	ActivityConfidence float64
	IsMoving           *bool
	ClosestCarWayDist  float64
	ClosestRailWayDist float64
	ReceivedAt         time.Time

	// DeltaT is the seconds elapsed since the previous sample in time
	// order; 0 for the first sample in a loaded window.
	DeltaT float64
	// DeltaD is the planar distance in meters moved since the previous
	// sample; 0 for the first sample in a loaded window.
	DeltaD float64

	// TripIndex is -1 until the trip splitter assigns it; discarded
	// trips keep -1 when the caller asked to retain all samples.
	TripIndex int
}

// GoodLocation reports whether the sample's horizontal error is low enough
// to be used for distance/dispersion calculations (spec.md "good" sample).
func (s Sample) GoodLocation() bool {
	return s.LocError < 100
}

// Trip is a contiguous set of samples recognized as one journey, split into
// mode-tagged Legs. Invariants: legs are time-disjoint and fall within
// [StartTime, EndTime].
type Trip struct {
	DeviceID  string
	Index     int
	StartTime time.Time
	EndTime   time.Time
	Legs      []Leg
}

// Leg is a contiguous subsequence of a Trip's samples sharing one inferred
// TransportMode. A committed Leg always has >= MinSamplesPerLeg low-error
// samples and Mode.IsLegal().
type Leg struct {
	StartTime       time.Time
	EndTime         time.Time
	StartLoc        Point
	EndLoc          Point
	SampleLocations []Point
	SampleTimes     []time.Time
	LengthMeters    float64
	Mode            TransportMode

	// UserCorrected is true when a prior run's leg at this position was
	// edited by the end user; such legs must never be silently
	// overwritten (UserEditConflict).
	UserCorrected bool
}

func (l Leg) String() string {
	return fmt.Sprintf("leg[%s..%s] mode=%s len=%.0fm samples=%d",
		l.StartTime.Format(time.RFC3339), l.EndTime.Format(time.RFC3339), l.Mode, l.LengthMeters, len(l.SampleLocations))
}

// TransitVehicleObservation is one position report for a transit vehicle,
// queried from an external real-time feed store within a spatial buffer and
// time window around a candidate in-vehicle Leg.
type TransitVehicleObservation struct {
	VehicleJourneyRef string
	VehicleRef        string
	Time              time.Time
	RouteType         TransitRouteType
	RouteName         string
	X                 float64
	Y                 float64
}
