// Package transitmatch implements the Transit Matcher stage (spec.md §4.5):
// for each in_vehicle leg, it looks for a contemporaneous transit-vehicle
// trajectory the leg's samples track closely, and if found, refines the
// leg's mode to that vehicle's specific route type.
package transitmatch

import (
	"context"
	"sort"
	"time"

	"github.com/opentransittools/trajectorycore/business/data/store"
	"github.com/opentransittools/trajectorycore/business/data/trajectory"
)

// Config carries the transit matcher's tunables.
type Config struct {
	// BufferMeters is the spatial buffer radius around the leg's polyline.
	// Match does not pass it to the store: ReadTransitObservations takes
	// only a device and a time window, and the store applies its own buffer.
	BufferMeters float64
	// TimeWindow is the time padding applied around the leg's
	// [StartTime, EndTime] when querying observations.
	TimeWindow time.Duration
	// UserHasCar gates how strict the matcher is: when true, a match must
	// clear the same distance threshold as any other vehicle type (the
	// device owner could plausibly be driving their own car instead of
	// riding transit, so only a close, confident match reclassifies).
	UserHasCar bool
}

// Match queries transitReader for observations around leg and, if a
// close-enough vehicle trajectory is found, returns a copy of leg rewritten
// to that vehicle's route type. If no match clears the threshold, Match
// returns leg unchanged. If the query fails, Match returns leg unchanged
// together with the query error, which the caller logs while keeping the
// leg as in_vehicle (spec.md §4.5 Failure handling).
func Match(ctx context.Context, transitReader store.TransitObservationReader, deviceID string, leg trajectory.Leg, cfg Config) (trajectory.Leg, error) {
	if leg.Mode != trajectory.ModeInVehicle {
		return leg, nil
	}

	start := leg.StartTime.Add(-cfg.TimeWindow)
	end := leg.EndTime.Add(cfg.TimeWindow)

	observations, err := transitReader.ReadTransitObservations(ctx, deviceID, start, end)
	if err != nil {
		return leg, err
	}
	if len(observations) == 0 {
		return leg, nil
	}

	byVehicle := groupByVehicle(observations)

	var best *candidateMatch
	for vehicleRef, obs := range byVehicle {
		c := scoreCandidate(leg, vehicleRef, obs)
		if best == nil || c.score > best.score {
			best = &c
		}
	}
	if best == nil {
		return leg, nil
	}

	threshold := maxDistanceThreshold(best.routeType)
	// A device with no car trusts any best candidate unconditionally; one
	// with a car only trusts a candidate whose closest-distance metric
	// clears the threshold, since the rider could plausibly be driving
	// alongside transit instead of riding it (spec.md §4.5 point 4).
	if best.distance >= threshold && cfg.UserHasCar {
		return leg, nil
	}

	matched := leg
	matched.Mode = best.routeType.Mode()
	return matched, nil
}

// maxDistanceThreshold returns the per-vehicle-type maximum allowed
// closest-distance, in meters, for a transit match (spec.md §4.5 point 2).
func maxDistanceThreshold(rt trajectory.TransitRouteType) float64 {
	switch rt {
	case trajectory.RouteTypeTram:
		return 80
	case trajectory.RouteTypeTrain:
		return 500
	case trajectory.RouteTypeBus:
		return 60
	default:
		return 30
	}
}

func groupByVehicle(observations []trajectory.TransitVehicleObservation) map[string][]trajectory.TransitVehicleObservation {
	byVehicle := make(map[string][]trajectory.TransitVehicleObservation)
	for _, o := range observations {
		byVehicle[o.VehicleRef] = append(byVehicle[o.VehicleRef], o)
	}
	for _, obs := range byVehicle {
		sort.Slice(obs, func(i, j int) bool { return obs[i].Time.Before(obs[j].Time) })
	}
	return byVehicle
}
