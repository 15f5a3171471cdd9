package transitmatch

import (
	"math"
	"time"

	"github.com/opentransittools/trajectorycore/business/data/trajectory"
	"github.com/opentransittools/trajectorycore/business/trajectory/imm"
)

// matchLocError combines a representative device GPS std-dev with a transit
// feed's reported-position std-dev into the isotropic variance scoreCandidate
// evaluates each (leg sample, vehicle position) innovation under. A
// committed Leg carries only its smoothed positions, not each sample's
// original loc_error (that gate is enforced earlier, in the leg segmenter),
// and transit feeds don't report a per-observation loc_error the way device
// samples do, so both sides fall back to representative mid-range values
// rather than re-deriving them.
const (
	deviceLocErrorFallback     = 10.0
	transitObservationLocError = 15.0
)

// candidateMatch is one vehicle's fit against a leg: the route type it
// reports, its ranking score, and its gating distance.
//
// spec.md §4.5 point 2 splits these two purposes. score reuses the IMM's
// innovation-likelihood evaluation (imm.PositionLogLikelihood, the same
// Gaussian-density primitive measurementUpdate's position rows use): the
// vehicle hypothesis's log-likelihood — the leg's sample explained by the
// candidate's interpolated position — against the free in_vehicle
// hypothesis's — the same sample explained by itself, zero residual. The
// shared normalizing constant cancels, leaving a summed negative
// Mahalanobis penalty that is exactly 0 for a perfectly-tracking candidate
// and increasingly negative as the candidate's track diverges from the
// leg's; it is used only to rank candidates against each other.
//
// distance is the plain worst-sample planar separation in meters, used
// against maxDistanceThreshold's fixed per-vehicle-type cutoffs (point 3's
// "closest-distance metric"; the locked resolution of spec.md §9's open
// question, grounded in original_source/calc/trips.py: transit_probs
// sorted ascending by dist, transit_probs[-1] taken as "closest", gated by
// `closest_dist > -max_dist`) — a quantity the threshold constants were
// calibrated in meters against, not log-likelihood units.
type candidateMatch struct {
	routeType trajectory.TransitRouteType
	score     float64
	distance  float64
}

// scoreCandidate computes vehicleRef's fit against leg, using the leg's
// per-sample (time, position) pairs and the vehicle's time-ordered
// observation track, restricted to the times the vehicle was actually
// observed.
func scoreCandidate(leg trajectory.Leg, vehicleRef string, obs []trajectory.TransitVehicleObservation) candidateMatch {
	routeType := obs[0].RouteType
	variance := deviceLocErrorFallback*deviceLocErrorFallback + transitObservationLocError*transitObservationLocError

	var n int
	var score, worst float64
	for i, loc := range leg.SampleLocations {
		t := leg.SampleTimes[i]
		vx, vy, ok := interpolatePosition(obs, t)
		if !ok {
			continue
		}
		dx, dy := loc.X-vx, loc.Y-vy
		score += imm.PositionLogLikelihood(dx, dy, variance) - imm.PositionLogLikelihood(0, 0, variance)
		if d := math.Hypot(dx, dy); d > worst {
			worst = d
		}
		n++
	}
	if n == 0 {
		return candidateMatch{routeType: routeType, score: math.Inf(-1), distance: math.Inf(1)}
	}
	return candidateMatch{routeType: routeType, score: score, distance: worst}
}

// interpolatePosition linearly interpolates obs (sorted by Time) to t's
// instant. Returns ok=false if t falls outside the track's time span.
func interpolatePosition(obs []trajectory.TransitVehicleObservation, t time.Time) (x, y float64, ok bool) {
	if len(obs) == 0 {
		return 0, 0, false
	}
	if t.Before(obs[0].Time) || t.After(obs[len(obs)-1].Time) {
		return 0, 0, false
	}
	for i := 1; i < len(obs); i++ {
		if t.After(obs[i].Time) {
			continue
		}
		prev, next := obs[i-1], obs[i]
		span := next.Time.Sub(prev.Time).Seconds()
		if span <= 0 {
			return prev.X, prev.Y, true
		}
		frac := t.Sub(prev.Time).Seconds() / span
		return prev.X + frac*(next.X-prev.X), prev.Y + frac*(next.Y-prev.Y), true
	}
	last := obs[len(obs)-1]
	return last.X, last.Y, true
}
