// Package imm implements the trajectory filter stage (spec.md §4.3): an
// Interacting Multiple Model Kalman filter over four transport-mode
// sub-filters (still, walking, on_bicycle, in_vehicle), mixed by a
// mode-transition matrix and weighted by a device-reported activity-class
// prior, with a parallel Viterbi pass recovering the single most likely
// mode sequence.
package imm

import (
	"fmt"
	"math"

	"github.com/opentransittools/trajectorycore/business/data/trajectory"
)

// Config carries the tunables of the IMM stage. The sub-model process
// noise and the mode-transition matrix are wire-stable and not exposed here
// (spec.md treats them as part of the filter's definition, not a per-device
// setting); Config only carries what a caller legitimately varies.
type Config struct {
	// LocErrorFloor is the minimum position measurement std-dev (meters)
	// applied regardless of a sample's reported LocError, preventing a
	// suspiciously precise reading from collapsing S to near-singular.
	LocErrorFloor float64
}

// DefaultConfig returns the filter defaults.
func DefaultConfig() Config {
	return Config{LocErrorFloor: 3}
}

// Result is the IMM stage's output: the input samples (kept alongside the
// filter output so downstream stages never need to re-join against the
// original slice), the per-sample mixed mode probabilities, the
// Viterbi-recovered most-likely mode sequence, and the smoothed position.
type Result struct {
	Samples   []trajectory.Sample
	ModeProbs [][numModes]float64
	ModePath  []Mode
	SmoothedX []float64
	SmoothedY []float64
}

// TransportMode maps an IMM Mode to the trajectory.TransportMode the leg
// segmenter and downstream stages reason about.
func (m Mode) TransportMode() trajectory.TransportMode {
	switch m {
	case ModeStill:
		return trajectory.ModeStill
	case ModeWalking:
		return trajectory.ModeWalking
	case ModeOnBicycle:
		return trajectory.ModeOnBicycle
	case ModeInVehicle:
		return trajectory.ModeInVehicle
	default:
		return trajectory.ModeUnknown
	}
}

// Run filters samples (already sorted by time, belonging to one candidate
// trip) through the IMM and returns the per-sample mode classification.
// Returns an error (wrapped by the caller as errs.Numeric) if the filter
// degenerates numerically, which spec.md §7 treats as a contained,
// per-trip failure.
func Run(samples []trajectory.Sample, cfg Config) (Result, error) {
	if len(samples) == 0 {
		return Result{}, fmt.Errorf("imm: no samples")
	}

	models := defaultSubModels()
	headX, headY := initialHeading(samples)

	var states [numModes]*kalmanState
	for i := range states {
		states[i] = newKalmanState()
		states[i].x.SetVec(0, samples[0].X)
		states[i].x.SetVec(1, samples[0].Y)
		states[i].x.SetVec(2, models[i].speedBias*headX)
		states[i].x.SetVec(3, models[i].speedBias*headY)
	}
	mu := initialModeProbabilities(samples[0])

	result := Result{
		Samples:   samples,
		ModeProbs: make([][numModes]float64, len(samples)),
		SmoothedX: make([]float64, len(samples)),
		SmoothedY: make([]float64, len(samples)),
	}
	result.ModeProbs[0] = mu
	result.SmoothedX[0] = samples[0].X
	result.SmoothedY[0] = samples[0].Y

	tracker := newViterbiTracker(mu)

	for t := 1; t < len(samples); t++ {
		s := samples[t]
		dt := s.DeltaT
		if dt <= 0 {
			dt = 1
		}

		mixedPrior, c := mix(states, mu)

		var sr stepResult
		for i := 0; i < numModes; i++ {
			pred := predict(mixedPrior[i], models[i], dt)
			mrx, mry := measurementVariance(s, cfg, Mode(i))
			filtered, lik := measurementUpdate(pred, s, mrx, mry, speedMeasurementVariance)
			prior := activityPrior(s.Activity, s.ActivityConfidence, Mode(i))
			sr.filtered[i] = filtered
			sr.likelihood[i] = lik * prior
		}

		mu = updateModeProbabilities(c, sr.likelihood)
		for i := 0; i < numModes; i++ {
			if math.IsNaN(mu[i]) {
				return Result{}, fmt.Errorf("imm: NaN mode probability at sample %d", t)
			}
			states[i] = sr.filtered[i]
		}

		x, y := combine(sr.filtered, mu)
		result.SmoothedX[t] = x
		result.SmoothedY[t] = y
		result.ModeProbs[t] = mu

		tracker.step(sr.likelihood)
	}

	path := tracker.path()
	if len(path) != len(samples) {
		return Result{}, fmt.Errorf("imm: viterbi path length %d does not match %d samples", len(path), len(samples))
	}
	result.ModePath = path
	return result, nil
}

// measurementVariance returns the (x, y) measurement variance for sample s
// under sub-model mode. In-vehicle's variance inflates when the sample sits
// far from the nearest road/rail axis, penalizing an in_vehicle
// classification that isn't actually near a way a vehicle could be on.
func measurementVariance(s trajectory.Sample, cfg Config, mode Mode) (rx, ry float64) {
	std := s.LocError
	if std < cfg.LocErrorFloor {
		std = cfg.LocErrorFloor
	}
	variance := std * std

	if mode == ModeInVehicle {
		nearest := s.ClosestCarWayDist
		if s.ClosestRailWayDist < nearest {
			nearest = s.ClosestRailWayDist
		}
		if nearest > 30 {
			inflate := 1 + (nearest-30)/30
			variance *= inflate
		}
	}
	return variance, variance
}

// initialModeProbabilities seeds the IMM's mode distribution for a trip's
// first sample from its reported activity, if any; otherwise uniform.
func initialModeProbabilities(s trajectory.Sample) [numModes]float64 {
	if s.Activity == trajectory.ActivityUnknown || s.ActivityConfidence < 0.5 {
		return [numModes]float64{0.25, 0.25, 0.25, 0.25}
	}
	var mu [numModes]float64
	var sum float64
	for i := 0; i < numModes; i++ {
		mu[i] = activityPrior(s.Activity, s.ActivityConfidence, Mode(i))
		sum += mu[i]
	}
	for i := range mu {
		mu[i] /= sum
	}
	return mu
}

// initialHeading returns a unit vector pointing from the trip's first
// sample toward its second, used to seed each sub-filter's initial velocity
// along a plausible direction of travel (speedBias supplies the magnitude).
// Returns (0, 0) when there's no second sample or the two coincide, leaving
// the initial velocity at zero.
func initialHeading(samples []trajectory.Sample) (x, y float64) {
	if len(samples) < 2 {
		return 0, 0
	}
	dx := samples[1].X - samples[0].X
	dy := samples[1].Y - samples[0].Y
	norm := math.Hypot(dx, dy)
	if norm < 1e-6 {
		return 0, 0
	}
	return dx / norm, dy / norm
}
