// Package legsegment implements the Leg Segmenter stage (spec.md §4.4): it
// turns the IMM's per-sample mode classification into a trip's committed
// Legs through four stages — run-length stabilization, leg assignment,
// implausible-transition merging, and an optional mode-count cap.
package legsegment

import (
	"math"
	"time"

	"github.com/opentransittools/trajectorycore/business/data/trajectory"
	"github.com/opentransittools/trajectorycore/business/trajectory/imm"
)

// Config carries the leg segmenter's tunables.
type Config struct {
	// MinSamplesPerLeg is the minimum number of low-error samples a run
	// must contain both to start a leg (Stage B) and to survive as a
	// committed leg on its own (Stage "weak run" merge); weaker runs are
	// amputated or merged into a neighboring leg.
	MinSamplesPerLeg int
	// MaxMethods caps the number of distinct transport-mode groups kept
	// in the final trip when EnableMethodCap is set (Stage D).
	MaxMethods      int
	EnableMethodCap bool
}

// stabilizeRunLength is Stage A's flicker threshold: a run of at most this
// many low-error samples, when immediately preceded by a long run, is
// folded into the preceding mode.
const stabilizeRunLength = 3

// rawRun is one contiguous same-mode leg's worth of samples, the unit
// Stage C/D may merge and toLeg finally promotes to a trajectory.Leg.
type rawRun struct {
	mode    trajectory.TransportMode
	samples []trajectory.Sample
	x, y    []float64
	// firstIdx/lastIdx are this run's first and last sample's position in
	// the trip's full (post-stabilization) mode sequence, used by Stage C
	// to inspect what lies between two non-adjacent runs.
	firstIdx, lastIdx int
}

// modeRun is one contiguous same-mode run in the raw (or stabilized) mode
// sequence, with the run-length definition spec.md uses throughout: the
// count of samples in the run whose loc_error < 100.
type modeRun struct {
	start, end  int
	mode        trajectory.TransportMode
	lowErrorLen int
}

func modeRuns(samples []trajectory.Sample, modes []trajectory.TransportMode) []modeRun {
	var runs []modeRun
	i := 0
	for i < len(modes) {
		j := i + 1
		for j < len(modes) && modes[j] == modes[i] {
			j++
		}
		lowErr := 0
		for k := i; k < j; k++ {
			if samples[k].GoodLocation() {
				lowErr++
			}
		}
		runs = append(runs, modeRun{start: i, end: j, mode: modes[i], lowErrorLen: lowErr})
		i = j
	}
	return runs
}

// Segment runs all four stages over filtered and returns the trip's
// committed legs, in time order, each satisfying Mode.IsLegal().
func Segment(filtered imm.Result, cfg Config) []trajectory.Leg {
	if len(filtered.Samples) == 0 {
		return nil
	}

	modes := make([]trajectory.TransportMode, len(filtered.ModePath))
	for i, m := range filtered.ModePath {
		modes[i] = m.TransportMode()
	}

	stabilize(filtered.Samples, modes, cfg.MinSamplesPerLeg)

	runs := assign(filtered, modes, cfg.MinSamplesPerLeg)
	runs = mergeImplausibleTransitions(runs, modes)
	runs = coalesceAdjacentSameMode(runs)
	runs = mergeWeakRuns(runs, cfg)
	if cfg.EnableMethodCap {
		runs = capMethods(runs, cfg)
	}

	legs := make([]trajectory.Leg, 0, len(runs))
	for _, r := range runs {
		if !r.mode.IsLegal() || len(r.samples) == 0 {
			continue
		}
		legs = append(legs, toLeg(r))
	}
	return legs
}

// stabilize implements Stage A (spec.md §4.4): a single forward sweep. Any
// run of at most stabilizeRunLength low-error samples that is immediately
// preceded by a run of more than minSamplesPerLeg low-error samples is
// overwritten with the preceding run's mode, removing single-sample
// flicker. Unlike Stage C/D this never looks at the following run and never
// repeats to a fixed point.
func stabilize(samples []trajectory.Sample, modes []trajectory.TransportMode, minSamplesPerLeg int) {
	runs := modeRuns(samples, modes)
	for idx := 1; idx < len(runs); idx++ {
		r := runs[idx]
		if r.lowErrorLen > stabilizeRunLength {
			continue
		}
		prev := runs[idx-1]
		if prev.lowErrorLen <= minSamplesPerLeg {
			continue
		}
		for i := r.start; i < r.end; i++ {
			modes[i] = prev.mode
		}
	}
}

// assign implements Stage B (spec.md §4.4): a run only starts a leg when
// its run_len (low-error sample count) is at least minSamplesPerLeg and its
// mode is legal; every sample of a run that doesn't qualify is amputated
// (belongs to no leg), as is any individual sample within a qualifying run
// whose own loc_error >= 100. A final outlier pass retroactively amputates
// the last-accepted sample whenever the calculated speed to the next
// accepted sample diverges from the device-reported speed by more than
// 30 m/s.
func assign(filtered imm.Result, modes []trajectory.TransportMode, minSamplesPerLeg int) []rawRun {
	samples := filtered.Samples
	runs := modeRuns(samples, modes)

	legID := make([]int, len(modes))
	runLegID := make([]int, len(runs))
	nextID := 0
	for idx, r := range runs {
		if r.lowErrorLen >= minSamplesPerLeg && r.mode.IsLegal() {
			runLegID[idx] = nextID
			nextID++
		} else {
			runLegID[idx] = -1
		}
	}
	for idx, r := range runs {
		id := runLegID[idx]
		for i := r.start; i < r.end; i++ {
			if id == -1 || !samples[i].GoodLocation() {
				legID[i] = -1
			} else {
				legID[i] = id
			}
		}
	}

	amputateSpeedOutliers(samples, filtered.SmoothedX, filtered.SmoothedY, legID)

	return buildRuns(filtered, modes, legID, nextID)
}

// amputateSpeedOutliers walks the accepted (legID != -1) samples in order
// and, whenever the planar speed implied by consecutive accepted samples
// diverges from the later sample's reported speed by more than 30 m/s,
// amputates the earlier sample.
func amputateSpeedOutliers(samples []trajectory.Sample, x, y []float64, legID []int) {
	const maxSpeedDelta = 30.0
	prev := -1
	for i := range samples {
		if legID[i] == -1 {
			continue
		}
		if prev == -1 {
			prev = i
			continue
		}
		dt := samples[i].Time.Sub(samples[prev].Time).Seconds()
		if dt <= 0 {
			dt = 1
		}
		dx, dy := x[i]-x[prev], y[i]-y[prev]
		calcSpeed := math.Hypot(dx, dy) / dt

		if reported := samples[i].Speed; reported != nil && math.Abs(calcSpeed-*reported) > maxSpeedDelta {
			legID[prev] = -1
		}
		prev = i
	}
}

// buildRuns groups samples by their final legID into rawRuns, in the order
// each id first appears, recording the global index span each leg covers
// for Stage C's gap inspection.
func buildRuns(filtered imm.Result, modes []trajectory.TransportMode, legID []int, numIDs int) []rawRun {
	runs := make([]rawRun, numIDs)
	for id := range runs {
		runs[id] = rawRun{firstIdx: -1}
	}
	modeOf := make([]trajectory.TransportMode, numIDs)
	for i, id := range legID {
		if id == -1 {
			continue
		}
		modeOf[id] = modes[i]
	}
	for id := range runs {
		runs[id].mode = modeOf[id]
	}

	for i, id := range legID {
		if id == -1 {
			continue
		}
		r := &runs[id]
		if r.firstIdx == -1 {
			r.firstIdx = i
		}
		r.lastIdx = i
		r.samples = append(r.samples, filtered.Samples[i])
		r.x = append(r.x, filtered.SmoothedX[i])
		r.y = append(r.y, filtered.SmoothedY[i])
	}

	out := make([]rawRun, 0, numIDs)
	for _, r := range runs {
		if len(r.samples) == 0 {
			continue
		}
		out = append(out, r)
	}
	return out
}

// mergeImplausibleTransitions is Stage C (spec.md §4.4): a human cannot
// switch between bicycle and vehicle instantaneously, so an on_bicycle leg
// and an in_vehicle leg (in either order) with fewer than 3 still-tagged
// samples between them means one of the two labels is wrong. The pair is
// merged, the combined leg taking on whichever of the two was longer by
// path length.
func mergeImplausibleTransitions(runs []rawRun, modes []trajectory.TransportMode) []rawRun {
	for {
		merged := false
		for i := 0; i < len(runs)-1; i++ {
			a, b := runs[i], runs[i+1]
			if !isBicycleVehiclePair(a.mode, b.mode) {
				continue
			}
			if countStillInGap(modes, a.lastIdx, b.firstIdx) >= 3 {
				continue
			}
			runs = append(runs[:i], append([]rawRun{mergeRuns(a, b)}, runs[i+2:]...)...)
			merged = true
			break
		}
		if !merged {
			return runs
		}
	}
}

// countStillInGap counts how many samples of the stabilized mode sequence
// between two legs (exclusive of both) are tagged still.
func countStillInGap(modes []trajectory.TransportMode, afterIdx, beforeIdx int) int {
	count := 0
	for k := afterIdx + 1; k < beforeIdx; k++ {
		if modes[k] == trajectory.ModeStill {
			count++
		}
	}
	return count
}

// coalesceAdjacentSameMode merges any directly adjacent runs left sharing the
// same mode after Stage C, so an implausible-transition merge never leaves
// two same-mode legs standing side by side.
func coalesceAdjacentSameMode(runs []rawRun) []rawRun {
	if len(runs) == 0 {
		return runs
	}
	out := []rawRun{runs[0]}
	for _, r := range runs[1:] {
		last := &out[len(out)-1]
		if last.mode == r.mode {
			*last = mergeRuns(*last, r)
			continue
		}
		out = append(out, r)
	}
	return out
}

// isBicycleVehiclePair reports whether (m1, m2) is an on_bicycle/in_vehicle
// pair in either order.
func isBicycleVehiclePair(m1, m2 trajectory.TransportMode) bool {
	return (m1 == trajectory.ModeOnBicycle && m2 == trajectory.ModeInVehicle) ||
		(m1 == trajectory.ModeInVehicle && m2 == trajectory.ModeOnBicycle)
}

// mergeRuns combines a and b into one run, taking the mode of whichever had
// the greater path length (spec.md §4.4: "the longer leg's id and mode are
// propagated to the shorter leg's samples").
func mergeRuns(a, b rawRun) rawRun {
	mode := a.mode
	if pathLength(b) > pathLength(a) {
		mode = b.mode
	}
	first, last := a.firstIdx, b.lastIdx
	if b.firstIdx < first {
		first = b.firstIdx
	}
	if a.lastIdx > last {
		last = a.lastIdx
	}
	return rawRun{
		mode:     mode,
		samples:  concatSamples(a.samples, b.samples),
		x:        concatFloats(a.x, b.x),
		y:        concatFloats(a.y, b.y),
		firstIdx: first,
		lastIdx:  last,
	}
}

func pathLength(r rawRun) float64 {
	var length float64
	for i := 1; i < len(r.x); i++ {
		dx := r.x[i] - r.x[i-1]
		dy := r.y[i] - r.y[i-1]
		length += math.Sqrt(dx*dx + dy*dy)
	}
	return length
}

// lowErrorCount returns how many of samples have loc_error < 100, the unit
// the Leg invariant (spec.md §3: ">= MIN_SAMPLES_PER_LEG low-error
// samples") is defined in terms of.
func lowErrorCount(samples []trajectory.Sample) int {
	n := 0
	for _, s := range samples {
		if s.GoodLocation() {
			n++
		}
	}
	return n
}

// mergeWeakRuns folds any run with fewer than cfg.MinSamplesPerLeg
// low-error samples into its larger neighbor, repeating until every
// remaining run either meets the threshold or has no neighbor left to
// merge into.
func mergeWeakRuns(runs []rawRun, cfg Config) []rawRun {
	for {
		weakest := -1
		for i, r := range runs {
			if lowErrorCount(r.samples) < cfg.MinSamplesPerLeg {
				if weakest == -1 || lowErrorCount(r.samples) < lowErrorCount(runs[weakest].samples) {
					weakest = i
				}
			}
		}
		if weakest == -1 || len(runs) == 1 {
			return runs
		}

		var target int
		switch {
		case weakest == 0:
			target = 1
		case weakest == len(runs)-1:
			target = weakest - 1
		case lowErrorCount(runs[weakest-1].samples) >= lowErrorCount(runs[weakest+1].samples):
			target = weakest - 1
		default:
			target = weakest + 1
		}

		lo, hi := weakest, target
		if lo > hi {
			lo, hi = hi, lo
		}
		merged := mergeRunsPreservingMode(runs[lo], runs[hi], runs[target].mode)
		runs = append(runs[:lo], append([]rawRun{merged}, runs[hi+1:]...)...)
	}
}

// mergeRunsPreservingMode combines lo and hi (already ordered by position)
// but forces the result's mode to survivorMode instead of picking by path
// length, used where the neighbor being absorbed into is determined by
// sample count rather than path length (mergeWeakRuns, capMethods).
func mergeRunsPreservingMode(lo, hi rawRun, survivorMode trajectory.TransportMode) rawRun {
	first, last := lo.firstIdx, hi.lastIdx
	return rawRun{
		mode:     survivorMode,
		samples:  concatSamples(lo.samples, hi.samples),
		x:        concatFloats(lo.x, hi.x),
		y:        concatFloats(lo.y, hi.y),
		firstIdx: first,
		lastIdx:  last,
	}
}

// capMethods is Stage D: when more than cfg.MaxMethods distinct legal
// modes remain, repeatedly merge the shortest run (by sample count) into
// its larger neighbor until the cap is met.
func capMethods(runs []rawRun, cfg Config) []rawRun {
	for distinctMethods(runs) > cfg.MaxMethods {
		shortest := -1
		for i, r := range runs {
			if !r.mode.IsLegal() {
				continue
			}
			if shortest == -1 || len(r.samples) < len(runs[shortest].samples) {
				shortest = i
			}
		}
		if shortest == -1 || len(runs) == 1 {
			return runs
		}

		var target int
		switch {
		case shortest == 0:
			target = 1
		case shortest == len(runs)-1:
			target = shortest - 1
		case len(runs[shortest-1].samples) >= len(runs[shortest+1].samples):
			target = shortest - 1
		default:
			target = shortest + 1
		}

		lo, hi := shortest, target
		if lo > hi {
			lo, hi = hi, lo
		}
		merged := mergeRunsPreservingMode(runs[lo], runs[hi], runs[target].mode)
		runs = append(runs[:lo], append([]rawRun{merged}, runs[hi+1:]...)...)
	}
	return runs
}

func distinctMethods(runs []rawRun) int {
	seen := map[trajectory.TransportMode]bool{}
	for _, r := range runs {
		if r.mode.IsLegal() {
			seen[r.mode] = true
		}
	}
	return len(seen)
}

func toLeg(r rawRun) trajectory.Leg {
	locs := make([]trajectory.Point, len(r.samples))
	times := make([]time.Time, len(r.samples))
	var length float64
	for i := range r.samples {
		locs[i] = trajectory.Point{X: r.x[i], Y: r.y[i]}
		times[i] = r.samples[i].Time
		if i > 0 {
			dx := r.x[i] - r.x[i-1]
			dy := r.y[i] - r.y[i-1]
			length += math.Sqrt(dx*dx + dy*dy)
		}
	}
	return trajectory.Leg{
		StartTime:       r.samples[0].Time,
		EndTime:         r.samples[len(r.samples)-1].Time,
		StartLoc:        locs[0],
		EndLoc:          locs[len(locs)-1],
		SampleLocations: locs,
		SampleTimes:     times,
		LengthMeters:    length,
		Mode:            r.mode,
	}
}

func concatSamples(runs ...[]trajectory.Sample) []trajectory.Sample {
	var out []trajectory.Sample
	for _, r := range runs {
		out = append(out, r...)
	}
	return out
}

func concatFloats(runs ...[]float64) []float64 {
	var out []float64
	for _, r := range runs {
		out = append(out, r...)
	}
	return out
}
