// Package tripsplit implements the Trip Splitter stage (spec.md §4.2): it
// partitions one device's loaded sample window into candidate trips on
// time gaps, then drops candidates whose good samples never disperse far
// enough to count as an actual journey.
package tripsplit

import (
	"time"

	"github.com/opentransittools/trajectorycore/business/data/trajectory"
	"github.com/opentransittools/trajectorycore/business/trajectory/imm"
)

// Config carries the two thresholds that define a trip boundary (spec.md
// §4.2).
type Config struct {
	// MinsBetweenTrips is the gap, in minutes, of no samples that starts a
	// new trip.
	MinsBetweenTrips int
	// MinDistanceMovedInTrip is the minimum dispersion, in meters, a
	// trip's good-location samples must exceed to be kept.
	MinDistanceMovedInTrip float64
}

// CandidateTrip is a contiguous run of a device's samples recognized as one
// trip, not yet run through the IMM filter.
type CandidateTrip struct {
	Index   int
	Samples []trajectory.Sample
}

// StartTime returns the time of the candidate's first sample.
func (c CandidateTrip) StartTime() time.Time {
	return c.Samples[0].Time
}

// EndTime returns the time of the candidate's last sample.
func (c CandidateTrip) EndTime() time.Time {
	return c.Samples[len(c.Samples)-1].Time
}

// Filter runs the candidate's samples through the IMM stage (spec.md §4.3),
// returning the per-sample mode classification the leg segmenter consumes.
func (c CandidateTrip) Filter() (imm.Result, error) {
	return imm.Run(c.Samples, imm.DefaultConfig())
}

// Split partitions samples (already sorted by time) into candidate trips on
// any gap of at least cfg.MinsBetweenTrips minutes, then drops candidates
// whose good-location samples never disperse beyond
// cfg.MinDistanceMovedInTrip meters from their centroid (spec.md §4.2,
// "dispersion" rule: a device sitting still with GPS jitter must not read
// as a trip). When includeAll is true, dropped candidates are still
// returned (with their samples' TripIndex left at -1) so no sample is
// silently discarded from a full-window dump.
func Split(samples []trajectory.Sample, cfg Config, includeAll bool) []CandidateTrip {
	if len(samples) == 0 {
		return nil
	}

	gap := time.Duration(cfg.MinsBetweenTrips) * time.Minute

	var runs [][]trajectory.Sample
	current := []trajectory.Sample{samples[0]}
	for i := 1; i < len(samples); i++ {
		if samples[i].Time.Sub(samples[i-1].Time) >= gap {
			runs = append(runs, current)
			current = nil
		}
		current = append(current, samples[i])
	}
	runs = append(runs, current)

	var trips []CandidateTrip
	index := 0
	for _, run := range runs {
		if !dispersed(run, cfg.MinDistanceMovedInTrip) {
			if includeAll {
				trips = append(trips, CandidateTrip{Index: -1, Samples: run})
			}
			continue
		}
		for i := range run {
			run[i].TripIndex = index
		}
		trips = append(trips, CandidateTrip{Index: index, Samples: run})
		index++
	}
	return trips
}

// minDispersedSamples is the number of good-location samples that must
// individually exceed minDistance from the run's centroid before the run
// counts as an actual trip (original_source/calc/trips.py: loc_count =
// d[d['mean_distance']>MIN_DISTANCE_MOVED_IN_TRIP]...; trips_to_keep =
// loc_count.index[loc_count > 10]).
const minDispersedSamples = 10

// dispersed reports whether more than minDispersedSamples of run's
// good-location samples sit more than minDistance meters from their
// centroid. A single GPS outlier must not be enough to turn a stationary
// run into a trip; many samples scattered around the centroid must.
func dispersed(run []trajectory.Sample, minDistance float64) bool {
	var sumX, sumY float64
	var n int
	for _, s := range run {
		if !s.GoodLocation() {
			continue
		}
		sumX += s.X
		sumY += s.Y
		n++
	}
	if n == 0 {
		return false
	}
	cx, cy := sumX/float64(n), sumY/float64(n)

	minDistSq := minDistance * minDistance
	var count int
	for _, s := range run {
		if !s.GoodLocation() {
			continue
		}
		dx, dy := s.X-cx, s.Y-cy
		d := dx*dx + dy*dy
		if d > minDistSq {
			count++
		}
	}
	return count > minDispersedSamples
}
