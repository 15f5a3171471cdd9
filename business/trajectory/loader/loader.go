// Package loader implements the Sample Loader stage (spec.md §4.1): it pulls
// a time-ordered window of samples for one device, precomputes per-sample
// deltas, and trims a possibly-in-progress tail burst.
package loader

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/opentransittools/trajectorycore/business/data/store"
	"github.com/opentransittools/trajectorycore/business/data/trajectory"
	"github.com/opentransittools/trajectorycore/business/trajectory/errs"
)

// Load pulls samples for deviceID in [start, end), sorts them by time,
// precomputes DeltaT/DeltaD, and applies tail trimming unless includeAll is
// set. Returns errs.NoDataError when the window has no samples at all.
func Load(ctx context.Context, reader store.SampleReader, deviceID string, start, end time.Time, includeAll bool) ([]trajectory.Sample, error) {
	samples, err := reader.ReadLocations(ctx, deviceID, start, end, includeAll)
	if err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, errs.NoData(deviceID)
	}

	sort.Slice(samples, func(i, j int) bool { return samples[i].Time.Before(samples[j].Time) })

	for i := range samples {
		if i == 0 {
			samples[i].DeltaT = 0
			samples[i].DeltaD = 0
			samples[i].TripIndex = -1
			continue
		}
		prev := samples[i-1]
		samples[i].DeltaT = samples[i].Time.Sub(prev.Time).Seconds()
		samples[i].DeltaD = planarDistance(prev.X, prev.Y, samples[i].X, samples[i].Y)
		samples[i].TripIndex = -1
	}

	if !includeAll {
		samples = trimInProgressTail(samples)
	}
	if len(samples) == 0 {
		return nil, errs.NoData(deviceID)
	}
	return samples, nil
}

// trimInProgressTail implements spec.md §4.1's tail trimming rule: keep
// everything up to and including the last sample explicitly reported
// not-moving; if no sample reports not-moving, drop the final receive
// burst (everything sharing the maximum ReceivedAt) since that trip might
// still be in progress.
func trimInProgressTail(samples []trajectory.Sample) []trajectory.Sample {
	var lastNotMoving time.Time
	haveNotMoving := false
	for _, s := range samples {
		if s.IsMoving != nil && !*s.IsMoving {
			if !haveNotMoving || s.Time.After(lastNotMoving) {
				lastNotMoving = s.Time
				haveNotMoving = true
			}
		}
	}

	if haveNotMoving {
		out := make([]trajectory.Sample, 0, len(samples))
		for _, s := range samples {
			if !s.Time.After(lastNotMoving) {
				out = append(out, s)
			}
		}
		return out
	}

	var maxReceivedAt time.Time
	for _, s := range samples {
		if s.ReceivedAt.After(maxReceivedAt) {
			maxReceivedAt = s.ReceivedAt
		}
	}
	out := make([]trajectory.Sample, 0, len(samples))
	for _, s := range samples {
		if s.ReceivedAt.Before(maxReceivedAt) {
			out = append(out, s)
		}
	}
	return out
}

func planarDistance(x1, y1, x2, y2 float64) float64 {
	dx := x2 - x1
	dy := y2 - y1
	return math.Sqrt(dx*dx + dy*dy)
}
