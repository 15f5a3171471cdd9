package tripsplit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/opentransittools/trajectorycore/business/data/trajectory"
)

func makeSample(t time.Time, x, y float64) trajectory.Sample {
	return trajectory.Sample{Time: t, X: x, Y: y, LocError: 5}
}

func TestSplit_TripGap(t *testing.T) {
	base := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)

	var samples []trajectory.Sample
	for i := 0; i < 30; i++ {
		frac := float64(i) / 29
		samples = append(samples, makeSample(base.Add(time.Duration(i)*time.Minute), frac*2000, 0))
	}
	secondStart := base.Add(30*time.Minute + 25*time.Minute)
	for i := 0; i < 30; i++ {
		frac := float64(i) / 29
		samples = append(samples, makeSample(secondStart.Add(time.Duration(i)*time.Minute), frac*2000, 0))
	}

	trips := Split(samples, Config{MinsBetweenTrips: 20, MinDistanceMovedInTrip: 200}, false)
	require.Len(t, trips, 2)
}

func TestSplit_NoiseRejection(t *testing.T) {
	base := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)

	var samples []trajectory.Sample
	for i := 0; i < 200; i++ {
		t := base.Add(time.Duration(i) * (40 * time.Minute / 200))
		dx := float64(i%7) - 3
		dy := float64(i%5) - 2
		samples = append(samples, makeSample(t, dx, dy))
	}

	trips := Split(samples, Config{MinsBetweenTrips: 20, MinDistanceMovedInTrip: 200}, false)
	require.Empty(t, trips)
}

func TestSplit_IncludeAllKeepsDroppedCandidates(t *testing.T) {
	base := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	var samples []trajectory.Sample
	for i := 0; i < 10; i++ {
		samples = append(samples, makeSample(base.Add(time.Duration(i)*time.Minute), float64(i%2), 0))
	}

	dropped := Split(samples, Config{MinsBetweenTrips: 20, MinDistanceMovedInTrip: 200}, false)
	require.Empty(t, dropped)

	kept := Split(samples, Config{MinsBetweenTrips: 20, MinDistanceMovedInTrip: 200}, true)
	require.Len(t, kept, 1)
	require.Equal(t, -1, kept[0].Index)
}

func TestCandidateTrip_StartEndTime(t *testing.T) {
	base := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	ct := CandidateTrip{Samples: []trajectory.Sample{
		makeSample(base, 0, 0),
		makeSample(base.Add(time.Minute), 10, 0),
	}}
	require.Equal(t, base, ct.StartTime())
	require.Equal(t, base.Add(time.Minute), ct.EndTime())
}
