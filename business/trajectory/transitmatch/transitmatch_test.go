package transitmatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/opentransittools/trajectorycore/business/data/trajectory"
)

type fakeTransitReader struct {
	obs []trajectory.TransitVehicleObservation
	err error
}

func (f fakeTransitReader) ReadTransitObservations(ctx context.Context, deviceID string, start, end time.Time) ([]trajectory.TransitVehicleObservation, error) {
	return f.obs, f.err
}

func busLeg(base time.Time, n int, offsetMeters float64) trajectory.Leg {
	locs := make([]trajectory.Point, n)
	times := make([]time.Time, n)
	for i := 0; i < n; i++ {
		locs[i] = trajectory.Point{X: float64(i) * 10, Y: offsetMeters}
		times[i] = base.Add(time.Duration(i) * 10 * time.Second)
	}
	return trajectory.Leg{
		StartTime:       times[0],
		EndTime:         times[n-1],
		SampleLocations: locs,
		SampleTimes:     times,
		Mode:            trajectory.ModeInVehicle,
	}
}

func busTrack(base time.Time, n int) []trajectory.TransitVehicleObservation {
	obs := make([]trajectory.TransitVehicleObservation, n)
	for i := 0; i < n; i++ {
		obs[i] = trajectory.TransitVehicleObservation{
			VehicleRef: "bus-1",
			Time:       base.Add(time.Duration(i) * 10 * time.Second),
			RouteType:  trajectory.RouteTypeBus,
			X:          float64(i) * 10,
			Y:          0,
		}
	}
	return obs
}

func TestMatch_WithinThresholdReclassifiesToBus(t *testing.T) {
	base := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	leg := busLeg(base, 10, 20) // 20m off the bus track, under the 60m bus threshold
	reader := fakeTransitReader{obs: busTrack(base, 10)}

	matched, err := Match(context.Background(), reader, "device-1", leg, Config{TimeWindow: time.Minute, UserHasCar: true})
	require.NoError(t, err)
	require.Equal(t, trajectory.ModeBus, matched.Mode)
}

func TestMatch_BeyondThresholdWithCarStaysInVehicle(t *testing.T) {
	base := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	leg := busLeg(base, 10, 200) // 200m off track, beyond the 60m bus threshold
	reader := fakeTransitReader{obs: busTrack(base, 10)}

	matched, err := Match(context.Background(), reader, "device-1", leg, Config{TimeWindow: time.Minute, UserHasCar: true})
	require.NoError(t, err)
	require.Equal(t, trajectory.ModeInVehicle, matched.Mode)
}

func TestMatch_BeyondThresholdWithoutCarStillMatches(t *testing.T) {
	base := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	leg := busLeg(base, 10, 200)
	reader := fakeTransitReader{obs: busTrack(base, 10)}

	matched, err := Match(context.Background(), reader, "device-1", leg, Config{TimeWindow: time.Minute, UserHasCar: false})
	require.NoError(t, err)
	require.Equal(t, trajectory.ModeBus, matched.Mode)
}

func TestMatch_NonVehicleLegIsUntouched(t *testing.T) {
	leg := trajectory.Leg{Mode: trajectory.ModeWalking}
	matched, err := Match(context.Background(), fakeTransitReader{}, "device-1", leg, Config{})
	require.NoError(t, err)
	require.Equal(t, trajectory.ModeWalking, matched.Mode)
}

func TestMatch_NoObservationsLeavesLegUnchanged(t *testing.T) {
	base := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	leg := busLeg(base, 10, 20)
	matched, err := Match(context.Background(), fakeTransitReader{}, "device-1", leg, Config{TimeWindow: time.Minute})
	require.NoError(t, err)
	require.Equal(t, trajectory.ModeInVehicle, matched.Mode)
}

func TestMatch_PicksClosestOfMultipleCandidates(t *testing.T) {
	base := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	leg := busLeg(base, 10, 10)

	far := busTrack(base, 10)
	for i := range far {
		far[i].VehicleRef = "bus-far"
		far[i].Y = 400
	}
	near := busTrack(base, 10)
	for i := range near {
		near[i].VehicleRef = "bus-near"
		near[i].Y = 10
	}

	reader := fakeTransitReader{obs: append(far, near...)}
	matched, err := Match(context.Background(), reader, "device-1", leg, Config{TimeWindow: time.Minute, UserHasCar: true})
	require.NoError(t, err)
	require.Equal(t, trajectory.ModeBus, matched.Mode)
}

func TestScoreCandidate_PerfectTrackScoresZero(t *testing.T) {
	base := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	leg := busLeg(base, 5, 0)
	obs := busTrack(base, 5)

	c := scoreCandidate(leg, "bus-1", obs)
	require.InDelta(t, 0, c.score, 1e-9)
}

func TestMaxDistanceThreshold_PerVehicleType(t *testing.T) {
	require.Equal(t, 80.0, maxDistanceThreshold(trajectory.RouteTypeTram))
	require.Equal(t, 500.0, maxDistanceThreshold(trajectory.RouteTypeTrain))
	require.Equal(t, 60.0, maxDistanceThreshold(trajectory.RouteTypeBus))
}
