package trajectory

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/opentransittools/trajectorycore/business/data/trajectory"
)

type fakeSampleReader struct {
	samples []trajectory.Sample
}

func (f fakeSampleReader) ReadLocations(ctx context.Context, deviceID string, start, end time.Time, includeAll bool) ([]trajectory.Sample, error) {
	return f.samples, nil
}

type fakeTransitReader struct{}

func (fakeTransitReader) ReadTransitObservations(ctx context.Context, deviceID string, start, end time.Time) ([]trajectory.TransitVehicleObservation, error) {
	return nil, nil
}

type fakePriorLegReader struct {
	userEdited bool
}

func (f fakePriorLegReader) HasUserEditedLegs(ctx context.Context, deviceID string, tripStart, tripEnd time.Time) (bool, error) {
	return f.userEdited, nil
}

type fakeTripWriter struct {
	writes int
}

func (f *fakeTripWriter) WriteTrip(ctx context.Context, deviceID string, tripStart, tripEnd time.Time, legs []trajectory.Leg) error {
	f.writes++
	return nil
}

func walkingTripSamples(base time.Time, n int) []trajectory.Sample {
	samples := make([]trajectory.Sample, n)
	for i := 0; i < n; i++ {
		samples[i] = trajectory.Sample{
			Time:               base.Add(time.Duration(i) * time.Second),
			X:                  5.0 * float64(i),
			Y:                  0,
			LocError:           5,
			Activity:           trajectory.ActivityWalking,
			ActivityConfidence: 0.9,
		}
	}
	return samples
}

func discardLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestRunDevice_SkipsTripWithUserEditedLegs(t *testing.T) {
	base := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	reader := fakeSampleReader{samples: walkingTripSamples(base, 300)}
	writer := &fakeTripWriter{}

	err := RunDevice(context.Background(), discardLogger(), DefaultPipelineConfig(),
		"device-1", base, base.Add(time.Hour), true,
		reader, fakeTransitReader{}, fakePriorLegReader{userEdited: true}, writer, nil)

	require.NoError(t, err)
	require.Equal(t, 0, writer.writes, "a trip with user-edited legs must never be overwritten")
}

func TestRunDevice_WritesTripWithoutUserEdits(t *testing.T) {
	base := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	reader := fakeSampleReader{samples: walkingTripSamples(base, 300)}
	writer := &fakeTripWriter{}

	err := RunDevice(context.Background(), discardLogger(), DefaultPipelineConfig(),
		"device-1", base, base.Add(time.Hour), true,
		reader, fakeTransitReader{}, fakePriorLegReader{userEdited: false}, writer, nil)

	require.NoError(t, err)
	require.Equal(t, 1, writer.writes)
}

func TestRunDevice_NoSamplesReturnsNoDataError(t *testing.T) {
	writer := &fakeTripWriter{}
	err := RunDevice(context.Background(), discardLogger(), DefaultPipelineConfig(),
		"device-1", time.Now(), time.Now(), false,
		fakeSampleReader{}, fakeTransitReader{}, fakePriorLegReader{}, writer, nil)

	require.Error(t, err)
	require.Equal(t, 0, writer.writes)
}
