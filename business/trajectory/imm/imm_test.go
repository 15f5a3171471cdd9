package imm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/opentransittools/trajectorycore/business/data/trajectory"
)

func walkingSamples(n int, base time.Time) []trajectory.Sample {
	samples := make([]trajectory.Sample, n)
	speed := 1.3
	for i := 0; i < n; i++ {
		t := base.Add(time.Duration(i) * time.Second)
		var dt float64
		if i > 0 {
			dt = 1
		}
		samples[i] = trajectory.Sample{
			Time:               t,
			X:                  speed * float64(i),
			Y:                  0,
			LocError:           5,
			Activity:           trajectory.ActivityWalking,
			ActivityConfidence: 0.9,
			DeltaT:             dt,
		}
	}
	return samples
}

func TestRun_ProducesOutputForEverySample(t *testing.T) {
	base := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	samples := walkingSamples(50, base)

	result, err := Run(samples, DefaultConfig())
	require.NoError(t, err)
	require.Len(t, result.ModePath, len(samples))
	require.Len(t, result.ModeProbs, len(samples))
	require.Len(t, result.SmoothedX, len(samples))
	require.Len(t, result.SmoothedY, len(samples))
}

func TestRun_ModeProbabilitiesSumToOne(t *testing.T) {
	base := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	samples := walkingSamples(30, base)

	result, err := Run(samples, DefaultConfig())
	require.NoError(t, err)
	for i, probs := range result.ModeProbs {
		var sum float64
		for _, p := range probs {
			sum += p
		}
		require.InDelta(t, 1.0, sum, 1e-6, "sample %d", i)
	}
}

func TestRun_SingleSampleIsNotError(t *testing.T) {
	base := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	samples := walkingSamples(1, base)
	result, err := Run(samples, DefaultConfig())
	require.NoError(t, err)
	require.Len(t, result.ModePath, 1)
}

func TestRun_NoSamplesIsError(t *testing.T) {
	_, err := Run(nil, DefaultConfig())
	require.Error(t, err)
}

func TestActivityPrior_OverconfidentReportIsHalved(t *testing.T) {
	full := activityPrior(trajectory.ActivityWalking, 1.0, ModeWalking)
	half := activityPrior(trajectory.ActivityWalking, 0.5, ModeWalking)
	require.InDelta(t, full, half, 1e-9)
}

func TestActivityPrior_LowConfidenceTreatedAsUnknown(t *testing.T) {
	p := activityPrior(trajectory.ActivityInVehicle, 0.2, ModeWalking)
	require.InDelta(t, 1.0, p, 1e-9)
}

func TestMode_TransportModeMapping(t *testing.T) {
	require.Equal(t, trajectory.ModeStill, ModeStill.TransportMode())
	require.Equal(t, trajectory.ModeWalking, ModeWalking.TransportMode())
	require.Equal(t, trajectory.ModeOnBicycle, ModeOnBicycle.TransportMode())
	require.Equal(t, trajectory.ModeInVehicle, ModeInVehicle.TransportMode())
}
