package legsegment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/opentransittools/trajectorycore/business/data/trajectory"
	"github.com/opentransittools/trajectorycore/business/trajectory/imm"
)

func modeResult(base time.Time, n int, modes []imm.Mode) imm.Result {
	samples := make([]trajectory.Sample, n)
	x := make([]float64, n)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		samples[i] = trajectory.Sample{Time: base.Add(time.Duration(i) * time.Minute), LocError: 5}
		x[i] = float64(i)
	}
	return imm.Result{
		Samples:   samples,
		ModePath:  modes,
		ModeProbs: make([][4]float64, n),
		SmoothedX: x,
		SmoothedY: y,
	}
}

func repeat(mode imm.Mode, n int) []imm.Mode {
	out := make([]imm.Mode, n)
	for i := range out {
		out[i] = mode
	}
	return out
}

func TestSegment_ModeFlickerStabilized(t *testing.T) {
	base := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	modes := repeat(imm.ModeWalking, 60)
	modes[20] = imm.ModeOnBicycle
	modes[40] = imm.ModeOnBicycle

	result := modeResult(base, 60, modes)
	legs := Segment(result, Config{MinSamplesPerLeg: 15, MaxMethods: 3, EnableMethodCap: true})

	require.Len(t, legs, 1)
	require.Equal(t, trajectory.ModeWalking, legs[0].Mode)
	require.Len(t, legs[0].SampleLocations, 60)
}

func TestSegment_BicycleVehicleImplausibleMerge(t *testing.T) {
	base := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	var modes []imm.Mode
	modes = append(modes, repeat(imm.ModeOnBicycle, 20)...)
	modes = append(modes, repeat(imm.ModeInVehicle, 20)...)

	result := modeResult(base, 40, modes)
	// Bicycle travels at 20 km/h, vehicle at 60 km/h over the same
	// per-sample duration, so the vehicle run's path is 3x longer —
	// spec.md §4.4's "longer leg's mode wins" tiebreak.
	for i := 0; i < 20; i++ {
		result.SmoothedX[i] = float64(i) * 5.5
	}
	for i := 20; i < 40; i++ {
		result.SmoothedX[i] = result.SmoothedX[19] + float64(i-19)*16.6
	}

	legs := Segment(result, Config{MinSamplesPerLeg: 15, MaxMethods: 3, EnableMethodCap: true})

	require.Len(t, legs, 1)
	require.Equal(t, trajectory.ModeInVehicle, legs[0].Mode)
}

func TestSegment_ShortBicycleSandwichedByVehicleIsAbsorbed(t *testing.T) {
	base := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	var modes []imm.Mode
	modes = append(modes, repeat(imm.ModeInVehicle, 20)...)
	modes = append(modes, repeat(imm.ModeOnBicycle, 3)...)
	modes = append(modes, repeat(imm.ModeInVehicle, 20)...)

	result := modeResult(base, 43, modes)
	legs := Segment(result, Config{MinSamplesPerLeg: 15, MaxMethods: 3, EnableMethodCap: true})

	require.Len(t, legs, 1)
	require.Equal(t, trajectory.ModeInVehicle, legs[0].Mode)
}

func TestSegment_StillRunsAreDropped(t *testing.T) {
	base := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	var modes []imm.Mode
	modes = append(modes, repeat(imm.ModeWalking, 20)...)
	modes = append(modes, repeat(imm.ModeStill, 20)...)
	modes = append(modes, repeat(imm.ModeWalking, 20)...)

	result := modeResult(base, 60, modes)
	legs := Segment(result, Config{MinSamplesPerLeg: 15, MaxMethods: 3, EnableMethodCap: true})

	for _, leg := range legs {
		require.True(t, leg.Mode.IsLegal())
	}
}

func TestSegment_MethodCapMergesSmallestRun(t *testing.T) {
	base := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	var modes []imm.Mode
	modes = append(modes, repeat(imm.ModeWalking, 30)...)
	modes = append(modes, repeat(imm.ModeOnBicycle, 30)...)
	modes = append(modes, repeat(imm.ModeInVehicle, 30)...)
	modes = append(modes, repeat(imm.ModeWalking, 30)...)

	result := modeResult(base, 120, modes)
	legs := Segment(result, Config{MinSamplesPerLeg: 15, MaxMethods: 2, EnableMethodCap: true})

	distinct := map[trajectory.TransportMode]bool{}
	for _, leg := range legs {
		distinct[leg.Mode] = true
	}
	require.LessOrEqual(t, len(distinct), 2)
}
