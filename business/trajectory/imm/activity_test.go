package imm

import (
	"testing"

	"github.com/matryer/is"

	"github.com/opentransittools/trajectorycore/business/data/trajectory"
)

func TestActivityConfusion_WeightsAreNonNegative(t *testing.T) {
	is := is.New(t)
	for _, row := range activityConfusion {
		for _, w := range row {
			is.True(w >= 0)
		}
	}
}

func TestActivityConfusion_InVehicleDominatesItsOwnRow(t *testing.T) {
	is := is.New(t)
	row := activityConfusion[trajectory.ActivityInVehicle]
	is.True(row[ModeInVehicle] > row[ModeStill])
	is.True(row[ModeInVehicle] > row[ModeWalking])
	is.True(row[ModeInVehicle] > row[ModeOnBicycle])
}

func TestActivityConfusion_StillDominatesItsOwnRow(t *testing.T) {
	is := is.New(t)
	row := activityConfusion[trajectory.ActivityStill]
	is.True(row[ModeStill] > row[ModeWalking])
	is.True(row[ModeStill] > row[ModeOnBicycle])
	is.True(row[ModeStill] > row[ModeInVehicle])
}
