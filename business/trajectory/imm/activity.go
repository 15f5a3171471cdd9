package imm

import "github.com/opentransittools/trajectorycore/business/data/trajectory"

// activityConfusion gives P(reported activity type | true mode), used as a
// multiplicative prior on each sub-filter's likelihood for samples that
// carry a device-reported activity classification (spec.md §4.3, "activity
// class prior"). Rows follow trajectory.ActivityType's iota order (Unknown,
// Still, OnFoot, Walking, Running, OnBicycle, InVehicle); columns follow
// Mode's iota order (Still, Walking, OnBicycle, InVehicle). OnFoot shares
// Walking's row; Running's row also points to Walking, with slightly more
// weight on Walking and less on Still.
var activityConfusion = [7][numModes]float64{
	trajectory.ActivityUnknown:   {1, 1, 1, 1},
	trajectory.ActivityStill:     {0.90, 0.08, 0.01, 0.01},
	trajectory.ActivityOnFoot:    {0.05, 0.85, 0.08, 0.02},
	trajectory.ActivityWalking:   {0.05, 0.85, 0.08, 0.02},
	trajectory.ActivityRunning:   {0.02, 0.88, 0.08, 0.02},
	trajectory.ActivityOnBicycle: {0.02, 0.10, 0.80, 0.08},
	trajectory.ActivityInVehicle: {0.01, 0.02, 0.07, 0.90},
}

// activityPrior returns the confusion-matrix weight for mode given a
// sample's reported activity type and confidence. Per spec.md §4.3, a
// reported confidence of exactly 1.0 is halved before use (devices that
// always report 100% confidence are known to be overconfident), and any
// confidence below 0.5 is dropped (treated as Unknown).
func activityPrior(atype trajectory.ActivityType, confidence float64, mode Mode) float64 {
	if confidence == 1.0 {
		confidence = 0.5
	}
	if confidence < 0.5 {
		atype = trajectory.ActivityUnknown
	}
	row := activityConfusion[atype]
	// Blend the confusion-matrix weight with 1 (no information) in
	// proportion to confidence, so a low-but-accepted confidence still
	// pulls the prior only partway.
	w := row[int(mode)]
	return 1 + confidence*(w-1)
}
