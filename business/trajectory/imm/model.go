package imm

import "gonum.org/v1/gonum/mat"

// Mode indexes the fixed, ordered set of transport-mode sub-filters the IMM
// runs (spec.md §4.3 table). The order is wire-stable: index 0 is always
// still, 1 walking, 2 on_bicycle, 3 in_vehicle.
type Mode int

const (
	ModeStill Mode = iota
	ModeWalking
	ModeOnBicycle
	ModeInVehicle
	numModes = 4
)

func (m Mode) String() string {
	switch m {
	case ModeStill:
		return "still"
	case ModeWalking:
		return "walking"
	case ModeOnBicycle:
		return "on_bicycle"
	case ModeInVehicle:
		return "in_vehicle"
	default:
		return "unknown"
	}
}

// subModel holds the motion-model characteristics of one of the IMM's
// sub-filters: a 4-state (x, y, vx, vy) constant-velocity Kalman filter
// whose process noise and speed bias vary per spec.md §4.3's table.
type subModel struct {
	mode Mode
	// posProcessNoise / velProcessNoise populate the diagonal of Q, each
	// term scaled by dt.
	posProcessNoise float64
	velProcessNoise float64
	// speedBias is the filter's expected cruising speed, used only to
	// seed this sub-filter's initial velocity at the start of every trip.
	speedBias float64
	// nearRoadInflation marks the in_vehicle sub-model, whose measurement
	// position variance is scaled up when the sample sits far from any
	// road/rail axis (a vehicle should be near one). measurementVariance
	// applies that scaling by mode and does not read this field.
	nearRoadInflation bool
}

func defaultSubModels() [numModes]subModel {
	return [numModes]subModel{
		{mode: ModeStill, posProcessNoise: 0.01, velProcessNoise: 0.01, speedBias: 0},
		{mode: ModeWalking, posProcessNoise: 0.25, velProcessNoise: 0.25, speedBias: 1.3},
		{mode: ModeOnBicycle, posProcessNoise: 1.0, velProcessNoise: 1.5, speedBias: 4.0},
		{mode: ModeInVehicle, posProcessNoise: 4.0, velProcessNoise: 9.0, speedBias: 12.0, nearRoadInflation: true},
	}
}

// speedMeasurementVariance is the fixed measurement variance (m/s)^2 applied
// to a sample's reported speed, shared across all sub-models.
const speedMeasurementVariance = 2.0

// kalmanState is the (mean, covariance) pair for one sub-filter at one
// time step, both in mat.Dense form for 4x4/4x1 linear algebra.
type kalmanState struct {
	x *mat.VecDense // 4x1: x, y, vx, vy
	p *mat.Dense    // 4x4
}

func newKalmanState() *kalmanState {
	return &kalmanState{
		x: mat.NewVecDense(4, nil),
		p: identity(4, 1e4),
	}
}

func (k *kalmanState) clone() *kalmanState {
	x := mat.NewVecDense(4, nil)
	x.CloneFromVec(k.x)
	p := mat.NewDense(4, 4, nil)
	p.CloneFrom(k.p)
	return &kalmanState{x: x, p: p}
}

func identity(n int, scale float64) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, scale)
	}
	return m
}

// stateTransition returns the constant-velocity F matrix for step dt.
func stateTransition(dt float64) *mat.Dense {
	f := mat.NewDense(4, 4, []float64{
		1, 0, dt, 0,
		0, 1, 0, dt,
		0, 0, 1, 0,
		0, 0, 0, 1,
	})
	return f
}

// processNoise returns Q for a sub-model discretized over dt.
func processNoise(sm subModel, dt float64) *mat.Dense {
	if dt <= 0 {
		dt = 1
	}
	q := mat.NewDense(4, 4, nil)
	q.Set(0, 0, sm.posProcessNoise*dt)
	q.Set(1, 1, sm.posProcessNoise*dt)
	q.Set(2, 2, sm.velProcessNoise*dt)
	q.Set(3, 3, sm.velProcessNoise*dt)
	return q
}

// predict computes x' = F x, P' = F P F^T + Q, returning the predicted
// state as a new value (the input is left untouched so callers can keep
// the prior for numeric fallback).
func predict(prior *kalmanState, sm subModel, dt float64) *kalmanState {
	f := stateTransition(dt)
	q := processNoise(sm, dt)

	var xPred mat.VecDense
	xPred.MulVec(f, prior.x)

	var fp mat.Dense
	fp.Mul(f, prior.p)
	var fpft mat.Dense
	fpft.Mul(&fp, f.T())
	fpft.Add(&fpft, q)

	return &kalmanState{x: &xPred, p: &fpft}
}
