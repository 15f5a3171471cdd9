package imm

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/opentransittools/trajectorycore/business/data/trajectory"
)

// likelihoodFloor is the minimum likelihood assigned to a sub-filter whose
// innovation covariance is non-PD (spec.md §4.3 "tie-breaking and
// degeneracy"): rather than zeroing it out entirely, which would let a
// single bad sub-filter vanish from the mode-probability update, it falls
// back to its mixed prior with a small floored likelihood.
const likelihoodFloor = 1e-6

// transitionMatrix is M[i][j] = P(mode j at t | mode i at t-1), the
// mode-mixing prior of spec.md §4.3. It is row-stochastic (each row sums to
// 1) and diagonally dominant: transport mode is sticky sample-to-sample, but
// bicycle<->vehicle and walking<->vehicle are given a little more mass than
// still<->vehicle, since those are the transitions real trips exhibit.
var transitionMatrix = [numModes][numModes]float64{
	// from Still
	{0.970, 0.020, 0.005, 0.005},
	// from Walking
	{0.015, 0.960, 0.015, 0.010},
	// from OnBicycle
	{0.005, 0.025, 0.950, 0.020},
	// from InVehicle
	{0.005, 0.010, 0.015, 0.970},
}

// stepResult carries what one IMM time-step produced for every sub-filter,
// reused by both the combined-estimate calculation and the Viterbi pass so
// the two stay consistent.
type stepResult struct {
	filtered   [numModes]*kalmanState
	likelihood [numModes]float64
}

// measurementUpdate performs a KF correction against sample's reported
// position and, when present, its reported speed (spec.md §4.3: "measurement
// vector is (x, y, speed) with measurement covariance derived from
// location_std² for position and a fixed speed variance"). Speed enters as
// an EKF row: h_speed(x) = |(vx, vy)|, linearized about the predicted
// velocity, since speed is a nonlinear function of the filter's (vx, vy)
// state. When a sub-filter's innovation covariance is non-PD it falls back
// to its predicted state uncorrected, with its likelihood floored at likelihoodFloor
// rather than zeroed, so it still registers as "implausible, not impossible"
// in the mode-probability update.
func measurementUpdate(pred *kalmanState, sample trajectory.Sample, rx, ry, rSpeed float64) (*kalmanState, float64) {
	rows := 2
	hasSpeed := sample.Speed != nil
	if hasSpeed {
		rows = 3
	}

	xPred, yPred := pred.x.AtVec(0), pred.x.AtVec(1)
	vxPred, vyPred := pred.x.AtVec(2), pred.x.AtVec(3)
	speedPred := math.Hypot(vxPred, vyPred)

	h := mat.NewDense(rows, 4, nil)
	h.Set(0, 0, 1)
	h.Set(1, 1, 1)
	r := mat.NewDense(rows, rows, nil)
	r.Set(0, 0, rx)
	r.Set(1, 1, ry)

	innovation := mat.NewVecDense(rows, nil)
	innovation.SetVec(0, sample.X-xPred)
	innovation.SetVec(1, sample.Y-yPred)

	if hasSpeed {
		if speedPred > 1e-6 {
			h.Set(2, 2, vxPred/speedPred)
			h.Set(2, 3, vyPred/speedPred)
		}
		r.Set(2, 2, rSpeed)
		innovation.SetVec(2, *sample.Speed-speedPred)
	}

	var hp mat.Dense
	hp.Mul(h, pred.p)
	var s mat.Dense
	s.Mul(&hp, h.T())
	s.Add(&s, r)

	var chol mat.Cholesky
	if !chol.Factorize(mat.NewSymDense(rows, s.RawMatrix().Data)) {
		return pred, likelihoodFloor
	}

	var sInv mat.Dense
	if err := sInv.Inverse(&s); err != nil {
		return pred, likelihoodFloor
	}

	var ht mat.Dense
	ht.Mul(pred.p, h.T())
	var k mat.Dense
	k.Mul(&ht, &sInv)

	var correction mat.VecDense
	correction.MulVec(&k, innovation)
	var xNew mat.VecDense
	xNew.AddVec(pred.x, &correction)

	var kh mat.Dense
	kh.Mul(&k, h)
	ikh := identity(4, 1)
	ikh.Sub(ikh, &kh)
	var pNew mat.Dense
	pNew.Mul(ikh, pred.p)

	lik := gaussianLikelihood(innovation, &s, &sInv)
	return &kalmanState{x: &xNew, p: &pNew}, lik
}

func gaussianLikelihood(innovation *mat.VecDense, s, sInv *mat.Dense) float64 {
	det := mat.Det(s)
	if det <= 0 || math.IsNaN(det) {
		return 0
	}
	var tmp mat.VecDense
	tmp.MulVec(sInv, innovation)
	mahal := mat.Dot(innovation, &tmp)
	norm := 1.0 / (2 * math.Pi * math.Sqrt(det))
	return norm * math.Exp(-0.5*mahal)
}

// mix computes the IMM mixed initial conditions for every sub-filter given
// the previous states and mode probabilities, per the standard IMM mixing
// equations. It also returns c[j], the normalizer used both as the mixed
// initial weight denominator and as the predicted mode probability that
// updateModeProbabilities weights each likelihood by. The Viterbi trellis
// does not use c; it reads transitionMatrix directly.
func mix(prev [numModes]*kalmanState, mu [numModes]float64) (mixed [numModes]*kalmanState, c [numModes]float64) {
	for j := 0; j < numModes; j++ {
		for i := 0; i < numModes; i++ {
			c[j] += transitionMatrix[i][j] * mu[i]
		}
		if c[j] < 1e-12 {
			c[j] = 1e-12
		}
	}

	for j := 0; j < numModes; j++ {
		xMix := mat.NewVecDense(4, nil)
		for i := 0; i < numModes; i++ {
			w := transitionMatrix[i][j] * mu[i] / c[j]
			var scaled mat.VecDense
			scaled.ScaleVec(w, prev[i].x)
			xMix.AddVec(xMix, &scaled)
		}

		pMix := mat.NewDense(4, 4, nil)
		for i := 0; i < numModes; i++ {
			w := transitionMatrix[i][j] * mu[i] / c[j]

			var diff mat.VecDense
			diff.SubVec(prev[i].x, xMix)
			var outer mat.Dense
			outer.Outer(1, &diff, &diff)
			outer.Add(&outer, prev[i].p)
			outer.Scale(w, &outer)
			pMix.Add(pMix, &outer)
		}
		mixed[j] = &kalmanState{x: xMix, p: pMix}
	}
	return mixed, c
}

// combine fuses the per-mode filtered states into one output estimate and
// returns the mixed (x, y) position, each state weighted by its mode
// probability in mu.
func combine(filtered [numModes]*kalmanState, mu [numModes]float64) (x, y float64) {
	for i := 0; i < numModes; i++ {
		x += mu[i] * filtered[i].x.AtVec(0)
		y += mu[i] * filtered[i].x.AtVec(1)
	}
	return x, y
}

func updateModeProbabilities(c, likelihood [numModes]float64) [numModes]float64 {
	var raw [numModes]float64
	var sum float64
	for i := 0; i < numModes; i++ {
		raw[i] = c[i] * likelihood[i]
		sum += raw[i]
	}
	if sum < 1e-300 {
		// Total degeneracy: every sub-filter's likelihood underflowed.
		// Restore the uniform prior rather than producing NaNs or biasing
		// toward whichever mode happened to mix in the most prior mass.
		return [numModes]float64{0.25, 0.25, 0.25, 0.25}
	}
	var mu [numModes]float64
	for i := 0; i < numModes; i++ {
		mu[i] = raw[i] / sum
	}
	return mu
}
