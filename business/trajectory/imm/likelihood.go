package imm

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// PositionLogLikelihood returns the log-Gaussian likelihood of a planar
// position innovation (dx, dy) under an isotropic measurement variance,
// reusing the same Gaussian-density primitive the measurement update step
// uses internally (gaussianLikelihood in mix.go). This is the "reduced
// form" IMM reuse spec.md §4.5 calls for in the transit matcher: instead of
// re-running a full multi-step Kalman recursion per candidate vehicle, it
// applies the filter's own innovation-likelihood math directly to each
// (leg sample, candidate position) pair.
func PositionLogLikelihood(dx, dy, variance float64) float64 {
	if variance <= 0 {
		variance = 1
	}
	innovation := mat.NewVecDense(2, []float64{dx, dy})
	s := mat.NewDense(2, 2, []float64{variance, 0, 0, variance})
	var sInv mat.Dense
	if err := sInv.Inverse(s); err != nil {
		return math.Log(likelihoodFloor)
	}
	lik := gaussianLikelihood(innovation, s, &sInv)
	if lik <= 0 {
		// The density underflowed; take its log directly so a larger
		// innovation never scores higher than a smaller one.
		return -math.Log(2*math.Pi*variance) - 0.5*(dx*dx+dy*dy)/variance
	}
	return math.Log(lik)
}
