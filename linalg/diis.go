package linalg

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// DIIS is Pulay's direct inversion in the iterative subspace.
// It keeps the last few trial vectors with their error vectors and
// extrapolates to the combination with the smallest error.
type DIIS struct {
	space int
	vecs  [][]float64
	errs  [][]float64
}

// NewDIIS returns a DIIS extrapolator that keeps space vectors.
func NewDIIS(space int) *DIIS {
	return &DIIS{space: space}
}

// Update records vec with its error and returns the extrapolated vector.
// vec itself is returned while fewer than two vectors are known or the equations are singular.
func (d *DIIS) Update(vec, err []float64) []float64 {
	d.vecs = append(d.vecs, slices.Clone(vec))
	d.errs = append(d.errs, slices.Clone(err))
	if len(d.vecs) > d.space {
		d.vecs = d.vecs[1:]
		d.errs = d.errs[1:]
	}

	coefs, ok := diisCoefficients(d.errs)
	if !ok {
		return vec
	}
	out := make([]float64, len(vec))
	for i, v := range d.vecs {
		floats.AddScaled(out, coefs[i], v)
	}
	return out
}

// diisCoefficients solves
//
//	[B  -1] [c]   [ 0]
//	[-1  0] [l] = [-1]
//
// with B[i,j] the inner product of error vectors i and j.
func diisCoefficients(errs [][]float64) ([]float64, bool) {
	n := len(errs)
	if n < 2 {
		return nil, false
	}
	b := mat.NewDense(n+1, n+1, nil)
	for i := range n {
		b.Set(i, n, -1)
		b.Set(n, i, -1)
		for j := 0; j <= i; j++ {
			v := floats.Dot(errs[i], errs[j])
			b.Set(i, j, v)
			b.Set(j, i, v)
		}
	}
	rhs := mat.NewVecDense(n+1, nil)
	rhs.SetVec(n, -1)

	var lu mat.LU
	lu.Factorize(b)
	var coefs mat.VecDense
	if err := lu.SolveVecTo(&coefs, false, rhs); err != nil {
		// Near convergence the error vectors are tiny and B is ill conditioned, the solution is still usable.
		cond, ok := err.(mat.Condition)
		if !ok || math.IsInf(float64(cond), 1) || math.IsNaN(coefs.AtVec(0)) {
			return nil, false
		}
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = coefs.AtVec(i)
	}
	return out, true
}
