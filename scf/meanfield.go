// Package scf provides the restricted mean field that embedding calculations start from.
package scf

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/fumin/embcc/linalg"
)

// MeanField is a converged closed shell mean-field solution in an atomic orbital basis.
// Implementations must be safe for concurrent readers; callers must not modify returned matrices.
type MeanField interface {
	Ovlp() *mat.Dense
	Hcore() *mat.Dense
	Fock() *mat.Dense
	// RDM1 is the spin summed density matrix in the AO basis.
	RDM1() *mat.Dense
	MoEnergy() []float64
	MoCoeff() *mat.Dense
	MoOcc() []float64
	ETot() float64
	ENuc() float64
	Converged() bool
	// ERI returns the AO two-electron integrals (pq|rs).
	ERI() *linalg.Tensor4

	NElectron() int
	AOLabels() []string
	AOAtoms() []int
}

// Result is an in-memory MeanField.
type Result struct {
	ints      *Integrals
	fock      *mat.Dense
	rdm1      *mat.Dense
	moCoeff   *mat.Dense
	moEnergy  []float64
	moOcc     []float64
	eTot      float64
	converged bool
}

// FromFock builds a mean field by diagonalizing the Fock matrix in the metric of the overlap
// and doubly occupying the lowest orbitals.
// The total energy is evaluated with the resulting density, which is self consistent only if fock is.
func FromFock(ints *Integrals, fock *mat.Dense, converged bool) (*Result, error) {
	x, err := linalg.FractionalPower(ints.S, -0.5)
	if err != nil {
		return nil, errors.Wrap(err, "overlap")
	}
	eps, c, err := generalizedEigh(fock, x)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	nocc := ints.NElectron / 2
	if nocc > len(eps) {
		return nil, errors.Errorf("%d occupied orbitals in %d functions", nocc, len(eps))
	}
	occ := make([]float64, len(eps))
	for i := range nocc {
		occ[i] = 2
	}
	d := density(c, nocc)

	r := &Result{
		ints:      ints,
		fock:      fock,
		rdm1:      d,
		moCoeff:   c,
		moEnergy:  eps,
		moOcc:     occ,
		eTot:      electronicEnergy(ints.Hcore, fock, d) + ints.ENuc,
		converged: converged,
	}
	return r, nil
}

func (r *Result) Ovlp() *mat.Dense      { return r.ints.S }
func (r *Result) Hcore() *mat.Dense     { return r.ints.Hcore }
func (r *Result) Fock() *mat.Dense      { return r.fock }
func (r *Result) RDM1() *mat.Dense      { return r.rdm1 }
func (r *Result) MoEnergy() []float64   { return r.moEnergy }
func (r *Result) MoCoeff() *mat.Dense   { return r.moCoeff }
func (r *Result) MoOcc() []float64      { return r.moOcc }
func (r *Result) ETot() float64         { return r.eTot }
func (r *Result) ENuc() float64         { return r.ints.ENuc }
func (r *Result) Converged() bool       { return r.converged }
func (r *Result) ERI() *linalg.Tensor4  { return r.ints.ERI }
func (r *Result) NElectron() int        { return r.ints.NElectron }
func (r *Result) AOLabels() []string    { return r.ints.AOLabels }
func (r *Result) AOAtoms() []int        { return r.ints.AOAtoms }
func (r *Result) Integrals() *Integrals { return r.ints }

// NOcc returns the number of doubly occupied orbitals.
func (r *Result) NOcc() int {
	return int(floats.Sum(r.moOcc)+0.5) / 2
}

// generalizedEigh solves F C = S C e given x = S^-1/2.
func generalizedEigh(f, x *mat.Dense) ([]float64, *mat.Dense, error) {
	vals, vecs, err := linalg.Eigh(linalg.MultiDot(x, f, x))
	if err != nil {
		return nil, nil, errors.Wrap(err, "")
	}
	return vals, linalg.MultiDot(x, vecs), nil
}

func density(c *mat.Dense, nocc int) *mat.Dense {
	n, _ := c.Dims()
	d := mat.NewDense(n, n, nil)
	if nocc == 0 {
		return d
	}
	cocc := c.Slice(0, n, 0, nocc)
	d.Mul(cocc, cocc.T())
	d.Scale(2, d)
	return d
}

func electronicEnergy(h, f, d *mat.Dense) float64 {
	var hf mat.Dense
	hf.Add(h, f)
	var e float64
	r, c := d.Dims()
	for i := range r {
		for j := range c {
			e += d.At(i, j) * hf.At(i, j)
		}
	}
	return e / 2
}
