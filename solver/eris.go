// Package solver implements the correlated wavefunction methods run on embedded clusters:
// second order Møller-Plesset perturbation theory, coupled cluster with singles and doubles,
// and determinant based configuration interaction.
//
// Every solver is constructed from a mean field, a full set of molecular orbitals with their occupations,
// and a list of frozen orbitals. Occupied active orbitals must precede virtual active orbitals.
package solver

import (
	"slices"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/fumin/embcc/linalg"
	"github.com/fumin/embcc/scf"
)

// ERIs holds the integrals of the active space.
type ERIs struct {
	MoCoeff *mat.Dense
	// Fock is the mean-field Fock matrix in the active orbitals.
	Fock     *mat.Dense
	MoEnergy []float64
	NOcc     int
	// ERI holds (pq|rs) over active orbitals.
	ERI *linalg.Tensor4
	// H1 is the core Hamiltonian dressed with the frozen occupied orbitals.
	H1    *mat.Dense
	ECore float64
}

// NMO returns the number of active orbitals.
func (e *ERIs) NMO() int { return len(e.MoEnergy) }

// NVir returns the number of active virtual orbitals.
func (e *ERIs) NVir() int { return e.NMO() - e.NOcc }

// OVOV returns (ia|jb) as a tensor indexed [i,a,j,b].
func (e *ERIs) OVOV() *linalg.Tensor4 {
	no, nv := e.NOcc, e.NVir()
	out := linalg.NewTensor4(no, nv, no, nv)
	for i := range no {
		for a := range nv {
			for j := range no {
				for b := range nv {
					out.Set(i, a, j, b, e.ERI.At(i, no+a, j, no+b))
				}
			}
		}
	}
	return out
}

// EHF returns the energy of the reference determinant including the core.
func (e *ERIs) EHF() float64 {
	en := e.ECore
	for i := range e.NOcc {
		en += 2 * e.H1.At(i, i)
		for j := range e.NOcc {
			en += 2*e.ERI.At(i, i, j, j) - e.ERI.At(i, j, j, i)
		}
	}
	return en
}

// frame is the orbital bookkeeping shared by all solvers.
type frame struct {
	mf      scf.MeanField
	moCoeff *mat.Dense
	moOcc   []float64
	frozen  []int

	active []int
	core   []int
	nocc   int
}

func newFrame(mf scf.MeanField, moCoeff *mat.Dense, moOcc []float64, frozen []int) (frame, error) {
	fr := frame{mf: mf, moCoeff: moCoeff, moOcc: moOcc, frozen: slices.Clone(frozen)}
	nmo := linalg.Cols(moCoeff)
	if nmo != len(moOcc) {
		return frame{}, errors.Errorf("%d orbitals with %d occupations", nmo, len(moOcc))
	}
	if r := linalg.Rows(moCoeff); r != linalg.Rows(mf.Ovlp()) {
		return frame{}, errors.Errorf("%d coefficient rows, %d basis functions", r, linalg.Rows(mf.Ovlp()))
	}
	isFrozen := make([]bool, nmo)
	for _, f := range frozen {
		if f < 0 || f >= nmo {
			return frame{}, errors.Errorf("frozen orbital %d out of range %d", f, nmo)
		}
		isFrozen[f] = true
	}

	seenVirtual := false
	for p := range nmo {
		if isFrozen[p] {
			if moOcc[p] > 0 {
				fr.core = append(fr.core, p)
			}
			continue
		}
		fr.active = append(fr.active, p)
		if moOcc[p] > 0 {
			if seenVirtual {
				return frame{}, errors.Errorf("occupied orbital %d after a virtual one", p)
			}
			fr.nocc++
		} else {
			seenVirtual = true
		}
	}
	if len(fr.active) == 0 {
		return frame{}, errors.Errorf("no active orbitals")
	}
	return fr, nil
}

// AO2MO transforms the mean-field integrals to the active orbitals.
func (fr frame) AO2MO() (*ERIs, error) {
	c := linalg.SelectCols(fr.moCoeff, fr.active)
	ct := mat.DenseCopyOf(c.T())

	hcore := fr.mf.Hcore()
	h := mat.DenseCopyOf(hcore)
	var ecore float64
	if len(fr.core) > 0 {
		cc := linalg.SelectCols(fr.moCoeff, fr.core)
		dcore := linalg.Outer(cc, cc)
		dcore.Scale(2, dcore)
		veff := scf.Veff(fr.mf.ERI(), dcore)
		h.Add(h, veff)
		var half mat.Dense
		half.Scale(0.5, veff)
		half.Add(&half, hcore)
		ecore = frobeniusDot(dcore, &half)
	}

	eris := &ERIs{
		MoCoeff: c,
		Fock:    linalg.MultiDot(ct, fr.mf.Fock(), c),
		NOcc:    fr.nocc,
		ERI:     fr.mf.ERI().Transform(ct, ct, ct, ct),
		H1:      linalg.MultiDot(ct, h, c),
		ECore:   ecore + fr.mf.ENuc(),
	}
	eris.MoEnergy = linalg.Diag(eris.Fock)
	return eris, nil
}

func frobeniusDot(a, b mat.Matrix) float64 {
	r, c := a.Dims()
	var s float64
	for i := range r {
		for j := range c {
			s += a.At(i, j) * b.At(i, j)
		}
	}
	return s
}

// Backend constructs the solvers. The zero value is ready to use.
type Backend struct{}

func (Backend) MP2(mf scf.MeanField, moCoeff *mat.Dense, moOcc []float64, frozen []int) (*MP2, error) {
	return NewMP2(mf, moCoeff, moOcc, frozen)
}

func (Backend) CCSD(mf scf.MeanField, moCoeff *mat.Dense, moOcc []float64, frozen []int) (*CCSD, error) {
	return NewCCSD(mf, moCoeff, moOcc, frozen)
}

func (Backend) CI(mf scf.MeanField, moCoeff *mat.Dense, moOcc []float64, frozen []int) (*CI, error) {
	return NewCI(mf, moCoeff, moOcc, frozen)
}
