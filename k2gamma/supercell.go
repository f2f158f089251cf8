package k2gamma

import (
	"fmt"
	"math"
	"math/cmplx"
	"slices"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/fumin/embcc/linalg"
	"github.com/fumin/embcc/scf"
)

// SupercellMatrix unfolds k-blocked one-electron matrices mk[k][a,b] = sum over T of M[(0,a),(T,b)] exp(i k.T)
// to the supercell matrix M[(R,a),(S,b)] = sum over k of phase[R,k] mk[k][a,b] conj(phase[S,k]).
func SupercellMatrix(m *Mesh, mk []*mat.CDense) (*mat.Dense, error) {
	nk := m.NK()
	if len(mk) != nk {
		return nil, errors.Errorf("%d k-point blocks, mesh has %d", len(mk), nk)
	}
	nao, c := mk[0].Dims()
	if c != nao {
		return nil, errors.Errorf("non square block %d %d", nao, c)
	}
	ph := m.Phase()
	n := nk * nao
	out := mat.NewDense(n, n, nil)
	var maxImag float64
	for r := range nk {
		for s := range nk {
			for a := range nao {
				for b := range nao {
					var x complex128
					for k := range nk {
						x += ph.At(r, k) * mk[k].At(a, b) * cmplx.Conj(ph.At(s, k))
					}
					maxImag = math.Max(maxImag, math.Abs(imag(x)))
					out.Set(r*nao+a, s*nao+b, real(x))
				}
			}
		}
	}
	if maxImag > integrityTol {
		return nil, errors.Wrapf(ErrImaginary, "supercell matrix imaginary part %g", maxImag)
	}
	return out, nil
}

// Cell is the unit cell of a periodic system.
type Cell struct {
	// Lattice holds the lattice vectors as rows, in bohr.
	Lattice [3][3]float64
	// Atoms is empty for lattice models.
	Atoms []scf.Atom
	// AOLabels start with the atom index, as in scf.Integrals.
	AOLabels  []string
	AOAtoms   []int
	NElectron int
	ENuc      float64
}

// KMeanField is a converged k-point mean field.
type KMeanField struct {
	Cell Cell
	Mesh *Mesh
	// Ovlp, Hcore and Fock are blocked by k-point.
	Ovlp  []*mat.CDense
	Hcore []*mat.CDense
	Fock  []*mat.CDense
	// Either ERI or J3C supplies the two-electron integrals; ERI takes precedence.
	ERI       *ERIK
	J3C       *J3CK
	Converged bool
}

// K2Gamma returns the supercell mean field equivalent to a k-point mean field.
// The supercell orbitals are real and diagonalize the unfolded Fock matrix.
func K2Gamma(kmf *KMeanField, options ...UnfoldOptions) (*scf.Result, error) {
	opt := NewUnfoldOptions()
	if len(options) > 0 {
		opt = options[0]
	}
	m := kmf.Mesh
	s, err := SupercellMatrix(m, kmf.Ovlp)
	if err != nil {
		return nil, errors.Wrap(err, "overlap")
	}
	hcore, err := SupercellMatrix(m, kmf.Hcore)
	if err != nil {
		return nil, errors.Wrap(err, "hcore")
	}
	fock, err := SupercellMatrix(m, kmf.Fock)
	if err != nil {
		return nil, errors.Wrap(err, "fock")
	}

	var eri *linalg.Tensor4
	switch {
	case kmf.ERI != nil:
		if eri, err = Unfold4c2e(m, kmf.ERI, opt); err != nil {
			return nil, errors.Wrap(err, "")
		}
	case kmf.J3C != nil:
		j3c, err := UnfoldJ3C(m, kmf.J3C, opt)
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		if eri, err = j3c.ERI(); err != nil {
			return nil, errors.Wrap(err, "")
		}
	default:
		return nil, errors.Errorf("no two-electron integrals")
	}

	nk := m.NK()
	ints := &scf.Integrals{
		S:         s,
		Hcore:     hcore,
		ERI:       eri,
		ENuc:      float64(nk) * kmf.Cell.ENuc,
		NElectron: nk * kmf.Cell.NElectron,
	}
	if err := supercellAtoms(ints, m, kmf.Cell); err != nil {
		return nil, errors.Wrap(err, "")
	}
	mf, err := scf.FromFock(ints, fock, kmf.Converged)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	opt.logger.Info("supercell mean field", "nk", nk, "nao", ints.NAO(), "nelectron", ints.NElectron, "etot", mf.ETot(), "etot per cell", mf.ETot()/float64(nk))
	return mf, nil
}

// supercellAtoms replicates the atoms and atomic orbital labels of the cell over the translations.
func supercellAtoms(ints *scf.Integrals, m *Mesh, cell Cell) error {
	if len(cell.AOLabels) != len(cell.AOAtoms) {
		return errors.Errorf("%d labels, %d atom indices", len(cell.AOLabels), len(cell.AOAtoms))
	}
	natom := len(cell.Atoms)
	if len(cell.AOAtoms) > 0 {
		natom = max(natom, slices.Max(cell.AOAtoms)+1)
	}
	for t, tv := range m.TranslationVectors(cell.Lattice) {
		for _, a := range cell.Atoms {
			shifted := a
			for x := range 3 {
				shifted.Coord[x] += tv[x]
			}
			ints.Atoms = append(ints.Atoms, shifted)
		}
		for ao, label := range cell.AOLabels {
			atom := t*natom + cell.AOAtoms[ao]
			_, rest, _ := strings.Cut(label, " ")
			ints.AOLabels = append(ints.AOLabels, fmt.Sprintf("%d %s", atom, rest))
			ints.AOAtoms = append(ints.AOAtoms, atom)
		}
	}
	return nil
}
