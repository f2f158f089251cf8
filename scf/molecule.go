package scf

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/fumin/embcc/linalg"
)

// BohrPerAngstrom converts Angstrom to atomic units of length.
const BohrPerAngstrom = 1 / 0.52917720859

// Atom is a nucleus with coordinates in bohr.
type Atom struct {
	Symbol string
	Z      float64
	Coord  [3]float64
}

type shellTemplate struct {
	label string
	prims []Primitive
}

var basisSets = map[string]map[string][]shellTemplate{
	"sto-3g": {
		"H": {{label: "1s", prims: []Primitive{
			{Alpha: 3.42525091, Coeff: 0.15432897},
			{Alpha: 0.62391373, Coeff: 0.53532814},
			{Alpha: 0.16885540, Coeff: 0.44463454},
		}}},
		"He": {{label: "1s", prims: []Primitive{
			{Alpha: 6.36242139, Coeff: 0.15432897},
			{Alpha: 1.15892300, Coeff: 0.53532814},
			{Alpha: 0.31364979, Coeff: 0.44463454},
		}}},
	},
	"6-31g": {
		"H": {
			{label: "1s", prims: []Primitive{
				{Alpha: 18.7311370, Coeff: 0.03349460},
				{Alpha: 2.8253937, Coeff: 0.23472695},
				{Alpha: 0.6401217, Coeff: 0.81375733},
			}},
			{label: "2s", prims: []Primitive{
				{Alpha: 0.1612778, Coeff: 1},
			}},
		},
	},
}

var nuclearCharge = map[string]float64{"H": 1, "He": 2}

// Molecule is a set of atoms in a basis of contracted s-type Gaussians.
type Molecule struct {
	Atoms  []Atom
	Basis  string
	Charge int
}

// HydrogenChain returns n hydrogen atoms on the x axis spaced by d bohr.
func HydrogenChain(n int, d float64, basis string) *Molecule {
	m := &Molecule{Basis: basis}
	for i := range n {
		m.Atoms = append(m.Atoms, Atom{Symbol: "H", Z: 1, Coord: [3]float64{float64(i) * d}})
	}
	return m
}

// HydrogenRing returns n hydrogen atoms on a ring in the xy plane with neighbour distance d bohr.
func HydrogenRing(n int, d float64, basis string) *Molecule {
	m := &Molecule{Basis: basis}
	r := d / (2 * math.Sin(math.Pi/float64(n)))
	for i := range n {
		phi := 2 * math.Pi * float64(i) / float64(n)
		m.Atoms = append(m.Atoms, Atom{Symbol: "H", Z: 1, Coord: [3]float64{r * math.Cos(phi), r * math.Sin(phi)}})
	}
	return m
}

func (m *Molecule) NElectron() int {
	var n float64
	for _, a := range m.Atoms {
		n += a.Z
	}
	return int(n) - m.Charge
}

func (m *Molecule) NuclearRepulsion() float64 {
	var e float64
	for i, a := range m.Atoms {
		for _, b := range m.Atoms[:i] {
			e += a.Z * b.Z / math.Sqrt(dist2(a.Coord, b.Coord))
		}
	}
	return e
}

// Shells returns the normalized basis functions, atom by atom.
func (m *Molecule) Shells() ([]Shell, error) {
	basis, ok := basisSets[m.Basis]
	if !ok {
		return nil, errors.Errorf("unknown basis %q", m.Basis)
	}
	shells := make([]Shell, 0)
	for i, a := range m.Atoms {
		tmpls, ok := basis[a.Symbol]
		if !ok {
			return nil, errors.Errorf("no %s basis for %s", m.Basis, a.Symbol)
		}
		if z, ok := nuclearCharge[a.Symbol]; !ok || z != a.Z {
			return nil, errors.Errorf("atom %d %s has charge %f", i, a.Symbol, a.Z)
		}
		for _, tmpl := range tmpls {
			sh := Shell{Atom: i, Label: tmpl.label, Center: a.Coord, Prims: tmpl.prims}
			shells = append(shells, normalize(sh))
		}
	}
	return shells, nil
}

// Integrals computes the one and two electron integrals of the molecule.
func (m *Molecule) Integrals() (*Integrals, error) {
	shells, err := m.Shells()
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	if len(shells) == 0 {
		return nil, errors.Errorf("empty molecule")
	}
	if n := m.NElectron(); n <= 0 || n%2 != 0 {
		return nil, errors.Errorf("closed shell system required, got %d electrons", n)
	}

	h := Kinetic(shells)
	h.Add(h, Nuclear(shells, m.Atoms))
	ints := &Integrals{
		S:         Overlap(shells),
		Hcore:     h,
		ERI:       ERI(shells),
		ENuc:      m.NuclearRepulsion(),
		NElectron: m.NElectron(),
		Atoms:     m.Atoms,
		Shells:    shells,
	}
	for _, sh := range shells {
		ints.AOLabels = append(ints.AOLabels, fmt.Sprintf("%d %s %s", sh.Atom, m.Atoms[sh.Atom].Symbol, sh.Label))
		ints.AOAtoms = append(ints.AOAtoms, sh.Atom)
	}
	return ints, nil
}

// Hubbard returns the integrals of a one dimensional Hubbard chain of n sites
// with hopping t, on-site repulsion u and an orthonormal site basis.
func Hubbard(n int, t, u float64, nelectron int, periodic bool) (*Integrals, error) {
	if n < 2 {
		return nil, errors.Errorf("at least two sites required, got %d", n)
	}
	if nelectron <= 0 || nelectron%2 != 0 || nelectron > 2*n {
		return nil, errors.Errorf("closed shell filling required, got %d electrons on %d sites", nelectron, n)
	}
	h := mat.NewDense(n, n, nil)
	for i := range n - 1 {
		h.Set(i, i+1, -t)
		h.Set(i+1, i, -t)
	}
	if periodic && n > 2 {
		h.Set(0, n-1, -t)
		h.Set(n-1, 0, -t)
	}
	eri := linalg.NewTensor4(n, n, n, n)
	for i := range n {
		eri.Set(i, i, i, i, u)
	}
	ints := &Integrals{
		S:         linalg.Identity(n),
		Hcore:     h,
		ERI:       eri,
		NElectron: nelectron,
	}
	for i := range n {
		ints.AOLabels = append(ints.AOLabels, fmt.Sprintf("%d site", i))
		ints.AOAtoms = append(ints.AOAtoms, i)
	}
	return ints, nil
}
