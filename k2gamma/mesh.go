// Package k2gamma unfolds k-point sampled integrals and mean-field matrices of a periodic system
// to the equivalent Gamma point supercell.
//
// Supercell atomic orbitals are ordered cell by cell, (R, a) -> R*nao + a, with R indexing Mesh.Translations.
// Bloch sums use the phase convention phase[R,k] = exp(i k.R) / sqrt(nk).
package k2gamma

import (
	"math"
	"math/cmplx"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Mesh is a Gamma centered Monkhorst-Pack mesh of k-points.
// K-point m has fractional coordinates m[d]/dims[d]; translation R has integer coordinates R[d] in [0, dims[d]).
type Mesh struct {
	dims [3]int
}

func NewMesh(n1, n2, n3 int) (*Mesh, error) {
	dims := [3]int{n1, n2, n3}
	for d, n := range dims {
		if n < 1 {
			return nil, errors.Errorf("mesh dimension %d is %d", d, n)
		}
	}
	return &Mesh{dims: dims}, nil
}

func (m *Mesh) Dims() [3]int { return m.dims }

// NK returns the number of k-points, which equals the number of cells in the supercell.
func (m *Mesh) NK() int { return m.dims[0] * m.dims[1] * m.dims[2] }

// Coord returns the integer coordinates of k-point or translation i.
func (m *Mesh) Coord(i int) [3]int {
	var c [3]int
	for d := 2; d >= 0; d-- {
		c[d] = i % m.dims[d]
		i /= m.dims[d]
	}
	return c
}

// Index returns the index of integer coordinates, wrapped into the mesh.
func (m *Mesh) Index(c [3]int) int {
	var i int
	for d := range 3 {
		x := ((c[d] % m.dims[d]) + m.dims[d]) % m.dims[d]
		i = i*m.dims[d] + x
	}
	return i
}

// FractionalKPoints returns the k-points in units of the reciprocal lattice vectors.
func (m *Mesh) FractionalKPoints() [][3]float64 {
	ks := make([][3]float64, m.NK())
	for i := range ks {
		c := m.Coord(i)
		for d := range 3 {
			ks[i][d] = float64(c[d]) / float64(m.dims[d])
		}
	}
	return ks
}

// Translations returns the integer coordinates of the cells of the supercell.
func (m *Mesh) Translations() [][3]int {
	rs := make([][3]int, m.NK())
	for i := range rs {
		rs[i] = m.Coord(i)
	}
	return rs
}

// KPoints returns the Cartesian k-points for a lattice whose rows are the lattice vectors.
func (m *Mesh) KPoints(lattice [3][3]float64) ([][3]float64, error) {
	a := mat.NewDense(3, 3, nil)
	for i := range 3 {
		a.SetRow(i, lattice[i][:])
	}
	// The rows of b = 2 pi (A^-1)^T are the reciprocal lattice vectors.
	var inv mat.Dense
	if err := inv.Inverse(a); err != nil {
		return nil, errors.Wrap(err, "")
	}
	ks := m.FractionalKPoints()
	out := make([][3]float64, len(ks))
	for i, f := range ks {
		for d := range 3 {
			for x := range 3 {
				out[i][x] += 2 * math.Pi * f[d] * inv.At(x, d)
			}
		}
	}
	return out, nil
}

// TranslationVectors returns the Cartesian translations for a lattice whose rows are the lattice vectors.
func (m *Mesh) TranslationVectors(lattice [3][3]float64) [][3]float64 {
	rs := m.Translations()
	out := make([][3]float64, len(rs))
	for i, r := range rs {
		for d := range 3 {
			for x := range 3 {
				out[i][x] += float64(r[d]) * lattice[d][x]
			}
		}
	}
	return out
}

// angle returns 2 pi k.R.
func (m *Mesh) angle(k, r int) float64 {
	kc, rc := m.Coord(k), m.Coord(r)
	var x float64
	for d := range 3 {
		x += float64(kc[d]*rc[d]) / float64(m.dims[d])
	}
	return 2 * math.Pi * x
}

// Phase returns phase[R,k] = exp(i k.R) / sqrt(nk).
func (m *Mesh) Phase() *mat.CDense {
	nk := m.NK()
	norm := 1 / math.Sqrt(float64(nk))
	ph := mat.NewCDense(nk, nk, nil)
	for r := range nk {
		for k := range nk {
			ph.Set(r, k, cmplx.Rect(norm, m.angle(k, r)))
		}
	}
	return ph
}

// KConserv returns l with k_l = k_i - k_j modulo the reciprocal lattice.
func (m *Mesh) KConserv() [][]int {
	nk := m.NK()
	kc := make([][]int, nk)
	for i := range nk {
		kc[i] = make([]int, nk)
		ci := m.Coord(i)
		for j := range nk {
			cj := m.Coord(j)
			kc[i][j] = m.Index([3]int{ci[0] - cj[0], ci[1] - cj[1], ci[2] - cj[2]})
		}
	}
	return kc
}

// KConserv3 returns l with k_l = k_i - k_j + k_k modulo the reciprocal lattice.
func (m *Mesh) KConserv3(i, j, k int) int {
	ci, cj, ck := m.Coord(i), m.Coord(j), m.Coord(k)
	return m.Index([3]int{ci[0] - cj[0] + ck[0], ci[1] - cj[1] + ck[1], ci[2] - cj[2] + ck[2]})
}
