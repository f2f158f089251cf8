package k2gamma

import (
	"context"
	"fmt"
	"math"
	"math/cmplx"
	"testing"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/fumin/embcc/linalg"
	"github.com/fumin/embcc/scf"
)

func expi(x float64) complex128 { return cmplx.Rect(1, x) }

// eriK returns eri[i,j,k][p,q,r,s] = sum over R2, R3, R4 of V[(p,0),(q,R2),(r,R3),(s,R4)] exp(i k_j.R2 - i k_k.R3 + i k_l.R4).
func eriK(m *Mesh, v *linalg.Tensor4, nao int) *ERIK {
	nk := m.NK()
	out := NewERIK(nk, nao)
	for i := range nk {
		for j := range nk {
			for k := range nk {
				l := m.KConserv3(i, j, k)
				for p := range nao {
					for q := range nao {
						for r := range nao {
							for s := range nao {
								var x complex128
								for r2 := range nk {
									for r3 := range nk {
										for r4 := range nk {
											w := expi(m.angle(j, r2) - m.angle(k, r3) + m.angle(l, r4))
											x += complex(v.At(p, r2*nao+q, r3*nao+r, r4*nao+s), 0) * w
										}
									}
								}
								out.Set(i, j, k, p, q, r, s, x)
							}
						}
					}
				}
			}
		}
	}
	return out
}

func TestMesh(t *testing.T) {
	t.Parallel()
	m, err := NewMesh(3, 2, 1)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if m.NK() != 6 {
		t.Fatalf("%d", m.NK())
	}
	for i := range m.NK() {
		if j := m.Index(m.Coord(i)); j != i {
			t.Fatalf("%d %d", i, j)
		}
	}

	kconserv := m.KConserv()
	for i := range m.NK() {
		for j := range m.NK() {
			l := kconserv[i][j]
			// exp(i (k_l + k_j - k_i).R) = 1 for all R.
			for r := range m.NK() {
				w := expi(m.angle(l, r) + m.angle(j, r) - m.angle(i, r))
				if cmplx.Abs(w-1) > 1e-12 {
					t.Fatalf("kconserv %d %d = %d", i, j, l)
				}
			}
			for k := range m.NK() {
				l3 := m.KConserv3(i, j, k)
				if l3 != m.KConserv3(k, j, i) || kconserv[l3][k] != l {
					t.Fatalf("kconserv3 %d %d %d = %d", i, j, k, l3)
				}
			}
		}
	}

	ph := m.Phase()
	for k1 := range m.NK() {
		for k2 := range m.NK() {
			var x complex128
			for r := range m.NK() {
				x += cmplx.Conj(ph.At(r, k1)) * ph.At(r, k2)
			}
			var expected complex128
			if k1 == k2 {
				expected = 1
			}
			if cmplx.Abs(x-expected) > 1e-12 {
				t.Fatalf("phase not unitary %d %d %v", k1, k2, x)
			}
		}
	}

	if _, err := NewMesh(0, 1, 1); err == nil {
		t.Fatalf("expected error")
	}
}

func TestKPoints(t *testing.T) {
	t.Parallel()
	m, err := NewMesh(2, 1, 1)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	lattice := [3][3]float64{{2, 0, 0}, {0, 3, 0}, {0, 0, 4}}
	ks, err := m.KPoints(lattice)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if math.Abs(ks[1][0]-math.Pi/2) > 1e-12 || ks[1][1] != 0 || ks[1][2] != 0 {
		t.Fatalf("%v", ks)
	}
	rs := m.TranslationVectors(lattice)
	if rs[1] != [3]float64{2, 0, 0} {
		t.Fatalf("%v", rs)
	}
}

func TestUnfoldJ3C(t *testing.T) {
	t.Parallel()
	tests := []struct {
		dims [3]int
	}{
		{dims: [3]int{1, 1, 1}},
		{dims: [3]int{3, 1, 1}},
		{dims: [3]int{3, 2, 1}},
	}
	for _, test := range tests {
		t.Run(fmt.Sprintf("%v", test.dims), func(t *testing.T) {
			t.Parallel()
			m, err := NewMesh(test.dims[0], test.dims[1], test.dims[2])
			if err != nil {
				t.Fatalf("%+v", err)
			}
			pm := NewRandomModel(m, 2, 2, 1)
			expected := pm.ERI()

			j3c, err := UnfoldJ3C(m, pm.J3CK())
			if err != nil {
				t.Fatalf("%+v", err)
			}
			if j3c.NAux != 2*m.NK() || j3c.N != 2*m.NK() {
				t.Fatalf("naux %d n %d", j3c.NAux, j3c.N)
			}
			eri, err := j3c.ERI()
			if err != nil {
				t.Fatalf("%+v", err)
			}
			if d := eri.MaxAbsDiff(expected); d > 1e-8 {
				t.Fatalf("four-center error %g", d)
			}

			real3c, err := Unfold3c2e(m, pm.J3CK())
			if err != nil {
				t.Fatalf("%+v", err)
			}
			n := j3c.N
			for tt := range m.NK() {
				for l := range pm.NAux {
					for p := range n {
						for q := range n {
							got := real(real3c.At(tt*pm.NAux+l, p, q))
							want := pm.B(l, tt, p%pm.NAO, p/pm.NAO, q%pm.NAO, q/pm.NAO)
							if math.Abs(got-want) > 1e-10 {
								t.Fatalf("(%d %d|%d %d) %f, expected %f", tt, l, p, q, got, want)
							}
						}
					}
				}
			}
			eri3c, err := real3c.ERI()
			if err != nil {
				t.Fatalf("%+v", err)
			}
			if d := eri3c.MaxAbsDiff(expected); d > 1e-8 {
				t.Fatalf("real space four-center error %g", d)
			}
		})
	}
}

func TestUnfoldJ3CCompact(t *testing.T) {
	t.Parallel()
	m, err := NewMesh(1, 1, 1)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	pm := NewRandomModel(m, 3, 3, 2)
	full, err := UnfoldJ3C(m, pm.J3CK())
	if err != nil {
		t.Fatalf("%+v", err)
	}
	compact, err := UnfoldJ3C(m, pm.J3CK(), NewUnfoldOptions().Compact(true))
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if !full.IsReal() || !compact.Compact {
		t.Fatalf("real %t compact %t", full.IsReal(), compact.Compact)
	}
	if len(compact.Re) != 3*6 {
		t.Fatalf("%d", len(compact.Re))
	}
	for l := range 3 {
		for p := range 3 {
			for q := range 3 {
				if full.At(l, p, q) != compact.At(l, p, q) {
					t.Fatalf("%d %d %d: %v %v", l, p, q, full.At(l, p, q), compact.At(l, p, q))
				}
			}
		}
	}

	// Complex integrals cannot be packed.
	m3, err := NewMesh(3, 1, 1)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	pm3 := NewRandomModel(m3, 1, 2, 3)
	if _, err := UnfoldJ3C(m3, pm3.J3CK(), NewUnfoldOptions().Compact(true)); err == nil {
		t.Fatalf("expected error")
	}
}

func TestUnfold4c2e(t *testing.T) {
	t.Parallel()
	m, err := NewMesh(3, 2, 1)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	pm := NewRandomModel(m, 2, 2, 4)
	expected := pm.ERI()
	ek := eriK(m, expected, pm.NAO)
	eri, err := Unfold4c2e(m, ek)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if d := eri.MaxAbsDiff(expected); d > 1e-10 {
		t.Fatalf("%g", d)
	}

	for i := range ek.Data {
		ek.Data[i] *= 1i
	}
	if _, err := Unfold4c2e(m, ek); !errors.Is(err, ErrImaginary) {
		t.Fatalf("%+v", err)
	}
}

// dimerizedRing returns the integrals of a Hubbard ring of ncell two site cells
// with hopping t1 inside and t2 between cells.
func dimerizedRing(ncell int, t1, t2, u float64) *scf.Integrals {
	n := 2 * ncell
	h := mat.NewDense(n, n, nil)
	for c := range ncell {
		a, b, next := 2*c, 2*c+1, (2*c+2)%n
		h.Set(a, b, -t1)
		h.Set(b, a, -t1)
		h.Set(b, next, -t2)
		h.Set(next, b, -t2)
	}
	eri := linalg.NewTensor4(n, n, n, n)
	for i := range n {
		eri.Set(i, i, i, i, u)
	}
	ints := &scf.Integrals{S: linalg.Identity(n), Hcore: h, ERI: eri, NElectron: n}
	for i := range n {
		ints.AOLabels = append(ints.AOLabels, fmt.Sprintf("%d site", i))
		ints.AOAtoms = append(ints.AOAtoms, i)
	}
	return ints
}

// kBlocks returns mk[k][a,b] = sum over T of M[(0,a),(T,b)] exp(i k.T) for a translation invariant supercell matrix.
func kBlocks(m *Mesh, sc *mat.Dense, nao int) []*mat.CDense {
	nk := m.NK()
	blocks := make([]*mat.CDense, nk)
	for k := range nk {
		blocks[k] = mat.NewCDense(nao, nao, nil)
		for a := range nao {
			for b := range nao {
				var x complex128
				for tt := range nk {
					x += complex(sc.At(a, tt*nao+b), 0) * expi(m.angle(k, tt))
				}
				blocks[k].Set(a, b, x)
			}
		}
	}
	return blocks
}

func TestK2GammaHubbard(t *testing.T) {
	t.Parallel()
	const ncell = 3
	m, err := NewMesh(ncell, 1, 1)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	ints := dimerizedRing(ncell, 1, 0.5, 1)
	mf, err := scf.RHF(context.Background(), ints)
	if err != nil {
		t.Fatalf("%+v", err)
	}

	ek := NewERIK(ncell, 2)
	for i := range ncell {
		for j := range ncell {
			for k := range ncell {
				for p := range 2 {
					ek.Set(i, j, k, p, p, p, p, 1)
				}
			}
		}
	}
	kmf := &KMeanField{
		Cell: Cell{
			Lattice:   [3][3]float64{{2, 0, 0}, {0, 1, 0}, {0, 0, 1}},
			AOLabels:  []string{"0 site", "1 site"},
			AOAtoms:   []int{0, 1},
			NElectron: 2,
		},
		Mesh:      m,
		Ovlp:      kBlocks(m, ints.S, 2),
		Hcore:     kBlocks(m, ints.Hcore, 2),
		Fock:      kBlocks(m, mf.Fock(), 2),
		ERI:       ek,
		Converged: true,
	}
	sc, err := K2Gamma(kmf)
	if err != nil {
		t.Fatalf("%+v", err)
	}

	for _, pair := range []struct {
		name      string
		got, want *mat.Dense
	}{
		{name: "ovlp", got: sc.Ovlp(), want: ints.S},
		{name: "hcore", got: sc.Hcore(), want: ints.Hcore},
		{name: "fock", got: sc.Fock(), want: mf.Fock()},
		{name: "rdm1", got: sc.RDM1(), want: mf.RDM1()},
	} {
		if !linalg.AllClose(pair.got, pair.want, 1e-10) {
			t.Fatalf("%s\n%s\nexpected\n%s", pair.name, linalg.Format(pair.got), linalg.Format(pair.want))
		}
	}
	if d := sc.ERI().MaxAbsDiff(ints.ERI); d > 1e-10 {
		t.Fatalf("eri %g", d)
	}
	if math.Abs(sc.ETot()-mf.ETot()) > 1e-10 {
		t.Fatalf("%.12f, expected %.12f", sc.ETot(), mf.ETot())
	}
	if sc.NElectron() != 2*ncell || sc.AOLabels()[3] != "3 site" || sc.AOAtoms()[5] != 5 {
		t.Fatalf("%d %v %v", sc.NElectron(), sc.AOLabels(), sc.AOAtoms())
	}
}

func TestSupercellMatrixImaginary(t *testing.T) {
	t.Parallel()
	m, err := NewMesh(2, 1, 1)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	// A block at k = 0 only, with an imaginary entry, is not the Bloch sum of a real matrix.
	blocks := []*mat.CDense{mat.NewCDense(1, 1, []complex128{1i}), mat.NewCDense(1, 1, []complex128{0})}
	if _, err := SupercellMatrix(m, blocks); !errors.Is(err, ErrImaginary) {
		t.Fatalf("%+v", err)
	}
}
