package k2gamma

import (
	"fmt"
	"math/cmplx"
	"math/rand"

	"github.com/fumin/embcc/linalg"
)

// Model is a random translation invariant three-center tensor on a supercell,
// B[(L,T),(a,R),(b,S)] = f[L][a][b][R-T][S-T], symmetric under exchange of (a,R) and (b,S).
// It stands in for density fitted integrals when checking and timing the unfolding.
type Model struct {
	Mesh *Mesh
	NAux int
	NAO  int
	nk   int
	f    []float64
}

func NewRandomModel(m *Mesh, naux, nao int, seed int64) *Model {
	nk := m.NK()
	pm := &Model{Mesh: m, NAux: naux, NAO: nao, nk: nk, f: make([]float64, naux*nao*nao*nk*nk)}
	rng := rand.New(rand.NewSource(seed))
	for l := range naux {
		for a := range nao {
			for b := range nao {
				for x := range nk {
					for y := range nk {
						v := rng.Float64() - 0.5
						pm.f[pm.index(l, a, b, x, y)] += v / 2
						pm.f[pm.index(l, b, a, y, x)] += v / 2
					}
				}
			}
		}
	}
	return pm
}

func (pm *Model) index(l, a, b, x, y int) int {
	return (((l*pm.NAO+a)*pm.NAO+b)*pm.nk+x)*pm.nk + y
}

func (pm *Model) diff(r, t int) int {
	rc, tc := pm.Mesh.Coord(r), pm.Mesh.Coord(t)
	return pm.Mesh.Index([3]int{rc[0] - tc[0], rc[1] - tc[1], rc[2] - tc[2]})
}

// B returns the integral of aux function l in cell t with orbital a in cell r and orbital b in cell s.
func (pm *Model) B(l, t, a, r, b, s int) float64 {
	return pm.f[pm.index(l, a, b, pm.diff(r, t), pm.diff(s, t))]
}

// J3CK returns the k-point integrals j3c[L,i,a,j,b] = sum over R, S of B[(L,0),(a,R),(b,S)] exp(-i k_i.R + i k_j.S).
func (pm *Model) J3CK() *J3CK {
	m := pm.Mesh
	j3c := NewJ3CK(pm.NAux, pm.nk, pm.NAO)
	for l := range pm.NAux {
		for i := range pm.nk {
			for a := range pm.NAO {
				for j := range pm.nk {
					for b := range pm.NAO {
						var v complex128
						for r := range pm.nk {
							for s := range pm.nk {
								w := cmplx.Rect(1, -m.angle(i, r)+m.angle(j, s))
								v += complex(pm.B(l, 0, a, r, b, s), 0) * w
							}
						}
						j3c.Set(l, i, a, j, b, v)
					}
				}
			}
		}
	}
	return j3c
}

// SupercellJ3C returns the supercell integrals with aux index (T, L), built directly in real space.
func (pm *Model) SupercellJ3C() *J3C {
	n := pm.nk * pm.NAO
	out := &J3C{NAux: pm.nk * pm.NAux, N: n, Re: make([]float64, pm.nk*pm.NAux*n*n)}
	for t := range pm.nk {
		for l := range pm.NAux {
			for r := range pm.nk {
				for a := range pm.NAO {
					for s := range pm.nk {
						for b := range pm.NAO {
							out.Re[out.index(t*pm.NAux+l, r*pm.NAO+a, s*pm.NAO+b)] = pm.B(l, t, a, r, b, s)
						}
					}
				}
			}
		}
	}
	return out
}

// ERI returns the supercell integrals, the sum over aux functions of B B.
func (pm *Model) ERI() *linalg.Tensor4 {
	eri, err := pm.SupercellJ3C().ERI()
	if err != nil {
		panic(fmt.Sprintf("%+v", err))
	}
	return eri
}
