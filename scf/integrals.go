package scf

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/mathext"

	"github.com/fumin/embcc/linalg"
)

// Primitive is a normalized s-type Gaussian exp(-Alpha r^2) with its contraction coefficient.
type Primitive struct {
	Alpha float64
	Coeff float64
}

func (p Primitive) normCoeff() float64 {
	return math.Pow(2*p.Alpha/math.Pi, 0.75)
}

// Shell is a contracted s-type basis function.
type Shell struct {
	Atom   int
	Label  string
	Center [3]float64
	Prims  []Primitive
}

// Integrals are the atomic orbital integrals of a closed shell system.
type Integrals struct {
	S     *mat.Dense
	Hcore *mat.Dense
	// ERI holds (pq|rs) in chemists' notation.
	ERI       *linalg.Tensor4
	ENuc      float64
	NElectron int

	// Atoms and Shells are empty for lattice models.
	Atoms    []Atom
	Shells   []Shell
	AOLabels []string
	AOAtoms  []int
}

// NAO returns the number of basis functions.
func (ints *Integrals) NAO() int { return linalg.Rows(ints.S) }

func dist2(a, b [3]float64) float64 {
	var d float64
	for i := range a {
		d += (a[i] - b[i]) * (a[i] - b[i])
	}
	return d
}

func gaussianProduct(a1 float64, c1 [3]float64, a2 float64, c2 [3]float64) [3]float64 {
	var p [3]float64
	for i := range p {
		p[i] = (a1*c1[i] + a2*c2[i]) / (a1 + a2)
	}
	return p
}

// boys is the zeroth order Boys function F0(x).
func boys(x float64) float64 {
	if x < 1e-12 {
		return 1 - x/3
	}
	return mathext.GammaIncReg(0.5, x) * math.Gamma(0.5) / (2 * math.Sqrt(x))
}

func overlapPrim(a, b Primitive, ca, cb [3]float64) float64 {
	p := a.Alpha + b.Alpha
	q := a.Alpha * b.Alpha / p
	return math.Pow(math.Pi/p, 1.5) * math.Exp(-q*dist2(ca, cb))
}

func kineticPrim(a, b Primitive, ca, cb [3]float64) float64 {
	p := a.Alpha + b.Alpha
	q := a.Alpha * b.Alpha / p
	r2 := dist2(ca, cb)
	return q * (3 - 2*q*r2) * math.Pow(math.Pi/p, 1.5) * math.Exp(-q*r2)
}

func nuclearPrim(a, b Primitive, ca, cb [3]float64, z float64, cc [3]float64) float64 {
	p := a.Alpha + b.Alpha
	q := a.Alpha * b.Alpha / p
	cp := gaussianProduct(a.Alpha, ca, b.Alpha, cb)
	return -z * 2 * math.Pi / p * math.Exp(-q*dist2(ca, cb)) * boys(p*dist2(cp, cc))
}

func eriPrim(a, b, c, d Primitive, ca, cb, cc, cd [3]float64) float64 {
	p := a.Alpha + b.Alpha
	q := c.Alpha + d.Alpha
	cp := gaussianProduct(a.Alpha, ca, b.Alpha, cb)
	cq := gaussianProduct(c.Alpha, cc, d.Alpha, cd)
	kab := math.Exp(-a.Alpha * b.Alpha / p * dist2(ca, cb))
	kcd := math.Exp(-c.Alpha * d.Alpha / q * dist2(cc, cd))
	pre := 2 * math.Pow(math.Pi, 2.5) / (p * q * math.Sqrt(p+q))
	return pre * kab * kcd * boys(p*q/(p+q)*dist2(cp, cq))
}

func contract2(a, b Shell, f func(pa, pb Primitive) float64) float64 {
	var v float64
	for _, pa := range a.Prims {
		for _, pb := range b.Prims {
			v += pa.Coeff * pb.Coeff * pa.normCoeff() * pb.normCoeff() * f(pa, pb)
		}
	}
	return v
}

// normalize rescales the contraction coefficients so that the shell has unit self overlap.
func normalize(s Shell) Shell {
	n := contract2(s, s, func(pa, pb Primitive) float64 { return overlapPrim(pa, pb, s.Center, s.Center) })
	prims := make([]Primitive, len(s.Prims))
	for i, p := range s.Prims {
		prims[i] = Primitive{Alpha: p.Alpha, Coeff: p.Coeff / math.Sqrt(n)}
	}
	s.Prims = prims
	return s
}

// Overlap returns the overlap matrix.
func Overlap(shells []Shell) *mat.Dense {
	n := len(shells)
	s := mat.NewDense(n, n, nil)
	for i, a := range shells {
		for j := 0; j <= i; j++ {
			b := shells[j]
			v := contract2(a, b, func(pa, pb Primitive) float64 { return overlapPrim(pa, pb, a.Center, b.Center) })
			s.Set(i, j, v)
			s.Set(j, i, v)
		}
	}
	return s
}

// Kinetic returns the kinetic energy matrix.
func Kinetic(shells []Shell) *mat.Dense {
	n := len(shells)
	t := mat.NewDense(n, n, nil)
	for i, a := range shells {
		for j := 0; j <= i; j++ {
			b := shells[j]
			v := contract2(a, b, func(pa, pb Primitive) float64 { return kineticPrim(pa, pb, a.Center, b.Center) })
			t.Set(i, j, v)
			t.Set(j, i, v)
		}
	}
	return t
}

// Nuclear returns the electron-nuclear attraction matrix.
func Nuclear(shells []Shell, atoms []Atom) *mat.Dense {
	n := len(shells)
	v := mat.NewDense(n, n, nil)
	for i, a := range shells {
		for j := 0; j <= i; j++ {
			b := shells[j]
			var vij float64
			for _, at := range atoms {
				vij += contract2(a, b, func(pa, pb Primitive) float64 {
					return nuclearPrim(pa, pb, a.Center, b.Center, at.Z, at.Coord)
				})
			}
			v.Set(i, j, vij)
			v.Set(j, i, vij)
		}
	}
	return v
}

// ERI returns the two-electron repulsion integrals (ij|kl), computed once per eight-fold symmetry class.
func ERI(shells []Shell) *linalg.Tensor4 {
	n := len(shells)
	eri := linalg.NewTensor4(n, n, n, n)
	for i := range n {
		for j := 0; j <= i; j++ {
			ij := i*(i+1)/2 + j
			for k := range n {
				for l := 0; l <= k; l++ {
					kl := k*(k+1)/2 + l
					if kl > ij {
						continue
					}
					v := eriShell(shells[i], shells[j], shells[k], shells[l])
					for _, idx := range [8][4]int{
						{i, j, k, l}, {j, i, k, l}, {i, j, l, k}, {j, i, l, k},
						{k, l, i, j}, {l, k, i, j}, {k, l, j, i}, {l, k, j, i},
					} {
						eri.Set(idx[0], idx[1], idx[2], idx[3], v)
					}
				}
			}
		}
	}
	return eri
}

func eriShell(a, b, c, d Shell) float64 {
	var v float64
	for _, pa := range a.Prims {
		for _, pb := range b.Prims {
			nab := pa.Coeff * pb.Coeff * pa.normCoeff() * pb.normCoeff()
			for _, pc := range c.Prims {
				for _, pd := range d.Prims {
					ncd := pc.Coeff * pd.Coeff * pc.normCoeff() * pd.normCoeff()
					v += nab * ncd * eriPrim(pa, pb, pc, pd, a.Center, b.Center, c.Center, d.Center)
				}
			}
		}
	}
	return v
}

// JK returns the Coulomb and exchange matrices of the density d,
// J[p,q] = sum (pq|rs) d[r,s] and K[p,q] = sum (pr|qs) d[r,s].
func JK(eri *linalg.Tensor4, d mat.Matrix) (*mat.Dense, *mat.Dense) {
	n := eri.Shape[0]
	j := mat.NewDense(n, n, nil)
	k := mat.NewDense(n, n, nil)
	for p := range n {
		for q := range n {
			var jpq, kpq float64
			for r := range n {
				for s := range n {
					drs := d.At(r, s)
					if drs == 0 {
						continue
					}
					jpq += eri.At(p, q, r, s) * drs
					kpq += eri.At(p, r, q, s) * drs
				}
			}
			j.Set(p, q, jpq)
			k.Set(p, q, kpq)
		}
	}
	return j, k
}

// Veff returns J - K/2 for a spin summed density.
func Veff(eri *linalg.Tensor4, d mat.Matrix) *mat.Dense {
	j, k := JK(eri, d)
	k.Scale(0.5, k)
	j.Sub(j, k)
	return j
}
