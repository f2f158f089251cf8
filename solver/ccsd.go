package solver

import (
	"context"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/fumin/embcc/linalg"
	"github.com/fumin/embcc/scf"
	"github.com/fumin/embcc/util"
)

// Tailor modifies amplitudes after every coupled cluster update.
// Amplitudes are in the spatial orbital form t1[i,a], t2[i,j,a,b] of the active space.
type Tailor func(t1 *mat.Dense, t2 *linalg.Tensor4) (*mat.Dense, *linalg.Tensor4, error)

type CCSDOptions struct {
	maxCycle  int
	convTol   float64
	convNormT float64
	diisSpace int
	tailor    Tailor
	t1        *mat.Dense
	t2        *linalg.Tensor4
	logger    *slog.Logger
}

func NewCCSDOptions() CCSDOptions {
	opt := CCSDOptions{}
	opt.maxCycle = 100
	opt.convTol = 1e-7
	opt.convNormT = 1e-5
	opt.diisSpace = 6
	opt.logger = slog.Default()
	return opt
}

func (opt CCSDOptions) MaxCycle(n int) CCSDOptions {
	opt.maxCycle = n
	return opt
}

// Tolerances sets the energy change and the amplitude change norm at convergence.
func (opt CCSDOptions) Tolerances(e, normt float64) CCSDOptions {
	opt.convTol = e
	opt.convNormT = normt
	return opt
}

func (opt CCSDOptions) DIISSpace(n int) CCSDOptions {
	opt.diisSpace = n
	return opt
}

func (opt CCSDOptions) Tailor(f Tailor) CCSDOptions {
	opt.tailor = f
	return opt
}

// Restart starts the iterations from the given amplitudes instead of the MP2 guess.
func (opt CCSDOptions) Restart(t1 *mat.Dense, t2 *linalg.Tensor4) CCSDOptions {
	opt.t1 = t1
	opt.t2 = t2
	return opt
}

func (opt CCSDOptions) Logger(l *slog.Logger) CCSDOptions {
	opt.logger = l
	return opt
}

// CCSD is closed shell coupled cluster with single and double excitations.
// The amplitude equations are solved in the spin orbital basis.
type CCSD struct {
	frame
}

type CCSDResult struct {
	ECorr      float64
	T1         *mat.Dense
	T2         *linalg.Tensor4
	Converged  bool
	Iterations int
}

func NewCCSD(mf scf.MeanField, moCoeff *mat.Dense, moOcc []float64, frozen []int) (*CCSD, error) {
	fr, err := newFrame(mf, moCoeff, moOcc, frozen)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	return &CCSD{frame: fr}, nil
}

func (s *CCSD) Kernel(ctx context.Context, eris *ERIs, options ...CCSDOptions) (*CCSDResult, error) {
	opt := NewCCSDOptions()
	if len(options) > 0 {
		opt = options[0]
	}
	no, nv := eris.NOcc, eris.NVir()
	if no == 0 || nv == 0 {
		return &CCSDResult{T2: linalg.NewTensor4(no, no, nv, nv), Converged: true}, nil
	}

	cc := newSpinCCSD(eris)
	t1, t2 := cc.guess()
	if opt.t1 != nil && opt.t2 != nil {
		if r, c := opt.t1.Dims(); r != no || c != nv || opt.t2.Shape != [4]int{no, no, nv, nv} {
			return nil, errors.Errorf("restart amplitudes %dx%d %v, active space %dx%d", r, c, opt.t2.Shape, no, nv)
		}
		t1, t2 = cc.toSpin(opt.t1, opt.t2)
	}

	var diis *linalg.DIIS
	if opt.diisSpace > 0 {
		diis = linalg.NewDIIS(opt.diisSpace)
	}
	throttler := util.NewSkipThrottler(10 * time.Second)
	eOld := cc.energy(t1, t2)
	res := &CCSDResult{}
	for res.Iterations = 1; res.Iterations <= opt.maxCycle; res.Iterations++ {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, "")
		}
		t1n, t2n := cc.update(t1, t2)
		if opt.tailor != nil {
			st1, st2 := cc.toSpatial(t1n, t2n)
			st1, st2, err := opt.tailor(st1, st2)
			if err != nil {
				return nil, errors.Wrap(err, "tailor")
			}
			t1n, t2n = cc.toSpin(st1, st2)
		}

		vOld := amplitudeVector(t1, t2)
		vNew := amplitudeVector(t1n, t2n)
		dv := slices.Clone(vNew)
		floats.Sub(dv, vOld)
		normt := floats.Norm(dv, 2)
		if diis != nil {
			vNew = diis.Update(vNew, dv)
		}
		t1, t2 = cc.fromVector(vNew)

		e := cc.energy(t1, t2)
		if throttler.Ok() {
			opt.logger.Debug("ccsd", "cycle", res.Iterations, "ecorr", e, "dE", e-eOld, "normt", normt)
		}
		converged := math.Abs(e-eOld) < opt.convTol && normt < opt.convNormT
		eOld = e
		if converged {
			res.Converged = true
			break
		}
	}
	res.ECorr = eOld
	res.T1, res.T2 = cc.toSpatial(t1, t2)
	if !res.Converged {
		res.Iterations = opt.maxCycle
		opt.logger.Warn("ccsd not converged", "cycles", opt.maxCycle, "ecorr", res.ECorr)
	}
	return res, nil
}

// spinCCSD holds the spin orbital Fock matrix and antisymmetrized integrals <pq||rs>.
// Spin orbital 2p+s is spatial orbital p with spin s, so occupied spin orbitals come first.
type spinCCSD struct {
	no, nv int
	f      *mat.Dense
	g      *linalg.Tensor4
}

func newSpinCCSD(eris *ERIs) *spinCCSD {
	nmo := eris.NMO()
	n := 2 * nmo
	cc := &spinCCSD{no: 2 * eris.NOcc, nv: 2 * eris.NVir()}
	cc.f = mat.NewDense(n, n, nil)
	for p := range n {
		for q := range n {
			if p%2 == q%2 {
				cc.f.Set(p, q, eris.Fock.At(p/2, q/2))
			}
		}
	}
	// <pq|rs> = (pr|qs).
	phys := func(p, q, r, s int) float64 {
		if p%2 != r%2 || q%2 != s%2 {
			return 0
		}
		return eris.ERI.At(p/2, r/2, q/2, s/2)
	}
	cc.g = linalg.NewTensor4(n, n, n, n)
	for p := range n {
		for q := range n {
			for r := range n {
				for s := range n {
					cc.g.Set(p, q, r, s, phys(p, q, r, s)-phys(p, q, s, r))
				}
			}
		}
	}
	return cc
}

func (cc *spinCCSD) guess() (*mat.Dense, *linalg.Tensor4) {
	no, nv := cc.no, cc.nv
	t1 := mat.NewDense(no, nv, nil)
	t2 := linalg.NewTensor4(no, no, nv, nv)
	for i := range no {
		for j := range no {
			for a := range nv {
				for b := range nv {
					t2.Set(i, j, a, b, cc.g.At(i, j, no+a, no+b)/cc.d2(i, j, a, b))
				}
			}
		}
	}
	return t1, t2
}

func (cc *spinCCSD) d1(i, a int) float64 {
	return cc.f.At(i, i) - cc.f.At(cc.no+a, cc.no+a)
}

func (cc *spinCCSD) d2(i, j, a, b int) float64 {
	return cc.f.At(i, i) + cc.f.At(j, j) - cc.f.At(cc.no+a, cc.no+a) - cc.f.At(cc.no+b, cc.no+b)
}

func (cc *spinCCSD) energy(t1 *mat.Dense, t2 *linalg.Tensor4) float64 {
	no, nv := cc.no, cc.nv
	var e float64
	for i := range no {
		for a := range nv {
			e += cc.f.At(i, no+a) * t1.At(i, a)
		}
	}
	for i := range no {
		for j := range no {
			for a := range nv {
				for b := range nv {
					g := cc.g.At(i, j, no+a, no+b)
					e += 0.25*g*t2.At(i, j, a, b) + 0.5*g*t1.At(i, a)*t1.At(j, b)
				}
			}
		}
	}
	return e
}

// update performs one Jacobi step of the amplitude equations,
// following J. F. Stanton, J. Gauss, J. D. Watts, R. J. Bartlett, J. Chem. Phys. 94, 4334 (1991).
func (cc *spinCCSD) update(t1 *mat.Dense, t2 *linalg.Tensor4) (*mat.Dense, *linalg.Tensor4) {
	no, nv := cc.no, cc.nv
	f, g := cc.f, cc.g
	v := func(a int) int { return no + a }

	taut := linalg.NewTensor4(no, no, nv, nv)
	tau := linalg.NewTensor4(no, no, nv, nv)
	for i := range no {
		for j := range no {
			for a := range nv {
				for b := range nv {
					x := t1.At(i, a)*t1.At(j, b) - t1.At(i, b)*t1.At(j, a)
					taut.Set(i, j, a, b, t2.At(i, j, a, b)+0.5*x)
					tau.Set(i, j, a, b, t2.At(i, j, a, b)+x)
				}
			}
		}
	}

	fae := mat.NewDense(nv, nv, nil)
	for a := range nv {
		for e := range nv {
			var x float64
			if a != e {
				x = f.At(v(a), v(e))
			}
			for m := range no {
				x -= 0.5 * f.At(m, v(e)) * t1.At(m, a)
				for ff := range nv {
					x += t1.At(m, ff) * g.At(m, v(a), v(ff), v(e))
					for n := range no {
						x -= 0.5 * taut.At(m, n, a, ff) * g.At(m, n, v(e), v(ff))
					}
				}
			}
			fae.Set(a, e, x)
		}
	}

	fmi := mat.NewDense(no, no, nil)
	for m := range no {
		for i := range no {
			var x float64
			if m != i {
				x = f.At(m, i)
			}
			for e := range nv {
				x += 0.5 * t1.At(i, e) * f.At(m, v(e))
				for n := range no {
					x += t1.At(n, e) * g.At(m, n, i, v(e))
					for ff := range nv {
						x += 0.5 * taut.At(i, n, e, ff) * g.At(m, n, v(e), v(ff))
					}
				}
			}
			fmi.Set(m, i, x)
		}
	}

	fme := mat.NewDense(no, nv, nil)
	for m := range no {
		for e := range nv {
			x := f.At(m, v(e))
			for n := range no {
				for ff := range nv {
					x += t1.At(n, ff) * g.At(m, n, v(e), v(ff))
				}
			}
			fme.Set(m, e, x)
		}
	}

	wmnij := linalg.NewTensor4(no, no, no, no)
	for m := range no {
		for n := range no {
			for i := range no {
				for j := range no {
					x := g.At(m, n, i, j)
					for e := range nv {
						x += t1.At(j, e)*g.At(m, n, i, v(e)) - t1.At(i, e)*g.At(m, n, j, v(e))
						for ff := range nv {
							x += 0.25 * tau.At(i, j, e, ff) * g.At(m, n, v(e), v(ff))
						}
					}
					wmnij.Set(m, n, i, j, x)
				}
			}
		}
	}

	wabef := linalg.NewTensor4(nv, nv, nv, nv)
	for a := range nv {
		for b := range nv {
			for e := range nv {
				for ff := range nv {
					x := g.At(v(a), v(b), v(e), v(ff))
					for m := range no {
						x -= t1.At(m, b)*g.At(v(a), m, v(e), v(ff)) - t1.At(m, a)*g.At(v(b), m, v(e), v(ff))
						for n := range no {
							x += 0.25 * tau.At(m, n, a, b) * g.At(m, n, v(e), v(ff))
						}
					}
					wabef.Set(a, b, e, ff, x)
				}
			}
		}
	}

	wmbej := linalg.NewTensor4(no, nv, nv, no)
	for m := range no {
		for b := range nv {
			for e := range nv {
				for j := range no {
					x := g.At(m, v(b), v(e), j)
					for ff := range nv {
						x += t1.At(j, ff) * g.At(m, v(b), v(e), v(ff))
					}
					for n := range no {
						x -= t1.At(n, b) * g.At(m, n, v(e), j)
						for ff := range nv {
							x -= (0.5*t2.At(j, n, ff, b) + t1.At(j, ff)*t1.At(n, b)) * g.At(m, n, v(e), v(ff))
						}
					}
					wmbej.Set(m, b, e, j, x)
				}
			}
		}
	}

	t1n := mat.NewDense(no, nv, nil)
	for i := range no {
		for a := range nv {
			x := f.At(i, v(a))
			for e := range nv {
				x += t1.At(i, e) * fae.At(a, e)
			}
			for m := range no {
				x -= t1.At(m, a) * fmi.At(m, i)
				for e := range nv {
					x += t2.At(i, m, a, e) * fme.At(m, e)
					x -= t1.At(m, e) * g.At(m, v(a), i, v(e))
					for ff := range nv {
						x -= 0.5 * t2.At(i, m, e, ff) * g.At(m, v(a), v(e), v(ff))
					}
					for n := range no {
						x -= 0.5 * t2.At(m, n, a, e) * g.At(n, m, v(e), i)
					}
				}
			}
			t1n.Set(i, a, x/cc.d1(i, a))
		}
	}

	// Dressed one-body intermediates of the doubles equation.
	faeT := mat.NewDense(nv, nv, nil)
	for b := range nv {
		for e := range nv {
			x := fae.At(b, e)
			for m := range no {
				x -= 0.5 * t1.At(m, b) * fme.At(m, e)
			}
			faeT.Set(b, e, x)
		}
	}
	fmiT := mat.NewDense(no, no, nil)
	for m := range no {
		for j := range no {
			x := fmi.At(m, j)
			for e := range nv {
				x += 0.5 * t1.At(j, e) * fme.At(m, e)
			}
			fmiT.Set(m, j, x)
		}
	}

	// Terms antisymmetrized by P(ab), P(ij) and P(ij)P(ab).
	pab := linalg.NewTensor4(no, no, nv, nv)
	pij := linalg.NewTensor4(no, no, nv, nv)
	pijab := linalg.NewTensor4(no, no, nv, nv)
	t2n := linalg.NewTensor4(no, no, nv, nv)
	for i := range no {
		for j := range no {
			for a := range nv {
				for b := range nv {
					x := g.At(i, j, v(a), v(b))
					for m := range no {
						for n := range no {
							x += 0.5 * tau.At(m, n, a, b) * wmnij.At(m, n, i, j)
						}
					}
					for e := range nv {
						for ff := range nv {
							x += 0.5 * tau.At(i, j, e, ff) * wabef.At(a, b, e, ff)
						}
					}
					t2n.Set(i, j, a, b, x)

					var xab, xij, xijab float64
					for e := range nv {
						xab += t2.At(i, j, a, e) * faeT.At(b, e)
						xij += t1.At(i, e) * g.At(v(a), v(b), v(e), j)
					}
					for m := range no {
						xab -= t1.At(m, a) * g.At(m, v(b), i, j)
						xij -= t2.At(i, m, a, b) * fmiT.At(m, j)
						for e := range nv {
							xijab += t2.At(i, m, a, e)*wmbej.At(m, b, e, j) - t1.At(i, e)*t1.At(m, a)*g.At(m, v(b), v(e), j)
						}
					}
					pab.Set(i, j, a, b, xab)
					pij.Set(i, j, a, b, xij)
					pijab.Set(i, j, a, b, xijab)
				}
			}
		}
	}
	for i := range no {
		for j := range no {
			for a := range nv {
				for b := range nv {
					x := t2n.At(i, j, a, b)
					x += pab.At(i, j, a, b) - pab.At(i, j, b, a)
					x += pij.At(i, j, a, b) - pij.At(j, i, a, b)
					x += pijab.At(i, j, a, b) - pijab.At(j, i, a, b) - pijab.At(i, j, b, a) + pijab.At(j, i, b, a)
					t2n.Set(i, j, a, b, x/cc.d2(i, j, a, b))
				}
			}
		}
	}
	return t1n, t2n
}

// toSpin converts closed shell spatial amplitudes to spin orbital amplitudes.
func (cc *spinCCSD) toSpin(t1 *mat.Dense, t2 *linalg.Tensor4) (*mat.Dense, *linalg.Tensor4) {
	no, nv := cc.no, cc.nv
	s1 := mat.NewDense(no, nv, nil)
	for i := range no {
		for a := range nv {
			if i%2 == a%2 {
				s1.Set(i, a, t1.At(i/2, a/2))
			}
		}
	}
	s2 := linalg.NewTensor4(no, no, nv, nv)
	for i := range no {
		for j := range no {
			for a := range nv {
				for b := range nv {
					var x float64
					if i%2 == a%2 && j%2 == b%2 {
						x += t2.At(i/2, j/2, a/2, b/2)
					}
					if i%2 == b%2 && j%2 == a%2 {
						x -= t2.At(i/2, j/2, b/2, a/2)
					}
					s2.Set(i, j, a, b, x)
				}
			}
		}
	}
	return s1, s2
}

// toSpatial extracts the spatial amplitudes t1[i,a] = t[iα,aα] and t2[i,j,a,b] = t[iα,jβ,aα,bβ].
func (cc *spinCCSD) toSpatial(s1 *mat.Dense, s2 *linalg.Tensor4) (*mat.Dense, *linalg.Tensor4) {
	no, nv := cc.no/2, cc.nv/2
	t1 := mat.NewDense(no, nv, nil)
	t2 := linalg.NewTensor4(no, no, nv, nv)
	for i := range no {
		for a := range nv {
			t1.Set(i, a, s1.At(2*i, 2*a))
			for j := range no {
				for b := range nv {
					t2.Set(i, j, a, b, s2.At(2*i, 2*j+1, 2*a, 2*b+1))
				}
			}
		}
	}
	return t1, t2
}

func amplitudeVector(t1 *mat.Dense, t2 *linalg.Tensor4) []float64 {
	r, c := t1.Dims()
	v := make([]float64, 0, r*c+t2.Len())
	for i := range r {
		v = append(v, t1.RawRowView(i)[:c]...)
	}
	return append(v, t2.Data...)
}

func (cc *spinCCSD) fromVector(v []float64) (*mat.Dense, *linalg.Tensor4) {
	n1 := cc.no * cc.nv
	t1 := mat.NewDense(cc.no, cc.nv, slices.Clone(v[:n1]))
	t2 := &linalg.Tensor4{Shape: [4]int{cc.no, cc.no, cc.nv, cc.nv}, Data: slices.Clone(v[n1:])}
	return t1, t2
}
