package solver

import (
	"context"
	"log/slog"
	"math"
	"math/bits"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/fumin/embcc/linalg"
	"github.com/fumin/embcc/scf"
)

type CIOptions struct {
	level      int
	anySpin    bool
	spinSquare float64
	h1Shift    *mat.Dense
	maxDet     int
	logger     *slog.Logger
}

func NewCIOptions() CIOptions {
	opt := CIOptions{}
	opt.maxDet = 3000
	opt.logger = slog.Default()
	return opt
}

// Level restricts the determinants to at most n excitations from the reference, zero means full CI.
func (opt CIOptions) Level(n int) CIOptions {
	opt.level = n
	return opt
}

// AnySpin selects the lowest state regardless of its spin.
func (opt CIOptions) AnySpin() CIOptions {
	opt.anySpin = true
	return opt
}

// FixSpin selects the lowest state with <S^2> equal to ss. The default is the lowest singlet.
func (opt CIOptions) FixSpin(ss float64) CIOptions {
	opt.anySpin = false
	opt.spinSquare = ss
	return opt
}

// H1Shift adds a one-electron potential, in the active orbitals, to the Hamiltonian that is diagonalized.
// Energies are evaluated without it.
func (opt CIOptions) H1Shift(v *mat.Dense) CIOptions {
	opt.h1Shift = v
	return opt
}

func (opt CIOptions) MaxDeterminants(n int) CIOptions {
	opt.maxDet = n
	return opt
}

func (opt CIOptions) Logger(l *slog.Logger) CIOptions {
	opt.logger = l
	return opt
}

// CI is configuration interaction in a basis of Slater determinants with equal numbers of alpha and beta electrons.
type CI struct {
	frame
}

type CIResult struct {
	ETot  float64
	ECorr float64
	// C0 is the reference coefficient of the normalized wavefunction, chosen positive.
	C0 float64
	// C1 and C2 are the coefficients of the alpha single and alpha-beta double excitations, c1[i,a] and c2[i,j,a,b].
	C1 *mat.Dense
	C2 *linalg.Tensor4
	// RDM1 is the spin summed one particle density matrix in the active orbitals.
	RDM1      *mat.Dense
	SS        float64
	NDet      int
	Converged bool
}

func NewCI(mf scf.MeanField, moCoeff *mat.Dense, moOcc []float64, frozen []int) (*CI, error) {
	fr, err := newFrame(mf, moCoeff, moOcc, frozen)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	if len(fr.active) > 32 {
		return nil, errors.Errorf("%d active orbitals, at most 32 supported", len(fr.active))
	}
	return &CI{frame: fr}, nil
}

func (s *CI) Kernel(ctx context.Context, eris *ERIs, options ...CIOptions) (*CIResult, error) {
	opt := NewCIOptions()
	if len(options) > 0 {
		opt = options[0]
	}
	n, nocc := eris.NMO(), eris.NOcc
	space := newDetSpace(n, nocc, opt.level)
	if len(space.dets) > opt.maxDet {
		return nil, errors.Errorf("%d determinants, at most %d allowed", len(space.dets), opt.maxDet)
	}

	h := space.hamiltonian(eris)
	hs := h
	if opt.h1Shift != nil {
		hs = space.hamiltonian(eris)
		space.addOneBody(hs, opt.h1Shift)
		hs.Compress()
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "")
	}
	vvs, err := hs.EigenSym()
	if err != nil {
		return nil, errors.Wrap(err, "")
	}

	var state []float64
	var ss float64
	for _, vv := range vvs {
		ss = space.spinSquare(vv.Vec)
		if opt.anySpin || math.Abs(ss-opt.spinSquare) < 1e-2 {
			state = vv.Vec
			break
		}
	}
	if state == nil {
		return nil, errors.Errorf("no state with <S^2> = %f among %d", opt.spinSquare, len(vvs))
	}

	hf := space.index[space.reference()]
	if state[hf] < 0 {
		floats.Scale(-1, state)
	}
	res := &CIResult{
		ETot:      floats.Dot(state, h.MulVec(state)),
		C0:        state[hf],
		SS:        ss,
		NDet:      len(space.dets),
		Converged: true,
	}
	res.ECorr = res.ETot - h.At(hf, hf)
	res.C1, res.C2 = space.excitationCoefficients(state)
	res.RDM1 = space.rdm1(state)
	if res.C0 < 1e-8 {
		opt.logger.Warn("ci reference weight vanishes", "c0", res.C0)
	}
	opt.logger.Debug("ci", "ndet", res.NDet, "nnz", h.NumNonZero(), "etot", res.ETot, "ecorr", res.ECorr, "ss", ss)
	return res, nil
}

// detSpace is a set of determinants over n spatial orbitals.
// Bit p of a determinant is alpha orbital p, bit n+p is beta orbital p.
type detSpace struct {
	n, nocc int
	dets    []uint64
	index   map[uint64]int
}

func newDetSpace(n, nocc, level int) *detSpace {
	space := &detSpace{n: n, nocc: nocc, index: make(map[uint64]int)}
	strs := occupationStrings(n, nocc)
	ref := uint64(1)<<nocc - 1
	for _, a := range strs {
		for _, b := range strs {
			if level > 0 {
				exc := bits.OnesCount64(a^ref)/2 + bits.OnesCount64(b^ref)/2
				if exc > level {
					continue
				}
			}
			d := a | b<<n
			space.index[d] = len(space.dets)
			space.dets = append(space.dets, d)
		}
	}
	return space
}

// occupationStrings returns all n bit masks with k bits set, in increasing order.
func occupationStrings(n, k int) []uint64 {
	out := make([]uint64, 0)
	for m := uint64(0); m < uint64(1)<<n; m++ {
		if bits.OnesCount64(m) == k {
			out = append(out, m)
		}
	}
	return out
}

func (space *detSpace) reference() uint64 {
	ref := uint64(1)<<space.nocc - 1
	return ref | ref<<space.n
}

// annihilate removes spin orbital k from d, returning the new determinant and the fermionic sign.
func annihilate(d uint64, k int) (uint64, float64, bool) {
	if d&(1<<k) == 0 {
		return 0, 0, false
	}
	return d &^ (1 << k), parity(d, k), true
}

func create(d uint64, k int) (uint64, float64, bool) {
	if d&(1<<k) != 0 {
		return 0, 0, false
	}
	return d | 1<<k, parity(d, k), true
}

func parity(d uint64, k int) float64 {
	if bits.OnesCount64(d&(1<<k-1))%2 == 1 {
		return -1
	}
	return 1
}

// excite applies a†_p a_q to d.
func excite(d uint64, p, q int) (uint64, float64, bool) {
	d1, s1, ok := annihilate(d, q)
	if !ok {
		return 0, 0, false
	}
	d2, s2, ok := create(d1, p)
	if !ok {
		return 0, 0, false
	}
	return d2, s1 * s2, true
}

// addOneBody adds sum_pq v[p,q] sum_s a†_ps a_qs to h.
func (space *detSpace) addOneBody(h *linalg.COO, v *mat.Dense) {
	n := space.n
	for col, d := range space.dets {
		for sigma := range 2 {
			for q := range n {
				for p := range n {
					vpq := v.At(p, q)
					if vpq == 0 {
						continue
					}
					d2, sign, ok := excite(d, sigma*n+p, sigma*n+q)
					if !ok {
						continue
					}
					if row, ok := space.index[d2]; ok {
						h.AddAt(row, col, sign*vpq)
					}
				}
			}
		}
	}
}

// hamiltonian returns the Hamiltonian projected onto the determinant space, core energy included.
func (space *detSpace) hamiltonian(eris *ERIs) *linalg.COO {
	n := space.n
	h := linalg.COOZeros(len(space.dets), len(space.dets))
	for col := range space.dets {
		h.AddAt(col, col, eris.ECore)
	}
	space.addOneBody(h, eris.H1)

	// 1/2 sum (pq|rs) a†_ps a†_rt a_st a_qs.
	for col, d := range space.dets {
		for q := range 2 * n {
			d1, s1, ok := annihilate(d, q)
			if !ok {
				continue
			}
			for s := range 2 * n {
				d2, s2, ok := annihilate(d1, s)
				if !ok {
					continue
				}
				tau := s / n
				for r := range n {
					d3, s3, ok := create(d2, tau*n+r)
					if !ok {
						continue
					}
					sigma := q / n
					for p := range n {
						d4, s4, ok := create(d3, sigma*n+p)
						if !ok {
							continue
						}
						row, ok := space.index[d4]
						if !ok {
							continue
						}
						v := eris.ERI.At(p, q%n, r, s%n)
						h.AddAt(row, col, 0.5*s1*s2*s3*s4*v)
					}
				}
			}
		}
	}
	h.Compress(1e-14)
	return h
}

// spinSquare returns <S^2> = |S+ c|^2 for a state with equal alpha and beta electrons.
func (space *detSpace) spinSquare(c []float64) float64 {
	n := space.n
	splus := make(map[uint64]float64)
	for i, d := range space.dets {
		if c[i] == 0 {
			continue
		}
		for p := range n {
			d2, sign, ok := excite(d, p, n+p)
			if !ok {
				continue
			}
			splus[d2] += sign * c[i]
		}
	}
	var ss float64
	for _, v := range splus {
		ss += v * v
	}
	return ss
}

func (space *detSpace) rdm1(c []float64) *mat.Dense {
	n := space.n
	dm := mat.NewDense(n, n, nil)
	for i, d := range space.dets {
		if c[i] == 0 {
			continue
		}
		for sigma := range 2 {
			for q := range n {
				for p := range n {
					d2, sign, ok := excite(d, sigma*n+p, sigma*n+q)
					if !ok {
						continue
					}
					if j, ok := space.index[d2]; ok {
						dm.Set(p, q, dm.At(p, q)+sign*c[j]*c[i])
					}
				}
			}
		}
	}
	return dm
}

// excitationCoefficients returns the coefficients of a†_aα a_iα |ref> and a†_aα a_iα a†_bβ a_jβ |ref>.
func (space *detSpace) excitationCoefficients(c []float64) (*mat.Dense, *linalg.Tensor4) {
	n, no := space.n, space.nocc
	nv := n - no
	ref := space.reference()
	coef := func(d uint64) float64 {
		if i, ok := space.index[d]; ok {
			return c[i]
		}
		return 0
	}

	var c1 *mat.Dense
	if no > 0 && nv > 0 {
		c1 = mat.NewDense(no, nv, nil)
	}
	c2 := linalg.NewTensor4(no, no, nv, nv)
	for i := range no {
		for a := range nv {
			da, sa, _ := excite(ref, no+a, i)
			c1.Set(i, a, sa*coef(da))
			for j := range no {
				for b := range nv {
					db, sb, _ := excite(ref, n+no+b, n+j)
					dab, sab, _ := excite(db, no+a, i)
					c2.Set(i, j, a, b, sb*sab*coef(dab))
				}
			}
		}
	}
	return c1, c2
}
