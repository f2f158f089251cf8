package k2gamma

import (
	"log/slog"
	"math"
	"math/cmplx"
	"time"

	"github.com/pkg/errors"

	"github.com/fumin/embcc/linalg"
	"github.com/fumin/embcc/util"
)

// DefaultImagTol is the largest imaginary part dropped when unfolding density fitted integrals.
const DefaultImagTol = 1e-7

// integrityTol bounds the imaginary part and asymmetry of unfolded integrals that must be real.
const integrityTol = 1e-9

var (
	// ErrImaginary reports an unfolded quantity that should be real but is not.
	ErrImaginary = errors.New("imaginary part in unfolded integrals")
	// ErrAsymmetric reports unfolded integrals (L|pq) that differ from (L|qp).
	ErrAsymmetric = errors.New("asymmetric unfolded integrals")
)

type UnfoldOptions struct {
	imagTol float64
	compact bool
	logger  *slog.Logger
}

func NewUnfoldOptions() UnfoldOptions {
	opt := UnfoldOptions{}
	opt.imagTol = DefaultImagTol
	opt.logger = slog.Default()
	return opt
}

// ImagTol sets the largest imaginary part that is dropped. Larger imaginary parts are kept.
func (opt UnfoldOptions) ImagTol(tol float64) UnfoldOptions {
	opt.imagTol = tol
	return opt
}

// Compact packs real integrals (L|pq) into the lower triangle p >= q.
func (opt UnfoldOptions) Compact(b bool) UnfoldOptions {
	opt.compact = b
	return opt
}

func (opt UnfoldOptions) Logger(l *slog.Logger) UnfoldOptions {
	opt.logger = l
	return opt
}

// J3CK are k-point sampled three-center integrals (L k_l | a k_i, b k_j), k_l = k_i - k_j,
// stored as j3c[L, i, a, j, b].
// They satisfy j3c[L, j, b, i, a] = conj(j3c[L, i, a, j, b]).
type J3CK struct {
	NAux, NK, NAO int
	Data          []complex128
}

func NewJ3CK(naux, nk, nao int) *J3CK {
	return &J3CK{NAux: naux, NK: nk, NAO: nao, Data: make([]complex128, naux*nk*nao*nk*nao)}
}

func (j *J3CK) index(l, ki, a, kj, b int) int {
	return (((l*j.NK+ki)*j.NAO+a)*j.NK+kj)*j.NAO + b
}

func (j *J3CK) At(l, ki, a, kj, b int) complex128     { return j.Data[j.index(l, ki, a, kj, b)] }
func (j *J3CK) Set(l, ki, a, kj, b int, v complex128) { j.Data[j.index(l, ki, a, kj, b)] = v }

// J3C are supercell three-center integrals (L|pq).
type J3C struct {
	NAux, N int
	// Compact integrals hold the lower triangle p >= q only.
	Compact bool
	Re      []float64
	// Im is nil for real integrals.
	Im []float64
}

func (j *J3C) index(l, p, q int) int {
	if j.Compact {
		if q > p {
			p, q = q, p
		}
		return l*j.N*(j.N+1)/2 + p*(p+1)/2 + q
	}
	return (l*j.N+p)*j.N + q
}

// IsReal reports whether the imaginary part was dropped.
func (j *J3C) IsReal() bool { return j.Im == nil }

func (j *J3C) At(l, p, q int) complex128 {
	i := j.index(l, p, q)
	if j.Im == nil {
		return complex(j.Re[i], 0)
	}
	return complex(j.Re[i], j.Im[i])
}

// ERI returns the four-center integrals (pq|rs) = sum over L of conj((L|pq)) (L|rs).
func (j *J3C) ERI() (*linalg.Tensor4, error) {
	n := j.N
	eri := linalg.NewTensor4(n, n, n, n)
	var maxImag float64
	for l := range j.NAux {
		for p := range n {
			for q := range n {
				lpq := cmplx.Conj(j.At(l, p, q))
				if lpq == 0 {
					continue
				}
				for r := range n {
					for s := range n {
						v := lpq * j.At(l, r, s)
						eri.Inc(p, q, r, s, real(v))
					}
				}
			}
		}
	}
	// Imaginary parts cancel only in the sum over L.
	if !j.IsReal() {
		im := make([]float64, len(eri.Data))
		for l := range j.NAux {
			for pq := range n * n {
				lpq := cmplx.Conj(j.At(l, pq/n, pq%n))
				for rs := range n * n {
					im[pq*n*n+rs] += imag(lpq * j.At(l, rs/n, rs%n))
				}
			}
		}
		for _, x := range im {
			maxImag = math.Max(maxImag, math.Abs(x))
		}
		if maxImag > integrityTol {
			return nil, errors.Wrapf(ErrImaginary, "four-center integrals imaginary part %g", maxImag)
		}
	}
	return eri, nil
}

// unfoldPairs returns the supercell integrals of each aux block l, out[l][L][(R,a),(S,b)],
// summing j3c[L,i,a,j,b] phase[R,i] conj(phase[S,j]) over the pairs with kconserv[i,j] = l.
func unfoldPairs(m *Mesh, j3c *J3CK) [][]complex128 {
	nk, nao, naux := j3c.NK, j3c.NAO, j3c.NAux
	n := nk * nao
	ph := m.Phase()
	kconserv := m.KConserv()

	out := make([][]complex128, nk)
	for l := range out {
		out[l] = make([]complex128, naux*n*n)
	}
	at := func(l, aux, p, q int) *complex128 { return &out[l][(aux*n+p)*n+q] }

	for i := range nk {
		for j := 0; j <= i; j++ {
			l, lt := kconserv[i][j], kconserv[j][i]
			for aux := range naux {
				for a := range nao {
					for b := range nao {
						v := j3c.At(aux, i, a, j, b)
						if v == 0 {
							continue
						}
						for r := range nk {
							pri := ph.At(r, i)
							for s := range nk {
								x := v * pri * cmplx.Conj(ph.At(s, j))
								*at(l, aux, r*nao+a, s*nao+b) += x
								if i != j {
									// The (j, i) pair is the conjugate transpose.
									*at(lt, aux, s*nao+b, r*nao+a) += cmplx.Conj(x)
								}
							}
						}
					}
				}
			}
		}
	}
	return out
}

func (m *Mesh) check(j3c *J3CK) error {
	if j3c.NK != m.NK() {
		return errors.Errorf("%d k-points in integrals, mesh has %d", j3c.NK, m.NK())
	}
	if len(j3c.Data) != j3c.NAux*j3c.NK*j3c.NAO*j3c.NK*j3c.NAO {
		return errors.Errorf("%d integrals for shape %d %d %d", len(j3c.Data), j3c.NAux, j3c.NK, j3c.NAO)
	}
	return nil
}

// UnfoldJ3C unfolds density fitted k-point integrals to the supercell.
// The auxiliary index of the result runs over (k_l, L) and stays in reciprocal space.
// The imaginary part is dropped when it is below the imaginary tolerance.
func UnfoldJ3C(m *Mesh, j3c *J3CK, options ...UnfoldOptions) (*J3C, error) {
	opt := NewUnfoldOptions()
	if len(options) > 0 {
		opt = options[0]
	}
	if err := m.check(j3c); err != nil {
		return nil, errors.Wrap(err, "")
	}
	t0 := time.Now()
	nk := j3c.NK
	n := nk * j3c.NAO
	blocks := unfoldPairs(m, j3c)

	norm := 1 / math.Sqrt(float64(nk))
	data := make([]complex128, 0, nk*len(blocks[0]))
	for _, b := range blocks {
		for _, x := range b {
			data = append(data, x*complex(norm, 0))
		}
	}
	var maxImag float64
	for _, x := range data {
		maxImag = math.Max(maxImag, math.Abs(imag(x)))
	}
	isReal := maxImag < opt.imagTol
	if isReal {
		opt.logger.Debug("dropping imaginary part of unfolded integrals", "max", maxImag)
	} else {
		opt.logger.Info("keeping imaginary part of unfolded integrals", "max", maxImag)
	}

	// Symmetry error (L|pq) - conj((L|qp)).
	naux := nk * j3c.NAux
	var symErr float64
	for l := range naux {
		for p := range n {
			for q := range p {
				d := data[(l*n+p)*n+q] - cmplx.Conj(data[(l*n+q)*n+p])
				symErr = math.Max(symErr, cmplx.Abs(d))
			}
		}
	}
	opt.logger.Debug("unfolded integral symmetry error", "max", symErr)

	out := &J3C{NAux: naux, N: n}
	if opt.compact {
		if !isReal {
			return nil, errors.Errorf("compact packing of complex integrals, imaginary part %g", maxImag)
		}
		out.Compact = true
		out.Re = make([]float64, 0, naux*n*(n+1)/2)
		for l := range naux {
			for p := range n {
				for q := 0; q <= p; q++ {
					out.Re = append(out.Re, real(data[(l*n+p)*n+q]))
				}
			}
		}
	} else {
		out.Re = make([]float64, len(data))
		for i, x := range data {
			out.Re[i] = real(x)
		}
		if !isReal {
			out.Im = make([]float64, len(data))
			for i, x := range data {
				out.Im[i] = imag(x)
			}
		}
	}
	opt.logger.Debug("unfolded three-center integrals", "naux", naux, "n", n, "time", util.TimeString(time.Since(t0)))
	return out, nil
}

// Unfold3c2e unfolds k-point three-center integrals to real space in all three indices.
// The auxiliary index of the result runs over (T, L), the auxiliary function L in cell T.
// The result must be real and symmetric in p and q.
func Unfold3c2e(m *Mesh, j3c *J3CK, options ...UnfoldOptions) (*J3C, error) {
	opt := NewUnfoldOptions()
	if len(options) > 0 {
		opt = options[0]
	}
	if err := m.check(j3c); err != nil {
		return nil, errors.Wrap(err, "")
	}
	nk, naux := j3c.NK, j3c.NAux
	n := nk * j3c.NAO
	blocks := unfoldPairs(m, j3c)
	ph := m.Phase()

	// out[T,L] = sum over l of conj(phase[T,l]) block[l][L] / sqrt(nk).
	norm := complex(1/math.Sqrt(float64(nk)), 0)
	size := naux * n * n
	out := &J3C{NAux: nk * naux, N: n, Re: make([]float64, nk*size)}
	var maxImag float64
	for t := range nk {
		for i := range size {
			var x complex128
			for l := range nk {
				x += cmplx.Conj(ph.At(t, l)) * blocks[l][i]
			}
			x *= norm
			maxImag = math.Max(maxImag, math.Abs(imag(x)))
			out.Re[t*size+i] = real(x)
		}
	}
	if maxImag > integrityTol {
		return nil, errors.Wrapf(ErrImaginary, "three-center integrals imaginary part %g", maxImag)
	}
	var symErr float64
	for l := range out.NAux {
		for p := range n {
			for q := range p {
				symErr = math.Max(symErr, math.Abs(out.Re[(l*n+p)*n+q]-out.Re[(l*n+q)*n+p]))
			}
		}
	}
	if symErr > integrityTol {
		return nil, errors.Wrapf(ErrAsymmetric, "%g", symErr)
	}
	opt.logger.Debug("unfolded three-center integrals to real space", "imag", maxImag, "asymmetry", symErr)
	return out, nil
}

// ERIK are k-point four-center integrals (p k_i q k_j | r k_k s k_l), k_l = k_i - k_j + k_k,
// stored as eri[i, j, k, p, q, r, s].
type ERIK struct {
	NK, NAO int
	Data    []complex128
}

func NewERIK(nk, nao int) *ERIK {
	return &ERIK{NK: nk, NAO: nao, Data: make([]complex128, nk*nk*nk*nao*nao*nao*nao)}
}

func (e *ERIK) index(i, j, k, p, q, r, s int) int {
	n := e.NAO
	return (((((i*e.NK+j)*e.NK+k)*n+p)*n+q)*n+r)*n + s
}

func (e *ERIK) At(i, j, k, p, q, r, s int) complex128 { return e.Data[e.index(i, j, k, p, q, r, s)] }

func (e *ERIK) Set(i, j, k, p, q, r, s int, v complex128) {
	e.Data[e.index(i, j, k, p, q, r, s)] = v
}

// Unfold4c2e unfolds k-point four-center integrals to the supercell,
// eri[(A,p),(B,q),(C,r),(D,s)] = sum over i, j, k of eri_k phase[A,i] conj(phase[B,j]) phase[C,k] conj(phase[D,l]) / nk.
func Unfold4c2e(m *Mesh, eriK *ERIK, options ...UnfoldOptions) (*linalg.Tensor4, error) {
	opt := NewUnfoldOptions()
	if len(options) > 0 {
		opt = options[0]
	}
	nk, nao := m.NK(), eriK.NAO
	if eriK.NK != nk {
		return nil, errors.Errorf("%d k-points in integrals, mesh has %d", eriK.NK, nk)
	}
	t0 := time.Now()
	n := nk * nao
	ph := m.Phase()
	out := make([]complex128, n*n*n*n)
	throttler := util.NewSkipThrottler(10 * time.Second)
	for i := range nk {
		if throttler.Ok() {
			opt.logger.Debug("unfolding four-center integrals", "k-point", i, "nk", nk)
		}
		for j := range nk {
			for k := range nk {
				l := m.KConserv3(i, j, k)
				for a := range nk {
					wa := ph.At(a, i)
					for b := range nk {
						wab := wa * cmplx.Conj(ph.At(b, j))
						for c := range nk {
							wabc := wab * ph.At(c, k)
							for d := range nk {
								w := wabc * cmplx.Conj(ph.At(d, l))
								addBlock(out, eriK, w, [3]int{i, j, k}, [4]int{a, b, c, d}, nao, n)
							}
						}
					}
				}
			}
		}
	}

	eri := linalg.NewTensor4(n, n, n, n)
	var maxImag float64
	for x, v := range out {
		v /= complex(float64(nk), 0)
		maxImag = math.Max(maxImag, math.Abs(imag(v)))
		eri.Data[x] = real(v)
	}
	if maxImag > integrityTol {
		return nil, errors.Wrapf(ErrImaginary, "four-center integrals imaginary part %g", maxImag)
	}
	opt.logger.Debug("unfolded four-center integrals", "n", n, "imag", maxImag, "time", util.TimeString(time.Since(t0)))
	return eri, nil
}

// addBlock adds w times the k-point block (i, j, k) to the supercell block of cells (a, b, c, d).
func addBlock(out []complex128, eriK *ERIK, w complex128, ks [3]int, cells [4]int, nao, n int) {
	for p := range nao {
		pp := cells[0]*nao + p
		for q := range nao {
			qq := cells[1]*nao + q
			for r := range nao {
				rr := cells[2]*nao + r
				base := ((pp*n+qq)*n + rr) * n
				for s := range nao {
					v := eriK.At(ks[0], ks[1], ks[2], p, q, r, s)
					out[base+cells[3]*nao+s] += w * v
				}
			}
		}
	}
}
