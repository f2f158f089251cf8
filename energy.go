package embcc

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/fumin/embcc/linalg"
	"github.com/fumin/embcc/solver"
)

// ProjectIndices are the occupied indices of doubles amplitudes that a projector acts on.
type ProjectIndices int

const (
	ProjectFirst ProjectIndices = iota
	ProjectSecond
	ProjectBoth
)

// LocalProjector returns the projector of the orbitals m onto the fragment, P[x,i] in the basis of m.
// With inverse, it returns the projector onto the environment, 1 - P.
func (c *Cluster) LocalProjector(m *mat.Dense, inverse bool) (*mat.Dense, error) {
	if linalg.Cols(m) == 0 {
		return nil, nil
	}
	s := c.base.mf.Ovlp()
	var p *mat.Dense
	switch c.base.localType {
	case LocalLowdin:
		csc := linalg.MultiDot(m.T(), s, c.cLocal)
		p = linalg.Outer(csc, csc)
	case LocalAO:
		l := c.aoIndices
		switch c.opt.projector {
		case ProjectorRight:
			p = linalg.MultiDot(m.T(), linalg.SelectCols(s, l), linalg.SelectRows(m, l))
		case ProjectorLeft:
			p = linalg.MultiDot(linalg.SelectRows(m, l).T(), linalg.SelectRows(s, l), m)
		case ProjectorCenter:
			half := c.base.sqrtOvlp
			p = linalg.MultiDot(m.T(), linalg.SelectCols(half, l), linalg.SelectRows(half, l), m)
		default:
			return nil, errors.Wrapf(ErrNumerical, "unknown projector %v", c.opt.projector)
		}
	default:
		return nil, errors.Wrapf(ErrNumerical, "unknown local orbital type %v", c.base.localType)
	}

	if inverse {
		p = linalg.Sub(linalg.Identity(linalg.Cols(m)), p)
	}
	return p, nil
}

// ProjectAmplitudes applies the projector p to the occupied index of t1 and the occupied indices idx of t2.
// With symmetrize, the projected doubles are averaged with their pair exchange, t2[i,j,a,b] + t2[j,i,b,a].
func (c *Cluster) ProjectAmplitudes(p, t1 *mat.Dense, t2 *linalg.Tensor4, idx ProjectIndices, symmetrize bool) (*mat.Dense, *linalg.Tensor4) {
	var pt1 *mat.Dense
	if linalg.Cols(t1) > 0 {
		pt1 = linalg.MultiDot(p, t1)
	}

	var pt2 *linalg.Tensor4
	switch idx {
	case ProjectFirst:
		pt2 = t2.ContractAxis(0, p)
	case ProjectSecond:
		pt2 = t2.ContractAxis(1, p)
	case ProjectBoth:
		pt2 = t2.ContractAxis(0, p).ContractAxis(1, p)
	default:
		panic(errors.Errorf("unknown indices %d", idx))
	}

	if symmetrize {
		sym := symmetrizeT2(pt2)
		c.logger.Debug("projected T2 symmetry error", "norm", sym.Sub(pt2).Norm()*2)
		pt2 = sym
	}
	return pt1, pt2
}

// symmetrizeT2 returns (t2[i,j,a,b] + t2[j,i,b,a]) / 2.
func symmetrizeT2(t2 *linalg.Tensor4) *linalg.Tensor4 {
	return t2.Clone().AddScaled(1, t2.Transpose([4]int{1, 0, 3, 2})).Scale(0.5)
}

// TransformAmplitudes rotates amplitudes to new orbitals, t1[x,y] = ro[x,i] rv[y,a] t1[i,a] and likewise for t2.
func TransformAmplitudes(ro, rv, t1 *mat.Dense, t2 *linalg.Tensor4) (*mat.Dense, *linalg.Tensor4) {
	var out1 *mat.Dense
	if linalg.Cols(t1) > 0 {
		out1 = linalg.MultiDot(ro, t1, linalg.T(rv))
	}
	return out1, t2.Transform(ro, ro, rv, rv)
}

// AmplitudesC2T converts intermediate normalized CI coefficients to cluster amplitudes, t2 = c2 - c1 c1.
func AmplitudesC2T(c1 *mat.Dense, c2 *linalg.Tensor4) (*mat.Dense, *linalg.Tensor4) {
	t2 := c2.Clone()
	if linalg.Cols(c1) > 0 {
		t2.AddScaled(-1, linalg.OuterT1(c1, c1))
	}
	return linalg.Clone(c1), t2
}

// AmplitudesT2C converts cluster amplitudes to intermediate normalized CI coefficients, c2 = t2 + t1 t1.
func AmplitudesT2C(t1 *mat.Dense, t2 *linalg.Tensor4) (*mat.Dense, *linalg.Tensor4) {
	c2 := t2.Clone()
	if linalg.Cols(t1) > 0 {
		c2.AddScaled(1, linalg.OuterT1(t1, t1))
	}
	return linalg.Clone(t1), c2
}

// LocalAmplitudes projects amplitudes in the occupied orbitals co and virtual orbitals cv onto the fragment.
// With inverse the amplitudes are projected onto the environment instead.
func (c *Cluster) LocalAmplitudes(co, cv, c1 *mat.Dense, c2 *linalg.Tensor4, variant Variant, inverse, symmetrize bool) (*mat.Dense, *linalg.Tensor4, error) {
	switch variant {
	case FirstOcc:
		po, err := c.LocalProjector(co, inverse)
		if err != nil {
			return nil, nil, errors.Wrap(err, "")
		}
		p1, p2 := c.ProjectAmplitudes(po, c1, c2, ProjectFirst, symmetrize)
		return p1, p2, nil
	case FirstVir:
		pv, err := c.LocalProjector(cv, inverse)
		if err != nil {
			return nil, nil, errors.Wrap(err, "")
		}
		var p1 *mat.Dense
		if linalg.Cols(c1) > 0 {
			p1 = linalg.MultiDot(c1, linalg.T(pv))
		}
		p2 := c2.ContractAxis(2, pv)
		if symmetrize {
			p2 = symmetrizeT2(p2)
		}
		return p1, p2, nil
	case Democratic:
		po, err := c.LocalProjector(co, inverse)
		if err != nil {
			return nil, nil, errors.Wrap(err, "")
		}
		pv, err := c.LocalProjector(cv, inverse)
		if err != nil {
			return nil, nil, errors.Wrap(err, "")
		}
		var p1 *mat.Dense
		if linalg.Cols(c1) > 0 {
			p1 = linalg.MultiDot(po, c1)
			p1.Add(p1, linalg.MultiDot(c1, linalg.T(pv)))
			p1.Scale(0.5, p1)
		}
		p2 := c2.ContractAxis(0, po)
		p2.AddScaled(1, c2.ContractAxis(1, po))
		p2.AddScaled(1, c2.ContractAxis(2, pv))
		p2.AddScaled(1, c2.ContractAxis(3, pv))
		p2.Scale(0.25)
		return p1, p2, nil
	}
	return nil, nil, errors.Wrapf(ErrConfig, "unknown variant %v", variant)
}

// LocalEnergy returns the correlation energy of intermediate normalized amplitudes,
// 2 f[i,a] c1[i,a] + (2 (ia|jb) - (ib|ja)) c2[i,j,a,b], times the energy factor of the cluster.
func (c *Cluster) LocalEnergy(eris *solver.ERIs, c1 *mat.Dense, c2 *linalg.Tensor4) float64 {
	no, nv := eris.NOcc, eris.NVir()
	var e float64
	if linalg.Cols(c1) > 0 {
		for i := range no {
			for a := range nv {
				e += 2 * eris.Fock.At(i, no+a) * c1.At(i, a)
			}
		}
	}
	for i := range no {
		for j := range no {
			for a := range nv {
				for b := range nv {
					cijab := c2.At(i, j, a, b)
					if cijab == 0 {
						continue
					}
					g := 2*eris.ERI.At(i, no+a, j, no+b) - eris.ERI.At(i, no+b, j, no+a)
					e += g * cijab
				}
			}
		}
	}
	return c.EnergyFactor() * e
}
