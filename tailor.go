package embcc

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/fumin/embcc/linalg"
	"github.com/fumin/embcc/solver"
)

// chainTailors applies tailors in order.
func chainTailors(tailors []solver.Tailor) solver.Tailor {
	return func(t1 *mat.Dense, t2 *linalg.Tensor4) (*mat.Dense, *linalg.Tensor4, error) {
		var err error
		for _, f := range tailors {
			if t1, t2, err = f(t1, t2); err != nil {
				return nil, nil, errors.Wrap(err, "")
			}
		}
		return t1, t2, nil
	}
}

// globalTailor replaces the environment part of the amplitudes with the global amplitudes of the previous iteration.
type globalTailor struct {
	c    *Cluster
	ref1 *mat.Dense
	ref2 *linalg.Tensor4
	mix  float64
}

// newGlobalTailor rotates the global amplitudes, given in the occupied and virtual mean-field orbitals,
// to the active orbitals of the cluster.
func (c *Cluster) newGlobalTailor(t1 *mat.Dense, t2 *linalg.Tensor4) *globalTailor {
	cmfo, cmfv := c.base.meanFieldOrbitals()
	s := c.base.mf.Ovlp()
	ro := linalg.MultiDot(c.cOccAct.T(), s, cmfo)
	rv := linalg.MultiDot(c.cVirAct.T(), s, cmfv)
	ref1, ref2 := TransformAmplitudes(ro, rv, t1, t2)
	return &globalTailor{c: c, ref1: ref1, ref2: ref2, mix: 1}
}

func (g *globalTailor) Apply(t1 *mat.Dense, t2 *linalg.Tensor4) (*mat.Dense, *linalg.Tensor4, error) {
	var d1 *mat.Dense
	if linalg.Cols(t1) > 0 {
		d1 = linalg.Sub(g.ref1, t1)
	}
	d2 := g.ref2.Sub(t2)
	p1, p2, err := g.c.LocalAmplitudes(g.c.cOccAct, g.c.cVirAct, d1, d2, FirstOcc, true, true)
	if err != nil {
		return nil, nil, errors.Wrap(err, "")
	}

	out1 := linalg.Clone(t1)
	if p1 != nil {
		p1.Scale(g.mix, p1)
		out1.Add(out1, p1)
	}
	out2 := t2.Clone().AddScaled(g.mix, p2)
	return out1, out2, nil
}

// coupling holds the amplitudes of another cluster, with the rotations between its active orbitals and ours.
type coupling struct {
	name string
	// ro and rv are the overlaps of the other cluster's active orbitals with ours.
	ro, rv *mat.Dense
	// p projects the occupied orbitals of the other cluster onto its fragment.
	p  *mat.Dense
	t1 *mat.Dense
	t2 *linalg.Tensor4
}

// coupledTailor replaces the amplitudes of the cluster by those of the other clusters
// wherever the first occupied index lies in another fragment.
type coupledTailor struct {
	couplings []coupling
}

func (c *Cluster) newCoupledTailor(reg *Registry) *coupledTailor {
	s := c.base.mf.Ovlp()
	ct := &coupledTailor{}
	if linalg.Cols(c.cOccAct) == 0 || linalg.Cols(c.cVirAct) == 0 {
		return ct
	}
	for _, x := range reg.Others(c.id) {
		if x.C2 == nil || linalg.Cols(x.COccAct) == 0 || linalg.Cols(x.CVirAct) == 0 {
			continue
		}
		t1, t2 := AmplitudesC2T(x.C1, x.C2)
		cp := coupling{
			name: x.Name,
			ro:   linalg.MultiDot(x.COccAct.T(), s, c.cOccAct),
			rv:   linalg.MultiDot(x.CVirAct.T(), s, c.cVirAct),
			p:    x.POcc,
			t1:   t1,
			t2:   t2,
		}
		ct.couplings = append(ct.couplings, cp)
	}
	return ct
}

func (ct *coupledTailor) names() []string {
	names := make([]string, 0, len(ct.couplings))
	for _, cp := range ct.couplings {
		names = append(names, cp.name)
	}
	return names
}

func (ct *coupledTailor) Apply(t1 *mat.Dense, t2 *linalg.Tensor4) (*mat.Dense, *linalg.Tensor4, error) {
	out1, out2 := linalg.Clone(t1), t2.Clone()
	for _, cp := range ct.couplings {
		// Our amplitudes in the orbitals of the other cluster.
		x1, x2 := TransformAmplitudes(cp.ro, cp.rv, t1, t2)
		d2 := cp.t2.Sub(x2).ContractAxis(0, cp.p)
		var d1 *mat.Dense
		if linalg.Cols(x1) > 0 && linalg.Cols(cp.t1) > 0 {
			d1 = linalg.MultiDot(cp.p, linalg.Sub(cp.t1, x1))
		}

		b1, b2 := TransformAmplitudes(mat.DenseCopyOf(cp.ro.T()), mat.DenseCopyOf(cp.rv.T()), d1, d2)
		if b1 != nil && out1 != nil {
			out1.Add(out1, b1)
		}
		out2.AddScaled(1, b2)
	}
	return out1, out2, nil
}
