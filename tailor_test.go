package embcc

import (
	"context"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/fumin/embcc/linalg"
	"github.com/fumin/embcc/scf"
)

// solvedClusters runs one untailored iteration over single atom clusters without a correlation bath.
func solvedClusters(t *testing.T, natom int) *EmbCC {
	mf := meanField(t, scf.HydrogenChain(natom, 1.8, "sto-3g"))
	e, err := New(mf)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if _, err := e.MakeAllAtomClusters(NewClusterOptions().CCTolerances(1e-10, 1e-8)); err != nil {
		t.Fatalf("%+v", err)
	}
	if _, err := e.Run(context.Background()); err != nil {
		t.Fatalf("%+v", err)
	}
	for _, c := range e.Clusters() {
		if linalg.Cols(c.cOccAct) == 0 || linalg.Cols(c.cVirAct) == 0 {
			t.Fatalf("%s: no active orbitals", c.Name())
		}
	}
	return e
}

func TestClusterRunRepeated(t *testing.T) {
	t.Parallel()
	mf := meanField(t, scf.HydrogenChain(4, 1.8, "sto-3g"))
	e, err := New(mf)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	opt := NewClusterOptions().Solver("CCSD").Bath("full").MaxIter(2).CCTolerances(1e-10, 1e-8)
	c, err := e.MakeAOCluster("h01", []int{0, 1}, opt)
	if err != nil {
		t.Fatalf("%+v", err)
	}

	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("%+v", err)
	}
	_, first := e.Accumulator().Reference()
	if first == nil {
		t.Fatalf("no global amplitudes after first run")
	}

	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("%+v", err)
	}
	if c.iteration != 2 {
		t.Fatalf("%d iterations", c.iteration)
	}
	if math.IsNaN(c.ECorr()) || c.ECorr() >= 0 {
		t.Fatalf("%f", c.ECorr())
	}
	// The second run replaces the contribution of the first.
	if _, second := e.Accumulator().Reference(); second == first {
		t.Fatalf("global amplitudes not updated")
	}
}

func TestTailoringChangesEnergy(t *testing.T) {
	t.Parallel()
	mf := meanField(t, scf.HydrogenChain(6, 1.8, "sto-3g"))
	run := func(opt ClusterOptions) *Result {
		e, err := New(mf)
		if err != nil {
			t.Fatalf("%+v", err)
		}
		if _, err := e.MakeAllAtomClusters(opt); err != nil {
			t.Fatalf("%+v", err)
		}
		res, err := e.Run(context.Background())
		if err != nil {
			t.Fatalf("%+v", err)
		}
		return res
	}
	opt := NewClusterOptions().Bath("none").CCTolerances(1e-10, 1e-8)
	single := run(opt)
	coupled := run(opt.MaxIter(2).CoupledBath(true))
	if math.Abs(coupled.ECorr-single.ECorr) < 1e-7 {
		t.Fatalf("tailoring left the energy unchanged: %.10f %.10f", coupled.ECorr, single.ECorr)
	}
	for _, cr := range coupled.Clusters {
		if cr.Iterations != 2 {
			t.Fatalf("%+v", cr)
		}
	}
}

func TestCoupledTailor(t *testing.T) {
	t.Parallel()
	e := solvedClusters(t, 4)
	c := e.Clusters()[1]
	reg, err := NewRegistry(e.Clusters())
	if err != nil {
		t.Fatalf("%+v", err)
	}
	t1, t2 := AmplitudesC2T(c.Amplitudes())

	ct := c.newCoupledTailor(reg)
	if len(ct.couplings) != len(e.Clusters())-1 {
		t.Fatalf("%v", ct.names())
	}
	_, out2, err := ct.Apply(t1, t2)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if d := out2.Sub(t2).Norm(); d < 1e-8 {
		t.Fatalf("amplitudes of the other clusters had no effect, %g", d)
	}

	// Other clusters that agree with ours leave the amplitudes unchanged.
	for i := range ct.couplings {
		cp := &ct.couplings[i]
		cp.t1, cp.t2 = TransformAmplitudes(cp.ro, cp.rv, t1, t2)
	}
	out1, out2, err := ct.Apply(t1, t2)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if !linalg.AllClose(out1, t1, 1e-12) {
		t.Fatalf("%s", linalg.Format(linalg.Sub(out1, t1)))
	}
	if d := out2.Sub(t2).Norm(); d > 1e-12 {
		t.Fatalf("%g", d)
	}
}

func TestGlobalTailor(t *testing.T) {
	t.Parallel()
	e := solvedClusters(t, 4)
	c := e.Clusters()[0]
	t1, t2 := AmplitudesC2T(c.Amplitudes())
	no, nv := linalg.Cols(c.cOccAct), linalg.Cols(c.cVirAct)

	same := &globalTailor{c: c, ref1: linalg.Clone(t1), ref2: t2.Clone(), mix: 1}
	out1, out2, err := same.Apply(t1, t2)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if !linalg.AllClose(out1, t1, 1e-12) || out2.Sub(t2).Norm() > 1e-12 {
		t.Fatalf("global amplitudes equal to ours changed them")
	}

	// Zero global amplitudes remove the environment part, leaving the fragment projection.
	zero := &globalTailor{c: c, ref1: mat.NewDense(no, nv, nil), ref2: linalg.NewTensor4(no, no, nv, nv), mix: 1}
	_, out2, err = zero.Apply(t1, t2)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if d := out2.Sub(t2).Norm(); d < 1e-8 {
		t.Fatalf("zero global amplitudes had no effect, %g", d)
	}
	_, p2, err := c.LocalAmplitudes(c.cOccAct, c.cVirAct, t1, t2, FirstOcc, false, true)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if d := out2.Sub(p2).Norm(); d > 1e-6 {
		t.Fatalf("%g", d)
	}
}
