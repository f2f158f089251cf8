package embcc

import (
	"context"
	"math"
	"testing"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/fumin/embcc/linalg"
	"github.com/fumin/embcc/scf"
	"github.com/fumin/embcc/solver"
)

func meanField(t *testing.T, mol *scf.Molecule) *scf.Result {
	ints, err := mol.Integrals()
	if err != nil {
		t.Fatalf("%+v", err)
	}
	mf, err := scf.RHF(context.Background(), ints)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if !mf.Converged() {
		t.Fatalf("rhf not converged")
	}
	return mf
}

func fullCI(t *testing.T, mf scf.MeanField) float64 {
	ci, err := solver.NewCI(mf, mf.MoCoeff(), mf.MoOcc(), nil)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	eris, err := ci.AO2MO()
	if err != nil {
		t.Fatalf("%+v", err)
	}
	res, err := ci.Kernel(context.Background(), eris)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	return res.ETot - mf.ETot()
}

func fullCCSD(t *testing.T, mf scf.MeanField) float64 {
	cc, err := solver.NewCCSD(mf, mf.MoCoeff(), mf.MoOcc(), nil)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	eris, err := cc.AO2MO()
	if err != nil {
		t.Fatalf("%+v", err)
	}
	res, err := cc.Kernel(context.Background(), eris, solver.NewCCSDOptions().Tolerances(1e-10, 1e-8))
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if !res.Converged {
		t.Fatalf("ccsd not converged")
	}
	return res.ECorr
}

func TestFragmentEnergiesAddUp(t *testing.T) {
	t.Parallel()
	mf := meanField(t, scf.HydrogenChain(4, 1.8, "sto-3g"))
	tests := []struct {
		solver   string
		expected float64
		tol      float64
	}{
		{solver: "FCI-spin0", expected: fullCI(t, mf), tol: 1e-8},
		{solver: "CCSD", expected: fullCCSD(t, mf), tol: 1e-7},
	}
	for _, test := range tests {
		t.Run(test.solver, func(t *testing.T) {
			t.Parallel()
			e, err := New(mf)
			if err != nil {
				t.Fatalf("%+v", err)
			}
			opt := NewClusterOptions().Solver(test.solver).Bath("full").CCTolerances(1e-10, 1e-8)
			clusters, err := e.MakeAllAtomClusters(opt)
			if err != nil {
				t.Fatalf("%+v", err)
			}
			if len(clusters) != 4 {
				t.Fatalf("%d clusters", len(clusters))
			}
			res, err := e.Run(context.Background())
			if err != nil {
				t.Fatalf("%+v", err)
			}
			if !res.Converged {
				t.Fatalf("not converged")
			}
			if math.Abs(res.ECorr-test.expected) > test.tol {
				t.Fatalf("%.10f, expected %.10f", res.ECorr, test.expected)
			}
			if math.Abs(res.ETot-(mf.ETot()+test.expected)) > test.tol {
				t.Fatalf("etot %.10f", res.ETot)
			}
			for _, cr := range res.Clusters {
				if cr.NActive != 4 || cr.NFrozen != 0 {
					t.Fatalf("%+v", cr)
				}
				if math.Abs(cr.ECorrFull-test.expected) > test.tol {
					t.Fatalf("%s full cluster energy %.10f, expected %.10f", cr.Name, cr.ECorrFull, test.expected)
				}
			}
		})
	}
}

func TestWholeSystemCluster(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mf := meanField(t, scf.HydrogenChain(4, 1.8, "sto-3g"))
	mp2, err := solver.NewMP2(mf, mf.MoCoeff(), mf.MoOcc(), nil)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	eris, err := mp2.AO2MO()
	if err != nil {
		t.Fatalf("%+v", err)
	}
	expected, err := mp2.Kernel(ctx, eris)
	if err != nil {
		t.Fatalf("%+v", err)
	}

	e, err := New(mf)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	c, err := e.MakeAOCluster("all", []int{0, 1, 2, 3}, NewClusterOptions().Solver("MP2"))
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if err := c.Run(ctx); err != nil {
		t.Fatalf("%+v", err)
	}
	if c.NDMETBath() != 0 || c.NActive() != 4 {
		t.Fatalf("nbath %d, nactive %d", c.NDMETBath(), c.NActive())
	}
	if math.Abs(c.ECorr()-expected.ECorr) > 1e-10 {
		t.Fatalf("%.12f, expected %.12f", c.ECorr(), expected.ECorr)
	}
	if math.Abs(c.ECorrFull()-expected.ECorr) > 1e-10 {
		t.Fatalf("%.12f, expected %.12f", c.ECorrFull(), expected.ECorr)
	}
}

func TestConfigErrors(t *testing.T) {
	t.Parallel()
	mf := meanField(t, scf.HydrogenChain(2, 1.4, "sto-3g"))
	e, err := New(mf)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	tests := []struct {
		name string
		make func() error
	}{
		{name: "unknown solver", make: func() error {
			_, err := e.MakeAtomCluster([]int{0}, NewClusterOptions().Solver("BOGUS"))
			return err
		}},
		{name: "unknown bath", make: func() error {
			_, err := e.MakeAtomCluster([]int{0}, NewClusterOptions().Bath("BOGUS"))
			return err
		}},
		{name: "no local orbitals", make: func() error {
			_, err := e.MakeCluster("empty", nil, mf.MoCoeff(), nil)
			return err
		}},
		{name: "ao out of range", make: func() error {
			_, err := e.MakeAOCluster("x", []int{2})
			return err
		}},
		{name: "duplicate ao", make: func() error {
			_, err := e.MakeAOCluster("x", []int{0, 0})
			return err
		}},
		{name: "target without ci", make: func() error {
			_, err := e.MakeAtomCluster([]int{0}, NewClusterOptions().Solver("CCSD").NElectronTarget(1))
			return err
		}},
		{name: "zero iterations", make: func() error {
			_, err := e.MakeAtomCluster([]int{0}, NewClusterOptions().MaxIter(0))
			return err
		}},
	}
	for _, test := range tests {
		if err := test.make(); !errors.Is(err, ErrConfig) {
			t.Fatalf("%s: %+v", test.name, err)
		}
	}
	if len(e.Clusters()) != 0 {
		t.Fatalf("%d clusters made", len(e.Clusters()))
	}
	if _, err := e.Run(context.Background()); !errors.Is(err, ErrConfig) {
		t.Fatalf("%+v", err)
	}
}

func TestParseSolver(t *testing.T) {
	t.Parallel()
	tests := []struct {
		s    string
		kind SolverKind
	}{
		{s: "", kind: SolverNone},
		{s: "mp2", kind: SolverMP2},
		{s: "CCSD", kind: SolverCCSD},
		{s: "cisd", kind: SolverCISD},
		{s: "FCI-spin0", kind: SolverFCISpin0},
		{s: "fci-SPIN1", kind: SolverFCISpin1},
	}
	for _, test := range tests {
		k, err := ParseSolver(test.s)
		if err != nil {
			t.Fatalf("%+v", err)
		}
		if k != test.kind {
			t.Fatalf("%q: %v, expected %v", test.s, k, test.kind)
		}
	}
	if _, err := ParseSolver("BOGUS"); !errors.Is(err, ErrConfig) {
		t.Fatalf("%+v", err)
	}
}

func TestLocalProjectorsPartition(t *testing.T) {
	t.Parallel()
	mf := meanField(t, scf.HydrogenChain(4, 1.8, "sto-3g"))
	e, err := New(mf)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	clusters, err := e.MakeAllAtomClusters()
	if err != nil {
		t.Fatalf("%+v", err)
	}
	cmfo, _ := e.meanFieldOrbitals()
	sum := mat.NewDense(2, 2, nil)
	for _, c := range clusters {
		p, err := c.LocalProjector(cmfo, false)
		if err != nil {
			t.Fatalf("%+v", err)
		}
		sum.Add(sum, p)

		q, err := c.LocalProjector(cmfo, true)
		if err != nil {
			t.Fatalf("%+v", err)
		}
		q.Add(q, p)
		if !linalg.AllClose(q, linalg.Identity(2), 1e-12) {
			t.Fatalf("%s", linalg.Format(q))
		}
	}
	if !linalg.AllClose(sum, linalg.Identity(2), 1e-10) {
		t.Fatalf("%s", linalg.Format(sum))
	}
}

func TestSymmetrizedAmplitudes(t *testing.T) {
	t.Parallel()
	mf := meanField(t, scf.HydrogenChain(4, 1.8, "sto-3g"))
	e, err := New(mf)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	c, err := e.MakeAtomCluster([]int{1}, NewClusterOptions().Bath("full").CCTolerances(1e-10, 1e-8))
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("%+v", err)
	}
	c1, c2 := c.Amplitudes()
	for _, variant := range []Variant{FirstOcc, FirstVir, Democratic} {
		p1, p2, err := c.LocalAmplitudes(c.COccAct(), c.CVirAct(), c1, c2, variant, false, true)
		if err != nil {
			t.Fatalf("%+v", err)
		}
		if p1 == nil {
			t.Fatalf("no singles")
		}
		if d := p2.MaxAbsDiff(p2.Transpose([4]int{1, 0, 3, 2})); d > 1e-10 {
			t.Fatalf("%v: pair symmetry error %g", variant, d)
		}
	}

	// Fragment and environment parts add up to the whole.
	p1, p2, err := c.LocalAmplitudes(c.COccAct(), c.CVirAct(), c1, c2, FirstOcc, false, false)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	q1, q2, err := c.LocalAmplitudes(c.COccAct(), c.CVirAct(), c1, c2, FirstOcc, true, false)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	p1.Add(p1, q1)
	if !linalg.AllClose(p1, c1, 1e-12) {
		t.Fatalf("singles %s", linalg.Format(p1))
	}
	if d := p2.AddScaled(1, q2).MaxAbsDiff(c2); d > 1e-12 {
		t.Fatalf("doubles %g", d)
	}
}

func TestOccupations(t *testing.T) {
	t.Parallel()
	mf := meanField(t, scf.HydrogenChain(6, 1.8, "sto-3g"))
	e, err := New(mf)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	c, err := e.MakeAtomCluster([]int{2, 3}, NewClusterOptions().Solver("MP2"))
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("%+v", err)
	}
	if c.Size() != 2 || c.NDMETBath() != 2 {
		t.Fatalf("size %d, nbath %d", c.Size(), c.NDMETBath())
	}
	if c.NActive()+c.NFrozen() != 6 || c.NActive() != 4 {
		t.Fatalf("nactive %d, nfrozen %d", c.NActive(), c.NFrozen())
	}
	for i, o := range c.Occupations(c.MoCoeff()) {
		if math.Abs(o-c.MoOcc()[i]) > 1e-8 {
			t.Fatalf("orbital %d occupation %f, expected %f", i, o, c.MoOcc()[i])
		}
	}
	names := make([]string, 0)
	for _, o := range c.Orbitals() {
		names = append(names, o.Name)
	}
	expected := []string{"Fragment", "DMET-bath", "Occ.-Cluster", "Vir.-Cluster", "Occ.-bath", "Vir.-bath", "Occ.-env.", "Vir.-env."}
	if len(names) != len(expected) {
		t.Fatalf("%v", names)
	}
	for i := range names {
		if names[i] != expected[i] {
			t.Fatalf("%v", names)
		}
	}

	rows, err := c.AnalyzeOrbitals()
	if err != nil {
		t.Fatalf("%+v", err)
	}
	for _, r := range rows {
		if w := r.Weights["active"] + r.Weights["frozen"]; math.Abs(w-1) > 1e-8 {
			t.Fatalf("%s weights %v", r.Label, r.Weights)
		}
	}
}

func TestRefDataReproducesRun(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mf := meanField(t, scf.HydrogenChain(8, 1.8, "sto-3g"))
	e, err := New(mf)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	opt := NewClusterOptions().Solver("MP2").Bath("mp2-natorb").BathSize(1, 1).UseRefOrbitalsBath(true)
	c, err := e.MakeAtomCluster([]int{0, 1}, opt)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if err := c.Run(ctx); err != nil {
		t.Fatalf("%+v", err)
	}
	eCorr, eDelta, nactive := c.ECorr(), c.EDeltaMP2(), c.NActive()
	if nactive != 6 {
		t.Fatalf("nactive %d", nactive)
	}
	if c.NFrozen() != 2 || eDelta == 0 {
		t.Fatalf("nfrozen %d, mp2 correction %f", c.NFrozen(), eDelta)
	}

	c.Reset(true)
	if c.ECorr() != 0 || c.Iteration() != 0 {
		t.Fatalf("not reset")
	}
	if err := c.Run(ctx); err != nil {
		t.Fatalf("%+v", err)
	}
	if c.NActive() != nactive {
		t.Fatalf("nactive %d, expected %d", c.NActive(), nactive)
	}
	if math.Abs(c.ECorr()-eCorr) > 1e-10 || math.Abs(c.EDeltaMP2()-eDelta) > 1e-10 {
		t.Fatalf("ecorr %.12f %.12f, expected %.12f %.12f", c.ECorr(), c.EDeltaMP2(), eCorr, eDelta)
	}
}

func TestChemicalPotential(t *testing.T) {
	t.Parallel()
	ints, err := scf.Hubbard(4, 1, 2, 4, false)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	mf, err := scf.RHF(context.Background(), ints)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	e, err := New(mf)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	const target = 2.3
	opt := NewClusterOptions().Solver("FCI-spin0").Bath("full").NElectronTarget(target)
	if _, err := e.MakeAOCluster("left", []int{0, 1}, opt); err != nil {
		t.Fatalf("%+v", err)
	}
	res, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if n := res.Clusters[0].NElectronLocal; math.Abs(n-target) > 1e-5 {
		t.Fatalf("%f local electrons, expected %f", n, target)
	}
}

func TestIteratedTailoring(t *testing.T) {
	t.Parallel()
	mf := meanField(t, scf.HydrogenChain(4, 1.8, "sto-3g"))
	expected := fullCCSD(t, mf)
	e, err := New(mf)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	opt := NewClusterOptions().Bath("full").MaxIter(2).CoupledBath(true).RestartSolver(true).CCTolerances(1e-10, 1e-8)
	if _, err := e.MakeAllAtomClusters(opt); err != nil {
		t.Fatalf("%+v", err)
	}
	res, err := e.Run(context.Background(), NewRunOptions().Concurrency(2))
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if ref1, ref2 := e.Accumulator().Reference(); ref1 == nil || ref2 == nil {
		t.Fatalf("no global amplitudes")
	}
	for _, cr := range res.Clusters {
		if cr.Iterations != 2 {
			t.Fatalf("%+v", cr)
		}
	}
	if math.Abs(res.ECorr-expected) > 1e-6 {
		t.Fatalf("%.10f, expected %.10f", res.ECorr, expected)
	}
}

func TestRunCancelled(t *testing.T) {
	t.Parallel()
	mf := meanField(t, scf.HydrogenChain(4, 1.8, "sto-3g"))
	e, err := New(mf)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if _, err := e.MakeAllAtomClusters(); err != nil {
		t.Fatalf("%+v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("%+v", err)
	}
}

func TestLocalElectronsFollowProjector(t *testing.T) {
	t.Parallel()
	mf := meanField(t, scf.HydrogenChain(4, 1.8, "sto-3g"))
	s, d := mf.Ovlp(), mf.RDM1()
	ds := linalg.MultiDot(d, s)
	half, err := linalg.FractionalPower(s, 0.5)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	shs := linalg.MultiDot(half, d, half)
	tests := []struct {
		projector ProjectorKind
		expected  float64
	}{
		{projector: ProjectorRight, expected: ds.At(0, 0)},
		{projector: ProjectorLeft, expected: ds.At(0, 0)},
		{projector: ProjectorCenter, expected: shs.At(0, 0)},
	}
	for _, test := range tests {
		t.Run(test.projector.String(), func(t *testing.T) {
			t.Parallel()
			e, err := New(mf, NewOptions().LocalOrbitals(LocalAO))
			if err != nil {
				t.Fatalf("%+v", err)
			}
			c, err := e.MakeAOCluster("h0", []int{0}, NewClusterOptions().Solver("MP2").Bath("full").Projector(test.projector))
			if err != nil {
				t.Fatalf("%+v", err)
			}
			if err := c.Run(context.Background()); err != nil {
				t.Fatalf("%+v", err)
			}

			// The mean-field density of the active orbitals.
			nact := len(c.activeOcc) + len(c.activeVir)
			rdm1 := mat.NewDense(nact, nact, nil)
			for i := range c.activeOcc {
				rdm1.Set(i, i, 2)
			}
			n, err := c.localElectrons(rdm1)
			if err != nil {
				t.Fatalf("%+v", err)
			}
			if math.Abs(n-test.expected) > 1e-6 {
				t.Fatalf("%.10f, expected %.10f", n, test.expected)
			}
		})
	}
}
