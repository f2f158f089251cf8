package embcc

import (
	"context"
	"math"
	"slices"
	"time"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/fumin/embcc/linalg"
	"github.com/fumin/embcc/solver"
	"github.com/fumin/embcc/util"
)

// Run builds the bath of the cluster and runs its solver.
// Each call is one iteration: the amplitudes it publishes tailor the next call.
func (c *Cluster) Run(ctx context.Context) error {
	reg, err := NewRegistry(c.base.clusters)
	if err != nil {
		return errors.Wrap(err, "")
	}
	if err := c.run(ctx, reg, c.base.acc); err != nil {
		return errors.Wrap(err, "")
	}
	c.base.acc.Merge()
	return nil
}

func (c *Cluster) run(ctx context.Context, reg *Registry, acc *Accumulator) error {
	t0 := time.Now()
	ref := c.refIn
	tol := c.opt.dmetBathTol

	cBath, cOccEnv, cVirEnv, err := c.MakeDMETBath(c.cEnv, ref.DMETBath, tol)
	if err != nil {
		return errors.Wrap(err, "")
	}
	c.cBath = cBath
	c.cOccClst, c.cVirClst, err = c.DiagonalizeClusterDM(cBath)
	if err != nil {
		return errors.Wrap(err, "")
	}
	c.orbitals = []OrbitalSpace{{Name: "Fragment", C: c.cLocal}}
	c.addOrbitals("DMET-bath", c.cBath)
	c.addOrbitals("Occ.-Cluster", c.cOccClst)
	c.addOrbitals("Vir.-Cluster", c.cVirClst)
	c.refOut = RefData{DMETBath: cBath}
	c.logger.Debug("time for dmet bath", "time", util.TimeString(time.Since(t0)))

	var occRef, virRef *mat.Dense
	if c.opt.useRefOrbitalsBath {
		occRef, virRef = ref.OccBath, ref.VirBath
	}
	t1 := time.Now()
	occBath, err := c.MakeBath(ctx, cOccEnv, c.bath, Occupied, occRef, ref.OccBathEigRef, c.opt.bathSize[Occupied], c.opt.bathTol[Occupied])
	if err != nil {
		return errors.Wrap(err, "")
	}
	virBath, err := c.MakeBath(ctx, cVirEnv, c.bath, Virtual, virRef, ref.VirBathEigRef, c.opt.bathSize[Virtual], c.opt.bathTol[Virtual])
	if err != nil {
		return errors.Wrap(err, "")
	}
	c.logger.Debug("time for bath", "bath", c.bath, "time", util.TimeString(time.Since(t1)))
	c.cOccBath, c.cVirBath = occBath.C, virBath.C
	c.cOccEnv, c.cVirEnv = occBath.Env, virBath.Env
	c.addOrbitals("Occ.-bath", c.cOccBath)
	c.addOrbitals("Vir.-bath", c.cVirBath)
	c.addOrbitals("Occ.-env.", c.cOccEnv)
	c.addOrbitals("Vir.-env.", c.cVirEnv)
	c.refOut.OccBath, c.refOut.VirBath = occBath.C, virBath.C
	c.refOut.OccBathEigRef, c.refOut.VirBathEigRef = occBath.EigRef, virBath.EigRef
	c.eDeltaMP2 = occBath.EDelta + virBath.EDelta
	c.bathOccupations = [2][]float64{occBath.Occupations, virBath.Occupations}
	c.logger.Debug("mp2 correction", "edelta", c.eDeltaMP2)

	if c.cOccAct, _, err = c.Canonicalize(c.cOccClst, c.cOccBath); err != nil {
		return errors.Wrap(err, "")
	}
	if c.cVirAct, _, err = c.Canonicalize(c.cVirClst, c.cVirBath); err != nil {
		return errors.Wrap(err, "")
	}
	if err := c.assembleOrbitals(); err != nil {
		return errors.Wrap(err, "")
	}
	c.logger.Debug("orbitals",
		"active occ", linalg.Cols(c.cOccAct), "active vir", linalg.Cols(c.cVirAct), "active", c.NActive(),
		"frozen occ", linalg.Cols(c.cOccEnv), "frozen vir", linalg.Cols(c.cVirEnv), "frozen", c.NFrozen())
	c.logger.Debug("wall time for bath", "time", util.TimeString(time.Since(t0)))

	t2 := time.Now()
	if err := c.runSolver(ctx, reg, acc); err != nil {
		return errors.Wrap(err, "")
	}
	c.logger.Debug("wall time for solver", "time", util.TimeString(time.Since(t2)))
	return nil
}

// assembleOrbitals orders the orbitals as frozen occupied, active occupied, active virtual, frozen virtual
// and checks that occupied orbitals are doubly occupied and virtual ones empty.
func (c *Cluster) assembleOrbitals() error {
	co := linalg.HStack(c.cOccEnv, c.cOccAct)
	cv := linalg.HStack(c.cVirAct, c.cVirEnv)
	tol := 2 * c.opt.dmetBathTol
	for _, o := range c.Occupations(co) {
		if math.Abs(o-2) > tol {
			return errors.Wrapf(ErrNumerical, "occupied orbital occupations %v", c.Occupations(co))
		}
	}
	for _, o := range c.Occupations(cv) {
		if math.Abs(o) > tol {
			return errors.Wrapf(ErrNumerical, "virtual orbital occupations %v", c.Occupations(cv))
		}
	}

	no, nv := linalg.Cols(co), linalg.Cols(cv)
	c.moCoeff = linalg.HStack(co, cv)
	c.moOcc = make([]float64, no+nv)
	for i := range no {
		c.moOcc[i] = 2
	}
	nOccEnv, nVirAct := linalg.Cols(c.cOccEnv), linalg.Cols(c.cVirAct)
	c.frozenOcc = indexRange(0, nOccEnv)
	c.activeOcc = indexRange(nOccEnv, no)
	c.activeVir = indexRange(no, no+nVirAct)
	c.frozenVir = indexRange(no+nVirAct, no+nv)
	return nil
}

func indexRange(from, to int) []int {
	idx := make([]int, 0, to-from)
	for i := from; i < to; i++ {
		idx = append(idx, i)
	}
	return idx
}

type ao2mo interface {
	AO2MO() (*solver.ERIs, error)
}

// integrals returns the active space integrals, reusing those of the previous iteration for unchanged orbitals.
func (c *Cluster) integrals(s ao2mo) (*solver.ERIs, error) {
	if c.eris != nil && linalg.AllClose(c.erisCoeff, c.moCoeff, 1e-12) {
		c.logger.Debug("reusing integrals")
		return c.eris, nil
	}
	t0 := time.Now()
	eris, err := s.AO2MO()
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	c.logger.Debug("time for integral transformation", "time", util.TimeString(time.Since(t0)))
	if c.opt.maxIter > 1 {
		c.eris, c.erisCoeff = eris, c.moCoeff
	}
	return eris, nil
}

// solution is the outcome of a solver run before projection.
type solution struct {
	converged bool
	eCorrFull float64
	eris      *solver.ERIs
	c1        *mat.Dense
	c2        *linalg.Tensor4
}

func (c *Cluster) runSolver(ctx context.Context, reg *Registry, acc *Accumulator) error {
	c.iteration++
	if c.iteration > 1 {
		c.logger.Debug("iteration", "iteration", c.iteration)
	}
	sk := c.solver
	if c.NActive() == 1 {
		c.logger.Debug("only one orbital in cluster, no correlation energy")
		sk = SolverNone
	}
	c.logger.Debug("running solver", "solver", sk)

	var sol *solution
	var err error
	switch sk {
	case SolverNone:
		sol = &solution{converged: true}
	case SolverMP2:
		sol, err = c.runMP2Solver(ctx)
	case SolverCCSD:
		sol, err = c.runCCSD(ctx, reg, acc)
	case SolverCISD, SolverFCISpin0, SolverFCISpin1:
		sol, err = c.runCI(ctx, sk)
	default:
		return errors.Wrapf(ErrConfig, "unknown solver %v", sk)
	}
	if err != nil {
		return errors.Wrap(err, "")
	}

	var eCorr float64
	if sol.eris != nil {
		p1, p2, err := c.LocalAmplitudes(c.cOccAct, c.cVirAct, sol.c1, sol.c2, c.opt.variant, false, true)
		if err != nil {
			return errors.Wrap(err, "")
		}
		eCorr = c.LocalEnergy(sol.eris, p1, p2)
	}

	c.logger.Debug("full cluster correlation energy", "ecorr", sol.eCorrFull)
	if c.eCorr != 0 {
		c.logger.Debug("change of local correlation energy", "decorr", eCorr-c.eCorr)
	}
	c.converged = sol.converged
	c.eCorrFull = sol.eCorrFull
	c.eCorr = eCorr
	c.c1, c.c2 = sol.c1, sol.c2
	if !c.converged {
		c.logger.Warn("solver not converged", "solver", sk)
	}
	return nil
}

func (c *Cluster) runMP2Solver(ctx context.Context) (*solution, error) {
	mp2, err := c.base.backend.MP2(c.base.mf, c.moCoeff, c.moOcc, c.Frozen())
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	mp2.SetLogger(c.logger)
	eris, err := c.integrals(mp2)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	res, err := mp2.Kernel(ctx, eris)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	sol := &solution{converged: res.Converged, eCorrFull: c.EnergyFactor() * res.ECorr, eris: eris, c2: res.T2}
	return sol, nil
}

func (c *Cluster) runCCSD(ctx context.Context, reg *Registry, acc *Accumulator) (*solution, error) {
	cc, err := c.base.backend.CCSD(c.base.mf, c.moCoeff, c.moOcc, c.Frozen())
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	eris, err := c.integrals(cc)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}

	opt := c.opt.ccsdOptions().Logger(c.logger)
	tailors := make([]solver.Tailor, 0)
	noAct, nvAct := linalg.Cols(c.cOccAct), linalg.Cols(c.cVirAct)
	if ref1, ref2 := acc.Reference(); ref2 != nil && noAct > 0 && nvAct > 0 {
		c.logger.Debug("tailoring with global amplitudes")
		g := c.newGlobalTailor(ref1, ref2)
		tailors = append(tailors, g.Apply)
	}
	if c.opt.coupledBath {
		ct := c.newCoupledTailor(reg)
		c.logger.Debug("coupling bath", "clusters", ct.names())
		if len(ct.couplings) > 0 {
			tailors = append(tailors, ct.Apply)
		}
	}
	if len(tailors) > 0 {
		opt = opt.Tailor(chainTailors(tailors))
	}
	if c.opt.restartSolver && c.restartT2 != nil && c.restartT2.Shape == [4]int{eris.NOcc, eris.NOcc, eris.NVir(), eris.NVir()} {
		c.logger.Debug("restarting ccsd from previous amplitudes")
		opt = opt.Restart(c.restartT1, c.restartT2)
	}

	res, err := cc.Kernel(ctx, eris, opt)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	c.logger.Debug("ccsd done", "converged", res.Converged, "iterations", res.Iterations)
	if c.opt.restartSolver {
		c.restartT1, c.restartT2 = res.T1, res.T2
	}

	if c.opt.maxIter > 1 && noAct > 0 && nvAct > 0 {
		if err := c.publishAmplitudes(acc, res.T1, res.T2); err != nil {
			return nil, errors.Wrap(err, "")
		}
	}

	c1, c2 := AmplitudesT2C(res.T1, res.T2)
	sol := &solution{converged: res.Converged, eCorrFull: c.EnergyFactor() * res.ECorr, eris: eris, c1: c1, c2: c2}
	return sol, nil
}

// publishAmplitudes adds the fragment part of the cluster amplitudes, in mean-field orbitals, to the accumulator.
func (c *Cluster) publishAmplitudes(acc *Accumulator, t1 *mat.Dense, t2 *linalg.Tensor4) error {
	p1, p2, err := c.LocalAmplitudes(c.cOccAct, c.cVirAct, t1, t2, FirstOcc, false, true)
	if err != nil {
		return errors.Wrap(err, "")
	}
	cmfo, cmfv := c.base.meanFieldOrbitals()
	s := c.base.mf.Ovlp()
	ro := linalg.MultiDot(cmfo.T(), s, c.cOccAct)
	rv := linalg.MultiDot(cmfv.T(), s, c.cVirAct)
	g1, g2 := TransformAmplitudes(ro, rv, p1, p2)
	if err := acc.Publish(c.id, g1, g2); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}

func (c *Cluster) runCI(ctx context.Context, sk SolverKind) (*solution, error) {
	ci, err := c.base.backend.CI(c.base.mf, c.moCoeff, c.moOcc, c.Frozen())
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	eris, err := c.integrals(ci)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	ciOpt := c.opt.ciOptions(sk).Logger(c.logger)

	var res *solver.CIResult
	if c.opt.hasTarget() {
		res, err = c.chemicalPotential(ctx, ci, eris, ciOpt)
	} else {
		res, err = ci.Kernel(ctx, eris, ciOpt)
	}
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	if c.nelectronLocal, err = c.localElectrons(res.RDM1); err != nil {
		return nil, errors.Wrap(err, "")
	}
	c.logger.Debug("ci done", "solver", sk, "converged", res.Converged, "reference weight", res.C0, "local electrons", c.nelectronLocal)

	// Intermediate normalization.
	renorm := 1 / res.C0
	var c1 *mat.Dense
	if linalg.Cols(res.C1) > 0 {
		c1 = mat.DenseCopyOf(res.C1)
		c1.Scale(renorm, c1)
	}
	c2 := res.C2.Clone().Scale(renorm)

	eCorrFull := res.ECorr
	if sk != SolverCISD {
		eCorrFull = res.ETot - c.base.mf.ETot()
	}
	sol := &solution{converged: res.Converged, eCorrFull: c.EnergyFactor() * eCorrFull, eris: eris, c1: c1, c2: c2}
	return sol, nil
}

// localElectrons returns the number of electrons on the fragment for an active space density,
// counted with the same fragment projector as the correlation energy.
func (c *Cluster) localElectrons(rdm1 *mat.Dense) (float64, error) {
	p, err := c.LocalProjector(c.moCoeff, false)
	if err != nil {
		return math.NaN(), errors.Wrap(err, "")
	}
	n := linalg.Cols(c.moCoeff)
	d := mat.NewDense(n, n, nil)
	for _, i := range c.frozenOcc {
		d.Set(i, i, 2)
	}
	active := slices.Concat(c.activeOcc, c.activeVir)
	for x, i := range active {
		for y, j := range active {
			d.Set(i, j, rdm1.At(x, y))
		}
	}
	var ne float64
	for i := range n {
		for j := range n {
			ne += p.At(i, j) * d.At(j, i)
		}
	}
	return ne, nil
}
