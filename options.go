package embcc

import (
	"log/slog"
	"math"

	"github.com/pkg/errors"

	"github.com/fumin/embcc/solver"
)

// ClusterOptions configure a cluster.
// Names are validated when the cluster is made.
type ClusterOptions struct {
	solver             string
	bath               string
	bathTol            [2]float64
	bathSize           [2]int
	mp2Correction      [2]bool
	useRefOrbitalsBath bool
	symmetryFactor     float64
	restartSolver      bool
	dmetBathTol        float64
	coupledBath        bool
	nelectronTarget    float64
	maxIter            int
	fixSpin            float64
	ccMaxCycle         int
	ccTol              [2]float64
	projector          ProjectorKind
	variant            Variant
	logger             *slog.Logger
}

func NewClusterOptions() ClusterOptions {
	opt := ClusterOptions{}
	opt.solver = SolverCCSD.String()
	opt.bath = BathNone.String()
	opt.bathTol = [2]float64{1e-4, 1e-4}
	opt.bathSize = [2]int{-1, -1}
	opt.mp2Correction = [2]bool{true, true}
	opt.symmetryFactor = 1
	opt.dmetBathTol = 1e-8
	opt.nelectronTarget = math.NaN()
	opt.maxIter = 1
	opt.fixSpin = math.NaN()
	opt.ccMaxCycle = 100
	opt.ccTol = [2]float64{1e-7, 1e-5}
	opt.logger = slog.Default()
	return opt
}

// Solver sets the solver by name, one of None, MP2, CCSD, CISD, FCI-spin0 and FCI-spin1.
func (opt ClusterOptions) Solver(name string) ClusterOptions {
	opt.solver = name
	return opt
}

// Bath sets the correlation bath by name, one of none, full and mp2-natorb.
func (opt ClusterOptions) Bath(name string) ClusterOptions {
	opt.bath = name
	return opt
}

// BathTol sets the natural occupation thresholds of the occupied and virtual bath.
func (opt ClusterOptions) BathTol(occ, vir float64) ClusterOptions {
	opt.bathTol = [2]float64{occ, vir}
	return opt
}

// BathSize fixes the number of occupied and virtual bath orbitals, overriding the thresholds.
// A negative size falls back to the threshold.
func (opt ClusterOptions) BathSize(occ, vir int) ClusterOptions {
	opt.bathSize = [2]int{occ, vir}
	return opt
}

// MP2Correction toggles the MP2 energy correction for the truncated occupied and virtual environment.
func (opt ClusterOptions) MP2Correction(occ, vir bool) ClusterOptions {
	opt.mp2Correction = [2]bool{occ, vir}
	return opt
}

// UseRefOrbitalsBath reuses the correlation bath of the reference data, if present.
func (opt ClusterOptions) UseRefOrbitalsBath(b bool) ClusterOptions {
	opt.useRefOrbitalsBath = b
	return opt
}

// SymmetryFactor scales the energies of the cluster, the number of symmetry equivalent copies.
func (opt ClusterOptions) SymmetryFactor(f float64) ClusterOptions {
	opt.symmetryFactor = f
	return opt
}

// RestartSolver starts coupled cluster iterations from the amplitudes of the previous run.
func (opt ClusterOptions) RestartSolver(b bool) ClusterOptions {
	opt.restartSolver = b
	return opt
}

func (opt ClusterOptions) DMETBathTol(tol float64) ClusterOptions {
	opt.dmetBathTol = tol
	return opt
}

// CoupledBath tailors coupled cluster amplitudes with the amplitudes of the other clusters.
func (opt ClusterOptions) CoupledBath(b bool) ClusterOptions {
	opt.coupledBath = b
	return opt
}

// NElectronTarget searches the chemical potential for which the fragment holds n electrons.
// Only configuration interaction solvers support it.
func (opt ClusterOptions) NElectronTarget(n float64) ClusterOptions {
	opt.nelectronTarget = n
	return opt
}

func (opt ClusterOptions) MaxIter(n int) ClusterOptions {
	opt.maxIter = n
	return opt
}

// FixSpin selects the lowest full CI state with <S^2> equal to ss.
func (opt ClusterOptions) FixSpin(ss float64) ClusterOptions {
	opt.fixSpin = ss
	return opt
}

func (opt ClusterOptions) CCMaxCycle(n int) ClusterOptions {
	opt.ccMaxCycle = n
	return opt
}

// CCTolerances sets the coupled cluster energy and amplitude convergence thresholds.
func (opt ClusterOptions) CCTolerances(e, normt float64) ClusterOptions {
	opt.ccTol = [2]float64{e, normt}
	return opt
}

// Projector sets the projector convention of AO local orbitals.
func (opt ClusterOptions) Projector(k ProjectorKind) ClusterOptions {
	opt.projector = k
	return opt
}

// Variant sets the projection used for the local energy.
func (opt ClusterOptions) Variant(v Variant) ClusterOptions {
	opt.variant = v
	return opt
}

func (opt ClusterOptions) Logger(l *slog.Logger) ClusterOptions {
	opt.logger = l
	return opt
}

func (opt ClusterOptions) hasTarget() bool { return !math.IsNaN(opt.nelectronTarget) }

// validate parses the names and checks the numeric options.
func (opt ClusterOptions) validate() (SolverKind, BathKind, error) {
	sk, err := ParseSolver(opt.solver)
	if err != nil {
		return 0, 0, errors.Wrap(err, "")
	}
	bk, err := ParseBath(opt.bath)
	if err != nil {
		return 0, 0, errors.Wrap(err, "")
	}
	switch {
	case opt.maxIter < 1:
		return 0, 0, errors.Wrapf(ErrConfig, "maxiter %d", opt.maxIter)
	case opt.dmetBathTol <= 0:
		return 0, 0, errors.Wrapf(ErrConfig, "dmet bath tolerance %g", opt.dmetBathTol)
	case opt.symmetryFactor <= 0:
		return 0, 0, errors.Wrapf(ErrConfig, "symmetry factor %g", opt.symmetryFactor)
	case opt.ccMaxCycle < 1:
		return 0, 0, errors.Wrapf(ErrConfig, "cc max cycle %d", opt.ccMaxCycle)
	case opt.hasTarget() && !sk.isCI():
		return 0, 0, errors.Wrapf(ErrConfig, "electron target with solver %s", sk)
	case !math.IsNaN(opt.fixSpin) && sk != SolverFCISpin0 && sk != SolverFCISpin1:
		return 0, 0, errors.Wrapf(ErrConfig, "fix spin with solver %s", sk)
	}
	for i, tol := range opt.bathTol {
		if tol < 0 {
			return 0, 0, errors.Wrapf(ErrConfig, "bath tolerance %d %g", i, tol)
		}
	}
	return sk, bk, nil
}

func (opt ClusterOptions) ccsdOptions() solver.CCSDOptions {
	return solver.NewCCSDOptions().MaxCycle(opt.ccMaxCycle).Tolerances(opt.ccTol[0], opt.ccTol[1]).Logger(opt.logger)
}

func (opt ClusterOptions) ciOptions(sk SolverKind) solver.CIOptions {
	ci := solver.NewCIOptions().Logger(opt.logger)
	switch {
	case !math.IsNaN(opt.fixSpin):
		ci = ci.FixSpin(opt.fixSpin)
	case sk == SolverFCISpin1:
		ci = ci.AnySpin()
	}
	if sk == SolverCISD {
		ci = ci.Level(2)
	}
	return ci
}
