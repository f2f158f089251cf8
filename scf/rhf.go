package scf

import (
	"context"
	"log/slog"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/fumin/embcc/linalg"
)

type RHFOptions struct {
	maxIterations int
	eTol          float64
	dTol          float64
	diisSpace     int
	logger        *slog.Logger
}

func NewRHFOptions() RHFOptions {
	opt := RHFOptions{}
	opt.maxIterations = 100
	opt.eTol = 1e-10
	opt.dTol = 1e-8
	opt.diisSpace = 8
	opt.logger = slog.Default()
	return opt
}

func (opt RHFOptions) MaxIterations(n int) RHFOptions {
	opt.maxIterations = n
	return opt
}

// Tolerances sets the energy change and the orbital gradient RMS at convergence.
func (opt RHFOptions) Tolerances(eTol, dTol float64) RHFOptions {
	opt.eTol = eTol
	opt.dTol = dTol
	return opt
}

// DIISSpace sets the number of Fock matrices kept for extrapolation, zero disables DIIS.
func (opt RHFOptions) DIISSpace(n int) RHFOptions {
	opt.diisSpace = n
	return opt
}

func (opt RHFOptions) Logger(l *slog.Logger) RHFOptions {
	opt.logger = l
	return opt
}

// RHF runs a restricted Hartree-Fock calculation from the core Hamiltonian guess.
// A calculation that exhausts its iterations is returned with Converged false.
func RHF(ctx context.Context, ints *Integrals, options ...RHFOptions) (*Result, error) {
	opt := NewRHFOptions()
	if len(options) > 0 {
		opt = options[0]
	}
	x, err := linalg.FractionalPower(ints.S, -0.5)
	if err != nil {
		return nil, errors.Wrap(err, "overlap")
	}
	nocc := ints.NElectron / 2

	_, c, err := generalizedEigh(ints.Hcore, x)
	if err != nil {
		return nil, errors.Wrap(err, "core guess")
	}
	d := density(c, nocc)

	var diis *linalg.DIIS
	if opt.diisSpace > 0 {
		diis = linalg.NewDIIS(opt.diisSpace)
	}
	var ePrev float64
	for i := range opt.maxIterations {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, "")
		}

		f := mat.NewDense(ints.NAO(), ints.NAO(), nil)
		f.Add(ints.Hcore, Veff(ints.ERI, d))
		e := electronicEnergy(ints.Hcore, f, d) + ints.ENuc
		r := orbitalGradient(f, d, ints.S, x)
		rms := linalg.Norm(r) / float64(ints.NAO())
		opt.logger.Debug("rhf", "iteration", i, "energy", e, "dE", e-ePrev, "rms", rms)
		if i > 0 && math.Abs(e-ePrev) < opt.eTol && rms < opt.dTol {
			opt.logger.Info("rhf converged", "iterations", i, "energy", e)
			return FromFock(ints, f, true)
		}
		ePrev = e

		if diis != nil {
			n := ints.NAO()
			f = mat.NewDense(n, n, diis.Update(f.RawMatrix().Data, r.RawMatrix().Data))
		}
		_, c, err = generalizedEigh(f, x)
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		d = density(c, nocc)
	}

	opt.logger.Warn("rhf not converged", "iterations", opt.maxIterations)
	f := mat.NewDense(ints.NAO(), ints.NAO(), nil)
	f.Add(ints.Hcore, Veff(ints.ERI, d))
	return FromFock(ints, f, false)
}

// orbitalGradient returns x (F D S - S D F) x.
func orbitalGradient(f, d, s, x *mat.Dense) *mat.Dense {
	fds := linalg.MultiDot(f, d, s)
	var sdf mat.Dense
	sdf.CloneFrom(fds.T())
	return linalg.MultiDot(x, linalg.Sub(fds, &sdf), x)
}
