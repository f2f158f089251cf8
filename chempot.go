package embcc

import (
	"context"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/fumin/embcc/linalg"
	"github.com/fumin/embcc/solver"
)

const (
	chempotLower = -4.0
	chempotUpper = 0.0
	chempotTol   = 1e-6
)

// electronError is the root function of the chemical potential search.
// A potential mu acts on the bath and environment part of the active orbitals,
// and the error is the number of fragment electrons minus the target.
type electronError struct {
	c      *Cluster
	ci     *solver.CI
	eris   *solver.ERIs
	opt    solver.CIOptions
	envPot *mat.Dense
	target float64

	lastMu  float64
	lastRes *solver.CIResult
	lastN   float64
}

func (c *Cluster) newElectronError(ci *solver.CI, eris *solver.ERIs, opt solver.CIOptions) (*electronError, error) {
	envPot, err := c.LocalProjector(eris.MoCoeff, true)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	ee := &electronError{
		c:      c,
		ci:     ci,
		eris:   eris,
		opt:    opt,
		envPot: mat.DenseCopyOf(linalg.Symmetrize(envPot)),
		target: c.opt.nelectronTarget,
		lastMu: math.NaN(),
	}
	return ee, nil
}

func (ee *electronError) eval(ctx context.Context, mu float64) (float64, error) {
	pot := mat.DenseCopyOf(ee.envPot)
	pot.Scale(-mu, pot)
	res, err := ee.ci.Kernel(ctx, ee.eris, ee.opt.H1Shift(pot))
	if err != nil {
		return math.NaN(), errors.Wrap(err, "")
	}
	if !res.Converged {
		return math.NaN(), errors.Wrapf(ErrNotConverged, "ci at chemical potential %f", mu)
	}
	n, err := ee.c.localElectrons(res.RDM1)
	if err != nil {
		return math.NaN(), errors.Wrap(err, "")
	}
	ee.lastMu, ee.lastRes, ee.lastN = mu, res, n
	ee.c.logger.Debug("chemical potential", "mu", mu, "local electrons", n, "error", n-ee.target)
	return n - ee.target, nil
}

// chemicalPotential finds the potential on the bath for which the fragment holds the target number of electrons,
// and returns the solution at that potential.
func (c *Cluster) chemicalPotential(ctx context.Context, ci *solver.CI, eris *solver.ERIs, opt solver.CIOptions) (*solver.CIResult, error) {
	ee, err := c.newElectronError(ci, eris, opt)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	f := func(mu float64) (float64, error) { return ee.eval(ctx, mu) }
	brentOpt := linalg.NewBrentOptions().FTol(chempotTol)
	mu, err := linalg.Brent(f, chempotLower, chempotUpper, brentOpt)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	if mu != ee.lastMu {
		if _, err := ee.eval(ctx, mu); err != nil {
			return nil, errors.Wrap(err, "")
		}
	}
	c.logger.Info("chemical potential", "mu", mu, "local electrons", ee.lastN, "target", ee.target)
	return ee.lastRes, nil
}
