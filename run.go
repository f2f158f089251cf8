package embcc

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/fumin/embcc/util"
)

type RunOptions struct {
	concurrency int
	logger      *slog.Logger
}

func NewRunOptions() RunOptions {
	opt := RunOptions{}
	opt.concurrency = runtime.GOMAXPROCS(0)
	opt.logger = slog.Default()
	return opt
}

// Concurrency sets the number of clusters solved at the same time.
func (opt RunOptions) Concurrency(n int) RunOptions {
	opt.concurrency = n
	return opt
}

func (opt RunOptions) Logger(l *slog.Logger) RunOptions {
	opt.logger = l
	return opt
}

// ClusterResult summarizes the last run of a cluster.
type ClusterResult struct {
	ID             int
	Name           string
	Solver         SolverKind
	Size           int
	NActive        int
	NFrozen        int
	Converged      bool
	Iterations     int
	ECorr          float64
	ECorrFull      float64
	EDeltaMP2      float64
	NElectronLocal float64
}

// Result is the outcome of an embedding calculation.
type Result struct {
	EMF float64
	// ECorr is the sum of the local correlation energies of all clusters.
	ECorr     float64
	ECorrFull float64
	EDeltaMP2 float64
	ETot      float64
	Converged bool
	Clusters  []ClusterResult
}

// Run solves all clusters.
// Clusters run concurrently and independently within an iteration.
// Clusters with more than one iteration are tailored by the amplitudes of the previous iteration.
func (e *EmbCC) Run(ctx context.Context, options ...RunOptions) (*Result, error) {
	opt := NewRunOptions()
	if len(options) > 0 {
		opt = options[0]
	}
	if len(e.clusters) == 0 {
		return nil, errors.Wrapf(ErrConfig, "no clusters")
	}
	maxIter := 1
	for _, c := range e.clusters {
		maxIter = max(maxIter, c.opt.maxIter)
	}

	t0 := time.Now()
	for it := range maxIter {
		reg, err := NewRegistry(e.clusters)
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(max(opt.concurrency, 1))
		for _, c := range e.clusters {
			if it >= c.opt.maxIter {
				continue
			}
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return errors.Wrap(err, "")
				}
				if err := c.run(gctx, reg, e.acc); err != nil {
					return errors.Wrapf(err, "cluster %s", c.name)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, errors.Wrap(err, "")
		}
		e.acc.Merge()
		if maxIter > 1 {
			opt.logger.Info("iteration done", "iteration", it, "ecorr", e.eCorr(), "time", util.TimeString(time.Since(t0)))
		}
	}

	res := e.result()
	opt.logger.Info("embcc done", "etot", res.ETot, "ecorr", res.ECorr, "edelta mp2", res.EDeltaMP2, "converged", res.Converged, "time", util.TimeString(time.Since(t0)))
	return res, nil
}

func (e *EmbCC) eCorr() float64 {
	var ec float64
	for _, c := range e.clusters {
		ec += c.eCorr
	}
	return ec
}

func (e *EmbCC) result() *Result {
	res := &Result{EMF: e.mf.ETot(), Converged: true}
	for _, c := range e.clusters {
		cr := ClusterResult{
			ID:             c.id,
			Name:           c.name,
			Solver:         c.solver,
			Size:           c.Size(),
			NActive:        c.NActive(),
			NFrozen:        c.NFrozen(),
			Converged:      c.converged,
			Iterations:     c.iteration,
			ECorr:          c.eCorr,
			ECorrFull:      c.eCorrFull,
			EDeltaMP2:      c.eDeltaMP2,
			NElectronLocal: c.nelectronLocal,
		}
		res.Clusters = append(res.Clusters, cr)
		res.ECorr += c.eCorr
		res.ECorrFull += c.eCorrFull
		res.EDeltaMP2 += c.eDeltaMP2
		res.Converged = res.Converged && c.converged
	}
	res.ETot = res.EMF + res.ECorr
	return res
}
