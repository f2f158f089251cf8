package embcc

import (
	"context"
	"math"
	"slices"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/fumin/embcc/linalg"
	"github.com/fumin/embcc/solver"
)

// Space is the occupied or the virtual half of an orbital space.
type Space int

const (
	Occupied Space = iota
	Virtual
)

func (s Space) String() string {
	if s == Occupied {
		return "occ"
	}
	return "vir"
}

// envDensity returns the mean-field density of the orbitals m, normalized to one per orbital.
func (c *Cluster) envDensity(m *mat.Dense) *mat.Dense {
	d := c.meanFieldDensity(m)
	if d != nil {
		d.Scale(0.5, d)
	}
	return d
}

// MakeDMETBath splits the environment cEnv into DMET bath orbitals and occupied and virtual environment orbitals.
// The bath orbitals are the environment natural orbitals with occupations away from 0 and 1 by more than tol.
// When cRef is given, the bath is instead the part of the environment closest to cRef.
func (c *Cluster) MakeDMETBath(cEnv, cRef *mat.Dense, tol float64) (cBath, cOccEnv, cVirEnv *mat.Dense, err error) {
	if linalg.Cols(cRef) > 0 {
		cBath, rest, err := projectRefOrbitals(c.base.mf.Ovlp(), cEnv, cRef)
		if err != nil {
			return nil, nil, nil, errors.Wrap(err, "")
		}
		cOccEnv, cVirEnv, err := c.splitOccupied(rest)
		if err != nil {
			return nil, nil, nil, errors.Wrap(err, "")
		}
		c.logger.Debug("dmet bath from reference", "nbath", linalg.Cols(cBath))
		return cBath, cOccEnv, cVirEnv, nil
	}

	e, r, err := linalg.Eigh(c.envDensity(cEnv))
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "")
	}
	linalg.Reverse(e, r)
	for i, ei := range e {
		if ei < -1e-9 || ei > 1+1e-9 {
			c.logger.Warn("environment occupation outside [0, 1]", "index", i, "occupation", ei)
		}
	}
	var bath, occ, vir []int
	for i, ei := range e {
		switch {
		case math.Min(math.Abs(ei), math.Abs(ei-1)) >= tol:
			bath = append(bath, i)
		case ei >= 0.5:
			occ = append(occ, i)
		default:
			vir = append(vir, i)
		}
	}
	cNat := linalg.MultiDot(cEnv, r)
	cBath = linalg.SelectCols(cNat, bath)
	cOccEnv = linalg.SelectCols(cNat, occ)
	cVirEnv = linalg.SelectCols(cNat, vir)

	if len(bath) > c.Size() {
		c.logger.Warn("more DMET bath than fragment orbitals", "nbath", len(bath), "size", c.Size())
	}
	bathOcc := make([]float64, 0, len(bath))
	for _, i := range bath {
		bathOcc = append(bathOcc, e[i])
	}
	c.logger.Debug("dmet bath", "nbath", len(bath), "occupations", bathOcc, "nocc env", len(occ), "nvir env", len(vir))
	return cBath, cOccEnv, cVirEnv, nil
}

// splitOccupied diagonalizes the mean-field density in the orbitals m and splits them at occupation 0.5.
func (c *Cluster) splitOccupied(m *mat.Dense) (*mat.Dense, *mat.Dense, error) {
	e, r, err := linalg.Eigh(c.envDensity(m))
	if err != nil {
		return nil, nil, errors.Wrap(err, "")
	}
	linalg.Reverse(e, r)
	nocc := 0
	for _, ei := range e {
		if ei > 0.5 {
			nocc++
		}
	}
	occ, vir := linalg.SplitCols(linalg.MultiDot(m, r), nocc)
	return occ, vir, nil
}

// projectRefOrbitals rotates the orbitals m such that the first ncols(ref) span the part of m closest to ref.
// It returns these orbitals and the orthogonal remainder.
func projectRefOrbitals(s, m, ref *mat.Dense) (*mat.Dense, *mat.Dense, error) {
	nref, nm := linalg.Cols(ref), linalg.Cols(m)
	if nref == 0 {
		return nil, m, nil
	}
	if nref > nm {
		return nil, nil, errors.Wrapf(ErrNumerical, "%d reference orbitals in a space of %d", nref, nm)
	}
	ovlp := linalg.MultiDot(m.T(), s, ref)
	var svd mat.SVD
	if ok := svd.Factorize(ovlp, mat.SVDFull); !ok {
		return nil, nil, errors.Errorf("svd failed")
	}
	var u mat.Dense
	svd.UTo(&u)
	sel, rest := linalg.SplitCols(linalg.MultiDot(m, &u), nref)
	return sel, rest, nil
}

// DiagonalizeClusterDM diagonalizes the mean-field density in the fragment and DMET bath orbitals,
// returning the occupied and virtual cluster orbitals.
// The density eigenvalues must be within the DMET bath tolerance of 0 or 1.
func (c *Cluster) DiagonalizeClusterDM(cBath *mat.Dense) (*mat.Dense, *mat.Dense, error) {
	cClst := linalg.HStack(c.cLocal, cBath)
	e, r, err := linalg.Eigh(c.envDensity(cClst))
	if err != nil {
		return nil, nil, errors.Wrap(err, "")
	}
	tol := c.opt.dmetBathTol
	for _, ei := range e {
		if math.Min(math.Abs(ei), math.Abs(ei-1)) > tol {
			return nil, nil, errors.Wrapf(ErrNumerical, "cluster density eigenvalues not all close to 0 or 1: %v", e)
		}
	}
	linalg.Reverse(e, r)
	nocc := 0
	for _, ei := range e {
		if ei > 0.5 {
			nocc++
		}
	}
	c.logger.Info("fragment and DMET bath orbitals", "nocc", nocc, "nvir", len(e)-nocc)
	occ, vir := linalg.SplitCols(linalg.MultiDot(cClst, r), nocc)
	return occ, vir, nil
}

// Canonicalize diagonalizes the mean-field Fock matrix in the space spanned by the orbitals cs.
// It returns the rotated orbitals and their orbital energies in ascending order.
func (c *Cluster) Canonicalize(cs ...*mat.Dense) (*mat.Dense, []float64, error) {
	m := linalg.HStack(cs...)
	if linalg.Cols(m) == 0 {
		return nil, nil, nil
	}
	f := linalg.MultiDot(m.T(), c.base.fock, m)
	e, r, err := linalg.Eigh(f)
	if err != nil {
		return nil, nil, errors.Wrap(err, "")
	}
	return linalg.MultiDot(m, r), e, nil
}

// Bath is a correlation bath cut out of an occupied or virtual environment.
type Bath struct {
	C   *mat.Dense
	Env *mat.Dense
	// EDelta is the MP2 energy of the environment orbitals left out of the bath.
	EDelta float64
	// EigRef are the environment natural orbitals in bath order, the reordering reference of the next run.
	EigRef *mat.Dense
	// Occupations are the natural occupations of EigRef.
	Occupations []float64
}

// MakeBath selects correlation bath orbitals out of the environment cEnv of the given space.
// nbath fixes the bath size when not negative, otherwise orbitals with natural occupation at least tol are chosen.
// The cluster orbitals from DiagonalizeClusterDM must already be set.
func (c *Cluster) MakeBath(ctx context.Context, cEnv *mat.Dense, kind BathKind, space Space, cRef, eigref *mat.Dense, nbath int, tol float64) (*Bath, error) {
	switch kind {
	case BathNone:
		return &Bath{Env: cEnv, EigRef: eigref}, nil
	case BathFull:
		return &Bath{C: cEnv, EigRef: eigref}, nil
	case BathMP2NatOrb:
		b, err := c.MakeMP2Bath(ctx, cEnv, space, cRef, eigref, nbath, tol)
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		return b, nil
	}
	return nil, errors.Wrapf(ErrConfig, "unknown bath type %v", kind)
}

// mp2Run is an MP2 calculation in semicanonical occupied and virtual orbitals.
type mp2Run struct {
	co, cv *mat.Dense
	t2     *linalg.Tensor4
	eris   *solver.ERIs
	ecorr  float64
}

// runMP2 semicanonicalizes co and cv and runs MP2 in them.
func (c *Cluster) runMP2(ctx context.Context, co, cv *mat.Dense) (*mp2Run, error) {
	coc, _, err := c.Canonicalize(co)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	cvc, _, err := c.Canonicalize(cv)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	no, nv := linalg.Cols(coc), linalg.Cols(cvc)
	run := &mp2Run{co: coc, cv: cvc, t2: linalg.NewTensor4(no, no, nv, nv)}
	if no == 0 || nv == 0 {
		return run, nil
	}

	moOcc := make([]float64, no+nv)
	for i := range no {
		moOcc[i] = 2
	}
	mp2, err := c.base.backend.MP2(c.base.mf, linalg.HStack(coc, cvc), moOcc, nil)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	mp2.SetLogger(c.logger)
	eris, err := mp2.AO2MO()
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	res, err := mp2.Kernel(ctx, eris)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	run.t2, run.eris, run.ecorr = res.T2, eris, res.ECorr
	return run, nil
}

// localEnergy returns the MP2 energy with the first occupied index projected onto the fragment.
func (run *mp2Run) localEnergy(c *Cluster) (float64, error) {
	if run.eris == nil {
		return 0, nil
	}
	p, err := c.LocalProjector(run.co, false)
	if err != nil {
		return 0, errors.Wrap(err, "")
	}
	_, pt2 := c.ProjectAmplitudes(p, nil, run.t2, ProjectFirst, true)
	return c.LocalEnergy(run.eris, nil, pt2), nil
}

// mp2DensityCorrection returns the spin summed MP2 correction to the density,
// the hole density -dD of the occupied block for the occupied space and dD of the virtual block otherwise.
func mp2DensityCorrection(t2 *linalg.Tensor4, space Space) *mat.Dense {
	no, nv := t2.Shape[0], t2.Shape[2]
	if space == Occupied {
		if no == 0 {
			return nil
		}
		d := mat.NewDense(no, no, nil)
		for i := range no {
			for j := range no {
				for k := range no {
					var s float64
					for a := range nv {
						for b := range nv {
							s += (2*t2.At(i, j, a, b) - t2.At(i, j, b, a)) * t2.At(i, k, a, b)
						}
					}
					d.Set(j, k, d.At(j, k)+2*s)
				}
			}
		}
		return d
	}

	if nv == 0 {
		return nil
	}
	d := mat.NewDense(nv, nv, nil)
	for i := range no {
		for j := range no {
			for a := range nv {
				for b := range nv {
					var s float64
					for x := range nv {
						s += (2*t2.At(i, j, x, a) - t2.At(i, j, a, x)) * t2.At(i, j, x, b)
					}
					d.Set(a, b, d.At(a, b)+2*s)
				}
			}
		}
	}
	return d
}

// MakeMP2Bath selects the environment natural orbitals of the MP2 density as correlation bath.
// For the occupied space MP2 is run in the occupied cluster and environment orbitals and the virtual cluster orbitals,
// for the virtual space in the occupied cluster orbitals and the virtual cluster and environment orbitals.
func (c *Cluster) MakeMP2Bath(ctx context.Context, cEnv *mat.Dense, space Space, cRef, eigref *mat.Dense, nbath int, tol float64) (*Bath, error) {
	if linalg.Cols(cEnv) == 0 {
		return &Bath{EigRef: eigref}, nil
	}
	clst := c.cOccClst
	if space == Virtual {
		clst = c.cVirClst
	}
	spaces := func(env *mat.Dense) (*mat.Dense, *mat.Dense) {
		if space == Occupied {
			return linalg.HStack(c.cOccClst, env), c.cVirClst
		}
		return c.cOccClst, linalg.HStack(c.cVirClst, env)
	}

	co, cv := spaces(cEnv)
	full, err := c.runMP2(ctx, co, cv)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	bath := &Bath{EigRef: eigref}
	if linalg.Cols(cRef) > 0 {
		bath.C, bath.Env, err = projectRefOrbitals(c.base.mf.Ovlp(), cEnv, cRef)
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
	} else {
		if err := c.mp2NaturalOrbitals(bath, full, clst, cEnv, space, eigref, nbath, tol); err != nil {
			return nil, errors.Wrap(err, "")
		}
	}

	if c.opt.mp2Correction[space] && linalg.Cols(bath.Env) > 0 {
		eFull, err := full.localEnergy(c)
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		co, cv := spaces(bath.C)
		trunc, err := c.runMP2(ctx, co, cv)
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		eTrunc, err := trunc.localEnergy(c)
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		bath.EDelta = eFull - eTrunc
	}
	c.logger.Debug("mp2 bath", "space", space, "emp2", full.ecorr, "nbath", linalg.Cols(bath.C), "nenv", linalg.Cols(bath.Env), "edelta", bath.EDelta)
	return bath, nil
}

// mp2NaturalOrbitals diagonalizes the environment block of the MP2 density correction and truncates it into bath.
func (c *Cluster) mp2NaturalOrbitals(bath *Bath, run *mp2Run, clst, cEnv *mat.Dense, space Space, eigref *mat.Dense, nbath int, tol float64) error {
	// Rotate the density from the semicanonical orbitals back to the cluster and environment orbitals.
	raw := linalg.HStack(clst, cEnv)
	can := run.co
	if space == Virtual {
		can = run.cv
	}
	r := linalg.MultiDot(raw.T(), c.base.mf.Ovlp(), can)
	d := linalg.MultiDot(r, mp2DensityCorrection(run.t2, space), r.T())
	if d == nil {
		bath.Env = cEnv
		return nil
	}
	nclst, nraw := linalg.Cols(clst), linalg.Cols(raw)
	denv := mat.DenseCopyOf(d.Slice(nclst, nraw, nclst, nraw))

	occ, nat, err := linalg.Eigh(denv)
	if err != nil {
		return errors.Wrap(err, "")
	}
	linalg.Reverse(occ, nat)
	cNat := linalg.MultiDot(cEnv, nat)

	if linalg.Cols(eigref) > 0 {
		order := linalg.MaxOverlapOrder(linalg.MultiDot(eigref.T(), c.base.mf.Ovlp(), cNat))
		cNat = linalg.SelectCols(cNat, order)
		reordered := make([]float64, len(order))
		for i, j := range order {
			reordered[i] = occ[j]
		}
		occ = reordered
	}

	var sel, rest []int
	for i, o := range occ {
		switch {
		case nbath >= 0 && i < nbath:
			sel = append(sel, i)
		case nbath < 0 && o >= tol:
			sel = append(sel, i)
		default:
			rest = append(rest, i)
		}
	}
	bath.C = linalg.SelectCols(cNat, sel)
	bath.Env = linalg.SelectCols(cNat, rest)
	bath.EigRef = cNat
	bath.Occupations = slices.Clone(occ)
	c.logger.Debug("mp2 natural occupations", "space", space, "occupations", occ)
	return nil
}
