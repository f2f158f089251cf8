package embcc

import (
	"log/slog"
	"slices"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/fumin/embcc/linalg"
	"github.com/fumin/embcc/solver"
)

// RefData are orbitals of a previous run, reused at a nearby geometry to keep the bath continuous.
type RefData struct {
	DMETBath      *mat.Dense
	OccBath       *mat.Dense
	VirBath       *mat.Dense
	OccBathEigRef *mat.Dense
	VirBathEigRef *mat.Dense
}

// OrbitalSpace is a named set of orbitals of a cluster.
type OrbitalSpace struct {
	Name string
	C    *mat.Dense
}

// Cluster is a fragment of local orbitals embedded in the rest of the system.
type Cluster struct {
	base      *EmbCC
	id        int
	name      string
	aoIndices []int
	opt       ClusterOptions
	solver    SolverKind
	bath      BathKind
	logger    *slog.Logger

	cLocal *mat.Dense
	cEnv   *mat.Dense

	cBath    *mat.Dense
	cOccClst *mat.Dense
	cVirClst *mat.Dense
	cOccBath *mat.Dense
	cVirBath *mat.Dense
	cOccEnv  *mat.Dense
	cVirEnv  *mat.Dense
	cOccAct  *mat.Dense
	cVirAct  *mat.Dense

	moCoeff   *mat.Dense
	moOcc     []float64
	activeOcc []int
	activeVir []int
	frozenOcc []int
	frozenVir []int
	orbitals  []OrbitalSpace

	refIn  RefData
	refOut RefData

	iteration      int
	converged      bool
	eCorr          float64
	eCorrFull      float64
	eDeltaMP2      float64
	nelectronLocal float64
	// bathOccupations are the MP2 natural occupations of the occupied and virtual environment.
	bathOccupations [2][]float64
	// c1 and c2 are the intermediate normalized amplitudes of the last run, in the active orbitals.
	c1 *mat.Dense
	c2 *linalg.Tensor4

	eris      *solver.ERIs
	erisCoeff *mat.Dense
	restartT1 *mat.Dense
	restartT2 *linalg.Tensor4
}

func newCluster(base *EmbCC, id int, name string, cLocal, cEnv *mat.Dense, aoIndices []int, opt ClusterOptions) (*Cluster, error) {
	sk, bk, err := opt.validate()
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	if linalg.Cols(cLocal) == 0 {
		return nil, errors.Wrapf(ErrConfig, "cluster %s has no local orbitals", name)
	}
	nao := linalg.Rows(base.mf.Ovlp())
	for _, m := range []*mat.Dense{cLocal, cEnv} {
		if linalg.Cols(m) > 0 && linalg.Rows(m) != nao {
			return nil, errors.Wrapf(ErrConfig, "%d coefficient rows, %d atomic orbitals", linalg.Rows(m), nao)
		}
	}
	if base.localType == LocalAO && len(aoIndices) == 0 {
		return nil, errors.Wrapf(ErrConfig, "cluster %s has no atomic orbital indices", name)
	}

	c := &Cluster{
		base:      base,
		id:        id,
		name:      name,
		aoIndices: slices.Clone(aoIndices),
		opt:       opt,
		solver:    sk,
		bath:      bk,
		logger:    opt.logger.With("cluster", name),
		cLocal:    cLocal,
		cEnv:      cEnv,
	}
	c.setDefaultAttributes()

	n := linalg.Trace(c.meanFieldDensity(cLocal))
	c.logger.Info("made cluster", "id", id, "size", c.Size(), "solver", sk, "bath", bk, "mean field electrons", n)
	return c, nil
}

// setDefaultAttributes clears everything derived by a run.
func (c *Cluster) setDefaultAttributes() {
	c.cBath, c.cOccClst, c.cVirClst = nil, nil, nil
	c.cOccBath, c.cVirBath, c.cOccEnv, c.cVirEnv = nil, nil, nil, nil
	c.cOccAct, c.cVirAct = nil, nil
	c.moCoeff, c.moOcc = nil, nil
	c.activeOcc, c.activeVir, c.frozenOcc, c.frozenVir = nil, nil, nil, nil
	c.orbitals = []OrbitalSpace{{Name: "Fragment", C: c.cLocal}}
	c.refOut = RefData{}

	c.iteration = 0
	c.converged = false
	c.eCorr, c.eCorrFull, c.eDeltaMP2 = 0, 0, 0
	c.nelectronLocal = 0
	c.bathOccupations = [2][]float64{}
	c.c1, c.c2 = nil, nil
	c.eris, c.erisCoeff = nil, nil
	c.restartT1, c.restartT2 = nil, nil
}

func (c *Cluster) ID() int               { return c.id }
func (c *Cluster) Name() string          { return c.name }
func (c *Cluster) Solver() SolverKind    { return c.solver }
func (c *Cluster) Bath() BathKind        { return c.bath }
func (c *Cluster) Converged() bool       { return c.converged }
func (c *Cluster) ECorr() float64        { return c.eCorr }
func (c *Cluster) ECorrFull() float64    { return c.eCorrFull }
func (c *Cluster) EDeltaMP2() float64    { return c.eDeltaMP2 }
func (c *Cluster) CLocal() *mat.Dense    { return c.cLocal }
func (c *Cluster) CEnv() *mat.Dense      { return c.cEnv }
func (c *Cluster) CBath() *mat.Dense     { return c.cBath }
func (c *Cluster) COccAct() *mat.Dense   { return c.cOccAct }
func (c *Cluster) CVirAct() *mat.Dense   { return c.cVirAct }
func (c *Cluster) MoCoeff() *mat.Dense   { return c.moCoeff }
func (c *Cluster) MoOcc() []float64      { return c.moOcc }
func (c *Cluster) Iteration() int        { return c.iteration }
func (c *Cluster) AOIndices() []int      { return c.aoIndices }
func (c *Cluster) EnergyFactor() float64 { return c.opt.symmetryFactor }

// Size returns the number of local orbitals.
func (c *Cluster) Size() int { return linalg.Cols(c.cLocal) }

// NDMETBath returns the number of DMET bath orbitals.
func (c *Cluster) NDMETBath() int { return linalg.Cols(c.cBath) }

func (c *Cluster) NOccBath() int { return linalg.Cols(c.cOccBath) }
func (c *Cluster) NVirBath() int { return linalg.Cols(c.cVirBath) }

// NActive returns the number of orbitals correlated by the solver.
func (c *Cluster) NActive() int { return len(c.activeOcc) + len(c.activeVir) }

func (c *Cluster) NFrozen() int { return len(c.frozenOcc) + len(c.frozenVir) }

// Active returns the indices of the active orbitals in MoCoeff, occupied first.
func (c *Cluster) Active() []int { return slices.Concat(c.activeOcc, c.activeVir) }

// Frozen returns the indices of the frozen orbitals in MoCoeff.
func (c *Cluster) Frozen() []int { return slices.Concat(c.frozenOcc, c.frozenVir) }

// Amplitudes returns the intermediate normalized singles and doubles amplitudes of the last run.
func (c *Cluster) Amplitudes() (*mat.Dense, *linalg.Tensor4) { return c.c1, c.c2 }

// Orbitals returns the orbital spaces of the last run in a fixed order, starting with the fragment.
func (c *Cluster) Orbitals() []OrbitalSpace { return c.orbitals }

// BathOccupations returns the MP2 natural occupations of the environment of space, in bath order.
// The occupied space holds hole occupations.
// They are empty unless the bath is mp2-natorb.
func (c *Cluster) BathOccupations(space Space) []float64 { return c.bathOccupations[space] }

// RefData returns the orbitals produced by the last run, for use as reference data at the next geometry.
func (c *Cluster) RefData() RefData { return c.refOut }

// SetRefData sets the reference data used by the next run.
func (c *Cluster) SetRefData(ref RefData) { c.refIn = ref }

// Reset clears the results of previous runs.
// With keepRef, the orbitals of the last run become the reference data of the next.
func (c *Cluster) Reset(keepRef bool) {
	if keepRef {
		c.refIn = c.refOut
	} else {
		c.refIn = RefData{}
	}
	c.setDefaultAttributes()
}

func (c *Cluster) addOrbitals(name string, m *mat.Dense) {
	c.orbitals = append(c.orbitals, OrbitalSpace{Name: name, C: m})
}

// meanFieldDensity returns C^T S D S C, the spin summed mean-field density in the orbitals C.
func (c *Cluster) meanFieldDensity(m *mat.Dense) *mat.Dense {
	s := c.base.mf.Ovlp()
	return linalg.MultiDot(linalg.T(m), s, c.base.mf.RDM1(), s, m)
}

// Occupations returns the mean-field occupation numbers of the orbitals C.
func (c *Cluster) Occupations(m *mat.Dense) []float64 {
	return linalg.Diag(c.meanFieldDensity(m))
}
