// Package embcc implements embedded correlation calculations.
//
// A system is partitioned into fragments of local orbitals. Each fragment becomes a Cluster,
// which adds DMET and correlation bath orbitals from the environment, runs a correlated solver
// in the resulting active space and projects the correlation energy back onto the fragment.
// Fragment energies over a complete partition add up to the correlation energy of the system.
package embcc

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/fumin/embcc/linalg"
	"github.com/fumin/embcc/scf"
	"github.com/fumin/embcc/solver"
)

// Backend constructs the correlated solvers run on clusters.
type Backend interface {
	MP2(mf scf.MeanField, moCoeff *mat.Dense, moOcc []float64, frozen []int) (*solver.MP2, error)
	CCSD(mf scf.MeanField, moCoeff *mat.Dense, moOcc []float64, frozen []int) (*solver.CCSD, error)
	CI(mf scf.MeanField, moCoeff *mat.Dense, moOcc []float64, frozen []int) (*solver.CI, error)
}

type Options struct {
	localOrbitals LocalOrbitalKind
	backend       Backend
	logger        *slog.Logger
}

func NewOptions() Options {
	opt := Options{}
	opt.localOrbitals = LocalLowdin
	opt.backend = solver.Backend{}
	opt.logger = slog.Default()
	return opt
}

func (opt Options) LocalOrbitals(k LocalOrbitalKind) Options {
	opt.localOrbitals = k
	return opt
}

func (opt Options) Backend(b Backend) Options {
	opt.backend = b
	return opt
}

func (opt Options) Logger(l *slog.Logger) Options {
	opt.logger = l
	return opt
}

// EmbCC owns the mean field and the clusters built on it.
type EmbCC struct {
	mf        scf.MeanField
	fock      *mat.Dense
	localType LocalOrbitalKind
	// lowdin are the orthogonalized atomic orbitals S^-1/2.
	lowdin *mat.Dense
	// sqrtOvlp is S^1/2, used by the center projector.
	sqrtOvlp *mat.Dense
	backend  Backend
	logger   *slog.Logger
	clusters []*Cluster
	acc      *Accumulator
}

// New returns an embedding of the mean field mf.
func New(mf scf.MeanField, options ...Options) (*EmbCC, error) {
	opt := NewOptions()
	if len(options) > 0 {
		opt = options[0]
	}
	if !mf.Converged() {
		opt.logger.Warn("mean field not converged")
	}
	lowdin, err := linalg.FractionalPower(mf.Ovlp(), -0.5)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	sqrtOvlp, err := linalg.FractionalPower(mf.Ovlp(), 0.5)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	nocc := 0
	for _, o := range mf.MoOcc() {
		if o > 0 {
			nocc++
		}
	}
	e := &EmbCC{
		mf:        mf,
		fock:      mf.Fock(),
		localType: opt.localOrbitals,
		lowdin:    lowdin,
		sqrtOvlp:  sqrtOvlp,
		backend:   opt.backend,
		logger:    opt.logger,
		acc:       NewAccumulator(nocc, len(mf.MoOcc())-nocc),
	}
	return e, nil
}

func (e *EmbCC) MeanField() scf.MeanField { return e.mf }

// Clusters returns the clusters in the order they were made; the index of a cluster is its id.
func (e *EmbCC) Clusters() []*Cluster { return e.clusters }

// Accumulator returns the global amplitudes used to tailor coupled cluster runs.
func (e *EmbCC) Accumulator() *Accumulator { return e.acc }

// MakeCluster adds a cluster with fragment orbitals cLocal and environment cEnv.
// aoIndices are the atomic orbitals of the fragment, needed for AO local orbitals.
func (e *EmbCC) MakeCluster(name string, cLocal, cEnv *mat.Dense, aoIndices []int, options ...ClusterOptions) (*Cluster, error) {
	opt := NewClusterOptions()
	if len(options) > 0 {
		opt = options[0]
	}
	c, err := newCluster(e, len(e.clusters), name, cLocal, cEnv, aoIndices, opt)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	e.clusters = append(e.clusters, c)
	return c, nil
}

// MakeAOCluster adds a cluster whose fragment is the orthogonalized atomic orbitals aoIndices.
func (e *EmbCC) MakeAOCluster(name string, aoIndices []int, options ...ClusterOptions) (*Cluster, error) {
	nao := linalg.Cols(e.lowdin)
	in := make([]bool, nao)
	for _, ao := range aoIndices {
		if ao < 0 || ao >= nao {
			return nil, errors.Wrapf(ErrConfig, "atomic orbital %d out of range %d", ao, nao)
		}
		if in[ao] {
			return nil, errors.Wrapf(ErrConfig, "duplicate atomic orbital %d", ao)
		}
		in[ao] = true
	}
	env := make([]int, 0, nao)
	for ao := range nao {
		if !in[ao] {
			env = append(env, ao)
		}
	}
	local := slices.Clone(aoIndices)
	cLocal := linalg.SelectCols(e.lowdin, local)
	cEnv := linalg.SelectCols(e.lowdin, env)
	return e.MakeCluster(name, cLocal, cEnv, local, options...)
}

// MakeAtomCluster adds a cluster of all atomic orbitals on atoms.
func (e *EmbCC) MakeAtomCluster(atoms []int, options ...ClusterOptions) (*Cluster, error) {
	aos := make([]int, 0)
	for ao, atom := range e.mf.AOAtoms() {
		if slices.Contains(atoms, atom) {
			aos = append(aos, ao)
		}
	}
	if len(aos) == 0 {
		return nil, errors.Wrapf(ErrConfig, "no atomic orbitals on atoms %v", atoms)
	}
	return e.MakeAOCluster(e.atomName(atoms), aos, options...)
}

// MakeAllAtomClusters adds one cluster per atom.
func (e *EmbCC) MakeAllAtomClusters(options ...ClusterOptions) ([]*Cluster, error) {
	atoms := slices.Clone(e.mf.AOAtoms())
	slices.Sort(atoms)
	atoms = slices.Compact(atoms)
	clusters := make([]*Cluster, 0, len(atoms))
	for _, atom := range atoms {
		c, err := e.MakeAtomCluster([]int{atom}, options...)
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		clusters = append(clusters, c)
	}
	return clusters, nil
}

func (e *EmbCC) atomName(atoms []int) string {
	labels := e.mf.AOLabels()
	name := ""
	for _, atom := range atoms {
		symbol := ""
		for ao, a := range e.mf.AOAtoms() {
			if a == atom {
				var idx int
				var sym, rest string
				if n, _ := fmt.Sscanf(labels[ao], "%d %s %s", &idx, &sym, &rest); n >= 2 {
					symbol = sym
				}
				break
			}
		}
		if symbol == "" || symbol == "site" {
			symbol = "X"
		}
		name += fmt.Sprintf("%s%d", symbol, atom)
	}
	return name
}

// meanFieldOrbitals returns the occupied and the virtual mean-field orbitals.
func (e *EmbCC) meanFieldOrbitals() (*mat.Dense, *mat.Dense) {
	occ, vir := make([]int, 0), make([]int, 0)
	for i, o := range e.mf.MoOcc() {
		if o > 0 {
			occ = append(occ, i)
		} else {
			vir = append(vir, i)
		}
	}
	return linalg.SelectCols(e.mf.MoCoeff(), occ), linalg.SelectCols(e.mf.MoCoeff(), vir)
}
