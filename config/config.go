// Package config reads the YAML description of an embedding scan.
package config

import (
	"bytes"
	"log/slog"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/fumin/embcc"
)

var validate = validator.New()

// Config is a scan of a molecule over geometries, each point embedded with the same clusters.
type Config struct {
	Name   string `yaml:"name" validate:"required"`
	Output string `yaml:"output" validate:"required"`
	// Database defaults to embcc.db under Output.
	Database    string `yaml:"database"`
	Concurrency int    `yaml:"concurrency" validate:"gte=0"`
	// Molden writes the orbitals of every cluster at every geometry.
	Molden bool `yaml:"molden"`
	Plot   bool `yaml:"plot"`

	System        System    `yaml:"system"`
	LocalOrbitals string    `yaml:"local_orbitals" validate:"oneof=lowdin ao"`
	Fragments     Fragments `yaml:"fragments"`
	Cluster       Cluster   `yaml:"cluster"`
}

type System struct {
	Kind  string `yaml:"kind" validate:"oneof=h-chain h-ring"`
	NAtom int    `yaml:"natom" validate:"gte=2"`
	Basis string `yaml:"basis" validate:"oneof=sto-3g 6-31g"`
	// Distances between neighbouring atoms in bohr, one embedding per distance.
	Distances []float64 `yaml:"distances" validate:"min=1,dive,gt=0"`
}

type Fragments struct {
	Kind string `yaml:"kind" validate:"oneof=all-atoms atoms"`
	// Atoms lists the atom indices of each fragment when Kind is atoms.
	Atoms [][]int `yaml:"atoms" validate:"required_if=Kind atoms,dive,min=1,dive,gte=0"`
}

// Cluster holds the options shared by all clusters.
// Zero values keep the defaults of embcc.NewClusterOptions.
type Cluster struct {
	Solver             string    `yaml:"solver" validate:"oneof=None MP2 CCSD CISD FCI-spin0 FCI-spin1"`
	Bath               string    `yaml:"bath" validate:"oneof=none full mp2-natorb"`
	BathTol            []float64 `yaml:"bath_tol" validate:"omitempty,len=2,dive,gte=0"`
	BathSize           []int     `yaml:"bath_size" validate:"omitempty,len=2"`
	MP2Correction      []bool    `yaml:"mp2_correction" validate:"omitempty,len=2"`
	UseRefOrbitalsBath bool      `yaml:"use_ref_orbitals_bath"`
	SymmetryFactor     float64   `yaml:"symmetry_factor" validate:"gte=0"`
	RestartSolver      bool      `yaml:"restart_solver"`
	CoupledBath        bool      `yaml:"coupled_bath"`
	MaxIter            int       `yaml:"maxiter" validate:"gte=0"`
	NElectronTarget    *float64  `yaml:"nelectron_target" validate:"omitempty,gt=0"`
	FixSpin            *float64  `yaml:"fix_spin" validate:"omitempty,gte=0"`
	CCMaxCycle         int       `yaml:"cc_max_cycle" validate:"gte=0"`
	CCTol              []float64 `yaml:"cc_tol" validate:"omitempty,len=2,dive,gt=0"`
	Projector          string    `yaml:"projector" validate:"omitempty,oneof=right left center"`
	Variant            string    `yaml:"variant" validate:"omitempty,oneof=first-occ first-vir democratic"`
}

func Default() Config {
	return Config{
		Output:        "runs",
		System:        System{Kind: "h-chain", NAtom: 10, Basis: "sto-3g"},
		LocalOrbitals: "lowdin",
		Fragments:     Fragments{Kind: "all-atoms"},
		Cluster:       Cluster{Solver: embcc.SolverCCSD.String(), Bath: embcc.BathMP2NatOrb.String()},
	}
}

// Load reads and validates a config file.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "")
	}
	cfg, err := Parse(b)
	if err != nil {
		return Config{}, errors.Wrap(err, path)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result.
// Unknown keys are errors.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, errors.Wrap(err, "")
	}
	return cfg, nil
}

func (cfg Config) Validate() error {
	if err := validate.Struct(cfg); err != nil {
		return errors.Wrap(err, "")
	}
	if cfg.Fragments.Kind == "atoms" {
		seen := make(map[int]bool)
		for _, frag := range cfg.Fragments.Atoms {
			for _, a := range frag {
				if a >= cfg.System.NAtom {
					return errors.Errorf("fragment atom %d of %d atoms", a, cfg.System.NAtom)
				}
				if seen[a] {
					return errors.Errorf("atom %d in two fragments", a)
				}
				seen[a] = true
			}
		}
	}
	return nil
}

// Options returns the options of the embedding.
func (cfg Config) Options(logger *slog.Logger) embcc.Options {
	opt := embcc.NewOptions().Logger(logger)
	if cfg.LocalOrbitals == "ao" {
		opt = opt.LocalOrbitals(embcc.LocalAO)
	}
	return opt
}

// Options returns the cluster options. Names are checked again when clusters are made.
func (c Cluster) Options(logger *slog.Logger) embcc.ClusterOptions {
	opt := embcc.NewClusterOptions().Solver(c.Solver).Bath(c.Bath).Logger(logger)
	if len(c.BathTol) == 2 {
		opt = opt.BathTol(c.BathTol[0], c.BathTol[1])
	}
	if len(c.BathSize) == 2 {
		opt = opt.BathSize(c.BathSize[0], c.BathSize[1])
	}
	if len(c.MP2Correction) == 2 {
		opt = opt.MP2Correction(c.MP2Correction[0], c.MP2Correction[1])
	}
	opt = opt.UseRefOrbitalsBath(c.UseRefOrbitalsBath).RestartSolver(c.RestartSolver).CoupledBath(c.CoupledBath)
	if c.SymmetryFactor > 0 {
		opt = opt.SymmetryFactor(c.SymmetryFactor)
	}
	if c.MaxIter > 0 {
		opt = opt.MaxIter(c.MaxIter)
	}
	if c.NElectronTarget != nil {
		opt = opt.NElectronTarget(*c.NElectronTarget)
	}
	if c.FixSpin != nil {
		opt = opt.FixSpin(*c.FixSpin)
	}
	if c.CCMaxCycle > 0 {
		opt = opt.CCMaxCycle(c.CCMaxCycle)
	}
	if len(c.CCTol) == 2 {
		opt = opt.CCTolerances(c.CCTol[0], c.CCTol[1])
	}
	switch c.Projector {
	case "left":
		opt = opt.Projector(embcc.ProjectorLeft)
	case "center":
		opt = opt.Projector(embcc.ProjectorCenter)
	}
	switch c.Variant {
	case "first-vir":
		opt = opt.Variant(embcc.FirstVir)
	case "democratic":
		opt = opt.Variant(embcc.Democratic)
	}
	return opt
}
