package embcc

import (
	"strings"

	"github.com/pkg/errors"
)

// SolverKind is the correlated method run on a cluster.
type SolverKind int

const (
	SolverNone SolverKind = iota
	SolverMP2
	SolverCCSD
	SolverCISD
	// SolverFCISpin0 is full CI restricted to singlet states.
	SolverFCISpin0
	// SolverFCISpin1 is full CI for the lowest state of any spin.
	SolverFCISpin1
)

var solverNames = map[SolverKind]string{
	SolverNone:     "None",
	SolverMP2:      "MP2",
	SolverCCSD:     "CCSD",
	SolverCISD:     "CISD",
	SolverFCISpin0: "FCI-spin0",
	SolverFCISpin1: "FCI-spin1",
}

func (k SolverKind) String() string {
	if s, ok := solverNames[k]; ok {
		return s
	}
	return "SolverKind(?)"
}

// ParseSolver parses a solver name. The empty string means no solver.
func ParseSolver(s string) (SolverKind, error) {
	if s == "" {
		return SolverNone, nil
	}
	for k, name := range solverNames {
		if strings.EqualFold(s, name) {
			return k, nil
		}
	}
	return SolverNone, errors.Wrapf(ErrConfig, "unknown solver %q", s)
}

// isCI reports whether the solver is configuration interaction.
func (k SolverKind) isCI() bool {
	return k == SolverCISD || k == SolverFCISpin0 || k == SolverFCISpin1
}

// BathKind selects the correlation bath added on top of the DMET bath.
type BathKind int

const (
	// BathNone keeps the whole environment frozen.
	BathNone BathKind = iota
	// BathFull makes the whole environment active.
	BathFull
	// BathMP2NatOrb selects MP2 natural orbitals of the environment.
	BathMP2NatOrb
)

var bathNames = map[BathKind]string{
	BathNone:      "none",
	BathFull:      "full",
	BathMP2NatOrb: "mp2-natorb",
}

func (k BathKind) String() string {
	if s, ok := bathNames[k]; ok {
		return s
	}
	return "BathKind(?)"
}

// ParseBath parses a bath name. The empty string means no bath.
func ParseBath(s string) (BathKind, error) {
	if s == "" {
		return BathNone, nil
	}
	for k, name := range bathNames {
		if strings.EqualFold(s, name) {
			return k, nil
		}
	}
	return BathNone, errors.Wrapf(ErrConfig, "unknown bath type %q", s)
}

// LocalOrbitalKind is the type of the fragment orbitals, which decides how amplitudes are projected.
type LocalOrbitalKind int

const (
	// LocalLowdin are symmetrically orthogonalized atomic orbitals, projected with their overlap.
	LocalLowdin LocalOrbitalKind = iota
	// LocalAO are atomic orbitals, projected through their AO indices.
	LocalAO
)

func (k LocalOrbitalKind) String() string {
	switch k {
	case LocalLowdin:
		return "Lowdin"
	case LocalAO:
		return "AO"
	}
	return "LocalOrbitalKind(?)"
}

// ProjectorKind is the convention of projectors onto AO indices.
type ProjectorKind int

const (
	ProjectorRight ProjectorKind = iota
	ProjectorLeft
	ProjectorCenter
)

func (k ProjectorKind) String() string {
	switch k {
	case ProjectorRight:
		return "right"
	case ProjectorLeft:
		return "left"
	case ProjectorCenter:
		return "center"
	}
	return "ProjectorKind(?)"
}

// Variant is the index that amplitudes are projected on to compute local energies.
type Variant int

const (
	// FirstOcc projects the first occupied index.
	FirstOcc Variant = iota
	// FirstVir projects the first virtual index.
	FirstVir
	// Democratic averages the projections of all indices.
	Democratic
)

func (v Variant) String() string {
	switch v {
	case FirstOcc:
		return "first-occ"
	case FirstVir:
		return "first-vir"
	case Democratic:
		return "democratic"
	}
	return "Variant(?)"
}
