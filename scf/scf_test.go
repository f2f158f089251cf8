package scf

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/fumin/embcc/linalg"
)

func TestBoys(t *testing.T) {
	t.Parallel()
	tests := []struct {
		x float64
		f float64
	}{
		{x: 0, f: 1},
		{x: 1, f: 0.7468241328124270},
		{x: 10, f: 0.2802473905066427},
	}
	for _, test := range tests {
		t.Run(fmt.Sprintf("%f", test.x), func(t *testing.T) {
			t.Parallel()
			if f := boys(test.x); math.Abs(f-test.f) > 1e-12 {
				t.Fatalf("%.16f, expected %.16f", f, test.f)
			}
		})
	}
}

func TestH2Integrals(t *testing.T) {
	t.Parallel()
	ints, err := HydrogenChain(2, 1.4, "sto-3g").Integrals()
	if err != nil {
		t.Fatalf("%+v", err)
	}
	for i := range 2 {
		if s := ints.S.At(i, i); math.Abs(s-1) > 1e-8 {
			t.Fatalf("%f", s)
		}
	}
	if s := ints.S.At(0, 1); math.Abs(s-0.6593) > 1e-4 {
		t.Fatalf("%f", s)
	}
	if e := ints.ERI.At(0, 0, 0, 0); math.Abs(e-0.7746) > 1e-4 {
		t.Fatalf("%f", e)
	}
	if e := ints.ERI.At(0, 1, 1, 0); math.Abs(e-ints.ERI.At(1, 0, 0, 1)) > 1e-14 {
		t.Fatalf("eri symmetry")
	}
	if math.Abs(ints.ENuc-1/1.4) > 1e-14 {
		t.Fatalf("%f", ints.ENuc)
	}
	if ints.AOLabels[1] != "1 H 1s" {
		t.Fatalf("%s", ints.AOLabels[1])
	}
}

func TestRHF(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		mol  *Molecule
		e    float64
	}{
		{name: "H2", mol: HydrogenChain(2, 1.4, "sto-3g"), e: -1.116714},
		{name: "He", mol: &Molecule{Atoms: []Atom{{Symbol: "He", Z: 2}}, Basis: "sto-3g"}, e: -2.807784},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			ints, err := test.mol.Integrals()
			if err != nil {
				t.Fatalf("%+v", err)
			}
			mf, err := RHF(context.Background(), ints)
			if err != nil {
				t.Fatalf("%+v", err)
			}
			if !mf.Converged() {
				t.Fatalf("not converged")
			}
			if math.Abs(mf.ETot()-test.e) > 1e-5 {
				t.Fatalf("%.8f, expected %.8f", mf.ETot(), test.e)
			}
		})
	}
}

func TestRHFOrthonormal(t *testing.T) {
	t.Parallel()
	ints, err := HydrogenChain(6, 1.8, "6-31g").Integrals()
	if err != nil {
		t.Fatalf("%+v", err)
	}
	mf, err := RHF(context.Background(), ints)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	c := mf.MoCoeff()
	if id := linalg.MultiDot(c.T(), mf.Ovlp(), c); !linalg.AllClose(id, linalg.Identity(12), 1e-10) {
		t.Fatalf("%s", linalg.Format(id))
	}
	// The Fock matrix is diagonal in the canonical orbitals.
	f := linalg.MultiDot(c.T(), mf.Fock(), c)
	for i, e := range mf.MoEnergy() {
		if math.Abs(f.At(i, i)-e) > 1e-8 {
			t.Fatalf("%d %f %f", i, f.At(i, i), e)
		}
	}
	// tr(D S) counts the electrons.
	if n := linalg.Trace(linalg.MultiDot(mf.RDM1(), mf.Ovlp())); math.Abs(n-6) > 1e-10 {
		t.Fatalf("%f", n)
	}
	if mf.NOcc() != 3 {
		t.Fatalf("%d", mf.NOcc())
	}
}

func TestHubbard(t *testing.T) {
	t.Parallel()
	ints, err := Hubbard(2, 1, 2, 2, false)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	mf, err := RHF(context.Background(), ints)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if expected := -2.0 + 2.0/2; math.Abs(mf.ETot()-expected) > 1e-10 {
		t.Fatalf("%f, expected %f", mf.ETot(), expected)
	}

	if _, err := Hubbard(4, 1, 2, 3, true); err == nil {
		t.Fatalf("expected error for odd electron count")
	}
}

func TestMolden(t *testing.T) {
	t.Parallel()
	ints, err := HydrogenChain(2, 1.4, "sto-3g").Integrals()
	if err != nil {
		t.Fatalf("%+v", err)
	}
	mf, err := RHF(context.Background(), ints)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	var b bytes.Buffer
	sets := []OrbitalSet{{Label: "Fragment", C: mf.MoCoeff(), Energy: mf.MoEnergy(), Occ: mf.MoOcc()}, {Label: "Empty"}}
	if err := WriteMolden(&b, ints, sets); err != nil {
		t.Fatalf("%+v", err)
	}
	s := b.String()
	if n := strings.Count(s, "Sym= Fragment"); n != 2 {
		t.Fatalf("%d orbitals\n%s", n, s)
	}
	if !strings.HasPrefix(s, "[Molden Format]") {
		t.Fatalf("%s", s)
	}

	hub, err := Hubbard(2, 1, 1, 2, false)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if err := WriteMolden(&b, hub, sets); err == nil {
		t.Fatalf("expected error for lattice model")
	}
}
