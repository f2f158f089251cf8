package scf

import (
	"bufio"
	"fmt"
	"io"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/fumin/embcc/linalg"
)

// OrbitalSet is a labelled block of orbitals for a molden file.
// Energy and Occ may be nil.
type OrbitalSet struct {
	Label  string
	C      *mat.Dense
	Energy []float64
	Occ    []float64
}

// WriteMolden writes the orbital sets in molden format.
// Orbitals are written in the order given, the label appears as the orbital symmetry.
func WriteMolden(w io.Writer, ints *Integrals, sets []OrbitalSet) error {
	if len(ints.Shells) == 0 {
		return errors.Errorf("no basis functions to write")
	}
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "[Molden Format]\n[Atoms] AU\n")
	for i, a := range ints.Atoms {
		fmt.Fprintf(bw, "%s %d %d %.10f %.10f %.10f\n", a.Symbol, i+1, int(a.Z), a.Coord[0], a.Coord[1], a.Coord[2])
	}

	fmt.Fprintf(bw, "[GTO]\n")
	for i := range ints.Atoms {
		fmt.Fprintf(bw, "%d 0\n", i+1)
		for _, sh := range ints.Shells {
			if sh.Atom != i {
				continue
			}
			fmt.Fprintf(bw, " s %d 1.00\n", len(sh.Prims))
			for _, p := range sh.Prims {
				fmt.Fprintf(bw, "  %.10e %.10e\n", p.Alpha, p.Coeff)
			}
		}
		fmt.Fprintf(bw, "\n")
	}

	fmt.Fprintf(bw, "[MO]\n")
	nao := ints.NAO()
	for _, set := range sets {
		if linalg.Cols(set.C) == 0 {
			continue
		}
		if r := linalg.Rows(set.C); r != nao {
			return errors.Errorf("%s has %d rows, basis has %d functions", set.Label, r, nao)
		}
		for j := range linalg.Cols(set.C) {
			var e, occ float64
			if set.Energy != nil {
				e = set.Energy[j]
			}
			if set.Occ != nil {
				occ = set.Occ[j]
			}
			fmt.Fprintf(bw, " Sym= %s\n Ene= %.10f\n Spin= Alpha\n Occup= %.10f\n", set.Label, e, occ)
			for i := range nao {
				fmt.Fprintf(bw, "%4d %18.12f\n", i+1, set.C.At(i, j))
			}
		}
	}
	if err := bw.Flush(); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}
