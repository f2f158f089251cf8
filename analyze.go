package embcc

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/fumin/embcc/linalg"
	"github.com/fumin/embcc/scf"
)

// OrbitalWeight is the weight of the orbital spaces of a cluster on one atomic orbital.
type OrbitalWeight struct {
	AO      int
	Label   string
	Weights map[string]float64
}

// analyzedSpaces are the orbital spaces reported by AnalyzeOrbitals, in column order.
var analyzedSpaces = []string{"active", "frozen", "Fragment", "DMET-bath", "Occ.-bath", "Vir.-bath", "Occ.-env.", "Vir.-env."}

// AnalyzeOrbitals returns the weight of each orbital space on each atomic orbital,
// sum over k of (S C)[ao,k]^2, sorted by the weight of the active space.
func (c *Cluster) AnalyzeOrbitals() ([]OrbitalWeight, error) {
	if c.moCoeff == nil {
		return nil, errors.Errorf("cluster %s has not run", c.name)
	}
	spaces := map[string]*mat.Dense{
		"active": linalg.SelectCols(c.moCoeff, c.Active()),
		"frozen": linalg.SelectCols(c.moCoeff, c.Frozen()),
	}
	for _, o := range c.orbitals {
		spaces[o.Name] = o.C
	}

	s := c.base.mf.Ovlp()
	labels := c.base.mf.AOLabels()
	nao := linalg.Rows(s)
	rows := make([]OrbitalWeight, nao)
	for ao := range nao {
		rows[ao] = OrbitalWeight{AO: ao, Label: labels[ao], Weights: make(map[string]float64)}
	}
	for _, name := range analyzedSpaces {
		sc := linalg.MultiDot(s, spaces[name])
		for ao := range nao {
			var w float64
			for k := range linalg.Cols(sc) {
				w += sc.At(ao, k) * sc.At(ao, k)
			}
			rows[ao].Weights[name] = w
		}
	}
	slices.SortStableFunc(rows, func(a, b OrbitalWeight) int {
		return -cmpFloat(a.Weights["active"], b.Weights["active"])
	})

	var sb strings.Builder
	fmt.Fprintf(&sb, "%-16s", "AO")
	for _, name := range analyzedSpaces {
		fmt.Fprintf(&sb, " %10s", name)
	}
	for _, r := range rows {
		fmt.Fprintf(&sb, "\n%-16s", r.Label)
		for _, name := range analyzedSpaces {
			fmt.Fprintf(&sb, " %10.6f", r.Weights[name])
		}
	}
	c.logger.Info("orbital analysis\n" + sb.String())
	return rows, nil
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

type integralser interface {
	Integrals() *scf.Integrals
}

// CreateOrbitalFile writes the orbital spaces of the last run to the molden file prefix-c<id>.molden.
func (c *Cluster) CreateOrbitalFile(prefix string) (string, error) {
	mf, ok := c.base.mf.(integralser)
	if !ok {
		return "", errors.Wrapf(ErrConfig, "mean field has no basis set")
	}
	sets := make([]scf.OrbitalSet, 0, len(c.orbitals))
	for _, o := range c.orbitals {
		sets = append(sets, scf.OrbitalSet{Label: o.Name, C: o.C, Occ: c.Occupations(o.C)})
	}

	fpath := fmt.Sprintf("%s-c%d.molden", prefix, c.id)
	if err := os.MkdirAll(filepath.Dir(fpath), os.ModePerm); err != nil {
		return "", errors.Wrap(err, "")
	}
	f, err := os.Create(fpath)
	if err != nil {
		return "", errors.Wrap(err, "")
	}
	defer f.Close()
	if err := scf.WriteMolden(f, mf.Integrals(), sets); err != nil {
		return "", errors.Wrap(err, "")
	}
	if err := f.Close(); err != nil {
		return "", errors.Wrap(err, "")
	}
	return fpath, nil
}
