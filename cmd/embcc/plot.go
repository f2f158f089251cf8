package main

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/fumin/embcc"
	"github.com/fumin/embcc/store"
)

func plotEnergies(fpath string, es []store.Energies) error {
	p := plot.New()
	p.Title.Text = "Dissociation"
	p.X.Label.Text = "distance (bohr)"
	p.Y.Label.Text = "energy (Hartree)"
	p.Add(plotter.NewGrid())

	hf := make(plotter.XYs, len(es))
	emb := make(plotter.XYs, len(es))
	embMP2 := make(plotter.XYs, len(es))
	for i, e := range es {
		hf[i].X, hf[i].Y = e.IRC, e.HF
		emb[i].X, emb[i].Y = e.IRC, e.HF+e.EmbCC
		embMP2[i].X, embMP2[i].Y = e.IRC, e.HF+e.EmbCC+e.DMP2
	}
	if err := plotutil.AddLinePoints(p, "HF", hf, "EmbCC", emb, "EmbCC+dMP2", embMP2); err != nil {
		return errors.Wrap(err, "")
	}
	if err := p.Save(5*vg.Inch, 4*vg.Inch, fpath); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}

// plotBathOccupations plots the MP2 natural occupations of the environment of every cluster on a log scale.
// Occupied spaces show hole occupations.
func plotBathOccupations(fpath string, clusters []*embcc.Cluster) error {
	p := plot.New()
	p.Title.Text = "Bath natural occupations"
	p.X.Label.Text = "orbital"
	p.Y.Label.Text = "log10 occupation"
	p.Add(plotter.NewGrid())

	lines := make([]any, 0)
	for _, c := range clusters {
		for _, space := range []embcc.Space{embcc.Occupied, embcc.Virtual} {
			occ := c.BathOccupations(space)
			if len(occ) == 0 {
				continue
			}
			xys := make(plotter.XYs, len(occ))
			for i, n := range occ {
				xys[i].X = float64(i)
				xys[i].Y = math.Log10(max(math.Abs(n), 1e-16))
			}
			lines = append(lines, c.Name()+" "+space.String(), xys)
		}
	}
	if len(lines) == 0 {
		return nil
	}
	if err := plotutil.AddLinePoints(p, lines...); err != nil {
		return errors.Wrap(err, "")
	}
	if err := p.Save(5*vg.Inch, 4*vg.Inch, fpath); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}
