package solver

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/fumin/embcc/linalg"
	"github.com/fumin/embcc/scf"
)

// MP2 is restricted second order Møller-Plesset perturbation theory in canonical orbitals.
type MP2 struct {
	frame
	logger *slog.Logger
}

type MP2Result struct {
	ECorr float64
	// T2 is indexed [i,j,a,b].
	T2        *linalg.Tensor4
	Converged bool
}

func NewMP2(mf scf.MeanField, moCoeff *mat.Dense, moOcc []float64, frozen []int) (*MP2, error) {
	fr, err := newFrame(mf, moCoeff, moOcc, frozen)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	return &MP2{frame: fr, logger: slog.Default()}, nil
}

func (s *MP2) SetLogger(l *slog.Logger) { s.logger = l }

// Kernel computes the first order doubles amplitudes and the second order energy.
// Orbital energies are the diagonal of the Fock matrix, so the orbitals must be (semi)canonical.
func (s *MP2) Kernel(ctx context.Context, eris *ERIs) (*MP2Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "")
	}
	t2, e := MP2Amplitudes(eris)
	s.logger.Debug("mp2", "nocc", eris.NOcc, "nvir", eris.NVir(), "ecorr", e)
	return &MP2Result{ECorr: e, T2: t2, Converged: true}, nil
}

// MP2Amplitudes returns t2[i,j,a,b] = (ia|jb) / (e_i + e_j - e_a - e_b) and the correlation energy.
func MP2Amplitudes(eris *ERIs) (*linalg.Tensor4, float64) {
	no, nv := eris.NOcc, eris.NVir()
	eo, ev := eris.MoEnergy[:no], eris.MoEnergy[no:]
	t2 := linalg.NewTensor4(no, no, nv, nv)
	var e float64
	for i := range no {
		for j := range no {
			for a := range nv {
				for b := range nv {
					iajb := eris.ERI.At(i, no+a, j, no+b)
					ibja := eris.ERI.At(i, no+b, j, no+a)
					t := iajb / (eo[i] + eo[j] - ev[a] - ev[b])
					t2.Set(i, j, a, b, t)
					e += t * (2*iajb - ibja)
				}
			}
		}
	}
	return t2, e
}
