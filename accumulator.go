package embcc

import (
	"sync"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/fumin/embcc/linalg"
)

// Accumulator sums the fragment amplitudes of all clusters into global amplitudes
// in the occupied and virtual mean-field orbitals.
// Clusters publish concurrently during an iteration; the sum becomes visible only after Merge.
// The sum always holds the latest contribution of every cluster that ever published.
type Accumulator struct {
	mu      sync.Mutex
	no, nv  int
	ref1    *mat.Dense
	ref2    *linalg.Tensor4
	pending map[int]contribution
	merged  map[int]contribution
}

type contribution struct {
	t1 *mat.Dense
	t2 *linalg.Tensor4
}

func NewAccumulator(no, nv int) *Accumulator {
	return &Accumulator{no: no, nv: nv, pending: make(map[int]contribution), merged: make(map[int]contribution)}
}

// Publish records the amplitudes of cluster id for the current iteration.
// A cluster may publish at most once per iteration.
func (a *Accumulator) Publish(id int, t1 *mat.Dense, t2 *linalg.Tensor4) error {
	if t2.Shape != [4]int{a.no, a.no, a.nv, a.nv} {
		return errors.Wrapf(ErrNumerical, "amplitude shape %v, expected %v", t2.Shape, [4]int{a.no, a.no, a.nv, a.nv})
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.pending[id]; ok {
		return errors.Errorf("cluster %d already published", id)
	}
	a.pending[id] = contribution{t1: t1, t2: t2}
	return nil
}

// Merge replaces the earlier contributions of the clusters that published since the last merge,
// and sets the global amplitudes to the sum over all clusters.
// Without new contributions, the global amplitudes are kept.
func (a *Accumulator) Merge() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.pending) == 0 {
		return
	}
	for id, ctb := range a.pending {
		a.merged[id] = ctb
	}
	ref1 := mat.NewDense(max(a.no, 1), max(a.nv, 1), nil)
	ref2 := linalg.NewTensor4(a.no, a.no, a.nv, a.nv)
	for _, ctb := range a.merged {
		if ctb.t1 != nil {
			ref1.Add(ref1, ctb.t1)
		}
		ref2.AddScaled(1, ctb.t2)
	}
	if a.no == 0 || a.nv == 0 {
		ref1 = nil
	}
	a.ref1, a.ref2 = ref1, ref2
	a.pending = make(map[int]contribution)
}

// Reference returns the global amplitudes of the last merge, nil before the first.
func (a *Accumulator) Reference() (*mat.Dense, *linalg.Tensor4) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ref1, a.ref2
}
