package embcc

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/fumin/embcc/linalg"
)

// Entry is the state of a cluster seen by the other clusters during an iteration.
type Entry struct {
	ID      int
	Name    string
	Solver  SolverKind
	COccAct *mat.Dense
	CVirAct *mat.Dense
	// POcc projects COccAct onto the fragment of the cluster.
	POcc *mat.Dense
	C1   *mat.Dense
	C2   *linalg.Tensor4
}

// Registry is an immutable snapshot of the clusters taken between iterations.
type Registry struct {
	entries []Entry
}

// NewRegistry snapshots the clusters. Clusters that have not run yet have no amplitudes.
func NewRegistry(clusters []*Cluster) (*Registry, error) {
	reg := &Registry{entries: make([]Entry, 0, len(clusters))}
	for _, c := range clusters {
		p, err := c.LocalProjector(c.cOccAct, false)
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		c1, c2 := c.Amplitudes()
		e := Entry{
			ID:      c.id,
			Name:    c.name,
			Solver:  c.solver,
			COccAct: c.cOccAct,
			CVirAct: c.cVirAct,
			POcc:    p,
			C1:      c1,
			C2:      c2,
		}
		reg.entries = append(reg.entries, e)
	}
	return reg, nil
}

// Others returns the entries of all clusters except id.
func (r *Registry) Others(id int) []Entry {
	others := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		if e.ID != id {
			others = append(others, e)
		}
	}
	return others
}

func (r *Registry) Len() int { return len(r.entries) }
