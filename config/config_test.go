package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/fumin/embcc"
	"github.com/fumin/embcc/scf"
)

const hChain = `
name: h6
output: runs/h6
concurrency: 2
system:
  kind: h-chain
  natom: 6
  basis: sto-3g
  distances: [1.6, 1.8]
fragments:
  kind: atoms
  atoms: [[0, 1], [2, 3], [4, 5]]
cluster:
  solver: MP2
  bath: mp2-natorb
  bath_tol: [1e-3, 1e-3]
  use_ref_orbitals_bath: true
  variant: democratic
`

func TestParse(t *testing.T) {
	t.Parallel()
	cfg, err := Parse([]byte(hChain))
	require.NoError(t, err)
	require.Equal(t, "h6", cfg.Name)
	require.Equal(t, []float64{1.6, 1.8}, cfg.System.Distances)
	require.Equal(t, [][]int{{0, 1}, {2, 3}, {4, 5}}, cfg.Fragments.Atoms)
	require.Equal(t, []float64{1e-3, 1e-3}, cfg.Cluster.BathTol)
	// Unset keys keep the defaults.
	require.Equal(t, "lowdin", cfg.LocalOrbitals)
	require.Nil(t, cfg.Cluster.NElectronTarget)
}

func TestLoad(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "h6.yaml")
	require.NoError(t, os.WriteFile(path, []byte(hChain), 0644))
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 6, cfg.System.NAtom)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidationFailures(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		yaml string
		tag  string
	}{
		{name: "solver", yaml: "name: x\ncluster:\n  solver: BOGUS\n", tag: "oneof"},
		{name: "bath", yaml: "name: x\ncluster:\n  bath: bogus\n", tag: "oneof"},
		{name: "name", yaml: "system:\n  distances: [1]\n", tag: "required"},
		{name: "distances", yaml: "name: x\nsystem:\n  distances: []\n", tag: "min"},
		{name: "negative distance", yaml: "name: x\nsystem:\n  distances: [1, -1]\n", tag: "gt"},
		{name: "bath tol length", yaml: "name: x\ncluster:\n  bath_tol: [1, 2, 3]\n", tag: "len"},
		{name: "negative bath tol", yaml: "name: x\ncluster:\n  bath_tol: [1e-4, -1]\n", tag: "gte"},
		{name: "fragment atoms", yaml: "name: x\nfragments:\n  kind: atoms\n", tag: "required_if"},
		{name: "empty fragment", yaml: "name: x\nfragments:\n  kind: atoms\n  atoms: [[0], []]\n", tag: "min"},
		{name: "basis", yaml: "name: x\nsystem:\n  basis: cc-pvdz\n  distances: [1.8]\n", tag: "oneof"},
		{name: "variant", yaml: "name: x\ncluster:\n  variant: last-occ\n", tag: "oneof"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			data := test.yaml
			if !strings.Contains(data, "system:") {
				data += "system:\n  distances: [1.8]\n"
			}
			_, err := Parse([]byte(data))
			require.Error(t, err)
			var verrs validator.ValidationErrors
			require.True(t, errors.As(err, &verrs), "%+v", err)
			require.Equal(t, test.tag, verrs[0].Tag())
		})
	}
}

func TestFragmentChecks(t *testing.T) {
	t.Parallel()
	base := "name: x\nsystem:\n  natom: 4\n  distances: [1.8]\nfragments:\n  kind: atoms\n"
	_, err := Parse([]byte(base + "  atoms: [[0, 1], [1, 2]]\n"))
	require.ErrorContains(t, err, "two fragments")
	_, err = Parse([]byte(base + "  atoms: [[0, 4]]\n"))
	require.ErrorContains(t, err, "fragment atom 4")
}

func TestUnknownKey(t *testing.T) {
	t.Parallel()
	_, err := Parse([]byte("name: x\nsystem:\n  distances: [1]\ncluster:\n  sovler: MP2\n"))
	require.ErrorContains(t, err, "sovler")
}

func TestClusterOptions(t *testing.T) {
	t.Parallel()
	ints, err := scf.HydrogenChain(4, 1.8, "sto-3g").Integrals()
	require.NoError(t, err)
	mf, err := scf.RHF(t.Context(), ints)
	require.NoError(t, err)
	emb, err := embcc.New(mf, embcc.NewOptions().Logger(slog.Default()))
	require.NoError(t, err)

	cfg, err := Parse([]byte("name: x\nsystem:\n  distances: [1.8]\ncluster:\n  solver: CCSD\n  nelectron_target: 2\n"))
	require.NoError(t, err)
	// The electron target needs a configuration interaction solver.
	_, err = emb.MakeAtomCluster([]int{0, 1}, cfg.Cluster.Options(slog.Default()))
	require.True(t, errors.Is(err, embcc.ErrConfig), "%+v", err)

	cfg.Cluster.Solver = "FCI-spin0"
	c, err := emb.MakeAtomCluster([]int{0, 1}, cfg.Cluster.Options(slog.Default()))
	require.NoError(t, err)
	require.Equal(t, embcc.SolverFCISpin0, c.Solver())
	require.Equal(t, embcc.BathMP2NatOrb, c.Bath())
}
