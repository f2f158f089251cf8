package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/fumin/embcc"
)

func newStore(t *testing.T) *Store {
	s, err := Open(filepath.Join(t.TempDir(), "embcc.db"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	return s
}

func TestRefDataRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t)
	run, err := s.NewRun(ctx, "h-chain")
	require.NoError(t, err)

	ref := embcc.RefData{
		DMETBath:      mat.NewDense(3, 2, []float64{1, 2, 3, 4, 5, 6}),
		OccBath:       mat.NewDense(3, 1, []float64{-1, 0.5, 1e-12}),
		OccBathEigRef: mat.NewDense(2, 2, []float64{1, 0, 0, 1}),
	}
	require.NoError(t, s.SaveRefData(ctx, run.ID, 1.5, "H0", ref))

	got, err := s.LoadRefData(ctx, run.ID, 1.5, "H0")
	require.NoError(t, err)
	require.True(t, mat.Equal(ref.DMETBath, got.DMETBath))
	require.True(t, mat.Equal(ref.OccBath, got.OccBath))
	require.True(t, mat.Equal(ref.OccBathEigRef, got.OccBathEigRef))
	require.Nil(t, got.VirBath)
	require.Nil(t, got.VirBathEigRef)

	// Saving again replaces the row.
	ref.DMETBath = mat.NewDense(1, 1, []float64{7})
	require.NoError(t, s.SaveRefData(ctx, run.ID, 1.5, "H0", ref))
	got, err = s.LoadRefData(ctx, run.ID, 1.5, "H0")
	require.NoError(t, err)
	require.Equal(t, 7.0, got.DMETBath.At(0, 0))

	_, err = s.LoadRefData(ctx, run.ID, 1.5, "H1")
	require.True(t, errors.Is(err, ErrNotFound), "%+v", err)
	_, err = s.LoadRefData(ctx, uuid.New(), 1.5, "H0")
	require.True(t, errors.Is(err, ErrNotFound), "%+v", err)
}

func TestEnergies(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t)
	run, err := s.NewRun(ctx, "h-chain")
	require.NoError(t, err)
	other, err := s.NewRun(ctx, "other")
	require.NoError(t, err)

	rows := []Energies{
		{IRC: 2.0, N: 10, M: 8, HF: -0.5, EmbCC: -0.02, DMP2: -0.001},
		{IRC: 1.0, N: 8, M: 8, HF: -0.55, EmbCC: -0.01, DMP2: -0.002},
	}
	for _, e := range rows {
		require.NoError(t, s.AddEnergies(ctx, run.ID, e))
	}
	require.NoError(t, s.AddEnergies(ctx, other.ID, rows[0]))
	// Replacing a scan point keeps one row per IRC.
	rows[0].EmbCC = -0.03
	require.NoError(t, s.AddEnergies(ctx, run.ID, rows[0]))

	got, err := s.Energies(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, []Energies{rows[1], rows[0]}, got)

	latest, err := s.LatestRun(ctx, "h-chain")
	require.NoError(t, err)
	require.Equal(t, run.ID, latest.ID)
	_, err = s.LatestRun(ctx, "missing")
	require.True(t, errors.Is(err, ErrNotFound), "%+v", err)
}

func TestReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "embcc.db")
	s, err := Open(dbPath)
	require.NoError(t, err)
	run, err := s.NewRun(ctx, "scan")
	require.NoError(t, err)
	require.NoError(t, s.AddEnergies(ctx, run.ID, Energies{IRC: 1, HF: -1}))
	require.NoError(t, s.Close())

	s, err = Open(dbPath)
	require.NoError(t, err)
	defer s.Close()
	es, err := s.Energies(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, es, 1)
	require.Equal(t, -1.0, es[0].HF)
}
