// Package store persists the energies of scans and the reference orbitals of clusters in sqlite.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/fumin/embcc"
)

const (
	tableRun      = "run"
	tableEnergies = "energies"
	tableRefData  = "refdata"

	queryTimeout = 3 * time.Second
)

var (
	ErrNotFound = errors.New("not found")
)

// Energies is a row of the energies table of a scan, in Hartree.
type Energies struct {
	IRC float64
	// N is the largest active space of the clusters, M the number of atomic orbitals.
	N     int
	M     int
	HF    float64
	EmbCC float64
	DMP2  float64
}

type Run struct {
	ID      uuid.UUID
	Name    string
	Created time.Time
}

// Store is a sqlite database.
type Store struct {
	Path string

	db  *sql.DB
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func Open(dbPath string) (*Store, error) {
	s := &Store{Path: dbPath}
	var err error
	s.db, err = sql.Open("sqlite3", fmt.Sprintf("file:%s", dbPath))
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	s.db.SetMaxOpenConns(1)
	if err := prepareDB(s.db); err != nil {
		s.db.Close()
		return nil, errors.Wrap(err, "")
	}

	s.enc, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
	if err != nil {
		s.db.Close()
		return nil, errors.Wrap(err, "")
	}
	s.dec, err = zstd.NewReader(nil)
	if err != nil {
		s.enc.Close()
		s.db.Close()
		return nil, errors.Wrap(err, "")
	}
	return s, nil
}

func (s *Store) Close() error {
	s.dec.Close()
	var err error
	if err1 := s.enc.Close(); err1 != nil && err == nil {
		err = errors.Wrap(err1, "")
	}
	if err1 := s.db.Close(); err1 != nil && err == nil {
		err = errors.Wrap(err1, "")
	}
	return err
}

func prepareDB(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (id TEXT PRIMARY KEY, name TEXT, created INTEGER) STRICT`, tableRun),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (run TEXT, irc REAL, n INTEGER, m INTEGER, hf REAL, embcc REAL, dmp2 REAL, PRIMARY KEY (run, irc)) STRICT`, tableEnergies),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (run TEXT, irc REAL, cluster TEXT, dmet_bath BLOB, occ_bath BLOB, vir_bath BLOB, occ_eig_ref BLOB, vir_eig_ref BLOB, PRIMARY KEY (run, irc, cluster)) STRICT`, tableRefData),
	}
	for _, sqlStr := range stmts {
		if _, err := db.ExecContext(ctx, sqlStr); err != nil {
			return errors.Wrap(err, sqlStr)
		}
	}
	return nil
}

// NewRun registers a run under a fresh identifier.
func (s *Store) NewRun(ctx context.Context, name string) (Run, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	r := Run{ID: uuid.New(), Name: name, Created: time.Now().Truncate(time.Second)}
	sqlStr := fmt.Sprintf(`INSERT INTO %s (id, name, created) VALUES (?, ?, ?)`, tableRun)
	if _, err := s.db.ExecContext(ctx, sqlStr, r.ID.String(), r.Name, r.Created.Unix()); err != nil {
		return Run{}, errors.Wrap(err, "")
	}
	return r, nil
}

// LatestRun returns the most recent run with the given name.
func (s *Store) LatestRun(ctx context.Context, name string) (Run, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	sqlStr := fmt.Sprintf(`SELECT id, created FROM %s WHERE name=? ORDER BY created DESC, rowid DESC LIMIT 1`, tableRun)
	var id string
	var created int64
	err := s.db.QueryRowContext(ctx, sqlStr, name).Scan(&id, &created)
	switch {
	case err == sql.ErrNoRows:
		return Run{}, errors.Wrapf(ErrNotFound, "run %s", name)
	case err != nil:
		return Run{}, errors.Wrap(err, "")
	}
	r := Run{Name: name, Created: time.Unix(created, 0)}
	if r.ID, err = uuid.Parse(id); err != nil {
		return Run{}, errors.Wrap(err, id)
	}
	return r, nil
}

// AddEnergies inserts or replaces the energies of a scan point.
func (s *Store) AddEnergies(ctx context.Context, run uuid.UUID, e Energies) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	sqlStr := fmt.Sprintf(`INSERT OR REPLACE INTO %s (run, irc, n, m, hf, embcc, dmp2) VALUES (?, ?, ?, ?, ?, ?, ?)`, tableEnergies)
	args := []any{run.String(), e.IRC, e.N, e.M, e.HF, e.EmbCC, e.DMP2}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return errors.Wrap(err, fmt.Sprintf("%s %#v", sqlStr, args))
	}
	return nil
}

// Energies returns the energies of a run ordered by IRC.
func (s *Store) Energies(ctx context.Context, run uuid.UUID) ([]Energies, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	sqlStr := fmt.Sprintf(`SELECT irc, n, m, hf, embcc, dmp2 FROM %s WHERE run=? ORDER BY irc`, tableEnergies)
	rows, err := s.db.QueryContext(ctx, sqlStr, run.String())
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	defer rows.Close()

	es := make([]Energies, 0)
	for rows.Next() {
		var e Energies
		if err := rows.Scan(&e.IRC, &e.N, &e.M, &e.HF, &e.EmbCC, &e.DMP2); err != nil {
			return nil, errors.Wrap(err, "")
		}
		es = append(es, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "")
	}
	return es, nil
}

// SaveRefData stores the reference orbitals of a cluster at a scan point.
func (s *Store) SaveRefData(ctx context.Context, run uuid.UUID, irc float64, cluster string, ref embcc.RefData) error {
	blobs := make([]any, 0, 5)
	for _, m := range refMatrices(&ref) {
		b, err := s.encode(*m)
		if err != nil {
			return errors.Wrap(err, "")
		}
		if b == nil {
			blobs = append(blobs, nil)
			continue
		}
		blobs = append(blobs, b)
	}

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	sqlStr := fmt.Sprintf(`INSERT OR REPLACE INTO %s (run, irc, cluster, dmet_bath, occ_bath, vir_bath, occ_eig_ref, vir_eig_ref) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, tableRefData)
	args := append([]any{run.String(), irc, cluster}, blobs...)
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return errors.Wrap(err, fmt.Sprintf("%s %s %g", sqlStr, cluster, irc))
	}
	return nil
}

// LoadRefData returns the reference orbitals of a cluster at a scan point.
func (s *Store) LoadRefData(ctx context.Context, run uuid.UUID, irc float64, cluster string) (embcc.RefData, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	sqlStr := fmt.Sprintf(`SELECT dmet_bath, occ_bath, vir_bath, occ_eig_ref, vir_eig_ref FROM %s WHERE run=? AND irc=? AND cluster=?`, tableRefData)
	blobs := make([][]byte, 5)
	dest := make([]any, len(blobs))
	for i := range blobs {
		dest[i] = &blobs[i]
	}
	err := s.db.QueryRowContext(ctx, sqlStr, run.String(), irc, cluster).Scan(dest...)
	switch {
	case err == sql.ErrNoRows:
		return embcc.RefData{}, errors.Wrapf(ErrNotFound, "refdata %s %g", cluster, irc)
	case err != nil:
		return embcc.RefData{}, errors.Wrap(err, "")
	}

	var ref embcc.RefData
	for i, m := range refMatrices(&ref) {
		if *m, err = s.decode(blobs[i]); err != nil {
			return embcc.RefData{}, errors.Wrap(err, fmt.Sprintf("column %d", i))
		}
	}
	return ref, nil
}

func refMatrices(ref *embcc.RefData) []**mat.Dense {
	return []**mat.Dense{&ref.DMETBath, &ref.OccBath, &ref.VirBath, &ref.OccBathEigRef, &ref.VirBathEigRef}
}

// encode compresses the binary form of a matrix. Empty matrices are stored as NULL.
func (s *Store) encode(m *mat.Dense) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	b, err := m.MarshalBinary()
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	return s.enc.EncodeAll(b, nil), nil
}

func (s *Store) decode(b []byte) (*mat.Dense, error) {
	if b == nil {
		return nil, nil
	}
	raw, err := s.dec.DecodeAll(b, nil)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	m := &mat.Dense{}
	if err := m.UnmarshalBinary(raw); err != nil {
		return nil, errors.Wrap(err, "")
	}
	return m, nil
}
