package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/pkg/errors"

	"github.com/fumin/embcc"
	"github.com/fumin/embcc/config"
	"github.com/fumin/embcc/scf"
	"github.com/fumin/embcc/store"
)

const (
	fnameDone     = "done.txt"
	fnameEnergies = "energies.txt"
	fnameDB       = "embcc.db"
)

var (
	configPath = flag.String("c", "", "config file, the default scans a 10 atom hydrogen chain")
	verbose    = flag.Bool("v", false, "debug logging")
)

type scan struct {
	cfg    config.Config
	st     *store.Store
	run    store.Run
	logger *slog.Logger
}

func (s *scan) molecule(d float64) *scf.Molecule {
	sys := s.cfg.System
	if sys.Kind == "h-ring" {
		return scf.HydrogenRing(sys.NAtom, d, sys.Basis)
	}
	return scf.HydrogenChain(sys.NAtom, d, sys.Basis)
}

func (s *scan) makeClusters(emb *embcc.EmbCC) error {
	opt := s.cfg.Cluster.Options(s.logger)
	if s.cfg.Fragments.Kind == "all-atoms" {
		if _, err := emb.MakeAllAtomClusters(opt); err != nil {
			return errors.Wrap(err, "")
		}
		return nil
	}
	for _, atoms := range s.cfg.Fragments.Atoms {
		if _, err := emb.MakeAtomCluster(atoms, opt); err != nil {
			return errors.Wrap(err, fmt.Sprintf("%v", atoms))
		}
	}
	return nil
}

// solve embeds the molecule at distance d.
// The bath of each cluster follows the reference data saved at the previous distance prev.
func (s *scan) solve(ctx context.Context, dir string, d float64, prev *float64) error {
	donePath := filepath.Join(dir, fnameDone)
	if _, err := os.Stat(donePath); err == nil {
		return nil
	}
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return errors.Wrap(err, "")
	}

	ints, err := s.molecule(d).Integrals()
	if err != nil {
		return errors.Wrap(err, "")
	}
	mf, err := scf.RHF(ctx, ints, scf.NewRHFOptions().Logger(s.logger))
	if err != nil {
		return errors.Wrap(err, "")
	}
	emb, err := embcc.New(mf, s.cfg.Options(s.logger))
	if err != nil {
		return errors.Wrap(err, "")
	}
	if err := s.makeClusters(emb); err != nil {
		return errors.Wrap(err, "")
	}
	if prev != nil {
		for _, c := range emb.Clusters() {
			ref, err := s.st.LoadRefData(ctx, s.run.ID, *prev, c.Name())
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			if err != nil {
				return errors.Wrap(err, "")
			}
			c.SetRefData(ref)
		}
	}

	ropt := embcc.NewRunOptions().Logger(s.logger)
	if s.cfg.Concurrency > 0 {
		ropt = ropt.Concurrency(s.cfg.Concurrency)
	}
	res, err := emb.Run(ctx, ropt)
	if err != nil {
		return errors.Wrap(err, "")
	}
	if !res.Converged {
		s.logger.Warn("not converged", "distance", d)
	}

	var nactive int
	for _, c := range emb.Clusters() {
		nactive = max(nactive, c.NActive())
		if err := s.st.SaveRefData(ctx, s.run.ID, d, c.Name(), c.RefData()); err != nil {
			return errors.Wrap(err, "")
		}
		if s.cfg.Molden {
			if _, err := c.CreateOrbitalFile(filepath.Join(dir, "orbitals")); err != nil {
				return errors.Wrap(err, "")
			}
		}
	}
	if s.cfg.Plot {
		if err := plotBathOccupations(filepath.Join(dir, "bath.png"), emb.Clusters()); err != nil {
			return errors.Wrap(err, "")
		}
	}

	e := store.Energies{IRC: d, N: nactive, M: ints.NAO(), HF: mf.ETot(), EmbCC: res.ECorr, DMP2: res.EDeltaMP2}
	if err := s.st.AddEnergies(ctx, s.run.ID, e); err != nil {
		return errors.Wrap(err, "")
	}
	if err := os.WriteFile(donePath, nil, 0644); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}

// writeEnergies writes the energies table, per electron.
func (s *scan) writeEnergies(ctx context.Context, nelectron int) ([]store.Energies, error) {
	es, err := s.st.Energies(ctx, s.run.ID)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	factor := 1 / float64(nelectron)
	var b strings.Builder
	b.WriteString("#IRC  N  M  HF  EmbCC  dMP2  EmbCC+dMP2\n")
	for _, e := range es {
		fmt.Fprintf(&b, "%.4f  %2d  %2d  %16.12e  %16.12e  %16.12e  %16.12e\n", e.IRC, e.N, e.M, factor*e.HF, factor*e.EmbCC, factor*e.DMP2, factor*(e.EmbCC+e.DMP2))
	}
	fpath := filepath.Join(s.cfg.Output, fnameEnergies)
	if err := os.WriteFile(fpath, []byte(b.String()), 0644); err != nil {
		return nil, errors.Wrap(err, "")
	}
	return es, nil
}

func main() {
	flag.Parse()
	log.SetFlags(log.Lmicroseconds | log.Llongfile | log.LstdFlags)

	if err := mainWithErr(); err != nil {
		log.Fatalf("%+v", err)
	}
}

func mainWithErr() error {
	ctx := context.Background()
	cfg := config.Default()
	cfg.Name = "h-chain"
	cfg.System.Distances = []float64{1.4, 1.6, 1.8, 2.0, 2.4, 2.8, 3.2}
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			return errors.Wrap(err, "")
		}
	}
	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := os.MkdirAll(cfg.Output, os.ModePerm); err != nil {
		return errors.Wrap(err, "")
	}
	dbPath := cfg.Database
	if dbPath == "" {
		dbPath = filepath.Join(cfg.Output, fnameDB)
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return errors.Wrap(err, "")
	}
	defer st.Close()

	// Resume the last run of the same name, so that finished distances are kept.
	run, err := st.LatestRun(ctx, cfg.Name)
	if errors.Is(err, store.ErrNotFound) {
		run, err = st.NewRun(ctx, cfg.Name)
	}
	if err != nil {
		return errors.Wrap(err, "")
	}
	s := &scan{cfg: cfg, st: st, run: run, logger: logger.With("run", run.ID.String())}

	// Scan from short to long bonds so that the bath follows the dissociation.
	distances := slices.Clone(cfg.System.Distances)
	slices.Sort(distances)
	var prev *float64
	for _, d := range distances {
		dir := filepath.Join(cfg.Output, fmt.Sprintf("%.4f", d))
		if err := s.solve(ctx, dir, d, prev); err != nil {
			return errors.Wrap(err, fmt.Sprintf("%f", d))
		}
		log.Printf("%s %f", cfg.Name, d)
		prev = &d
	}

	es, err := s.writeEnergies(ctx, s.molecule(distances[0]).NElectron())
	if err != nil {
		return errors.Wrap(err, "")
	}
	if cfg.Plot {
		if err := plotEnergies(filepath.Join(cfg.Output, "energies.png"), es); err != nil {
			return errors.Wrap(err, "")
		}
	}
	fmt.Printf("irc,hf,embcc,dmp2\n")
	for _, e := range es {
		fmt.Printf("%f,%f,%f,%f\n", e.IRC, e.HF, e.EmbCC, e.DMP2)
	}
	return nil
}
