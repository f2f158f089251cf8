package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/fumin/embcc/k2gamma"
)

const eriTol = 1e-8

var (
	naux    = flag.Int("naux", 4, "aux functions per cell")
	nao     = flag.Int("nao", 2, "atomic orbitals per cell")
	meshes  = flag.String("meshes", "1x1x1,2x1x1,3x1x1,4x1x1,2x2x1,3x2x1", "k-point meshes")
	seed    = flag.Int64("seed", 1, "random seed of the model integrals")
	verbose = flag.Bool("v", false, "debug logging")
)

type timing struct {
	mesh     *k2gamma.Mesh
	build    time.Duration
	unfold   time.Duration
	sc       time.Duration
	maxError float64
}

func parseMesh(s string) (*k2gamma.Mesh, error) {
	fields := strings.Split(s, "x")
	if len(fields) != 3 {
		return nil, errors.Errorf("mesh %q", s)
	}
	var n [3]int
	for i, f := range fields {
		var err error
		if n[i], err = strconv.Atoi(f); err != nil {
			return nil, errors.Wrap(err, s)
		}
	}
	m, err := k2gamma.NewMesh(n[0], n[1], n[2])
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	return m, nil
}

// run unfolds the integrals of a random model on mesh m and compares them with the supercell integrals built directly.
func run(m *k2gamma.Mesh, logger *slog.Logger) (timing, error) {
	tm := timing{mesh: m}
	model := k2gamma.NewRandomModel(m, *naux, *nao, *seed)

	start := time.Now()
	j3cK := model.J3CK()
	tm.build = time.Since(start)

	start = time.Now()
	j3c, err := k2gamma.UnfoldJ3C(m, j3cK, k2gamma.NewUnfoldOptions().Logger(logger))
	if err != nil {
		return timing{}, errors.Wrap(err, "")
	}
	eri, err := j3c.ERI()
	if err != nil {
		return timing{}, errors.Wrap(err, "")
	}
	tm.unfold = time.Since(start)

	start = time.Now()
	expected := model.ERI()
	tm.sc = time.Since(start)

	tm.maxError = eri.MaxAbsDiff(expected)
	if tm.maxError > eriTol {
		return timing{}, errors.Errorf("mesh %v: four-center error %g", m.Dims(), tm.maxError)
	}
	return tm, nil
}

func main() {
	flag.Parse()
	log.SetFlags(log.Lmicroseconds | log.Llongfile | log.LstdFlags)

	if err := mainWithErr(); err != nil {
		log.Fatalf("%+v", err)
	}
}

func mainWithErr() error {
	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	timings := make([]timing, 0)
	for _, s := range strings.Split(*meshes, ",") {
		m, err := parseMesh(s)
		if err != nil {
			return errors.Wrap(err, "")
		}
		tm, err := run(m, logger)
		if err != nil {
			return errors.Wrap(err, "")
		}
		log.Printf("%s error %g", s, tm.maxError)
		timings = append(timings, tm)
	}

	fmt.Printf("Nkpts   GDF(prim)   j3c-unfolding   build+unfolding   GDF(SC)\n")
	for _, tm := range timings {
		fmt.Printf("%5d   %9.4f   %13.4f   %15.4f   %7.4f\n", tm.mesh.NK(), tm.build.Seconds(), tm.unfold.Seconds(), (tm.build + tm.unfold).Seconds(), tm.sc.Seconds())
	}
	return nil
}
