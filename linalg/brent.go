package linalg

import (
	"math"

	"github.com/pkg/errors"
)

var (
	// ErrNotBracketed is returned when the function has the same sign at both ends of the interval.
	ErrNotBracketed = errors.New("root not bracketed")
	// ErrMaxIterations is returned when the root search exhausts its iterations.
	ErrMaxIterations = errors.New("maximum iterations reached")
)

// BrentOptions are options for the Brent root search.
type BrentOptions struct {
	xtol    float64
	rtol    float64
	ftol    float64
	maxIter int
}

// NewBrentOptions returns the default Brent options.
func NewBrentOptions() BrentOptions {
	opt := BrentOptions{}
	opt.xtol = 2e-12
	opt.rtol = 4 * 0x1p-52
	opt.maxIter = 100
	return opt
}

// XTol sets the absolute tolerance on the root.
func (opt BrentOptions) XTol(tol float64) BrentOptions {
	opt.xtol = tol
	return opt
}

// FTol sets a tolerance on |f(x)| below which the search stops immediately.
func (opt BrentOptions) FTol(tol float64) BrentOptions {
	opt.ftol = tol
	return opt
}

// MaxIterations sets the maximum number of function evaluations after the bracket.
func (opt BrentOptions) MaxIterations(i int) BrentOptions {
	opt.maxIter = i
	return opt
}

// Brent finds a root of f in [a, b] with the Brent-Dekker method.
// f must change sign on the interval. Errors returned by f abort the search.
// See R. P. Brent, Algorithms for Minimization Without Derivatives, chapter 4.
func Brent(f func(float64) (float64, error), a, b float64, options ...BrentOptions) (float64, error) {
	opt := NewBrentOptions()
	if len(options) > 0 {
		opt = options[0]
	}
	done := func(fx float64) bool {
		return fx == 0 || math.Abs(fx) < opt.ftol
	}

	xpre, xcur := a, b
	fpre, err := f(xpre)
	if err != nil {
		return math.NaN(), errors.Wrap(err, "")
	}
	if done(fpre) {
		return xpre, nil
	}
	fcur, err := f(xcur)
	if err != nil {
		return math.NaN(), errors.Wrap(err, "")
	}
	if done(fcur) {
		return xcur, nil
	}
	if fpre*fcur > 0 {
		return math.NaN(), errors.Wrapf(ErrNotBracketed, "f(%g)=%g f(%g)=%g", a, fpre, b, fcur)
	}

	var xblk, fblk, spre, scur float64
	for range opt.maxIter {
		if fpre != 0 && fcur != 0 && math.Signbit(fpre) != math.Signbit(fcur) {
			xblk, fblk = xpre, fpre
			spre = xcur - xpre
			scur = spre
		}
		if math.Abs(fblk) < math.Abs(fcur) {
			xpre, xcur, xblk = xcur, xblk, xcur
			fpre, fcur, fblk = fcur, fblk, fcur
		}

		delta := (opt.xtol + opt.rtol*math.Abs(xcur)) / 2
		sbis := (xblk - xcur) / 2
		if fcur == 0 || math.Abs(sbis) < delta {
			return xcur, nil
		}

		if math.Abs(spre) > delta && math.Abs(fcur) < math.Abs(fpre) {
			var stry float64
			if xpre == xblk {
				// Secant.
				stry = -fcur * (xcur - xpre) / (fcur - fpre)
			} else {
				// Inverse quadratic interpolation.
				dpre := (fpre - fcur) / (xpre - xcur)
				dblk := (fblk - fcur) / (xblk - xcur)
				stry = -fcur * (fblk*dblk - fpre*dpre) / (dblk * dpre * (fblk - fpre))
			}
			if 2*math.Abs(stry) < min(math.Abs(spre), 3*math.Abs(sbis)-delta) {
				spre, scur = scur, stry
			} else {
				spre, scur = sbis, sbis
			}
		} else {
			spre, scur = sbis, sbis
		}

		xpre, fpre = xcur, fcur
		if math.Abs(scur) > delta {
			xcur += scur
		} else if sbis > 0 {
			xcur += delta
		} else {
			xcur -= delta
		}

		fcur, err = f(xcur)
		if err != nil {
			return math.NaN(), errors.Wrap(err, "")
		}
		if done(fcur) {
			return xcur, nil
		}
	}
	return xcur, errors.Wrapf(ErrMaxIterations, "%d", opt.maxIter)
}
