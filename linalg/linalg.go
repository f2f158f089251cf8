// Package linalg collects the linear algebra used throughout the embedding code.
//
// Orbital coefficient matrices have one row per atomic orbital and one column per molecular orbital.
// gonum cannot represent a matrix with zero rows or columns, so a nil *mat.Dense stands for an empty orbital space.
// All helpers in this package accept and return nil in that sense.
package linalg

import (
	"fmt"
	"math"
	"slices"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Cols returns the number of columns of a, zero for nil.
func Cols(a *mat.Dense) int {
	if a == nil || a.IsEmpty() {
		return 0
	}
	_, c := a.Dims()
	return c
}

// Rows returns the number of rows of a, zero for nil.
func Rows(a *mat.Dense) int {
	if a == nil || a.IsEmpty() {
		return 0
	}
	r, _ := a.Dims()
	return r
}

func isEmpty(m mat.Matrix) bool {
	switch m := m.(type) {
	case nil:
		return true
	case *mat.Dense:
		return m == nil || m.IsEmpty()
	case *mat.SymDense:
		return m == nil || m.IsEmpty()
	case mat.Transpose:
		return isEmpty(m.Matrix)
	}
	r, c := m.Dims()
	return r == 0 || c == 0
}

// T returns the transpose of a, or nil when a is empty.
func T(a *mat.Dense) mat.Matrix {
	if a == nil || a.IsEmpty() {
		return nil
	}
	return a.T()
}

// HStack concatenates matrices horizontally, skipping empty ones.
func HStack(ms ...*mat.Dense) *mat.Dense {
	rows, cols := -1, 0
	for _, m := range ms {
		if Cols(m) == 0 {
			continue
		}
		r, c := m.Dims()
		if rows >= 0 && r != rows {
			panic(fmt.Sprintf("row mismatch %d %d", rows, r))
		}
		rows = r
		cols += c
	}
	if cols == 0 {
		return nil
	}

	out := mat.NewDense(rows, cols, nil)
	j := 0
	for _, m := range ms {
		if Cols(m) == 0 {
			continue
		}
		_, c := m.Dims()
		out.Slice(0, rows, j, j+c).(*mat.Dense).Copy(m)
		j += c
	}
	return out
}

// SplitCols splits a into its first k columns and the rest.
func SplitCols(a *mat.Dense, k int) (*mat.Dense, *mat.Dense) {
	n := Cols(a)
	if k < 0 || k > n {
		panic(fmt.Sprintf("split %d of %d", k, n))
	}
	r := Rows(a)
	var left, right *mat.Dense
	if k > 0 {
		left = mat.DenseCopyOf(a.Slice(0, r, 0, k))
	}
	if k < n {
		right = mat.DenseCopyOf(a.Slice(0, r, k, n))
	}
	return left, right
}

// SelectCols returns a copy of the columns idx of a.
func SelectCols(a *mat.Dense, idx []int) *mat.Dense {
	if len(idx) == 0 || Cols(a) == 0 {
		return nil
	}
	r := Rows(a)
	out := mat.NewDense(r, len(idx), nil)
	for k, j := range idx {
		for i := range r {
			out.Set(i, k, a.At(i, j))
		}
	}
	return out
}

// SelectRows returns a copy of the rows idx of a.
func SelectRows(a *mat.Dense, idx []int) *mat.Dense {
	if len(idx) == 0 || Cols(a) == 0 {
		return nil
	}
	c := Cols(a)
	out := mat.NewDense(len(idx), c, nil)
	for k, i := range idx {
		out.SetRow(k, a.RawRowView(i))
	}
	return out
}

// MultiDot returns the product of ms.
// An empty first or last factor gives nil, an empty inner factor gives a zero matrix.
func MultiDot(ms ...mat.Matrix) *mat.Dense {
	if len(ms) == 0 {
		panic("no matrices")
	}
	if isEmpty(ms[0]) || isEmpty(ms[len(ms)-1]) {
		return nil
	}
	for _, m := range ms[1 : len(ms)-1] {
		if isEmpty(m) {
			r, _ := ms[0].Dims()
			_, c := ms[len(ms)-1].Dims()
			return mat.NewDense(r, c, nil)
		}
	}

	out := mat.DenseCopyOf(ms[0])
	for _, m := range ms[1:] {
		var p mat.Dense
		p.Mul(out, m)
		out = &p
	}
	return out
}

// Identity returns the n by n identity matrix.
func Identity(n int) *mat.Dense {
	if n == 0 {
		return nil
	}
	id := mat.NewDense(n, n, nil)
	for i := range n {
		id.Set(i, i, 1)
	}
	return id
}

// Diag returns the diagonal of a square matrix.
func Diag(a *mat.Dense) []float64 {
	if Cols(a) == 0 {
		return nil
	}
	r, c := a.Dims()
	d := make([]float64, min(r, c))
	for i := range d {
		d[i] = a.At(i, i)
	}
	return d
}

// Trace returns the trace of a, zero for nil.
func Trace(a *mat.Dense) float64 {
	return floats.Sum(Diag(a))
}

// Sub returns a - b.
func Sub(a, b *mat.Dense) *mat.Dense {
	if Cols(a) == 0 {
		return nil
	}
	var d mat.Dense
	d.Sub(a, b)
	return &d
}

// MaxAbs returns the largest absolute entry of a.
func MaxAbs(a mat.Matrix) float64 {
	if isEmpty(a) {
		return 0
	}
	r, c := a.Dims()
	var m float64
	for i := range r {
		for j := range c {
			m = max(m, math.Abs(a.At(i, j)))
		}
	}
	return m
}

// AllClose reports whether a and b agree elementwise within atol.
func AllClose(a, b mat.Matrix, atol float64) bool {
	if isEmpty(a) || isEmpty(b) {
		return isEmpty(a) && isEmpty(b)
	}
	ar, ac := a.Dims()
	br, bc := b.Dims()
	if ar != br || ac != bc {
		return false
	}
	for i := range ar {
		for j := range ac {
			if math.Abs(a.At(i, j)-b.At(i, j)) > atol {
				return false
			}
		}
	}
	return true
}

// Symmetrize returns (a + a^T) / 2 as a symmetric matrix.
func Symmetrize(a mat.Matrix) *mat.SymDense {
	n, c := a.Dims()
	if n != c {
		panic(fmt.Sprintf("not square %d %d", n, c))
	}
	s := mat.NewSymDense(n, nil)
	for i := range n {
		for j := i; j < n; j++ {
			s.SetSym(i, j, (a.At(i, j)+a.At(j, i))/2)
		}
	}
	return s
}

// Eigh diagonalizes the symmetric part of a, returning eigenvalues in ascending order and eigenvectors as columns.
func Eigh(a mat.Matrix) ([]float64, *mat.Dense, error) {
	if isEmpty(a) {
		return nil, nil, nil
	}
	var eig mat.EigenSym
	if ok := eig.Factorize(Symmetrize(a), true); !ok {
		return nil, nil, errors.Errorf("eigen decomposition failed")
	}
	vals := eig.Values(nil)
	vecs := mat.NewDense(len(vals), len(vals), nil)
	eig.VectorsTo(vecs)
	return vals, vecs, nil
}

// Reverse reverses eigenvalues and the corresponding eigenvector columns in place.
func Reverse(vals []float64, vecs *mat.Dense) {
	slices.Reverse(vals)
	if Cols(vecs) == 0 {
		return
	}
	r, c := vecs.Dims()
	for i := range r {
		slices.Reverse(vecs.RawRowView(i)[:c])
	}
}

// FractionalPower returns the matrix power s^p of a symmetric positive definite matrix.
func FractionalPower(s mat.Matrix, p float64) (*mat.Dense, error) {
	vals, vecs, err := Eigh(s)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	for i, v := range vals {
		if v <= 0 {
			return nil, errors.Errorf("not positive definite, eigenvalue %d is %g", i, v)
		}
	}
	n := len(vals)
	scaled := mat.NewDense(n, n, nil)
	for j, v := range vals {
		f := math.Pow(v, p)
		for i := range n {
			scaled.Set(i, j, vecs.At(i, j)*f)
		}
	}
	var out mat.Dense
	out.Mul(scaled, vecs.T())
	return &out, nil
}

// Outer returns the outer product of columns i of a and b, a[:,i] b[:,i]^T summed over i.
func Outer(a, b *mat.Dense) *mat.Dense {
	if Cols(a) == 0 {
		return nil
	}
	var o mat.Dense
	o.Mul(a, b.T())
	return &o
}

// Norm returns the Frobenius norm, zero for nil.
func Norm(a *mat.Dense) float64 {
	if Cols(a) == 0 {
		return 0
	}
	return mat.Norm(a, 2)
}

// Clone returns a copy of a, nil for nil.
func Clone(a *mat.Dense) *mat.Dense {
	if Cols(a) == 0 {
		return nil
	}
	return mat.DenseCopyOf(a)
}

// Format formats a matrix for log messages.
func Format(a mat.Matrix) string {
	if isEmpty(a) {
		return "[]"
	}
	return fmt.Sprintf("%.6g", mat.Formatted(a, mat.Squeeze()))
}
