package linalg

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

type vRowCol struct {
	v   float64
	row int
	col int
}

// COO is a sparse matrix in coordinate format.
// Elements are accumulated with AddAt and kept in row major order by Compress.
type COO struct {
	rows int
	cols int
	Data []vRowCol

	m map[[2]int]int
}

// COOZeros returns an empty rows by cols sparse matrix.
func COOZeros(rows, cols int) *COO {
	return &COO{rows: rows, cols: cols, Data: make([]vRowCol, 0), m: make(map[[2]int]int)}
}

// NumNonZero returns the number of stored elements.
func (m *COO) NumNonZero() int { return len(m.Data) }

// AddAt adds v to the element at (i, j).
func (m *COO) AddAt(i, j int, v float64) {
	if v == 0 {
		return
	}
	if i < 0 || i >= m.rows || j < 0 || j >= m.cols {
		panic(fmt.Sprintf("index (%d, %d) out of %dx%d", i, j, m.rows, m.cols))
	}
	yx := [2]int{i, j}
	if k, ok := m.m[yx]; ok {
		m.Data[k].v += v
		return
	}
	m.m[yx] = len(m.Data)
	m.Data = append(m.Data, vRowCol{v: v, row: i, col: j})
}

// Compress sorts the elements in row major order and drops those with magnitude not above tol.
func (m *COO) Compress(tol ...float64) {
	var t float64
	if len(tol) > 0 {
		t = tol[0]
	}
	m.Data = slices.DeleteFunc(m.Data, func(v vRowCol) bool {
		return v.v <= t && v.v >= -t
	})
	slices.SortFunc(m.Data, rowMajor)
	clear(m.m)
	for k, v := range m.Data {
		m.m[[2]int{v.row, v.col}] = k
	}
}

// At returns the element at (i, j).
func (m *COO) At(i, j int) float64 {
	k, ok := m.m[[2]int{i, j}]
	if !ok {
		return 0
	}
	return m.Data[k].v
}

// MulVec returns m x.
func (m *COO) MulVec(x []float64) []float64 {
	if len(x) != m.cols {
		panic(fmt.Sprintf("%d %d", len(x), m.cols))
	}
	y := make([]float64, m.rows)
	for _, v := range m.Data {
		y[v.row] += v.v * x[v.col]
	}
	return y
}

// Dense returns the dense form of m.
func (m *COO) Dense() *mat.Dense {
	d := mat.NewDense(m.rows, m.cols, nil)
	for _, v := range m.Data {
		d.Set(v.row, v.col, d.At(v.row, v.col)+v.v)
	}
	return d
}

// IsSymmetric reports whether m equals its transpose within tol.
func (m *COO) IsSymmetric(tol float64) bool {
	if m.rows != m.cols {
		return false
	}
	for _, v := range m.Data {
		d := v.v - m.At(v.col, v.row)
		if d > tol || d < -tol {
			return false
		}
	}
	return true
}

// ValVec is an eigenpair.
type ValVec struct {
	Val float64
	Vec []float64
}

// EigenSym diagonalizes a symmetric sparse matrix, returning eigenpairs sorted by value.
func (m *COO) EigenSym() ([]ValVec, error) {
	if m.rows != m.cols {
		return nil, errors.Errorf("not square %dx%d", m.rows, m.cols)
	}
	if !m.IsSymmetric(1e-10) {
		return nil, errors.Errorf("not symmetric")
	}

	var eig mat.EigenSym
	if ok := eig.Factorize(Symmetrize(m.Dense()), true); !ok {
		return nil, errors.Errorf("eig.Factorize failed")
	}
	vals := eig.Values(nil)
	vecs := mat.NewDense(m.rows, m.cols, nil)
	eig.VectorsTo(vecs)

	vvs := make([]ValVec, 0, len(vals))
	for i, v := range vals {
		vvs = append(vvs, ValVec{Val: v, Vec: mat.Col(nil, i, vecs)})
	}
	slices.SortStableFunc(vvs, func(a, b ValVec) int { return cmp.Compare(a.Val, b.Val) })
	return vvs, nil
}

func rowMajor(a, b vRowCol) int {
	if c := cmp.Compare(a.row, b.row); c != 0 {
		return c
	}
	return cmp.Compare(a.col, b.col)
}
