package linalg

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// LinearSumAssignment solves the rectangular assignment problem of minimal total cost.
// It returns, for every row of cost, the assigned column, or -1 when there are more rows than columns and the row is left out.
func LinearSumAssignment(cost mat.Matrix) []int {
	n, m := cost.Dims()
	if n == 0 || m == 0 {
		return make([]int, n)
	}
	if n > m {
		colOfRow := make([]int, n)
		for i := range colOfRow {
			colOfRow[i] = -1
		}
		for j, i := range LinearSumAssignment(cost.T()) {
			colOfRow[i] = j
		}
		return colOfRow
	}

	// Shortest augmenting path with potentials, one based indices with 0 as the virtual column.
	inf := math.Inf(1)
	u := make([]float64, n+1)
	v := make([]float64, m+1)
	p := make([]int, m+1)
	way := make([]int, m+1)
	for i := 1; i <= n; i++ {
		p[0] = i
		j0 := 0
		minv := make([]float64, m+1)
		for j := range minv {
			minv[j] = inf
		}
		used := make([]bool, m+1)
		for {
			used[j0] = true
			i0, delta, j1 := p[j0], inf, 0
			for j := 1; j <= m; j++ {
				if used[j] {
					continue
				}
				cur := cost.At(i0-1, j-1) - u[i0] - v[j]
				if cur < minv[j] {
					minv[j] = cur
					way[j] = j0
				}
				if minv[j] < delta {
					delta = minv[j]
					j1 = j
				}
			}
			for j := 0; j <= m; j++ {
				if used[j] {
					u[p[j]] += delta
					v[j] -= delta
				} else {
					minv[j] -= delta
				}
			}
			j0 = j1
			if p[j0] == 0 {
				break
			}
		}
		for j0 != 0 {
			j1 := way[j0]
			p[j0] = p[j1]
			j0 = j1
		}
	}

	colOfRow := make([]int, n)
	for j := 1; j <= m; j++ {
		if p[j] != 0 {
			colOfRow[p[j]-1] = j - 1
		}
	}
	return colOfRow
}

// MaxOverlapOrder returns the column permutation of b that maximizes the absolute overlap with the columns of a.
// The overlap matrix is ovlp[i,j] = |a_i . b_j|; order[i] is the column of b matched to column i of a.
// Columns of b that are not matched follow in their original order.
func MaxOverlapOrder(ovlp *mat.Dense) []int {
	na, nb := ovlp.Dims()
	cost := mat.NewDense(na, nb, nil)
	for i := range na {
		for j := range nb {
			cost.Set(i, j, -math.Abs(ovlp.At(i, j)))
		}
	}
	assigned := LinearSumAssignment(cost)

	order := make([]int, 0, nb)
	taken := make([]bool, nb)
	for _, j := range assigned {
		if j < 0 {
			continue
		}
		order = append(order, j)
		taken[j] = true
	}
	for j := range nb {
		if !taken[j] {
			order = append(order, j)
		}
	}
	return order
}
