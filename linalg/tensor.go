package linalg

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Tensor4 is a dense row-major four index tensor.
// Doubles amplitudes T2[i,j,a,b] and two-electron integrals (pq|rs) are stored this way.
type Tensor4 struct {
	Shape [4]int
	Data  []float64
}

// NewTensor4 returns a zero tensor of the given shape.
func NewTensor4(n0, n1, n2, n3 int) *Tensor4 {
	return &Tensor4{Shape: [4]int{n0, n1, n2, n3}, Data: make([]float64, n0*n1*n2*n3)}
}

func (t *Tensor4) index(i, j, k, l int) int {
	return ((i*t.Shape[1]+j)*t.Shape[2]+k)*t.Shape[3] + l
}

// At returns t[i,j,k,l].
func (t *Tensor4) At(i, j, k, l int) float64 { return t.Data[t.index(i, j, k, l)] }

// Set sets t[i,j,k,l].
func (t *Tensor4) Set(i, j, k, l int, v float64) { t.Data[t.index(i, j, k, l)] = v }

// Inc adds v to t[i,j,k,l].
func (t *Tensor4) Inc(i, j, k, l int, v float64) { t.Data[t.index(i, j, k, l)] += v }

// Len returns the number of elements.
func (t *Tensor4) Len() int { return len(t.Data) }

// Clone returns a deep copy.
func (t *Tensor4) Clone() *Tensor4 {
	if t == nil {
		return nil
	}
	c := &Tensor4{Shape: t.Shape, Data: make([]float64, len(t.Data))}
	copy(c.Data, t.Data)
	return c
}

// Scale multiplies every element by f in place.
func (t *Tensor4) Scale(f float64) *Tensor4 {
	floats.Scale(f, t.Data)
	return t
}

// AddScaled adds alpha*b to t in place.
func (t *Tensor4) AddScaled(alpha float64, b *Tensor4) *Tensor4 {
	if t.Shape != b.Shape {
		panic(fmt.Sprintf("shape mismatch %v %v", t.Shape, b.Shape))
	}
	floats.AddScaled(t.Data, alpha, b.Data)
	return t
}

// Sub returns t - b.
func (t *Tensor4) Sub(b *Tensor4) *Tensor4 {
	return t.Clone().AddScaled(-1, b)
}

// Norm returns the Frobenius norm.
func (t *Tensor4) Norm() float64 {
	if t == nil || len(t.Data) == 0 {
		return 0
	}
	return floats.Norm(t.Data, 2)
}

// Dot returns the full contraction sum t[ijkl] b[ijkl].
func (t *Tensor4) Dot(b *Tensor4) float64 {
	if t.Shape != b.Shape {
		panic(fmt.Sprintf("shape mismatch %v %v", t.Shape, b.Shape))
	}
	return floats.Dot(t.Data, b.Data)
}

// MaxAbsDiff returns the largest absolute elementwise difference.
func (t *Tensor4) MaxAbsDiff(b *Tensor4) float64 {
	if t.Shape != b.Shape {
		return math.Inf(1)
	}
	var m float64
	for i, v := range t.Data {
		m = max(m, math.Abs(v-b.Data[i]))
	}
	return m
}

// Transpose returns the tensor with axes permuted, out[idx[perm[0]],...] semantics as numpy's transpose.
func (t *Tensor4) Transpose(perm [4]int) *Tensor4 {
	var shape [4]int
	for a, p := range perm {
		shape[a] = t.Shape[p]
	}
	out := NewTensor4(shape[0], shape[1], shape[2], shape[3])
	var src [4]int
	for i := range shape[0] {
		src[perm[0]] = i
		for j := range shape[1] {
			src[perm[1]] = j
			for k := range shape[2] {
				src[perm[2]] = k
				for l := range shape[3] {
					src[perm[3]] = l
					out.Set(i, j, k, l, t.At(src[0], src[1], src[2], src[3]))
				}
			}
		}
	}
	return out
}

// ContractAxis returns the tensor with axis replaced by m contracted on it,
// out[..., x, ...] = sum_i m[x,i] t[..., i, ...].
// An empty m yields a tensor with a zero length axis.
func (t *Tensor4) ContractAxis(axis int, m *mat.Dense) *Tensor4 {
	nx := Rows(m)
	shape := t.Shape
	shape[axis] = nx
	out := NewTensor4(shape[0], shape[1], shape[2], shape[3])
	if nx == 0 || t.Len() == 0 {
		return out
	}
	if _, c := m.Dims(); c != t.Shape[axis] {
		panic(fmt.Sprintf("axis %d dimension %d, matrix columns %d", axis, t.Shape[axis], c))
	}

	var dst, src [4]int
	for i := range t.Shape[0] {
		src[0] = i
		for j := range t.Shape[1] {
			src[1] = j
			for k := range t.Shape[2] {
				src[2] = k
				for l := range t.Shape[3] {
					src[3] = l
					v := t.At(i, j, k, l)
					if v == 0 {
						continue
					}
					dst = src
					for x := range nx {
						dst[axis] = x
						out.Inc(dst[0], dst[1], dst[2], dst[3], m.At(x, src[axis])*v)
					}
				}
			}
		}
	}
	return out
}

// Transform contracts every axis with its matrix,
// out[x,y,z,w] = sum m0[x,i] m1[y,j] m2[z,k] m3[w,l] t[i,j,k,l].
func (t *Tensor4) Transform(m0, m1, m2, m3 *mat.Dense) *Tensor4 {
	out := t
	for axis, m := range [4]*mat.Dense{m0, m1, m2, m3} {
		out = out.ContractAxis(axis, m)
	}
	return out
}

// OuterT1 returns out[i,j,a,b] = a[i,a] b[j,b].
func OuterT1(a, b *mat.Dense) *Tensor4 {
	no, nv := Rows(a), Cols(a)
	out := NewTensor4(no, Rows(b), nv, Cols(b))
	for i := range no {
		for j := range out.Shape[1] {
			for x := range nv {
				aix := a.At(i, x)
				if aix == 0 {
					continue
				}
				for y := range out.Shape[3] {
					out.Set(i, j, x, y, aix*b.At(j, y))
				}
			}
		}
	}
	return out
}
