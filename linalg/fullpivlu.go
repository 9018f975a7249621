// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package linalg

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Eps is the machine epsilon used throughout the core for rank and
// round-off thresholds, computed directly rather than importing
// math.Nextafter at every call site.
const Eps = float64(7)/3 - float64(4)/3 - 1.

// FullPivLU is a full-pivoting LU decomposition with rank detection, used
// by the echelon package: at each elimination step the pivot is chosen as
// the largest-magnitude entry over the *entire* remaining submatrix (not
// just the current column), which is what makes the resulting rank
// estimate robust to column scaling.
type FullPivLU struct {
	m, n int
	lu   *mat.Dense // combined L (unit lower, implicit diag) / U factors, in permuted order
	rows Permutation
	cols Permutation
	rank int
	maxP float64
}

// Compute factors a into an internal full-pivoting LU; a is not mutated.
func (f *FullPivLU) Compute(a mat.Matrix) {
	m, n := a.Dims()
	f.m, f.n = m, n
	f.lu = mat.NewDense(m, n, nil)
	f.lu.Copy(a)
	f.rows = NewIdentity(m)
	f.cols = NewIdentity(n)

	k := min(m, n)
	f.maxP = 0
	f.rank = 0

	for s := 0; s < k; s++ {
		pr, pc, pv := s, s, 0.0
		for i := s; i < m; i++ {
			for j := s; j < n; j++ {
				if v := math.Abs(f.lu.At(i, j)); v > pv {
					pv, pr, pc = v, i, j
				}
			}
		}
		if s == 0 {
			f.maxP = pv
		}

		threshold := f.maxP * Eps * float64(max(m, n))
		if f.maxP < 10*Eps {
			threshold = 10 * Eps
		}
		if pv <= threshold {
			break
		}
		f.rank++

		if pr != s {
			swapDenseRows(f.lu, pr, s)
			f.rows.Swap(pr, s)
		}
		if pc != s {
			swapDenseCols(f.lu, pc, s)
			f.cols.Swap(pc, s)
		}

		pivot := f.lu.At(s, s)
		for i := s + 1; i < m; i++ {
			factor := f.lu.At(i, s) / pivot
			f.lu.Set(i, s, factor)
			for j := s + 1; j < n; j++ {
				f.lu.Set(i, j, f.lu.At(i, j)-factor*f.lu.At(s, j))
			}
		}
	}
}

// Rank returns the numerically detected rank.
func (f *FullPivLU) Rank() int { return f.rank }

// MaxPivot returns the magnitude of the first (largest) pivot encountered.
func (f *FullPivLU) MaxPivot() float64 { return f.maxP }

// RowPermutation returns the row permutation P such that P*A puts the
// chosen pivots on the diagonal, in decomposition order.
func (f *FullPivLU) RowPermutation() Permutation { return f.rows }

// ColPermutation returns the analogous column permutation Q.
func (f *FullPivLU) ColPermutation() Permutation { return f.cols }

// Ubb returns the r×r upper-triangular block of U restricted to the basic
// (first r) columns, used by the echelon package to build R = Ubb⁻¹·L⁻¹·P.
func (f *FullPivLU) Ubb() *mat.Dense {
	r := f.rank
	out := mat.NewDense(r, r, nil)
	for i := 0; i < r; i++ {
		for j := i; j < r; j++ {
			out.Set(i, j, f.lu.At(i, j))
		}
	}
	return out
}

// Ubn returns the r×(n-r) block of U spanning the non-basic columns.
func (f *FullPivLU) Ubn() *mat.Dense {
	r, n := f.rank, f.n
	out := mat.NewDense(r, n-r, nil)
	for i := 0; i < r; i++ {
		for j := r; j < n; j++ {
			out.Set(i, j-r, f.lu.At(i, j))
		}
	}
	return out
}

// Lbb returns the r×r unit-lower-triangular block of L restricted to the
// first r rows/columns in decomposition order.
func (f *FullPivLU) Lbb() *mat.Dense {
	r := f.rank
	out := mat.NewDense(r, r, nil)
	for i := 0; i < r; i++ {
		out.Set(i, i, 1)
		for j := 0; j < i; j++ {
			out.Set(i, j, f.lu.At(i, j))
		}
	}
	return out
}

// Solve returns a particular solution of a*x = b for the square matrix a
// last passed to Compute. When a is rank-deficient (rank r < n), the n-r
// components of x in the null-space directions (the non-pivot columns) are
// set to zero rather than left undetermined: fixing the free directions at
// zero is the particular solution every rank-deficient KKT solve in this
// module settles on, without ever materializing a NaN along the way.
func (f *FullPivLU) Solve(b []float64) []float64 {
	n := f.n
	if f.m != n {
		panic("linalg: Solve requires a square matrix")
	}
	if len(b) != n {
		panic("linalg: Solve length mismatch")
	}

	z := make([]float64, n)
	for i := 0; i < n; i++ {
		z[i] = b[f.rows.At(i)]
		lim := min(i, f.rank)
		for s := 0; s < lim; s++ {
			z[i] -= f.lu.At(i, s) * z[s]
		}
	}

	xp := make([]float64, n)
	for i := f.rank - 1; i >= 0; i-- {
		v := z[i]
		for j := i + 1; j < f.rank; j++ {
			v -= f.lu.At(i, j) * xp[j]
		}
		xp[i] = v / f.lu.At(i, i)
	}

	x := make([]float64, n)
	for i := 0; i < f.rank; i++ {
		x[f.cols.At(i)] = xp[i]
	}
	return x
}

func swapDenseRows(d *mat.Dense, i, j int) {
	if i == j {
		return
	}
	_, n := d.Dims()
	for c := 0; c < n; c++ {
		vi, vj := d.At(i, c), d.At(j, c)
		d.Set(i, c, vj)
		d.Set(j, c, vi)
	}
}

func swapDenseCols(d *mat.Dense, i, j int) {
	if i == j {
		return
	}
	m, _ := d.Dims()
	for r := 0; r < m; r++ {
		vi, vj := d.At(r, i), d.At(r, j)
		d.Set(r, i, vj)
		d.Set(r, j, vi)
	}
}
