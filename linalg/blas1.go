// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package linalg

import "math"

// The kernels below are unit-stride vector primitives that mutate in place,
// avoiding the allocation that a gonum/floats call of the same shape would
// otherwise require. The kktsolve, newton and solver packages call
// NaNToZero, NormInf and Scal from their per-iteration code.

// Axpy computes y += a*x, panicking on a length mismatch.
func Axpy(a float64, x, y []float64) {
	if len(x) != len(y) {
		panic("linalg: Axpy length mismatch")
	}
	if a == 0 {
		return
	}
	for i, xi := range x {
		y[i] += a * xi
	}
}

// Scal computes x *= a in place.
func Scal(a float64, x []float64) {
	for i := range x {
		x[i] *= a
	}
}

// Dot returns the inner product of x and y.
func Dot(x, y []float64) float64 {
	if len(x) != len(y) {
		panic("linalg: Dot length mismatch")
	}
	var s float64
	for i, xi := range x {
		s += xi * y[i]
	}
	return s
}

// Nrm2 returns the Euclidean norm of x, scaled to avoid premature overflow.
func Nrm2(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	if len(x) == 1 {
		return math.Abs(x[0])
	}
	scale, ssq := 0.0, 1.0
	for _, xi := range x {
		a := math.Abs(xi)
		if a == 0 {
			continue
		}
		if scale < a {
			r := scale / a
			ssq = 1 + ssq*r*r
			scale = a
		} else {
			r := a / scale
			ssq += r * r
		}
	}
	return scale * math.Sqrt(ssq)
}

// NormInf returns the infinity norm (max absolute component) of x.
func NormInf(x []float64) float64 {
	var m float64
	for _, xi := range x {
		if a := math.Abs(xi); a > m {
			m = a
		}
	}
	return m
}

// Fill sets every element of x to v.
func Fill(x []float64, v float64) {
	for i := range x {
		x[i] = v
	}
}

// CopyInto copies src into dst, panicking on a length mismatch.
func CopyInto(dst, src []float64) {
	if len(dst) != len(src) {
		panic("linalg: CopyInto length mismatch")
	}
	copy(dst, src)
}

// Swap exchanges the contents of x and y in place.
func Swap(x, y []float64) {
	if len(x) != len(y) {
		panic("linalg: Swap length mismatch")
	}
	for i := range x {
		x[i], y[i] = y[i], x[i]
	}
}

// NaNToZero replaces NaN entries of x with 0, in place, implementing the
// NaN-sentinel-to-zero projection rule for rank-deficient solves.
func NaNToZero(x []float64) {
	for i, v := range x {
		if math.IsNaN(v) {
			x[i] = 0
		}
	}
}
