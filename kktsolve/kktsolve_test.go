// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kktsolve

import (
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/riverstone-labs/saddlepoint/echelon"
)

func checkKKTResidual(t *testing.T, cm CanonicalMatrix, rv ResidualVector, dir Direction, tol float64) {
	t.Helper()
	n, m := cm.n(), len(rv.Bottom)
	x := append(append([]float64{}, dir.Dx...), dir.Dp...)

	hx := make([]float64, n)
	for i := 0; i < n; i++ {
		var s float64
		for j := 0; j < n; j++ {
			s += cm.H.at(i, j) * x[j]
		}
		hx[i] = s
	}
	wty := make([]float64, n)
	for j := 0; j < n; j++ {
		var s float64
		for i := 0; i < m; i++ {
			s += cm.W.At(i, j) * dir.Dy[i]
		}
		wty[j] = s
	}
	for i := 0; i < n; i++ {
		if d := math.Abs(hx[i] + wty[i] - rv.Top[i]); d > tol {
			t.Fatalf("row1 residual too large at %d: %e", i, d)
		}
	}

	wx := make([]float64, m)
	for i := 0; i < m; i++ {
		var s float64
		for j := 0; j < n; j++ {
			s += cm.W.At(i, j) * x[j]
		}
		wx[i] = s
	}
	for i := 0; i < m; i++ {
		if d := math.Abs(wx[i] - rv.Bottom[i]); d > tol {
			t.Fatalf("row2 residual too large at %d: %e", i, d)
		}
	}
}

func TestFullspaceRangespaceAgreeOnFullRankDiagonalSystem(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	n, m := 6, 3

	diag := make([]float64, n)
	for i := range diag {
		diag[i] = 1 + rng.Float64()*10
	}
	w := mat.NewDense(m, n, nil)
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			w.Set(i, j, rng.NormFloat64())
		}
	}
	rv := ResidualVector{Top: make([]float64, n), Bottom: make([]float64, m)}
	for i := range rv.Top {
		rv.Top[i] = rng.NormFloat64()
	}
	for i := range rv.Bottom {
		rv.Bottom[i] = rng.NormFloat64()
	}

	cm := CanonicalMatrix{H: Hessian{Diag: diag}, W: w, Nx: n, Np: 0}

	full := NewSolver(Fullspace)
	if err := full.Decompose(cm, nil); err != nil {
		t.Fatalf("fullspace decompose: %v", err)
	}
	dirFull, err := full.Solve(rv)
	if err != nil {
		t.Fatalf("fullspace solve: %v", err)
	}
	checkKKTResidual(t, cm, rv, dirFull, 1e-8)

	rs := NewSolver(Rangespace)
	if err := rs.Decompose(cm, nil); err != nil {
		t.Fatalf("rangespace decompose: %v", err)
	}
	dirRange, err := rs.Solve(rv)
	if err != nil {
		t.Fatalf("rangespace solve: %v", err)
	}
	checkKKTResidual(t, cm, rv, dirRange, 1e-8)

	for i := range dirFull.Dx {
		if d := math.Abs(dirFull.Dx[i] - dirRange.Dx[i]); d > 1e-7 {
			t.Fatalf("Dx[%d] mismatch fullspace=%v rangespace=%v", i, dirFull.Dx[i], dirRange.Dx[i])
		}
	}
	for i := range dirFull.Dy {
		if d := math.Abs(dirFull.Dy[i] - dirRange.Dy[i]); d > 1e-7 {
			t.Fatalf("Dy[%d] mismatch fullspace=%v rangespace=%v", i, dirFull.Dy[i], dirRange.Dy[i])
		}
	}
}

func TestNullspaceAgreesWithFullspace(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	n, m := 6, 3

	diag := make([]float64, n)
	for i := range diag {
		diag[i] = 1 + rng.Float64()*5
	}
	w := mat.NewDense(m, n, nil)
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			w.Set(i, j, rng.NormFloat64())
		}
	}
	rv := ResidualVector{Top: make([]float64, n), Bottom: make([]float64, m)}
	for i := range rv.Top {
		rv.Top[i] = rng.NormFloat64()
	}
	for i := range rv.Bottom {
		rv.Bottom[i] = rng.NormFloat64()
	}

	cm := CanonicalMatrix{H: Hessian{Diag: diag}, W: w, Nx: n, Np: 0}

	var ech echelon.Echelonizer
	ech.Compute(w)

	full := NewSolver(Fullspace)
	full.Decompose(cm, nil)
	dirFull, _ := full.Solve(rv)

	null := NewSolver(Nullspace)
	if err := null.Decompose(cm, &ech); err != nil {
		t.Fatalf("nullspace decompose: %v", err)
	}
	dirNull, err := null.Solve(rv)
	if err != nil {
		t.Fatalf("nullspace solve: %v", err)
	}
	checkKKTResidual(t, cm, rv, dirNull, 1e-6)

	for i := range dirFull.Dx {
		if d := math.Abs(dirFull.Dx[i] - dirNull.Dx[i]); d > 1e-6 {
			t.Fatalf("Dx[%d] mismatch fullspace=%v nullspace=%v", i, dirFull.Dx[i], dirNull.Dx[i])
		}
	}
}

func TestFullspaceFixesUnstableVariablesToZeroStep(t *testing.T) {
	n, m := 4, 1
	w := mat.NewDense(m, n, []float64{1, 1, 1, 1})
	cm := CanonicalMatrix{
		H:        Hessian{Diag: []float64{2, 2, 2, 2}},
		W:        w,
		Nx:       n,
		Unstable: []int{1, 3},
	}
	rv := ResidualVector{Top: []float64{1, 1, 1, 1}, Bottom: []float64{2}}

	s := NewSolver(Fullspace)
	if err := s.Decompose(cm, nil); err != nil {
		t.Fatalf("decompose: %v", err)
	}
	dir, err := s.Solve(rv)
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	if dir.Dx[1] != 0 || dir.Dx[3] != 0 {
		t.Fatalf("expected unstable components pinned to zero step, got %v", dir.Dx)
	}
}

func TestFullspaceRankDeficientProducesFiniteStep(t *testing.T) {
	n, m := 4, 3
	w := mat.NewDense(m, n, []float64{
		1, 0, 1, 0,
		0, 1, 0, 1,
		1, 1, 1, 1, // redundant row
	})
	cm := CanonicalMatrix{H: Hessian{Diag: []float64{1, 1, 1, 1}}, W: w, Nx: n}
	rv := ResidualVector{Top: []float64{0, 0, 0, 0}, Bottom: []float64{1, 1, 2}}

	s := NewSolver(Fullspace)
	if err := s.Decompose(cm, nil); err != nil {
		t.Fatalf("decompose: %v", err)
	}
	dir, err := s.Solve(rv)
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	for i, v := range dir.Dx {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Fatalf("Dx[%d] is not finite: %v", i, v)
		}
	}
}
