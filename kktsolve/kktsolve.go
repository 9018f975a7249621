// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package kktsolve assembles the canonical-form KKT (saddle-point) matrix
// from the objective Hessian and constraint Jacobian blocks and solves it
// for the Newton direction via one of three interchangeable methods.
package kktsolve

import (
	"gonum.org/v1/gonum/mat"

	"github.com/riverstone-labs/saddlepoint/corefail"
	"github.com/riverstone-labs/saddlepoint/echelon"
	"github.com/riverstone-labs/saddlepoint/linalg"
)

// Method selects which saddle-point solution strategy Decompose uses.
type Method int

const (
	Fullspace Method = iota
	Rangespace
	Nullspace
)

// Hessian models a tagged diagonal/dense representation: downstream logic
// branches on which field is set, and Rangespace exploits the Diag variant
// with a dedicated fast path.
type Hessian struct {
	// Dense is the full N×N Hessian; nil when the Hessian is diagonal.
	Dense *mat.Dense
	// Diag is the length-N diagonal; used only when Dense is nil.
	Diag []float64
}

// IsDiagonal reports whether the Hessian was supplied in diagonal form.
func (h Hessian) IsDiagonal() bool { return h.Dense == nil }

// Dim returns N, the Hessian's dimension.
func (h Hessian) Dim() int {
	if h.IsDiagonal() {
		return len(h.Diag)
	}
	r, _ := h.Dense.Dims()
	return r
}

// MulVec returns H*v, taking the diagonal fast path when h is diagonal.
func (h Hessian) MulVec(v []float64) []float64 {
	n := h.Dim()
	out := make([]float64, n)
	if h.IsDiagonal() {
		for i := 0; i < n; i++ {
			out[i] = h.Diag[i] * v[i]
		}
		return out
	}
	for i := 0; i < n; i++ {
		var s float64
		for j := 0; j < n; j++ {
			s += h.Dense.At(i, j) * v[j]
		}
		out[i] = s
	}
	return out
}

func (h Hessian) at(i, j int) float64 {
	if h.IsDiagonal() {
		if i == j {
			return h.Diag[i]
		}
		return 0
	}
	return h.Dense.At(i, j)
}

// CanonicalMatrix is the decomposition input: the Hessian block, the
// stacked constraint Jacobian W = [Ax Ap; Jx Jp] (m×N, N = nx+np), the
// dimension split, and the x-indices that are fixed to a zero Newton step
// this iteration (the strictly/lower/upper-unstable set from the stability
// package). Fullspace and Rangespace apply Unstable; Nullspace ignores it
// and solves with every variable free. The nonlinear rows of W may themselves be the concatenation of
// more than one nonlinear constraint kind (an x-governing h(x,p) = 0 block
// stacked with a p-governing v(x,p) = 0 block); the caller assembles that
// concatenation before Decompose ever sees it — kktsolve only sees the
// combined row count m and is agnostic to the split.
type CanonicalMatrix struct {
	H        Hessian
	W        *mat.Dense
	Nx, Np   int
	Unstable []int
}

func (c CanonicalMatrix) n() int { return c.Nx + c.Np }

// ResidualVector is the right-hand side of the canonical KKT system:
// Top = -(fx + Wᵀy) (length N), Bottom = -(Wx - b) (length m).
type ResidualVector struct {
	Top    []float64
	Bottom []float64
}

// Direction is the Newton direction produced by Solve: Dx/Dp partition the
// top block by (nx, np), Dy is the multiplier update (length m).
type Direction struct {
	Dx, Dp, Dy []float64
}

// Solver holds the factorization produced by Decompose and reused by every
// subsequent Solve call (and by the sensitivities computation in the
// newton package) until the next Decompose.
type Solver struct {
	method Method
	nx, np, m int

	full fullspaceState
	rng  rangespaceState
	null nullspaceState
}

// NewSolver returns a Solver configured to use the given method.
func NewSolver(method Method) *Solver {
	return &Solver{method: method}
}

// Method reports the configured solution strategy.
func (s *Solver) Method() Method { return s.method }

// Decompose factorizes the canonical KKT matrix built from cm. ech is
// required (non-nil) only for Method == Nullspace, which exploits the
// echelon form directly; other methods ignore it.
func (s *Solver) Decompose(cm CanonicalMatrix, ech *echelon.Echelonizer) error {
	n := cm.n()
	m, _ := cm.W.Dims()
	if cm.H.Dim() != n {
		return corefail.New(corefail.DimMismatch, "hessian dimension %d does not match nx+np=%d", cm.H.Dim(), n)
	}
	if wr, wc := cm.W.Dims(); wr != m || wc != n {
		return corefail.New(corefail.DimMismatch, "W has shape (%d,%d), want (%d,%d)", wr, wc, m, n)
	}
	s.nx, s.np, s.m = cm.Nx, cm.Np, m

	switch s.method {
	case Fullspace:
		return s.decomposeFullspace(cm)
	case Rangespace:
		return s.decomposeRangespace(cm)
	case Nullspace:
		if ech == nil {
			return corefail.New(corefail.DimMismatch, "nullspace method requires an echelon form")
		}
		return s.decomposeNullspace(cm, ech)
	default:
		return corefail.New(corefail.DimMismatch, "unknown kkt method %d", s.method)
	}
}

// Solve produces the Newton direction for the given residual, using the
// factorization computed by the last Decompose call.
func (s *Solver) Solve(rv ResidualVector) (Direction, error) {
	n := s.nx + s.np
	if len(rv.Top) != n {
		return Direction{}, corefail.New(corefail.DimMismatch, "residual top has length %d, want %d", len(rv.Top), n)
	}
	if len(rv.Bottom) != s.m {
		return Direction{}, corefail.New(corefail.DimMismatch, "residual bottom has length %d, want %d", len(rv.Bottom), s.m)
	}

	var dx, dp, dy []float64
	switch s.method {
	case Fullspace:
		dx, dp, dy = s.solveFullspace(rv)
	case Rangespace:
		dx, dp, dy = s.solveRangespace(rv)
	case Nullspace:
		dx, dp, dy = s.solveNullspace(rv)
	}
	linalg.NaNToZero(dx)
	linalg.NaNToZero(dp)
	linalg.NaNToZero(dy)
	return Direction{Dx: dx, Dp: dp, Dy: dy}, nil
}

func isUnstable(unstable []int, n int) []bool {
	mask := make([]bool, n)
	for _, i := range unstable {
		mask[i] = true
	}
	return mask
}
