// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package newton orchestrates one Newton step on the KKT system: installing
// the current Jacobian into the echelon form, classifying variable
// stability, decomposing and solving the canonical saddle-point system, and
// applying the resulting step under the aggressive or conservative
// stepping discipline.
package newton

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/riverstone-labs/saddlepoint/corefail"
	"github.com/riverstone-labs/saddlepoint/echelon"
	"github.com/riverstone-labs/saddlepoint/kktsolve"
	"github.com/riverstone-labs/saddlepoint/linalg"
	"github.com/riverstone-labs/saddlepoint/stability"
)

// StepMode selects how a Newton direction is applied to the current point.
type StepMode int

const (
	// Aggressive permits the unaffected components of a Newton step to go
	// through unclipped; only the components that would violate a bound
	// are pulled back, by the fraction-to-boundary discipline.
	Aggressive StepMode = iota
	// Conservative scales the whole step by a single factor so the step
	// direction is preserved exactly.
	Conservative
)

// Stepper is constructed once per problem shape and reused across outer
// iterations; it owns its Echelonizer exclusively and holds a weak
// reference into the StabilityChecker's latest classification.
type Stepper struct {
	nx, np, ny, m int
	method        kktsolve.Method
	tau           float64

	ech    echelon.Echelonizer
	kkt    *kktsolve.Solver
	status stability.Status
}

// New returns a Stepper for a problem with nx primal variables, np free
// parameters, ny linear equality rows and m total combined linear/nonlinear
// equality constraint rows (the remaining m-ny rows are the nonlinear block,
// h(x,p) and any v(x,p) folded in alongside it).
func New(nx, np, ny, m int, method kktsolve.Method, tau float64) *Stepper {
	return &Stepper{
		nx: nx, np: np, ny: ny, m: m,
		method: method, tau: tau,
		kkt: kktsolve.NewSolver(method),
	}
}

// Status returns the classification computed by the last Canonicalize call.
func (s *Stepper) Status() stability.Status { return s.status }

// Rank returns the numerically detected rank of the Jacobian installed by
// the last Canonicalize call. A driver loop treats Rank() == 0 with m > 0
// as the "singular W, no remaining rank" fatal condition from the Stepper
// state machine.
func (s *Stepper) Rank() int { return s.ech.Rank() }

// priorityWeights implements the Stepper's weighting policy for
// Echelonizer.UpdateWithPriorityWeights: wx[i] = min(x[i]-lo[i], hi[i]-x[i]),
// infinities replaced by |x[i]|, non-positive values forced to -1 so that
// variables sitting on a bound become last-choice basic variables. Columns
// beyond nx (the free parameters p) have no bounds and are given a large
// constant weight so they are always preferred as basic.
func priorityWeights(nx, np int, x, xlower, xupper []float64) []float64 {
	n := nx + np
	w := make([]float64, n)
	for i := 0; i < nx; i++ {
		a, b := x[i]-xlower[i], xupper[i]-x[i]
		v := math.Min(a, b)
		if math.IsInf(v, 0) {
			v = math.Abs(x[i])
		}
		if v <= 0 {
			v = -1
		}
		w[i] = v
	}
	for i := nx; i < n; i++ {
		w[i] = math.MaxFloat64 / 1e6
	}
	return w
}

// Canonicalize installs the current Jacobian w (m x (nx+np)) into the
// echelon form, reorders basic/non-basic variables by bound-slack priority,
// classifies variable stability from the objective gradient g (length
// nx+np) and multipliers y (length m), and pins strictly-unstable x
// components exactly to the nearer bound.
func (s *Stepper) Canonicalize(w *mat.Dense, g, y, x, xlower, xupper []float64) stability.Status {
	weights := priorityWeights(s.nx, s.np, x, xlower, xupper)

	s.ech.Compute(w)
	s.ech.UpdateWithPriorityWeights(weights)

	st := stability.Checker{}.Update(&s.ech, w, g, y, x, xlower, xupper)
	for _, i := range st.StrictlyUnstable {
		if i >= s.nx {
			continue
		}
		if x[i]-xlower[i] <= xupper[i]-x[i] {
			x[i] = xlower[i]
		} else {
			x[i] = xupper[i]
		}
	}
	s.status = st
	return st
}

// Residuals computes the optimality residual rx = |g + Wᵀy| (zeroed at
// unstable indices) and the feasibility residual ry = R·(c with the
// strictly-unstable contribution removed), both scaled into relative
// errors, plus their infinity norms (ex, ey) used for convergence testing.
func (s *Stepper) Residuals(w *mat.Dense, g, y, c, x []float64) (ex, ey float64, rx, ry []float64) {
	n := s.nx + s.np
	wty := matTVec(w, y, n)

	unstable := s.status.Unstable()
	unstableMask := make([]bool, n)
	for _, i := range unstable {
		if i < n {
			unstableMask[i] = true
		}
	}

	rx = make([]float64, n)
	for i := 0; i < n; i++ {
		if unstableMask[i] {
			continue
		}
		rx[i] = math.Abs(g[i]+wty[i]) / (1 + math.Abs(g[i]))
	}

	rbSan := append([]float64(nil), c...)
	for _, j := range s.status.StrictlyUnstable {
		if j >= n {
			continue
		}
		for i := 0; i < s.m; i++ {
			rbSan[i] -= w.At(i, j) * x[j]
		}
	}
	var ryVec mat.VecDense
	ryVec.MulVec(s.ech.R, mat.NewVecDense(s.m, rbSan))
	denom := 1 + linalg.NormInf(c)
	ry = make([]float64, s.m)
	for i := 0; i < s.m; i++ {
		ry[i] = math.Abs(ryVec.AtVec(i)) / denom
	}

	return linalg.NormInf(rx), linalg.NormInf(ry), rx, ry
}

// Decompose factorizes the canonical KKT matrix assembled from h and w,
// fixing the current strictly/lower/upper-unstable x-indices to a zero step.
// With the Nullspace method the unstable set is not applied: that method
// solves the system with every variable free.
func (s *Stepper) Decompose(h kktsolve.Hessian, w *mat.Dense) error {
	cm := kktsolve.CanonicalMatrix{
		H: h, W: w, Nx: s.nx, Np: s.np,
		Unstable: s.status.Unstable(),
	}
	var ech *echelon.Echelonizer
	if s.method == kktsolve.Nullspace {
		ech = &s.ech
	}
	return s.kkt.Decompose(cm, ech)
}

// Solve produces the Newton direction (Δx, Δp, Δy) from the last
// Decompose, replacing any NaN components with zero.
func (s *Stepper) Solve(w *mat.Dense, g, y, c []float64) (kktsolve.Direction, error) {
	n := s.nx + s.np
	wty := matTVec(w, y, n)
	rg := make([]float64, n)
	for i := 0; i < n; i++ {
		rg[i] = -(g[i] + wty[i])
	}
	rb := make([]float64, s.m)
	for i := 0; i < s.m; i++ {
		rb[i] = -c[i]
	}
	dir, err := s.kkt.Solve(kktsolve.ResidualVector{Top: rg, Bottom: rb})
	if err != nil {
		return dir, err
	}
	linalg.NaNToZero(dir.Dx)
	linalg.NaNToZero(dir.Dp)
	linalg.NaNToZero(dir.Dy)
	return dir, nil
}

// ApplyAggressive adds the full Newton step to x and p, then pulls any
// bound-violating component of x back to a point τ of the way from x to
// the bound, preserving the unaffected components exactly.
func (s *Stepper) ApplyAggressive(x, p, xlower, xupper []float64, dir kktsolve.Direction) {
	for i := range x {
		trial := x[i] + dir.Dx[i]
		switch {
		case trial < xlower[i]:
			x[i] = x[i] - s.tau*(x[i]-xlower[i])
		case trial > xupper[i]:
			x[i] = x[i] + s.tau*(xupper[i]-x[i])
		default:
			x[i] = trial
		}
	}
	for i := range p {
		p[i] += dir.Dp[i]
	}
}

// ApplyConservative scales the whole Newton direction by the largest
// α ∈ [0,1] satisfying the fraction-to-boundary rule
// x - τ·(x-xlower) ≤ x + α·Δx ≤ x + τ·(xupper-x) componentwise, preserving
// the step direction.
func (s *Stepper) ApplyConservative(x, p, xlower, xupper []float64, dir kktsolve.Direction) {
	alpha := 1.0
	for i := range x {
		switch {
		case dir.Dx[i] < 0:
			limit := -s.tau * (x[i] - xlower[i]) / dir.Dx[i]
			alpha = math.Min(alpha, limit)
		case dir.Dx[i] > 0:
			limit := s.tau * (xupper[i] - x[i]) / dir.Dx[i]
			alpha = math.Min(alpha, limit)
		}
	}
	if alpha < 0 {
		alpha = 0
	}
	for i := range x {
		x[i] += alpha * dir.Dx[i]
	}
	for i := range p {
		p[i] += alpha * dir.Dp[i]
	}
}

// Sensitivities reuses the last Decompose to propagate parameter
// sensitivities into dXdP (nx x np), dYdP (m x np) and dZdP (nx x np, set
// only at the x-indices the last Canonicalize classified unstable). The
// bottom right-hand side is built from two distinct inputs that enter with
// opposite sign at the ny/nz boundary: dBdp (ny x np), the linear block's
// own sensitivity, enters unnegated; dHdp (nz x np), the nonlinear block's
// (h(x,p), and any v(x,p) folded in alongside it), enters negated. dZdP is
// not an independent KKT unknown — it is the chain-rule derivative of
// z = g + Wᵀy, read off from dGdp and the dYdP just solved for:
// dzdp(iu,:) = dgdp(iu,:) + Wᵀ(:,iu)·dydp. A nil dBdp or dHdp stands for an
// empty block (ny == 0 or nz == 0). Dimension mismatches are reported as
// DimMismatch rather than guessed at.
func (s *Stepper) Sensitivities(w, dGdp, dBdp, dHdp *mat.Dense) (dXdP, dYdP, dZdP *mat.Dense, err error) {
	n := s.nx + s.np
	nz := s.m - s.ny
	np := 0
	if dGdp != nil {
		var r int
		r, np = dGdp.Dims()
		if r != n {
			return nil, nil, nil, corefail.New(corefail.DimMismatch, "dGdp has %d rows, want %d", r, n)
		}
		if dBdp == nil {
			if s.ny != 0 {
				return nil, nil, nil, corefail.New(corefail.DimMismatch, "dBdp is nil, want shape (ny=%d, np=%d)", s.ny, np)
			}
		} else if br, bc := dBdp.Dims(); br != s.ny || bc != np {
			return nil, nil, nil, corefail.New(corefail.DimMismatch, "dBdp shape (%d,%d) does not match (ny=%d, np=%d)", br, bc, s.ny, np)
		}
		if dHdp == nil {
			if nz != 0 {
				return nil, nil, nil, corefail.New(corefail.DimMismatch, "dHdp is nil, want shape (nz=%d, np=%d)", nz, np)
			}
		} else if hr, hc := dHdp.Dims(); hr != nz || hc != np {
			return nil, nil, nil, corefail.New(corefail.DimMismatch, "dHdp shape (%d,%d) does not match (nz=%d, np=%d)", hr, hc, nz, np)
		}
	}
	if np == 0 {
		return mat.NewDense(s.nx, 0, nil), mat.NewDense(s.m, 0, nil), mat.NewDense(s.nx, 0, nil), nil
	}

	dXdP = mat.NewDense(s.nx, np, nil)
	dYdP = mat.NewDense(s.m, np, nil)
	dZdP = mat.NewDense(s.nx, np, nil)
	unstable := s.status.Unstable()

	for k := 0; k < np; k++ {
		top := make([]float64, n)
		bottom := make([]float64, s.m)
		for i := 0; i < n; i++ {
			top[i] = -dGdp.At(i, k)
		}
		for i := 0; i < s.ny; i++ {
			bottom[i] = dBdp.At(i, k)
		}
		for i := 0; i < nz; i++ {
			bottom[s.ny+i] = -dHdp.At(i, k)
		}
		dir, serr := s.kkt.Solve(kktsolve.ResidualVector{Top: top, Bottom: bottom})
		if serr != nil {
			return nil, nil, nil, serr
		}
		for i := 0; i < s.nx; i++ {
			dXdP.Set(i, k, dir.Dx[i])
		}
		for i := 0; i < s.m; i++ {
			dYdP.Set(i, k, dir.Dy[i])
		}
		for _, iu := range unstable {
			if iu >= s.nx {
				continue
			}
			var wtdy float64
			for i := 0; i < s.m; i++ {
				wtdy += w.At(i, iu) * dir.Dy[i]
			}
			dZdP.Set(iu, k, dGdp.At(iu, k)+wtdy)
		}
	}
	return dXdP, dYdP, dZdP, nil
}

// SteepestDescentLagrange returns the steepest descent direction of the
// Lagrange function at the current point: dx = -(g + Wᵀy), zeroed at the
// x-indices the last Canonicalize classified unstable (they stay pinned
// to their bound), and dy = -c, the negative of the same combined
// residual vector Solve's bottom right-hand side is built from. A fallback
// direction for callers implementing a recovery policy when the Newton
// direction is degenerate; it is not used by the default driver loop.
// Grounded on Stepper.cpp's steepestDescentLagrange.
func (s *Stepper) SteepestDescentLagrange(w *mat.Dense, g, y, c []float64) (dx, dy []float64) {
	n := s.nx + s.np
	wty := matTVec(w, y, n)

	dx = make([]float64, n)
	for i := 0; i < n; i++ {
		dx[i] = -(g[i] + wty[i])
	}
	for _, iu := range s.status.Unstable() {
		if iu < s.nx {
			dx[iu] = 0
		}
	}

	dy = make([]float64, s.m)
	for i := 0; i < s.m; i++ {
		dy[i] = -c[i]
	}
	return dx, dy
}

// SteepestDescentError returns the steepest descent direction of the
// squared feasibility error 0.5·‖c‖²: dx = Wᵀ·dyL + H·dxL where (dxL, dyL)
// is SteepestDescentLagrange's own direction, and dy = Ax·dxL restricted
// to the linear block's ny rows. Another non-default fallback direction.
// Grounded on Stepper.cpp's steepestDescentError, which itself calls
// steepestDescentLagrange internally with the same (x, y, c, g) the
// caller passes to this method.
func (s *Stepper) SteepestDescentError(w *mat.Dense, g, y, c []float64, h kktsolve.Hessian) (dx, dy []float64) {
	n := s.nx + s.np
	dxL, dyL := s.SteepestDescentLagrange(w, g, y, c)

	wtDyL := matTVec(w, dyL, n)
	hDxL := h.MulVec(dxL)

	dx = make([]float64, n)
	for i := 0; i < n; i++ {
		dx[i] = wtDyL[i] + hDxL[i]
	}

	dy = make([]float64, s.ny)
	for i := 0; i < s.ny; i++ {
		var v float64
		for j := 0; j < n; j++ {
			v += w.At(i, j) * dxL[j]
		}
		dy[i] = v
	}
	return dx, dy
}

func matTVec(w *mat.Dense, y []float64, n int) []float64 {
	m, _ := w.Dims()
	out := make([]float64, n)
	for j := 0; j < n; j++ {
		var s float64
		for i := 0; i < m; i++ {
			s += w.At(i, j) * y[i]
		}
		out[j] = s
	}
	return out
}
