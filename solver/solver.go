// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package solver drives the outer Newton loop: it evaluates the caller's
// objective and constraints, feeds them through a newton.Stepper each
// iteration, applies the resulting step under a backtracking recovery
// policy, and reports a structured Result.
package solver

import (
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/riverstone-labs/saddlepoint/corefail"
	"github.com/riverstone-labs/saddlepoint/kktsolve"
	"github.com/riverstone-labs/saddlepoint/linalg"
	"github.com/riverstone-labs/saddlepoint/newton"
)

// Objective evaluates f(x,p) and its gradient g = [fx; fp] (length
// Nx+Np) and Hessian block at the given point. failed signals an
// evaluation failure, handled identically to a non-finite result.
type Objective func(x, p []float64) (f float64, g []float64, h kktsolve.Hessian, failed bool)

// ConstraintFunc evaluates a nonlinear equality block and its Jacobians with
// respect to x and p. The same shape serves both nonlinear constraint kinds
// a Problem may carry: the x-governing h(x,p) = 0 block (Nz rows) and the
// p-governing v(x,p) = 0 block (Nv rows). Both are folded into the same
// combined constraint Jacobian W the linear block occupies, rather than
// kept as a separate subsystem.
type ConstraintFunc func(x, p []float64) (val []float64, jx, jp *mat.Dense, failed bool)

// Problem specifies the dimensions, linear constraint block, bounds and
// evaluation callbacks for one saddle-point optimization problem.
type Problem struct {
	Nx, Np, Nz, Nv int

	// Ax, Ap, B define the constant linear block Ax·x + Ap·p = B (ny rows,
	// ny = len(B)). Ax/Ap may be nil when ny == 0.
	Ax, Ap *mat.Dense
	B      []float64

	XLower, XUpper []float64

	Objective Objective

	Constraint  ConstraintFunc // h(x,p) = 0; may be nil when Nz == 0
	VConstraint ConstraintFunc // v(x,p) = 0, governs p; may be nil when Nv == 0

	Method kktsolve.Method
}

// New validates p and returns a reusable Solver: the Solver is immutable
// problem-level state, created once and driven over as many States as the
// caller needs.
func (p *Problem) New() (*Solver, error) {
	if p.Nx <= 0 {
		return nil, errors.New("problem dimension nx must be greater than 0")
	}
	if len(p.XLower) != p.Nx || len(p.XUpper) != p.Nx {
		return nil, fmt.Errorf("bounds must have length %d", p.Nx)
	}
	for i := 0; i < p.Nx; i++ {
		if p.XLower[i] > p.XUpper[i] {
			return nil, fmt.Errorf("bound error at %d: lower > upper", i)
		}
	}
	if p.Objective == nil {
		return nil, errors.New("objective evaluation callback is required")
	}
	ny := len(p.B)
	if ny > 0 {
		if p.Ax == nil {
			return nil, errors.New("Ax is required when B is non-empty")
		}
		if r, c := p.Ax.Dims(); r != ny || c != p.Nx {
			return nil, fmt.Errorf("Ax has shape (%d,%d), want (%d,%d)", r, c, ny, p.Nx)
		}
		if p.Np > 0 {
			if p.Ap == nil {
				return nil, errors.New("Ap is required when Np > 0 and B is non-empty")
			}
			if r, c := p.Ap.Dims(); r != ny || c != p.Np {
				return nil, fmt.Errorf("Ap has shape (%d,%d), want (%d,%d)", r, c, ny, p.Np)
			}
		}
	}
	if p.Nz > 0 && p.Constraint == nil {
		return nil, errors.New("Constraint callback is required when Nz > 0")
	}
	if p.Nv > 0 && p.VConstraint == nil {
		return nil, errors.New("VConstraint callback is required when Nv > 0")
	}

	return &Solver{problem: *p, ny: ny, m: ny + p.Nz + p.Nv}, nil
}

// Solver holds the validated, immutable problem description. A single
// Solver may be driven over several States. Working matrices are not kept
// between calls: each Solve call builds its own Stepper, and every
// evaluation allocates a fresh Jacobian and residual.
type Solver struct {
	problem Problem
	ny, m   int
}

// State carries the mutable (x, p, y, z, w) of one solve: primal
// variables, free parameters, equality multipliers, and the interior-point
// bound multipliers tracked for reporting and warm-starting.
type State struct {
	X, P []float64
	Y    []float64
	Z, W []float64 // barrier multipliers for the lower/upper bounds on X
}

// NewState clips x0 into the problem's bounds and allocates the multiplier
// arrays at zero; the first Solve call replaces Z/W with the interior-point
// barrier estimate.
func (s *Solver) NewState(x0, p0 []float64) *State {
	x := append([]float64(nil), x0...)
	for i := range x {
		if x[i] < s.problem.XLower[i] {
			x[i] = s.problem.XLower[i]
		}
		if x[i] > s.problem.XUpper[i] {
			x[i] = s.problem.XUpper[i]
		}
	}
	return &State{
		X: x,
		P: append([]float64(nil), p0...),
		Y: make([]float64, s.m),
		Z: make([]float64, s.problem.Nx),
		W: make([]float64, s.problem.Nx),
	}
}

// IterationLog reports one outer iteration's state to an Options.Trace
// callback: the Go-idiomatic equivalent of the external Outputter this
// module otherwise keeps out of scope (no I/O in the core itself).
type IterationLog struct {
	Iteration int
	F         float64
	Ex, Ey    float64
}

// Options enumerates the driver's stopping criteria and stepping policy.
type Options struct {
	Tolerance, ToleranceX, ToleranceF float64
	MaxIterations                     int
	Tau                               float64
	Mu                                float64
	Step                              newton.StepMode

	// Trace, if non-nil, is called once per outer iteration with the
	// current objective value and residual norms. It performs no I/O
	// itself; a caller wanting logging wires Trace to its own logger.
	Trace func(IterationLog)
}

// DefaultOptions returns conservative defaults: tolerance 1e-6, 200
// iterations, τ=0.99, μ=1e-20, aggressive stepping. ToleranceX/ToleranceF
// default to NaN, meaning "disabled" (only the primal/dual residual test
// governs convergence).
func DefaultOptions() Options {
	return Options{
		Tolerance: 1e-6, ToleranceX: math.NaN(), ToleranceF: math.NaN(),
		MaxIterations: 200, Tau: 0.99, Mu: 1e-20,
		Step: newton.Aggressive,
	}
}

// Summary reports counters and wall time, read-only and never branched on
// by the solver itself.
type Summary struct {
	NumIterations                   int
	ObjectiveEvals, ConstraintEvals int
	Elapsed                         time.Duration
}

// Result is the structured outcome of a Solve call: non-convergence is
// reported here, not raised as an error.
type Result struct {
	Succeeded     bool
	FailureReason string
	F             float64
	Ex, Ey        float64
	Summary
}

// Solve runs the initialize/canonicalize/decompose/solve/step/residuals
// loop described by the Stepper's state machine, for up to
// opts.MaxIterations outer iterations.
func (s *Solver) Solve(st *State, opts Options) *Result {
	p := &s.problem
	start := time.Now()
	var summary Summary

	for i := range st.X {
		st.Z[i] = opts.Mu / (st.X[i] - p.XLower[i])
		st.W[i] = opts.Mu / (p.XUpper[i] - st.X[i])
	}

	g, h, c, jac, f, failed := s.evaluate(st.X, st.P, &summary)
	if failed || !finite(f) || !allFinite(g) || !allFinite(c) {
		summary.Elapsed = time.Since(start)
		err := corefail.New(corefail.NonFiniteInit, "objective or constraint evaluation produced NaN/Inf at the initial guess")
		return &Result{FailureReason: err.Error(), Summary: summary}
	}

	step := newton.New(p.Nx, p.Np, s.ny, s.m, p.Method, opts.Tau)
	step.Canonicalize(jac, g, st.Y, st.X, p.XLower, p.XUpper)

	lastF := f
	for iter := 0; iter < opts.MaxIterations; iter++ {
		summary.NumIterations = iter + 1

		if s.m > 0 && step.Rank() == 0 {
			summary.Elapsed = time.Since(start)
			return &Result{FailureReason: "canonicalize: constraint Jacobian has no remaining rank", Summary: summary}
		}
		if err := step.Decompose(h, jac); err != nil {
			summary.Elapsed = time.Since(start)
			return &Result{FailureReason: err.Error(), Summary: summary}
		}
		dir, err := step.Solve(jac, g, st.Y, c)
		if err != nil {
			summary.Elapsed = time.Since(start)
			return &Result{FailureReason: err.Error(), Summary: summary}
		}

		trialX := append([]float64(nil), st.X...)
		trialP := append([]float64(nil), st.P...)
		trialY := append([]float64(nil), st.Y...)

		var g2, c2 []float64
		var h2 kktsolve.Hessian
		var jac2 *mat.Dense
		var f2 float64
		ok := false
		shrink := 1.0
		for try := 0; try < 10; try++ {
			copy(trialX, st.X)
			copy(trialP, st.P)
			scaled := scaleDirection(dir, shrink)

			switch opts.Step {
			case newton.Conservative:
				step.ApplyConservative(trialX, trialP, p.XLower, p.XUpper, scaled)
			default:
				step.ApplyAggressive(trialX, trialP, p.XLower, p.XUpper, scaled)
			}
			for i := range trialY {
				trialY[i] = st.Y[i] + scaled.Dy[i]
			}

			g2, h2, c2, jac2, f2, failed = s.evaluate(trialX, trialP, &summary)
			if !failed && finite(f2) && allFinite(g2) && allFinite(c2) {
				ok = true
				break
			}
			shrink /= 2
		}
		if !ok {
			summary.Elapsed = time.Since(start)
			return &Result{FailureReason: "Newton step produced a non-finite trial iterate after backtracking", Summary: summary}
		}

		dxInf := 0.0
		for i := range st.X {
			if d := math.Abs(trialX[i] - st.X[i]); d > dxInf {
				dxInf = d
			}
		}
		df := math.Abs(f2 - lastF)

		copy(st.X, trialX)
		copy(st.P, trialP)
		copy(st.Y, trialY)
		for i := range st.X {
			st.Z[i] = opts.Mu / (st.X[i] - p.XLower[i])
			st.W[i] = opts.Mu / (p.XUpper[i] - st.X[i])
		}

		g, h, c, jac, f = g2, h2, c2, jac2, f2
		step.Canonicalize(jac, g, st.Y, st.X, p.XLower, p.XUpper)
		ex, ey, _, _ := step.Residuals(jac, g, st.Y, c, st.X)

		if opts.Trace != nil {
			opts.Trace(IterationLog{Iteration: iter + 1, F: f, Ex: ex, Ey: ey})
		}

		converged := math.Max(ex, ey) < opts.Tolerance
		if !math.IsNaN(opts.ToleranceX) && dxInf < opts.ToleranceX {
			converged = true
		}
		if !math.IsNaN(opts.ToleranceF) && df < opts.ToleranceF {
			converged = true
		}
		lastF = f

		if converged {
			summary.Elapsed = time.Since(start)
			return &Result{Succeeded: true, F: f, Ex: ex, Ey: ey, Summary: summary}
		}
	}

	summary.Elapsed = time.Since(start)
	return &Result{FailureReason: "max iterations reached", Summary: summary}
}

// evaluate assembles the combined residual c and Jacobian jac = [Ax Ap; Jx
// Jp] from the problem's constant linear block and the nonlinear
// Constraint callback, alongside the objective value/gradient/Hessian. A
// failed or non-finite objective value returns at once, before c and jac
// are built.
func (s *Solver) evaluate(x, p []float64, summary *Summary) (g []float64, h kktsolve.Hessian, c []float64, jac *mat.Dense, f float64, failed bool) {
	prob := &s.problem
	summary.ObjectiveEvals++
	f, g, h, failed = prob.Objective(x, p)
	if failed || !finite(f) {
		return
	}

	n := prob.Nx + prob.Np
	jac = mat.NewDense(s.m, n, nil)
	c = make([]float64, s.m)

	if s.ny > 0 {
		var row mat.VecDense
		row.MulVec(prob.Ax, mat.NewVecDense(prob.Nx, x))
		var rowP mat.VecDense
		if prob.Np > 0 {
			rowP.MulVec(prob.Ap, mat.NewVecDense(prob.Np, p))
		}
		for i := 0; i < s.ny; i++ {
			v := row.AtVec(i)
			if prob.Np > 0 {
				v += rowP.AtVec(i)
			}
			c[i] = v - prob.B[i]
		}
		for i := 0; i < s.ny; i++ {
			for j := 0; j < prob.Nx; j++ {
				jac.Set(i, j, prob.Ax.At(i, j))
			}
			for j := 0; j < prob.Np; j++ {
				jac.Set(i, prob.Nx+j, prob.Ap.At(i, j))
			}
		}
	}

	if prob.Nz > 0 {
		summary.ConstraintEvals++
		hval, jx, jp, cfailed := prob.Constraint(x, p)
		if cfailed {
			failed = true
			return
		}
		for i := 0; i < prob.Nz; i++ {
			c[s.ny+i] = hval[i]
			for j := 0; j < prob.Nx; j++ {
				jac.Set(s.ny+i, j, jx.At(i, j))
			}
			if prob.Np > 0 {
				for j := 0; j < prob.Np; j++ {
					jac.Set(s.ny+i, prob.Nx+j, jp.At(i, j))
				}
			}
		}
	}

	if prob.Nv > 0 {
		summary.ConstraintEvals++
		vval, vx, vp, vfailed := prob.VConstraint(x, p)
		if vfailed {
			failed = true
			return
		}
		base := s.ny + prob.Nz
		for i := 0; i < prob.Nv; i++ {
			c[base+i] = vval[i]
			for j := 0; j < prob.Nx; j++ {
				jac.Set(base+i, j, vx.At(i, j))
			}
			if prob.Np > 0 {
				for j := 0; j < prob.Np; j++ {
					jac.Set(base+i, prob.Nx+j, vp.At(i, j))
				}
			}
		}
	}

	return
}

func scaleDirection(dir kktsolve.Direction, a float64) kktsolve.Direction {
	if a == 1 {
		return dir
	}
	out := kktsolve.Direction{
		Dx: make([]float64, len(dir.Dx)),
		Dp: make([]float64, len(dir.Dp)),
		Dy: make([]float64, len(dir.Dy)),
	}
	copy(out.Dx, dir.Dx)
	copy(out.Dp, dir.Dp)
	copy(out.Dy, dir.Dy)
	linalg.Scal(a, out.Dx)
	linalg.Scal(a, out.Dp)
	linalg.Scal(a, out.Dy)
	return out
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

func allFinite(v []float64) bool {
	for _, x := range v {
		if !finite(x) {
			return false
		}
	}
	return true
}
