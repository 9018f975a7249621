// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package solver

import (
	"gonum.org/v1/gonum/mat"

	"github.com/riverstone-labs/saddlepoint/kktsolve"
	"github.com/riverstone-labs/saddlepoint/numdiff"
)

// NumericalObjective adapts a value-only objective callback into a full
// Objective by estimating its gradient with a central finite difference,
// for callers whose objective does not supply an analytic gradient. h is
// returned unchanged on every call; a caller with no Hessian information
// typically pairs this with Method: kktsolve.Fullspace and a zero-valued h.
func NumericalObjective(nx, np int, f func(x, p []float64) (float64, bool), h kktsolve.Hessian) Objective {
	n := nx + np
	spec := &numdiff.JacobianApprox{N: n, M: 1, Method: numdiff.Central}

	return func(x, p []float64) (float64, []float64, kktsolve.Hessian, bool) {
		fval, ok := f(x, p)
		if !ok {
			return 0, nil, h, true
		}

		xp := make([]float64, n)
		copy(xp[:nx], x)
		copy(xp[nx:], p)

		var evalFailed bool
		spec.Func = func(v, y []float64) {
			fv, ok := f(v[:nx], v[nx:])
			if !ok {
				evalFailed = true
			}
			y[0] = fv
		}
		g := make([]float64, n)
		if err := spec.Diff(xp, g); err != nil || evalFailed {
			return 0, nil, h, true
		}
		return fval, g, h, false
	}
}

// NumericalConstraint adapts a value-only constraint callback (nz outputs)
// into a ConstraintFunc by estimating its Jacobian with a central finite
// difference, for callers whose h(x,p) or v(x,p) does not supply an
// analytic Jacobian.
func NumericalConstraint(nx, np, nz int, f func(x, p []float64) ([]float64, bool)) ConstraintFunc {
	n := nx + np
	spec := &numdiff.JacobianApprox{N: n, M: nz, Method: numdiff.Central}

	return func(x, p []float64) (val []float64, jx, jp *mat.Dense, failed bool) {
		val, ok := f(x, p)
		if !ok {
			return nil, nil, nil, true
		}

		xp := make([]float64, n)
		copy(xp[:nx], x)
		copy(xp[nx:], p)

		var evalFailed bool
		spec.Func = func(v, y []float64) {
			r, ok := f(v[:nx], v[nx:])
			if !ok {
				evalFailed = true
				return
			}
			copy(y, r)
		}
		jac := make([]float64, n*nz)
		if err := spec.Diff(xp, jac); err != nil || evalFailed {
			return nil, nil, nil, true
		}

		jx = mat.NewDense(nz, nx, nil)
		jp = mat.NewDense(nz, np, nil)
		for j := 0; j < nz; j++ {
			base := j * n
			for i := 0; i < nx; i++ {
				jx.Set(j, i, jac[base+i])
			}
			for i := 0; i < np; i++ {
				jp.Set(j, i, jac[base+nx+i])
			}
		}
		return val, jx, jp, false
	}
}
