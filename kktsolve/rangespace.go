// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kktsolve

import (
	"gonum.org/v1/gonum/mat"

	"github.com/riverstone-labs/saddlepoint/corefail"
	"github.com/riverstone-labs/saddlepoint/linalg"
)

// rangespaceState caches H⁻¹ (zeroed at unstable DOFs so they never couple
// into the reduced system) and the reduced m×m factorization W·H⁻¹·Wᵀ.
type rangespaceState struct {
	diag     []float64 // set when the Hessian is diagonal: the optimized path
	dense    *mat.Dense
	isDiag   bool
	w        *mat.Dense
	reduced  linalg.FullPivLU
	n, m     int
}

func (s *Solver) decomposeRangespace(cm CanonicalMatrix) error {
	n, m := cm.n(), s.m
	mask := isUnstable(cm.Unstable, n)

	var hinvDiag []float64
	var hinvDense *mat.Dense
	isDiag := cm.H.IsDiagonal()

	if isDiag {
		hinvDiag = make([]float64, n)
		for i, d := range cm.H.Diag {
			if mask[i] || d == 0 {
				hinvDiag[i] = 0
				continue
			}
			hinvDiag[i] = 1 / d
		}
	} else {
		var inv mat.Dense
		if err := inv.Inverse(cm.H.Dense); err != nil {
			return corefail.New(corefail.DimMismatch, "rangespace method requires an invertible Hessian: %v", err)
		}
		for i := 0; i < n; i++ {
			if !mask[i] {
				continue
			}
			for j := 0; j < n; j++ {
				inv.Set(i, j, 0)
				inv.Set(j, i, 0)
			}
		}
		hinvDense = &inv
	}

	wscaled := mat.NewDense(m, n, nil)
	for j := 0; j < n; j++ {
		scale := 1.0
		if isDiag {
			scale = hinvDiag[j]
		}
		for i := 0; i < m; i++ {
			if isDiag {
				wscaled.Set(i, j, cm.W.At(i, j)*scale)
			}
		}
	}
	if !isDiag {
		wscaled.Mul(cm.W, hinvDense)
	}

	var reducedM mat.Dense
	reducedM.Mul(wscaled, cm.W.T())

	s.rng = rangespaceState{
		diag: hinvDiag, dense: hinvDense, isDiag: isDiag,
		w: mat.DenseCopyOf(cm.W), n: n, m: m,
	}
	s.rng.reduced.Compute(&reducedM)
	return nil
}

func (s *Solver) solveRangespace(rv ResidualVector) (dx, dp, dy []float64) {
	st := &s.rng
	n, m := st.n, st.m

	hinvRg := make([]float64, n)
	if st.isDiag {
		for i := 0; i < n; i++ {
			hinvRg[i] = st.diag[i] * rv.Top[i]
		}
	} else {
		v := mat.NewVecDense(n, nil)
		v.MulVec(st.dense, mat.NewVecDense(n, rv.Top))
		for i := 0; i < n; i++ {
			hinvRg[i] = v.AtVec(i)
		}
	}

	whinvRg := make([]float64, m)
	for i := 0; i < m; i++ {
		var s float64
		for j := 0; j < n; j++ {
			s += st.w.At(i, j) * hinvRg[j]
		}
		whinvRg[i] = s
	}

	rhsY := make([]float64, m)
	for i := 0; i < m; i++ {
		rhsY[i] = whinvRg[i] - rv.Bottom[i]
	}

	dy = st.reduced.Solve(rhsY)

	wty := make([]float64, n)
	for j := 0; j < n; j++ {
		var s float64
		for i := 0; i < m; i++ {
			s += st.w.At(i, j) * dy[i]
		}
		wty[j] = s
	}

	dTop := make([]float64, n)
	for j := 0; j < n; j++ {
		dTop[j] = rv.Top[j] - wty[j]
	}

	full := make([]float64, n)
	if st.isDiag {
		for i := 0; i < n; i++ {
			full[i] = st.diag[i] * dTop[i]
		}
	} else {
		v := mat.NewVecDense(n, nil)
		v.MulVec(st.dense, mat.NewVecDense(n, dTop))
		for i := 0; i < n; i++ {
			full[i] = v.AtVec(i)
		}
	}

	dx = append([]float64(nil), full[:s.nx]...)
	dp = append([]float64(nil), full[s.nx:]...)
	return
}
