// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kktsolve

import (
	"gonum.org/v1/gonum/mat"

	"github.com/riverstone-labs/saddlepoint/linalg"
)

// fullspaceState holds the factorization of the full (N+m)×(N+m) saddle
// point matrix. Rank-deficient rows are handled by FullPivLU.Solve's
// zero-free-direction rule rather than by propagating literal NaNs.
type fullspaceState struct {
	lu   linalg.FullPivLU
	mask []bool // length N, true for x-indices fixed to a zero step
	n, m int
}

func (s *Solver) decomposeFullspace(cm CanonicalMatrix) error {
	n, m := cm.n(), s.m
	mask := isUnstable(cm.Unstable, n)

	k := mat.NewDense(n+m, n+m, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			k.Set(i, j, cm.H.at(i, j))
		}
	}
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			v := cm.W.At(i, j)
			k.Set(n+i, j, v)
			k.Set(j, n+i, v)
		}
	}

	// Fix unstable x-DOFs: row -> identity, column -> zero (off-diagonal),
	// so the assembled matrix stays invertible and those unknowns solve to
	// whatever the (separately zeroed) RHS entry dictates -- zero.
	for _, i := range cm.Unstable {
		for j := 0; j < n+m; j++ {
			k.Set(i, j, 0)
			k.Set(j, i, 0)
		}
		k.Set(i, i, 1)
	}

	s.full = fullspaceState{mask: mask, n: n, m: m}
	s.full.lu.Compute(k)
	return nil
}

func (s *Solver) solveFullspace(rv ResidualVector) (dx, dp, dy []float64) {
	n, m := s.full.n, s.full.m
	b := make([]float64, n+m)
	copy(b[:n], rv.Top)
	copy(b[n:], rv.Bottom)
	for i, fixed := range s.full.mask {
		if fixed {
			b[i] = 0
		}
	}

	x := s.full.lu.Solve(b)
	dx = append([]float64(nil), x[:s.nx]...)
	dp = append([]float64(nil), x[s.nx:n]...)
	dy = append([]float64(nil), x[n:]...)
	return
}
