// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kktsolve

import (
	"gonum.org/v1/gonum/mat"

	"github.com/riverstone-labs/saddlepoint/echelon"
	"github.com/riverstone-labs/saddlepoint/linalg"
)

// nullspaceState caches the null-space basis Z (n×(n-r)), the reduced
// Hessian factorization and the data needed to recover Δy by the normal
// equations once Δx is known.
type nullspaceState struct {
	z       *mat.Dense // n x (n-r), in original variable order
	rTop    *mat.Dense // top r rows of R, m columns (used to build the particular solution)
	q       []int      // Q, length n
	h       Hessian
	w       *mat.Dense
	reduced linalg.FullPivLU
	wwT     linalg.FullPivLU
	r       int
	n, m    int
}

func (s *Solver) decomposeNullspace(cm CanonicalMatrix, ech *echelon.Echelonizer) error {
	n, m := cm.n(), s.m
	r := ech.Rank()
	nb := n - r

	z := mat.NewDense(n, max(nb, 0), nil)
	q := make([]int, ech.Q.Len())
	for i := range q {
		q[i] = ech.Q.At(i)
	}
	for k := 0; k < nb; k++ {
		jn := q[r+k]
		z.Set(jn, k, 1)
		for i := 0; i < r; i++ {
			jb := q[i]
			z.Set(jb, k, -ech.S.At(i, k))
		}
	}

	rTop := mat.NewDense(max(r, 0), m, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < m; j++ {
			rTop.Set(i, j, ech.R.At(i, j))
		}
	}

	var reducedH mat.Dense
	if nb > 0 {
		hDense := mat.NewDense(n, n, nil)
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				hDense.Set(i, j, cm.H.at(i, j))
			}
		}
		var hz mat.Dense
		hz.Mul(hDense, z)
		reducedH.Mul(z.T(), &hz)
	}

	var wwT mat.Dense
	wwT.Mul(cm.W, cm.W.T())

	st := nullspaceState{
		z: z, rTop: rTop, q: q, h: cm.H, w: mat.DenseCopyOf(cm.W),
		r: r, n: n, m: m,
	}
	if nb > 0 {
		st.reduced.Compute(&reducedH)
	}
	st.wwT.Compute(&wwT)
	s.null = st
	return nil
}

func (s *Solver) solveNullspace(rv ResidualVector) (dx, dp, dy []float64) {
	st := &s.null
	n, m, r, nb := st.n, st.m, st.r, st.n-st.r

	xp := make([]float64, n)
	for i := 0; i < r; i++ {
		var s float64
		for j := 0; j < m; j++ {
			s += st.rTop.At(i, j) * rv.Bottom[j]
		}
		xp[st.q[i]] = s
	}

	x := append([]float64(nil), xp...)
	if nb > 0 {
		hxp := make([]float64, n)
		for i := 0; i < n; i++ {
			var s float64
			for j := 0; j < n; j++ {
				s += st.h.at(i, j) * xp[j]
			}
			hxp[i] = s
		}
		gr := make([]float64, nb)
		for k := 0; k < nb; k++ {
			var s float64
			for i := 0; i < n; i++ {
				s += st.z.At(i, k) * (rv.Top[i] - hxp[i])
			}
			gr[k] = s
		}
		zn := st.reduced.Solve(gr)
		for i := 0; i < n; i++ {
			var add float64
			for k := 0; k < nb; k++ {
				add += st.z.At(i, k) * zn[k]
			}
			x[i] += add
		}
	}

	hx := make([]float64, n)
	for i := 0; i < n; i++ {
		var s float64
		for j := 0; j < n; j++ {
			s += st.h.at(i, j) * x[j]
		}
		hx[i] = s
	}
	rhsDy := make([]float64, m)
	for i := 0; i < m; i++ {
		var s float64
		for j := 0; j < n; j++ {
			s += st.w.At(i, j) * (rv.Top[j] - hx[j])
		}
		rhsDy[i] = s
	}
	dy = st.wwT.Solve(rhsDy)

	dx = append([]float64(nil), x[:s.nx]...)
	dp = append([]float64(nil), x[s.nx:]...)
	return
}
