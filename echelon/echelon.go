// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package echelon maintains the canonical row-echelon form R·W·Q = [I S]
// of a constraint coefficient matrix W, adapted online as W changes and as
// bound-activity weights reorder which variables are treated as basic.
package echelon

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/riverstone-labs/saddlepoint/corefail"
	"github.com/riverstone-labs/saddlepoint/linalg"
)

// pivotTau is the minimum pivot magnitude UpdateWithSwapBasicVariable will
// accept; anything smaller is a caller-contract violation (the caller asked
// to pivot on a direction the current canonical form cannot support).
const pivotTau = 10 * linalg.Eps

// Echelonizer owns (R, S, Q, R0, S0, Q0, lu) exclusively; nothing outside
// this package mutates them except through the methods below.
type Echelonizer struct {
	m, n int
	r    int

	lu linalg.FullPivLU

	R *mat.Dense // m x m, zero below row r
	S *mat.Dense // r x (n-r)
	Q linalg.Permutation

	R0 *mat.Dense
	S0 *mat.Dense
	Q0 linalg.Permutation

	normW0 float64
}

// Dims returns (m, n) of the last matrix passed to Compute.
func (e *Echelonizer) Dims() (int, int) { return e.m, e.n }

// Rank returns the numerically detected rank r <= min(m, n). A caller that
// wants to observe the RankCollapse condition from corefail compares this
// against min(m, n) directly; the condition itself is never an error value.
func (e *Echelonizer) Rank() int { return e.r }

// Compute performs the initial full-pivoting LU of w and derives (R, S, Q).
// Rank is taken from the LU with threshold τ_rank = maxPivot·eps·max(m,n),
// clamped to an absolute test when maxPivot < 10·eps.
func (e *Echelonizer) Compute(w *mat.Dense) {
	m, n := w.Dims()
	e.m, e.n = m, n
	e.normW0 = infNorm(w)

	e.lu.Compute(w)
	r := e.lu.Rank()
	e.r = r

	e.R = mat.NewDense(m, m, nil)
	e.S = mat.NewDense(r, n-r, nil)

	if r > 0 {
		ubb := e.lu.Ubb()
		lbb := e.lu.Lbb()

		var ubbInv, lbbInv mat.Dense
		ubbInv.Inverse(ubb)
		lbbInv.Inverse(lbb)

		var combo mat.Dense
		combo.Mul(&ubbInv, &lbbInv)

		rows := e.lu.RowPermutation()
		for i := 0; i < r; i++ {
			for j := 0; j < r; j++ {
				e.R.Set(i, rows.At(j), combo.At(i, j))
			}
		}

		if n-r > 0 {
			ubn := e.lu.Ubn()
			e.S.Mul(&ubbInv, ubn)
		}
	}

	e.Q = e.lu.ColPermutation().Clone()

	e.R0 = mat.DenseCopyOf(e.R)
	e.S0 = mat.DenseCopyOf(e.S)
	e.Q0 = e.Q.Clone()
}

// UpdateWithSwapBasicVariable pivots the canonical form on S[ib, in],
// promoting the in-th non-basic column to basic slot ib and demoting the
// variable previously in that slot. The update is the Gauss-Jordan
// elimination applied to R's top r rows and to S, followed by swapping the
// corresponding entries of Q.
func (e *Echelonizer) UpdateWithSwapBasicVariable(ib, in int) {
	r, nb := e.r, e.n-e.r
	if ib < 0 || ib >= r || in < 0 || in >= nb {
		corefail.Panic("echelon: swap indices (%d,%d) out of range for rank %d, nonbasic %d", ib, in, r, nb)
	}

	pivot := e.S.At(ib, in)
	if math.Abs(pivot) <= pivotTau {
		corefail.Panic("echelon: pivot breakdown at basic slot %d, nonbasic slot %d (value %.3e)", ib, in, pivot)
	}
	invPivot := 1.0 / pivot

	sRowNew := make([]float64, nb)
	for j := 0; j < nb; j++ {
		sRowNew[j] = e.S.At(ib, j) * invPivot
	}
	rRowNew := make([]float64, e.m)
	for j := 0; j < e.m; j++ {
		rRowNew[j] = e.R.At(ib, j) * invPivot
	}

	for i := 0; i < r; i++ {
		if i == ib {
			continue
		}
		factor := e.S.At(i, in)
		if factor == 0 {
			continue
		}
		for j := 0; j < nb; j++ {
			e.S.Set(i, j, e.S.At(i, j)-factor*sRowNew[j])
		}
		for j := 0; j < e.m; j++ {
			e.R.Set(i, j, e.R.At(i, j)-factor*rRowNew[j])
		}
		// column in now holds the demoted basic variable's transformed column
		e.S.Set(i, in, -factor*invPivot)
	}

	for j := 0; j < nb; j++ {
		e.S.Set(ib, j, sRowNew[j])
	}
	e.S.Set(ib, in, invPivot)
	for j := 0; j < e.m; j++ {
		e.R.Set(ib, j, rRowNew[j])
	}

	qb, qn := e.Q.At(ib), e.Q.At(r+in)
	e.Q.Set(ib, qn)
	e.Q.Set(r+in, qb)
}

// UpdateWithPriorityWeights scans, for each basic slot, the non-basic
// columns for a beneficial swap (a non-basic variable with strictly greater
// weighted pivot than the current basic one), applies it, and then sorts
// both the basic and non-basic slots into descending weight order.
// w is indexed by original variable index (length n).
func (e *Echelonizer) UpdateWithPriorityWeights(w []float64) {
	r, nb := e.r, e.n-e.r

	for i := 0; i < r && nb > 0; i++ {
		bestK, bestVal := -1, w[e.Q.At(i)]
		for k := 0; k < nb; k++ {
			cand := w[e.Q.At(r+k)] * math.Abs(e.S.At(i, k))
			if cand > bestVal {
				bestVal, bestK = cand, k
			}
		}
		if bestK >= 0 {
			e.UpdateWithSwapBasicVariable(i, bestK)
		}
	}

	e.UpdateOrdering(w)
}

// UpdateOrdering sorts the basic and non-basic slots into descending weight
// order without scanning for a beneficial swap first. UpdateWithPriorityWeights
// calls this as its final step; it is exposed standalone for callers that
// already know the swap is unnecessary (e.g. weights unchanged since the
// last reorder) and just want the resulting permutation recomputed.
func (e *Echelonizer) UpdateOrdering(w []float64) {
	r, nb := e.r, e.n-e.r

	basicOrder := make([]int, r)
	for i := range basicOrder {
		basicOrder[i] = i
	}
	sort.SliceStable(basicOrder, func(a, b int) bool {
		return w[e.Q.At(basicOrder[a])] > w[e.Q.At(basicOrder[b])]
	})

	nonbasicOrder := make([]int, nb)
	for i := range nonbasicOrder {
		nonbasicOrder[i] = i
	}
	sort.SliceStable(nonbasicOrder, func(a, b int) bool {
		return w[e.Q.At(r+nonbasicOrder[a])] > w[e.Q.At(r+nonbasicOrder[b])]
	})

	newR := mat.NewDense(e.m, e.m, nil)
	newS := mat.NewDense(r, nb, nil)
	newQ := linalg.NewIdentity(e.n)

	for newI, oldI := range basicOrder {
		for c := 0; c < e.m; c++ {
			newR.Set(newI, c, e.R.At(oldI, c))
		}
		newQ.Set(newI, e.Q.At(oldI))
	}
	for newJ, oldJ := range nonbasicOrder {
		newQ.Set(r+newJ, e.Q.At(r+oldJ))
	}
	for newI, oldI := range basicOrder {
		for newJ, oldJ := range nonbasicOrder {
			newS.Set(newI, newJ, e.S.At(oldI, oldJ))
		}
	}

	e.R, e.S, e.Q = newR, newS, newQ
}

// CleanResidualRoundoffErrors eliminates noise below σ·eps from R and S by
// adding and subtracting a large power-of-ten offset σ derived from the
// infinity norm of the matrix originally passed to Compute.
func (e *Echelonizer) CleanResidualRoundoffErrors() {
	if e.normW0 <= 0 {
		return
	}
	sigma := math.Pow(10, 1+math.Ceil(math.Log10(e.normW0)))
	cleanDense(e.R, sigma)
	cleanDense(e.S, sigma)
}

func cleanDense(d *mat.Dense, sigma float64) {
	r, c := d.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			v := d.At(i, j)
			v = (v + sigma) - sigma
			d.Set(i, j, v)
		}
	}
}

// Reset restores (R, S, Q) from the backup captured at the last Compute.
func (e *Echelonizer) Reset() {
	e.R = mat.DenseCopyOf(e.R0)
	e.S = mat.DenseCopyOf(e.S0)
	e.Q = e.Q0.Clone()
}

func infNorm(d *mat.Dense) float64 {
	r, c := d.Dims()
	var m float64
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if v := math.Abs(d.At(i, j)); v > m {
				m = v
			}
		}
	}
	return m
}
