// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package echelon

import (
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"
)

const testEps = 1e-9

func canonicalResidual(e *Echelonizer, w *mat.Dense) float64 {
	m, n := e.m, e.n
	r := e.r

	var rw mat.Dense
	rw.Mul(e.R, w)

	// permute columns of R*W by Q, then compare against [I S; 0 0]
	var maxErr float64
	for i := 0; i < m; i++ {
		for jPos := 0; jPos < n; jPos++ {
			col := e.Q.At(jPos)
			got := rw.At(i, col)
			want := 0.0
			if i < r {
				if jPos == i {
					want = 1
				} else if jPos >= r {
					want = e.S.At(i, jPos-r)
				}
			}
			if d := math.Abs(got - want); d > maxErr {
				maxErr = d
			}
		}
	}
	return maxErr
}

func randomDense(rng *rand.Rand, m, n int) *mat.Dense {
	data := make([]float64, m*n)
	for i := range data {
		data[i] = rng.NormFloat64()
	}
	return mat.NewDense(m, n, data)
}

func TestEchelonizerCanonicalFormRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	w := randomDense(rng, 4, 10)

	var e Echelonizer
	e.Compute(w)

	if e.Rank() != 4 {
		t.Fatalf("expected full rank 4, got %d", e.Rank())
	}
	if err := canonicalResidual(&e, w); err > testEps {
		t.Fatalf("canonical form residual too large: %e", err)
	}
	if !e.Q.IsValid() {
		t.Fatalf("Q is not a valid permutation")
	}

	r, nb := e.Rank(), e.n-e.Rank()
	for i := 0; i < r; i++ {
		for j := 0; j < nb; j++ {
			var e2 Echelonizer
			e2.Compute(w)
			e2.UpdateWithSwapBasicVariable(i, j)
			if err := canonicalResidual(&e2, w); err > 1e-6 {
				t.Fatalf("after swap(%d,%d): residual %e", i, j, err)
			}
			if !e2.Q.IsValid() {
				t.Fatalf("after swap(%d,%d): Q invalid", i, j)
			}
		}
	}
}

func TestEchelonizerRankDeficient(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	base := randomDense(rng, 2, 10)
	w := mat.NewDense(4, 10, nil)
	for j := 0; j < 10; j++ {
		w.Set(0, j, base.At(0, j))
		w.Set(1, j, base.At(1, j))
		w.Set(2, j, 2*base.At(0, j)+3*base.At(1, j))
		w.Set(3, j, -base.At(0, j)+base.At(1, j))
	}

	var e Echelonizer
	e.Compute(w)

	if e.Rank() != 2 {
		t.Fatalf("expected rank 2, got %d", e.Rank())
	}
	m, _ := w.Dims()
	for i := e.Rank(); i < m; i++ {
		for j := 0; j < m; j++ {
			if v := e.R.At(i, j); v != 0 {
				t.Fatalf("expected zero row %d of R below rank, got R[%d,%d]=%v", i, i, j, v)
			}
		}
	}
}

func TestEchelonizerPriorityWeightsNoBeneficialSwapRemains(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	w := randomDense(rng, 4, 10)

	var e Echelonizer
	e.Compute(w)

	weights := make([]float64, 10)
	for i := range weights {
		weights[i] = rng.Float64() * 100
	}

	e.UpdateWithPriorityWeights(weights)

	r, nb := e.Rank(), e.n-e.Rank()
	for i := 0; i < r; i++ {
		wi := weights[e.Q.At(i)]
		for k := 0; k < nb; k++ {
			cand := weights[e.Q.At(r+k)] * math.Abs(e.S.At(i, k))
			if cand > wi+1e-12 {
				t.Fatalf("beneficial swap remains at basic slot %d, nonbasic slot %d: %v > %v", i, k, cand, wi)
			}
		}
	}
	if err := canonicalResidual(&e, w); err > 1e-6 {
		t.Fatalf("canonical form broken after reweight: %e", err)
	}
}

func TestEchelonizerResetRestoresBackup(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	w := randomDense(rng, 3, 6)

	var e Echelonizer
	e.Compute(w)
	r0 := mat.DenseCopyOf(e.R)
	s0 := mat.DenseCopyOf(e.S)

	e.UpdateWithSwapBasicVariable(0, 0)
	e.Reset()

	if !mat.EqualApprox(e.R, r0, 1e-12) || !mat.EqualApprox(e.S, s0, 1e-12) {
		t.Fatalf("reset did not restore backup canonical form")
	}
}

func TestEchelonizerCleanResidualRoundoffErrors(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	w := randomDense(rng, 3, 8)

	var e Echelonizer
	e.Compute(w)
	e.S.Set(0, 0, e.S.At(0, 0)+1e-16)
	e.CleanResidualRoundoffErrors()
	if err := canonicalResidual(&e, w); err > 1e-6 {
		t.Fatalf("cleanup broke canonical form: %e", err)
	}
}

// TestUpdateWithSwapBasicVariablePanicsOnOutOfRangeIndex checks the
// caller-contract violation spec.md §7 names as a documented failure
// kind: an out-of-range (basic, non-basic) slot pair must panic rather
// than silently index past the canonical form's bounds.
func TestUpdateWithSwapBasicVariablePanicsOnOutOfRangeIndex(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	w := randomDense(rng, 3, 6)

	var e Echelonizer
	e.Compute(w)

	defer func() {
		if recover() == nil {
			t.Fatalf("expected a panic for an out-of-range swap index")
		}
	}()
	e.UpdateWithSwapBasicVariable(e.Rank(), 0)
}

// TestUpdateWithSwapBasicVariablePanicsOnPivotBreakdown checks the other
// documented fail-fast kind: pivoting on an entry at or below pivotTau
// must panic rather than divide by a numerically zero pivot.
func TestUpdateWithSwapBasicVariablePanicsOnPivotBreakdown(t *testing.T) {
	var e Echelonizer
	w := mat.NewDense(1, 2, []float64{1, 0})
	e.Compute(w)
	if e.Rank() != 1 {
		t.Fatalf("expected rank 1, got %d", e.Rank())
	}
	if got := e.S.At(0, 0); math.Abs(got) > pivotTau {
		t.Fatalf("expected a sub-threshold pivot at S[0,0], got %v", got)
	}

	defer func() {
		if recover() == nil {
			t.Fatalf("expected a panic for a sub-threshold pivot")
		}
	}()
	e.UpdateWithSwapBasicVariable(0, 0)
}
