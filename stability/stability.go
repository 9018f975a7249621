// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package stability classifies primal variables into stable,
// lower-unstable, upper-unstable and strictly-unstable sets using the
// echelonized constraint matrix, the objective gradient and the current
// multipliers.
package stability

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/riverstone-labs/saddlepoint/echelon"
)

// BoundTol is the absolute tolerance used to decide whether a variable sits
// on one of its bounds. A variable on a bound holds the bound value exactly
// (the solver clips the starting point into the bounds, and the Stepper pins
// strictly-unstable variables to their bound after each Update), so an
// absolute tolerance (rather than a relative one) is adequate here.
const BoundTol = 1e-10

// Status holds the four disjoint index sets computed by Update. Their union
// is always {0, ..., n-1}.
type Status struct {
	Stable           []int
	LowerUnstable    []int
	UpperUnstable    []int
	StrictlyUnstable []int
}

// Unstable returns LowerUnstable ∪ UpperUnstable ∪ StrictlyUnstable.
func (s Status) Unstable() []int {
	out := make([]int, 0, len(s.LowerUnstable)+len(s.UpperUnstable)+len(s.StrictlyUnstable))
	out = append(out, s.LowerUnstable...)
	out = append(out, s.UpperUnstable...)
	out = append(out, s.StrictlyUnstable...)
	return out
}

// StrictlyUnstableSet returns a copy of the strictly-unstable set alone,
// mirroring the original's indicesStrictlyUnstableVariables query.
func (s Status) StrictlyUnstableSet() []int {
	out := make([]int, len(s.StrictlyUnstable))
	copy(out, s.StrictlyUnstable)
	return out
}

// Checker is a stateless classifier: Update recomputes Status from scratch
// on every call rather than incrementally patching a prior classification.
type Checker struct{}

// Update classifies variables given the current echelon form of W, the
// objective gradient fx, the multipliers y, the iterate x and its bounds.
// zstar = fx + Wᵀy is the instability measure driving the classification;
// ties and exactly-zero measures resolve to Stable.
func (Checker) Update(ech *echelon.Echelonizer, w *mat.Dense, fx, y, x, xlower, xupper []float64) Status {
	n := len(x)
	_, wcols := w.Dims()
	var zstar mat.VecDense
	zstar.MulVec(w.T(), mat.NewVecDense(len(y), y))

	r := ech.Rank()
	basicSlot := make([]int, wcols) // -1 if not basic, else slot index in [0, r)
	for i := range basicSlot {
		basicSlot[i] = -1
	}
	for i := 0; i < r; i++ {
		basicSlot[ech.Q.At(i)] = i
	}

	st := Status{}
	for i := 0; i < n; i++ {
		atLower := x[i]-xlower[i] <= BoundTol
		atUpper := xupper[i]-x[i] <= BoundTol
		if atLower && atUpper {
			// a fixed variable (xlower == xupper): treat as structurally pinned.
			st.StrictlyUnstable = append(st.StrictlyUnstable, i)
			continue
		}
		if !atLower && !atUpper {
			st.Stable = append(st.Stable, i)
			continue
		}

		if slot := basicSlot[i]; slot >= 0 && rowIsZero(ech.S, slot) {
			st.StrictlyUnstable = append(st.StrictlyUnstable, i)
			continue
		}

		z := fx[i] + zstar.AtVec(i)
		switch {
		case atLower && z < 0:
			st.LowerUnstable = append(st.LowerUnstable, i)
		case atUpper && z > 0:
			st.UpperUnstable = append(st.UpperUnstable, i)
		default:
			st.Stable = append(st.Stable, i)
		}
	}
	return st
}

func rowIsZero(s *mat.Dense, row int) bool {
	if s == nil {
		return true
	}
	_, c := s.Dims()
	for j := 0; j < c; j++ {
		if math.Abs(s.At(row, j)) > BoundTol {
			return false
		}
	}
	return true
}
