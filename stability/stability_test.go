// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package stability

import (
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/riverstone-labs/saddlepoint/echelon"
)

func TestCheckerPartitionsAllVariables(t *testing.T) {
	w := mat.NewDense(2, 4, []float64{
		1, 0, 1, 0,
		0, 1, 0, 1,
	})
	var ech echelon.Echelonizer
	ech.Compute(w)

	x := []float64{0, 1, 0.5, 2}
	lo := []float64{0, 0, 0, 0}
	hi := []float64{1, 2, 1, 2}
	fx := []float64{1, -1, 0, 0}
	y := []float64{0, 0}

	st := Checker{}.Update(&ech, w, fx, y, x, lo, hi)

	total := len(st.Stable) + len(st.LowerUnstable) + len(st.UpperUnstable) + len(st.StrictlyUnstable)
	if total != len(x) {
		t.Fatalf("partition does not cover all variables: got %d want %d", total, len(x))
	}

	seen := make(map[int]int)
	for _, i := range st.Stable {
		seen[i]++
	}
	for _, i := range st.LowerUnstable {
		seen[i]++
	}
	for _, i := range st.UpperUnstable {
		seen[i]++
	}
	for _, i := range st.StrictlyUnstable {
		seen[i]++
	}
	for i := 0; i < len(x); i++ {
		if seen[i] != 1 {
			t.Fatalf("variable %d classified %d times, want exactly 1", i, seen[i])
		}
	}
}

func TestCheckerHandlesFreeParameterColumns(t *testing.T) {
	// w has 3 columns but x (and its bounds) cover only the first 2: the
	// third column is a free parameter with no bound to classify against.
	// This guards against sizing the basic-slot lookup by len(x) instead of
	// by w's column count.
	w := mat.NewDense(2, 3, []float64{
		1, 0, 1,
		0, 1, 1,
	})
	var ech echelon.Echelonizer
	ech.Compute(w)

	x := []float64{0, 1}
	lo := []float64{0, 0}
	hi := []float64{1, 2}
	fx := []float64{1, -1, 0}
	y := []float64{0, 0}

	st := Checker{}.Update(&ech, w, fx, y, x, lo, hi)

	total := len(st.Stable) + len(st.LowerUnstable) + len(st.UpperUnstable) + len(st.StrictlyUnstable)
	if total != len(x) {
		t.Fatalf("partition does not cover all variables: got %d want %d", total, len(x))
	}
}

func TestCheckerFixedVariableIsStrictlyUnstable(t *testing.T) {
	w := mat.NewDense(1, 2, []float64{1, 1})
	var ech echelon.Echelonizer
	ech.Compute(w)

	x := []float64{1, 1}
	lo := []float64{1, 0}
	hi := []float64{1, 2}
	fx := []float64{0, 0}
	y := []float64{0}

	st := Checker{}.Update(&ech, w, fx, y, x, lo, hi)
	if len(st.StrictlyUnstable) != 1 || st.StrictlyUnstable[0] != 0 {
		t.Fatalf("expected variable 0 (xlower==xupper) strictly unstable, got %+v", st)
	}
}
