// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package solver

import (
	"math"
	"testing"

	"github.com/riverstone-labs/saddlepoint/numdiff"
)

// TestObjectiveGradientMatchesFiniteDifference cross-checks the analytic
// gradient returned by a Problem's Objective callback against a central
// finite-difference approximation, catching the class of bug where a
// caller's hand-derived gradient disagrees with its own objective value.
func TestObjectiveGradientMatchesFiniteDifference(t *testing.T) {
	d := []float64{9, 8, 7, 3}
	target := []float64{1, 1, 1, 1}
	prob := diagonalQuadratic(d, target)

	n := len(d)
	x0 := []float64{0.2, 1.7, -0.4, 2.1}

	spec := numdiff.JacobianApprox{
		N: n, M: 1,
		Method: numdiff.Central,
		Func: func(x, y []float64) {
			f, _, _, _ := prob.Objective(x, nil)
			y[0] = f
		},
	}
	approxGrad := make([]float64, n)
	if err := spec.Diff(x0, approxGrad); err != nil {
		t.Fatalf("finite-difference check: %v", err)
	}

	_, analyticGrad, _, _ := prob.Objective(x0, nil)
	for i := range analyticGrad {
		if diff := math.Abs(analyticGrad[i] - approxGrad[i]); diff > 1e-5 {
			t.Fatalf("gradient[%d]: analytic %v vs finite-difference %v", i, analyticGrad[i], approxGrad[i])
		}
	}
}
