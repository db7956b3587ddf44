// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.


package stats

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// TestResult holds a test statistic and its two-sided p-value
type TestResult struct {
	Statistic float64
	P         float64
}

// PairedTTest tests whether the paired samples x and y have equal means.
// Returns Student's t of the differences and the two-sided p-value.
func PairedTTest(x, y []float64) (TestResult, error) {
	if len(x) != len(y) {
		return TestResult{}, errors.Errorf("paired t-test with %d and %d values", len(x), len(y))
	}
	n := len(x)
	if n < 2 {
		return TestResult{}, errors.Wrapf(ErrTooFewSamples, "paired t-test with %d pairs", n)
	}
	d := make([]float64, n)
	for i := range x {
		d[i] = x[i] - y[i]
	}
	mean, std := stat.MeanStdDev(d, nil)
	if std == 0 {
		if mean == 0 {
			return TestResult{Statistic: 0, P: 1}, nil
		}
		return TestResult{Statistic: math.Copysign(math.Inf(1), mean), P: 0}, nil
	}
	t := mean / (std / math.Sqrt(float64(n)))
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(n - 1)}
	return TestResult{Statistic: t, P: math.Min(1, 2*dist.Survival(math.Abs(t)))}, nil
}

// FTest tests whether samples x and y have equal variances. The statistic is
// the ratio of the larger to the smaller sample variance.
func FTest(x, y []float64) (TestResult, error) {
	if len(x) < 2 || len(y) < 2 {
		return TestResult{}, errors.Wrapf(ErrTooFewSamples, "F-test with %d and %d values", len(x), len(y))
	}
	vx, vy := stat.Variance(x, nil), stat.Variance(y, nil)
	nx, ny := float64(len(x)-1), float64(len(y)-1)
	if vx < vy {
		vx, vy = vy, vx
		nx, ny = ny, nx
	}
	switch {
	case vx == 0:
		return TestResult{Statistic: 1, P: 1}, nil
	case vy == 0:
		return TestResult{Statistic: math.Inf(1), P: 0}, nil
	}
	f := vx / vy
	p := 2 * distuv.F{D1: nx, D2: ny}.Survival(f)
	if p > 1 {
		p = 2 - p
	}
	return TestResult{Statistic: f, P: p}, nil
}
