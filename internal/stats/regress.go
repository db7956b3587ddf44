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
)

// ErrZeroVariance is returned when a fit or test is requested on constant data
var ErrZeroVariance = errors.New("zero variance in sample data")

// ErrTooFewSamples is returned when a statistic needs more samples than given
var ErrTooFewSamples = errors.New("too few samples")

// Fit is the result of a straight line fit y = Intercept + Slope*x
type Fit struct {
	Slope       float64
	Intercept   float64
	Correlation float64
}

// Apply evaluates the fitted line at x
func (f Fit) Apply(x float64) float64 { return f.Intercept + f.Slope*x }

// OrthoRegress fits a straight line through the points (x[i], y[i]) minimizing
// perpendicular distances, i.e. along the first principal axis of the 2x2
// sample covariance. Both coordinates may carry measurement noise.
func OrthoRegress(x, y []float64) (Fit, error) {
	if len(x) != len(y) {
		return Fit{}, errors.Errorf("orthogonal regression with %d x and %d y values", len(x), len(y))
	}
	if len(x) < 2 {
		return Fit{}, errors.Wrapf(ErrTooFewSamples, "orthogonal regression with %d points", len(x))
	}
	xm, sxx := stat.MeanVariance(x, nil)
	ym, syy := stat.MeanVariance(y, nil)
	sxy := stat.Covariance(x, y, nil)
	if !(sxx > 0) || !(syy > 0) {
		return Fit{}, errors.Wrapf(ErrZeroVariance, "orthogonal regression with var(x)=%g var(y)=%g", sxx, syy)
	}
	if sxy == 0 {
		return Fit{}, errors.Wrap(ErrZeroVariance, "orthogonal regression on uncorrelated data")
	}

	// slope of the major axis, using the form without cancellation
	root := math.Sqrt((syy-sxx)*(syy-sxx) + 4*sxy*sxy)
	var slope float64
	if syy >= sxx {
		slope = (syy - sxx + root) / (2 * sxy)
	} else {
		slope = 2 * sxy / (sxx - syy + root)
	}
	return Fit{
		Slope:       slope,
		Intercept:   ym - slope*xm,
		Correlation: sxy / math.Sqrt(sxx*syy),
	}, nil
}
