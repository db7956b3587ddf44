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


// Package stats holds the statistics used by the change detection and
// calibration stages: weighted provisional means and covariances, chi-square
// no-change probabilities, orthogonal regression and two-sample tests.
package stats

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ErrZeroWeight is returned when means or covariances are requested before
// any sample with positive weight was accumulated.
var ErrZeroWeight = errors.New("division by zero: total sample weight is zero")

// Provisional accumulates weighted means and the weighted biased covariance
// of a stream of sample vectors. Samples are folded in one by one with West's
// incremental update, so no raw sums of squares are kept and large pixel
// values do not cancel catastrophically.
type Provisional struct {
	dim  int
	sw   float64       // sum of weights
	mean *mat.VecDense // running weighted mean
	com  *mat.SymDense // running weighted co-moment, sum w*(x-mean)(x-mean)^T
	diff *mat.VecDense // scratch
}

// NewProvisional creates an accumulator for vectors of the given dimension
func NewProvisional(dim int) *Provisional {
	p := &Provisional{}
	p.Reset(dim)
	return p
}

// Reset clears all accumulated state and sets the vector dimension
func (p *Provisional) Reset(dim int) {
	if dim < 1 {
		panic("stats: provisional dimension must be positive")
	}
	if p.dim != dim || p.mean == nil {
		p.dim = dim
		p.mean = mat.NewVecDense(dim, nil)
		p.com = mat.NewSymDense(dim, nil)
		p.diff = mat.NewVecDense(dim, nil)
	} else {
		p.mean.Zero()
		p.com.Zero()
		p.diff.Zero()
	}
	p.sw = 0
}

// Dim returns the vector dimension
func (p *Provisional) Dim() int { return p.dim }

// SumWeights returns the total weight accumulated so far
func (p *Provisional) SumWeights() float64 { return p.sw }

// Update folds in all rows of the given sample matrix. Weights must be nil,
// meaning weight 1 for every row, or have one entry per row.
func (p *Provisional) Update(rows mat.Matrix, weights []float64) error {
	r, c := rows.Dims()
	if c != p.dim {
		return errors.Errorf("sample rows have %d columns, accumulator expects %d", c, p.dim)
	}
	if weights != nil && len(weights) != r {
		return errors.Errorf("%d weights for %d sample rows", len(weights), r)
	}
	x := make([]float64, c)
	for i := 0; i < r; i++ {
		if raw, ok := rows.(mat.RawRowViewer); ok {
			x = raw.RawRowView(i)
		} else {
			mat.Row(x, i, rows)
		}
		w := 1.0
		if weights != nil {
			w = weights[i]
		}
		p.UpdateRow(x, w)
	}
	return nil
}

// UpdateRow folds in a single sample with the given weight. Samples with
// non-positive or NaN weight carry no information and are skipped.
func (p *Provisional) UpdateRow(x []float64, w float64) {
	if !(w > 0) || math.IsInf(w, 0) {
		return
	}
	swNew := p.sw + w
	r := w / swNew
	for j, v := range x {
		d := v - p.mean.AtVec(j)
		p.diff.SetVec(j, d)
		p.mean.SetVec(j, p.mean.AtVec(j)+r*d)
	}
	p.com.SymRankOne(p.com, w*p.sw/swNew, p.diff)
	p.sw = swNew
}

// Mean returns the weighted mean vector
func (p *Provisional) Mean() (*mat.VecDense, error) {
	if p.sw <= 0 {
		return nil, ErrZeroWeight
	}
	m := mat.NewVecDense(p.dim, nil)
	m.CopyVec(p.mean)
	return m, nil
}

// Covariance returns the biased weighted covariance, i.e. the weighted
// second moment about the mean divided by the sum of weights
func (p *Provisional) Covariance() (*mat.SymDense, error) {
	if p.sw <= 0 {
		return nil, ErrZeroWeight
	}
	c := mat.NewSymDense(p.dim, nil)
	c.ScaleSym(1/p.sw, p.com)
	return c, nil
}
