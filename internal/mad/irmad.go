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


// Package mad implements iteratively re-weighted multivariate alteration
// detection (IR-MAD) on a pair of co-registered multi-band rasters.
package mad

import (
	"math"
	"strconv"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/ec-coresyf/coresyf-toolkit-sub000/internal/raster"
	"github.com/ec-coresyf/coresyf-toolkit-sub000/internal/stats"
)

// Iteration parameters
type Options struct {
	Bands         []int         `yaml:"bands" json:"bands"`                 // 1-based band indices, empty for all bands
	MaxIterations int           `yaml:"maxIterations" json:"maxIterations"` // hard cap on iterations
	Tolerance     float64       `yaml:"tolerance" json:"tolerance"`         // convergence threshold on the max change of rho
	Penalty       float64       `yaml:"penalty" json:"penalty"`             // regularization towards identity, 0 disables
	NoData        string        `yaml:"nodata" json:"nodata"`               // nodata policy, see NewPredicate
	Window        raster.Window `yaml:"window" json:"window"`               // spatial subset, zero for full extent
	RowsPerBlock  int           `yaml:"-" json:"-"`                         // scanlines read at once
}

// DefaultOptions returns the standard parameters: all bands, at most 100
// iterations, tolerance 0.001, no penalty, heuristic nodata test
func DefaultOptions() Options {
	return Options{
		MaxIterations: 100,
		Tolerance:     0.001,
		Penalty:       0,
		NoData:        NoDataHeuristic,
		RowsPerBlock:  1,
	}
}

// Validate checks the parameters for consistency
func (o Options) Validate() error {
	if o.MaxIterations < 1 {
		return errors.Errorf("maximum iterations must be positive, got %d", o.MaxIterations)
	}
	if !(o.Tolerance > 0) {
		return errors.Errorf("tolerance must be positive, got %g", o.Tolerance)
	}
	if o.Penalty < 0 || o.Penalty >= 1 {
		return errors.Errorf("penalty must lie in [0,1), got %g", o.Penalty)
	}
	switch o.NoData {
	case NoDataHeuristic, NoDataValue, NoDataNone, "":
	default:
		return errors.Errorf("unknown nodata policy '%s'", o.NoData)
	}
	return nil
}

// Result of an IR-MAD run. A and B hold the canonical loadings as columns,
// ordered by ascending canonical correlation.
type Result struct {
	Bands      []int         // 1-based band indices processed
	Window     raster.Window // resolved window
	A          *mat.Dense    // reference side loadings, bands x bands
	B          *mat.Dense    // target side loadings, bands x bands
	Sigmas     []float64     // standard deviations of the MAD variates
	Rho        []float64     // canonical correlations
	Means1     []float64     // weighted reference band means
	Means2     []float64     // weighted target band means
	S11        *mat.SymDense // reference covariance block of the last iteration, after penalty
	S12        *mat.Dense    // cross covariance block of the last iteration
	Converged  bool
	Iterations int
	Rhos       [][]float64 // canonical correlations per iteration
	Deltas     []float64   // max change of rho per iteration
	Valid      Predicate   `json:"-"`
}

// Iterator runs IR-MAD. It owns its accumulator, so an Iterator must not be
// shared between concurrent runs.
type Iterator struct {
	log  *logrus.Logger
	opts Options
	acc  *stats.Provisional
}

// NewIterator validates the options and creates an iterator logging to log
func NewIterator(log *logrus.Logger, opts Options) (*Iterator, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.RowsPerBlock < 1 {
		opts.RowsPerBlock = 1
	}
	if opts.NoData == "" {
		opts.NoData = NoDataHeuristic
	}
	return &Iterator{log: log, opts: opts}, nil
}

// Options returns the effective options
func (it *Iterator) Options() Options { return it.opts }

// Run iterates until the canonical correlations change by less than the
// tolerance or the iteration cap is hit. Hitting the cap is not an error;
// the result then has Converged unset and carries the last transforms.
func (it *Iterator) Run(ref, tgt raster.Dataset) (*Result, error) {
	if err := raster.CheckSameShape(ref, tgt, true); err != nil {
		return nil, err
	}
	win, err := it.opts.Window.Resolve(ref)
	if err != nil {
		return nil, err
	}
	bands, err := resolveBands(it.opts.Bands, ref.Bands())
	if err != nil {
		return nil, err
	}
	valid, err := NewPredicate(it.opts.NoData, ref, tgt)
	if err != nil {
		return nil, err
	}

	n := len(bands)
	dim := 2 * n
	if it.acc == nil {
		it.acc = stats.NewProvisional(dim)
	}
	res := &Result{Bands: bands, Window: win, Valid: valid}
	lambda := it.opts.Penalty
	oldRho := make([]float64, n)
	solver := solverFor(n)

	it.log.Infof("IR-MAD on %s vs %s, bands %v, window %v, nodata policy %s",
		ref.Path(), tgt.Path(), bands, win, it.opts.NoData)

	for itr := 0; itr < it.opts.MaxIterations; itr++ {
		// accumulate weighted statistics over the window, using the
		// previous transforms for the no-change weights
		it.acc.Reset(dim)
		if err := it.accumulate(ref, tgt, res, itr > 0); err != nil {
			return nil, errors.Wrapf(err, "iteration %d", itr+1)
		}
		means, err := it.acc.Mean()
		if err != nil {
			return nil, errors.Wrapf(err, "iteration %d: no valid pixels", itr+1)
		}
		cov, _ := it.acc.Covariance()
		it.log.Debugf("iteration %d: sum of weights %.3f", itr+1, it.acc.SumWeights())

		// partition and solve
		s11 := penalize(subSym(cov, 0, n), lambda)
		s22 := penalize(subSym(cov, n, n), lambda)
		s12 := crossBlock(cov, n)
		if lambda != 0 {
			s12.Scale(1-lambda, s12)
		}
		a, b, mu2, err := solver.Solve(s11, s22, s12)
		if err != nil {
			return nil, errors.Wrapf(err, "iteration %d", itr+1)
		}
		it.log.Debugf("iteration %d: squared canonical correlations %v", itr+1, mu2)

		rho, sigma := correlations(a, b, mu2, lambda)
		normalizeSigns(a, b, s11, s12)

		delta := 0.0
		for i := range rho {
			delta = math.Max(delta, math.Abs(rho[i]-oldRho[i]))
		}
		copy(oldRho, rho)

		res.A, res.B, res.Sigmas, res.Rho = a, b, sigma, rho
		res.Means1 = append(res.Means1[:0], means.RawVector().Data[:n]...)
		res.Means2 = append(res.Means2[:0], means.RawVector().Data[n:]...)
		res.S11, res.S12 = s11, s12
		res.Iterations = itr + 1
		res.Rhos = append(res.Rhos, rho)
		res.Deltas = append(res.Deltas, delta)
		it.log.Infof("iteration %d: delta %.6f, rho %v", itr+1, delta, formatFloats(rho))

		if delta < it.opts.Tolerance {
			res.Converged = true
			break
		}
	}

	if !res.Converged {
		it.log.Warnf("IR-MAD did not converge within %d iterations, last delta %.6f; using last transforms",
			it.opts.MaxIterations, res.Deltas[len(res.Deltas)-1])
	} else {
		it.log.Infof("IR-MAD converged after %d iterations, sigmas %v", res.Iterations, formatFloats(res.Sigmas))
	}
	return res, nil
}

// One pass over the window. Valid pixels are folded into the accumulator,
// weighted by their no-change probability under the transforms in res if
// weighted is set.
func (it *Iterator) accumulate(ref, tgt raster.Dataset, res *Result, weighted bool) error {
	win, n := res.Window, len(res.Bands)
	var weights []float64
	for y := win.Y0; y < win.Y0+win.Rows; y += it.opts.RowsPerBlock {
		h := it.opts.RowsPerBlock
		if y+h > win.Y0+win.Rows {
			h = win.Y0 + win.Rows - y
		}
		rows, err := readSamples(ref, tgt, res.Bands, win.X0, y, win.Cols, h, res.Valid)
		if err != nil {
			return err
		}
		if rows == nil {
			continue
		}
		if weighted {
			chis := chiSquares(projectMADs(rows, n, res), res.Sigmas)
			weights = stats.NoChangeProbs(weights[:0], chis, n)
		} else {
			weights = nil
		}
		if err := it.acc.Update(rows, weights); err != nil {
			return err
		}
	}
	return nil
}

// Reads a block of w x h pixels from both images and returns one row per
// valid pixel, holding the reference band values followed by the target band
// values. Returns nil if no pixel in the block is valid.
func readSamples(ref, tgt raster.Dataset, bands []int, x, y, w, h int, valid Predicate) (*mat.Dense, error) {
	refBlocks, err := readBands(ref, bands, x, y, w, h)
	if err != nil {
		return nil, err
	}
	tgtBlocks, err := readBands(tgt, bands, x, y, w, h)
	if err != nil {
		return nil, err
	}
	n := len(bands)
	data := make([]float64, 0, w*h*2*n)
	sample := make([]float64, 2*n)
	for r := 0; r < h; r++ {
		for c := 0; c < w; c++ {
			for k := 0; k < n; k++ {
				sample[k] = refBlocks[k].At(r, c)
				sample[n+k] = tgtBlocks[k].At(r, c)
			}
			if valid(sample[:n], sample[n:]) {
				data = append(data, sample...)
			}
		}
	}
	if len(data) == 0 {
		return nil, nil
	}
	return mat.NewDense(len(data)/(2*n), 2*n, data), nil
}

// Reads the same block from each of the given bands
func readBands(ds raster.Dataset, bands []int, x, y, w, h int) ([]*mat.Dense, error) {
	blocks := make([]*mat.Dense, len(bands))
	for i, b := range bands {
		block, err := ds.ReadBand(b, x, y, w, h)
		if err != nil {
			return nil, errors.Wrapf(err, "reading band %d of %s", b, ds.Path())
		}
		blocks[i] = block
	}
	return blocks, nil
}

// Projects sample rows onto the MAD variates, (ref-means1)*A - (tgt-means2)*B
func projectMADs(rows *mat.Dense, n int, res *Result) *mat.Dense {
	r, _ := rows.Dims()
	xr := mat.DenseCopyOf(rows.Slice(0, r, 0, n))
	xt := mat.DenseCopyOf(rows.Slice(0, r, n, 2*n))
	for i := 0; i < r; i++ {
		floats.Sub(xr.RawRowView(i), res.Means1)
		floats.Sub(xt.RawRowView(i), res.Means2)
	}
	var u, v mat.Dense
	u.Mul(xr, res.A)
	v.Mul(xt, res.B)
	u.Sub(&u, &v)
	return &u
}

// Chi-square statistic per row of mads, the sum of squared standardized
// variates. Variates with zero standard deviation do not contribute.
func chiSquares(mads *mat.Dense, sigmas []float64) []float64 {
	r, c := mads.Dims()
	chis := make([]float64, r)
	for i := 0; i < r; i++ {
		row := mads.RawRowView(i)
		chi := 0.0
		for j := 0; j < c; j++ {
			if sigmas[j] > 0 {
				z := row[j] / sigmas[j]
				chi += z * z
			}
		}
		chis[i] = chi
	}
	return chis
}

// Canonical correlations and MAD standard deviations from the loadings and
// squared correlations, accounting for the penalty lambda:
// rho = mu(1-lambda)/sqrt((1-lambda a2)(1-lambda b2)),
// sigma = sqrt((2-lambda(a2+b2))/(1-lambda) - 2mu).
func correlations(a, b *mat.Dense, mu2 []float64, lambda float64) (rho, sigma []float64) {
	n := len(mu2)
	var ata, btb mat.Dense
	ata.Mul(a.T(), a)
	btb.Mul(b.T(), b)
	rho = make([]float64, n)
	sigma = make([]float64, n)
	for i := 0; i < n; i++ {
		mu := math.Sqrt(math.Max(mu2[i], 0))
		a2, b2 := ata.At(i, i), btb.At(i, i)
		rho[i] = mu * (1 - lambda) / math.Sqrt((1-lambda*a2)*(1-lambda*b2))
		sigma[i] = math.Sqrt(math.Max((2-lambda*(a2+b2))/(1-lambda)-2*mu, 0))
	}
	return rho, sigma
}

// Fixes the arbitrary signs of the eigenvectors. Flips columns of A so the
// correlations of each reference variate with the original bands sum to a
// non-negative number, then flips columns of B so each pair of variates
// correlates non-negatively.
func normalizeSigns(a, b *mat.Dense, s11 mat.Symmetric, s12 mat.Matrix) {
	n := s11.SymmetricDim()
	d := mat.NewDiagDense(n, nil)
	for i := 0; i < n; i++ {
		d.SetDiag(i, 1/math.Sqrt(s11.At(i, i)))
	}
	var ds, dsa mat.Dense
	ds.Mul(d, s11)
	dsa.Mul(&ds, a)
	for j := 0; j < n; j++ {
		if mat.Sum(dsa.ColView(j)) < 0 {
			flipCol(a, j)
		}
	}

	var at, atsb mat.Dense
	at.Mul(a.T(), s12)
	atsb.Mul(&at, b)
	for j := 0; j < n; j++ {
		if atsb.At(j, j) < 0 {
			flipCol(b, j)
		}
	}
}

func flipCol(m *mat.Dense, j int) {
	r, _ := m.Dims()
	for i := 0; i < r; i++ {
		m.Set(i, j, -m.At(i, j))
	}
}

// Copies the n x n diagonal block of s starting at index i
func subSym(s *mat.SymDense, i, n int) *mat.SymDense {
	res := mat.NewSymDense(n, nil)
	for r := 0; r < n; r++ {
		for c := r; c < n; c++ {
			res.SetSym(r, c, s.At(i+r, i+c))
		}
	}
	return res
}

// Copies the upper right n x n block of the 2n x 2n matrix s
func crossBlock(s *mat.SymDense, n int) *mat.Dense {
	res := mat.NewDense(n, n, nil)
	for r := 0; r < n; r++ {
		for c := 0; c < n; c++ {
			res.Set(r, c, s.At(r, n+c))
		}
	}
	return res
}

// Defaults empty band lists to all bands and checks the indices
func resolveBands(bands []int, count int) ([]int, error) {
	if len(bands) == 0 {
		res := make([]int, count)
		for i := range res {
			res[i] = i + 1
		}
		return res, nil
	}
	seen := map[int]bool{}
	for _, b := range bands {
		if b < 1 || b > count {
			return nil, errors.Errorf("band %d out of range 1..%d", b, count)
		}
		if seen[b] {
			return nil, errors.Errorf("band %d selected twice", b)
		}
		seen[b] = true
	}
	return append([]int(nil), bands...), nil
}

func formatFloats(a []float64) []string {
	res := make([]string, len(a))
	for i, v := range a {
		res[i] = strconv.FormatFloat(v, 'f', 6, 64)
	}
	return res
}
