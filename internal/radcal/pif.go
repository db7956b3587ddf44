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


package radcal

import (
	"github.com/pkg/errors"

	"github.com/ec-coresyf/coresyf-toolkit-sub000/internal/stats"
)

// ErrEmptyPIFSelection is returned when no pixel passes the no-change
// probability threshold
var ErrEmptyPIFSelection = errors.New("no pseudo-invariant features pass the no-change probability threshold")

// SelectPIFs returns the indices of all pixels whose no-change probability,
// derived from their chi-square statistic with df degrees of freedom,
// exceeds the threshold. Indices are ascending.
func SelectPIFs(chiSquares []float64, df int, threshold float64) ([]int, error) {
	if df < 1 {
		return nil, errors.Errorf("chi-square with %d degrees of freedom", df)
	}
	ncp := stats.NoChangeProbs(nil, chiSquares, df)
	var idx []int
	for i, p := range ncp {
		if p > threshold {
			idx = append(idx, i)
		}
	}
	if len(idx) == 0 {
		return nil, errors.Wrapf(ErrEmptyPIFSelection, "threshold %g on %d pixels", threshold, len(chiSquares))
	}
	return idx, nil
}

// Split partitions PIF indices by position: every third entry, starting with
// the first, goes to the test set, the rest to the training set.
func Split(idx []int) (train, test []int) {
	test = make([]int, 0, (len(idx)+2)/3)
	train = make([]int, 0, len(idx)-cap(test))
	for i, v := range idx {
		if i%3 == 0 {
			test = append(test, v)
		} else {
			train = append(train, v)
		}
	}
	return train, test
}

// Gathers values at the given indices
func gather(data []float64, idx []int) []float64 {
	res := make([]float64, len(idx))
	for i, j := range idx {
		res[i] = data[j]
	}
	return res
}
