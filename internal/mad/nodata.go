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


package mad

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"

	"github.com/ec-coresyf/coresyf-toolkit-sub000/internal/raster"
)

// A per-pixel validity test. ref and tgt hold the values of the selected
// bands of the reference and target image for one pixel.
type Predicate func(ref, tgt []float64) bool

// Names of the nodata policies
const (
	NoDataHeuristic = "heuristic" // band values of each image must sum to a positive number
	NoDataValue     = "value"     // no band may equal its image's nodata value
	NoDataNone      = "none"      // only NaN marks invalid pixels
)

// NewPredicate returns the validity test for the named nodata policy. The
// value policy takes the nodata values from the given datasets.
func NewPredicate(policy string, ref, tgt raster.Dataset) (Predicate, error) {
	switch policy {
	case NoDataHeuristic, "":
		return PositiveSum, nil
	case NoDataValue:
		refND, refOK := ref.NoData()
		tgtND, tgtOK := tgt.NoData()
		return NoDataValues(refND, refOK, tgtND, tgtOK), nil
	case NoDataNone:
		return AllValid, nil
	}
	return nil, errors.Errorf("unknown nodata policy '%s'", policy)
}

// PositiveSum accepts a pixel if both its reference and target band values
// sum to a positive number. NaN sums fail the test.
func PositiveSum(ref, tgt []float64) bool {
	return floats.Sum(ref) > 0 && floats.Sum(tgt) > 0
}

// AllValid accepts every pixel without NaN values
func AllValid(ref, tgt []float64) bool {
	for _, v := range ref {
		if math.IsNaN(v) {
			return false
		}
	}
	for _, v := range tgt {
		if math.IsNaN(v) {
			return false
		}
	}
	return true
}

// NoDataValues rejects a pixel if any band is NaN or equals the nodata value
// of its image, where one is set
func NoDataValues(refND float64, refOK bool, tgtND float64, tgtOK bool) Predicate {
	return func(ref, tgt []float64) bool {
		for _, v := range ref {
			if math.IsNaN(v) || (refOK && v == refND) {
				return false
			}
		}
		for _, v := range tgt {
			if math.IsNaN(v) || (tgtOK && v == tgtND) {
				return false
			}
		}
		return true
	}
}
