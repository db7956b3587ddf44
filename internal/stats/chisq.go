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

	"gonum.org/v1/gonum/stat/distuv"
)

// NoChangeProb returns the probability 1-CDF(chiSquare) of a chi-square
// distribution with df degrees of freedom, i.e. the probability that a MAD
// vector with this chi-square statistic is pure noise. NaN maps to 0.
func NoChangeProb(chiSquare float64, df int) float64 {
	if math.IsNaN(chiSquare) {
		return 0
	}
	if chiSquare <= 0 {
		return 1
	}
	return distuv.ChiSquared{K: float64(df)}.Survival(chiSquare)
}

// NoChangeProbs computes NoChangeProb for every entry of chiSquares into dest,
// which is reallocated if too small. Returns the filled slice.
func NoChangeProbs(dest, chiSquares []float64, df int) []float64 {
	if cap(dest) < len(chiSquares) {
		dest = make([]float64, len(chiSquares))
	}
	dest = dest[:len(chiSquares)]
	dist := distuv.ChiSquared{K: float64(df)}
	for i, c := range chiSquares {
		switch {
		case math.IsNaN(c):
			dest[i] = 0
		case c <= 0:
			dest[i] = 1
		default:
			dest[i] = dist.Survival(c)
		}
	}
	return dest
}
