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


package main

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/ec-coresyf/coresyf-toolkit-sub000/internal/raster"
)

// Parses a comma-separated list of 1-based band indices. Empty selects all bands
func parseBands(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	res := make([]int, 0, len(parts))
	for _, p := range parts {
		b, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, errors.Wrapf(err, "band list '%s'", s)
		}
		if b < 1 {
			return nil, errors.Errorf("band list '%s': band %d out of range", s, b)
		}
		res = append(res, b)
	}
	return res, nil
}

// Parses a window given as x0,y0,cols,rows. Empty selects the full extent
func parseWindow(s string) (raster.Window, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return raster.Window{}, nil
	}
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return raster.Window{}, errors.Errorf("window '%s' needs four values x0,y0,cols,rows", s)
	}
	var v [4]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return raster.Window{}, errors.Wrapf(err, "window '%s'", s)
		}
		v[i] = n
	}
	if v[0] < 0 || v[1] < 0 || v[2] < 1 || v[3] < 1 {
		return raster.Window{}, errors.Errorf("window '%s' has negative origin or empty size", s)
	}
	return raster.Window{X0: v[0], Y0: v[1], Cols: v[2], Rows: v[3]}, nil
}
