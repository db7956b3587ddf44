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
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"

	"github.com/ec-coresyf/coresyf-toolkit-sub000/internal/raster"
)

// WritePIF creates a float32 raster with the MAD variates and the chi-square
// statistic of every pixel in the result's window, georeferenced like ref.
func WritePIF(log *logrus.Logger, ref, tgt raster.Dataset, fileName string, res *Result) (err error) {
	win := res.Window
	out, err := raster.Create(fileName, win.Cols, win.Rows, len(res.Bands)+1, raster.Float32)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()

	if err := out.SetGeoTransform(ref.GeoTransform().Shift(win.X0, win.Y0)); err != nil {
		return err
	}
	if err := out.SetProjection(ref.Projection()); err != nil {
		return err
	}
	if err := WriteMAD(ref, tgt, out, res); err != nil {
		return err
	}
	log.Infof("MAD variates and chi-square written to %s", fileName)
	return nil
}

// WriteMAD projects every pixel of the result's window onto the MAD variates
// (ref-means1)*A - (tgt-means2)*B and writes them to bands 1..n of out, and
// the chi-square statistic sum((MAD/sigma)^2) to band n+1. Pixels failing the
// nodata test are written as NaN.
func WriteMAD(ref, tgt, out raster.Dataset, res *Result) error {
	win, n := res.Window, len(res.Bands)
	if out.Width() != win.Cols || out.Height() != win.Rows || out.Bands() != n+1 {
		return errors.Wrapf(raster.ErrDimensionMismatch, "MAD output %s is %s, want %dx%dx%d",
			out.Path(), raster.DimensionsToString(out), win.Cols, win.Rows, n+1)
	}
	if res.A == nil || res.B == nil {
		return errors.New("MAD output requires canonical transforms")
	}

	valid := res.Valid
	if valid == nil {
		valid = PositiveSum
	}
	lines := make([]*mat.Dense, n+1)
	for i := range lines {
		lines[i] = mat.NewDense(1, win.Cols, nil)
	}
	samples := mat.NewDense(win.Cols, 2*n, nil)
	ok := make([]bool, win.Cols)
	for row := 0; row < win.Rows; row++ {
		refBlocks, err := readBands(ref, res.Bands, win.X0, win.Y0+row, win.Cols, 1)
		if err != nil {
			return err
		}
		tgtBlocks, err := readBands(tgt, res.Bands, win.X0, win.Y0+row, win.Cols, 1)
		if err != nil {
			return err
		}
		for c := 0; c < win.Cols; c++ {
			raw := samples.RawRowView(c)
			for k := 0; k < n; k++ {
				raw[k] = refBlocks[k].At(0, c)
				raw[n+k] = tgtBlocks[k].At(0, c)
			}
			ok[c] = valid(raw[:n], raw[n:])
		}

		mads := projectMADs(samples, n, res)
		chis := chiSquares(mads, res.Sigmas)
		for c := 0; c < win.Cols; c++ {
			if !ok[c] {
				for _, l := range lines {
					l.Set(0, c, math.NaN())
				}
				continue
			}
			for k := 0; k < n; k++ {
				lines[k].Set(0, c, mads.At(c, k))
			}
			lines[n].Set(0, c, chis[c])
		}
		for i, l := range lines {
			if err := out.WriteBand(i+1, l, 0, row); err != nil {
				return errors.Wrapf(err, "writing line %d of %s", row, out.Path())
			}
		}
	}
	return nil
}
