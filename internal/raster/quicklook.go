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


package raster

import (
	"bufio"
	"image"
	"image/jpeg"
	"math"
	"os"

	colorful "github.com/lucasb-eyer/go-colorful"
	"github.com/pkg/errors"

	"github.com/ec-coresyf/coresyf-toolkit-sub000/internal/stats"
)

var (
	changeColor = colorful.Hsv(0, 0.85, 0.9)   // red
	stableColor = colorful.Hsv(120, 0.6, 0.75) // green
)

// WriteChangeMapJPEG writes a colour-coded quicklook of the no-change
// probability derived from the last band of a MAD file, which holds the
// chi-square statistic with df degrees of freedom. Red marks change, green
// stable pixels. Nodata and NaN pixels are black.
func WriteChangeMapJPEG(pif Dataset, fileName string, df int, quality int) error {
	if df < 1 {
		return errors.Errorf("invalid degrees of freedom %d", df)
	}
	width, height := pif.Width(), pif.Height()
	chisq, err := pif.ReadBand(pif.Bands(), 0, 0, width, height)
	if err != nil {
		return err
	}
	noData, hasNoData := pif.NoData()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			chi := chisq.At(y, x)
			offset := img.PixOffset(x, y)
			img.Pix[offset+3] = 255
			if math.IsNaN(chi) || (hasNoData && chi == noData) {
				continue
			}
			p := stats.NoChangeProb(chi, df)
			r, g, b := changeColor.BlendHcl(stableColor, p).Clamped().RGB255()
			img.Pix[offset+0] = r
			img.Pix[offset+1] = g
			img.Pix[offset+2] = b
		}
	}

	file, err := os.Create(fileName)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	if err := jpeg.Encode(writer, img, &jpeg.Options{Quality: quality}); err != nil {
		return err
	}
	if err := writer.Flush(); err != nil {
		return err
	}
	return file.Close()
}
