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
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/image/tiff"
)

// Plain TIFF driver for 8 and 16 bit integer rasters with one or three bands.
// The georeference goes into an ESRI world file (.tfw) and the projection
// into a .prj file next to the image.
type tiffDriver struct{}

func (tiffDriver) Name() string { return "TIFF" }

func (tiffDriver) Matches(fileName string) bool {
	return hasSuffix(fileName, ".tif", ".tiff")
}

func init() {
	Register(tiffDriver{}, 10)
}

type tiffDataset struct {
	*Memory
	dtype    DataType
	writable bool
}

func (tiffDriver) Open(fileName string) (Dataset, error) {
	f, err := os.Open(fileName)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, err := tiff.Decode(bufio.NewReader(f))
	if err != nil {
		return nil, err
	}
	m := memoryFromImage(img)
	m.SetPath(fileName)
	if gt, err := readWorldFile(sidecar(fileName, ".tfw")); err == nil {
		m.geo = gt
	}
	if wkt, err := os.ReadFile(sidecar(fileName, ".prj")); err == nil {
		m.proj = strings.TrimSpace(string(wkt))
	}
	return &tiffDataset{Memory: m}, nil
}

func (tiffDriver) Create(fileName string, width, height, bands int, dtype DataType) (Dataset, error) {
	if dtype != UInt16 && dtype != Byte {
		return nil, errors.Wrapf(ErrUnsupported, "TIFF driver cannot write %v, build with GDAL support", dtype)
	}
	if bands != 1 && bands != 3 {
		return nil, errors.Wrapf(ErrUnsupported, "TIFF driver cannot write %d bands", bands)
	}
	f, err := os.Create(fileName)
	if err != nil {
		return nil, err
	}
	f.Close()
	m := NewMemory(width, height, bands)
	m.SetPath(fileName)
	return &tiffDataset{Memory: m, dtype: dtype, writable: true}, nil
}

func (d *tiffDataset) Close() error {
	if d.closed {
		return nil
	}
	var err error
	if d.writable {
		err = d.writeFile()
	}
	d.Memory.Close()
	return err
}

func (d *tiffDataset) writeFile() error {
	file, err := os.Create(d.path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	if err := tiff.Encode(writer, d.toImage(), &tiff.Options{Compression: tiff.Deflate, Predictor: true}); err != nil {
		return err
	}
	if err := writer.Flush(); err != nil {
		return err
	}
	if d.geo != IdentityGeoTransform {
		if err := writeWorldFile(sidecar(d.path, ".tfw"), d.geo); err != nil {
			return err
		}
	}
	if d.proj != "" {
		if err := os.WriteFile(sidecar(d.path, ".prj"), []byte(d.proj+"\n"), 0644); err != nil {
			return err
		}
	}
	return file.Close()
}

// Converts the pixels to a Go image of the dataset's type
func (d *tiffDataset) toImage() image.Image {
	rect := image.Rect(0, 0, d.width, d.height)
	switch {
	case d.dtype == Byte && d.Bands() == 1:
		img := image.NewGray(rect)
		for i, v := range d.data[0] {
			img.Pix[i] = uint8(clamp(v, 0, math.MaxUint8))
		}
		return img
	case d.dtype == Byte:
		img := image.NewRGBA(rect)
		for i := range d.data[0] {
			img.Pix[4*i+0] = uint8(clamp(d.data[0][i], 0, math.MaxUint8))
			img.Pix[4*i+1] = uint8(clamp(d.data[1][i], 0, math.MaxUint8))
			img.Pix[4*i+2] = uint8(clamp(d.data[2][i], 0, math.MaxUint8))
			img.Pix[4*i+3] = math.MaxUint8
		}
		return img
	case d.Bands() == 1:
		img := image.NewGray16(rect)
		for i, v := range d.data[0] {
			img.SetGray16(i%d.width, i/d.width, color.Gray16{uint16(clamp(v, 0, math.MaxUint16))})
		}
		return img
	default:
		img := image.NewRGBA64(rect)
		for i := range d.data[0] {
			img.SetRGBA64(i%d.width, i/d.width, color.RGBA64{
				uint16(clamp(d.data[0][i], 0, math.MaxUint16)),
				uint16(clamp(d.data[1][i], 0, math.MaxUint16)),
				uint16(clamp(d.data[2][i], 0, math.MaxUint16)),
				math.MaxUint16,
			})
		}
		return img
	}
}

// Converts a decoded image into bands. Gray images give one band,
// everything else three. Alpha is dropped.
func memoryFromImage(img image.Image) *Memory {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	switch src := img.(type) {
	case *image.Gray:
		m := NewMemory(w, h, 1)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				m.data[0][y*w+x] = float64(src.GrayAt(b.Min.X+x, b.Min.Y+y).Y)
			}
		}
		return m
	case *image.Gray16:
		m := NewMemory(w, h, 1)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				m.data[0][y*w+x] = float64(src.Gray16At(b.Min.X+x, b.Min.Y+y).Y)
			}
		}
		return m
	case *image.RGBA, *image.NRGBA, *image.Paletted:
		m := NewMemory(w, h, 3)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				c := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
				m.data[0][y*w+x] = float64(c.R)
				m.data[1][y*w+x] = float64(c.G)
				m.data[2][y*w+x] = float64(c.B)
			}
		}
		return m
	default:
		m := NewMemory(w, h, 3)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				c := color.NRGBA64Model.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA64)
				m.data[0][y*w+x] = float64(c.R)
				m.data[1][y*w+x] = float64(c.G)
				m.data[2][y*w+x] = float64(c.B)
			}
		}
		return m
	}
}

// Replaces the file name extension, keeping any directory
func sidecar(fileName, ext string) string {
	for i := len(fileName) - 1; i >= 0 && fileName[i] != '/' && fileName[i] != os.PathSeparator; i-- {
		if fileName[i] == '.' {
			return fileName[:i] + ext
		}
	}
	return fileName + ext
}

// World files hold six lines: x pixel size, row rotation, column rotation,
// y pixel size, and the centre of the top left pixel
func writeWorldFile(fileName string, gt GeoTransform) error {
	cx := gt[0] + 0.5*gt[1] + 0.5*gt[2]
	cy := gt[3] + 0.5*gt[4] + 0.5*gt[5]
	s := fmt.Sprintf("%.12f\n%.12f\n%.12f\n%.12f\n%.12f\n%.12f\n", gt[1], gt[4], gt[2], gt[5], cx, cy)
	return os.WriteFile(fileName, []byte(s), 0644)
}

func readWorldFile(fileName string) (GeoTransform, error) {
	b, err := os.ReadFile(fileName)
	if err != nil {
		return GeoTransform{}, err
	}
	fields := strings.Fields(string(b))
	if len(fields) != 6 {
		return GeoTransform{}, errors.Errorf("world file %s has %d values, want 6", fileName, len(fields))
	}
	var v [6]float64
	for i, f := range fields {
		if v[i], err = strconv.ParseFloat(f, 64); err != nil {
			return GeoTransform{}, errors.Wrapf(err, "world file %s", fileName)
		}
	}
	gt := GeoTransform{0, v[0], v[2], 0, v[1], v[3]}
	gt[0] = v[4] - 0.5*gt[1] - 0.5*gt[2]
	gt[3] = v[5] - 0.5*gt[4] - 0.5*gt[5]
	return gt, nil
}
