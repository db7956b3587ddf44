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


//go:build gdal

package raster

import (
	"github.com/airbusgeo/godal"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// GDAL driver. Reads every format GDAL knows and writes GeoTIFF. Takes
// precedence over the built-in drivers when compiled in.
type gdalDriver struct{}

func (gdalDriver) Name() string { return "GDAL" }

func (gdalDriver) Matches(fileName string) bool {
	// the built-in FITS driver keeps the georeference keys GDAL does not know
	return !hasSuffix(fileName, ".fits", ".fit", ".fts", ".fits.gz", ".fit.gz", ".fts.gz")
}

func init() {
	godal.RegisterAll()
	Register(gdalDriver{}, 100)
}

type gdalDataset struct {
	path   string
	ds     *godal.Dataset
	closed bool
}

func (gdalDriver) Open(fileName string) (Dataset, error) {
	ds, err := godal.Open(fileName)
	if err != nil {
		return nil, err
	}
	return &gdalDataset{path: fileName, ds: ds}, nil
}

func (gdalDriver) Create(fileName string, width, height, bands int, dtype DataType) (Dataset, error) {
	var gdt godal.DataType
	switch dtype {
	case Float32:
		gdt = godal.Float32
	case Float64:
		gdt = godal.Float64
	case UInt16:
		gdt = godal.UInt16
	case Byte:
		gdt = godal.Byte
	default:
		return nil, errors.Wrapf(ErrUnsupported, "GDAL data type %v", dtype)
	}
	ds, err := godal.Create(godal.GTiff, fileName, bands, gdt, width, height)
	if err != nil {
		return nil, err
	}
	return &gdalDataset{path: fileName, ds: ds}, nil
}

func (d *gdalDataset) Path() string { return d.path }
func (d *gdalDataset) Width() int   { return d.ds.Structure().SizeX }
func (d *gdalDataset) Height() int  { return d.ds.Structure().SizeY }
func (d *gdalDataset) Bands() int   { return len(d.ds.Bands()) }

func (d *gdalDataset) GeoTransform() GeoTransform {
	gt, err := d.ds.GeoTransform()
	if err != nil {
		return IdentityGeoTransform
	}
	return GeoTransform(gt)
}

func (d *gdalDataset) Projection() string { return d.ds.Projection() }

func (d *gdalDataset) NoData() (float64, bool) {
	bands := d.ds.Bands()
	if len(bands) == 0 {
		return 0, false
	}
	return bands[0].NoData()
}

func (d *gdalDataset) ReadBand(band, x, y, w, h int) (*mat.Dense, error) {
	if err := checkBlock(d, band, x, y, w, h); err != nil {
		return nil, err
	}
	buf := make([]float64, w*h)
	if err := d.ds.Bands()[band-1].Read(x, y, buf, w, h); err != nil {
		return nil, errors.Wrapf(err, "reading band %d of %s", band, d.path)
	}
	return mat.NewDense(h, w, buf), nil
}

func (d *gdalDataset) WriteBand(band int, data *mat.Dense, x, y int) error {
	h, w := data.Dims()
	if err := checkBlock(d, band, x, y, w, h); err != nil {
		return err
	}
	buf := make([]float64, 0, w*h)
	for row := 0; row < h; row++ {
		buf = append(buf, data.RawRowView(row)...)
	}
	if err := d.ds.Bands()[band-1].Write(x, y, buf, w, h); err != nil {
		return errors.Wrapf(err, "writing band %d of %s", band, d.path)
	}
	return nil
}

func (d *gdalDataset) SetGeoTransform(gt GeoTransform) error {
	return d.ds.SetGeoTransform([6]float64(gt))
}

func (d *gdalDataset) SetProjection(wkt string) error {
	if wkt == "" {
		return nil
	}
	return d.ds.SetProjection(wkt)
}

func (d *gdalDataset) SetNoData(value float64) error {
	for _, b := range d.ds.Bands() {
		if err := b.SetNoData(value); err != nil {
			return err
		}
	}
	return nil
}

func (d *gdalDataset) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	return d.ds.Close()
}
