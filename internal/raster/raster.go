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


// Package raster provides band-oriented access to georeferenced raster files.
// Drivers register themselves for file name suffixes; Open and Create pick the
// first matching driver with the highest priority.
package raster

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ErrDimensionMismatch is returned when two rasters which must cover the same
// pixel grid differ in width, height or band count
var ErrDimensionMismatch = errors.New("raster dimension mismatch")

// ErrUnsupported is returned when no driver can handle a file, or a driver
// cannot create the requested data type or band count
var ErrUnsupported = errors.New("unsupported raster format")

// Affine transform from pixel/line to georeferenced coordinates, in GDAL order:
// Xgeo = gt[0] + col*gt[1] + row*gt[2], Ygeo = gt[3] + col*gt[4] + row*gt[5]
type GeoTransform [6]float64

// IdentityGeoTransform maps pixel coordinates onto themselves
var IdentityGeoTransform = GeoTransform{0, 1, 0, 0, 0, 1}

// Shift returns the transform for a window whose top left corner is pixel (x0, y0)
func (gt GeoTransform) Shift(x0, y0 int) GeoTransform {
	res := gt
	res[0] = gt[0] + float64(x0)*gt[1] + float64(y0)*gt[2]
	res[3] = gt[3] + float64(x0)*gt[4] + float64(y0)*gt[5]
	return res
}

// Pixel data type for newly created rasters
type DataType int

const (
	Float32 DataType = iota
	Float64
	UInt16
	Byte
)

func (dt DataType) String() string {
	switch dt {
	case Float32:
		return "Float32"
	case Float64:
		return "Float64"
	case UInt16:
		return "UInt16"
	case Byte:
		return "Byte"
	}
	return fmt.Sprintf("DataType(%d)", int(dt))
}

// A raster dataset with one or more bands of equal size. Band indices are 1-based.
// Block reads and writes use matrices with one row per scanline.
type Dataset interface {
	Path() string
	Width() int
	Height() int
	Bands() int
	GeoTransform() GeoTransform
	Projection() string
	NoData() (value float64, ok bool)

	// Reads a h x w block of the given band with top left corner (x, y)
	ReadBand(band, x, y, w, h int) (*mat.Dense, error)
	// Writes the given block into the band with top left corner (x, y)
	WriteBand(band int, data *mat.Dense, x, y int) error

	SetGeoTransform(gt GeoTransform) error
	SetProjection(wkt string) error
	SetNoData(value float64) error

	// Flushes pending writes and releases resources. Safe to call more than once.
	Close() error
}

// A raster file format
type Driver interface {
	Name() string
	Matches(fileName string) bool
	Open(fileName string) (Dataset, error)
	Create(fileName string, width, height, bands int, dtype DataType) (Dataset, error)
}

type registration struct {
	driver   Driver
	priority int
}

var registry = struct {
	sync.RWMutex
	drivers []registration
}{}

// Register adds a driver. Drivers with higher priority are consulted first.
func Register(d Driver, priority int) {
	registry.Lock()
	defer registry.Unlock()
	for _, r := range registry.drivers {
		if r.driver.Name() == d.Name() {
			panic(fmt.Sprintf("error: re-registering raster driver %s\n", d.Name()))
		}
	}
	registry.drivers = append(registry.drivers, registration{d, priority})
	sort.SliceStable(registry.drivers, func(i, j int) bool {
		return registry.drivers[i].priority > registry.drivers[j].priority
	})
}

// Drivers returns the names of all registered drivers, in order of precedence
func Drivers() []string {
	registry.RLock()
	defer registry.RUnlock()
	names := make([]string, len(registry.drivers))
	for i, r := range registry.drivers {
		names[i] = r.driver.Name()
	}
	return names
}

func driverFor(fileName string) (Driver, error) {
	registry.RLock()
	defer registry.RUnlock()
	for _, r := range registry.drivers {
		if r.driver.Matches(fileName) {
			return r.driver, nil
		}
	}
	return nil, errors.Wrapf(ErrUnsupported, "no raster driver for '%s'", fileName)
}

// Open opens an existing raster file for reading
func Open(fileName string) (Dataset, error) {
	d, err := driverFor(fileName)
	if err != nil {
		return nil, err
	}
	ds, err := d.Open(fileName)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: opening %s", d.Name(), fileName)
	}
	return ds, nil
}

// Create creates a new raster file, overwriting any existing file
func Create(fileName string, width, height, bands int, dtype DataType) (Dataset, error) {
	if width < 1 || height < 1 || bands < 1 {
		return nil, errors.Errorf("cannot create %dx%d raster with %d bands", width, height, bands)
	}
	d, err := driverFor(fileName)
	if err != nil {
		return nil, err
	}
	ds, err := d.Create(fileName, width, height, bands, dtype)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: creating %s", d.Name(), fileName)
	}
	return ds, nil
}

// Returns true if the lower case file name ends with one of the suffixes
func hasSuffix(fileName string, suffixes ...string) bool {
	lower := strings.ToLower(fileName)
	for _, s := range suffixes {
		if strings.HasSuffix(lower, s) {
			return true
		}
	}
	return false
}

// DimensionsToString formats the width, height and band count of a dataset
func DimensionsToString(ds Dataset) string {
	return fmt.Sprintf("%dx%dx%d", ds.Width(), ds.Height(), ds.Bands())
}

// CheckSameShape fails with ErrDimensionMismatch if a and b differ in width or
// height, or in band count if checkBands is set
func CheckSameShape(a, b Dataset, checkBands bool) error {
	if a.Width() != b.Width() || a.Height() != b.Height() || (checkBands && a.Bands() != b.Bands()) {
		what := "size"
		if checkBands {
			what = "size or band count"
		}
		return errors.Wrapf(ErrDimensionMismatch, "%s differs: %s is %s, %s is %s", what,
			filepath.Base(a.Path()), DimensionsToString(a), filepath.Base(b.Path()), DimensionsToString(b))
	}
	return nil
}

// A rectangular pixel window. The zero value stands for the full extent.
type Window struct {
	X0   int `yaml:"x0" json:"x0"`
	Y0   int `yaml:"y0" json:"y0"`
	Cols int `yaml:"cols" json:"cols"`
	Rows int `yaml:"rows" json:"rows"`
}

// IsFull returns true for the zero window
func (w Window) IsFull() bool { return w == Window{} }

func (w Window) String() string {
	return fmt.Sprintf("%dx%d+%d+%d", w.Cols, w.Rows, w.X0, w.Y0)
}

// Resolve turns the zero window into the full extent of ds, and checks that
// the window lies within ds
func (w Window) Resolve(ds Dataset) (Window, error) {
	if w.IsFull() {
		return Window{0, 0, ds.Width(), ds.Height()}, nil
	}
	if w.X0 < 0 || w.Y0 < 0 || w.Cols < 1 || w.Rows < 1 ||
		w.X0+w.Cols > ds.Width() || w.Y0+w.Rows > ds.Height() {
		return w, errors.Wrapf(ErrDimensionMismatch, "window %v outside %s of %s",
			w, DimensionsToString(ds), filepath.Base(ds.Path()))
	}
	return w, nil
}

// Checks block bounds for a read or write on a dataset
func checkBlock(ds Dataset, band, x, y, w, h int) error {
	if band < 1 || band > ds.Bands() {
		return errors.Errorf("band %d out of range 1..%d in %s", band, ds.Bands(), filepath.Base(ds.Path()))
	}
	if w < 1 || h < 1 || x < 0 || y < 0 || x+w > ds.Width() || y+h > ds.Height() {
		return errors.Errorf("block %dx%d+%d+%d outside %dx%d raster %s", w, h, x, y,
			ds.Width(), ds.Height(), filepath.Base(ds.Path()))
	}
	return nil
}
