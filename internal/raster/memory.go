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
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// An in-memory raster. Also the pixel store behind the FITS and TIFF drivers,
// which read whole files on open and write them on close.
type Memory struct {
	path      string
	width     int
	height    int
	data      [][]float64 // one row-major slice per band
	geo       GeoTransform
	proj      string
	noData    float64
	hasNoData bool
	closed    bool
}

// NewMemory creates a zero-filled in-memory raster
func NewMemory(width, height, bands int) *Memory {
	data := make([][]float64, bands)
	for i := range data {
		data[i] = make([]float64, width*height)
	}
	return &Memory{
		path:   "memory",
		width:  width,
		height: height,
		data:   data,
		geo:    IdentityGeoTransform,
	}
}

// NewMemoryFromBands wraps the given row-major band slices without copying
func NewMemoryFromBands(width, height int, bands ...[]float64) (*Memory, error) {
	if len(bands) == 0 {
		return nil, errors.New("in-memory raster needs at least one band")
	}
	for i, b := range bands {
		if len(b) != width*height {
			return nil, errors.Errorf("band %d has %d values, want %dx%d", i+1, len(b), width, height)
		}
	}
	return &Memory{
		path:   "memory",
		width:  width,
		height: height,
		data:   bands,
		geo:    IdentityGeoTransform,
	}, nil
}

// SetPath sets the name used in log and error messages
func (m *Memory) SetPath(p string) { m.path = p }

func (m *Memory) Path() string                { return m.path }
func (m *Memory) Width() int                  { return m.width }
func (m *Memory) Height() int                 { return m.height }
func (m *Memory) Bands() int                  { return len(m.data) }
func (m *Memory) GeoTransform() GeoTransform  { return m.geo }
func (m *Memory) Projection() string          { return m.proj }
func (m *Memory) NoData() (float64, bool)     { return m.noData, m.hasNoData }
func (m *Memory) SetGeoTransform(gt GeoTransform) error { m.geo = gt; return nil }
func (m *Memory) SetProjection(wkt string) error        { m.proj = wkt; return nil }

func (m *Memory) SetNoData(value float64) error {
	m.noData, m.hasNoData = value, !math.IsNaN(value)
	return nil
}

// BandData gives direct access to the row-major pixels of a 1-based band
func (m *Memory) BandData(band int) []float64 { return m.data[band-1] }

func (m *Memory) ReadBand(band, x, y, w, h int) (*mat.Dense, error) {
	if m.closed {
		return nil, errors.Errorf("read from closed raster %s", m.path)
	}
	if err := checkBlock(m, band, x, y, w, h); err != nil {
		return nil, err
	}
	src := m.data[band-1]
	block := make([]float64, w*h)
	for row := 0; row < h; row++ {
		copy(block[row*w:(row+1)*w], src[(y+row)*m.width+x:])
	}
	return mat.NewDense(h, w, block), nil
}

func (m *Memory) WriteBand(band int, data *mat.Dense, x, y int) error {
	if m.closed {
		return errors.Errorf("write to closed raster %s", m.path)
	}
	h, w := data.Dims()
	if err := checkBlock(m, band, x, y, w, h); err != nil {
		return err
	}
	dest := m.data[band-1]
	for row := 0; row < h; row++ {
		mat.Row(dest[(y+row)*m.width+x:(y+row)*m.width+x+w], row, data)
	}
	return nil
}

func (m *Memory) Close() error {
	m.closed = true
	return nil
}
