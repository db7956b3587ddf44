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
	"compress/gzip"
	"encoding/binary"
	"io"
	"math"
	"os"
	"strconv"

	"github.com/pkg/errors"
)

// FITS driver. Georeference is stored in the GEOTR1..GEOTR6 and PROJWKT
// header keys, the nodata value in NODATA. NAXIS3 holds the band count.
type fitsDriver struct{}

func (fitsDriver) Name() string { return "FITS" }

func (fitsDriver) Matches(fileName string) bool {
	return hasSuffix(fileName, ".fits", ".fit", ".fts", ".fits.gz", ".fit.gz", ".fts.gz")
}

func init() {
	Register(fitsDriver{}, 10)
}

// A FITS raster, held in memory and written on close if created for writing
type fitsDataset struct {
	*Memory
	dtype    DataType
	writable bool
}

func (fitsDriver) Open(fileName string) (Dataset, error) {
	f, err := os.Open(fileName)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = bufio.NewReader(f)
	if hasSuffix(fileName, ".gz") {
		if r, err = gzip.NewReader(r); err != nil {
			return nil, err
		}
	}
	m, err := readFITS(r)
	if err != nil {
		return nil, err
	}
	m.SetPath(fileName)
	return &fitsDataset{Memory: m}, nil
}

func (fitsDriver) Create(fileName string, width, height, bands int, dtype DataType) (Dataset, error) {
	// fail early rather than on close
	f, err := os.Create(fileName)
	if err != nil {
		return nil, err
	}
	f.Close()
	m := NewMemory(width, height, bands)
	m.SetPath(fileName)
	return &fitsDataset{Memory: m, dtype: dtype, writable: true}, nil
}

func (d *fitsDataset) Close() error {
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

func (d *fitsDataset) writeFile() error {
	f, err := os.Create(d.path)
	if err != nil {
		return err
	}
	var w io.Writer = f
	var gz *gzip.Writer
	if hasSuffix(d.path, ".gz") {
		gz = gzip.NewWriter(f)
		w = gz
	}
	bw := bufio.NewWriter(w)
	if err := writeFITS(bw, d.Memory, d.dtype); err != nil {
		f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return err
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			f.Close()
			return err
		}
	}
	return f.Close()
}

// Reads a FITS primary HDU with 2 or 3 axes into memory, applying BSCALE and BZERO
func readFITS(r io.Reader) (*Memory, error) {
	h := newFITSHeader()
	if err := h.read(r); err != nil {
		return nil, err
	}
	if !h.Bools["SIMPLE"] {
		return nil, errors.New("not a valid FITS file; SIMPLE=T missing in header")
	}
	bitpix, err := h.popInt("BITPIX")
	if err != nil {
		return nil, err
	}
	naxis, err := h.popInt("NAXIS")
	if err != nil {
		return nil, err
	}
	if naxis < 2 || naxis > 3 {
		return nil, errors.Wrapf(ErrUnsupported, "FITS file with NAXIS=%d", naxis)
	}
	dims := []int64{1, 1, 1}
	for i := int64(1); i <= naxis; i++ {
		if dims[i-1], err = h.popInt("NAXIS" + strconv.FormatInt(i, 10)); err != nil {
			return nil, err
		}
		if dims[i-1] < 1 {
			return nil, errors.Errorf("FITS axis %d has invalid length %d", i, dims[i-1])
		}
	}
	bzero, ok := h.popFloat("BZERO")
	if !ok {
		bzero = 0
	}
	bscale, ok := h.popFloat("BSCALE")
	if !ok {
		bscale = 1
	}

	m := NewMemory(int(dims[0]), int(dims[1]), int(dims[2]))
	for b := range m.data {
		if err := readFITSData(r, bitpix, bscale, bzero, m.data[b]); err != nil {
			return nil, errors.Wrapf(err, "reading band %d", b+1)
		}
	}

	geo := IdentityGeoTransform
	for i := range geo {
		if v, ok := h.popFloat("GEOTR" + strconv.Itoa(i+1)); ok {
			geo[i] = v
		}
	}
	m.geo = geo
	m.proj = h.Strings["PROJWKT"]
	if nd, ok := h.popFloat("NODATA"); ok {
		m.SetNoData(nd)
	}
	return m, nil
}

const bufLen int = 16 * 1024 // input buffer length for reading from file

// Batched read of one band of the given BITPIX type, converting from network byte order
func readFITSData(r io.Reader, bitpix int64, bscale, bzero float64, dest []float64) error {
	var bytesPerValue int
	switch bitpix {
	case 8:
		bytesPerValue = 1
	case 16:
		bytesPerValue = 2
	case 32, -32:
		bytesPerValue = 4
	case 64, -64:
		bytesPerValue = 8
	default:
		return errors.Errorf("unknown BITPIX value %d", bitpix)
	}
	valuesPerBuf := bufLen / bytesPerValue
	buf := make([]byte, valuesPerBuf*bytesPerValue)

	for dataIndex := 0; dataIndex < len(dest); {
		n := len(dest) - dataIndex
		if n > valuesPerBuf {
			n = valuesPerBuf
		}
		chunk := buf[:n*bytesPerValue]
		if _, err := io.ReadFull(r, chunk); err != nil {
			return err
		}
		for i := 0; i < n; i++ {
			b := chunk[i*bytesPerValue:]
			var v float64
			switch bitpix {
			case 8:
				v = float64(b[0])
			case 16:
				v = float64(int16(binary.BigEndian.Uint16(b)))
			case 32:
				v = float64(int32(binary.BigEndian.Uint32(b)))
			case 64:
				v = float64(int64(binary.BigEndian.Uint64(b)))
			case -32:
				v = float64(math.Float32frombits(binary.BigEndian.Uint32(b)))
			case -64:
				v = math.Float64frombits(binary.BigEndian.Uint64(b))
			}
			dest[dataIndex+i] = v*bscale + bzero
		}
		dataIndex += n
	}
	return nil
}

// Writes the raster as a FITS primary HDU of the given data type
func writeFITS(w io.Writer, m *Memory, dtype DataType) error {
	var bitpix int64
	var bzero float64
	switch dtype {
	case Float32:
		bitpix = -32
	case Float64:
		bitpix = -64
	case UInt16:
		bitpix, bzero = 16, 32768
	case Byte:
		bitpix = 8
	default:
		return errors.Wrapf(ErrUnsupported, "FITS data type %v", dtype)
	}

	hdr := &countingWriter{w: w}
	writeBool(hdr, "SIMPLE", true, "FITS standard 4.0")
	writeInt(hdr, "BITPIX", bitpix, "")
	naxis := int64(2)
	if m.Bands() > 1 {
		naxis = 3
	}
	writeInt(hdr, "NAXIS", naxis, "")
	writeInt(hdr, "NAXIS1", int64(m.width), "Width")
	writeInt(hdr, "NAXIS2", int64(m.height), "Height")
	if naxis == 3 {
		writeInt(hdr, "NAXIS3", int64(m.Bands()), "Bands")
	}
	if bzero != 0 {
		writeFloat(hdr, "BZERO", bzero, "")
		writeFloat(hdr, "BSCALE", 1, "")
	}
	for i, v := range m.geo {
		writeFloat(hdr, "GEOTR"+strconv.Itoa(i+1), v, "Affine geotransform")
	}
	if m.proj != "" {
		writeString(hdr, "PROJWKT", m.proj, "Projection")
	}
	if nd, ok := m.NoData(); ok {
		writeFloat(hdr, "NODATA", nd, "Nodata value")
	}
	writeEnd(hdr)
	if err := pad(hdr, ' '); err != nil {
		return err
	}

	body := &countingWriter{w: w}
	buf := make([]byte, 8)
	for _, band := range m.data {
		for _, v := range band {
			var n int
			switch dtype {
			case Float32:
				binary.BigEndian.PutUint32(buf, math.Float32bits(float32(v)))
				n = 4
			case Float64:
				binary.BigEndian.PutUint64(buf, math.Float64bits(v))
				n = 8
			case UInt16:
				binary.BigEndian.PutUint16(buf, uint16(int16(clamp(v, 0, math.MaxUint16)-bzero)))
				n = 2
			case Byte:
				buf[0] = uint8(clamp(v, 0, math.MaxUint8))
				n = 1
			}
			body.Write(buf[:n])
		}
	}
	return pad(body, 0)
}

// Rounds and clamps v into [lo, hi]. NaN maps to lo.
func clamp(v, lo, hi float64) float64 {
	v = math.Round(v)
	if !(v >= lo) {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Writer which counts bytes and remembers the first error
type countingWriter struct {
	w   io.Writer
	n   int
	err error
}

func (c *countingWriter) Write(p []byte) (int, error) {
	if c.err != nil {
		return 0, c.err
	}
	n, err := c.w.Write(p)
	c.n += n
	c.err = err
	return n, err
}

// Pads the written bytes to a multiple of the FITS block size
func pad(c *countingWriter, fill byte) error {
	if rem := c.n % fitsBlockSize; rem != 0 {
		p := make([]byte, fitsBlockSize-rem)
		for i := range p {
			p[i] = fill
		}
		c.Write(p)
	}
	return c.err
}
