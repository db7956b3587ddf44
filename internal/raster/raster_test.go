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
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/valyala/fastrand"
	"gonum.org/v1/gonum/mat"
)

func randomMemory(rng *fastrand.RNG, width, height, bands int, max uint32) *Memory {
	m := NewMemory(width, height, bands)
	for b := range m.data {
		for i := range m.data[b] {
			m.data[b][i] = float64(rng.Uint32n(max))
		}
	}
	return m
}

// Copies all bands and metadata of src into a newly created file
func copyTo(t *testing.T, src *Memory, fileName string, dtype DataType) {
	t.Helper()
	dst, err := Create(fileName, src.Width(), src.Height(), src.Bands(), dtype)
	if err != nil {
		t.Fatalf("Create(%s)=%v", fileName, err)
	}
	for b := 1; b <= src.Bands(); b++ {
		block, _ := src.ReadBand(b, 0, 0, src.Width(), src.Height())
		if err := dst.WriteBand(b, block, 0, 0); err != nil {
			t.Fatalf("WriteBand(%d)=%v", b, err)
		}
	}
	dst.SetGeoTransform(src.GeoTransform())
	dst.SetProjection(src.Projection())
	if nd, ok := src.NoData(); ok {
		dst.SetNoData(nd)
	}
	if err := dst.Close(); err != nil {
		t.Fatalf("Close()=%v", err)
	}
}

func equalBands(t *testing.T, a, b Dataset, eps float64) {
	t.Helper()
	if err := CheckSameShape(a, b, true); err != nil {
		t.Fatal(err)
	}
	for band := 1; band <= a.Bands(); band++ {
		ba, err := a.ReadBand(band, 0, 0, a.Width(), a.Height())
		if err != nil {
			t.Fatal(err)
		}
		bb, err := b.ReadBand(band, 0, 0, b.Width(), b.Height())
		if err != nil {
			t.Fatal(err)
		}
		if !mat.EqualApprox(ba, bb, eps) {
			t.Errorf("band %d differs:\n%v\nvs\n%v", band, mat.Formatted(ba), mat.Formatted(bb))
		}
	}
}

func TestMemoryBlocks(t *testing.T) {
	m, err := NewMemoryFromBands(4, 3, []float64{
		0, 1, 2, 3,
		4, 5, 6, 7,
		8, 9, 10, 11,
	})
	if err != nil {
		t.Fatal(err)
	}
	block, err := m.ReadBand(1, 1, 1, 2, 2)
	if err != nil {
		t.Fatal(err)
	}
	want := mat.NewDense(2, 2, []float64{5, 6, 9, 10})
	if !mat.Equal(block, want) {
		t.Errorf("block=%v; want %v", mat.Formatted(block), mat.Formatted(want))
	}

	if err := m.WriteBand(1, mat.NewDense(1, 2, []float64{-1, -2}), 2, 2); err != nil {
		t.Fatal(err)
	}
	if got := m.BandData(1)[10:12]; got[0] != -1 || got[1] != -2 {
		t.Errorf("written=%v; want [-1 -2]", got)
	}

	tests := []struct {
		band, x, y, w, h int
	}{
		{0, 0, 0, 1, 1},
		{2, 0, 0, 1, 1},
		{1, 3, 0, 2, 1},
		{1, 0, 2, 1, 2},
		{1, -1, 0, 1, 1},
		{1, 0, 0, 0, 1},
	}
	for _, tt := range tests {
		if _, err := m.ReadBand(tt.band, tt.x, tt.y, tt.w, tt.h); err == nil {
			t.Errorf("ReadBand(%d,%d,%d,%d,%d) succeeded; want error", tt.band, tt.x, tt.y, tt.w, tt.h)
		}
	}

	m.Close()
	if _, err := m.ReadBand(1, 0, 0, 1, 1); err == nil {
		t.Errorf("read after close succeeded")
	}
}

func TestNewMemoryFromBandsBadLength(t *testing.T) {
	if _, err := NewMemoryFromBands(2, 2, []float64{1, 2, 3}); err == nil {
		t.Errorf("NewMemoryFromBands with short band succeeded")
	}
	if _, err := NewMemoryFromBands(2, 2); err == nil {
		t.Errorf("NewMemoryFromBands without bands succeeded")
	}
}

func TestCheckSameShape(t *testing.T) {
	a, b, c := NewMemory(4, 4, 2), NewMemory(4, 4, 3), NewMemory(4, 5, 2)
	if err := CheckSameShape(a, b, false); err != nil {
		t.Errorf("CheckSameShape(4x4x2, 4x4x3, false)=%v; want nil", err)
	}
	if err := CheckSameShape(a, b, true); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("CheckSameShape(4x4x2, 4x4x3, true)=%v; want ErrDimensionMismatch", err)
	}
	if err := CheckSameShape(a, c, false); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("CheckSameShape(4x4x2, 4x5x2, false)=%v; want ErrDimensionMismatch", err)
	}
}

func TestWindowResolve(t *testing.T) {
	ds := NewMemory(10, 8, 1)
	tests := []struct {
		in      Window
		want    Window
		wantErr bool
	}{
		{Window{}, Window{0, 0, 10, 8}, false},
		{Window{2, 3, 4, 5}, Window{2, 3, 4, 5}, false},
		{Window{8, 0, 3, 1}, Window{}, true},
		{Window{0, 0, 0, 1}, Window{}, true},
		{Window{-1, 0, 2, 2}, Window{}, true},
	}
	for _, tt := range tests {
		got, err := tt.in.Resolve(ds)
		if (err != nil) != tt.wantErr {
			t.Errorf("%v.Resolve()=%v; wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if err == nil && got != tt.want {
			t.Errorf("%v.Resolve()=%v; want %v", tt.in, got, tt.want)
		}
	}
}

func TestGeoTransformShift(t *testing.T) {
	gt := GeoTransform{500000, 30, 0, 4200000, 0, -30}
	got := gt.Shift(10, 20)
	want := GeoTransform{500300, 30, 0, 4199400, 0, -30}
	if got != want {
		t.Errorf("Shift(10,20)=%v; want %v", got, want)
	}
}

func TestFITSRoundTrip(t *testing.T) {
	rng := fastrand.RNG{}
	src := randomMemory(&rng, 13, 7, 3, 1<<16)
	src.data[1][5] = 0.25
	src.data[2][0] = math.NaN()
	src.SetGeoTransform(GeoTransform{500000, 30, 0, 4200000, 0, -30})
	// long enough to need CONTINUE cards, with a quote to escape
	src.SetProjection(`PROJCS["WGS 84 / UTM zone 29N",GEOGCS["WGS 84",DATUM["WGS_1984",SPHEROID["WGS 84",6378137,298.257223563]],PRIMEM["Greenwich",0],UNIT["degree",0.0174532925199433]],PROJECTION["Transverse_Mercator"],UNIT["metre",1],AUTHORITY["EPSG","32629"]] 'quoted'`)
	src.SetNoData(-9999)

	dir := t.TempDir()
	for _, name := range []string{"pif.fits", "pif.fits.gz"} {
		fileName := filepath.Join(dir, name)
		copyTo(t, src, fileName, Float32)

		ds, err := Open(fileName)
		if err != nil {
			t.Fatalf("Open(%s)=%v", name, err)
		}
		defer ds.Close()

		if ds.GeoTransform() != src.GeoTransform() {
			t.Errorf("%s: geotransform=%v; want %v", name, ds.GeoTransform(), src.GeoTransform())
		}
		if ds.Projection() != src.Projection() {
			t.Errorf("%s: projection=%q; want %q", name, ds.Projection(), src.Projection())
		}
		if nd, ok := ds.NoData(); !ok || nd != -9999 {
			t.Errorf("%s: nodata=%v,%v; want -9999,true", name, nd, ok)
		}

		got, _ := ds.ReadBand(3, 0, 0, 1, 1)
		if !math.IsNaN(got.At(0, 0)) {
			t.Errorf("%s: NaN pixel read back as %v", name, got.At(0, 0))
		}
		src.data[2][0], ds.(*fitsDataset).data[2][0] = 0, 0
		equalBands(t, src, ds, 0)
		src.data[2][0] = math.NaN()
	}
}

func TestFITSUInt16(t *testing.T) {
	rng := fastrand.RNG{}
	src := randomMemory(&rng, 5, 4, 1, 1<<16)
	src.data[0][0], src.data[0][1] = 0, 65535

	fileName := filepath.Join(t.TempDir(), "band.fits")
	copyTo(t, src, fileName, UInt16)
	ds, err := Open(fileName)
	if err != nil {
		t.Fatal(err)
	}
	defer ds.Close()
	equalBands(t, src, ds, 0)
}

func TestFITSBadFile(t *testing.T) {
	fileName := filepath.Join(t.TempDir(), "bad.fits")
	if err := os.WriteFile(fileName, make([]byte, fitsBlockSize), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(fileName); err == nil {
		t.Errorf("Open of garbage succeeded")
	}
}

func TestTIFFRoundTrip(t *testing.T) {
	rng := fastrand.RNG{}
	tests := []struct {
		name  string
		bands int
		dtype DataType
		max   uint32
	}{
		{"gray16.tif", 1, UInt16, 1 << 16},
		{"rgb16.tif", 3, UInt16, 1 << 16},
		{"gray8.tiff", 1, Byte, 1 << 8},
		{"rgb8.tif", 3, Byte, 1 << 8},
	}
	dir := t.TempDir()
	for _, tt := range tests {
		src := randomMemory(&rng, 11, 6, tt.bands, tt.max)
		src.SetGeoTransform(GeoTransform{100, 10, 0, 200, 0, -10})
		src.SetProjection("LOCAL_CS[\"test\"]")
		fileName := filepath.Join(dir, tt.name)
		copyTo(t, src, fileName, tt.dtype)

		ds, err := Open(fileName)
		if err != nil {
			t.Fatalf("Open(%s)=%v", tt.name, err)
		}
		equalBands(t, src, ds, 0)
		gt := ds.GeoTransform()
		for i := range gt {
			if math.Abs(gt[i]-src.geo[i]) > 1e-9 {
				t.Errorf("%s: geotransform=%v; want %v", tt.name, gt, src.geo)
				break
			}
		}
		if ds.Projection() != src.proj {
			t.Errorf("%s: projection=%q; want %q", tt.name, ds.Projection(), src.proj)
		}
		ds.Close()
	}
}

func TestTIFFUnsupported(t *testing.T) {
	if _, err := (tiffDriver{}).Create(filepath.Join(t.TempDir(), "f.tif"), 2, 2, 1, Float32); !errors.Is(err, ErrUnsupported) {
		t.Errorf("TIFF Float32 create=%v; want ErrUnsupported", err)
	}
	if _, err := (tiffDriver{}).Create(filepath.Join(t.TempDir(), "f.tif"), 2, 2, 2, UInt16); !errors.Is(err, ErrUnsupported) {
		t.Errorf("TIFF 2 band create=%v; want ErrUnsupported", err)
	}
	if _, err := Open("image.xyz"); !errors.Is(err, ErrUnsupported) {
		t.Errorf("Open(image.xyz)=%v; want ErrUnsupported", err)
	}
}

func TestSidecar(t *testing.T) {
	tests := []struct{ in, want string }{
		{"a/b/img.tif", "a/b/img.tfw"},
		{"img", "img.tfw"},
		{"a.d/img", "a.d/img.tfw"},
	}
	for _, tt := range tests {
		if got := sidecar(tt.in, ".tfw"); got != tt.want {
			t.Errorf("sidecar(%q)=%q; want %q", tt.in, got, tt.want)
		}
	}
}

func TestWriteChangeMapJPEG(t *testing.T) {
	m, _ := NewMemoryFromBands(3, 1, []float64{0, 0, 0}, []float64{0, 50, math.NaN()})
	fileName := filepath.Join(t.TempDir(), "change.jpg")
	if err := WriteChangeMapJPEG(m, fileName, 1, 90); err != nil {
		t.Fatal(err)
	}
	if fi, err := os.Stat(fileName); err != nil || fi.Size() == 0 {
		t.Errorf("quicklook not written: %v", err)
	}
	if err := WriteChangeMapJPEG(m, fileName, 0, 90); err == nil {
		t.Errorf("df=0 succeeded")
	}
}
