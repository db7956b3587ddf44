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


package radcal

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/valyala/fastrand"

	"github.com/ec-coresyf/coresyf-toolkit-sub000/internal/mad"
	"github.com/ec-coresyf/coresyf-toolkit-sub000/internal/raster"
	"github.com/ec-coresyf/coresyf-toolkit-sub000/internal/stats"
)

func newCalibrator(t *testing.T, threshold float64) *Calibrator {
	t.Helper()
	log, _ := test.NewNullLogger()
	opts := DefaultOptions()
	opts.NCPThreshold = threshold
	c, err := New(log, opts)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestSplit(t *testing.T) {
	for n := 0; n <= 20; n++ {
		idx := make([]int, n)
		for i := range idx {
			idx[i] = 7 * i
		}
		train, test := Split(idx)
		if want := (n + 2) / 3; len(test) != want {
			t.Errorf("n=%d: |test|=%d; want %d", n, len(test), want)
		}
		if len(train)+len(test) != n {
			t.Errorf("n=%d: |train|+|test|=%d", n, len(train)+len(test))
		}
		seen := map[int]int{}
		for _, v := range train {
			seen[v]++
		}
		for _, v := range test {
			seen[v]++
		}
		for _, v := range idx {
			if seen[v] != 1 {
				t.Errorf("n=%d: index %d appears %d times", n, v, seen[v])
			}
		}
		for i, v := range test {
			if v != idx[3*i] {
				t.Errorf("n=%d: test[%d]=%d; want %d", n, i, v, idx[3*i])
			}
		}
	}
}

func TestSelectPIFs(t *testing.T) {
	chis := []float64{0, 100, math.NaN(), 0.5}
	tests := []struct {
		threshold float64
		want      []int
	}{
		{0.5, []int{0}},
		{0.4, []int{0, 3}},
		{0, []int{0, 1, 3}},
	}
	for _, tt := range tests {
		got, err := SelectPIFs(chis, 1, tt.threshold)
		if err != nil {
			t.Errorf("threshold %v: %v", tt.threshold, err)
			continue
		}
		if len(got) != len(tt.want) {
			t.Errorf("threshold %v: %v; want %v", tt.threshold, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("threshold %v: %v; want %v", tt.threshold, got, tt.want)
				break
			}
		}
	}

	if _, err := SelectPIFs([]float64{100, 200}, 1, 0.5); !errors.Is(err, ErrEmptyPIFSelection) {
		t.Errorf("no PIFs: %v; want ErrEmptyPIFSelection", err)
	}
}

func TestIdenticalImagesEndToEnd(t *testing.T) {
	data := make([]float64, 16)
	for i := range data {
		data[i] = float64(3*i + 5)
	}
	ref, _ := raster.NewMemoryFromBands(4, 4, data)
	tgt, _ := raster.NewMemoryFromBands(4, 4, append([]float64(nil), data...))

	log, _ := test.NewNullLogger()
	it, _ := mad.NewIterator(log, mad.DefaultOptions())
	res, err := it.Run(ref, tgt)
	if err != nil {
		t.Fatal(err)
	}
	pif := raster.NewMemory(4, 4, 2)
	if err := mad.WriteMAD(ref, tgt, pif, res); err != nil {
		t.Fatal(err)
	}

	c := newCalibrator(t, 0.5)
	rep, err := c.Fit(ref, tgt, pif)
	if err != nil {
		t.Fatal(err)
	}
	if rep.PIFs != 16 || rep.Test != 6 || rep.Train != 10 {
		t.Errorf("PIFs=%d test=%d train=%d; want 16, 6, 10", rep.PIFs, rep.Test, rep.Train)
	}
	fit := rep.Bands[0].Fit
	if math.Abs(fit.Slope-1) > 1e-9 || math.Abs(fit.Intercept) > 1e-6 {
		t.Errorf("slope=%v intercept=%v; want 1, 0", fit.Slope, fit.Intercept)
	}

	out := raster.NewMemory(4, 4, 1)
	if err := c.Apply(tgt, raster.Window{Cols: 4, Rows: 4}, out, rep); err != nil {
		t.Fatal(err)
	}
	for i, v := range out.BandData(1) {
		if math.Abs(v-data[i]) > 1e-6 {
			t.Errorf("pixel %d: calibrated %v; want %v", i, v, data[i])
		}
	}
}

func TestConstantImagesZeroVariance(t *testing.T) {
	ref, tgt := raster.NewMemory(4, 4, 1), raster.NewMemory(4, 4, 1)
	for i := range ref.BandData(1) {
		ref.BandData(1)[i] = 100
		tgt.BandData(1)[i] = 50
	}
	pif := raster.NewMemory(4, 4, 2)

	c := newCalibrator(t, 0.5)
	if _, err := c.Fit(ref, tgt, pif); !errors.Is(err, stats.ErrZeroVariance) {
		t.Errorf("Fit on constant images=%v; want ErrZeroVariance", err)
	}
}

func TestFitRecoversGainAndOffset(t *testing.T) {
	rng := fastrand.RNG{}
	ref, tgt := raster.NewMemory(10, 9, 2), raster.NewMemory(10, 9, 2)
	gains, offsets := []float64{2, 0.5}, []float64{10, -3}
	for b := 1; b <= 2; b++ {
		r, g := ref.BandData(b), tgt.BandData(b)
		for i := range r {
			g[i] = float64(rng.Uint32n(1000)) + 1
			r[i] = offsets[b-1] + gains[b-1]*g[i]
		}
	}
	pif := raster.NewMemory(10, 9, 3)
	chi := pif.BandData(3)
	for i := range chi {
		if i%5 == 0 {
			chi[i] = 1000 // changed pixels, excluded
		}
	}

	c := newCalibrator(t, 0.9)
	rep, err := c.Fit(ref, tgt, pif)
	if err != nil {
		t.Fatal(err)
	}
	if rep.PIFs != 72 {
		t.Errorf("PIFs=%d; want 72", rep.PIFs)
	}
	for i, br := range rep.Bands {
		if math.Abs(br.Fit.Slope-gains[i]) > 1e-9 || math.Abs(br.Fit.Intercept-offsets[i]) > 1e-6 {
			t.Errorf("band %d: slope=%v intercept=%v; want %v, %v", br.Band, br.Fit.Slope, br.Fit.Intercept, gains[i], offsets[i])
		}
		if math.Abs(br.Fit.Correlation-1) > 1e-9 {
			t.Errorf("band %d: correlation=%v; want 1", br.Band, br.Fit.Correlation)
		}
		if br.MedianAbsResidual > 1e-6 {
			t.Errorf("band %d: median residual %v; want 0", br.Band, br.MedianAbsResidual)
		}
		if math.Abs(br.MeanCalibrated-br.MeanReference) > 1e-6 {
			t.Errorf("band %d: test means %v vs %v", br.Band, br.MeanCalibrated, br.MeanReference)
		}
	}
}

func TestFitDimensionMismatch(t *testing.T) {
	c := newCalibrator(t, 0.5)
	tests := []struct {
		name          string
		ref, tgt, pif raster.Dataset
	}{
		{"target", raster.NewMemory(4, 4, 1), raster.NewMemory(4, 3, 1), raster.NewMemory(4, 4, 2)},
		{"bands", raster.NewMemory(4, 4, 2), raster.NewMemory(4, 4, 1), raster.NewMemory(4, 4, 2)},
		{"pif", raster.NewMemory(4, 4, 1), raster.NewMemory(4, 4, 1), raster.NewMemory(5, 4, 2)},
	}
	for _, tt := range tests {
		if _, err := c.Fit(tt.ref, tt.tgt, tt.pif); !errors.Is(err, raster.ErrDimensionMismatch) {
			t.Errorf("%s: %v; want ErrDimensionMismatch", tt.name, err)
		}
	}
}

func TestOptionsValidate(t *testing.T) {
	log, _ := test.NewNullLogger()
	for _, th := range []float64{-0.1, 1, 2, math.NaN()} {
		if _, err := New(log, Options{NCPThreshold: th}); err == nil {
			t.Errorf("threshold %v accepted", th)
		}
	}
}

func TestOutputName(t *testing.T) {
	tests := []struct{ dir, in, want string }{
		{"out", "/data/tgt.tif", "out/tgt_norm.tif"},
		{"out", "scene.2019.fits", "out/scene.2019_norm.fits"},
		{"/tmp", "a/b/img.fits.gz", "/tmp/img_norm.fits.gz"},
		{"", "noext", "noext_norm"},
	}
	for _, tt := range tests {
		if got := OutputName(tt.dir, tt.in); got != tt.want {
			t.Errorf("OutputName(%q, %q)=%q; want %q", tt.dir, tt.in, got, tt.want)
		}
	}
}

func writeFile(t *testing.T, m *raster.Memory, fileName string) {
	t.Helper()
	ds, err := raster.Create(fileName, m.Width(), m.Height(), m.Bands(), raster.Float32)
	if err != nil {
		t.Fatal(err)
	}
	for b := 1; b <= m.Bands(); b++ {
		block, _ := m.ReadBand(b, 0, 0, m.Width(), m.Height())
		if err := ds.WriteBand(b, block, 0, 0); err != nil {
			t.Fatal(err)
		}
	}
	ds.SetGeoTransform(raster.GeoTransform{1000, 10, 0, 2000, 0, -10})
	if err := ds.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestRunFiles(t *testing.T) {
	rng := fastrand.RNG{}
	ref, tgt := raster.NewMemory(8, 6, 1), raster.NewMemory(8, 6, 1)
	for i := range ref.BandData(1) {
		v := float64(rng.Uint32n(500)) + 1
		tgt.BandData(1)[i] = v
		ref.BandData(1)[i] = 3 + 1.5*v
	}
	dir := t.TempDir()
	refFile, tgtFile := filepath.Join(dir, "ref.fits"), filepath.Join(dir, "tgt.fits")
	pifFile, fullFile := filepath.Join(dir, "pif.fits"), filepath.Join(dir, "full.fits")
	writeFile(t, ref, refFile)
	writeFile(t, tgt, tgtFile)
	writeFile(t, raster.NewMemory(8, 6, 2), pifFile)
	writeFile(t, tgt, fullFile)
	outDir := filepath.Join(dir, "out")
	if err := os.Mkdir(outDir, 0755); err != nil {
		t.Fatal(err)
	}

	c := newCalibrator(t, 0.5)
	rep, err := c.Run(refFile, tgtFile, pifFile, fullFile, outDir)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Output != filepath.Join(outDir, "tgt_norm.fits") || rep.FullSceneOutput != filepath.Join(outDir, "full_norm.fits") {
		t.Errorf("outputs %s, %s", rep.Output, rep.FullSceneOutput)
	}
	for _, name := range []string{rep.Output, rep.FullSceneOutput} {
		ds, err := raster.Open(name)
		if err != nil {
			t.Fatal(err)
		}
		if gt := ds.GeoTransform(); gt != (raster.GeoTransform{1000, 10, 0, 2000, 0, -10}) {
			t.Errorf("%s: geotransform %v", name, gt)
		}
		got, _ := ds.ReadBand(1, 0, 0, 8, 6)
		for i, want := range ref.BandData(1) {
			if v := got.At(i/8, i%8); math.Abs(v-want) > 1e-3 {
				t.Errorf("%s pixel %d: %v; want %v", name, i, v, want)
				break
			}
		}
		ds.Close()
	}

	if _, err := c.Run(refFile, tgtFile, filepath.Join(dir, "missing.fits"), "", outDir); err == nil {
		t.Errorf("missing PIF file accepted")
	}
}
