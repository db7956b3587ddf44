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


package ops

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/valyala/fastrand"

	"github.com/ec-coresyf/coresyf-toolkit-sub000/internal/mad"
	"github.com/ec-coresyf/coresyf-toolkit-sub000/internal/radcal"
	"github.com/ec-coresyf/coresyf-toolkit-sub000/internal/raster"
)

func testContext() *Context {
	log, _ := test.NewNullLogger()
	return NewContext(log, 16)
}

func TestSequenceJSONRoundTrip(t *testing.T) {
	madOpts := mad.DefaultOptions()
	madOpts.Bands = []int{1, 2}
	madOpts.MaxIterations = 42
	calOpts := radcal.DefaultOptions()
	calOpts.NCPThreshold = 0.8
	seq := NewOpSequence(
		NewOpIRMAD("ref.tif", "tgt.tif", "work", "", madOpts),
		NewOpRadCal("ref.tif", "tgt.tif", "", "full.tif", "out", calOpts),
	)

	data, err := json.Marshal(seq)
	if err != nil {
		t.Fatal(err)
	}
	op, err := LoadJob(data)
	if err != nil {
		t.Fatalf("LoadJob(%s)=%v", data, err)
	}
	got, ok := op.(*OpSequence)
	if !ok || len(got.Steps) != 2 || !got.IsActive() {
		t.Fatalf("decoded %T %+v", op, op)
	}
	irmad, ok := got.Steps[0].(*OpIRMAD)
	if !ok {
		t.Fatalf("step 1 is %T; want *OpIRMAD", got.Steps[0])
	}
	if irmad.Reference != "ref.tif" || irmad.WorkDir != "work" || irmad.Options.MaxIterations != 42 ||
		len(irmad.Options.Bands) != 2 || irmad.Options.Tolerance != 0.001 {
		t.Errorf("irmad step %+v", irmad)
	}
	rc, ok := got.Steps[1].(*OpRadCal)
	if !ok {
		t.Fatalf("step 2 is %T; want *OpRadCal", got.Steps[1])
	}
	if rc.FullScene != "full.tif" || rc.OutDir != "out" || rc.Options.NCPThreshold != 0.8 {
		t.Errorf("radcal step %+v", rc)
	}
}

func TestLoadJobPartialOptions(t *testing.T) {
	job := `{"type":"seq","active":true,"steps":[
		{"type":"irmad","active":true,"reference":"a.fits","target":"b.fits","options":{"penalty":0.2}}]}`
	op, err := LoadJob([]byte(job))
	if err != nil {
		t.Fatal(err)
	}
	irmad := op.(*OpSequence).Steps[0].(*OpIRMAD)
	if irmad.Options.Penalty != 0.2 || irmad.Options.MaxIterations != 100 || irmad.WorkDir != "." {
		t.Errorf("defaults not kept: %+v", irmad)
	}
}

func TestLoadJobErrors(t *testing.T) {
	tests := []string{
		`{"type":"nope"}`,
		`{"type":"seq","steps":[{"type":"stack"}]}`,
		`{"type":"seq","steps":[{"type":"irmad","options":{"penalty":"high"}}]}`,
		`not json`,
	}
	for _, job := range tests {
		if _, err := LoadJob([]byte(job)); err == nil {
			t.Errorf("LoadJob(%s) succeeded", job)
		}
	}
}

func TestRowsPerBlock(t *testing.T) {
	c := testContext()
	tests := []struct {
		memMB, width, bands, want int
	}{
		{16, 1000, 4, 131},
		{16, 1 << 20, 8, 1},
		{4096, 100, 1, maxRowsPerBlock},
		{16, 0, 1, 1},
	}
	for _, tt := range tests {
		c.BlockMemoryMB = tt.memMB
		if got := c.RowsPerBlock(tt.width, tt.bands); got != tt.want {
			t.Errorf("RowsPerBlock(%d, %d) with %d MB=%d; want %d", tt.width, tt.bands, tt.memMB, got, tt.want)
		}
	}
	if c.MemoryMB <= 0 {
		t.Errorf("physical memory %d MB", c.MemoryMB)
	}
}

func TestDefaultPIFName(t *testing.T) {
	got := DefaultPIFName("work", "/data/ref_2019.tif", "tgt.fits.gz")
	if want := filepath.Join("work", "MAD(ref_2019-tgt).fits"); got != want {
		t.Errorf("DefaultPIFName=%q; want %q", got, want)
	}
}

func writeFITS(t *testing.T, m *raster.Memory, fileName string) {
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
	if err := ds.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestIRMADThenRadCal(t *testing.T) {
	rng := fastrand.RNG{}
	width, height := 16, 12
	ref, tgt := raster.NewMemory(width, height, 2), raster.NewMemory(width, height, 2)
	for b := 1; b <= 2; b++ {
		r, g := ref.BandData(b), tgt.BandData(b)
		for i := range r {
			r[i] = float64(100 + rng.Uint32n(1000))
			g[i] = 0.7*r[i] + 5 + float64(rng.Uint32n(20))
		}
	}
	dir := t.TempDir()
	refFile, tgtFile := filepath.Join(dir, "ref.fits"), filepath.Join(dir, "tgt.fits")
	writeFITS(t, ref, refFile)
	writeFITS(t, tgt, tgtFile)

	calOpts := radcal.DefaultOptions()
	calOpts.NCPThreshold = 0.3
	irmad := NewOpIRMAD(refFile, tgtFile, dir, "", mad.DefaultOptions())
	irmad.Quicklook = true
	seq := NewOpSequence(irmad, NewOpRadCal(refFile, tgtFile, "", "", dir, calOpts))

	c := testContext()
	if err := seq.Apply(c); err != nil {
		t.Fatal(err)
	}

	pifFile := filepath.Join(dir, "MAD(ref-tgt).fits")
	if c.PIFFile != pifFile {
		t.Errorf("PIF file %q; want %q", c.PIFFile, pifFile)
	}
	pif, err := raster.Open(pifFile)
	if err != nil {
		t.Fatal(err)
	}
	if pif.Bands() != 3 || pif.Width() != width || pif.Height() != height {
		t.Errorf("PIF file is %s; want %dx%dx3", raster.DimensionsToString(pif), width, height)
	}
	pif.Close()
	if _, err := os.Stat(filepath.Join(dir, "MAD(ref-tgt).jpg")); err != nil {
		t.Errorf("quicklook missing: %v", err)
	}
	if irmad.LastResult == nil || irmad.LastResult.Iterations < 1 {
		t.Errorf("no IR-MAD result recorded")
	}

	if len(c.Reports) != 1 {
		t.Fatalf("%d reports; want 1", len(c.Reports))
	}
	rep := c.Reports[0]
	if rep.Output != filepath.Join(dir, "tgt_norm.fits") || len(rep.Bands) != 2 {
		t.Errorf("report %+v", rep)
	}
	for _, br := range rep.Bands {
		if br.Fit.Slope < 1.2 || br.Fit.Slope > 1.6 {
			t.Errorf("band %d: slope %v; want about 1/0.7", br.Band, br.Fit.Slope)
		}
	}
	if _, err := os.Stat(rep.Output); err != nil {
		t.Errorf("calibrated output missing: %v", err)
	}
}

func TestRadCalWithoutPIF(t *testing.T) {
	op := NewOpRadCal("ref.fits", "tgt.fits", "", "", ".", radcal.DefaultOptions())
	if err := op.Apply(testContext()); err == nil {
		t.Errorf("radcal without PIF file succeeded")
	}
}

func TestSequenceStopsAtError(t *testing.T) {
	bad := NewOpIRMAD(filepath.Join(t.TempDir(), "missing.fits"), "other.fits", ".", "", mad.DefaultOptions())
	inactive := NewOpRadCal("", "", "", "", ".", radcal.DefaultOptions())
	inactive.Active = false
	c := testContext()
	if err := NewOpSequence(inactive, bad).Apply(c); err == nil {
		t.Errorf("sequence with failing step succeeded")
	}
}
