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


// Package radcal performs relative radiometric calibration of a target image
// against a reference image, by orthogonal regression over pseudo-invariant
// features selected from an IR-MAD chi-square band.
package radcal

import (
	"math"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/ec-coresyf/coresyf-toolkit-sub000/internal/raster"
	"github.com/ec-coresyf/coresyf-toolkit-sub000/internal/stats"
)

// Calibration parameters
type Options struct {
	Bands        []int         `yaml:"bands" json:"bands"`               // 1-based band indices, empty for all bands
	NCPThreshold float64       `yaml:"ncpThreshold" json:"ncpThreshold"` // minimum no-change probability of a PIF
	Window       raster.Window `yaml:"window" json:"window"`             // window the PIF file covers, zero for full extent
}

// DefaultOptions returns all bands and a no-change probability threshold of 0.95
func DefaultOptions() Options {
	return Options{NCPThreshold: 0.95}
}

// Validate checks the parameters
func (o Options) Validate() error {
	if o.NCPThreshold < 0 || o.NCPThreshold >= 1 || math.IsNaN(o.NCPThreshold) {
		return errors.Errorf("no-change probability threshold must lie in [0,1), got %g", o.NCPThreshold)
	}
	return nil
}

// Fit and test set diagnostics for one band
type BandReport struct {
	Band              int
	Fit               stats.Fit
	MeanReference     float64 // test set means and variances
	MeanCalibrated    float64
	VarReference      float64
	VarCalibrated     float64
	TTest             stats.TestResult // paired t-test, calibrated vs reference
	FTest             stats.TestResult // equality of variances
	MedianAbsResidual float64
}

// Report of a calibration run
type Report struct {
	PIFs            int // pixels passing the threshold
	Train           int
	Test            int
	Bands           []BandReport
	Output          string `json:",omitempty"`
	FullSceneOutput string `json:",omitempty"`
}

// Calibrator fits and applies per-band linear calibrations
type Calibrator struct {
	log  *logrus.Logger
	opts Options
}

// New validates the options and creates a calibrator logging to log
func New(log *logrus.Logger, opts Options) (*Calibrator, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Calibrator{log: log, opts: opts}, nil
}

// Fit selects PIFs from the last band of pif, splits them into training and
// test sets and fits target to reference values for every selected band.
// ref and tgt must have the same shape, and pif must cover the window.
func (c *Calibrator) Fit(ref, tgt, pif raster.Dataset) (*Report, error) {
	if err := raster.CheckSameShape(ref, tgt, true); err != nil {
		return nil, err
	}
	win, err := c.opts.Window.Resolve(ref)
	if err != nil {
		return nil, err
	}
	if pif.Width() != win.Cols || pif.Height() != win.Rows {
		return nil, errors.Wrapf(raster.ErrDimensionMismatch, "PIF file %s is %s, window %v of %s needs %dx%d",
			filepath.Base(pif.Path()), raster.DimensionsToString(pif), win, filepath.Base(ref.Path()), win.Cols, win.Rows)
	}
	if pif.Bands() < 2 {
		return nil, errors.Errorf("PIF file %s has %d bands, want MAD variates plus chi-square", pif.Path(), pif.Bands())
	}
	bands, err := resolveBands(c.opts.Bands, ref.Bands())
	if err != nil {
		return nil, err
	}

	chisq, err := readRaveled(pif, pif.Bands(), 0, 0, win.Cols, win.Rows)
	if err != nil {
		return nil, err
	}
	idx, err := SelectPIFs(chisq, pif.Bands()-1, c.opts.NCPThreshold)
	if err != nil {
		return nil, err
	}
	train, test := Split(idx)
	c.log.Infof("%d pseudo-invariant features with no-change probability above %g, %d for training, %d for testing",
		len(idx), c.opts.NCPThreshold, len(train), len(test))

	rep := &Report{PIFs: len(idx), Train: len(train), Test: len(test)}
	for _, b := range bands {
		x, err := readRaveled(ref, b, win.X0, win.Y0, win.Cols, win.Rows)
		if err != nil {
			return nil, err
		}
		y, err := readRaveled(tgt, b, win.X0, win.Y0, win.Cols, win.Rows)
		if err != nil {
			return nil, err
		}

		// fit reference as a function of target
		fit, err := stats.OrthoRegress(gather(y, train), gather(x, train))
		if err != nil {
			return nil, errors.Wrapf(err, "band %d", b)
		}
		br := BandReport{Band: b, Fit: fit}
		c.log.Infof("band %d: slope %.6f, intercept %.6f, correlation %.6f", b, fit.Slope, fit.Intercept, fit.Correlation)
		c.diagnose(&br, gather(x, test), gather(y, test))
		rep.Bands = append(rep.Bands, br)
	}
	return rep, nil
}

// Fills in the test set comparison of calibrated target and reference. The
// diagnostics are informational, so failures are logged only.
func (c *Calibrator) diagnose(br *BandReport, ref, tgt []float64) {
	cal := make([]float64, len(tgt))
	for i, v := range tgt {
		cal[i] = br.Fit.Apply(v)
	}
	br.MeanReference, br.VarReference = stat.MeanVariance(ref, nil)
	br.MeanCalibrated, br.VarCalibrated = stat.MeanVariance(cal, nil)

	var err error
	if br.TTest, err = stats.PairedTTest(ref, cal); err != nil {
		c.log.Warnf("band %d: paired t-test: %v", br.Band, err)
	}
	if br.FTest, err = stats.FTest(ref, cal); err != nil {
		c.log.Warnf("band %d: F-test: %v", br.Band, err)
	}
	res := make([]float64, len(cal))
	floats.SubTo(res, cal, ref)
	for i, v := range res {
		res[i] = math.Abs(v)
	}
	if len(res) > 0 {
		br.MedianAbsResidual = stats.QSelectMedianFloat64(res)
	}

	c.log.Infof("band %d test set: means ref %.3f cal %.3f, variances ref %.3f cal %.3f",
		br.Band, br.MeanReference, br.MeanCalibrated, br.VarReference, br.VarCalibrated)
	c.log.Infof("band %d test set: t %.4f (p %.4f), F %.4f (p %.4f), median |residual| %.4f",
		br.Band, br.TTest.Statistic, br.TTest.P, br.FTest.Statistic, br.FTest.P, br.MedianAbsResidual)
}

// Apply writes intercept+slope*value of every pixel of the given window of
// src to out, one output band per fitted band in report order.
func (c *Calibrator) Apply(src raster.Dataset, win raster.Window, out raster.Dataset, rep *Report) error {
	if out.Width() != win.Cols || out.Height() != win.Rows || out.Bands() != len(rep.Bands) {
		return errors.Wrapf(raster.ErrDimensionMismatch, "calibrated output %s is %s, want %dx%dx%d",
			out.Path(), raster.DimensionsToString(out), win.Cols, win.Rows, len(rep.Bands))
	}
	for i, br := range rep.Bands {
		if br.Band > src.Bands() {
			return errors.Wrapf(raster.ErrDimensionMismatch, "%s has no band %d", src.Path(), br.Band)
		}
		for row := 0; row < win.Rows; row++ {
			line, err := src.ReadBand(br.Band, win.X0, win.Y0+row, win.Cols, 1)
			if err != nil {
				return err
			}
			fit := br.Fit
			line.Apply(func(_, _ int, v float64) float64 { return fit.Apply(v) }, line)
			if err := out.WriteBand(i+1, line, 0, row); err != nil {
				return err
			}
		}
	}
	return nil
}

// Run calibrates the target image file against the reference image file
// using the PIF file, and writes <outDir>/<target root>_norm<ext>. If
// fullScene is not empty, the same fits are applied to that file as well.
func (c *Calibrator) Run(refFile, tgtFile, pifFile, fullScene, outDir string) (rep *Report, err error) {
	ref, err := raster.Open(refFile)
	if err != nil {
		return nil, err
	}
	defer ref.Close()
	tgt, err := raster.Open(tgtFile)
	if err != nil {
		return nil, err
	}
	defer tgt.Close()
	pif, err := raster.Open(pifFile)
	if err != nil {
		return nil, err
	}
	defer pif.Close()

	if rep, err = c.Fit(ref, tgt, pif); err != nil {
		return nil, err
	}
	win, _ := c.opts.Window.Resolve(ref)

	rep.Output = OutputName(outDir, tgtFile)
	if err := c.writeCalibrated(tgt, win, ref, rep.Output, rep); err != nil {
		return nil, err
	}

	if fullScene != "" {
		fs, err := raster.Open(fullScene)
		if err != nil {
			return nil, err
		}
		defer fs.Close()
		rep.FullSceneOutput = OutputName(outDir, fullScene)
		full := raster.Window{X0: 0, Y0: 0, Cols: fs.Width(), Rows: fs.Height()}
		if err := c.writeCalibrated(fs, full, fs, rep.FullSceneOutput, rep); err != nil {
			return nil, err
		}
	}
	return rep, nil
}

// Creates the output file, georeferenced like geo, and applies the fits
func (c *Calibrator) writeCalibrated(src raster.Dataset, win raster.Window, geo raster.Dataset, fileName string, rep *Report) (err error) {
	out, err := raster.Create(fileName, win.Cols, win.Rows, len(rep.Bands), raster.Float32)
	if errors.Is(err, raster.ErrUnsupported) {
		c.log.Warnf("%s: no float32 support, writing unsigned 16 bit values", fileName)
		out, err = raster.Create(fileName, win.Cols, win.Rows, len(rep.Bands), raster.UInt16)
	}
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()
	if err := out.SetGeoTransform(geo.GeoTransform().Shift(win.X0, win.Y0)); err != nil {
		return err
	}
	if err := out.SetProjection(geo.Projection()); err != nil {
		return err
	}
	if err := c.Apply(src, win, out, rep); err != nil {
		return err
	}
	c.log.Infof("calibrated image written to %s", fileName)
	return nil
}

// OutputName returns <outDir>/<root>_norm<ext> for the given input file.
// Compressed FITS keeps its double extension.
func OutputName(outDir, input string) string {
	base := filepath.Base(input)
	ext := filepath.Ext(base)
	if strings.EqualFold(ext, ".gz") {
		ext = filepath.Ext(strings.TrimSuffix(base, ext)) + ext
	}
	root := strings.TrimSuffix(base, ext)
	return filepath.Join(outDir, root+"_norm"+ext)
}

// Reads one band of a window into a row-major slice
func readRaveled(ds raster.Dataset, band, x, y, w, h int) ([]float64, error) {
	m, err := ds.ReadBand(band, x, y, w, h)
	if err != nil {
		return nil, errors.Wrapf(err, "reading band %d of %s", band, ds.Path())
	}
	res := make([]float64, 0, w*h)
	for r := 0; r < h; r++ {
		res = append(res, m.RawRowView(r)...)
	}
	return res, nil
}

func resolveBands(bands []int, count int) ([]int, error) {
	if len(bands) == 0 {
		res := make([]int, count)
		for i := range res {
			res[i] = i + 1
		}
		return res, nil
	}
	for _, b := range bands {
		if b < 1 || b > count {
			return nil, errors.Errorf("band %d out of range 1..%d", b, count)
		}
	}
	return append([]int(nil), bands...), nil
}
