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
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/ec-coresyf/coresyf-toolkit-sub000/internal/mad"
	"github.com/ec-coresyf/coresyf-toolkit-sub000/internal/raster"
)

// Runs IR-MAD on a reference and a target image and writes the PIF file
// holding the MAD variates and their chi-square statistic
type OpIRMAD struct {
	OpBase
	Reference  string      `json:"reference"`
	Target     string      `json:"target"`
	WorkDir    string      `json:"workDir"`
	PIFFile    string      `json:"pifFile"` // defaults to <workDir>/MAD(<ref root>-<tgt root>).fits
	Options    mad.Options `json:"options"`
	Quicklook  bool        `json:"quicklook"`
	LastResult *mad.Result `json:"-"`
}

func init() { SetOperatorFactory(func() Operator { return NewOpIRMADDefault() }) } // register the operator for JSON decoding

func NewOpIRMADDefault() *OpIRMAD { return NewOpIRMAD("", "", ".", "", mad.DefaultOptions()) }

func NewOpIRMAD(reference, target, workDir, pifFile string, opts mad.Options) *OpIRMAD {
	return &OpIRMAD{
		OpBase:    OpBase{Type: "irmad", Active: true},
		Reference: reference,
		Target:    target,
		WorkDir:   workDir,
		PIFFile:   pifFile,
		Options:   opts,
	}
}

// DefaultPIFName returns <workDir>/MAD(<ref root>-<tgt root>).fits
func DefaultPIFName(workDir, reference, target string) string {
	return filepath.Join(workDir, "MAD("+fileRoot(reference)+"-"+fileRoot(target)+").fits")
}

func fileRoot(fileName string) string {
	base := filepath.Base(fileName)
	if ext := filepath.Ext(base); strings.EqualFold(ext, ".gz") {
		base = strings.TrimSuffix(base, ext)
	}
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func (op *OpIRMAD) Apply(c *Context) (err error) {
	if op.Reference == "" || op.Target == "" {
		return errors.Errorf("%s operator needs reference and target files", op.Type)
	}
	pifFile := op.PIFFile
	if pifFile == "" {
		pifFile = DefaultPIFName(op.WorkDir, op.Reference, op.Target)
	}

	ref, err := raster.Open(op.Reference)
	if err != nil {
		return err
	}
	defer ref.Close()
	tgt, err := raster.Open(op.Target)
	if err != nil {
		return err
	}
	defer tgt.Close()
	c.Log.Infof("reference %s is %s, target %s is %s", op.Reference, raster.DimensionsToString(ref),
		op.Target, raster.DimensionsToString(tgt))

	opts := op.Options
	bands := len(opts.Bands)
	if bands == 0 {
		bands = ref.Bands()
	}
	width := ref.Width()
	if !opts.Window.IsFull() {
		width = opts.Window.Cols
	}
	opts.RowsPerBlock = c.RowsPerBlock(width, bands)
	c.Log.Debugf("reading %d rows per block", opts.RowsPerBlock)

	it, err := mad.NewIterator(c.Log, opts)
	if err != nil {
		return err
	}
	res, err := it.Run(ref, tgt)
	if err != nil {
		return err
	}
	op.LastResult = res

	if err := mad.WritePIF(c.Log, ref, tgt, pifFile, res); err != nil {
		return err
	}
	c.PIFFile = pifFile

	if op.Quicklook {
		jpgFile := strings.TrimSuffix(pifFile, filepath.Ext(pifFile)) + ".jpg"
		pif, err := raster.Open(pifFile)
		if err != nil {
			return err
		}
		defer pif.Close()
		if err := raster.WriteChangeMapJPEG(pif, jpgFile, len(res.Bands), 90); err != nil {
			return errors.Wrap(err, "writing change map quicklook")
		}
		c.Log.Infof("change map quicklook written to %s", jpgFile)
	}
	return nil
}
