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
	"github.com/pkg/errors"

	"github.com/ec-coresyf/coresyf-toolkit-sub000/internal/radcal"
)

// Calibrates a target image against a reference image using the PIF file of
// an IR-MAD run, and optionally applies the same fit to a full scene
type OpRadCal struct {
	OpBase
	Reference string         `json:"reference"`
	Target    string         `json:"target"`
	PIFFile   string         `json:"pifFile"` // defaults to the PIF file of a preceding irmad step
	FullScene string         `json:"fullScene"`
	OutDir    string         `json:"outDir"`
	Options   radcal.Options `json:"options"`
}

func init() { SetOperatorFactory(func() Operator { return NewOpRadCalDefault() }) } // register the operator for JSON decoding

func NewOpRadCalDefault() *OpRadCal { return NewOpRadCal("", "", "", "", ".", radcal.DefaultOptions()) }

func NewOpRadCal(reference, target, pifFile, fullScene, outDir string, opts radcal.Options) *OpRadCal {
	return &OpRadCal{
		OpBase:    OpBase{Type: "radcal", Active: true},
		Reference: reference,
		Target:    target,
		PIFFile:   pifFile,
		FullScene: fullScene,
		OutDir:    outDir,
		Options:   opts,
	}
}

func (op *OpRadCal) Apply(c *Context) error {
	if op.Reference == "" || op.Target == "" {
		return errors.Errorf("%s operator needs reference and target files", op.Type)
	}
	pifFile := op.PIFFile
	if pifFile == "" {
		pifFile = c.PIFFile
	}
	if pifFile == "" {
		return errors.Errorf("%s operator without PIF file and no preceding irmad step", op.Type)
	}

	cal, err := radcal.New(c.Log, op.Options)
	if err != nil {
		return err
	}
	rep, err := cal.Run(op.Reference, op.Target, pifFile, op.FullScene, op.OutDir)
	if err != nil {
		return err
	}
	c.Reports = append(c.Reports, rep)
	return nil
}
